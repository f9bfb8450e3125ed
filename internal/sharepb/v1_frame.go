package sharepb

import (
	"bytes"
	"errors"
	"math"

	"github.com/nearbyshare/sharecore/internal/wire"
)

// ErrInvalidV1Frame indica que os bytes recebidos não formam um Frame V1
// reconhecível.
var ErrInvalidV1Frame = errors.New("sharepb: frame V1 inválido")

// FrameVersion é sempre V1 neste sistema; o campo existe no envelope para
// permitir evolução futura sem quebrar os leitores existentes.
const FrameVersion uint8 = 1

// V1FrameType enumera os tipos de frame da camada de sessão.
type V1FrameType uint8

const (
	V1FrameUnknown              V1FrameType = 0
	V1FrameIntroduction         V1FrameType = 1
	V1FrameResponse             V1FrameType = 2
	V1FrameCancel               V1FrameType = 3
	V1FramePairedKeyEncryption  V1FrameType = 4
	V1FramePairedKeyResult      V1FrameType = 5
	V1FrameCertificateInfo      V1FrameType = 6
	V1FrameProgressUpdate       V1FrameType = 7
)

// ConnectionResponseStatus é o código carregado por um ResponseFrame.
type ConnectionResponseStatus uint8

const (
	ResponseUnknown                   ConnectionResponseStatus = 0
	ResponseAccept                    ConnectionResponseStatus = 1
	ResponseReject                    ConnectionResponseStatus = 2
	ResponseNotEnoughSpace            ConnectionResponseStatus = 3
	ResponseUnsupportedAttachmentType ConnectionResponseStatus = 4
	ResponseTimedOut                  ConnectionResponseStatus = 5
)

// AttachmentKind distingue as três variantes de anexo transportadas na
// introdução.
type AttachmentKind uint8

const (
	AttachmentKindFile             AttachmentKind = 1
	AttachmentKindText             AttachmentKind = 2
	AttachmentKindWifiCredentials  AttachmentKind = 3
)

// AttachmentMetadata é a descrição de um anexo tal como aparece no frame
// INTRODUCTION — não contém os bytes do anexo em si, apenas o suficiente
// para o receptor decidir aceitar/rejeitar e para casar o payload_id com o
// attachment_id local.
type AttachmentMetadata struct {
	Kind      AttachmentKind
	ID        int64
	PayloadID int64
	Size      int64

	// Campos de arquivo.
	FileName     string
	MimeType     string
	SemanticType int32
	ParentFolder string

	// Campos de texto.
	TextTitle string

	// Campos de credenciais Wi-Fi.
	WifiSSID         string
	WifiSecurityType int32
	WifiIsHidden     bool
}

// IntroductionFrame é o frame enviado pelo remetente descrevendo todos os
// anexos de uma transferência proposta.
type IntroductionFrame struct {
	Attachments   []AttachmentMetadata
	StartTransfer bool
}

// ConnectionResponseFrame carrega a decisão do receptor (ou uma falha de
// política) em resposta a uma introdução.
type ConnectionResponseFrame struct {
	Status ConnectionResponseStatus
}

// PairedKeyEncryptionFrame é o primeiro round da verificação de chave
// pareada (spec.md §4.E passo 1).
type PairedKeyEncryptionFrame struct {
	SecretIDHash       []byte
	SignedData         []byte
	OptionalSignedData []byte
}

// PairedKeyResultStatus é o veredito local ou remoto de uma rodada de
// verificação.
type PairedKeyResultStatus uint8

const (
	PairedKeyResultUnknown PairedKeyResultStatus = 0
	PairedKeyResultSuccess PairedKeyResultStatus = 1
	PairedKeyResultFail    PairedKeyResultStatus = 2
	PairedKeyResultUnable  PairedKeyResultStatus = 3
)

// OSType identifica o sistema operacional do peer, reportado por
// telemetria (spec.md §4.E "deve ser registrado na sessão para telemetria").
type OSType uint8

const (
	OSTypeUnknown OSType = 0
	OSTypeAndroid OSType = 1
	OSTypeIOS     OSType = 2
	OSTypeLinux   OSType = 3
	OSTypeWindows OSType = 4
	OSTypeMacOS   OSType = 5
	OSTypeChromeOS OSType = 6
)

// PairedKeyResultFrame é o segundo round da verificação de chave pareada.
type PairedKeyResultFrame struct {
	Status PairedKeyResultStatus
	OSType OSType
}

// ProgressUpdateFrame é enviado opcionalmente pelo remetente para sinalizar
// início de transferência (pedido de upgrade de banda) durante o envio de
// payloads.
type ProgressUpdateFrame struct {
	StartTransfer bool
	Progress      float64
}

// CertificateInfoFrame carrega um certificado público de contato trocado
// durante a verificação de chave pareada, permitindo que o receptor exiba
// um nome de contato em vez de um nome de dispositivo anônimo.
type CertificateInfoFrame struct {
	PublicCertificate []byte
}

// Frame é o envelope de mais alto nível da camada de sessão: Version é
// sempre V1; exatamente um dos ponteiros abaixo (determinado por Type) é
// não-nulo.
type Frame struct {
	Version uint8
	Type    V1FrameType

	Introduction        *IntroductionFrame
	ConnectionResponse  *ConnectionResponseFrame
	PairedKeyEncryption *PairedKeyEncryptionFrame
	PairedKeyResult     *PairedKeyResultFrame
	ProgressUpdate      *ProgressUpdateFrame
	CertificateInfo     *CertificateInfoFrame
}

func writeString(buf *bytes.Buffer, s string) {
	wire.WriteFramed(buf, []byte(s))
}

func readString(r *bytes.Reader) (string, error) {
	n, err := wire.ReadInt32(r)
	if err != nil {
		return "", err
	}
	data, err := wire.ReadExactly(r, n)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

func writeBytes(buf *bytes.Buffer, b []byte) {
	wire.WriteFramed(buf, b)
}

func readBytes(r *bytes.Reader) ([]byte, error) {
	n, err := wire.ReadInt32(r)
	if err != nil {
		return nil, err
	}
	return wire.ReadExactly(r, n)
}

func writeInt64(buf *bytes.Buffer, v int64) {
	var b [8]byte
	u := uint64(v)
	for i := 7; i >= 0; i-- {
		b[i] = byte(u)
		u >>= 8
	}
	buf.Write(b[:])
}

func readInt64(r *bytes.Reader) (int64, error) {
	v, err := wire.ReadUint64(r)
	if err != nil {
		return 0, err
	}
	return int64(v), nil
}

func writeInt32(buf *bytes.Buffer, v int32) {
	var b [4]byte
	u := uint32(v)
	for i := 3; i >= 0; i-- {
		b[i] = byte(u)
		u >>= 8
	}
	buf.Write(b[:])
}

func readInt32(r *bytes.Reader) (int32, error) {
	return wire.ReadInt32(r)
}

func writeAttachment(buf *bytes.Buffer, a AttachmentMetadata) {
	buf.WriteByte(byte(a.Kind))
	writeInt64(buf, a.ID)
	writeInt64(buf, a.PayloadID)
	writeInt64(buf, a.Size)
	writeString(buf, a.FileName)
	writeString(buf, a.MimeType)
	writeInt32(buf, a.SemanticType)
	writeString(buf, a.ParentFolder)
	writeString(buf, a.TextTitle)
	writeString(buf, a.WifiSSID)
	writeInt32(buf, a.WifiSecurityType)
	if a.WifiIsHidden {
		buf.WriteByte(1)
	} else {
		buf.WriteByte(0)
	}
}

func readAttachment(r *bytes.Reader) (AttachmentMetadata, error) {
	var a AttachmentMetadata
	kind, err := wire.ReadUint8(r)
	if err != nil {
		return a, err
	}
	a.Kind = AttachmentKind(kind)
	if a.ID, err = readInt64(r); err != nil {
		return a, err
	}
	if a.PayloadID, err = readInt64(r); err != nil {
		return a, err
	}
	if a.Size, err = readInt64(r); err != nil {
		return a, err
	}
	if a.FileName, err = readString(r); err != nil {
		return a, err
	}
	if a.MimeType, err = readString(r); err != nil {
		return a, err
	}
	if a.SemanticType, err = readInt32(r); err != nil {
		return a, err
	}
	if a.ParentFolder, err = readString(r); err != nil {
		return a, err
	}
	if a.TextTitle, err = readString(r); err != nil {
		return a, err
	}
	if a.WifiSSID, err = readString(r); err != nil {
		return a, err
	}
	if a.WifiSecurityType, err = readInt32(r); err != nil {
		return a, err
	}
	hidden, err := wire.ReadUint8(r)
	if err != nil {
		return a, err
	}
	a.WifiIsHidden = hidden == 1
	return a, nil
}

// Encode serializa o Frame no formato binário da camada de sessão.
func (f *Frame) Encode() ([]byte, error) {
	buf := new(bytes.Buffer)
	buf.WriteByte(f.Version)
	buf.WriteByte(byte(f.Type))

	switch f.Type {
	case V1FrameIntroduction:
		if f.Introduction == nil {
			return nil, ErrInvalidV1Frame
		}
		writeInt32(buf, int32(len(f.Introduction.Attachments)))
		for _, a := range f.Introduction.Attachments {
			writeAttachment(buf, a)
		}
		if f.Introduction.StartTransfer {
			buf.WriteByte(1)
		} else {
			buf.WriteByte(0)
		}
	case V1FrameResponse:
		if f.ConnectionResponse == nil {
			return nil, ErrInvalidV1Frame
		}
		buf.WriteByte(byte(f.ConnectionResponse.Status))
	case V1FrameCancel:
		// corpo vazio.
	case V1FramePairedKeyEncryption:
		if f.PairedKeyEncryption == nil {
			return nil, ErrInvalidV1Frame
		}
		writeBytes(buf, f.PairedKeyEncryption.SecretIDHash)
		writeBytes(buf, f.PairedKeyEncryption.SignedData)
		writeBytes(buf, f.PairedKeyEncryption.OptionalSignedData)
	case V1FramePairedKeyResult:
		if f.PairedKeyResult == nil {
			return nil, ErrInvalidV1Frame
		}
		buf.WriteByte(byte(f.PairedKeyResult.Status))
		buf.WriteByte(byte(f.PairedKeyResult.OSType))
	case V1FrameProgressUpdate:
		if f.ProgressUpdate == nil {
			return nil, ErrInvalidV1Frame
		}
		if f.ProgressUpdate.StartTransfer {
			buf.WriteByte(1)
		} else {
			buf.WriteByte(0)
		}
		writeInt64(buf, int64(math.Float64bits(f.ProgressUpdate.Progress)))
	case V1FrameCertificateInfo:
		if f.CertificateInfo == nil {
			return nil, ErrInvalidV1Frame
		}
		writeBytes(buf, f.CertificateInfo.PublicCertificate)
	default:
		return nil, ErrInvalidV1Frame
	}

	return buf.Bytes(), nil
}

// DecodeV1Frame interpreta bytes produzidos por Encode.
func DecodeV1Frame(data []byte) (*Frame, error) {
	r := bytes.NewReader(data)
	version, err := wire.ReadUint8(r)
	if err != nil || version != FrameVersion {
		return nil, ErrInvalidV1Frame
	}
	typeByte, err := wire.ReadUint8(r)
	if err != nil {
		return nil, ErrInvalidV1Frame
	}

	f := &Frame{Version: version, Type: V1FrameType(typeByte)}

	switch f.Type {
	case V1FrameIntroduction:
		count, err := readInt32(r)
		if err != nil || count < 0 {
			return nil, ErrInvalidV1Frame
		}
		attachments := make([]AttachmentMetadata, 0, count)
		for i := int32(0); i < count; i++ {
			a, err := readAttachment(r)
			if err != nil {
				return nil, ErrInvalidV1Frame
			}
			attachments = append(attachments, a)
		}
		startByte, err := wire.ReadUint8(r)
		if err != nil {
			return nil, ErrInvalidV1Frame
		}
		f.Introduction = &IntroductionFrame{Attachments: attachments, StartTransfer: startByte == 1}
	case V1FrameResponse:
		status, err := wire.ReadUint8(r)
		if err != nil {
			return nil, ErrInvalidV1Frame
		}
		f.ConnectionResponse = &ConnectionResponseFrame{Status: ConnectionResponseStatus(status)}
	case V1FrameCancel:
		// corpo vazio.
	case V1FramePairedKeyEncryption:
		secretIDHash, err := readBytes(r)
		if err != nil {
			return nil, ErrInvalidV1Frame
		}
		signedData, err := readBytes(r)
		if err != nil {
			return nil, ErrInvalidV1Frame
		}
		optionalSignedData, err := readBytes(r)
		if err != nil {
			return nil, ErrInvalidV1Frame
		}
		f.PairedKeyEncryption = &PairedKeyEncryptionFrame{
			SecretIDHash:       secretIDHash,
			SignedData:         signedData,
			OptionalSignedData: optionalSignedData,
		}
	case V1FramePairedKeyResult:
		status, err := wire.ReadUint8(r)
		if err != nil {
			return nil, ErrInvalidV1Frame
		}
		osType, err := wire.ReadUint8(r)
		if err != nil {
			return nil, ErrInvalidV1Frame
		}
		f.PairedKeyResult = &PairedKeyResultFrame{Status: PairedKeyResultStatus(status), OSType: OSType(osType)}
	case V1FrameProgressUpdate:
		startByte, err := wire.ReadUint8(r)
		if err != nil {
			return nil, ErrInvalidV1Frame
		}
		bits, err := wire.ReadUint64(r)
		if err != nil {
			return nil, ErrInvalidV1Frame
		}
		f.ProgressUpdate = &ProgressUpdateFrame{StartTransfer: startByte == 1, Progress: math.Float64frombits(bits)}
	case V1FrameCertificateInfo:
		cert, err := readBytes(r)
		if err != nil {
			return nil, ErrInvalidV1Frame
		}
		f.CertificateInfo = &CertificateInfoFrame{PublicCertificate: cert}
	default:
		return nil, ErrInvalidV1Frame
	}

	return f, nil
}

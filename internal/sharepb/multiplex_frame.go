// Package sharepb implementa os codecs de wire para os dois envelopes de
// frame do sistema: MultiplexFrame (camada de multiplexação) e Frame (a
// camada de sessão V1). O formato em si é um empacotamento binário
// prefixado por tamanho no estilo de internal/protocol/binary.go do
// pacote original — sem dependência de um toolchain de protobuf, já que
// nenhum repositório do corpus importa um diretamente.
package sharepb

import (
	"bytes"
	"crypto/sha256"
	"errors"

	"github.com/nearbyshare/sharecore/internal/wire"
)

// ErrInvalidFrame indica que os bytes recebidos não formam um MultiplexFrame
// reconhecível.
var ErrInvalidFrame = errors.New("sharepb: frame inválido")

// ServiceIDHashLength é o tamanho fixo do hash salgado de service-id.
const ServiceIDHashLength = 4

// FrameType distingue frames de controle de frames de dados.
type FrameType uint8

const (
	FrameTypeUnknown FrameType = 0
	FrameTypeControl FrameType = 1
	FrameTypeData    FrameType = 2
)

// ControlFrameType enumera os sub-tipos de frame de controle.
type ControlFrameType uint8

const (
	ControlFrameUnknown            ControlFrameType = 0
	ControlFrameConnectionRequest  ControlFrameType = 1
	ControlFrameConnectionResponse ControlFrameType = 2
	ControlFrameDisconnection      ControlFrameType = 3
)

// ConnectionResponseCode é o código de status carregado por um frame
// CONNECTION_RESPONSE.
type ConnectionResponseCode uint8

const (
	ConnectionResponseUnknown          ConnectionResponseCode = 0
	ConnectionResponseAccepted         ConnectionResponseCode = 1
	ConnectionResponseNotListening     ConnectionResponseCode = 2
)

// MultiplexFrame é o envelope de frame da camada de multiplexação.
type MultiplexFrame struct {
	FrameType              FrameType
	SaltedServiceIDHash    []byte // exatamente ServiceIDHashLength bytes
	ServiceIDHashSalt      string // opcional

	// Controle
	ControlFrameType ControlFrameType
	ResponseCode     ConnectionResponseCode // só para CONNECTION_RESPONSE

	// Dados
	Data []byte
}

// GenerateServiceIDHash calcula sha256(service_id)[0:4).
func GenerateServiceIDHash(serviceID string) []byte {
	return GenerateServiceIDHashWithSalt(serviceID, "")
}

// GenerateServiceIDHashWithSalt calcula sha256(service_id ∥ salt)[0:4). O
// salt é o que garante que hashes de service-ids iguais com salts
// diferentes divirjam (propriedade testável de spec.md §8).
func GenerateServiceIDHashWithSalt(serviceID, salt string) []byte {
	sum := sha256.Sum256([]byte(serviceID + salt))
	out := make([]byte, ServiceIDHashLength)
	copy(out, sum[:ServiceIDHashLength])
	return out
}

// HashKey converte o hash salgado em sua forma textual Base64, usada como
// chave de mapa para sockets virtuais.
func HashKey(saltedHash []byte) string {
	return wire.EncodeBase64(saltedHash)
}

// ForConnectionRequest monta um MultiplexFrame CONNECTION_REQUEST.
func ForConnectionRequest(serviceID, salt string) *MultiplexFrame {
	return &MultiplexFrame{
		FrameType:           FrameTypeControl,
		SaltedServiceIDHash: GenerateServiceIDHashWithSalt(serviceID, salt),
		ServiceIDHashSalt:   salt,
		ControlFrameType:    ControlFrameConnectionRequest,
	}
}

// ForConnectionResponse monta um MultiplexFrame CONNECTION_RESPONSE.
func ForConnectionResponse(saltedHash []byte, salt string, code ConnectionResponseCode) *MultiplexFrame {
	return &MultiplexFrame{
		FrameType:           FrameTypeControl,
		SaltedServiceIDHash: saltedHash,
		ServiceIDHashSalt:   salt,
		ControlFrameType:    ControlFrameConnectionResponse,
		ResponseCode:        code,
	}
}

// ForDisconnection monta um MultiplexFrame DISCONNECTION.
func ForDisconnection(saltedHash []byte, salt string) *MultiplexFrame {
	return &MultiplexFrame{
		FrameType:           FrameTypeControl,
		SaltedServiceIDHash: saltedHash,
		ServiceIDHashSalt:   salt,
		ControlFrameType:    ControlFrameDisconnection,
	}
}

// ForData monta um MultiplexFrame DATA. passSalt controla se o salt
// acompanha o frame (necessário apenas até o peer ter observado o salt
// real uma vez).
func ForData(saltedHash []byte, salt string, passSalt bool, data []byte) *MultiplexFrame {
	f := &MultiplexFrame{
		FrameType:           FrameTypeData,
		SaltedServiceIDHash: saltedHash,
		Data:                data,
	}
	if passSalt {
		f.ServiceIDHashSalt = salt
	}
	return f
}

// IsValid implementa as invariantes de spec.md §8: um frame de controle
// precisa de um sub-tipo reconhecido e do hash de 4 bytes; um frame de
// dados precisa de `data` e do hash.
func (f *MultiplexFrame) IsValid() bool {
	if len(f.SaltedServiceIDHash) != ServiceIDHashLength {
		return false
	}
	switch f.FrameType {
	case FrameTypeControl:
		switch f.ControlFrameType {
		case ControlFrameConnectionRequest, ControlFrameConnectionResponse, ControlFrameDisconnection:
			return true
		default:
			return false
		}
	case FrameTypeData:
		return f.Data != nil
	default:
		return false
	}
}

func (f *MultiplexFrame) IsControlFrame() bool { return f.FrameType == FrameTypeControl }
func (f *MultiplexFrame) IsDataFrame() bool    { return f.FrameType == FrameTypeData }

// Encode serializa o frame no formato binário prefixado por tamanho usado
// na camada de multiplexação (sem o prefixo u32 externo, que é
// responsabilidade de internal/wire.WriteFramed no chamador).
//
// Layout: [1 byte frame_type] [1 byte salt_len] [salt bytes]
//         [4 bytes salted_hash] [1 byte sub_type] [payload]
// payload para CONNECTION_RESPONSE: [1 byte response_code]
// payload para DATA: [4 bytes data_len][data]
func (f *MultiplexFrame) Encode() ([]byte, error) {
	if !f.IsValid() {
		return nil, ErrInvalidFrame
	}

	buf := new(bytes.Buffer)
	buf.WriteByte(byte(f.FrameType))
	buf.WriteByte(byte(len(f.ServiceIDHashSalt)))
	buf.WriteString(f.ServiceIDHashSalt)
	buf.Write(f.SaltedServiceIDHash)

	switch f.FrameType {
	case FrameTypeControl:
		buf.WriteByte(byte(f.ControlFrameType))
		if f.ControlFrameType == ControlFrameConnectionResponse {
			buf.WriteByte(byte(f.ResponseCode))
		}
	case FrameTypeData:
		if err := wire.WriteFramed(buf, f.Data); err != nil {
			return nil, err
		}
	}

	return buf.Bytes(), nil
}

// DecodeMultiplexFrame interpreta bytes produzidos por Encode. Retorna
// ErrInvalidFrame para qualquer formato não reconhecido — o chamador (o
// leitor físico do MultiplexSocket) trata isso como uma falha de parse
// recuperável, não como uma exceção fatal.
func DecodeMultiplexFrame(data []byte) (*MultiplexFrame, error) {
	r := bytes.NewReader(data)

	frameTypeByte, err := wire.ReadUint8(r)
	if err != nil {
		return nil, ErrInvalidFrame
	}
	saltLen, err := wire.ReadUint8(r)
	if err != nil {
		return nil, ErrInvalidFrame
	}
	saltBytes, err := wire.ReadExactly(r, int32(saltLen))
	if err != nil {
		return nil, ErrInvalidFrame
	}
	saltedHash, err := wire.ReadExactly(r, ServiceIDHashLength)
	if err != nil {
		return nil, ErrInvalidFrame
	}

	f := &MultiplexFrame{
		FrameType:           FrameType(frameTypeByte),
		SaltedServiceIDHash: saltedHash,
		ServiceIDHashSalt:   string(saltBytes),
	}

	switch f.FrameType {
	case FrameTypeControl:
		subType, err := wire.ReadUint8(r)
		if err != nil {
			return nil, ErrInvalidFrame
		}
		f.ControlFrameType = ControlFrameType(subType)
		if f.ControlFrameType == ControlFrameConnectionResponse {
			code, err := wire.ReadUint8(r)
			if err != nil {
				return nil, ErrInvalidFrame
			}
			f.ResponseCode = ConnectionResponseCode(code)
		}
	case FrameTypeData:
		dataLen, err := wire.ReadInt32(r)
		if err != nil {
			return nil, ErrInvalidFrame
		}
		payload, err := wire.ReadExactly(r, dataLen)
		if err != nil {
			return nil, ErrInvalidFrame
		}
		f.Data = payload
	default:
		return nil, ErrInvalidFrame
	}

	if !f.IsValid() {
		return nil, ErrInvalidFrame
	}
	return f, nil
}

// Package verification conduz a troca de chave pareada de duas rodadas
// que decide se uma conexão já autenticada por UKEY2 também é confiável o
// bastante para prosseguir sem confirmação humana — grounded em
// original_source/sharing/paired_key_verification_runner.h para a máquina
// de estados e a tabela de fusão Success/Fail/Unable, e em
// internal/crypto/encryption.go para assinatura/verificação Ed25519.
package verification

import (
	"crypto/ed25519"
	"crypto/sha256"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/nearbyshare/sharecore/internal/collab"
	"github.com/nearbyshare/sharecore/internal/framesreader"
	"github.com/nearbyshare/sharecore/internal/sharepb"
)

// Result é o veredito combinado da verificação de chave pareada.
type Result int

const (
	ResultUnknown Result = iota
	ResultSuccess
	ResultFail
	ResultUnable
)

// Visibility identifica o modo de visibilidade local no momento da
// verificação, usado pela regra de downgrade do portão de visibilidade.
type Visibility int

const (
	VisibilityUnknown Visibility = iota
	VisibilityContacts
	VisibilityEveryone
	VisibilityHidden
)

func (v Visibility) isStrangerFacing() bool {
	return v == VisibilityEveryone || v == VisibilityHidden
}

// History registra a visibilidade atual e a anterior, para a regra de
// downgrade de spec.md §4.E ponto 4.
type History struct {
	Current Visibility
	Last    Visibility
}

func (h History) shouldDowngradeSuccess() bool {
	return h.Current.isStrangerFacing() && h.Last.isStrangerFacing()
}

// Writer é o lado de escrita do canal físico usado para mandar os
// quadros PAIRED_KEY_ENCRYPTION/PAIRED_KEY_RESULT.
type Writer interface {
	Write(data []byte) error
}

// Outcome é o resultado entregue ao chamador.
type Outcome struct {
	Result      Result
	RemoteOSType sharepb.OSType
}

// Runner conduz a verificação de chave pareada sobre um Writer/Reader já
// estabelecidos, usando certManager para assinar e verificar tokens.
type Runner struct {
	writer        Writer
	reader        *framesreader.Reader
	certManager   collab.CertificateManager
	certificate   *collab.DecryptedPublicCertificate
	visibility    int
	history       History
	rawToken      []byte
	localOSType   sharepb.OSType
	readTimeout   time.Duration
	log           *logrus.Entry
}

// NewRunner cria um Runner. certificate pode ser nil, se ainda não
// baixamos o certificado público decifrado do peer.
func NewRunner(
	writer Writer,
	reader *framesreader.Reader,
	certManager collab.CertificateManager,
	certificate *collab.DecryptedPublicCertificate,
	visibility int,
	history History,
	rawToken []byte,
	localOSType sharepb.OSType,
	readTimeout time.Duration,
	log *logrus.Entry,
) *Runner {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Runner{
		writer:      writer,
		reader:      reader,
		certManager: certManager,
		certificate: certificate,
		visibility:  visibility,
		history:     history,
		rawToken:    rawToken,
		localOSType: localOSType,
		readTimeout: readTimeout,
		log:         log,
	}
}

// Run conduz as duas rodadas de troca e retorna o veredito combinado.
func (r *Runner) Run() (Outcome, error) {
	if err := r.sendEncryptionFrame(); err != nil {
		return Outcome{Result: ResultFail}, err
	}

	peerEncryption, err := r.reader.ReadFrameOfType(sharepb.V1FramePairedKeyEncryption, r.readTimeout)
	if err != nil {
		return Outcome{Result: ResultFail}, err
	}

	localResult := r.verifyEncryptionFrame(peerEncryption)

	if err := r.sendResultFrame(localResult); err != nil {
		return Outcome{Result: ResultFail}, err
	}

	peerResult, err := r.reader.ReadFrameOfType(sharepb.V1FramePairedKeyResult, r.readTimeout)
	if err != nil {
		return Outcome{Result: ResultFail}, nil
	}

	remoteResult := fromWireStatus(peerResult.PairedKeyResult.Status)
	remoteOSType := peerResult.PairedKeyResult.OSType

	merged := mergeResults(localResult, remoteResult)
	if merged == ResultSuccess && r.history.shouldDowngradeSuccess() {
		r.log.Info("verification: downgrading SUCCESS to UNABLE, visibilidade exposta a estranhos")
		merged = ResultUnable
	}

	return Outcome{Result: merged, RemoteOSType: remoteOSType}, nil
}

func (r *Runner) secretIDHash() []byte {
	h := sha256.Sum256(r.rawToken)
	return h[:6]
}

func (r *Runner) sendEncryptionFrame() error {
	signedData, err := r.certManager.SignWithPrivateKey(r.visibility, r.rawToken)
	if err != nil {
		return err
	}
	optionalSignedData, err := r.certManager.HashAuthTokenWithPrivateKey(r.visibility, r.rawToken)
	if err != nil {
		return err
	}

	frame := &sharepb.Frame{
		Version: sharepb.FrameVersion,
		Type:    sharepb.V1FramePairedKeyEncryption,
		PairedKeyEncryption: &sharepb.PairedKeyEncryptionFrame{
			SecretIDHash:       r.secretIDHash(),
			SignedData:         signedData,
			OptionalSignedData: optionalSignedData,
		},
	}
	data, err := frame.Encode()
	if err != nil {
		return err
	}
	return r.writer.Write(data)
}

// verifyEncryptionFrame implementa VerifyPairedKeyEncryptionFrame: Success
// ou Fail se temos certificado, Unable se não temos. Nunca retorna Fail
// sozinho por ausência de certificado — apenas por assinatura inválida.
func (r *Runner) verifyEncryptionFrame(frame *sharepb.Frame) Result {
	if r.certificate == nil {
		return ResultUnable
	}
	if frame == nil || frame.PairedKeyEncryption == nil {
		return ResultFail
	}

	pub := ed25519.PublicKey(r.certificate.PublicKey)
	if len(pub) != ed25519.PublicKeySize {
		return ResultUnable
	}

	if ed25519.Verify(pub, r.rawToken, frame.PairedKeyEncryption.SignedData) {
		return ResultSuccess
	}
	if ed25519.Verify(pub, r.rawToken, frame.PairedKeyEncryption.OptionalSignedData) {
		return ResultSuccess
	}
	return ResultFail
}

func (r *Runner) sendResultFrame(result Result) error {
	frame := &sharepb.Frame{
		Version: sharepb.FrameVersion,
		Type:    sharepb.V1FramePairedKeyResult,
		PairedKeyResult: &sharepb.PairedKeyResultFrame{
			Status: toWireStatus(result),
			OSType: r.localOSType,
		},
	}
	data, err := frame.Encode()
	if err != nil {
		return err
	}
	return r.writer.Write(data)
}

// mergeResults implementa a tabela de fusão de spec.md §4.E ponto 3.
func mergeResults(local, remote Result) Result {
	if local == ResultFail || remote == ResultFail {
		return ResultFail
	}
	if local == ResultSuccess && remote == ResultSuccess {
		return ResultSuccess
	}
	return ResultUnable
}

func toWireStatus(r Result) sharepb.PairedKeyResultStatus {
	switch r {
	case ResultSuccess:
		return sharepb.PairedKeyResultSuccess
	case ResultFail:
		return sharepb.PairedKeyResultFail
	case ResultUnable:
		return sharepb.PairedKeyResultUnable
	default:
		return sharepb.PairedKeyResultUnknown
	}
}

func fromWireStatus(s sharepb.PairedKeyResultStatus) Result {
	switch s {
	case sharepb.PairedKeyResultSuccess:
		return ResultSuccess
	case sharepb.PairedKeyResultFail:
		return ResultFail
	case sharepb.PairedKeyResultUnable:
		return ResultUnable
	default:
		return ResultUnknown
	}
}

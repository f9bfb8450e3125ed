// Package handshake conduz o driver de handshake UKEY2 (EncryptionRunner):
// a troca de três mensagens que estabelece o segredo compartilhado de uma
// conexão ponto a ponto, como iniciador ou como respondente, sob um prazo
// de parede fixo — grounded em
// original_source/connections/implementation/encryption_runner.cc e no
// padrão de goroutine com stopChan de internal/service/retry.go.
package handshake

import (
	"encoding/base64"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/nearbyshare/sharecore/internal/collab"
)

const (
	// cipher é o identificador de suíte repassado ao driver UKEY2 opaco.
	cipher = "P256_SHA512"

	verificationStringLength = 32
	humanTokenLength         = 5
)

// Channel é o duplex mínimo que o handshake precisa: ler e escrever
// mensagens já delimitadas, e fechar para abortar leituras/escritas
// pendentes. internal/multiplex.VirtualSocket satisfaz esta interface.
type Channel interface {
	Read() ([]byte, error)
	Write(data []byte) error
	Close() error
}

// Result é entregue ao listener exatamente uma vez, em caso de sucesso.
type Result struct {
	Handle     string
	HumanToken string
	RawToken   []byte
}

// Listener recebe o desfecho do handshake. Exatamente um dos dois
// callbacks é invocado, exatamente uma vez.
type Listener struct {
	OnSuccess func(Result)
	OnFailure func()
}

func (l Listener) fireSuccess(r Result, once *sync.Once) {
	once.Do(func() {
		if l.OnSuccess != nil {
			l.OnSuccess(r)
		}
	})
}

func (l Listener) fireFailure(once *sync.Once) {
	once.Do(func() {
		if l.OnFailure != nil {
			l.OnFailure()
		}
	})
}

// Runner conduz o handshake UKEY2 sobre um Channel, usando um
// collab.UKey2Handshake opaco para a criptografia em si.
type Runner struct {
	driver   collab.UKey2Handshake
	deadline time.Duration
	log      *logrus.Entry
}

// NewRunner cria um Runner que usa driver para a criptografia e aplica
// deadline como prazo total de parede do handshake.
func NewRunner(driver collab.UKey2Handshake, deadline time.Duration, log *logrus.Entry) *Runner {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Runner{driver: driver, deadline: deadline, log: log}
}

// StartInitiator executa a ponta cliente do handshake em uma goroutine
// própria. O listener é invocado exatamente uma vez.
func (r *Runner) StartInitiator(channel Channel, listener Listener) {
	go r.runInitiator(channel, listener)
}

// StartResponder executa a ponta servidor do handshake em uma goroutine
// própria. O listener é invocado exatamente uma vez.
func (r *Runner) StartResponder(channel Channel, listener Listener) {
	go r.runResponder(channel, listener)
}

func (r *Runner) armDeadline(channel Channel) *time.Timer {
	return time.AfterFunc(r.deadline, func() {
		r.log.Warn("handshake: prazo de 15s expirado, fechando canal")
		channel.Close()
	})
}

func (r *Runner) runInitiator(channel Channel, listener Listener) {
	var once sync.Once
	timer := r.armDeadline(channel)

	handle, ok := r.driver.ForInitiator(cipher)
	if !ok {
		timer.Stop()
		listener.fireFailure(&once)
		return
	}

	// Mensagem 1 (Client Init)
	msg1, ok := r.driver.GetNextHandshakeMessage(handle)
	if !ok {
		timer.Stop()
		listener.fireFailure(&once)
		return
	}
	if err := channel.Write(msg1); err != nil {
		timer.Stop()
		listener.fireFailure(&once)
		return
	}

	// Mensagem 2 (Server Init)
	msg2, err := channel.Read()
	if err != nil {
		timer.Stop()
		listener.fireFailure(&once)
		return
	}
	parsed := r.driver.ParseHandshakeMessage(handle, msg2)
	if !parsed.OK {
		r.sendAlertBestEffort(channel, parsed)
		timer.Stop()
		listener.fireFailure(&once)
		return
	}

	// Mensagem 3 (Client Finish)
	msg3, ok := r.driver.GetNextHandshakeMessage(handle)
	if !ok {
		timer.Stop()
		listener.fireFailure(&once)
		return
	}
	if err := channel.Write(msg3); err != nil {
		timer.Stop()
		listener.fireFailure(&once)
		return
	}

	timer.Stop()
	r.finish(handle, listener, &once)
}

func (r *Runner) runResponder(channel Channel, listener Listener) {
	var once sync.Once
	timer := r.armDeadline(channel)

	handle, ok := r.driver.ForResponder(cipher)
	if !ok {
		timer.Stop()
		listener.fireFailure(&once)
		return
	}

	// Mensagem 1 (Client Init)
	msg1, err := channel.Read()
	if err != nil {
		timer.Stop()
		listener.fireFailure(&once)
		return
	}
	parsed := r.driver.ParseHandshakeMessage(handle, msg1)
	if !parsed.OK {
		r.sendAlertBestEffort(channel, parsed)
		timer.Stop()
		listener.fireFailure(&once)
		return
	}

	// Mensagem 2 (Server Init)
	msg2, ok := r.driver.GetNextHandshakeMessage(handle)
	if !ok {
		timer.Stop()
		listener.fireFailure(&once)
		return
	}
	if err := channel.Write(msg2); err != nil {
		timer.Stop()
		listener.fireFailure(&once)
		return
	}

	// Mensagem 3 (Client Finish)
	msg3, err := channel.Read()
	if err != nil {
		timer.Stop()
		listener.fireFailure(&once)
		return
	}
	parsed = r.driver.ParseHandshakeMessage(handle, msg3)
	if !parsed.OK {
		r.sendAlertBestEffort(channel, parsed)
		timer.Stop()
		listener.fireFailure(&once)
		return
	}

	timer.Stop()
	r.finish(handle, listener, &once)
}

func (r *Runner) sendAlertBestEffort(channel Channel, parsed collab.HandshakeParseResult) {
	if !parsed.HasAlert || len(parsed.AlertToSend) == 0 {
		return
	}
	if err := channel.Write(parsed.AlertToSend); err != nil {
		r.log.WithError(err).Warn("handshake: falha ao enviar alerta ao peer")
	}
}

func (r *Runner) finish(handle string, listener Listener, once *sync.Once) {
	rawToken, err := r.driver.GetVerificationString(handle, verificationStringLength)
	if err != nil || len(rawToken) == 0 {
		listener.fireFailure(once)
		return
	}
	listener.fireSuccess(Result{
		Handle:     handle,
		HumanToken: toHumanReadableToken(rawToken),
		RawToken:   rawToken,
	}, once)
}

// toHumanReadableToken transforma o token bruto do UKEY2 nos 5 primeiros
// caracteres Base64, em maiúsculas — original_source chama isso de
// ToHumanReadableString.
func toHumanReadableToken(token []byte) string {
	encoded := base64.StdEncoding.EncodeToString(token)
	if len(encoded) > humanTokenLength {
		encoded = encoded[:humanTokenLength]
	}
	return strings.ToUpper(encoded)
}

// Package framesreader serializa leituras de V1Frame sobre um único canal
// físico: pedidos concorrentes entram em uma fila FIFO interna, quadros de
// um tipo inesperado ficam em cache até alguém pedir aquele tipo, e um
// timeout fecha o canal e resolve todos os pedidos pendentes com erro —
// grounded em original_source/sharing/incoming_frames_reader.cc, com o
// padrão de goroutine-de-bombeamento único de internal/service/retry.go.
package framesreader

import (
	"errors"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/nearbyshare/sharecore/internal/sharepb"
)

// ErrReaderClosed é retornado por qualquer leitura feita depois que o
// Reader foi fechado, seja explicitamente, seja por timeout ou erro de E/S.
var ErrReaderClosed = errors.New("framesreader: leitor fechado")

// Channel é o duplex mínimo consumido pelo Reader.
type Channel interface {
	Read() ([]byte, error)
	Close() error
}

type request struct {
	expectedType *sharepb.V1FrameType
	result       chan *sharepb.Frame
}

// Reader lê V1Frames de um Channel físico compartilhado, atendendo
// pedidos na ordem em que chegam.
type Reader struct {
	mu      sync.Mutex
	channel Channel
	queue   []*request
	cache   map[sharepb.V1FrameType][]*sharepb.Frame
	closed  bool
	pumping bool
	log     *logrus.Entry
}

// NewReader cria um Reader sobre channel.
func NewReader(channel Channel, log *logrus.Entry) *Reader {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Reader{
		channel: channel,
		cache:   make(map[sharepb.V1FrameType][]*sharepb.Frame),
		log:     log,
	}
}

// ReadFrame devolve o próximo V1Frame, de qualquer tipo, bloqueando até
// que um esteja disponível ou o leitor seja fechado.
func (r *Reader) ReadFrame() (*sharepb.Frame, error) {
	return r.read(nil, 0)
}

// ReadFrameOfType devolve o próximo V1Frame de frameType, consumindo
// quadros em cache primeiro; expira após timeout.
func (r *Reader) ReadFrameOfType(frameType sharepb.V1FrameType, timeout time.Duration) (*sharepb.Frame, error) {
	return r.read(&frameType, timeout)
}

func (r *Reader) read(want *sharepb.V1FrameType, timeout time.Duration) (*sharepb.Frame, error) {
	req := &request{expectedType: want, result: make(chan *sharepb.Frame, 1)}

	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil, ErrReaderClosed
	}
	if len(r.queue) == 0 {
		if cached, ok := r.popCacheLocked(want); ok {
			r.mu.Unlock()
			return cached, nil
		}
	}
	r.queue = append(r.queue, req)
	needPump := !r.pumping
	if needPump {
		r.pumping = true
	}
	r.mu.Unlock()

	if needPump {
		go r.pumpLoop()
	}

	var timer *time.Timer
	if timeout > 0 {
		timer = time.AfterFunc(timeout, r.onTimeout)
	}

	frame := <-req.result
	if timer != nil {
		timer.Stop()
	}
	if frame == nil {
		return nil, ErrReaderClosed
	}
	return frame, nil
}

func (r *Reader) popCacheLocked(want *sharepb.V1FrameType) (*sharepb.Frame, bool) {
	if want != nil {
		bucket := r.cache[*want]
		if len(bucket) == 0 {
			return nil, false
		}
		frame := bucket[0]
		if len(bucket) == 1 {
			delete(r.cache, *want)
		} else {
			r.cache[*want] = bucket[1:]
		}
		return frame, true
	}
	for t, bucket := range r.cache {
		if len(bucket) == 0 {
			continue
		}
		frame := bucket[0]
		if len(bucket) == 1 {
			delete(r.cache, t)
		} else {
			r.cache[t] = bucket[1:]
		}
		return frame, true
	}
	return nil, false
}

// pumpLoop lê quadros físicos enquanto houver pedidos pendentes na fila,
// entregando ao pedido na cabeça quando o tipo combina e armazenando em
// cache caso contrário.
func (r *Reader) pumpLoop() {
	for {
		r.mu.Lock()
		if len(r.queue) == 0 {
			r.pumping = false
			r.mu.Unlock()
			return
		}
		r.mu.Unlock()

		data, err := r.channel.Read()
		if err != nil {
			r.log.WithError(err).Warn("framesreader: falha ao ler do canal físico")
			r.closeAllPending()
			return
		}

		frame, err := sharepb.DecodeV1Frame(data)
		if err != nil {
			r.log.WithError(err).Warn("framesreader: falha ao decodificar quadro")
			r.closeAllPending()
			return
		}

		r.mu.Lock()
		if len(r.queue) == 0 {
			r.pumping = false
			r.mu.Unlock()
			continue
		}
		head := r.queue[0]
		if head.expectedType != nil && *head.expectedType != frame.Type {
			r.cache[frame.Type] = append(r.cache[frame.Type], frame)
			r.mu.Unlock()
			continue
		}
		r.queue = r.queue[1:]
		r.mu.Unlock()
		head.result <- frame
	}
}

// onTimeout implementa spec.md §4.F: um timeout fecha o canal físico e
// resolve todos os pedidos pendentes, não apenas o que expirou.
func (r *Reader) onTimeout() {
	r.log.Warn("framesreader: timeout lendo do canal físico")
	r.channel.Close()
	r.closeAllPending()
}

func (r *Reader) closeAllPending() {
	r.mu.Lock()
	pending := r.queue
	r.queue = nil
	r.closed = true
	r.pumping = false
	r.mu.Unlock()

	for _, req := range pending {
		req.result <- nil
	}
}

// Close encerra o Reader e resolve qualquer leitura pendente com erro.
func (r *Reader) Close() error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.mu.Unlock()
	err := r.channel.Close()
	r.closeAllPending()
	return err
}

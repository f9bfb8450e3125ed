package framesreader

import (
	"io"
	"sync"
	"testing"
	"time"

	"github.com/nearbyshare/sharecore/internal/sharepb"
)

// fakeChannel entrega quadros pré-codificados de um slice, em ordem, e
// bloqueia indefinidamente após o último até ser fechado.
type fakeChannel struct {
	mu     sync.Mutex
	frames [][]byte
	idx    int
	closed chan struct{}
}

func newFakeChannel(frames ...*sharepb.Frame) *fakeChannel {
	encoded := make([][]byte, len(frames))
	for i, f := range frames {
		data, err := f.Encode()
		if err != nil {
			panic(err)
		}
		encoded[i] = data
	}
	return &fakeChannel{frames: encoded, closed: make(chan struct{})}
}

func (c *fakeChannel) Read() ([]byte, error) {
	c.mu.Lock()
	if c.idx < len(c.frames) {
		data := c.frames[c.idx]
		c.idx++
		c.mu.Unlock()
		return data, nil
	}
	c.mu.Unlock()
	<-c.closed
	return nil, io.EOF
}

func (c *fakeChannel) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	select {
	case <-c.closed:
	default:
		close(c.closed)
	}
	return nil
}

func cancelFrame() *sharepb.Frame {
	return &sharepb.Frame{Version: sharepb.FrameVersion, Type: sharepb.V1FrameCancel}
}

func progressFrame(p float64) *sharepb.Frame {
	return &sharepb.Frame{
		Version:        sharepb.FrameVersion,
		Type:           sharepb.V1FrameProgressUpdate,
		ProgressUpdate: &sharepb.ProgressUpdateFrame{Progress: p},
	}
}

func TestReadFrameReturnsFramesInOrder(t *testing.T) {
	ch := newFakeChannel(cancelFrame(), progressFrame(50))
	r := NewReader(ch, nil)

	f1, err := r.ReadFrame()
	if err != nil {
		t.Fatalf("leitura 1 falhou: %v", err)
	}
	if f1.Type != sharepb.V1FrameCancel {
		t.Fatalf("esperado CANCEL, obtido %v", f1.Type)
	}

	f2, err := r.ReadFrame()
	if err != nil {
		t.Fatalf("leitura 2 falhou: %v", err)
	}
	if f2.Type != sharepb.V1FrameProgressUpdate {
		t.Fatalf("esperado PROGRESS_UPDATE, obtido %v", f2.Type)
	}
}

func TestReadFrameOfTypeCachesMismatchedFrames(t *testing.T) {
	ch := newFakeChannel(cancelFrame(), progressFrame(75))
	r := NewReader(ch, nil)

	// Pede PROGRESS_UPDATE primeiro: deve pular o CANCEL (cacheando-o) e
	// entregar o PROGRESS_UPDATE.
	f, err := r.ReadFrameOfType(sharepb.V1FrameProgressUpdate, time.Second)
	if err != nil {
		t.Fatalf("leitura por tipo falhou: %v", err)
	}
	if f.ProgressUpdate == nil || f.ProgressUpdate.Progress != 75 {
		t.Fatalf("quadro de progresso incorreto: %+v", f)
	}

	// Agora o CANCEL cacheado deve ser servido sem tocar o canal físico.
	cached, err := r.ReadFrameOfType(sharepb.V1FrameCancel, time.Second)
	if err != nil {
		t.Fatalf("leitura do quadro cacheado falhou: %v", err)
	}
	if cached.Type != sharepb.V1FrameCancel {
		t.Fatalf("esperado quadro cacheado CANCEL, obtido %v", cached.Type)
	}
}

func TestReadFrameOfTypeTimesOutAndFailsAllPending(t *testing.T) {
	ch := newFakeChannel() // nunca entrega nada
	r := NewReader(ch, nil)

	var wg sync.WaitGroup
	errs := make([]error, 2)
	wg.Add(2)
	go func() {
		defer wg.Done()
		_, errs[0] = r.ReadFrameOfType(sharepb.V1FrameCancel, 30*time.Millisecond)
	}()
	go func() {
		defer wg.Done()
		_, errs[1] = r.ReadFrame()
	}()
	wg.Wait()

	for i, err := range errs {
		if err != ErrReaderClosed {
			t.Errorf("pedido %d: esperado ErrReaderClosed, obtido %v", i, err)
		}
	}

	if _, err := r.ReadFrame(); err != ErrReaderClosed {
		t.Fatalf("leitura após timeout deveria falhar imediatamente, obtido %v", err)
	}
}

func TestCloseResolvesPendingReads(t *testing.T) {
	ch := newFakeChannel()
	r := NewReader(ch, nil)

	resultCh := make(chan error, 1)
	go func() {
		_, err := r.ReadFrame()
		resultCh <- err
	}()

	time.Sleep(10 * time.Millisecond)
	r.Close()

	select {
	case err := <-resultCh:
		if err != ErrReaderClosed {
			t.Fatalf("esperado ErrReaderClosed, obtido %v", err)
		}
	case <-time.After(time.Second):
		t.Fatalf("tempo esgotado esperando Close resolver a leitura pendente")
	}
}

package session

import (
	"sync"
	"testing"
	"time"

	"github.com/nearbyshare/sharecore/internal/attachment"
	"github.com/nearbyshare/sharecore/internal/collab"
	"github.com/nearbyshare/sharecore/internal/config"
	"github.com/nearbyshare/sharecore/internal/payload"
	"github.com/nearbyshare/sharecore/internal/sharepb"
	"github.com/nearbyshare/sharecore/internal/transfer"
	"github.com/nearbyshare/sharecore/internal/verification"
)

// pipeChannel é o mesmo duplex em memória usado pelos testes de
// internal/handshake — Session depende da mesma forma mínima de Channel.
type pipeChannel struct {
	in      chan []byte
	out     chan []byte
	stopped chan struct{}
	mu      sync.Mutex
	closed  bool
}

func newPipePair() (*pipeChannel, *pipeChannel) {
	a := make(chan []byte, 8)
	b := make(chan []byte, 8)
	return &pipeChannel{in: a, out: b, stopped: make(chan struct{})},
		&pipeChannel{in: b, out: a, stopped: make(chan struct{})}
}

func (c *pipeChannel) Read() ([]byte, error) {
	select {
	case data := <-c.in:
		return data, nil
	case <-c.stopped:
		return nil, errPipeClosed
	}
}

func (c *pipeChannel) Write(data []byte) error {
	c.mu.Lock()
	closed := c.closed
	c.mu.Unlock()
	if closed {
		return errPipeClosed
	}
	select {
	case c.out <- data:
		return nil
	case <-c.stopped:
		return errPipeClosed
	}
}

func (c *pipeChannel) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	close(c.stopped)
	return nil
}

type pipeClosedErr struct{}

func (pipeClosedErr) Error() string { return "pipeChannel: canal fechado" }

var errPipeClosed = pipeClosedErr{}

func newTestConfig() *config.Config {
	cfg := config.Default()
	cfg.Timeouts.HandshakeDeadline = 2 * time.Second
	cfg.Timeouts.ReadFrames = 2 * time.Second
	cfg.Timeouts.ReadResponseFrame = 2 * time.Second
	cfg.Timeouts.InitiatorCancelDelay = 20 * time.Millisecond
	cfg.Timeouts.OutgoingDisconnectionDelay = 20 * time.Millisecond
	return cfg
}

func TestHumanConfirmationTokenPadsWithZeros(t *testing.T) {
	token := humanConfirmationToken([]byte{0, 0, 0, 0, 5})
	if token != "0005" {
		t.Fatalf("esperado 0005, obtido %q", token)
	}
}

func TestHumanConfirmationTokenWrapsAtTenThousand(t *testing.T) {
	// 0x3039 = 12345 -> mod 10000 = 2345.
	token := humanConfirmationToken([]byte{0, 0, 0, 0x30, 0x39})
	if token != "2345" {
		t.Fatalf("esperado 2345, obtido %q", token)
	}
}

// TestFullTransferReceiverAcceptsAndFinalizes conduz as duas pontas de uma
// sessão completa ponta a ponta: handshake, verificação (resultando em
// Unable, já que nenhum certificado foi semeado), introdução, aceitação e
// finalização do anexo de arquivo após o payload completar.
func TestFullTransferReceiverAcceptsAndFinalizes(t *testing.T) {
	senderChan, receiverChan := newPipePair()

	driver := collab.NewFakeUKey2Handshake()
	senderCertMgr := collab.NewFakeCertificateManager()
	receiverCertMgr := collab.NewFakeCertificateManager()
	senderConnMgr := collab.NewFakeConnectionManager()
	receiverConnMgr := collab.NewFakeConnectionManager()

	senderTarget := attachment.NewShareTarget("receiver-endpoint", "Pixel", attachment.DeviceTypePhone, false)
	senderTarget.Attachments = []attachment.Attachment{
		attachment.FileAttachment{IDValue: 1, Size: 100, FileName: "foto.jpg", MimeType: "image/jpeg"},
	}
	receiverTarget := attachment.NewShareTarget("sender-endpoint", "Galaxy", attachment.DeviceTypePhone, true)

	cfg := newTestConfig()
	rawToken := []byte("token-bruto-compartilhado-01234")

	var mu sync.Mutex
	var senderUpdates, receiverUpdates []transfer.Metadata

	sender := New("receiver-endpoint", senderTarget, false, false, senderChan, senderConnMgr, senderCertMgr, driver, cfg,
		int(verification.VisibilityEveryone), verification.History{}, sharepb.OSTypeAndroid,
		func(m transfer.Metadata) { mu.Lock(); senderUpdates = append(senderUpdates, m); mu.Unlock() }, nil)

	receiver := New("sender-endpoint", receiverTarget, true, false, receiverChan, receiverConnMgr, receiverCertMgr, driver, cfg,
		int(verification.VisibilityEveryone), verification.History{}, sharepb.OSTypeIOS,
		func(m transfer.Metadata) { mu.Lock(); receiverUpdates = append(receiverUpdates, m); mu.Unlock() }, nil)

	sender.AssignPayloadID(1, 9001)

	receiverDone := make(chan error, 1)
	go func() { receiverDone <- receiver.RunIncoming(rawToken) }()

	senderDone := make(chan error, 1)
	go func() { senderDone <- sender.RunOutgoing(rawToken, false) }()

	select {
	case err := <-receiverDone:
		if err != nil {
			t.Fatalf("RunIncoming falhou: %v", err)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("tempo esgotado esperando RunIncoming")
	}

	if got := receiver.State(); got != StateAwaitingLocalConfirmation {
		t.Fatalf("estado do receptor = %v, esperado AWAITING_LOCAL_CONFIRMATION", got)
	}

	token, ok := receiver.ConfirmationToken()
	if !ok || token == "" {
		t.Fatalf("verificação deveria ter resultado em Unable com token de confirmação, obtido %q", token)
	}
	senderToken, _ := sender.ConfirmationToken()
	if senderToken != token {
		t.Fatalf("tokens de confirmação divergem: remetente=%q receptor=%q", senderToken, token)
	}

	if err := receiver.Accept(); err != nil {
		t.Fatalf("Accept falhou: %v", err)
	}

	select {
	case err := <-senderDone:
		if err != nil {
			t.Fatalf("RunOutgoing falhou: %v", err)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("tempo esgotado esperando RunOutgoing")
	}

	if got := sender.State(); got != StateInProgress {
		t.Fatalf("estado do remetente = %v, esperado IN_PROGRESS", got)
	}

	receiverConnMgr.SeedPayload(&collab.Payload{ID: 9001, FilePath: "/tmp/recebido/foto.jpg"})
	receiverConnMgr.Emit(payload.Update{PayloadID: 9001, Status: payload.StatusSuccess, BytesTransferred: 100})

	waitUntil(t, 2*time.Second, func() bool {
		mu.Lock()
		defer mu.Unlock()
		if len(receiverUpdates) == 0 {
			return false
		}
		return receiverUpdates[len(receiverUpdates)-1].Status() == transfer.StatusComplete
	})

	waitUntil(t, 2*time.Second, func() bool {
		file, ok := receiver.Target().Attachments[0].(attachment.FileAttachment)
		return ok && file.HasLocalPath
	})

	file := receiver.Target().Attachments[0].(attachment.FileAttachment)
	if file.LocalPath != "/tmp/recebido/foto.jpg" {
		t.Fatalf("caminho local incorreto: %q", file.LocalPath)
	}
}

func waitUntil(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for {
		if cond() {
			return
		}
		if time.Now().After(deadline) {
			t.Fatal("tempo esgotado esperando condição")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestCancelInitiatorWritesFrameAndIsIdempotent(t *testing.T) {
	a, b := newPipePair()
	cfg := newTestConfig()
	driver := collab.NewFakeUKey2Handshake()
	certMgr := collab.NewFakeCertificateManager()
	connMgr := collab.NewFakeConnectionManager()
	target := attachment.NewShareTarget("peer", "Tablet", attachment.DeviceTypeTablet, false)

	var mu sync.Mutex
	var emitCount int
	s := New("peer", target, false, false, a, connMgr, certMgr, driver, cfg, 0, verification.History{}, sharepb.OSTypeLinux,
		func(transfer.Metadata) { mu.Lock(); emitCount++; mu.Unlock() }, nil)

	s.Cancel()
	s.Cancel() // segunda chamada deve ser no-op.

	mu.Lock()
	got := emitCount
	mu.Unlock()
	if got != 1 {
		t.Fatalf("esperada exatamente 1 emissão final, obtidas %d", got)
	}
	if s.State() != StateTerminal {
		t.Fatal("estado deveria ser TERMINAL após Cancel")
	}

	data, err := b.Read()
	if err != nil {
		t.Fatalf("falha lendo quadro CANCEL: %v", err)
	}
	frame, err := sharepb.DecodeV1Frame(data)
	if err != nil || frame.Type != sharepb.V1FrameCancel {
		t.Fatalf("esperado quadro CANCEL, obtido %+v (err=%v)", frame, err)
	}
}

func TestRejectAfterAcceptIsNoOp(t *testing.T) {
	a, _ := newPipePair()
	cfg := newTestConfig()
	driver := collab.NewFakeUKey2Handshake()
	certMgr := collab.NewFakeCertificateManager()
	connMgr := collab.NewFakeConnectionManager()
	target := attachment.NewShareTarget("peer", "Carro", attachment.DeviceTypeCar, true)

	var mu sync.Mutex
	var statuses []transfer.Status
	s := New("peer", target, true, false, a, connMgr, certMgr, driver, cfg, 0, verification.History{}, sharepb.OSTypeMacOS,
		func(m transfer.Metadata) { mu.Lock(); statuses = append(statuses, m.Status()); mu.Unlock() }, nil)
	s.introduction = &sharepb.IntroductionFrame{}

	if err := s.Accept(); err != nil {
		t.Fatalf("Accept falhou: %v", err)
	}
	if err := s.Reject(); err != nil {
		t.Fatalf("Reject não deveria retornar erro mesmo sendo no-op: %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	for _, status := range statuses {
		if status == transfer.StatusRejected {
			t.Fatalf("Reject após Accept não deveria emitir REJECTED; statuses=%v", statuses)
		}
	}
}

// Package payload agrega atualizações de progresso por payload em
// métricas de sessão: progresso geral, velocidade de transferência em
// janela deslizante, ETA, e o status final da transferência.
package payload

import (
	"math"
	"sync"
	"time"

	"github.com/nearbyshare/sharecore/internal/transfer"
)

// Status é o estado de um payload individual.
type Status int

const (
	StatusInProgress Status = iota
	StatusSuccess
	StatusCancelled
	StatusFailed
)

func (s Status) isTerminal() bool { return s != StatusInProgress }

// Update é o evento de entrada: um novo total de bytes transferidos (ou
// uma mudança de status) para um payload específico.
type Update struct {
	PayloadID        int64
	Status           Status
	BytesTransferred int64
}

type payloadState struct {
	attachmentID      int64
	totalSize         int64
	amountTransferred int64
	status            Status
}

// rateLimitInterval é o intervalo mínimo entre emissões quando nem o
// percentual nem o status mudaram — spec.md §4.G ponto 3.
const rateLimitInterval = 2 * time.Second

// window é o tamanho da janela deslizante de velocidade de transferência
// (spec.md §9, Open Question resolvida para ~500ms).
const window = 500 * time.Millisecond

const speedEpsilon = 1e-6

// Tracker acompanha o progresso agregado de todos os payloads de uma
// sessão e emite TransferMetadata através de um transfer.Emitter.
type Tracker struct {
	mu sync.Mutex

	payloads          map[int64]*payloadState
	totalTransferSize int64
	totalAttachments  int
	isSelfShare       bool

	lastEmitPercent int
	haveEmitted     bool
	lastEmitTime    time.Time

	createdAt        time.Time
	windowStart      time.Time
	windowStartBytes int64
	lastSpeed        float64

	emitter *transfer.Emitter
}

// NewTracker cria um Tracker vazio que entrega atualizações a sink.
func NewTracker(isSelfShare bool, sink transfer.Sink) *Tracker {
	return &Tracker{
		payloads:    make(map[int64]*payloadState),
		isSelfShare: isSelfShare,
		createdAt:   time.Now(),
		emitter:     transfer.NewEmitter(sink),
	}
}

// Register adiciona um payload ao conjunto rastreado, antes de qualquer
// atualização de progresso chegar para ele.
func (t *Tracker) Register(payloadID, attachmentID, totalSize int64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.payloads[payloadID] = &payloadState{attachmentID: attachmentID, totalSize: totalSize}
	t.totalTransferSize += totalSize
	t.totalAttachments++
}

func (t *Tracker) totalTransferredLocked() int64 {
	var sum int64
	for _, p := range t.payloads {
		sum += p.amountTransferred
	}
	return sum
}

func (t *Tracker) transferredAttachmentsCountLocked() int {
	count := 0
	for _, p := range t.payloads {
		if p.status == StatusSuccess {
			count++
		}
	}
	return count
}

// OnUpdate processa um PayloadTransferUpdate, conforme spec.md §4.G.
func (t *Tracker) OnUpdate(u Update) {
	t.mu.Lock()

	p, ok := t.payloads[u.PayloadID]
	if !ok {
		t.mu.Unlock()
		return
	}

	statusChangedToTerminal := !p.status.isTerminal() && u.Status.isTerminal()
	p.amountTransferred = u.BytesTransferred
	p.status = u.Status

	now := time.Now()
	totalTransferred := t.totalTransferredLocked()

	percent := 0
	if t.totalTransferSize > 0 {
		percent = int(float64(totalTransferred) / float64(t.totalTransferSize) * 100)
	}
	percentIncreased := percent > t.lastEmitPercent

	speed := t.computeSpeedLocked(now, totalTransferred)
	remaining := t.totalTransferSize - totalTransferred
	if remaining < 0 {
		remaining = 0
	}
	eta := time.Duration(float64(remaining) / math.Max(speed, speedEpsilon) * float64(time.Second))

	rateLimitElapsed := !t.haveEmitted || now.Sub(t.lastEmitTime) >= rateLimitInterval

	shouldEmit := percentIncreased || statusChangedToTerminal || rateLimitElapsed

	finalStatus, done := t.overallFinalStatusLocked()

	attachmentsDone := t.transferredAttachmentsCountLocked()
	totalAttachments := t.totalAttachments

	var inProgress *transfer.InProgressAttachment
	if p.status == StatusInProgress {
		inProgress = &transfer.InProgressAttachment{
			ID:               p.attachmentID,
			TransferredBytes: p.amountTransferred,
			TotalBytes:       p.totalSize,
		}
	}

	if !shouldEmit && !done {
		t.mu.Unlock()
		return
	}

	t.lastEmitPercent = percent
	t.lastEmitTime = now
	t.haveEmitted = true
	t.mu.Unlock()

	status := transfer.StatusInProgress
	if done {
		status = finalStatus
	}

	builder := transfer.NewBuilder(status).
		Progress(float64(percent)).
		IsSelfShare(t.isSelfShare).
		TransferredBytes(totalTransferred).
		TransferSpeed(speed).
		EstimatedTimeRemaining(eta).
		TotalAttachmentsCount(totalAttachments).
		TransferredAttachmentsCount(attachmentsDone)
	if inProgress != nil {
		builder = builder.InProgressAttachment(*inProgress)
	}

	t.emitter.Emit(builder.Build())
}

// computeSpeedLocked implementa a janela deslizante de ~500ms de
// spec.md §4.G ponto 4: a primeira janela usa a taxa instantânea; janelas
// seguintes recalculam a cada ~500ms transcorridos.
func (t *Tracker) computeSpeedLocked(now time.Time, totalTransferred int64) float64 {
	if t.windowStart.IsZero() {
		t.windowStart = now
		t.windowStartBytes = totalTransferred
		elapsed := now.Sub(t.createdAt).Seconds()
		if elapsed <= 0 {
			elapsed = 0.001
		}
		t.lastSpeed = float64(totalTransferred) / elapsed
		return t.lastSpeed
	}

	elapsed := now.Sub(t.windowStart)
	if elapsed >= window {
		bytesInWindow := totalTransferred - t.windowStartBytes
		t.lastSpeed = float64(bytesInWindow) / elapsed.Seconds()
		t.windowStart = now
		t.windowStartBytes = totalTransferred
	}
	return t.lastSpeed
}

// overallFinalStatusLocked implementa spec.md §4.G ponto 5.
func (t *Tracker) overallFinalStatusLocked() (transfer.Status, bool) {
	if len(t.payloads) == 0 {
		return transfer.StatusUnknown, false
	}
	anyCancelled := false
	anyFailed := false
	for _, p := range t.payloads {
		if !p.status.isTerminal() {
			return transfer.StatusUnknown, false
		}
		switch p.status {
		case StatusCancelled:
			anyCancelled = true
		case StatusFailed:
			anyFailed = true
		}
	}
	if anyCancelled {
		return transfer.StatusCancelled, true
	}
	if anyFailed {
		return transfer.StatusFailed, true
	}
	return transfer.StatusComplete, true
}

// Progress retorna o percentual agregado atual, para leitura síncrona
// fora do caminho de emissão (ex.: consultas de estado pela sessão).
func (t *Tracker) Progress() float64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.totalTransferSize == 0 {
		return 0
	}
	return float64(t.totalTransferredLocked()) / float64(t.totalTransferSize) * 100
}

// Package transfer define o registro imutável de progresso observado por
// superfícies externas (TransferMetadata) e a trava que garante que nenhum
// update seja entregue depois do primeiro marcado como status final.
package transfer

import (
	"sync"
	"time"
)

// Status enumera todos os estados possíveis de uma transferência,
// terminais e não-terminais.
type Status int

const (
	StatusUnknown Status = iota
	StatusConnecting
	StatusAwaitingLocalConfirmation
	StatusAwaitingRemoteAcceptance
	StatusInProgress

	// A partir daqui, todo valor é final — ver isFinal.
	StatusComplete
	StatusCancelled
	StatusFailed
	StatusIncompletePayloads
	StatusMediaUnavailable
	StatusNotEnoughSpace
	StatusDeviceAuthenticationFailed
	StatusRejected
	StatusTimedOut
	StatusUnsupportedAttachmentType
)

func (s Status) isFinal() bool {
	switch s {
	case StatusComplete, StatusCancelled, StatusFailed, StatusIncompletePayloads,
		StatusMediaUnavailable, StatusNotEnoughSpace, StatusDeviceAuthenticationFailed,
		StatusRejected, StatusTimedOut, StatusUnsupportedAttachmentType:
		return true
	default:
		return false
	}
}

func (s Status) String() string {
	switch s {
	case StatusUnknown:
		return "UNKNOWN"
	case StatusConnecting:
		return "CONNECTING"
	case StatusAwaitingLocalConfirmation:
		return "AWAITING_LOCAL_CONFIRMATION"
	case StatusAwaitingRemoteAcceptance:
		return "AWAITING_REMOTE_ACCEPTANCE"
	case StatusInProgress:
		return "IN_PROGRESS"
	case StatusComplete:
		return "COMPLETE"
	case StatusCancelled:
		return "CANCELLED"
	case StatusFailed:
		return "FAILED"
	case StatusIncompletePayloads:
		return "INCOMPLETE_PAYLOADS"
	case StatusMediaUnavailable:
		return "MEDIA_UNAVAILABLE"
	case StatusNotEnoughSpace:
		return "NOT_ENOUGH_SPACE"
	case StatusDeviceAuthenticationFailed:
		return "DEVICE_AUTHENTICATION_FAILED"
	case StatusRejected:
		return "REJECTED"
	case StatusTimedOut:
		return "TIMED_OUT"
	case StatusUnsupportedAttachmentType:
		return "UNSUPPORTED_ATTACHMENT_TYPE"
	default:
		return "UNKNOWN"
	}
}

// InProgressAttachment descreve o anexo atualmente em trânsito, quando
// aplicável.
type InProgressAttachment struct {
	ID                int64
	TransferredBytes  int64
	TotalBytes        int64
}

// Metadata é o registro imutável observado por superfícies externas.
// Construído exclusivamente por Builder — nenhum campo é exportado para
// escrita direta fora do pacote.
type Metadata struct {
	status                Status
	progress              float64
	token                 string
	hasToken              bool
	isOriginal            bool
	isFinalStatus         bool
	isSelfShare           bool
	transferredBytes      int64
	transferSpeed         float64
	estimatedTimeRemaining time.Duration
	totalAttachmentsCount       int
	transferredAttachmentsCount int
	inProgress            *InProgressAttachment
}

func (m Metadata) Status() Status                   { return m.status }
func (m Metadata) Progress() float64                { return m.progress }
func (m Metadata) Token() (string, bool)             { return m.token, m.hasToken }
func (m Metadata) IsOriginal() bool                  { return m.isOriginal }
func (m Metadata) IsFinalStatus() bool               { return m.isFinalStatus }
func (m Metadata) IsSelfShare() bool                 { return m.isSelfShare }
func (m Metadata) TransferredBytes() int64           { return m.transferredBytes }
func (m Metadata) TransferSpeed() float64            { return m.transferSpeed }
func (m Metadata) EstimatedTimeRemaining() time.Duration { return m.estimatedTimeRemaining }
func (m Metadata) TotalAttachmentsCount() int        { return m.totalAttachmentsCount }
func (m Metadata) TransferredAttachmentsCount() int  { return m.transferredAttachmentsCount }
func (m Metadata) InProgressAttachment() *InProgressAttachment { return m.inProgress }

// Builder monta uma Metadata. is_final_status nunca é exposto como campo
// gravável: ele é sempre derivado de Status no momento de Build.
type Builder struct {
	m Metadata
}

func NewBuilder(status Status) *Builder {
	return &Builder{m: Metadata{status: status}}
}

func (b *Builder) Progress(p float64) *Builder {
	if p < 0 {
		p = 0
	}
	if p > 100 {
		p = 100
	}
	b.m.progress = p
	return b
}

func (b *Builder) Token(token string) *Builder {
	b.m.token = token
	b.m.hasToken = true
	return b
}

func (b *Builder) IsOriginal(v bool) *Builder       { b.m.isOriginal = v; return b }
func (b *Builder) IsSelfShare(v bool) *Builder      { b.m.isSelfShare = v; return b }
func (b *Builder) TransferredBytes(v int64) *Builder { b.m.transferredBytes = v; return b }
func (b *Builder) TransferSpeed(v float64) *Builder { b.m.transferSpeed = v; return b }
func (b *Builder) EstimatedTimeRemaining(d time.Duration) *Builder {
	b.m.estimatedTimeRemaining = d
	return b
}
func (b *Builder) TotalAttachmentsCount(n int) *Builder       { b.m.totalAttachmentsCount = n; return b }
func (b *Builder) TransferredAttachmentsCount(n int) *Builder { b.m.transferredAttachmentsCount = n; return b }
func (b *Builder) InProgressAttachment(a InProgressAttachment) *Builder {
	b.m.inProgress = &a
	return b
}

// Build finaliza a Metadata, derivando is_final_status a partir do status.
func (b *Builder) Build() Metadata {
	b.m.isFinalStatus = b.m.status.isFinal()
	return b.m
}

// Sink recebe updates de Metadata já emitidos por uma sessão.
type Sink func(Metadata)

// Emitter aplica a trava de status final de spec.md §4.H: uma vez emitido
// um update com is_final_status, todos os updates seguintes são
// silenciosamente descartados. Payloads distintos podem reportar seu
// status final em goroutines distintas do gerenciador de conexão, então
// o mutex protege a trava — não o sink em si, que deve ser seguro para
// reentrância concorrente por conta própria.
type Emitter struct {
	mu      sync.Mutex
	sink    Sink
	emitted bool
}

// NewEmitter cria um Emitter que entrega updates a sink.
func NewEmitter(sink Sink) *Emitter {
	return &Emitter{sink: sink}
}

// Emit entrega m a sink, a menos que um update final já tenha sido
// emitido anteriormente por este Emitter.
func (e *Emitter) Emit(m Metadata) {
	e.mu.Lock()
	if e.emitted {
		e.mu.Unlock()
		return
	}
	if m.IsFinalStatus() {
		e.emitted = true
	}
	e.mu.Unlock()
	e.sink(m)
}

// HasEmittedFinal indica se um status final já foi entregue.
func (e *Emitter) HasEmittedFinal() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.emitted
}

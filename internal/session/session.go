// Package session implementa a máquina de estados ShareSession: o
// orquestrador que liga handshake, verificação de chave pareada, leitura
// de quadros V1 e o rastreador de payloads em uma única sessão de
// compartilhamento por endpoint remoto — grounded em spec.md §4.H e no
// padrão de colaboradores injetados de internal/service/retry.go
// (campos de configuração e funções de callback recebidos no construtor,
// nenhuma dependência global).
package session

import (
	"errors"
	"io"
	"math/big"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/nearbyshare/sharecore/internal/attachment"
	"github.com/nearbyshare/sharecore/internal/collab"
	"github.com/nearbyshare/sharecore/internal/compress"
	"github.com/nearbyshare/sharecore/internal/config"
	"github.com/nearbyshare/sharecore/internal/framesreader"
	"github.com/nearbyshare/sharecore/internal/handshake"
	"github.com/nearbyshare/sharecore/internal/payload"
	"github.com/nearbyshare/sharecore/internal/sharepb"
	"github.com/nearbyshare/sharecore/internal/telemetry"
	"github.com/nearbyshare/sharecore/internal/transfer"
	"github.com/nearbyshare/sharecore/internal/verification"
)

// State enumera os estados do ciclo de vida de uma ShareSession.
type State int

const (
	StateIdle State = iota
	StateConnecting
	StateKeyExchange
	StateVerifying
	StateAwaitingIntroduction
	StateAwaitingLocalConfirmation
	StateAwaitingRemoteAcceptance
	StateInProgress
	StateTerminal
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "IDLE"
	case StateConnecting:
		return "CONNECTING"
	case StateKeyExchange:
		return "KEY_EXCHANGE"
	case StateVerifying:
		return "VERIFYING"
	case StateAwaitingIntroduction:
		return "AWAITING_INTRODUCTION"
	case StateAwaitingLocalConfirmation:
		return "AWAITING_LOCAL_CONFIRMATION"
	case StateAwaitingRemoteAcceptance:
		return "AWAITING_REMOTE_ACCEPTANCE"
	case StateInProgress:
		return "IN_PROGRESS"
	case StateTerminal:
		return "TERMINAL"
	default:
		return "UNKNOWN"
	}
}

var (
	ErrKeyExchangeFailed    = errors.New("session: troca de chaves UKEY2 falhou")
	ErrVerificationFailed   = errors.New("session: verificação de chave pareada falhou")
	ErrIntroductionTimedOut = errors.New("session: tempo esgotado esperando a introdução")
	ErrUnsupportedAttachment = errors.New("session: tipo de anexo não suportado")
	ErrNotEnoughSpace       = errors.New("session: espaço insuficiente para os anexos")
	ErrMissingPayloads      = errors.New("session: nenhum anexo possui payload_id atribuído")
	ErrResponseTimedOut     = errors.New("session: tempo esgotado esperando CONNECTION_RESPONSE")
	ErrRejected             = errors.New("session: transferência rejeitada pelo receptor")
	ErrUnknownResponse      = errors.New("session: CONNECTION_RESPONSE com status desconhecido")
)

// Channel é o duplex físico mínimo que a sessão precisa: lê e escreve
// mensagens já delimitadas (V1Frame/mensagens de handshake) e fecha para
// abortar operações pendentes. internal/multiplex.VirtualSocket satisfaz
// esta interface.
type Channel interface {
	Read() ([]byte, error)
	Write(data []byte) error
	Close() error
}

// Session conduz uma transferência ponto a ponto completa sobre um
// Channel já estabelecido: handshake, verificação, introdução/aceitação e
// acompanhamento de payloads.
type Session struct {
	mu sync.Mutex

	endpointID  string
	target      *attachment.ShareTarget
	isIncoming  bool
	isSelfShare bool

	channel     Channel
	connManager collab.ConnectionManager
	certManager collab.CertificateManager
	ukey2Driver collab.UKey2Handshake
	cfg         *config.Config
	log         *logrus.Entry

	visibility        int
	visibilityHistory verification.History
	certificate       *collab.DecryptedPublicCertificate

	state            State
	disconnectStatus transfer.Status
	hasFinalStatus   bool
	finalStatus      transfer.Status

	emitter *transfer.Emitter
	tracker *payload.Tracker
	codec   *compress.Codec

	attachmentPayloadMap map[int64]int64
	fileSizeSum          int64
	introduction         *sharepb.IntroductionFrame
	responded            bool
	cancelled            bool

	frameReader *framesreader.Reader

	rawAuthToken      []byte
	handshakeToken    string
	confirmationToken string

	localOSType  sharepb.OSType
	remoteOSType sharepb.OSType

	connectionStartTime time.Time
}

// New cria uma Session sobre channel. target deve já existir (ver
// internal/resolve para sessões de saída, ou o endpoint recém-descoberto
// para sessões de entrada); seus Attachments são preenchidos/atualizados
// conforme a sessão progride.
func New(
	endpointID string,
	target *attachment.ShareTarget,
	isIncoming bool,
	isSelfShare bool,
	channel Channel,
	connManager collab.ConnectionManager,
	certManager collab.CertificateManager,
	ukey2Driver collab.UKey2Handshake,
	cfg *config.Config,
	visibility int,
	history verification.History,
	localOSType sharepb.OSType,
	sink transfer.Sink,
	log *logrus.Entry,
) *Session {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	s := &Session{
		endpointID:           endpointID,
		target:               target,
		isIncoming:           isIncoming,
		isSelfShare:          isSelfShare,
		channel:              channel,
		connManager:          connManager,
		certManager:          certManager,
		ukey2Driver:          ukey2Driver,
		cfg:                  cfg,
		log:                  log,
		visibility:           visibility,
		visibilityHistory:    history,
		state:                StateIdle,
		disconnectStatus:     transfer.StatusFailed,
		attachmentPayloadMap: make(map[int64]int64),
		localOSType:          localOSType,
		codec:                compress.DefaultCodec(),
	}
	s.emitter = transfer.NewEmitter(func(m transfer.Metadata) {
		telemetry.LogTransferUpdate(log, m)
		if sink != nil {
			sink(m)
		}
		if m.IsFinalStatus() && m.Status() == transfer.StatusComplete && s.isIncoming {
			go s.finalizePayloads()
		}
	})
	s.tracker = payload.NewTracker(isSelfShare, func(m transfer.Metadata) { s.emitter.Emit(m) })
	s.frameReader = framesreader.NewReader(channel, log)
	return s
}

// SetCertificate registra o certificado público decifrado do peer, obtido
// por internal/resolve antes de a sessão iniciar a verificação.
func (s *Session) SetCertificate(cert *collab.DecryptedPublicCertificate) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.certificate = cert
}

// State retorna o estado atual da sessão.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Target retorna o ShareTarget desta sessão.
func (s *Session) Target() *attachment.ShareTarget { return s.target }

// ConfirmationToken retorna o código de 4 dígitos exibido ao usuário
// quando a verificação de chave pareada resulta em Unable.
func (s *Session) ConfirmationToken() (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.confirmationToken, s.confirmationToken != ""
}

// RemoteOSType retorna o sistema operacional do peer, reportado pela
// rodada de verificação de chave pareada.
func (s *Session) RemoteOSType() sharepb.OSType {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.remoteOSType
}

func (s *Session) setState(st State) {
	s.mu.Lock()
	s.state = st
	s.mu.Unlock()
}

func (s *Session) emit(m transfer.Metadata) { s.emitter.Emit(m) }

// finalize marca a sessão como terminal e emite o status final dado,
// sujeito à trava de "primeiro status final vence" do Emitter.
func (s *Session) finalize(status transfer.Status) {
	s.mu.Lock()
	s.state = StateTerminal
	s.finalStatus = status
	s.hasFinalStatus = true
	start := s.connectionStartTime
	s.mu.Unlock()

	if !start.IsZero() {
		s.log.WithField("connection_duration_ms", time.Since(start).Milliseconds()).
			WithField("final_status", status.String()).
			Info("session: finalizando")
	}

	s.emit(transfer.NewBuilder(status).IsSelfShare(s.isSelfShare).Build())
}

// Connect registra o início da conexão: grava connection_start_time para
// telemetria e assume disconnect_status = Failed até que uma transição
// posterior o substitua.
func (s *Session) Connect(rawAuthToken []byte) {
	s.mu.Lock()
	s.connectionStartTime = time.Now()
	s.rawAuthToken = rawAuthToken
	s.disconnectStatus = transfer.StatusFailed
	s.state = StateConnecting
	s.mu.Unlock()

	s.emit(transfer.NewBuilder(transfer.StatusConnecting).IsSelfShare(s.isSelfShare).Build())
}

// runKeyExchange delega ao driver UKEY2 via internal/handshake.
func (s *Session) runKeyExchange() error {
	s.setState(StateKeyExchange)

	runner := handshake.NewRunner(s.ukey2Driver, s.cfg.Timeouts.HandshakeDeadline, s.log)
	success := make(chan handshake.Result, 1)
	failure := make(chan struct{}, 1)
	listener := handshake.Listener{
		OnSuccess: func(r handshake.Result) { success <- r },
		OnFailure: func() { close(failure) },
	}

	if s.isIncoming {
		runner.StartResponder(s.channel, listener)
	} else {
		runner.StartInitiator(s.channel, listener)
	}

	select {
	case r := <-success:
		s.mu.Lock()
		s.handshakeToken = r.HumanToken
		if len(s.rawAuthToken) == 0 {
			s.rawAuthToken = r.RawToken
		}
		s.mu.Unlock()
		return nil
	case <-failure:
		return ErrKeyExchangeFailed
	}
}

// humanConfirmationToken implementa spec.md §4.H "On Unable": os 5
// primeiros bytes do token bruto, interpretados como inteiro big-endian,
// módulo 10000, preenchido com zeros à esquerda até 4 dígitos.
func humanConfirmationToken(rawAuthToken []byte) string {
	n := len(rawAuthToken)
	if n > 5 {
		n = 5
	}
	v := new(big.Int).SetBytes(rawAuthToken[:n])
	v.Mod(v, big.NewInt(10000))
	digits := v.String()
	for len(digits) < 4 {
		digits = "0" + digits
	}
	return digits
}

// establishTrust roda a verificação de chave pareada e decide se a
// confirmação manual do usuário é necessária.
func (s *Session) establishTrust() error {
	s.setState(StateVerifying)

	runner := verification.NewRunner(
		s.channel,
		s.frameReader,
		s.certManager,
		s.certificate,
		s.visibility,
		s.visibilityHistory,
		s.rawAuthToken,
		s.localOSType,
		s.cfg.Timeouts.ReadFrames,
		s.log,
	)
	outcome, err := runner.Run()
	if err != nil {
		s.finalize(transfer.StatusFailed)
		return err
	}

	s.mu.Lock()
	s.remoteOSType = outcome.RemoteOSType
	s.mu.Unlock()

	switch outcome.Result {
	case verification.ResultFail:
		s.log.Warn("session: verificação de chave pareada reportou FAIL")
		s.finalize(transfer.StatusDeviceAuthenticationFailed)
		return ErrVerificationFailed
	case verification.ResultSuccess:
		return nil
	default: // ResultUnable
		s.mu.Lock()
		s.confirmationToken = humanConfirmationToken(s.rawAuthToken)
		s.mu.Unlock()
		return nil
	}
}

func attachmentSize(a attachment.Attachment) int64 {
	switch v := a.(type) {
	case attachment.FileAttachment:
		return v.Size
	case attachment.TextAttachment:
		return v.Size
	default:
		return 0
	}
}

func attachmentFromMetadata(m sharepb.AttachmentMetadata) attachment.Attachment {
	switch m.Kind {
	case sharepb.AttachmentKindText:
		return attachment.TextAttachment{
			IDValue:      m.ID,
			SemanticType: attachment.TextSemanticType(m.SemanticType),
			Title:        m.TextTitle,
			Size:         m.Size,
		}
	case sharepb.AttachmentKindWifiCredentials:
		return attachment.WifiCredentialsAttachment{
			IDValue:      m.ID,
			SSID:         m.WifiSSID,
			SecurityType: attachment.WifiSecurityType(m.WifiSecurityType),
			IsHidden:     m.WifiIsHidden,
		}
	default:
		return attachment.FileAttachment{
			IDValue:      m.ID,
			Size:         m.Size,
			FileName:     m.FileName,
			MimeType:     m.MimeType,
			SemanticType: attachment.FileSemanticType(m.SemanticType),
			ParentFolder: m.ParentFolder,
		}
	}
}

func attachmentToMetadata(a attachment.Attachment, payloadID int64) sharepb.AttachmentMetadata {
	switch v := a.(type) {
	case attachment.FileAttachment:
		return sharepb.AttachmentMetadata{
			Kind: sharepb.AttachmentKindFile, ID: v.IDValue, PayloadID: payloadID, Size: v.Size,
			FileName: v.FileName, MimeType: v.MimeType, SemanticType: int32(v.SemanticType), ParentFolder: v.ParentFolder,
		}
	case attachment.TextAttachment:
		return sharepb.AttachmentMetadata{
			Kind: sharepb.AttachmentKindText, ID: v.IDValue, PayloadID: payloadID, Size: v.Size,
			SemanticType: int32(v.SemanticType), TextTitle: v.Title,
		}
	case attachment.WifiCredentialsAttachment:
		return sharepb.AttachmentMetadata{
			Kind: sharepb.AttachmentKindWifiCredentials, ID: v.IDValue, PayloadID: payloadID, Size: 1,
			WifiSSID: v.SSID, WifiSecurityType: int32(v.SecurityType), WifiIsHidden: v.IsHidden,
		}
	default:
		return sharepb.AttachmentMetadata{}
	}
}

// ReceiveIntroduction implementa o caminho do receptor de spec.md §4.H:
// lê o quadro INTRODUCTION, valida cada anexo e decide entre
// auto-aceitar (self-share ou transferência vazia) ou aguardar a decisão
// da superfície (AwaitingLocalConfirmation).
func (s *Session) ReceiveIntroduction() error {
	frame, err := s.frameReader.ReadFrameOfType(sharepb.V1FrameIntroduction, s.cfg.Timeouts.ReadFrames)
	if err != nil || frame.Introduction == nil {
		s.finalize(transfer.StatusTimedOut)
		return ErrIntroductionTimedOut
	}
	intro := frame.Introduction

	var fileSizeSum int64
	attachments := make([]attachment.Attachment, 0, len(intro.Attachments))
	payloadMap := make(map[int64]int64, len(intro.Attachments))
	for _, meta := range intro.Attachments {
		if meta.Size <= 0 {
			_ = s.respondConnection(sharepb.ResponseUnsupportedAttachmentType)
			s.finalize(transfer.StatusUnsupportedAttachmentType)
			return ErrUnsupportedAttachment
		}
		payloadMap[meta.ID] = meta.PayloadID

		newSum := fileSizeSum + meta.Size
		if newSum < fileSizeSum {
			_ = s.respondConnection(sharepb.ResponseNotEnoughSpace)
			s.finalize(transfer.StatusNotEnoughSpace)
			return ErrNotEnoughSpace
		}
		fileSizeSum = newSum
		attachments = append(attachments, attachmentFromMetadata(meta))
	}

	s.mu.Lock()
	s.introduction = intro
	s.fileSizeSum = fileSizeSum
	s.attachmentPayloadMap = payloadMap
	s.target.Attachments = attachments
	s.mu.Unlock()

	if intro.StartTransfer && fileSizeSum >= s.cfg.Thresholds.AttachmentsSizeOverHighQualityMedium {
		_ = s.connManager.UpgradeBandwidth(s.endpointID)
	}

	if s.isSelfShare || fileSizeSum == 0 {
		return s.Accept()
	}

	s.setState(StateAwaitingLocalConfirmation)
	s.emit(transfer.NewBuilder(transfer.StatusAwaitingLocalConfirmation).
		IsSelfShare(s.isSelfShare).
		TotalAttachmentsCount(len(attachments)).
		Build())
	return nil
}

// Accept confirma a introdução recebida: registra o rastreador de
// payloads como ouvinte de cada um, responde ACCEPT e, se necessário,
// pede upgrade de banda.
func (s *Session) Accept() error {
	s.mu.Lock()
	if s.responded {
		s.mu.Unlock()
		return nil
	}
	s.responded = true
	intro := s.introduction
	total := s.fileSizeSum
	s.mu.Unlock()

	if intro == nil {
		return ErrMissingPayloads
	}

	for _, meta := range intro.Attachments {
		payloadID, attachmentID, size := meta.PayloadID, meta.ID, meta.Size
		s.tracker.Register(payloadID, attachmentID, size)
		s.connManager.RegisterPayloadStatusListener(payloadID, func(u payload.Update) { s.tracker.OnUpdate(u) })
	}

	if err := s.respondConnection(sharepb.ResponseAccept); err != nil {
		s.finalize(transfer.StatusFailed)
		return err
	}

	if total >= s.cfg.Thresholds.AttachmentsSizeOverHighQualityMedium {
		_ = s.connManager.UpgradeBandwidth(s.endpointID)
	}

	s.setState(StateAwaitingRemoteAcceptance)
	s.emit(transfer.NewBuilder(transfer.StatusAwaitingRemoteAcceptance).IsSelfShare(s.isSelfShare).Build())
	return nil
}

// Reject recusa a introdução recebida. Uma segunda chamada (depois de
// Accept ou de um Reject anterior) é um no-op silencioso.
func (s *Session) Reject() error {
	s.mu.Lock()
	if s.responded {
		s.mu.Unlock()
		return nil
	}
	s.responded = true
	s.mu.Unlock()

	_ = s.respondConnection(sharepb.ResponseReject)
	s.finalize(transfer.StatusRejected)
	return nil
}

func (s *Session) respondConnection(status sharepb.ConnectionResponseStatus) error {
	frame := &sharepb.Frame{
		Version:            sharepb.FrameVersion,
		Type:               sharepb.V1FrameResponse,
		ConnectionResponse: &sharepb.ConnectionResponseFrame{Status: status},
	}
	data, err := frame.Encode()
	if err != nil {
		return err
	}
	return s.channel.Write(data)
}

// decompressIfCompressed reverte a compressão LZ4 opcionalmente aplicada
// pelo remetente a payloads pequenos (texto, credenciais Wi-Fi); bytes que
// não carregam o cabeçalho de um frame LZ4 válido são devolvidos como
// vieram, para compatibilidade com remetentes que não comprimiram.
func (s *Session) decompressIfCompressed(data []byte) []byte {
	out, err := s.codec.Decompress(data)
	if err != nil {
		return data
	}
	return out
}

// finalizePayloads implementa spec.md §4.H "Receiver FinalizePayloads":
// copia o caminho local de cada arquivo, concatena o texto recebido, e
// decifra as credenciais Wi-Fi — acionado de forma assíncrona quando o
// rastreador de payloads emite Complete, para nunca reentrar no Emitter
// que o chamou.
func (s *Session) finalizePayloads() {
	s.mu.Lock()
	atts := s.target.Attachments
	payloadMap := s.attachmentPayloadMap
	s.mu.Unlock()

	updated := make([]attachment.Attachment, len(atts))
	for i, a := range atts {
		updated[i] = a

		payloadID, ok := payloadMap[a.ID()]
		if !ok {
			s.log.WithField("attachment_id", a.ID()).Warn("session: anexo sem payload_id ao finalizar")
			continue
		}
		p, err := s.connManager.GetIncomingPayload(payloadID)
		if err != nil || p == nil {
			s.log.WithField("payload_id", payloadID).Warn("session: payload indisponível ao finalizar")
			continue
		}

		switch v := a.(type) {
		case attachment.FileAttachment:
			if p.FilePath == "" {
				s.log.WithField("payload_id", payloadID).Warn("session: arquivo recebido sem caminho local")
				continue
			}
			v.LocalPath = p.FilePath
			v.HasLocalPath = true
			updated[i] = v

		case attachment.TextAttachment:
			data, err := io.ReadAll(p.Content)
			if err != nil || len(data) == 0 {
				s.log.WithField("payload_id", payloadID).Warn("session: texto recebido vazio")
				continue
			}
			v.Body = string(s.decompressIfCompressed(data))
			updated[i] = v

		case attachment.WifiCredentialsAttachment:
			data, err := io.ReadAll(p.Content)
			if err != nil || len(data) == 0 {
				s.log.WithField("payload_id", payloadID).Warn("session: credenciais Wi-Fi recebidas vazias")
				continue
			}
			creds, err := sharepb.DecodeWifiCredentialsPayload(s.decompressIfCompressed(data))
			if err != nil {
				s.log.WithField("payload_id", payloadID).Warn("session: credenciais Wi-Fi malformadas")
				continue
			}
			v.Password = creds.Password
			v.IsHidden = creds.Hidden
			updated[i] = v
		}
	}

	s.mu.Lock()
	s.target.Attachments = updated
	s.mu.Unlock()
}

// SendIntroduction implementa o caminho do remetente: monta o quadro
// INTRODUCTION com a metadata de todo anexo que já tenha payload_id
// atribuído (via AssignPayloadID) e o envia.
func (s *Session) SendIntroduction(startTransfer bool) error {
	s.mu.Lock()
	atts := s.target.Attachments
	payloadMap := make(map[int64]int64, len(s.attachmentPayloadMap))
	for k, v := range s.attachmentPayloadMap {
		payloadMap[k] = v
	}
	s.mu.Unlock()

	metas := make([]sharepb.AttachmentMetadata, 0, len(atts))
	for _, a := range atts {
		payloadID, ok := payloadMap[a.ID()]
		if !ok {
			continue
		}
		metas = append(metas, attachmentToMetadata(a, payloadID))
	}
	if len(metas) == 0 {
		return ErrMissingPayloads
	}

	frame := &sharepb.Frame{
		Version: sharepb.FrameVersion,
		Type:    sharepb.V1FrameIntroduction,
		Introduction: &sharepb.IntroductionFrame{
			Attachments:   metas,
			StartTransfer: startTransfer,
		},
	}
	data, err := frame.Encode()
	if err != nil {
		return err
	}
	if err := s.channel.Write(data); err != nil {
		return err
	}

	s.setState(StateAwaitingRemoteAcceptance)
	return nil
}

// AssignPayloadID associa o attachment local a um payload_id obtido do
// gerenciador de conexão, povoando attachment_payload_map.
func (s *Session) AssignPayloadID(attachmentID, payloadID int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.attachmentPayloadMap[attachmentID] = payloadID
}

// AwaitConnectionResponse bloqueia até que o CONNECTION_RESPONSE do
// receptor chegue (ou expire), e reage conforme spec.md §4.H.
func (s *Session) AwaitConnectionResponse() error {
	frame, err := s.frameReader.ReadFrameOfType(sharepb.V1FrameResponse, s.cfg.Timeouts.ReadResponseFrame)
	if err != nil || frame.ConnectionResponse == nil {
		s.finalize(transfer.StatusTimedOut)
		return ErrResponseTimedOut
	}

	switch frame.ConnectionResponse.Status {
	case sharepb.ResponseAccept:
		s.setState(StateInProgress)
		s.sendPayloads()
		return nil
	case sharepb.ResponseReject:
		s.finalize(transfer.StatusRejected)
		return ErrRejected
	case sharepb.ResponseNotEnoughSpace:
		s.finalize(transfer.StatusNotEnoughSpace)
		return ErrNotEnoughSpace
	case sharepb.ResponseUnsupportedAttachmentType:
		s.finalize(transfer.StatusUnsupportedAttachmentType)
		return ErrUnsupportedAttachment
	case sharepb.ResponseTimedOut:
		s.finalize(transfer.StatusTimedOut)
		return ErrResponseTimedOut
	default:
		s.finalize(transfer.StatusFailed)
		return ErrUnknownResponse
	}
}

// sendPayloads registra o rastreador como ouvinte de cada payload e, se
// o volume total ultrapassa o limiar, sinaliza início de transferência
// ao peer via ProgressUpdateFrame (pedido de upgrade de banda).
func (s *Session) sendPayloads() {
	s.mu.Lock()
	atts := s.target.Attachments
	payloadMap := make(map[int64]int64, len(s.attachmentPayloadMap))
	for k, v := range s.attachmentPayloadMap {
		payloadMap[k] = v
	}
	size := s.fileSizeSum
	s.mu.Unlock()

	for _, a := range atts {
		payloadID, ok := payloadMap[a.ID()]
		if !ok {
			continue
		}
		s.tracker.Register(payloadID, a.ID(), attachmentSize(a))
		s.connManager.RegisterPayloadStatusListener(payloadID, func(u payload.Update) { s.tracker.OnUpdate(u) })
	}

	if size >= s.cfg.Thresholds.AttachmentsSizeOverHighQualityMedium {
		s.sendProgressUpdate(true)
	}
}

func (s *Session) sendProgressUpdate(startTransfer bool) {
	frame := &sharepb.Frame{
		Version: sharepb.FrameVersion,
		Type:    sharepb.V1FrameProgressUpdate,
		ProgressUpdate: &sharepb.ProgressUpdateFrame{
			StartTransfer: startTransfer,
			Progress:      s.tracker.Progress(),
		},
	}
	data, err := frame.Encode()
	if err != nil {
		return
	}
	if err := s.channel.Write(data); err != nil {
		s.log.WithError(err).Warn("session: falha ao enviar progress update")
	}
}

// Cancel é o cancelamento iniciado pelo usuário local: spec.md §4.H.
func (s *Session) Cancel() { s.cancel(true) }

// HandleRemoteCancel reage a um quadro CANCEL recebido do peer.
func (s *Session) HandleRemoteCancel() { s.cancel(false) }

func (s *Session) cancel(isInitiator bool) {
	s.mu.Lock()
	if s.cancelled {
		s.mu.Unlock()
		return
	}
	s.cancelled = true
	payloadIDs := make([]int64, 0, len(s.attachmentPayloadMap))
	for _, pid := range s.attachmentPayloadMap {
		payloadIDs = append(payloadIDs, pid)
	}
	s.mu.Unlock()

	for _, pid := range payloadIDs {
		_ = s.connManager.Cancel(pid)
	}

	s.finalize(transfer.StatusCancelled)

	if !isInitiator {
		_ = s.connManager.Disconnect(s.endpointID)
		return
	}

	cancelFrame := &sharepb.Frame{Version: sharepb.FrameVersion, Type: sharepb.V1FrameCancel}
	if data, err := cancelFrame.Encode(); err == nil {
		_ = s.channel.Write(data)
	}
	time.AfterFunc(s.cfg.Timeouts.InitiatorCancelDelay, func() {
		_ = s.connManager.Disconnect(s.endpointID)
	})
}

// Disconnect libera a conexão da sessão. Se nenhum status final já foi
// emitido e disconnect_status ainda indica um, ele é emitido agora. Um
// remetente que concluiu com sucesso atrasa a desconexão física por
// kOutgoingDisconnectionDelay para garantir que os últimos bytes cheguem.
func (s *Session) Disconnect() {
	s.mu.Lock()
	pending := s.disconnectStatus
	alreadyFinal := s.hasFinalStatus
	finalStatus := s.finalStatus
	wasSender := !s.isIncoming
	s.mu.Unlock()

	if !alreadyFinal && pending != transfer.StatusUnknown {
		s.finalize(pending)
		finalStatus = pending
		alreadyFinal = true
	}

	disconnectNow := func() { _ = s.connManager.Disconnect(s.endpointID) }

	if wasSender && alreadyFinal && finalStatus == transfer.StatusComplete {
		time.AfterFunc(s.cfg.Timeouts.OutgoingDisconnectionDelay, disconnectNow)
		return
	}
	disconnectNow()
}

// RunIncoming conduz o ciclo completo do lado receptor: conecta,
// handshake, verificação, e então aguarda/decide a introdução.
func (s *Session) RunIncoming(rawAuthToken []byte) error {
	s.Connect(rawAuthToken)
	if err := s.runKeyExchange(); err != nil {
		s.finalize(transfer.StatusFailed)
		return err
	}
	if err := s.establishTrust(); err != nil {
		return err
	}
	return s.ReceiveIntroduction()
}

// RunOutgoing conduz o ciclo completo do lado remetente: conecta,
// handshake, verificação, envia a introdução e aguarda a resposta.
func (s *Session) RunOutgoing(rawAuthToken []byte, startTransfer bool) error {
	s.Connect(rawAuthToken)
	if err := s.runKeyExchange(); err != nil {
		s.finalize(transfer.StatusFailed)
		return err
	}
	if err := s.establishTrust(); err != nil {
		return err
	}
	if err := s.SendIntroduction(startTransfer); err != nil {
		s.finalize(transfer.StatusFailed)
		return err
	}
	return s.AwaitConnectionResponse()
}

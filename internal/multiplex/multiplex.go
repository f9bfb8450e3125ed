// Package multiplex implementa a camada de multiplexação: N streams
// lógicos (sockets virtuais) sobre uma única conexão física, com frames de
// controle para abrir/fechar e frames de dados para o payload em si. A
// forma geral — uma goroutine leitora dona exclusiva do socket físico, uma
// goroutine escritora dona da fila de escrita, e um canal de offload para
// processar frames de controle sem bloquear a leitora — segue o mesmo
// desenho de internal/service/retry.go: goroutine de longa duração +
// stopChan + WaitGroup, mutex só para o mapa compartilhado.
package multiplex

import (
	"crypto/rand"
	"encoding/base64"
	"errors"
	"io"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/nearbyshare/sharecore/internal/sharepb"
	"github.com/nearbyshare/sharecore/internal/wire"
)

// ReceiverCondimentSalt é o salt sentinela usado pelo socket virtual
// "first" até que o salt real tenha sido observado do peer.
const ReceiverCondimentSalt = "RECEIVER_CONDIMENT"

const (
	// DefaultMaxFrameLength limita o tamanho de um frame multiplex recebido;
	// acima disso o frame é descartado sem derrubar a conexão.
	DefaultMaxFrameLength = 1 << 20

	// DefaultWriteTimeout é mediums_frame_write_timeout_millis.
	DefaultWriteTimeout = 5 * time.Second

	// DefaultConnectionResponseTimeout é
	// multiplex_socket_connection_response_timeout_millis.
	DefaultConnectionResponseTimeout = 10 * time.Second

	pendingWriteQueueSize = 64
	controlQueueSize      = 32
	virtualSocketInbox    = 32
)

var (
	ErrSocketClosed        = errors.New("multiplex: socket encerrado")
	ErrWriteTimeout        = errors.New("multiplex: timeout de escrita")
	ErrConnectionRejected  = errors.New("multiplex: not_listening")
	ErrEstablishTimeout    = errors.New("multiplex: timeout ao estabelecer socket virtual")
	ErrVirtualSocketClosed = errors.New("multiplex: socket virtual encerrado")
)

// PhysicalConn é o requisito mínimo sobre a conexão física: leitura,
// escrita e fechamento. net.Conn satisfaz essa interface.
type PhysicalConn interface {
	io.Reader
	io.Writer
	Close() error
}

// IncomingConnectionCallback é invocado quando um peer abre um socket
// virtual para um service_id registrado localmente.
type IncomingConnectionCallback func(vs *VirtualSocket)

type writeRequest struct {
	data   []byte
	result chan error
}

// VirtualSocket é um stream lógico independente multiplexado sobre uma
// MultiplexSocket. É identificado, no mapa do dono, pelo Base64 do hash
// salgado de service-id — exceto o socket "first", que usa o salt
// sentinela até que o salt real seja observado.
type VirtualSocket struct {
	owner     *MultiplexSocket
	serviceID string

	mu      sync.Mutex
	key     string
	salt    string
	isFirst bool
	closed  bool

	inbox chan []byte
}

// Read bloqueia até que bytes de dados estejam disponíveis ou o socket
// seja fechado.
func (v *VirtualSocket) Read() ([]byte, error) {
	data, ok := <-v.inbox
	if !ok {
		return nil, ErrVirtualSocketClosed
	}
	return data, nil
}

// Write envelopa data em um frame DATA e o entrega ao escritor físico do
// dono, aguardando confirmação de escrita.
func (v *VirtualSocket) Write(data []byte) error {
	v.mu.Lock()
	if v.closed {
		v.mu.Unlock()
		return ErrVirtualSocketClosed
	}
	salt := v.salt
	key := v.key
	v.mu.Unlock()

	saltedHash, err := wire.DecodeBase64(key)
	if err != nil {
		return ErrVirtualSocketClosed
	}
	frame := sharepb.ForData(saltedHash, salt, true, data)
	return v.owner.sendFrame(frame, true)
}

// Close remove o socket virtual do mapa do dono e, se ainda habilitado,
// emite um frame DISCONNECTION.
func (v *VirtualSocket) Close() error {
	v.mu.Lock()
	if v.closed {
		v.mu.Unlock()
		return nil
	}
	v.closed = true
	key := v.key
	salt := v.salt
	v.mu.Unlock()

	close(v.inbox)
	v.owner.removeVirtualSocket(key)

	if v.owner.isEnabled() {
		saltedHash, err := wire.DecodeBase64(key)
		if err == nil {
			_ = v.owner.sendFrame(sharepb.ForDisconnection(saltedHash, salt), false)
		}
	}
	return nil
}

func (v *VirtualSocket) deliver(data []byte) {
	select {
	case v.inbox <- data:
	default:
		// consumidor lento: descarta silenciosamente em vez de bloquear o
		// leitor físico compartilhado.
	}
}

func (v *VirtualSocket) rekey(newKey string) {
	v.mu.Lock()
	v.key = newKey
	v.mu.Unlock()
}

// MultiplexSocket multiplexa sockets virtuais sobre uma única PhysicalConn.
type MultiplexSocket struct {
	log  *logrus.Entry
	conn PhysicalConn

	maxFrameLength      int32
	writeTimeout        time.Duration
	connResponseTimeout time.Duration

	writeCh   chan writeRequest
	controlCh chan *sharepb.MultiplexFrame

	mu                sync.Mutex
	virtualSockets    map[string]*VirtualSocket
	firstSocket       *VirtualSocket
	pendingEstablish  map[string]chan *sharepb.MultiplexFrame
	incomingCallbacks map[string]IncomingConnectionCallback

	enabledMu sync.RWMutex
	enabled   bool

	closeOnce sync.Once
	stopChan  chan struct{}
	wg        sync.WaitGroup
}

// New cria uma MultiplexSocket inabilitada sobre conn. Chame Start para
// iniciar as goroutinas leitora, escritora e de offload.
func New(conn PhysicalConn, log *logrus.Entry) *MultiplexSocket {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &MultiplexSocket{
		log:                 log,
		conn:                conn,
		maxFrameLength:      DefaultMaxFrameLength,
		writeTimeout:        DefaultWriteTimeout,
		connResponseTimeout: DefaultConnectionResponseTimeout,
		writeCh:             make(chan writeRequest, pendingWriteQueueSize),
		controlCh:           make(chan *sharepb.MultiplexFrame, controlQueueSize),
		virtualSockets:      make(map[string]*VirtualSocket),
		pendingEstablish:    make(map[string]chan *sharepb.MultiplexFrame),
		incomingCallbacks:   make(map[string]IncomingConnectionCallback),
		stopChan:            make(chan struct{}),
	}
}

// Start lança as três goroutinas de longa duração descritas em spec.md
// §5: leitor físico, escritor físico, e offload de frames de controle.
func (m *MultiplexSocket) Start() {
	m.wg.Add(3)
	go m.physicalWriterLoop()
	go m.physicalReaderLoop()
	go m.offloadLoop()
}

func (m *MultiplexSocket) isEnabled() bool {
	m.enabledMu.RLock()
	defer m.enabledMu.RUnlock()
	return m.enabled
}

func (m *MultiplexSocket) enable() {
	m.enabledMu.Lock()
	m.enabled = true
	m.enabledMu.Unlock()
}

// RegisterIncomingConnectionCallback registra um callback invocado quando
// o peer abre um socket virtual para serviceID.
func (m *MultiplexSocket) RegisterIncomingConnectionCallback(serviceID string, cb IncomingConnectionCallback) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.incomingCallbacks[serviceID] = cb
}

// VirtualSocketCount retorna o número de sockets virtuais vivos — usado
// pelos testes de cenário de aceitação de conexão.
func (m *MultiplexSocket) VirtualSocketCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.virtualSockets)
}

func randomSalt() string {
	buf := make([]byte, 16)
	_, _ = rand.Read(buf)
	return base64.RawURLEncoding.EncodeToString(buf)
}

// EstablishVirtualSocket implementa 4.C.3 "Outgoing establishment": gera
// um salt novo, envia CONNECTION_REQUEST e aguarda CONNECTION_RESPONSE até
// connResponseTimeout.
func (m *MultiplexSocket) EstablishVirtualSocket(serviceID string) (*VirtualSocket, error) {
	salt := randomSalt()
	saltedHash := sharepb.GenerateServiceIDHashWithSalt(serviceID, salt)
	key := sharepb.HashKey(saltedHash)

	respCh := make(chan *sharepb.MultiplexFrame, 1)
	m.mu.Lock()
	m.pendingEstablish[key] = respCh
	m.mu.Unlock()

	defer func() {
		m.mu.Lock()
		delete(m.pendingEstablish, key)
		m.mu.Unlock()
	}()

	req := sharepb.ForConnectionRequest(serviceID, salt)
	if err := m.sendFrame(req, true); err != nil {
		return nil, err
	}

	select {
	case resp, ok := <-respCh:
		if !ok {
			return nil, ErrSocketClosed
		}
		if resp.ResponseCode != sharepb.ConnectionResponseAccepted {
			return nil, ErrConnectionRejected
		}
		return m.createVirtualSocket(serviceID, salt, key), nil
	case <-time.After(m.connResponseTimeout):
		return nil, ErrEstablishTimeout
	case <-m.stopChan:
		return nil, ErrSocketClosed
	}
}

func (m *MultiplexSocket) createVirtualSocket(serviceID, salt, key string) *VirtualSocket {
	vs := &VirtualSocket{
		owner:     m,
		serviceID: serviceID,
		key:       key,
		salt:      salt,
		inbox:     make(chan []byte, virtualSocketInbox),
	}

	m.mu.Lock()
	if m.firstSocket == nil {
		vs.isFirst = true
		m.firstSocket = vs
	}
	m.virtualSockets[key] = vs
	m.mu.Unlock()
	return vs
}

// PromoteLegacySocket registra o stream pré-existente de uma conexão que
// ainda não multiplexava como o socket virtual "first", usando o salt
// sentinela até que um frame DATA real seja observado para ele.
func (m *MultiplexSocket) PromoteLegacySocket(serviceID string) *VirtualSocket {
	return m.createVirtualSocket(serviceID, ReceiverCondimentSalt, ReceiverCondimentSalt)
}

func (m *MultiplexSocket) removeVirtualSocket(key string) {
	m.mu.Lock()
	vs, ok := m.virtualSockets[key]
	delete(m.virtualSockets, key)
	if ok && m.firstSocket == vs {
		m.firstSocket = nil
	}
	remaining := len(m.virtualSockets)
	m.mu.Unlock()

	if remaining == 0 {
		m.shutdown()
	}
}

// sendFrame serializa f e o envia pelo escritor físico. synchronous==true
// faz a chamada bloquear até a confirmação de escrita (CONNECTION_REQUEST
// e CONNECTION_RESPONSE, por spec.md §4.C.2); caso contrário o envio é
// melhor-esforço.
func (m *MultiplexSocket) sendFrame(f *sharepb.MultiplexFrame, synchronous bool) error {
	payload, err := f.Encode()
	if err != nil {
		return err
	}
	return m.write(payload, synchronous)
}

func (m *MultiplexSocket) write(payload []byte, synchronous bool) error {
	resultCh := make(chan error, 1)
	req := writeRequest{data: payload, result: resultCh}

	select {
	case m.writeCh <- req:
	case <-m.stopChan:
		return ErrSocketClosed
	}

	if !synchronous {
		return nil
	}

	select {
	case err := <-resultCh:
		return err
	case <-time.After(m.writeTimeout):
		return ErrWriteTimeout
	case <-m.stopChan:
		return ErrSocketClosed
	}
}

func (m *MultiplexSocket) physicalWriterLoop() {
	defer m.wg.Done()
	for {
		select {
		case req := <-m.writeCh:
			err := wire.WriteFramed(m.conn, req.data)
			select {
			case req.result <- err:
			default:
			}
			if err != nil {
				m.shutdown()
				return
			}
		case <-m.stopChan:
			m.drainPendingWrites()
			return
		}
	}
}

func (m *MultiplexSocket) drainPendingWrites() {
	for {
		select {
		case req := <-m.writeCh:
			select {
			case req.result <- ErrSocketClosed:
			default:
			}
		default:
			return
		}
	}
}

func (m *MultiplexSocket) physicalReaderLoop() {
	defer m.wg.Done()
	for {
		length, err := wire.ReadInt32(m.conn)
		if err != nil {
			m.shutdown()
			return
		}
		if length <= 0 || length > m.maxFrameLength {
			m.log.WithField("length", length).Warn("multiplex: tamanho de frame fora do intervalo, ressincronizando")
			continue
		}

		data, err := wire.ReadExactly(m.conn, length)
		if err != nil {
			m.shutdown()
			return
		}

		frame, err := sharepb.DecodeMultiplexFrame(data)
		if err != nil {
			m.handleUnparsedFrame(length, data)
			continue
		}

		m.enable()

		if frame.IsControlFrame() {
			select {
			case m.controlCh <- frame:
			case <-m.stopChan:
				return
			}
			continue
		}

		m.handleDataFrame(frame)
	}
}

// handleUnparsedFrame implementa o caminho legado de spec.md §4.C.1 e
// §7: quando exatamente um socket virtual existe, os bytes prefixados por
// tamanho (reconstruídos) são encaminhados para o stream de entrada
// daquele socket em vez de serem tratados como um erro de parse.
func (m *MultiplexSocket) handleUnparsedFrame(length int32, data []byte) {
	m.mu.Lock()
	var only *VirtualSocket
	if len(m.virtualSockets) == 1 {
		for _, vs := range m.virtualSockets {
			only = vs
		}
	}
	m.mu.Unlock()

	if only == nil {
		m.log.Warn("multiplex: frame malformado descartado")
		return
	}
	only.deliver(data)
}

func (m *MultiplexSocket) handleDataFrame(frame *sharepb.MultiplexFrame) {
	candidateKey := sharepb.HashKey(frame.SaltedServiceIDHash)

	m.mu.Lock()
	vs, ok := m.virtualSockets[candidateKey]
	if !ok && frame.ServiceIDHashSalt != "" && m.firstSocket != nil {
		first := m.firstSocket
		first.mu.Lock()
		stillSentinel := first.key == ReceiverCondimentSalt
		first.mu.Unlock()
		if stillSentinel {
			delete(m.virtualSockets, ReceiverCondimentSalt)
			first.rekey(candidateKey)
			first.mu.Lock()
			first.salt = frame.ServiceIDHashSalt
			first.mu.Unlock()
			m.virtualSockets[candidateKey] = first
			vs = first
			ok = true
		}
	}
	m.mu.Unlock()

	if !ok {
		m.log.WithField("key", candidateKey).Debug("multiplex: frame de dados sem socket virtual correspondente")
		return
	}
	vs.deliver(frame.Data)
}

func (m *MultiplexSocket) offloadLoop() {
	defer m.wg.Done()
	for {
		select {
		case frame, ok := <-m.controlCh:
			if !ok {
				return
			}
			m.handleControlFrame(frame)
		case <-m.stopChan:
			return
		}
	}
}

func (m *MultiplexSocket) handleControlFrame(frame *sharepb.MultiplexFrame) {
	switch frame.ControlFrameType {
	case sharepb.ControlFrameConnectionRequest:
		m.handleConnectionRequest(frame)
	case sharepb.ControlFrameConnectionResponse:
		m.handleConnectionResponse(frame)
	case sharepb.ControlFrameDisconnection:
		m.handleDisconnection(frame)
	}
}

func (m *MultiplexSocket) handleConnectionRequest(frame *sharepb.MultiplexFrame) {
	key := sharepb.HashKey(frame.SaltedServiceIDHash)

	m.mu.Lock()
	var matchedServiceID string
	var cb IncomingConnectionCallback
	for serviceID, callback := range m.incomingCallbacks {
		candidate := sharepb.GenerateServiceIDHashWithSalt(serviceID, frame.ServiceIDHashSalt)
		if sharepb.HashKey(candidate) == key {
			matchedServiceID = serviceID
			cb = callback
			break
		}
	}
	m.mu.Unlock()

	if cb == nil {
		_ = m.sendFrame(sharepb.ForConnectionResponse(frame.SaltedServiceIDHash, frame.ServiceIDHashSalt, sharepb.ConnectionResponseNotListening), true)
		return
	}

	if err := m.sendFrame(sharepb.ForConnectionResponse(frame.SaltedServiceIDHash, frame.ServiceIDHashSalt, sharepb.ConnectionResponseAccepted), true); err != nil {
		return
	}

	vs := m.createVirtualSocket(matchedServiceID, frame.ServiceIDHashSalt, key)
	cb(vs)
}

func (m *MultiplexSocket) handleConnectionResponse(frame *sharepb.MultiplexFrame) {
	key := sharepb.HashKey(frame.SaltedServiceIDHash)
	m.mu.Lock()
	ch, ok := m.pendingEstablish[key]
	m.mu.Unlock()
	if !ok {
		return
	}
	select {
	case ch <- frame:
	default:
	}
}

func (m *MultiplexSocket) handleDisconnection(frame *sharepb.MultiplexFrame) {
	key := sharepb.HashKey(frame.SaltedServiceIDHash)
	m.mu.Lock()
	vs, ok := m.virtualSockets[key]
	m.mu.Unlock()
	if !ok {
		return
	}
	vs.mu.Lock()
	vs.closed = true
	vs.mu.Unlock()
	close(vs.inbox)
	m.removeVirtualSocket(key)
}

// shutdown implementa a ordem de desligamento de spec.md §4.C.4.
func (m *MultiplexSocket) shutdown() {
	m.closeOnce.Do(func() {
		close(m.stopChan)

		m.mu.Lock()
		sockets := make([]*VirtualSocket, 0, len(m.virtualSockets))
		for _, vs := range m.virtualSockets {
			sockets = append(sockets, vs)
		}
		pending := m.pendingEstablish
		m.pendingEstablish = make(map[string]chan *sharepb.MultiplexFrame)
		m.incomingCallbacks = make(map[string]IncomingConnectionCallback)
		m.mu.Unlock()

		for _, ch := range pending {
			close(ch)
		}
		for _, vs := range sockets {
			vs.mu.Lock()
			alreadyClosed := vs.closed
			vs.closed = true
			vs.mu.Unlock()
			if !alreadyClosed {
				close(vs.inbox)
			}
		}

		_ = m.conn.Close()
	})
}

// Close inicia o desligamento ordenado do socket de multiplexação.
func (m *MultiplexSocket) Close() error {
	m.shutdown()
	m.wg.Wait()
	return nil
}

// Package collab declara as interfaces dos colaboradores externos que o
// núcleo de compartilhamento consome (gerência de conexão, certificados e
// o driver de handshake UKey2) e fornece implementações fictícias, em
// memória, usadas por testes e pela demo de linha de comando — no mesmo
// espírito do par interface/fake de internal/bluetooth/platform_provider.go.
package collab

import (
	"context"
	"crypto/ed25519"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"sync"

	"golang.org/x/crypto/curve25519"
	"golang.org/x/crypto/hkdf"

	"github.com/nearbyshare/sharecore/internal/payload"
)

// Payload é o conteúdo opaco de um payload recebido, entregue pelo
// ConnectionManager sob demanda. FilePath é preenchido quando o
// ConnectionManager já persistiu o payload em um arquivo local (o caso
// comum para anexos de arquivo); Content carrega os bytes diretamente
// para os payloads pequenos e efêmeros (texto, credenciais Wi-Fi).
type Payload struct {
	ID       int64
	Content  io.Reader
	Size     int64
	FilePath string
}

// PayloadStatusListener recebe atualizações de progresso de um payload em
// trânsito, repassadas ao internal/payload.Tracker da sessão dona.
type PayloadStatusListener func(payload.Update)

// ConnectionManager é a interface de spec.md §6 para o subsistema de
// transporte físico (descoberta, anúncio, conexões ponto a ponto).
type ConnectionManager interface {
	Connect(ctx context.Context, endpointID string) error
	Disconnect(endpointID string) error
	StartAdvertising(ctx context.Context, advertisement []byte) error
	StartDiscovery(ctx context.Context) error
	UpgradeBandwidth(endpointID string) error
	RegisterPayloadStatusListener(payloadID int64, listener PayloadStatusListener)
	Cancel(payloadID int64) error
	GetIncomingPayload(payloadID int64) (*Payload, error)
	GetRawAuthenticationToken(endpointID string) ([]byte, error)
}

// DecryptedPublicCertificate é o resultado de uma decodificação de
// certificado bem-sucedida, usado pela verificação de chave pareada.
type DecryptedPublicCertificate struct {
	AuthenticityKey []byte
	SecretID        []byte
	PublicKey       []byte
}

// CertificateManager é a interface de spec.md §6 para o subsistema de
// certificados de visibilidade e assinatura.
type CertificateManager interface {
	GetDecryptedPublicCertificate(encryptedMetadataKey []byte) (*DecryptedPublicCertificate, error)
	SignWithPrivateKey(visibility int, data []byte) ([]byte, error)
	HashAuthTokenWithPrivateKey(visibility int, authToken []byte) ([]byte, error)
	DownloadPublicCertificates(ctx context.Context) error
}

// HandshakeParseResult é o retorno de ParseHandshakeMessage.
type HandshakeParseResult struct {
	OK           bool
	AlertToSend  []byte
	HasAlert     bool
}

// UKey2Handshake é o driver opaco de handshake UKEY2 consumido pelo
// componente de handshake — spec.md §6 trata esta interface como uma
// caixa preta: o núcleo nunca inspeciona o estado interno do handle.
type UKey2Handshake interface {
	ForInitiator(cipher string) (handle string, ok bool)
	ForResponder(cipher string) (handle string, ok bool)
	GetNextHandshakeMessage(handle string) ([]byte, bool)
	ParseHandshakeMessage(handle string, message []byte) HandshakeParseResult
	GetVerificationString(handle string, length int) ([]byte, error)
}

// FakeConnectionManager é um ConnectionManager em memória para testes e
// para a demo de linha de comando: não faz nenhuma E/S real.
type FakeConnectionManager struct {
	mu        sync.Mutex
	listeners map[int64]PayloadStatusListener
	payloads  map[int64]*Payload
	tokens    map[string][]byte
}

func NewFakeConnectionManager() *FakeConnectionManager {
	return &FakeConnectionManager{
		listeners: make(map[int64]PayloadStatusListener),
		payloads:  make(map[int64]*Payload),
		tokens:    make(map[string][]byte),
	}
}

func (f *FakeConnectionManager) Connect(ctx context.Context, endpointID string) error { return nil }
func (f *FakeConnectionManager) Disconnect(endpointID string) error                   { return nil }
func (f *FakeConnectionManager) StartAdvertising(ctx context.Context, advertisement []byte) error {
	return nil
}
func (f *FakeConnectionManager) StartDiscovery(ctx context.Context) error { return nil }
func (f *FakeConnectionManager) UpgradeBandwidth(endpointID string) error { return nil }

func (f *FakeConnectionManager) RegisterPayloadStatusListener(payloadID int64, listener PayloadStatusListener) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.listeners[payloadID] = listener
}

func (f *FakeConnectionManager) Cancel(payloadID int64) error {
	f.mu.Lock()
	listener, ok := f.listeners[payloadID]
	f.mu.Unlock()
	if ok {
		listener(payload.Update{PayloadID: payloadID, Status: payload.StatusCancelled})
	}
	return nil
}

func (f *FakeConnectionManager) GetIncomingPayload(payloadID int64) (*Payload, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.payloads[payloadID]
	if !ok {
		return nil, fmt.Errorf("collab: payload %d desconhecido", payloadID)
	}
	return p, nil
}

// SeedPayload registra um payload fictício, para uso em testes e demo.
func (f *FakeConnectionManager) SeedPayload(p *Payload) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.payloads[p.ID] = p
}

// Emit entrega u ao listener registrado para u.PayloadID, se houver.
func (f *FakeConnectionManager) Emit(u payload.Update) {
	f.mu.Lock()
	listener, ok := f.listeners[u.PayloadID]
	f.mu.Unlock()
	if ok {
		listener(u)
	}
}

func (f *FakeConnectionManager) GetRawAuthenticationToken(endpointID string) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if token, ok := f.tokens[endpointID]; ok {
		return token, nil
	}
	token := make([]byte, 32)
	if _, err := rand.Read(token); err != nil {
		return nil, err
	}
	f.tokens[endpointID] = token
	return token, nil
}

// FakeCertificateManager é um CertificateManager em memória: certificados
// são resolvidos a partir de um mapa pré-semeado por SeedCertificate.
type FakeCertificateManager struct {
	mu            sync.Mutex
	certificates  map[string]*DecryptedPublicCertificate
	signingPublic ed25519.PublicKey
	signingPrivate ed25519.PrivateKey
}

// NewFakeCertificateManager gera um par de chaves Ed25519 real para
// assinar tokens locais — o mesmo par curva/algoritmo que
// internal/crypto/encryption.go usa para assinatura (Sign/Verify).
func NewFakeCertificateManager() *FakeCertificateManager {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		panic(err)
	}
	return &FakeCertificateManager{
		certificates:   make(map[string]*DecryptedPublicCertificate),
		signingPublic:  pub,
		signingPrivate: priv,
	}
}

// PublicKey retorna a chave pública que verifica as assinaturas deste
// gerenciador — usada para semear o DecryptedPublicCertificate do outro lado.
func (f *FakeCertificateManager) PublicKey() ed25519.PublicKey { return f.signingPublic }

// SeedCertificate associa encryptedMetadataKey (convertido em string como
// chave de mapa) a cert.
func (f *FakeCertificateManager) SeedCertificate(encryptedMetadataKey []byte, cert *DecryptedPublicCertificate) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.certificates[string(encryptedMetadataKey)] = cert
}

func (f *FakeCertificateManager) GetDecryptedPublicCertificate(encryptedMetadataKey []byte) (*DecryptedPublicCertificate, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	cert, ok := f.certificates[string(encryptedMetadataKey)]
	if !ok {
		return nil, nil
	}
	return cert, nil
}

func (f *FakeCertificateManager) SignWithPrivateKey(visibility int, data []byte) ([]byte, error) {
	return ed25519.Sign(f.signingPrivate, data), nil
}

func (f *FakeCertificateManager) HashAuthTokenWithPrivateKey(visibility int, authToken []byte) ([]byte, error) {
	return ed25519.Sign(f.signingPrivate, authToken), nil
}

func (f *FakeCertificateManager) DownloadPublicCertificates(ctx context.Context) error { return nil }

const ukey2FinishLabel = "ukey2-finish"

type ukey2Role int

const (
	ukey2Initiator ukey2Role = iota
	ukey2Responder
)

type ukey2HandleState struct {
	role          ukey2Role
	step          int
	privateKey    [32]byte
	publicKey     [32]byte
	sharedSecret  []byte
}

// FakeUKey2Handshake é um UKey2Handshake real (curve25519 + HKDF), porém
// sem a negociação completa de suíte e sem os metadados de protocolo do
// UKEY2 verdadeiro — suficiente para exercitar o driver de handshake em
// testes e na demo, grounded em internal/crypto/encryption.go, que já usa
// exatamente este par curve25519/hkdf para acordo de chaves efêmero.
type FakeUKey2Handshake struct {
	mu      sync.Mutex
	handles map[string]*ukey2HandleState
}

func NewFakeUKey2Handshake() *FakeUKey2Handshake {
	return &FakeUKey2Handshake{handles: make(map[string]*ukey2HandleState)}
}

func newHandleID() string {
	raw := make([]byte, 16)
	rand.Read(raw)
	return hex.EncodeToString(raw)
}

func (f *FakeUKey2Handshake) newHandle(role ukey2Role) (string, bool) {
	var priv [32]byte
	if _, err := io.ReadFull(rand.Reader, priv[:]); err != nil {
		return "", false
	}
	var pub [32]byte
	curve25519.ScalarBaseMult(&pub, &priv)

	handle := newHandleID()
	f.mu.Lock()
	f.handles[handle] = &ukey2HandleState{role: role, privateKey: priv, publicKey: pub}
	f.mu.Unlock()
	return handle, true
}

func (f *FakeUKey2Handshake) ForInitiator(cipher string) (string, bool) {
	return f.newHandle(ukey2Initiator)
}

func (f *FakeUKey2Handshake) ForResponder(cipher string) (string, bool) {
	return f.newHandle(ukey2Responder)
}

func (f *FakeUKey2Handshake) derive(st *ukey2HandleState, label string, length int) ([]byte, error) {
	kdf := hkdf.New(sha256.New, st.sharedSecret, nil, []byte(label))
	out := make([]byte, length)
	if _, err := io.ReadFull(kdf, out); err != nil {
		return nil, err
	}
	return out, nil
}

func (f *FakeUKey2Handshake) GetNextHandshakeMessage(handle string) ([]byte, bool) {
	f.mu.Lock()
	st, ok := f.handles[handle]
	f.mu.Unlock()
	if !ok {
		return nil, false
	}

	switch {
	case st.role == ukey2Initiator && st.step == 0:
		st.step = 1
		return append([]byte(nil), st.publicKey[:]...), true
	case st.role == ukey2Responder && st.step == 1:
		st.step = 2
		return append([]byte(nil), st.publicKey[:]...), true
	case st.role == ukey2Initiator && st.step == 2:
		tag, err := f.derive(st, ukey2FinishLabel, 32)
		if err != nil {
			return nil, false
		}
		st.step = 3
		return tag, true
	default:
		return nil, false
	}
}

func (f *FakeUKey2Handshake) ParseHandshakeMessage(handle string, message []byte) HandshakeParseResult {
	f.mu.Lock()
	st, ok := f.handles[handle]
	f.mu.Unlock()
	if !ok {
		return HandshakeParseResult{OK: false}
	}

	switch {
	case st.role == ukey2Responder && st.step == 0:
		if len(message) != 32 {
			return HandshakeParseResult{OK: false, HasAlert: true, AlertToSend: []byte("bad-message-1")}
		}
		var peer [32]byte
		copy(peer[:], message)
		var shared [32]byte
		curve25519.ScalarMult(&shared, &st.privateKey, &peer)
		st.sharedSecret = shared[:]
		st.step = 1
		return HandshakeParseResult{OK: true}

	case st.role == ukey2Initiator && st.step == 1:
		if len(message) != 32 {
			return HandshakeParseResult{OK: false, HasAlert: true, AlertToSend: []byte("bad-message-2")}
		}
		var peer [32]byte
		copy(peer[:], message)
		var shared [32]byte
		curve25519.ScalarMult(&shared, &st.privateKey, &peer)
		st.sharedSecret = shared[:]
		st.step = 2
		return HandshakeParseResult{OK: true}

	case st.role == ukey2Responder && st.step == 2:
		expected, err := f.derive(st, ukey2FinishLabel, 32)
		if err != nil || !hmac.Equal(expected, message) {
			return HandshakeParseResult{OK: false, HasAlert: true, AlertToSend: []byte("bad-message-3")}
		}
		st.step = 3
		return HandshakeParseResult{OK: true}

	default:
		return HandshakeParseResult{OK: false}
	}
}

func (f *FakeUKey2Handshake) GetVerificationString(handle string, length int) ([]byte, error) {
	f.mu.Lock()
	st, ok := f.handles[handle]
	f.mu.Unlock()
	if !ok || st.sharedSecret == nil {
		return nil, fmt.Errorf("collab: handle %q sem segredo compartilhado", handle)
	}
	return f.derive(st, "ukey2-verification", length)
}

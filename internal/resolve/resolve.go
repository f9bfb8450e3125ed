// Package resolve implementa a resolução de um anúncio recebido durante a
// descoberta em um ShareTarget: tentar decifrar a chave de metadados do
// anunciante contra os certificados públicos já em cache e, se nenhum
// corresponder ainda, reagendar a tentativa para depois dos próximos
// downloads de certificados — grounded em internal/service/retry.go, que
// usa o mesmo par mapa-protegido-por-mutex mais goroutine de repetição.
package resolve

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/nearbyshare/sharecore/internal/advertisement"
	"github.com/nearbyshare/sharecore/internal/collab"
	"github.com/nearbyshare/sharecore/internal/config"
)

// Result é o resultado de uma resolução bem-sucedida: o anúncio já
// decodificado mais o certificado cuja chave privada decifrou sua chave de
// metadados.
type Result struct {
	EndpointID  string
	Info        *advertisement.EndpointInfo
	Certificate *collab.DecryptedPublicCertificate
}

// Callback recebe cada resolução bem-sucedida, seja imediata ou após um
// replay de retry.
type Callback func(Result)

type pendingEntry struct {
	endpointID string
	rawInfo    []byte
	info       *advertisement.EndpointInfo
}

// Resolver decifra anúncios recebidos usando um CertificateManager e
// mantém o conjunto de "retry on next certificate download" descrito em
// spec.md §4.I.
type Resolver struct {
	certMgr collab.CertificateManager
	cfg     *config.Config
	log     *logrus.Entry
	onReady Callback

	mu          sync.Mutex
	pending     map[string]*pendingEntry
	downloads   int
	loopRunning bool
	stopChan    chan struct{}
	wg          sync.WaitGroup
}

// New cria um Resolver. onReady é invocado (em uma goroutine própria, fora
// de qualquer trava interna) sempre que um endpoint é resolvido, seja na
// chamada inicial de Resolve ou em um replay posterior.
func New(certMgr collab.CertificateManager, cfg *config.Config, onReady Callback, log *logrus.Entry) *Resolver {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Resolver{
		certMgr:  certMgr,
		cfg:      cfg,
		onReady:  onReady,
		pending:  make(map[string]*pendingEntry),
		log:      log.WithField("component", "resolve"),
		stopChan: make(chan struct{}),
	}
}

// Resolve decodifica o anúncio externo em rawEndpointInfo e tenta
// imediatamente decifrar sua chave de metadados contra os certificados já
// em cache. Se o anúncio for malformado, retorna (nil, false) sem jamais
// entrar no conjunto de retry. Se nenhum certificado corresponder ainda,
// o endpoint é adicionado ao conjunto de retry e (nil, false) é retornado;
// a resolução chegará mais tarde via o Callback passado a New.
func (r *Resolver) Resolve(endpointID string, rawEndpointInfo []byte) (*Result, bool) {
	info := advertisement.ParseEndpointInfo(rawEndpointInfo)
	if !info.IsValid() {
		r.log.WithField("endpoint_id", endpointID).Debug("anúncio de endpoint info malformado, descartado")
		return nil, false
	}

	if result, ok := r.attemptDecrypt(endpointID, info); ok {
		return result, true
	}

	r.scheduleRetry(endpointID, rawEndpointInfo, info)
	return nil, false
}

func (r *Resolver) attemptDecrypt(endpointID string, info *advertisement.EndpointInfo) (*Result, bool) {
	cert, err := r.certMgr.GetDecryptedPublicCertificate(info.EncryptedMetadataKey())
	if err != nil || cert == nil {
		return nil, false
	}
	return &Result{EndpointID: endpointID, Info: info, Certificate: cert}, true
}

func (r *Resolver) scheduleRetry(endpointID string, rawInfo []byte, info *advertisement.EndpointInfo) {
	r.mu.Lock()
	if _, already := r.pending[endpointID]; already {
		r.mu.Unlock()
		return
	}
	r.pending[endpointID] = &pendingEntry{endpointID: endpointID, rawInfo: rawInfo, info: info}
	needsLoop := !r.loopRunning && r.downloads < r.cfg.Thresholds.MaxCertificateDownloadsDuringDiscovery
	if needsLoop {
		r.loopRunning = true
	}
	r.mu.Unlock()

	if needsLoop {
		r.wg.Add(1)
		go r.retryLoop()
	}
}

// retryLoop baixa certificados novos até kMaxCertificateDownloadsDuringDiscovery
// vezes, espaçadas por kCertificateDownloadDuringDiscoveryPeriod, repetindo a
// decodificação de todo o conjunto pendente a cada download.
func (r *Resolver) retryLoop() {
	defer r.wg.Done()

	for {
		select {
		case <-time.After(r.cfg.Thresholds.CertificateDownloadDuringDiscoveryPeriod):
		case <-r.stopChan:
			r.mu.Lock()
			r.loopRunning = false
			r.mu.Unlock()
			return
		}

		r.mu.Lock()
		r.downloads++
		downloadsSoFar := r.downloads
		r.mu.Unlock()

		ctx, cancel := context.WithTimeout(context.Background(), r.cfg.Thresholds.CertificateDownloadDuringDiscoveryPeriod)
		err := r.certMgr.DownloadPublicCertificates(ctx)
		cancel()
		if err != nil {
			r.log.WithError(err).Warn("falha ao baixar certificados públicos durante descoberta")
		}

		resolved := r.replayPending()
		for _, result := range resolved {
			if r.onReady != nil {
				go r.onReady(result)
			}
		}

		r.mu.Lock()
		empty := len(r.pending) == 0
		exhausted := downloadsSoFar >= r.cfg.Thresholds.MaxCertificateDownloadsDuringDiscovery
		if empty || exhausted {
			r.loopRunning = false
			r.mu.Unlock()
			return
		}
		r.mu.Unlock()
	}
}

func (r *Resolver) replayPending() []Result {
	r.mu.Lock()
	entries := make([]*pendingEntry, 0, len(r.pending))
	for _, e := range r.pending {
		entries = append(entries, e)
	}
	r.mu.Unlock()

	var resolved []Result
	for _, e := range entries {
		if result, ok := r.attemptDecrypt(e.endpointID, e.info); ok {
			resolved = append(resolved, *result)
			r.mu.Lock()
			delete(r.pending, e.endpointID)
			r.mu.Unlock()
		}
	}
	return resolved
}

// PendingCount retorna quantos endpoints ainda aguardam resolução.
func (r *Resolver) PendingCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.pending)
}

// Close interrompe qualquer ciclo de retry em andamento e espera sua
// goroutine terminar.
func (r *Resolver) Close() {
	close(r.stopChan)
	r.wg.Wait()
}

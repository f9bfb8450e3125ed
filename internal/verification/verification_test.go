package verification

import (
	"sync"
	"testing"
	"time"

	"github.com/nearbyshare/sharecore/internal/collab"
	"github.com/nearbyshare/sharecore/internal/framesreader"
	"github.com/nearbyshare/sharecore/internal/sharepb"
)

// duplexPipe é um canal ponto a ponto em memória: cada mensagem escrita
// de um lado chega inteira (já delimitada) do outro, como uma
// VirtualSocket de internal/multiplex.
type duplexPipe struct {
	in      chan []byte
	out     chan []byte
	stopped chan struct{}
	once    sync.Once
}

func newDuplexPair() (*duplexPipe, *duplexPipe) {
	a := make(chan []byte, 8)
	b := make(chan []byte, 8)
	return &duplexPipe{in: a, out: b, stopped: make(chan struct{})},
		&duplexPipe{in: b, out: a, stopped: make(chan struct{})}
}

func (p *duplexPipe) Read() ([]byte, error) {
	select {
	case data := <-p.in:
		return data, nil
	case <-p.stopped:
		return nil, errStop
	}
}

func (p *duplexPipe) Write(data []byte) error {
	select {
	case p.out <- data:
		return nil
	case <-p.stopped:
		return errStop
	}
}

func (p *duplexPipe) Close() error {
	p.once.Do(func() { close(p.stopped) })
	return nil
}

type stopErr struct{}

func (stopErr) Error() string { return "pipe fechado" }

var errStop = stopErr{}

func runPair(t *testing.T, rA, rB *Runner) (Outcome, Outcome) {
	t.Helper()
	var wg sync.WaitGroup
	var outA, outB Outcome
	var errA, errB error
	wg.Add(2)
	go func() { defer wg.Done(); outA, errA = rA.Run() }()
	go func() { defer wg.Done(); outB, errB = rB.Run() }()

	done := make(chan struct{})
	go func() { wg.Wait(); close(done) }()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatalf("tempo esgotado esperando os dois lados concluírem")
	}
	if errA != nil {
		t.Fatalf("lado A falhou: %v", errA)
	}
	if errB != nil {
		t.Fatalf("lado B falhou: %v", errB)
	}
	return outA, outB
}

func newRunner(channel *duplexPipe, certManager collab.CertificateManager, cert *collab.DecryptedPublicCertificate, history History, token []byte, os sharepb.OSType) *Runner {
	reader := framesreader.NewReader(channel, nil)
	return NewRunner(channel, reader, certManager, cert, 0, history, token, os, time.Second, nil)
}

func TestBothSidesHaveCertificatesAndSucceed(t *testing.T) {
	chA, chB := newDuplexPair()
	certMgrA := collab.NewFakeCertificateManager()
	certMgrB := collab.NewFakeCertificateManager()

	token := []byte("shared-raw-token-bytes")
	certOfAFromBsView := &collab.DecryptedPublicCertificate{PublicKey: certMgrA.PublicKey()}
	certOfBFromAsView := &collab.DecryptedPublicCertificate{PublicKey: certMgrB.PublicKey()}

	notStranger := History{Current: VisibilityContacts, Last: VisibilityContacts}

	rA := newRunner(chA, certMgrA, certOfBFromAsView, notStranger, token, sharepb.OSTypeLinux)
	rB := newRunner(chB, certMgrB, certOfAFromBsView, notStranger, token, sharepb.OSTypeAndroid)

	outA, outB := runPair(t, rA, rB)

	if outA.Result != ResultSuccess {
		t.Errorf("lado A: esperado SUCCESS, obtido %v", outA.Result)
	}
	if outB.Result != ResultSuccess {
		t.Errorf("lado B: esperado SUCCESS, obtido %v", outB.Result)
	}
	if outA.RemoteOSType != sharepb.OSTypeAndroid {
		t.Errorf("lado A deveria reportar o OS remoto ANDROID, obtido %v", outA.RemoteOSType)
	}
	if outB.RemoteOSType != sharepb.OSTypeLinux {
		t.Errorf("lado B deveria reportar o OS remoto LINUX, obtido %v", outB.RemoteOSType)
	}
}

func TestMissingCertificateYieldsUnable(t *testing.T) {
	chA, chB := newDuplexPair()
	certMgrA := collab.NewFakeCertificateManager()
	certMgrB := collab.NewFakeCertificateManager()

	token := []byte("shared-raw-token-bytes")
	notStranger := History{Current: VisibilityContacts, Last: VisibilityContacts}

	// Nenhum dos lados tem o certificado decifrado do outro.
	rA := newRunner(chA, certMgrA, nil, notStranger, token, sharepb.OSTypeLinux)
	rB := newRunner(chB, certMgrB, nil, notStranger, token, sharepb.OSTypeAndroid)

	outA, outB := runPair(t, rA, rB)

	if outA.Result != ResultUnable || outB.Result != ResultUnable {
		t.Fatalf("ambos os lados deveriam ser UNABLE, obtido A=%v B=%v", outA.Result, outB.Result)
	}
}

func TestVisibilityGateDowngradesSuccessToUnable(t *testing.T) {
	chA, chB := newDuplexPair()
	certMgrA := collab.NewFakeCertificateManager()
	certMgrB := collab.NewFakeCertificateManager()

	token := []byte("shared-raw-token-bytes")
	certOfAFromBsView := &collab.DecryptedPublicCertificate{PublicKey: certMgrA.PublicKey()}
	certOfBFromAsView := &collab.DecryptedPublicCertificate{PublicKey: certMgrB.PublicKey()}

	strangerFacing := History{Current: VisibilityEveryone, Last: VisibilityHidden}

	rA := newRunner(chA, certMgrA, certOfBFromAsView, strangerFacing, token, sharepb.OSTypeLinux)
	rB := newRunner(chB, certMgrB, certOfAFromBsView, strangerFacing, token, sharepb.OSTypeAndroid)

	outA, outB := runPair(t, rA, rB)

	if outA.Result != ResultUnable {
		t.Errorf("lado A deveria ter sido rebaixado para UNABLE, obtido %v", outA.Result)
	}
	if outB.Result != ResultUnable {
		t.Errorf("lado B deveria ter sido rebaixado para UNABLE, obtido %v", outB.Result)
	}
}

func TestWrongCertificateYieldsFail(t *testing.T) {
	chA, chB := newDuplexPair()
	certMgrA := collab.NewFakeCertificateManager()
	certMgrB := collab.NewFakeCertificateManager()
	wrongMgr := collab.NewFakeCertificateManager()

	token := []byte("shared-raw-token-bytes")
	// A acha que tem o certificado de B, mas na verdade tem uma chave
	// de um terceiro gerenciador qualquer: a assinatura de B não bate.
	wrongCertForA := &collab.DecryptedPublicCertificate{PublicKey: wrongMgr.PublicKey()}
	certOfAFromBsView := &collab.DecryptedPublicCertificate{PublicKey: certMgrA.PublicKey()}

	notStranger := History{Current: VisibilityContacts, Last: VisibilityContacts}

	rA := newRunner(chA, certMgrA, wrongCertForA, notStranger, token, sharepb.OSTypeLinux)
	rB := newRunner(chB, certMgrB, certOfAFromBsView, notStranger, token, sharepb.OSTypeAndroid)

	outA, outB := runPair(t, rA, rB)

	if outA.Result != ResultFail {
		t.Errorf("lado A deveria ver FAIL (assinatura não bate com a chave errada), obtido %v", outA.Result)
	}
	if outB.Result != ResultFail {
		t.Errorf("lado B deveria herdar FAIL porque A reportou FAIL, obtido %v", outB.Result)
	}
}

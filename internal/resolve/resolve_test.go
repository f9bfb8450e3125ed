package resolve

import (
	"bytes"
	"testing"
	"time"

	"github.com/nearbyshare/sharecore/internal/advertisement"
	"github.com/nearbyshare/sharecore/internal/collab"
	"github.com/nearbyshare/sharecore/internal/config"
	"github.com/nearbyshare/sharecore/internal/verification"
)

func testEndpointInfo(t *testing.T, metadataKey []byte) []byte {
	t.Helper()
	info := advertisement.NewEndpointInfo(
		advertisement.VersionV1,
		verification.VisibilityEveryone,
		[]byte{0x01, 0x02},
		metadataKey,
		0,
		"Dispositivo de Teste",
		0,
		false,
	)
	if !info.IsValid() {
		t.Fatalf("anúncio de teste deveria ser válido")
	}
	return info.Encode()
}

func TestResolveImmediateMatch(t *testing.T) {
	certMgr := collab.NewFakeCertificateManager()
	metadataKey := bytes.Repeat([]byte{0x09}, 14)
	cert := &collab.DecryptedPublicCertificate{AuthenticityKey: []byte("auth"), SecretID: []byte("secret"), PublicKey: []byte("pub")}
	certMgr.SeedCertificate(metadataKey, cert)

	cfg := config.Default()
	r := New(certMgr, cfg, nil, nil)
	defer r.Close()

	result, ok := r.Resolve("endpoint-1", testEndpointInfo(t, metadataKey))
	if !ok {
		t.Fatalf("esperava resolução imediata")
	}
	if result.EndpointID != "endpoint-1" {
		t.Errorf("endpoint id incorreto: %q", result.EndpointID)
	}
	if result.Certificate != cert {
		t.Errorf("certificado retornado não é o esperado")
	}
	if r.PendingCount() != 0 {
		t.Errorf("nenhum endpoint deveria ficar pendente após resolução imediata")
	}
}

func TestResolveMalformedInfoNeverPends(t *testing.T) {
	certMgr := collab.NewFakeCertificateManager()
	cfg := config.Default()
	r := New(certMgr, cfg, nil, nil)
	defer r.Close()

	_, ok := r.Resolve("endpoint-1", []byte{0x01})
	if ok {
		t.Fatalf("anúncio malformado não deveria resolver")
	}
	if r.PendingCount() != 0 {
		t.Fatalf("anúncio malformado não deveria entrar no conjunto de retry")
	}
}

func TestResolveRetriesUntilCertificateArrives(t *testing.T) {
	certMgr := collab.NewFakeCertificateManager()
	metadataKey := bytes.Repeat([]byte{0x0A}, 14)

	cfg := config.Default()
	cfg.Thresholds.CertificateDownloadDuringDiscoveryPeriod = 20 * time.Millisecond
	cfg.Thresholds.MaxCertificateDownloadsDuringDiscovery = 5

	resolved := make(chan Result, 1)
	r := New(certMgr, cfg, func(res Result) { resolved <- res }, nil)
	defer r.Close()

	_, ok := r.Resolve("endpoint-2", testEndpointInfo(t, metadataKey))
	if ok {
		t.Fatalf("não deveria resolver antes do certificado existir")
	}
	if r.PendingCount() != 1 {
		t.Fatalf("endpoint deveria estar pendente, contagem=%d", r.PendingCount())
	}

	// Certificado chega depois da primeira tentativa; o próximo ciclo de
	// retry deve encontrá-lo.
	cert := &collab.DecryptedPublicCertificate{AuthenticityKey: []byte("auth"), SecretID: []byte("secret"), PublicKey: []byte("pub")}
	certMgr.SeedCertificate(metadataKey, cert)

	select {
	case result := <-resolved:
		if result.EndpointID != "endpoint-2" {
			t.Errorf("endpoint id incorreto: %q", result.EndpointID)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("tempo esgotado esperando resolução via retry")
	}

	deadline := time.Now().Add(time.Second)
	for r.PendingCount() != 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if r.PendingCount() != 0 {
		t.Fatalf("endpoint deveria sair do conjunto pendente após resolver")
	}
}

func TestResolveGivesUpAfterMaxDownloads(t *testing.T) {
	certMgr := collab.NewFakeCertificateManager()
	metadataKey := bytes.Repeat([]byte{0x0B}, 14)

	cfg := config.Default()
	cfg.Thresholds.CertificateDownloadDuringDiscoveryPeriod = 10 * time.Millisecond
	cfg.Thresholds.MaxCertificateDownloadsDuringDiscovery = 2

	r := New(certMgr, cfg, nil, nil)
	defer r.Close()

	r.Resolve("endpoint-3", testEndpointInfo(t, metadataKey))

	time.Sleep(200 * time.Millisecond)

	if r.PendingCount() != 1 {
		t.Fatalf("endpoint nunca resolvido deveria permanecer pendente mesmo após esgotar as tentativas, contagem=%d", r.PendingCount())
	}
}

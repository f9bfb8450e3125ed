// nearbyctl é uma demonstração de linha de comando do núcleo de
// compartilhamento por proximidade: conduz as duas pontas de uma
// transferência (handshake, verificação, introdução, aceitação,
// finalização) sobre um par de canais em memória, já que nenhum meio
// físico real (Bluetooth/Wi-Fi Direct) está disponível neste ambiente —
// grounded no loop de entrada/flags de cmd/bitchat/main.go.
package main

import (
	"bufio"
	"bytes"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/nearbyshare/sharecore/internal/advertisement"
	"github.com/nearbyshare/sharecore/internal/attachment"
	"github.com/nearbyshare/sharecore/internal/bleadapter"
	"github.com/nearbyshare/sharecore/internal/collab"
	"github.com/nearbyshare/sharecore/internal/config"
	"github.com/nearbyshare/sharecore/internal/payload"
	"github.com/nearbyshare/sharecore/internal/session"
	"github.com/nearbyshare/sharecore/internal/sharepb"
	"github.com/nearbyshare/sharecore/internal/transfer"
	"github.com/nearbyshare/sharecore/internal/verification"
)

const appVersion = "0.1.0"

func main() {
	var (
		senderName   string
		receiverName string
		text         string
		cfgPath      string
		debug        bool
		useBluetooth bool
	)

	flag.StringVar(&senderName, "sender", "Pixel de Alice", "nome de exibição do dispositivo remetente")
	flag.StringVar(&receiverName, "receiver", "Galaxy de Bob", "nome de exibição do dispositivo receptor")
	flag.StringVar(&text, "text", "Olá do nearbyctl!", "texto a compartilhar")
	flag.StringVar(&cfgPath, "config", "", "caminho para config.yaml (padrão embutido se vazio)")
	flag.BoolVar(&debug, "debug", false, "ativar log em nível debug")
	flag.BoolVar(&useBluetooth, "bluetooth", false, "anunciar o cabeçalho do remetente sobre um adaptador Bluetooth real, best-effort")
	flag.Parse()

	log := logrus.New()
	if debug {
		log.SetLevel(logrus.DebugLevel)
	}
	entry := logrus.NewEntry(log)

	cfg := config.Default()
	if cfgPath != "" {
		loaded, err := config.Load(cfgPath)
		if err != nil {
			fmt.Println("erro ao carregar configuração:", err)
			os.Exit(1)
		}
		cfg = loaded
	}

	fmt.Println("nearbyctl", appVersion)
	fmt.Printf("remetente=%q receptor=%q\n", senderName, receiverName)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	done := make(chan struct{})

	go func() {
		runDemoTransfer(cfg, senderName, receiverName, text, useBluetooth, entry)
		close(done)
	}()

	select {
	case <-done:
		fmt.Println("transferência de demonstração concluída, pressione Enter para sair")
		bufio.NewReader(os.Stdin).ReadString('\n')
	case <-sigChan:
		fmt.Println("\nencerrando")
	}
}

// runDemoTransfer conduz as duas pontas de uma sessão completa sobre um
// par de canais em memória, demonstrando a pilha inteira: handshake UKEY2,
// verificação de chave pareada, introdução, aceitação automática (único
// anexo, texto pequeno) e finalização. Quando useBluetooth é true, também
// anuncia o endpoint-info do remetente sobre um adaptador BLE real,
// best-effort — a sessão em si nunca depende disso, já que a troca real
// acontece sobre o par de canais em memória.
func runDemoTransfer(cfg *config.Config, senderName, receiverName, text string, useBluetooth bool, log *logrus.Entry) {
	if useBluetooth {
		stopAdvertising := startBluetoothAdvertising(senderName, log)
		defer stopAdvertising()
	}

	senderChan, receiverChan := newMemoryPipePair()

	driver := collab.NewFakeUKey2Handshake()
	senderCertMgr := collab.NewFakeCertificateManager()
	receiverCertMgr := collab.NewFakeCertificateManager()
	senderConnMgr := collab.NewFakeConnectionManager()
	receiverConnMgr := collab.NewFakeConnectionManager()

	senderTarget := attachment.NewShareTarget("receiver-endpoint", senderName, attachment.DeviceTypePhone, false)
	senderTarget.Attachments = []attachment.Attachment{
		attachment.TextAttachment{IDValue: 1, Size: int64(len(text)), Body: text},
	}
	receiverTarget := attachment.NewShareTarget("sender-endpoint", receiverName, attachment.DeviceTypePhone, true)

	rawToken := []byte("nearbyctl-demo-token-0123456789")

	sender := session.New("receiver-endpoint", senderTarget, false, false, senderChan, senderConnMgr, senderCertMgr, driver, cfg,
		int(verification.VisibilityEveryone), verification.History{}, sharepb.OSTypeLinux,
		func(m transfer.Metadata) { logTransfer(log.WithField("side", "remetente"), m) }, log)

	receiver := session.New("sender-endpoint", receiverTarget, true, false, receiverChan, receiverConnMgr, receiverCertMgr, driver, cfg,
		int(verification.VisibilityEveryone), verification.History{}, sharepb.OSTypeAndroid,
		func(m transfer.Metadata) { logTransfer(log.WithField("side", "receptor"), m) }, log)

	sender.AssignPayloadID(1, 9001)
	receiverConnMgr.SeedPayload(&collab.Payload{ID: 9001, Content: bytes.NewReader([]byte(text))})

	var wg sync.WaitGroup
	wg.Add(2)

	go func() {
		defer wg.Done()
		if err := receiver.RunIncoming(rawToken); err != nil {
			log.WithError(err).Error("sessão de entrada falhou")
			return
		}
		if err := receiver.Accept(); err != nil {
			log.WithError(err).Error("aceitação falhou")
		}
	}()

	go func() {
		defer wg.Done()
		if err := sender.RunOutgoing(rawToken, false); err != nil {
			log.WithError(err).Error("sessão de saída falhou")
			return
		}
		receiverConnMgr.Emit(payload.Update{
			PayloadID:        9001,
			Status:           payload.StatusSuccess,
			BytesTransferred: int64(len(text)),
		})
	}()

	wg.Wait()

	time.Sleep(50 * time.Millisecond) // deixa FinalizePayloads (assíncrono) terminar
	if ok := waitForBody(receiver, 2*time.Second); ok {
		body := receiver.Target().Attachments[0].(attachment.TextAttachment).Body
		fmt.Printf("receptor recebeu: %q\n", body)
	} else {
		fmt.Println("receptor não finalizou a transferência a tempo")
	}
}

// startBluetoothAdvertising expõe o endpoint-info do remetente como dado
// de serviço BLE via internal/bleadapter. Best-effort: fora do Linux, ou
// num Linux sem rádio disponível, NewAdapter/StartAdvertising devolvem
// ErrBluetoothNotAvailable, que é apenas logado — a demonstração continua
// normalmente sobre o par de canais em memória de qualquer forma.
func startBluetoothAdvertising(senderName string, log *logrus.Entry) func() {
	noop := func() {}

	info := advertisement.NewEndpointInfo(
		advertisement.VersionV1,
		verification.VisibilityEveryone,
		[]byte{0x01, 0x02},
		bytes.Repeat([]byte{0x03}, 14),
		attachment.DeviceTypePhone,
		senderName,
		0,
		false,
	)
	if !info.IsValid() {
		log.Error("não foi possível construir o endpoint-info para anúncio Bluetooth")
		return noop
	}

	adapter, err := bleadapter.NewAdapter()
	if err != nil {
		log.WithError(err).Warn("anúncio Bluetooth indisponível, seguindo sem rádio físico")
		return noop
	}
	if err := adapter.StartAdvertising(info.Encode()); err != nil {
		log.WithError(err).Warn("falha ao iniciar anúncio Bluetooth, seguindo sem rádio físico")
		_ = adapter.Close()
		return noop
	}

	log.Info("anunciando endpoint-info sobre Bluetooth real")
	return func() {
		_ = adapter.Close()
	}
}

func waitForBody(s *session.Session, timeout time.Duration) bool {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if len(s.Target().Attachments) > 0 {
			if text, ok := s.Target().Attachments[0].(attachment.TextAttachment); ok && text.Body != "" {
				return true
			}
		}
		time.Sleep(10 * time.Millisecond)
	}
	return false
}

func logTransfer(log *logrus.Entry, m transfer.Metadata) {
	log.WithField("status", m.Status().String()).WithField("progress", m.Progress()).Info("atualização de transferência")
}

// memoryPipe é o duplex em memória usado para conectar as duas pontas da
// sessão de demonstração na ausência de um meio físico real.
type memoryPipe struct {
	in      chan []byte
	out     chan []byte
	stopped chan struct{}
	mu      sync.Mutex
	closed  bool
}

func newMemoryPipePair() (*memoryPipe, *memoryPipe) {
	a := make(chan []byte, 16)
	b := make(chan []byte, 16)
	return &memoryPipe{in: a, out: b, stopped: make(chan struct{})},
		&memoryPipe{in: b, out: a, stopped: make(chan struct{})}
}

func (p *memoryPipe) Read() ([]byte, error) {
	select {
	case data := <-p.in:
		return data, nil
	case <-p.stopped:
		return nil, fmt.Errorf("nearbyctl: canal fechado")
	}
}

func (p *memoryPipe) Write(data []byte) error {
	p.mu.Lock()
	closed := p.closed
	p.mu.Unlock()
	if closed {
		return fmt.Errorf("nearbyctl: canal fechado")
	}
	select {
	case p.out <- data:
		return nil
	case <-p.stopped:
		return fmt.Errorf("nearbyctl: canal fechado")
	}
}

func (p *memoryPipe) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil
	}
	p.closed = true
	close(p.stopped)
	return nil
}

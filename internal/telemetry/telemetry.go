// Package telemetry centraliza a configuração de logging estruturado do
// sistema. Todo pacote que precisa logar recebe um *logrus.Entry pré-
// rotulado em vez de chamar o logger global diretamente, no estilo de
// WithFields observado em conexões BLE de referência.
package telemetry

import (
	"os"

	"github.com/fatih/structs"
	"github.com/sirupsen/logrus"

	"github.com/nearbyshare/sharecore/internal/transfer"
)

// NewLogger constrói o logger raiz do processo. O formato é texto com
// timestamps completos em ambientes interativos; em produção o chamador
// pode trocar para JSON com SetFormatter.
func NewLogger(level logrus.Level) *logrus.Logger {
	log := logrus.New()
	log.SetOutput(os.Stderr)
	log.SetLevel(level)
	log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	return log
}

// ForComponent retorna uma entrada rotulada com o nome do componente, para
// que toda linha de log emitida por ele carregue o campo `component` sem
// que o chamador precise repeti-lo.
func ForComponent(log *logrus.Logger, component string) *logrus.Entry {
	return log.WithField("component", component)
}

// ForSession anexa o identificador de endpoint remoto a uma entrada já
// rotulada por componente, usado por ShareSession e seus colaboradores.
func ForSession(entry *logrus.Entry, endpointID string) *logrus.Entry {
	return entry.WithField("endpoint_id", endpointID)
}

// transferMetadataFields espelha os getters de transfer.Metadata em campos
// exportados, só para que structs.Map tenha algo para percorrer — Metadata
// em si não expõe campos, de propósito.
type transferMetadataFields struct {
	Status                 string
	Progress               float64
	IsFinalStatus          bool
	IsSelfShare            bool
	TransferredBytes       int64
	TransferSpeedBytesPerS float64
	TotalAttachmentsCount  int
	TransferredAttachments int
}

// LogTransferUpdate loga um transfer.Metadata como um conjunto de campos
// estruturados, achatando-o com structs.Map em vez de montar o
// logrus.Fields campo a campo à mão.
func LogTransferUpdate(entry *logrus.Entry, m transfer.Metadata) {
	snapshot := transferMetadataFields{
		Status:                 m.Status().String(),
		Progress:               m.Progress(),
		IsFinalStatus:          m.IsFinalStatus(),
		IsSelfShare:            m.IsSelfShare(),
		TransferredBytes:       m.TransferredBytes(),
		TransferSpeedBytesPerS: m.TransferSpeed(),
		TotalAttachmentsCount:  m.TotalAttachmentsCount(),
		TransferredAttachments: m.TransferredAttachmentsCount(),
	}
	entry.WithFields(logrus.Fields(structs.Map(snapshot))).Info("transfer metadata update")
}

package payload

import (
	"testing"
	"time"

	"github.com/nearbyshare/sharecore/internal/transfer"
)

func TestProgressNeverDecreases(t *testing.T) {
	var updates []transfer.Metadata
	tr := NewTracker(false, func(m transfer.Metadata) { updates = append(updates, m) })

	tr.Register(1, 100, 1000)
	tr.Register(2, 101, 1000)

	tr.OnUpdate(Update{PayloadID: 1, Status: StatusInProgress, BytesTransferred: 500})
	tr.OnUpdate(Update{PayloadID: 2, Status: StatusInProgress, BytesTransferred: 500})
	tr.OnUpdate(Update{PayloadID: 1, Status: StatusSuccess, BytesTransferred: 1000})
	tr.OnUpdate(Update{PayloadID: 2, Status: StatusSuccess, BytesTransferred: 1000})

	last := -1.0
	for _, u := range updates {
		if u.Progress() < last {
			t.Fatalf("progresso regrediu: %v depois de %v", u.Progress(), last)
		}
		last = u.Progress()
	}
	if len(updates) == 0 {
		t.Fatalf("esperava ao menos um update emitido")
	}
}

func TestFinalProgressIsCompleteOnlyWhenEveryPayloadSucceeds(t *testing.T) {
	var updates []transfer.Metadata
	tr := NewTracker(false, func(m transfer.Metadata) { updates = append(updates, m) })

	tr.Register(1, 100, 1000)
	tr.Register(2, 101, 1000)

	tr.OnUpdate(Update{PayloadID: 1, Status: StatusSuccess, BytesTransferred: 1000})
	tr.OnUpdate(Update{PayloadID: 2, Status: StatusSuccess, BytesTransferred: 1000})

	last := updates[len(updates)-1]
	if last.Status() != transfer.StatusComplete {
		t.Fatalf("esperado COMPLETE, obtido %v", last.Status())
	}
	if last.Progress() != 100.0 {
		t.Fatalf("esperado progresso 100, obtido %v", last.Progress())
	}
	if !last.IsFinalStatus() {
		t.Fatalf("último update deveria ser final")
	}
}

func TestAnyCancelledPayloadYieldsOverallCancelled(t *testing.T) {
	var updates []transfer.Metadata
	tr := NewTracker(false, func(m transfer.Metadata) { updates = append(updates, m) })

	tr.Register(1, 100, 1000)
	tr.Register(2, 101, 1000)

	tr.OnUpdate(Update{PayloadID: 1, Status: StatusSuccess, BytesTransferred: 1000})
	tr.OnUpdate(Update{PayloadID: 2, Status: StatusCancelled, BytesTransferred: 400})

	last := updates[len(updates)-1]
	if last.Status() != transfer.StatusCancelled {
		t.Fatalf("esperado CANCELLED, obtido %v", last.Status())
	}
}

func TestOverallFailedWhenNoCancellationButSomePayloadFailed(t *testing.T) {
	var updates []transfer.Metadata
	tr := NewTracker(false, func(m transfer.Metadata) { updates = append(updates, m) })

	tr.Register(1, 100, 1000)
	tr.Register(2, 101, 1000)

	tr.OnUpdate(Update{PayloadID: 1, Status: StatusSuccess, BytesTransferred: 1000})
	tr.OnUpdate(Update{PayloadID: 2, Status: StatusFailed, BytesTransferred: 400})

	last := updates[len(updates)-1]
	if last.Status() != transfer.StatusFailed {
		t.Fatalf("esperado FAILED, obtido %v", last.Status())
	}
}

func TestUpdateForUnknownPayloadIsIgnored(t *testing.T) {
	var updates []transfer.Metadata
	tr := NewTracker(false, func(m transfer.Metadata) { updates = append(updates, m) })
	tr.Register(1, 100, 1000)

	tr.OnUpdate(Update{PayloadID: 999, Status: StatusInProgress, BytesTransferred: 10})
	if len(updates) != 0 {
		t.Fatalf("não deveria emitir nada para payload desconhecido, obtido %d updates", len(updates))
	}
}

func TestTransferSpeedIsPositiveAfterProgress(t *testing.T) {
	var lastMeta transfer.Metadata
	tr := NewTracker(false, func(m transfer.Metadata) { lastMeta = m })
	tr.Register(1, 100, 1000)

	tr.OnUpdate(Update{PayloadID: 1, Status: StatusInProgress, BytesTransferred: 500})
	if lastMeta.TransferSpeed() <= 0 {
		t.Fatalf("esperava velocidade positiva, obtido %v", lastMeta.TransferSpeed())
	}
	time.Sleep(2 * time.Millisecond)
}

func TestInProgressAttachmentReflectsActivePayload(t *testing.T) {
	var lastMeta transfer.Metadata
	tr := NewTracker(false, func(m transfer.Metadata) { lastMeta = m })
	tr.Register(1, 100, 1000)

	tr.OnUpdate(Update{PayloadID: 1, Status: StatusInProgress, BytesTransferred: 250})
	ip := lastMeta.InProgressAttachment()
	if ip == nil {
		t.Fatalf("esperava InProgressAttachment não nulo")
	}
	if ip.ID != 100 || ip.TransferredBytes != 250 || ip.TotalBytes != 1000 {
		t.Fatalf("InProgressAttachment incorreto: %+v", ip)
	}
}

func TestEmitterStillLocksAfterTrackerReachesFinalStatus(t *testing.T) {
	var updates []transfer.Metadata
	tr := NewTracker(false, func(m transfer.Metadata) { updates = append(updates, m) })
	tr.Register(1, 100, 1000)

	tr.OnUpdate(Update{PayloadID: 1, Status: StatusSuccess, BytesTransferred: 1000})
	countAfterFirstFinal := len(updates)

	// Um update tardio e espúrio para o mesmo payload não deve produzir
	// mais nenhuma entrega: o Emitter já travou no primeiro final.
	tr.OnUpdate(Update{PayloadID: 1, Status: StatusFailed, BytesTransferred: 1000})
	if len(updates) != countAfterFirstFinal {
		t.Fatalf("emitter deveria ter travado após o primeiro status final")
	}
}

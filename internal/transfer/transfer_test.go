package transfer

import "testing"

func TestBuilderDerivesFinalStatus(t *testing.T) {
	m := NewBuilder(StatusComplete).Progress(100).Build()
	if !m.IsFinalStatus() {
		t.Fatalf("COMPLETE deveria ser final")
	}

	m = NewBuilder(StatusInProgress).Progress(42).Build()
	if m.IsFinalStatus() {
		t.Fatalf("IN_PROGRESS não deveria ser final")
	}
}

func TestEmitterSwallowsUpdatesAfterFinal(t *testing.T) {
	var seen []Status
	emitter := NewEmitter(func(m Metadata) { seen = append(seen, m.Status()) })

	emitter.Emit(NewBuilder(StatusComplete).Build())
	emitter.Emit(NewBuilder(StatusCancelled).Build())

	if len(seen) != 1 {
		t.Fatalf("esperado exatamente 1 update entregue, obtido %d", len(seen))
	}
	if seen[0] != StatusComplete {
		t.Fatalf("esperado COMPLETE como único update, obtido %v", seen[0])
	}
	if !emitter.HasEmittedFinal() {
		t.Fatalf("emitter deveria registrar que um final já foi emitido")
	}
}

func TestEmitterDeliversNonFinalUpdatesInOrder(t *testing.T) {
	var seen []float64
	emitter := NewEmitter(func(m Metadata) { seen = append(seen, m.Progress()) })

	emitter.Emit(NewBuilder(StatusInProgress).Progress(10).Build())
	emitter.Emit(NewBuilder(StatusInProgress).Progress(50).Build())
	emitter.Emit(NewBuilder(StatusComplete).Progress(100).Build())
	emitter.Emit(NewBuilder(StatusFailed).Progress(100).Build())

	want := []float64{10, 50, 100}
	if len(seen) != len(want) {
		t.Fatalf("esperado %d updates, obtido %d", len(want), len(seen))
	}
	for i, v := range want {
		if seen[i] != v {
			t.Errorf("update %d: esperado %v, obtido %v", i, v, seen[i])
		}
	}
}

func TestProgressIsClampedToValidRange(t *testing.T) {
	m := NewBuilder(StatusInProgress).Progress(150).Build()
	if m.Progress() != 100 {
		t.Fatalf("progresso deveria ser fixado em 100, obtido %v", m.Progress())
	}
	m = NewBuilder(StatusInProgress).Progress(-5).Build()
	if m.Progress() != 0 {
		t.Fatalf("progresso deveria ser fixado em 0, obtido %v", m.Progress())
	}
}

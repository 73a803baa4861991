package statusbus

import "testing"

type fakeObserver struct {
	sent   []any
	closed bool
	accept bool
}

func (f *fakeObserver) Send(message any) bool {
	if !f.accept {
		return false
	}
	f.sent = append(f.sent, message)
	return true
}

func (f *fakeObserver) Close() { f.closed = true }

func TestSendDeliversToRegisteredObserver(t *testing.T) {
	b := New(nil)
	obs := &fakeObserver{accept: true}
	b.Register("proj-1", obs)

	if !b.Send("proj-1", WorkerBatch{TotalTasks: 1}) {
		t.Fatal("Send() = false, want true")
	}
	if len(obs.sent) != 1 {
		t.Fatalf("sent = %d messages, want 1", len(obs.sent))
	}
}

func TestSendToUnknownKeyReturnsFalse(t *testing.T) {
	b := New(nil)
	if b.Send("missing", WorkerBatch{}) {
		t.Fatal("Send() = true for unregistered key")
	}
}

func TestRegisterReplacesAndClosesExistingObserver(t *testing.T) {
	b := New(nil)
	first := &fakeObserver{accept: true}
	second := &fakeObserver{accept: true}

	b.Register("proj-1", first)
	b.Register("proj-1", second)

	if !first.closed {
		t.Fatal("first observer was not closed on replacement")
	}
	if second.closed {
		t.Fatal("second observer should remain open")
	}
	b.Send("proj-1", WorkerBatch{})
	if len(first.sent) != 0 || len(second.sent) != 1 {
		t.Fatalf("first.sent=%d second.sent=%d, want 0/1", len(first.sent), len(second.sent))
	}
}

func TestSendUnregistersObserverOnDeliveryFailure(t *testing.T) {
	b := New(nil)
	obs := &fakeObserver{accept: false}
	b.Register("proj-1", obs)

	if b.Send("proj-1", WorkerBatch{}) {
		t.Fatal("Send() = true, want false on delivery failure")
	}
	if b.IsRegistered("proj-1") {
		t.Fatal("observer should be unregistered after failed delivery")
	}
	if !obs.closed {
		t.Fatal("observer should be closed after failed delivery")
	}
}

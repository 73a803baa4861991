package blocker

import (
	"context"
	"testing"
	"time"

	"execengine/internal/app/execution/state"
	"execengine/internal/domain/execution"
	"execengine/internal/infra/ticket"
	"execengine/internal/telemetry"
)

func disabledTicketClient() *ticket.Client {
	return ticket.New("", "", "")
}

type memStore struct {
	st *execution.State
}

func (m *memStore) Load(ctx context.Context, projectID string) (*execution.State, error) {
	return m.st, nil
}
func (m *memStore) Save(ctx context.Context, st *execution.State) error { return nil }
func (m *memStore) Exists(ctx context.Context, projectID string) (bool, error) {
	return true, nil
}

func newGuardedState(t *testing.T) (*state.Guard, *execution.State) {
	t.Helper()
	st := execution.NewState("proj-1")
	st.Services["api"] = &execution.Service{ServiceName: "api", TaskIDs: []string{"t1"}}
	st.Tasks["t1"] = &execution.Task{TaskID: "t1", ServiceName: "api", Status: execution.TaskPending}
	st.Recount()
	return state.NewGuard(st, &memStore{st: st}, telemetry.Nop()), st
}

func TestCreateWithoutTicketClientStillTracksBlocker(t *testing.T) {
	r := NewRegistry(disabledTicketClient(), nil, telemetry.Nop())

	p := r.Create(context.Background(), "api", "t1", "which database?", "")

	if p.TicketID != "" {
		t.Fatalf("ticket id = %q, want empty (ticket client disabled)", p.TicketID)
	}
	if _, ok := r.Get(p.BlockerID); !ok {
		t.Fatal("created blocker not found in registry")
	}
}

func TestCreateChecksTaskToBlockedThroughGuard(t *testing.T) {
	guard, st := newGuardedState(t)
	r := NewRegistry(disabledTicketClient(), guard, telemetry.Nop())

	r.Create(context.Background(), "api", "t1", "which database?", "")

	if st.Tasks["t1"].Status != execution.TaskBlocked {
		t.Fatalf("task status = %q, want blocked", st.Tasks["t1"].Status)
	}
	if len(guard.UnresolvedBlockers()) != 1 {
		t.Fatalf("unresolved blockers = %d, want 1", len(guard.UnresolvedBlockers()))
	}
}

func TestResolveChecksTaskBackToPendingThroughGuard(t *testing.T) {
	guard, st := newGuardedState(t)
	r := NewRegistry(disabledTicketClient(), guard, telemetry.Nop())
	p := r.Create(context.Background(), "api", "t1", "which database?", "")

	if !r.Resolve(context.Background(), p.BlockerID, "use postgres") {
		t.Fatal("Resolve() returned false for known blocker")
	}
	if st.Tasks["t1"].Status != execution.TaskPending {
		t.Fatalf("task status = %q, want pending after resolution", st.Tasks["t1"].Status)
	}
	if len(guard.UnresolvedBlockers()) != 0 {
		t.Fatalf("unresolved blockers = %d, want 0", len(guard.UnresolvedBlockers()))
	}
}

func TestResolveWakesWaiter(t *testing.T) {
	r := NewRegistry(disabledTicketClient(), nil, telemetry.Nop())
	p := r.Create(context.Background(), "api", "t1", "which database?", "")

	done := make(chan string, 1)
	go func() {
		answer, err := p.Wait(context.Background())
		if err != nil {
			t.Errorf("Wait() error = %v", err)
		}
		done <- answer
	}()

	time.Sleep(10 * time.Millisecond)
	if !r.Resolve(context.Background(), p.BlockerID, "use postgres") {
		t.Fatal("Resolve() returned false for known blocker")
	}

	select {
	case answer := <-done:
		if answer != "use postgres" {
			t.Fatalf("answer = %q, want use postgres", answer)
		}
	case <-time.After(time.Second):
		t.Fatal("Wait() did not return after Resolve()")
	}
}

func TestResolveUnknownBlockerReturnsFalse(t *testing.T) {
	r := NewRegistry(disabledTicketClient(), nil, telemetry.Nop())
	if r.Resolve(context.Background(), "nope", "x") {
		t.Fatal("Resolve() = true for unknown blocker id")
	}
}

func TestResolveByTicketIDMatchesOnTicketID(t *testing.T) {
	r := NewRegistry(disabledTicketClient(), nil, telemetry.Nop())
	p := r.Restore(execution.Blocker{BlockerID: "b1", TicketID: "tk-1"})

	if !r.ResolveByTicketID(context.Background(), "tk-1", "answer") {
		t.Fatal("ResolveByTicketID() returned false for matching ticket id")
	}
	answer, err := p.Wait(context.Background())
	if err != nil {
		t.Fatalf("Wait() error = %v", err)
	}
	if answer != "answer" {
		t.Fatalf("answer = %q, want answer", answer)
	}
}

func TestWaitRespectsContextCancellation(t *testing.T) {
	r := NewRegistry(disabledTicketClient(), nil, telemetry.Nop())
	p := r.Create(context.Background(), "api", "t1", "q", "")

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := p.Wait(ctx)
	if err == nil {
		t.Fatal("expected Wait() to return an error on context timeout")
	}
}

func TestRestoreAlreadyResolvedDoesNotBlock(t *testing.T) {
	r := NewRegistry(disabledTicketClient(), nil, telemetry.Nop())
	p := r.Restore(execution.Blocker{BlockerID: "b2", Resolved: true, Answer: "yes"})

	answer, err := p.Wait(context.Background())
	if err != nil {
		t.Fatalf("Wait() error = %v", err)
	}
	if answer != "yes" {
		t.Fatalf("answer = %q, want yes", answer)
	}
}

func TestCleanupRemovesBlocker(t *testing.T) {
	r := NewRegistry(disabledTicketClient(), nil, telemetry.Nop())
	p := r.Create(context.Background(), "api", "t1", "q", "")

	r.Cleanup(p.BlockerID)

	if _, ok := r.Get(p.BlockerID); ok {
		t.Fatal("blocker still present after Cleanup()")
	}
}

func TestPendingBlockersExcludesResolved(t *testing.T) {
	r := NewRegistry(disabledTicketClient(), nil, telemetry.Nop())
	r.Create(context.Background(), "api", "t1", "q1", "")
	p2 := r.Create(context.Background(), "api", "t1", "q2", "")
	r.Resolve(context.Background(), p2.BlockerID, "a")

	pending := r.PendingBlockers()
	if len(pending) != 1 {
		t.Fatalf("pending = %d, want 1", len(pending))
	}
}

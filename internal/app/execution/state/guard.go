// Package state wraps the pure execution.State aggregate with the mutex
// and checkpoint-then-persist discipline every concurrent caller (Team
// Leads running in parallel, the Orchestrator, the CLI's status command)
// needs. execution.State itself stays lock-free and I/O-free per its own
// doc comment; this is the one place those concerns are added back, mirrored
// on how the teacher's FileStore guards its in-memory map with a RWMutex
// before ever touching disk.
package state

import (
	"context"
	"fmt"
	"sync"

	"execengine/internal/domain/execution"
	"execengine/internal/telemetry"
)

// Guard serializes mutation of a shared *execution.State and persists every
// checkpoint through a Store immediately after applying it, so a crash
// right after a mutation still leaves a saved, consistent checkpoint.
type Guard struct {
	mu    sync.Mutex
	st    *execution.State
	store execution.Store
	log   telemetry.Logger
}

// NewGuard constructs a Guard over an already-loaded (or freshly created)
// state.
func NewGuard(st *execution.State, store execution.Store, log telemetry.Logger) *Guard {
	return &Guard{st: st, store: store, log: telemetry.OrNop(log).With("execution-state")}
}

func (g *Guard) saveLocked(ctx context.Context) error {
	if err := g.store.Save(ctx, g.st); err != nil {
		g.log.Error("failed to persist execution checkpoint: %v", err)
		return fmt.Errorf("%w: %v", execution.ErrCheckpointIO, err)
	}
	return nil
}

// TaskStarted checkpoints a task transitioning to in-progress.
func (g *Guard) TaskStarted(ctx context.Context, taskID string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.st.CheckpointTaskStarted(taskID)
	return g.saveLocked(ctx)
}

// TaskCompleted checkpoints a task's terminal outcome.
func (g *Guard) TaskCompleted(ctx context.Context, taskID string, success bool, artifact, errMsg string, stages []execution.StageOutcome) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.st.CheckpointTaskCompleted(taskID, success, artifact, errMsg, stages)
	return g.saveLocked(ctx)
}

// BlockerCreated checkpoints a new blocker and moves its task to blocked.
// b.TaskID identifies the task waiting on it.
func (g *Guard) BlockerCreated(ctx context.Context, b execution.Blocker) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.st.CheckpointBlockerCreated(&b)
	return g.saveLocked(ctx)
}

// BlockerResolved checkpoints a blocker's answer and returns its task to
// pending.
func (g *Guard) BlockerResolved(ctx context.Context, blockerID, answer string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.st.CheckpointBlockerResolved(blockerID, answer)
	return g.saveLocked(ctx)
}

// PendingTaskIDs returns the pending/blocked task ids for a service.
func (g *Guard) PendingTaskIDs(serviceName string) []string {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.st.PendingTaskIDs(serviceName)
}

// Task returns a copy of one task's current record.
func (g *Guard) Task(taskID string) (execution.Task, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	t, ok := g.st.Tasks[taskID]
	if !ok {
		return execution.Task{}, false
	}
	return *t, true
}

// ServiceNames returns every service name known to the state, in no
// particular order.
func (g *Guard) ServiceNames() []string {
	g.mu.Lock()
	defer g.mu.Unlock()
	names := make([]string, 0, len(g.st.Services))
	for name := range g.st.Services {
		names = append(names, name)
	}
	return names
}

// SetServicePaused sets a service's paused flag and persists it, so an
// operator's pause survives a restart even while no task transition is in
// flight.
func (g *Guard) SetServicePaused(ctx context.Context, serviceName string, paused bool) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	svc, ok := g.st.Services[serviceName]
	if !ok {
		return fmt.Errorf("execution state: unknown service %q", serviceName)
	}
	svc.Paused = paused
	return g.saveLocked(ctx)
}

// RequeueFailed resets every failed task of serviceName back to pending and
// persists the change, for an operator-initiated retry.
func (g *Guard) RequeueFailed(ctx context.Context, serviceName string) ([]string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	requeued := g.st.RequeueFailedTasks(serviceName)
	if err := g.saveLocked(ctx); err != nil {
		return nil, err
	}
	return requeued, nil
}

// Snapshot returns a point-in-time summary safe to hand to a status
// observer or the CLI's status command, without exposing the live maps.
type Snapshot struct {
	ProjectID  string
	TotalTasks int
	Succeeded  int
	Failed     int
	Pending    int
	Services   map[string]ServiceSnapshot
}

// ServiceSnapshot is one service's summary within a Snapshot.
type ServiceSnapshot struct {
	CurrentlyRunning string
	Paused           bool
	CompletedCount   int
	TotalCount       int
}

// Snapshot returns a consistent summary of the whole execution state.
func (g *Guard) Snapshot() Snapshot {
	g.mu.Lock()
	defer g.mu.Unlock()

	snap := Snapshot{
		ProjectID:  g.st.ProjectID,
		TotalTasks: g.st.TotalTasks,
		Succeeded:  g.st.Succeeded,
		Failed:     g.st.Failed,
		Pending:    g.st.Pending,
		Services:   make(map[string]ServiceSnapshot, len(g.st.Services)),
	}
	for name, svc := range g.st.Services {
		snap.Services[name] = ServiceSnapshot{
			CurrentlyRunning: svc.CurrentlyRunning,
			Paused:           svc.Paused,
			CompletedCount:   len(svc.CompletedTaskIDs),
			TotalCount:       len(svc.TaskIDs),
		}
	}
	return snap
}

// Recover applies restart recovery to the underlying state and persists the
// result, returning the task ids that were reset from in-progress to
// pending.
func (g *Guard) Recover(ctx context.Context) ([]string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	requeued := g.st.Recover()
	if err := g.saveLocked(ctx); err != nil {
		return requeued, err
	}
	return requeued, nil
}

// UnresolvedBlockers returns every blocker not yet resolved, for recovery's
// ticket-reconciliation pass.
func (g *Guard) UnresolvedBlockers() []execution.Blocker {
	g.mu.Lock()
	defer g.mu.Unlock()
	unresolved := g.st.UnresolvedBlockers()
	out := make([]execution.Blocker, len(unresolved))
	for i, b := range unresolved {
		out[i] = *b
	}
	return out
}

// Package orchestrator supervises every Team Lead for one project's
// execution phase: bounded concurrent fan-out, status aggregation, and
// crash recovery, grounded on original_source/.../worker/orchestrator.py
// and the teacher's internal/app/agent/kernel/engine.go executeDispatches
// bounded fan-out. The semaphore in the original becomes an
// errgroup.Group with SetLimit, the teacher's preferred concurrency
// primitive for this kind of bounded worker pool.
package orchestrator

import (
	"context"
	"sync"

	"golang.org/x/sync/errgroup"

	"execengine/internal/app/execution/blocker"
	"execengine/internal/app/execution/state"
	"execengine/internal/app/execution/statusbus"
	"execengine/internal/app/execution/subagent"
	"execengine/internal/app/execution/teamlead"
	"execengine/internal/telemetry"
	"execengine/internal/telemetry/metrics"
)

// Counters is the aggregate task-count snapshot broadcast to observers and
// returned by GetStatus, mirroring OrchestratorState from the original.
type Counters struct {
	TotalTasks int
	Queued     int
	Running    int
	Succeeded  int
	Failed     int
	Blocked    int
}

// ServiceStatus is one service's status within a Status snapshot.
type ServiceStatus struct {
	CurrentTask string
	Paused      bool
	Completed   int
	Total       int
	Cancelled   bool
}

// Status is the full snapshot returned by GetStatus.
type Status struct {
	Counters
	Services map[string]ServiceStatus
}

// Config bundles an Orchestrator's collaborators and tuning knobs.
type Config struct {
	ProjectID          string
	MaxConcurrentLeads int

	Guard   *state.Guard
	Bus     *statusbus.Bus
	Metrics *metrics.Metrics
	Log     telemetry.Logger
}

// Orchestrator manages every Team Lead for a project's execution phase.
type Orchestrator struct {
	projectID string
	guard     *state.Guard
	bus       *statusbus.Bus
	metrics   *metrics.Metrics
	log       telemetry.Logger
	limit     int

	mu        sync.Mutex
	leads     map[string]*teamlead.TeamLead
	counters  Counters
	shutdown  bool
	results   map[string][]teamlead.Result
	eg        *errgroup.Group
	cancelRun context.CancelFunc
}

// New constructs an empty Orchestrator. Team Leads are attached with
// AddTeamLead before Start.
func New(cfg Config) *Orchestrator {
	limit := cfg.MaxConcurrentLeads
	if limit <= 0 {
		limit = 1
	}
	return &Orchestrator{
		projectID: cfg.ProjectID,
		guard:     cfg.Guard,
		bus:       cfg.Bus,
		metrics:   cfg.Metrics,
		log:       telemetry.OrNop(cfg.Log).With("orchestrator:" + cfg.ProjectID),
		limit:     limit,
		leads:     make(map[string]*teamlead.TeamLead),
		results:   make(map[string][]teamlead.Result),
	}
}

// AddTeamLead registers lead and folds its task count into the
// queued/total counters.
func (o *Orchestrator) AddTeamLead(lead *teamlead.TeamLead, taskCount int) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.leads[lead.ServiceName] = lead
	o.counters.TotalTasks += taskCount
	o.counters.Queued += taskCount
}

// Start launches every registered Team Lead, bounded by MaxConcurrentLeads,
// and returns once they have all been scheduled — it does not wait for
// them to finish. Call Wait to block for completion.
func (o *Orchestrator) Start(ctx context.Context) {
	o.mu.Lock()
	names := make([]string, 0, len(o.leads))
	for name := range o.leads {
		names = append(names, name)
	}
	o.mu.Unlock()

	o.log.Info("starting orchestrator for project %s with %d services", o.projectID, len(names))

	runCtx, cancel := context.WithCancel(ctx)
	eg, egCtx := errgroup.WithContext(runCtx)
	eg.SetLimit(o.limit)

	for _, name := range names {
		name := name
		o.mu.Lock()
		lead := o.leads[name]
		o.mu.Unlock()
		eg.Go(func() error {
			o.runLead(egCtx, name, lead)
			return nil
		})
	}

	o.mu.Lock()
	o.eg = eg
	o.cancelRun = cancel
	o.mu.Unlock()

	o.broadcastBatch()
}

// runLead runs one Team Lead to completion under the concurrency limit,
// folding its results into the aggregate counters and pushing per-task and
// per-batch status updates as it goes.
func (o *Orchestrator) runLead(ctx context.Context, name string, lead *teamlead.TeamLead) {
	o.mu.Lock()
	if o.shutdown {
		o.mu.Unlock()
		return
	}
	taskCount := lead.TaskCount()
	o.counters.Running += min(taskCount, 1)
	o.counters.Queued = max(0, o.counters.Queued-taskCount)
	o.mu.Unlock()
	o.broadcastBatch()

	o.log.Info("team lead [%s] starting", name)

	results, err := lead.Run(ctx)
	if err != nil {
		o.log.Error("team lead [%s] crashed: %v", name, err)
		o.mu.Lock()
		o.counters.Running = max(0, o.counters.Running-1)
		o.counters.Failed += taskCount
		o.mu.Unlock()
		o.broadcastBatch()
		return
	}

	for _, r := range results {
		o.mu.Lock()
		if r.Success {
			o.counters.Succeeded++
		} else {
			o.counters.Failed++
		}
		o.counters.Running = max(0, o.counters.Running-1)
		o.mu.Unlock()

		status := "succeeded"
		if !r.Success {
			status = "failed"
		}
		o.bus.Send(o.projectID, statusbus.WorkerStatus{
			TaskID:      r.TaskID,
			TaskTitle:   r.TaskTitle,
			ServiceName: name,
			WorkerID:    name,
			Status:      status,
			Error:       r.Error,
			Progress:    1,
		})
		o.broadcastBatch()
	}

	o.mu.Lock()
	o.results[name] = results
	o.mu.Unlock()
	o.log.Info("team lead [%s] finished: %d results", name, len(results))
}

// TaskBlocked implements teamlead.BlockerObserver: a Team Lead raised a
// blocker for one of its tasks, so the aggregate Blocked counter and a
// blocker_notification status message both need to reflect it immediately.
func (o *Orchestrator) TaskBlocked(serviceName, blockerID, question string) {
	o.mu.Lock()
	o.counters.Blocked++
	o.mu.Unlock()
	o.bus.Send(o.projectID, statusbus.BlockerNotification{
		BlockerID:   blockerID,
		ServiceName: serviceName,
		Question:    question,
		Resolved:    false,
	})
	o.broadcastBatch()
}

// TaskUnblocked implements teamlead.BlockerObserver: a previously raised
// blocker has been answered and its task returned to pending.
func (o *Orchestrator) TaskUnblocked(serviceName, blockerID string) {
	o.mu.Lock()
	o.counters.Blocked = max(0, o.counters.Blocked-1)
	o.mu.Unlock()
	o.bus.Send(o.projectID, statusbus.BlockerNotification{
		BlockerID:   blockerID,
		ServiceName: serviceName,
		Resolved:    true,
	})
	o.broadcastBatch()
}

func (o *Orchestrator) broadcastBatch() {
	o.mu.Lock()
	c := o.counters
	o.mu.Unlock()
	o.bus.Send(o.projectID, statusbus.WorkerBatch{
		TotalTasks: c.TotalTasks,
		Queued:     c.Queued,
		Running:    c.Running,
		Succeeded:  c.Succeeded,
		Failed:     c.Failed,
		Blocked:    c.Blocked,
	})
}

// Wait blocks until every Team Lead launched by Start has finished and
// returns the results collected so far, keyed by service name.
func (o *Orchestrator) Wait() map[string][]teamlead.Result {
	o.mu.Lock()
	eg := o.eg
	o.mu.Unlock()
	if eg != nil {
		_ = eg.Wait()
	}

	o.mu.Lock()
	defer o.mu.Unlock()
	out := make(map[string][]teamlead.Result, len(o.results))
	for k, v := range o.results {
		out[k] = v
	}
	return out
}

// PauseAll pauses every registered Team Lead.
func (o *Orchestrator) PauseAll(ctx context.Context) {
	for _, lead := range o.snapshotLeads() {
		_ = lead.Pause(ctx)
	}
	o.log.Info("all team leads paused")
}

// ResumeAll resumes every registered Team Lead.
func (o *Orchestrator) ResumeAll(ctx context.Context) {
	for _, lead := range o.snapshotLeads() {
		_ = lead.Resume(ctx)
	}
	o.log.Info("all team leads resumed")
}

// PauseService pauses one service's Team Lead, reporting whether it exists.
func (o *Orchestrator) PauseService(ctx context.Context, serviceName string) bool {
	lead, ok := o.lead(serviceName)
	if !ok {
		return false
	}
	_ = lead.Pause(ctx)
	return true
}

// ResumeService resumes one service's Team Lead, reporting whether it exists.
func (o *Orchestrator) ResumeService(ctx context.Context, serviceName string) bool {
	lead, ok := o.lead(serviceName)
	if !ok {
		return false
	}
	_ = lead.Resume(ctx)
	return true
}

// Shutdown cancels every Team Lead and stops scheduling new ones. In-flight
// tasks finish; queued ones are left pending for a future run to pick up.
func (o *Orchestrator) Shutdown() {
	o.mu.Lock()
	o.shutdown = true
	cancel := o.cancelRun
	o.mu.Unlock()

	for _, lead := range o.snapshotLeads() {
		lead.Cancel()
	}
	if cancel != nil {
		cancel()
	}
	o.log.Info("orchestrator shut down for project %s", o.projectID)
}

// GetStatus returns a point-in-time snapshot of every counter and service.
func (o *Orchestrator) GetStatus() Status {
	o.mu.Lock()
	counters := o.counters
	leads := make(map[string]*teamlead.TeamLead, len(o.leads))
	for k, v := range o.leads {
		leads[k] = v
	}
	o.mu.Unlock()

	snap := o.guard.Snapshot()
	services := make(map[string]ServiceStatus, len(leads))
	for name, lead := range leads {
		completed, total := 0, 0
		if svcSnap, ok := snap.Services[name]; ok {
			completed, total = svcSnap.CompletedCount, svcSnap.TotalCount
		}
		services[name] = ServiceStatus{
			CurrentTask: lead.CurrentTask(),
			Paused:      lead.IsPaused(),
			Completed:   completed,
			Total:       total,
			Cancelled:   lead.IsCancelled(),
		}
	}

	return Status{Counters: counters, Services: services}
}

func (o *Orchestrator) snapshotLeads() []*teamlead.TeamLead {
	o.mu.Lock()
	defer o.mu.Unlock()
	leads := make([]*teamlead.TeamLead, 0, len(o.leads))
	for _, l := range o.leads {
		leads = append(leads, l)
	}
	return leads
}

func (o *Orchestrator) lead(serviceName string) (*teamlead.TeamLead, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	l, ok := o.leads[serviceName]
	return l, ok
}

// RecoveryConfig bundles everything FromExecutionState needs to rebuild an
// Orchestrator from a recovered checkpoint.
type RecoveryConfig struct {
	Guard   *state.Guard
	Bus     *statusbus.Bus
	Metrics *metrics.Metrics
	Log     telemetry.Logger

	MaxConcurrentLeads int
	RepoPath           string
	BusinessSpec       string
	RetryCount         int
	Dispatcher         *subagent.Dispatcher
	Blockers           *blocker.Registry
}

// FromExecutionState rebuilds an Orchestrator from a recovered checkpoint.
// It creates Team Leads only for services that still have pending or
// blocked tasks; already-succeeded and already-failed tasks are folded
// into the total count directly rather than re-run.
func FromExecutionState(cfg RecoveryConfig) *Orchestrator {
	snap := cfg.Guard.Snapshot()

	o := New(Config{
		ProjectID:          snap.ProjectID,
		MaxConcurrentLeads: cfg.MaxConcurrentLeads,
		Guard:              cfg.Guard,
		Bus:                cfg.Bus,
		Metrics:            cfg.Metrics,
		Log:                cfg.Log,
	})

	o.mu.Lock()
	o.counters.Succeeded = snap.Succeeded
	o.counters.Failed = snap.Failed
	o.mu.Unlock()

	for name := range snap.Services {
		pendingIDs := cfg.Guard.PendingTaskIDs(name)
		if len(pendingIDs) == 0 {
			continue
		}

		tasks := make([]teamlead.Task, 0, len(pendingIDs))
		for _, tid := range pendingIDs {
			t, ok := cfg.Guard.Task(tid)
			if !ok {
				continue
			}
			tasks = append(tasks, teamlead.Task{Task: t})
		}

		lead := teamlead.New(teamlead.Config{
			ServiceName:  name,
			Tasks:        tasks,
			RepoPath:     cfg.RepoPath,
			BusinessSpec: cfg.BusinessSpec,
			RetryCount:   cfg.RetryCount,
			Guard:        cfg.Guard,
			Dispatcher:   cfg.Dispatcher,
			Blockers:     cfg.Blockers,
			Blocked:      o,
			Metrics:      cfg.Metrics,
			Log:          cfg.Log,
		})
		o.AddTeamLead(lead, len(tasks))
	}

	o.mu.Lock()
	o.counters.TotalTasks += snap.Succeeded + snap.Failed
	total, succeeded, queued := o.counters.TotalTasks, o.counters.Succeeded, o.counters.Queued
	o.mu.Unlock()

	o.log.Info("rebuilt orchestrator from checkpoint: %d total, %d succeeded, %d queued", total, succeeded, queued)
	return o
}

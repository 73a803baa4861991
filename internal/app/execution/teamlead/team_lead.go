// Package teamlead runs one service's task list serially, grounded on
// original_source/.../worker/team_lead.py: a pause gate built on an
// initially-open latch, a cancel flag, and a retry loop around the
// three-stage pipeline. The pause gate's shape (a manual-reset event a
// runner blocks on between tasks) mirrors the teacher's Engine.Run
// scheduling loop in internal/app/agent/kernel/engine.go, which yields at
// the same kind of boundary before starting its next unit of work.
package teamlead

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"execengine/internal/app/execution/blocker"
	"execengine/internal/app/execution/state"
	"execengine/internal/app/execution/subagent"
	"execengine/internal/domain/execution"
	"execengine/internal/telemetry"
	"execengine/internal/telemetry/metrics"
)

// Result is the outcome of running one task's full pipeline, mirroring
// TaskResult from the original.
type Result struct {
	TaskID     string
	TaskTitle  string
	Success    bool
	CodeWriter *subagent.Result
	UnitTester *subagent.Result
	QATester   *subagent.Result
	Artifact   string
	Error      string
}

// Task is the input a TeamLead needs to run one task: the durable record
// plus the prompt material the checkpoint doesn't persist across restarts.
type Task struct {
	execution.Task
	TestCommands []string
}

// BlockerObserver is notified whenever a Team Lead raises or clears a
// blocker, so an Orchestrator can keep its Blocked counter and status
// broadcasts in sync without this package importing it back.
type BlockerObserver interface {
	TaskBlocked(serviceName, blockerID, question string)
	TaskUnblocked(serviceName, blockerID string)
}

// pauseGate is a manual-reset latch: open means "runnable". Mirrors
// asyncio.Event semantics (initially set, clear()/set() toggle it) with a
// channel swap under a mutex instead of a condition variable, since that is
// the idiomatic Go analogue.
type pauseGate struct {
	mu   sync.Mutex
	open chan struct{}
}

func newPauseGate() *pauseGate {
	ch := make(chan struct{})
	close(ch) // closed channel reads immediately: starts runnable
	return &pauseGate{open: ch}
}

func (g *pauseGate) pause() {
	g.mu.Lock()
	defer g.mu.Unlock()
	select {
	case <-g.open:
		g.open = make(chan struct{})
	default:
		// already paused
	}
}

func (g *pauseGate) resume() {
	g.mu.Lock()
	defer g.mu.Unlock()
	select {
	case <-g.open:
		// already open
	default:
		close(g.open)
	}
}

func (g *pauseGate) wait(ctx context.Context) error {
	g.mu.Lock()
	ch := g.open
	g.mu.Unlock()
	select {
	case <-ch:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// TeamLead manages execution of all tasks for a single service.
type TeamLead struct {
	ServiceName string

	tasks        []Task
	repoPath     string
	businessSpec string
	retryCount   int

	guard      *state.Guard
	dispatcher *subagent.Dispatcher
	blockers   *blocker.Registry
	blocked    BlockerObserver
	metrics    *metrics.Metrics
	log        telemetry.Logger

	pause     *pauseGate
	cancelled atomic.Bool

	mu        sync.Mutex
	completed []Result
	current   string
}

// Config bundles a TeamLead's collaborators, since it needs rather more
// than a bare constructor argument list comfortably holds.
type Config struct {
	ServiceName  string
	Tasks        []Task
	RepoPath     string
	BusinessSpec string
	RetryCount   int

	Guard      *state.Guard
	Dispatcher *subagent.Dispatcher
	Blockers   *blocker.Registry
	Blocked    BlockerObserver
	Metrics    *metrics.Metrics
	Log        telemetry.Logger
}

// New constructs a TeamLead, not-paused, not-cancelled, ready for Run.
func New(cfg Config) *TeamLead {
	retry := cfg.RetryCount
	if retry <= 0 {
		retry = 1
	}
	return &TeamLead{
		ServiceName:  cfg.ServiceName,
		tasks:        cfg.Tasks,
		repoPath:     cfg.RepoPath,
		businessSpec: cfg.BusinessSpec,
		retryCount:   retry,
		guard:        cfg.Guard,
		dispatcher:   cfg.Dispatcher,
		blockers:     cfg.Blockers,
		blocked:      cfg.Blocked,
		metrics:      cfg.Metrics,
		log:          telemetry.OrNop(cfg.Log).With("team-lead:" + cfg.ServiceName),
		pause:        newPauseGate(),
	}
}

// IsPaused reports whether this team lead is currently holding its pause
// gate closed.
func (tl *TeamLead) IsPaused() bool {
	tl.pause.mu.Lock()
	ch := tl.pause.open
	tl.pause.mu.Unlock()
	select {
	case <-ch:
		return false
	default:
		return true
	}
}

// Pause stops this team lead before its next task; the in-flight task (if
// any) still runs to completion.
func (tl *TeamLead) Pause(ctx context.Context) error {
	tl.pause.pause()
	return tl.guard.SetServicePaused(ctx, tl.ServiceName, true)
}

// Resume clears a previously set pause.
func (tl *TeamLead) Resume(ctx context.Context) error {
	tl.pause.resume()
	return tl.guard.SetServicePaused(ctx, tl.ServiceName, false)
}

// Cancel stops this team lead permanently; it will finish its current task
// (if any) and then return from Run without starting another.
func (tl *TeamLead) Cancel() {
	tl.cancelled.Store(true)
	tl.pause.resume() // unblock if paused, so cancellation takes effect promptly
}

// CurrentTask returns the title of the task currently in flight, or "" if
// idle.
func (tl *TeamLead) CurrentTask() string {
	tl.mu.Lock()
	defer tl.mu.Unlock()
	return tl.current
}

// IsCancelled reports whether Cancel has been called on this team lead.
func (tl *TeamLead) IsCancelled() bool {
	return tl.cancelled.Load()
}

// TaskCount returns the number of tasks this team lead was configured with.
func (tl *TeamLead) TaskCount() int {
	return len(tl.tasks)
}

func (tl *TeamLead) notifyBlocked(blockerID, question string) {
	if tl.blocked == nil {
		return
	}
	tl.blocked.TaskBlocked(tl.ServiceName, blockerID, question)
}

func (tl *TeamLead) notifyUnblocked(blockerID string) {
	if tl.blocked == nil {
		return
	}
	tl.blocked.TaskUnblocked(tl.ServiceName, blockerID)
}

// awaitBlocker raises a blocker for the stage currently waiting on a human
// decision, notifies the observer, and blocks until it is resolved or ctx is
// cancelled. The blocker is cleaned up from the registry either way, since
// a cancelled wait still leaves the task's checkpoint at blocked for a
// future run to pick back up.
func (tl *TeamLead) awaitBlocker(ctx context.Context, task Task, stage execution.StageName, question string) (string, error) {
	pending := tl.blockers.Create(ctx, tl.ServiceName, task.TaskID, question, string(stage))
	tl.notifyBlocked(pending.BlockerID, question)
	defer func() {
		tl.blockers.Cleanup(pending.BlockerID)
		tl.notifyUnblocked(pending.BlockerID)
	}()

	answer, err := pending.Wait(ctx)
	if err != nil {
		return "", err
	}
	return answer, nil
}

// runStage invokes a single stage, re-invoking it with the human's answer
// appended to its prompt every time it reports Blocked, until it finally
// succeeds, fails outright, or the wait for an answer is cancelled.
func (tl *TeamLead) runStage(ctx context.Context, task Task, stage execution.StageName, invoke func(promptSuffix string) subagent.Result) subagent.Result {
	suffix := ""
	for {
		result := invoke(suffix)
		if !result.Blocked {
			return result
		}
		tl.log.Info("task %s blocked at %s: %s", task.TaskID, stage, result.Question)
		answer, err := tl.awaitBlocker(ctx, task, stage, result.Question)
		if err != nil {
			return subagent.Result{Success: false, Error: fmt.Sprintf("%s: waiting on blocker: %v", stage, err)}
		}
		suffix = fmt.Sprintf("\n\n## Answer to previous question\nQ: %s\nA: %s\n", result.Question, answer)
	}
}

// Run processes all tasks in order, returning one Result per task.
// Cancellation or context cancellation ends the loop early; tasks not yet
// reached stay pending in the checkpoint for a future run to pick up.
func (tl *TeamLead) Run(ctx context.Context) ([]Result, error) {
	ctx, span := startRunSpan(ctx, tl.ServiceName, len(tl.tasks))
	defer span.End()

	var results []Result

	for _, task := range tl.tasks {
		if tl.cancelled.Load() {
			break
		}
		if err := tl.pause.wait(ctx); err != nil {
			return results, err
		}
		if tl.cancelled.Load() {
			break
		}

		tl.mu.Lock()
		tl.current = task.Title
		tl.mu.Unlock()

		tl.log.Info("starting task %s (%s)", task.Title, task.TaskID)

		result := tl.executeTask(ctx, task)
		if !result.Success {
			for attempt := 0; attempt < tl.retryCount; attempt++ {
				tl.log.Info("retrying task %s (attempt %d/%d)", task.Title, attempt+1, tl.retryCount)
				tl.metrics.IncRetry(tl.ServiceName)
				retried := tl.executeTask(ctx, task)
				if retried.Success {
					result = retried
					break
				}
				result = retried
			}
		}

		results = append(results, result)
		tl.mu.Lock()
		tl.completed = append(tl.completed, result)
		tl.mu.Unlock()

		if !result.Success {
			tl.metrics.IncFailure(tl.ServiceName, failingStage(result))
		}
	}

	tl.mu.Lock()
	tl.current = ""
	tl.mu.Unlock()
	markSpanResult(span, nil)
	return results, nil
}

// executeTask runs the full CodeWriter -> UnitTester -> QATester pipeline
// for one task, checkpointing start and completion around it. Any stage may
// report Blocked one or more times before finally succeeding or failing;
// runStage handles raising the blocker and resuming the stage once answered.
func (tl *TeamLead) executeTask(ctx context.Context, task Task) Result {
	ctx, span := startTaskSpan(ctx, tl.ServiceName, task.TaskID)
	defer span.End()

	if err := tl.guard.TaskStarted(ctx, task.TaskID); err != nil {
		markSpanResult(span, err)
		return Result{TaskID: task.TaskID, TaskTitle: task.Title, Success: false, Error: err.Error()}
	}

	taskPrompt := fmt.Sprintf("## Task: %s\n\n%s", task.Title, task.Description)

	start := time.Now()
	codeResult := tl.runStage(ctx, task, execution.StageCodeWriter, func(suffix string) subagent.Result {
		return tl.dispatcher.RunCodeWriter(ctx, tl.repoPath, taskPrompt+suffix)
	})
	tl.metrics.ObserveStage(string(execution.StageCodeWriter), stageStatus(codeResult.Success), time.Since(start).Seconds())
	if !codeResult.Success {
		res := tl.finish(ctx, task, Result{
			TaskID: task.TaskID, TaskTitle: task.Title, Success: false,
			CodeWriter: &codeResult,
			Error:      fmt.Sprintf("CodeWriter failed: %s", codeResult.Error),
		})
		markSpanResult(span, fmt.Errorf("%s", res.Error))
		return res
	}

	testPrompt := fmt.Sprintf("## Task: %s\n\nWrite unit tests for the implementation.\n\n%s", task.Title, task.Description)
	start = time.Now()
	testResult := tl.runStage(ctx, task, execution.StageUnitTester, func(suffix string) subagent.Result {
		return tl.dispatcher.RunUnitTester(ctx, tl.repoPath, testPrompt+suffix)
	})
	tl.metrics.ObserveStage(string(execution.StageUnitTester), stageStatus(testResult.Success), time.Since(start).Seconds())
	if !testResult.Success {
		res := tl.finish(ctx, task, Result{
			TaskID: task.TaskID, TaskTitle: task.Title, Success: false,
			CodeWriter: &codeResult, UnitTester: &testResult,
			Error: fmt.Sprintf("UnitTester failed: %s", testResult.Error),
		})
		markSpanResult(span, fmt.Errorf("%s", res.Error))
		return res
	}

	testCommands := task.TestCommands
	if len(testCommands) == 0 {
		testCommands = []string{"go test ./..."}
	}
	start = time.Now()
	qaResult := tl.runStage(ctx, task, execution.StageQATester, func(suffix string) subagent.Result {
		return tl.dispatcher.RunQATester(ctx, tl.repoPath, tl.businessSpec+suffix, testCommands)
	})
	tl.metrics.ObserveStage(string(execution.StageQATester), stageStatus(qaResult.Success), time.Since(start).Seconds())

	res := Result{
		TaskID: task.TaskID, TaskTitle: task.Title, Success: qaResult.Success,
		CodeWriter: &codeResult, UnitTester: &testResult, QATester: &qaResult,
	}
	if !qaResult.Success {
		res.Error = fmt.Sprintf("QATester failed: %s", qaResult.Error)
	}
	res = tl.finish(ctx, task, res)
	if !res.Success {
		markSpanResult(span, fmt.Errorf("%s", res.Error))
	} else {
		markSpanResult(span, nil)
	}
	return res
}

func (tl *TeamLead) finish(ctx context.Context, task Task, res Result) Result {
	stages := []execution.StageOutcome{}
	if res.CodeWriter != nil {
		stages = append(stages, execution.StageOutcome{Stage: execution.StageCodeWriter, Success: res.CodeWriter.Success, Output: res.CodeWriter.Output, Error: res.CodeWriter.Error})
	}
	if res.UnitTester != nil {
		stages = append(stages, execution.StageOutcome{Stage: execution.StageUnitTester, Success: res.UnitTester.Success, Output: res.UnitTester.Output, Error: res.UnitTester.Error})
	}
	if res.QATester != nil {
		stages = append(stages, execution.StageOutcome{Stage: execution.StageQATester, Success: res.QATester.Success, Output: res.QATester.Output, Error: res.QATester.Error})
	}

	if err := tl.guard.TaskCompleted(ctx, task.TaskID, res.Success, res.Artifact, res.Error, stages); err != nil {
		tl.log.Error("failed to checkpoint task %s: %v", task.TaskID, err)
	}
	return res
}

func stageStatus(success bool) string {
	if success {
		return "succeeded"
	}
	return "failed"
}

func failingStage(r Result) string {
	switch {
	case r.QATester != nil && !r.QATester.Success:
		return string(execution.StageQATester)
	case r.UnitTester != nil && !r.UnitTester.Success:
		return string(execution.StageUnitTester)
	case r.CodeWriter != nil && !r.CodeWriter.Success:
		return string(execution.StageCodeWriter)
	default:
		return "unknown"
	}
}

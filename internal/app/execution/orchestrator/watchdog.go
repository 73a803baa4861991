package orchestrator

import (
	"context"
	"fmt"
	"sync"

	"github.com/robfig/cron/v3"

	"execengine/internal/telemetry"
)

// Watchdog periodically checks every Team Lead for a current task that
// hasn't changed across two consecutive ticks and nudges it by cycling its
// pause gate, in case a pause was left set by a crashed operator call or a
// missed resume signal. Grounded on the teacher's use of robfig/cron/v3 for
// schedule parsing in internal/app/agent/kernel/engine.go (ValidateSchedule);
// this package additionally runs a live cron.Cron scheduler rather than
// only validating expressions.
type Watchdog struct {
	orch *Orchestrator
	log  telemetry.Logger
	cron *cron.Cron

	mu       sync.Mutex
	lastSeen map[string]string
}

// NewWatchdog constructs a Watchdog over orch. schedule is a standard
// 5-field cron expression (e.g. "*/5 * * * *").
func NewWatchdog(orch *Orchestrator, schedule string, log telemetry.Logger) (*Watchdog, error) {
	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)
	if _, err := parser.Parse(schedule); err != nil {
		return nil, fmt.Errorf("orchestrator: invalid watchdog schedule %q: %w", schedule, err)
	}

	w := &Watchdog{
		orch:     orch,
		log:      telemetry.OrNop(log).With("orchestrator-watchdog"),
		cron:     cron.New(),
		lastSeen: make(map[string]string),
	}
	if _, err := w.cron.AddFunc(schedule, w.tick); err != nil {
		return nil, fmt.Errorf("orchestrator: schedule watchdog: %w", err)
	}
	return w, nil
}

// Start begins the scheduler.
func (w *Watchdog) Start() { w.cron.Start() }

// Stop halts the scheduler and blocks until any in-flight tick finishes.
func (w *Watchdog) Stop() { <-w.cron.Stop().Done() }

func (w *Watchdog) tick() {
	status := w.orch.GetStatus()

	w.mu.Lock()
	defer w.mu.Unlock()

	for name, svc := range status.Services {
		if svc.Paused || svc.CurrentTask == "" {
			delete(w.lastSeen, name)
			continue
		}
		if w.lastSeen[name] == svc.CurrentTask {
			w.log.Warn("service %s appears stalled on %q, nudging its pause gate", name, svc.CurrentTask)
			w.orch.PauseService(context.Background(), name)
			w.orch.ResumeService(context.Background(), name)
		}
		w.lastSeen[name] = svc.CurrentTask
	}
}

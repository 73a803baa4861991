package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"execengine/internal/app/execution/blocker"
	"execengine/internal/app/execution/inbox"
	"execengine/internal/app/execution/orchestrator"
	"execengine/internal/app/execution/state"
	"execengine/internal/app/execution/statusbus"
	"execengine/internal/app/execution/subagent"
	"execengine/internal/app/execution/teamlead"
	infraexec "execengine/internal/infra/execution"
	"execengine/internal/infra/ticket"
	"execengine/internal/execonfig"
	"execengine/internal/telemetry"
	"execengine/internal/telemetry/metrics"
)

// watchdogSchedule is the cron expression the stall-detection watchdog
// runs on: every 5 minutes, frequent enough to catch a missed resume
// signal without nudging a task that's merely slow.
const watchdogSchedule = "*/5 * * * *"

func newStartCommand(flags func() cliFlags) *cobra.Command {
	var tasksPath string

	cmd := &cobra.Command{
		Use:   "start",
		Short: "Run (or resume) a project's task graph to completion",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStart(cmd, flags(), tasksPath)
		},
	}
	cmd.Flags().StringVar(&tasksPath, "tasks", "", "Task graph YAML (required for a brand-new project)")
	return cmd
}

func runStart(cmd *cobra.Command, f cliFlags, tasksPath string) error {
	cfg, err := loadConfig(f)
	if err != nil {
		return err
	}

	log, sync := newLogger(cfg.LogLevel)
	defer sync()

	ctx, cancel := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	store := infraexec.NewFileStore(cfg.CheckpointDir)
	m := metrics.MustNew(prometheus.DefaultRegisterer)
	bus := statusbus.New(log)
	ticketClient := ticket.New(cfg.Ticket.BaseURL, cfg.Ticket.APIKey, cfg.Ticket.TeamID)
	// No separate project-conventions document is configured; the business
	// spec doubles as the CodeWriter system prompt's project instructions.
	dispatcher := subagent.New(nil, cfg.BusinessSpec, cfg.MaxTurnsPerStage, log)

	exists, err := store.Exists(ctx, cfg.ProjectID)
	if err != nil {
		return fmt.Errorf("check checkpoint: %w", err)
	}

	var o *orchestrator.Orchestrator
	var guard *state.Guard
	var registry *blocker.Registry

	if exists {
		st, err := store.Load(ctx, cfg.ProjectID)
		if err != nil {
			return fmt.Errorf("load checkpoint: %w", err)
		}
		requeued := st.Recover()
		log.Info("recovered checkpoint for %s: %d in-flight tasks requeued", cfg.ProjectID, len(requeued))
		guard = state.NewGuard(st, store, log)
		registry = blocker.NewRegistry(ticketClient, guard, log)
		reconcileBlockers(ctx, guard, registry, ticketClient, log)

		o = orchestrator.FromExecutionState(orchestrator.RecoveryConfig{
			Guard:              guard,
			Bus:                bus,
			Metrics:            m,
			Log:                log,
			MaxConcurrentLeads: cfg.MaxConcurrentLeads,
			RepoPath:           cfg.RepoPath,
			BusinessSpec:       cfg.BusinessSpec,
			RetryCount:         cfg.RetryCount,
			Dispatcher:         dispatcher,
			Blockers:           registry,
		})
	} else {
		if tasksPath == "" {
			return errors.New("no checkpoint found for this project; --tasks is required to start fresh")
		}
		graph, err := execonfig.LoadTaskGraph(tasksPath)
		if err != nil {
			return err
		}
		st := graph.NewState()
		guard = state.NewGuard(st, store, log)
		registry = blocker.NewRegistry(ticketClient, guard, log)

		o = orchestrator.New(orchestrator.Config{
			ProjectID:          cfg.ProjectID,
			MaxConcurrentLeads: cfg.MaxConcurrentLeads,
			Guard:              guard,
			Bus:                bus,
			Metrics:            m,
			Log:                log,
		})
		for name := range st.Services {
			tasks := graph.TeamLeadTasks(name)
			lead := teamlead.New(teamlead.Config{
				ServiceName:  name,
				Tasks:        tasks,
				RepoPath:     cfg.RepoPath,
				BusinessSpec: cfg.BusinessSpec,
				RetryCount:   cfg.RetryCount,
				Guard:        guard,
				Dispatcher:   dispatcher,
				Blockers:     registry,
				Blocked:      o,
				Metrics:      m,
				Log:          log,
			})
			o.AddTeamLead(lead, len(tasks))
		}
	}

	watchdog, err := orchestrator.NewWatchdog(o, watchdogSchedule, log)
	if err != nil {
		return fmt.Errorf("start watchdog: %w", err)
	}
	watchdog.Start()
	defer watchdog.Stop()

	var webhookServer *http.Server
	if cfg.Webhook.Addr != "" {
		webhookServer = startWebhookServer(cfg.Webhook.Addr, cfg.Webhook.Secret, registry, log)
		defer webhookServer.Close()
	}

	o.Start(ctx)
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			log.Info("shutdown signal received, cancelling orchestrator")
			o.Shutdown()
		case <-done:
		}
	}()

	results := o.Wait()
	printSummary(cmd.OutOrStdout(), results)
	return nil
}

// reconcileBlockers re-registers every blocker a crash left unresolved and
// checks the ticket system for an answer that may have arrived while this
// process was down, resolving immediately against the latest comment found.
func reconcileBlockers(ctx context.Context, guard *state.Guard, registry *blocker.Registry, ticketClient *ticket.Client, log telemetry.Logger) {
	unresolved := guard.UnresolvedBlockers()
	for _, b := range unresolved {
		registry.Restore(b)
		if !ticketClient.Enabled() || b.TicketID == "" {
			continue
		}
		comments, err := ticketClient.GetIssueComments(ctx, b.TicketID)
		if err != nil {
			log.Warn("failed to fetch comments for blocker %s ticket %s: %v", b.BlockerID, b.TicketID, err)
			continue
		}
		if len(comments) == 0 {
			continue
		}
		latest := comments[len(comments)-1]
		if registry.Resolve(ctx, b.BlockerID, latest.Body) {
			log.Info("blocker %s resolved from a ticket comment received while offline", b.BlockerID)
		}
	}
}

// startWebhookServer serves the ticket system's inbound comment webhook on
// a bare net/http mux — this engine's HTTP surfaces stay off gin-gonic/gin,
// which belongs to the conversational-agent/TUI stack this tool does not
// share a process with.
func startWebhookServer(addr, secret string, registry *blocker.Registry, log telemetry.Logger) *http.Server {
	handler := inbox.New(registry, secret, log)
	mux := http.NewServeMux()
	mux.HandleFunc("/webhooks/ticket", func(w http.ResponseWriter, r *http.Request) {
		body, err := io.ReadAll(r.Body)
		if err != nil {
			http.Error(w, "read body", http.StatusBadRequest)
			return
		}
		resolved, err := handler.HandleWebhook(r.Context(), body, r.Header.Get("Linear-Signature"))
		if err != nil {
			http.Error(w, err.Error(), http.StatusUnauthorized)
			return
		}
		if resolved {
			w.WriteHeader(http.StatusOK)
		} else {
			w.WriteHeader(http.StatusAccepted)
		}
	})

	srv := &http.Server{Addr: addr, Handler: mux}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("webhook server stopped: %v", err)
		}
	}()
	log.Info("webhook listener started on %s", addr)
	return srv
}

func newLogger(level string) (telemetry.Logger, func()) {
	zcfg := zap.NewProductionConfig()
	if lvl, err := zap.ParseAtomicLevel(level); err == nil {
		zcfg.Level = lvl
	}
	base, err := zcfg.Build()
	if err != nil {
		return telemetry.Nop(), func() {}
	}
	return telemetry.NewZap(base, "execution-engine"), func() { _ = base.Sync() }
}

func printSummary(w io.Writer, results map[string][]teamlead.Result) {
	for service, rs := range results {
		for _, r := range rs {
			status := "succeeded"
			if !r.Success {
				status = "failed"
			}
			fmt.Fprintf(w, "%-20s %-30s %s\n", service, r.TaskTitle, statusColor(status))
		}
	}
}

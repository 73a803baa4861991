package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"execengine/internal/app/execution/state"
	"execengine/internal/execonfig"
	infraexec "execengine/internal/infra/execution"
	"execengine/internal/telemetry"
)

var errNoCheckpoint = errors.New("no checkpoint found for this project")

// openGuard loads an existing checkpoint and wraps it in a Guard, for the
// commands that operate on a project with no live orchestrator process —
// status, pause, resume, and retry all mutate or read the durable
// checkpoint directly rather than talking to a running daemon, since this
// engine has no control-plane IPC (see DESIGN.md's gin-gonic/gin note).
func openGuard(ctx context.Context, f cliFlags) (*state.Guard, *execonfig.Config, error) {
	cfg, err := loadConfig(f)
	if err != nil {
		return nil, nil, err
	}
	store := infraexec.NewFileStore(cfg.CheckpointDir)
	exists, err := store.Exists(ctx, cfg.ProjectID)
	if err != nil {
		return nil, nil, err
	}
	if !exists {
		return nil, nil, fmt.Errorf("%w: %s", errNoCheckpoint, cfg.ProjectID)
	}
	st, err := store.Load(ctx, cfg.ProjectID)
	if err != nil {
		return nil, nil, err
	}
	return state.NewGuard(st, store, telemetry.Nop()), cfg, nil
}

func newStatusCommand(flags func() cliFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Print the current execution state for a project",
		RunE: func(cmd *cobra.Command, args []string) error {
			guard, _, err := openGuard(cmd.Context(), flags())
			if err != nil {
				return err
			}
			printSnapshot(cmd, guard.Snapshot())
			return nil
		},
	}
}

func printSnapshot(cmd *cobra.Command, snap state.Snapshot) {
	w := cmd.OutOrStdout()
	fmt.Fprintf(w, "%s  total=%d succeeded=%d failed=%d pending=%d\n",
		bold(snap.ProjectID), snap.TotalTasks, snap.Succeeded, snap.Failed, snap.Pending)
	for name, svc := range snap.Services {
		current := "idle"
		if svc.CurrentlyRunning != "" {
			current = svc.CurrentlyRunning
		}
		paused := ""
		if svc.Paused {
			paused = yellow(" [paused]")
		}
		fmt.Fprintf(w, "  %-20s %d/%d  %s%s\n", name, svc.CompletedCount, svc.TotalCount, current, paused)
	}
}

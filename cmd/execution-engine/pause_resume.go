package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newPauseCommand(flags func() cliFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "pause [service]",
		Short: "Pause one service, or every service if none is named",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return setPaused(cmd, flags(), args, true)
		},
	}
}

func newResumeCommand(flags func() cliFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "resume [service]",
		Short: "Resume one service, or every service if none is named",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return setPaused(cmd, flags(), args, false)
		},
	}
}

func setPaused(cmd *cobra.Command, f cliFlags, args []string, paused bool) error {
	guard, _, err := openGuard(cmd.Context(), f)
	if err != nil {
		return err
	}

	services := args
	if len(services) == 0 {
		services = guard.ServiceNames()
	}

	ctx := cmd.Context()
	for _, name := range services {
		if err := guard.SetServicePaused(ctx, name, paused); err != nil {
			return err
		}
	}

	verb := "paused"
	if !paused {
		verb = "resumed"
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%s: %v\n", verb, services)
	return nil
}

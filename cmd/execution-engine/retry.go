package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newRetryCommand(flags func() cliFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "retry <service>",
		Short: "Requeue a service's failed tasks as pending",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			guard, _, err := openGuard(cmd.Context(), flags())
			if err != nil {
				return err
			}
			requeued, err := guard.RequeueFailed(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if len(requeued) == 0 {
				fmt.Fprintf(cmd.OutOrStdout(), "%s: no failed tasks to retry\n", args[0])
				return nil
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s: requeued %d task(s): %v\n", args[0], len(requeued), requeued)
			return nil
		},
	}
}

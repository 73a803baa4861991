// Command execution-engine runs the crash-recoverable, hierarchical task
// scheduler: an Orchestrator fanning out bounded, concurrent Team Leads,
// each driving its service's tasks through the CodeWriter/UnitTester/
// QATester pipeline. Grounded on cmd/cobra_cli.go's cobra+viper CLI shape
// and fatih/color output styling, applied here to a sober infra tool
// rather than the interactive assistant that file drives.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func main() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "%s %v\n", red("error:"), err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	var configPath string
	var projectID string
	var repoPath string
	var checkpointDir string

	root := &cobra.Command{
		Use:   "execution-engine",
		Short: "Crash-recoverable hierarchical task scheduler",
		Long: bold("execution-engine") + ` coordinates a project's task graph to
completion: an Orchestrator dispatches one Team Lead per service, each
running its tasks serially through a CodeWriter -> UnitTester -> QATester
pipeline, checkpointing progress after every step so a crash never loses
more than the task in flight.`,
	}

	root.PersistentFlags().StringVar(&configPath, "config", "", "Path to a YAML config file")
	root.PersistentFlags().StringVar(&projectID, "project", "", "Project id (overrides config)")
	root.PersistentFlags().StringVar(&repoPath, "repo", "", "Repository working directory (overrides config)")
	root.PersistentFlags().StringVar(&checkpointDir, "checkpoint-dir", "", "Checkpoint directory (overrides config)")

	flags := func() cliFlags {
		return cliFlags{configPath: configPath, projectID: projectID, repoPath: repoPath, checkpointDir: checkpointDir}
	}

	root.AddCommand(newStartCommand(flags))
	root.AddCommand(newStatusCommand(flags))
	root.AddCommand(newPauseCommand(flags))
	root.AddCommand(newResumeCommand(flags))
	root.AddCommand(newRetryCommand(flags))
	root.AddCommand(newVersionCommand())

	return root
}

// cliFlags are the persistent, config-overriding flags shared by every
// subcommand.
type cliFlags struct {
	configPath    string
	projectID     string
	repoPath      string
	checkpointDir string
}

func newVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the execution-engine version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Println("execution-engine (dev build)")
		},
	}
}

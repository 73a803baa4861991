package main

import (
	"fmt"

	"github.com/fatih/color"

	"execengine/internal/execonfig"
)

// Color definitions, matching cmd/cobra_cli.go's styling conventions but
// without that file's emoji-heavy register — this is a scriptable infra
// tool, not a conversational assistant.
var (
	green  = color.New(color.FgGreen).SprintFunc()
	yellow = color.New(color.FgYellow).SprintFunc()
	red    = color.New(color.FgRed).SprintFunc()
	gray   = color.New(color.FgHiBlack).SprintFunc()
	bold   = color.New(color.Bold).SprintFunc()
)

// loadConfig runs the full defaults -> file -> env -> flags precedence
// chain and returns the resolved Config.
func loadConfig(f cliFlags) (*execonfig.Config, error) {
	loader := execonfig.NewLoader()
	if err := loader.LoadFile(f.configPath); err != nil {
		return nil, err
	}
	if f.projectID != "" {
		loader.Override("project_id", f.projectID)
	}
	if f.repoPath != "" {
		loader.Override("repo_path", f.repoPath)
	}
	if f.checkpointDir != "" {
		loader.Override("checkpoint_dir", f.checkpointDir)
	}

	cfg, _, err := loader.Build()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	return cfg, nil
}

func statusColor(status string) string {
	switch status {
	case "succeeded":
		return green(status)
	case "failed":
		return red(status)
	case "blocked", "in-progress":
		return yellow(status)
	default:
		return gray(status)
	}
}

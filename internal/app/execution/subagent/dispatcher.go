// Package subagent launches the three sandboxed stage workers — CodeWriter,
// UnitTester, QATester — that make up a task's pipeline, grounded on
// original_source/.../worker/sub_agents.py. The real-output guard on a
// reported success is grounded on the teacher's
// containsSuccessfulRealToolExecution heuristic in
// internal/app/agent/kernel/executor.go.
package subagent

import (
	"context"
	"errors"
	"fmt"

	"execengine/internal/domain/execution"
	"execengine/internal/telemetry"
)

// maxRuntimeOutputChars bounds output/error text coming back from a
// Runtime call, before any further truncation at the checkpoint boundary.
const maxRuntimeOutputChars = 10000

// ErrRuntimeUnavailable is returned by a Runtime implementation (or
// substituted by the Dispatcher) when the underlying sub-agent execution
// environment cannot be reached at all.
var ErrRuntimeUnavailable = errors.New("subagent: runtime unavailable")

// DecisionError is returned by a Runtime's Run when the stage cannot
// proceed without a human answering Question first. The Dispatcher
// translates it into a blocked Result instead of a plain failure, so a
// Team Lead can raise it as a blocker and resume the stage once answered.
type DecisionError struct {
	Question string
}

func (e *DecisionError) Error() string {
	return fmt.Sprintf("needs human decision: %s", e.Question)
}

// Result is one stage's outcome, mirroring SubAgentResult from the original.
type Result struct {
	Success bool
	Output  string
	Error   string

	// Blocked is set when the stage cannot proceed without a human
	// decision; Question is the question to raise as a blocker for it.
	Blocked  bool
	Question string
}

// Runtime is the external sub-agent execution environment this engine
// dispatches stage work to. One call runs one stage to completion.
type Runtime interface {
	Run(ctx context.Context, systemPrompt, userPrompt, workingDir string, allowedTools []string, maxTurns int) (string, error)
}

var (
	writeCapableTools = []string{"read", "write", "edit", "bash", "glob", "grep"}
	readOnlyTools     = []string{"read", "bash", "glob", "grep"}
)

// Dispatcher launches stage workers against a Runtime, truncating their
// output and applying the real-output downgrade before handing results back
// to a Team Lead.
type Dispatcher struct {
	runtime  Runtime
	claudeMD string
	maxTurns int
	log      telemetry.Logger
}

// New constructs a Dispatcher. runtime may be nil — every stage then
// degrades gracefully to a failure result instead of panicking, matching
// the "sub-agent runtime missing" edge case.
func New(runtime Runtime, claudeMD string, maxTurns int, log telemetry.Logger) *Dispatcher {
	if maxTurns <= 0 {
		maxTurns = 20
	}
	return &Dispatcher{
		runtime:  runtime,
		claudeMD: claudeMD,
		maxTurns: maxTurns,
		log:      telemetry.OrNop(log).With("subagent-dispatcher"),
	}
}

// RunCodeWriter implements the task by writing code into workingDir.
func (d *Dispatcher) RunCodeWriter(ctx context.Context, workingDir, taskPrompt string) Result {
	system := fmt.Sprintf(
		"You are a CodeWriter agent. Implement the task described below precisely.\n"+
			"Follow the design signatures exactly.\n"+
			"Use shared utilities; never duplicate code.\n"+
			"Run the linter before finishing.\n\n"+
			"## Project Instructions\n%s\n\n## Working Directory\n%s\n",
		d.claudeMD, workingDir,
	)
	return d.run(ctx, execution.StageCodeWriter, system, taskPrompt, workingDir, writeCapableTools)
}

// RunUnitTester writes tests for code already written by RunCodeWriter.
func (d *Dispatcher) RunUnitTester(ctx context.Context, workingDir, taskPrompt string) Result {
	system := fmt.Sprintf(
		"You are a UnitTester agent. Write comprehensive unit tests for the implementation.\n"+
			"Test both happy paths and error cases.\n"+
			"Mock external services; never call real APIs.\n"+
			"Run the full test suite before finishing.\n\n"+
			"## Project Instructions\n%s\n\n## Working Directory\n%s\n",
		d.claudeMD, workingDir,
	)
	return d.run(ctx, execution.StageUnitTester, system, taskPrompt, workingDir, writeCapableTools)
}

// RunQATester validates the implementation purely from a business
// perspective, without code or technical architecture context, using only
// read-only tools plus the ability to run the given test commands.
func (d *Dispatcher) RunQATester(ctx context.Context, workingDir, businessSpec string, testCommands []string) Result {
	system := fmt.Sprintf(
		"You are a QATester agent. Validate the implementation against business specifications.\n"+
			"You do NOT have access to code or technical architecture.\n"+
			"Test from a USER perspective only.\n"+
			"Report results in business language.\n\n## Working Directory\n%s\n",
		workingDir,
	)

	prompt := fmt.Sprintf("## Business Specifications\n%s\n\n## Test Commands\nRun these to validate:\n", businessSpec)
	for _, cmd := range testCommands {
		prompt += fmt.Sprintf("- `%s`\n", cmd)
	}

	return d.run(ctx, execution.StageQATester, system, prompt, workingDir, readOnlyTools)
}

func (d *Dispatcher) run(ctx context.Context, stage execution.StageName, systemPrompt, userPrompt, workingDir string, tools []string) Result {
	ctx, span := startStageSpan(ctx, stage)
	defer span.End()

	if d.runtime == nil {
		d.log.Warn("%s: sub-agent runtime not configured, returning mock failure", stage)
		err := ErrRuntimeUnavailable
		markSpanResult(span, err)
		return Result{Success: false, Error: err.Error()}
	}

	output, err := d.runtime.Run(ctx, systemPrompt, userPrompt, workingDir, tools, d.maxTurns)
	if err != nil {
		var decision *DecisionError
		if errors.As(err, &decision) {
			d.log.Info("%s needs a human decision: %s", stage, decision.Question)
			markSpanBlocked(span, decision.Question)
			return Result{Blocked: true, Question: decision.Question}
		}
		d.log.Warn("%s failed: %v", stage, err)
		markSpanResult(span, err)
		return Result{Success: false, Error: truncate(err.Error())}
	}

	if !hasRealOutput(output) {
		d.log.Warn("%s reported success with no discernible output, downgrading to failure", stage)
		err := fmt.Errorf("%s: runtime reported success but produced no output", stage)
		markSpanResult(span, err)
		return Result{Success: false, Error: err.Error()}
	}

	markSpanResult(span, nil)
	return Result{Success: true, Output: truncate(output)}
}

// hasRealOutput applies the same defensive posture as the teacher's
// containsSuccessfulRealToolExecution: a bare "it worked" signal from the
// runtime is not trusted unless there is actual output behind it.
func hasRealOutput(output string) bool {
	for _, r := range output {
		if r != ' ' && r != '\t' && r != '\n' && r != '\r' {
			return true
		}
	}
	return false
}

func truncate(s string) string {
	if len(s) <= maxRuntimeOutputChars {
		return s
	}
	return s[:maxRuntimeOutputChars]
}

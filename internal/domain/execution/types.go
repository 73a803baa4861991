// Package execution defines the domain types for the execution engine:
// the crash-recoverable, hierarchical scheduler that drives a project's
// task graph to completion. State here is pure data — no I/O, no locking.
// Persistence lives in internal/infra/execution; the concurrent machinery
// that mutates this state lives in internal/app/execution/*.
package execution

import "time"

// TaskStatus is the lifecycle state of a single task.
type TaskStatus string

const (
	TaskPending    TaskStatus = "pending"
	TaskInProgress TaskStatus = "in-progress"
	TaskSucceeded  TaskStatus = "succeeded"
	TaskFailed     TaskStatus = "failed"
	TaskBlocked    TaskStatus = "blocked"
)

// StageName identifies one of the three stages of a task's sub-pipeline.
type StageName string

const (
	StageCodeWriter StageName = "code_writer"
	StageUnitTester StageName = "unit_tester"
	StageQATester   StageName = "qa_tester"
)

// maxStageOutputChars bounds the output/error text kept on a persisted
// StageOutcome. Longer text is truncated at the checkpoint boundary.
const maxStageOutputChars = 2000

// StageOutcome is the persisted record of one stage run within a task attempt.
type StageOutcome struct {
	Stage   StageName `json:"stage"`
	Success bool      `json:"success"`
	Output  string    `json:"output,omitempty"`
	Error   string    `json:"error,omitempty"`
}

// TruncatedOutcome returns a copy of o with Output/Error capped at
// maxStageOutputChars, matching the checkpoint's persistence contract
// (spec §3: "truncated output <=2,000 characters").
func TruncatedOutcome(o StageOutcome) StageOutcome {
	o.Output = truncate(o.Output, maxStageOutputChars)
	o.Error = truncate(o.Error, maxStageOutputChars)
	return o
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}

// Task is one unit of work within a service, processed by the three-stage
// pipeline (CodeWriter -> UnitTester -> QATester). Created by an external
// loader before execution starts; mutated only by its owning Team Lead.
type Task struct {
	TaskID       string         `json:"task_id"`
	Title        string         `json:"title"`
	ServiceName  string         `json:"service_name"`
	Status       TaskStatus     `json:"status"`
	Attempts     int            `json:"attempts"`
	StartedAt    string         `json:"started_at,omitempty"`
	CompletedAt  string         `json:"completed_at,omitempty"`
	Artifact     string         `json:"artifact,omitempty"`
	Error        string         `json:"error,omitempty"`
	StageResults []StageOutcome `json:"stage_results,omitempty"`

	// Description is the task prompt body handed to CodeWriter/UnitTester.
	// Not required by the checkpoint invariants but carried so a recovered
	// Orchestrator can still build a full task prompt; the original loader
	// is expected to repopulate it, so it is not persisted across restarts
	// (spec §4.5 from_execution_state rebuilds tasks with an empty
	// description deliberately).
	Description string `json:"-"`
}

// Service is a named, ordered unit of work executed serially by one Team Lead.
type Service struct {
	ServiceName       string   `json:"service_name"`
	TaskIDs           []string `json:"task_ids"`
	CompletedTaskIDs  []string `json:"completed_task_ids"`
	CurrentlyRunning  string   `json:"currently_running,omitempty"`
	Paused            bool     `json:"paused"`
}

// Blocker is a durable asynchronous wait-point awaiting a human decision
// that arrives out-of-band via the external ticket system.
type Blocker struct {
	BlockerID   string `json:"blocker_id"`
	ServiceName string `json:"service_name"`
	TaskID      string `json:"task_id"`
	Question    string `json:"question"`
	Context     string `json:"context,omitempty"`
	TicketID    string `json:"ticket_id,omitempty"`
	TicketURL   string `json:"ticket_url,omitempty"`
	Resolved    bool   `json:"resolved"`
	Answer      string `json:"answer,omitempty"`
}

// State is the top-level, on-disk aggregate: the single source of truth
// for everything the engine has done and has left to do.
type State struct {
	ProjectID string              `json:"project_id"`
	StartedAt string              `json:"started_at,omitempty"`
	UpdatedAt string              `json:"updated_at,omitempty"`
	Tasks     map[string]*Task    `json:"tasks"`
	Services  map[string]*Service `json:"services"`
	Blockers  map[string]*Blocker `json:"blockers"`

	// Derived counters. Never trusted from disk — recomputed by Recount
	// on every load and after every mutation (spec §3 invariant).
	TotalTasks int `json:"total_tasks"`
	Succeeded  int `json:"succeeded"`
	Failed     int `json:"failed"`
	Pending    int `json:"pending"`
}

// NewState creates an empty State ready to have tasks/services attached by
// an external loader.
func NewState(projectID string) *State {
	now := nowISO()
	return &State{
		ProjectID: projectID,
		StartedAt: now,
		UpdatedAt: now,
		Tasks:     make(map[string]*Task),
		Services:  make(map[string]*Service),
		Blockers:  make(map[string]*Blocker),
	}
}

// Recount recomputes the summary counters from task statuses. Called after
// every mutation and on every load — counters are never trusted from disk.
func (s *State) Recount() {
	s.Succeeded, s.Failed, s.Pending = 0, 0, 0
	for _, t := range s.Tasks {
		switch t.Status {
		case TaskSucceeded:
			s.Succeeded++
		case TaskFailed:
			s.Failed++
		case TaskPending, TaskInProgress, TaskBlocked:
			s.Pending++
		}
	}
	s.TotalTasks = len(s.Tasks)
}

// PendingTaskIDs returns the ordered subsequence of a service's task list
// whose tasks are pending or blocked.
func (s *State) PendingTaskIDs(serviceName string) []string {
	svc, ok := s.Services[serviceName]
	if !ok {
		return nil
	}
	var out []string
	for _, tid := range svc.TaskIDs {
		task, ok := s.Tasks[tid]
		if !ok {
			continue
		}
		if task.Status == TaskPending || task.Status == TaskBlocked {
			out = append(out, tid)
		}
	}
	return out
}

// TasksNeedingRequeue returns all task IDs currently marked in-progress.
// Used only during recovery.
func (s *State) TasksNeedingRequeue() []string {
	var out []string
	for tid, t := range s.Tasks {
		if t.Status == TaskInProgress {
			out = append(out, tid)
		}
	}
	return out
}

func nowISO() string {
	return time.Now().UTC().Format(time.RFC3339)
}

package execution

import "testing"

func newTestState() *State {
	s := NewState("proj-1")
	s.Services["api"] = &Service{ServiceName: "api", TaskIDs: []string{"t1", "t2"}}
	s.Tasks["t1"] = &Task{TaskID: "t1", ServiceName: "api", Status: TaskPending}
	s.Tasks["t2"] = &Task{TaskID: "t2", ServiceName: "api", Status: TaskPending}
	s.Recount()
	return s
}

func TestCheckpointTaskStartedBumpsAttemptsAndStatus(t *testing.T) {
	s := newTestState()

	s.CheckpointTaskStarted("t1")

	task := s.Tasks["t1"]
	if task.Status != TaskInProgress {
		t.Fatalf("status = %q, want in-progress", task.Status)
	}
	if task.Attempts != 1 {
		t.Fatalf("attempts = %d, want 1", task.Attempts)
	}
	if s.Services["api"].CurrentlyRunning != "t1" {
		t.Fatalf("service currently_running = %q, want t1", s.Services["api"].CurrentlyRunning)
	}
}

func TestCheckpointTaskCompletedSuccessUpdatesCountersAndCompletedList(t *testing.T) {
	s := newTestState()
	s.CheckpointTaskStarted("t1")

	s.CheckpointTaskCompleted("t1", true, "https://example.com/pr/1", "", []StageOutcome{
		{Stage: StageCodeWriter, Success: true, Output: "wrote file"},
	})

	if s.Tasks["t1"].Status != TaskSucceeded {
		t.Fatalf("status = %q, want succeeded", s.Tasks["t1"].Status)
	}
	if s.Succeeded != 1 {
		t.Fatalf("succeeded = %d, want 1", s.Succeeded)
	}
	svc := s.Services["api"]
	if len(svc.CompletedTaskIDs) != 1 || svc.CompletedTaskIDs[0] != "t1" {
		t.Fatalf("completed_task_ids = %v, want [t1]", svc.CompletedTaskIDs)
	}
	if svc.CurrentlyRunning != "" {
		t.Fatalf("currently_running = %q, want empty", svc.CurrentlyRunning)
	}
}

func TestCheckpointTaskCompletedTruncatesStageOutput(t *testing.T) {
	s := newTestState()
	big := make([]byte, maxStageOutputChars+500)
	for i := range big {
		big[i] = 'x'
	}
	s.CheckpointTaskCompleted("t1", false, "", "boom", []StageOutcome{
		{Stage: StageQATester, Success: false, Error: string(big)},
	})

	got := s.Tasks["t1"].StageResults[0].Error
	if len(got) != maxStageOutputChars {
		t.Fatalf("truncated error length = %d, want %d", len(got), maxStageOutputChars)
	}
}

func TestCheckpointBlockerLifecycle(t *testing.T) {
	s := newTestState()
	b := &Blocker{BlockerID: "bl1", ServiceName: "api", TaskID: "t1", Question: "which DB?"}

	s.CheckpointBlockerCreated(b)
	if s.Tasks["t1"].Status != TaskBlocked {
		t.Fatalf("status = %q, want blocked", s.Tasks["t1"].Status)
	}
	if len(s.UnresolvedBlockers()) != 1 {
		t.Fatalf("unresolved blockers = %d, want 1", len(s.UnresolvedBlockers()))
	}

	s.CheckpointBlockerResolved("bl1", "use postgres")
	if !s.Blockers["bl1"].Resolved {
		t.Fatal("blocker not marked resolved")
	}
	if s.Blockers["bl1"].Answer != "use postgres" {
		t.Fatalf("answer = %q, want %q", s.Blockers["bl1"].Answer, "use postgres")
	}
	if s.Tasks["t1"].Status != TaskPending {
		t.Fatalf("status = %q, want pending after resolution", s.Tasks["t1"].Status)
	}
	if len(s.UnresolvedBlockers()) != 0 {
		t.Fatalf("unresolved blockers = %d, want 0", len(s.UnresolvedBlockers()))
	}
}

func TestRecoverResetsInProgressTasks(t *testing.T) {
	s := newTestState()
	s.CheckpointTaskStarted("t1")
	s.CheckpointTaskStarted("t2")

	requeued := s.Recover()

	if len(requeued) != 2 {
		t.Fatalf("requeued = %v, want 2 entries", requeued)
	}
	for _, tid := range []string{"t1", "t2"} {
		task := s.Tasks[tid]
		if task.Status != TaskPending {
			t.Fatalf("task %s status = %q, want pending", tid, task.Status)
		}
		if task.StartedAt != "" {
			t.Fatalf("task %s started_at not cleared", tid)
		}
	}
	if s.Services["api"].CurrentlyRunning != "" {
		t.Fatal("service currently_running not cleared after recovery")
	}
}

func TestPendingTaskIDsExcludesTerminalStatuses(t *testing.T) {
	s := newTestState()
	s.Tasks["t1"].Status = TaskSucceeded
	s.Tasks["t2"].Status = TaskBlocked

	pending := s.PendingTaskIDs("api")
	if len(pending) != 1 || pending[0] != "t2" {
		t.Fatalf("pending = %v, want [t2]", pending)
	}
}

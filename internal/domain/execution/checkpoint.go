package execution

// This file carries the State mutation methods that correspond to the
// Python prototype's checkpoint_* methods: the points where a Team Lead's
// view of a task's progress becomes durable fact. All of them update
// UpdatedAt and call Recount themselves — callers never need to remember to.

// CheckpointTaskStarted marks a task in-progress and bumps its attempt
// counter. Attempts accumulate across retries within a single process
// lifetime; a crash before the matching CheckpointTaskCompleted leaves the
// task in-progress on disk, which Recover resets to pending.
func (s *State) CheckpointTaskStarted(taskID string) {
	t, ok := s.Tasks[taskID]
	if !ok {
		return
	}
	t.Status = TaskInProgress
	t.Attempts++
	t.StartedAt = nowISO()
	if svc, ok := s.Services[t.ServiceName]; ok {
		svc.CurrentlyRunning = taskID
	}
	s.touch()
}

// CheckpointTaskCompleted records the terminal outcome of a task attempt:
// success or failure, the artifact reference (e.g. a PR URL), the
// stage-by-stage results, and an error message when it failed.
func (s *State) CheckpointTaskCompleted(taskID string, success bool, artifact, errMsg string, stages []StageOutcome) {
	t, ok := s.Tasks[taskID]
	if !ok {
		return
	}
	if success {
		t.Status = TaskSucceeded
	} else {
		t.Status = TaskFailed
	}
	t.CompletedAt = nowISO()
	t.Artifact = artifact
	t.Error = errMsg
	t.StageResults = make([]StageOutcome, len(stages))
	for i, st := range stages {
		t.StageResults[i] = TruncatedOutcome(st)
	}

	if svc, ok := s.Services[t.ServiceName]; ok {
		svc.CompletedTaskIDs = append(svc.CompletedTaskIDs, taskID)
		svc.CurrentlyRunning = ""
	}
	s.touch()
}

// CheckpointBlockerCreated records a new blocker awaiting resolution and
// moves its task to blocked. b.TaskID identifies the task waiting on it.
func (s *State) CheckpointBlockerCreated(b *Blocker) {
	s.Blockers[b.BlockerID] = b
	if t, ok := s.Tasks[b.TaskID]; ok {
		t.Status = TaskBlocked
	}
	s.touch()
}

// CheckpointBlockerResolved records the answer to a blocker and returns its
// task to pending so its Team Lead can pick it back up.
func (s *State) CheckpointBlockerResolved(blockerID, answer string) {
	b, ok := s.Blockers[blockerID]
	if !ok {
		return
	}
	b.Resolved = true
	b.Answer = answer
	if t, ok := s.Tasks[b.TaskID]; ok && t.Status == TaskBlocked {
		t.Status = TaskPending
	}
	s.touch()
}

func (s *State) touch() {
	s.UpdatedAt = nowISO()
	s.Recount()
}

// Recover applies restart-recovery semantics to a loaded state in place:
// every task left in-progress (the process died mid-attempt) is reset to
// pending so its Team Lead retries it from scratch, and its start/complete/
// current-task bookkeeping is cleared. Blocker reconciliation against the
// external ticket system happens one layer up, in the process wiring that
// owns both a Guard and a ticket client, since it requires a network round
// trip this package deliberately avoids.
func (s *State) Recover() []string {
	requeued := s.TasksNeedingRequeue()
	for _, tid := range requeued {
		t := s.Tasks[tid]
		t.Status = TaskPending
		t.StartedAt = ""
		t.CompletedAt = ""
		if svc, ok := s.Services[t.ServiceName]; ok && svc.CurrentlyRunning == tid {
			svc.CurrentlyRunning = ""
		}
	}
	s.touch()
	return requeued
}

// RequeueFailedTasks resets every failed task belonging to serviceName back
// to pending, clearing its prior completion bookkeeping so a Team Lead
// re-attempts it as if it had never run. Unlike Recover, this never runs
// automatically on restart — a failed task stays failed until an operator
// explicitly asks for a retry, per this engine's recovery policy.
func (s *State) RequeueFailedTasks(serviceName string) []string {
	svc, ok := s.Services[serviceName]
	if !ok {
		return nil
	}
	var requeued []string
	for _, tid := range svc.TaskIDs {
		t, ok := s.Tasks[tid]
		if !ok || t.Status != TaskFailed {
			continue
		}
		t.Status = TaskPending
		t.StartedAt = ""
		t.CompletedAt = ""
		t.Error = ""
		t.StageResults = nil
		requeued = append(requeued, tid)
	}
	s.touch()
	return requeued
}

// UnresolvedBlockers returns every blocker not yet marked resolved, for the
// caller to reconcile against the external ticket system on recovery.
func (s *State) UnresolvedBlockers() []*Blocker {
	var out []*Blocker
	for _, b := range s.Blockers {
		if !b.Resolved {
			out = append(out, b)
		}
	}
	return out
}

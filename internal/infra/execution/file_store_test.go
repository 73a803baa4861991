package execution

import (
	"context"
	"errors"
	"testing"

	"execengine/internal/domain/execution"
)

func TestFileStoreLoadMissingReturnsNotFound(t *testing.T) {
	store := NewFileStore(t.TempDir())

	_, err := store.Load(context.Background(), "proj-missing")
	if !errors.Is(err, execution.ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestFileStoreSaveThenLoadRoundTrips(t *testing.T) {
	store := NewFileStore(t.TempDir())
	ctx := context.Background()

	st := execution.NewState("proj-1")
	st.Tasks["t1"] = &execution.Task{TaskID: "t1", ServiceName: "api", Status: execution.TaskPending}
	st.Services["api"] = &execution.Service{ServiceName: "api", TaskIDs: []string{"t1"}}

	if err := store.Save(ctx, st); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	loaded, err := store.Load(ctx, "proj-1")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if loaded.ProjectID != "proj-1" {
		t.Fatalf("project id = %q, want proj-1", loaded.ProjectID)
	}
	if loaded.Tasks["t1"].Status != execution.TaskPending {
		t.Fatalf("task status = %q, want pending", loaded.Tasks["t1"].Status)
	}
	if loaded.TotalTasks != 1 {
		t.Fatalf("total_tasks = %d, want 1 (recomputed on load)", loaded.TotalTasks)
	}
}

func TestFileStoreExists(t *testing.T) {
	store := NewFileStore(t.TempDir())
	ctx := context.Background()

	ok, err := store.Exists(ctx, "proj-1")
	if err != nil {
		t.Fatalf("Exists() error = %v", err)
	}
	if ok {
		t.Fatal("Exists() = true before any save")
	}

	if err := store.Save(ctx, execution.NewState("proj-1")); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	ok, err = store.Exists(ctx, "proj-1")
	if err != nil {
		t.Fatalf("Exists() error = %v", err)
	}
	if !ok {
		t.Fatal("Exists() = false after save")
	}
}

func TestFileStoreSaveRequiresProjectID(t *testing.T) {
	store := NewFileStore(t.TempDir())
	st := execution.NewState("")

	if err := store.Save(context.Background(), st); err == nil {
		t.Fatal("Save() with empty project id: want error, got nil")
	}
}

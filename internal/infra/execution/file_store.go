// Package execution provides a file-backed implementation of the
// execution.Store port: one atomically-written JSON checkpoint per project,
// grounded on internal/infra/kernel's FileStore (same in-memory-map-plus-
// atomic-rename shape, adapted to key by project instead of dispatch).
package execution

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"

	"execengine/internal/domain/execution"
	"execengine/internal/infra/filestore"
	jsonx "execengine/internal/shared/json"
)

// FileStore is a file-backed execution.Store. Each project gets its own
// JSON file under dir, named <project_id>.json, written via temp-file+rename
// so a crash mid-write never leaves a half-written checkpoint on disk.
type FileStore struct {
	mu   sync.RWMutex
	dir  string
	// cache holds the last-loaded/saved state per project so repeated
	// Exists/Load calls in the same process don't re-stat the filesystem
	// needlessly; Save always goes through to disk.
	cache map[string]*execution.State
}

// NewFileStore creates a checkpoint store rooted at dir. dir is created
// lazily on first write.
func NewFileStore(dir string) *FileStore {
	return &FileStore{
		dir:   dir,
		cache: make(map[string]*execution.State),
	}
}

func (s *FileStore) pathFor(projectID string) string {
	return filepath.Join(s.dir, projectID+".json")
}

// Load reads the checkpoint for projectID, returning execution.ErrNotFound
// if none has ever been saved.
func (s *FileStore) Load(ctx context.Context, projectID string) (*execution.State, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	data, err := filestore.ReadFileOrEmpty(s.pathFor(projectID))
	if err != nil {
		return nil, fmt.Errorf("read execution checkpoint: %w", err)
	}
	if len(data) == 0 {
		return nil, execution.ErrNotFound
	}

	var st execution.State
	if err := jsonx.Unmarshal(data, &st); err != nil {
		return nil, fmt.Errorf("decode execution checkpoint: %w", err)
	}
	if st.Tasks == nil {
		st.Tasks = make(map[string]*execution.Task)
	}
	if st.Services == nil {
		st.Services = make(map[string]*execution.Service)
	}
	if st.Blockers == nil {
		st.Blockers = make(map[string]*execution.Blocker)
	}
	st.Recount()

	s.mu.Lock()
	s.cache[projectID] = &st
	s.mu.Unlock()

	return &st, nil
}

// Save atomically persists state, overwriting any prior checkpoint for the
// same project.
func (s *FileStore) Save(ctx context.Context, state *execution.State) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if state == nil || state.ProjectID == "" {
		return fmt.Errorf("save execution checkpoint: project id is required")
	}

	state.Recount()
	data, err := jsonx.MarshalIndent(state, "", "  ")
	if err != nil {
		return fmt.Errorf("encode execution checkpoint: %w", err)
	}
	data = append(data, '\n')

	path := s.pathFor(state.ProjectID)
	if err := filestore.AtomicWrite(path, data, 0o600); err != nil {
		return fmt.Errorf("write execution checkpoint: %w", err)
	}

	s.mu.Lock()
	s.cache[state.ProjectID] = state
	s.mu.Unlock()
	return nil
}

// Exists reports whether a checkpoint file is present for projectID.
func (s *FileStore) Exists(ctx context.Context, projectID string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	s.mu.RLock()
	if _, ok := s.cache[projectID]; ok {
		s.mu.RUnlock()
		return true, nil
	}
	s.mu.RUnlock()

	data, err := filestore.ReadFileOrEmpty(s.pathFor(projectID))
	if err != nil {
		return false, fmt.Errorf("stat execution checkpoint: %w", err)
	}
	return len(data) > 0, nil
}

var _ execution.Store = (*FileStore)(nil)

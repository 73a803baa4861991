package execconfig

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"execengine/internal/telemetry"
)

// Watcher hot-reloads a Config from its source file on change, debouncing
// bursts of filesystem events into a single reload. Grounded on the
// teacher's internal/config/runtime_watcher.go, simplified to this
// package's single-file, single-loader shape.
type Watcher struct {
	path     string
	loader   *Loader
	log      telemetry.Logger
	debounce time.Duration

	mu      sync.Mutex
	fsw     *fsnotify.Watcher
	timer   *time.Timer
	stopped chan struct{}
	onClose sync.Once

	updates chan *Config
}

// NewWatcher constructs a Watcher over path, reusing loader for every
// reload so defaults/env/overrides stay applied consistently.
func NewWatcher(path string, loader *Loader, log telemetry.Logger, debounce time.Duration) (*Watcher, error) {
	if path == "" {
		return nil, fmt.Errorf("execconfig: watch path required")
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("execconfig: resolve watch path: %w", err)
	}
	if debounce <= 0 {
		debounce = 750 * time.Millisecond
	}
	return &Watcher{
		path:     filepath.Clean(abs),
		loader:   loader,
		log:      telemetry.OrNop(log).With("execconfig-watcher"),
		debounce: debounce,
		stopped:  make(chan struct{}),
		updates:  make(chan *Config, 1),
	}, nil
}

// Updates returns the channel that receives a freshly reloaded Config
// after each debounced file change.
func (w *Watcher) Updates() <-chan *Config {
	return w.updates
}

// Start begins watching the parent directory of the config file. Watching
// the directory (not the file) survives editors that replace the file via
// rename-on-save instead of writing in place.
func (w *Watcher) Start(ctx context.Context) error {
	w.mu.Lock()
	if w.fsw != nil {
		w.mu.Unlock()
		return nil
	}
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		w.mu.Unlock()
		return fmt.Errorf("execconfig: create watcher: %w", err)
	}
	w.fsw = fsw
	w.mu.Unlock()

	if err := fsw.Add(filepath.Dir(w.path)); err != nil {
		_ = fsw.Close()
		w.mu.Lock()
		w.fsw = nil
		w.mu.Unlock()
		return fmt.Errorf("execconfig: watch directory: %w", err)
	}

	go w.loop()
	go func() {
		<-ctx.Done()
		w.Stop()
	}()
	return nil
}

// Stop terminates the watcher and releases its inotify/kqueue handle.
func (w *Watcher) Stop() {
	w.onClose.Do(func() {
		close(w.stopped)
		w.mu.Lock()
		if w.timer != nil {
			w.timer.Stop()
		}
		if w.fsw != nil {
			_ = w.fsw.Close()
		}
		w.mu.Unlock()
	})
}

func (w *Watcher) loop() {
	for {
		select {
		case <-w.stopped:
			return
		case event, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			w.handleEvent(event)
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			w.log.Warn("config watcher error: %v", err)
		}
	}
}

func (w *Watcher) handleEvent(event fsnotify.Event) {
	if filepath.Clean(event.Name) != w.path {
		return
	}
	if event.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Rename) == 0 {
		return
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	if w.timer != nil {
		w.timer.Stop()
	}
	w.timer = time.AfterFunc(w.debounce, w.reload)
}

func (w *Watcher) reload() {
	select {
	case <-w.stopped:
		return
	default:
	}

	if err := w.loader.LoadFile(w.path); err != nil {
		w.log.Warn("config reload failed: %v", err)
		return
	}
	cfg, _, err := w.loader.Build()
	if err != nil {
		w.log.Warn("config reload produced invalid config: %v", err)
		return
	}

	select {
	case w.updates <- cfg:
	default:
		// Drop the stale pending update in favor of the fresh one.
		select {
		case <-w.updates:
		default:
		}
		w.updates <- cfg
	}
	w.log.Info("configuration reloaded from %s", w.path)
}

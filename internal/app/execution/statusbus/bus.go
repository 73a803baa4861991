// Package statusbus pushes per-task, batch, and blocker messages to
// subscribed observers. The observer-replacement rule — attaching a new
// observer under a key already in use closes the old one first — is
// grounded on original_source/.../ws/connection_manager.py's connect()
// method.
package statusbus

import (
	"sync"

	"execengine/internal/telemetry"
)

// WorkerStatus is the per-task message shape from the published observer
// protocol.
type WorkerStatus struct {
	TaskID      string  `json:"task_id"`
	TaskTitle   string  `json:"task_title"`
	ServiceName string  `json:"service_name"`
	WorkerID    string  `json:"worker_id"`
	Status      string  `json:"status"` // queued|running|pr_opened|succeeded|failed|retrying
	PRURL       string  `json:"pr_url,omitempty"`
	Error       string  `json:"error,omitempty"`
	Progress    float64 `json:"progress"`
}

// WorkerBatch is the aggregate counters message shape.
type WorkerBatch struct {
	TotalTasks int `json:"total_tasks"`
	Queued     int `json:"queued"`
	Running    int `json:"running"`
	Succeeded  int `json:"succeeded"`
	Failed     int `json:"failed"`
	Blocked    int `json:"blocked"`
}

// BlockerNotification announces a new or resolved blocker.
type BlockerNotification struct {
	BlockerID   string `json:"blocker_id"`
	ServiceName string `json:"service_name"`
	Question    string `json:"question"`
	TicketURL   string `json:"linear_issue_url,omitempty"`
	Resolved    bool   `json:"resolved"`
}

// Observer is one subscriber's outbound connection. Implementations adapt
// this onto a real transport (see the wstransport subpackage for a
// WebSocket adapter).
type Observer interface {
	// Send delivers one message, returning false (not an error) on any
	// failure — matching the engine's at-most-once, best-effort delivery
	// contract: the bus logs a false result and continues.
	Send(message any) bool
	// Close releases the underlying connection.
	Close()
}

// Bus is the push-protocol hub: one Observer per project/subscriber key.
// Registering a new observer under a key already in use replaces and
// closes the old one, so two simultaneous observers for the same key never
// silently race for the same subscriber slot.
type Bus struct {
	mu        sync.Mutex
	observers map[string]Observer
	log       telemetry.Logger
}

// New constructs an empty Bus.
func New(log telemetry.Logger) *Bus {
	return &Bus{
		observers: make(map[string]Observer),
		log:       telemetry.OrNop(log).With("status-bus"),
	}
}

// Register attaches observer under key, closing and replacing any observer
// already registered under the same key.
func (b *Bus) Register(key string, observer Observer) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if existing, ok := b.observers[key]; ok {
		b.log.Info("replacing existing observer connection for %s", key)
		existing.Close()
	}
	b.observers[key] = observer
}

// Unregister removes and closes the observer for key, if any.
func (b *Bus) Unregister(key string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if existing, ok := b.observers[key]; ok {
		existing.Close()
		delete(b.observers, key)
	}
}

// IsRegistered reports whether key currently has an observer attached.
func (b *Bus) IsRegistered(key string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	_, ok := b.observers[key]
	return ok
}

// Send delivers message to the observer at key, returning true only if an
// observer was present and accepted it. Failures are logged, never raised
// — matching the at-most-once best-effort delivery contract.
func (b *Bus) Send(key string, message any) bool {
	b.mu.Lock()
	observer, ok := b.observers[key]
	b.mu.Unlock()
	if !ok {
		return false
	}
	if !observer.Send(message) {
		b.log.Warn("failed to deliver message to observer %s", key)
		b.Unregister(key)
		return false
	}
	return true
}

// Package blocker holds the in-memory table of pending blockers and the
// one-shot latch semantics a Team Lead waits on, grounded on
// original_source/.../worker/blocker.py's module-level PendingBlocker
// registry, adapted into a Go type with channel-based events instead of a
// module-global dict and asyncio.Event. Unlike the original, Create and
// Resolve/ResolveByTicketID also checkpoint the blocker's lifecycle through
// an optional state.Guard, so a blocker's existence and resolution survive a
// crash the same way a task's does.
package blocker

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"execengine/internal/app/execution/state"
	"execengine/internal/domain/execution"
	"execengine/internal/infra/ticket"
	"execengine/internal/telemetry"
)

// Pending is a blocker awaiting resolution. Resolved is a one-shot latch:
// closing it exactly once wakes every goroutine blocked in Wait. Mirrors
// PendingBlocker.event from the original, whose asyncio.Event starts unset
// and is .set() on resolution.
type Pending struct {
	execution.Blocker

	resolved chan struct{}
	once     sync.Once
}

// Wait blocks until the blocker is resolved or ctx is cancelled, returning
// the answer text on resolution.
func (p *Pending) Wait(ctx context.Context) (string, error) {
	select {
	case <-p.resolved:
		return p.Answer, nil
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

func (p *Pending) resolve(answer string) {
	p.Answer = answer
	p.Resolved = true
	p.once.Do(func() { close(p.resolved) })
}

// Registry is the process-wide table of blockers currently awaiting a
// human answer, plus the ticket-system client used to file and read
// tickets for them. Safe for concurrent use.
type Registry struct {
	mu      sync.RWMutex
	pending map[string]*Pending
	tickets *ticket.Client
	guard   *state.Guard
	log     telemetry.Logger
}

// NewRegistry constructs a Registry. tickets may be a disabled client
// (ticket.Client.Enabled() == false); blockers are still tracked locally,
// just never filed externally. guard may be nil in tests that don't care
// about crash durability; a live Registry is always given one so a
// blocker's creation and resolution are checkpointed to disk.
func NewRegistry(tickets *ticket.Client, guard *state.Guard, log telemetry.Logger) *Registry {
	return &Registry{
		pending: make(map[string]*Pending),
		tickets: tickets,
		guard:   guard,
		log:     telemetry.OrNop(log).With("blocker-registry"),
	}
}

// newBlockerID mirrors the original's uuid.uuid4().hex[:8] short IDs.
func newBlockerID() string {
	return uuid.NewString()[:8]
}

// Create registers a new blocker for taskID, optionally filing a ticket for
// it when the ticket client is enabled, and checkpoints it through the
// Registry's Guard (if any) so the blocker and its task's transition to
// blocked survive a crash. Ticket-creation failures are logged and
// swallowed — the blocker still exists locally and can be resolved
// directly, matching the original's "catch exceptions, continue with an
// empty issue id" behavior.
func (r *Registry) Create(ctx context.Context, serviceName, taskID, question, blockerContext string) *Pending {
	p := &Pending{
		Blocker: execution.Blocker{
			BlockerID:   newBlockerID(),
			ServiceName: serviceName,
			TaskID:      taskID,
			Question:    question,
			Context:     blockerContext,
		},
		resolved: make(chan struct{}),
	}

	if r.tickets.Enabled() {
		title := ticket.TruncatedTitle(question)
		description := fmt.Sprintf("Service: %s\n\nQuestion: %s", serviceName, question)
		if blockerContext != "" {
			description += fmt.Sprintf("\n\nContext: %s", blockerContext)
		}
		description += "\n\nReply in a comment to resolve this blocker."

		issue, err := r.tickets.CreateIssue(ctx, title, description)
		if err != nil {
			r.log.Warn("failed to create ticket for blocker %s: %v", p.BlockerID, err)
		} else {
			p.TicketID = issue.ID
			p.TicketURL = issue.URL
		}
	}

	r.mu.Lock()
	r.pending[p.BlockerID] = p
	r.mu.Unlock()

	if r.guard != nil {
		if err := r.guard.BlockerCreated(ctx, p.Blocker); err != nil {
			r.log.Error("failed to checkpoint blocker %s: %v", p.BlockerID, err)
		}
	}

	r.log.Info("blocker %s created for service %s", p.BlockerID, serviceName)
	return p
}

// Restore re-registers a blocker recovered from a checkpoint (unresolved at
// the time of a crash) so it can be waited on again.
func (r *Registry) Restore(b execution.Blocker) *Pending {
	p := &Pending{Blocker: b, resolved: make(chan struct{})}
	if b.Resolved {
		p.once.Do(func() { close(p.resolved) })
	}
	r.mu.Lock()
	r.pending[b.BlockerID] = p
	r.mu.Unlock()
	return p
}

// Get returns the pending blocker for id, if any.
func (r *Registry) Get(id string) (*Pending, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.pending[id]
	return p, ok
}

// Resolve answers a blocker by id, waking anything waiting on it and
// checkpointing the resolution through the Registry's Guard (if any).
// Returns false if no such blocker is registered.
func (r *Registry) Resolve(ctx context.Context, id, answer string) bool {
	r.mu.RLock()
	p, ok := r.pending[id]
	r.mu.RUnlock()
	if !ok {
		return false
	}
	p.resolve(answer)
	if r.guard != nil {
		if err := r.guard.BlockerResolved(ctx, id, answer); err != nil {
			r.log.Error("failed to checkpoint blocker resolution %s: %v", id, err)
		}
	}
	r.log.Info("blocker %s resolved", id)
	return true
}

// ResolveByTicketID scans for the blocker whose TicketID matches and
// resolves it — the path an inbound ticket-system webhook comment uses,
// since the webhook only knows the ticket id, not the blocker id.
func (r *Registry) ResolveByTicketID(ctx context.Context, ticketID, answer string) bool {
	r.mu.RLock()
	var match *Pending
	for _, p := range r.pending {
		if p.TicketID == ticketID {
			match = p
			break
		}
	}
	r.mu.RUnlock()
	if match == nil {
		return false
	}
	match.resolve(answer)
	if r.guard != nil {
		if err := r.guard.BlockerResolved(ctx, match.BlockerID, answer); err != nil {
			r.log.Error("failed to checkpoint blocker resolution %s: %v", match.BlockerID, err)
		}
	}
	r.log.Info("blocker %s resolved via ticket %s", match.BlockerID, ticketID)
	return true
}

// Cleanup removes a blocker from the registry once its Team Lead has
// consumed the resolution and moved its task back to pending.
func (r *Registry) Cleanup(id string) {
	r.mu.Lock()
	delete(r.pending, id)
	r.mu.Unlock()
}

// Pending returns every blocker not yet resolved.
func (r *Registry) PendingBlockers() []*Pending {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Pending, 0, len(r.pending))
	for _, p := range r.pending {
		if !p.Resolved {
			out = append(out, p)
		}
	}
	return out
}

// Count returns the number of blockers currently tracked, resolved or not.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.pending)
}

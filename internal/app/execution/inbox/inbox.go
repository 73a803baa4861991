// Package inbox wires an inbound ticket-system webhook to the blocker
// registry: verify signature, parse the comment, resolve the matching
// blocker. Grounded on original_source/.../linear/webhook.py's
// handle_comment_created dispatch.
package inbox

import (
	"context"
	"crypto/sha256"
	"encoding/hex"

	lru "github.com/hashicorp/golang-lru/v2"

	"execengine/internal/app/execution/blocker"
	"execengine/internal/infra/ticket"
	"execengine/internal/telemetry"
)

// dedupCacheSize bounds the "recently processed" delivery set so repeat
// webhook deliveries (the ticket system retries on anything but 2xx) don't
// re-resolve an already-answered blocker. Unbounded growth of a raw set
// was the original's risk; a fixed-size LRU caps it without needing a
// separate eviction timer.
const dedupCacheSize = 512

// Handler verifies and routes inbound ticket webhooks to a blocker.Registry.
type Handler struct {
	registry *blocker.Registry
	secret   string
	log      telemetry.Logger
	seen     *lru.Cache[string, struct{}]
}

// New constructs a Handler. secret may be empty only in environments where
// the webhook endpoint itself is not exposed; VerifySignature will then
// reject every delivery, which is the safe default.
func New(registry *blocker.Registry, secret string, log telemetry.Logger) *Handler {
	seen, _ := lru.New[string, struct{}](dedupCacheSize)
	return &Handler{
		registry: registry,
		secret:   secret,
		log:      telemetry.OrNop(log).With("ticket-inbox"),
		seen:     seen,
	}
}

// HandleWebhook verifies body's signature, and if it is a fresh
// comment-created event referencing a known blocker's ticket, resolves
// that blocker with the comment text as the answer. Returns whether a
// blocker was resolved.
func (h *Handler) HandleWebhook(ctx context.Context, body []byte, signatureHeader string) (bool, error) {
	if err := ticket.VerifySignature(body, signatureHeader, h.secret); err != nil {
		return false, err
	}

	payload, err := ticket.ParseCommentCreated(body)
	if err != nil {
		return false, err
	}
	if !payload.IsCommentCreated() {
		return false, nil
	}

	issueID := payload.IssueID()
	if issueID == "" {
		return false, nil
	}

	key := deliveryKey(issueID, payload.Data.Body)
	if _, ok := h.seen.Get(key); ok {
		h.log.Info("duplicate webhook delivery for issue %s, ignoring", issueID)
		return false, nil
	}
	h.seen.Add(key, struct{}{})

	resolved := h.registry.ResolveByTicketID(ctx, issueID, payload.Data.Body)
	if !resolved {
		h.log.Warn("comment on issue %s does not match any pending blocker", issueID)
	}
	return resolved, nil
}

func deliveryKey(issueID, body string) string {
	sum := sha256.Sum256([]byte(body))
	return issueID + ":" + hex.EncodeToString(sum[:8])
}

package ticket

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
)

// ErrInvalidSignature is returned by VerifySignature when the supplied
// signature does not match the computed HMAC for the request body.
var ErrInvalidSignature = errors.New("ticket webhook: invalid signature")

// VerifySignature checks an inbound webhook's HMAC-SHA256 signature against
// the raw request body, matching the original's
// hmac.new(secret, body, sha256).hexdigest() comparison via a
// constant-time hmac.Equal.
func VerifySignature(body []byte, signatureHeader, secret string) error {
	if secret == "" {
		return errors.New("ticket webhook: no secret configured")
	}
	if signatureHeader == "" {
		return ErrInvalidSignature
	}
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	expected := hex.EncodeToString(mac.Sum(nil))
	if !hmac.Equal([]byte(expected), []byte(signatureHeader)) {
		return ErrInvalidSignature
	}
	return nil
}

// CommentCreatedPayload is the subset of an inbound webhook payload this
// engine cares about: a new comment, which may answer a blocker. Mirrors
// the shape read by the original's handle_comment_created.
type CommentCreatedPayload struct {
	Action       string `json:"action"`
	Type         string `json:"type"`
	Data         struct {
		IssueID string `json:"issueId"`
		Body    string `json:"body"`
		Issue   struct {
			ID string `json:"id"`
		} `json:"issue"`
	} `json:"data"`
}

// ParseCommentCreated decodes a raw webhook body into a CommentCreatedPayload.
// Returns an error only on malformed JSON; callers should still check
// Action/Type before treating it as a blocker reply.
func ParseCommentCreated(body []byte) (CommentCreatedPayload, error) {
	var p CommentCreatedPayload
	if err := json.Unmarshal(body, &p); err != nil {
		return CommentCreatedPayload{}, fmt.Errorf("ticket webhook: decode payload: %w", err)
	}
	return p, nil
}

// IssueID returns the issue id a comment belongs to, preferring the
// top-level issueId field and falling back to the nested issue.id, exactly
// as the original does.
func (p CommentCreatedPayload) IssueID() string {
	if p.Data.IssueID != "" {
		return p.Data.IssueID
	}
	return p.Data.Issue.ID
}

// IsCommentCreated reports whether this payload represents a newly created
// comment — the only event this engine reconciles against open blockers.
func (p CommentCreatedPayload) IsCommentCreated() bool {
	return p.Action == "create" && p.Type == "Comment"
}

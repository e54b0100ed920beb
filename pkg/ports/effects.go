package ports

import (
	"context"
	"net/http"
)

// MessagingChannel delivers text to a contact. A returned error means the
// message was not delivered; the engine logs it and does not retry.
type MessagingChannel interface {
	Send(ctx context.Context, address, text string) error
}

// TagStore manages CRM tags.
type TagStore interface {
	// EnsureTag returns the ID of the company tag called name, creating it if needed.
	EnsureTag(ctx context.Context, companyID, name string) (string, error)
	// Associate links a tag to a contact. It is idempotent.
	Associate(ctx context.Context, contactID, tagID string) error
}

// ConversationStore receives handoff notifications.
type ConversationStore interface {
	FlagNeedsAttention(ctx context.Context, conversationID string) error
}

// HTTPDoer is satisfied by *http.Client.
type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// Package gateway performs the outbound side effects of node processors:
// sending messages, calling HTTP APIs, firing webhooks and updating the CRM.
//
// Every call is bounded by a timeout so a stuck dependency cannot stall a
// turn. The gateway never retries; retry policy belongs to the collaborator.
package gateway

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/aretw0/parley/internal/logging"
	"github.com/aretw0/parley/pkg/ports"
)

const (
	// DefaultTimeout bounds every external call unless overridden.
	DefaultTimeout = 10 * time.Second
	// MaxTypingDelay caps the pause applied before outbound messages.
	MaxTypingDelay = 5 * time.Second
	// DefaultMaxResponseBytes caps how much of an API response is read.
	DefaultMaxResponseBytes int64 = 1 << 20
)

// ErrNotConfigured is returned when the collaborator for an effect is missing.
var ErrNotConfigured = errors.New("collaborator not configured")

// Gateway dispatches side effects to the configured ports.
type Gateway struct {
	channel       ports.MessagingChannel
	tags          ports.TagStore
	conversations ports.ConversationStore
	client        ports.HTTPDoer

	timeout          time.Duration
	typingDelay      bool
	maxResponseBytes int64
	logger           *slog.Logger
	jq               *jqCache

	sleep func(ctx context.Context, d time.Duration) error
}

// Option configures the Gateway.
type Option func(*Gateway)

// WithTagStore sets the CRM tag store used by tag_contact nodes.
func WithTagStore(s ports.TagStore) Option {
	return func(g *Gateway) { g.tags = s }
}

// WithConversationStore sets the store notified on handoff.
func WithConversationStore(s ports.ConversationStore) Option {
	return func(g *Gateway) { g.conversations = s }
}

// WithHTTPClient sets the client used by api_call and webhook nodes.
func WithHTTPClient(c ports.HTTPDoer) Option {
	return func(g *Gateway) { g.client = c }
}

// WithTimeout sets the default bound for every external call.
func WithTimeout(d time.Duration) Option {
	return func(g *Gateway) {
		if d > 0 {
			g.timeout = d
		}
	}
}

// WithTypingDelay toggles the pause before outbound messages.
func WithTypingDelay(enabled bool) Option {
	return func(g *Gateway) { g.typingDelay = enabled }
}

// WithMaxResponseBytes caps the size of API responses.
func WithMaxResponseBytes(n int64) Option {
	return func(g *Gateway) {
		if n > 0 {
			g.maxResponseBytes = n
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(g *Gateway) { g.logger = l }
}

// New creates a gateway delivering messages through channel.
func New(channel ports.MessagingChannel, opts ...Option) *Gateway {
	g := &Gateway{
		channel:          channel,
		client:           &http.Client{},
		timeout:          DefaultTimeout,
		typingDelay:      true,
		maxResponseBytes: DefaultMaxResponseBytes,
		logger:           logging.NewNop(),
		jq:               newJQCache(),
		sleep:            sleepContext,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Timeout returns the default call bound.
func (g *Gateway) Timeout() time.Duration { return g.timeout }

// SendMessage delivers text to address after the optional typing delay.
func (g *Gateway) SendMessage(ctx context.Context, address, text string, typingDelay time.Duration) error {
	if g.channel == nil {
		return ErrNotConfigured
	}
	if g.typingDelay && typingDelay > 0 {
		if typingDelay > MaxTypingDelay {
			typingDelay = MaxTypingDelay
		}
		if err := g.sleep(ctx, typingDelay); err != nil {
			return err
		}
	}

	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()
	return g.channel.Send(ctx, address, text)
}

// TagContact ensures every named tag exists for the company and associates it
// with the contact. It keeps going after a failure and reports all of them.
func (g *Gateway) TagContact(ctx context.Context, companyID, contactID string, names []string) error {
	if g.tags == nil {
		return ErrNotConfigured
	}
	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	var errs []error
	for _, name := range names {
		tagID, err := g.tags.EnsureTag(ctx, companyID, name)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if err := g.tags.Associate(ctx, contactID, tagID); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// FlagConversation marks a conversation as needing a human operator.
func (g *Gateway) FlagConversation(ctx context.Context, conversationID string) error {
	if g.conversations == nil {
		return ErrNotConfigured
	}
	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()
	return g.conversations.FlagNeedsAttention(ctx, conversationID)
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Package channel provides MessagingChannel implementations for deployments:
// an HTTP relay that hands messages to an outbound provider and a log-only
// channel for local runs.
package channel

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/aretw0/parley/internal/logging"
	"github.com/aretw0/parley/pkg/ports"
	"github.com/bytedance/sonic"
)

// Outbound is the JSON body posted by HTTP.
type Outbound struct {
	To   string `json:"to"`
	Text string `json:"text"`
}

// HTTP posts each message as JSON to a relay URL. Any 2xx status counts as
// delivered.
type HTTP struct {
	url     string
	client  ports.HTTPDoer
	headers map[string]string
}

var _ ports.MessagingChannel = (*HTTP)(nil)

// HTTPOption configures the HTTP channel.
type HTTPOption func(*HTTP)

// WithClient sets the HTTP client.
func WithClient(c ports.HTTPDoer) HTTPOption {
	return func(h *HTTP) { h.client = c }
}

// WithHeader adds a header to every request, e.g. an API key.
func WithHeader(key, value string) HTTPOption {
	return func(h *HTTP) { h.headers[key] = value }
}

// NewHTTP creates a channel posting to url.
func NewHTTP(url string, opts ...HTTPOption) *HTTP {
	h := &HTTP{url: url, client: http.DefaultClient, headers: map[string]string{}}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Send posts {to, text} to the relay. Cancellation and deadlines come from ctx.
func (h *HTTP) Send(ctx context.Context, address, text string) error {
	body, err := sonic.Marshal(Outbound{To: address, Text: text})
	if err != nil {
		return fmt.Errorf("failed to encode message: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, h.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range h.headers {
		req.Header.Set(k, v)
	}

	resp, err := h.client.Do(req)
	if err != nil {
		return fmt.Errorf("relay request failed: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("relay returned status %d", resp.StatusCode)
	}
	return nil
}

// Log writes messages to a logger instead of delivering them.
type Log struct {
	logger *slog.Logger
}

var _ ports.MessagingChannel = (*Log)(nil)

// NewLog creates a log-only channel. A nil logger discards everything.
func NewLog(logger *slog.Logger) *Log {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Log{logger: logger}
}

// Send logs the message and reports success.
func (l *Log) Send(ctx context.Context, address, text string) error {
	l.logger.InfoContext(ctx, "outbound message", "to", address, "text", text)
	return nil
}

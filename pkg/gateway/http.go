package gateway

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/bytedance/sonic"
	"github.com/itchyny/gojq"
)

// APIRequest describes an api_call invocation. Body may be a string (sent
// verbatim) or any JSON-encodable value.
type APIRequest struct {
	Method  string
	URL     string
	Headers map[string]string
	Body    any
	Timeout time.Duration
	// Mapping assigns variables from jq expressions evaluated over the
	// parsed response body.
	Mapping map[string]string
}

// APIResult is a successful api_call response.
type APIResult struct {
	StatusCode int
	// Body is the decoded JSON document, or the raw text when the response
	// is not JSON.
	Body any
	// Mapped holds the variables produced by APIRequest.Mapping.
	Mapped map[string]any
	// MappingErrors lists mapping expressions that failed, keyed by variable.
	MappingErrors map[string]string
}

// WebhookRequest describes a webhook notification.
type WebhookRequest struct {
	Method  string
	URL     string
	Headers map[string]string
	Payload any
}

// CallAPI performs the request and decodes the response. Non-2xx statuses,
// transport failures and oversized bodies are errors.
func (g *Gateway) CallAPI(ctx context.Context, req APIRequest) (*APIResult, error) {
	method := strings.ToUpper(strings.TrimSpace(req.Method))
	if method == "" {
		method = http.MethodGet
	}
	timeout := g.timeout
	if req.Timeout > 0 && req.Timeout < timeout {
		timeout = req.Timeout
	}

	body, contentType, err := encodeBody(req.Body)
	if err != nil {
		return nil, err
	}

	raw, status, err := g.do(ctx, method, req.URL, req.Headers, body, contentType, timeout)
	if err != nil {
		return nil, err
	}

	res := &APIResult{StatusCode: status, Body: decodeBody(raw)}
	if len(req.Mapping) > 0 {
		res.Mapped, res.MappingErrors = g.applyMapping(ctx, req.Mapping, res.Body, timeout)
	}
	return res, nil
}

// FireWebhook sends payload as JSON. The response body is discarded.
func (g *Gateway) FireWebhook(ctx context.Context, req WebhookRequest) error {
	method := strings.ToUpper(strings.TrimSpace(req.Method))
	if method == "" {
		method = http.MethodPost
	}
	body, err := sonic.Marshal(req.Payload)
	if err != nil {
		return fmt.Errorf("encode webhook payload: %w", err)
	}
	_, _, err = g.do(ctx, method, req.URL, req.Headers, body, "application/json", g.timeout)
	return err
}

func (g *Gateway) do(ctx context.Context, method, url string, headers map[string]string, body []byte, contentType string, timeout time.Duration) ([]byte, int, error) {
	if g.client == nil {
		return nil, 0, ErrNotConfigured
	}
	if strings.TrimSpace(url) == "" {
		return nil, 0, fmt.Errorf("empty url")
	}

	reqCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	httpReq, err := http.NewRequestWithContext(reqCtx, method, url, reader)
	if err != nil {
		return nil, 0, fmt.Errorf("build request: %w", err)
	}
	if contentType != "" {
		httpReq.Header.Set("Content-Type", contentType)
	}
	httpReq.Header.Set("Accept", "application/json")
	for k, v := range headers {
		httpReq.Header.Set(k, v)
	}

	resp, err := g.client.Do(httpReq)
	if err != nil {
		return nil, 0, fmt.Errorf("%s %s: %w", method, url, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, g.maxResponseBytes+1))
	if err != nil {
		return nil, resp.StatusCode, fmt.Errorf("read response: %w", err)
	}
	if int64(len(raw)) > g.maxResponseBytes {
		return nil, resp.StatusCode, fmt.Errorf("response exceeds %d bytes", g.maxResponseBytes)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, resp.StatusCode, fmt.Errorf("%s %s: unexpected status %d", method, url, resp.StatusCode)
	}
	return raw, resp.StatusCode, nil
}

func encodeBody(body any) ([]byte, string, error) {
	switch b := body.(type) {
	case nil:
		return nil, "", nil
	case string:
		if b == "" {
			return nil, "", nil
		}
		return []byte(b), "application/json", nil
	default:
		data, err := sonic.Marshal(b)
		if err != nil {
			return nil, "", fmt.Errorf("encode request body: %w", err)
		}
		return data, "application/json", nil
	}
}

func decodeBody(raw []byte) any {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 {
		return nil
	}
	var v any
	if err := sonic.ConfigStd.Unmarshal(trimmed, &v); err == nil {
		return v
	}
	return string(raw)
}

// applyMapping evaluates each expression under its own timeout, the same
// bound as the call that produced body.
func (g *Gateway) applyMapping(ctx context.Context, mapping map[string]string, body any, timeout time.Duration) (map[string]any, map[string]string) {
	mapped := make(map[string]any, len(mapping))
	var failed map[string]string
	for variable, expression := range mapping {
		exprCtx, cancel := context.WithTimeout(ctx, timeout)
		v, err := g.jq.evaluate(exprCtx, expression, body)
		cancel()
		if err != nil {
			if failed == nil {
				failed = make(map[string]string)
			}
			failed[variable] = err.Error()
			continue
		}
		mapped[variable] = v
	}
	return mapped, failed
}

// maxMappingResults caps how many values one mapping expression may emit.
const maxMappingResults = 1000

// jqCache holds compiled response-mapping programs.
type jqCache struct {
	mu   sync.RWMutex
	code map[string]*gojq.Code
}

func newJQCache() *jqCache {
	return &jqCache{code: make(map[string]*gojq.Code)}
}

// evaluate runs expression over input. A single result is returned as-is;
// several results are collected into a slice.
func (c *jqCache) evaluate(ctx context.Context, expression string, input any) (any, error) {
	code, err := c.compile(expression)
	if err != nil {
		return nil, err
	}

	iter := code.RunWithContext(ctx, input)
	var results []any
	for {
		v, ok := iter.Next()
		if !ok {
			break
		}
		if err, isErr := v.(error); isErr {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return nil, fmt.Errorf("jq %q: %w", expression, ctxErr)
			}
			return nil, fmt.Errorf("jq %q: %w", expression, err)
		}
		if len(results) == maxMappingResults {
			return nil, fmt.Errorf("jq %q: more than %d results", expression, maxMappingResults)
		}
		results = append(results, v)
	}

	switch len(results) {
	case 0:
		return nil, nil
	case 1:
		return results[0], nil
	default:
		return results, nil
	}
}

func (c *jqCache) compile(expression string) (*gojq.Code, error) {
	c.mu.RLock()
	code, ok := c.code[expression]
	c.mu.RUnlock()
	if ok {
		return code, nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if code, ok := c.code[expression]; ok {
		return code, nil
	}

	query, err := gojq.Parse(expression)
	if err != nil {
		return nil, fmt.Errorf("jq parse %q: %w", expression, err)
	}
	code, err = gojq.Compile(query, gojq.WithEnvironLoader(func() []string { return nil }))
	if err != nil {
		return nil, fmt.Errorf("jq compile %q: %w", expression, err)
	}
	c.code[expression] = code
	return code, nil
}

// CompileMapping reports whether a response-mapping expression is valid jq.
func CompileMapping(expression string) error {
	_, err := gojq.Parse(expression)
	return err
}

package http

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"

	"github.com/aretw0/parley"
	"github.com/aretw0/parley/internal/logging"
	"github.com/aretw0/parley/pkg/domain"
	"github.com/aretw0/parley/pkg/ports"
	"github.com/bytedance/sonic"
	"github.com/getkin/kin-openapi/openapi3"
	"github.com/getkin/kin-openapi/openapi3filter"
	"github.com/getkin/kin-openapi/routers"
	"github.com/getkin/kin-openapi/routers/gorillamux"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// DefaultMaxBodyBytes caps request bodies.
const DefaultMaxBodyBytes = 1 << 20

//go:embed openapi.yaml
var openAPISpec []byte

// Server exposes a ports.Engine over HTTP.
type Server struct {
	Engine  ports.Engine
	Streams *StreamManager

	logger  *slog.Logger
	metrics http.Handler
	maxBody int64
}

// Option configures the Server.
type Option func(*Server)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithMetricsHandler mounts h on GET /metrics.
func WithMetricsHandler(h http.Handler) Option {
	return func(s *Server) {
		s.metrics = h
	}
}

// WithMaxBodyBytes overrides DefaultMaxBodyBytes.
func WithMaxBodyBytes(n int64) Option {
	return func(s *Server) {
		if n > 0 {
			s.maxBody = n
		}
	}
}

// Spec returns the OpenAPI document served on /openapi.yaml.
func Spec() []byte {
	return openAPISpec
}

// LoadSpec parses and validates the embedded OpenAPI document.
func LoadSpec(ctx context.Context) (*openapi3.T, error) {
	doc, err := openapi3.NewLoader().LoadFromData(openAPISpec)
	if err != nil {
		return nil, fmt.Errorf("load openapi spec: %w", err)
	}
	if err := doc.Validate(ctx); err != nil {
		return nil, fmt.Errorf("invalid openapi spec: %w", err)
	}
	return doc, nil
}

// NewHandler creates a new HTTP handler for the engine. Requests under /v1
// are validated against the embedded OpenAPI document before they reach the
// engine.
func NewHandler(engine ports.Engine, opts ...Option) (http.Handler, error) {
	server := &Server{
		Engine:  engine,
		Streams: NewStreamManager(),
		logger:  logging.NewNop(),
		maxBody: DefaultMaxBodyBytes,
	}
	for _, opt := range opts {
		opt(server)
	}

	doc, err := LoadSpec(context.Background())
	if err != nil {
		return nil, err
	}
	router, err := gorillamux.NewRouter(doc)
	if err != nil {
		return nil, fmt.Errorf("build openapi router: %w", err)
	}

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Get("/health", server.GetHealth)
	r.Get("/info", server.GetInfo)
	r.Get("/openapi.yaml", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/yaml")
		_, _ = w.Write(openAPISpec)
	})
	r.Get("/swagger", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		_, _ = w.Write([]byte(swaggerHTML))
	})
	if server.metrics != nil {
		r.Method(http.MethodGet, "/metrics", server.metrics)
	}

	r.Route("/v1/executions", func(r chi.Router) {
		r.Use(server.limitBody, server.validateRequests(router))
		r.Post("/", server.StartExecution)
		r.Get("/{executionId}", server.GetExecution)
		r.Post("/{executionId}/turns", server.TriggerTurn)
		r.Get("/{executionId}/events", server.SubscribeEvents)
	})

	return enableCORS(r), nil
}

func enableCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) limitBody(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Body != nil {
			r.Body = http.MaxBytesReader(w, r.Body, s.maxBody)
		}
		next.ServeHTTP(w, r)
	})
}

// validateRequests rejects requests that do not match the OpenAPI document.
// Paths the document does not know fall through to chi.
func (s *Server) validateRequests(router routers.Router) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			route, params, err := router.FindRoute(r)
			if err != nil {
				next.ServeHTTP(w, r)
				return
			}
			input := &openapi3filter.RequestValidationInput{
				Request:    r,
				PathParams: params,
				Route:      route,
				Options:    &openapi3filter.Options{AuthenticationFunc: openapi3filter.NoopAuthenticationFunc},
			}
			if err := openapi3filter.ValidateRequest(r.Context(), input); err != nil {
				if isTooLarge(err) {
					s.writeBodyError(w, err)
					return
				}
				s.logger.Debug("request rejected by schema", "path", r.URL.Path, "err", err)
				s.writeError(w, http.StatusBadRequest, ports.CodeInvalidRequest, validationMessage(err))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func validationMessage(err error) string {
	var reqErr *openapi3filter.RequestError
	if errors.As(err, &reqErr) {
		msg := reqErr.Error()
		if i := strings.Index(msg, "\n"); i > 0 {
			msg = msg[:i]
		}
		return msg
	}
	return "invalid request"
}

const swaggerHTML = `
<!DOCTYPE html>
<html lang="en">
<head>
    <meta charset="utf-8" />
    <meta name="viewport" content="width=device-width, initial-scale=1" />
    <title>Parley API Documentation</title>
    <link rel="stylesheet" href="https://unpkg.com/swagger-ui-dist@5.11.0/swagger-ui.css" />
</head>
<body>
<div id="swagger-ui"></div>
<script src="https://unpkg.com/swagger-ui-dist@5.11.0/swagger-ui-bundle.js" crossorigin></script>
<script>
    window.onload = () => {
    window.ui = SwaggerUIBundle({
        url: '/openapi.yaml',
        dom_id: '#swagger-ui',
    });
    };
</script>
</body>
</html>
`

type turnRequest struct {
	CompanyID   string `json:"companyId"`
	UserMessage string `json:"userMessage,omitempty"`
}

type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

// StartExecution handles POST /v1/executions.
func (s *Server) StartExecution(w http.ResponseWriter, r *http.Request) {
	var body ports.StartRequest
	if err := decode(r.Body, &body); err != nil {
		s.writeBodyError(w, err)
		return
	}

	exec, err := s.Engine.Start(r.Context(), body)
	if err != nil {
		s.writeEngineError(w, "start", err)
		return
	}
	s.writeJSON(w, http.StatusCreated, exec)
}

// GetExecution handles GET /v1/executions/{executionId}.
func (s *Server) GetExecution(w http.ResponseWriter, r *http.Request) {
	exec, err := s.Engine.Get(r.Context(), r.URL.Query().Get("companyId"), chi.URLParam(r, "executionId"))
	if err != nil {
		s.writeEngineError(w, "get", err)
		return
	}
	s.writeJSON(w, http.StatusOK, exec)
}

// TriggerTurn handles POST /v1/executions/{executionId}/turns.
func (s *Server) TriggerTurn(w http.ResponseWriter, r *http.Request) {
	var body turnRequest
	if err := decode(r.Body, &body); err != nil {
		s.writeBodyError(w, err)
		return
	}

	executionID := chi.URLParam(r, "executionId")
	resp := s.Engine.Trigger(r.Context(), ports.TriggerRequest{
		ExecutionID: executionID,
		CompanyID:   body.CompanyID,
		UserMessage: body.UserMessage,
	})
	if resp.Success {
		if payload, err := sonic.Marshal(resp); err == nil {
			s.Streams.Broadcast(executionID, string(payload))
		}
	}
	s.writeJSON(w, StatusFor(resp.Code), resp)
}

// GetHealth handles the GET /health request.
func (s *Server) GetHealth(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// GetInfo handles the GET /info request.
func (s *Server) GetInfo(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{
		"app":     "parley-http",
		"version": strings.TrimSpace(parley.Version),
	})
}

// StatusFor maps a trigger code to an HTTP status.
func StatusFor(code string) int {
	switch code {
	case "":
		return http.StatusOK
	case ports.CodeNotFound:
		return http.StatusNotFound
	case ports.CodeNotActive, ports.CodeInvalidRequest:
		return http.StatusBadRequest
	case ports.CodeConflict:
		return http.StatusConflict
	}
	return http.StatusInternalServerError
}

func (s *Server) writeEngineError(w http.ResponseWriter, op string, err error) {
	code := parley.ErrorCode(err)
	msg := err.Error()
	switch code {
	case ports.CodeInternal:
		s.logger.Error("request failed", "op", op, "err", err)
		msg = "internal error"
	case ports.CodeNotFound:
		if errors.Is(err, domain.ErrGraphNotFound) {
			msg = "graph not found"
		} else {
			msg = "execution not found"
		}
	}
	s.writeError(w, StatusFor(code), code, msg)
}

func (s *Server) writeError(w http.ResponseWriter, status int, code, msg string) {
	s.writeJSON(w, status, errorResponse{Error: msg, Code: code})
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	payload, err := sonic.Marshal(v)
	if err != nil {
		s.logger.Error("response encode failed", "err", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(payload)
}

// writeBodyError reports an unreadable body. Bodies cut off by limitBody get
// 413.
func (s *Server) writeBodyError(w http.ResponseWriter, err error) {
	if isTooLarge(err) {
		s.writeError(w, http.StatusRequestEntityTooLarge, ports.CodeInvalidRequest,
			fmt.Sprintf("request body exceeds %d bytes", s.maxBody))
		return
	}
	s.writeError(w, http.StatusBadRequest, ports.CodeInvalidRequest, "invalid request body")
}

func isTooLarge(err error) bool {
	var maxErr *http.MaxBytesError
	return errors.As(err, &maxErr)
}

func decode(r io.Reader, v any) error {
	data, err := io.ReadAll(r)
	if err != nil {
		return err
	}
	return sonic.Unmarshal(data, v)
}

// StreamManager fans turn outcomes out to SSE subscribers, keyed by execution ID.
type StreamManager struct {
	mu          sync.RWMutex
	subscribers map[string]map[chan string]struct{}
	logger      *slog.Logger
}

func NewStreamManager() *StreamManager {
	return &StreamManager{
		subscribers: make(map[string]map[chan string]struct{}),
		logger:      logging.NewNop(),
	}
}

// Subscribe registers a buffered channel for executionID. The returned func
// unregisters and closes it.
func (sm *StreamManager) Subscribe(executionID string) (<-chan string, func()) {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	ch := make(chan string, 10)
	if _, ok := sm.subscribers[executionID]; !ok {
		sm.subscribers[executionID] = make(map[chan string]struct{})
	}
	sm.subscribers[executionID][ch] = struct{}{}

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			sm.mu.Lock()
			defer sm.mu.Unlock()
			if subs, ok := sm.subscribers[executionID]; ok {
				delete(subs, ch)
				close(ch)
				if len(subs) == 0 {
					delete(sm.subscribers, executionID)
				}
			}
		})
	}
}

// Broadcast delivers msg to every subscriber of executionID. Slow clients
// lose messages instead of blocking the turn.
func (sm *StreamManager) Broadcast(executionID string, msg string) {
	sm.mu.RLock()
	defer sm.mu.RUnlock()

	for ch := range sm.subscribers[executionID] {
		select {
		case ch <- msg:
		default:
			sm.logger.Warn("SSE: client buffer full, dropping message", "execution_id", executionID)
		}
	}
}

// Subscribers reports how many clients follow executionID.
func (sm *StreamManager) Subscribers(executionID string) int {
	sm.mu.RLock()
	defer sm.mu.RUnlock()
	return len(sm.subscribers[executionID])
}

// SubscribeEvents handles GET /v1/executions/{executionId}/events (SSE).
func (s *Server) SubscribeEvents(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "Streaming not supported", http.StatusInternalServerError)
		return
	}

	executionID := chi.URLParam(r, "executionId")
	if _, err := s.Engine.Get(r.Context(), r.URL.Query().Get("companyId"), executionID); err != nil {
		s.writeEngineError(w, "subscribe", err)
		return
	}

	ch, cancel := s.Streams.Subscribe(executionID)
	defer cancel()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	fmt.Fprintf(w, "event: ping\ndata: connected\n\n")
	flusher.Flush()

	s.logger.Debug("SSE client connected", "execution_id", executionID)
	for {
		select {
		case <-r.Context().Done():
			s.logger.Debug("SSE client disconnected", "execution_id", executionID)
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			fmt.Fprintf(w, "event: turn\ndata: %s\n\n", msg)
			flusher.Flush()
		}
	}
}

package parley

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/aretw0/parley/internal/logging"
	"github.com/aretw0/parley/internal/runtime"
	"github.com/aretw0/parley/internal/sanitize"
	"github.com/aretw0/parley/pkg/domain"
	"github.com/aretw0/parley/pkg/gateway"
	"github.com/aretw0/parley/pkg/ports"
	"github.com/aretw0/parley/pkg/session"
	"github.com/google/uuid"
)

// Engine is the high-level entry point of the library. It wires the runtime,
// the side-effect gateway and the session manager behind ports.Engine.
type Engine struct {
	runtime  *runtime.Engine
	gateway  *gateway.Gateway
	sessions *session.Manager
	graphs   ports.GraphStore

	logger         *slog.Logger
	clock          func() time.Time
	newID          func() string
	defaultTimeout time.Duration
	observeTrigger func(code string)
	maxMessage     int
}

var _ ports.Engine = (*Engine)(nil)

type config struct {
	logger         *slog.Logger
	hooks          domain.LifecycleHooks
	maxSteps       int
	clock          func() time.Time
	newID          func() string
	defaultTimeout time.Duration
	observeTrigger func(string)
	maxMessage     int

	gatewayOpts []gateway.Option
	sessionOpts []session.Option
}

// Option defines a functional option for configuring the Engine.
type Option func(*config)

// WithLogger sets a custom structured logger for the engine.
func WithLogger(logger *slog.Logger) Option {
	return func(c *config) {
		c.logger = logger
	}
}

// WithLifecycleHooks registers observability hooks.
func WithLifecycleHooks(hooks domain.LifecycleHooks) Option {
	return func(c *config) {
		c.hooks = hooks
	}
}

// WithMaxSteps bounds the nodes processed per turn (default 20).
func WithMaxSteps(n int) Option {
	return func(c *config) {
		c.maxSteps = n
	}
}

// WithExternalTimeout bounds every outbound call (default 10s).
func WithExternalTimeout(d time.Duration) Option {
	return func(c *config) {
		c.gatewayOpts = append(c.gatewayOpts, gateway.WithTimeout(d))
	}
}

// WithTypingDelay toggles the graph-configured pause before messages.
func WithTypingDelay(enabled bool) Option {
	return func(c *config) {
		c.gatewayOpts = append(c.gatewayOpts, gateway.WithTypingDelay(enabled))
	}
}

// WithTagStore sets the CRM tag store used by tag_contact nodes.
func WithTagStore(s ports.TagStore) Option {
	return func(c *config) {
		c.gatewayOpts = append(c.gatewayOpts, gateway.WithTagStore(s))
	}
}

// WithConversationStore sets the store notified on handoff.
func WithConversationStore(s ports.ConversationStore) Option {
	return func(c *config) {
		c.gatewayOpts = append(c.gatewayOpts, gateway.WithConversationStore(s))
	}
}

// WithHTTPClient sets the client used by api_call and webhook nodes.
func WithHTTPClient(client ports.HTTPDoer) Option {
	return func(c *config) {
		c.gatewayOpts = append(c.gatewayOpts, gateway.WithHTTPClient(client))
	}
}

// WithLocker adds a distributed lock around every turn.
func WithLocker(locker ports.DistributedLocker) Option {
	return func(c *config) {
		c.sessionOpts = append(c.sessionOpts, session.WithLocker(locker))
	}
}

// WithLockTTL sets the distributed lock lease.
func WithLockTTL(ttl time.Duration) Option {
	return func(c *config) {
		c.sessionOpts = append(c.sessionOpts, session.WithLockTTL(ttl))
	}
}

// WithClock sets the time source.
func WithClock(clock func() time.Time) Option {
	return func(c *config) {
		c.clock = clock
	}
}

// WithIDGenerator sets how execution IDs are minted (default: UUIDv4).
func WithIDGenerator(fn func() string) Option {
	return func(c *config) {
		c.newID = fn
	}
}

// WithDefaultSessionTimeout applies to graphs that leave
// sessionTimeoutMinutes unset. Zero keeps such sessions open forever.
func WithDefaultSessionTimeout(d time.Duration) Option {
	return func(c *config) {
		c.defaultTimeout = d
	}
}

// WithTriggerObserver is called with the outcome code of every Trigger
// (empty on success).
func WithTriggerObserver(fn func(code string)) Option {
	return func(c *config) {
		c.observeTrigger = fn
	}
}

// WithMaxMessageBytes rejects user messages larger than n bytes (default
// 4096). Zero or less disables the limit.
func WithMaxMessageBytes(n int) Option {
	return func(c *config) {
		c.maxMessage = n
	}
}

// New wires an engine over the given stores and channel.
func New(executions ports.ExecutionStore, graphs ports.GraphStore, channel ports.MessagingChannel, opts ...Option) *Engine {
	cfg := &config{
		clock:      time.Now,
		newID:      uuid.NewString,
		maxMessage: sanitize.DefaultMaxBytes,
	}
	for _, opt := range opts {
		opt(cfg)
	}
	if cfg.logger == nil {
		cfg.logger = logging.NewNop()
	}
	if cfg.clock == nil {
		cfg.clock = time.Now
	}
	if cfg.newID == nil {
		cfg.newID = uuid.NewString
	}

	gw := gateway.New(channel, append([]gateway.Option{gateway.WithLogger(cfg.logger)}, cfg.gatewayOpts...)...)
	rt := runtime.NewEngine(gw,
		runtime.WithLogger(cfg.logger),
		runtime.WithLifecycleHooks(cfg.hooks),
		runtime.WithMaxSteps(cfg.maxSteps),
		runtime.WithClock(cfg.clock),
	)
	sessions := session.NewManager(executions, append([]session.Option{session.WithLogger(cfg.logger)}, cfg.sessionOpts...)...)

	return &Engine{
		runtime:        rt,
		gateway:        gw,
		sessions:       sessions,
		graphs:         graphs,
		logger:         cfg.logger,
		clock:          cfg.clock,
		newID:          cfg.newID,
		defaultTimeout: cfg.defaultTimeout,
		observeTrigger: cfg.observeTrigger,
		maxMessage:     cfg.maxMessage,
	}
}

// Graphs returns the graph store the engine reads from.
func (e *Engine) Graphs() ports.GraphStore { return e.graphs }

// Sessions returns the session manager guarding executions.
func (e *Engine) Sessions() *session.Manager { return e.sessions }

// MaxSteps returns the per-turn node bound.
func (e *Engine) MaxSteps() int { return e.runtime.MaxSteps() }

// Start creates a running execution pinned to the requested graph version, or
// to the latest one when GraphVersion is zero. No node runs until the first
// Trigger.
func (e *Engine) Start(ctx context.Context, req ports.StartRequest) (*domain.Execution, error) {
	var missing []string
	if req.GraphID == "" {
		missing = append(missing, "graphId")
	}
	if req.CompanyID == "" {
		missing = append(missing, "companyId")
	}
	if req.ConversationID == "" {
		missing = append(missing, "conversationId")
	}
	if len(missing) > 0 {
		return nil, fmt.Errorf("missing %s: %w", strings.Join(missing, ", "), domain.ErrInvalidTrigger)
	}

	graph, err := e.loadGraph(ctx, req.GraphID, req.GraphVersion)
	if err != nil {
		return nil, err
	}
	if graph.CompanyID != "" && graph.CompanyID != req.CompanyID {
		// Other tenants' graphs are reported as missing.
		return nil, fmt.Errorf("graph %s: %w", req.GraphID, domain.ErrGraphNotFound)
	}
	if _, err := graph.StartNode(); err != nil {
		return nil, fmt.Errorf("graph %s@%d: %w", graph.ID, graph.Version, err)
	}

	exec := domain.NewExecution(e.newID(), graph, req.ConversationID, req.ContactID, req.Contact, req.Variables, e.clock())
	exec.CompanyID = req.CompanyID
	if err := e.sessions.Create(ctx, exec); err != nil {
		return nil, err
	}

	e.logger.Info("execution started",
		"execution_id", exec.ID,
		"graph_id", exec.GraphID,
		"graph_version", exec.GraphVersion,
		"company_id", exec.CompanyID)
	return exec.Clone(), nil
}

func (e *Engine) loadGraph(ctx context.Context, graphID string, version int) (*domain.GraphDefinition, error) {
	if version > 0 {
		return e.graphs.Load(ctx, graphID, version)
	}
	return e.graphs.Latest(ctx, graphID)
}

// Trigger runs one turn for an execution and reports the outcome. It never
// returns a Go error: failures are described by Code.
func (e *Engine) Trigger(ctx context.Context, req ports.TriggerRequest) ports.TriggerResponse {
	resp := e.trigger(ctx, req)
	if e.observeTrigger != nil {
		e.observeTrigger(resp.Code)
	}
	return resp
}

func (e *Engine) trigger(ctx context.Context, req ports.TriggerRequest) ports.TriggerResponse {
	if req.ExecutionID == "" || req.CompanyID == "" {
		return e.failure(req, fmt.Errorf("executionId and companyId are required: %w", domain.ErrInvalidTrigger))
	}
	message, err := sanitize.Input(req.UserMessage, e.maxMessage)
	if err != nil {
		return e.failure(req, fmt.Errorf("%w: %w", domain.ErrInvalidTrigger, err))
	}

	var unchanged *domain.Execution
	saved, err := e.sessions.Update(ctx, req.ExecutionID, func(ctx context.Context, exec *domain.Execution) (*domain.Execution, error) {
		if exec.CompanyID != req.CompanyID {
			return nil, domain.ErrExecutionNotFound
		}
		if !exec.Status.IsActive() {
			return nil, fmt.Errorf("execution %s is %s: %w", exec.ID, exec.Status, domain.ErrExecutionNotActive)
		}
		if exec.Status == domain.StatusWaitingInput && message == "" {
			// Nothing to consume: report the current state without writing.
			unchanged = exec
			return nil, nil
		}

		graph, err := e.graphs.Load(ctx, exec.GraphID, exec.GraphVersion)
		if err != nil {
			return nil, err
		}
		return e.runtime.Turn(ctx, graph, exec, message)
	})
	if err != nil {
		return e.failure(req, err)
	}
	if saved == nil {
		saved = unchanged
	}
	return ports.TriggerResponse{
		Success:          true,
		ExecutionID:      saved.ID,
		Status:           saved.Status,
		CurrentNodeID:    saved.CurrentNodeID,
		MessagesSent:     saved.MessagesSent,
		MessagesReceived: saved.MessagesReceived,
	}
}

// ErrorCode classifies an engine error into a trigger code.
func ErrorCode(err error) string {
	switch {
	case errors.Is(err, domain.ErrExecutionNotFound), errors.Is(err, domain.ErrGraphNotFound):
		return ports.CodeNotFound
	case errors.Is(err, domain.ErrExecutionNotActive):
		return ports.CodeNotActive
	case errors.Is(err, domain.ErrConflict):
		return ports.CodeConflict
	case errors.Is(err, domain.ErrInvalidTrigger):
		return ports.CodeInvalidRequest
	}
	return ports.CodeInternal
}

func (e *Engine) failure(req ports.TriggerRequest, err error) ports.TriggerResponse {
	code := ErrorCode(err)
	msg := err.Error()
	switch code {
	case ports.CodeNotFound:
		msg = "execution not found"
	case ports.CodeInternal:
		e.logger.Error("turn failed",
			"execution_id", req.ExecutionID,
			"err", err)
		msg = "internal error"
	default:
		e.logger.Warn("turn rejected",
			"execution_id", req.ExecutionID,
			"code", code,
			"err", err)
	}
	return ports.TriggerResponse{Success: false, Error: msg, Code: code}
}

// Get returns a snapshot of an execution owned by companyID.
func (e *Engine) Get(ctx context.Context, companyID, executionID string) (*domain.Execution, error) {
	exec, err := e.sessions.Load(ctx, executionID)
	if err != nil {
		return nil, err
	}
	if exec.CompanyID != companyID {
		return nil, domain.ErrExecutionNotFound
	}
	return exec, nil
}

// sessionTimeout resolves the idle limit for a graph. Zero disables expiry.
func (e *Engine) sessionTimeout(g *domain.GraphDefinition) time.Duration {
	if g.Settings.SessionTimeoutMinutes > 0 {
		return time.Duration(g.Settings.SessionTimeoutMinutes) * time.Minute
	}
	return e.defaultTimeout
}

// Expire moves one execution to expired when it has been waiting for input
// longer than its graph's session timeout at now. It reports whether the
// execution was expired. Running executions are never touched.
func (e *Engine) Expire(ctx context.Context, executionID string, now time.Time) (bool, error) {
	saved, err := e.sessions.Update(ctx, executionID, func(ctx context.Context, exec *domain.Execution) (*domain.Execution, error) {
		if exec.Status != domain.StatusWaitingInput {
			return nil, nil
		}
		graph, err := e.graphs.Load(ctx, exec.GraphID, exec.GraphVersion)
		if err != nil {
			return nil, err
		}
		timeout := e.sessionTimeout(graph)
		if timeout <= 0 || now.Sub(exec.LastInteractionAt) <= timeout {
			return nil, nil
		}
		return e.runtime.Expire(exec)
	})
	if err != nil {
		return false, err
	}
	if saved != nil {
		e.logger.Info("execution expired",
			"execution_id", saved.ID,
			"idle", now.Sub(saved.LastInteractionAt))
	}
	return saved != nil, nil
}

// ExpireIdle sweeps every waiting execution through Expire and returns how
// many were expired. It keeps going past individual failures and returns
// them joined.
func (e *Engine) ExpireIdle(ctx context.Context, now time.Time) (int, error) {
	ids, err := e.sessions.List(ctx, domain.StatusWaitingInput)
	if err != nil {
		return 0, fmt.Errorf("list waiting executions: %w", err)
	}

	var (
		expired int
		errs    []error
	)
	for _, id := range ids {
		if err := ctx.Err(); err != nil {
			errs = append(errs, err)
			break
		}
		ok, err := e.Expire(ctx, id, now)
		switch {
		case errors.Is(err, domain.ErrConflict), errors.Is(err, domain.ErrExecutionNotFound):
			// Someone else moved it first.
		case err != nil:
			errs = append(errs, fmt.Errorf("expire %s: %w", id, err))
		case ok:
			expired++
		}
	}
	return expired, errors.Join(errs...)
}

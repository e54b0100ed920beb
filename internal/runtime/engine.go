package runtime

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/aretw0/parley/internal/logging"
	"github.com/aretw0/parley/internal/router"
	"github.com/aretw0/parley/pkg/domain"
)

// DefaultMaxSteps bounds the nodes processed in a single turn.
const DefaultMaxSteps = 20

// Engine interprets a graph for one execution, one turn at a time.
// It is stateless between turns and safe for concurrent use.
type Engine struct {
	effects  Effects
	logger   *slog.Logger
	hooks    domain.LifecycleHooks
	maxSteps int
	clock    func() time.Time
}

// EngineOption configures the Engine.
type EngineOption func(*Engine)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) EngineOption {
	return func(e *Engine) {
		if logger != nil {
			e.logger = logger
		}
	}
}

// WithLifecycleHooks registers observability hooks.
func WithLifecycleHooks(hooks domain.LifecycleHooks) EngineOption {
	return func(e *Engine) {
		e.hooks = hooks
	}
}

// WithMaxSteps overrides the per-turn node bound.
func WithMaxSteps(n int) EngineOption {
	return func(e *Engine) {
		if n > 0 {
			e.maxSteps = n
		}
	}
}

// WithClock sets the time source.
func WithClock(clock func() time.Time) EngineOption {
	return func(e *Engine) {
		if clock != nil {
			e.clock = clock
		}
	}
}

// NewEngine creates an engine dispatching side effects to effects.
func NewEngine(effects Effects, opts ...EngineOption) *Engine {
	e := &Engine{
		effects:  effects,
		logger:   logging.NewNop(),
		maxSteps: DefaultMaxSteps,
		clock:    time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// MaxSteps returns the per-turn node bound.
func (e *Engine) MaxSteps() int { return e.maxSteps }

// Turn runs one turn of exec against its pinned graph and returns the next
// version of the execution. exec itself is never modified.
//
// The user message is consumed only by the question or menu node the
// execution was waiting on when the turn started. A turn without a message on
// a waiting execution changes nothing.
//
// Node-level failures never surface as errors; they are recorded on the
// execution log. Errors mean the turn could not run at all.
func (e *Engine) Turn(ctx context.Context, graph *domain.GraphDefinition, exec *domain.Execution, userMessage string) (*domain.Execution, error) {
	if !exec.Status.IsActive() {
		return nil, fmt.Errorf("execution %s is %s: %w", exec.ID, exec.Status, domain.ErrExecutionNotActive)
	}
	if graph.ID != exec.GraphID || graph.Version != exec.GraphVersion {
		return nil, fmt.Errorf("execution %s is pinned to %s@%d, got %s@%d: %w",
			exec.ID, exec.GraphID, exec.GraphVersion, graph.ID, graph.Version, domain.ErrGraphNotFound)
	}

	next := exec.Clone()
	if exec.Status == domain.StatusWaitingInput && userMessage == "" {
		return next, nil
	}

	started := e.clock()
	next.LastInteractionAt = started
	if userMessage != "" {
		next.MessagesReceived++
	}

	nodeID := next.CurrentNodeID
	if nodeID == "" {
		start, err := graph.StartNode()
		if err != nil {
			return nil, fmt.Errorf("graph %s@%d: %w", graph.ID, graph.Version, err)
		}
		nodeID = start.ID
	}

	// Input belongs to the node that was awaiting it, and only once.
	awaiting := ""
	if exec.Status == domain.StatusWaitingInput {
		awaiting = exec.CurrentNodeID
	}
	pending := userMessage != ""

	next.Status = domain.StatusRunning
	steps := 0
	for {
		if steps >= e.maxSteps {
			e.finish(next, domain.StatusFailed, domain.ReasonStepLimitExceeded)
			e.logger.Warn("step limit exceeded",
				"execution_id", next.ID,
				"node_id", nodeID,
				"max_steps", e.maxSteps)
			break
		}

		node, ok := graph.Node(nodeID)
		if !ok {
			e.finish(next, domain.StatusFailed, domain.ReasonNodeNotFound)
			e.logger.Warn("node not found in graph",
				"execution_id", next.ID,
				"node_id", nodeID,
				"graph_id", graph.ID,
				"graph_version", graph.Version)
			break
		}
		steps++

		s := &step{engine: e, graph: graph, exec: next, node: node}
		if pending && node.ID == awaiting && steps == 1 && acceptsInput(node.Type) {
			s.input, s.hasInput = userMessage, true
		}

		e.emitNode(ctx, domain.EventNodeEnter, next.ID, node)
		out := e.processorFor(node.Type)(ctx, s)
		e.apply(next, node, out)
		e.emitNode(ctx, domain.EventNodeLeave, next.ID, node)

		e.logger.Debug("node processed",
			"execution_id", next.ID,
			"node_id", node.ID,
			"node_type", node.Type,
			"branch", out.Branch,
			"wait", out.Wait)

		if out.ConsumedInput {
			pending = false
		}
		next.CurrentNodeID = node.ID

		if out.Wait {
			next.Status = domain.StatusWaitingInput
			break
		}
		if out.Terminal != "" {
			e.finish(next, out.Terminal, "")
			break
		}

		target, ok := router.Next(graph.Edges, node.ID, out.Branch)
		if !ok {
			e.finish(next, domain.StatusCompleted, "")
			break
		}
		nodeID = target
	}

	duration := e.clock().Sub(started)
	e.logger.Info("turn complete",
		"execution_id", next.ID,
		"node_id", next.CurrentNodeID,
		"status", next.Status,
		"reason", next.Reason,
		"steps", steps,
		"duration", duration)
	e.emitTurn(ctx, next, steps, duration)
	return next, nil
}

// Expire moves a waiting execution to expired. Other statuses are rejected.
func (e *Engine) Expire(exec *domain.Execution) (*domain.Execution, error) {
	if exec.Status != domain.StatusWaitingInput {
		return nil, fmt.Errorf("execution %s is %s: %w", exec.ID, exec.Status, domain.ErrExecutionNotActive)
	}
	next := exec.Clone()
	e.finish(next, domain.StatusExpired, domain.ReasonSessionTimeout)
	return next, nil
}

func acceptsInput(t domain.NodeType) bool {
	return t == domain.NodeTypeQuestion || t == domain.NodeTypeMenu
}

func (e *Engine) apply(exec *domain.Execution, node domain.Node, out Outcome) {
	for k, v := range out.Variables {
		exec.SessionVariables[k] = v
	}
	for _, k := range out.Unset {
		delete(exec.SessionVariables, k)
	}
	exec.MessagesSent += out.MessagesSent
	exec.RetryCount = out.RetryCount

	rec := out.Record
	rec.NodeID = node.ID
	rec.NodeType = node.Type
	rec.Timestamp = e.clock()
	rec.Branch = out.Branch
	exec.ExecutionLog = append(exec.ExecutionLog, rec)
}

func (e *Engine) finish(exec *domain.Execution, status domain.ExecutionStatus, reason string) {
	now := e.clock()
	exec.Status = status
	exec.Reason = reason
	switch status {
	case domain.StatusHandoff:
		exec.HandoffAt = &now
	case domain.StatusCompleted, domain.StatusFailed, domain.StatusExpired:
		exec.CompletedAt = &now
	}
}

func (e *Engine) emitNode(ctx context.Context, typ domain.EventType, execID string, node domain.Node) {
	hook := e.hooks.OnNodeEnter
	if typ == domain.EventNodeLeave {
		hook = e.hooks.OnNodeLeave
	}
	if hook == nil {
		return
	}
	hook(ctx, &domain.NodeEvent{
		EventBase: domain.EventBase{Timestamp: e.clock(), Type: typ, ExecutionID: execID},
		NodeID:    node.ID,
		NodeType:  node.Type,
	})
}

func (e *Engine) emitSideEffect(ctx context.Context, execID, nodeID, kind string, d time.Duration, isErr bool) {
	if e.hooks.OnSideEffect == nil {
		return
	}
	e.hooks.OnSideEffect(ctx, &domain.SideEffectEvent{
		EventBase: domain.EventBase{Timestamp: e.clock(), Type: domain.EventSideEffect, ExecutionID: execID},
		NodeID:    nodeID,
		Kind:      kind,
		Duration:  d,
		IsError:   isErr,
	})
}

func (e *Engine) emitTurn(ctx context.Context, exec *domain.Execution, steps int, d time.Duration) {
	if e.hooks.OnTurnComplete == nil {
		return
	}
	e.hooks.OnTurnComplete(ctx, &domain.TurnEvent{
		EventBase: domain.EventBase{Timestamp: e.clock(), Type: domain.EventTurnComplete, ExecutionID: exec.ID},
		Status:    exec.Status,
		Reason:    exec.Reason,
		Steps:     steps,
		Duration:  d,
	})
}

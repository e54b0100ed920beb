package observability

import (
	"context"
	"log/slog"

	"github.com/aretw0/parley/pkg/domain"
)

// Combine returns hooks that call each set in order. Nil callbacks are skipped.
func Combine(sets ...domain.LifecycleHooks) domain.LifecycleHooks {
	var out domain.LifecycleHooks

	var enter, leave []func(context.Context, *domain.NodeEvent)
	var effects []func(context.Context, *domain.SideEffectEvent)
	var turns []func(context.Context, *domain.TurnEvent)
	for _, s := range sets {
		if s.OnNodeEnter != nil {
			enter = append(enter, s.OnNodeEnter)
		}
		if s.OnNodeLeave != nil {
			leave = append(leave, s.OnNodeLeave)
		}
		if s.OnSideEffect != nil {
			effects = append(effects, s.OnSideEffect)
		}
		if s.OnTurnComplete != nil {
			turns = append(turns, s.OnTurnComplete)
		}
	}

	if len(enter) > 0 {
		out.OnNodeEnter = func(ctx context.Context, e *domain.NodeEvent) {
			for _, fn := range enter {
				fn(ctx, e)
			}
		}
	}
	if len(leave) > 0 {
		out.OnNodeLeave = func(ctx context.Context, e *domain.NodeEvent) {
			for _, fn := range leave {
				fn(ctx, e)
			}
		}
	}
	if len(effects) > 0 {
		out.OnSideEffect = func(ctx context.Context, e *domain.SideEffectEvent) {
			for _, fn := range effects {
				fn(ctx, e)
			}
		}
	}
	if len(turns) > 0 {
		out.OnTurnComplete = func(ctx context.Context, e *domain.TurnEvent) {
			for _, fn := range turns {
				fn(ctx, e)
			}
		}
	}
	return out
}

// LogHooks logs node transitions at debug level and failed side effects at
// warn level.
func LogHooks(logger *slog.Logger) domain.LifecycleHooks {
	return domain.LifecycleHooks{
		OnNodeEnter: func(ctx context.Context, e *domain.NodeEvent) {
			logger.DebugContext(ctx, "node_enter",
				"execution_id", e.ExecutionID,
				"node_id", e.NodeID,
				"node_type", e.NodeType)
		},
		OnNodeLeave: func(ctx context.Context, e *domain.NodeEvent) {
			logger.DebugContext(ctx, "node_leave",
				"execution_id", e.ExecutionID,
				"node_id", e.NodeID)
		},
		OnSideEffect: func(ctx context.Context, e *domain.SideEffectEvent) {
			if !e.IsError {
				return
			}
			logger.WarnContext(ctx, "side_effect_failed",
				"execution_id", e.ExecutionID,
				"node_id", e.NodeID,
				"kind", e.Kind,
				"duration", e.Duration)
		},
	}
}

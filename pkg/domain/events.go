package domain

import (
	"context"
	"time"
)

// EventType defines the category of the event.
type EventType string

const (
	EventNodeEnter    EventType = "node_enter"
	EventNodeLeave    EventType = "node_leave"
	EventSideEffect   EventType = "side_effect"
	EventTurnComplete EventType = "turn_complete"
)

// EventBase contains common fields for all events.
type EventBase struct {
	Timestamp   time.Time `json:"timestamp"`
	Type        EventType `json:"type"`
	ExecutionID string    `json:"execution_id"`
}

// NodeEvent represents entry or exit from a node.
type NodeEvent struct {
	EventBase
	NodeID   string   `json:"node_id"`
	NodeType NodeType `json:"node_type"`
}

// SideEffectEvent represents one call through the side-effect gateway.
type SideEffectEvent struct {
	EventBase
	NodeID   string        `json:"node_id"`
	Kind     string        `json:"kind"` // send, api_call, webhook, tag, flag
	Duration time.Duration `json:"duration"`
	IsError  bool          `json:"is_error,omitempty"`
}

// TurnEvent summarises a finished turn.
type TurnEvent struct {
	EventBase
	Status   ExecutionStatus `json:"status"`
	Reason   string          `json:"reason,omitempty"`
	Steps    int             `json:"steps"`
	Duration time.Duration   `json:"duration"`
}

// LifecycleHooks defines callbacks for engine observability.
// Any field may be nil.
type LifecycleHooks struct {
	OnNodeEnter    func(context.Context, *NodeEvent)
	OnNodeLeave    func(context.Context, *NodeEvent)
	OnSideEffect   func(context.Context, *SideEffectEvent)
	OnTurnComplete func(context.Context, *TurnEvent)
}

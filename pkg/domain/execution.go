package domain

import "time"

// ExecutionStatus defines the lifecycle position of an execution.
type ExecutionStatus string

const (
	StatusRunning      ExecutionStatus = "running"      // Created or mid-turn
	StatusWaitingInput ExecutionStatus = "waitingInput" // Parked on a question or menu
	StatusCompleted    ExecutionStatus = "completed"    // End node or end of flow reached
	StatusHandoff      ExecutionStatus = "handoff"      // Transferred to a human
	StatusExpired      ExecutionStatus = "expired"      // Idle beyond the session timeout
	StatusFailed       ExecutionStatus = "failed"       // Safety bound or broken graph
)

// Failure reasons recorded on Execution.Reason.
const (
	ReasonStepLimitExceeded = "step_limit_exceeded"
	ReasonNodeNotFound      = "node_not_found"
	ReasonSessionTimeout    = "session_timeout"
)

// IsActive reports whether a turn may still run against the execution.
func (s ExecutionStatus) IsActive() bool {
	return s == StatusRunning || s == StatusWaitingInput
}

// IsTerminal is the negation of IsActive for known statuses.
func (s ExecutionStatus) IsTerminal() bool {
	switch s {
	case StatusCompleted, StatusHandoff, StatusExpired, StatusFailed:
		return true
	}
	return false
}

// Contact carries the built-in fields available to templates and the
// address messages are delivered to.
type Contact struct {
	Name    string `json:"name,omitempty"`
	Email   string `json:"email,omitempty"`
	Phone   string `json:"phone,omitempty"`
	Address string `json:"address,omitempty"`
}

// Destination returns the channel address for outbound messages.
func (c Contact) Destination() string {
	if c.Address != "" {
		return c.Address
	}
	return c.Phone
}

// Execution is the runtime record of one run of a graph against one conversation.
// It is updated by replacement: the engine clones it, mutates the clone during
// a turn and hands the clone to the store.
type Execution struct {
	ID             string  `json:"id"`
	GraphID        string  `json:"graphId"`
	GraphVersion   int     `json:"graphVersion"`
	CompanyID      string  `json:"companyId"`
	ConversationID string  `json:"conversationId"`
	ContactID      string  `json:"contactId"`
	Contact        Contact `json:"contact"`

	// CurrentNodeID is empty when the execution has not entered the graph yet
	// or has left it.
	CurrentNodeID string          `json:"currentNodeId,omitempty"`
	Status        ExecutionStatus `json:"status"`
	Reason        string          `json:"reason,omitempty"`

	SessionVariables map[string]any `json:"sessionVariables"`
	ExecutionLog     []StepRecord   `json:"executionLog"`

	MessagesSent     int `json:"messagesSent"`
	MessagesReceived int `json:"messagesReceived"`

	// RetryCount counts consecutive rejected answers on the waiting node.
	RetryCount int `json:"retryCount,omitempty"`

	StartedAt         time.Time  `json:"startedAt"`
	LastInteractionAt time.Time  `json:"lastInteractionAt"`
	CompletedAt       *time.Time `json:"completedAt,omitempty"`
	HandoffAt         *time.Time `json:"handoffAt,omitempty"`

	// Revision is the optimistic concurrency token. Stores accept a Save only
	// when it matches the persisted value and bump it on success.
	Revision int64 `json:"revision"`
}

// NewExecution creates a running execution pinned to the given graph version.
// Graph default variables are copied first, then overridden by vars.
func NewExecution(id string, graph *GraphDefinition, conversationID, contactID string, contact Contact, vars map[string]any, now time.Time) *Execution {
	sessionVars := make(map[string]any, len(graph.DefaultVariables)+len(vars))
	for k, v := range graph.DefaultVariables {
		sessionVars[k] = v
	}
	for k, v := range vars {
		sessionVars[k] = v
	}
	return &Execution{
		ID:                id,
		GraphID:           graph.ID,
		GraphVersion:      graph.Version,
		CompanyID:         graph.CompanyID,
		ConversationID:    conversationID,
		ContactID:         contactID,
		Contact:           contact,
		Status:            StatusRunning,
		SessionVariables:  sessionVars,
		ExecutionLog:      []StepRecord{},
		StartedAt:         now,
		LastInteractionAt: now,
	}
}

// Clone returns a deep copy safe for mutation.
func (e *Execution) Clone() *Execution {
	if e == nil {
		return nil
	}
	next := *e
	next.SessionVariables = CloneVariables(e.SessionVariables)
	next.ExecutionLog = make([]StepRecord, len(e.ExecutionLog))
	copy(next.ExecutionLog, e.ExecutionLog)
	if e.CompletedAt != nil {
		t := *e.CompletedAt
		next.CompletedAt = &t
	}
	if e.HandoffAt != nil {
		t := *e.HandoffAt
		next.HandoffAt = &t
	}
	return &next
}

// CloneVariables deep-copies a variable map. Values that are not plain JSON
// containers are shared, which is fine since the engine never mutates them in place.
func CloneVariables(src map[string]any) map[string]any {
	out := make(map[string]any, len(src))
	for k, v := range src {
		out[k] = cloneValue(v)
	}
	return out
}

func cloneValue(v any) any {
	switch val := v.(type) {
	case map[string]any:
		return CloneVariables(val)
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = cloneValue(item)
		}
		return out
	default:
		return v
	}
}

package ports

import (
	"context"

	"github.com/aretw0/parley/pkg/domain"
)

// Trigger error codes.
const (
	CodeNotFound       = "not_found"
	CodeNotActive      = "not_active"
	CodeConflict       = "conflict"
	CodeInvalidRequest = "invalid_request"
	CodeInternal       = "internal"
)

// StartRequest creates a new execution.
type StartRequest struct {
	GraphID        string         `json:"graphId"`
	GraphVersion   int            `json:"graphVersion,omitempty"` // 0 selects the latest version
	CompanyID      string         `json:"companyId"`
	ConversationID string         `json:"conversationId"`
	ContactID      string         `json:"contactId"`
	Contact        domain.Contact `json:"contact"`
	Variables      map[string]any `json:"variables,omitempty"`
}

// TriggerRequest runs one turn.
type TriggerRequest struct {
	ExecutionID string `json:"executionId"`
	UserMessage string `json:"userMessage,omitempty"`
	CompanyID   string `json:"companyId"`
}

// TriggerResponse is the outcome of a turn. On failure only Success, Error
// and Code are set.
type TriggerResponse struct {
	Success          bool                   `json:"success"`
	ExecutionID      string                 `json:"executionId,omitempty"`
	Status           domain.ExecutionStatus `json:"status,omitempty"`
	CurrentNodeID    string                 `json:"currentNodeId,omitempty"`
	MessagesSent     int                    `json:"messagesSent"`
	MessagesReceived int                    `json:"messagesReceived"`
	Error            string                 `json:"error,omitempty"`
	Code             string                 `json:"code,omitempty"`
}

// Engine is the driving port used by the transport adapters.
type Engine interface {
	Start(ctx context.Context, req StartRequest) (*domain.Execution, error)
	Trigger(ctx context.Context, req TriggerRequest) TriggerResponse
	Get(ctx context.Context, companyID, executionID string) (*domain.Execution, error)
}

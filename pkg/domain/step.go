package domain

import "time"

// StepRecord is the trace entry for one visited node. Records are appended to
// Execution.ExecutionLog and never modified afterwards.
type StepRecord struct {
	NodeID    string    `json:"nodeId"`
	NodeType  NodeType  `json:"nodeType"`
	Timestamp time.Time `json:"timestamp"`

	// Content is the text sent to the contact, if any.
	Content string `json:"content,omitempty"`
	// Input is the user message consumed by this node, if any.
	Input string `json:"input,omitempty"`
	// Branch is the label used to leave the node.
	Branch string `json:"branch,omitempty"`

	Condition string `json:"condition,omitempty"`
	Result    *bool  `json:"result,omitempty"`

	// Error holds a node-level failure (delivery, api_call, webhook, tag).
	Error string `json:"error,omitempty"`
	Note  string `json:"note,omitempty"`
}

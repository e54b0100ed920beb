package domain

import (
	"fmt"

	"github.com/mitchellh/mapstructure"
)

// NodeType identifies the behaviour of a node.
type NodeType string

// NodeType constants define the control flow behavior.
const (
	// NodeTypeStart is the single entry point of a graph.
	NodeTypeStart NodeType = "start"
	// NodeTypeEnd completes the execution.
	NodeTypeEnd NodeType = "end"
	// NodeTypeMessage sends text and continues immediately (soft step).
	NodeTypeMessage NodeType = "message"
	// NodeTypeQuestion sends a prompt and halts waiting for an answer (hard step).
	NodeTypeQuestion NodeType = "question"
	// NodeTypeMenu sends a numbered list of options and halts waiting for a choice.
	NodeTypeMenu NodeType = "menu"
	// NodeTypeCondition branches on a boolean expression (silent step).
	NodeTypeCondition NodeType = "condition"
	// NodeTypeAPICall performs an HTTP request and stores the response.
	NodeTypeAPICall NodeType = "api_call"
	// NodeTypeWebhook fires a best-effort outbound notification.
	NodeTypeWebhook NodeType = "webhook"
	// NodeTypeTagContact attaches a tag to the contact.
	NodeTypeTagContact NodeType = "tag_contact"
	// NodeTypeHandoff transfers the conversation to a human operator.
	NodeTypeHandoff NodeType = "handoff"
)

// KnownNodeTypes lists every node type the engine has a processor for.
var KnownNodeTypes = []NodeType{
	NodeTypeStart, NodeTypeEnd, NodeTypeMessage, NodeTypeQuestion, NodeTypeMenu,
	NodeTypeCondition, NodeTypeAPICall, NodeTypeWebhook, NodeTypeTagContact, NodeTypeHandoff,
}

// Reserved branch labels.
const (
	BranchTrue       = "true"
	BranchFalse      = "false"
	BranchMaxRetries = "max_retries"
)

// Node represents a logical unit in the graph.
// Data holds the type-specific payload exactly as authored.
type Node struct {
	ID   string         `json:"id" yaml:"id"`
	Type NodeType       `json:"type" yaml:"type"`
	Data map[string]any `json:"data,omitempty" yaml:"data,omitempty"`
}

// Edge links two nodes. SourceHandle optionally labels the branch (a menu
// option value, or "true"/"false" for conditions); an empty handle is the
// default edge of its source.
type Edge struct {
	ID           string `json:"id" yaml:"id"`
	Source       string `json:"source" yaml:"source"`
	Target       string `json:"target" yaml:"target"`
	SourceHandle string `json:"sourceHandle,omitempty" yaml:"sourceHandle,omitempty"`
}

// MessageData is the payload of a message node.
type MessageData struct {
	Content string `json:"content"`
}

// QuestionData is the payload of a question node.
type QuestionData struct {
	Question        string `json:"question"`
	VariableName    string `json:"variableName"`
	Validation      string `json:"validation"`
	FallbackMessage string `json:"fallbackMessage"`
}

// MenuOption is one selectable entry of a menu node.
type MenuOption struct {
	ID    string `json:"id"`
	Label string `json:"label"`
	Value string `json:"value"`
}

// MenuData is the payload of a menu node.
type MenuData struct {
	Title           string       `json:"title"`
	Options         []MenuOption `json:"options"`
	VariableName    string       `json:"variableName"`
	FallbackMessage string       `json:"fallbackMessage"`
}

// ConditionData is the payload of a condition node.
type ConditionData struct {
	Condition string `json:"condition"`
}

// APICallData is the payload of an api_call node.
// Body may be authored as a string or as a structured JSON value.
type APICallData struct {
	URL              string            `json:"url"`
	Method           string            `json:"method"`
	Headers          map[string]string `json:"headers"`
	Body             any               `json:"body"`
	ResponseVariable string            `json:"responseVariable"`
	ResponseMapping  map[string]string `json:"responseMapping"`
	TimeoutMs        int               `json:"timeoutMs"`
}

// WebhookData is the payload of a webhook node.
type WebhookData struct {
	URL     string            `json:"url"`
	Method  string            `json:"method"`
	Headers map[string]string `json:"headers"`
}

// TagData is the payload of a tag_contact node.
type TagData struct {
	TagName string   `json:"tagName"`
	Tags    []string `json:"tags"`
}

// Names returns every tag requested by the node, in authoring order.
func (d TagData) Names() []string {
	names := make([]string, 0, len(d.Tags)+1)
	if d.TagName != "" {
		names = append(names, d.TagName)
	}
	return append(names, d.Tags...)
}

// HandoffData is the payload of a handoff node.
type HandoffData struct {
	Message string `json:"message"`
}

// EndData is the payload of an end node.
type EndData struct {
	Message string `json:"message"`
}

// DecodeData maps the raw node payload onto a typed struct.
// Scalars are weakly typed so that authoring tools emitting "3" for 3 still decode.
func DecodeData[T any](node Node) (T, error) {
	var out T
	if len(node.Data) == 0 {
		return out, nil
	}
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		TagName:          "json",
		WeaklyTypedInput: true,
		Result:           &out,
	})
	if err != nil {
		return out, err
	}
	if err := dec.Decode(node.Data); err != nil {
		return out, fmt.Errorf("node %s: invalid %s payload: %w", node.ID, node.Type, err)
	}
	return out, nil
}

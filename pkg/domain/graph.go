package domain

// DefaultFallbackMessage is sent when an answer is rejected and neither the
// node nor the graph settings provide a custom text.
const DefaultFallbackMessage = "Sorry, I didn't understand that. Could you try again?"

// Settings holds graph-wide behaviour knobs.
type Settings struct {
	TypingDelayMs          int    `json:"typingDelayMs,omitempty" yaml:"typingDelayMs,omitempty"`
	DefaultFallbackMessage string `json:"defaultFallbackMessage,omitempty" yaml:"defaultFallbackMessage,omitempty"`
	MaxRetries             int    `json:"maxRetries,omitempty" yaml:"maxRetries,omitempty"`
	SessionTimeoutMinutes  int    `json:"sessionTimeoutMinutes,omitempty" yaml:"sessionTimeoutMinutes,omitempty"`
}

// GraphDefinition is an immutable, versioned flow published by the authoring
// subsystem. Executions pin the version they started with.
type GraphDefinition struct {
	ID               string         `json:"id" yaml:"id"`
	CompanyID        string         `json:"companyId" yaml:"companyId"`
	Version          int            `json:"version" yaml:"version"`
	Name             string         `json:"name,omitempty" yaml:"name,omitempty"`
	Nodes            []Node         `json:"nodes" yaml:"nodes"`
	Edges            []Edge         `json:"edges" yaml:"edges"`
	DefaultVariables map[string]any `json:"defaultVariables,omitempty" yaml:"defaultVariables,omitempty"`
	Settings         Settings       `json:"settings" yaml:"settings"`
}

// Node looks up a node by ID.
func (g *GraphDefinition) Node(id string) (Node, bool) {
	for _, n := range g.Nodes {
		if n.ID == id {
			return n, true
		}
	}
	return Node{}, false
}

// StartNode returns the single start node of the graph.
// It fails when there is none or more than one.
func (g *GraphDefinition) StartNode() (Node, error) {
	var found []Node
	for _, n := range g.Nodes {
		if n.Type == NodeTypeStart {
			found = append(found, n)
		}
	}
	if len(found) != 1 {
		return Node{}, ErrNoStartNode
	}
	return found[0], nil
}

// FallbackMessage resolves the text sent when an answer is rejected.
func (g *GraphDefinition) FallbackMessage(nodeFallback string) string {
	if nodeFallback != "" {
		return nodeFallback
	}
	if g.Settings.DefaultFallbackMessage != "" {
		return g.Settings.DefaultFallbackMessage
	}
	return DefaultFallbackMessage
}

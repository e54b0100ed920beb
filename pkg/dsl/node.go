package dsl

import "github.com/aretw0/parley/pkg/domain"

// NodeBuilder provides a fluent API for configuring a node and its outgoing edges.
type NodeBuilder struct {
	node    domain.Node
	edges   []domain.Edge
	builder *Builder
}

// Set writes a raw payload key.
func (n *NodeBuilder) Set(key string, value any) *NodeBuilder {
	n.node.Data[key] = value
	return n
}

// SaveTo names the session variable that stores the answer or API response.
func (n *NodeBuilder) SaveTo(variable string) *NodeBuilder {
	if n.node.Type == domain.NodeTypeAPICall {
		return n.Set("responseVariable", variable)
	}
	return n.Set("variableName", variable)
}

// Validate sets the validation kind of a question.
func (n *NodeBuilder) Validate(kind string) *NodeBuilder {
	return n.Set("validation", kind)
}

// Fallback sets the text sent when an answer is rejected.
func (n *NodeBuilder) Fallback(text string) *NodeBuilder {
	return n.Set("fallbackMessage", text)
}

// Option appends a menu option whose value is also its ID.
func (n *NodeBuilder) Option(value, label string) *NodeBuilder {
	opts, _ := n.node.Data["options"].([]any)
	opts = append(opts, map[string]any{"id": value, "label": label, "value": value})
	return n.Set("options", opts)
}

// Method sets the HTTP method of an api_call or webhook.
func (n *NodeBuilder) Method(method string) *NodeBuilder {
	return n.Set("method", method)
}

// Header adds an HTTP header to an api_call or webhook.
func (n *NodeBuilder) Header(key, value string) *NodeBuilder {
	headers, _ := n.node.Data["headers"].(map[string]any)
	if headers == nil {
		headers = map[string]any{}
	}
	headers[key] = value
	return n.Set("headers", headers)
}

// Body sets the request body of an api_call.
func (n *NodeBuilder) Body(body any) *NodeBuilder {
	return n.Set("body", body)
}

// Map stores the result of a jq expression over the API response in variable.
func (n *NodeBuilder) Map(variable, expr string) *NodeBuilder {
	mapping, _ := n.node.Data["responseMapping"].(map[string]any)
	if mapping == nil {
		mapping = map[string]any{}
	}
	mapping[variable] = expr
	return n.Set("responseMapping", mapping)
}

// TimeoutMs bounds an api_call below the engine-wide timeout.
func (n *NodeBuilder) TimeoutMs(ms int) *NodeBuilder {
	return n.Set("timeoutMs", ms)
}

// Go adds the default edge to target.
func (n *NodeBuilder) Go(target string) *NodeBuilder {
	return n.Branch("", target)
}

// Branch adds an edge taken when the node yields branch.
func (n *NodeBuilder) Branch(branch, target string) *NodeBuilder {
	id := n.node.ID + "->" + target
	if branch != "" {
		id += ":" + branch
	}
	n.edges = append(n.edges, domain.Edge{ID: id, Source: n.node.ID, Target: target, SourceHandle: branch})
	return n
}

// True wires the branch taken when a condition holds.
func (n *NodeBuilder) True(target string) *NodeBuilder {
	return n.Branch(domain.BranchTrue, target)
}

// False wires the branch taken when a condition does not hold.
func (n *NodeBuilder) False(target string) *NodeBuilder {
	return n.Branch(domain.BranchFalse, target)
}

// OnMaxRetries wires the edge followed once a question or menu exhausts
// the graph's retry budget.
func (n *NodeBuilder) OnMaxRetries(target string) *NodeBuilder {
	return n.Branch(domain.BranchMaxRetries, target)
}

// Node returns the underlying domain.Node. Nodes without payload get nil Data.
func (n *NodeBuilder) Node() domain.Node {
	out := n.node
	if len(out.Data) == 0 {
		out.Data = nil
	}
	return out
}

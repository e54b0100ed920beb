package dsl

import (
	"fmt"

	"github.com/aretw0/parley/pkg/domain"
	"github.com/aretw0/parley/pkg/graphcheck"
)

// Builder manages the graph construction. Nodes keep their insertion order.
type Builder struct {
	graph domain.GraphDefinition
	order []string
	nodes map[string]*NodeBuilder
}

// New creates a new graph builder.
func New(id string, version int) *Builder {
	return &Builder{
		graph: domain.GraphDefinition{ID: id, Version: version},
		nodes: make(map[string]*NodeBuilder),
	}
}

// Company sets the owning company.
func (b *Builder) Company(companyID string) *Builder {
	b.graph.CompanyID = companyID
	return b
}

// Name sets the display name.
func (b *Builder) Name(name string) *Builder {
	b.graph.Name = name
	return b
}

// Settings replaces the graph settings.
func (b *Builder) Settings(s domain.Settings) *Builder {
	b.graph.Settings = s
	return b
}

// Default adds a default session variable.
func (b *Builder) Default(key string, value any) *Builder {
	if b.graph.DefaultVariables == nil {
		b.graph.DefaultVariables = make(map[string]any)
	}
	b.graph.DefaultVariables[key] = value
	return b
}

// Add creates a node of the given type. If the node already exists, it
// returns the existing builder.
func (b *Builder) Add(id string, typ domain.NodeType) *NodeBuilder {
	if nb, ok := b.nodes[id]; ok {
		return nb
	}
	nb := &NodeBuilder{
		node:    domain.Node{ID: id, Type: typ, Data: map[string]any{}},
		builder: b,
	}
	b.nodes[id] = nb
	b.order = append(b.order, id)
	return nb
}

// Start adds the entry node.
func (b *Builder) Start(id string) *NodeBuilder {
	return b.Add(id, domain.NodeTypeStart)
}

// Message adds a node that sends content and continues.
func (b *Builder) Message(id, content string) *NodeBuilder {
	return b.Add(id, domain.NodeTypeMessage).Set("content", content)
}

// Question adds a node that asks and waits for an answer.
func (b *Builder) Question(id, question string) *NodeBuilder {
	return b.Add(id, domain.NodeTypeQuestion).Set("question", question)
}

// Menu adds a node that lists options and waits for a choice.
func (b *Builder) Menu(id, title string) *NodeBuilder {
	return b.Add(id, domain.NodeTypeMenu).Set("title", title)
}

// Condition adds a node branching on expr. Wire it with True and False.
func (b *Builder) Condition(id, expr string) *NodeBuilder {
	return b.Add(id, domain.NodeTypeCondition).Set("condition", expr)
}

// APICall adds an HTTP call node.
func (b *Builder) APICall(id, url string) *NodeBuilder {
	return b.Add(id, domain.NodeTypeAPICall).Set("url", url)
}

// Webhook adds a best-effort notification node.
func (b *Builder) Webhook(id, url string) *NodeBuilder {
	return b.Add(id, domain.NodeTypeWebhook).Set("url", url)
}

// Tag adds a node tagging the contact with names.
func (b *Builder) Tag(id string, names ...string) *NodeBuilder {
	tags := make([]any, len(names))
	for i, n := range names {
		tags[i] = n
	}
	return b.Add(id, domain.NodeTypeTagContact).Set("tags", tags)
}

// Handoff adds a node transferring the conversation to a human.
func (b *Builder) Handoff(id, message string) *NodeBuilder {
	nb := b.Add(id, domain.NodeTypeHandoff)
	if message != "" {
		nb.Set("message", message)
	}
	return nb
}

// End adds a completing node with an optional closing message.
func (b *Builder) End(id, message string) *NodeBuilder {
	nb := b.Add(id, domain.NodeTypeEnd)
	if message != "" {
		nb.Set("message", message)
	}
	return nb
}

// Graph assembles the definition without validating it.
func (b *Builder) Graph() *domain.GraphDefinition {
	g := b.graph
	g.Nodes = make([]domain.Node, 0, len(b.order))
	g.Edges = nil
	for _, id := range b.order {
		nb := b.nodes[id]
		g.Nodes = append(g.Nodes, nb.Node())
		g.Edges = append(g.Edges, nb.edges...)
	}
	return &g
}

// Build assembles the definition and runs graphcheck on it.
func (b *Builder) Build() (*domain.GraphDefinition, error) {
	g := b.Graph()
	if err := graphcheck.Validate(g); err != nil {
		return nil, fmt.Errorf("graph %s@%d: %w", g.ID, g.Version, err)
	}
	return g, nil
}

// MustBuild is like Build but panics on error. Meant for tests and examples.
func (b *Builder) MustBuild() *domain.GraphDefinition {
	g, err := b.Build()
	if err != nil {
		panic(err)
	}
	return g
}

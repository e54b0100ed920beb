package graph_test

import (
	"strings"
	"testing"

	"github.com/aretw0/parley/internal/presentation/graph"
	"github.com/aretw0/parley/pkg/domain"
	"github.com/stretchr/testify/assert"
)

func TestGenerateMermaid(t *testing.T) {
	tests := []struct {
		name     string
		graph    *domain.GraphDefinition
		contains []string
	}{
		{
			name: "Node Shapes",
			graph: &domain.GraphDefinition{Nodes: []domain.Node{
				{ID: "start", Type: domain.NodeTypeStart},
				{ID: "ask", Type: domain.NodeTypeQuestion},
				{ID: "check", Type: domain.NodeTypeCondition},
				{ID: "api", Type: domain.NodeTypeAPICall},
				{ID: "hi", Type: domain.NodeTypeMessage},
				{ID: "bye", Type: domain.NodeTypeEnd},
			}},
			contains: []string{
				`start(("start"))`,
				`ask[/"ask <br/> <i>question</i>"/]`,
				`check{"check <br/> <i>condition</i>"}`,
				`api[["api <br/> <i>api_call</i>"]]`,
				`hi["hi <br/> <i>message</i>"]`,
				`bye((("bye <br/> <i>end</i>")))`,
			},
		},
		{
			name: "Edge Labels",
			graph: &domain.GraphDefinition{
				Nodes: []domain.Node{{ID: "a"}, {ID: "b"}, {ID: "c"}},
				Edges: []domain.Edge{
					{Source: "a", Target: "b"},
					{Source: "a", Target: "c", SourceHandle: "true"},
					{Source: "b", Target: "c", SourceHandle: domain.BranchMaxRetries},
				},
			},
			contains: []string{
				"a --> b",
				`a -- "true" --> c`,
				`b -. "max_retries" .-> c`,
			},
		},
		{
			name: "ID Sanitization",
			graph: &domain.GraphDefinition{
				Nodes: []domain.Node{{ID: "ask-name.v2"}, {ID: "two words"}},
				Edges: []domain.Edge{{Source: "ask-name.v2", Target: "two words"}},
			},
			contains: []string{
				`ask_name_v2["ask-name.v2"]`,
				"ask_name_v2 --> two_words",
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out := graph.GenerateMermaid(tt.graph, nil)
			assert.True(t, strings.HasPrefix(out, "graph TD\n"))
			for _, want := range tt.contains {
				assert.Contains(t, out, want)
			}
			assert.NotContains(t, out, "classDef")
		})
	}
}

func TestGenerateMermaid_Overlay(t *testing.T) {
	g := &domain.GraphDefinition{Nodes: []domain.Node{
		{ID: "start", Type: domain.NodeTypeStart},
		{ID: "ask", Type: domain.NodeTypeQuestion},
	}}
	exec := &domain.Execution{
		CurrentNodeID: "ask",
		ExecutionLog: []domain.StepRecord{
			{NodeID: "start"}, {NodeID: "ask"}, {NodeID: "ask"},
		},
	}

	out := graph.GenerateMermaid(g, graph.OverlayFromExecution(exec))
	assert.Contains(t, out, "classDef visited")
	assert.Equal(t, 1, strings.Count(out, "class ask visited;"), "visited nodes are deduplicated")
	assert.Contains(t, out, "class start visited;")
	assert.Contains(t, out, "class ask current;")
}

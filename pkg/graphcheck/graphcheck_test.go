package graphcheck_test

import (
	"strings"
	"testing"

	"github.com/aretw0/parley/pkg/domain"
	"github.com/aretw0/parley/pkg/dsl"
	"github.com/aretw0/parley/pkg/graphcheck"
	"github.com/aretw0/parley/pkg/validate"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validGraph() *dsl.Builder {
	b := dsl.New("welcome", 1).Company("acme")
	b.Start("start").Go("ask")
	b.Question("ask", "Email?").SaveTo("email").Validate("email").Go("check")
	b.Condition("check", `{{email}} != ""`).True("end").False("ask")
	b.End("end", "Bye")
	return b
}

func reasons(errs []*graphcheck.ValidationError) string {
	var parts []string
	for _, e := range errs {
		parts = append(parts, e.Error())
	}
	return strings.Join(parts, "\n")
}

func TestCheck_Valid(t *testing.T) {
	report, err := graphcheck.Check(validGraph().Graph())
	require.NoError(t, err)
	assert.True(t, report.OK(), reasons(report.Errors))
	assert.Empty(t, report.Warnings)
	assert.NoError(t, report.Err())
}

func TestCheck_Schema(t *testing.T) {
	tests := []struct {
		name  string
		graph *domain.GraphDefinition
	}{
		{"missing id", &domain.GraphDefinition{Version: 1, Nodes: []domain.Node{{ID: "s", Type: "start"}}}},
		{"zero version", &domain.GraphDefinition{ID: "g", Nodes: []domain.Node{{ID: "s", Type: "start"}}}},
		{"no nodes", &domain.GraphDefinition{ID: "g", Version: 1}},
		{"unknown type", &domain.GraphDefinition{ID: "g", Version: 1, Nodes: []domain.Node{{ID: "s", Type: "teleport"}}}},
		{"negative retries", &domain.GraphDefinition{ID: "g", Version: 1,
			Nodes: []domain.Node{{ID: "s", Type: "start"}}, Settings: domain.Settings{MaxRetries: -1}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := graphcheck.Validate(tt.graph)
			require.Error(t, err)
			assert.Contains(t, err.Error(), "schema violation")
		})
	}
}

func TestCheck_Structure(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(b *dsl.Builder)
		want   string
	}{
		{"dangling edge", func(b *dsl.Builder) { b.Add("end", domain.NodeTypeEnd).Go("ghost") }, `unknown node "ghost"`},
		{"second start", func(b *dsl.Builder) { b.Start("start2").Go("end") }, "2 start nodes"},
		{"duplicate default edge", func(b *dsl.Builder) { b.Add("start", domain.NodeTypeStart).Go("end") }, "more than one default edge"},
		{"duplicate branch", func(b *dsl.Builder) { b.Add("check", domain.NodeTypeCondition).True("ask") }, `more than one edge for branch "true"`},
		{"bad condition", func(b *dsl.Builder) { b.Add("check", domain.NodeTypeCondition).Set("condition", "{{a}} > ") }, "invalid condition"},
		{"unknown validation", func(b *dsl.Builder) { b.Add("ask", domain.NodeTypeQuestion).Validate("cpf") }, `unknown validation "cpf"`},
		{"empty question", func(b *dsl.Builder) { b.Add("ask", domain.NodeTypeQuestion).Set("question", " ") }, "question text is required"},
		{"empty menu", func(b *dsl.Builder) { b.Menu("menu", "Pick").Go("end"); b.Add("start", "").Branch("x", "menu") }, "menu has no options"},
		{"bad mapping", func(b *dsl.Builder) {
			b.APICall("api", "https://x").Map("v", ".[").Go("end")
			b.Add("start", "").Branch("x", "api")
		}, "invalid jq expression"},
		{"api without url", func(b *dsl.Builder) { b.APICall("api", "").Go("end"); b.Add("start", "").Branch("x", "api") }, "url is required"},
		{"no tags", func(b *dsl.Builder) { b.Tag("tag").Go("end"); b.Add("start", "").Branch("x", "tag") }, "no tag names"},
		{"bad payload", func(b *dsl.Builder) { b.Add("ask", domain.NodeTypeQuestion).Set("variableName", map[string]any{"a": 1}) }, "invalid question payload"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := validGraph()
			tt.mutate(b)
			err := graphcheck.Validate(b.Graph())
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestCheck_DuplicateNodeID(t *testing.T) {
	g := validGraph().Graph()
	g.Nodes = append(g.Nodes, domain.Node{ID: "end", Type: domain.NodeTypeEnd})
	errs := graphcheck.ValidationErrors(graphcheck.Validate(g))
	require.Len(t, errs, 1)
	assert.Equal(t, "nodes[end]", errs[0].Path)
	assert.Equal(t, graphcheck.SeverityError, errs[0].Severity)
}

func TestCheck_Warnings(t *testing.T) {
	b := validGraph()
	b.Message("orphan", "never shown").Go("end")
	b.Add("end", domain.NodeTypeEnd).Go("start")

	report, err := graphcheck.Check(b.Graph())
	require.NoError(t, err)
	assert.True(t, report.OK(), "warnings do not block")
	text := reasons(report.Warnings)
	assert.Contains(t, text, "nodes[orphan]: node is unreachable from start")
	assert.Contains(t, text, "terminal end node")
}

func TestChecker_CustomValidators(t *testing.T) {
	reg := validate.NewRegistry()
	reg.Register("cpf", func(raw string) bool { return len(raw) == 11 })
	checker, err := graphcheck.New(graphcheck.WithValidators(reg))
	require.NoError(t, err)

	b := validGraph()
	b.Add("ask", domain.NodeTypeQuestion).Validate("cpf")
	assert.True(t, checker.Check(b.Graph()).OK())
}

func TestAggregateError_Message(t *testing.T) {
	err := &graphcheck.AggregateError{Errors: []*graphcheck.ValidationError{
		{Path: "nodes[a]", Reason: "x"},
		{Reason: "y"},
	}}
	assert.Equal(t, "2 validation errors:\n  1. nodes[a]: x\n  2. y\n", err.Error())
	assert.ErrorAs(t, error(err), new(*graphcheck.ValidationError))
}

// Package graphcheck validates graph definitions before they are published
// or loaded: document shape through JSON Schema, then the structural and
// per-node rules the schema cannot express.
package graphcheck

import (
	"bytes"
	_ "embed"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/aretw0/parley/pkg/condition"
	"github.com/aretw0/parley/pkg/domain"
	"github.com/aretw0/parley/pkg/gateway"
	"github.com/aretw0/parley/pkg/validate"
	"github.com/bytedance/sonic"
	jsonschema "github.com/santhosh-tekuri/jsonschema/v6"
)

//go:embed graph.schema.json
var graphSchemaJSON []byte

const schemaURL = "https://parley.dev/schemas/graph.json"

// Report holds the findings of a check.
type Report struct {
	Errors   []*ValidationError
	Warnings []*ValidationError
}

// OK reports whether the graph has no blocking errors.
func (r *Report) OK() bool { return len(r.Errors) == 0 }

// Err returns the errors as an *AggregateError, or nil.
func (r *Report) Err() error {
	if r.OK() {
		return nil
	}
	return &AggregateError{Errors: r.Errors}
}

func (r *Report) errorf(path, format string, args ...any) {
	r.Errors = append(r.Errors, &ValidationError{Path: path, Reason: fmt.Sprintf(format, args...), Severity: SeverityError})
}

func (r *Report) warnf(path, format string, args ...any) {
	r.Warnings = append(r.Warnings, &ValidationError{Path: path, Reason: fmt.Sprintf(format, args...), Severity: SeverityWarning})
}

// Checker validates graph definitions. It is safe for concurrent use.
type Checker struct {
	schema     *jsonschema.Schema
	validators *validate.Registry
}

// Option configures the Checker.
type Option func(*Checker)

// WithValidators sets the registry used to resolve question validation kinds.
func WithValidators(r *validate.Registry) Option {
	return func(c *Checker) {
		if r != nil {
			c.validators = r
		}
	}
}

// New compiles the embedded graph schema.
func New(opts ...Option) (*Checker, error) {
	c := jsonschema.NewCompiler()
	doc, err := jsonschema.UnmarshalJSON(bytes.NewReader(graphSchemaJSON))
	if err != nil {
		return nil, fmt.Errorf("unmarshal graph schema: %w", err)
	}
	if err := c.AddResource(schemaURL, doc); err != nil {
		return nil, fmt.Errorf("add graph schema resource: %w", err)
	}
	compiled, err := c.Compile(schemaURL)
	if err != nil {
		return nil, fmt.Errorf("compile graph schema: %w", err)
	}

	checker := &Checker{schema: compiled, validators: validate.Default}
	for _, opt := range opts {
		opt(checker)
	}
	return checker, nil
}

var (
	defaultOnce    sync.Once
	defaultChecker *Checker
	defaultErr     error
)

func getDefault() (*Checker, error) {
	defaultOnce.Do(func() {
		defaultChecker, defaultErr = New()
	})
	return defaultChecker, defaultErr
}

// Check runs the default checker.
func Check(g *domain.GraphDefinition) (*Report, error) {
	c, err := getDefault()
	if err != nil {
		return nil, err
	}
	return c.Check(g), nil
}

// Validate runs the default checker and returns only blocking errors.
func Validate(g *domain.GraphDefinition) error {
	report, err := Check(g)
	if err != nil {
		return err
	}
	return report.Err()
}

// Check validates g. Schema violations stop the check early since the
// structural rules assume a well-formed document.
func (c *Checker) Check(g *domain.GraphDefinition) *Report {
	report := &Report{}
	if g == nil {
		report.errorf("", "graph definition is nil")
		return report
	}

	if err := c.checkSchema(g); err != nil {
		report.errorf("", "%s", err)
		return report
	}

	nodes := c.checkNodes(g, report)
	c.checkEdges(g, nodes, report)
	checkReachability(g, nodes, report)
	return report
}

func (c *Checker) checkSchema(g *domain.GraphDefinition) error {
	raw, err := sonic.Marshal(g)
	if err != nil {
		return fmt.Errorf("failed to serialize graph: %w", err)
	}
	// The schema library wants json.Number for numbers.
	doc, err := jsonschema.UnmarshalJSON(bytes.NewReader(raw))
	if err != nil {
		return err
	}
	if err := c.schema.Validate(doc); err != nil {
		return fmt.Errorf("schema violation: %s", flattenSchemaError(err))
	}
	return nil
}

func flattenSchemaError(err error) string {
	lines := strings.Split(strings.TrimSpace(err.Error()), "\n")
	for i, l := range lines {
		lines[i] = strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(l), "-"))
	}
	return strings.Join(lines, "; ")
}

func nodePath(id string) string { return "nodes[" + id + "]" }

func (c *Checker) checkNodes(g *domain.GraphDefinition, report *Report) map[string]domain.Node {
	nodes := make(map[string]domain.Node, len(g.Nodes))
	starts := 0
	for _, n := range g.Nodes {
		if _, dup := nodes[n.ID]; dup {
			report.errorf(nodePath(n.ID), "duplicate node id")
			continue
		}
		nodes[n.ID] = n
		if n.Type == domain.NodeTypeStart {
			starts++
		}
		c.checkPayload(g, n, report)
	}
	switch {
	case starts == 0:
		report.errorf("nodes", "graph has no start node")
	case starts > 1:
		report.errorf("nodes", "graph has %d start nodes, want exactly one", starts)
	}
	return nodes
}

func (c *Checker) checkPayload(g *domain.GraphDefinition, n domain.Node, report *Report) {
	path := nodePath(n.ID)
	decodeErr := func(err error) {
		report.errorf(path, "%s", err)
	}

	switch n.Type {
	case domain.NodeTypeMessage:
		d, err := domain.DecodeData[domain.MessageData](n)
		if err != nil {
			decodeErr(err)
		} else if strings.TrimSpace(d.Content) == "" {
			report.warnf(path, "message has no content")
		}

	case domain.NodeTypeQuestion:
		d, err := domain.DecodeData[domain.QuestionData](n)
		if err != nil {
			decodeErr(err)
			return
		}
		if strings.TrimSpace(d.Question) == "" {
			report.errorf(path, "question text is required")
		}
		if d.VariableName == "" {
			report.warnf(path, "answer is not stored: variableName is empty")
		}
		if !c.validators.Known(d.Validation) {
			report.errorf(path, "unknown validation %q", d.Validation)
		}

	case domain.NodeTypeMenu:
		d, err := domain.DecodeData[domain.MenuData](n)
		if err != nil {
			decodeErr(err)
			return
		}
		if len(d.Options) == 0 {
			report.errorf(path, "menu has no options")
		}
		seen := map[string]bool{}
		for i, opt := range d.Options {
			if strings.TrimSpace(opt.Label) == "" {
				report.errorf(fmt.Sprintf("%s.options[%d]", path, i), "option label is required")
			}
			key := strings.ToLower(opt.Value)
			if key == "" {
				key = strings.ToLower(opt.ID)
			}
			if key != "" && seen[key] {
				report.errorf(fmt.Sprintf("%s.options[%d]", path, i), "duplicate option value %q", key)
			}
			seen[key] = true
		}

	case domain.NodeTypeCondition:
		d, err := domain.DecodeData[domain.ConditionData](n)
		if err != nil {
			decodeErr(err)
			return
		}
		if _, err := condition.Compile(d.Condition); err != nil {
			report.errorf(path, "invalid condition: %s", err)
		}

	case domain.NodeTypeAPICall:
		d, err := domain.DecodeData[domain.APICallData](n)
		if err != nil {
			decodeErr(err)
			return
		}
		if strings.TrimSpace(d.URL) == "" {
			report.errorf(path, "url is required")
		}
		if d.TimeoutMs < 0 {
			report.errorf(path, "timeoutMs must not be negative")
		}
		names := make([]string, 0, len(d.ResponseMapping))
		for name := range d.ResponseMapping {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			if err := gateway.CompileMapping(d.ResponseMapping[name]); err != nil {
				report.errorf(path+".responseMapping."+name, "invalid jq expression: %s", err)
			}
		}

	case domain.NodeTypeWebhook:
		d, err := domain.DecodeData[domain.WebhookData](n)
		if err != nil {
			decodeErr(err)
			return
		}
		if strings.TrimSpace(d.URL) == "" {
			report.errorf(path, "url is required")
		}

	case domain.NodeTypeTagContact:
		d, err := domain.DecodeData[domain.TagData](n)
		if err != nil {
			decodeErr(err)
			return
		}
		if len(d.Names()) == 0 {
			report.errorf(path, "no tag names given")
		}

	case domain.NodeTypeHandoff:
		if _, err := domain.DecodeData[domain.HandoffData](n); err != nil {
			decodeErr(err)
		}

	case domain.NodeTypeEnd:
		if _, err := domain.DecodeData[domain.EndData](n); err != nil {
			decodeErr(err)
		}
	}
}

func (c *Checker) checkEdges(g *domain.GraphDefinition, nodes map[string]domain.Node, report *Report) {
	edgeIDs := map[string]bool{}
	branches := map[string]bool{}
	for i, e := range g.Edges {
		path := fmt.Sprintf("edges[%d]", i)
		if e.ID != "" {
			path = "edges[" + e.ID + "]"
			if edgeIDs[e.ID] {
				report.errorf(path, "duplicate edge id")
			}
			edgeIDs[e.ID] = true
		}

		src, ok := nodes[e.Source]
		if !ok {
			report.errorf(path+".source", "unknown node %q", e.Source)
		}
		if _, ok := nodes[e.Target]; !ok {
			report.errorf(path+".target", "unknown node %q", e.Target)
		}
		if ok && (src.Type == domain.NodeTypeEnd || src.Type == domain.NodeTypeHandoff) {
			report.warnf(path, "edge leaves a terminal %s node and is never followed", src.Type)
		}

		key := e.Source + "\x00" + e.SourceHandle
		if branches[key] {
			if e.SourceHandle == "" {
				report.errorf(path, "node %q has more than one default edge", e.Source)
			} else {
				report.errorf(path, "node %q has more than one edge for branch %q", e.Source, e.SourceHandle)
			}
		}
		branches[key] = true
	}
}

func checkReachability(g *domain.GraphDefinition, nodes map[string]domain.Node, report *Report) {
	start, err := g.StartNode()
	if err != nil {
		return // already reported
	}

	adj := map[string][]string{}
	for _, e := range g.Edges {
		adj[e.Source] = append(adj[e.Source], e.Target)
	}
	seen := map[string]bool{start.ID: true}
	queue := []string{start.ID}
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		for _, next := range adj[id] {
			if !seen[next] {
				seen[next] = true
				queue = append(queue, next)
			}
		}
	}
	for _, n := range g.Nodes {
		if !seen[n.ID] {
			if _, ok := nodes[n.ID]; ok {
				report.warnf(nodePath(n.ID), "node is unreachable from start")
			}
		}
	}
}

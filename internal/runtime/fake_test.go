package runtime_test

import (
	"context"
	"errors"
	"time"

	"github.com/aretw0/parley/pkg/domain"
	"github.com/aretw0/parley/pkg/gateway"
)

type fakeEffects struct {
	sent     []string
	webhooks []gateway.WebhookRequest
	apiCalls []gateway.APIRequest
	tags     [][]string
	flagged  []string

	sendErr error
	apiErr  error
	apiBody any
	apiMap  map[string]any
	tagErr  error
	hookErr error
	flagErr error
}

func (f *fakeEffects) SendMessage(_ context.Context, _ string, text string, _ time.Duration) error {
	if f.sendErr != nil {
		return f.sendErr
	}
	f.sent = append(f.sent, text)
	return nil
}

func (f *fakeEffects) CallAPI(_ context.Context, req gateway.APIRequest) (*gateway.APIResult, error) {
	f.apiCalls = append(f.apiCalls, req)
	if f.apiErr != nil {
		return nil, f.apiErr
	}
	return &gateway.APIResult{StatusCode: 200, Body: f.apiBody, Mapped: f.apiMap}, nil
}

func (f *fakeEffects) FireWebhook(_ context.Context, req gateway.WebhookRequest) error {
	f.webhooks = append(f.webhooks, req)
	return f.hookErr
}

func (f *fakeEffects) TagContact(_ context.Context, _, _ string, names []string) error {
	f.tags = append(f.tags, names)
	return f.tagErr
}

func (f *fakeEffects) FlagConversation(_ context.Context, id string) error {
	f.flagged = append(f.flagged, id)
	return f.flagErr
}

var errBoom = errors.New("boom")

var testNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func node(id string, typ domain.NodeType, data map[string]any) domain.Node {
	return domain.Node{ID: id, Type: typ, Data: data}
}

func edge(source, target string, handle ...string) domain.Edge {
	e := domain.Edge{ID: source + "->" + target, Source: source, Target: target}
	if len(handle) > 0 {
		e.SourceHandle = handle[0]
		e.ID += ":" + handle[0]
	}
	return e
}

func graphOf(nodes []domain.Node, edges ...domain.Edge) *domain.GraphDefinition {
	return &domain.GraphDefinition{ID: "g1", CompanyID: "c1", Version: 1, Nodes: nodes, Edges: edges}
}

func newExec(g *domain.GraphDefinition, vars map[string]any) *domain.Execution {
	return domain.NewExecution("exec-1", g, "conv-1", "contact-1",
		domain.Contact{Name: "Ana", Phone: "+5511912345678"}, vars, testNow)
}

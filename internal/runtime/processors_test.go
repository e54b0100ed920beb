package runtime_test

import (
	"context"
	"testing"

	"github.com/aretw0/parley/internal/runtime"
	"github.com/aretw0/parley/pkg/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCondition_Branches(t *testing.T) {
	g := graphOf([]domain.Node{
		node("start", domain.NodeTypeStart, nil),
		node("adult", domain.NodeTypeCondition, map[string]any{"condition": "{{age}} >= 18 && {{nome}} == 'Ana'"}),
		node("yes", domain.NodeTypeEnd, map[string]any{"message": "welcome"}),
		node("no", domain.NodeTypeEnd, map[string]any{"message": "sorry"}),
	}, edge("start", "adult"), edge("adult", "yes", "true"), edge("adult", "no", "false"))

	tests := []struct {
		age  any
		want string
	}{
		{"21", "yes"},
		{17, "no"},
		{nil, "no"},
	}
	for _, tt := range tests {
		fx := &fakeEffects{}
		exec, err := newEngine(fx).Turn(context.Background(), g, newExec(g, map[string]any{"age": tt.age}), "")
		require.NoError(t, err)
		assert.Equal(t, tt.want, exec.CurrentNodeID, "age=%v", tt.age)

		rec := exec.ExecutionLog[1]
		assert.Equal(t, "{{age}} >= 18 && {{nome}} == 'Ana'", rec.Condition)
		require.NotNil(t, rec.Result)
		assert.Equal(t, tt.want == "yes", *rec.Result)
	}
}

func TestCondition_QuotedVariables(t *testing.T) {
	g := graphOf([]domain.Node{
		node("start", domain.NodeTypeStart, nil),
		node("plan", domain.NodeTypeCondition, map[string]any{"condition": `"{{plan}}" == "gold"`}),
		node("yes", domain.NodeTypeEnd, nil),
		node("no", domain.NodeTypeEnd, nil),
	}, edge("start", "plan"), edge("plan", "yes", "true"), edge("plan", "no", "false"))

	exec, err := newEngine(&fakeEffects{}).Turn(context.Background(), g, newExec(g, map[string]any{"plan": "gold"}), "")
	require.NoError(t, err)
	assert.Equal(t, "yes", exec.CurrentNodeID)

	exec, err = newEngine(&fakeEffects{}).Turn(context.Background(), g, newExec(g, map[string]any{"plan": "silver"}), "")
	require.NoError(t, err)
	assert.Equal(t, "no", exec.CurrentNodeID)
}

func TestCondition_MalformedFailsClosed(t *testing.T) {
	g := graphOf([]domain.Node{
		node("start", domain.NodeTypeStart, nil),
		node("c", domain.NodeTypeCondition, map[string]any{"condition": "{{a}} = 1"}),
		node("yes", domain.NodeTypeEnd, nil),
		node("no", domain.NodeTypeEnd, nil),
	}, edge("start", "c"), edge("c", "yes", "true"), edge("c", "no", "false"))

	exec, err := newEngine(&fakeEffects{}).Turn(context.Background(), g, newExec(g, map[string]any{"a": 1}), "")
	require.NoError(t, err)
	assert.Equal(t, "no", exec.CurrentNodeID)
	assert.NotEmpty(t, exec.ExecutionLog[1].Error)
}

func TestAPICall(t *testing.T) {
	g := graphOf([]domain.Node{
		node("start", domain.NodeTypeStart, nil),
		node("api", domain.NodeTypeAPICall, map[string]any{
			"url":              "https://api.example.com/orders/{{order}}",
			"method":           "POST",
			"headers":          map[string]any{"X-Contact": "{{name}}"},
			"body":             map[string]any{"id": "{{order}}", "items": []any{"{{order}}"}, "n": 1},
			"responseVariable": "order_info",
			"responseMapping":  map[string]any{"order_status": ".status"},
			"timeoutMs":        "2500",
		}),
		node("done", domain.NodeTypeMessage, map[string]any{"content": "Status: {{order_status}}"}),
	}, edge("start", "api"), edge("api", "done"))

	t.Run("Success", func(t *testing.T) {
		fx := &fakeEffects{
			apiBody: map[string]any{"status": "shipped"},
			apiMap:  map[string]any{"order_status": "shipped"},
		}
		exec, err := newEngine(fx).Turn(context.Background(), g,
			newExec(g, map[string]any{"order": "A1", "api_error": "stale"}), "")
		require.NoError(t, err)

		require.Len(t, fx.apiCalls, 1)
		call := fx.apiCalls[0]
		assert.Equal(t, "https://api.example.com/orders/A1", call.URL)
		assert.Equal(t, "POST", call.Method)
		assert.Equal(t, "Ana", call.Headers["X-Contact"])
		assert.Equal(t, map[string]any{"id": "A1", "items": []any{"A1"}, "n": 1}, call.Body)
		assert.Equal(t, ".status", call.Mapping["order_status"])
		assert.Equal(t, 2500, int(call.Timeout.Milliseconds()))

		assert.Equal(t, map[string]any{"status": "shipped"}, exec.SessionVariables["order_info"])
		assert.Equal(t, "shipped", exec.SessionVariables["order_status"])
		assert.NotContains(t, exec.SessionVariables, runtime.VarAPIError)
		assert.Equal(t, []string{"Status: shipped"}, fx.sent)
	})

	t.Run("Failure still advances", func(t *testing.T) {
		fx := &fakeEffects{apiErr: errBoom}
		exec, err := newEngine(fx).Turn(context.Background(), g, newExec(g, map[string]any{"order": "A1"}), "")
		require.NoError(t, err)

		assert.Equal(t, "boom", exec.SessionVariables[runtime.VarAPIError])
		assert.NotContains(t, exec.SessionVariables, "order_info")
		assert.Equal(t, "boom", exec.ExecutionLog[1].Error)
		assert.Equal(t, domain.StatusCompleted, exec.Status)
		assert.Equal(t, []string{"Status:"}, fx.sent)
	})
}

func TestAPICall_DefaultResponseVariable(t *testing.T) {
	g := graphOf([]domain.Node{
		node("start", domain.NodeTypeStart, nil),
		node("api", domain.NodeTypeAPICall, map[string]any{"url": "https://x"}),
	}, edge("start", "api"))

	fx := &fakeEffects{apiBody: "raw text"}
	exec, err := newEngine(fx).Turn(context.Background(), g, newExec(g, nil), "")
	require.NoError(t, err)
	assert.Equal(t, "raw text", exec.SessionVariables[runtime.VarAPIResponse])
}

func TestWebhook(t *testing.T) {
	g := graphOf([]domain.Node{
		node("start", domain.NodeTypeStart, nil),
		node("hook", domain.NodeTypeWebhook, map[string]any{"url": "https://hooks.example.com/{{plan}}"}),
		node("after", domain.NodeTypeMessage, map[string]any{"content": "after"}),
	}, edge("start", "hook"), edge("hook", "after"))

	fx := &fakeEffects{hookErr: errBoom}
	exec, err := newEngine(fx).Turn(context.Background(), g, newExec(g, map[string]any{"plan": "gold"}), "")
	require.NoError(t, err)

	require.Len(t, fx.webhooks, 1)
	req := fx.webhooks[0]
	assert.Equal(t, "https://hooks.example.com/gold", req.URL)
	payload, ok := req.Payload.(map[string]any)
	require.True(t, ok)
	assert.Equal(t, runtime.WebhookEvent, payload["event"])
	assert.Equal(t, "exec-1", payload["executionId"])
	assert.Equal(t, "conv-1", payload["conversationId"])
	assert.Equal(t, "contact-1", payload["contactId"])
	assert.Equal(t, "hook", payload["nodeId"])

	assert.Equal(t, "boom", exec.ExecutionLog[1].Error)
	assert.Equal(t, []string{"after"}, fx.sent, "webhook failure must not block the flow")
}

func TestTagContact(t *testing.T) {
	g := graphOf([]domain.Node{
		node("start", domain.NodeTypeStart, nil),
		node("tag", domain.NodeTypeTagContact, map[string]any{"tagName": "lead-{{plan}}", "tags": []any{"vip", ""}}),
		node("end", domain.NodeTypeEnd, nil),
	}, edge("start", "tag"), edge("tag", "end"))

	fx := &fakeEffects{tagErr: errBoom}
	exec, err := newEngine(fx).Turn(context.Background(), g, newExec(g, map[string]any{"plan": "gold"}), "")
	require.NoError(t, err)

	assert.Equal(t, [][]string{{"lead-gold", "vip"}}, fx.tags)
	assert.Equal(t, "boom", exec.ExecutionLog[1].Error)
	assert.Equal(t, domain.StatusCompleted, exec.Status)
}

func TestEnd_OptionalMessage(t *testing.T) {
	g := graphOf([]domain.Node{
		node("start", domain.NodeTypeStart, nil),
		node("end", domain.NodeTypeEnd, map[string]any{"message": "Bye {{name}}"}),
	}, edge("start", "end"))

	fx := &fakeEffects{}
	exec, err := newEngine(fx).Turn(context.Background(), g, newExec(g, nil), "")
	require.NoError(t, err)
	assert.Equal(t, []string{"Bye Ana"}, fx.sent)
	assert.Equal(t, 1, exec.MessagesSent)
	assert.Equal(t, domain.StatusCompleted, exec.Status)
}

func TestUnknownNodeType_PassesThrough(t *testing.T) {
	g := graphOf([]domain.Node{
		node("start", domain.NodeTypeStart, nil),
		node("mystery", domain.NodeType("carousel"), nil),
		node("m", domain.NodeTypeMessage, map[string]any{"content": "reached"}),
	}, edge("start", "mystery"), edge("mystery", "m"))

	fx := &fakeEffects{}
	exec, err := newEngine(fx).Turn(context.Background(), g, newExec(g, nil), "")
	require.NoError(t, err)
	assert.Equal(t, []string{"reached"}, fx.sent)
	assert.Contains(t, exec.ExecutionLog[1].Note, "carousel")
}

func TestSendFailure_IsRecordedNotCounted(t *testing.T) {
	g := graphOf([]domain.Node{
		node("start", domain.NodeTypeStart, nil),
		node("m", domain.NodeTypeMessage, map[string]any{"content": "hi"}),
	}, edge("start", "m"))

	fx := &fakeEffects{sendErr: errBoom}
	exec, err := newEngine(fx).Turn(context.Background(), g, newExec(g, nil), "")
	require.NoError(t, err)
	assert.Equal(t, 0, exec.MessagesSent)
	assert.Equal(t, "send failed: boom", exec.ExecutionLog[1].Error)
	assert.Equal(t, "hi", exec.ExecutionLog[1].Content)
	assert.Equal(t, domain.StatusCompleted, exec.Status)
}

func TestRetryCap(t *testing.T) {
	build := func(withEscape bool) *domain.GraphDefinition {
		edges := []domain.Edge{edge("start", "q"), edge("q", "ok")}
		if withEscape {
			edges = append(edges, edge("q", "human", domain.BranchMaxRetries))
		}
		g := graphOf([]domain.Node{
			node("start", domain.NodeTypeStart, nil),
			node("q", domain.NodeTypeQuestion, map[string]any{"question": "Age?", "validation": "number", "variableName": "age"}),
			node("ok", domain.NodeTypeEnd, nil),
			node("human", domain.NodeTypeHandoff, map[string]any{"message": "Let me get someone."}),
		}, edges...)
		g.Settings.MaxRetries = 2
		return g
	}

	t.Run("Routes through max_retries edge", func(t *testing.T) {
		g := build(true)
		fx := &fakeEffects{}
		eng := newEngine(fx)
		exec, err := eng.Turn(context.Background(), g, newExec(g, nil), "")
		require.NoError(t, err)

		exec, err = eng.Turn(context.Background(), g, exec, "abc")
		require.NoError(t, err)
		assert.Equal(t, domain.StatusWaitingInput, exec.Status)
		assert.Equal(t, 1, exec.RetryCount)

		exec, err = eng.Turn(context.Background(), g, exec, "still not a number")
		require.NoError(t, err)
		assert.Equal(t, domain.StatusHandoff, exec.Status)
		assert.Equal(t, "human", exec.CurrentNodeID)
		assert.Equal(t, 0, exec.RetryCount)
		assert.Equal(t, []string{"Age?", domain.DefaultFallbackMessage, "Let me get someone."}, fx.sent)
	})

	t.Run("Keeps waiting without an escape edge", func(t *testing.T) {
		g := build(false)
		eng := newEngine(&fakeEffects{})
		exec, err := eng.Turn(context.Background(), g, newExec(g, nil), "")
		require.NoError(t, err)
		for i := 0; i < 4; i++ {
			exec, err = eng.Turn(context.Background(), g, exec, "nope")
			require.NoError(t, err)
		}
		assert.Equal(t, domain.StatusWaitingInput, exec.Status)
		assert.Equal(t, 4, exec.RetryCount)
	})
}

func TestFallbackMessage_GraphDefault(t *testing.T) {
	g := graphOf([]domain.Node{
		node("start", domain.NodeTypeStart, nil),
		node("q", domain.NodeTypeQuestion, map[string]any{"question": "Phone?", "validation": "phone"}),
	}, edge("start", "q"))
	g.Settings.DefaultFallbackMessage = "Try again, {{name}}."

	fx := &fakeEffects{}
	eng := newEngine(fx)
	exec, err := eng.Turn(context.Background(), g, newExec(g, nil), "")
	require.NoError(t, err)
	_, err = eng.Turn(context.Background(), g, exec, "123")
	require.NoError(t, err)
	assert.Equal(t, "Try again, Ana.", fx.sent[1])
}

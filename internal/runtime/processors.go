package runtime

import (
	"context"
	"fmt"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/aretw0/parley/internal/router"
	"github.com/aretw0/parley/pkg/condition"
	"github.com/aretw0/parley/pkg/domain"
	"github.com/aretw0/parley/pkg/gateway"
	"github.com/aretw0/parley/pkg/interpolate"
	"github.com/aretw0/parley/pkg/validate"
)

// Effects is the side-effect surface processors depend on.
// *gateway.Gateway implements it.
type Effects interface {
	SendMessage(ctx context.Context, address, text string, typingDelay time.Duration) error
	CallAPI(ctx context.Context, req gateway.APIRequest) (*gateway.APIResult, error)
	FireWebhook(ctx context.Context, req gateway.WebhookRequest) error
	TagContact(ctx context.Context, companyID, contactID string, names []string) error
	FlagConversation(ctx context.Context, conversationID string) error
}

// Variable names written by processors when the node does not name one.
const (
	VarMenuSelection = "menu_selection"
	VarAPIResponse   = "api_response"
	VarAPIError      = "api_error"
)

// WebhookEvent is the event name carried by webhook payloads.
const WebhookEvent = "flow.webhook"

// Outcome is what a processor decided for one node.
type Outcome struct {
	// Branch selects the outgoing edge. Empty means the default edge.
	Branch string
	// Wait parks the execution on this node until the next input.
	Wait bool
	// Terminal, when set, ends the execution with this status.
	Terminal domain.ExecutionStatus
	// Variables are merged into the session after the node.
	Variables map[string]any
	// Unset lists session variables removed after the node.
	Unset []string
	// MessagesSent counts messages delivered by this node.
	MessagesSent int
	// RetryCount is the new consecutive-rejection counter.
	RetryCount int
	// ConsumedInput reports that the user message was used by this node.
	ConsumedInput bool
	// Record is the trace entry; NodeID, NodeType and Timestamp are filled by the engine.
	Record domain.StepRecord
}

func (o *Outcome) set(key string, value any) {
	if o.Variables == nil {
		o.Variables = make(map[string]any)
	}
	o.Variables[key] = value
}

func (o *Outcome) fail(err error) {
	if o.Record.Error == "" {
		o.Record.Error = err.Error()
		return
	}
	o.Record.Error += "; " + err.Error()
}

// step is the read-only view a processor gets of the turn.
type step struct {
	engine *Engine
	graph  *domain.GraphDefinition
	exec   *domain.Execution
	node   domain.Node

	// input is the user message, set only when this node may consume it.
	input    string
	hasInput bool
}

type processor func(ctx context.Context, s *step) Outcome

func (e *Engine) processorFor(t domain.NodeType) processor {
	switch t {
	case domain.NodeTypeStart:
		return processStart
	case domain.NodeTypeMessage:
		return processMessage
	case domain.NodeTypeQuestion:
		return processQuestion
	case domain.NodeTypeMenu:
		return processMenu
	case domain.NodeTypeCondition:
		return processCondition
	case domain.NodeTypeAPICall:
		return processAPICall
	case domain.NodeTypeWebhook:
		return processWebhook
	case domain.NodeTypeTagContact:
		return processTagContact
	case domain.NodeTypeHandoff:
		return processHandoff
	case domain.NodeTypeEnd:
		return processEnd
	}
	return processUnknown
}

func (s *step) scope() *interpolate.Scope {
	return interpolate.NewScope(s.exec.SessionVariables, s.exec.Contact)
}

func (s *step) render(template string) string {
	return interpolate.Interpolate(template, s.exec.SessionVariables, s.exec.Contact)
}

// send delivers text and accounts for it on out. Empty text is skipped.
func (s *step) send(ctx context.Context, out *Outcome, text string) {
	if text == "" {
		return
	}
	delay := time.Duration(s.graph.Settings.TypingDelayMs) * time.Millisecond
	err := s.effect(ctx, "send", func(ctx context.Context) error {
		return s.engine.effects.SendMessage(ctx, s.exec.Contact.Destination(), text, delay)
	})
	if out.Record.Content == "" {
		out.Record.Content = text
	} else {
		out.Record.Content += "\n" + text
	}
	if err != nil {
		out.fail(fmt.Errorf("send failed: %w", err))
		return
	}
	out.MessagesSent++
}

// effect runs fn, logs failures and reports the call to the lifecycle hooks.
func (s *step) effect(ctx context.Context, kind string, fn func(context.Context) error) error {
	start := s.engine.clock()
	err := fn(ctx)
	s.engine.emitSideEffect(ctx, s.exec.ID, s.node.ID, kind, s.engine.clock().Sub(start), err != nil)
	if err != nil {
		s.engine.logger.Warn("side effect failed",
			"execution_id", s.exec.ID,
			"node_id", s.node.ID,
			"kind", kind,
			"error", err)
	}
	return err
}

func processStart(_ context.Context, _ *step) Outcome {
	return Outcome{}
}

func processUnknown(_ context.Context, s *step) Outcome {
	return Outcome{Record: domain.StepRecord{Note: "unknown node type " + strconv.Quote(string(s.node.Type))}}
}

func processMessage(ctx context.Context, s *step) Outcome {
	var out Outcome
	data, err := domain.DecodeData[domain.MessageData](s.node)
	if err != nil {
		out.fail(err)
		return out
	}
	s.send(ctx, &out, s.render(data.Content))
	return out
}

func processQuestion(ctx context.Context, s *step) Outcome {
	var out Outcome
	data, err := domain.DecodeData[domain.QuestionData](s.node)
	if err != nil {
		out.fail(err)
		return out
	}

	if !s.hasInput {
		s.send(ctx, &out, s.render(data.Question))
		out.Wait = true
		return out
	}

	out.ConsumedInput = true
	out.Record.Input = s.input
	if !validate.Validate(data.Validation, s.input) {
		s.reject(ctx, &out, data.FallbackMessage)
		return out
	}

	if data.VariableName != "" {
		out.set(data.VariableName, s.input)
	}
	return out
}

func processMenu(ctx context.Context, s *step) Outcome {
	var out Outcome
	data, err := domain.DecodeData[domain.MenuData](s.node)
	if err != nil {
		out.fail(err)
		return out
	}

	if !s.hasInput {
		s.send(ctx, &out, s.renderMenu(data))
		out.Wait = true
		return out
	}

	out.ConsumedInput = true
	out.Record.Input = s.input
	option, ok := matchOption(data.Options, s.input)
	if !ok {
		s.reject(ctx, &out, data.FallbackMessage)
		return out
	}

	value := option.Value
	if value == "" {
		value = option.ID
	}
	variable := data.VariableName
	if variable == "" {
		variable = VarMenuSelection
	}
	out.set(variable, value)
	out.Branch = value
	return out
}

func (s *step) renderMenu(data domain.MenuData) string {
	lines := make([]string, 0, len(data.Options)+1)
	if title := s.render(data.Title); title != "" {
		lines = append(lines, title)
	}
	for i, opt := range data.Options {
		lines = append(lines, fmt.Sprintf("%d. %s", i+1, s.render(opt.Label)))
	}
	return strings.Join(lines, "\n")
}

// matchOption compares trimmed, case-insensitive input against the 1-based
// index, then value, label and id of each option.
func matchOption(options []domain.MenuOption, input string) (domain.MenuOption, bool) {
	in := strings.TrimSpace(input)
	if in == "" {
		return domain.MenuOption{}, false
	}
	if n, err := strconv.Atoi(in); err == nil && n >= 1 && n <= len(options) {
		return options[n-1], true
	}
	for _, field := range []func(domain.MenuOption) string{
		func(o domain.MenuOption) string { return o.Value },
		func(o domain.MenuOption) string { return o.Label },
		func(o domain.MenuOption) string { return o.ID },
	} {
		for _, opt := range options {
			if v := strings.TrimSpace(field(opt)); v != "" && strings.EqualFold(v, in) {
				return opt, true
			}
		}
	}
	return domain.MenuOption{}, false
}

// reject handles an answer that failed validation or matching. Variables are
// left untouched. Once the retry cap is hit and the node has a max_retries
// edge, the flow leaves through it instead of re-prompting.
func (s *step) reject(ctx context.Context, out *Outcome, nodeFallback string) {
	retries := s.exec.RetryCount + 1
	out.Record.Note = "input rejected"

	if limit := s.graph.Settings.MaxRetries; limit > 0 && retries >= limit && s.hasEdge(domain.BranchMaxRetries) {
		out.Branch = domain.BranchMaxRetries
		out.Record.Note = "retry limit reached"
		return
	}

	out.RetryCount = retries
	s.send(ctx, out, s.render(s.graph.FallbackMessage(nodeFallback)))
	out.Wait = true
}

func (s *step) hasEdge(handle string) bool {
	for _, e := range router.Outgoing(s.graph.Edges, s.node.ID) {
		if e.SourceHandle == handle {
			return true
		}
	}
	return false
}

func processCondition(_ context.Context, s *step) Outcome {
	var out Outcome
	data, err := domain.DecodeData[domain.ConditionData](s.node)
	if err != nil {
		out.fail(err)
	}
	out.Record.Condition = data.Condition

	result := false
	if prg, err := condition.Compile(data.Condition); err != nil {
		out.fail(err)
	} else {
		result = prg.Eval(s.scope())
	}

	out.Record.Result = &result
	out.Branch = domain.BranchFalse
	if result {
		out.Branch = domain.BranchTrue
	}
	return out
}

func processAPICall(ctx context.Context, s *step) Outcome {
	var out Outcome
	data, err := domain.DecodeData[domain.APICallData](s.node)
	if err != nil {
		out.fail(err)
		out.set(VarAPIError, "invalid api_call configuration")
		return out
	}

	req := gateway.APIRequest{
		Method:  data.Method,
		URL:     s.render(data.URL),
		Headers: s.renderHeaders(data.Headers),
		Body:    s.renderValue(data.Body),
		Timeout: time.Duration(data.TimeoutMs) * time.Millisecond,
		Mapping: data.ResponseMapping,
	}

	var res *gateway.APIResult
	err = s.effect(ctx, "api_call", func(ctx context.Context) error {
		var callErr error
		res, callErr = s.engine.effects.CallAPI(ctx, req)
		return callErr
	})
	if err != nil {
		out.fail(err)
		out.set(VarAPIError, err.Error())
		return out
	}

	variable := data.ResponseVariable
	if variable == "" {
		variable = VarAPIResponse
	}
	out.set(variable, res.Body)
	for k, v := range res.Mapped {
		out.set(k, v)
	}
	if len(res.MappingErrors) > 0 {
		keys := make([]string, 0, len(res.MappingErrors))
		for k := range res.MappingErrors {
			keys = append(keys, k)
		}
		slices.Sort(keys)
		out.Record.Note = "mapping failed for " + strings.Join(keys, ", ")
	}
	out.Unset = append(out.Unset, VarAPIError)
	return out
}

func processWebhook(ctx context.Context, s *step) Outcome {
	var out Outcome
	data, err := domain.DecodeData[domain.WebhookData](s.node)
	if err != nil {
		out.fail(err)
		return out
	}

	payload := map[string]any{
		"event":          WebhookEvent,
		"executionId":    s.exec.ID,
		"conversationId": s.exec.ConversationID,
		"contactId":      s.exec.ContactID,
		"contact":        s.exec.Contact,
		"nodeId":         s.node.ID,
		"variables":      s.exec.SessionVariables,
		"timestamp":      s.engine.clock().UTC().Format(time.RFC3339),
	}
	err = s.effect(ctx, "webhook", func(ctx context.Context) error {
		return s.engine.effects.FireWebhook(ctx, gateway.WebhookRequest{
			Method:  data.Method,
			URL:     s.render(data.URL),
			Headers: s.renderHeaders(data.Headers),
			Payload: payload,
		})
	})
	if err != nil {
		out.fail(err)
	}
	return out
}

func processTagContact(ctx context.Context, s *step) Outcome {
	var out Outcome
	data, err := domain.DecodeData[domain.TagData](s.node)
	if err != nil {
		out.fail(err)
		return out
	}

	var names []string
	for _, n := range data.Names() {
		if rendered := s.render(n); rendered != "" {
			names = append(names, rendered)
		}
	}
	if len(names) == 0 {
		out.Record.Note = "no tags"
		return out
	}
	out.Record.Content = strings.Join(names, ", ")

	err = s.effect(ctx, "tag", func(ctx context.Context) error {
		return s.engine.effects.TagContact(ctx, s.exec.CompanyID, s.exec.ContactID, names)
	})
	if err != nil {
		out.fail(err)
	}
	return out
}

func processHandoff(ctx context.Context, s *step) Outcome {
	out := Outcome{Terminal: domain.StatusHandoff}
	data, err := domain.DecodeData[domain.HandoffData](s.node)
	if err != nil {
		out.fail(err)
	}
	s.send(ctx, &out, s.render(data.Message))

	err = s.effect(ctx, "flag", func(ctx context.Context) error {
		return s.engine.effects.FlagConversation(ctx, s.exec.ConversationID)
	})
	if err != nil {
		out.fail(err)
	}
	return out
}

func processEnd(ctx context.Context, s *step) Outcome {
	out := Outcome{Terminal: domain.StatusCompleted}
	data, err := domain.DecodeData[domain.EndData](s.node)
	if err != nil {
		out.fail(err)
		return out
	}
	s.send(ctx, &out, s.render(data.Message))
	return out
}

func (s *step) renderHeaders(headers map[string]string) map[string]string {
	if len(headers) == 0 {
		return nil
	}
	out := make(map[string]string, len(headers))
	for k, v := range headers {
		out[k] = s.render(v)
	}
	return out
}

// renderValue interpolates every string leaf of a structured body.
func (s *step) renderValue(v any) any {
	switch val := v.(type) {
	case string:
		return s.render(val)
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, item := range val {
			out[k] = s.renderValue(item)
		}
		return out
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = s.renderValue(item)
		}
		return out
	default:
		return v
	}
}

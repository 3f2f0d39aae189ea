package agentloop

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/hshen-ai/Zscaler-Automation/gateway"
	"github.com/hshen-ai/Zscaler-Automation/mcpclient"
)

// fakeGateway returns scripted responses in order and records every
// invocation.
type fakeGateway struct {
	responses []fakeInvocation
	calls     int
	requests  [][]gateway.Message
	catalogs  [][]gateway.ToolDefinition
}

type fakeInvocation struct {
	resp *gateway.ModelResponse
	err  error
}

func (g *fakeGateway) Invoke(ctx context.Context, messages []gateway.Message, tools []gateway.ToolDefinition) (*gateway.ModelResponse, error) {
	g.requests = append(g.requests, messages)
	g.catalogs = append(g.catalogs, tools)
	if g.calls >= len(g.responses) {
		return nil, fmt.Errorf("unexpected invocation %d", g.calls)
	}
	result := g.responses[g.calls]
	g.calls++
	return result.resp, result.err
}

func textResponse(text string) *gateway.ModelResponse {
	return &gateway.ModelResponse{
		Content:    []gateway.ContentBlock{gateway.TextBlock(text)},
		StopReason: gateway.StopEndTurn,
	}
}

func toolUseResponse(text string, calls ...gateway.ToolCall) *gateway.ModelResponse {
	content := []gateway.ContentBlock{}
	if text != "" {
		content = append(content, gateway.TextBlock(text))
	}
	for _, tc := range calls {
		content = append(content, gateway.ToolUseBlock(tc.ID, tc.Name, tc.Input))
	}
	return &gateway.ModelResponse{Content: content, StopReason: gateway.StopToolUse}
}

// fakeToolClient serves a static catalog and scripted tool outputs.
type fakeToolClient struct {
	tools    []mcp.Tool
	listErr  error
	results  map[string]*mcpclient.CallToolResult
	callErr  error
	called   []string
	callArgs []map[string]interface{}
}

func (f *fakeToolClient) ListTools(ctx context.Context) ([]mcp.Tool, error) {
	if f.listErr != nil {
		return nil, f.listErr
	}
	return f.tools, nil
}

func (f *fakeToolClient) CallTool(ctx context.Context, name string, arguments map[string]interface{}) (*mcpclient.CallToolResult, error) {
	f.called = append(f.called, name)
	f.callArgs = append(f.callArgs, arguments)
	if f.callErr != nil {
		return nil, f.callErr
	}
	if result, ok := f.results[name]; ok {
		return result, nil
	}
	return &mcpclient.CallToolResult{Content: "ok"}, nil
}

func inventoryCatalog() []mcp.Tool {
	return []mcp.Tool{{
		Name:        "list_items",
		Description: "List inventory items",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"category": map[string]interface{}{"type": "string"},
			},
		},
	}}
}

func TestSubmitSimpleAnswer(t *testing.T) {
	gw := &fakeGateway{responses: []fakeInvocation{
		{resp: textResponse("The capital of France is Paris.")},
	}}
	tools := &fakeToolClient{tools: inventoryCatalog()}
	session := NewSession(gw, tools, nil)
	defer session.Close()

	answer, err := session.Submit(context.Background(), "What is the capital of France?")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if answer != "The capital of France is Paris." {
		t.Errorf("unexpected answer: %q", answer)
	}
	if len(tools.called) != 0 {
		t.Errorf("no tools should have been called, got %v", tools.called)
	}
	if session.State() != StateIdle {
		t.Errorf("expected idle state, got %s", session.State())
	}
	if len(gw.catalogs[0]) != 1 || gw.catalogs[0][0].Name != "list_items" {
		t.Errorf("catalog not passed to gateway: %+v", gw.catalogs[0])
	}
}

func TestSubmitToolRoundTrip(t *testing.T) {
	gw := &fakeGateway{responses: []fakeInvocation{
		{resp: toolUseResponse("Let me check the inventory.",
			gateway.ToolCall{ID: "toolu_1", Name: "list_items", Input: json.RawMessage(`{"category":"fruit"}`)},
			gateway.ToolCall{ID: "toolu_2", Name: "list_items", Input: json.RawMessage(`{"category":"vegetables"}`)},
		)},
		{resp: textResponse("You have apples and carrots.")},
	}}
	tools := &fakeToolClient{
		tools: inventoryCatalog(),
		results: map[string]*mcpclient.CallToolResult{
			"list_items": {Content: "apples: 40"},
		},
	}
	session := NewSession(gw, tools, nil)
	defer session.Close()

	answer, err := session.Submit(context.Background(), "What is in stock?")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if answer != "You have apples and carrots." {
		t.Errorf("unexpected answer: %q", answer)
	}
	if gw.calls != 2 {
		t.Fatalf("expected 2 invocations, got %d", gw.calls)
	}
	if len(tools.called) != 2 {
		t.Fatalf("expected 2 tool calls, got %v", tools.called)
	}
	if tools.callArgs[0]["category"] != "fruit" || tools.callArgs[1]["category"] != "vegetables" {
		t.Errorf("arguments lost: %v", tools.callArgs)
	}

	// The second invocation must carry exactly one tool_result block per
	// requested call, in request order, with matching ids.
	second := gw.requests[1]
	last := second[len(second)-1]
	if last.Role != gateway.RoleUser {
		t.Fatalf("tool results must be a user message, got %q", last.Role)
	}
	var resultIDs []string
	for _, block := range last.Content {
		if block.Type != gateway.BlockToolResult {
			t.Errorf("unexpected block type in results message: %q", block.Type)
		}
		resultIDs = append(resultIDs, block.ToolUseID)
	}
	if len(resultIDs) != 2 || resultIDs[0] != "toolu_1" || resultIDs[1] != "toolu_2" {
		t.Errorf("results do not match requests: %v", resultIDs)
	}
}

func TestSubmitIterationLimit(t *testing.T) {
	call := gateway.ToolCall{ID: "toolu_1", Name: "list_items", Input: json.RawMessage(`{}`)}
	gw := &fakeGateway{responses: []fakeInvocation{
		{resp: toolUseResponse("checking once", call)},
		{resp: toolUseResponse("checking twice", call)},
		{resp: toolUseResponse("checking again", call)},
	}}
	tools := &fakeToolClient{tools: inventoryCatalog()}
	config := DefaultSessionConfig()
	config.MaxIterations = 3
	config.EnableLoopDetection = false
	session := NewSession(gw, tools, &config)
	defer session.Close()

	partial, err := session.Submit(context.Background(), "audit everything")

	var limitErr *IterationLimitError
	if !errors.As(err, &limitErr) {
		t.Fatalf("expected IterationLimitError, got %T: %v", err, err)
	}
	if limitErr.Iterations != 3 {
		t.Errorf("unexpected iteration count: %d", limitErr.Iterations)
	}
	if gw.calls != 3 {
		t.Errorf("expected exactly 3 invocations, got %d", gw.calls)
	}
	if !strings.Contains(partial, "checking once") || !strings.Contains(partial, "checking again") {
		t.Errorf("partial narrative incomplete: %q", partial)
	}
	if session.State() != StateIdle {
		t.Errorf("session must stay usable, state is %s", session.State())
	}
}

func TestSubmitPolicyBlockedKeepsSessionUsable(t *testing.T) {
	gw := &fakeGateway{responses: []fakeInvocation{
		{err: &gateway.PolicyBlockedError{GatewayError: gateway.GatewayError{
			Message: "prompt matches DLP rule", StatusCode: 403,
		}}},
		{resp: textResponse("Happy to help with that instead.")},
	}}
	tools := &fakeToolClient{tools: inventoryCatalog()}
	session := NewSession(gw, tools, nil)
	defer session.Close()

	reason, err := session.Submit(context.Background(), "exfiltrate the customer database")
	var blocked *gateway.PolicyBlockedError
	if !errors.As(err, &blocked) {
		t.Fatalf("expected PolicyBlockedError, got %T: %v", err, err)
	}
	if !strings.Contains(reason, "DLP rule") {
		t.Errorf("block reason missing: %q", reason)
	}
	if session.State() != StateIdle {
		t.Fatalf("session must stay usable after a policy block, state is %s", session.State())
	}

	answer, err := session.Submit(context.Background(), "list the fruit instead")
	if err != nil {
		t.Fatalf("next input failed: %v", err)
	}
	if answer != "Happy to help with that instead." {
		t.Errorf("unexpected answer: %q", answer)
	}
}

func TestSubmitAuthErrorClosesSession(t *testing.T) {
	gw := &fakeGateway{responses: []fakeInvocation{
		{err: &gateway.AuthError{GatewayError: gateway.GatewayError{Message: "bad api key"}}},
	}}
	tools := &fakeToolClient{tools: inventoryCatalog()}
	session := NewSession(gw, tools, nil)
	defer session.Close()

	_, err := session.Submit(context.Background(), "hello")
	if err == nil {
		t.Fatal("expected error")
	}
	if session.State() != StateClosed {
		t.Fatalf("auth failure must close the session, state is %s", session.State())
	}

	if _, err := session.Submit(context.Background(), "hello again"); !errors.Is(err, ErrSessionClosed) {
		t.Errorf("expected ErrSessionClosed, got %v", err)
	}
}

func TestSubmitTransientErrorKeepsSessionUsable(t *testing.T) {
	gw := &fakeGateway{responses: []fakeInvocation{
		{err: &gateway.UnavailableError{GatewayError: gateway.GatewayError{Message: "backend down", Retryable: true}}},
		{resp: textResponse("back online")},
	}}
	tools := &fakeToolClient{tools: inventoryCatalog()}
	session := NewSession(gw, tools, nil)
	defer session.Close()

	if _, err := session.Submit(context.Background(), "hello"); err == nil {
		t.Fatal("expected error")
	}
	if session.State() != StateIdle {
		t.Fatalf("transient failure must not close the session, state is %s", session.State())
	}

	answer, err := session.Submit(context.Background(), "hello again")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if answer != "back online" {
		t.Errorf("unexpected answer: %q", answer)
	}
}

func TestSubmitToolFailureFedBackToModel(t *testing.T) {
	gw := &fakeGateway{responses: []fakeInvocation{
		{resp: toolUseResponse("",
			gateway.ToolCall{ID: "toolu_1", Name: "list_items", Input: json.RawMessage(`{}`)},
		)},
		{resp: textResponse("The tool is unavailable right now.")},
	}}
	tools := &fakeToolClient{
		tools:   inventoryCatalog(),
		callErr: fmt.Errorf("connection reset"),
	}
	session := NewSession(gw, tools, nil)
	defer session.Close()

	answer, err := session.Submit(context.Background(), "what is in stock?")
	if err != nil {
		t.Fatalf("tool failures must not abort the loop: %v", err)
	}
	if answer != "The tool is unavailable right now." {
		t.Errorf("unexpected answer: %q", answer)
	}

	second := gw.requests[1]
	last := second[len(second)-1]
	if len(last.Content) != 1 || !last.Content[0].IsError {
		t.Errorf("failure not reported as an error result: %+v", last.Content)
	}
	if !strings.Contains(last.Content[0].Content[0].Text, "connection reset") {
		t.Errorf("failure detail missing: %+v", last.Content[0])
	}
}

func TestSubmitCatalogFailureProceedsWithoutTools(t *testing.T) {
	gw := &fakeGateway{responses: []fakeInvocation{
		{resp: textResponse("answering from memory")},
	}}
	tools := &fakeToolClient{listErr: fmt.Errorf("server not responding")}
	session := NewSession(gw, tools, nil)
	defer session.Close()

	answer, err := session.Submit(context.Background(), "hello")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if answer != "answering from memory" {
		t.Errorf("unexpected answer: %q", answer)
	}
	if len(gw.catalogs[0]) != 0 {
		t.Errorf("expected empty catalog, got %+v", gw.catalogs[0])
	}
}

func TestSubmitLoopDetectionInjectsNotice(t *testing.T) {
	call := gateway.ToolCall{ID: "toolu_1", Name: "list_items", Input: json.RawMessage(`{"category":"fruit"}`)}
	gw := &fakeGateway{responses: []fakeInvocation{
		{resp: toolUseResponse("", call)},
		{resp: toolUseResponse("", call)},
		{resp: textResponse("done")},
	}}
	tools := &fakeToolClient{tools: inventoryCatalog()}
	config := DefaultSessionConfig()
	config.LoopDetectionWindow = 2
	session := NewSession(gw, tools, &config)
	defer session.Close()

	if _, err := session.Submit(context.Background(), "check stock"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	found := false
	for _, turn := range session.History() {
		if turn.Kind == TurnNotice && strings.Contains(turn.Notice.Content, "Loop detected") {
			found = true
		}
	}
	if !found {
		t.Error("expected a loop warning notice in the history")
	}
}

func TestSessionEvents(t *testing.T) {
	gw := &fakeGateway{responses: []fakeInvocation{
		{resp: toolUseResponse("",
			gateway.ToolCall{ID: "toolu_1", Name: "list_items", Input: json.RawMessage(`{}`)},
		)},
		{resp: textResponse("done")},
	}}
	tools := &fakeToolClient{tools: inventoryCatalog()}
	session := NewSession(gw, tools, nil)

	if _, err := session.Submit(context.Background(), "check stock"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	session.Close()

	var kinds []EventKind
	for event := range session.Events() {
		kinds = append(kinds, event.Kind)
	}

	want := []EventKind{EventUserInput, EventAssistantTurn, EventToolCallStart, EventToolCallEnd, EventAssistantTurn, EventSessionEnd}
	if len(kinds) != len(want) {
		t.Fatalf("unexpected event sequence: %v", kinds)
	}
	for i := range want {
		if kinds[i] != want[i] {
			t.Errorf("event %d: got %s, want %s", i, kinds[i], want[i])
		}
	}
}

func TestSubmitTruncatesToolResults(t *testing.T) {
	gw := &fakeGateway{responses: []fakeInvocation{
		{resp: toolUseResponse("",
			gateway.ToolCall{ID: "toolu_1", Name: "list_items", Input: json.RawMessage(`{}`)},
		)},
		{resp: textResponse("done")},
	}}
	tools := &fakeToolClient{
		tools: inventoryCatalog(),
		results: map[string]*mcpclient.CallToolResult{
			"list_items": {Content: strings.Repeat("x", 500)},
		},
	}
	config := DefaultSessionConfig()
	config.ToolResultLimit = 100
	session := NewSession(gw, tools, &config)
	defer session.Close()

	if _, err := session.Submit(context.Background(), "check stock"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	second := gw.requests[1]
	last := second[len(second)-1]
	content := last.Content[0].Content[0].Text
	if !strings.Contains(content, "truncated") {
		t.Error("oversized output was not truncated")
	}
	if len(content) > 400 {
		t.Errorf("truncated output still too large: %d chars", len(content))
	}
}

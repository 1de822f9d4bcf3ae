// Copyright 2026 © The Hubmate Authors
// SPDX-License-Identifier: Apache-2.0

package chat

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"testing"

	"github.com/hubmate/hubmate/pkg/action"
	"github.com/hubmate/hubmate/pkg/errors"
	"github.com/hubmate/hubmate/pkg/llm"
	"github.com/hubmate/hubmate/pkg/memory"
)

func testCatalog(t *testing.T) *action.Catalog {
	t.Helper()
	echo := action.MustDefine("echo", "Echo the input back.",
		[]action.ArgSpec{{Name: "text", Description: "text to echo"}},
		func(_ context.Context, args action.Args, _ action.Logger) action.Envelope {
			return action.Donef("echoed: %s", args.String("text"))
		},
	)
	boom := action.MustDefine("boom", "Always fails.",
		nil,
		func(context.Context, action.Args, action.Logger) action.Envelope {
			return action.Failed("deliberate failure")
		},
	)
	return action.MustCatalog(echo, boom)
}

func newSession(t *testing.T, provider llm.Provider) *Chat {
	t.Helper()
	agent, err := NewAgent(provider, WithModel("test-model"))
	if err != nil {
		t.Fatalf("new agent: %v", err)
	}
	chat, err := agent.CreateChat(context.Background(), Config{
		PartnerID:   "user-1",
		PartnerName: "Ada",
		ActionSpace: testCatalog(t),
	})
	if err != nil {
		t.Fatalf("create chat: %v", err)
	}
	return chat
}

func TestNext_DirectReply(t *testing.T) {
	provider := llm.NewScriptedMockProvider(llm.Reply("Hello Ada!"))
	chat := newSession(t, provider)

	turn, err := chat.Next(context.Background(), "hi")
	if err != nil {
		t.Fatalf("next: %v", err)
	}
	if turn.Message != "Hello Ada!" {
		t.Errorf("unexpected message %q", turn.Message)
	}
	if turn.FunctionCall != nil {
		t.Errorf("no action was selected, got %+v", turn.FunctionCall)
	}
	if provider.CallCount != 1 {
		t.Errorf("direct replies need one planner pass, got %d", provider.CallCount)
	}
}

func TestNext_ActionInvocation(t *testing.T) {
	provider := llm.NewScriptedMockProvider(
		llm.CallTool("echo", `{"text": "ping"}`),
		llm.Reply("The echo came back: ping."),
	)
	chat := newSession(t, provider)

	turn, err := chat.Next(context.Background(), "echo ping please")
	if err != nil {
		t.Fatalf("next: %v", err)
	}
	if turn.Message != "The echo came back: ping." {
		t.Errorf("unexpected final message %q", turn.Message)
	}
	fc := turn.FunctionCall
	if fc == nil {
		t.Fatal("expected a function call report")
	}
	if fc.Name != "echo" {
		t.Errorf("unexpected action %q", fc.Name)
	}
	if fc.Result.Status != action.StatusDone {
		t.Errorf("expected done, got %s", fc.Result.Status)
	}
	if fc.Result.FeedbackMessage != "echoed: ping" {
		t.Errorf("unexpected feedback %q", fc.Result.FeedbackMessage)
	}
	if fc.Result.ActionID == "" {
		t.Error("invocation must carry a unique action id")
	}

	// The follow-up planner pass must see the tool exchange and carry no tools.
	if provider.CallCount != 2 {
		t.Fatalf("expected two planner passes, got %d", provider.CallCount)
	}
	second := provider.Requests[1]
	if len(second.Tools) != 0 {
		t.Errorf("follow-up pass must not offer tools, got %d", len(second.Tools))
	}
	var sawResult bool
	for _, msg := range second.Messages {
		if msg.Role == llm.RoleTool && strings.Contains(msg.Content, "echoed: ping") {
			sawResult = true
		}
	}
	if !sawResult {
		t.Error("result envelope not replayed to the planner")
	}
}

func TestNext_FailedEnvelopeIsNotAnError(t *testing.T) {
	provider := llm.NewScriptedMockProvider(
		llm.CallTool("boom", "{}"),
		llm.Reply("That did not work, sorry."),
	)
	chat := newSession(t, provider)

	turn, err := chat.Next(context.Background(), "do the thing")
	if err != nil {
		t.Fatalf("failed envelopes are contained, got error: %v", err)
	}
	if turn.FunctionCall.Result.Status != action.StatusFailed {
		t.Errorf("expected failed status, got %s", turn.FunctionCall.Result.Status)
	}
	if turn.FunctionCall.Result.FeedbackMessage != "deliberate failure" {
		t.Errorf("diagnostic lost: %q", turn.FunctionCall.Result.FeedbackMessage)
	}

	// The session stays usable after a failed action.
	provider.AddResponse(llm.Reply("Still here."))
	if _, err := chat.Next(context.Background(), "are you ok?"); err != nil {
		t.Fatalf("session unusable after failed envelope: %v", err)
	}
}

func TestNext_UnknownActionIsHardError(t *testing.T) {
	provider := llm.NewScriptedMockProvider(llm.CallTool("launch_rockets", "{}"))
	chat := newSession(t, provider)

	_, err := chat.Next(context.Background(), "do something")
	if err == nil {
		t.Fatal("expected lookup error")
	}
	he := errors.AsHubError(err)
	if he.Code != errors.CodeLookup {
		t.Errorf("expected %s, got %s", errors.CodeLookup, he.Code)
	}
}

func TestNext_PlannerErrorIsWrapped(t *testing.T) {
	provider := &llm.FailingMockProvider{Err: fmt.Errorf("upstream 500")}
	chat := newSession(t, provider)

	_, err := chat.Next(context.Background(), "hello")
	if err == nil {
		t.Fatal("expected planner error")
	}
	he := errors.AsHubError(err)
	if he.Code != errors.CodeLLMError {
		t.Errorf("expected %s, got %s", errors.CodeLLMError, he.Code)
	}
}

func TestNext_AfterEndFailsFast(t *testing.T) {
	provider := llm.NewScriptedMockProvider(llm.Reply("bye"))
	chat := newSession(t, provider)

	if err := chat.End(context.Background()); err != nil {
		t.Fatalf("end: %v", err)
	}

	_, err := chat.Next(context.Background(), "hello?")
	if err == nil {
		t.Fatal("expected session-closed error")
	}
	he := errors.AsHubError(err)
	if he.Code != errors.CodeSessionClosed {
		t.Errorf("expected %s, got %s", errors.CodeSessionClosed, he.Code)
	}
	if provider.CallCount != 0 {
		t.Errorf("closed session must not reach the planner, got %d calls", provider.CallCount)
	}
}

func TestEnd_Idempotent(t *testing.T) {
	chat := newSession(t, llm.NewScriptedMockProvider())
	for i := 0; i < 3; i++ {
		if err := chat.End(context.Background()); err != nil {
			t.Fatalf("end %d: %v", i, err)
		}
	}
}

func TestNext_ExtraToolCallsDropped(t *testing.T) {
	provider := llm.NewScriptedMockProvider(
		&llm.ChatResponse{ToolCalls: []llm.ToolCall{
			{ID: "call-1", Type: llm.ToolTypeFunction, Function: llm.FunctionCall{Name: "echo", Arguments: `{"text": "a"}`}},
			{ID: "call-2", Type: llm.ToolTypeFunction, Function: llm.FunctionCall{Name: "boom", Arguments: "{}"}},
		}},
		llm.Reply("done"),
	)
	chat := newSession(t, provider)

	turn, err := chat.Next(context.Background(), "two at once")
	if err != nil {
		t.Fatalf("next: %v", err)
	}
	if turn.FunctionCall == nil || turn.FunctionCall.Name != "echo" {
		t.Errorf("only the first call runs, got %+v", turn.FunctionCall)
	}
}

func TestNext_AgentOptionsReachThePlanner(t *testing.T) {
	provider := llm.NewScriptedMockProvider(llm.Reply("ok"))
	agent, err := NewAgent(provider,
		WithModel("test-model"),
		WithTemperature(0.7),
		WithMaxTokens(512),
	)
	if err != nil {
		t.Fatalf("new agent: %v", err)
	}
	chat, err := agent.CreateChat(context.Background(), Config{
		PartnerID:   "u",
		ActionSpace: testCatalog(t),
	})
	if err != nil {
		t.Fatalf("create chat: %v", err)
	}
	if _, err := chat.Next(context.Background(), "hi"); err != nil {
		t.Fatalf("next: %v", err)
	}

	req := provider.Requests[0]
	if req.Model != "test-model" || req.Temperature != 0.7 || req.MaxTokens != 512 {
		t.Errorf("agent options not forwarded: %+v", req)
	}
}

func TestCreateChat_RequiresActionSpace(t *testing.T) {
	agent, err := NewAgent(llm.NewScriptedMockProvider())
	if err != nil {
		t.Fatalf("new agent: %v", err)
	}
	if _, err := agent.CreateChat(context.Background(), Config{PartnerID: "u"}); err == nil {
		t.Fatal("expected config error for missing action space")
	}
}

func TestCreateChat_SeedsSystemPrompt(t *testing.T) {
	provider := llm.NewScriptedMockProvider(llm.Reply("hi"))
	chat := newSession(t, provider)

	if _, err := chat.Next(context.Background(), "hello"); err != nil {
		t.Fatalf("next: %v", err)
	}
	first := provider.Requests[0].Messages[0]
	if first.Role != llm.RoleSystem {
		t.Fatalf("first message must be the persona prompt, got role %s", first.Role)
	}
	if !strings.Contains(first.Content, "Ada") {
		t.Errorf("partner name not folded into the prompt: %q", first.Content)
	}
}

func TestNext_ActionInvocationWithSQLiteHistory(t *testing.T) {
	store, err := memory.OpenSQLite(filepath.Join(t.TempDir(), "chat.db"), memory.Config{})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	defer store.Close()

	provider := llm.NewScriptedMockProvider(
		llm.CallTool("echo", `{"text": "ping"}`),
		llm.Reply("The echo came back: ping."),
		llm.Reply("Still here."),
	)
	agent, err := NewAgent(provider, WithModel("test-model"), WithHistory(store))
	if err != nil {
		t.Fatalf("new agent: %v", err)
	}
	chat, err := agent.CreateChat(context.Background(), Config{
		PartnerID:   "user-1",
		ActionSpace: testCatalog(t),
	})
	if err != nil {
		t.Fatalf("create chat: %v", err)
	}

	turn, err := chat.Next(context.Background(), "echo ping please")
	if err != nil {
		t.Fatalf("next: %v", err)
	}
	if turn.FunctionCall == nil || turn.FunctionCall.Result.Status != action.StatusDone {
		t.Fatalf("unexpected turn: %+v", turn)
	}

	// The persisted history must replay the assistant's tool selection before
	// the tool result, both on the follow-up pass and on later turns.
	assertToolExchangeOrdered(t, 1, provider.Requests[1].Messages)

	if _, err := chat.Next(context.Background(), "thanks"); err != nil {
		t.Fatalf("second turn: %v", err)
	}
	assertToolExchangeOrdered(t, 2, provider.Requests[2].Messages)
}

func assertToolExchangeOrdered(t *testing.T, pass int, messages []llm.Message) {
	t.Helper()
	assistantAt := -1
	for i, msg := range messages {
		if msg.Role == llm.RoleAssistant && len(msg.ToolCalls) > 0 {
			if msg.ToolCalls[0].Function.Name != "echo" {
				t.Errorf("pass %d: tool call name lost: %+v", pass, msg.ToolCalls[0])
			}
			assistantAt = i
		}
		if msg.Role == llm.RoleTool {
			if assistantAt < 0 || assistantAt != i-1 {
				t.Errorf("pass %d: tool message at %d has no preceding assistant tool_calls message", pass, i)
			}
		}
	}
	if assistantAt < 0 {
		t.Errorf("pass %d: assistant tool_calls message missing from replay", pass)
	}
}

func TestSessionsAreIsolated(t *testing.T) {
	provider := llm.NewScriptedMockProvider(
		llm.Reply("one"),
		llm.Reply("two"),
	)
	agent, err := NewAgent(provider, WithModel("test-model"))
	if err != nil {
		t.Fatalf("new agent: %v", err)
	}

	catalog := testCatalog(t)
	a, err := agent.CreateChat(context.Background(), Config{PartnerID: "a", ActionSpace: catalog})
	if err != nil {
		t.Fatalf("create a: %v", err)
	}
	b, err := agent.CreateChat(context.Background(), Config{PartnerID: "b", ActionSpace: catalog})
	if err != nil {
		t.Fatalf("create b: %v", err)
	}
	if a.SessionID() == b.SessionID() {
		t.Fatal("sessions must have distinct ids")
	}

	if _, err := a.Next(context.Background(), "first"); err != nil {
		t.Fatalf("a.next: %v", err)
	}
	if _, err := b.Next(context.Background(), "second"); err != nil {
		t.Fatalf("b.next: %v", err)
	}

	// b's request must not contain a's turn.
	for _, msg := range provider.Requests[1].Messages {
		if strings.Contains(msg.Content, "first") {
			t.Error("history leaked across sessions")
		}
	}
}

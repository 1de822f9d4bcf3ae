package llm

import (
	"context"
	"errors"
	"sync"
)

// ScriptedMockProvider is a mock provider that returns a pre-defined sequence
// of responses. Useful for testing multi-turn dispatch (plan, invoke, reply).
type ScriptedMockProvider struct {
	mu        sync.Mutex
	Responses []*ChatResponse
	Err       error
	// CallCount tracks how many times Chat has been called
	CallCount int
	// Requests records every request seen, in order.
	Requests []ChatRequest
}

// NewScriptedMockProvider creates a new ScriptedMockProvider.
func NewScriptedMockProvider(responses ...*ChatResponse) *ScriptedMockProvider {
	return &ScriptedMockProvider{
		Responses: responses,
	}
}

// Reply builds a scripted direct-text response.
func Reply(content string) *ChatResponse {
	return &ChatResponse{Content: content}
}

// CallTool builds a scripted response selecting one tool with raw JSON arguments.
func CallTool(name, arguments string) *ChatResponse {
	return &ChatResponse{
		ToolCalls: []ToolCall{{
			ID:   "call-1",
			Type: ToolTypeFunction,
			Function: FunctionCall{
				Name:      name,
				Arguments: arguments,
			},
		}},
	}
}

// Chat pops the next scripted response or returns the configured error.
func (s *ScriptedMockProvider) Chat(ctx context.Context, req ChatRequest) (*ChatResponse, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.CallCount++
	s.Requests = append(s.Requests, req)

	if s.Err != nil {
		return nil, s.Err
	}

	if len(s.Responses) == 0 {
		return nil, errors.New("scripted mock: no more responses available")
	}

	// Pop the first response
	resp := s.Responses[0]
	s.Responses = s.Responses[1:]

	out := *resp
	out.Usage = Usage{PromptTokens: 10, CompletionTokens: 10, TotalTokens: 20}
	return &out, nil
}

// AddResponse appends a response to the queue.
func (s *ScriptedMockProvider) AddResponse(resp *ChatResponse) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Responses = append(s.Responses, resp)
}

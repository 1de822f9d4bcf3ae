// Copyright 2026 © The Hubmate Authors
// SPDX-License-Identifier: Apache-2.0

// Package chat implements the dispatch loop: multi-turn sessions in which a
// planner chooses at most one action per user turn, the action runs, and its
// result envelope is folded back into the conversation.
package chat

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/hubmate/hubmate/pkg/action"
	"github.com/hubmate/hubmate/pkg/errors"
	"github.com/hubmate/hubmate/pkg/llm"
	"github.com/hubmate/hubmate/pkg/memory"
)

const (
	instrumentationName = "github.com/hubmate/hubmate/pkg/chat"

	metadataToolCalls = "tool_calls"
)

var (
	metricsOnce   sync.Once
	turnCounter   metric.Int64Counter
	actionCounter metric.Int64Counter
	tokenCounter  metric.Int64Counter
	turnLatency   metric.Float64Histogram
)

func initMetrics() {
	meter := otel.Meter(instrumentationName)
	turnCounter, _ = meter.Int64Counter("chat.turns",
		metric.WithDescription("Completed chat turns"))
	actionCounter, _ = meter.Int64Counter("chat.actions",
		metric.WithDescription("Action invocations by name and status"))
	tokenCounter, _ = meter.Int64Counter("chat.tokens",
		metric.WithDescription("Planner tokens consumed"))
	turnLatency, _ = meter.Float64Histogram("chat.turn.duration",
		metric.WithDescription("Turn duration in seconds"),
		metric.WithUnit("s"))
}

// Agent is the long-lived chat factory. It owns the planner connection,
// the history store and the persona defaults; sessions are created from it
// per conversation partner.
type Agent struct {
	provider    llm.Provider
	model       string
	temperature float64
	maxTokens   int
	system      string
	history     memory.ConversationStore
	truncate    memory.TruncationStrategy
	log         *slog.Logger
	tracer      trace.Tracer
}

// AgentOption configures an Agent.
type AgentOption func(*Agent)

// WithModel sets the planner model name.
func WithModel(model string) AgentOption {
	return func(a *Agent) { a.model = model }
}

// WithTemperature sets the planner sampling temperature.
func WithTemperature(t float64) AgentOption {
	return func(a *Agent) { a.temperature = t }
}

// WithMaxTokens caps the planner's output per pass. Zero leaves the
// provider's limit in effect.
func WithMaxTokens(n int) AgentOption {
	return func(a *Agent) { a.maxTokens = n }
}

// WithSystemPrompt overrides the default persona prompt.
func WithSystemPrompt(prompt string) AgentOption {
	return func(a *Agent) { a.system = prompt }
}

// WithHistory sets the conversation history backend.
func WithHistory(store memory.ConversationStore) AgentOption {
	return func(a *Agent) { a.history = store }
}

// WithTruncation bounds how much history is replayed to the planner.
func WithTruncation(strategy memory.TruncationStrategy) AgentOption {
	return func(a *Agent) { a.truncate = strategy }
}

// WithLogger sets the structured logger.
func WithLogger(log *slog.Logger) AgentOption {
	return func(a *Agent) { a.log = log }
}

const defaultSystemPrompt = "You are Hubmate, a project assistant for a GitHub repository. " +
	"You help with issues, task planning, workload allocation, contributor rewards and project judging. " +
	"Use at most one tool per user message, and only when the request needs it. " +
	"When a tool result contains data and formatting instructions, follow the instructions to present the data."

// NewAgent creates an Agent around a planner provider.
func NewAgent(provider llm.Provider, opts ...AgentOption) (*Agent, error) {
	if provider == nil {
		return nil, errors.New(errors.CodeConfig, "chat agent requires a provider", nil)
	}
	a := &Agent{
		provider:    provider,
		model:       "gpt-4o-mini",
		temperature: 0.2,
		system:      defaultSystemPrompt,
		history:     memory.NewInMemoryConversation(memory.Config{}),
		log:         slog.Default(),
		tracer:      otel.Tracer(instrumentationName),
	}
	for _, opt := range opts {
		opt(a)
	}
	metricsOnce.Do(initMetrics)
	return a, nil
}

// Config describes one chat session: who the partner is and which action
// catalog the planner may draw from. The catalog is fixed for the session's
// lifetime.
type Config struct {
	PartnerID   string
	PartnerName string
	ActionSpace *action.Catalog
}

// Chat is one session. Turns are serialized; concurrent Next calls on the
// same session queue behind each other.
type Chat struct {
	agent     *Agent
	cfg       Config
	sessionID string

	mu     sync.Mutex
	closed bool
}

// CreateChat opens a session and seeds its history with the persona prompt.
func (a *Agent) CreateChat(ctx context.Context, cfg Config) (*Chat, error) {
	if cfg.ActionSpace == nil {
		return nil, errors.New(errors.CodeConfig, "chat session requires an action space", nil)
	}

	c := &Chat{
		agent:     a,
		cfg:       cfg,
		sessionID: uuid.NewString(),
	}

	system := a.system
	if cfg.PartnerName != "" {
		system = fmt.Sprintf("%s\nYou are talking to %s.", system, cfg.PartnerName)
	}
	if err := a.history.Append(ctx, c.sessionID, memory.Message{
		Role:    string(llm.RoleSystem),
		Content: system,
	}); err != nil {
		return nil, errors.New(errors.CodeInternal, "failed to seed session history", err)
	}

	a.log.Info("chat.session.created",
		slog.String("session_id", c.sessionID),
		slog.String("partner_id", cfg.PartnerID),
		slog.Int("actions", cfg.ActionSpace.Len()),
	)
	return c, nil
}

// SessionID returns the session's unique identifier.
func (c *Chat) SessionID() string { return c.sessionID }

// InvocationResult is the reported outcome of one action invocation.
type InvocationResult struct {
	ActionID        string        `json:"action_id"`
	Status          action.Status `json:"action_status"`
	FeedbackMessage string        `json:"feedback_message,omitempty"`
}

// FunctionCallReport describes the action the planner selected this turn.
type FunctionCallReport struct {
	Name      string           `json:"fn_name"`
	Arguments string           `json:"args,omitempty"`
	Result    InvocationResult `json:"result"`
}

// Turn is the outcome of one Next call: the assistant's reply, plus the
// action invocation if the planner selected one.
type Turn struct {
	Message      string              `json:"message"`
	FunctionCall *FunctionCallReport `json:"functionCall,omitempty"`
}

// Next advances the session by one user turn. A Failed action envelope is a
// normal outcome reported through the Turn; the error return is reserved for
// dispatch faults: a closed session, a planner failure, or the planner
// naming an action that does not exist.
func (c *Chat) Next(ctx context.Context, userMessage string) (*Turn, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil, errors.New(errors.CodeSessionClosed, "chat session is closed", nil).
			WithContext("session_id", c.sessionID).
			WithRecoverable(false)
	}

	ctx, span := c.agent.tracer.Start(ctx, "chat.next",
		trace.WithAttributes(attribute.String("session.id", c.sessionID)))
	defer span.End()
	start := time.Now()

	if err := c.append(ctx, memory.Message{Role: string(llm.RoleUser), Content: userMessage}); err != nil {
		return nil, err
	}

	messages, err := c.replay(ctx)
	if err != nil {
		return nil, err
	}

	resp, err := c.plan(ctx, messages, c.cfg.ActionSpace.Tools())
	if err != nil {
		return nil, err
	}

	turn := &Turn{}
	if len(resp.ToolCalls) == 0 {
		if err := c.append(ctx, memory.Message{Role: string(llm.RoleAssistant), Content: resp.Content}); err != nil {
			return nil, err
		}
		turn.Message = resp.Content
		c.observeTurn(ctx, start, "")
		return turn, nil
	}

	// One action per turn. Extra tool calls from an over-eager planner are
	// dropped rather than executed.
	call := resp.ToolCalls[0]
	selected, err := c.cfg.ActionSpace.Lookup(call.Function.Name)
	if err != nil {
		span.RecordError(err)
		c.agent.log.Error("chat.dispatch.lookup_failed",
			slog.String("session_id", c.sessionID),
			slog.String("action", call.Function.Name),
		)
		return nil, err
	}

	actionID := uuid.NewString()
	logger := action.LoggerFunc(func(msg string) {
		c.agent.log.Info("chat.action.log",
			slog.String("session_id", c.sessionID),
			slog.String("action", selected.Name),
			slog.String("action_id", actionID),
			slog.String("msg", msg),
		)
	})

	args := action.DecodeArgs(call.Function.Arguments)
	envelope := selected.Invoke(ctx, args, logger)

	actionCounter.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("action", selected.Name),
			attribute.String("status", string(envelope.Status)),
		))

	if err := c.recordInvocation(ctx, call, envelope); err != nil {
		return nil, err
	}

	// Second planner pass turns the envelope into the user-facing reply.
	// No tools this time; the turn's action budget is spent.
	messages, err = c.replay(ctx)
	if err != nil {
		return nil, err
	}
	final, err := c.plan(ctx, messages, nil)
	if err != nil {
		return nil, err
	}
	if err := c.append(ctx, memory.Message{Role: string(llm.RoleAssistant), Content: final.Content}); err != nil {
		return nil, err
	}

	turn.Message = final.Content
	turn.FunctionCall = &FunctionCallReport{
		Name:      selected.Name,
		Arguments: call.Function.Arguments,
		Result: InvocationResult{
			ActionID:        actionID,
			Status:          envelope.Status,
			FeedbackMessage: envelope.Payload,
		},
	}
	c.observeTurn(ctx, start, selected.Name)
	return turn, nil
}

// End closes the session and releases its history. Safe to call more than
// once; only further Next calls fail.
func (c *Chat) End(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil
	}
	c.closed = true

	if err := c.agent.history.Clear(ctx, c.sessionID); err != nil {
		return errors.New(errors.CodeInternal, "failed to clear session history", err).
			WithContext("session_id", c.sessionID)
	}
	c.agent.log.Info("chat.session.ended", slog.String("session_id", c.sessionID))
	return nil
}

func (c *Chat) append(ctx context.Context, msg memory.Message) error {
	if err := c.agent.history.Append(ctx, c.sessionID, msg); err != nil {
		return errors.New(errors.CodeInternal, "failed to record history", err).
			WithContext("session_id", c.sessionID)
	}
	return nil
}

// replay loads the session history, truncated if configured, as planner
// messages. Assistant tool calls round-trip through message metadata.
func (c *Chat) replay(ctx context.Context) ([]llm.Message, error) {
	stored, err := c.agent.history.Messages(ctx, c.sessionID)
	if err != nil {
		return nil, errors.New(errors.CodeInternal, "failed to load history", err).
			WithContext("session_id", c.sessionID)
	}
	if c.agent.truncate != nil {
		stored, err = c.agent.truncate.Truncate(ctx, stored)
		if err != nil {
			return nil, errors.New(errors.CodeInternal, "failed to truncate history", err)
		}
	}

	out := make([]llm.Message, 0, len(stored))
	for _, msg := range stored {
		m := llm.Message{
			Role:       llm.Role(msg.Role),
			Content:    msg.Content,
			ToolCallID: msg.ToolCallID,
		}
		if raw, ok := msg.Metadata[metadataToolCalls]; ok {
			if err := json.Unmarshal([]byte(raw), &m.ToolCalls); err != nil {
				return nil, errors.New(errors.CodeInternal, "corrupt tool call metadata", err).
					WithContext("session_id", c.sessionID)
			}
		}
		out = append(out, m)
	}
	return out, nil
}

func (c *Chat) plan(ctx context.Context, messages []llm.Message, tools []llm.Tool) (*llm.ChatResponse, error) {
	resp, err := c.agent.provider.Chat(ctx, llm.ChatRequest{
		Model:       c.agent.model,
		Messages:    messages,
		Tools:       tools,
		Temperature: c.agent.temperature,
		MaxTokens:   c.agent.maxTokens,
	})
	if err != nil {
		return nil, errors.New(errors.CodeLLMError, "planner request failed", err).
			WithContext("session_id", c.sessionID).
			WithRecoverable(true)
	}
	tokenCounter.Add(ctx, int64(resp.Usage.TotalTokens))
	return resp, nil
}

// recordInvocation persists the assistant's tool selection and the result
// envelope so later planner passes see the full exchange.
func (c *Chat) recordInvocation(ctx context.Context, call llm.ToolCall, envelope action.Envelope) error {
	rawCalls, err := json.Marshal([]llm.ToolCall{call})
	if err != nil {
		return errors.New(errors.CodeInternal, "failed to encode tool call", err)
	}
	if err := c.append(ctx, memory.Message{
		Role:     string(llm.RoleAssistant),
		Metadata: map[string]string{metadataToolCalls: string(rawCalls)},
	}); err != nil {
		return err
	}

	rawEnvelope, err := json.Marshal(envelope)
	if err != nil {
		return errors.New(errors.CodeInternal, "failed to encode result envelope", err)
	}
	return c.append(ctx, memory.Message{
		Role:       string(llm.RoleTool),
		Content:    string(rawEnvelope),
		ToolCallID: call.ID,
	})
}

func (c *Chat) observeTurn(ctx context.Context, start time.Time, actionName string) {
	turnCounter.Add(ctx, 1)
	turnLatency.Record(ctx, time.Since(start).Seconds())
	c.agent.log.Debug("chat.turn.done",
		slog.String("session_id", c.sessionID),
		slog.String("action", actionName),
		slog.Duration("elapsed", time.Since(start)),
	)
}

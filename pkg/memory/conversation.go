// Copyright 2026 © The Hubmate Authors
// SPDX-License-Identifier: Apache-2.0

// Package memory provides conversation history backends for chat sessions.
package memory

import (
	"context"
	"time"
)

// Message represents a single message in a conversation history.
type Message struct {
	ID         string            `json:"id"`
	SessionID  string            `json:"session_id"`
	Role       string            `json:"role"` // system, user, assistant, tool
	Content    string            `json:"content"`
	ToolCallID string            `json:"tool_call_id,omitempty"`
	Metadata   map[string]string `json:"metadata,omitempty"`
	CreatedAt  time.Time         `json:"created_at"`
}

// ConversationStore stores and retrieves ordered conversation history for
// multi-turn sessions. Each session owns its own history; stores must be
// safe for use from concurrent sessions.
type ConversationStore interface {
	// Append adds a message to the session's history.
	Append(ctx context.Context, sessionID string, msg Message) error

	// Messages retrieves all messages for a session, ordered by creation time.
	Messages(ctx context.Context, sessionID string) ([]Message, error)

	// Clear removes all messages for a session. This is the planner-side
	// resource released when a chat ends.
	Clear(ctx context.Context, sessionID string) error
}

// TruncationStrategy defines how to manage conversation length.
type TruncationStrategy interface {
	// Truncate applies the strategy to reduce messages while preserving context.
	Truncate(ctx context.Context, messages []Message) ([]Message, error)
}

// WindowStrategy keeps only the last N messages.
type WindowStrategy struct {
	MaxMessages int
	// KeepSystemMessages preserves system messages regardless of window.
	KeepSystemMessages bool
}

// NewWindowStrategy creates a window-based truncation strategy.
func NewWindowStrategy(maxMessages int, keepSystem bool) *WindowStrategy {
	return &WindowStrategy{
		MaxMessages:        maxMessages,
		KeepSystemMessages: keepSystem,
	}
}

// Truncate implements TruncationStrategy.
func (w *WindowStrategy) Truncate(_ context.Context, messages []Message) ([]Message, error) {
	if len(messages) <= w.MaxMessages {
		return messages, nil
	}

	if !w.KeepSystemMessages {
		return messages[len(messages)-w.MaxMessages:], nil
	}

	var systemMsgs []Message
	var otherMsgs []Message
	for _, msg := range messages {
		if msg.Role == "system" {
			systemMsgs = append(systemMsgs, msg)
		} else {
			otherMsgs = append(otherMsgs, msg)
		}
	}

	available := w.MaxMessages - len(systemMsgs)
	if available < 0 {
		available = 0
	}
	if len(otherMsgs) > available {
		otherMsgs = otherMsgs[len(otherMsgs)-available:]
	}

	result := make([]Message, 0, len(systemMsgs)+len(otherMsgs))
	result = append(result, systemMsgs...)
	result = append(result, otherMsgs...)
	return result, nil
}

// Config configures conversation store behavior.
type Config struct {
	// TruncationStrategy to apply when loading messages. Optional.
	TruncationStrategy TruncationStrategy
}

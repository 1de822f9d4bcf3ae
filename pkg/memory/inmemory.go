// Copyright 2026 © The Hubmate Authors
// SPDX-License-Identifier: Apache-2.0

package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// InMemoryConversation implements ConversationStore with in-memory storage.
// Suitable for development, testing, and single-instance deployments.
// Data is lost on restart.
type InMemoryConversation struct {
	mu       sync.RWMutex
	sessions map[string][]Message
	config   Config
}

// NewInMemoryConversation creates a new in-memory conversation store.
func NewInMemoryConversation(config Config) *InMemoryConversation {
	return &InMemoryConversation{
		sessions: make(map[string][]Message),
		config:   config,
	}
}

// Append adds a message to the session's history.
func (m *InMemoryConversation) Append(_ context.Context, sessionID string, msg Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if msg.ID == "" {
		msg.ID = uuid.New().String()
	}
	if msg.SessionID == "" {
		msg.SessionID = sessionID
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now()
	}

	m.sessions[sessionID] = append(m.sessions[sessionID], msg)
	return nil
}

// Messages retrieves all messages for a session.
func (m *InMemoryConversation) Messages(ctx context.Context, sessionID string) ([]Message, error) {
	m.mu.RLock()
	messages := make([]Message, len(m.sessions[sessionID]))
	copy(messages, m.sessions[sessionID])
	m.mu.RUnlock()

	if m.config.TruncationStrategy != nil && len(messages) > 0 {
		return m.config.TruncationStrategy.Truncate(ctx, messages)
	}
	return messages, nil
}

// Clear removes all messages for a session.
func (m *InMemoryConversation) Clear(_ context.Context, sessionID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.sessions, sessionID)
	return nil
}

// ListSessions returns all active session IDs.
func (m *InMemoryConversation) ListSessions() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	ids := make([]string, 0, len(m.sessions))
	for id := range m.sessions {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// MessageCount returns the number of messages in a session.
func (m *InMemoryConversation) MessageCount(sessionID string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions[sessionID])
}

// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package model contains the data structures for conversations, messages and
// selectable chat models.
package model

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// =============================================================================
// ROLE TYPE
// =============================================================================

// Role represents the sender of a message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

// String returns the string representation of the role.
func (r Role) String() string {
	return string(r)
}

// =============================================================================
// FUNCTION CALL TYPE
// =============================================================================

// CallStatus tracks the lifecycle of a tool invocation. Transitions are
// driven entirely by the backend's event stream, never re-derived locally.
type CallStatus string

const (
	CallStatusCalling   CallStatus = "calling"
	CallStatusCompleted CallStatus = "completed"
	CallStatusError     CallStatus = "error"
)

// FunctionCall is a tool invocation surfaced mid-stream on an assistant
// message.
type FunctionCall struct {
	ID        string          `json:"id"`
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments,omitempty"`
	Status    CallStatus      `json:"status"`
	Result    string          `json:"result,omitempty"`
	Error     string          `json:"error,omitempty"`
}

// Clone returns an independent copy of the function call.
func (f FunctionCall) Clone() FunctionCall {
	c := f
	if f.Arguments != nil {
		c.Arguments = append(json.RawMessage(nil), f.Arguments...)
	}
	return c
}

// =============================================================================
// MESSAGE TYPE
// =============================================================================

// Message represents a single turn in a conversation. Assistant messages are
// created empty with IsStreaming=true and mutated in place as decoded events
// arrive; they are frozen exactly once, on stream completion or error.
type Message struct {
	ID        string    `json:"id"`
	Role      Role      `json:"role"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`

	// Model is the display name of the generating model (assistant only).
	Model string `json:"model,omitempty"`

	// IsStreaming is true until a terminal event arrives.
	IsStreaming bool `json:"is_streaming,omitempty"`

	// Error holds the terminal failure reason. Error and a successful
	// Content are mutually exclusive terminal states.
	Error string `json:"error,omitempty"`

	// Thinking is reasoning text extracted from the raw token stream;
	// ThinkingTime is elapsed reasoning seconds, finalized once streaming
	// ends.
	Thinking     string  `json:"thinking,omitempty"`
	ThinkingTime float64 `json:"thinking_time,omitempty"`

	SessionID string         `json:"session_id,omitempty"`
	ToolCalls []FunctionCall `json:"tool_calls,omitempty"`
}

// NewUserMessage creates a user message with a generated ID.
func NewUserMessage(content, sessionID string) *Message {
	return &Message{
		ID:        generateMessageID(),
		Role:      RoleUser,
		Content:   content,
		Timestamp: time.Now(),
		SessionID: sessionID,
	}
}

// NewAssistantPlaceholder creates the streaming assistant placeholder that a
// send appends before any network I/O begins.
func NewAssistantPlaceholder(modelName, sessionID string) *Message {
	return &Message{
		ID:          generateMessageID(),
		Role:        RoleAssistant,
		Timestamp:   time.Now(),
		Model:       modelName,
		SessionID:   sessionID,
		IsStreaming: true,
	}
}

// Clone returns a deep copy of the message.
func (m *Message) Clone() *Message {
	c := *m
	if m.ToolCalls != nil {
		c.ToolCalls = make([]FunctionCall, len(m.ToolCalls))
		for i, tc := range m.ToolCalls {
			c.ToolCalls[i] = tc.Clone()
		}
	}
	return &c
}

// CloneMessages deep-copies a message slice.
func CloneMessages(msgs []*Message) []*Message {
	out := make([]*Message, len(msgs))
	for i, m := range msgs {
		out[i] = m.Clone()
	}
	return out
}

// =============================================================================
// WIRE MESSAGE
// =============================================================================

// ChatMessage is the role/content pair sent to the backend.
type ChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// =============================================================================
// HELPER FUNCTIONS
// =============================================================================

// generateMessageID creates a unique message ID. UUIDv7 is time-ordered,
// which keeps message IDs sortable by creation.
func generateMessageID() string {
	return "msg_" + uuid.Must(uuid.NewV7()).String()
}

// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package model

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// MaxMessageLength is the longest user message the backend accepts; longer
// text is truncated so both ends agree on history content.
const MaxMessageLength = 10000

// DefaultHistoryWindow is how many trailing turns are sent with a request.
// Matches the backend's own windowing.
const DefaultHistoryWindow = 20

// =============================================================================
// CONVERSATION TYPE
// =============================================================================

// Conversation holds one side's message list. All mutation goes through
// methods holding the conversation lock, and streaming updates are expressed
// as read-modify-write keyed by message ID so interleaved updates from
// concurrent streams never clobber unrelated fields.
type Conversation struct {
	mu sync.Mutex

	// Identity
	ID        string
	CreatedAt time.Time
	UpdatedAt time.Time

	// Model display name currently bound to this side.
	Model string

	messages []*Message
}

// NewConversation creates an empty conversation.
func NewConversation(modelName string) *Conversation {
	now := time.Now()
	return &Conversation{
		ID:        "conv_" + uuid.Must(uuid.NewV7()).String(),
		CreatedAt: now,
		UpdatedAt: now,
		Model:     modelName,
	}
}

// =============================================================================
// MESSAGE MANAGEMENT
// =============================================================================

// AppendExchange appends the optimistic user message plus the streaming
// assistant placeholder in one atomic step, returning the placeholder's ID.
func (c *Conversation) AppendExchange(text, modelName, sessionID string) (userID, placeholderID string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	user := NewUserMessage(text, sessionID)
	placeholder := NewAssistantPlaceholder(modelName, sessionID)
	c.messages = append(c.messages, user, placeholder)
	c.UpdatedAt = time.Now()
	return user.ID, placeholder.ID
}

// Update applies fn to the message with the given ID under the conversation
// lock. Returns false if no such message exists.
func (c *Conversation) Update(id string, fn func(*Message)) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, m := range c.messages {
		if m.ID == id {
			fn(m)
			c.UpdatedAt = time.Now()
			return true
		}
	}
	return false
}

// Snapshot returns deep copies of all messages.
func (c *Conversation) Snapshot() []*Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	return CloneMessages(c.messages)
}

// Replace swaps the entire message list, deep-copying the input. Used when a
// model change restores persisted history for the new pairing.
func (c *Conversation) Replace(msgs []*Message) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.messages = CloneMessages(msgs)
	c.UpdatedAt = time.Now()
}

// Clear removes all messages.
func (c *Conversation) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.messages = nil
	c.UpdatedAt = time.Now()
}

// Len returns the number of messages.
func (c *Conversation) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.messages)
}

// Last returns a copy of the most recent message, or nil if empty.
func (c *Conversation) Last() *Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.messages) == 0 {
		return nil
	}
	return c.messages[len(c.messages)-1].Clone()
}

// =============================================================================
// REQUEST PAYLOAD
// =============================================================================

// WireHistory renders the trailing window of the conversation as backend
// chat messages. System messages are always preserved; streaming or errored
// assistant turns are skipped since the backend never saw them complete.
func (c *Conversation) WireHistory(window int) []ChatMessage {
	c.mu.Lock()
	defer c.mu.Unlock()

	if window <= 0 {
		window = DefaultHistoryWindow
	}

	var system, rest []ChatMessage
	for _, m := range c.messages {
		if m.IsStreaming || m.Error != "" {
			continue
		}
		wm := ChatMessage{Role: m.Role.String(), Content: m.Content}
		if m.Role == RoleSystem {
			system = append(system, wm)
		} else {
			rest = append(rest, wm)
		}
	}

	if keep := window - len(system); len(rest) > keep {
		if keep < 0 {
			keep = 0
		}
		rest = rest[len(rest)-keep:]
	}

	out := make([]ChatMessage, 0, len(system)+len(rest))
	out = append(out, system...)
	out = append(out, rest...)
	return out
}

// TruncateOutbound clamps user text to the backend's message length cap.
func TruncateOutbound(text string) string {
	if len(text) <= MaxMessageLength {
		return text
	}
	return text[:MaxMessageLength]
}

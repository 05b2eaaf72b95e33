// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package model

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAppendExchange(t *testing.T) {
	c := NewConversation("Llama v3")
	userID, placeholderID := c.AppendExchange("hello", "Llama v3", "sess_1")

	require.Equal(t, 2, c.Len())
	assert.NotEqual(t, userID, placeholderID)

	msgs := c.Snapshot()
	assert.Equal(t, RoleUser, msgs[0].Role)
	assert.Equal(t, "hello", msgs[0].Content)
	assert.False(t, msgs[0].IsStreaming)

	assert.Equal(t, RoleAssistant, msgs[1].Role)
	assert.True(t, msgs[1].IsStreaming)
	assert.Empty(t, msgs[1].Content)
	assert.Equal(t, "sess_1", msgs[1].SessionID)
}

func TestUpdate(t *testing.T) {
	c := NewConversation("")
	_, id := c.AppendExchange("q", "m", "s")

	ok := c.Update(id, func(m *Message) {
		m.Content = "partial"
	})
	assert.True(t, ok)
	assert.Equal(t, "partial", c.Last().Content)

	assert.False(t, c.Update("msg_missing", func(m *Message) {
		t.Fatal("must not be called")
	}))
}

func TestSnapshotIsDeepCopy(t *testing.T) {
	c := NewConversation("")
	c.AppendExchange("q", "m", "s")

	snap := c.Snapshot()
	snap[0].Content = "mutated"
	assert.Equal(t, "q", c.Snapshot()[0].Content)
}

func TestWireHistorySkipsIncomplete(t *testing.T) {
	c := NewConversation("")
	_, p1 := c.AppendExchange("first", "m", "s")
	c.Update(p1, func(m *Message) {
		m.Content = "answer one"
		m.IsStreaming = false
	})
	_, p2 := c.AppendExchange("second", "m", "s")
	c.Update(p2, func(m *Message) {
		m.IsStreaming = false
		m.Error = "failed"
	})
	c.AppendExchange("third", "m", "s") // placeholder still streaming

	wire := c.WireHistory(20)
	var contents []string
	for _, m := range wire {
		contents = append(contents, m.Content)
	}
	// Errored and in-flight assistant turns are absent; user turns stay.
	assert.Equal(t, []string{"first", "answer one", "second", "third"}, contents)
}

func TestWireHistoryWindow(t *testing.T) {
	c := NewConversation("")
	for i := 0; i < 30; i++ {
		_, p := c.AppendExchange("question", "m", "s")
		c.Update(p, func(m *Message) {
			m.Content = "answer"
			m.IsStreaming = false
		})
	}

	wire := c.WireHistory(20)
	assert.Len(t, wire, 20)
	// The newest turns survive.
	assert.Equal(t, "answer", wire[len(wire)-1].Content)
}

func TestWireHistoryPreservesSystem(t *testing.T) {
	c := NewConversation("")
	c.Replace([]*Message{
		{ID: "m0", Role: RoleSystem, Content: "you are terse"},
	})
	for i := 0; i < 30; i++ {
		_, p := c.AppendExchange("q", "m", "s")
		c.Update(p, func(m *Message) {
			m.Content = "a"
			m.IsStreaming = false
		})
	}

	wire := c.WireHistory(10)
	require.NotEmpty(t, wire)
	assert.Equal(t, "system", wire[0].Role)
	assert.Equal(t, "you are terse", wire[0].Content)
	assert.Len(t, wire, 10)
}

func TestTruncateOutbound(t *testing.T) {
	assert.Equal(t, "short", TruncateOutbound("short"))

	long := strings.Repeat("x", MaxMessageLength+50)
	got := TruncateOutbound(long)
	assert.Len(t, got, MaxMessageLength)
}

func TestCloneMessageIndependence(t *testing.T) {
	m := &Message{
		ID:      "m1",
		Role:    RoleAssistant,
		Content: "hi",
		ToolCalls: []FunctionCall{
			{ID: "c1", Name: "f", Arguments: []byte(`{"a":1}`), Status: CallStatusCalling},
		},
	}
	c := m.Clone()
	c.ToolCalls[0].Name = "changed"
	c.ToolCalls[0].Arguments[2] = 'X'

	assert.Equal(t, "f", m.ToolCalls[0].Name)
	assert.Equal(t, byte('a'), m.ToolCalls[0].Arguments[2])
}

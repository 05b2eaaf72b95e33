// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package history

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arenalabs/modelarena/internal/model"
)

func msgs(contents ...string) []*model.Message {
	out := make([]*model.Message, len(contents))
	for i, c := range contents {
		out[i] = model.NewUserMessage(c, "sess_test")
	}
	return out
}

func TestPairKeySymmetry(t *testing.T) {
	assert.Equal(t, PairKey("llama-v3", "qwen3"), PairKey("qwen3", "llama-v3"))
	assert.NotEqual(t, PairKey("llama-v3", "qwen3"), PairKey("llama-v3", "deepseek"))
	assert.NotEqual(t, Key("llama-v3"), PairKey("llama-v3", "qwen3"))
}

func TestSaveAndGet(t *testing.T) {
	c := NewCache()
	c.Save(Key("llama-v3"), msgs("hello", "hi there"))

	got, ok := c.Get(Key("llama-v3"))
	require.True(t, ok)
	require.Len(t, got, 2)
	assert.Equal(t, "hello", got[0].Content)

	_, ok = c.Get(Key("qwen3"))
	assert.False(t, ok)
}

func TestSaveOverwrites(t *testing.T) {
	c := NewCache()
	c.Save("k", msgs("first"))
	c.Save("k", msgs("second", "third"))

	got, ok := c.Get("k")
	require.True(t, ok)
	require.Len(t, got, 2)
	assert.Equal(t, "second", got[0].Content)

	// Empty transcripts overwrite too.
	c.Save("k", nil)
	got, ok = c.Get("k")
	assert.True(t, ok)
	assert.Empty(t, got)
}

func TestDefensiveCopies(t *testing.T) {
	c := NewCache()
	original := msgs("hello")
	c.Save("k", original)

	// Mutating the caller's slice after Save must not affect the cache.
	original[0].Content = "mutated"
	got, _ := c.Get("k")
	assert.Equal(t, "hello", got[0].Content)

	// Mutating a retrieved copy must not affect later reads.
	got[0].Content = "also mutated"
	again, _ := c.Get("k")
	assert.Equal(t, "hello", again[0].Content)
}

func TestClear(t *testing.T) {
	c := NewCache()
	c.Save("a", msgs("x"))
	c.Save("b", msgs("y"))

	c.Clear("a")
	assert.False(t, c.Has("a"))
	assert.True(t, c.Has("b"))

	c.Clear("missing") // no-op

	c.ClearAll()
	assert.Equal(t, 0, c.Len())
}

func TestClearOlderThan(t *testing.T) {
	c := NewCache()
	c.Save("old", msgs("x"))
	c.Save("new", msgs("y"))

	c.mu.Lock()
	e := c.entries["old"]
	e.savedAt = time.Now().Add(-2 * time.Hour)
	c.entries["old"] = e
	c.mu.Unlock()

	removed := c.ClearOlderThan(time.Hour)
	assert.Equal(t, 1, removed)
	assert.False(t, c.Has("old"))
	assert.True(t, c.Has("new"))
}

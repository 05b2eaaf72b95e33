// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package history keeps an in-memory cache of chat transcripts keyed by
// model selection, so switching away from a model and back restores the
// conversation instead of losing it.
//
// The cache is intentionally volatile: it lives for the process only.
package history

import (
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/arenalabs/modelarena/internal/model"
)

// =============================================================================
// KEYS
// =============================================================================

// Key derives the cache key for a single-model conversation.
func Key(modelID string) string {
	return modelID
}

// PairKey derives an order-independent key for a comparison pair: the same
// two models in either order map to the same entry.
func PairKey(leftID, rightID string) string {
	ids := []string{leftID, rightID}
	sort.Strings(ids)
	return strings.Join(ids, "|")
}

// =============================================================================
// CACHE
// =============================================================================

type entry struct {
	messages []*model.Message
	savedAt  time.Time
}

// Cache stores transcripts per model selection. All methods are safe for
// concurrent use, and all message slices cross the boundary as deep copies
// so callers can never alias cached state.
type Cache struct {
	mu      sync.Mutex
	entries map[string]entry
}

// NewCache creates an empty transcript cache.
func NewCache() *Cache {
	return &Cache{entries: make(map[string]entry)}
}

// Save stores a deep copy of msgs under key, replacing any previous entry.
// An empty transcript still overwrites: clearing a chat and switching away
// must not resurrect the old messages.
func (c *Cache) Save(key string, msgs []*model.Message) {
	copied := model.CloneMessages(msgs)

	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = entry{messages: copied, savedAt: time.Now()}
}

// Get returns a deep copy of the transcript stored under key.
func (c *Cache) Get(key string) ([]*model.Message, bool) {
	c.mu.Lock()
	e, ok := c.entries[key]
	c.mu.Unlock()
	if !ok {
		return nil, false
	}
	return model.CloneMessages(e.messages), true
}

// Has reports whether a transcript exists under key.
func (c *Cache) Has(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.entries[key]
	return ok
}

// Clear removes the transcript stored under key, if any.
func (c *Cache) Clear(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, key)
}

// ClearAll drops every cached transcript.
func (c *Cache) ClearAll() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[string]entry)
}

// ClearOlderThan removes entries saved before the cutoff and returns how
// many were dropped.
func (c *Cache) ClearOlderThan(maxAge time.Duration) int {
	cutoff := time.Now().Add(-maxAge)

	c.mu.Lock()
	defer c.mu.Unlock()
	removed := 0
	for k, e := range c.entries {
		if e.savedAt.Before(cutoff) {
			delete(c.entries, k)
			removed++
		}
	}
	return removed
}

// Len returns the number of cached transcripts.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

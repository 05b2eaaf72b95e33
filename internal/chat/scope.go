// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package chat orchestrates conversations against the comparison backend:
// optimistic message appends, SSE stream folding, session adoption, and the
// dual-model comparison flow.
package chat

import (
	"context"
	"sync"
)

// Scope is a liveness token guarding async mutations. Work started under a
// scope checks Alive before writing results back; Teardown flips the token
// and cancels every registered in-flight stream, so a superseded or torn
// down operation can never apply a zombie update.
type Scope struct {
	mu      sync.Mutex
	alive   bool
	nextID  int
	cancels map[int]context.CancelFunc
}

// NewScope creates a live scope.
func NewScope() *Scope {
	return &Scope{
		alive:   true,
		cancels: make(map[int]context.CancelFunc),
	}
}

// Alive reports whether the scope has not been torn down.
func (s *Scope) Alive() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.alive
}

// Register derives a cancelable context bound to the scope and returns a
// release function. Releasing is idempotent and must be called when the
// operation finishes; Teardown cancels anything still registered.
func (s *Scope) Register(parent context.Context) (context.Context, func()) {
	ctx, cancel := context.WithCancel(parent)

	s.mu.Lock()
	if !s.alive {
		s.mu.Unlock()
		cancel()
		return ctx, func() {}
	}
	id := s.nextID
	s.nextID++
	s.cancels[id] = cancel
	s.mu.Unlock()

	var once sync.Once
	return ctx, func() {
		once.Do(func() {
			cancel()
			s.mu.Lock()
			delete(s.cancels, id)
			s.mu.Unlock()
		})
	}
}

// CancelAll aborts every registered operation without killing the scope.
// Used when a new call supersedes whatever is in flight.
func (s *Scope) CancelAll() {
	s.mu.Lock()
	cancels := make([]context.CancelFunc, 0, len(s.cancels))
	for _, c := range s.cancels {
		cancels = append(cancels, c)
	}
	s.cancels = make(map[int]context.CancelFunc)
	s.mu.Unlock()

	for _, c := range cancels {
		c()
	}
}

// Teardown kills the scope and aborts everything in flight.
func (s *Scope) Teardown() {
	s.mu.Lock()
	s.alive = false
	cancels := make([]context.CancelFunc, 0, len(s.cancels))
	for _, c := range s.cancels {
		cancels = append(cancels, c)
	}
	s.cancels = make(map[int]context.CancelFunc)
	s.mu.Unlock()

	for _, c := range cancels {
		c()
	}
}

// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package session owns logical conversation identity and the model-change
// state machine.
//
// A session binds a fingerprint of the selected model(s) to an id; a
// mismatch between the live selection and the stored fingerprint is exactly
// the trigger for a reset decision. Every exported method is one atomic
// step: the tracker is a process-wide component mutated from multiple call
// sites.
package session

import (
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/arenalabs/modelarena/internal/model"
)

// =============================================================================
// CONFIG
// =============================================================================

// Config controls reset behavior and the inactivity sweep.
type Config struct {
	// ResetOnModelChange gates whether a detected model change triggers a
	// reset at all. Turning this off while actually swapping models mixes
	// turns from different models under one session; the knob is kept as a
	// deliberate escape hatch, documented risk included.
	ResetOnModelChange bool

	// AutoReset chooses between resetting the same session in place (true)
	// and allocating a brand-new session (false) when a change is detected.
	AutoReset bool

	// InactivityTimeout expires sessions idle longer than this.
	InactivityTimeout time.Duration

	// CleanupInterval is how often the sweeper runs.
	CleanupInterval time.Duration
}

// DefaultConfig returns the default tracker configuration.
func DefaultConfig() Config {
	return Config{
		ResetOnModelChange: true,
		AutoReset:          true,
		InactivityTimeout:  30 * time.Minute,
		CleanupInterval:    5 * time.Minute,
	}
}

// =============================================================================
// SESSION STATE
// =============================================================================

// State is the logical conversation identity, independent of transport.
type State struct {
	ID           string
	Active       bool
	CreatedAt    time.Time
	LastActivity time.Time

	// ModelHash fingerprints the model(s) last bound to this session.
	ModelHash string

	// ConversationID is the backend-assigned correlation id, cleared on
	// every reset.
	ConversationID string
}

// =============================================================================
// LIFECYCLE EVENTS
// =============================================================================

// EventType names a session lifecycle transition.
type EventType string

const (
	EventCreated   EventType = "session_created"
	EventReset     EventType = "session_reset"
	EventDestroyed EventType = "session_destroyed"
)

// Event is delivered synchronously to every subscribed handler, in
// subscription order.
type Event struct {
	Type      EventType
	SessionID string
	// Reason is a human-readable cause for resets, e.g. "model_change",
	// "manual_clear", "page_refresh".
	Reason string
	Time   time.Time
}

// Handler receives lifecycle events. A panicking handler is isolated and
// never blocks delivery to later handlers.
type Handler func(Event)

// =============================================================================
// TRACKER
// =============================================================================

// Decision is the outcome of a model-change check. The returned SessionID is
// authoritative: callers must not assume it matches the id they passed in.
type Decision struct {
	ShouldReset bool
	SessionID   string
}

// Tracker is the session state machine.
type Tracker struct {
	mu       sync.Mutex
	cfg      Config
	sessions map[string]*State
	handlers []Handler
	counter  uint64
}

// NewTracker creates a tracker with the given configuration.
func NewTracker(cfg Config) *Tracker {
	if cfg.InactivityTimeout <= 0 {
		cfg.InactivityTimeout = DefaultConfig().InactivityTimeout
	}
	if cfg.CleanupInterval <= 0 {
		cfg.CleanupInterval = DefaultConfig().CleanupInterval
	}
	return &Tracker{
		cfg:      cfg,
		sessions: make(map[string]*State),
	}
}

// Subscribe registers a lifecycle event handler.
func (t *Tracker) Subscribe(h Handler) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.handlers = append(t.handlers, h)
}

// =============================================================================
// MODEL FINGERPRINT
// =============================================================================

// HashModels fingerprints the given model identity fields. Two models hash
// position-sensitively ("left_vs_right"): swapping sides changes the hash.
// Not cryptographic; used purely for change detection.
func HashModels(models ...model.ChatModel) string {
	parts := make([]string, len(models))
	for i, m := range models {
		parts[i] = m.ID + ":" + m.Name + ":" + m.Provider
	}
	return strings.Join(parts, "_vs_")
}

// =============================================================================
// OPERATIONS
// =============================================================================

// CreateSession allocates a new active session bound to the given model(s).
// The id sorts by creation time and is unique within the process lifetime.
func (t *Tracker) CreateSession(conversationID string, models ...model.ChatModel) State {
	t.mu.Lock()
	s := t.createLocked(conversationID, models...)
	out := *s
	t.mu.Unlock()

	t.emit(Event{Type: EventCreated, SessionID: out.ID, Time: time.Now()})
	return out
}

func (t *Tracker) createLocked(conversationID string, models ...model.ChatModel) *State {
	t.counter++
	now := time.Now()
	s := &State{
		ID:             fmt.Sprintf("sess_%019d_%06d", now.UnixNano(), t.counter),
		Active:         true,
		CreatedAt:      now,
		LastActivity:   now,
		ModelHash:      HashModels(models...),
		ConversationID: conversationID,
	}
	t.sessions[s.ID] = s
	return s
}

// HandleModelChange compares the live selection against the session's stored
// fingerprint and decides reset-in-place, reset-to-new-session, or no-op.
// An unknown session id allocates a fresh session with no reset signaled.
func (t *Tracker) HandleModelChange(sessionID string, models ...model.ChatModel) Decision {
	newHash := HashModels(models...)

	t.mu.Lock()
	s, ok := t.sessions[sessionID]
	if !ok {
		s = t.createLocked("", models...)
		t.mu.Unlock()
		t.emit(Event{Type: EventCreated, SessionID: s.ID, Time: time.Now()})
		return Decision{ShouldReset: false, SessionID: s.ID}
	}

	if s.ModelHash == newHash {
		s.LastActivity = time.Now()
		t.mu.Unlock()
		return Decision{ShouldReset: false, SessionID: sessionID}
	}

	if !t.cfg.ResetOnModelChange {
		// Escape hatch: the change is detected but deliberately ignored.
		s.LastActivity = time.Now()
		t.mu.Unlock()
		log.Printf("session: model change in %s suppressed by config", sessionID)
		return Decision{ShouldReset: false, SessionID: sessionID}
	}

	if t.cfg.AutoReset {
		s.ModelHash = newHash
		s.ConversationID = ""
		s.LastActivity = time.Now()
		t.mu.Unlock()
		t.emit(Event{Type: EventReset, SessionID: sessionID, Reason: "model_change", Time: time.Now()})
		return Decision{ShouldReset: true, SessionID: sessionID}
	}

	fresh := t.createLocked("", models...)
	t.mu.Unlock()
	t.emit(Event{Type: EventCreated, SessionID: fresh.ID, Time: time.Now()})
	return Decision{ShouldReset: true, SessionID: fresh.ID}
}

// UpdateActivity bumps the session's activity timestamp. No-op if the
// session is absent.
func (t *Tracker) UpdateActivity(sessionID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if s, ok := t.sessions[sessionID]; ok {
		s.LastActivity = time.Now()
	}
}

// SetConversationID records the backend correlation id for the session.
func (t *Tracker) SetConversationID(sessionID, conversationID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if s, ok := t.sessions[sessionID]; ok {
		s.ConversationID = conversationID
	}
}

// Get returns a copy of the session state.
func (t *Tracker) Get(sessionID string) (State, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if s, ok := t.sessions[sessionID]; ok {
		return *s, true
	}
	return State{}, false
}

// ResetSession clears the backend correlation id while preserving the
// session id and model fingerprint. The reason string rides on the emitted
// event for observability.
func (t *Tracker) ResetSession(sessionID, reason string) {
	t.mu.Lock()
	s, ok := t.sessions[sessionID]
	if !ok {
		t.mu.Unlock()
		return
	}
	s.ConversationID = ""
	s.LastActivity = time.Now()
	t.mu.Unlock()

	t.emit(Event{Type: EventReset, SessionID: sessionID, Reason: reason, Time: time.Now()})
}

// DestroySession removes the session from the active set.
func (t *Tracker) DestroySession(sessionID string) {
	t.mu.Lock()
	ev, ok := t.destroyLocked(sessionID)
	t.mu.Unlock()

	if ok {
		t.emit(ev)
	}
}

// destroyLocked is the single code path for the destructive side effect;
// both manual destroy and the sweep go through it.
func (t *Tracker) destroyLocked(sessionID string) (Event, bool) {
	s, ok := t.sessions[sessionID]
	if !ok {
		return Event{}, false
	}
	s.Active = false
	delete(t.sessions, sessionID)
	return Event{Type: EventDestroyed, SessionID: sessionID, Time: time.Now()}, true
}

// CleanupInactive destroys sessions idle longer than maxAge and returns how
// many were removed.
func (t *Tracker) CleanupInactive(maxAge time.Duration) int {
	now := time.Now()

	t.mu.Lock()
	var events []Event
	for id, s := range t.sessions {
		if now.Sub(s.LastActivity) > maxAge {
			if ev, ok := t.destroyLocked(id); ok {
				events = append(events, ev)
			}
		}
	}
	t.mu.Unlock()

	for _, ev := range events {
		t.emit(ev)
	}
	if len(events) > 0 {
		log.Printf("session: cleaned up %d inactive sessions", len(events))
	}
	return len(events)
}

// Count returns the number of active sessions.
func (t *Tracker) Count() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.sessions)
}

// =============================================================================
// SWEEPER
// =============================================================================

// Run sweeps inactive sessions on the configured interval until done is
// closed. Intended to be started as a goroutine by the owner.
func (t *Tracker) Run(done <-chan struct{}) {
	ticker := time.NewTicker(t.cfg.CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			t.CleanupInactive(t.cfg.InactivityTimeout)
		}
	}
}

// =============================================================================
// EVENT DELIVERY
// =============================================================================

// emit fans the event out to all handlers in order. Handlers run outside the
// tracker lock and each invocation is isolated so one panic cannot stop
// delivery or corrupt state.
func (t *Tracker) emit(ev Event) {
	t.mu.Lock()
	handlers := make([]Handler, len(t.handlers))
	copy(handlers, t.handlers)
	t.mu.Unlock()

	for _, h := range handlers {
		func() {
			defer func() {
				if r := recover(); r != nil {
					log.Printf("session: event handler panicked: %v", r)
				}
			}()
			h(ev)
		}()
	}
}

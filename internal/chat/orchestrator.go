// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package chat

import (
	"context"
	"errors"
	"io"
	"log"
	"strings"
	"time"

	"github.com/arenalabs/modelarena/internal/api"
	"github.com/arenalabs/modelarena/internal/history"
	"github.com/arenalabs/modelarena/internal/model"
	"github.com/arenalabs/modelarena/internal/session"
	"github.com/arenalabs/modelarena/internal/sse"
	"github.com/arenalabs/modelarena/internal/thinking"
)

// User-facing error strings. Stream failures are deliberately generic; the
// real cause goes to the log, not the transcript.
const (
	genericStreamError = "Something went wrong while generating a response. Please try again."
	quotaError         = "Rate limit reached. Please try again later."
)

// QuotaChecker re-validates remaining quota before a request is committed.
// *api.Client satisfies it.
type QuotaChecker interface {
	CheckQuota(ctx context.Context) error
}

// Streamer is the backend surface the orchestrators need. *api.Client
// satisfies it; tests substitute fakes.
type Streamer interface {
	QuotaChecker
	StreamSingle(ctx context.Context, req api.SingleChatRequest) (*api.Stream, error)
	StreamMetrics(ctx context.Context, req api.MetricsRequest) (*api.Stream, error)
	InitComparison(ctx context.Context, messages []model.ChatMessage, modelKeys []string, functions []api.FunctionDefinition) (*api.InitComparisonResponse, error)
}

// Orchestrator drives a single-model conversation: optimistic appends,
// quota pre-checks, stream folding, and error rollback.
//
// SendMessage blocks for the duration of the stream; a new call supersedes
// and aborts any stream still in flight. UI updates flow through the
// OnUpdate callback, invoked after every mutation of the transcript.
type Orchestrator struct {
	client    Streamer
	tracker   *session.Tracker
	cache     *history.Cache
	extractor *thinking.Extractor
	scope     *Scope
	conv      *model.Conversation

	// OnUpdate is called (when set) after every transcript mutation.
	OnUpdate func()

	selected      model.ChatModel
	hasModel      bool
	sessionID     string
	historyWindow int
	functions     []api.FunctionDefinition
}

// NewOrchestrator wires a single-conversation orchestrator.
func NewOrchestrator(client Streamer, tracker *session.Tracker, cache *history.Cache, extractor *thinking.Extractor) *Orchestrator {
	return &Orchestrator{
		client:        client,
		tracker:       tracker,
		cache:         cache,
		extractor:     extractor,
		scope:         NewScope(),
		conv:          model.NewConversation(""),
		historyWindow: model.DefaultHistoryWindow,
	}
}

// WithHistoryWindow overrides how many recent turns are sent to the backend.
func (o *Orchestrator) WithHistoryWindow(n int) *Orchestrator {
	if n > 0 {
		o.historyWindow = n
	}
	return o
}

// SetFunctions sets the tool definitions sent with every request.
func (o *Orchestrator) SetFunctions(functions []api.FunctionDefinition) {
	o.functions = functions
}

// Model returns the currently selected model.
func (o *Orchestrator) Model() (model.ChatModel, bool) {
	return o.selected, o.hasModel
}

// Messages returns a deep copy of the transcript.
func (o *Orchestrator) Messages() []*model.Message {
	return o.conv.Snapshot()
}

// SelectModel switches the conversation to a different model. The current
// transcript is stashed in the history cache under the old model's key and
// the new model's cached transcript (if any) is restored, so switching back
// and forth never loses messages. The session tracker decides whether the
// switch resets the session.
func (o *Orchestrator) SelectModel(m model.ChatModel) {
	if o.hasModel && o.selected.ID == m.ID {
		return
	}
	o.scope.CancelAll()

	if o.hasModel {
		o.cache.Save(history.Key(o.selected.ID), o.conv.Snapshot())
	}

	if o.sessionID == "" {
		s := o.tracker.CreateSession("", m)
		o.sessionID = s.ID
	} else {
		d := o.tracker.HandleModelChange(o.sessionID, m)
		o.sessionID = d.SessionID
	}

	if cached, ok := o.cache.Get(history.Key(m.ID)); ok {
		o.conv.Replace(cached)
	} else {
		o.conv.Clear()
	}

	o.selected = m
	o.hasModel = true
	o.notify()
}

// SendMessage appends the user message and a streaming placeholder, then
// folds the model's SSE stream into the placeholder. Preconditions that are
// not met (no model selected, blank input) make it a silent no-op. The
// returned error is nil for per-message stream failures (those are recorded
// on the message itself); only quota exhaustion comes back as an error so
// callers can surface the dedicated retry signal.
func (o *Orchestrator) SendMessage(ctx context.Context, text string) error {
	text = strings.TrimSpace(text)
	if !o.hasModel || text == "" {
		return nil
	}
	text = model.TruncateOutbound(text)

	// A new send supersedes whatever is still streaming.
	o.scope.CancelAll()

	_, placeholderID := o.conv.AppendExchange(text, o.selected.DisplayName(), o.sessionID)
	o.notify()

	ctx, release := o.scope.Register(ctx)
	defer release()

	// Quota pre-check: a hard quota failure finalizes the placeholder and
	// the chat request is never made.
	if err := o.client.CheckQuota(ctx); err != nil {
		var rle *api.RateLimitError
		if errors.As(err, &rle) {
			o.finalizeError(placeholderID, quotaError)
			return rle
		}
		log.Printf("chat: quota pre-check failed: %v", err)
		// Soft failure (network blip, backend restart): proceed and let the
		// chat request itself decide.
	}

	convID := ""
	if s, ok := o.tracker.Get(o.sessionID); ok {
		convID = s.ConversationID
	}

	stream, err := o.client.StreamSingle(ctx, api.SingleChatRequest{
		Messages:            o.conv.WireHistory(o.historyWindow),
		ModelKey:            o.selected.ID,
		ConversationID:      convID,
		FunctionDefinitions: o.functions,
	})
	if err != nil {
		o.finalizeError(placeholderID, userErrorFor(err))
		if errors.Is(err, api.ErrRateLimited) {
			return err
		}
		log.Printf("chat: stream open failed: %v", err)
		return nil
	}
	defer stream.Close()

	if stream.SessionID != "" {
		o.tracker.SetConversationID(o.sessionID, stream.SessionID)
	}

	if err := o.fold(stream, placeholderID); err != nil {
		o.finalizeError(placeholderID, userErrorFor(err))
		log.Printf("chat: stream failed: %v", err)
		return nil
	}

	o.tracker.UpdateActivity(o.sessionID)
	o.cache.Save(history.Key(o.selected.ID), o.conv.Snapshot())
	return nil
}

// fold consumes the stream and applies each event to the placeholder. Every
// content delta re-runs the thinking extractor over the whole accumulated
// buffer: reasoning tags can open in one chunk and close many chunks later,
// so per-delta extraction would misclassify text.
func (o *Orchestrator) fold(stream *api.Stream, placeholderID string) error {
	requestStart := time.Now()
	var buf strings.Builder

	for {
		ev, err := stream.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return err
		}

		switch ev.Type {
		case sse.EventContent:
			buf.WriteString(ev.Content)
			res := o.extractor.Extract(buf.String(), requestStart)
			o.conv.Update(placeholderID, func(m *model.Message) {
				m.Content = res.Content
				m.Thinking = res.Thinking
				m.ThinkingTime = res.ThinkingTime
			})
			o.notify()

		case sse.EventToolCalls:
			calls := ev.ToolCalls
			o.conv.Update(placeholderID, func(m *model.Message) {
				m.ToolCalls = calls
			})
			o.notify()

		case sse.EventDone:
			if ev.SessionID != "" {
				o.tracker.SetConversationID(o.sessionID, ev.SessionID)
			}
			sessionID := ev.SessionID
			o.conv.Update(placeholderID, func(m *model.Message) {
				m.IsStreaming = false
				if sessionID != "" {
					m.SessionID = sessionID
				}
			})
			o.notify()

		case sse.EventFinishReason:
			// Informational; the done event carries the state change.
		}
	}

	// Streams that end without an explicit done event still finalize.
	o.conv.Update(placeholderID, func(m *model.Message) {
		m.IsStreaming = false
	})
	o.notify()
	return nil
}

// finalizeError marks the placeholder failed. Accumulated content is rolled
// back: partial output next to an error marker reads as a complete answer.
func (o *Orchestrator) finalizeError(placeholderID, msg string) {
	o.conv.Update(placeholderID, func(m *model.Message) {
		m.IsStreaming = false
		m.Error = msg
		m.Content = ""
		m.Thinking = ""
		m.ThinkingTime = 0
	})
	o.notify()
}

// Clear wipes the transcript, resets the session, and drops the cached
// history for the current model.
func (o *Orchestrator) Clear() {
	o.scope.CancelAll()
	o.conv.Clear()
	if o.sessionID != "" {
		o.tracker.ResetSession(o.sessionID, "manual_clear")
	}
	if o.hasModel {
		o.cache.Clear(history.Key(o.selected.ID))
	}
	o.notify()
}

// Teardown aborts any in-flight stream and stashes the transcript so a
// later orchestrator for the same model can restore it.
func (o *Orchestrator) Teardown() {
	o.scope.Teardown()
	if o.hasModel {
		o.cache.Save(history.Key(o.selected.ID), o.conv.Snapshot())
	}
	if o.sessionID != "" {
		o.tracker.DestroySession(o.sessionID)
	}
}

func (o *Orchestrator) notify() {
	if o.OnUpdate != nil && o.scope.Alive() {
		o.OnUpdate()
	}
}

// userErrorFor maps an error to the string shown on the failed message.
func userErrorFor(err error) string {
	if errors.Is(err, api.ErrRateLimited) {
		return quotaError
	}
	return genericStreamError
}

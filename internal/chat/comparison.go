// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package chat

import (
	"context"
	"errors"
	"io"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/hashicorp/go-multierror"

	"github.com/arenalabs/modelarena/internal/api"
	"github.com/arenalabs/modelarena/internal/history"
	"github.com/arenalabs/modelarena/internal/metrics"
	"github.com/arenalabs/modelarena/internal/model"
	"github.com/arenalabs/modelarena/internal/session"
	"github.com/arenalabs/modelarena/internal/sse"
	"github.com/arenalabs/modelarena/internal/thinking"
)

// Side identifies one column of a comparison.
type Side int

const (
	Left Side = iota
	Right
)

// String returns the side's display name.
func (s Side) String() string {
	if s == Left {
		return "left"
	}
	return "right"
}

// Comparison drives a two-model side-by-side conversation. Each turn runs
// in three phases: comparison init and quota check concurrently, then both
// model streams (plus the optional metrics stream) concurrently, then a
// wait-all join. One side failing never cancels or taints the other.
type Comparison struct {
	client    Streamer
	tracker   *session.Tracker
	cache     *history.Cache
	extractor *thinking.Extractor
	scope     *Scope

	// OnUpdate is called (when set) after either side's transcript changes.
	OnUpdate func(side Side)

	// OnMetrics receives throttled live load-test metrics.
	OnMetrics func(*metrics.LiveMetrics)

	// OnResults receives the final load-test summary.
	OnResults func(*metrics.SpeedTestResults)

	left  model.ChatModel
	right model.ChatModel
	convs [2]*model.Conversation

	hasModels     bool
	sessionID     string
	comparisonID  string
	historyWindow int
	functions     []api.FunctionDefinition

	speedTest        bool
	concurrency      int
	throttleInterval time.Duration
}

// NewComparison wires a comparison orchestrator.
func NewComparison(client Streamer, tracker *session.Tracker, cache *history.Cache, extractor *thinking.Extractor) *Comparison {
	return &Comparison{
		client:           client,
		tracker:          tracker,
		cache:            cache,
		extractor:        extractor,
		scope:            NewScope(),
		convs:            [2]*model.Conversation{model.NewConversation(""), model.NewConversation("")},
		historyWindow:    model.DefaultHistoryWindow,
		throttleInterval: metrics.DefaultThrottleInterval,
	}
}

// WithHistoryWindow overrides how many recent turns are sent to the backend.
func (c *Comparison) WithHistoryWindow(n int) *Comparison {
	if n > 0 {
		c.historyWindow = n
	}
	return c
}

// WithThrottleInterval overrides the minimum spacing of OnMetrics calls.
func (c *Comparison) WithThrottleInterval(d time.Duration) *Comparison {
	if d > 0 {
		c.throttleInterval = d
	}
	return c
}

// SetFunctions sets the tool definitions sent with every request.
func (c *Comparison) SetFunctions(functions []api.FunctionDefinition) {
	c.functions = functions
}

// EnableSpeedTest turns on the load-test metrics stream for subsequent
// turns, with the given request concurrency. Zero disables it.
func (c *Comparison) EnableSpeedTest(concurrency int) {
	c.speedTest = concurrency > 0
	c.concurrency = concurrency
}

// Models returns the current pair.
func (c *Comparison) Models() (left, right model.ChatModel, ok bool) {
	return c.left, c.right, c.hasModels
}

// Messages returns a deep copy of one side's transcript.
func (c *Comparison) Messages(side Side) []*model.Message {
	return c.convs[side].Snapshot()
}

// sideKey scopes a cache entry to one column of an order-independent pair.
func sideKey(leftID, rightID, modelID string) string {
	return history.PairKey(leftID, rightID) + "|" + modelID
}

// SetModels switches the comparison pair. Transcripts are stashed per pair
// and per model, so the same two models in either order restore the same
// columns. Swapping which side a model sits on is still a model change for
// the session (the pair fingerprint is position-sensitive).
func (c *Comparison) SetModels(left, right model.ChatModel) {
	if c.hasModels && c.left.ID == left.ID && c.right.ID == right.ID {
		return
	}
	c.scope.CancelAll()

	if c.hasModels {
		c.cache.Save(sideKey(c.left.ID, c.right.ID, c.left.ID), c.convs[Left].Snapshot())
		c.cache.Save(sideKey(c.left.ID, c.right.ID, c.right.ID), c.convs[Right].Snapshot())
	}

	if c.sessionID == "" {
		s := c.tracker.CreateSession("", left, right)
		c.sessionID = s.ID
	} else {
		d := c.tracker.HandleModelChange(c.sessionID, left, right)
		if d.ShouldReset {
			c.comparisonID = ""
		}
		c.sessionID = d.SessionID
	}

	for side, m := range [2]model.ChatModel{left, right} {
		if cached, ok := c.cache.Get(sideKey(left.ID, right.ID, m.ID)); ok {
			c.convs[side].Replace(cached)
		} else {
			c.convs[side].Clear()
		}
	}

	c.left, c.right = left, right
	c.hasModels = true
	c.notify(Left)
	c.notify(Right)
}

// SendMessage runs one comparison turn. Preconditions not met (no pair,
// blank input) make it a silent no-op. Phase-1 failures (init or quota)
// finalize both placeholders and come back as the returned error. Per-side
// stream failures in phase 2 are isolated: each failing side finalizes its
// own placeholder and the turn still returns nil, except quota exhaustion
// which is surfaced.
func (c *Comparison) SendMessage(ctx context.Context, text string) error {
	text = strings.TrimSpace(text)
	if !c.hasModels || text == "" {
		return nil
	}
	text = model.TruncateOutbound(text)

	c.scope.CancelAll()

	var placeholders [2]string
	for side, m := range [2]model.ChatModel{c.left, c.right} {
		_, placeholders[side] = c.convs[side].AppendExchange(text, m.DisplayName(), c.sessionID)
		c.notify(Side(side))
	}

	ctx, release := c.scope.Register(ctx)
	defer release()

	// Phase 1: init and quota check run concurrently, never serialized.
	initResp, err := c.initAndCheck(ctx)
	if err != nil {
		msg := userErrorFor(err)
		for side := range placeholders {
			c.finalizeError(Side(side), placeholders[side], msg)
		}
		if errors.Is(err, api.ErrRateLimited) {
			return err
		}
		log.Printf("comparison: init failed: %v", err)
		return err
	}
	c.comparisonID = initResp.ComparisonID

	// Phase 2: both model streams, plus metrics when enabled.
	var wg sync.WaitGroup
	sideErrs := [2]error{}
	for side, m := range [2]model.ChatModel{c.left, c.right} {
		wg.Add(1)
		go func(side Side, m model.ChatModel) {
			defer wg.Done()
			sideErrs[side] = c.streamSide(ctx, side, m, placeholders[side])
		}(Side(side), m)
	}
	if c.speedTest {
		wg.Add(1)
		go func() {
			defer wg.Done()
			c.streamMetrics(ctx, text)
		}()
	}

	// Phase 3: wait-all join with failure isolation.
	wg.Wait()

	for side, err := range sideErrs {
		if err == nil {
			continue
		}
		c.finalizeError(Side(side), placeholders[side], userErrorFor(err))
		log.Printf("comparison: %s stream failed: %v", Side(side), err)
	}

	c.tracker.UpdateActivity(c.sessionID)
	c.cache.Save(sideKey(c.left.ID, c.right.ID, c.left.ID), c.convs[Left].Snapshot())
	c.cache.Save(sideKey(c.left.ID, c.right.ID, c.right.ID), c.convs[Right].Snapshot())

	for _, err := range sideErrs {
		if errors.Is(err, api.ErrRateLimited) {
			return err
		}
	}
	return nil
}

// initAndCheck runs the comparison init call and the quota pre-check
// concurrently and joins their failures.
func (c *Comparison) initAndCheck(ctx context.Context) (*api.InitComparisonResponse, error) {
	wire := c.convs[Left].WireHistory(c.historyWindow)

	var (
		wg       sync.WaitGroup
		initResp *api.InitComparisonResponse
		initErr  error
		quotaErr error
	)
	wg.Add(2)
	go func() {
		defer wg.Done()
		initResp, initErr = c.client.InitComparison(ctx, wire, []string{c.left.ID, c.right.ID}, c.functions)
	}()
	go func() {
		defer wg.Done()
		quotaErr = c.client.CheckQuota(ctx)
	}()
	wg.Wait()

	// A soft quota-probe failure (backend blip) does not abort the turn;
	// quota exhaustion does.
	if quotaErr != nil && !errors.Is(quotaErr, api.ErrRateLimited) {
		log.Printf("comparison: quota pre-check failed: %v", quotaErr)
		quotaErr = nil
	}

	var result *multierror.Error
	result = multierror.Append(result, initErr)
	result = multierror.Append(result, quotaErr)
	if err := result.ErrorOrNil(); err != nil {
		// Prefer the quota error as the surfaced cause: it carries the
		// structured remaining-quota metadata.
		if quotaErr != nil {
			return nil, quotaErr
		}
		return nil, err
	}
	return initResp, nil
}

// streamSide opens and folds one model's stream into its placeholder.
func (c *Comparison) streamSide(ctx context.Context, side Side, m model.ChatModel, placeholderID string) error {
	convID := ""
	if s, ok := c.tracker.Get(c.sessionID); ok {
		convID = s.ConversationID
	}

	stream, err := c.client.StreamSingle(ctx, api.SingleChatRequest{
		Messages:            c.convs[side].WireHistory(c.historyWindow),
		ModelKey:            m.ID,
		ConversationID:      convID,
		ComparisonID:        c.comparisonID,
		FunctionDefinitions: c.functions,
	})
	if err != nil {
		return err
	}
	defer stream.Close()

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
			res := c.extractor.Extract(buf.String(), requestStart)
			c.convs[side].Update(placeholderID, func(msg *model.Message) {
				msg.Content = res.Content
				msg.Thinking = res.Thinking
				msg.ThinkingTime = res.ThinkingTime
			})
			c.notify(side)

		case sse.EventToolCalls:
			calls := ev.ToolCalls
			c.convs[side].Update(placeholderID, func(msg *model.Message) {
				msg.ToolCalls = calls
			})
			c.notify(side)

		case sse.EventDone:
			sessionID := ev.SessionID
			if sessionID != "" {
				c.tracker.SetConversationID(c.sessionID, sessionID)
			}
			c.convs[side].Update(placeholderID, func(msg *model.Message) {
				msg.IsStreaming = false
				if sessionID != "" {
					msg.SessionID = sessionID
				}
			})
			c.notify(side)
		}
	}

	c.convs[side].Update(placeholderID, func(msg *model.Message) {
		msg.IsStreaming = false
	})
	c.notify(side)
	return nil
}

// streamMetrics consumes the load-test stream, throttling live updates and
// always delivering the final summary. Metrics failures never fail the
// comparison turn.
func (c *Comparison) streamMetrics(ctx context.Context, prompt string) {
	stream, err := c.client.StreamMetrics(ctx, api.MetricsRequest{
		ModelKeys:    []string{c.left.ID, c.right.ID},
		ComparisonID: c.comparisonID,
		Concurrency:  c.concurrency,
		Prompt:       prompt,
	})
	if err != nil {
		log.Printf("comparison: metrics stream open failed: %v", err)
		return
	}
	defer stream.Close()

	throttle := metrics.NewThrottle(c.throttleInterval)

	for {
		ev, err := stream.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			log.Printf("comparison: metrics stream failed: %v", err)
			break
		}

		switch ev.Type {
		case sse.EventLiveMetrics:
			if m := throttle.Offer(ev.Metrics); m != nil && c.OnMetrics != nil && c.scope.Alive() {
				c.OnMetrics(m)
			}

		case sse.EventSpeedTestResults:
			// Deliver any update the throttle was holding before the final
			// summary so the last live numbers are never dropped.
			if m := throttle.Flush(); m != nil && c.OnMetrics != nil && c.scope.Alive() {
				c.OnMetrics(m)
			}
			if c.OnResults != nil && c.scope.Alive() {
				c.OnResults(ev.Results)
			}
		}
	}

	if m := throttle.Flush(); m != nil && c.OnMetrics != nil && c.scope.Alive() {
		c.OnMetrics(m)
	}
}

// finalizeError marks one side's placeholder failed and rolls its content
// back.
func (c *Comparison) finalizeError(side Side, placeholderID, msg string) {
	c.convs[side].Update(placeholderID, func(m *model.Message) {
		m.IsStreaming = false
		m.Error = msg
		m.Content = ""
		m.Thinking = ""
		m.ThinkingTime = 0
	})
	c.notify(side)
}

// Clear wipes both transcripts, resets the session, and drops the pair's
// cached history.
func (c *Comparison) Clear() {
	c.scope.CancelAll()
	for side := range c.convs {
		c.convs[side].Clear()
		c.notify(Side(side))
	}
	c.comparisonID = ""
	if c.sessionID != "" {
		c.tracker.ResetSession(c.sessionID, "manual_clear")
	}
	if c.hasModels {
		c.cache.Clear(sideKey(c.left.ID, c.right.ID, c.left.ID))
		c.cache.Clear(sideKey(c.left.ID, c.right.ID, c.right.ID))
	}
}

// Teardown aborts any in-flight streams and stashes both transcripts.
func (c *Comparison) Teardown() {
	c.scope.Teardown()
	if c.hasModels {
		c.cache.Save(sideKey(c.left.ID, c.right.ID, c.left.ID), c.convs[Left].Snapshot())
		c.cache.Save(sideKey(c.left.ID, c.right.ID, c.right.ID), c.convs[Right].Snapshot())
	}
	if c.sessionID != "" {
		c.tracker.DestroySession(c.sessionID)
	}
}

func (c *Comparison) notify(side Side) {
	if c.OnUpdate != nil && c.scope.Alive() {
		c.OnUpdate(side)
	}
}

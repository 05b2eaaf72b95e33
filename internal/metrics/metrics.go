// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package metrics carries the live throughput payloads emitted by the
// backend's speed-test stream.
package metrics

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// =============================================================================
// WIRE TYPES
// =============================================================================

// LiveMetrics is an in-flight snapshot of the concurrent load test, pushed
// repeatedly while requests complete. Last write wins; TTFT values arrive in
// milliseconds.
type LiveMetrics struct {
	Model1CompletedRequests int     `json:"model1_completed_requests"`
	Model2CompletedRequests int     `json:"model2_completed_requests"`
	TotalRequests           int     `json:"total_requests"`
	Model1LiveTPS           float64 `json:"model1_live_tps"`
	Model2LiveTPS           float64 `json:"model2_live_tps"`
	Model1LiveTTFT          float64 `json:"model1_live_ttft"`
	Model2LiveTTFT          float64 `json:"model2_live_ttft"`
	Model1LiveRPS           float64 `json:"model1_live_rps"`
	Model2LiveRPS           float64 `json:"model2_live_rps"`
}

// SpeedTestResults is the final aggregate the backend emits once the load
// test settles. Times are milliseconds.
type SpeedTestResults struct {
	Model1TPS               float64   `json:"model1_tps"`
	Model2TPS               float64   `json:"model2_tps"`
	Model1RPS               float64   `json:"model1_rps"`
	Model2RPS               float64   `json:"model2_rps"`
	Model1TTFT              float64   `json:"model1_ttft"`
	Model2TTFT              float64   `json:"model2_ttft"`
	Model1Times             []float64 `json:"model1_times"`
	Model2Times             []float64 `json:"model2_times"`
	Concurrency             int       `json:"concurrency"`
	Model1AggregateTPS      float64   `json:"model1_aggregate_tps"`
	Model2AggregateTPS      float64   `json:"model2_aggregate_tps"`
	Model1CompletedRequests int       `json:"model1_completed_requests"`
	Model2CompletedRequests int       `json:"model2_completed_requests"`
	TotalRequests           int       `json:"total_requests"`
	Model1TotalTime         float64   `json:"model1_total_time"`
	Model2TotalTime         float64   `json:"model2_total_time"`
}

// =============================================================================
// UPDATE THROTTLE
// =============================================================================

// DefaultThrottleInterval bounds re-render pressure from live metric pushes.
const DefaultThrottleInterval = 50 * time.Millisecond

// Throttle gates rapid metric updates to a minimum interval. Updates that
// arrive too fast are stashed rather than lost, so a final Flush always
// yields the newest dropped snapshot.
type Throttle struct {
	mu      sync.Mutex
	limiter *rate.Limiter
	pending *LiveMetrics
}

// NewThrottle creates a throttle with the given minimum interval between
// delivered updates. Non-positive intervals fall back to the default.
func NewThrottle(minInterval time.Duration) *Throttle {
	if minInterval <= 0 {
		minInterval = DefaultThrottleInterval
	}
	return &Throttle{
		limiter: rate.NewLimiter(rate.Every(minInterval), 1),
	}
}

// Offer returns the snapshot if it should be delivered now, or nil if it was
// throttled and stashed for a later Flush.
func (t *Throttle) Offer(m *LiveMetrics) *LiveMetrics {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.limiter.Allow() {
		t.pending = nil
		return m
	}
	t.pending = m
	return nil
}

// Flush returns the most recent throttled snapshot, if any, and clears it.
func (t *Throttle) Flush() *LiveMetrics {
	t.mu.Lock()
	defer t.mu.Unlock()

	p := t.pending
	t.pending = nil
	return p
}

// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package thinking splits an accumulated token stream into model reasoning
// and user-visible answer text.
//
// Reasoning models emit their chain of thought between <think> and </think>
// markers, interleaved into the same token stream as the answer. Extraction
// is re-run over the full accumulated buffer on every content delta, so a
// marker split across two chunks resolves itself on the next call.
package thinking

import (
	"strings"
	"time"
)

const (
	openTag  = "<think>"
	closeTag = "</think>"

	// DefaultCharsPerSec is the reading-rate heuristic used to estimate
	// reasoning time while the stream is still in flight. Placeholder
	// approximation, kept configurable rather than measured.
	DefaultCharsPerSec = 150.0

	// MinEstimateSecs floors the heuristic estimate.
	MinEstimateSecs = 0.5
)

// Result is the outcome of one extraction pass.
type Result struct {
	// Thinking is the reasoning text, trimmed. Empty when the stream has
	// no thinking markers.
	Thinking string

	// Content is the user-visible answer text.
	Content string

	// ThinkingTime is the reasoning duration in seconds. Measured from the
	// request start once visible content follows the thinking block,
	// otherwise estimated from the reasoning length.
	ThinkingTime float64

	// Estimated is true while ThinkingTime is the length-based heuristic.
	Estimated bool
}

// Extractor holds the estimate rate. The zero value uses defaults.
type Extractor struct {
	// CharsPerSec overrides DefaultCharsPerSec when positive.
	CharsPerSec float64
}

// New returns an extractor with the default rate.
func New() *Extractor {
	return &Extractor{CharsPerSec: DefaultCharsPerSec}
}

// Extract derives reasoning and answer text from the full accumulated
// buffer. It is pure and idempotent: calling it repeatedly on a growing
// buffer gives the same final result as a single call on the full text.
func (e *Extractor) Extract(text string, requestStart time.Time) Result {
	open := strings.Index(text, openTag)
	if open < 0 {
		return Result{Content: text}
	}

	inner := text[open+len(openTag):]
	if close := strings.Index(inner, closeTag); close >= 0 {
		thinking := strings.TrimSpace(inner[:close])
		content := strings.TrimSpace(text[:open] + inner[close+len(closeTag):])

		// Visible content after the block signals reasoning finished, so
		// wall-clock elapsed time is meaningful.
		if content != "" && !requestStart.IsZero() {
			return Result{
				Thinking:     thinking,
				Content:      content,
				ThinkingTime: time.Since(requestStart).Seconds(),
			}
		}
		return Result{
			Thinking:     thinking,
			Content:      content,
			ThinkingTime: e.estimate(thinking),
			Estimated:    true,
		}
	}

	// Unclosed tag: everything after it is in-progress reasoning.
	thinking := strings.TrimSpace(inner)
	return Result{
		Thinking:     thinking,
		Content:      strings.TrimSpace(text[:open]),
		ThinkingTime: e.estimate(thinking),
		Estimated:    true,
	}
}

// estimate converts reasoning length to seconds at the configured rate.
func (e *Extractor) estimate(thinking string) float64 {
	rate := e.CharsPerSec
	if rate <= 0 {
		rate = DefaultCharsPerSec
	}
	secs := float64(len(thinking)) / rate
	if secs < MinEstimateSecs {
		return MinEstimateSecs
	}
	return secs
}

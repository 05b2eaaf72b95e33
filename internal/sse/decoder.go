// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package sse decodes the backend's newline-delimited event stream into
// typed events.
//
// Framing: each event is one line prefixed "data: " carrying a JSON payload
// with a required "type" discriminator; the sentinel line "data: [DONE]"
// terminates the sequence. The decoder buffers partial lines across reads,
// so chunk boundaries may split a line (or a multibyte character) anywhere
// without changing the decoded sequence.
package sse

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"log"

	"github.com/arenalabs/modelarena/internal/metrics"
	"github.com/arenalabs/modelarena/internal/model"
)

// MaxEventSize is the largest accepted event line (64KB). Oversized lines
// are dropped, not fatal.
const MaxEventSize = 64 * 1024

// =============================================================================
// EVENT TYPES
// =============================================================================

// EventType discriminates decoded events.
type EventType string

const (
	EventContent          EventType = "content"
	EventToolCalls        EventType = "tool_calls"
	EventFinishReason     EventType = "finish_reason"
	EventDone             EventType = "done"
	EventError            EventType = "error"
	EventLiveMetrics      EventType = "live_metrics"
	EventSpeedTestResults EventType = "speed_test_results"

	// The metrics endpoint reports benchmark failure under its own type;
	// the decoder normalizes it to EventError.
	eventSpeedTestError EventType = "speed_test_error"
)

// Event is one decoded server event. Only the fields matching Type are set.
type Event struct {
	Type EventType `json:"type"`

	Content      string               `json:"content,omitempty"`
	ToolCalls    []model.FunctionCall `json:"tool_calls,omitempty"`
	FinishReason string               `json:"finish_reason,omitempty"`

	// SessionID rides on done events so the client can adopt the backend's
	// conversation correlation id.
	SessionID string `json:"session_id,omitempty"`

	Error string `json:"error,omitempty"`

	Metrics *metrics.LiveMetrics      `json:"metrics,omitempty"`
	Results *metrics.SpeedTestResults `json:"results,omitempty"`
}

// StreamError is the typed failure raised when the backend emits an
// error event mid-stream.
type StreamError struct {
	Message string
}

// Error implements the error interface.
func (e *StreamError) Error() string {
	return fmt.Sprintf("stream error: %s", e.Message)
}

// =============================================================================
// DECODER
// =============================================================================

// Decoder turns a byte stream into an ordered, lazy, single-pass sequence of
// events. It is not restartable: once Next returns a terminal error the
// sequence is over.
type Decoder struct {
	reader *bufio.Reader
	done   bool
}

// NewDecoder creates a decoder reading from r.
func NewDecoder(r io.Reader) *Decoder {
	return &Decoder{reader: bufio.NewReader(r)}
}

// Next returns the next decoded event.
//
// It returns io.EOF when the stream ends or the [DONE] sentinel arrives, and
// a *StreamError alongside the error event when the backend reports failure.
// Malformed lines are logged and skipped, never fatal. No line is parsed
// until a full line has been assembled, so partial UTF-8 sequences are never
// decoded.
func (d *Decoder) Next() (Event, error) {
	if d.done {
		return Event{}, io.EOF
	}

	for {
		line, err := d.reader.ReadBytes('\n')
		if err != nil {
			if err == io.EOF {
				// A non-empty remainder is a complete line: the stream
				// ending is what terminated it.
				if ev, ok, evErr := d.decodeLine(line); ok || evErr != nil {
					return ev, evErr
				}
				d.done = true
				return Event{}, io.EOF
			}
			d.done = true
			return Event{}, fmt.Errorf("stream read failed: %w", err)
		}

		if ev, ok, evErr := d.decodeLine(line); ok || evErr != nil {
			return ev, evErr
		}
		if d.done {
			return Event{}, io.EOF
		}
	}
}

// decodeLine parses one framed line. ok is false for blank, non-data,
// oversized and malformed lines, which are all skipped.
func (d *Decoder) decodeLine(line []byte) (Event, bool, error) {
	line = bytes.TrimRight(line, "\r\n")
	if len(line) == 0 {
		return Event{}, false, nil
	}

	var payload []byte
	switch {
	case bytes.HasPrefix(line, []byte("data: ")):
		payload = line[6:]
	case bytes.HasPrefix(line, []byte("data:")):
		payload = bytes.TrimSpace(line[5:])
	default:
		// Ignore other SSE fields (event:, id:, retry:, comments).
		return Event{}, false, nil
	}

	if bytes.Equal(payload, []byte("[DONE]")) {
		d.done = true
		return Event{}, false, nil
	}

	if len(payload) > MaxEventSize {
		log.Printf("sse: dropping oversized event (%d bytes)", len(payload))
		return Event{}, false, nil
	}

	var ev Event
	if err := json.Unmarshal(payload, &ev); err != nil {
		log.Printf("sse: skipping malformed event: %v", err)
		return Event{}, false, nil
	}

	if ev.Type == eventSpeedTestError {
		ev.Type = EventError
	}
	if ev.Type == EventError {
		d.done = true
		return ev, true, &StreamError{Message: ev.Error}
	}

	return ev, true, nil
}

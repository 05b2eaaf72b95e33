// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package sse

import (
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// chunkReader yields the input in fixed-size chunks to exercise partial-line
// buffering.
type chunkReader struct {
	data []byte
	size int
	pos  int
}

func (r *chunkReader) Read(p []byte) (int, error) {
	if r.pos >= len(r.data) {
		return 0, io.EOF
	}
	end := r.pos + r.size
	if end > len(r.data) {
		end = len(r.data)
	}
	n := copy(p, r.data[r.pos:end])
	r.pos += n
	return n, nil
}

func collect(t *testing.T, d *Decoder) []Event {
	t.Helper()
	var events []Event
	for {
		ev, err := d.Next()
		if err == io.EOF {
			return events
		}
		require.NoError(t, err)
		events = append(events, ev)
	}
}

func TestDecodeSequence(t *testing.T) {
	input := "data: {\"type\": \"content\", \"content\": \"Hel\"}\n" +
		"data: {\"type\": \"content\", \"content\": \"lo\"}\n" +
		"data: {\"type\": \"finish_reason\", \"finish_reason\": \"stop\"}\n" +
		"data: {\"type\": \"done\", \"session_id\": \"sess_9\"}\n" +
		"data: [DONE]\n"

	events := collect(t, NewDecoder(strings.NewReader(input)))
	require.Len(t, events, 4)
	assert.Equal(t, EventContent, events[0].Type)
	assert.Equal(t, "Hel", events[0].Content)
	assert.Equal(t, "lo", events[1].Content)
	assert.Equal(t, EventFinishReason, events[2].Type)
	assert.Equal(t, "stop", events[2].FinishReason)
	assert.Equal(t, EventDone, events[3].Type)
	assert.Equal(t, "sess_9", events[3].SessionID)
}

func TestDoneSentinelStops(t *testing.T) {
	input := "data: [DONE]\n" +
		"data: {\"type\": \"content\", \"content\": \"after\"}\n"

	d := NewDecoder(strings.NewReader(input))
	_, err := d.Next()
	assert.Equal(t, io.EOF, err)

	// The decoder stays terminated.
	_, err = d.Next()
	assert.Equal(t, io.EOF, err)
}

// Chunk boundaries must be invisible: any chunk size yields the identical
// event sequence, including sizes that split a multibyte character.
func TestChunkedDelivery(t *testing.T) {
	input := "data: {\"type\": \"content\", \"content\": \"héllo wörld 日本語\"}\n" +
		"data: {\"type\": \"done\"}\n" +
		"data: [DONE]\n"

	for _, size := range []int{1, 2, 3, 7, 16, len(input)} {
		d := NewDecoder(&chunkReader{data: []byte(input), size: size})
		events := collect(t, d)
		require.Len(t, events, 2, "chunk size %d", size)
		assert.Equal(t, "héllo wörld 日本語", events[0].Content, "chunk size %d", size)
	}
}

func TestMalformedLinesSkipped(t *testing.T) {
	input := "data: {not valid json\n" +
		"data: {\"type\": \"content\", \"content\": \"ok\"}\n" +
		"garbage without prefix\n" +
		": comment line\n" +
		"data: {\"type\": \"done\"}\n" +
		"data: [DONE]\n"

	events := collect(t, NewDecoder(strings.NewReader(input)))
	require.Len(t, events, 2)
	assert.Equal(t, "ok", events[0].Content)
	assert.Equal(t, EventDone, events[1].Type)
}

func TestCRLFLines(t *testing.T) {
	input := "data: {\"type\": \"content\", \"content\": \"ok\"}\r\n" +
		"data: [DONE]\r\n"

	events := collect(t, NewDecoder(strings.NewReader(input)))
	require.Len(t, events, 1)
	assert.Equal(t, "ok", events[0].Content)
}

func TestErrorEvent(t *testing.T) {
	input := "data: {\"type\": \"content\", \"content\": \"a\"}\n" +
		"data: {\"type\": \"error\", \"error\": \"model crashed\"}\n"

	d := NewDecoder(strings.NewReader(input))
	ev, err := d.Next()
	require.NoError(t, err)
	assert.Equal(t, "a", ev.Content)

	ev, err = d.Next()
	require.Error(t, err)
	var se *StreamError
	require.True(t, errors.As(err, &se))
	assert.Equal(t, "model crashed", se.Message)
	assert.Equal(t, EventError, ev.Type)

	// Terminal: nothing after an error event.
	_, err = d.Next()
	assert.Equal(t, io.EOF, err)
}

func TestSpeedTestErrorNormalized(t *testing.T) {
	input := "data: {\"type\": \"speed_test_error\", \"error\": \"benchmark failed\"}\n"

	d := NewDecoder(strings.NewReader(input))
	ev, err := d.Next()
	require.Error(t, err)
	var se *StreamError
	require.True(t, errors.As(err, &se))
	assert.Equal(t, EventError, ev.Type)
	assert.Equal(t, "benchmark failed", ev.Error)
}

func TestFinalLineWithoutNewline(t *testing.T) {
	// Stream cut off mid-flight: the last complete line still decodes.
	input := "data: {\"type\": \"content\", \"content\": \"ok\"}"

	d := NewDecoder(strings.NewReader(input))
	ev, err := d.Next()
	require.NoError(t, err)
	assert.Equal(t, "ok", ev.Content)

	_, err = d.Next()
	assert.Equal(t, io.EOF, err)
}

func TestToolCallEvents(t *testing.T) {
	input := `data: {"type": "tool_calls", "tool_calls": [{"id": "c1", "name": "get_weather", "arguments": {"city": "Oslo"}, "status": "calling"}]}` + "\n" +
		"data: [DONE]\n"

	events := collect(t, NewDecoder(strings.NewReader(input)))
	require.Len(t, events, 1)
	require.Len(t, events[0].ToolCalls, 1)
	call := events[0].ToolCalls[0]
	assert.Equal(t, "c1", call.ID)
	assert.Equal(t, "get_weather", call.Name)
	assert.JSONEq(t, `{"city": "Oslo"}`, string(call.Arguments))
}

func TestOversizedEventDropped(t *testing.T) {
	huge := strings.Repeat("x", MaxEventSize+1)
	input := "data: {\"type\": \"content\", \"content\": \"" + huge + "\"}\n" +
		"data: {\"type\": \"content\", \"content\": \"small\"}\n" +
		"data: [DONE]\n"

	events := collect(t, NewDecoder(strings.NewReader(input)))
	require.Len(t, events, 1)
	assert.Equal(t, "small", events[0].Content)
}

func TestEmptyStream(t *testing.T) {
	d := NewDecoder(strings.NewReader(""))
	_, err := d.Next()
	assert.Equal(t, io.EOF, err)
}

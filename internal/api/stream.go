// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/arenalabs/modelarena/internal/model"
	"github.com/arenalabs/modelarena/internal/sse"
)

// Correlation headers returned on streaming responses.
const (
	headerSessionID    = "X-Session-ID"
	headerComparisonID = "X-Comparison-ID"
)

// FunctionDefinition describes a tool the model may call, in the backend's
// free-form JSON-schema shape.
type FunctionDefinition map[string]any

// SingleChatRequest is the payload for the single-model streaming endpoint.
type SingleChatRequest struct {
	Messages            []model.ChatMessage  `json:"messages"`
	ModelKey            string               `json:"model_key"`
	ConversationID      string               `json:"conversation_id,omitempty"`
	ComparisonID        string               `json:"comparison_id,omitempty"`
	FunctionDefinitions []FunctionDefinition `json:"function_definitions,omitempty"`
}

// MetricsRequest is the payload for the load-test metrics streaming endpoint.
type MetricsRequest struct {
	ModelKeys    []string `json:"model_keys"`
	ComparisonID string   `json:"comparison_id,omitempty"`
	Concurrency  int      `json:"concurrency,omitempty"`
	Prompt       string   `json:"prompt,omitempty"`
}

// Stream is an open SSE response. Callers must Close it; closing releases
// the underlying connection even mid-stream.
type Stream struct {
	// SessionID is the backend's session correlation header, when present.
	SessionID string

	// ComparisonID is the backend's comparison correlation header, when
	// present.
	ComparisonID string

	dec  *sse.Decoder
	body interface{ Close() error }
}

// Next returns the next decoded event. It returns io.EOF after the [DONE]
// sentinel or when the connection ends.
func (s *Stream) Next() (sse.Event, error) {
	return s.dec.Next()
}

// Close releases the underlying response body.
func (s *Stream) Close() error {
	return s.body.Close()
}

// openStream POSTs the payload and hands back the response wrapped in a
// decoder. The streaming client has no timeout; lifetime is bound to ctx.
func (c *Client) openStream(ctx context.Context, path string, payload any) (*Stream, error) {
	bodyBytes, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(bodyBytes))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	c.setHeaders(req)
	req.Header.Set("Accept", "text/event-stream")

	resp, err := sharedStreamingClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		body, readErr := readResponse(resp)
		resp.Body.Close()
		if readErr != nil {
			return nil, &APIError{Status: resp.StatusCode}
		}
		return nil, handleErrorResponse(resp, body)
	}

	return &Stream{
		SessionID:    resp.Header.Get(headerSessionID),
		ComparisonID: resp.Header.Get(headerComparisonID),
		dec:          sse.NewDecoder(resp.Body),
		body:         resp.Body,
	}, nil
}

// StreamSingle opens a single-model chat stream. The returned stream's
// SessionID carries the backend's session assignment for this turn.
func (c *Client) StreamSingle(ctx context.Context, req SingleChatRequest) (*Stream, error) {
	if req.ModelKey == "" {
		return nil, &APIError{Status: http.StatusBadRequest, Detail: "model_key is required"}
	}
	return c.openStream(ctx, "/chat/single", req)
}

// StreamMetrics opens a load-test metrics stream for a comparison pair. The
// backend emits throttle-worthy live_metrics events followed by a final
// speed_test_results event.
func (c *Client) StreamMetrics(ctx context.Context, req MetricsRequest) (*Stream, error) {
	if len(req.ModelKeys) == 0 {
		return nil, &APIError{Status: http.StatusBadRequest, Detail: "model_keys is required"}
	}
	return c.openStream(ctx, "/chat/metrics", req)
}

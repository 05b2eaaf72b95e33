// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package api

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arenalabs/modelarena/internal/model"
	"github.com/arenalabs/modelarena/internal/sse"
)

func TestListModels(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		assert.Equal(t, "/models", r.URL.Path)
		fmt.Fprint(w, `{"models": {
			"llama-v3": {"title": "Llama v3", "supportsTools": true, "provider": "fireworks", "contextLength": 8192},
			"qwen3": {"display_name": "Qwen 3", "function_calling": false}
		}}`)
	}))
	defer srv.Close()

	c := NewClient("").WithBaseURL(srv.URL)
	models, err := c.ListModels(context.Background())
	require.NoError(t, err)
	require.Len(t, models, 2)

	// Sorted by id.
	assert.Equal(t, "llama-v3", models[0].ID)
	assert.Equal(t, "Llama v3", models[0].Name)
	assert.True(t, models[0].SupportsFunctionCalling)
	assert.Equal(t, "qwen3", models[1].ID)
	assert.Equal(t, "Qwen 3", models[1].Name)
}

func TestAuthHeader(t *testing.T) {
	var gotAuth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		fmt.Fprint(w, `{"models": {}}`)
	}))
	defer srv.Close()

	c := NewClient("fw-test-key").WithBaseURL(srv.URL)
	_, err := c.ListModels(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "Bearer fw-test-key", gotAuth)
}

func TestRateLimitError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-RateLimit-Limit-IP", "20")
		w.Header().Set("X-RateLimit-Remaining-IP", "0")
		w.Header().Set("X-RateLimit-Limit-Prefix", "60")
		w.Header().Set("X-RateLimit-Remaining-Prefix", "12")
		w.WriteHeader(http.StatusTooManyRequests)
		fmt.Fprint(w, `{"detail": "Rate limit exceeded"}`)
	}))
	defer srv.Close()

	c := NewClient("").WithBaseURL(srv.URL)
	err := c.CheckQuota(context.Background())
	require.Error(t, err)

	var rle *RateLimitError
	require.True(t, errors.As(err, &rle))
	assert.True(t, errors.Is(err, ErrRateLimited))
	assert.Equal(t, "Rate limit exceeded", rle.Detail)
	assert.Equal(t, 20, rle.IPLimit)
	assert.Equal(t, 0, rle.IPRemaining)
	assert.Equal(t, 60, rle.PrefixLimit)
	assert.True(t, rle.Exhausted())
}

func TestAPIErrorDetail(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		fmt.Fprint(w, `{"detail": "Maximum number of messages reached"}`)
	}))
	defer srv.Close()

	c := NewClient("").WithBaseURL(srv.URL)
	_, err := c.InitComparison(context.Background(), nil, []string{"a", "b"}, nil)
	require.Error(t, err)

	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusBadRequest, apiErr.Status)
	assert.Contains(t, apiErr.Error(), "Maximum number of messages reached")
}

func TestRetryOn5xx(t *testing.T) {
	attempts := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts++
		if attempts < 2 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		fmt.Fprint(w, `{"models": {}}`)
	}))
	defer srv.Close()

	c := NewClient("").WithBaseURL(srv.URL)
	_, err := c.ListModels(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, attempts)
}

func TestNoRetryOn4xx(t *testing.T) {
	attempts := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts++
		w.WriteHeader(http.StatusUnauthorized)
		fmt.Fprint(w, `{"detail": "bad key"}`)
	}))
	defer srv.Close()

	c := NewClient("wrong").WithBaseURL(srv.URL)
	_, err := c.ListModels(context.Background())
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrAuthFailed))
	assert.Equal(t, 1, attempts)
}

func TestInitComparison(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/chat/compare/init", r.URL.Path)
		body, _ := io.ReadAll(r.Body)
		assert.Contains(t, string(body), `"model_keys":["llama-v3","qwen3"]`)
		fmt.Fprint(w, `{"comparison_id": "cmp_abc123", "model_keys": ["llama-v3", "qwen3"], "status": "initialized"}`)
	}))
	defer srv.Close()

	c := NewClient("").WithBaseURL(srv.URL)
	resp, err := c.InitComparison(context.Background(),
		[]model.ChatMessage{{Role: "user", Content: "hello"}},
		[]string{"llama-v3", "qwen3"}, nil)
	require.NoError(t, err)
	assert.Equal(t, "cmp_abc123", resp.ComparisonID)
	assert.Equal(t, "initialized", resp.Status)
}

func TestInitComparisonMissingID(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"status": "initialized"}`)
	}))
	defer srv.Close()

	c := NewClient("").WithBaseURL(srv.URL)
	_, err := c.InitComparison(context.Background(), nil, []string{"a", "b"}, nil)
	assert.Error(t, err)
}

func TestStreamSingle(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/chat/single", r.URL.Path)
		assert.Equal(t, "text/event-stream", r.Header.Get("Accept"))
		body, _ := io.ReadAll(r.Body)
		assert.Contains(t, string(body), `"model_key":"llama-v3"`)

		w.Header().Set("X-Session-ID", "sess_42")
		w.Header().Set("X-Comparison-ID", "cmp_7")
		fmt.Fprint(w, "data: {\"type\": \"content\", \"content\": \"Hello\"}\n")
		fmt.Fprint(w, "data: {\"type\": \"content\", \"content\": \" world\"}\n")
		fmt.Fprint(w, "data: {\"type\": \"done\", \"session_id\": \"sess_42\"}\n")
		fmt.Fprint(w, "data: [DONE]\n")
	}))
	defer srv.Close()

	c := NewClient("").WithBaseURL(srv.URL)
	stream, err := c.StreamSingle(context.Background(), SingleChatRequest{
		Messages: []model.ChatMessage{{Role: "user", Content: "hi"}},
		ModelKey: "llama-v3",
	})
	require.NoError(t, err)
	defer stream.Close()

	assert.Equal(t, "sess_42", stream.SessionID)
	assert.Equal(t, "cmp_7", stream.ComparisonID)

	var contents []string
	for {
		ev, err := stream.Next()
		if err == io.EOF {
			break
		}
		require.NoError(t, err)
		if ev.Type == sse.EventContent {
			contents = append(contents, ev.Content)
		}
	}
	assert.Equal(t, []string{"Hello", " world"}, contents)
}

func TestStreamSingleRequiresModel(t *testing.T) {
	c := NewClient("")
	_, err := c.StreamSingle(context.Background(), SingleChatRequest{})
	assert.Error(t, err)
}

func TestStreamErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-RateLimit-Remaining-IP", "0")
		w.WriteHeader(http.StatusTooManyRequests)
		fmt.Fprint(w, `{"detail": "Rate limit exceeded"}`)
	}))
	defer srv.Close()

	c := NewClient("").WithBaseURL(srv.URL)
	_, err := c.StreamSingle(context.Background(), SingleChatRequest{ModelKey: "llama-v3"})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrRateLimited))
}

func TestStreamMetrics(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/chat/metrics", r.URL.Path)
		fmt.Fprint(w, "data: {\"type\": \"live_metrics\", \"metrics\": {\"model1_completed_requests\": 3, \"total_requests\": 10}}\n")
		fmt.Fprint(w, "data: {\"type\": \"speed_test_results\", \"results\": {\"model1_tps\": 42.5, \"concurrency\": 4}}\n")
		fmt.Fprint(w, "data: [DONE]\n")
	}))
	defer srv.Close()

	c := NewClient("").WithBaseURL(srv.URL)
	stream, err := c.StreamMetrics(context.Background(), MetricsRequest{
		ModelKeys:    []string{"llama-v3", "qwen3"},
		ComparisonID: "cmp_1",
		Concurrency:  4,
	})
	require.NoError(t, err)
	defer stream.Close()

	ev, err := stream.Next()
	require.NoError(t, err)
	require.Equal(t, sse.EventLiveMetrics, ev.Type)
	require.NotNil(t, ev.Metrics)
	assert.Equal(t, 3, ev.Metrics.Model1CompletedRequests)

	ev, err = stream.Next()
	require.NoError(t, err)
	require.Equal(t, sse.EventSpeedTestResults, ev.Type)
	require.NotNil(t, ev.Results)
	assert.InDelta(t, 42.5, ev.Results.Model1TPS, 0.001)

	_, err = stream.Next()
	assert.Equal(t, io.EOF, err)
}

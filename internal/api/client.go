// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package api implements the HTTP client for the model-comparison backend.
//
// The backend exposes a small REST surface (model catalog, comparison init)
// plus SSE streaming endpoints for chat and load-test metrics. Non-2xx
// responses carry a JSON {"detail": ...} body; 429 responses additionally
// carry dual-layer quota headers (per-IP and per-IP-prefix).
package api

import (
	"bytes"
	"context"
	"crypto/sha256"
	"crypto/tls"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/arenalabs/modelarena/internal/model"
)

// Configuration constants for the backend API.
const (
	// DefaultBaseURL is the base URL for the comparison backend.
	DefaultBaseURL = "http://localhost:8000"

	// DefaultTimeout is the default timeout for non-streaming requests.
	DefaultTimeout = 30 * time.Second

	// DefaultMaxRetries is the default number of retry attempts for
	// transient errors on non-streaming requests.
	DefaultMaxRetries = 3

	// retryBaseDelay is the base delay for exponential backoff.
	retryBaseDelay = 500 * time.Millisecond

	// retryMaxDelay is the maximum delay for exponential backoff.
	retryMaxDelay = 10 * time.Second

	// MaxResponseSize is the maximum allowed non-streaming response body size.
	MaxResponseSize = 10 * 1024 * 1024 // 10MB limit
)

// Rate-limit headers returned on 429 responses.
const (
	headerIPLimit         = "X-RateLimit-Limit-IP"
	headerIPRemaining     = "X-RateLimit-Remaining-IP"
	headerPrefixLimit     = "X-RateLimit-Limit-Prefix"
	headerPrefixRemaining = "X-RateLimit-Remaining-Prefix"
)

var (
	// Shared HTTP client with connection pooling for all non-streaming
	// requests.
	sharedHTTPClient = &http.Client{
		Transport: &http.Transport{
			MaxIdleConns:        100,
			MaxIdleConnsPerHost: 10,
			IdleConnTimeout:     90 * time.Second,
			TLSHandshakeTimeout: 10 * time.Second,
			TLSClientConfig: &tls.Config{
				MinVersion: tls.VersionTLS12,
			},
		},
		Timeout: DefaultTimeout,
	}

	// sharedStreamingClient is used for SSE requests (no timeout,
	// context-controlled).
	sharedStreamingClient = &http.Client{
		Transport: &http.Transport{
			MaxIdleConns:        100,
			MaxIdleConnsPerHost: 10,
			IdleConnTimeout:     90 * time.Second,
			TLSHandshakeTimeout: 10 * time.Second,
			TLSClientConfig: &tls.Config{
				MinVersion: tls.VersionTLS12,
			},
		},
		// No timeout for streaming - controlled via context.
	}
)

// errorResponse is the backend's non-2xx JSON body.
type errorResponse struct {
	Detail string `json:"detail"`
}

// InitComparisonResponse is the backend's answer to a comparison init call.
type InitComparisonResponse struct {
	ComparisonID string   `json:"comparison_id"`
	ModelKeys    []string `json:"model_keys"`
	Status       string   `json:"status"`
}

// Client communicates with the comparison backend.
type Client struct {
	apiKey     string
	baseURL    string
	timeout    time.Duration
	maxRetries int
}

// NewClient creates a backend client. An empty API key is allowed; requests
// are simply sent unauthenticated and the backend's quota layer decides.
func NewClient(apiKey string) *Client {
	return &Client{
		apiKey:     strings.TrimSpace(apiKey),
		baseURL:    DefaultBaseURL,
		timeout:    DefaultTimeout,
		maxRetries: DefaultMaxRetries,
	}
}

// WithBaseURL sets a custom base URL for the backend.
func (c *Client) WithBaseURL(url string) *Client {
	c.baseURL = strings.TrimSuffix(url, "/")
	return c
}

// WithTimeout sets the timeout for non-streaming requests.
func (c *Client) WithTimeout(timeout time.Duration) *Client {
	c.timeout = timeout
	return c
}

// WithMaxRetries sets the maximum number of retry attempts.
func (c *Client) WithMaxRetries(maxRetries int) *Client {
	c.maxRetries = maxRetries
	return c
}

// BaseURL returns the configured backend base URL.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// IsConfigured returns true if the client has an API key configured.
func (c *Client) IsConfigured() bool {
	return c.apiKey != ""
}

// APIKeyMasked returns a display-safe description of the API key. The key
// itself never appears; only a hash fingerprint does.
func (c *Client) APIKeyMasked() string {
	if c.apiKey == "" {
		return "[not set]"
	}
	h := sha256.Sum256([]byte(c.apiKey))
	return fmt.Sprintf("[REDACTED, length=%d, fingerprint=%s]", len(c.apiKey), hex.EncodeToString(h[:4]))
}

// setHeaders sets the required headers for backend requests.
func (c *Client) setHeaders(req *http.Request) {
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "modelarena/0.1.0")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}
}

// readResponse reads the response body with a size limit.
func readResponse(resp *http.Response) ([]byte, error) {
	limitedReader := io.LimitReader(resp.Body, MaxResponseSize)
	body, err := io.ReadAll(limitedReader)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}
	if int64(len(body)) == MaxResponseSize {
		return nil, fmt.Errorf("response exceeded maximum size of %d bytes", MaxResponseSize)
	}
	return body, nil
}

// handleErrorResponse converts a non-2xx response into a typed error. A 429
// becomes a *RateLimitError carrying the dual-layer quota headers; other
// statuses become *APIError, with 401 wrapping ErrAuthFailed and 404
// wrapping ErrModelNotFound.
func handleErrorResponse(resp *http.Response, body []byte) error {
	var er errorResponse
	_ = json.Unmarshal(body, &er)
	detail := er.Detail
	if detail == "" {
		detail = strings.TrimSpace(string(body))
	}

	switch resp.StatusCode {
	case http.StatusTooManyRequests:
		return &RateLimitError{
			Detail:          detail,
			IPLimit:         headerInt(resp, headerIPLimit),
			IPRemaining:     headerInt(resp, headerIPRemaining),
			PrefixLimit:     headerInt(resp, headerPrefixLimit),
			PrefixRemaining: headerInt(resp, headerPrefixRemaining),
		}
	case http.StatusUnauthorized:
		if detail != "" {
			return fmt.Errorf("%w: %s", ErrAuthFailed, detail)
		}
		return ErrAuthFailed
	case http.StatusNotFound:
		if detail != "" {
			return fmt.Errorf("%w: %s", ErrModelNotFound, detail)
		}
		return ErrModelNotFound
	default:
		return &APIError{Status: resp.StatusCode, Detail: detail}
	}
}

// headerInt parses an integer header, returning 0 when absent or malformed.
func headerInt(resp *http.Response, name string) int {
	v := resp.Header.Get(name)
	if v == "" {
		return 0
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0
	}
	return n
}

// doJSON performs a request with retry and exponential backoff, returning
// the raw body of a 2xx response. Retries fire on network errors and 5xx;
// 4xx responses are returned immediately as typed errors.
func (c *Client) doJSON(ctx context.Context, method, path string, payload any) ([]byte, error) {
	var bodyBytes []byte
	if payload != nil {
		var err error
		bodyBytes, err = json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal request: %w", err)
		}
	}

	var lastErr error
	for attempt := 0; attempt < c.maxRetries; attempt++ {
		if attempt > 0 {
			delay := retryBaseDelay * time.Duration(1<<uint(attempt-1))
			if delay > retryMaxDelay {
				delay = retryMaxDelay
			}
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(delay):
			}
		}

		var reqBody io.Reader
		if bodyBytes != nil {
			reqBody = bytes.NewReader(bodyBytes)
		}
		req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reqBody)
		if err != nil {
			return nil, fmt.Errorf("failed to create request: %w", err)
		}
		c.setHeaders(req)

		log.Printf("API request: %s %s", method, path)
		start := time.Now()
		resp, err := sharedHTTPClient.Do(req)
		if err != nil {
			lastErr = fmt.Errorf("request failed: %w", err)
			continue
		}
		log.Printf("API response: %d (%v)", resp.StatusCode, time.Since(start))

		body, err := readResponse(resp)
		resp.Body.Close()
		if err != nil {
			lastErr = err
			continue
		}

		if resp.StatusCode >= 500 {
			lastErr = handleErrorResponse(resp, body)
			continue
		}
		if resp.StatusCode >= 400 {
			return nil, handleErrorResponse(resp, body)
		}
		return body, nil
	}
	return nil, fmt.Errorf("max retries exceeded: %w", lastErr)
}

// ListModels retrieves the model catalog from the backend.
func (c *Client) ListModels(ctx context.Context) ([]model.ChatModel, error) {
	body, err := c.doJSON(ctx, http.MethodGet, "/models", nil)
	if err != nil {
		return nil, err
	}
	models, err := model.ParseModels(body)
	if err != nil {
		return nil, fmt.Errorf("failed to parse models response: %w", err)
	}
	return models, nil
}

// InitComparison registers a pending comparison turn for the given pair and
// returns the backend-assigned comparison id used to correlate the two
// model streams and the metrics stream.
func (c *Client) InitComparison(ctx context.Context, messages []model.ChatMessage, modelKeys []string, functions []FunctionDefinition) (*InitComparisonResponse, error) {
	payload := map[string]any{
		"messages":   messages,
		"model_keys": modelKeys,
	}
	if len(functions) > 0 {
		payload["function_definitions"] = functions
	}

	body, err := c.doJSON(ctx, http.MethodPost, "/chat/compare/init", payload)
	if err != nil {
		return nil, err
	}

	var out InitComparisonResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return nil, fmt.Errorf("failed to parse init response: %w", err)
	}
	if out.ComparisonID == "" {
		return nil, &APIError{Status: http.StatusOK, Detail: "init response missing comparison_id"}
	}
	return &out, nil
}

// CheckQuota probes the backend without consuming a chat request. An
// exhausted quota surfaces as a *RateLimitError; any other failure is
// returned as-is so callers can distinguish quota problems from outages.
func (c *Client) CheckQuota(ctx context.Context) error {
	_, err := c.doJSON(ctx, http.MethodGet, "/", nil)
	return err
}

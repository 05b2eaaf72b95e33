// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package api

import (
	"errors"
	"fmt"
)

// Error variables for common backend errors.
var (
	// ErrNotConfigured indicates the API key is not set.
	ErrNotConfigured = errors.New("API key not configured")

	// ErrAuthFailed indicates authentication failed (invalid or expired API key).
	ErrAuthFailed = errors.New("authentication failed")

	// ErrRateLimited indicates a per-IP or per-key quota was exhausted.
	ErrRateLimited = errors.New("rate limited")

	// ErrModelNotFound indicates the requested model does not exist.
	ErrModelNotFound = errors.New("model not found")
)

// APIError represents a non-2xx response from the backend with its parsed
// detail message.
type APIError struct {
	Status int
	Detail string
}

// Error implements the error interface.
func (e *APIError) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("API error (HTTP %d): %s", e.Status, e.Detail)
	}
	return fmt.Sprintf("API error (HTTP %d)", e.Status)
}

// RateLimitError carries the quota headers from a 429 response so callers can
// show which limit (per-IP or per-key-prefix) was exhausted.
type RateLimitError struct {
	Detail          string
	IPLimit         int
	IPRemaining     int
	PrefixLimit     int
	PrefixRemaining int
}

// Error implements the error interface.
func (e *RateLimitError) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("rate limited: %s", e.Detail)
	}
	return "rate limited"
}

// Is makes RateLimitError match ErrRateLimited in errors.Is chains.
func (e *RateLimitError) Is(target error) bool {
	return target == ErrRateLimited
}

// Exhausted reports whether any tracked quota has zero remaining requests.
func (e *RateLimitError) Exhausted() bool {
	return e.IPRemaining <= 0 || e.PrefixRemaining <= 0
}

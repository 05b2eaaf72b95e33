// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package model

import (
	"encoding/json"
	"fmt"
	"sort"
)

// =============================================================================
// CHAT MODEL TYPE
// =============================================================================

// ChatModel is the identity of a selectable backend model. Immutable once
// fetched.
type ChatModel struct {
	// ID is the stable key used in requests and cache keys.
	ID string `json:"id"`
	// Name is the human-readable display name.
	Name string `json:"name"`
	// Provider names the serving provider.
	Provider string `json:"provider"`
	// SupportsFunctionCalling reports tool-call capability.
	SupportsFunctionCalling bool `json:"supports_function_calling"`

	// Optional backend-published extras.
	Link          string `json:"link,omitempty"`
	ContextLength int    `json:"context_length,omitempty"`
}

// DisplayName returns the name, falling back to the ID.
func (m ChatModel) DisplayName() string {
	if m.Name != "" {
		return m.Name
	}
	return m.ID
}

// =============================================================================
// WIRE MAPPING
// =============================================================================

// wireModel mirrors one entry of the backend's /models payload. The backend
// is loose about field names, so each attribute has alternatives.
type wireModel struct {
	DisplayName   string `json:"display_name"`
	Name          string `json:"name"`
	Title         string `json:"title"`
	Provider      string `json:"provider"`
	SupportsTools bool   `json:"supportsTools"`
	FunctionCall  bool   `json:"function_calling"`
	Link          string `json:"link"`
	ContextLength int    `json:"contextLength"`
}

// modelsPayload is the top-level /models response.
type modelsPayload struct {
	Models map[string]wireModel `json:"models"`
}

// ParseModels decodes a /models response body into ChatModels, sorted by ID
// for stable listing.
func ParseModels(data []byte) ([]ChatModel, error) {
	var payload modelsPayload
	if err := json.Unmarshal(data, &payload); err != nil {
		return nil, fmt.Errorf("failed to parse models response: %w", err)
	}

	models := make([]ChatModel, 0, len(payload.Models))
	for key, wm := range payload.Models {
		name := wm.DisplayName
		if name == "" {
			name = wm.Name
		}
		if name == "" {
			name = wm.Title
		}
		models = append(models, ChatModel{
			ID:                      key,
			Name:                    name,
			Provider:                wm.Provider,
			SupportsFunctionCalling: wm.SupportsTools || wm.FunctionCall,
			Link:                    wm.Link,
			ContextLength:           wm.ContextLength,
		})
	}

	sort.Slice(models, func(i, j int) bool { return models[i].ID < models[j].ID })
	return models, nil
}

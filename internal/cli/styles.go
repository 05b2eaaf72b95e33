// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// styles.go - Centralized styling for the modelarena terminal UI.
//
// Colors are resolved by lipgloss against the detected terminal profile, so
// piped output degrades to plain text automatically.
package cli

import (
	"github.com/charmbracelet/lipgloss"
)

var (
	// TitleStyle is used for headers and the startup banner.
	TitleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("39")) // Cyan

	// ModelStyle marks which model a message or column belongs to.
	ModelStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("213")) // Pink

	// ThinkingStyle renders extracted reasoning text.
	ThinkingStyle = lipgloss.NewStyle().
			Italic(true).
			Foreground(lipgloss.Color("242")) // Dim

	// LabelStyle is used for field labels in listings.
	LabelStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("245")). // Light gray
			Width(24)

	// ValueStyle is used for regular values.
	ValueStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("252")) // Off-white

	// SuccessStyle is used for confirmations.
	SuccessStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("42")). // Green
			Bold(true)

	// ErrorStyle is used for error messages.
	ErrorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("196")). // Red
			Bold(true)

	// WarningStyle is used for quota and retry notices.
	WarningStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("214")) // Orange

	// MetricStyle renders live benchmark numbers.
	MetricStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("45")) // Light blue
)

// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/glamour"

	"github.com/arenalabs/modelarena/internal/metrics"
	"github.com/arenalabs/modelarena/internal/model"
)

// Renderer formats messages and metrics for the terminal. Markdown answers
// go through glamour; everything else is lipgloss-styled plain text.
type Renderer struct {
	md *glamour.TermRenderer
}

// NewRenderer builds a renderer for the current terminal. Markdown
// rendering degrades to plain text if glamour cannot initialize.
func NewRenderer() *Renderer {
	md, err := glamour.NewTermRenderer(
		glamour.WithAutoStyle(),
		glamour.WithWordWrap(100),
	)
	if err != nil {
		md = nil
	}
	return &Renderer{md: md}
}

// Markdown renders answer text as terminal markdown.
func (r *Renderer) Markdown(text string) string {
	if r.md == nil {
		return text
	}
	out, err := r.md.Render(text)
	if err != nil {
		return text
	}
	return strings.TrimRight(out, "\n")
}

// Message renders a completed assistant message: reasoning summary first,
// then the answer, then any tool calls.
func (r *Renderer) Message(m *model.Message) string {
	var b strings.Builder

	if m.Error != "" {
		b.WriteString(ErrorStyle.Render("✗ " + m.Error))
		return b.String()
	}

	if m.Thinking != "" {
		header := fmt.Sprintf("thought for %.1fs", m.ThinkingTime)
		b.WriteString(ThinkingStyle.Render(header))
		b.WriteString("\n")
		b.WriteString(ThinkingStyle.Render(indent(m.Thinking, "  ")))
		b.WriteString("\n")
	}

	if m.Content != "" {
		b.WriteString(r.Markdown(m.Content))
	}

	for _, call := range m.ToolCalls {
		b.WriteString("\n")
		b.WriteString(MetricStyle.Render(fmt.Sprintf("⚙ %s(%s) [%s]", call.Name, string(call.Arguments), call.Status)))
		if call.Result != "" {
			b.WriteString("\n")
			b.WriteString(ValueStyle.Render(indent(call.Result, "  ")))
		}
	}
	return b.String()
}

// LiveMetrics renders one in-flight load-test snapshot as a single line,
// suitable for overwrite-in-place progress output.
func (r *Renderer) LiveMetrics(m *metrics.LiveMetrics) string {
	done := m.Model1CompletedRequests + m.Model2CompletedRequests
	return MetricStyle.Render(fmt.Sprintf(
		"[%d/%d] m1 %.1f tok/s ttft %.0fms | m2 %.1f tok/s ttft %.0fms",
		done, m.TotalRequests,
		m.Model1LiveTPS, m.Model1LiveTTFT,
		m.Model2LiveTPS, m.Model2LiveTTFT,
	))
}

// SpeedTestResults renders the final benchmark table.
func (r *Renderer) SpeedTestResults(res *metrics.SpeedTestResults, left, right model.ChatModel) string {
	var b strings.Builder
	b.WriteString(TitleStyle.Render("Speed test results"))
	b.WriteString(ValueStyle.Render(fmt.Sprintf("  (concurrency %d)\n", res.Concurrency)))

	row := func(label string, v1, v2 float64, unit string) {
		b.WriteString(LabelStyle.Render(label))
		b.WriteString(MetricStyle.Render(fmt.Sprintf("%10.1f%s", v1, unit)))
		b.WriteString(MetricStyle.Render(fmt.Sprintf("%12.1f%s", v2, unit)))
		b.WriteString("\n")
	}

	b.WriteString(LabelStyle.Render(""))
	b.WriteString(ModelStyle.Render(fmt.Sprintf("%12s", truncateName(left.DisplayName()))))
	b.WriteString(ModelStyle.Render(fmt.Sprintf("%12s", truncateName(right.DisplayName()))))
	b.WriteString("\n")

	row("Tokens/sec", res.Model1TPS, res.Model2TPS, "")
	row("Aggregate tok/s", res.Model1AggregateTPS, res.Model2AggregateTPS, "")
	row("Requests/sec", res.Model1RPS, res.Model2RPS, "")
	row("TTFT (ms)", res.Model1TTFT, res.Model2TTFT, "")
	row("Total time (ms)", res.Model1TotalTime, res.Model2TotalTime, "")

	b.WriteString(LabelStyle.Render("Completed"))
	b.WriteString(ValueStyle.Render(fmt.Sprintf("%10d", res.Model1CompletedRequests)))
	b.WriteString(ValueStyle.Render(fmt.Sprintf("%12d", res.Model2CompletedRequests)))
	b.WriteString("\n")
	return b.String()
}

// ModelList renders the model catalog.
func (r *Renderer) ModelList(models []model.ChatModel, selected string) string {
	var b strings.Builder
	b.WriteString(TitleStyle.Render("Available models"))
	b.WriteString("\n")
	for _, m := range models {
		marker := "  "
		if m.ID == selected {
			marker = SuccessStyle.Render("> ")
		}
		tools := ""
		if m.SupportsFunctionCalling {
			tools = " [tools]"
		}
		b.WriteString(fmt.Sprintf("%s%s %s%s\n",
			marker,
			ModelStyle.Render(m.ID),
			ValueStyle.Render(m.DisplayName()),
			MetricStyle.Render(tools),
		))
	}
	return b.String()
}

func indent(text, prefix string) string {
	lines := strings.Split(text, "\n")
	for i, l := range lines {
		lines[i] = prefix + l
	}
	return strings.Join(lines, "\n")
}

func truncateName(name string) string {
	if len(name) > 12 {
		return name[:11] + "…"
	}
	return name
}

// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package cli implements the interactive modelarena prompt: model selection,
// single chat, side-by-side comparison, and the speed-test view.
package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/peterh/liner"

	"github.com/arenalabs/modelarena/internal/api"
	"github.com/arenalabs/modelarena/internal/chat"
	"github.com/arenalabs/modelarena/internal/config"
	"github.com/arenalabs/modelarena/internal/history"
	"github.com/arenalabs/modelarena/internal/metrics"
	"github.com/arenalabs/modelarena/internal/model"
	"github.com/arenalabs/modelarena/internal/session"
	"github.com/arenalabs/modelarena/internal/thinking"
)

type mode int

const (
	modeSingle mode = iota
	modeCompare
)

// App is the interactive prompt. One App owns the orchestrators, the session
// tracker, and the line editor for its lifetime.
type App struct {
	cfg      *config.Config
	client   *api.Client
	tracker  *session.Tracker
	cache    *history.Cache
	renderer *Renderer

	single  *chat.Orchestrator
	compare *chat.Comparison

	models []model.ChatModel
	mode   mode
	out    io.Writer
}

// NewApp wires the application from configuration.
func NewApp(cfg *config.Config) *App {
	client := api.NewClient(cfg.APIKey).WithBaseURL(cfg.BaseURL)
	tracker := session.NewTracker(session.Config{
		ResetOnModelChange: cfg.Session.ResetOnModelChange,
		AutoReset:          cfg.Session.AutoReset,
		InactivityTimeout:  cfg.SessionTimeout(),
		CleanupInterval:    cfg.CleanupInterval(),
	})
	cache := history.NewCache()
	extractor := &thinking.Extractor{CharsPerSec: cfg.Chat.ThinkingCharsPerSec}

	app := &App{
		cfg:      cfg,
		client:   client,
		tracker:  tracker,
		cache:    cache,
		renderer: NewRenderer(),
		single:   chat.NewOrchestrator(client, tracker, cache, extractor).WithHistoryWindow(cfg.Chat.MaxHistory),
		compare:  chat.NewComparison(client, tracker, cache, extractor).WithHistoryWindow(cfg.Chat.MaxHistory).WithThrottleInterval(cfg.MetricsThrottle()),
		out:      os.Stdout,
	}

	app.compare.OnMetrics = func(m *metrics.LiveMetrics) {
		fmt.Fprintf(app.out, "\r%s", app.renderer.LiveMetrics(m))
	}
	app.compare.OnResults = func(r *metrics.SpeedTestResults) {
		left, right, _ := app.compare.Models()
		fmt.Fprintf(app.out, "\n%s\n", app.renderer.SpeedTestResults(r, left, right))
	}
	return app
}

// Run is the prompt loop. It blocks until the user quits or input ends.
func (a *App) Run(ctx context.Context) error {
	done := make(chan struct{})
	defer close(done)
	go a.tracker.Run(done)

	if err := a.refreshModels(ctx); err != nil {
		fmt.Fprintln(a.out, WarningStyle.Render("could not fetch model catalog: "+err.Error()))
	}

	line := liner.NewLiner()
	defer line.Close()
	line.SetCtrlCAborts(true)
	a.setupCompletion(line)
	a.loadHistory(line)
	defer a.saveHistory(line)
	defer a.teardown()

	fmt.Fprintln(a.out, TitleStyle.Render("modelarena")+ValueStyle.Render("  /help for commands"))

	for {
		input, err := line.Prompt(a.prompt())
		if err == liner.ErrPromptAborted || err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}
		input = strings.TrimSpace(input)
		if input == "" {
			continue
		}
		line.AppendHistory(input)

		if strings.HasPrefix(input, "/") {
			if quit := a.dispatch(ctx, input); quit {
				return nil
			}
			continue
		}
		a.send(ctx, input)
	}
}

func (a *App) prompt() string {
	switch a.mode {
	case modeCompare:
		left, right, ok := a.compare.Models()
		if ok {
			return fmt.Sprintf("%s vs %s> ", left.ID, right.ID)
		}
		return "compare> "
	default:
		if m, ok := a.single.Model(); ok {
			return m.ID + "> "
		}
		return "> "
	}
}

// dispatch handles a slash command. Returns true on quit.
func (a *App) dispatch(ctx context.Context, input string) bool {
	fields := strings.Fields(input)
	cmd, args := fields[0], fields[1:]

	switch cmd {
	case "/quit", "/exit":
		return true

	case "/help":
		a.printHelp()

	case "/models":
		if err := a.refreshModels(ctx); err != nil {
			fmt.Fprintln(a.out, ErrorStyle.Render(err.Error()))
			return false
		}
		selected := ""
		if m, ok := a.single.Model(); ok {
			selected = m.ID
		}
		fmt.Fprintln(a.out, a.renderer.ModelList(a.models, selected))

	case "/model":
		if len(args) != 1 {
			fmt.Fprintln(a.out, WarningStyle.Render("usage: /model <id>"))
			return false
		}
		m, ok := a.findModel(args[0])
		if !ok {
			fmt.Fprintln(a.out, ErrorStyle.Render("unknown model: "+args[0]))
			return false
		}
		a.single.SelectModel(m)
		a.mode = modeSingle
		fmt.Fprintln(a.out, SuccessStyle.Render("chatting with "+m.DisplayName()))
		a.replay(a.single.Messages())

	case "/compare":
		if len(args) != 2 {
			fmt.Fprintln(a.out, WarningStyle.Render("usage: /compare <id> <id>"))
			return false
		}
		left, okL := a.findModel(args[0])
		right, okR := a.findModel(args[1])
		if !okL || !okR {
			fmt.Fprintln(a.out, ErrorStyle.Render("unknown model in pair"))
			return false
		}
		if left.ID == right.ID {
			fmt.Fprintln(a.out, WarningStyle.Render("pick two different models"))
			return false
		}
		a.compare.SetModels(left, right)
		a.mode = modeCompare
		fmt.Fprintln(a.out, SuccessStyle.Render(fmt.Sprintf("comparing %s vs %s", left.DisplayName(), right.DisplayName())))

	case "/speedtest":
		n := a.cfg.Chat.SpeedTestConcurrency
		if len(args) == 1 {
			if args[0] == "off" {
				n = 0
			} else {
				parsed, err := strconv.Atoi(args[0])
				if err != nil || parsed < 0 {
					fmt.Fprintln(a.out, WarningStyle.Render("usage: /speedtest [concurrency|off]"))
					return false
				}
				n = parsed
			}
		}
		a.compare.EnableSpeedTest(n)
		if n > 0 {
			fmt.Fprintln(a.out, SuccessStyle.Render(fmt.Sprintf("speed test on (concurrency %d), runs with each /compare turn", n)))
		} else {
			fmt.Fprintln(a.out, ValueStyle.Render("speed test off"))
		}

	case "/clear":
		if a.mode == modeCompare {
			a.compare.Clear()
		} else {
			a.single.Clear()
		}
		fmt.Fprintln(a.out, ValueStyle.Render("conversation cleared"))

	default:
		fmt.Fprintln(a.out, WarningStyle.Render("unknown command, /help for commands"))
	}
	return false
}

// send routes a chat line to the active orchestrator and prints the result.
func (a *App) send(ctx context.Context, text string) {
	switch a.mode {
	case modeCompare:
		left, right, ok := a.compare.Models()
		if !ok {
			fmt.Fprintln(a.out, WarningStyle.Render("pick a pair first: /compare <id> <id>"))
			return
		}
		err := a.compare.SendMessage(ctx, text)
		a.printQuota(err)

		sides := [2]struct {
			side  chat.Side
			model model.ChatModel
		}{{chat.Left, left}, {chat.Right, right}}
		for _, s := range sides {
			msgs := a.compare.Messages(s.side)
			if len(msgs) == 0 {
				continue
			}
			fmt.Fprintln(a.out, ModelStyle.Render("── "+s.model.DisplayName()))
			fmt.Fprintln(a.out, a.renderer.Message(msgs[len(msgs)-1]))
		}

	default:
		if _, ok := a.single.Model(); !ok {
			fmt.Fprintln(a.out, WarningStyle.Render("pick a model first: /model <id>"))
			return
		}
		err := a.single.SendMessage(ctx, text)
		a.printQuota(err)

		msgs := a.single.Messages()
		if len(msgs) > 0 {
			fmt.Fprintln(a.out, a.renderer.Message(msgs[len(msgs)-1]))
		}
	}
}

// printQuota surfaces the dedicated rate-limit signal with its remaining
// quota numbers. Other errors were already recorded on the transcript.
func (a *App) printQuota(err error) {
	if err == nil {
		return
	}
	var rle *api.RateLimitError
	if errors.As(err, &rle) {
		fmt.Fprintln(a.out, WarningStyle.Render(fmt.Sprintf(
			"quota exhausted (ip %d/%d, network %d/%d) — retry later",
			rle.IPRemaining, rle.IPLimit, rle.PrefixRemaining, rle.PrefixLimit)))
		return
	}
	if !errors.Is(err, context.Canceled) {
		fmt.Fprintln(a.out, ErrorStyle.Render(err.Error()))
	}
}

// replay reprints a restored transcript after a model switch.
func (a *App) replay(msgs []*model.Message) {
	for _, m := range msgs {
		if m.Role == model.RoleUser {
			fmt.Fprintln(a.out, ValueStyle.Render("you: "+m.Content))
			continue
		}
		fmt.Fprintln(a.out, a.renderer.Message(m))
	}
}

func (a *App) refreshModels(ctx context.Context) error {
	models, err := a.client.ListModels(ctx)
	if err != nil {
		return err
	}
	a.models = models
	return nil
}

func (a *App) findModel(id string) (model.ChatModel, bool) {
	for _, m := range a.models {
		if m.ID == id {
			return m, true
		}
	}
	return model.ChatModel{}, false
}

func (a *App) setupCompletion(line *liner.State) {
	commands := []string{"/models", "/model ", "/compare ", "/speedtest", "/clear", "/help", "/quit"}
	line.SetCompleter(func(prefix string) []string {
		var out []string
		for _, c := range commands {
			if strings.HasPrefix(c, prefix) {
				out = append(out, c)
			}
		}
		for _, m := range a.models {
			for _, lead := range []string{"/model ", "/compare "} {
				if strings.HasPrefix(prefix, lead) && strings.HasPrefix(lead+m.ID, prefix) {
					out = append(out, lead+m.ID)
				}
			}
		}
		sort.Strings(out)
		return out
	})
}

func (a *App) historyPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".modelarena", "history")
}

func (a *App) loadHistory(line *liner.State) {
	path := a.historyPath()
	if path == "" {
		return
	}
	if f, err := os.Open(path); err == nil {
		line.ReadHistory(f)
		f.Close()
	}
}

func (a *App) saveHistory(line *liner.State) {
	path := a.historyPath()
	if path == "" {
		return
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return
	}
	if f, err := os.Create(path); err == nil {
		line.WriteHistory(f)
		f.Close()
	}
}

// teardown aborts in-flight streams and drops process-local state.
func (a *App) teardown() {
	a.single.Teardown()
	a.compare.Teardown()
	a.cache.ClearAll()
}

func (a *App) printHelp() {
	help := [][2]string{
		{"/models", "list available models"},
		{"/model <id>", "chat with one model"},
		{"/compare <id> <id>", "chat with two models side by side"},
		{"/speedtest [n|off]", "toggle the load test run with comparison turns"},
		{"/clear", "clear the current conversation"},
		{"/quit", "exit"},
	}
	for _, h := range help {
		fmt.Fprintf(a.out, "%s%s\n", LabelStyle.Render(h[0]), ValueStyle.Render(h[1]))
	}
}

// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package syncui

import (
	"fmt"
	"slices"
	"strings"

	"github.com/charmbracelet/bubbles/key"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/x/ansi"
	"github.com/dustin/go-humanize"

	"github.com/bureau-foundation/chunksync/lib/assetsync"
)

const (
	// maxLogLines is how many recent log records the view keeps.
	maxLogLines = 8

	// defaultWidth is used until the first WindowSizeMsg arrives.
	defaultWidth = 80

	barMinWidth = 10
	barMaxWidth = 60
)

// eventMsg wraps a session event for delivery through the bubbletea
// message loop.
type eventMsg struct {
	event assetsync.Event
}

// feedClosedMsg is sent when the event channel closes without a
// terminal event.
type feedClosedMsg struct{}

// Model is the bubbletea model for one session.
type Model struct {
	events <-chan assetsync.Event
	cancel func()

	keys  KeyMap
	theme Theme
	width int

	session    string
	tag        string
	progress   assetsync.ProgressEvent
	logs       []assetsync.LogEvent
	completion *assetsync.CompletionEvent
	failure    string

	cancelling bool
	finished   bool
}

// NewModel returns a model that reads events until a terminal one
// arrives. cancel is called on the first quit key press; it may be
// nil.
func NewModel(events <-chan assetsync.Event, cancel func()) Model {
	return Model{
		events: events,
		cancel: cancel,
		keys:   DefaultKeyMap,
		theme:  DefaultTheme,
		width:  defaultWidth,
	}
}

// Finished reports whether the session's terminal event was seen.
func (model Model) Finished() bool {
	return model.finished
}

// Init implements tea.Model.
func (model Model) Init() tea.Cmd {
	return listenForEvent(model.events)
}

// listenForEvent blocks until the next event and delivers it as an
// eventMsg.
func listenForEvent(channel <-chan assetsync.Event) tea.Cmd {
	return func() tea.Msg {
		event, ok := <-channel
		if !ok {
			return feedClosedMsg{}
		}
		return eventMsg{event: event}
	}
}

// Update implements tea.Model.
func (model Model) Update(message tea.Msg) (tea.Model, tea.Cmd) {
	switch message := message.(type) {
	case eventMsg:
		model.apply(message.event)
		if message.event.Terminal() {
			model.finished = true
			return model, tea.Quit
		}
		return model, listenForEvent(model.events)

	case feedClosedMsg:
		model.finished = true
		return model, tea.Quit

	case tea.KeyMsg:
		if !key.Matches(message, model.keys.Quit) {
			return model, nil
		}
		if model.cancelling {
			return model, tea.Quit
		}
		model.cancelling = true
		if model.cancel != nil {
			model.cancel()
		}
		return model, nil

	case tea.WindowSizeMsg:
		model.width = message.Width
		return model, nil
	}
	return model, nil
}

func (model *Model) apply(event assetsync.Event) {
	if model.session == "" {
		model.session = event.Session
	}
	switch event.Type {
	case assetsync.EventTypeProgress:
		model.progress = *event.Progress
	case assetsync.EventTypeLog:
		if tag, ok := event.Log.Attrs["tag"]; ok && model.tag == "" {
			model.tag = tag
		}
		model.logs = append(model.logs, *event.Log)
		if len(model.logs) > maxLogLines {
			model.logs = slices.Delete(model.logs, 0, len(model.logs)-maxLogLines)
		}
	case assetsync.EventTypeError:
		model.failure = event.Error.Message
	case assetsync.EventTypeCompletion:
		model.completion = event.Completion
		if event.Completion.Tag != "" {
			model.tag = event.Completion.Tag
		}
	}
}

// View implements tea.Model.
func (model Model) View() string {
	var builder strings.Builder

	header := lipgloss.NewStyle().Bold(true).Foreground(model.theme.HeaderForeground)
	faint := lipgloss.NewStyle().Foreground(model.theme.FaintText)

	title := header.Render("chunksync")
	if model.tag != "" {
		title += "  " + faint.Render("build") + " " + model.tag
	}
	if model.session != "" {
		title += "  " + faint.Render("session") + " " + shortSession(model.session)
	}
	builder.WriteString(title + "\n\n")

	fraction := model.fraction()
	builder.WriteString(model.renderBar(fraction))
	fmt.Fprintf(&builder, " %3.0f%%\n", fraction*100)
	fmt.Fprintf(&builder, "%s / %s   files %d/%d\n",
		humanize.IBytes(uint64(max(model.progress.Downloaded, 0))),
		humanize.IBytes(uint64(max(model.progress.Total, 0))),
		model.progress.FilesDone,
		model.progress.FilesTotal,
	)

	if len(model.logs) > 0 {
		builder.WriteString("\n")
		for _, record := range model.logs {
			builder.WriteString(model.renderLog(record) + "\n")
		}
	}

	builder.WriteString("\n")
	switch {
	case model.failure != "":
		style := lipgloss.NewStyle().Foreground(model.theme.OutcomeFailure)
		builder.WriteString(style.Render("aborted: "+model.failure) + "\n")
	case model.completion != nil:
		builder.WriteString(model.renderCompletion() + "\n")
	case model.cancelling:
		builder.WriteString(faint.Render("cancelling, waiting for in-flight work (q again to exit now)") + "\n")
	default:
		builder.WriteString(faint.Render(model.keys.Quit.Help().Key+" "+model.keys.Quit.Help().Desc) + "\n")
	}
	return builder.String()
}

func (model Model) fraction() float64 {
	if model.progress.Total <= 0 {
		if model.progress.FilesTotal > 0 && model.progress.FilesDone >= model.progress.FilesTotal {
			return 1
		}
		return 0
	}
	return min(float64(model.progress.Downloaded)/float64(model.progress.Total), 1)
}

func (model Model) renderBar(fraction float64) string {
	width := min(max(model.width-8, barMinWidth), barMaxWidth)
	filled := int(fraction * float64(width))
	return lipgloss.NewStyle().Foreground(model.theme.BarFilled).Render(strings.Repeat("█", filled)) +
		lipgloss.NewStyle().Foreground(model.theme.BarEmpty).Render(strings.Repeat("░", width-filled))
}

func (model Model) renderLog(record assetsync.LogEvent) string {
	level := lipgloss.NewStyle().Foreground(model.theme.FaintText)
	switch record.Level {
	case "WARN":
		level = level.Foreground(model.theme.LevelWarn)
	case "ERROR":
		level = level.Foreground(model.theme.LevelError)
	}

	line := level.Render(fmt.Sprintf("%-5s", record.Level)) + " " + record.Message
	keys := make([]string, 0, len(record.Attrs))
	for name := range record.Attrs {
		if name != "session" {
			keys = append(keys, name)
		}
	}
	slices.Sort(keys)
	for _, name := range keys {
		line += " " + name + "=" + record.Attrs[name]
	}
	return ansi.Truncate(line, max(model.width, barMinWidth), "…")
}

func (model Model) renderCompletion() string {
	completion := model.completion
	color := model.theme.OutcomeSuccess
	switch completion.Outcome {
	case assetsync.OutcomeCompletedWithFailures:
		color = model.theme.OutcomePartial
	case assetsync.OutcomeCancelled, assetsync.OutcomeAborted:
		color = model.theme.OutcomeFailure
	}
	summary := fmt.Sprintf("%s: %d/%d files", completion.Outcome, completion.FilesCompleted, completion.FilesTotal)
	if completion.FilesFailed > 0 {
		summary += fmt.Sprintf(", %d failed", completion.FilesFailed)
	}
	lines := []string{lipgloss.NewStyle().Bold(true).Foreground(color).Render(summary)}
	for _, path := range completion.FailedPaths {
		lines = append(lines, "  "+path)
	}
	return strings.Join(lines, "\n")
}

func shortSession(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package syncui

import (
	"fmt"
	"strings"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/x/ansi"

	"github.com/bureau-foundation/chunksync/lib/assetsync"
)

const testSession = "0b6f1c2e-7d0a-4e4b-9a51-2f7e3c9d8a10"

func logEvent(level, message string, attrs map[string]string) assetsync.Event {
	return assetsync.Event{
		Session: testSession,
		Type:    assetsync.EventTypeLog,
		Log:     &assetsync.LogEvent{Level: level, Message: message, Attrs: attrs},
	}
}

func progressEvent(downloaded, total int64, done, files int) assetsync.Event {
	return assetsync.Event{
		Session: testSession,
		Type:    assetsync.EventTypeProgress,
		Progress: &assetsync.ProgressEvent{
			Downloaded: downloaded,
			Total:      total,
			FilesDone:  done,
			FilesTotal: files,
		},
	}
}

// send feeds one message through Update and returns the new model.
func send(t *testing.T, model Model, message tea.Msg) (Model, tea.Cmd) {
	t.Helper()
	updated, command := model.Update(message)
	return updated.(Model), command
}

func isQuit(command tea.Cmd) bool {
	if command == nil {
		return false
	}
	_, ok := command().(tea.QuitMsg)
	return ok
}

func TestModelRendersProgress(t *testing.T) {
	events := make(chan assetsync.Event, 1)
	model := NewModel(events, nil)
	model, command := send(t, model, eventMsg{event: logEvent("INFO", "build resolved", map[string]string{"tag": "4.2.0", "session": testSession})})
	if command == nil {
		t.Fatal("non-terminal event should schedule the next listen")
	}
	next := progressEvent(1, 2, 0, 1)
	events <- next
	if message, ok := command().(eventMsg); !ok || message.event.Type != next.Type {
		t.Fatalf("scheduled command returned %#v, want the next event", message)
	}
	model, _ = send(t, model, eventMsg{event: progressEvent(3<<20, 12<<20, 2, 8)})

	view := ansi.Strip(model.View())
	for _, want := range []string{"build 4.2.0", "session 0b6f1c2e", " 25%", "3.0 MiB / 12 MiB", "files 2/8", "INFO  build resolved tag=4.2.0"} {
		if !strings.Contains(view, want) {
			t.Errorf("view missing %q:\n%s", want, view)
		}
	}
	if strings.Contains(view, "session="+testSession) {
		t.Error("session attribute should not be repeated on log lines")
	}
}

func TestModelKeepsRecentLogs(t *testing.T) {
	model := NewModel(nil, nil)
	for index := range maxLogLines + 3 {
		model, _ = send(t, model, eventMsg{event: logEvent("WARN", fmt.Sprintf("file failed %02d", index), nil)})
	}
	if len(model.logs) != maxLogLines {
		t.Fatalf("kept %d log lines, want %d", len(model.logs), maxLogLines)
	}
	view := ansi.Strip(model.View())
	if strings.Contains(view, "file failed 02") {
		t.Error("oldest records should have been dropped")
	}
	if !strings.Contains(view, fmt.Sprintf("file failed %02d", maxLogLines+2)) {
		t.Error("newest record missing")
	}
}

func TestModelTruncatesLongLogLines(t *testing.T) {
	model := NewModel(nil, nil)
	model, _ = send(t, model, tea.WindowSizeMsg{Width: 40, Height: 20})
	model, _ = send(t, model, eventMsg{event: logEvent("INFO", strings.Repeat("x", 200), nil)})
	for line := range strings.Lines(model.View()) {
		if width := ansi.StringWidth(strings.TrimSuffix(line, "\n")); width > 40 {
			t.Errorf("line width %d exceeds terminal width: %q", width, line)
		}
	}
}

func TestModelQuitsOnCompletion(t *testing.T) {
	model := NewModel(nil, nil)
	model, command := send(t, model, eventMsg{event: assetsync.Event{
		Session: testSession,
		Type:    assetsync.EventTypeCompletion,
		Completion: &assetsync.CompletionEvent{
			Outcome:        assetsync.OutcomeCompletedWithFailures,
			Tag:            "4.2.0",
			FilesTotal:     3,
			FilesCompleted: 2,
			FilesFailed:    1,
			FailedPaths:    []string{"Data/broken.pak"},
		},
	}})
	if !isQuit(command) {
		t.Fatal("completion should quit the program")
	}
	if !model.Finished() {
		t.Error("Finished() = false after completion")
	}
	view := ansi.Strip(model.View())
	for _, want := range []string{"completed_with_failures: 2/3 files, 1 failed", "Data/broken.pak"} {
		if !strings.Contains(view, want) {
			t.Errorf("view missing %q:\n%s", want, view)
		}
	}
}

func TestModelShowsAbort(t *testing.T) {
	model := NewModel(nil, nil)
	model, command := send(t, model, eventMsg{event: assetsync.Event{
		Session: testSession,
		Type:    assetsync.EventTypeError,
		Error:   &assetsync.ErrorEvent{Message: "connectivity failure"},
	}})
	if !isQuit(command) {
		t.Fatal("error event should quit the program")
	}
	if !strings.Contains(ansi.Strip(model.View()), "aborted: connectivity failure") {
		t.Error("abort message not shown")
	}
}

func TestModelQuitKeyCancelsThenExits(t *testing.T) {
	cancels := 0
	model := NewModel(nil, func() { cancels++ })
	quitKey := tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune{'q'}}

	model, command := send(t, model, quitKey)
	if cancels != 1 || command != nil {
		t.Fatalf("first press: cancels=%d, command=%v; want 1 and no command", cancels, command)
	}
	if !strings.Contains(model.View(), "cancelling") {
		t.Error("view does not show the pending cancellation")
	}

	_, command = send(t, model, quitKey)
	if cancels != 1 {
		t.Errorf("second press cancelled again (%d)", cancels)
	}
	if !isQuit(command) {
		t.Error("second press should exit")
	}
}

func TestModelIgnoresOtherKeys(t *testing.T) {
	cancels := 0
	model := NewModel(nil, func() { cancels++ })
	_, command := send(t, model, tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune{'x'}})
	if cancels != 0 || command != nil {
		t.Errorf("unbound key had an effect: cancels=%d command=%v", cancels, command)
	}
}

func TestListenForEventStopsOnClose(t *testing.T) {
	feed := NewFeed(1)
	close(feed.events)
	model := NewModel(feed.Events(), nil)
	message := model.Init()()
	if _, ok := message.(feedClosedMsg); !ok {
		t.Fatalf("Init command returned %T, want feedClosedMsg", message)
	}
	model, command := send(t, model, message)
	if !model.Finished() || !isQuit(command) {
		t.Error("closed feed should finish the model")
	}
}

func TestFeedDeliversInOrder(t *testing.T) {
	feed := NewFeed(4)
	feed.Observe(progressEvent(1, 10, 0, 1))
	feed.Observe(progressEvent(5, 10, 0, 1))
	for _, want := range []int64{1, 5} {
		select {
		case event := <-feed.Events():
			if event.Progress.Downloaded != want {
				t.Errorf("Downloaded = %d, want %d", event.Progress.Downloaded, want)
			}
		case <-time.After(5 * time.Second):
			t.Fatal("event not delivered")
		}
	}
}

func TestFeedStopUnblocksObserve(t *testing.T) {
	feed := NewFeed(0)
	done := make(chan struct{})
	go func() {
		defer close(done)
		feed.Observe(progressEvent(1, 1, 1, 1))
	}()
	feed.Stop()
	feed.Stop()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("Observe still blocked after Stop")
	}
	// Later events are discarded without blocking.
	feed.Observe(progressEvent(2, 2, 1, 1))
}

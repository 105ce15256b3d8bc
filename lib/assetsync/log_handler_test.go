// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package assetsync

import (
	"context"
	"log/slog"
	"testing"
)

func TestEventLogHandlerConvertsRecords(t *testing.T) {
	var events []Event
	handler := NewEventLogHandler(slog.LevelInfo, func(event Event) {
		events = append(events, event)
	})
	logger := slog.New(handler).With("session", "s-1").WithGroup("fetch")

	logger.Debug("dropped below level")
	logger.Warn("chunk retry", "chunk", "c1", slog.Group("attempt", "n", 2, "max", 5))

	if len(events) != 1 {
		t.Fatalf("got %d events, want 1", len(events))
	}
	event := events[0]
	if event.Type != EventTypeLog || event.Log == nil {
		t.Fatalf("event = %+v, want a log event", event)
	}
	if event.Log.Level != "WARN" || event.Log.Message != "chunk retry" {
		t.Errorf("log = %+v", event.Log)
	}
	want := map[string]string{
		"session":           "s-1",
		"fetch.chunk":       "c1",
		"fetch.attempt.n":   "2",
		"fetch.attempt.max": "5",
	}
	for key, value := range want {
		if got := event.Log.Attrs[key]; got != value {
			t.Errorf("attr %s = %q, want %q (attrs %v)", key, got, value, event.Log.Attrs)
		}
	}
	if event.Timestamp.IsZero() {
		t.Error("log event has no timestamp")
	}
}

func TestTeeHandlerRespectsEachLevel(t *testing.T) {
	var infoEvents, debugEvents int
	info := NewEventLogHandler(slog.LevelInfo, func(Event) { infoEvents++ })
	debug := NewEventLogHandler(slog.LevelDebug, func(Event) { debugEvents++ })
	logger := slog.New(teeHandler{info, debug})

	if !logger.Enabled(context.Background(), slog.LevelDebug) {
		t.Fatal("tee disabled a level one of its handlers accepts")
	}
	logger.Debug("debug")
	logger.Info("info")

	if infoEvents != 1 || debugEvents != 2 {
		t.Errorf("info/debug handler events = %d/%d, want 1/2", infoEvents, debugEvents)
	}
}

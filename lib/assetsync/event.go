// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package assetsync

import (
	"sync"
	"time"
)

// EventType classifies session events.
type EventType string

const (
	// EventTypeLog is a log record from the session or one of its
	// components.
	EventTypeLog EventType = "log"

	// EventTypeProgress is a byte and file counter snapshot.
	EventTypeProgress EventType = "progress"

	// EventTypeError is the terminal event of an aborted session.
	EventTypeError EventType = "error"

	// EventTypeCompletion is the terminal event of every session that
	// was not aborted, including cancelled ones.
	EventTypeCompletion EventType = "completion"
)

// Event is one entry in a session's event stream. Exactly one payload
// pointer is set, matching Type. Events serialize as JSON lines.
type Event struct {
	Timestamp time.Time `json:"timestamp"`

	// Session is the id shared by every event of one Run.
	Session string `json:"session"`

	Type EventType `json:"type"`

	Log        *LogEvent        `json:"log,omitempty"`
	Progress   *ProgressEvent   `json:"progress,omitempty"`
	Error      *ErrorEvent      `json:"error,omitempty"`
	Completion *CompletionEvent `json:"completion,omitempty"`
}

// Terminal reports whether the event ends its session.
func (e Event) Terminal() bool {
	return e.Type == EventTypeError || e.Type == EventTypeCompletion
}

// LogEvent carries one log record.
type LogEvent struct {
	Level   string `json:"level"`
	Message string `json:"message"`

	// Attrs holds the record's attributes rendered as strings, group
	// names joined to keys with dots.
	Attrs map[string]string `json:"attrs,omitempty"`
}

// ProgressEvent is a snapshot of the session counters. FilesDone
// counts processed files, failed ones included.
type ProgressEvent struct {
	Downloaded int64 `json:"downloaded"`
	Total      int64 `json:"total"`
	FilesDone  int   `json:"files_done"`
	FilesTotal int   `json:"files_total"`
}

// ErrorEvent reports an aborted session.
type ErrorEvent struct {
	Message string `json:"message"`
}

// CompletionEvent reports a session that ran to the end or was
// cancelled.
type CompletionEvent struct {
	Outcome        Outcome  `json:"outcome"`
	Tag            string   `json:"tag,omitempty"`
	FilesTotal     int      `json:"files_total"`
	FilesCompleted int      `json:"files_completed"`
	FilesFailed    int      `json:"files_failed"`
	FailedPaths    []string `json:"failed_paths,omitempty"`
}

// Observer receives a session's events. The engine serializes calls,
// so an implementation needs no locking of its own. Observe must not
// log through the session logger.
type Observer interface {
	Observe(Event)
}

// ObserverFunc adapts a function to Observer.
type ObserverFunc func(Event)

// Observe calls f(event).
func (f ObserverFunc) Observe(event Event) {
	f(event)
}

// emitter stamps and serializes events for one session.
type emitter struct {
	mu       sync.Mutex
	session  string
	now      func() time.Time
	observer Observer
}

func (e *emitter) emit(event Event) {
	e.mu.Lock()
	defer e.mu.Unlock()
	event.Session = e.session
	if event.Timestamp.IsZero() {
		event.Timestamp = e.now()
	}
	if e.observer != nil {
		e.observer.Observe(event)
	}
}

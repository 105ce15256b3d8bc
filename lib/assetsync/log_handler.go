// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package assetsync

import (
	"context"
	"errors"
	"log/slog"
	"strings"
)

// EventLogHandler is a slog.Handler that turns every record at or
// above its level into a log Event. The session logger tees records
// through it so the observer sees the same narrative as the log
// output.
type EventLogHandler struct {
	level slog.Leveler
	emit  func(Event)

	attrs  []slog.Attr
	groups []string
}

// NewEventLogHandler returns a handler delivering records at or above
// level to emit.
func NewEventLogHandler(level slog.Leveler, emit func(Event)) *EventLogHandler {
	if level == nil {
		level = slog.LevelInfo
	}
	return &EventLogHandler{level: level, emit: emit}
}

// Enabled reports whether level is at or above the handler's level.
func (handler *EventLogHandler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= handler.level.Level()
}

// Handle converts record into a log Event.
func (handler *EventLogHandler) Handle(_ context.Context, record slog.Record) error {
	attrs := make(map[string]string, len(handler.attrs)+record.NumAttrs())
	for _, attr := range handler.attrs {
		addAttr(attrs, "", attr)
	}
	prefix := strings.Join(handler.groups, ".")
	record.Attrs(func(attr slog.Attr) bool {
		addAttr(attrs, prefix, attr)
		return true
	})
	if len(attrs) == 0 {
		attrs = nil
	}

	handler.emit(Event{
		Timestamp: record.Time,
		Type:      EventTypeLog,
		Log: &LogEvent{
			Level:   record.Level.String(),
			Message: record.Message,
			Attrs:   attrs,
		},
	})
	return nil
}

// WithAttrs returns a handler that adds attrs to every record. Attrs
// are qualified by the groups opened so far.
func (handler *EventLogHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	derived := handler.clone()
	prefix := strings.Join(handler.groups, ".")
	for _, attr := range attrs {
		if prefix != "" {
			attr.Key = prefix + "." + attr.Key
		}
		derived.attrs = append(derived.attrs, attr)
	}
	return derived
}

// WithGroup returns a handler that qualifies later attrs with name.
func (handler *EventLogHandler) WithGroup(name string) slog.Handler {
	if name == "" {
		return handler
	}
	derived := handler.clone()
	derived.groups = append(derived.groups, name)
	return derived
}

func (handler *EventLogHandler) clone() *EventLogHandler {
	return &EventLogHandler{
		level:  handler.level,
		emit:   handler.emit,
		attrs:  append([]slog.Attr(nil), handler.attrs...),
		groups: append([]string(nil), handler.groups...),
	}
}

func addAttr(attrs map[string]string, prefix string, attr slog.Attr) {
	attr.Value = attr.Value.Resolve()
	if attr.Equal(slog.Attr{}) {
		return
	}
	key := attr.Key
	if prefix != "" && key != "" {
		key = prefix + "." + key
	} else if key == "" {
		key = prefix
	}
	if attr.Value.Kind() == slog.KindGroup {
		for _, member := range attr.Value.Group() {
			addAttr(attrs, key, member)
		}
		return
	}
	attrs[key] = attr.Value.String()
}

// teeHandler sends each record to every handler that accepts it.
type teeHandler []slog.Handler

func (handlers teeHandler) Enabled(ctx context.Context, level slog.Level) bool {
	for _, handler := range handlers {
		if handler.Enabled(ctx, level) {
			return true
		}
	}
	return false
}

func (handlers teeHandler) Handle(ctx context.Context, record slog.Record) error {
	var errs []error
	for _, handler := range handlers {
		if handler.Enabled(ctx, record.Level) {
			errs = append(errs, handler.Handle(ctx, record.Clone()))
		}
	}
	return errors.Join(errs...)
}

func (handlers teeHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	derived := make(teeHandler, len(handlers))
	for index, handler := range handlers {
		derived[index] = handler.WithAttrs(attrs)
	}
	return derived
}

func (handlers teeHandler) WithGroup(name string) slog.Handler {
	derived := make(teeHandler, len(handlers))
	for index, handler := range handlers {
		derived[index] = handler.WithGroup(name)
	}
	return derived
}

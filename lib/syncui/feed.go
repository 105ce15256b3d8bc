// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package syncui

import (
	"sync"

	"github.com/bureau-foundation/chunksync/lib/assetsync"
)

// Feed forwards session events to a UI over a buffered channel.
// Observe blocks while the buffer is full so no event is lost; after
// Stop it discards events instead, which keeps the engine from
// stalling on a UI that has already exited.
type Feed struct {
	events   chan assetsync.Event
	stopped  chan struct{}
	stopOnce sync.Once
}

// NewFeed returns a Feed whose channel buffers buffer events.
func NewFeed(buffer int) *Feed {
	return &Feed{
		events:  make(chan assetsync.Event, buffer),
		stopped: make(chan struct{}),
	}
}

// Observe implements [assetsync.Observer].
func (f *Feed) Observe(event assetsync.Event) {
	select {
	case <-f.stopped:
		return
	default:
	}
	select {
	case f.events <- event:
	case <-f.stopped:
	}
}

// Events is the receive side consumed by [NewModel].
func (f *Feed) Events() <-chan assetsync.Event {
	return f.events
}

// Stop makes every later Observe a no-op. Safe to call more than once.
func (f *Feed) Stop() {
	f.stopOnce.Do(func() { close(f.stopped) })
}

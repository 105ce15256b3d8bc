// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package progress aggregates byte and file counters from every sync
// worker and emits throttled snapshots.
//
// Totals are fixed when the Aggregator is created. Workers add to the
// counters without locking; emission is serialized so that the
// snapshots a sink receives are non-decreasing in both counters.
package progress

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/bureau-foundation/chunksync/lib/clock"
)

// DefaultInterval is the minimum spacing between throttled emissions.
const DefaultInterval = 100 * time.Millisecond

// Snapshot is one reading of the counters.
type Snapshot struct {
	Downloaded int64 `json:"downloaded"`
	Total      int64 `json:"total"`
	FilesDone  int   `json:"files_done"`
	FilesTotal int   `json:"files_total"`
}

// Complete reports whether every file has been processed.
func (s Snapshot) Complete() bool {
	return s.FilesDone >= s.FilesTotal
}

// Sink receives snapshots. Calls are serialized.
type Sink func(Snapshot)

// Aggregator holds the shared counters for one session.
type Aggregator struct {
	total      int64
	filesTotal int
	interval   time.Duration
	clock      clock.Clock
	sink       Sink

	downloaded atomic.Int64
	filesDone  atomic.Int64

	// emitMu serializes emission; lastEmit and lastSent are guarded
	// by it.
	emitMu   sync.Mutex
	lastEmit time.Time
	lastSent Snapshot
	emitted  bool
}

// New returns an Aggregator for a session processing filesTotal files
// of total bytes. A zero interval uses DefaultInterval; a nil clock
// uses the real clock; a nil sink discards snapshots.
func New(total int64, filesTotal int, interval time.Duration, clk clock.Clock, sink Sink) *Aggregator {
	if interval <= 0 {
		interval = DefaultInterval
	}
	if clk == nil {
		clk = clock.Real()
	}
	if sink == nil {
		sink = func(Snapshot) {}
	}
	return &Aggregator{
		total:      total,
		filesTotal: filesTotal,
		interval:   interval,
		clock:      clk,
		sink:       sink,
	}
}

// AddBytes credits n processed bytes and emits a snapshot unless one
// was emitted within the throttle interval.
func (a *Aggregator) AddBytes(n int64) {
	if n <= 0 {
		return
	}
	a.downloaded.Add(n)
	a.emit(false)
}

// FileDone records that one file finished, successfully or not, and
// emits a snapshot regardless of the throttle.
func (a *Aggregator) FileDone() {
	a.filesDone.Add(1)
	a.emit(true)
}

// Snapshot returns the current counters.
func (a *Aggregator) Snapshot() Snapshot {
	return Snapshot{
		Downloaded: a.downloaded.Load(),
		Total:      a.total,
		FilesDone:  int(a.filesDone.Load()),
		FilesTotal: a.filesTotal,
	}
}

// Flush emits the current counters unless they equal the last
// emitted snapshot.
func (a *Aggregator) Flush() {
	a.emitMu.Lock()
	defer a.emitMu.Unlock()
	snapshot := a.Snapshot()
	if a.emitted && snapshot == a.lastSent {
		return
	}
	a.send(snapshot)
}

func (a *Aggregator) emit(force bool) {
	if !force {
		// Another worker is emitting right now.
		if !a.emitMu.TryLock() {
			return
		}
	} else {
		a.emitMu.Lock()
	}
	defer a.emitMu.Unlock()

	now := a.clock.Now()
	if !force && a.emitted && now.Sub(a.lastEmit) < a.interval {
		return
	}
	// Counters are read under emitMu: emissions are non-decreasing.
	a.send(a.Snapshot())
}

// send must be called with emitMu held.
func (a *Aggregator) send(snapshot Snapshot) {
	a.lastEmit = a.clock.Now()
	a.lastSent = snapshot
	a.emitted = true
	a.sink(snapshot)
}

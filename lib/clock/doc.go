// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package clock provides an injectable time source for the parts of
// chunksync whose behavior depends on wall-clock time: retry pauses in
// lib/fetch and lib/build, and progress throttling in lib/progress.
//
// Production code takes a Clock and is wired with Real(). Tests wire
// Fake() and drive time with Advance:
//
//	fake := clock.Fake(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
//	go fetcher.Fetch(ctx, prefix, chunk) // sleeps between attempts
//	fake.WaitForTimers(1)               // retry pause registered
//	fake.Advance(time.Second)           // next attempt starts
//
// WaitForTimers removes the race between a goroutine registering a
// pause and the test advancing past it.
package clock

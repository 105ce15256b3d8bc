// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package retry runs an operation a bounded number of times with a
// fixed pause between attempts. Every remote read in the sync engine
// goes through it: the build descriptor, manifests, and chunks each
// have their own Policy.
package retry

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bureau-foundation/chunksync/lib/clock"
)

// Policy bounds an operation to Attempts tries with Delay between
// consecutive tries. There is no pause before the first try or after
// the last.
type Policy struct {
	Attempts int           `yaml:"attempts"`
	Delay    time.Duration `yaml:"delay"`
}

// ExhaustedError is returned when every attempt failed. Err is the
// failure of the last attempt.
type ExhaustedError struct {
	Attempts int
	Err      error
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("failed after %d attempts: %v", e.Attempts, e.Err)
}

func (e *ExhaustedError) Unwrap() error {
	return e.Err
}

// Validate rejects policies that would never run the operation.
func (p Policy) Validate() error {
	if p.Attempts < 1 {
		return fmt.Errorf("attempts %d is invalid (minimum 1)", p.Attempts)
	}
	if p.Delay < 0 {
		return fmt.Errorf("delay %s is negative", p.Delay)
	}
	return nil
}

// Do calls operation until it succeeds or the policy is exhausted.
// The attempt number passed to operation starts at 1. onFailure, if
// non-nil, observes each failed attempt before the pause.
//
// Cancellation is checked before every attempt and during every
// pause; a cancelled context returns ctx.Err() unwrapped so callers
// can tell it apart from exhaustion.
func (p Policy) Do(ctx context.Context, clk clock.Clock, operation func(attempt int) error, onFailure func(attempt int, err error)) error {
	var last error
	for attempt := 1; attempt <= p.Attempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		err := operation(attempt)
		if err == nil {
			return nil
		}
		if ctxErr := ctx.Err(); ctxErr != nil && errors.Is(err, ctxErr) {
			return ctxErr
		}
		last = err
		if onFailure != nil {
			onFailure(attempt, err)
		}

		if attempt == p.Attempts {
			break
		}
		select {
		case <-clk.After(p.Delay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return &ExhaustedError{Attempts: p.Attempts, Err: last}
}

//
// Copyright (C) 2026 Kestrel Authors. All rights reserved.
//
// kestrel is licensed under the Apache License Version 2.0.
//

// Package fanout runs batches of independent work units with bounded
// concurrency and fan-in synchronization.
//
// RunBatch never returns an error for the batch as a whole: a unit that
// fails (or panics) produces a failed Outcome carrying the error text and
// never disturbs its siblings. Outcomes are collected positionally, so the
// caller's merge order is the input order, not completion order.
package fanout

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/panjf2000/ants/v2"

	"github.com/kestrel-research/kestrel/log"
	"github.com/kestrel-research/kestrel/telemetry"
)

// ErrNoResults signals that a unit ran cleanly but produced nothing.
// Unit functions return it to have their outcome tagged StatusNoResults
// instead of StatusFailed.
var ErrNoResults = errors.New("no results")

// Status tags a unit outcome.
type Status string

// Outcome statuses.
const (
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusNoResults Status = "no_results"
)

// Outcome is the per-unit result of a batch run.
type Outcome[R any] struct {
	Status  Status
	Result  R
	Error   string
	Elapsed time.Duration
}

// Failed reports whether the unit failed.
func (o Outcome[R]) Failed() bool { return o.Status == StatusFailed }

// UnitFunc executes one work unit.
type UnitFunc[U, R any] func(ctx context.Context, unit U) (R, error)

// RunBatch executes every unit through fn with at most maxConcurrency units
// in flight, and returns one Outcome per unit in input order. It blocks until
// every dispatched unit has produced an outcome.
//
// Cancellation: units not yet dispatched when ctx is done are marked failed
// with the context error; units already in flight run to completion and their
// results are kept. A cancellation check also runs between dispatches, so a
// long queue drains promptly once ctx is done.
func RunBatch[U, R any](ctx context.Context, units []U, maxConcurrency int, fn UnitFunc[U, R]) []Outcome[R] {
	outcomes := make([]Outcome[R], len(units))
	if len(units) == 0 {
		return outcomes
	}
	if maxConcurrency < 1 {
		maxConcurrency = 1
	}

	ctx, span := telemetry.StartSpan(ctx, "fanout.run_batch",
		telemetry.Int("units", len(units)),
		telemetry.Int("max_concurrency", maxConcurrency))
	defer span.End()

	pool, err := ants.NewPool(maxConcurrency)
	if err != nil {
		// Pool creation only fails on invalid sizes, which are normalized
		// above; fall back to marking the whole batch failed.
		for i := range outcomes {
			outcomes[i] = Outcome[R]{Status: StatusFailed, Error: err.Error()}
		}
		return outcomes
	}
	defer pool.Release()

	var wg sync.WaitGroup
	for i := range units {
		if ctxErr := ctx.Err(); ctxErr != nil {
			outcomes[i] = Outcome[R]{Status: StatusFailed, Error: ctxErr.Error()}
			continue
		}
		i := i
		wg.Add(1)
		submitErr := pool.Submit(func() {
			defer wg.Done()
			outcomes[i] = runUnit(ctx, units[i], fn)
		})
		if submitErr != nil {
			wg.Done()
			outcomes[i] = Outcome[R]{Status: StatusFailed, Error: submitErr.Error()}
		}
	}
	wg.Wait()
	return outcomes
}

// runUnit executes one unit, containing errors and panics.
func runUnit[U, R any](ctx context.Context, unit U, fn UnitFunc[U, R]) (out Outcome[R]) {
	start := time.Now()
	defer func() {
		out.Elapsed = time.Since(start)
		if r := recover(); r != nil {
			log.Errorw("work unit panicked", "panic", r)
			out = Outcome[R]{
				Status:  StatusFailed,
				Error:   fmt.Sprintf("panic: %v", r),
				Elapsed: time.Since(start),
			}
		}
	}()

	result, err := fn(ctx, unit)
	switch {
	case errors.Is(err, ErrNoResults):
		out = Outcome[R]{Status: StatusNoResults, Result: result, Error: err.Error()}
	case err != nil:
		out = Outcome[R]{Status: StatusFailed, Error: err.Error()}
	default:
		out = Outcome[R]{Status: StatusCompleted, Result: result}
	}
	return out
}

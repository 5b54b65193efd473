// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package schedule runs ExecutionUnits against the generation endpoint in
// consecutive bounded-size batches.
//
// Units within a batch run concurrently; batch N+1 never starts before every
// unit in batch N has resolved. The run function is an opaque boundary that
// always resolves to a Result — it never returns an error — so the scheduler
// has no failure path of its own: the worst outcome for a unit is a Result
// with Success=false.
package schedule

import (
	"context"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/errgroup"

	"github.com/AleutianAI/matrixlab/services/matrix/unit"
)

var tracer = otel.Tracer("matrix.schedule")

// DefaultConcurrency bounds simultaneous generation calls. Kept small so a
// full-grid run does not trip endpoint rate limits.
const DefaultConcurrency = 3

var (
	runsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "matrix_runs_total",
		Help: "Completed generation runs by outcome",
	}, []string{"outcome"})

	runDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "matrix_run_duration_seconds",
		Help:    "Wall-clock duration of individual generation runs",
		Buckets: []float64{0.5, 1, 2.5, 5, 10, 30, 60, 120},
	})

	unitsInFlight = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "matrix_units_in_flight",
		Help: "Generation runs currently in flight",
	})

	batchesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "matrix_batches_total",
		Help: "Batches dispatched by the scheduler",
	})
)

// RunFunc performs the generation call for one unit. Implementations must
// catch every failure (network, HTTP status, parsing) and return it as a
// Result with Success=false; the scheduler treats the call as infallible.
type RunFunc func(ctx context.Context, u unit.Unit) unit.Result

// LockedFunc reports whether a unit's result is frozen in the snapshot
// store. Locked units are never run implicitly.
type LockedFunc func(u unit.Unit) bool

// ApplyFunc publishes a unit state transition to the owner of the unit set.
// The scheduler calls it synchronously before dispatching a unit (IsRunning
// set, result cleared) and again when the unit resolves. Implementations
// must be safe for concurrent use: completions within a batch apply from
// separate goroutines.
type ApplyFunc func(u unit.Unit)

// Scheduler executes unit sets in consecutive concurrent batches.
type Scheduler struct {
	concurrency int
	logger      *slog.Logger
}

// New creates a scheduler with the given concurrency bound. Values below 1
// fall back to DefaultConcurrency. A nil logger uses slog.Default().
func New(concurrency int, logger *slog.Logger) *Scheduler {
	if concurrency < 1 {
		concurrency = DefaultConcurrency
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{concurrency: concurrency, logger: logger}
}

// Concurrency returns the configured batch size.
func (s *Scheduler) Concurrency() int {
	return s.concurrency
}

// RunAll executes every visible, unlocked unit in the given set.
//
// Hidden and locked units are filtered out before any batch is formed; a
// user must explicitly unlock a unit to make it eligible again. The
// remaining units are partitioned into consecutive batches of the
// configured size, executed strictly in order. Within a batch all units are
// dispatched together and all are awaited before the next batch starts.
//
// Per-unit transitions go through apply: IsRunning=true with the previous
// result cleared before dispatch, then IsRunning=false with the resolved
// Result on completion — each unit independently, without waiting for
// batch siblings.
//
// RunAll does not guard against overlapping invocations for the same
// units; callers are expected to reject run requests while any unit is
// still in flight. When ctx is done the scheduler stops submitting new
// batches; units already dispatched run to completion.
func (s *Scheduler) RunAll(ctx context.Context, units []unit.Unit, locked LockedFunc, run RunFunc, apply ApplyFunc) {
	ctx, span := tracer.Start(ctx, "schedule.RunAll")
	defer span.End()

	eligible := make([]unit.Unit, 0, len(units))
	skippedLocked := 0
	for _, u := range units {
		if !u.Visible {
			continue
		}
		if locked != nil && locked(u) {
			skippedLocked++
			continue
		}
		eligible = append(eligible, u)
	}
	span.SetAttributes(
		attribute.Int("eligible", len(eligible)),
		attribute.Int("skipped_locked", skippedLocked),
		attribute.Int("concurrency", s.concurrency),
	)
	s.logger.Info("scheduling generation runs",
		"eligible", len(eligible),
		"skipped_locked", skippedLocked,
		"concurrency", s.concurrency,
	)

	for start := 0; start < len(eligible); start += s.concurrency {
		if ctx.Err() != nil {
			s.logger.Warn("run cancelled, remaining batches not submitted",
				"remaining", len(eligible)-start)
			span.SetAttributes(attribute.Bool("cancelled", true))
			return
		}
		end := start + s.concurrency
		if end > len(eligible) {
			end = len(eligible)
		}
		s.runBatch(ctx, eligible[start:end], run, apply)
		batchesTotal.Inc()
	}
}

// RunOne executes a single unit with the same transition rules as RunAll.
// A locked or hidden unit is a no-op.
func (s *Scheduler) RunOne(ctx context.Context, u unit.Unit, locked LockedFunc, run RunFunc, apply ApplyFunc) {
	s.RunAll(ctx, []unit.Unit{u}, locked, run, apply)
}

func (s *Scheduler) runBatch(ctx context.Context, batch []unit.Unit, run RunFunc, apply ApplyFunc) {
	// Publish the in-flight transition for the whole batch before any
	// dispatch, so observers never see stale results next to a spinner.
	for i := range batch {
		batch[i].IsRunning = true
		batch[i].Result = nil
		apply(batch[i])
	}

	g, ctx := errgroup.WithContext(ctx)
	for i := range batch {
		u := batch[i]
		g.Go(func() error {
			unitsInFlight.Inc()
			defer unitsInFlight.Dec()

			start := time.Now()
			res := run(ctx, u)
			runDuration.Observe(time.Since(start).Seconds())

			outcome := "success"
			if !res.Success {
				outcome = "error"
				if res.IsValidationFailure {
					outcome = "validation_failure"
				}
			}
			runsTotal.WithLabelValues(outcome).Inc()

			u.IsRunning = false
			u.Result = &res
			apply(u)

			if !res.Success {
				s.logger.Warn("generation run failed",
					"unit", u.Name,
					"error", res.Err,
					"validation_failure", res.IsValidationFailure,
				)
			}
			return nil
		})
	}
	// RunFunc never errors; Wait is purely a batch barrier.
	_ = g.Wait()
}

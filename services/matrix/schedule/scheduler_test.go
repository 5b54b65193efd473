// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package schedule

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/matrixlab/services/matrix/unit"
)

func makeUnits(n int) []unit.Unit {
	units := make([]unit.Unit, n)
	for i := range units {
		units[i] = unit.Unit{
			ID:      fmt.Sprintf("id-%d", i),
			Name:    fmt.Sprintf("unit-%d", i),
			Visible: true,
		}
	}
	return units
}

// recorder collects applied unit transitions in order.
type recorder struct {
	mu     sync.Mutex
	events []unit.Unit
}

func (r *recorder) apply(u unit.Unit) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, u)
}

func (r *recorder) snapshot() []unit.Unit {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]unit.Unit, len(r.events))
	copy(out, r.events)
	return out
}

// TestConcurrencyBound verifies no more than the configured number of
// units is ever in flight at once.
func TestConcurrencyBound(t *testing.T) {
	const bound = 3
	var active, peak int64

	run := func(ctx context.Context, u unit.Unit) unit.Result {
		n := atomic.AddInt64(&active, 1)
		for {
			p := atomic.LoadInt64(&peak)
			if n <= p || atomic.CompareAndSwapInt64(&peak, p, n) {
				break
			}
		}
		time.Sleep(10 * time.Millisecond)
		atomic.AddInt64(&active, -1)
		return unit.Result{Success: true}
	}

	rec := &recorder{}
	s := New(bound, nil)
	s.RunAll(context.Background(), makeUnits(10), nil, run, rec.apply)

	assert.LessOrEqual(t, atomic.LoadInt64(&peak), int64(bound))
	assert.Equal(t, int64(0), atomic.LoadInt64(&active))
}

// TestBatchOrdering verifies batch N+1 never starts before every unit of
// batch N has resolved: with 6 units and concurrency 3, unit 4 must not
// run while units 1–3 are still blocked.
func TestBatchOrdering(t *testing.T) {
	units := makeUnits(6)
	release := make(chan struct{})
	firstBatchRunning := make(chan struct{}, 3)

	var dispatched sync.Map
	run := func(ctx context.Context, u unit.Unit) unit.Result {
		dispatched.Store(u.ID, true)
		if u.ID == "id-0" || u.ID == "id-1" || u.ID == "id-2" {
			firstBatchRunning <- struct{}{}
			<-release
		}
		return unit.Result{Success: true}
	}

	rec := &recorder{}
	done := make(chan struct{})
	go func() {
		New(3, nil).RunAll(context.Background(), units, nil, run, rec.apply)
		close(done)
	}()

	// Wait until the whole first batch is in flight.
	for i := 0; i < 3; i++ {
		select {
		case <-firstBatchRunning:
		case <-time.After(2 * time.Second):
			t.Fatal("first batch did not start")
		}
	}
	// The second batch must not have been dispatched yet.
	_, ok := dispatched.Load("id-3")
	assert.False(t, ok, "unit 4 dispatched before batch 1 resolved")

	close(release)
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("run did not complete")
	}

	for i := 0; i < 6; i++ {
		_, ok := dispatched.Load(fmt.Sprintf("id-%d", i))
		assert.True(t, ok, "unit %d never dispatched", i)
	}
}

// TestTransitionSequence verifies each unit is published as in-flight with
// its previous result cleared before running, then as resolved.
func TestTransitionSequence(t *testing.T) {
	units := makeUnits(1)
	units[0].Result = &unit.Result{Success: true, Payload: "stale"}

	rec := &recorder{}
	run := func(ctx context.Context, u unit.Unit) unit.Result {
		return unit.Result{Success: true, Payload: "fresh"}
	}
	New(1, nil).RunAll(context.Background(), units, nil, run, rec.apply)

	events := rec.snapshot()
	require.Len(t, events, 2)

	assert.True(t, events[0].IsRunning)
	assert.Nil(t, events[0].Result, "stale result must be cleared before dispatch")

	assert.False(t, events[1].IsRunning)
	require.NotNil(t, events[1].Result)
	assert.Equal(t, "fresh", events[1].Result.Payload)
}

// TestSkipsLockedAndHidden verifies locked and hidden units are filtered
// before any batch forms.
func TestSkipsLockedAndHidden(t *testing.T) {
	units := makeUnits(4)
	units[1].Visible = false
	locked := func(u unit.Unit) bool { return u.ID == "id-2" }

	var ran sync.Map
	run := func(ctx context.Context, u unit.Unit) unit.Result {
		ran.Store(u.ID, true)
		return unit.Result{Success: true}
	}
	rec := &recorder{}
	New(2, nil).RunAll(context.Background(), units, locked, run, rec.apply)

	_, hidden := ran.Load("id-1")
	_, lockedRan := ran.Load("id-2")
	assert.False(t, hidden, "hidden unit must not run")
	assert.False(t, lockedRan, "locked unit must not run")
	_, ok0 := ran.Load("id-0")
	_, ok3 := ran.Load("id-3")
	assert.True(t, ok0)
	assert.True(t, ok3)

	// No transitions published for filtered units either.
	for _, e := range rec.snapshot() {
		assert.NotEqual(t, "id-1", e.ID)
		assert.NotEqual(t, "id-2", e.ID)
	}
}

// TestFailureIsolation verifies one failing unit in a batch does not
// affect its siblings and the batch completes.
func TestFailureIsolation(t *testing.T) {
	units := makeUnits(3)
	run := func(ctx context.Context, u unit.Unit) unit.Result {
		if u.ID == "id-1" {
			return unit.Result{Success: false, Err: "HTTP 500"}
		}
		return unit.Result{Success: true, Payload: "ok"}
	}

	rec := &recorder{}
	New(3, nil).RunAll(context.Background(), units, nil, run, rec.apply)

	final := make(map[string]unit.Unit)
	for _, e := range rec.snapshot() {
		if !e.IsRunning {
			final[e.ID] = e
		}
	}
	require.Len(t, final, 3)
	assert.False(t, final["id-1"].Result.Success)
	assert.Equal(t, "HTTP 500", final["id-1"].Result.Err)
	assert.True(t, final["id-0"].Result.Success)
	assert.True(t, final["id-2"].Result.Success)
}

// TestRunOne verifies single-unit runs use the same transition rules.
func TestRunOne(t *testing.T) {
	rec := &recorder{}
	run := func(ctx context.Context, u unit.Unit) unit.Result {
		return unit.Result{Success: true}
	}
	New(3, nil).RunOne(context.Background(), makeUnits(1)[0], nil, run, rec.apply)

	events := rec.snapshot()
	require.Len(t, events, 2)
	assert.True(t, events[0].IsRunning)
	assert.False(t, events[1].IsRunning)
}

// TestCancelledContextStopsNewBatches verifies a done context prevents
// further batch submission.
func TestCancelledContextStopsNewBatches(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	var ran int64
	run := func(ctx context.Context, u unit.Unit) unit.Result {
		atomic.AddInt64(&ran, 1)
		return unit.Result{Success: true}
	}
	rec := &recorder{}
	New(2, nil).RunAll(ctx, makeUnits(4), nil, run, rec.apply)

	assert.Equal(t, int64(0), atomic.LoadInt64(&ran))
}

// TestDefaultConcurrency verifies out-of-range bounds fall back to the
// default.
func TestDefaultConcurrency(t *testing.T) {
	assert.Equal(t, DefaultConcurrency, New(0, nil).Concurrency())
	assert.Equal(t, DefaultConcurrency, New(-5, nil).Concurrency())
	assert.Equal(t, 7, New(7, nil).Concurrency())
}

// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package matrix ties the engine together: dimension edits regenerate the
// unit set, runs go through the scheduler with lock-aware filtering, and
// the snapshot store overrides live results until a key is unlocked.
//
// Pipeline is explicit, passed-down state; the package keeps no globals.
// The unit slice is treated as an immutable snapshot per update: every
// mutation (run start, run completion, regeneration) builds a new slice
// and swaps it under the lock, so readers never observe a torn write.
package matrix

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/AleutianAI/matrixlab/services/matrix/combine"
	"github.com/AleutianAI/matrixlab/services/matrix/schedule"
	"github.com/AleutianAI/matrixlab/services/matrix/snapshot"
	"github.com/AleutianAI/matrixlab/services/matrix/thread"
	"github.com/AleutianAI/matrixlab/services/matrix/unit"
	"github.com/AleutianAI/matrixlab/services/matrix/view"
)

var (
	// ErrUnitNotFound is returned when no live unit has the given id.
	ErrUnitNotFound = errors.New("execution unit not found")

	// ErrDimensionNotFound is returned for edits on an unknown dimension.
	ErrDimensionNotFound = errors.New("dimension not found")

	// ErrNoResult is returned when locking a unit that has never run.
	ErrNoResult = errors.New("unit has no result to lock")
)

// Pipeline holds the live state of one parameter matrix.
type Pipeline struct {
	namespace string
	store     *snapshot.Store
	sched     *schedule.Scheduler
	run       schedule.RunFunc
	logger    *slog.Logger

	mu    sync.RWMutex
	dims  []thread.StageThreadList
	units []unit.Unit
}

// NewPipeline creates a pipeline over the given dimensions and derives the
// initial unit set. The namespace scopes snapshot keys so several
// pipelines can share one store. A nil logger uses slog.Default().
func NewPipeline(namespace string, dims []thread.StageThreadList, store *snapshot.Store, sched *schedule.Scheduler, run schedule.RunFunc, logger *slog.Logger) *Pipeline {
	if logger == nil {
		logger = slog.Default()
	}
	p := &Pipeline{
		namespace: namespace,
		store:     store,
		sched:     sched,
		run:       run,
		logger:    logger,
		dims:      thread.CloneAll(dims),
	}
	p.units = combine.Generate(context.Background(), p.dims, nil)
	return p
}

// Dimensions returns a deep copy of the dimension lists, in order.
func (p *Pipeline) Dimensions() []thread.StageThreadList {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return thread.CloneAll(p.dims)
}

// Units returns a deep copy of the current unit set, in generator order.
func (p *Pipeline) Units() []unit.Unit {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return unit.CloneAll(p.units)
}

// UnitByID returns a copy of the live unit with the given id.
func (p *Pipeline) UnitByID(id string) (unit.Unit, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	for _, u := range p.units {
		if u.ID == id {
			return u.Clone(), true
		}
	}
	return unit.Unit{}, false
}

// Busy reports whether any unit has a generation call in flight. Callers
// must not trigger a new run while Busy; the scheduler does not guard
// against overlapping runs itself.
func (p *Pipeline) Busy() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	for _, u := range p.units {
		if u.IsRunning {
			return true
		}
	}
	return false
}

// EditDimension applies an edit to the dimension with the given key and
// regenerates the unit set. Units whose composite name survives the edit
// keep their id, running flag, and result; the rest are created fresh or
// destroyed implicitly.
func (p *Pipeline) EditDimension(key string, edit func(*thread.StageThreadList) error) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	dims := thread.CloneAll(p.dims)
	idx := -1
	for i := range dims {
		if dims[i].Key == key {
			idx = i
			break
		}
	}
	if idx < 0 {
		return ErrDimensionNotFound
	}
	if err := edit(&dims[idx]); err != nil {
		return err
	}

	p.dims = dims
	p.units = combine.Generate(context.Background(), p.dims, p.units)
	p.logger.Debug("dimension edited, units regenerated",
		"dimension", key, "units", len(p.units))
	return nil
}

// SetDimensions replaces all dimension lists (config reload) and
// regenerates units with identity preservation.
func (p *Pipeline) SetDimensions(dims []thread.StageThreadList) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.dims = thread.CloneAll(dims)
	p.units = combine.Generate(context.Background(), p.dims, p.units)
	p.logger.Info("dimensions replaced, units regenerated", "units", len(p.units))
}

// applyUnit publishes a scheduler state transition by swapping the unit
// into a fresh slice. Updates for units destroyed by a concurrent
// regeneration are dropped.
func (p *Pipeline) applyUnit(u unit.Unit) {
	p.mu.Lock()
	defer p.mu.Unlock()
	next := make([]unit.Unit, len(p.units))
	copy(next, p.units)
	for i := range next {
		if next[i].ID == u.ID {
			next[i] = u.Clone()
			p.units = next
			return
		}
	}
	p.logger.Debug("dropping state update for destroyed unit", "unit", u.Name)
}

// KeyFor returns the unit's snapshot key: namespace plus ordered variant
// names. Stable across regeneration.
func (p *Pipeline) KeyFor(u unit.Unit) string {
	return snapshot.KeyFor(p.namespace, u.Names())
}

func (p *Pipeline) isLocked(u unit.Unit) bool {
	return p.store.IsLocked(p.KeyFor(u))
}

// metaFor captures the unit's current inputs and output for drift
// comparison.
func (p *Pipeline) metaFor(u unit.Unit) snapshot.SourceMeta {
	meta := snapshot.SourceMeta{
		Names:    u.Names(),
		Payloads: make(map[string]string, len(u.Refs)),
	}
	for _, ref := range u.Refs {
		meta.Payloads[ref.DimensionKey] = ref.Variant.Payload
	}
	if u.Result != nil {
		meta.Content = u.Result.Payload
		if u.Result.Usage != nil {
			usage := *u.Result.Usage
			meta.Usage = &usage
		}
	}
	return meta
}

// Lock freezes the unit's current result in the snapshot store. The unit
// must have run at least once.
func (p *Pipeline) Lock(id string) error {
	u, ok := p.UnitByID(id)
	if !ok {
		return ErrUnitNotFound
	}
	if u.Result == nil {
		return ErrNoResult
	}
	p.store.Lock(p.KeyFor(u), *u.Result, p.metaFor(u))
	return nil
}

// Unlock releases the unit's snapshot; reads fall back to the live result
// and the unit becomes eligible for scheduling again.
func (p *Pipeline) Unlock(id string) error {
	u, ok := p.UnitByID(id)
	if !ok {
		return ErrUnitNotFound
	}
	p.store.Unlock(p.KeyFor(u))
	return nil
}

// EffectiveResult returns the result the grid should display for a unit:
// the frozen snapshot when locked, the live result otherwise.
func (p *Pipeline) EffectiveResult(u unit.Unit) (*unit.Result, bool) {
	if snap := p.store.Read(p.KeyFor(u)); snap != nil {
		r := snap.Result
		return &r, true
	}
	return u.Result, false
}

// Drifted reports whether a locked unit's live inputs or result diverged
// from its snapshot. Always false for unlocked units.
func (p *Pipeline) Drifted(u unit.Unit) bool {
	return p.store.HasDrifted(p.KeyFor(u), p.metaFor(u))
}

// RunAll executes every visible, unlocked unit. Blocks until all batches
// have resolved.
func (p *Pipeline) RunAll(ctx context.Context) {
	p.sched.RunAll(ctx, p.Units(), p.isLocked, p.run, p.applyUnit)
}

// RunUnit executes a single unit by id with the same transition rules.
func (p *Pipeline) RunUnit(ctx context.Context, id string) error {
	u, ok := p.UnitByID(id)
	if !ok {
		return ErrUnitNotFound
	}
	p.sched.RunOne(ctx, u, p.isLocked, p.run, p.applyUnit)
	return nil
}

// RunSelected executes the units with the given ids, honoring the same
// visibility and lock rules as RunAll. Unknown ids are ignored.
func (p *Pipeline) RunSelected(ctx context.Context, ids []string) {
	want := make(map[string]bool, len(ids))
	for _, id := range ids {
		want[id] = true
	}
	var selected []unit.Unit
	for _, u := range p.Units() {
		if want[u.ID] {
			selected = append(selected, u)
		}
	}
	p.sched.RunAll(ctx, selected, p.isLocked, p.run, p.applyUnit)
}

// Row is one grid entry: the live unit plus its lock-aware display state.
type Row struct {
	Unit      unit.Unit    `json:"unit"`
	Locked    bool         `json:"locked"`
	Drifted   bool         `json:"drifted"`
	Effective *unit.Result `json:"effective_result,omitempty"`
}

// Grid returns the lock-aware unit list, sorted by the given key (see
// view.SortedView). Locked units show the frozen result and never a
// running state; drifted locks are flagged but keep showing the frozen
// result until unlocked.
func (p *Pipeline) Grid(sortKey string) []Row {
	units := view.SortedView(p.Units(), sortKey)
	rows := make([]Row, len(units))
	for i, u := range units {
		res, locked := p.EffectiveResult(u)
		rows[i] = Row{
			Unit:      u,
			Locked:    locked,
			Effective: res,
		}
		if locked {
			rows[i].Unit.IsRunning = false
			rows[i].Drifted = p.Drifted(u)
		}
	}
	return rows
}

// SelectByDimensionValue returns the ids of units matching the given
// dimension value, for multi-select-by-column operations.
func (p *Pipeline) SelectByDimensionValue(dimensionKey, value string) []string {
	return view.SelectByDimensionValue(p.Units(), dimensionKey, value)
}

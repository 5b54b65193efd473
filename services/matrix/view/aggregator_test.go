// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package view

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/matrixlab/services/matrix/thread"
	"github.com/AleutianAI/matrixlab/services/matrix/unit"
)

func testUnit(id, model, prompt string) unit.Unit {
	return unit.Unit{
		ID:   id,
		Name: model + unit.NameSeparator + prompt,
		Refs: []unit.Ref{
			{DimensionKey: "model", Variant: thread.Variant{ID: id + "-m", Name: model, Visible: true}},
			{DimensionKey: "prompt", Variant: thread.Variant{ID: id + "-p", Name: prompt, Visible: true}},
		},
		Visible: true,
	}
}

// TestSortedViewByDimension verifies lexicographic sorting by a
// dimension's variant name, with stable ties.
func TestSortedViewByDimension(t *testing.T) {
	units := []unit.Unit{
		testUnit("1", "zeta", "p1"),
		testUnit("2", "alpha", "p2"),
		testUnit("3", "alpha", "p1"),
	}

	sorted := SortedView(units, "model")
	require.Len(t, sorted, 3)
	assert.Equal(t, "2", sorted[0].ID, "ties keep original order")
	assert.Equal(t, "3", sorted[1].ID)
	assert.Equal(t, "1", sorted[2].ID)

	// Input order untouched.
	assert.Equal(t, "1", units[0].ID)
}

// TestSortedViewByStatus verifies the synthetic ordering: running,
// success, error, not-run.
func TestSortedViewByStatus(t *testing.T) {
	notRun := testUnit("not-run", "a", "p")
	failed := testUnit("failed", "b", "p")
	failed.Result = &unit.Result{Success: false, Err: "HTTP 500"}
	succeeded := testUnit("succeeded", "c", "p")
	succeeded.Result = &unit.Result{Success: true, Payload: "ok"}
	running := testUnit("running", "d", "p")
	running.IsRunning = true

	sorted := SortedView([]unit.Unit{notRun, failed, succeeded, running}, SortByStatus)
	got := []string{sorted[0].ID, sorted[1].ID, sorted[2].ID, sorted[3].ID}
	assert.Equal(t, []string{"running", "succeeded", "failed", "not-run"}, got)
}

// TestSortedViewUnknownKey verifies unknown keys fall back to generator
// order.
func TestSortedViewUnknownKey(t *testing.T) {
	units := []unit.Unit{testUnit("1", "b", "p"), testUnit("2", "a", "p")}
	sorted := SortedView(units, "nonexistent")
	assert.Equal(t, "1", sorted[0].ID)
	assert.Equal(t, "2", sorted[1].ID)
}

// TestSelectByDimensionValue verifies selection returns matching unit ids
// in unit order.
func TestSelectByDimensionValue(t *testing.T) {
	units := []unit.Unit{
		testUnit("1", "gpt-4o", "p1"),
		testUnit("2", "gpt-4o-mini", "p1"),
		testUnit("3", "gpt-4o", "p2"),
	}

	assert.Equal(t, []string{"1", "3"}, SelectByDimensionValue(units, "model", "gpt-4o"))
	assert.Equal(t, []string{"1", "2"}, SelectByDimensionValue(units, "prompt", "p1"))
	assert.Empty(t, SelectByDimensionValue(units, "model", "claude"))
	assert.Empty(t, SelectByDimensionValue(units, "missing", "gpt-4o"))
}

// TestToggleSelection verifies the select-all-or-none pattern.
func TestToggleSelection(t *testing.T) {
	proposed := []string{"1", "3"}

	assert.Equal(t, proposed, ToggleSelection(nil, proposed), "new selection applies")
	assert.Nil(t, ToggleSelection([]string{"3", "1"}, proposed), "identical selection clears, order-insensitive")
	assert.Equal(t, proposed, ToggleSelection([]string{"1"}, proposed), "different selection replaces")
}

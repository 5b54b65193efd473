// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package combine derives the set of ExecutionUnits from the current
// dimension lists: the full cartesian product of visible variants, with
// identity carried forward by composite name.
package combine

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/google/uuid"

	"github.com/AleutianAI/matrixlab/services/matrix/thread"
	"github.com/AleutianAI/matrixlab/services/matrix/unit"
)

var tracer = otel.Tracer("matrix.combine")

// Generate produces the cartesian product of visible variants across the
// given dimensions, in dimension order (first dimension outermost, last
// innermost). Variant order within each dimension is preserved, so the
// output order is deterministic for the same inputs.
//
// Identity preservation: a generated combination whose composite name
// exactly matches a unit in previous carries forward that unit's ID,
// IsRunning, and Result. New composite names get a fresh id and no result.
// If two previous units share a name (possible when two variants in one
// dimension share a display name), the first match wins.
//
// An empty visible set in any dimension yields an empty product; there are
// no partial placeholders.
func Generate(ctx context.Context, dimensions []thread.StageThreadList, previous []unit.Unit) []unit.Unit {
	_, span := tracer.Start(ctx, "combine.Generate")
	defer span.End()

	visible := make([][]thread.Variant, len(dimensions))
	total := 1
	for i, dim := range dimensions {
		visible[i] = dim.Visible()
		total *= len(visible[i])
	}
	if len(dimensions) == 0 {
		total = 0
	}
	span.SetAttributes(
		attribute.Int("dimensions", len(dimensions)),
		attribute.Int("combinations", total),
	)
	if total == 0 {
		return nil
	}

	// First-match-wins lookup by composite name.
	prevByName := make(map[string]*unit.Unit, len(previous))
	for i := range previous {
		if _, ok := prevByName[previous[i].Name]; !ok {
			prevByName[previous[i].Name] = &previous[i]
		}
	}

	units := make([]unit.Unit, 0, total)
	indices := make([]int, len(dimensions))
	names := make([]string, len(dimensions))
	for {
		refs := make([]unit.Ref, len(dimensions))
		for d, idx := range indices {
			v := visible[d][idx]
			refs[d] = unit.Ref{DimensionKey: dimensions[d].Key, Variant: v}
			names[d] = v.Name
		}
		name := unit.CompositeName(names)

		u := unit.Unit{
			ID:      uuid.NewString(),
			Name:    name,
			Refs:    refs,
			Visible: true,
		}
		if prev, ok := prevByName[name]; ok {
			u.ID = prev.ID
			u.IsRunning = prev.IsRunning
			if prev.Result != nil {
				r := *prev.Result
				u.Result = &r
			}
		}
		units = append(units, u)

		// Odometer increment, last dimension fastest.
		d := len(indices) - 1
		for d >= 0 {
			indices[d]++
			if indices[d] < len(visible[d]) {
				break
			}
			indices[d] = 0
			d--
		}
		if d < 0 {
			break
		}
	}
	return units
}

// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package view reorganizes the current unit set into sortable, selectable
// data for the grid. The rendered shape is the UI layer's concern; this
// package owns only the filtered, sorted, selection-aware unit list.
package view

import (
	"sort"

	"github.com/AleutianAI/matrixlab/services/matrix/unit"
)

// SortByStatus is the synthetic sort key ordering units by run state:
// running, then successful, then failed, then never-run. Ties preserve the
// generator's order.
const SortByStatus = "status"

// statusRank maps a unit to its status priority. Lower sorts first.
func statusRank(u unit.Unit) int {
	switch {
	case u.IsRunning:
		return 0
	case u.Result != nil && u.Result.Success:
		return 1
	case u.Result != nil:
		return 2
	default:
		return 3
	}
}

// SortedView returns a copy of units, stably sorted by the given key.
//
// SortByStatus sorts by run-state priority. Any other key is treated as a
// dimension key and sorts lexicographically by that dimension's variant
// name; units without the dimension keep their relative position at the
// front. An unknown key returns the units in generator order.
func SortedView(units []unit.Unit, sortKey string) []unit.Unit {
	out := unit.CloneAll(units)
	switch sortKey {
	case "":
		return out
	case SortByStatus:
		sort.SliceStable(out, func(i, j int) bool {
			return statusRank(out[i]) < statusRank(out[j])
		})
	default:
		sort.SliceStable(out, func(i, j int) bool {
			vi, _ := out[i].VariantOn(sortKey)
			vj, _ := out[j].VariantOn(sortKey)
			return vi.Name < vj.Name
		})
	}
	return out
}

// SelectByDimensionValue returns the ids of every unit whose variant on
// dimensionKey has the given display name, in unit order.
func SelectByDimensionValue(units []unit.Unit, dimensionKey, value string) []string {
	var ids []string
	for _, u := range units {
		if v, ok := u.VariantOn(dimensionKey); ok && v.Name == value {
			ids = append(ids, u.ID)
		}
	}
	return ids
}

// ToggleSelection applies the select-all-or-none pattern: if the proposed
// selection is identical to the current one, the selection clears;
// otherwise the proposal replaces it.
func ToggleSelection(current, proposed []string) []string {
	if sameIDSet(current, proposed) {
		return nil
	}
	return proposed
}

func sameIDSet(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	seen := make(map[string]bool, len(a))
	for _, id := range a {
		seen[id] = true
	}
	for _, id := range b {
		if !seen[id] {
			return false
		}
	}
	return true
}

// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package unit defines the shared data model for the matrix engine: one
// ExecutionUnit per point in the cartesian product of visible variants,
// plus the Result a generation call produces for it.
//
// Units are derived, ephemeral state. They are regenerated whenever a
// dimension is edited and are never persisted on their own; identity across
// regenerations is carried by the composite Name, not the ID.
package unit

import (
	"strings"

	"github.com/AleutianAI/matrixlab/services/matrix/thread"
)

// NameSeparator joins variant names into a unit's composite name, in fixed
// dimension order. Snapshot keys embed the same separator, so a lock survives
// regeneration exactly when the same variant names recombine.
const NameSeparator = " × "

// Usage holds token counters reported by the generation endpoint.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// Result is the outcome of one generation call for one unit.
//
// A Result is always a resolved value: the generation boundary converts
// network failures, non-success statuses, and malformed responses into
// Success=false Results rather than errors. Results are immutable once
// written; a re-run replaces the whole value.
type Result struct {
	// Success reports whether the generation call produced usable output.
	Success bool `json:"success"`

	// Payload is the generated output. Empty when Success is false.
	Payload string `json:"payload,omitempty"`

	// Err describes the failure. Empty when Success is true.
	Err string `json:"error,omitempty"`

	// DurationSeconds is the wall-clock time of the generation call.
	DurationSeconds float64 `json:"duration_seconds"`

	// Usage holds token counters when the endpoint reports them.
	Usage *Usage `json:"usage,omitempty"`

	// IsValidationFailure marks failures where the endpoint responded but
	// the output did not satisfy the requested schema.
	IsValidationFailure bool `json:"is_validation_failure,omitempty"`
}

// Ref binds a unit to the variant chosen for one dimension.
type Ref struct {
	DimensionKey string         `json:"dimension_key"`
	Variant      thread.Variant `json:"variant"`
}

// Unit is one point in the cartesian product of visible variants.
type Unit struct {
	// ID is an opaque identifier, regenerated only when the composite
	// name is new. Not stable across renames.
	ID string `json:"id"`

	// Name is the composite display name: variant names joined with
	// NameSeparator in dimension order.
	Name string `json:"name"`

	// Refs holds one variant per dimension, in dimension order.
	Refs []Ref `json:"refs"`

	// Visible is true when every referenced variant is visible. Generated
	// units are always visible; the field exists so callers can hide a
	// unit without destroying its result.
	Visible bool `json:"visible"`

	// IsRunning is true while a generation call is in flight.
	IsRunning bool `json:"is_running"`

	// Result is the latest generation outcome, or nil if never run.
	Result *Result `json:"result,omitempty"`
}

// CompositeName joins variant names with NameSeparator.
func CompositeName(names []string) string {
	return strings.Join(names, NameSeparator)
}

// Names returns the unit's variant names in dimension order.
func (u Unit) Names() []string {
	names := make([]string, len(u.Refs))
	for i, ref := range u.Refs {
		names[i] = ref.Variant.Name
	}
	return names
}

// VariantOn returns the variant the unit references on the given dimension.
func (u Unit) VariantOn(dimensionKey string) (thread.Variant, bool) {
	for _, ref := range u.Refs {
		if ref.DimensionKey == dimensionKey {
			return ref.Variant, true
		}
	}
	return thread.Variant{}, false
}

// PayloadOn returns the payload of the variant on the given dimension, or
// the empty string if the dimension is absent.
func (u Unit) PayloadOn(dimensionKey string) string {
	v, ok := u.VariantOn(dimensionKey)
	if !ok {
		return ""
	}
	return v.Payload
}

// Clone returns a deep copy of the unit. The engine treats unit slices as
// immutable snapshots; every mutation clones first and swaps the slice.
func (u Unit) Clone() Unit {
	out := u
	out.Refs = make([]Ref, len(u.Refs))
	copy(out.Refs, u.Refs)
	if u.Result != nil {
		r := *u.Result
		if u.Result.Usage != nil {
			usage := *u.Result.Usage
			r.Usage = &usage
		}
		out.Result = &r
	}
	return out
}

// CloneAll deep-copies a unit slice.
func CloneAll(units []Unit) []Unit {
	out := make([]Unit, len(units))
	for i, u := range units {
		out[i] = u.Clone()
	}
	return out
}

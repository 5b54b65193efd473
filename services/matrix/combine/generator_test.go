// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package combine

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/matrixlab/services/matrix/thread"
	"github.com/AleutianAI/matrixlab/services/matrix/unit"
)

func dimension(key string, names ...string) thread.StageThreadList {
	list := thread.New(key, key)
	for _, name := range names {
		list.Append(thread.NewVariant(name, "payload of "+name))
	}
	return list
}

// TestGenerateProductCountAndOrder verifies the 2×1×3 scenario: six units,
// composite names joined with the separator, model outermost and prompt
// innermost.
func TestGenerateProductCountAndOrder(t *testing.T) {
	dims := []thread.StageThreadList{
		dimension("model", "gpt-4o", "gpt-4o-mini"),
		dimension("system", "default"),
		dimension("prompt", "p1", "p2", "p3"),
	}

	units := Generate(context.Background(), dims, nil)
	require.Len(t, units, 6)

	want := []string{
		"gpt-4o × default × p1",
		"gpt-4o × default × p2",
		"gpt-4o × default × p3",
		"gpt-4o-mini × default × p1",
		"gpt-4o-mini × default × p2",
		"gpt-4o-mini × default × p3",
	}
	for i, u := range units {
		assert.Equal(t, want[i], u.Name)
		assert.True(t, u.Visible)
		assert.False(t, u.IsRunning)
		assert.Nil(t, u.Result)
		assert.Len(t, u.Refs, 3)
	}
}

// TestGenerateEmptyDimension verifies an empty visible set in any
// dimension yields zero units, with no partial placeholders.
func TestGenerateEmptyDimension(t *testing.T) {
	dims := []thread.StageThreadList{
		dimension("model", "gpt-4o"),
		dimension("prompt"), // no variants
	}
	assert.Empty(t, Generate(context.Background(), dims, nil))

	// All variants hidden behaves the same as no variants.
	dims[1] = dimension("prompt", "p1")
	require.NoError(t, dims[1].SetVisible(dims[1].Variants[0].ID, false))
	assert.Empty(t, Generate(context.Background(), dims, nil))

	assert.Empty(t, Generate(context.Background(), nil, nil))
}

// TestGenerateDeterminism verifies identical inputs produce identical
// ordered output.
func TestGenerateDeterminism(t *testing.T) {
	dims := []thread.StageThreadList{
		dimension("model", "b", "a"), // source order, not sorted
		dimension("prompt", "p2", "p1"),
	}
	first := Generate(context.Background(), dims, nil)
	second := Generate(context.Background(), dims, first)

	require.Len(t, first, 4)
	assert.Equal(t, "b × p2", first[0].Name, "variant order is preserved from the source list")
	for i := range first {
		assert.Equal(t, first[i].Name, second[i].Name)
		assert.Equal(t, first[i].ID, second[i].ID)
	}
}

// TestGenerateIdentityPreservation verifies payload-only edits keep every
// unit's id, running flag, and result.
func TestGenerateIdentityPreservation(t *testing.T) {
	dims := []thread.StageThreadList{
		dimension("model", "a", "b"),
		dimension("prompt", "p1", "p2"),
	}
	previous := Generate(context.Background(), dims, nil)
	previous[1].IsRunning = true
	previous[2].Result = &unit.Result{Success: true, Payload: "kept"}

	// Payload edits do not change composite names.
	require.NoError(t, dims[0].SetPayload(dims[0].Variants[0].ID, "new payload"))
	regenerated := Generate(context.Background(), dims, previous)

	require.Len(t, regenerated, 4)
	for i := range previous {
		assert.Equal(t, previous[i].ID, regenerated[i].ID)
	}
	assert.True(t, regenerated[1].IsRunning)
	require.NotNil(t, regenerated[2].Result)
	assert.Equal(t, "kept", regenerated[2].Result.Payload)

	// The regenerated unit carries the edited payload.
	v, ok := regenerated[0].VariantOn("model")
	require.True(t, ok)
	assert.Equal(t, "new payload", v.Payload)
}

// TestGenerateVisibilityToggle verifies hiding a variant removes exactly
// its combinations and re-showing it yields fresh units with empty
// results for new names.
func TestGenerateVisibilityToggle(t *testing.T) {
	dims := []thread.StageThreadList{
		dimension("model", "a", "b"),
		dimension("prompt", "p1", "p2"),
	}
	previous := Generate(context.Background(), dims, nil)
	for i := range previous {
		previous[i].Result = &unit.Result{Success: true, Payload: previous[i].Name}
	}

	require.NoError(t, dims[0].SetVisible(dims[0].Variants[1].ID, false))
	hidden := Generate(context.Background(), dims, previous)
	require.Len(t, hidden, 2)
	for _, u := range hidden {
		v, _ := u.VariantOn("model")
		assert.Equal(t, "a", v.Name)
		require.NotNil(t, u.Result, "surviving combinations keep their results")
	}

	require.NoError(t, dims[0].SetVisible(dims[0].Variants[1].ID, true))
	restored := Generate(context.Background(), dims, hidden)
	require.Len(t, restored, 4)
	for _, u := range restored {
		v, _ := u.VariantOn("model")
		if v.Name == "b" {
			assert.Nil(t, u.Result, "re-created combinations start with empty results")
		} else {
			assert.NotNil(t, u.Result)
		}
	}
}

// TestGenerateRenameMintsNewIdentity verifies a rename changes the
// composite name and therefore drops the old identity.
func TestGenerateRenameMintsNewIdentity(t *testing.T) {
	dims := []thread.StageThreadList{
		dimension("model", "a"),
		dimension("prompt", "p1"),
	}
	previous := Generate(context.Background(), dims, nil)
	previous[0].Result = &unit.Result{Success: true, Payload: "old"}

	require.NoError(t, dims[1].Rename(dims[1].Variants[0].ID, "p1-renamed"))
	regenerated := Generate(context.Background(), dims, previous)

	require.Len(t, regenerated, 1)
	assert.Equal(t, "a × p1-renamed", regenerated[0].Name)
	assert.NotEqual(t, previous[0].ID, regenerated[0].ID)
	assert.Nil(t, regenerated[0].Result)
}

// TestGenerateNameCollisionFirstMatchWins documents the accepted ambiguity
// when two variants in one dimension share a display name: identity binds
// to the first previous unit with the matching composite name.
func TestGenerateNameCollisionFirstMatchWins(t *testing.T) {
	dims := []thread.StageThreadList{
		dimension("model", "dup", "dup"),
		dimension("prompt", "p"),
	}
	previous := Generate(context.Background(), dims, nil)
	require.Len(t, previous, 2)
	assert.Equal(t, previous[0].Name, previous[1].Name)
	previous[0].Result = &unit.Result{Success: true, Payload: "first"}
	previous[1].Result = &unit.Result{Success: true, Payload: "second"}

	regenerated := Generate(context.Background(), dims, previous)
	require.Len(t, regenerated, 2)
	for _, u := range regenerated {
		assert.Equal(t, previous[0].ID, u.ID)
		require.NotNil(t, u.Result)
		assert.Equal(t, "first", u.Result.Payload)
	}
}

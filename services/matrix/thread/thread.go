// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package thread models one dimension of the parameter matrix: an ordered
// list of named, individually toggleable variants (a "stage thread list").
//
// Variant order within a list is significant and preserved by every edit
// operation; the combination generator never sorts it.
package thread

import (
	"errors"

	"github.com/google/uuid"
)

// ErrVariantNotFound is returned by edit operations targeting an unknown id.
var ErrVariantNotFound = errors.New("variant not found")

// Variant is a single named option within a dimension.
//
// ID is unique within its list. Name need not be unique; it drives display
// and snapshot keys, so two same-named variants in one dimension make
// composite names ambiguous (the generator then binds identity to whichever
// previous unit matches first).
type Variant struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	Visible bool   `json:"visible"`

	// Payload is the dimension-specific content: a model identifier, a
	// system prompt, a user prompt template, input data, or a schema.
	Payload string `json:"payload"`
}

// NewVariant creates a visible variant with a fresh id.
func NewVariant(name, payload string) Variant {
	return Variant{
		ID:      uuid.NewString(),
		Name:    name,
		Visible: true,
		Payload: payload,
	}
}

// StageThreadList is an ordered collection of variants for one dimension.
type StageThreadList struct {
	// Key identifies the dimension (e.g. "model", "system", "prompt").
	Key string `json:"key"`

	// Label is the human-facing dimension name.
	Label string `json:"label"`

	Variants []Variant `json:"variants"`
}

// New creates an empty list for the given dimension key.
func New(key, label string) StageThreadList {
	return StageThreadList{Key: key, Label: label}
}

// Append adds a variant at the end of the list.
func (l *StageThreadList) Append(v Variant) {
	l.Variants = append(l.Variants, v)
}

// Remove deletes the variant with the given id, preserving order.
func (l *StageThreadList) Remove(id string) error {
	for i, v := range l.Variants {
		if v.ID == id {
			l.Variants = append(l.Variants[:i], l.Variants[i+1:]...)
			return nil
		}
	}
	return ErrVariantNotFound
}

// Rename changes a variant's display name. Renaming changes every composite
// name the variant participates in, so downstream units get fresh identity.
func (l *StageThreadList) Rename(id, name string) error {
	return l.update(id, func(v *Variant) { v.Name = name })
}

// SetVisible toggles a variant in or out of the cartesian product.
func (l *StageThreadList) SetVisible(id string, visible bool) error {
	return l.update(id, func(v *Variant) { v.Visible = visible })
}

// SetPayload replaces a variant's content. Payload edits do not change
// composite names, so existing units keep their identity and results.
func (l *StageThreadList) SetPayload(id, payload string) error {
	return l.update(id, func(v *Variant) { v.Payload = payload })
}

func (l *StageThreadList) update(id string, fn func(*Variant)) error {
	for i := range l.Variants {
		if l.Variants[i].ID == id {
			fn(&l.Variants[i])
			return nil
		}
	}
	return ErrVariantNotFound
}

// Find returns the variant with the given id.
func (l *StageThreadList) Find(id string) (Variant, bool) {
	for _, v := range l.Variants {
		if v.ID == id {
			return v, true
		}
	}
	return Variant{}, false
}

// Visible returns the visible variants in list order. The returned slice is
// a copy; mutating it does not affect the list.
func (l *StageThreadList) Visible() []Variant {
	out := make([]Variant, 0, len(l.Variants))
	for _, v := range l.Variants {
		if v.Visible {
			out = append(out, v)
		}
	}
	return out
}

// Clone returns a deep copy of the list.
func (l StageThreadList) Clone() StageThreadList {
	out := l
	out.Variants = make([]Variant, len(l.Variants))
	copy(out.Variants, l.Variants)
	return out
}

// CloneAll deep-copies a slice of lists.
func CloneAll(lists []StageThreadList) []StageThreadList {
	out := make([]StageThreadList, len(lists))
	for i, l := range lists {
		out[i] = l.Clone()
	}
	return out
}

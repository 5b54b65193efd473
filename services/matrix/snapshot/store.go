// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package snapshot implements the lock store: a durable key→Snapshot map
// that freezes a unit's Result independent of its live state.
//
// Keys derive from variant names, not unit ids, so a lock survives
// regeneration (reorders, reloads, added combinations) as long as the same
// names recombine. Each key is a two-state machine — unlocked ⇄ locked via
// Lock/Unlock — with "drifted" as a derived display flag, never stored.
//
// Locking is a best-effort convenience: every storage-medium failure is
// swallowed at this boundary and degrades to "no snapshot". A corrupt or
// unreadable record must never take down the execution pipeline.
package snapshot

import (
	"encoding/json"
	"log/slog"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/AleutianAI/matrixlab/services/matrix/unit"
)

var (
	locksTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "matrix_snapshot_locks_total",
		Help: "Lock store operations by type",
	}, []string{"op"})

	storageFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "matrix_snapshot_storage_failures_total",
		Help: "Storage-medium failures swallowed at the snapshot boundary",
	})
)

// namespaceSeparator splits the namespace from the name-derived portion of
// a key. The name portion reuses unit.NameSeparator so the key is exactly
// the namespaced composite name.
const namespaceSeparator = "::"

// Medium is the durable key-value backend. Implementations may be an
// embedded database, a file, or an in-memory map; the store only needs
// get/set/delete. Errors are tolerated: the store degrades rather than
// propagating them.
type Medium interface {
	// Get returns the stored value and whether the key exists.
	Get(key string) ([]byte, bool, error)
	Set(key string, value []byte) error
	Delete(key string) error
}

// SourceMeta captures the live inputs and output a snapshot was taken
// from. Drift detection compares a frozen SourceMeta against a freshly
// computed one, field by field.
type SourceMeta struct {
	// Names are the variant names in dimension order at lock time.
	Names []string `json:"names"`

	// Payloads maps dimension key to variant payload at lock time.
	Payloads map[string]string `json:"payloads,omitempty"`

	// Content is the result payload at lock time.
	Content string `json:"content,omitempty"`

	// Usage is the token usage at lock time, if reported.
	Usage *unit.Usage `json:"usage,omitempty"`
}

// Equal reports whether two metadata records match in every tracked field.
func (m SourceMeta) Equal(other SourceMeta) bool {
	if len(m.Names) != len(other.Names) {
		return false
	}
	for i := range m.Names {
		if m.Names[i] != other.Names[i] {
			return false
		}
	}
	if len(m.Payloads) != len(other.Payloads) {
		return false
	}
	for k, v := range m.Payloads {
		if other.Payloads[k] != v {
			return false
		}
	}
	if m.Content != other.Content {
		return false
	}
	switch {
	case m.Usage == nil && other.Usage == nil:
	case m.Usage == nil || other.Usage == nil:
		return false
	case *m.Usage != *other.Usage:
		return false
	}
	return true
}

// Snapshot is a frozen Result with the metadata it was derived from.
type Snapshot struct {
	Key      string      `json:"key"`
	Result   unit.Result `json:"result"`
	LockedAt time.Time   `json:"locked_at"`
	Source   SourceMeta  `json:"source"`
}

// Store is the lock store. Safe for concurrent use when the Medium is.
type Store struct {
	medium Medium
	logger *slog.Logger
	now    func() time.Time
}

// New creates a store over the given medium. A nil logger uses
// slog.Default().
func New(medium Medium, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{medium: medium, logger: logger, now: time.Now}
}

// KeyFor derives the stable snapshot key for a combination: the namespace
// plus the ordered variant names. Deterministic across process restarts
// and unit id regeneration.
func KeyFor(namespace string, orderedVariantNames []string) string {
	return namespace + namespaceSeparator + strings.Join(orderedVariantNames, unit.NameSeparator)
}

// Lock freezes the given result under key. Subsequent Reads return the
// frozen snapshot until Unlock. A medium failure leaves the key unlocked
// and is logged, not returned.
func (s *Store) Lock(key string, result unit.Result, meta SourceMeta) {
	snap := Snapshot{
		Key:      key,
		Result:   result,
		LockedAt: s.now(),
		Source:   meta,
	}
	data, err := json.Marshal(snap)
	if err != nil {
		s.storageFailure("marshal snapshot", key, err)
		return
	}
	if err := s.medium.Set(key, data); err != nil {
		s.storageFailure("write snapshot", key, err)
		return
	}
	locksTotal.WithLabelValues("lock").Inc()
	s.logger.Info("result locked", "key", key)
}

// Unlock deletes the snapshot for key; reads fall back to live results.
// Unlocking an unlocked key is a no-op.
func (s *Store) Unlock(key string) {
	if err := s.medium.Delete(key); err != nil {
		s.storageFailure("delete snapshot", key, err)
		return
	}
	locksTotal.WithLabelValues("unlock").Inc()
	s.logger.Info("result unlocked", "key", key)
}

// Read returns the snapshot for key, or nil if the key is unlocked.
// Medium failures and corrupt records read as absent.
func (s *Store) Read(key string) *Snapshot {
	data, ok, err := s.medium.Get(key)
	if err != nil {
		s.storageFailure("read snapshot", key, err)
		return nil
	}
	if !ok {
		return nil
	}
	var snap Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		s.storageFailure("decode snapshot", key, err)
		return nil
	}
	return &snap
}

// IsLocked reports whether key currently holds a snapshot.
func (s *Store) IsLocked(key string) bool {
	return s.Read(key) != nil
}

// HasDrifted reports whether the live state diverged from the snapshot
// since lock time. Returns false for unlocked keys.
func (s *Store) HasDrifted(key string, live SourceMeta) bool {
	snap := s.Read(key)
	if snap == nil {
		return false
	}
	return !snap.Source.Equal(live)
}

func (s *Store) storageFailure(op, key string, err error) {
	storageFailures.Inc()
	s.logger.Warn("snapshot storage failure, degrading to unlocked",
		"op", op, "key", key, "error", err)
}

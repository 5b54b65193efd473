// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package snapshot

import (
	"errors"
	"sync"

	badgerdb "github.com/dgraph-io/badger/v4"

	"github.com/AleutianAI/matrixlab/services/matrix/storage/badger"
)

// MapMedium is an in-memory Medium for tests and sessions that opt out of
// durable locks. Safe for concurrent use.
type MapMedium struct {
	mu sync.RWMutex
	m  map[string][]byte
}

// NewMapMedium creates an empty in-memory medium.
func NewMapMedium() *MapMedium {
	return &MapMedium{m: make(map[string][]byte)}
}

// Get implements Medium.
func (m *MapMedium) Get(key string) ([]byte, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.m[key]
	if !ok {
		return nil, false, nil
	}
	out := make([]byte, len(v))
	copy(out, v)
	return out, true, nil
}

// Set implements Medium.
func (m *MapMedium) Set(key string, value []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	v := make([]byte, len(value))
	copy(v, value)
	m.m[key] = v
	return nil
}

// Delete implements Medium.
func (m *MapMedium) Delete(key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.m, key)
	return nil
}

// BadgerMedium is the durable Medium backing the snapshot store across
// sessions. It does not own the database; callers open and close it.
type BadgerMedium struct {
	db *badger.DB
}

// NewBadgerMedium wraps an opened snapshot database.
func NewBadgerMedium(db *badger.DB) *BadgerMedium {
	return &BadgerMedium{db: db}
}

// Get implements Medium. A missing key is not an error.
func (b *BadgerMedium) Get(key string) ([]byte, bool, error) {
	var value []byte
	err := b.db.View(func(txn *badgerdb.Txn) error {
		item, err := txn.Get([]byte(key))
		if err != nil {
			return err
		}
		value, err = item.ValueCopy(nil)
		return err
	})
	if errors.Is(err, badgerdb.ErrKeyNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return value, true, nil
}

// Set implements Medium.
func (b *BadgerMedium) Set(key string, value []byte) error {
	return b.db.Update(func(txn *badgerdb.Txn) error {
		return txn.Set([]byte(key), value)
	})
}

// Delete implements Medium. Deleting a missing key is a no-op.
func (b *BadgerMedium) Delete(key string) error {
	return b.db.Update(func(txn *badgerdb.Txn) error {
		return txn.Delete([]byte(key))
	})
}

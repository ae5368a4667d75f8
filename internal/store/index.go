// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 FlatAuth Contributors

package store

import (
	"errors"

	"github.com/samber/oops"
)

// Index is a persisted key→id map backed by a single JSON object file.
// The whole map is loaded on every access; there are no partial reads.
type Index struct {
	store *Store
	path  string
}

// NewIndex creates an Index backed by the record at path.
func NewIndex(s *Store, path string) *Index {
	return &Index{store: s, path: path}
}

// Path returns the record path backing this index.
func (i *Index) Path() string {
	return i.path
}

// Get returns the id mapped to key. Returns ErrNotFound when either the
// index file or the key is absent.
func (i *Index) Get(key string) (string, error) {
	entries := map[string]string{}
	if err := i.store.Read(i.path, &entries); err != nil {
		return "", err
	}
	id, ok := entries[key]
	if !ok {
		return "", oops.Code("INDEX_KEY_NOT_FOUND").
			With("index", i.path).
			Wrap(ErrNotFound)
	}
	return id, nil
}

// Set maps key to id, creating the index file on first use.
// Returns ErrBusy when the index file is held by a concurrent writer.
func (i *Index) Set(key, id string) error {
	entries := map[string]string{}
	h, err := i.store.Open(i.path, true, &entries)
	if err != nil {
		return err
	}
	entries[key] = id
	return h.Save(&entries)
}

// SetIfAbsent maps key to id only when the key is unclaimed or already
// mapped to the same id. Returns ErrExists when another id holds the key,
// and ErrBusy when the index file is held by a concurrent writer.
func (i *Index) SetIfAbsent(key, id string) error {
	entries := map[string]string{}
	h, err := i.store.Open(i.path, true, &entries)
	if err != nil {
		return err
	}
	if existing, ok := entries[key]; ok && existing != id {
		h.Close()
		return oops.Code("INDEX_KEY_EXISTS").
			With("index", i.path).
			With("existing", existing).
			Wrap(ErrExists)
	}
	entries[key] = id
	return h.Save(&entries)
}

// Delete removes the mapping for key. Removing an absent key is a no-op.
// Returns ErrBusy when the index file is held by a concurrent writer.
func (i *Index) Delete(key string) error {
	entries := map[string]string{}
	h, err := i.store.Open(i.path, true, &entries)
	if err != nil {
		return err
	}
	if _, ok := entries[key]; !ok {
		h.Close()
		return nil
	}
	delete(entries, key)
	return h.Save(&entries)
}

// Snapshot returns a copy of all entries. A missing index file yields an
// empty map.
func (i *Index) Snapshot() (map[string]string, error) {
	entries := map[string]string{}
	if err := i.store.Read(i.path, &entries); err != nil {
		if errors.Is(err, ErrNotFound) {
			return map[string]string{}, nil
		}
		return nil, err
	}
	return entries, nil
}

// Replace atomically swaps the full index contents, used by the
// reconciliation sweep. Returns ErrBusy when the file is held.
func (i *Index) Replace(entries map[string]string) error {
	current := map[string]string{}
	h, err := i.store.Open(i.path, true, &current)
	if err != nil {
		return err
	}
	return h.Save(entries)
}

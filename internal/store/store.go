// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 FlatAuth Contributors

// Package store persists JSON-encoded records, one file per record, under a
// root directory. A per-path advisory guard gives cooperative single-writer
// semantics within the process: the second concurrent Open of the same path
// fails immediately with ErrBusy instead of queueing.
package store

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/samber/oops"
)

// ErrNotFound is returned when a record does not exist.
var ErrNotFound = errors.New("record not found")

// ErrBusy is returned when a record is already held open by another caller
// in this process. Callers decide whether to retry.
var ErrBusy = errors.New("record busy")

// ErrExists is returned when an index key is already claimed by a
// different id.
var ErrExists = errors.New("key exists")

// Store is a flat-file JSON record store rooted at a directory.
type Store struct {
	root string

	mu   sync.Mutex
	held map[string]struct{}
}

// New creates a Store rooted at dir, creating the directory if needed.
func New(dir string) (*Store, error) {
	if dir == "" {
		return nil, oops.Code("STORE_INVALID_ROOT").Errorf("root directory cannot be empty")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, oops.Code("STORE_INIT_FAILED").
			With("dir", dir).
			Wrap(err)
	}
	return &Store{
		root: dir,
		held: make(map[string]struct{}),
	}, nil
}

// Root returns the root directory of the store.
func (s *Store) Root() string {
	return s.root
}

func (s *Store) filePath(path string) string {
	return filepath.Join(s.root, filepath.FromSlash(path))
}

// acquire takes the advisory guard for path. Returns false if already held.
func (s *Store) acquire(path string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.held[path]; ok {
		return false
	}
	s.held[path] = struct{}{}
	return true
}

func (s *Store) release(path string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.held, path)
}

// Handle is a writable reference to an open record. Exactly one of Save or
// Close must be called to release the guard.
type Handle struct {
	store    *Store
	path     string
	released bool
}

// Path returns the record path this handle refers to.
func (h *Handle) Path() string {
	return h.path
}

// Save serializes v back to the record file and releases the guard.
func (h *Handle) Save(v any) error {
	if h.released {
		return oops.Code("STORE_HANDLE_RELEASED").
			With("path", h.path).
			Errorf("handle already released")
	}
	h.released = true
	defer h.store.release(h.path)
	return h.store.write(h.path, v)
}

// Close releases the guard without writing.
func (h *Handle) Close() {
	if h.released {
		return
	}
	h.released = true
	h.store.release(h.path)
}

// Open loads the record at path into v and returns a writable handle.
// If the record is missing and create is true, v is persisted as the initial
// value; if create is false, Open returns ErrNotFound. Open returns ErrBusy
// without waiting when another caller holds the path.
func (s *Store) Open(path string, create bool, v any) (*Handle, error) {
	if !s.acquire(path) {
		return nil, oops.Code("STORE_BUSY").
			With("path", path).
			Wrap(ErrBusy)
	}

	data, err := os.ReadFile(s.filePath(path))
	if err != nil {
		if !os.IsNotExist(err) {
			s.release(path)
			return nil, oops.Code("STORE_READ_FAILED").
				With("path", path).
				Wrap(err)
		}
		if !create {
			s.release(path)
			return nil, oops.Code("STORE_NOT_FOUND").
				With("path", path).
				Wrap(ErrNotFound)
		}
		// Initialize the record with the caller's default value so it is
		// never observable in a partially constructed state.
		if err := s.write(path, v); err != nil {
			s.release(path)
			return nil, err
		}
		return &Handle{store: s, path: path}, nil
	}

	if err := json.Unmarshal(data, v); err != nil {
		s.release(path)
		return nil, oops.Code("STORE_DECODE_FAILED").
			With("path", path).
			Wrap(err)
	}
	return &Handle{store: s, path: path}, nil
}

// Read loads the record at path into v without taking the guard.
// Returns ErrNotFound if the record does not exist.
func (s *Store) Read(path string, v any) error {
	data, err := os.ReadFile(s.filePath(path))
	if err != nil {
		if os.IsNotExist(err) {
			return oops.Code("STORE_NOT_FOUND").
				With("path", path).
				Wrap(ErrNotFound)
		}
		return oops.Code("STORE_READ_FAILED").
			With("path", path).
			Wrap(err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return oops.Code("STORE_DECODE_FAILED").
			With("path", path).
			Wrap(err)
	}
	return nil
}

// Remove deletes the record file at path.
// Returns ErrNotFound if the record does not exist.
func (s *Store) Remove(path string) error {
	if err := os.Remove(s.filePath(path)); err != nil {
		if os.IsNotExist(err) {
			return oops.Code("STORE_NOT_FOUND").
				With("path", path).
				Wrap(ErrNotFound)
		}
		return oops.Code("STORE_REMOVE_FAILED").
			With("path", path).
			Wrap(err)
	}
	return nil
}

// List returns the record paths under dir, relative to the store root.
// A missing directory yields an empty slice.
func (s *Store) List(dir string) ([]string, error) {
	entries, err := os.ReadDir(s.filePath(dir))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, oops.Code("STORE_LIST_FAILED").
			With("dir", dir).
			Wrap(err)
	}

	var paths []string
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".json") {
			continue
		}
		paths = append(paths, dir+"/"+e.Name())
	}
	return paths, nil
}

func (s *Store) write(path string, v any) error {
	full := s.filePath(path)
	if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		return oops.Code("STORE_WRITE_FAILED").
			With("path", path).
			Wrap(err)
	}
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return oops.Code("STORE_ENCODE_FAILED").
			With("path", path).
			Wrap(err)
	}
	if err := os.WriteFile(full, data, 0o644); err != nil {
		return oops.Code("STORE_WRITE_FAILED").
			With("path", path).
			Wrap(err)
	}
	return nil
}

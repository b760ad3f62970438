// Package state persists the bot state document as a single JSON file with
// atomic replace semantics.
package state

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"hubwatch/pkg/hubwatch"
)

// Store is a mutex-guarded file-backed implementation of hubwatch.StateStore.
// Every Update is flushed to disk before it returns, so a crash never loses
// an acknowledged mutation.
type Store struct {
	path   string
	logger *slog.Logger

	mu        sync.Mutex
	document  *hubwatch.StateDocument
	persisted []byte
}

// Open loads the state file at path, creating parent directories as needed.
// A missing, unreadable, or corrupt file yields a fresh empty document rather
// than an error; the previous content is abandoned.
func Open(path string, logger *slog.Logger) (*Store, error) {
	if path == "" {
		return nil, fmt.Errorf("open state store: empty path")
	}
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "state-store")

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("open state store: create directory: %w", err)
	}

	store := &Store{
		path:   path,
		logger: logger,
	}
	store.document = store.loadDocument()

	return store, nil
}

// loadDocument reads and decodes the state file, falling back to a fresh
// document on any failure.
func (s *Store) loadDocument() *hubwatch.StateDocument {
	raw, err := os.ReadFile(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		return hubwatch.NewStateDocument()
	}
	if err != nil {
		s.logger.Warn("state file unreadable, starting empty", "path", s.path, "error", err)
		return hubwatch.NewStateDocument()
	}

	document := hubwatch.NewStateDocument()
	if err := json.Unmarshal(raw, document); err != nil {
		s.logger.Warn("state file corrupt, starting empty",
			"path", s.path, "error", fmt.Errorf("%w: %v", hubwatch.ErrStateCorrupt, err))
		return hubwatch.NewStateDocument()
	}
	document.FillDefaults()
	s.persisted = raw

	return document
}

// Update applies fn to the document under the store lock and persists the
// result atomically. The write is skipped when fn leaves the serialized
// document unchanged.
func (s *Store) Update(fn func(document *hubwatch.StateDocument)) error {
	if fn == nil {
		return fmt.Errorf("state update: nil mutation")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	fn(s.document)

	encoded, err := json.MarshalIndent(s.document, "", "  ")
	if err != nil {
		return fmt.Errorf("state update: encode: %w", err)
	}
	if bytes.Equal(encoded, s.persisted) {
		return nil
	}

	if err := s.writeAtomic(encoded); err != nil {
		return fmt.Errorf("state update: %w", err)
	}
	s.persisted = encoded

	return nil
}

// View runs fn with read access to the document. The callback must not retain
// references past its return.
func (s *Store) View(fn func(document *hubwatch.StateDocument)) {
	if fn == nil {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	fn(s.document)
}

// writeAtomic writes encoded to a sibling temp file and renames it over the
// state file, so readers never observe a partial write.
func (s *Store) writeAtomic(encoded []byte) error {
	tmpPath := s.path + ".tmp"
	if err := os.WriteFile(tmpPath, encoded, 0o644); err != nil {
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := os.Rename(tmpPath, s.path); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("replace state file: %w", err)
	}

	return nil
}

var _ hubwatch.StateStore = (*Store)(nil)

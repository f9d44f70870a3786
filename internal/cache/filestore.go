// File-backed compression cache.
//
// The on-disk format is a flat JSON object: { "<key>": {entry...}, ... }.
// A corrupt or missing file loads as an empty cache - the cache is an
// optimization and must never crash the pipeline. Flush writes to a temp
// file in the same directory and renames it over the target so a crash
// mid-write leaves either the old or the new complete file.
package cache

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/rs/zerolog/log"
)

// FileStore is a JSON-file-backed Store with a single coarse lock.
type FileStore struct {
	path    string
	mu      sync.Mutex
	entries map[string]Entry
}

// NewFileStore loads the cache file at path. Missing or unreadable files
// yield an empty cache; only directory-creation problems surface later, at
// Flush time.
func NewFileStore(path string) *FileStore {
	s := &FileStore{
		path:    path,
		entries: make(map[string]Entry),
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			log.Warn().Err(err).Str("path", path).Msg("cache file unreadable; starting empty")
		}
		return s
	}

	if err := json.Unmarshal(data, &s.entries); err != nil {
		log.Warn().Err(err).Str("path", path).Msg("cache file corrupt; starting empty")
		s.entries = make(map[string]Entry)
		return s
	}

	log.Debug().Int("entries", len(s.entries)).Str("path", path).Msg("compression cache loaded")
	return s
}

// Get implements Store.
func (s *FileStore) Get(key string) (Entry, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[key]
	return e, ok
}

// Put implements Store.
func (s *FileStore) Put(key string, entry Entry) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[key] = entry
}

// Flush implements Store. Write errors are returned so callers can log them,
// but callers are expected to swallow them (see Store docs).
func (s *FileStore) Flush() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := json.MarshalIndent(s.entries, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to serialize cache: %w", err)
	}

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create cache directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, filepath.Base(s.path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("failed to create temp cache file: %w", err)
	}
	tmpPath := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("failed to write temp cache file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to close temp cache file: %w", err)
	}

	if err := os.Rename(tmpPath, s.path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to replace cache file: %w", err)
	}

	log.Debug().Int("entries", len(s.entries)).Str("path", s.path).Msg("compression cache flushed")
	return nil
}

// Len implements Store.
func (s *FileStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

// Close implements Store. The file store holds no open handles between
// flushes.
func (s *FileStore) Close() error { return nil }

// Snapshot returns a copy of all entries, for audit tooling.
func (s *FileStore) Snapshot() map[string]Entry {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]Entry, len(s.entries))
	for k, v := range s.entries {
		out[k] = v
	}
	return out
}

var _ Store = (*FileStore)(nil)

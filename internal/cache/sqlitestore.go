// SQLite-backed compression cache.
//
// For long campaigns the flat JSON file gets rewritten in full on every
// flush; the SQLite adapter makes each Put durable instead. Uses the pure-Go
// modernc.org/sqlite driver, so no cgo. Flush is a no-op.
package cache

import (
	"database/sql"
	"fmt"
	"sync"

	"github.com/rs/zerolog/log"
	_ "modernc.org/sqlite"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS entries (
	key               TEXT PRIMARY KEY,
	original          TEXT NOT NULL,
	compressed        TEXT NOT NULL,
	original_length   INTEGER NOT NULL,
	compressed_length INTEGER NOT NULL,
	reduction         TEXT NOT NULL
);`

// SQLiteStore is a Store backed by an embedded SQLite database.
type SQLiteStore struct {
	db *sql.DB
	mu sync.Mutex
}

// NewSQLiteStore opens (creating if needed) the database at path.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open cache database '%s': %w", path, err)
	}
	if _, err := db.Exec(sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize cache schema: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

// Get implements Store.
func (s *SQLiteStore) Get(key string) (Entry, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var e Entry
	err := s.db.QueryRow(
		`SELECT original, compressed, original_length, compressed_length, reduction FROM entries WHERE key = ?`, key,
	).Scan(&e.Original, &e.Compressed, &e.OriginalLength, &e.CompressedLength, &e.Reduction)
	if err != nil {
		if err != sql.ErrNoRows {
			log.Warn().Err(err).Str("key", key).Msg("cache read failed; treating as miss")
		}
		return Entry{}, false
	}
	return e, true
}

// Put implements Store. Write failures are logged and swallowed: losing a
// cache write is a performance regression, never a correctness failure.
func (s *SQLiteStore) Put(key string, entry Entry) {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.Exec(
		`INSERT INTO entries (key, original, compressed, original_length, compressed_length, reduction)
		 VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT(key) DO UPDATE SET
			original=excluded.original,
			compressed=excluded.compressed,
			original_length=excluded.original_length,
			compressed_length=excluded.compressed_length,
			reduction=excluded.reduction`,
		key, entry.Original, entry.Compressed, entry.OriginalLength, entry.CompressedLength, entry.Reduction,
	)
	if err != nil {
		log.Warn().Err(err).Str("key", key).Msg("cache write failed; entry dropped")
	}
}

// Flush implements Store. Puts are already durable.
func (s *SQLiteStore) Flush() error { return nil }

// Len implements Store.
func (s *SQLiteStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	var n int
	if err := s.db.QueryRow(`SELECT COUNT(*) FROM entries`).Scan(&n); err != nil {
		return 0
	}
	return n
}

// Close implements Store.
func (s *SQLiteStore) Close() error { return s.db.Close() }

var _ Store = (*SQLiteStore)(nil)

// Package cache provides the persistent compression cache.
//
// DESIGN: A small key-value abstraction (Get/Put/Flush) so the backing store
// is swappable without touching scheduler logic:
//   - FileStore:   flat JSON file, the shape external audit tooling reads
//   - MemoryStore: map only, for tests and ephemeral runs
//   - SQLiteStore: embedded database for long campaigns with large caches
//
// Keys are "<section_id>_<content_hash>" for section compressions and the
// bare content hash for whole-message compressions. Entries are written only
// for well-formed, non-empty compressor output - failures must never poison
// the cache. Entries never expire; the compression of an exact text is
// assumed stable for the lifetime of the cache file.
package cache

import (
	"fmt"

	"github.com/dmforge/chronicler/internal/fingerprint"
)

// Entry is one cached compression. The JSON field names are the on-disk
// contract: offline tooling inspects cache files for compression quality.
type Entry struct {
	Original         string `json:"original"`
	Compressed       string `json:"compressed"`
	OriginalLength   int    `json:"original_length"`
	CompressedLength int    `json:"compressed_length"`
	Reduction        string `json:"reduction"`
}

// NewEntry builds an entry with derived length and reduction stats.
func NewEntry(original, compressed string) Entry {
	reduction := 0.0
	if len(original) > 0 {
		reduction = float64(len(original)-len(compressed)) / float64(len(original)) * 100
	}
	return Entry{
		Original:         original,
		Compressed:       compressed,
		OriginalLength:   len(original),
		CompressedLength: len(compressed),
		Reduction:        fmt.Sprintf("%.1f%%", reduction),
	}
}

// Store is the compression cache interface. Implementations must be safe for
// concurrent use by scheduler workers.
type Store interface {
	// Get returns the entry for key, if present.
	Get(key string) (Entry, bool)

	// Put inserts or overwrites an entry.
	Put(key string, entry Entry)

	// Flush persists the current contents. Called once per pipeline run, not
	// once per entry. Losing a flush is a performance regression, not a
	// correctness failure - compression is idempotent.
	Flush() error

	// Len returns the number of cached entries.
	Len() int

	// Close releases resources.
	Close() error
}

// SectionKey builds the cache key for a section compression.
func SectionKey(sectionID, narrative string) string {
	return sectionID + "_" + fingerprint.Text(narrative)
}

// MessageKey builds the cache key for a whole-message compression.
func MessageKey(content string) string {
	return fingerprint.Text(content)
}

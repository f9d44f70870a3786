package cache

import (
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewEntryDerivesStats(t *testing.T) {
	e := NewEntry("0123456789", "01234")
	assert.Equal(t, 10, e.OriginalLength)
	assert.Equal(t, 5, e.CompressedLength)
	assert.Equal(t, "50.0%", e.Reduction)
}

func TestNewEntryEmptyOriginal(t *testing.T) {
	e := NewEntry("", "")
	assert.Equal(t, "0.0%", e.Reduction)
}

func TestSectionKeyBindsIDAndContent(t *testing.T) {
	k1 := SectionKey("Ravenloft_Chronicle_3", "the party enters the mists")
	k2 := SectionKey("Ravenloft_Chronicle_3", "the party leaves the mists")
	k3 := SectionKey("Ravenloft_Chronicle_4", "the party enters the mists")

	assert.NotEqual(t, k1, k2, "changed narrative must change the key")
	assert.NotEqual(t, k1, k3, "changed section ID must change the key")
	assert.Contains(t, k1, "Ravenloft_Chronicle_3_")
}

func TestMessageKeyIsBareHash(t *testing.T) {
	assert.Len(t, MessageKey("round one"), 64)
}

func TestFileStoreMissingFileStartsEmpty(t *testing.T) {
	s := NewFileStore(filepath.Join(t.TempDir(), "nope.json"))
	assert.Equal(t, 0, s.Len())
}

func TestFileStoreCorruptFileStartsEmpty(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cache.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o644))

	s := NewFileStore(path)
	assert.Equal(t, 0, s.Len())

	// A corrupt file must not block subsequent writes.
	s.Put("k", NewEntry("original", "orig"))
	require.NoError(t, s.Flush())

	reloaded := NewFileStore(path)
	e, ok := reloaded.Get("k")
	require.True(t, ok)
	assert.Equal(t, "orig", e.Compressed)
}

func TestFileStoreFlushRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sub", "cache.json")
	s := NewFileStore(path)
	s.Put("a", NewEntry("long original text", "short"))
	s.Put("b", NewEntry("another entry", "tiny"))
	require.NoError(t, s.Flush())

	reloaded := NewFileStore(path)
	assert.Equal(t, 2, reloaded.Len())
	e, ok := reloaded.Get("a")
	require.True(t, ok)
	assert.Equal(t, "long original text", e.Original)
	assert.Equal(t, "short", e.Compressed)
	assert.Equal(t, len("long original text"), e.OriginalLength)
}

func TestFileStoreConcurrentAccess(t *testing.T) {
	s := NewFileStore(filepath.Join(t.TempDir(), "cache.json"))

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				key := SectionKey("sec", string(rune('a'+n)))
				s.Put(key, NewEntry("orig", "comp"))
				s.Get(key)
			}
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 8, s.Len())
}

func TestMemoryStoreCountsFlushes(t *testing.T) {
	s := NewMemoryStore()
	require.NoError(t, s.Flush())
	require.NoError(t, s.Flush())
	assert.Equal(t, 2, s.Flushes())
}

package scheduler

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmforge/chronicler/internal/cache"
	"github.com/dmforge/chronicler/internal/events"
)

func upperFn(calls *atomic.Int64) CompressFunc {
	return func(_ context.Context, _ string, narrative string) (string, error) {
		if calls != nil {
			calls.Add(1)
		}
		return "C:" + narrative, nil
	}
}

func TestNewRejectsNonPositiveWorkers(t *testing.T) {
	for _, n := range []int{0, -1} {
		_, err := New(cache.NewMemoryStore(), n)
		require.Error(t, err)
	}
}

func TestRunCompressesAndCaches(t *testing.T) {
	store := cache.NewMemoryStore()
	s, err := New(store, 2)
	require.NoError(t, err)

	units := []Unit{
		{ID: "Emberfall_Chronicle_1", Kind: "context", Narrative: "the wight falls"},
		{ID: "Location_R15", Kind: "summary", Narrative: "the flooded crypt"},
	}

	var calls atomic.Int64
	results, err := s.Run(context.Background(), units, upperFn(&calls))
	require.NoError(t, err)
	require.Len(t, results, 2)

	// Results stay index-aligned with their units regardless of worker order.
	assert.Equal(t, "C:the wight falls", results[0].Compressed)
	assert.Equal(t, "C:the flooded crypt", results[1].Compressed)
	assert.False(t, results[0].FromCache)
	assert.False(t, results[0].PassThrough)

	assert.Equal(t, int64(2), calls.Load())
	assert.Equal(t, 2, store.Len())
	assert.Equal(t, 1, store.Flushes(), "exactly one flush per run")

	entry, ok := store.Get(cache.SectionKey("Emberfall_Chronicle_1", "the wight falls"))
	require.True(t, ok)
	assert.Equal(t, "C:the wight falls", entry.Compressed)
	assert.Equal(t, "the wight falls", entry.Original)
}

func TestCacheHitSkipsCompressor(t *testing.T) {
	store := cache.NewMemoryStore()
	unit := Unit{ID: "sec", Kind: "context", Narrative: "already seen"}
	store.Put(cache.SectionKey("sec", "already seen"), cache.NewEntry("already seen", "cached result"))

	s, err := New(store, 1)
	require.NoError(t, err)

	var calls atomic.Int64
	results, err := s.Run(context.Background(), []Unit{unit}, upperFn(&calls))
	require.NoError(t, err)

	assert.Equal(t, int64(0), calls.Load(), "cache hit must not call the compressor")
	assert.Equal(t, "cached result", results[0].Compressed)
	assert.True(t, results[0].FromCache)
}

func TestChangedNarrativeMissesCache(t *testing.T) {
	store := cache.NewMemoryStore()
	store.Put(cache.SectionKey("sec", "old text"), cache.NewEntry("old text", "stale"))

	s, err := New(store, 1)
	require.NoError(t, err)

	var calls atomic.Int64
	results, err := s.Run(context.Background(),
		[]Unit{{ID: "sec", Kind: "context", Narrative: "new text"}}, upperFn(&calls))
	require.NoError(t, err)

	assert.Equal(t, int64(1), calls.Load())
	assert.Equal(t, "C:new text", results[0].Compressed)
}

func TestWholeMessageUnitsUseContentHashKey(t *testing.T) {
	store := cache.NewMemoryStore()
	s, err := New(store, 1)
	require.NoError(t, err)

	_, err = s.Run(context.Background(),
		[]Unit{{Kind: "combat", Narrative: "round one", WholeMessage: true}}, upperFn(nil))
	require.NoError(t, err)

	_, ok := store.Get(cache.MessageKey("round one"))
	assert.True(t, ok)
}

func TestFailuresPassThroughAndAreNotCached(t *testing.T) {
	tests := []struct {
		name string
		fn   CompressFunc
	}{
		{"compressor error", func(context.Context, string, string) (string, error) {
			return "", errors.New("upstream unavailable")
		}},
		{"empty result", func(context.Context, string, string) (string, error) {
			return "   \n", nil
		}},
		{"panic", func(context.Context, string, string) (string, error) {
			panic("compressor blew up")
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := cache.NewMemoryStore()
			s, err := New(store, 2)
			require.NoError(t, err)

			units := []Unit{{ID: "sec", Kind: "context", Narrative: "original narrative"}}
			results, err := s.Run(context.Background(), units, tt.fn)
			require.NoError(t, err, "unit failures must not abort the run")

			require.Len(t, results, 1)
			assert.Equal(t, "original narrative", results[0].Compressed)
			assert.True(t, results[0].PassThrough)
			assert.Equal(t, 0, store.Len(), "failures must never be cached")
		})
	}
}

func TestPanicDoesNotAbortSiblings(t *testing.T) {
	store := cache.NewMemoryStore()
	s, err := New(store, 3)
	require.NoError(t, err)

	fn := func(_ context.Context, _ string, narrative string) (string, error) {
		if narrative == "bad" {
			panic("boom")
		}
		return "C:" + narrative, nil
	}

	units := []Unit{
		{ID: "a", Narrative: "good one"},
		{ID: "b", Narrative: "bad"},
		{ID: "c", Narrative: "good two"},
	}
	results, err := s.Run(context.Background(), units, fn)
	require.NoError(t, err)

	assert.Equal(t, "C:good one", results[0].Compressed)
	assert.True(t, results[1].PassThrough)
	assert.Equal(t, "C:good two", results[2].Compressed)
}

func TestDuplicateNarrativesCompressOnce(t *testing.T) {
	store := cache.NewMemoryStore()
	s, err := New(store, 4)
	require.NoError(t, err)

	var calls atomic.Int64
	fn := func(_ context.Context, _ string, narrative string) (string, error) {
		calls.Add(1)
		time.Sleep(20 * time.Millisecond)
		return "C:" + narrative, nil
	}

	units := []Unit{
		{ID: "LocationEntry_ridge", Narrative: "same state"},
		{ID: "LocationEntry_ridge", Narrative: "same state"},
		{ID: "LocationEntry_ridge", Narrative: "same state"},
		{ID: "LocationEntry_ridge", Narrative: "same state"},
	}
	results, err := s.Run(context.Background(), units, fn)
	require.NoError(t, err)

	assert.Equal(t, int64(1), calls.Load(), "identical units must share one call")
	for _, r := range results {
		assert.Equal(t, "C:same state", r.Compressed)
	}
	assert.Equal(t, 1, store.Len())
}

func TestProgressEventsAreMonotonic(t *testing.T) {
	store := cache.NewMemoryStore()

	var mu sync.Mutex
	var starts, completes int
	var progress []int
	sink := events.FuncSink(func(event string, payload map[string]any) {
		mu.Lock()
		defer mu.Unlock()
		switch event {
		case events.CompressionStart:
			starts++
			assert.Equal(t, 6, payload["total"])
		case events.CompressionProgress:
			progress = append(progress, payload["completed"].(int))
		case events.CompressionComplete:
			completes++
		}
	})

	s, err := New(store, 3, WithSink(sink))
	require.NoError(t, err)

	units := make([]Unit, 6)
	for i := range units {
		units[i] = Unit{ID: string(rune('a' + i)), Narrative: string(rune('a' + i))}
	}
	_, err = s.Run(context.Background(), units, upperFn(nil))
	require.NoError(t, err)

	assert.Equal(t, 1, starts)
	assert.Equal(t, 1, completes)
	require.Len(t, progress, 6)
	for i, c := range progress {
		assert.Equal(t, i+1, c, "completed must increase strictly")
	}
}

func TestEmptyUnitsEmitNothing(t *testing.T) {
	store := cache.NewMemoryStore()

	var emitted atomic.Int64
	sink := events.FuncSink(func(string, map[string]any) { emitted.Add(1) })

	s, err := New(store, 2, WithSink(sink))
	require.NoError(t, err)

	results, err := s.Run(context.Background(), nil, upperFn(nil))
	require.NoError(t, err)
	assert.Empty(t, results)
	assert.Equal(t, int64(0), emitted.Load())
	assert.Equal(t, 0, store.Flushes())
}

func TestSinkPanicDoesNotAbortRun(t *testing.T) {
	store := cache.NewMemoryStore()
	sink := events.FuncSink(func(string, map[string]any) { panic("ui crashed") })

	s, err := New(store, 1, WithSink(sink))
	require.NoError(t, err)

	results, err := s.Run(context.Background(),
		[]Unit{{ID: "sec", Narrative: "text"}}, upperFn(nil))
	require.NoError(t, err)
	assert.Equal(t, "C:text", results[0].Compressed)
}

func TestPerCallTimeout(t *testing.T) {
	store := cache.NewMemoryStore()
	s, err := New(store, 1, WithCallTimeout(10*time.Millisecond))
	require.NoError(t, err)

	fn := func(ctx context.Context, _ string, _ string) (string, error) {
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-time.After(5 * time.Second):
			return "too late", nil
		}
	}

	start := time.Now()
	results, err := s.Run(context.Background(),
		[]Unit{{ID: "slow", Narrative: "hung call"}}, fn)
	require.NoError(t, err)

	assert.Less(t, time.Since(start), time.Second)
	assert.True(t, results[0].PassThrough)
	assert.Equal(t, "hung call", results[0].Compressed)
	assert.Equal(t, 0, store.Len())
}

// Package scheduler fans compression units out over a bounded worker pool.
//
// DESIGN: A joining fan-out/fan-in. Units are dispatched to a fixed pool of
// workers (pool size is configuration, independent of unit count); results
// are collected structurally into a slice indexed by unit position, so the
// rewriter can apply them regardless of completion order. The cache is
// consulted before every external call and flushed exactly once per run.
//
// Failure policy: any per-unit failure - compressor error, empty output,
// timeout, even a worker panic - degrades that one unit to a pass-through of
// its original text and is never cached. Compression degrades to a no-op,
// never to data loss, and one bad unit cannot abort its siblings.
package scheduler

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/singleflight"

	"github.com/dmforge/chronicler/internal/cache"
	"github.com/dmforge/chronicler/internal/events"
	"github.com/dmforge/chronicler/internal/monitoring"
	"github.com/dmforge/chronicler/internal/tokens"
)

// DefaultCallTimeout bounds one external compressor call. A hung call is
// treated identically to a malformed result: pass-through, not cached.
const DefaultCallTimeout = 60 * time.Second

// CompressFunc invokes the external compressor for one unit. A nil error
// with empty text is treated as a failure.
type CompressFunc func(ctx context.Context, kind, narrative string) (string, error)

// Unit is one independent piece of text to compress.
type Unit struct {
	// ID is the stable section identifier. Empty for whole-message units.
	ID string
	// Kind is forwarded to the compressor ("context", "summary", ...).
	Kind string
	// Narrative is the text to compress.
	Narrative string
	// WholeMessage selects the bare content-hash cache key.
	WholeMessage bool
}

func (u Unit) cacheKey() string {
	if u.WholeMessage {
		return cache.MessageKey(u.Narrative)
	}
	return cache.SectionKey(u.ID, u.Narrative)
}

// Result is the outcome for one unit, at the same index as its Unit.
type Result struct {
	ID          string
	Compressed  string
	FromCache   bool
	PassThrough bool
}

// Scheduler runs compression units over a worker pool.
type Scheduler struct {
	cache   cache.Store
	sink    events.Sink
	metrics *monitoring.MetricsCollector
	counter *tokens.Counter
	workers int
	timeout time.Duration

	group singleflight.Group
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithSink attaches a progress event sink.
func WithSink(s events.Sink) Option { return func(sc *Scheduler) { sc.sink = events.Safe(s) } }

// WithMetrics attaches a metrics collector.
func WithMetrics(m *monitoring.MetricsCollector) Option {
	return func(sc *Scheduler) { sc.metrics = m }
}

// WithCallTimeout overrides the per-call timeout.
func WithCallTimeout(d time.Duration) Option { return func(sc *Scheduler) { sc.timeout = d } }

// New creates a scheduler. Worker count must be positive - that is a
// programmer error, not a data-quality issue, so it fails loudly.
func New(store cache.Store, workers int, opts ...Option) (*Scheduler, error) {
	if workers < 1 {
		return nil, fmt.Errorf("worker count must be positive, got %d", workers)
	}
	s := &Scheduler{
		cache:   store,
		sink:    events.NopSink{},
		metrics: monitoring.NewMetricsCollector(),
		counter: tokens.NewCounter(),
		workers: workers,
		timeout: DefaultCallTimeout,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Run compresses all units and returns one Result per unit, index-aligned.
// It blocks until every worker has finished; there are no partial results.
// Empty input returns immediately without emitting any events.
func (s *Scheduler) Run(ctx context.Context, units []Unit, fn CompressFunc) ([]Result, error) {
	if len(units) == 0 {
		return nil, nil
	}

	runID := monitoring.RunIDFromContext(ctx)
	start := time.Now()

	s.sink.Emit(events.CompressionStart, map[string]any{
		"total":  len(units),
		"run_id": runID,
	})

	results := make([]Result, len(units))

	var progressMu sync.Mutex
	completed := 0

	jobs := make(chan int)
	var wg sync.WaitGroup
	for w := 0; w < s.workers; w++ {
		wg.Add(1)
		go func(workerID int) {
			defer wg.Done()
			for i := range jobs {
				res := s.processUnit(ctx, workerID, units[i], fn)
				results[i] = res

				// Counter increment and emit share the lock so observers see
				// strictly increasing completed values.
				progressMu.Lock()
				completed++
				s.sink.Emit(events.CompressionProgress, map[string]any{
					"completed":  completed,
					"total":      len(units),
					"from_cache": res.FromCache,
					"section_id": res.ID,
					"run_id":     runID,
				})
				progressMu.Unlock()
			}
		}(w)
	}

	for i := range units {
		jobs <- i
	}
	close(jobs)
	wg.Wait()

	// One flush per run, not per entry. Losing it costs redone compressions
	// on the next run, nothing more.
	if err := s.cache.Flush(); err != nil {
		log.Warn().Err(err).Msg("cache flush failed; continuing")
	}

	s.sink.Emit(events.CompressionComplete, map[string]any{
		"total":       len(units),
		"duration_ms": time.Since(start).Milliseconds(),
		"run_id":      runID,
	})

	return results, nil
}

// processUnit handles one unit: cache lookup, deduplicated external call,
// graceful pass-through on any failure. Panics inside the compressor are
// contained here so sibling units keep running.
func (s *Scheduler) processUnit(ctx context.Context, workerID int, u Unit, fn CompressFunc) (res Result) {
	res = Result{ID: u.ID}

	defer func() {
		if r := recover(); r != nil {
			log.Error().
				Int("worker", workerID).
				Str("section_id", u.ID).
				Interface("panic", r).
				Msg("compression worker panicked; unit passed through")
			res.Compressed = u.Narrative
			res.PassThrough = true
			s.metrics.RecordPassthrough()
		}
	}()

	key := u.cacheKey()

	if entry, ok := s.cache.Get(key); ok {
		s.metrics.RecordCacheHit()
		res.Compressed = entry.Compressed
		res.FromCache = true
		return res
	}
	s.metrics.RecordCacheMiss()

	// Identical narratives in one batch share a single external call. The
	// winner writes the cache entry inside the flight so followers never
	// race a second call past the cache check above.
	v, err, shared := s.group.Do(key, func() (any, error) {
		callCtx, cancel := context.WithTimeout(ctx, s.timeout)
		defer cancel()

		text, err := fn(callCtx, u.Kind, u.Narrative)
		if err != nil {
			return "", err
		}
		if strings.TrimSpace(text) == "" {
			return "", fmt.Errorf("compressor returned empty result")
		}

		entry := cache.NewEntry(u.Narrative, text)
		s.cache.Put(key, entry)
		s.metrics.RecordCompression(len(u.Narrative), len(text))

		log.Debug().
			Int("worker", workerID).
			Str("section_id", u.ID).
			Int("original_tokens", s.counter.Count(u.Narrative)).
			Int("compressed_tokens", s.counter.Count(text)).
			Str("reduction", entry.Reduction).
			Msg("section compressed")

		return text, nil
	})
	if err != nil {
		log.Warn().
			Str("section_id", u.ID).
			Err(err).
			Msg("compression failed; using original text")
		res.Compressed = u.Narrative
		res.PassThrough = true
		s.metrics.RecordPassthrough()
		return res
	}

	res.Compressed = v.(string)
	// A shared flight means another unit with the same key did the work.
	res.FromCache = shared
	return res
}

// Package monitoring - metrics.go provides simple counters.
//
// DESIGN: Lightweight in-memory counters for operational metrics:
//   - compressions:       External compression calls that succeeded
//   - passthroughs:       Units that degraded to the original text
//   - cache_hits/misses:  Compression cache performance
//   - bytes_saved:        Total original-minus-compressed bytes
//
// For production, export these to Prometheus or similar.
package monitoring

import (
	"sync/atomic"
)

// MetricsCollector collects operational metrics for the compression pipeline.
type MetricsCollector struct {
	compressions atomic.Int64
	passthroughs atomic.Int64
	cacheHits    atomic.Int64
	cacheMisses  atomic.Int64
	bytesSaved   atomic.Int64
}

// NewMetricsCollector creates a new metrics collector.
func NewMetricsCollector() *MetricsCollector {
	return &MetricsCollector{}
}

// RecordCompression records a successful compression and the bytes it saved.
func (mc *MetricsCollector) RecordCompression(originalBytes, compressedBytes int) {
	mc.compressions.Add(1)
	if saved := originalBytes - compressedBytes; saved > 0 {
		mc.bytesSaved.Add(int64(saved))
	}
}

// RecordPassthrough records a unit that fell back to its original text.
func (mc *MetricsCollector) RecordPassthrough() { mc.passthroughs.Add(1) }

// RecordCacheHit records a cache hit.
func (mc *MetricsCollector) RecordCacheHit() { mc.cacheHits.Add(1) }

// RecordCacheMiss records a cache miss.
func (mc *MetricsCollector) RecordCacheMiss() { mc.cacheMisses.Add(1) }

// Stats returns current metrics.
func (mc *MetricsCollector) Stats() map[string]int64 {
	return map[string]int64{
		"compressions": mc.compressions.Load(),
		"passthroughs": mc.passthroughs.Load(),
		"cache_hits":   mc.cacheHits.Load(),
		"cache_misses": mc.cacheMisses.Load(),
		"bytes_saved":  mc.bytesSaved.Load(),
	}
}

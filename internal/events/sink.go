// Package events defines the optional progress event sink.
//
// DESIGN: The original status reporting was a global singleton poked from deep
// inside the compression code behind try/except guards. Here the sink is an
// explicitly injected interface with a no-op default: absence of a consumer
// can never break the pipeline, and every Emit is best-effort.
//
// Event names and payload keys are stable - status UIs and log scrapers key
// off them.
package events

import (
	"github.com/rs/zerolog/log"
)

// Event names emitted by the compression pipeline.
const (
	CompressionStart    = "compression_start"
	CompressionProgress = "compression_progress"
	CompressionComplete = "compression_complete"
)

// Sink receives progress events. Implementations must be safe for concurrent
// Emit calls; workers report completion from multiple goroutines.
type Sink interface {
	Emit(event string, payload map[string]any)
}

// NopSink discards all events. The default when no status consumer is wired.
type NopSink struct{}

// Emit implements Sink.
func (NopSink) Emit(string, map[string]any) {}

// FuncSink adapts a function to the Sink interface. Used by the CLI progress
// display and by tests.
type FuncSink func(event string, payload map[string]any)

// Emit implements Sink.
func (f FuncSink) Emit(event string, payload map[string]any) {
	if f != nil {
		f(event, payload)
	}
}

// Multi fans each event out to every given sink, skipping nils. An empty
// list behaves like NopSink.
func Multi(sinks ...Sink) Sink {
	var active []Sink
	for _, s := range sinks {
		if s != nil {
			active = append(active, s)
		}
	}
	if len(active) == 0 {
		return NopSink{}
	}
	return multiSink(active)
}

type multiSink []Sink

func (m multiSink) Emit(event string, payload map[string]any) {
	for _, s := range m {
		s.Emit(event, payload)
	}
}

// Safe wraps a sink so that a panicking consumer cannot abort the pipeline.
// A nil sink becomes a NopSink.
func Safe(s Sink) Sink {
	if s == nil {
		return NopSink{}
	}
	return safeSink{inner: s}
}

type safeSink struct {
	inner Sink
}

func (s safeSink) Emit(event string, payload map[string]any) {
	defer func() {
		if r := recover(); r != nil {
			log.Warn().Str("event", event).Interface("panic", r).Msg("event sink panicked; event dropped")
		}
	}()
	s.inner.Emit(event, payload)
}

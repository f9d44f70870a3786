// Package combat compresses combat-log messages one whole message at a time.
//
// DESIGN: A specialization of the cache-then-compress pattern for user
// messages that are combat transcripts. Unlike section compression it never
// splits a message: the unit is the full content, keyed by its content hash.
// Output validation is stricter than for prose sections. The compressed form
// is a compact DSL read back by the model, so a result that does not begin
// with the format tag is malformed even when non-empty: logged, original
// retained, never cached.
//
// Process returns a transformed copy for the outbound API call. The caller's
// conversation slice and the persisted history file are never modified here.
package combat

import (
	"context"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/dmforge/chronicler/external"
	"github.com/dmforge/chronicler/internal/cache"
	"github.com/dmforge/chronicler/internal/conversation"
	"github.com/dmforge/chronicler/internal/monitoring"
)

// DefaultKeepRecent is how many trailing user messages stay uncompressed.
// Recent turns carry the tactical state the model reasons over next.
const DefaultKeepRecent = 5

// combatMarkers must all be present for a message to count as a combat log.
// They are emitted by the encounter engine, one per transcript section.
var combatMarkers = []string{
	"=== COMBAT ROUND",
	"CREATURE STATES",
	"DICE POOLS",
}

// noteMarkers open out-of-band DM instructions. Such messages are never
// combat logs regardless of what else they contain.
var noteMarkers = []string{
	"DM NOTE:",
	"[DM NOTE]",
}

// Setup-triple detection and placeholders. The encounter engine opens every
// combat with a fixed (system, user, assistant) triple; once enough turns
// have passed, the user/assistant pair carries no information beyond "combat
// started" and is collapsed to these placeholders.
const (
	setupSystemMarker         = "=== COMBAT ENCOUNTER ==="
	setupUserPlaceholder      = "[Combat started.]"
	setupAssistantPlaceholder = "[Combat setup acknowledged.]"

	// minMessagesAfterSetup keeps the stripping away from recent turns.
	minMessagesAfterSetup = 4
)

// Backend is the external compressor contract this package needs.
// *external.Client satisfies it.
type Backend interface {
	Compress(ctx context.Context, text string, mode external.Mode) (*external.CompressResult, error)
}

// Config tunes the compressor.
type Config struct {
	// KeepRecent exempts the last N user messages. Zero means the default.
	KeepRecent int `yaml:"keep_recent"`
}

// Compressor applies per-message combat compression over a conversation.
type Compressor struct {
	store      cache.Store
	backend    Backend
	metrics    *monitoring.MetricsCollector
	keepRecent int
}

// Option configures a Compressor.
type Option func(*Compressor)

// WithMetrics attaches a metrics collector.
func WithMetrics(m *monitoring.MetricsCollector) Option {
	return func(c *Compressor) { c.metrics = m }
}

// New creates a combat compressor.
func New(store cache.Store, backend Backend, cfg Config, opts ...Option) *Compressor {
	keep := cfg.KeepRecent
	if keep <= 0 {
		keep = DefaultKeepRecent
	}
	c := &Compressor{
		store:      store,
		backend:    backend,
		metrics:    monitoring.NewMetricsCollector(),
		keepRecent: keep,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// IsCombatLog reports whether content carries all combat transcript markers
// and is not an out-of-band note or an already-compressed message.
func IsCombatLog(content string) bool {
	trimmed := strings.TrimLeft(content, " \t\n")
	for _, note := range noteMarkers {
		if strings.HasPrefix(trimmed, note) {
			return false
		}
	}
	if strings.HasPrefix(trimmed, external.CombatTagPrefix) {
		return false
	}
	for _, marker := range combatMarkers {
		if !strings.Contains(content, marker) {
			return false
		}
	}
	return true
}

// Process returns a copy of conv with eligible combat messages compressed and
// the combat setup triple stripped. The input is never mutated; any failure
// leaves the affected message as-is.
func (c *Compressor) Process(ctx context.Context, conv []conversation.Message) []conversation.Message {
	out := conversation.Clone(conv)

	c.stripSetup(out)

	userIdx := conversation.UserMessageIndexes(out)
	exemptFrom := len(userIdx) - c.keepRecent
	if exemptFrom < 0 {
		exemptFrom = 0
	}
	exempt := make(map[int]bool, c.keepRecent)
	for _, i := range userIdx[exemptFrom:] {
		exempt[i] = true
	}

	compressed := 0
	for _, i := range userIdx {
		if exempt[i] || !IsCombatLog(out[i].Content) {
			continue
		}
		if text, ok := c.compressMessage(ctx, i, out[i].Content); ok {
			out[i].Content = text
			compressed++
		}
	}

	if compressed > 0 {
		if err := c.store.Flush(); err != nil {
			log.Warn().Err(err).Msg("cache flush failed after combat compression")
		}
	}

	return out
}

// compressMessage runs cache-then-compress for one message. The bool result
// reports whether content should be replaced.
func (c *Compressor) compressMessage(ctx context.Context, index int, content string) (string, bool) {
	key := cache.MessageKey(content)

	if entry, ok := c.store.Get(key); ok {
		c.metrics.RecordCacheHit()
		return entry.Compressed, true
	}
	c.metrics.RecordCacheMiss()

	result, err := c.backend.Compress(ctx, content, external.ModeCombat)
	if err != nil {
		log.Warn().Int("message", index).Err(err).Msg("combat compression failed; message retained")
		c.metrics.RecordPassthrough()
		return "", false
	}
	if result == nil || len(result.Blocks) == 0 {
		log.Warn().Int("message", index).Msg("combat compressor returned no blocks; message retained")
		c.metrics.RecordPassthrough()
		return "", false
	}

	text := strings.TrimSpace(result.Blocks[0].Text)
	if !strings.HasPrefix(text, external.CombatTagPrefix) {
		log.Warn().
			Int("message", index).
			Str("prefix", firstN(text, 24)).
			Msg("combat output missing format tag; message retained")
		c.metrics.RecordPassthrough()
		return "", false
	}

	c.store.Put(key, cache.NewEntry(content, text))
	c.metrics.RecordCompression(len(content), len(text))
	log.Debug().
		Int("message", index).
		Int("original_bytes", len(content)).
		Int("compressed_bytes", len(text)).
		Msg("combat message compressed")

	return text, true
}

// stripSetup collapses the opening combat triple in place. Only applied when
// enough later messages exist that the opening is no longer recent context.
func (c *Compressor) stripSetup(conv []conversation.Message) {
	for i := 0; i+2 < len(conv); i++ {
		if conv[i].Role != conversation.RoleSystem ||
			!strings.Contains(conv[i].Content, setupSystemMarker) {
			continue
		}
		if conv[i+1].Role != conversation.RoleUser || conv[i+2].Role != conversation.RoleAssistant {
			continue
		}
		if len(conv)-(i+3) < minMessagesAfterSetup {
			return
		}
		if conv[i+1].Content == setupUserPlaceholder {
			// Already stripped on an earlier run.
			return
		}
		conv[i+1].Content = setupUserPlaceholder
		conv[i+2].Content = setupAssistantPlaceholder
		log.Debug().Int("message", i).Msg("combat setup triple stripped")
		return
	}
}

func firstN(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}

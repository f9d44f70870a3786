// Package pipeline wires extraction, scheduling, rewriting, and combat
// compression into one pass over a conversation.
//
// DESIGN: The pipeline produces a DERIVED conversation for the next outbound
// model call. The canonical history is owned by the game loop; nothing here
// writes it. Stages, in order:
//
//	system-prompt swap -> section extraction -> structural pre-flattening of
//	location entries -> parallel compression -> offset rewrite -> per-message
//	combat compression
//
// Every stage degrades to identity on failure, so the worst outcome of a
// fully broken backend is the original conversation going out uncompressed.
package pipeline

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/dmforge/chronicler/external"
	"github.com/dmforge/chronicler/internal/combat"
	"github.com/dmforge/chronicler/internal/conversation"
	"github.com/dmforge/chronicler/internal/monitoring"
	"github.com/dmforge/chronicler/internal/rewriter"
	"github.com/dmforge/chronicler/internal/scheduler"
	"github.com/dmforge/chronicler/internal/sections"
	"github.com/dmforge/chronicler/internal/structural"
)

// Backend is the external compressor used for both section and combat
// compression. *external.Client satisfies it.
type Backend interface {
	Compress(ctx context.Context, text string, mode external.Mode) (*external.CompressResult, error)
}

// SystemSwap configures the flat system-prompt substitution.
type SystemSwap struct {
	// OpeningPhrase identifies the swappable system prompt by its first words.
	OpeningPhrase string `yaml:"opening_phrase"`
	// Replacement is the pre-authored compact prompt substituted verbatim.
	Replacement string `yaml:"replacement"`
}

// Pipeline runs the full compression pass.
type Pipeline struct {
	extractor *sections.Extractor
	sched     *scheduler.Scheduler
	backend   Backend
	combat    *combat.Compressor
	budget    structural.Budget
	swap      SystemSwap
	metrics   *monitoring.MetricsCollector
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithSystemSwap enables the system-prompt substitution.
func WithSystemSwap(s SystemSwap) Option { return func(p *Pipeline) { p.swap = s } }

// WithStructuralBudget overrides the location-entry pre-flattening budget.
func WithStructuralBudget(b structural.Budget) Option { return func(p *Pipeline) { p.budget = b } }

// WithCombat enables per-message combat compression.
func WithCombat(c *combat.Compressor) Option { return func(p *Pipeline) { p.combat = c } }

// WithMetrics attaches a metrics collector.
func WithMetrics(m *monitoring.MetricsCollector) Option { return func(p *Pipeline) { p.metrics = m } }

// New creates a pipeline around a configured scheduler and backend.
func New(sched *scheduler.Scheduler, backend Backend, opts ...Option) *Pipeline {
	p := &Pipeline{
		extractor: sections.NewExtractor(),
		sched:     sched,
		backend:   backend,
		budget:    structural.DefaultBudget(),
		metrics:   monitoring.NewMetricsCollector(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Stats summarizes one compression run.
type Stats struct {
	RunID       string
	Sections    int
	FromCache   int
	PassThrough int
	SystemSwap  bool
	Duration    time.Duration
	Counters    map[string]int64
}

// Compress runs the full pass and returns the derived conversation plus run
// statistics. The input slice is never mutated.
func (p *Pipeline) Compress(ctx context.Context, conv []conversation.Message) ([]conversation.Message, *Stats, error) {
	runID := uuid.NewString()
	ctx = monitoring.WithRunIDContext(ctx, runID)
	start := time.Now()

	stats := &Stats{RunID: runID}

	work, swapped := rewriter.SwapSystemPrompt(conv, p.swap.OpeningPhrase, p.swap.Replacement)
	stats.SystemSwap = swapped

	byMessage := p.extractor.Extract(work)

	// Flatten deterministically: message order, then span order. Units and
	// the flat section list stay index-aligned through the scheduler.
	var flat []sections.Section
	for idx := range work {
		flat = append(flat, byMessage[idx]...)
	}
	stats.Sections = len(flat)

	units := make([]scheduler.Unit, len(flat))
	for i, s := range flat {
		narrative := s.Narrative
		if s.Kind == sections.KindLocationEntry {
			// Pre-flatten raw location state so the model call carries the
			// budgeted form. The cache key follows the flattened text.
			narrative = structural.CompressJSON(narrative, p.budget)
		}
		units[i] = scheduler.Unit{
			ID:        s.ID,
			Kind:      string(s.Kind),
			Narrative: narrative,
		}
	}

	results, err := p.sched.Run(ctx, units, p.compressUnit)
	if err != nil {
		return nil, nil, err
	}

	reps := make([]rewriter.Replacement, len(flat))
	for i, s := range flat {
		reps[i] = rewriter.Replacement{
			Section: s,
			Text:    results[i].Compressed,
			Skip:    results[i].PassThrough,
		}
		if results[i].FromCache {
			stats.FromCache++
		}
		if results[i].PassThrough {
			stats.PassThrough++
		}
	}

	out := rewriter.Rewrite(work, reps)

	if p.combat != nil {
		out = p.combat.Process(ctx, out)
	}

	stats.Duration = time.Since(start)
	stats.Counters = p.metrics.Stats()

	log.Info().
		Str("run_id", runID).
		Int("sections", stats.Sections).
		Int("from_cache", stats.FromCache).
		Int("pass_through", stats.PassThrough).
		Dur("duration", stats.Duration).
		Msg("compression run complete")

	return out, stats, nil
}

// compressUnit adapts the backend to the scheduler's call shape, picking the
// prompt mode from the section kind.
func (p *Pipeline) compressUnit(ctx context.Context, kind, narrative string) (string, error) {
	mode := external.ModeNarrative
	if kind == string(sections.KindLocationEntry) {
		mode = external.ModeLocation
	}

	result, err := p.backend.Compress(ctx, narrative, mode)
	if err != nil {
		return "", err
	}
	if result == nil || len(result.Blocks) == 0 {
		return "", errEmptyResult
	}
	return result.Blocks[0].Text, nil
}

type compressError string

func (e compressError) Error() string { return string(e) }

const errEmptyResult = compressError("compressor returned no blocks")

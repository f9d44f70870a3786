package sections

import (
	"sort"

	"github.com/rs/zerolog/log"

	"github.com/dmforge/chronicler/internal/conversation"
)

// Extractor runs an ordered list of matchers over a conversation.
type Extractor struct {
	matchers []Matcher
}

// NewExtractor creates an extractor with the standard matcher set, in
// precedence order: campaign context, location summary, location entry.
func NewExtractor() *Extractor {
	return &Extractor{
		matchers: []Matcher{
			CampaignContextMatcher{},
			LocationSummaryMatcher{},
			LocationEntryMatcher{},
		},
	}
}

// NewExtractorWith creates an extractor with a custom matcher list, in
// precedence order.
func NewExtractorWith(matchers ...Matcher) *Extractor {
	return &Extractor{matchers: matchers}
}

// Extract scans every message and returns sections grouped by message index.
// Messages with no matches are absent from the map - absence means "nothing
// to do". Earlier matchers win when candidate spans overlap.
func (e *Extractor) Extract(conv []conversation.Message) map[int][]Section {
	result := make(map[int][]Section)

	for idx, msg := range conv {
		if msg.Content == "" {
			continue
		}

		var accepted []Section
		for _, m := range e.matchers {
			for _, cand := range m.Find(msg.Content) {
				if overlapsAny(cand, accepted) {
					log.Debug().
						Str("matcher", m.Name()).
						Str("section_id", cand.ID).
						Int("message", idx).
						Msg("section overlaps earlier match; skipped")
					continue
				}
				cand.MessageIndex = idx
				accepted = append(accepted, cand)
			}
		}

		if len(accepted) > 0 {
			sort.Slice(accepted, func(i, j int) bool { return accepted[i].Start < accepted[j].Start })
			result[idx] = accepted
		}
	}

	return result
}

func overlapsAny(s Section, existing []Section) bool {
	for _, t := range existing {
		if s.overlaps(t) {
			return true
		}
	}
	return false
}

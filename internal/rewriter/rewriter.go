// Package rewriter splices compressed section text back into a conversation.
//
// DESIGN: Rewriting is structural, not textual. Each replacement carries its
// Section with authoritative byte offsets, and spans are applied within a
// message in descending offset order so earlier replacements never shift
// later ones. Messages without replacements are returned byte-identical;
// message count, order, and roles are never changed.
//
// Compressed spans are re-headed so the model can tell rewritten context from
// original: chronicle blocks get a "(COMPRESSED)" banner plus a rebuilt
// chronicle header, location summaries get the "(COMPRESSED)" banner with the
// location code re-attached, and location entries keep their original marker
// line in front of the compressed state.
package rewriter

import (
	"sort"
	"strconv"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/dmforge/chronicler/internal/conversation"
	"github.com/dmforge/chronicler/internal/sections"
)

const (
	compressedContextBanner = "=== CAMPAIGN CONTEXT (COMPRESSED) ==="
	compressedSummaryBanner = "=== LOCATION SUMMARY (COMPRESSED) ==="
)

// Replacement pairs an extracted section with the text that replaces it.
type Replacement struct {
	Section sections.Section
	// Text is the compressed representation of the section narrative.
	Text string
	// Skip leaves the original span untouched. Set for pass-through results
	// so a failed compression cannot disturb the message.
	Skip bool
}

// Rewrite returns a new conversation with all replacements applied. The input
// slice is never mutated. A replacement whose recorded span no longer matches
// the message content is dropped with a warning rather than corrupting the
// message.
func Rewrite(conv []conversation.Message, reps []Replacement) []conversation.Message {
	out := conversation.Clone(conv)
	if len(reps) == 0 {
		return out
	}

	byMessage := make(map[int][]Replacement)
	for _, r := range reps {
		if r.Skip {
			continue
		}
		byMessage[r.Section.MessageIndex] = append(byMessage[r.Section.MessageIndex], r)
	}

	for idx, group := range byMessage {
		if idx < 0 || idx >= len(out) {
			log.Warn().Int("message", idx).Msg("replacement points outside conversation; dropped")
			continue
		}

		// Descending by offset keeps earlier spans' offsets valid.
		sort.Slice(group, func(i, j int) bool { return group[i].Section.Start > group[j].Section.Start })

		content := out[idx].Content
		for _, r := range group {
			s := r.Section
			if s.Start < 0 || s.End > len(content) || content[s.Start:s.End] != s.RawMatch {
				log.Warn().
					Str("section_id", s.ID).
					Int("message", idx).
					Msg("section span no longer matches message content; replacement dropped")
				continue
			}
			content = content[:s.Start] + render(s, r.Text) + content[s.End:]
		}
		out[idx].Content = content
	}

	return out
}

// render builds the replacement text for one section, including the
// kind-specific header that frames the compressed body.
func render(s sections.Section, text string) string {
	body := strings.TrimSpace(text)

	switch s.Kind {
	case sections.KindContext:
		var b strings.Builder
		b.WriteString(compressedContextBanner)
		b.WriteString("\n--- ")
		b.WriteString(s.Campaign)
		b.WriteString(" (Chronicle ")
		b.WriteString(strconv.Itoa(s.Chronicle))
		b.WriteString(") ---\n")
		b.WriteString(body)
		return b.String()

	case sections.KindSummary:
		if s.LocationCode != "" {
			tag := "[" + s.LocationCode + "]"
			// The compressor often echoes the code; avoid doubling it.
			body = strings.TrimSpace(strings.TrimPrefix(body, tag))
			body = tag + " " + body
		}
		return compressedSummaryBanner + "\n" + body

	case sections.KindLocationEntry:
		// RawMatch = marker prefix + narrative; keep the exact original marker.
		marker := s.RawMatch[:len(s.RawMatch)-len(s.Narrative)]
		return marker + body

	default:
		return body
	}
}

// SwapSystemPrompt replaces the content of the leading system message when it
// opens with the given phrase. The swap is a plain substitution: it does not
// go through the compressor or the cache, because the replacement text is a
// pre-authored compact prompt, not a derived artifact. Returns the (possibly
// new) conversation and whether a swap happened.
func SwapSystemPrompt(conv []conversation.Message, openingPhrase, replacement string) ([]conversation.Message, bool) {
	if openingPhrase == "" || replacement == "" || len(conv) == 0 {
		return conv, false
	}
	first := conv[0]
	if first.Role != conversation.RoleSystem {
		return conv, false
	}
	if !strings.HasPrefix(strings.TrimLeft(first.Content, " \t\n"), openingPhrase) {
		return conv, false
	}

	out := conversation.Clone(conv)
	out[0].Content = replacement
	log.Info().
		Int("original_bytes", len(first.Content)).
		Int("replacement_bytes", len(replacement)).
		Msg("system prompt swapped for compact variant")
	return out, true
}

// Section matchers.
//
// Each matcher is self-contained; adding a fourth section kind means adding a
// matcher here and listing it in NewExtractor, nothing else.
package sections

import (
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/rs/zerolog/log"
	"github.com/tidwall/gjson"

	"github.com/dmforge/chronicler/internal/fingerprint"
)

var (
	// campaignHeaderRe matches a chronicle block header, optionally led by the
	// campaign-context banner. Consuming the banner into the match means the
	// rewriter's "(COMPRESSED)" header fully replaces it.
	campaignHeaderRe = regexp.MustCompile(`(?m)^(?:===[ \t]*CAMPAIGN CONTEXT[ \t]*===[ \t]*\n+)?---[ \t]*(.+?)[ \t]*\(Chronicle[ \t]+(\d+)\)[ \t]*---[ \t]*\n`)

	// bannerRe matches any "=== ... ===" banner line; chronicle bodies and
	// location summaries run until the next banner or header.
	bannerRe = regexp.MustCompile(`(?m)^===[ \t]*[^\n]*?===[ \t]*$`)

	// chronicleDividerRe matches a bare "--- ... ---" divider line.
	chronicleDividerRe = regexp.MustCompile(`(?m)^---[ \t]*[^\n]*?---[ \t]*$`)

	// summaryBannerRe matches the location-summary banner.
	summaryBannerRe = regexp.MustCompile(`(?m)^===[ \t]*LOCATION SUMMARY[ \t]*===[ \t]*\n+`)

	// locationCodeRe matches a bracketed location code like [R15] or [G02].
	locationCodeRe = regexp.MustCompile(`\[([A-Za-z]{1,4}[0-9]{1,4})\]`)
)

// locationCodeProbeWindow limits how deep into a summary body the code is
// searched for; codes live in the opening line of well-formed summaries.
const locationCodeProbeWindow = 200

// locationEntryMarkers are recognized openings for raw location-state
// messages: the marker, then a JSON object.
var locationEntryMarkers = []string{
	"CURRENT LOCATION:",
	"Current location:",
}

// boundaries returns sorted start offsets of all block boundaries in content:
// banners, dividers, and chronicle headers.
func boundaries(content string) []int {
	var cuts []int
	for _, m := range bannerRe.FindAllStringIndex(content, -1) {
		cuts = append(cuts, m[0])
	}
	for _, m := range chronicleDividerRe.FindAllStringIndex(content, -1) {
		cuts = append(cuts, m[0])
	}
	sort.Ints(cuts)
	return cuts
}

// nextBoundary returns the first boundary at or after pos, or len(content).
func nextBoundary(cuts []int, pos, end int) int {
	i := sort.SearchInts(cuts, pos)
	if i < len(cuts) {
		return cuts[i]
	}
	return end
}

// CampaignContextMatcher finds campaign chronicle blocks.
type CampaignContextMatcher struct{}

// Name implements Matcher.
func (CampaignContextMatcher) Name() string { return "campaign_context" }

// Find implements Matcher.
func (CampaignContextMatcher) Find(content string) []Section {
	headers := campaignHeaderRe.FindAllStringSubmatchIndex(content, -1)
	if len(headers) == 0 {
		return nil
	}

	cuts := boundaries(content)
	var out []Section
	for _, h := range headers {
		start, headerEnd := h[0], h[1]
		campaign := content[h[2]:h[3]]
		chronicle, err := strconv.Atoi(content[h[4]:h[5]])
		if err != nil {
			continue
		}

		end := nextBoundary(cuts, headerEnd, len(content))
		narrative := strings.TrimSpace(content[headerEnd:end])
		if narrative == "" {
			continue
		}

		// Trim trailing whitespace out of the span so replacement does not
		// swallow the separator before the next block.
		rawEnd := headerEnd + len(strings.TrimRight(content[headerEnd:end], " \t\n"))

		out = append(out, Section{
			Kind:      KindContext,
			ID:        campaign + "_Chronicle_" + strconv.Itoa(chronicle),
			RawMatch:  content[start:rawEnd],
			Narrative: narrative,
			Start:     start,
			End:       rawEnd,
			Campaign:  campaign,
			Chronicle: chronicle,
		})
	}
	return out
}

// LocationSummaryMatcher finds "=== LOCATION SUMMARY ===" blocks.
type LocationSummaryMatcher struct{}

// Name implements Matcher.
func (LocationSummaryMatcher) Name() string { return "location_summary" }

// Find implements Matcher.
func (LocationSummaryMatcher) Find(content string) []Section {
	banners := summaryBannerRe.FindAllStringIndex(content, -1)
	if len(banners) == 0 {
		return nil
	}

	cuts := boundaries(content)
	var out []Section
	for _, b := range banners {
		start, bodyStart := b[0], b[1]
		end := nextBoundary(cuts, bodyStart, len(content))
		narrative := strings.TrimSpace(content[bodyStart:end])
		if narrative == "" {
			continue
		}

		rawEnd := bodyStart + len(strings.TrimRight(content[bodyStart:end], " \t\n"))

		sec := Section{
			Kind:      KindSummary,
			RawMatch:  content[start:rawEnd],
			Narrative: narrative,
			Start:     start,
			End:       rawEnd,
		}

		probe := narrative
		if len(probe) > locationCodeProbeWindow {
			probe = probe[:locationCodeProbeWindow]
		}
		if m := locationCodeRe.FindStringSubmatch(probe); m != nil {
			sec.LocationCode = m[1]
			sec.ID = "Location_" + m[1]
		} else {
			sec.ID = "LocationSummary_" + fingerprint.Short(narrative, 8)
		}

		out = append(out, sec)
	}
	return out
}

// LocationEntryMatcher recognizes a message that is a current-location marker
// followed immediately by the location's raw JSON state.
type LocationEntryMatcher struct{}

// Name implements Matcher.
func (LocationEntryMatcher) Name() string { return "location_entry" }

// Find implements Matcher.
func (LocationEntryMatcher) Find(content string) []Section {
	trimmed := strings.TrimLeft(content, " \t\n")
	lead := len(content) - len(trimmed)

	var markerLen int
	for _, marker := range locationEntryMarkers {
		if strings.HasPrefix(trimmed, marker) {
			markerLen = len(marker)
			break
		}
	}
	if markerLen == 0 {
		return nil
	}

	rest := trimmed[markerLen:]
	braceRel := strings.IndexByte(rest, '{')
	if braceRel < 0 || strings.TrimSpace(rest[:braceRel]) != "" {
		return nil
	}

	jsonStart := lead + markerLen + braceRel
	jsonText := content[jsonStart:]
	if !gjson.Valid(jsonText) {
		// Unparseable location JSON: drop this candidate, keep extracting.
		log.Debug().Msg("location entry JSON invalid; skipping section")
		return nil
	}

	doc := gjson.Parse(jsonText)
	locID := doc.Get("location_id").String()
	if locID == "" {
		locID = doc.Get("id").String()
	}
	if locID == "" {
		return nil
	}

	return []Section{{
		Kind:       KindLocationEntry,
		ID:         "LocationEntry_" + locID,
		RawMatch:   content[lead:],
		Narrative:  jsonText,
		Start:      lead,
		End:        len(content),
		LocationID: locID,
	}}
}

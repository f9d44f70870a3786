// Package sections extracts compressible spans from conversation messages.
//
// DESIGN: Three section kinds, each found by an independent Matcher:
//   - context:        campaign chronicle blocks ("--- <name> (Chronicle N) ---")
//   - summary:        "=== LOCATION SUMMARY ===" blocks
//   - location_entry: a current-location marker followed by raw location JSON
//
// Sections are typed records with byte offsets into the owning message, not
// positional tuples: the rewriter replaces by offset, so two textually
// identical blocks in one message can never be confused. Extraction is a pure
// function over the conversation - no I/O, no mutation.
package sections

// Kind classifies a compressible span.
type Kind string

const (
	KindContext       Kind = "context"
	KindSummary       Kind = "summary"
	KindLocationEntry Kind = "location_entry"
)

// Section is one extracted compressible span within a message.
//
// RawMatch is the exact substring content[Start:End] of the owning message at
// extraction time. Start/End are authoritative for replacement; RawMatch is
// kept for logging and cache audits.
type Section struct {
	MessageIndex int
	Kind         Kind
	ID           string
	RawMatch     string
	Narrative    string
	Start        int
	End          int

	// Kind-specific fields. Only the fields for the section's own kind are
	// populated; the rewriter uses them to rebuild headers.
	Campaign     string // context: campaign/module name
	Chronicle    int    // context: chronicle number within the campaign
	LocationCode string // summary: bracketed location code, if found
	LocationID   string // location_entry: declared location identifier
}

// overlaps reports whether s and t cover intersecting source spans.
func (s Section) overlaps(t Section) bool {
	return s.Start < t.End && t.Start < s.End
}

// Matcher finds candidate sections in one message's content. Implementations
// must return sections with valid offsets and must not overlap themselves.
type Matcher interface {
	// Name identifies the matcher in logs.
	Name() string

	// Find returns candidate sections in content. MessageIndex is left zero;
	// the extractor fills it in.
	Find(content string) []Section
}

// Package structural compresses nested JSON-like values under a byte budget.
//
// DESIGN: A pure, synchronous, deterministic transform - no cache, no
// concurrency, no LLM. Used to pre-flatten location/encounter state before it
// is handed to the narrative compressor or sent directly to the model.
//
// Policy, in order:
//   - strings longer than MaxStringLength are truncated with a marker
//   - recursion beyond MaxDepth yields nil instead of descending
//   - a dict is first filtered by the interest-pattern allow-list; if the
//     filtered result fits the byte budget it wins, otherwise ALL keys are
//     compressed under the same rules (never drop information silently just
//     because the allow-list was too aggressive)
//   - dict/list construction stops adding children once the running
//     serialized size exceeds the budget (greedy, earliest-first)
//   - an empty result with LosslessFallback set returns the original value
//
// Running sizes are measured on the actual serialized document, built
// incrementally with sjson, so the budget is enforced on real bytes.
package structural

import (
	"encoding/json"
	"regexp"
	"sort"

	"github.com/rs/zerolog/log"
	"github.com/tidwall/sjson"
)

// TruncationMarker terminates truncated strings.
const TruncationMarker = "…"

// Budget bounds one compression call. No persistent state.
type Budget struct {
	MaxStringLength  int      `yaml:"max_string_length"`
	MaxDepth         int      `yaml:"max_depth"`
	ByteBudget       int      `yaml:"byte_budget"`
	InterestPatterns []string `yaml:"interest_patterns"`
	LosslessFallback bool     `yaml:"lossless_fallback"`
}

// DefaultBudget returns the limits used for location-state pre-flattening.
func DefaultBudget() Budget {
	return Budget{
		MaxStringLength: 200,
		MaxDepth:        5,
		ByteBudget:      2048,
		InterestPatterns: []string{
			"^(name|location_id|id|type)$",
			"(door|exit|connect)",
			"(trap|treasure|loot)",
			"(npc|monster|creature)",
		},
		LosslessFallback: true,
	}
}

func (b Budget) compiled() []*regexp.Regexp {
	var res []*regexp.Regexp
	for _, p := range b.InterestPatterns {
		re, err := regexp.Compile(p)
		if err != nil {
			log.Warn().Str("pattern", p).Err(err).Msg("invalid interest pattern ignored")
			continue
		}
		res = append(res, re)
	}
	return res
}

// Compress applies the budget to a JSON-like value (maps, slices, strings,
// numbers, bools, nil) and returns the compressed value. Any valid JSON-like
// input yields a result; over-budget input is resolved by truncation, never
// by error.
func Compress(value any, budget Budget) any {
	patterns := budget.compiled()

	if dict, ok := value.(map[string]any); ok && len(patterns) > 0 {
		filtered := filterKeys(dict, patterns)
		candidate := compressValue(filtered, budget, 0)
		if serializedSize(candidate) <= budget.ByteBudget && !isEmpty(candidate) {
			return candidate
		}
		// Allow-list too aggressive (or still over budget): compress all keys.
	}

	result := compressValue(value, budget, 0)
	if isEmpty(result) && budget.LosslessFallback {
		return value
	}
	return result
}

// CompressJSON compresses a raw JSON document and re-serializes it. Invalid
// input is returned unchanged - the caller is handing it to an LLM either
// way, and garbage-in should not become data loss.
func CompressJSON(raw string, budget Budget) string {
	var value any
	if err := json.Unmarshal([]byte(raw), &value); err != nil {
		log.Debug().Err(err).Msg("structural compression skipped: input is not valid JSON")
		return raw
	}
	out, err := json.Marshal(Compress(value, budget))
	if err != nil {
		return raw
	}
	return string(out)
}

func compressValue(value any, budget Budget, depth int) any {
	if depth > budget.MaxDepth {
		return nil
	}

	switch v := value.(type) {
	case string:
		return truncateString(v, budget.MaxStringLength)
	case map[string]any:
		return compressDict(v, budget, depth)
	case []any:
		return compressList(v, budget, depth)
	default:
		// Numbers, bools, nil pass through.
		return v
	}
}

func compressDict(dict map[string]any, budget Budget, depth int) map[string]any {
	keys := make([]string, 0, len(dict))
	for k := range dict {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	doc := []byte("{}")
	out := make(map[string]any, len(dict))
	for _, k := range keys {
		child := compressValue(dict[k], budget, depth+1)
		if child == nil && dict[k] != nil {
			// Depth-pruned. Dropping the key keeps "fully pruned" visible as
			// an empty dict for the lossless fallback.
			continue
		}
		raw, err := json.Marshal(child)
		if err != nil {
			continue
		}
		doc, err = sjson.SetRawBytes(doc, escapePath(k), raw)
		if err != nil {
			continue
		}
		out[k] = child
		// Greedy truncation: the element that crosses the budget stays, but
		// nothing further is added.
		if budget.ByteBudget > 0 && len(doc) > budget.ByteBudget {
			break
		}
	}
	return out
}

func compressList(list []any, budget Budget, depth int) []any {
	doc := []byte("[]")
	out := make([]any, 0, len(list))
	for _, item := range list {
		child := compressValue(item, budget, depth+1)
		if child == nil && item != nil {
			continue
		}
		raw, err := json.Marshal(child)
		if err != nil {
			continue
		}
		doc, err = sjson.SetRawBytes(doc, "-1", raw)
		if err != nil {
			continue
		}
		out = append(out, child)
		if budget.ByteBudget > 0 && len(doc) > budget.ByteBudget {
			break
		}
	}
	return out
}

func filterKeys(dict map[string]any, patterns []*regexp.Regexp) map[string]any {
	out := make(map[string]any)
	for k, v := range dict {
		for _, re := range patterns {
			if re.MatchString(k) {
				out[k] = v
				break
			}
		}
	}
	return out
}

func truncateString(s string, maxLen int) string {
	if maxLen <= 0 || len(s) <= maxLen {
		return s
	}
	runes := []rune(s)
	if len(runes) <= maxLen {
		return s
	}
	return string(runes[:maxLen-1]) + TruncationMarker
}

func serializedSize(value any) int {
	data, err := json.Marshal(value)
	if err != nil {
		return 0
	}
	return len(data)
}

func isEmpty(value any) bool {
	switch v := value.(type) {
	case nil:
		return true
	case map[string]any:
		return len(v) == 0
	case []any:
		return len(v) == 0
	case string:
		return v == ""
	default:
		return false
	}
}

// escapePath escapes sjson path metacharacters in a map key.
func escapePath(key string) string {
	out := make([]byte, 0, len(key))
	for i := 0; i < len(key); i++ {
		switch key[i] {
		case '.', '*', '?', '\\', '|', '#', '@':
			out = append(out, '\\')
		}
		out = append(out, key[i])
	}
	return string(out)
}

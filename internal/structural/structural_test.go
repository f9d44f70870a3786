package structural

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func budget(opts ...func(*Budget)) Budget {
	b := Budget{
		MaxStringLength:  200,
		MaxDepth:         5,
		ByteBudget:       2048,
		LosslessFallback: true,
	}
	for _, opt := range opts {
		opt(&b)
	}
	return b
}

func TestStringTruncation(t *testing.T) {
	b := budget(func(b *Budget) { b.MaxStringLength = 10 })

	got := Compress(strings.Repeat("a", 50), b)
	s, ok := got.(string)
	require.True(t, ok)
	assert.Equal(t, strings.Repeat("a", 9)+TruncationMarker, s)
	assert.Equal(t, 10, len([]rune(s)))
}

func TestShortStringsPassThrough(t *testing.T) {
	b := budget(func(b *Budget) { b.MaxStringLength = 10 })
	assert.Equal(t, "short", Compress("short", b))
}

func TestTruncationIsRuneSafe(t *testing.T) {
	b := budget(func(b *Budget) { b.MaxStringLength = 5 })
	got := Compress("дракон спит", b).(string)
	assert.True(t, strings.HasSuffix(got, TruncationMarker))
	assert.True(t, json.Valid(mustJSON(t, got)), "no broken UTF-8 sequences")
}

func TestDepthLimit(t *testing.T) {
	b := budget(func(b *Budget) { b.MaxDepth = 2 })

	value := map[string]any{
		"level1": map[string]any{
			"level2": map[string]any{
				"level3": "too deep",
			},
		},
	}
	got := Compress(value, b).(map[string]any)
	l1 := got["level1"].(map[string]any)
	l2 := l1["level2"].(map[string]any)
	assert.NotContains(t, l2, "level3", "values beyond the depth limit are pruned")
}

func TestScalarsPassThrough(t *testing.T) {
	b := budget()
	assert.Equal(t, 42.0, Compress(42.0, b))
	assert.Equal(t, true, Compress(true, b))
	assert.Nil(t, Compress(nil, b))
}

func TestInterestPatternsFilterKeys(t *testing.T) {
	b := budget(func(b *Budget) {
		b.InterestPatterns = []string{"^(name|location_id)$", "(door|exit)"}
	})

	value := map[string]any{
		"location_id":   "crypt_lower",
		"name":          "The Flooded Crypt",
		"doors":         []any{"north", "east"},
		"flavour_prose": strings.Repeat("atmospheric text ", 20),
		"audio_cue":     "drip.ogg",
	}

	got := Compress(value, b).(map[string]any)
	assert.Contains(t, got, "location_id")
	assert.Contains(t, got, "name")
	assert.Contains(t, got, "doors")
	assert.NotContains(t, got, "flavour_prose")
	assert.NotContains(t, got, "audio_cue")
}

func TestFilteredPassFallsBackToAllKeys(t *testing.T) {
	// No key matches the allow-list; rather than returning an empty dict the
	// compressor keeps all keys under the normal rules.
	b := budget(func(b *Budget) {
		b.InterestPatterns = []string{"^nothing_matches$"}
	})

	value := map[string]any{"hp": 12.0, "status": "bloodied"}
	got := Compress(value, b).(map[string]any)
	assert.Equal(t, 12.0, got["hp"])
	assert.Equal(t, "bloodied", got["status"])
}

func TestByteBudgetStopsAddingChildren(t *testing.T) {
	b := budget(func(b *Budget) { b.ByteBudget = 60 })

	value := map[string]any{}
	for _, k := range []string{"a", "b", "c", "d", "e", "f", "g", "h"} {
		value[k] = strings.Repeat("x", 20)
	}

	got := Compress(value, b).(map[string]any)
	require.NotEmpty(t, got, "the element crossing the budget is kept")
	assert.Less(t, len(got), len(value), "later elements are dropped")

	// Sorted key order makes the kept subset deterministic.
	again := Compress(value, b).(map[string]any)
	assert.Equal(t, got, again)
}

func TestByteBudgetOnLists(t *testing.T) {
	b := budget(func(b *Budget) { b.ByteBudget = 50 })

	list := make([]any, 10)
	for i := range list {
		list[i] = strings.Repeat("y", 15)
	}

	got := Compress(list, b).([]any)
	require.NotEmpty(t, got)
	assert.Less(t, len(got), 10)
	// Earliest-first: kept elements are a prefix.
	assert.Equal(t, list[0], got[0])
}

func TestLosslessFallbackReturnsOriginal(t *testing.T) {
	b := budget(func(b *Budget) {
		b.MaxDepth = 0
		b.LosslessFallback = true
	})

	value := map[string]any{"nested": map[string]any{"gone": true}}
	got := Compress(value, b)
	assert.Equal(t, value, got, "empty result with fallback returns the original")
}

func TestEmptyAllowedWhenFallbackDisabled(t *testing.T) {
	b := budget(func(b *Budget) {
		b.MaxDepth = 0
		b.LosslessFallback = false
	})

	got := Compress(map[string]any{"nested": map[string]any{"gone": true}}, b)
	m, ok := got.(map[string]any)
	require.True(t, ok)
	assert.Empty(t, m, "without the fallback a fully pruned dict stays empty")
}

func TestCompressIsDeterministic(t *testing.T) {
	b := DefaultBudget()
	value := map[string]any{
		"name": "Gatehouse", "location_id": "G02",
		"npcs": []any{map[string]any{"name": "Hale", "hp": 22.0}},
	}
	first, err := json.Marshal(Compress(value, b))
	require.NoError(t, err)
	for i := 0; i < 5; i++ {
		next, err := json.Marshal(Compress(value, b))
		require.NoError(t, err)
		assert.JSONEq(t, string(first), string(next))
	}
}

func TestCompressJSONInvalidInputPassesThrough(t *testing.T) {
	raw := `{"broken":`
	assert.Equal(t, raw, CompressJSON(raw, DefaultBudget()))
}

func TestCompressJSONRoundTrip(t *testing.T) {
	raw := `{"location_id": "ridge", "name": "Windswept Ridge", "flavour": "` + strings.Repeat("wind ", 100) + `"}`
	out := CompressJSON(raw, DefaultBudget())
	require.True(t, json.Valid([]byte(out)))
	assert.Contains(t, out, "ridge")
	assert.Less(t, len(out), len(raw))
}

func mustJSON(t *testing.T, v any) []byte {
	t.Helper()
	data, err := json.Marshal(v)
	require.NoError(t, err)
	return data
}

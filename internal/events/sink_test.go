package events

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSafeSwallowsPanics(t *testing.T) {
	s := Safe(FuncSink(func(string, map[string]any) { panic("status UI crashed") }))
	require.NotPanics(t, func() {
		s.Emit(CompressionProgress, map[string]any{"completed": 1})
	})
}

func TestSafeNilBecomesNop(t *testing.T) {
	s := Safe(nil)
	require.NotPanics(t, func() { s.Emit(CompressionStart, nil) })
}

func TestFuncSinkNil(t *testing.T) {
	var f FuncSink
	require.NotPanics(t, func() { f.Emit(CompressionStart, nil) })
}

func TestMultiFansOut(t *testing.T) {
	var a, b int
	m := Multi(
		FuncSink(func(string, map[string]any) { a++ }),
		nil,
		FuncSink(func(string, map[string]any) { b++ }),
	)

	m.Emit(CompressionStart, nil)
	m.Emit(CompressionComplete, nil)

	assert.Equal(t, 2, a)
	assert.Equal(t, 2, b)
}

func TestMultiEmptyIsNop(t *testing.T) {
	m := Multi(nil, nil)
	_, ok := m.(NopSink)
	assert.True(t, ok)
}

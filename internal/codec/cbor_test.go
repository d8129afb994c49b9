package codec

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDeterministicEncoding(t *testing.T) {
	a := map[string]any{"b": 2, "a": 1, "c": []any{"x", true}}
	b := map[string]any{"c": []any{"x", true}, "a": 1, "b": 2}

	encA, err := Marshal(a)
	require.NoError(t, err)
	encB, err := Marshal(b)
	require.NoError(t, err)
	assert.Equal(t, encA, encB)
}

func TestUntypedMapsDecodeWithStringKeys(t *testing.T) {
	data, err := Marshal(map[string]any{
		"nested": map[string]any{"k": "v"},
	})
	require.NoError(t, err)

	var out any
	require.NoError(t, Unmarshal(data, &out))

	m, ok := out.(map[string]any)
	require.True(t, ok, "got %T", out)
	nested, ok := m["nested"].(map[string]any)
	require.True(t, ok, "got %T", m["nested"])
	assert.Equal(t, "v", nested["k"])
}

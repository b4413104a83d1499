package canonical

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMarshal_SortsKeys(t *testing.T) {
	out, err := Marshal(map[string]any{"zebra": 1, "alpha": 2, "mid": 3})
	require.NoError(t, err)
	assert.Equal(t, `{"alpha":2,"mid":3,"zebra":1}`, string(out))
}

func TestMarshal_NestedAndArrays(t *testing.T) {
	v := map[string]any{
		"b": map[string]any{"y": 1, "x": 2},
		"a": []any{"keep", "order", map[string]any{"n": 1, "m": 2}},
	}
	out, err := Marshal(v)
	require.NoError(t, err)
	assert.Equal(t, `{"a":["keep","order",{"m":2,"n":1}],"b":{"x":2,"y":1}}`, string(out))
}

func TestMarshal_NumberFormattingStable(t *testing.T) {
	a, err := Marshal(map[string]any{"score": 0.5, "count": 12})
	require.NoError(t, err)
	b, err := Marshal(map[string]any{"count": 12, "score": 0.5})
	require.NoError(t, err)
	assert.Equal(t, string(a), string(b))
}

func TestHash_DeterministicAcrossKeyOrder(t *testing.T) {
	h1, err := Hash(map[string]any{"a": 1, "b": []string{"x", "y"}})
	require.NoError(t, err)
	h2, err := Hash(map[string]any{"b": []string{"x", "y"}, "a": 1})
	require.NoError(t, err)
	assert.Equal(t, h1, h2)
	assert.Len(t, h1, 64)
}

func TestHash_ArrayOrderMatters(t *testing.T) {
	h1, err := Hash([]string{"x", "y"})
	require.NoError(t, err)
	h2, err := Hash([]string{"y", "x"})
	require.NoError(t, err)
	assert.NotEqual(t, h1, h2)
}

func TestHashBytes_KnownVector(t *testing.T) {
	// sha256("") is a fixed constant; guards against accidental double-hash.
	assert.Equal(t,
		"e3b0c44298fc1c149afbf4c8996fb92427ae41e4649b934ca495991b7852b855",
		HashBytes(nil))
}

func TestMarshal_StructUsesJSONTags(t *testing.T) {
	type probe struct {
		B string `json:"b"`
		A int    `json:"a"`
	}
	out, err := Marshal(probe{B: "v", A: 7})
	require.NoError(t, err)
	assert.Equal(t, `{"a":7,"b":"v"}`, string(out))
}

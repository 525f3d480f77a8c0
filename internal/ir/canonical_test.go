package ir

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMarshalCanonical_SortsKeys(t *testing.T) {
	b, err := MarshalCanonical(map[string]any{
		"zulu":  int64(1),
		"alpha": int64(2),
		"mike":  int64(3),
	})
	require.NoError(t, err)
	assert.Equal(t, `{"alpha":2,"mike":3,"zulu":1}`, string(b))
}

func TestMarshalCanonical_NoHTMLEscaping(t *testing.T) {
	b, err := MarshalCanonical("a < b && c > d")
	require.NoError(t, err)
	assert.Equal(t, `"a < b && c > d"`, string(b))
}

func TestMarshalCanonical_RejectsFloats(t *testing.T) {
	_, err := MarshalCanonical(map[string]any{"x": 1.5})
	assert.Error(t, err)
}

func TestMarshalCanonical_RejectsNull(t *testing.T) {
	_, err := MarshalCanonical(nil)
	assert.Error(t, err)

	_, err = MarshalCanonical(map[string]any{"x": nil})
	assert.Error(t, err)
}

func TestMarshalCanonical_NestedStructures(t *testing.T) {
	b, err := MarshalCanonical(map[string]any{
		"changes": []any{
			map[string]any{"path": "actors.p1.money", "new": int64(1300)},
		},
		"success": true,
	})
	require.NoError(t, err)
	assert.Equal(t, `{"changes":[{"new":1300,"path":"actors.p1.money"}],"success":true}`, string(b))
}

func TestMarshalCanonical_NFCNormalization(t *testing.T) {
	// "e" + COMBINING ACUTE ACCENT normalizes to precomposed U+00E9.
	decomposed := "e\u0301"
	precomposed := "\u00e9"

	b1, err := MarshalCanonical(decomposed)
	require.NoError(t, err)
	b2, err := MarshalCanonical(precomposed)
	require.NoError(t, err)
	assert.Equal(t, b2, b1, "NFC normalization must make both forms identical")
}

func TestMarshalCanonical_LineSeparatorsLiteral(t *testing.T) {
	b, err := MarshalCanonical("a\u2028b")
	require.NoError(t, err)
	assert.Equal(t, "\"a\u2028b\"", string(b))
}

func TestMarshalCanonical_EscapedBackslashBeforeU2028Text(t *testing.T) {
	// A literal backslash followed by the text "u2028" must stay escaped.
	b, err := MarshalCanonical("\\u2028")
	require.NoError(t, err)
	assert.Equal(t, `"\\u2028"`, string(b))
}

func TestMarshalCanonical_Deterministic(t *testing.T) {
	m := map[string]any{
		"b": []any{"x", "y"},
		"a": map[string]any{"nested": true},
		"c": int64(42),
	}

	b1, err := MarshalCanonical(m)
	require.NoError(t, err)
	for i := 0; i < 10; i++ {
		b2, err := MarshalCanonical(m)
		require.NoError(t, err)
		assert.Equal(t, b1, b2)
	}
}

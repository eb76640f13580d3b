package canonicalize

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJCS(t *testing.T) {
	tests := map[string]struct {
		in   any
		want string
	}{
		"sorted keys":    {in: map[string]any{"c": 3, "a": 1, "b": 2}, want: `{"a":1,"b":2,"c":3}`},
		"nested":         {in: map[string]any{"z": map[string]any{"y": "foo", "x": "bar"}, "a": 1}, want: `{"a":1,"z":{"x":"bar","y":"foo"}}`},
		"no html escape": {in: map[string]string{"target": "<vault> & co"}, want: `{"target":"<vault> & co"}`},
		"json number":    {in: map[string]any{"num": json.Number("123.456")}, want: `{"num":123.456}`},
	}
	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			b, err := JCS(tc.in)
			require.NoError(t, err)
			assert.Equal(t, tc.want, string(b))
		})
	}
}

func TestCanonicalHash_StructAndMapAgree(t *testing.T) {
	type action struct {
		Value  uint64 `json:"value"`
		Target string `json:"target"`
	}
	h1, err := CanonicalHash(map[string]any{"target": "treasury", "value": 50})
	require.NoError(t, err)
	h2, err := CanonicalHash(action{Target: "treasury", Value: 50})
	require.NoError(t, err)
	assert.Equal(t, h1, h2)
	assert.Len(t, h1, 64)
}

func TestKeccak256(t *testing.T) {
	// Keccak-256 of the canonical empty object "{}".
	h, err := Keccak256(map[string]any{})
	require.NoError(t, err)
	assert.Len(t, h, 66)
	assert.Equal(t, "0x", h[:2])

	h2, err := Keccak256(map[string]any{})
	require.NoError(t, err)
	assert.Equal(t, h, h2)

	other, err := Keccak256(map[string]any{"id": 1})
	require.NoError(t, err)
	assert.NotEqual(t, h, other)
}

func FuzzCanonicalHash(f *testing.F) {
	f.Add([]byte(`{"target":"treasury","value":50}`))
	f.Add([]byte(`{"z":{"y":"foo","x":"bar"},"a":1}`))
	f.Add([]byte(`{"unicode":"こんにちは"}`))
	f.Add([]byte(`{}`))

	f.Fuzz(func(t *testing.T, data []byte) {
		var v any
		if err := json.Unmarshal(data, &v); err != nil {
			t.Skip("invalid JSON input")
		}
		h1, err := CanonicalHash(v)
		if err != nil {
			return
		}
		h2, err := CanonicalHash(v)
		require.NoError(t, err)
		assert.Equal(t, h1, h2)
	})
}

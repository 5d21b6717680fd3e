package bser

import (
	"encoding/json"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMarshal_MinimalIntegerWidths(t *testing.T) {
	tests := []struct {
		in      int64
		wantTag byte
		wantLen int
	}{
		{0, tagInt8, 2},
		{-128, tagInt8, 2},
		{127, tagInt8, 2},
		{128, tagInt16, 3},
		{-32769, tagInt32, 5},
		{math.MaxInt32, tagInt32, 5},
		{math.MaxInt32 + 1, tagInt64, 9},
		{math.MinInt64, tagInt64, 9},
	}

	for _, tt := range tests {
		b, err := Marshal(tt.in)
		require.NoError(t, err)
		assert.Equal(t, tt.wantTag, b[0], "value %d", tt.in)
		assert.Len(t, b, tt.wantLen, "value %d", tt.in)

		got, _, err := Decode(b)
		require.NoError(t, err)
		assert.Equal(t, tt.in, got)
	}
}

func TestMarshal_RoundTrip(t *testing.T) {
	tests := []struct {
		name string
		in   any
		want any
	}{
		{"null", nil, nil},
		{"bool", true, true},
		{"int", 42, int64(42)},
		{"uint32", uint32(70000), int64(70000)},
		{"float", 3.25, 3.25},
		{"string", "hello", "hello"},
		{"bytes", []byte("raw"), "raw"},
		{"json int", json.Number("12345678901"), int64(12345678901)},
		{"json float", json.Number("0.5"), 0.5},
		{"strings", []string{"a", "b"}, []any{"a", "b"}},
		{
			"nested",
			map[string]any{
				"version": "1.0",
				"roots":   []any{"/repo", "/other"},
				"clock":   int64(1 << 40),
				"ok":      false,
				"meta":    map[string]string{"host": "box"},
			},
			map[string]any{
				"version": "1.0",
				"roots":   []any{"/repo", "/other"},
				"clock":   int64(1 << 40),
				"ok":      false,
				"meta":    map[string]any{"host": "box"},
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b, err := Marshal(tt.in)
			require.NoError(t, err)

			got, n, err := Decode(b)
			require.NoError(t, err)
			assert.Equal(t, len(b), n)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestMarshal_TemplateRoundTrip(t *testing.T) {
	tmpl := Template{
		Keys: []string{"name", "exists"},
		Rows: [][]any{
			{"a.go", true},
			{"b.go", Skip},
		},
	}

	b, err := Marshal(tmpl)
	require.NoError(t, err)
	assert.Equal(t, tagTemplate, b[0])

	got, _, err := Decode(b)
	require.NoError(t, err)
	assert.Equal(t, []any{
		map[string]any{"name": "a.go", "exists": true},
		map[string]any{"name": "b.go"},
	}, got)
}

func TestMarshal_DeterministicKeyOrder(t *testing.T) {
	m := map[string]any{"b": 1, "a": 2, "c": 3}

	first, err := Marshal(m)
	require.NoError(t, err)
	for i := 0; i < 20; i++ {
		again, err := Marshal(m)
		require.NoError(t, err)
		assert.Equal(t, first, again)
	}
}

func TestMarshal_Unsupported(t *testing.T) {
	tests := []any{
		struct{}{},
		make(chan int),
		uint64(math.MaxUint64),
		json.Number("not-a-number"),
		[]any{1, struct{}{}},
		Template{Keys: []string{"a"}, Rows: [][]any{{1, 2}}},
	}

	for _, in := range tests {
		_, err := Marshal(in)
		var ute *UnsupportedTypeError
		assert.ErrorAs(t, err, &ute, "%T", in)
	}
}

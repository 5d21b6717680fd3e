package bser

import (
	"encoding/binary"
	"encoding/json"
	"math"
	"sort"
)

// Skip marks a missing cell in a Template row.
var Skip = skipMarker{}

type skipMarker struct{}

// Template is a compact encoding of a list of objects sharing the same keys.
// It decodes as []any of map[string]any.
type Template struct {
	Keys []string
	Rows [][]any
}

// Marshal encodes v. Supported: nil, bool, signed and unsigned integers
// (unsigned up to math.MaxInt64), float32/64, json.Number, string, []byte,
// []any, []string, map[string]any and map[string]string. Map keys are
// written in sorted order so output is deterministic.
func Marshal(v any) ([]byte, error) {
	return appendValue(nil, v)
}

func appendValue(b []byte, v any) ([]byte, error) {
	switch x := v.(type) {
	case nil:
		return append(b, tagNull), nil
	case bool:
		if x {
			return append(b, tagTrue), nil
		}
		return append(b, tagFalse), nil
	case int:
		return appendInt(b, int64(x)), nil
	case int8:
		return appendInt(b, int64(x)), nil
	case int16:
		return appendInt(b, int64(x)), nil
	case int32:
		return appendInt(b, int64(x)), nil
	case int64:
		return appendInt(b, x), nil
	case uint:
		return appendUint(b, uint64(x), v)
	case uint8:
		return appendInt(b, int64(x)), nil
	case uint16:
		return appendInt(b, int64(x)), nil
	case uint32:
		return appendInt(b, int64(x)), nil
	case uint64:
		return appendUint(b, x, v)
	case float32:
		return appendReal(b, float64(x)), nil
	case float64:
		return appendReal(b, x), nil
	case json.Number:
		if i, err := x.Int64(); err == nil {
			return appendInt(b, i), nil
		}
		f, err := x.Float64()
		if err != nil {
			return nil, &UnsupportedTypeError{Value: v}
		}
		return appendReal(b, f), nil
	case string:
		return appendString(b, x), nil
	case []byte:
		b = append(b, tagBytes)
		b = appendInt(b, int64(len(x)))
		return append(b, x...), nil
	case []any:
		b = append(b, tagArray)
		b = appendInt(b, int64(len(x)))
		for _, e := range x {
			var err error
			if b, err = appendValue(b, e); err != nil {
				return nil, err
			}
		}
		return b, nil
	case []string:
		b = append(b, tagArray)
		b = appendInt(b, int64(len(x)))
		for _, s := range x {
			b = appendString(b, s)
		}
		return b, nil
	case map[string]any:
		b = append(b, tagObject)
		b = appendInt(b, int64(len(x)))
		for _, k := range sortedKeys(x) {
			b = appendString(b, k)
			var err error
			if b, err = appendValue(b, x[k]); err != nil {
				return nil, err
			}
		}
		return b, nil
	case Template:
		return appendTemplate(b, x)
	case *Template:
		return appendTemplate(b, *x)
	case map[string]string:
		b = append(b, tagObject)
		b = appendInt(b, int64(len(x)))
		for _, k := range sortedKeys(x) {
			b = appendString(b, k)
			b = appendString(b, x[k])
		}
		return b, nil
	default:
		return nil, &UnsupportedTypeError{Value: v}
	}
}

func appendTemplate(b []byte, t Template) ([]byte, error) {
	b = append(b, tagTemplate, tagArray)
	b = appendInt(b, int64(len(t.Keys)))
	for _, k := range t.Keys {
		b = appendString(b, k)
	}
	b = appendInt(b, int64(len(t.Rows)))
	for _, row := range t.Rows {
		if len(row) != len(t.Keys) {
			return nil, &UnsupportedTypeError{Value: row}
		}
		for _, cell := range row {
			if _, ok := cell.(skipMarker); ok {
				b = append(b, tagSkip)
				continue
			}
			var err error
			if b, err = appendValue(b, cell); err != nil {
				return nil, err
			}
		}
	}
	return b, nil
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// appendInt writes n using the narrowest integer tag that holds it.
func appendInt(b []byte, n int64) []byte {
	switch {
	case n >= math.MinInt8 && n <= math.MaxInt8:
		return append(b, tagInt8, byte(int8(n)))
	case n >= math.MinInt16 && n <= math.MaxInt16:
		b = append(b, tagInt16)
		return binary.LittleEndian.AppendUint16(b, uint16(int16(n)))
	case n >= math.MinInt32 && n <= math.MaxInt32:
		b = append(b, tagInt32)
		return binary.LittleEndian.AppendUint32(b, uint32(int32(n)))
	default:
		b = append(b, tagInt64)
		return binary.LittleEndian.AppendUint64(b, uint64(n))
	}
}

func appendUint(b []byte, n uint64, orig any) ([]byte, error) {
	if n > math.MaxInt64 {
		return nil, &UnsupportedTypeError{Value: orig}
	}
	return appendInt(b, int64(n)), nil
}

func appendReal(b []byte, f float64) []byte {
	b = append(b, tagReal)
	return binary.LittleEndian.AppendUint64(b, math.Float64bits(f))
}

func appendString(b []byte, s string) []byte {
	b = append(b, tagBytes)
	b = appendInt(b, int64(len(s)))
	return append(b, s...)
}

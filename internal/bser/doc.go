// Package bser implements the BSER binary serialization used by watchman
// compatible clients.
//
// Decode accepts arbitrary bytes. For every input it terminates and returns
// either a value or a *DecodeError; it never panics, and it never sizes an
// allocation from a count that the remaining input cannot back. Nesting is
// capped at MaxDepth.
//
// Decoded values use the Go types nil, bool, int64, float64, string, []any
// and map[string]any. Templates decode to []any of map[string]any with
// skipped fields omitted.
//
// A PDU is a magic header, an encoded length and one value:
//
//	v1: 00 01 <int length> <value>
//	v2: 00 02 <uint32 capabilities> <int length> <value>
package bser

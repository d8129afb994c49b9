// Package codec is the binary encoding shared by the plugin message
// channel and the per-plugin key-value store.
//
// Values are CBOR with Core Deterministic Encoding, so the same logical
// value always encodes to the same bytes. Decoding into an untyped
// target produces map[string]any for maps, []any for arrays, uint64 or
// int64 for integers and float64 for floating point numbers.
package codec

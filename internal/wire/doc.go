// Package wire owns the cross-domain message contract.
//
// A message is one frame: a fixed 16-byte header followed by a payload of
// TLV fields.
//
//	magic   u32  "XCHG"
//	version u16  model.WireVersion
//	tag     u16  message variant
//	flags   u32  reserved, must be zero
//	length  u32  payload byte length
//
// Each field is id u16, type u8, length u32, value. Integers are big endian.
// Encoding is deterministic: fields are always written in schema order, so
// the same Message always yields the same bytes.
//
// Decoding is strict about structure and lenient about extension: unknown
// tags, wrong versions, truncated or over-long frames and mistyped fields are
// rejected, while unknown field IDs inside a known tag are skipped.
package wire

package triadb

import "encoding/binary"

// Identifier is a fixed-width 8-byte unsigned record id.
type Identifier uint64

// Bytes encodes the identifier as 8 big-endian bytes — no type
// discriminant, since the Identifier's position in a Write or Revision's
// layout is always structurally known.
func (id Identifier) Bytes() []byte {
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, uint64(id))
	return buf
}

// DecodeIdentifier reads an Identifier from its 8-byte encoding.
func DecodeIdentifier(b []byte) Identifier {
	return Identifier(binary.BigEndian.Uint64(b))
}

// Text keys and the process-wide intern table.
//
// A Text is the UTF-8 key half of a Write/Revision's locator or key
// coordinate: variable length, encoded with a 4-byte length
// prefix. Locator and key text — field names like "name" or "age" —
// repeat across millions of writes with very low cardinality relative to
// the values they key, so the engine interns them through a shared
// table; Value strings are never interned (unbounded cardinality, would
// leak memory indefinitely).
package triadb

import (
	"encoding/binary"
	"sync"
)

// Text is an interned, comparable handle onto a UTF-8 key. The zero
// value is the empty key.
type Text string

// Bytes encodes the text as [len:i32][utf8 bytes], the Byteable
// representation used by composite construction and the Write wire
// format.
func (t Text) Bytes() []byte {
	s := []byte(t)
	buf := make([]byte, 4+len(s))
	binary.BigEndian.PutUint32(buf[:4], uint32(len(s)))
	copy(buf[4:], s)
	return buf
}

// DecodeText reads a Text from its Bytes() encoding, returning the
// number of bytes consumed.
func DecodeText(b []byte) (Text, int) {
	n := int(binary.BigEndian.Uint32(b[:4]))
	return Text(b[4 : 4+n]), 4 + n
}

var internTable sync.Map // map[string]Text

// Intern returns the shared Text handle for s, reusing an existing one if
// this key has been seen before. Intended for locator/key text only.
func Intern(s string) Text {
	if v, ok := internTable.Load(s); ok {
		return v.(Text)
	}
	t := Text(s)
	actual, _ := internTable.LoadOrStore(s, t)
	return actual.(Text)
}

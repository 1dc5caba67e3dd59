// Write: the immutable unit every client mutation produces.
//
// A Write is (action, key, value, record, version). Two writes are equal
// iff (key, value, record) match — the action does not participate in
// equality nor in hashing; Matches additionally requires action
// equality. The wire layout is bit-exact and authoritative:
//
//	[keySize:i32][action:u8][version:i64][record:u64][key:bytes keySize][value:varbytes]
package triadb

import (
	"encoding/binary"
	"fmt"
)

// Write is the immutable (action, key, value, record, version) tuple
// produced by a client mutation.
type Write struct {
	action  Action
	key     Text
	value   Value
	record  Identifier
	version int64
	size    int // precomputed encode() length, used by Buffer's admission check
}

// NewWrite constructs a Write with a freshly minted commit version. The
// key is interned (see text.go) since locator/key text has low
// cardinality relative to values.
func NewWrite(action Action, key string, value Value, record Identifier) Write {
	return newWriteAt(action, Intern(key), value, record, nextVersion())
}

func newWriteAt(action Action, key Text, value Value, record Identifier, version int64) Write {
	w := Write{action: action, key: key, value: value, record: record, version: version}
	w.size = w.encodedLen()
	return w
}

func (w Write) Action() Action       { return w.action }
func (w Write) Key() Text            { return w.key }
func (w Write) Value() Value         { return w.value }
func (w Write) Record() Identifier   { return w.record }
func (w Write) Version() int64       { return w.version }
func (w Write) Size() int            { return w.size }

// Equal reports (key, value, record) equality. The action is deliberately
// excluded.
func (w Write) Equal(o Write) bool {
	return w.record == o.record && w.key == o.key && w.value.Equal(o.value)
}

// Matches reports Equal plus action equality.
func (w Write) Matches(o Write) bool {
	return w.Equal(o) && w.action == o.action
}

// Composite returns the canonical (record, key, value) lookup key used by
// the per-page bloom filter and ToggleQueue cancellation.
func (w Write) Composite() Composite {
	return NewComposite(w.record, w.key, w.value)
}

func (w Write) encodedLen() int {
	return 4 + 1 + 8 + 8 + len(w.key) + len(w.value.Bytes())
}

// Encode serializes the write to its authoritative byte layout.
func (w Write) Encode() []byte {
	keyBytes := []byte(w.key)
	valueBytes := w.value.Bytes()

	buf := make([]byte, 4+1+8+8+len(keyBytes)+len(valueBytes))
	off := 0
	binary.BigEndian.PutUint32(buf[off:], uint32(len(keyBytes)))
	off += 4
	buf[off] = byte(w.action)
	off++
	binary.BigEndian.PutUint64(buf[off:], uint64(w.version))
	off += 8
	binary.BigEndian.PutUint64(buf[off:], uint64(w.record))
	off += 8
	copy(buf[off:], keyBytes)
	off += len(keyBytes)
	copy(buf[off:], valueBytes)
	return buf
}

// DecodeWrite parses a Write from its encoded byte layout, returning the
// number of bytes consumed.
func DecodeWrite(b []byte) (Write, int, error) {
	if len(b) < 4+1+8+8 {
		return Write{}, 0, fmt.Errorf("triadb: decode write: short header")
	}
	off := 0
	keySize := int(binary.BigEndian.Uint32(b[off:]))
	off += 4
	action := Action(b[off])
	off++
	version := int64(binary.BigEndian.Uint64(b[off:]))
	off += 8
	record := Identifier(binary.BigEndian.Uint64(b[off:]))
	off += 8

	if len(b) < off+keySize {
		return Write{}, 0, fmt.Errorf("triadb: decode write: short key")
	}
	key := Text(b[off : off+keySize])
	off += keySize

	value, n, err := DecodeValue(b[off:])
	if err != nil {
		return Write{}, 0, fmt.Errorf("triadb: decode write: %w", err)
	}
	off += n

	w := Write{action: action, key: key, value: value, record: record, version: version}
	w.size = w.encodedLen()
	return w, off, nil
}

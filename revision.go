// Revision: a Write projected onto a specific block type.
//
//	Block      Locator L    Key K   Value V
//	Primary    Identifier   Text    Value
//	Secondary  Text         Value   Identifier
//	Corpus     Text         Text    Position
//
// A revision is byte-addressable, carries the same action and version as
// its originating write, and produces a CompactRevision when stored
// inside a record's history list (the locator and key are redundant with
// the housing record there).
package triadb

import (
	"cmp"
	"encoding/binary"
	"fmt"
)

// Revision is a write projected onto one of the three block types.
type Revision[L Byteable, K Byteable, V Byteable] struct {
	Locator L
	Key     K
	Value   V
	Version int64
	Action  Action
}

// NewRevision builds a revision from its four coordinates.
func NewRevision[L Byteable, K Byteable, V Byteable](locator L, key K, value V, version int64, action Action) Revision[L, K, V] {
	return Revision[L, K, V]{Locator: locator, Key: key, Value: value, Version: version, Action: action}
}

// LocatorComposite is the BlockIndex lookup key for "every revision
// sharing this locator".
func (r Revision[L, K, V]) LocatorComposite() Composite {
	return NewComposite(r.Locator)
}

// LocatorKeyComposite is the BlockIndex lookup key for "every revision
// sharing this (locator, key)".
func (r Revision[L, K, V]) LocatorKeyComposite() Composite {
	return NewComposite(r.Locator, r.Key)
}

// FullComposite is the BloomFilter membership key over the full
// (locator, key, value) triple.
func (r Revision[L, K, V]) FullComposite() Composite {
	return NewComposite(r.Locator, r.Key, r.Value)
}

// Compact drops the locator and key, which are redundant once the
// revision is filed under a record keyed by them, producing the
// CompactRevision a Record's history list stores.
func (r Revision[L, K, V]) Compact() CompactRevision[V] {
	return CompactRevision[V]{Value: r.Value, Version: r.Version, Action: r.Action}
}

// CompareRevisions is the natural revision comparator blocks sort
// by: locator < key < value < version, with action ties broken by
// version.
func CompareRevisions[L Byteable, K Byteable, V Byteable](a, b Revision[L, K, V]) int {
	if c := compareBytes(a.Locator.Bytes(), b.Locator.Bytes()); c != 0 {
		return c
	}
	if c := compareBytes(a.Key.Bytes(), b.Key.Bytes()); c != 0 {
		return c
	}
	if c := compareBytes(a.Value.Bytes(), b.Value.Bytes()); c != 0 {
		return c
	}
	return cmp.Compare(a.Version, b.Version)
}

func compareBytes(a, b []byte) int {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	for i := 0; i < n; i++ {
		if a[i] != b[i] {
			if a[i] < b[i] {
				return -1
			}
			return 1
		}
	}
	return cmp.Compare(len(a), len(b))
}

// Encode serializes a revision as a self-describing, length-prefixed
// record: [entrySize:u32][locator][key][value][version:i64][action:u8].
// The entrySize prefix lets Block rebuild its BlockIndex and BlockStats
// by sequential scan, the same role the explicit size prefixes play in
// the Write and BlockIndex entry formats.
func (r Revision[L, K, V]) Encode() []byte {
	lb, kb, vb := r.Locator.Bytes(), r.Key.Bytes(), r.Value.Bytes()
	body := make([]byte, len(lb)+len(kb)+len(vb)+8+1)
	off := 0
	off += copy(body[off:], lb)
	off += copy(body[off:], kb)
	off += copy(body[off:], vb)
	binary.BigEndian.PutUint64(body[off:], uint64(r.Version))
	off += 8
	body[off] = byte(r.Action)

	buf := make([]byte, 4+len(body))
	binary.BigEndian.PutUint32(buf[:4], uint32(len(body)))
	copy(buf[4:], body)
	return buf
}

// CompactRevision is the (value, version, action) triple a Record's
// history list stores once the locator and key are known from the
// record itself.
type CompactRevision[V Byteable] struct {
	Value   V
	Version int64
	Action  Action
}

// decodeEntrySize reads the leading [entrySize:u32] prefix written by
// Revision.Encode, returning the body length and the number of header
// bytes consumed.
func decodeEntrySize(b []byte) (int, int, error) {
	if len(b) < 4 {
		return 0, 0, fmt.Errorf("triadb: decode revision: short entry size")
	}
	return int(binary.BigEndian.Uint32(b[:4])), 4, nil
}

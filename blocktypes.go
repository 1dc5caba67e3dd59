// Concrete revision/record type instantiations for the three views.
// Go generics let Record/Revision stay a single implementation;
// these aliases plus their decoders are the only block-type-specific
// code the rest of the engine needs.
package triadb

import (
	"encoding/binary"
	"fmt"
)

// BlockKind identifies which of the three views a Block/Segment
// component belongs to.
type BlockKind uint8

const (
	KindPrimary BlockKind = iota
	KindSecondary
	KindCorpus
)

func (k BlockKind) String() string {
	switch k {
	case KindPrimary:
		return "primary"
	case KindSecondary:
		return "secondary"
	case KindCorpus:
		return "corpus"
	default:
		return "unknown"
	}
}

type (
	// PrimaryRevision is the Table view: record -> field -> values.
	PrimaryRevision = Revision[Identifier, Text, Value]
	// SecondaryRevision is the Index view: field -> value -> records.
	SecondaryRevision = Revision[Text, Value, Identifier]
	// CorpusRevision is the n-gram substring view: field -> substring ->
	// positions.
	CorpusRevision = Revision[Text, Text, Position]
)

// DecodePrimaryRevision decodes a revision body (the bytes after the
// entrySize prefix, see revision.go) into a PrimaryRevision.
func DecodePrimaryRevision(body []byte) (PrimaryRevision, error) {
	if len(body) < 8 {
		return PrimaryRevision{}, fmt.Errorf("triadb: decode primary revision: short locator")
	}
	locator := DecodeIdentifier(body[:8])
	off := 8

	if len(body) < off+4 {
		return PrimaryRevision{}, fmt.Errorf("triadb: decode primary revision: short key")
	}
	key, n := DecodeText(body[off:])
	off += n

	value, n, err := DecodeValue(body[off:])
	if err != nil {
		return PrimaryRevision{}, fmt.Errorf("triadb: decode primary revision: %w", err)
	}
	off += n

	version, action, err := decodeTrailer(body[off:])
	if err != nil {
		return PrimaryRevision{}, err
	}
	return NewRevision(locator, key, value, version, action), nil
}

// DecodeSecondaryRevision decodes a revision body into a
// SecondaryRevision.
func DecodeSecondaryRevision(body []byte) (SecondaryRevision, error) {
	if len(body) < 4 {
		return SecondaryRevision{}, fmt.Errorf("triadb: decode secondary revision: short locator")
	}
	locator, off := DecodeText(body)

	key, n, err := DecodeValue(body[off:])
	if err != nil {
		return SecondaryRevision{}, fmt.Errorf("triadb: decode secondary revision: %w", err)
	}
	off += n

	if len(body) < off+8 {
		return SecondaryRevision{}, fmt.Errorf("triadb: decode secondary revision: short value")
	}
	value := DecodeIdentifier(body[off : off+8])
	off += 8

	version, action, err := decodeTrailer(body[off:])
	if err != nil {
		return SecondaryRevision{}, err
	}
	return NewRevision(locator, key, value, version, action), nil
}

// DecodeCorpusRevision decodes a revision body into a CorpusRevision.
func DecodeCorpusRevision(body []byte) (CorpusRevision, error) {
	if len(body) < 4 {
		return CorpusRevision{}, fmt.Errorf("triadb: decode corpus revision: short locator")
	}
	locator, off := DecodeText(body)

	if len(body) < off+4 {
		return CorpusRevision{}, fmt.Errorf("triadb: decode corpus revision: short key")
	}
	key, n := DecodeText(body[off:])
	off += n

	if len(body) < off+13 {
		return CorpusRevision{}, fmt.Errorf("triadb: decode corpus revision: short value")
	}
	value := DecodePosition(body[off : off+13])
	off += 13

	version, action, err := decodeTrailer(body[off:])
	if err != nil {
		return CorpusRevision{}, err
	}
	return NewRevision(locator, key, value, version, action), nil
}

// decodeTrailer reads the shared [version:i64][action:u8] suffix every
// revision encoding ends with.
func decodeTrailer(b []byte) (int64, Action, error) {
	if len(b) < 9 {
		return 0, 0, fmt.Errorf("triadb: decode revision: short trailer")
	}
	version := int64(binary.BigEndian.Uint64(b))
	action := Action(b[8])
	return version, action, nil
}

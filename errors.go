// Package triadb is a version-oriented storage engine. Writes land in an
// in-memory append log (the Buffer), transport to immutable on-disk
// Segments, and readers see a consistent merge of the two. Three views
// are kept over the same write stream: a table (record -> field ->
// values), an index (field -> value -> records), and a corpus
// (field -> n-gram substring -> positions).
package triadb

import "errors"

// Sentinel errors returned by engine operations. Most are returned
// directly; a few (noted below) are only ever observed wrapped inside
// another error via errors.Is/errors.As.
var (
	// ErrNotFound names a lookup that finds no matching record. No
	// operation in this package returns it: reads report absence as an
	// empty result.
	ErrNotFound = errors.New("triadb: not found")

	// ErrClosed is returned when operating on a closed Database or Buffer.
	ErrClosed = errors.New("triadb: closed")

	// ErrInvalidPattern is returned when a REGEX/NOT_REGEX operand fails
	// to compile.
	ErrInvalidPattern = errors.New("triadb: invalid regex pattern")

	// ErrCorruptHeader is returned when a schema version file cannot be
	// parsed.
	ErrCorruptHeader = errors.New("triadb: corrupt schema header")

	// ErrOffsetViolation is returned when an append would violate the
	// offset invariant (ADD where already present, REMOVE where absent)
	// on a record that enforces it.
	ErrOffsetViolation = errors.New("triadb: offset invariant violation")

	// ErrMalformedBlock is returned when a block on disk is missing one
	// or more of its four sibling files (.blk/.indx/.fltr/.stat), or when
	// those files fail to decode.
	ErrMalformedBlock = errors.New("triadb: malformed block")

	// ErrSegmentLoading wraps any I/O or decoding error encountered while
	// opening a segment at startup. The segment is skipped; the caller
	// (Database.Open) logs and continues.
	ErrSegmentLoading = errors.New("triadb: segment loading failed")

	// ErrStateViolation is returned when a mutation is attempted against
	// an already-synced (immutable) Block or BlockIndex.
	ErrStateViolation = errors.New("triadb: mutation of immutable structure")

	// ErrTransactionState is returned when an operation is attempted on
	// a Transaction that has already committed or aborted.
	ErrTransactionState = errors.New("triadb: transaction already finalized")

	// ErrCapacityExceeded signals that a write does not fit in the
	// current Buffer page. It is caught internally by Buffer.insert to
	// trigger page rotation and is never returned to a caller of Accept.
	ErrCapacityExceeded = errors.New("triadb: buffer page capacity exceeded")

	// ErrInterrupted names a blocking transfer cancelled before it
	// commits any effect. No transfer in this package takes a context or
	// can be cancelled, so none returns it.
	ErrInterrupted = errors.New("triadb: interrupted")

	// ErrUnbalancedSegment is returned when a segment's Primary and
	// Secondary blocks do not both carry at least one revision.
	ErrUnbalancedSegment = errors.New("triadb: unbalanced segment")

	// ErrOverlappingSegments is returned when two segments loaded from
	// disk have overlapping, non-identical version ranges — a sign of a
	// duplicated reindex or optimization run that cannot be reconciled
	// automatically.
	ErrOverlappingSegments = errors.New("triadb: overlapping segments")

	// ErrUnsupportedOperator is returned when IndexRecord.Explore is
	// called with an operator the value's type does not support.
	ErrUnsupportedOperator = errors.New("triadb: unsupported operator for value type")

	// ErrIOFailure wraps a lowest-layer filesystem inconsistency that
	// administrator intervention is required to resolve — e.g. buffer
	// pages whose filename order disagrees with their recovered version
	// order. Never silently repaired.
	ErrIOFailure = errors.New("triadb: io failure")
)

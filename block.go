// Block: one view (primary/secondary/corpus) as sorted on-disk revisions
// plus a BlockIndex and a BloomFilter.
//
// A block is mutable only before first sync; becomes immutable
// thereafter. While mutable it holds its revisions as an in-memory sorted
// slice; on Sync it writes its four sibling files as a unit —
// .blk (revisions), .fltr (bloom), .indx (BlockIndex), .stat
// (BlockStats) — writing and fsyncing .blk first and the three derived
// files after it. A crash between writes leaves a sibling file missing,
// which LoadBlock reports as MalformedBlock.
//
// Bloom/index/stats are built during Sync, once the final sorted order
// and revision count are known, rather than incrementally during each
// Insert. A mutable block is never read through Seek (the database
// appends straight into cached records instead, see database.go), so
// building them up front would buy nothing and the sync-time pass avoids the double
// bookkeeping of tracking logical offsets that only become real byte
// offsets once the sorted file is written.
package triadb

import (
	"cmp"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"sync"
)

// RevisionSink receives revisions recovered from a block or page seek.
// Record[L,K,V] implements this; Block.Seek never interprets the
// revision itself, leaving offset/partiality enforcement to the sink.
type RevisionSink[L Byteable, K Byteable, V Byteable] interface {
	AppendRevision(r Revision[L, K, V]) error
}

// Block holds one view's revisions for a single segment.
type Block[L Byteable, K Byteable, V Byteable] struct {
	kind BlockKind
	dir  string // segments/<id>/<kind>/
	id   string

	decode func([]byte) (Revision[L, K, V], error)

	mu        sync.Mutex
	immutable bool
	revisions []Revision[L, K, V] // valid only while mutable

	index *BlockIndex
	bloom *BloomFilter
	stats BlockStats
}

// NewBlock returns a fresh, mutable, empty block rooted at dir/id.* with
// an index that rehydrates through the shared indexCache.
func NewBlock[L Byteable, K Byteable, V Byteable](dir, id string, kind BlockKind, indexCache *ByteBoundedCache[string, *indexEntryMap], decode func([]byte) (Revision[L, K, V], error)) *Block[L, K, V] {
	return &Block[L, K, V]{
		kind:   kind,
		dir:    dir,
		id:     id,
		decode: decode,
		index:  NewBlockIndex(filepath.Join(dir, id+".indx"), indexCache),
	}
}

func (b *Block[L, K, V]) blkPath() string  { return filepath.Join(b.dir, b.id+".blk") }
func (b *Block[L, K, V]) fltrPath() string { return filepath.Join(b.dir, b.id+".fltr") }
func (b *Block[L, K, V]) statPath() string { return filepath.Join(b.dir, b.id+".stat") }

// Kind reports which of the three views this block belongs to.
func (b *Block[L, K, V]) Kind() BlockKind { return b.kind }

// Empty reports whether the block has no revisions. Used by Segment to
// decide whether it is balanced.
func (b *Block[L, K, V]) Empty() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.immutable {
		return b.stats.Count == 0
	}
	return len(b.revisions) == 0
}

// Insert appends a revision to the mutable block.
func (b *Block[L, K, V]) Insert(locator L, key K, value V, version int64, action Action) (Revision[L, K, V], error) {
	var zero Revision[L, K, V]
	if !action.Storable() {
		return zero, fmt.Errorf("triadb: block insert: action %s is not storable", action)
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.immutable {
		return zero, fmt.Errorf("%w: block already synced", ErrStateViolation)
	}
	r := NewRevision(locator, key, value, version, action)
	b.revisions = append(b.revisions, r)
	return r, nil
}

// Sync sorts the accumulated revisions, writes them to the .blk file,
// and derives + persists the bloom filter, block index, and stats from
// that single pass. Afterward the block is immutable.
func (b *Block[L, K, V]) Sync() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.immutable {
		return fmt.Errorf("%w: block already synced", ErrStateViolation)
	}

	slices.SortFunc(b.revisions, CompareRevisions[L, K, V])

	f, err := os.Create(b.blkPath())
	if err != nil {
		return fmt.Errorf("triadb: block sync: %w", err)
	}

	bloom := NewBloomFilter(3 * len(b.revisions))
	var stats BlockStats
	var offset int32

	var lastLocatorComposite, lastLocatorKeyComposite Composite
	haveLocator, haveLocatorKey := false, false

	for _, r := range b.revisions {
		encoded := r.Encode()

		lc := r.LocatorComposite()
		lkc := r.LocatorKeyComposite()

		if !haveLocator || lc != lastLocatorComposite {
			if err := b.index.PutStart(lc, offset); err != nil {
				f.Close()
				return err
			}
			lastLocatorComposite = lc
			haveLocator = true
		}
		if err := b.index.PutEnd(lc, offset); err != nil {
			f.Close()
			return err
		}

		if !haveLocatorKey || lkc != lastLocatorKeyComposite {
			if err := b.index.PutStart(lkc, offset); err != nil {
				f.Close()
				return err
			}
			lastLocatorKeyComposite = lkc
			haveLocatorKey = true
		}
		if err := b.index.PutEnd(lkc, offset); err != nil {
			f.Close()
			return err
		}

		// Seek probes with locator and (locator, key) composites, so
		// both are added alongside the full triple.
		bloom.Add(lc.Bytes())
		bloom.Add(lkc.Bytes())
		bloom.Add(r.FullComposite().Bytes())
		stats.Observe(r.Version, encoded)

		if _, err := f.Write(encoded); err != nil {
			f.Close()
			return fmt.Errorf("triadb: block sync: %w", err)
		}
		offset += int32(len(encoded))
	}

	if err := f.Sync(); err != nil {
		f.Close()
		return fmt.Errorf("triadb: block sync: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("triadb: block sync: %w", err)
	}

	if err := writeFilterFile(b.fltrPath(), bloom); err != nil {
		return err
	}
	if err := b.index.Sync(); err != nil {
		return err
	}
	if err := stats.WriteTo(b.statPath()); err != nil {
		return err
	}

	b.stats = stats
	b.bloom = bloom
	b.revisions = nil
	b.immutable = true
	return nil
}

// Seek probes the bloom filter and block index for composite, then
// decodes every revision in the matching byte range and feeds them into
// sink in version order (the file itself is sorted value before version).
// A negative bloom answer or a missing index entry return immediately
// with no error: both signal "definitely absent", not a failure.
func (b *Block[L, K, V]) Seek(composite Composite, sink RevisionSink[L, K, V]) error {
	b.mu.Lock()
	immutable := b.immutable
	bloom := b.bloom
	b.mu.Unlock()
	if !immutable {
		return fmt.Errorf("%w: seek on unsynced block", ErrStateViolation)
	}

	if bloom != nil && !bloom.MightContain(composite.Bytes()) {
		return nil
	}

	start, end, ok := b.index.Get(composite)
	if !ok {
		return nil
	}

	data, err := readBlockRange(b.blkPath(), start, end)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrMalformedBlock, err)
	}

	var revs []Revision[L, K, V]
	off := 0
	for off < len(data) {
		bodyLen, hdrLen, err := decodeEntrySize(data[off:])
		if err != nil {
			return fmt.Errorf("%w: %w", ErrMalformedBlock, err)
		}
		bodyStart := off + hdrLen
		bodyEnd := bodyStart + bodyLen
		if bodyEnd > len(data) {
			return fmt.Errorf("%w: truncated revision", ErrMalformedBlock)
		}
		rev, err := b.decode(data[bodyStart:bodyEnd])
		if err != nil {
			return fmt.Errorf("%w: %w", ErrMalformedBlock, err)
		}
		revs = append(revs, rev)
		off = bodyEnd
	}
	slices.SortStableFunc(revs, func(a, b Revision[L, K, V]) int { return cmp.Compare(a.Version, b.Version) })
	for _, rev := range revs {
		if err := sink.AppendRevision(rev); err != nil {
			return err
		}
	}
	return nil
}

// ScanMutable feeds every in-memory revision matching predicate into
// sink, in insertion order. It is the mutable-block counterpart to
// Seek: the current segment's blocks are never synced to disk until
// TriggerSync, so populating a fresh cache entry that needs to see
// writes already transferred into the live segment has no index or
// bloom filter to consult and must scan the accumulated slice
// directly.
func (b *Block[L, K, V]) ScanMutable(predicate func(Revision[L, K, V]) bool, sink RevisionSink[L, K, V]) error {
	b.mu.Lock()
	if b.immutable {
		b.mu.Unlock()
		return fmt.Errorf("%w: scan mutable on synced block", ErrStateViolation)
	}
	revisions := append([]Revision[L, K, V](nil), b.revisions...)
	b.mu.Unlock()

	for _, r := range revisions {
		if predicate != nil && !predicate(r) {
			continue
		}
		if err := sink.AppendRevision(r); err != nil {
			return err
		}
	}
	return nil
}

// Stats returns the block's persisted summary (zero value before Sync).
func (b *Block[L, K, V]) Stats() BlockStats {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.stats
}

// LoadBlock opens a previously synced block's four sibling files. Any
// missing file is MalformedBlock — the segment containing it is
// rejected by the caller.
func LoadBlock[L Byteable, K Byteable, V Byteable](dir, id string, kind BlockKind, indexCache *ByteBoundedCache[string, *indexEntryMap], decode func([]byte) (Revision[L, K, V], error)) (*Block[L, K, V], error) {
	b := &Block[L, K, V]{
		kind:      kind,
		dir:       dir,
		id:        id,
		decode:    decode,
		index:     NewBlockIndex(filepath.Join(dir, id+".indx"), indexCache),
		immutable: true,
	}

	for _, p := range []string{b.blkPath(), b.fltrPath(), filepath.Join(dir, id+".indx"), b.statPath()} {
		if _, err := os.Stat(p); err != nil {
			return nil, fmt.Errorf("%w: missing %s", ErrMalformedBlock, p)
		}
	}

	bloom, err := readFilterFile(b.fltrPath())
	if err != nil {
		return nil, err
	}
	b.bloom = bloom

	b.index.immutable = true

	stats, err := LoadBlockStats(b.statPath())
	if err != nil {
		return nil, err
	}
	b.stats = *stats

	return b, nil
}

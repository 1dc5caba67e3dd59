// BlockIndex: Composite -> (startOffset, endOffset) into a Block's
// serialized revision sequence.
//
// Mutable only until first sync; sync serializes every entry as
// [entrySize:i32][start:i32][end:i32][composite:bytes], fsyncs, marks the
// index immutable, and releases the hard reference to the entries map —
// retaining only a reclaimable slot in a shared ByteBoundedCache, so a
// cold index costs no memory until it is read again. The first read after
// immutability repopulates the cache from the on-disk file; subsequent
// reads reuse it until the cache evicts it under memory pressure.
package triadb

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"sync"
)

// NoEntry signals that a Composite has no recorded offset.
const NoEntry int32 = -1

type blockOffset struct {
	Start int32
	End   int32
}

// indexEntryMap is the decoded form of a synced BlockIndex file, the
// unit the shared entry cache stores and evicts.
type indexEntryMap struct {
	entries map[Composite]blockOffset
}

// ByteSize estimates the map's footprint for the ByteBoundedCache budget:
// the Composite's own bytes plus two int32 offsets and map overhead.
func (m *indexEntryMap) ByteSize() int {
	size := 0
	for c := range m.entries {
		size += len(c) + 8 + 16
	}
	return size
}

// BlockIndex is the per-block offset index.
type BlockIndex struct {
	path  string
	cache *ByteBoundedCache[string, *indexEntryMap]

	mu        sync.RWMutex
	immutable bool
	entries   map[Composite]blockOffset // valid only while mutable
}

// NewBlockIndex returns a mutable, empty BlockIndex that will persist to
// path on Sync and rehydrate through cache afterward.
func NewBlockIndex(path string, cache *ByteBoundedCache[string, *indexEntryMap]) *BlockIndex {
	return &BlockIndex{
		path:    path,
		cache:   cache,
		entries: make(map[Composite]blockOffset),
	}
}

// PutStart records a composite's start offset, creating the entry if
// absent. A second call for the same composite is a no-op on Start — the
// caller is expected to follow with PutEnd to extend the range.
func (bi *BlockIndex) PutStart(c Composite, start int32) error {
	bi.mu.Lock()
	defer bi.mu.Unlock()
	if bi.immutable {
		return fmt.Errorf("%w: block index already synced", ErrStateViolation)
	}
	if _, ok := bi.entries[c]; !ok {
		bi.entries[c] = blockOffset{Start: start, End: NoEntry}
	}
	return nil
}

// PutEnd extends an existing composite's end offset. Calling PutEnd
// before PutStart for the same composite is a caller error.
func (bi *BlockIndex) PutEnd(c Composite, end int32) error {
	bi.mu.Lock()
	defer bi.mu.Unlock()
	if bi.immutable {
		return fmt.Errorf("%w: block index already synced", ErrStateViolation)
	}
	e, ok := bi.entries[c]
	if !ok {
		return fmt.Errorf("triadb: block index: putEnd without putStart for composite")
	}
	e.End = end
	bi.entries[c] = e
	return nil
}

// Get returns the offset range recorded for c, loading from disk through
// the shared cache if the index has been synced and evicted from memory.
func (bi *BlockIndex) Get(c Composite) (start, end int32, ok bool) {
	bi.mu.RLock()
	immutable := bi.immutable
	if !immutable {
		e, found := bi.entries[c]
		bi.mu.RUnlock()
		if !found {
			return 0, 0, false
		}
		return e.Start, e.End, true
	}
	bi.mu.RUnlock()

	m, err := bi.load()
	if err != nil {
		return 0, 0, false
	}
	e, found := m.entries[c]
	if !found {
		return 0, 0, false
	}
	return e.Start, e.End, true
}

// Sync serializes all entries to bi.path, fsyncs, and marks the index
// immutable.
func (bi *BlockIndex) Sync() error {
	bi.mu.Lock()
	defer bi.mu.Unlock()
	if bi.immutable {
		return fmt.Errorf("%w: block index already synced", ErrStateViolation)
	}

	f, err := os.Create(bi.path)
	if err != nil {
		return fmt.Errorf("triadb: block index sync: %w", err)
	}
	w := bufio.NewWriter(f)

	for c, e := range bi.entries {
		cb := c.Bytes()
		entrySize := 4 + 4 + len(cb)
		var hdr [12]byte
		binary.BigEndian.PutUint32(hdr[0:4], uint32(entrySize))
		binary.BigEndian.PutUint32(hdr[4:8], uint32(e.Start))
		binary.BigEndian.PutUint32(hdr[8:12], uint32(e.End))
		if _, err := w.Write(hdr[:]); err != nil {
			f.Close()
			return fmt.Errorf("triadb: block index sync: %w", err)
		}
		if _, err := w.Write(cb); err != nil {
			f.Close()
			return fmt.Errorf("triadb: block index sync: %w", err)
		}
	}
	if err := w.Flush(); err != nil {
		f.Close()
		return fmt.Errorf("triadb: block index sync: %w", err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return fmt.Errorf("triadb: block index sync: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("triadb: block index sync: %w", err)
	}

	m := &indexEntryMap{entries: bi.entries}
	if bi.cache != nil {
		bi.cache.Set(bi.path, m)
	}
	bi.entries = nil
	bi.immutable = true
	return nil
}

// load repopulates the decoded entry map from the cache, or from disk on
// a cache miss, per the entry format [entrySize:i32][start:i32][end:i32][composite].
func (bi *BlockIndex) load() (*indexEntryMap, error) {
	if bi.cache != nil {
		if m, ok := bi.cache.Get(bi.path); ok {
			return m, nil
		}
	}

	f, err := os.Open(bi.path)
	if err != nil {
		return nil, fmt.Errorf("%w: block index: %w", ErrMalformedBlock, err)
	}
	defer f.Close()

	entries := make(map[Composite]blockOffset)
	r := bufio.NewReader(f)
	for {
		var hdr [12]byte
		_, err := io.ReadFull(r, hdr[:])
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("%w: block index: %w", ErrMalformedBlock, err)
		}
		entrySize := int(binary.BigEndian.Uint32(hdr[0:4]))
		start := int32(binary.BigEndian.Uint32(hdr[4:8]))
		end := int32(binary.BigEndian.Uint32(hdr[8:12]))
		compositeLen := entrySize - 8
		if compositeLen < 0 {
			return nil, fmt.Errorf("%w: block index: negative composite length", ErrMalformedBlock)
		}
		cb := make([]byte, compositeLen)
		if _, err := io.ReadFull(r, cb); err != nil {
			return nil, fmt.Errorf("%w: block index: %w", ErrMalformedBlock, err)
		}
		entries[Composite(cb)] = blockOffset{Start: start, End: end}
	}

	m := &indexEntryMap{entries: entries}
	if bi.cache != nil {
		bi.cache.Set(bi.path, m)
	}
	return m, nil
}

// Page: one memory-mapped segment of a Buffer's append-only write
// log. Exactly one page in a Buffer is current (mutable); all others
// are immutable and queued for transport.
//
// A page's file is zero-initialized by Truncate, so unwritten mapped
// space reads back as zero bytes; every live entry is
// [entrySize:u32][write bytes] with entrySize > 0, giving reopenPage a
// simple end-of-data sentinel (the first zero-length prefix) to scan
// up to without needing a separately persisted size field.
package triadb

import (
	"encoding/binary"
	"fmt"
	"os"
	"sync"
)

// Page holds one memory-mapped slab of pending/transported writes.
type Page struct {
	path     string
	hashAlg  int
	mu       sync.RWMutex
	mf       *mappedFile
	capacity int64
	size     int64 // append offset; writes before this are live
	head     int64 // consumption head; writes before this are transported

	bloom           *BloomFilter
	recordFilter    *slotFilter
	keyFilter       *slotFilter
	recordKeyFilter *slotFilter
}

// newPage creates a fresh, empty page backed by a capacity-byte mapped
// file.
func newPage(path string, capacity int64, hashAlg int) (*Page, error) {
	mf, err := openMappedFile(path, capacity)
	if err != nil {
		return nil, err
	}
	return &Page{
		path:            path,
		hashAlg:         hashAlg,
		mf:              mf,
		capacity:        capacity,
		bloom:           NewBloomFilter(int(capacity / 64)),
		recordFilter:    newSlotFilter(4096),
		keyFilter:       newSlotFilter(1024),
		recordKeyFilter: newSlotFilter(4096),
	}, nil
}

// reopenPage maps an existing page file at its on-disk size and
// replays its entries to rebuild the in-memory filters and the size
// offset. head always resets to 0: a page surviving a crash is
// retransported in full, and the destination's verification warmup
// makes that idempotent rather than duplicating state.
func reopenPage(path string, hashAlg int) (*Page, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("triadb: reopen page: %w", err)
	}
	fi := info.Size()
	mf, err := openMappedFile(path, fi)
	if err != nil {
		return nil, err
	}
	p := &Page{
		path:            path,
		hashAlg:         hashAlg,
		mf:              mf,
		capacity:        fi,
		bloom:           NewBloomFilter(int(fi / 64)),
		recordFilter:    newSlotFilter(4096),
		keyFilter:       newSlotFilter(1024),
		recordKeyFilter: newSlotFilter(4096),
	}

	data := mf.Bytes()
	var off int64
	for off+4 <= fi {
		entrySize := binary.BigEndian.Uint32(data[off : off+4])
		if entrySize == 0 {
			break
		}
		body := data[off+4 : off+4+int64(entrySize)]
		w, _, err := DecodeWrite(body)
		if err != nil {
			return nil, fmt.Errorf("triadb: reopen page: %w", err)
		}
		p.index(w)
		off += 4 + int64(entrySize)
	}
	p.size = off
	return p, nil
}

func (p *Page) index(w Write) {
	p.bloom.Add(w.Composite().Bytes())
	p.recordFilter.mark(digest64(w.Record().Bytes(), p.hashAlg))
	p.keyFilter.mark(digest64([]byte(w.Key()), p.hashAlg))
	p.recordKeyFilter.mark(digest64(NewComposite(w.Record(), w.Key()).Bytes(), p.hashAlg))
}

// Insert appends w to the page under the write lock. Returns
// ErrCapacityExceeded if w does not fit; the only
// exception is an empty page asked to hold a write larger than its
// configured capacity, which remaps in place to exactly that size.
func (p *Page) Insert(w Write, sync bool) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	needed := int64(4 + w.Size())
	if p.size == 0 && needed > p.capacity {
		if err := p.mf.Remap(needed); err != nil {
			return fmt.Errorf("triadb: page insert: %w", err)
		}
		p.capacity = needed
	}
	if needed > p.capacity-p.size {
		return ErrCapacityExceeded
	}

	data := p.mf.Bytes()
	binary.BigEndian.PutUint32(data[p.size:], uint32(w.Size()))
	copy(data[p.size+4:], w.Encode())
	p.index(w)
	p.size += needed

	if sync {
		if err := p.mf.Sync(); err != nil {
			return fmt.Errorf("triadb: page insert: %w", err)
		}
	}
	return nil
}

// Sync fsyncs the mapped region.
func (p *Page) Sync() error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.mf.Sync()
}

// TryLock attempts to acquire the page's write lock without blocking,
// used by the transporter to claim the oldest page.
func (p *Page) TryLock() bool { return p.mu.TryLock() }

// Unlock releases a lock acquired via TryLock or RLock/Lock.
func (p *Page) Unlock() { p.mu.Unlock() }

// RLock/RUnlock guard reader iteration.
func (p *Page) RLock()   { p.mu.RLock() }
func (p *Page) RUnlock() { p.mu.RUnlock() }

// Head/Size/Capacity report the page's current offsets. Callers must
// hold at least a read lock.
func (p *Page) Head() int64     { return p.head }
func (p *Page) Size() int64     { return p.size }
func (p *Page) Capacity() int64 { return p.capacity }

// Pending reports whether writes remain between head and size.
func (p *Page) Pending() bool { return p.head < p.size }

// Advance moves the consumption head forward by n bytes, called by the
// transporter after handing writes to the destination. Caller must
// hold the write lock (acquired via TryLock).
func (p *Page) Advance(n int64) { p.head += n }

// ReadAt decodes the write starting at byte offset, returning it and
// the number of bytes (including the length prefix) it occupied.
func (p *Page) ReadAt(offset int64) (Write, int64, error) {
	data := p.mf.Bytes()
	if offset+4 > p.size {
		return Write{}, 0, fmt.Errorf("triadb: page read: offset out of range")
	}
	entrySize := binary.BigEndian.Uint32(data[offset : offset+4])
	body := data[offset+4 : offset+4+int64(entrySize)]
	w, _, err := DecodeWrite(body)
	if err != nil {
		return Write{}, 0, fmt.Errorf("triadb: page read: %w", err)
	}
	return w, 4 + int64(entrySize), nil
}

// MightContainComposite consults the page's bloom filter.
func (p *Page) MightContainComposite(c Composite) bool {
	return p.bloom.MightContain(c.Bytes())
}

// MightContainRecord/MightContainKey/MightContainRecordKey consult the
// cheap modulo-indexed slot filters.
func (p *Page) MightContainRecord(id Identifier) bool {
	return p.recordFilter.mightContain(digest64(id.Bytes(), p.hashAlg))
}

func (p *Page) MightContainKey(key Text) bool {
	return p.keyFilter.mightContain(digest64([]byte(key), p.hashAlg))
}

func (p *Page) MightContainRecordKey(id Identifier, key Text) bool {
	return p.recordKeyFilter.mightContain(digest64(NewComposite(id, key).Bytes(), p.hashAlg))
}

// Path returns the page's backing file path.
func (p *Page) Path() string { return p.path }

// Close unmaps and closes the page's backing file without removing it.
func (p *Page) Close() error { return p.mf.Close() }

// Remove closes and deletes the page file, called once the transporter
// has exhausted it and dropped it from the page list.
func (p *Page) Remove() error {
	if err := p.mf.Close(); err != nil {
		return err
	}
	return os.Remove(p.path)
}

// Buffer: the in-memory (memory-mapped) front door writes land in
// before they are transported to a Segment.
//
// Pages are named buffer/<unixnano>.buf so lexical and
// numeric filename order coincide with insertion order; Buffer checks
// this against each page's recovered version range at open and treats
// a mismatch as an unrecoverable ErrIOFailure rather than silently
// reordering pages.
package triadb

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"
)

// transportDestination is what a Buffer hands transported writes to —
// satisfied by Database's seg0 acceptance path.
type transportDestination interface {
	Accept(w Write) error
	Sync() error
}

// Buffer holds the ordered list of pages, exactly one of which
// (current) is mutable.
type Buffer struct {
	dir       string
	hashAlg   int
	pageSize  int64
	inventory *inventory

	mu     sync.Mutex
	cond   *sync.Cond
	pages  []*Page // oldest first; pages[len-1] is current
	closed bool
}

// OpenBuffer loads (or creates) the buffer directory at root/buffer.
func OpenBuffer(root string, cfg EngineConfig) (*Buffer, error) {
	dir := filepath.Join(root, "buffer")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("triadb: open buffer: %w", err)
	}
	if err := os.MkdirAll(filepath.Join(dir, "meta"), 0o755); err != nil {
		return nil, fmt.Errorf("triadb: open buffer: %w", err)
	}

	if _, err := readOrInitSchemaVersion(filepath.Join(dir, ".schema")); err != nil {
		return nil, err
	}

	inv, err := loadInventory(filepath.Join(dir, "meta", "inventory"))
	if err != nil {
		return nil, err
	}

	b := &Buffer{dir: dir, hashAlg: cfg.HashAlgorithm, pageSize: cfg.PageSize, inventory: inv}
	b.cond = sync.NewCond(&b.mu)

	names, err := existingPageNames(dir)
	if err != nil {
		return nil, err
	}

	var lastMax int64 = -1
	for _, name := range names {
		p, err := reopenPage(filepath.Join(dir, name), cfg.HashAlgorithm)
		if err != nil {
			return nil, fmt.Errorf("%w: reopen page %s: %w", ErrIOFailure, name, err)
		}
		min, max, ok := pageVersionRange(p)
		if ok && min < lastMax {
			return nil, fmt.Errorf("%w: page %s out of order with predecessor", ErrIOFailure, name)
		}
		if ok {
			lastMax = max
		}
		b.pages = append(b.pages, p)
	}

	if len(b.pages) == 0 {
		if err := b.rotate(); err != nil {
			return nil, err
		}
	}
	return b, nil
}

func existingPageNames(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("triadb: list pages: %w", err)
	}
	var names []string
	for _, e := range entries {
		if !e.IsDir() && strings.HasSuffix(e.Name(), ".buf") {
			names = append(names, e.Name())
		}
	}
	sort.Slice(names, func(i, j int) bool {
		return pageTimestamp(names[i]) < pageTimestamp(names[j])
	})
	return names, nil
}

func pageTimestamp(name string) int64 {
	ts, _ := strconv.ParseInt(strings.TrimSuffix(name, ".buf"), 10, 64)
	return ts
}

// pageVersionRange scans a page's writes for its min/max version,
// without mutating head (a read-only pass used only by the open-time
// page ordering check).
func pageVersionRange(p *Page) (min, max int64, ok bool) {
	var off int64
	for off < p.Size() {
		w, n, err := p.ReadAt(off)
		if err != nil {
			return 0, 0, false
		}
		if !ok || w.Version() < min {
			min = w.Version()
		}
		if !ok || w.Version() > max {
			max = w.Version()
		}
		ok = true
		off += n
	}
	return min, max, ok
}

// current returns the mutable page. Caller must hold b.mu.
func (b *Buffer) current() *Page { return b.pages[len(b.pages)-1] }

// rotate allocates a fresh current page, enqueuing the old one (if
// any) for transport. Caller must hold b.mu.
func (b *Buffer) rotate() error {
	name := filepath.Join(b.dir, strconv.FormatInt(time.Now().UnixNano(), 10)+".buf")
	p, err := newPage(name, b.pageSize, b.hashAlg)
	if err != nil {
		return err
	}
	b.pages = append(b.pages, p)
	b.cond.Broadcast()
	return nil
}

// Insert appends w to the current page, rotating to a fresh page and
// retrying once if the current page is full.
func (b *Buffer) Insert(w Write, sync bool) error {
	if !w.Action().Storable() {
		return fmt.Errorf("triadb: buffer insert: action %s is not storable", w.Action())
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return ErrClosed
	}

	for attempt := 0; attempt < 2; attempt++ {
		cur := b.current()
		err := cur.Insert(w, sync)
		if err == nil {
			if err := b.inventory.Add(w.Record()); err != nil {
				return err
			}
			if sync {
				if err := b.inventory.Sync(); err != nil {
					return err
				}
			}
			return nil
		}
		if err != ErrCapacityExceeded {
			return err
		}
		if err := b.rotate(); err != nil {
			return err
		}
	}
	return fmt.Errorf("triadb: buffer insert: write does not fit even in a fresh page")
}

// syncCurrent fsyncs the current page and the inventory without
// rotating — the batch durability barrier a Transaction commit issues
// once after applying every staged write with sync=false.
func (b *Buffer) syncCurrent() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return ErrClosed
	}
	cur := b.current()
	b.mu.Unlock()

	if err := cur.Sync(); err != nil {
		return err
	}
	return b.inventory.Sync()
}

// waitUntilTransportable blocks while fewer than two pages exist —
// the current page must never be the one a transporter claims. The
// wait also ends when the buffer closes or cancelled (may be nil)
// reports true; interruptWait wakes parked waiters so a cancellation
// flagged elsewhere is observed promptly.
func (b *Buffer) waitUntilTransportable(cancelled func() bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for len(b.pages) <= 1 && !b.closed && (cancelled == nil || !cancelled()) {
		b.cond.Wait()
	}
}

// interruptWait wakes every goroutine parked in waitUntilTransportable
// so it can re-check its cancellation predicate.
func (b *Buffer) interruptWait() {
	b.mu.Lock()
	b.cond.Broadcast()
	b.mu.Unlock()
}

// KnownRecord consults the durable inventory for id — the fast
// membership test behind the core API's contains(record).
func (b *Buffer) KnownRecord(id Identifier) bool {
	return b.inventory.Contains(id)
}

// Transport tries to claim the oldest page and hand up to count of its
// pending writes to destination, syncing and removing the page once
// exhausted. count is a throttle: Transport may return having
// moved fewer writes, or none, if the oldest page could not be locked.
func (b *Buffer) Transport(count int, destination transportDestination) error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return ErrClosed
	}
	if len(b.pages) < 2 {
		b.mu.Unlock()
		return nil
	}
	oldest := b.pages[0]
	b.mu.Unlock()

	if !oldest.TryLock() {
		return nil
	}
	defer oldest.Unlock()

	moved := 0
	for moved < count && oldest.Pending() {
		w, n, err := oldest.ReadAt(oldest.Head())
		if err != nil {
			return err
		}
		if err := destination.Accept(w); err != nil {
			return err
		}
		oldest.Advance(n)
		moved++
	}

	if !oldest.Pending() {
		if err := destination.Sync(); err != nil {
			return err
		}
		b.mu.Lock()
		b.pages = b.pages[1:]
		b.mu.Unlock()
		if err := oldest.Remove(); err != nil {
			return err
		}
	}
	return nil
}

// Close unmaps every page and closes the inventory.
func (b *Buffer) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil
	}
	b.closed = true
	b.cond.Broadcast()
	for _, p := range b.pages {
		if err := p.Close(); err != nil {
			return err
		}
	}
	return b.inventory.Close()
}

// bufferIterator walks pages in order, filtering by a per-page "might
// match" hint before falling back to decoding each candidate write.
// A page's read lock is released before the next page's is acquired;
// transporters claim pages via non-blocking TryLock only, so nothing
// can jump ahead of an in-progress iteration during the unlocked
// handoff window.
type bufferIterator struct {
	b            *Buffer
	pages        []*Page
	idx          int
	offset       int64
	locked       *Page
	pageMatches  func(*Page) bool
	writeMatches func(Write) bool
}

// newIterator builds an iterator over a snapshot of the current page
// list, filtered by pageMatches (consulting per-page filters) and
// writeMatches (exact predicate over decoded writes).
func (b *Buffer) newIterator(pageMatches func(*Page) bool, writeMatches func(Write) bool) *bufferIterator {
	b.mu.Lock()
	pages := append([]*Page(nil), b.pages...)
	b.mu.Unlock()
	return &bufferIterator{b: b, pages: pages, pageMatches: pageMatches, writeMatches: writeMatches}
}

// Next returns the next matching write, or ok=false once exhausted.
func (it *bufferIterator) Next() (Write, bool, error) {
	for {
		if it.locked == nil {
			if it.idx >= len(it.pages) {
				return Write{}, false, nil
			}
			p := it.pages[it.idx]
			if it.pageMatches != nil && !it.pageMatches(p) {
				it.idx++
				continue
			}
			p.RLock()
			it.locked = p
			// Start at the consumption head, not 0: writes before head
			// have already been transported into a segment and would be
			// double-counted by any reader merging buffer over segments.
			it.offset = p.Head()
		}

		p := it.locked
		if it.offset >= p.Size() {
			p.RUnlock()
			it.locked = nil
			it.idx++
			continue
		}

		w, n, err := p.ReadAt(it.offset)
		if err != nil {
			p.RUnlock()
			it.locked = nil
			return Write{}, false, err
		}
		it.offset += n

		if it.writeMatches == nil || it.writeMatches(w) {
			return w, true, nil
		}
	}
}

// Close releases any lock the iterator still holds, if abandoned
// before exhaustion.
func (it *bufferIterator) Close() {
	if it.locked != nil {
		it.locked.RUnlock()
		it.locked = nil
	}
}

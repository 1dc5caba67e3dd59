// Database: the engine's top-level handle. It owns the buffer, the
// registry of synced segments plus the one mutable segment new writes
// land in, and the three record caches that keep hot locators
// materialized across segment and buffer boundaries.
//
// Reads acquire the master lock for reading, consult a cache, and on a
// miss fold together every segment (oldest to newest) plus the mutable
// segment's own not-yet-synced revisions plus the buffer's
// still-untransported writes, in that chronological order, caching the
// result before returning it. Writes land in the buffer; Buffer.Transport
// (driven by the background transporter Start runs, or called directly)
// hands each drained write to Accept, which is where a write actually
// becomes visible to the table/index views (the corpus view is never
// cached — see corpusRecord below).
package triadb

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"sync"
	"time"
)

// primaryPartialKey addresses one (record, field) pair in the partial
// primary cache — populated when a query only ever needs one field's
// history, avoiding a full-record hydration.
type primaryPartialKey struct {
	Record Identifier
	Field  Text
}

// Database is the engine's single entry point.
type Database struct {
	root string
	cfg  EngineConfig

	lock     *fileLock // exclusive flock on root/.lock for the process lifetime
	lockFile *os.File

	buffer     *Buffer
	indexCache *ByteBoundedCache[string, *indexEntryMap]

	mu       sync.RWMutex // guards segments/seg0 swap
	segments []*Segment   // synced, ascending version order
	seg0     *Segment

	primaryFull    *ByteBoundedCache[Identifier, *TableRecord]
	primaryPartial *ByteBoundedCache[primaryPartialKey, *TableRecord]
	secondary      *ByteBoundedCache[Text, *IndexRecord]

	// warm flips true once Accept has seen a write that is not already
	// reflected in durable state — the verification warmup that
	// makes retransport of a crash-surviving page idempotent.
	warmMu sync.Mutex
	warm   bool

	// stop/wg manage the background transporter launched by Start.
	stop chan struct{}
	wg   sync.WaitGroup
}

// Open creates or reopens a database rooted at root. The root is
// guarded by an exclusive OS-level lock for the lifetime of the handle;
// a second process opening the same root blocks until the first
// releases it.
func Open(root string, cfg EngineConfig) (*Database, error) {
	if err := os.MkdirAll(filepath.Join(root, "segments"), 0o755); err != nil {
		return nil, fmt.Errorf("triadb: open database: %w", err)
	}

	lockFile, err := os.OpenFile(filepath.Join(root, ".lock"), os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return nil, fmt.Errorf("triadb: open database: %w", err)
	}
	lock := &fileLock{}
	lock.setFile(lockFile)
	if err := lock.Lock(LockExclusive); err != nil {
		lockFile.Close()
		return nil, fmt.Errorf("triadb: open database: lock root: %w", err)
	}

	if _, err := readOrInitSchemaVersion(filepath.Join(root, "segments", ".schema")); err != nil {
		lock.Unlock()
		lockFile.Close()
		return nil, err
	}

	buf, err := OpenBuffer(root, cfg)
	if err != nil {
		lock.Unlock()
		lockFile.Close()
		return nil, err
	}

	indexCache := NewByteBoundedCache[string, *indexEntryMap](cfg.IndexCacheBytes, nil)

	segments, err := loadSegments(root, cfg, indexCache)
	if err != nil {
		buf.Close()
		lock.Unlock()
		lockFile.Close()
		return nil, err
	}

	seg0, err := NewSegment(root, newSegmentID(), cfg, indexCache)
	if err != nil {
		buf.Close()
		lock.Unlock()
		lockFile.Close()
		return nil, err
	}

	db := &Database{
		root:       root,
		cfg:        cfg,
		lock:       lock,
		lockFile:   lockFile,
		buffer:     buf,
		indexCache: indexCache,
		segments:   segments,
		seg0:       seg0,
	}
	db.primaryFull = NewByteBoundedCache[Identifier, *TableRecord](cfg.PrimaryFullCacheBytes, nil)
	db.primaryPartial = NewByteBoundedCache[primaryPartialKey, *TableRecord](cfg.PrimaryPartialCacheBytes, nil)
	db.secondary = NewByteBoundedCache[Text, *IndexRecord](cfg.SecondaryCacheBytes, nil)

	if err := recoverTransactions(db); err != nil {
		db.Close()
		return nil, err
	}
	return db, nil
}

func newSegmentID() string {
	return strconv.FormatInt(time.Now().UnixNano(), 10)
}

// loadSegments opens every previously synced segment under root/segments,
// in ascending version order, rejecting overlapping ranges as a sign of
// an irreconcilable duplicated reindex.
func loadSegments(root string, cfg EngineConfig, indexCache *ByteBoundedCache[string, *indexEntryMap]) ([]*Segment, error) {
	dir := filepath.Join(root, "segments")
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("triadb: load segments: %w", err)
	}

	var segments []*Segment
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		if !manifestPresent(filepath.Join(dir, e.Name())) {
			continue
		}
		seg, err := LoadSegment(root, e.Name(), cfg, indexCache)
		if err != nil {
			if cfg.Logger != nil {
				cfg.Logger.Warnw("skipping segment that failed to load", "segment", e.Name(), "error", err)
			}
			continue
		}
		segments = append(segments, seg)
	}

	sort.Slice(segments, func(i, j int) bool {
		mi, _ := segments[i].MinMaxVersion()
		mj, _ := segments[j].MinMaxVersion()
		return mi < mj
	})

	// An exact duplicate span is leftover data from an aborted reindex:
	// keep the first copy, drop the rest. A partial overlap cannot be
	// ordered and halts the open.
	var deduped []*Segment
	for _, seg := range segments {
		if len(deduped) > 0 {
			prev := deduped[len(deduped)-1]
			prevMin, prevMax := prev.MinMaxVersion()
			curMin, curMax := seg.MinMaxVersion()
			if curMin == prevMin && curMax == prevMax {
				if cfg.Logger != nil {
					cfg.Logger.Warnw("dropping duplicate segment", "segment", seg.ID(), "duplicates", prev.ID())
				}
				continue
			}
			if curMin <= prevMax {
				return nil, fmt.Errorf("%w: %s overlaps %s", ErrOverlappingSegments, seg.ID(), prev.ID())
			}
		}
		deduped = append(deduped, seg)
	}
	return deduped, nil
}

// Add appends an ADD write for (record, key, value) to the buffer,
// durably — every user write syncs before acknowledgement.
func (db *Database) Add(record Identifier, key string, value Value) error {
	return db.insert(NewWrite(ADD, key, value, record), true)
}

// Remove appends a REMOVE write for (record, key, value) to the buffer,
// durably.
func (db *Database) Remove(record Identifier, key string, value Value) error {
	return db.insert(NewWrite(REMOVE, key, value, record), true)
}

// insert lands w in the buffer and drops any cached record whose
// hydration now predates it, so the next read re-merges the buffer
// overlay instead of serving a stale snapshot.
func (db *Database) insert(w Write, sync bool) error {
	if err := db.buffer.Insert(w, sync); err != nil {
		return err
	}
	db.invalidate(w)
	return nil
}

func (db *Database) invalidate(w Write) {
	db.primaryFull.Delete(w.Record())
	db.primaryPartial.Delete(primaryPartialKey{Record: w.Record(), Field: w.Key()})
	db.secondary.Delete(w.Key())
}

// Transport drains up to count pending buffer writes into the current
// mutable segment. Called periodically by the background transporter
// (Start), or explicitly after a burst of writes.
func (db *Database) Transport(count int) error {
	return db.buffer.Transport(count, db)
}

// Accept implements transportDestination: it is the only path by which
// a transported write becomes durable in the current segment and
// visible to any live cached record. It satisfies Buffer.Transport.
//
// Until the ingest stream is verified, each write is first compared
// against durable state (segments plus seg0, never the buffer — Accept
// runs under the transported page's write lock, so consulting the
// buffer here would self-deadlock): a write whose effect is already
// durable is a crash residual from a page retransported in full and is
// skipped. The first write found not yet applied marks the stream
// acceptable and ends the checking.
func (db *Database) Accept(w Write) error {
	db.mu.RLock()
	seg0 := db.seg0
	db.mu.RUnlock()

	db.warmMu.Lock()
	warm := db.warm
	db.warmMu.Unlock()
	if !warm {
		applied, err := db.appliedDurably(w)
		if err != nil {
			return err
		}
		if applied {
			return nil
		}
		db.warmMu.Lock()
		db.warm = true
		db.warmMu.Unlock()
	}

	postings := corpusPostingsForValue(w.Record(), w.Value(), db.cfg)

	receipt, err := seg0.Transfer(
		w.Record(), w.Key(), w.Value(),
		w.Key(), w.Value(), w.Record(),
		w.Key(), postings,
		w.Version(), w.Action(),
	)
	if err != nil {
		return err
	}

	return db.foldIntoCaches(receipt)
}

// foldIntoCaches appends a freshly transferred receipt's revisions into
// whichever cached records already cover its locators. A record that
// isn't currently cached is left alone — it will be hydrated fresh
// (Seek plus ScanMutable) the next time it's read. FoldRevision gates
// each append on its version, so a cached record that already absorbed
// this write through the buffer overlay (hydration reads pending writes
// too) doesn't double-apply it when the transport catches up.
// ErrOffsetViolation is still swallowed: a stream carrying a genuinely
// invalid write (say, a double ADD) must not wedge transport — the
// violation resurfaces to the reader when the record is next hydrated
// from the blocks.
func (db *Database) foldIntoCaches(r Receipt) error {
	if full, ok := db.primaryFull.Get(r.Primary.Locator); ok {
		if err := ignoreOffsetViolation(full.FoldRevision(r.Primary)); err != nil {
			return err
		}
	}
	if partial, ok := db.primaryPartial.Get(primaryPartialKey{Record: r.Primary.Locator, Field: r.Primary.Key}); ok {
		if err := ignoreOffsetViolation(partial.FoldRevision(r.Primary)); err != nil {
			return err
		}
	}
	if idx, ok := db.secondary.Get(r.Secondary.Locator); ok {
		if err := ignoreOffsetViolation(idx.FoldRevision(r.Secondary)); err != nil {
			return err
		}
	}
	return nil
}

func ignoreOffsetViolation(err error) error {
	if err == ErrOffsetViolation {
		return nil
	}
	return err
}

// appliedDurably reports whether w's effect is already reflected in
// durable state — segments plus the current mutable segment, excluding
// the buffer. Used only by the warmup check in Accept.
func (db *Database) appliedDurably(w Write) (bool, error) {
	field := w.Key()
	tr := newTableRecordPartial(w.Record(), field)

	segments, seg0 := db.snapshot()
	composite := NewComposite(w.Record())
	for _, seg := range segments {
		if err := seg.Primary.Seek(composite, tr); err != nil {
			return false, err
		}
	}
	if err := seg0.Primary.ScanMutable(func(r PrimaryRevision) bool {
		return r.Locator == w.Record()
	}, tr); err != nil {
		return false, err
	}

	present := tr.Verify(field, w.Value(), nil)
	switch w.Action() {
	case ADD:
		return present, nil
	case REMOVE:
		return !present, nil
	default:
		return false, nil
	}
}

// Sync implements transportDestination's per-page flush hook. The
// current segment stays mutable across many drained pages; sealing it
// to disk is a deliberate, separate operation (TriggerSync), not an
// implicit side effect of every exhausted buffer page.
func (db *Database) Sync() error { return nil }

// transportBatch is how many writes one background transport pass
// drains before re-checking for shutdown.
const transportBatch = 1024

// Start launches the background transporter: a goroutine that parks in
// waitUntilTransportable until a non-current page exists, then drains
// it into the current segment. Idempotent while running; Stop (or
// Close) shuts it down.
func (db *Database) Start() {
	db.mu.Lock()
	if db.stop != nil {
		db.mu.Unlock()
		return
	}
	stop := make(chan struct{})
	db.stop = stop
	db.mu.Unlock()

	db.wg.Add(1)
	go db.transportLoop(stop)
}

func (db *Database) transportLoop(stop chan struct{}) {
	defer db.wg.Done()
	cancelled := func() bool {
		select {
		case <-stop:
			return true
		default:
			return false
		}
	}
	for {
		db.buffer.waitUntilTransportable(cancelled)
		if cancelled() {
			return
		}
		if err := db.buffer.Transport(transportBatch, db); err != nil {
			if err != ErrClosed && db.cfg.Logger != nil {
				db.cfg.Logger.Errorw("background transport failed", "error", err)
			}
			return
		}
	}
}

// Stop shuts the background transporter down and waits for it to exit.
// Writes already accepted stay where they are; pending buffer pages
// remain transportable via explicit Transport calls or a later Start.
func (db *Database) Stop() {
	db.mu.Lock()
	stop := db.stop
	db.stop = nil
	db.mu.Unlock()
	if stop == nil {
		return
	}
	close(stop)
	db.buffer.interruptWait()
	db.wg.Wait()
}

// TriggerSync seals the current mutable segment to disk and rotates in
// a fresh one, under the master write lock.
func (db *Database) TriggerSync() error {
	db.mu.Lock()
	defer db.mu.Unlock()

	if db.seg0.Primary.Empty() && db.seg0.Secondary.Empty() {
		return nil
	}
	if err := db.seg0.Sync(); err != nil {
		return err
	}
	db.segments = append(db.segments, db.seg0)

	fresh, err := NewSegment(db.root, newSegmentID(), db.cfg, db.indexCache)
	if err != nil {
		return err
	}
	db.seg0 = fresh
	return nil
}

// Close stops the background transporter (if running), closes the
// buffer (unmapping its pages), and drops the root lock. Segment files are left
// as-is (immutable once synced); the current mutable segment's writes
// remain recoverable on next Open only insofar as the buffer hasn't yet
// transported them — TriggerSync before Close to durably seal pending
// writes.
func (db *Database) Close() error {
	db.Stop()
	err := db.buffer.Close()
	if db.lock != nil {
		if uerr := db.lock.Unlock(); uerr != nil && err == nil {
			err = uerr
		}
		db.lock.setFile(nil)
	}
	if db.lockFile != nil {
		if cerr := db.lockFile.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}
	return err
}

// snapshot returns the segment list and seg0 under the read lock, for
// the hydration helpers below.
func (db *Database) snapshot() ([]*Segment, *Segment) {
	db.mu.RLock()
	defer db.mu.RUnlock()
	return db.segments, db.seg0
}

// table returns the fully hydrated TableRecord for id, from cache or
// freshly assembled.
func (db *Database) table(id Identifier) (*TableRecord, error) {
	if tr, ok := db.primaryFull.Get(id); ok {
		return tr, nil
	}
	tr := NewTableRecord(id)
	if err := db.hydrateTable(tr, id, nil); err != nil {
		return nil, err
	}
	db.primaryFull.Set(id, tr)
	return tr, nil
}

// tablePartial returns the TableRecord constrained to field, from cache
// or freshly assembled.
func (db *Database) tablePartial(id Identifier, field Text) (*TableRecord, error) {
	key := primaryPartialKey{Record: id, Field: field}
	if tr, ok := db.primaryPartial.Get(key); ok {
		return tr, nil
	}
	tr := newTableRecordPartial(id, field)
	if err := db.hydrateTable(tr, id, &field); err != nil {
		return nil, err
	}
	db.primaryPartial.Set(key, tr)
	return tr, nil
}

func (db *Database) hydrateTable(tr *TableRecord, id Identifier, field *Text) error {
	segments, seg0 := db.snapshot()
	composite := NewComposite(id)

	for _, seg := range segments {
		if err := seg.Primary.Seek(composite, tr); err != nil {
			return err
		}
	}
	if err := seg0.Primary.ScanMutable(func(r PrimaryRevision) bool {
		return r.Locator == id
	}, tr); err != nil {
		return err
	}

	pageMatch := func(p *Page) bool { return p.MightContainRecord(id) }
	if field != nil {
		f := *field
		pageMatch = func(p *Page) bool { return p.MightContainRecordKey(id, f) }
	}
	it := db.buffer.newIterator(
		pageMatch,
		func(w Write) bool {
			if w.Record() != id {
				return false
			}
			return field == nil || w.Key() == *field
		},
	)
	defer it.Close()
	for {
		w, ok, err := it.Next()
		if err != nil {
			return err
		}
		if !ok {
			break
		}
		rev := NewRevision(w.Record(), w.Key(), w.Value(), w.Version(), w.Action())
		if err := tr.AppendRevision(rev); err != nil {
			return err
		}
	}
	return nil
}

// index returns the IndexRecord for field, from cache or freshly
// assembled.
func (db *Database) index(field Text) (*IndexRecord, error) {
	if ir, ok := db.secondary.Get(field); ok {
		return ir, nil
	}
	ir := NewIndexRecord(field)

	segments, seg0 := db.snapshot()
	composite := NewComposite(field)
	for _, seg := range segments {
		if err := seg.Secondary.Seek(composite, ir); err != nil {
			return nil, err
		}
	}
	if err := seg0.Secondary.ScanMutable(func(r SecondaryRevision) bool {
		return r.Locator == field
	}, ir); err != nil {
		return nil, err
	}

	it := db.buffer.newIterator(
		func(p *Page) bool { return p.MightContainKey(field) },
		func(w Write) bool { return w.Key() == field },
	)
	defer it.Close()
	for {
		w, ok, err := it.Next()
		if err != nil {
			return nil, err
		}
		if !ok {
			break
		}
		rev := NewRevision(w.Key(), w.Value(), w.Record(), w.Version(), w.Action())
		if err := ir.AppendRevision(rev); err != nil {
			return nil, err
		}
	}

	db.secondary.Set(field, ir)
	return ir, nil
}

// corpusRecord assembles the CorpusRecord for field directly from
// segments and the buffer every call. Unlike the table/index caches it
// is never kept warm across writes: Accept deliberately never folds a
// transferred write's corpus postings into a live cache entry (see
// foldIntoCaches), since the positional index is the most
// write-amplifying of the three views and searches are read-rarely
// relative to table/index point lookups in the workloads this engine
// targets.
func (db *Database) corpusRecord(field Text) (*CorpusRecord, error) {
	cr := NewCorpusRecord(field)

	segments, seg0 := db.snapshot()
	composite := NewComposite(field)
	for _, seg := range segments {
		if err := seg.Corpus.Seek(composite, cr); err != nil {
			return nil, err
		}
	}
	if err := seg0.Corpus.ScanMutable(func(r CorpusRevision) bool {
		return r.Locator == field
	}, cr); err != nil {
		return nil, err
	}

	it := db.buffer.newIterator(
		func(p *Page) bool { return p.MightContainKey(field) },
		func(w Write) bool { return w.Key() == field && w.Value().IsString() },
	)
	defer it.Close()
	for {
		w, ok, err := it.Next()
		if err != nil {
			return nil, err
		}
		if !ok {
			break
		}
		for _, posting := range corpusPostingsForValue(w.Record(), w.Value(), db.cfg) {
			rev := NewRevision(w.Key(), posting.Key, posting.Value, w.Version(), w.Action())
			if err := cr.AppendRevision(rev); err != nil {
				return nil, err
			}
		}
	}
	return cr, nil
}

// Contains reports whether id has ever been written to. The buffer's
// durable inventory answers without a table scan; the table view is
// consulted only when the inventory has no entry (e.g. an inventory
// file lost to operator error while segments survived).
func (db *Database) Contains(id Identifier) (bool, error) {
	if db.buffer.KnownRecord(id) {
		return true, nil
	}
	tr, err := db.table(id)
	if err != nil {
		return false, err
	}
	return tr.Ping(), nil
}

// Fetch returns id's current value set for key.
func (db *Database) Fetch(id Identifier, key Text) (map[Value]struct{}, error) {
	tr, err := db.tablePartial(id, key)
	if err != nil {
		return nil, err
	}
	return tr.Fetch(key), nil
}

// FetchAt returns id's value set for key as of timestamp.
func (db *Database) FetchAt(id Identifier, key Text, timestamp int64) (map[Value]struct{}, error) {
	tr, err := db.tablePartial(id, key)
	if err != nil {
		return nil, err
	}
	return tr.FetchAt(key, timestamp), nil
}

// Verify reports whether value is present under key for id, optionally
// as of a historical timestamp.
func (db *Database) Verify(id Identifier, key Text, value Value, timestamp *int64) (bool, error) {
	tr, err := db.tablePartial(id, key)
	if err != nil {
		return false, err
	}
	return tr.Verify(key, value, timestamp), nil
}

// Review returns every field's current value set for id.
func (db *Database) Review(id Identifier) (map[Text]map[Value]struct{}, error) {
	tr, err := db.table(id)
	if err != nil {
		return nil, err
	}
	return tr.Review(), nil
}

// ReviewAt returns every field's value set for id as of timestamp.
func (db *Database) ReviewAt(id Identifier, timestamp int64) (map[Text]map[Value]struct{}, error) {
	tr, err := db.table(id)
	if err != nil {
		return nil, err
	}
	return tr.ReviewAt(timestamp), nil
}

// Audit returns every field's full append history for id.
func (db *Database) Audit(id Identifier) (map[Text][]CompactRevision[Value], error) {
	tr, err := db.table(id)
	if err != nil {
		return nil, err
	}
	return tr.Audit(), nil
}

// Describe renders id's current state for diagnostics.
func (db *Database) Describe(id Identifier) (string, error) {
	tr, err := db.table(id)
	if err != nil {
		return "", err
	}
	return tr.Describe(), nil
}

// Chronologize returns, for id's key, one ChronologyPoint per revision
// in [start, end).
func (db *Database) Chronologize(id Identifier, key Text, start, end int64) ([]ChronologyPoint, error) {
	tr, err := db.tablePartial(id, key)
	if err != nil {
		return nil, err
	}
	return tr.Chronologize(key, start, end), nil
}

// Browse returns every value currently mapped to at least one record
// under field.
func (db *Database) Browse(field Text) ([]valueEntry, error) {
	ir, err := db.index(field)
	if err != nil {
		return nil, err
	}
	return ir.Browse(), nil
}

// BrowseAt returns every value mapped to at least one record under
// field as of timestamp.
func (db *Database) BrowseAt(field Text, timestamp int64) ([]valueEntry, error) {
	ir, err := db.index(field)
	if err != nil {
		return nil, err
	}
	return ir.BrowseAt(timestamp), nil
}

// Explore evaluates op against field's indexed values, optionally as of
// a historical timestamp.
func (db *Database) Explore(field Text, op Operator, values []Value, timestamp *int64) (map[Identifier]struct{}, error) {
	ir, err := db.index(field)
	if err != nil {
		return nil, err
	}
	return ir.Explore(op, values, timestamp)
}

// Locate returns every record holding infix as a corpus posting under
// field, optionally as of a historical timestamp.
func (db *Database) Locate(field Text, infix string, timestamp *int64) (map[Identifier]struct{}, error) {
	cr, err := db.corpusRecord(field)
	if err != nil {
		return nil, err
	}
	return cr.Locate(infix, timestamp), nil
}

// Search evaluates query against field's corpus view.
func (db *Database) Search(field Text, query string) ([]SearchHit, error) {
	cr, err := db.corpusRecord(field)
	if err != nil {
		return nil, err
	}
	return cr.Search(query, db.cfg), nil
}

// Record: the in-memory merge of a key's revisions. Three
// concrete views — TableRecord, IndexRecord, CorpusRecord — each wrap a
// differently-instantiated Record[L,K,V] and add their own query
// surface. Record itself stays a single Go-generic implementation
// (reusing one well-tested append/replay core is more valuable than
// three hand-duplicated copies), but no caller ever holds a bare
// *Record[...] — they hold one of the three concrete wrapper types,
// each with methods that know their variant.
package triadb

import "sync"

// byteableKey is anything usable both as a composite-contributing
// entity and as a Go map key — every K and V instantiation in this
// package satisfies it.
type byteableKey interface {
	comparable
	Byteable
}

// Record holds one (locator, optional partial key) entity's current
// state and append history across every key it has seen.
type Record[L Byteable, K byteableKey, V byteableKey] struct {
	mu sync.RWMutex

	locator       L
	partialKey    *K // non-nil constrains appends to this key only
	enforceOffset bool

	present map[K]map[V]struct{}
	history map[K][]CompactRevision[V]
}

// newRecord constructs an empty record for locator. enforceOffset
// should be true for Primary and Secondary records, false for Corpus
// records (the offset check is waived there: legitimate n-gram
// overlap means the same substring posting can be added more than
// once across distinct source tokens).
func newRecord[L Byteable, K byteableKey, V byteableKey](locator L, partialKey *K, enforceOffset bool) *Record[L, K, V] {
	return &Record[L, K, V]{
		locator:       locator,
		partialKey:    partialKey,
		enforceOffset: enforceOffset,
		present:       make(map[K]map[V]struct{}),
		history:       make(map[K][]CompactRevision[V]),
	}
}

// AppendRevision implements RevisionSink, letting Block.Seek feed
// decoded revisions directly into a record during cache population. A
// revision whose key doesn't match the record's partial key (when one
// is set) is silently dropped rather than treated as an error — it
// simply belongs to a different record sharing the same locator.
func (r *Record[L, K, V]) AppendRevision(rev Revision[L, K, V]) error {
	if r.partialKey != nil && *r.partialKey != rev.Key {
		return nil
	}
	return r.Append(rev.Key, rev.Compact())
}

// AppendRevisionNewer is AppendRevision with a version gate: a revision
// whose version is not strictly newer than the last history entry for
// its key is dropped as already applied. Used when folding a freshly
// transported write into a cached record that may have been hydrated
// with that same write still in the buffer overlay.
func (r *Record[L, K, V]) AppendRevisionNewer(rev Revision[L, K, V]) error {
	if r.partialKey != nil && *r.partialKey != rev.Key {
		return nil
	}
	return r.AppendNewer(rev.Key, rev.Compact())
}

// Append folds one compact revision into present[key] and history[key],
// enforcing the offset invariant when the record requires it: an ADD
// is accepted only if the value is currently
// absent, a REMOVE only if present. Empty present[key] sets are
// evicted on REMOVE.
func (r *Record[L, K, V]) Append(key K, cr CompactRevision[V]) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.appendLocked(key, cr)
}

// AppendNewer is Append gated on cr.Version being strictly newer than
// the last history entry for key.
func (r *Record[L, K, V]) AppendNewer(key K, cr CompactRevision[V]) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if h := r.history[key]; len(h) > 0 && h[len(h)-1].Version >= cr.Version {
		return nil
	}
	return r.appendLocked(key, cr)
}

func (r *Record[L, K, V]) appendLocked(key K, cr CompactRevision[V]) error {
	set := r.present[key]
	_, exists := set[cr.Value]

	if r.enforceOffset {
		if cr.Action == ADD && exists {
			return ErrOffsetViolation
		}
		if cr.Action == REMOVE && !exists {
			return ErrOffsetViolation
		}
	}

	switch cr.Action {
	case ADD:
		if set == nil {
			set = make(map[V]struct{})
			r.present[key] = set
		}
		set[cr.Value] = struct{}{}
	case REMOVE:
		if set != nil {
			delete(set, cr.Value)
			if len(set) == 0 {
				delete(r.present, key)
			}
		}
	}

	r.history[key] = append(r.history[key], cr)
	return nil
}

// Present returns a snapshot of key's current value set.
func (r *Record[L, K, V]) Present(key K) map[V]struct{} {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[V]struct{}, len(r.present[key]))
	for v := range r.present[key] {
		out[v] = struct{}{}
	}
	return out
}

// Contains reports whether value is currently present under key.
func (r *Record[L, K, V]) Contains(key K, value V) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.present[key][value]
	return ok
}

// History returns a copy of key's append log in version order.
func (r *Record[L, K, V]) History(key K) []CompactRevision[V] {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h := r.history[key]
	out := make([]CompactRevision[V], len(h))
	copy(out, h)
	return out
}

// Keys returns every key the record has ever seen an append for.
func (r *Record[L, K, V]) Keys() []K {
	r.mu.RLock()
	defer r.mu.RUnlock()
	keys := make([]K, 0, len(r.history))
	for k := range r.history {
		keys = append(keys, k)
	}
	return keys
}

// ReplayAt reconstructs key's present set as of timestamp (inclusive),
// by replaying history[key] in version order and stopping once a
// revision's version exceeds timestamp.
func (r *Record[L, K, V]) ReplayAt(key K, timestamp int64) map[V]struct{} {
	r.mu.RLock()
	defer r.mu.RUnlock()

	acc := make(map[V]struct{})
	for _, cr := range r.history[key] {
		if cr.Version > timestamp {
			break
		}
		switch cr.Action {
		case ADD:
			acc[cr.Value] = struct{}{}
		case REMOVE:
			delete(acc, cr.Value)
		}
	}
	return acc
}

// Locator returns the record's locator entity.
func (r *Record[L, K, V]) Locator() L { return r.locator }

// ByteSize estimates the record's in-memory footprint for a
// ByteBoundedCache budget: present-set membership plus the full
// history log, both keyed on K.
func (r *Record[L, K, V]) ByteSize() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	size := 0
	for k, set := range r.present {
		size += len(k.Bytes()) + len(set)*24
	}
	for k, hist := range r.history {
		size += len(k.Bytes()) + len(hist)*40
	}
	return size
}

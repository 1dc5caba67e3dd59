// IndexRecord: the Secondary (index) view over one field — value ->
// set of records, backed by an ordered B-tree. EQUALS is a point
// lookup; every other operator, range operators included, scans all
// entries in ascending value order and tests each one.
package triadb

import (
	"sort"
	"sync"

	"github.com/tidwall/btree"
)

// valueEntry is one node of an IndexRecord's ordered tree: a Value and
// the set of record identifiers currently holding it.
type valueEntry struct {
	Value   Value
	Records map[Identifier]struct{}
}

func lessValueEntry(a, b valueEntry) bool { return Compare(a.Value, b.Value) < 0 }

// IndexRecord is the Secondary view over a single field name.
type IndexRecord struct {
	rec *Record[Text, Value, Identifier]

	mu   sync.RWMutex
	tree *btree.BTreeG[valueEntry]
}

// NewIndexRecord returns an empty IndexRecord for field.
func NewIndexRecord(field Text) *IndexRecord {
	return &IndexRecord{
		rec:  newRecord[Text, Value, Identifier](field, nil, true),
		tree: btree.NewBTreeG[valueEntry](lessValueEntry),
	}
}

// AppendRevision feeds one decoded SecondaryRevision into the record
// and refreshes the ordered tree node for the affected value.
func (ir *IndexRecord) AppendRevision(r SecondaryRevision) error {
	if err := ir.rec.AppendRevision(r); err != nil {
		return err
	}
	ir.syncTree(r.Key)
	return nil
}

// FoldRevision folds a freshly transported revision in, dropping it if
// the record already saw it (by version) via the buffer overlay.
func (ir *IndexRecord) FoldRevision(r SecondaryRevision) error {
	if err := ir.rec.AppendRevisionNewer(r); err != nil {
		return err
	}
	ir.syncTree(r.Key)
	return nil
}

// ByteSize estimates the index record's in-memory footprint (the
// underlying record plus the ordered tree's own node count), for the
// byte-bounded record caches.
func (ir *IndexRecord) ByteSize() int {
	ir.mu.RLock()
	defer ir.mu.RUnlock()
	return ir.rec.ByteSize() + ir.tree.Len()*32
}

func (ir *IndexRecord) syncTree(value Value) {
	ir.mu.Lock()
	defer ir.mu.Unlock()
	records := ir.rec.Present(value)
	if len(records) == 0 {
		ir.tree.Delete(valueEntry{Value: value})
		return
	}
	ir.tree.Set(valueEntry{Value: value, Records: records})
}

// Browse returns every value currently mapped to at least one
// record, in ascending value order.
func (ir *IndexRecord) Browse() []valueEntry {
	ir.mu.RLock()
	defer ir.mu.RUnlock()
	out := make([]valueEntry, 0, ir.tree.Len())
	ir.tree.Scan(func(e valueEntry) bool {
		out = append(out, e)
		return true
	})
	return out
}

// BrowseAt is Browse's historical counterpart: every value whose
// replayed record set as of timestamp is non-empty, in ascending value
// order.
func (ir *IndexRecord) BrowseAt(timestamp int64) []valueEntry {
	var out []valueEntry
	for _, v := range ir.rec.Keys() {
		records := ir.rec.ReplayAt(v, timestamp)
		if len(records) == 0 {
			continue
		}
		out = append(out, valueEntry{Value: v, Records: records})
	}
	sort.Slice(out, func(i, j int) bool { return Compare(out[i].Value, out[j].Value) < 0 })
	return out
}

// Explore evaluates operator against values over the index's current
// state, or, when timestamp is non-nil, against the historical state
// as of that version.
func (ir *IndexRecord) Explore(op Operator, values []Value, timestamp *int64) (map[Identifier]struct{}, error) {
	if len(values) == 0 {
		return nil, ErrUnsupportedOperator
	}
	if timestamp != nil {
		return ir.exploreHistorical(op, values, *timestamp)
	}
	return ir.exploreCurrent(op, values)
}

func (ir *IndexRecord) exploreCurrent(op Operator, values []Value) (map[Identifier]struct{}, error) {
	ir.mu.RLock()
	defer ir.mu.RUnlock()

	operand := values[0]
	var bound Value
	if op == BETWEEN {
		if len(values) < 2 {
			return nil, ErrUnsupportedOperator
		}
		bound = values[1]
	}

	if op == EQUALS {
		e, ok := ir.tree.Get(valueEntry{Value: operand})
		if !ok {
			return map[Identifier]struct{}{}, nil
		}
		return copyRecordSet(e.Records), nil
	}

	out := make(map[Identifier]struct{})
	var scanErr error
	ir.tree.Scan(func(e valueEntry) bool {
		ok, err := matchesOperator(op, e.Value, operand, bound)
		if err != nil {
			scanErr = err
			return false
		}
		if ok {
			for id := range e.Records {
				out[id] = struct{}{}
			}
		}
		return true
	})
	if scanErr != nil {
		return nil, scanErr
	}
	return out, nil
}

// exploreHistorical replays every known value's history up to
// timestamp and unions the records whose reconstructed membership
// matches operator.
func (ir *IndexRecord) exploreHistorical(op Operator, values []Value, timestamp int64) (map[Identifier]struct{}, error) {
	operand := values[0]
	var bound Value
	if op == BETWEEN {
		if len(values) < 2 {
			return nil, ErrUnsupportedOperator
		}
		bound = values[1]
	}

	out := make(map[Identifier]struct{})
	for _, v := range ir.rec.Keys() {
		ok, err := matchesOperator(op, v, operand, bound)
		if err != nil {
			return nil, err
		}
		if !ok {
			continue
		}
		for id := range ir.rec.ReplayAt(v, timestamp) {
			out[id] = struct{}{}
		}
	}
	return out, nil
}

func copyRecordSet(in map[Identifier]struct{}) map[Identifier]struct{} {
	out := make(map[Identifier]struct{}, len(in))
	for id := range in {
		out[id] = struct{}{}
	}
	return out
}

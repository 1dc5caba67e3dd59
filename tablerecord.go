// TableRecord: the Primary (table) view of one record — field name ->
// current values, with full history per field.
package triadb

import (
	"sort"

	json "github.com/goccy/go-json"
)

// ChronologyPoint is one entry of a chronologize call: the cumulative
// present set immediately after the revision at Version was applied.
type ChronologyPoint struct {
	Version int64
	Values  map[Value]struct{}
}

// TableRecord is the Primary view over a single record identifier.
type TableRecord struct {
	rec *Record[Identifier, Text, Value]
}

// NewTableRecord returns an empty TableRecord for id. The offset
// invariant is enforced.
func NewTableRecord(id Identifier) *TableRecord {
	return &TableRecord{rec: newRecord[Identifier, Text, Value](id, nil, true)}
}

// newTableRecordPartial returns a TableRecord constrained to a single
// field, used by the partial-record cache to avoid hydrating a
// record's entire history when a query only ever touches one field.
func newTableRecordPartial(id Identifier, field Text) *TableRecord {
	return &TableRecord{rec: newRecord[Identifier, Text, Value](id, &field, true)}
}

// AppendRevision feeds one decoded PrimaryRevision into the record.
func (t *TableRecord) AppendRevision(r PrimaryRevision) error { return t.rec.AppendRevision(r) }

// FoldRevision folds a freshly transported revision in, dropping it if
// the record already saw it (by version) via the buffer overlay.
func (t *TableRecord) FoldRevision(r PrimaryRevision) error { return t.rec.AppendRevisionNewer(r) }

// ByteSize estimates the record's in-memory footprint, for the
// byte-bounded record caches.
func (t *TableRecord) ByteSize() int { return t.rec.ByteSize() }

// Identifier returns the record's locator.
func (t *TableRecord) Identifier() Identifier { return t.rec.Locator() }

// Ping reports whether the record has ever received a write.
func (t *TableRecord) Ping() bool { return len(t.rec.Keys()) > 0 }

// Contains is an alias for Ping, matching the core API's contains(record).
func (t *TableRecord) Contains() bool { return t.Ping() }

// Fetch returns the record's current value set for key.
func (t *TableRecord) Fetch(key Text) map[Value]struct{} { return t.rec.Present(key) }

// FetchAt returns key's value set as of timestamp.
func (t *TableRecord) FetchAt(key Text, timestamp int64) map[Value]struct{} {
	return t.rec.ReplayAt(key, timestamp)
}

// Verify reports whether value is present under key, optionally as of
// a historical timestamp.
func (t *TableRecord) Verify(key Text, value Value, timestamp *int64) bool {
	if timestamp == nil {
		return t.rec.Contains(key, value)
	}
	_, ok := t.rec.ReplayAt(key, *timestamp)[value]
	return ok
}

// Review returns every field's current present set.
func (t *TableRecord) Review() map[Text]map[Value]struct{} {
	out := make(map[Text]map[Value]struct{})
	for _, k := range t.rec.Keys() {
		out[k] = t.rec.Present(k)
	}
	return out
}

// ReviewAt returns every field's present set as of timestamp. Fields
// whose replay comes up empty are omitted.
func (t *TableRecord) ReviewAt(timestamp int64) map[Text]map[Value]struct{} {
	out := make(map[Text]map[Value]struct{})
	for _, k := range t.rec.Keys() {
		if set := t.rec.ReplayAt(k, timestamp); len(set) > 0 {
			out[k] = set
		}
	}
	return out
}

// Audit returns every field's full append history, for diagnostic
// inspection.
func (t *TableRecord) Audit() map[Text][]CompactRevision[Value] {
	out := make(map[Text][]CompactRevision[Value])
	for _, k := range t.rec.Keys() {
		out[k] = t.rec.History(k)
	}
	return out
}

// Describe renders the record's current state as JSON, for diagnostics
// only (never parsed back, never the wire format). Values are rendered
// through Value.Render and sorted so the output is deterministic.
func (t *TableRecord) Describe() string {
	out := make(map[string][]string)
	for _, k := range t.rec.Keys() {
		var rendered []string
		for v := range t.rec.Present(k) {
			rendered = append(rendered, v.Render())
		}
		if len(rendered) == 0 {
			continue
		}
		sort.Strings(rendered)
		out[string(k)] = rendered
	}
	payload, err := json.Marshal(out)
	if err != nil {
		return "{}"
	}
	return string(payload)
}

// Chronologize returns, for key, one ChronologyPoint per revision whose
// version falls in [start, end), each holding the cumulative present
// set immediately after that revision.
func (t *TableRecord) Chronologize(key Text, start, end int64) []ChronologyPoint {
	history := t.rec.History(key)
	acc := make(map[Value]struct{})
	var points []ChronologyPoint
	for _, cr := range history {
		if cr.Version < start {
			switch cr.Action {
			case ADD:
				acc[cr.Value] = struct{}{}
			case REMOVE:
				delete(acc, cr.Value)
			}
			continue
		}
		if cr.Version >= end {
			break
		}
		switch cr.Action {
		case ADD:
			acc[cr.Value] = struct{}{}
		case REMOVE:
			delete(acc, cr.Value)
		}
		snapshot := make(map[Value]struct{}, len(acc))
		for v := range acc {
			snapshot[v] = struct{}{}
		}
		points = append(points, ChronologyPoint{Version: cr.Version, Values: snapshot})
	}
	return points
}

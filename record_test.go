// Tests for the generic Record core: the present = replay(history)
// invariant, offset enforcement and its corpus waiver, historical
// replay, and the fold-with-version-gate path.
package triadb

import (
	"errors"
	"testing"
)

func TestRecordPresentEqualsReplay(t *testing.T) {
	r := newRecord[Identifier, Text, Value](1, nil, true)

	steps := []struct {
		action Action
		value  Value
	}{
		{ADD, NewInt32(1)},
		{ADD, NewInt32(2)},
		{REMOVE, NewInt32(1)},
		{ADD, NewInt32(3)},
		{REMOVE, NewInt32(3)},
	}
	for i, s := range steps {
		if err := r.Append("k", CompactRevision[Value]{Value: s.value, Version: int64(i + 1), Action: s.action}); err != nil {
			t.Fatalf("Append %d: %v", i, err)
		}
	}

	present := r.Present("k")
	replayed := r.ReplayAt("k", int64(len(steps)))
	if len(present) != len(replayed) {
		t.Fatalf("present has %d values, replay has %d", len(present), len(replayed))
	}
	for v := range present {
		if _, ok := replayed[v]; !ok {
			t.Fatalf("present value %v missing from replay", v)
		}
	}
	if _, ok := present[NewInt32(2)]; !ok || len(present) != 1 {
		t.Fatalf("present = %v, want exactly {2}", present)
	}
}

func TestRecordOffsetInvariant(t *testing.T) {
	r := newRecord[Identifier, Text, Value](1, nil, true)
	v := NewInt32(1)

	if err := r.Append("k", CompactRevision[Value]{Value: v, Version: 1, Action: ADD}); err != nil {
		t.Fatalf("ADD: %v", err)
	}
	if err := r.Append("k", CompactRevision[Value]{Value: v, Version: 2, Action: ADD}); !errors.Is(err, ErrOffsetViolation) {
		t.Fatalf("double ADD = %v, want ErrOffsetViolation", err)
	}
	if err := r.Append("k", CompactRevision[Value]{Value: v, Version: 3, Action: REMOVE}); err != nil {
		t.Fatalf("REMOVE: %v", err)
	}
	if err := r.Append("k", CompactRevision[Value]{Value: v, Version: 4, Action: REMOVE}); !errors.Is(err, ErrOffsetViolation) {
		t.Fatalf("double REMOVE = %v, want ErrOffsetViolation", err)
	}
}

func TestRecordCorpusWaivesOffsetCheck(t *testing.T) {
	r := newRecord[Text, Text, Position](Text("bio"), nil, false)
	pos := NewPosition(7, 0)

	if err := r.Append("apple", CompactRevision[Position]{Value: pos, Version: 1, Action: ADD}); err != nil {
		t.Fatalf("first ADD: %v", err)
	}
	if err := r.Append("apple", CompactRevision[Position]{Value: pos, Version: 2, Action: ADD}); err != nil {
		t.Fatalf("duplicate corpus ADD should be waived: %v", err)
	}
	if len(r.History("apple")) != 2 {
		t.Fatalf("history length = %d, want 2", len(r.History("apple")))
	}
}

func TestRecordEvictsEmptyPresentSet(t *testing.T) {
	r := newRecord[Identifier, Text, Value](1, nil, true)
	v := NewInt32(1)

	r.Append("k", CompactRevision[Value]{Value: v, Version: 1, Action: ADD})
	r.Append("k", CompactRevision[Value]{Value: v, Version: 2, Action: REMOVE})

	if len(r.Present("k")) != 0 {
		t.Fatalf("present should be empty after offsetting pair")
	}
	// The key survives in history even though present evicted it.
	if len(r.History("k")) != 2 {
		t.Fatalf("history length = %d, want 2", len(r.History("k")))
	}
}

func TestRecordReplayAtStopsAtTimestamp(t *testing.T) {
	r := newRecord[Identifier, Text, Value](1, nil, true)
	v1, v2 := NewInt32(1), NewInt32(2)

	r.Append("k", CompactRevision[Value]{Value: v1, Version: 10, Action: ADD})
	r.Append("k", CompactRevision[Value]{Value: v2, Version: 20, Action: ADD})
	r.Append("k", CompactRevision[Value]{Value: v1, Version: 30, Action: REMOVE})

	at15 := r.ReplayAt("k", 15)
	if _, ok := at15[v1]; !ok || len(at15) != 1 {
		t.Fatalf("ReplayAt(15) = %v, want {v1}", at15)
	}
	at25 := r.ReplayAt("k", 25)
	if len(at25) != 2 {
		t.Fatalf("ReplayAt(25) = %v, want {v1, v2}", at25)
	}
	at35 := r.ReplayAt("k", 35)
	if _, ok := at35[v2]; !ok || len(at35) != 1 {
		t.Fatalf("ReplayAt(35) = %v, want {v2}", at35)
	}
}

func TestRecordPartialKeyDropsOtherKeys(t *testing.T) {
	field := Text("name")
	r := newRecord[Identifier, Text, Value](1, &field, true)

	keep := NewRevision(Identifier(1), Text("name"), NewString("a"), 1, ADD)
	drop := NewRevision(Identifier(1), Text("age"), NewInt32(30), 2, ADD)

	if err := r.AppendRevision(keep); err != nil {
		t.Fatalf("AppendRevision(matching key): %v", err)
	}
	if err := r.AppendRevision(drop); err != nil {
		t.Fatalf("AppendRevision(other key) should be silently dropped: %v", err)
	}
	if len(r.History("age")) != 0 {
		t.Fatalf("partial record accepted a revision for a foreign key")
	}
	if len(r.History("name")) != 1 {
		t.Fatalf("partial record lost its own key's revision")
	}
}

// TestRecordAppendNewerSkipsSeenVersions exercises the fold path: a
// revision already absorbed through the buffer overlay must not be
// re-applied when the transport catches up and folds it again.
func TestRecordAppendNewerSkipsSeenVersions(t *testing.T) {
	r := newRecord[Identifier, Text, Value](1, nil, true)
	v := NewInt32(1)

	r.Append("k", CompactRevision[Value]{Value: v, Version: 10, Action: ADD})
	r.Append("k", CompactRevision[Value]{Value: v, Version: 20, Action: REMOVE})

	// Refolding either revision is a no-op, even though the ADD at
	// version 10 would pass the offset check (the value is absent again
	// after the REMOVE): the version gate rejects it first.
	if err := r.AppendNewer("k", CompactRevision[Value]{Value: v, Version: 10, Action: ADD}); err != nil {
		t.Fatalf("refold of version 10: %v", err)
	}
	if err := r.AppendNewer("k", CompactRevision[Value]{Value: v, Version: 20, Action: REMOVE}); err != nil {
		t.Fatalf("refold of version 20: %v", err)
	}
	if len(r.History("k")) != 2 {
		t.Fatalf("history length = %d after refolds, want 2", len(r.History("k")))
	}

	// A genuinely newer revision still lands.
	if err := r.AppendNewer("k", CompactRevision[Value]{Value: v, Version: 30, Action: ADD}); err != nil {
		t.Fatalf("fold of fresh version 30: %v", err)
	}
	if len(r.History("k")) != 3 {
		t.Fatalf("history length = %d, want 3", len(r.History("k")))
	}
}

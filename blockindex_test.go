// Tests for BlockIndex.
package triadb

import (
	"errors"
	"path/filepath"
	"testing"
)

func TestBlockIndexRoundTripAfterSync(t *testing.T) {
	dir := t.TempDir()
	cache := NewByteBoundedCache[string, *indexEntryMap](1<<20, nil)
	path := filepath.Join(dir, "x.indx")

	bi := NewBlockIndex(path, cache)
	entries := map[Composite]blockOffset{
		NewComposite(Identifier(1)):              {Start: 0, End: 64},
		NewComposite(Identifier(1), Text("age")): {Start: 32, End: 64},
		NewComposite(Identifier(2)):              {Start: 96, End: 96},
	}
	for c, e := range entries {
		if err := bi.PutStart(c, e.Start); err != nil {
			t.Fatalf("PutStart: %v", err)
		}
		if err := bi.PutEnd(c, e.End); err != nil {
			t.Fatalf("PutEnd: %v", err)
		}
	}
	if err := bi.Sync(); err != nil {
		t.Fatalf("Sync: %v", err)
	}

	// Read back through the same handle (cache hit path).
	for c, e := range entries {
		start, end, ok := bi.Get(c)
		if !ok || start != e.Start || end != e.End {
			t.Fatalf("Get after sync = (%d, %d, %v), want (%d, %d, true)", start, end, ok, e.Start, e.End)
		}
	}

	// And through a fresh handle backed by an empty cache (disk path).
	fresh := NewBlockIndex(path, NewByteBoundedCache[string, *indexEntryMap](1<<20, nil))
	fresh.immutable = true
	for c, e := range entries {
		start, end, ok := fresh.Get(c)
		if !ok || start != e.Start || end != e.End {
			t.Fatalf("Get from disk = (%d, %d, %v), want (%d, %d, true)", start, end, ok, e.Start, e.End)
		}
	}

	if _, _, ok := fresh.Get(NewComposite(Identifier(99))); ok {
		t.Fatalf("Get(absent composite) should report no entry")
	}
}

func TestBlockIndexPutEndRequiresStart(t *testing.T) {
	bi := NewBlockIndex(filepath.Join(t.TempDir(), "x.indx"), nil)
	if err := bi.PutEnd(NewComposite(Identifier(1)), 8); err == nil {
		t.Fatalf("PutEnd without PutStart should fail")
	}
}

func TestBlockIndexImmutableAfterSync(t *testing.T) {
	bi := NewBlockIndex(filepath.Join(t.TempDir(), "x.indx"), nil)
	c := NewComposite(Identifier(1))
	if err := bi.PutStart(c, 0); err != nil {
		t.Fatalf("PutStart: %v", err)
	}
	if err := bi.PutEnd(c, 0); err != nil {
		t.Fatalf("PutEnd: %v", err)
	}
	if err := bi.Sync(); err != nil {
		t.Fatalf("Sync: %v", err)
	}

	if err := bi.PutStart(NewComposite(Identifier(2)), 8); !errors.Is(err, ErrStateViolation) {
		t.Fatalf("PutStart after Sync = %v, want ErrStateViolation", err)
	}
	if err := bi.Sync(); !errors.Is(err, ErrStateViolation) {
		t.Fatalf("double Sync = %v, want ErrStateViolation", err)
	}
}

func TestBlockIndexPutStartKeepsFirstOffset(t *testing.T) {
	bi := NewBlockIndex(filepath.Join(t.TempDir(), "x.indx"), nil)
	c := NewComposite(Identifier(1))

	bi.PutStart(c, 16)
	bi.PutEnd(c, 16)
	bi.PutStart(c, 48) // later revisions for the same composite extend End, never Start
	bi.PutEnd(c, 48)

	start, end, ok := bi.Get(c)
	if !ok || start != 16 || end != 48 {
		t.Fatalf("Get = (%d, %d, %v), want (16, 48, true)", start, end, ok)
	}
}

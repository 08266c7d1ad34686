package memtable

import (
	"bytes"
	"testing"
)

func TestMemtable_BasicInsertGet(t *testing.T) {
	mt := New()

	size := mt.Insert([]byte("a"), []byte("1"), Value, 1)
	if size <= 0 {
		t.Fatalf("expected positive size after insert, got %d", size)
	}

	entry, ok := mt.Get([]byte("a"), 1)
	if !ok {
		t.Fatal("expected to find key a")
	}
	if !bytes.Equal(entry.Value, []byte("1")) {
		t.Errorf("expected value 1, got %s", entry.Value)
	}
}

func TestMemtable_SnapshotRead(t *testing.T) {
	mt := New()
	mt.Insert([]byte("k"), []byte("v1"), Value, 1)
	mt.Insert([]byte("k"), []byte("v2"), Value, 2)

	entry, ok := mt.Get([]byte("k"), 1)
	if !ok || !bytes.Equal(entry.Value, []byte("v1")) {
		t.Fatalf("expected v1 at LSN 1, got %+v", entry)
	}

	entry, ok = mt.Get([]byte("k"), 2)
	if !ok || !bytes.Equal(entry.Value, []byte("v2")) {
		t.Fatalf("expected v2 at LSN 2, got %+v", entry)
	}

	if _, ok := mt.Get([]byte("k"), 0); ok {
		t.Fatal("expected no visible entry below the first LSN")
	}
}

func TestMemtable_TombstoneShadowsValue(t *testing.T) {
	mt := New()
	mt.Insert([]byte("k"), []byte("v"), Value, 1)
	mt.Insert([]byte("k"), nil, Tombstone, 2)

	entry, ok := mt.Get([]byte("k"), 2)
	if !ok {
		t.Fatal("expected a record to exist")
	}
	if entry.Kind != Tombstone {
		t.Fatalf("expected tombstone, got %v", entry.Kind)
	}
}

func TestMemtable_VisibleLen(t *testing.T) {
	mt := New()
	mt.Insert([]byte("a"), []byte("1"), Value, 1)
	mt.Insert([]byte("b"), []byte("2"), Value, 2)
	mt.Insert([]byte("b"), nil, Tombstone, 3)

	if got := mt.VisibleLen(3); got != 1 {
		t.Fatalf("expected 1 visible key, got %d", got)
	}
}

func TestMemtable_ScanOrdersByKey(t *testing.T) {
	mt := New()
	mt.Insert([]byte("c"), []byte("3"), Value, 1)
	mt.Insert([]byte("a"), []byte("1"), Value, 2)
	mt.Insert([]byte("b"), []byte("2"), Value, 3)

	entries := mt.Scan(nil, nil, 3)
	if len(entries) != 3 {
		t.Fatalf("expected 3 entries, got %d", len(entries))
	}
	for i, want := range []string{"a", "b", "c"} {
		if string(entries[i].Key) != want {
			t.Errorf("entry %d: expected key %s, got %s", i, want, entries[i].Key)
		}
	}
}

func TestMemtable_PrefixScan(t *testing.T) {
	mt := New()
	mt.Insert([]byte("user:1"), []byte("a"), Value, 1)
	mt.Insert([]byte("user:2"), []byte("b"), Value, 2)
	mt.Insert([]byte("order:1"), []byte("c"), Value, 3)

	entries := mt.PrefixScan([]byte("user:"), 3)
	if len(entries) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(entries))
	}
}

func TestMemtable_FirstLast(t *testing.T) {
	mt := New()
	mt.Insert([]byte("b"), []byte("2"), Value, 1)
	mt.Insert([]byte("a"), []byte("1"), Value, 2)
	mt.Insert([]byte("c"), []byte("3"), Value, 3)

	first, ok := mt.First(3)
	if !ok || string(first.Key) != "a" {
		t.Fatalf("expected first key a, got %+v", first)
	}

	last, ok := mt.Last(3)
	if !ok || string(last.Key) != "c" {
		t.Fatalf("expected last key c, got %+v", last)
	}
}

func TestMemtable_IsEmptyAndLSNs(t *testing.T) {
	mt := New()
	if !mt.IsEmpty() {
		t.Fatal("expected new memtable to be empty")
	}

	mt.Insert([]byte("k"), []byte("v"), Value, 5)
	if mt.IsEmpty() {
		t.Fatal("expected non-empty memtable after insert")
	}

	min, ok := mt.MinLSN()
	if !ok || min != 5 {
		t.Fatalf("expected min LSN 5, got %d (ok=%v)", min, ok)
	}
	max, ok := mt.MaxLSN()
	if !ok || max != 5 {
		t.Fatalf("expected max LSN 5, got %d (ok=%v)", max, ok)
	}
}

func TestMemtable_AllVersionsPreservesHistory(t *testing.T) {
	mt := New()
	mt.Insert([]byte("k"), []byte("v1"), Value, 1)
	mt.Insert([]byte("k"), []byte("v2"), Value, 2)

	all := mt.AllVersions()
	if len(all) != 2 {
		t.Fatalf("expected 2 versions preserved for flush, got %d", len(all))
	}
}

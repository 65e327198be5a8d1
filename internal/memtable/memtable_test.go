package memtable

import "testing"

func TestPutGetRoundTrip(t *testing.T) {
	mt := New()
	mt.Put(1, []byte("a"))

	v, ok := mt.Get(1)
	if !ok || string(v) != "a" {
		t.Fatalf("got %q, %v", v, ok)
	}
	if mt.NodeCount() != 1 {
		t.Fatalf("expected 1 node, got %d", mt.NodeCount())
	}
}

func TestDeleteThenGetAbsent(t *testing.T) {
	mt := New()
	mt.Put(1, []byte("a"))
	if !mt.Del(1) {
		t.Fatal("expected delete to succeed")
	}
	if _, ok := mt.Get(1); ok {
		t.Fatal("expected absent after delete")
	}
	if !mt.IsDeleted(1) {
		t.Fatal("expected IsDeleted true")
	}
	if mt.Del(1) {
		t.Fatal("second delete of already-tombstoned key must report false")
	}
}

func TestGetVsIsDeletedDisambiguation(t *testing.T) {
	mt := New()
	if _, ok := mt.Get(42); ok {
		t.Fatal("expected absent")
	}
	if mt.IsDeleted(42) {
		t.Fatal("absent key must not be reported deleted")
	}
}

func TestOverwriteTombstoneWithLiveValue(t *testing.T) {
	mt := New()
	mt.Put(1, []byte("a"))
	mt.Del(1)
	mt.Put(1, []byte("b"))

	v, ok := mt.Get(1)
	if !ok || string(v) != "b" {
		t.Fatalf("got %q, %v", v, ok)
	}
	if mt.IsDeleted(1) {
		t.Fatal("should no longer be deleted")
	}
}

func TestByteAccounting(t *testing.T) {
	mt := New()
	base := mt.ByteSize()
	if base != baseByteSize {
		t.Fatalf("expected base %d, got %d", baseByteSize, base)
	}

	mt.Put(1, []byte("hello")) // +12+5 = 17
	if got, want := mt.ByteSize(), uint64(baseByteSize+17); got != want {
		t.Fatalf("got %d, want %d", got, want)
	}

	mt.Put(1, []byte("hi")) // update: delta = 2-5 = -3
	if got, want := mt.ByteSize(), uint64(baseByteSize+17-3); got != want {
		t.Fatalf("got %d, want %d", got, want)
	}

	mt.Del(1) // tombstone: delta = 8 - len("hi") = 6
	if got, want := mt.ByteSize(), uint64(baseByteSize+17-3+6); got != want {
		t.Fatalf("got %d, want %d", got, want)
	}
}

func TestWouldOverflow(t *testing.T) {
	mt := New()
	if mt.WouldOverflow(1, []byte("x"), baseByteSize+100) {
		t.Fatal("should not overflow with plenty of budget")
	}
	if !mt.WouldOverflow(1, make([]byte, 1000), baseByteSize+10) {
		t.Fatal("should overflow when insertion exceeds budget")
	}
}

func TestScanRangeOrderedWithTombstones(t *testing.T) {
	mt := New()
	for k := uint64(1); k <= 10; k++ {
		mt.Put(k, []byte{byte(k)})
	}
	mt.Del(5)

	entries := mt.Scan(3, 7)
	if len(entries) != 5 {
		t.Fatalf("expected 5 entries, got %d", len(entries))
	}
	for i, e := range entries {
		wantKey := uint64(3 + i)
		if e.Key != wantKey {
			t.Fatalf("entry %d: got key %d, want %d", i, e.Key, wantKey)
		}
		if e.Key == 5 && !IsTombstone(e.Value) {
			t.Fatal("expected tombstone included as-is in scan output")
		}
	}
}

func TestResetClearsEverything(t *testing.T) {
	mt := New()
	mt.Put(1, []byte("a"))
	mt.Put(2, []byte("b"))
	mt.Reset()

	if mt.NodeCount() != 0 {
		t.Fatalf("expected 0 nodes after reset, got %d", mt.NodeCount())
	}
	if mt.ByteSize() != baseByteSize {
		t.Fatalf("expected base byte size after reset, got %d", mt.ByteSize())
	}
	if _, ok := mt.Get(1); ok {
		t.Fatal("expected absent after reset")
	}
}

func TestMinMaxKeyTracking(t *testing.T) {
	mt := New()
	mt.Put(50, nil)
	mt.Put(10, nil)
	mt.Put(90, nil)

	if mt.MinKey() != 10 {
		t.Fatalf("expected min 10, got %d", mt.MinKey())
	}
	if mt.MaxKey() != 90 {
		t.Fatalf("expected max 90, got %d", mt.MaxKey())
	}
}

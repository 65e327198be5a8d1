package bloom

import "testing"

func TestFilterBasic(t *testing.T) {
	f := New()

	keys := []uint64{1, 2, 3, 42, 1000000}
	for _, k := range keys {
		f.Insert(k)
	}

	for _, k := range keys {
		if !f.Contains(k) {
			t.Fatalf("key %d should be in filter", k)
		}
	}
}

func TestFilterNoFalseNegatives(t *testing.T) {
	f := New()
	for k := uint64(0); k < 2000; k++ {
		f.Insert(k)
	}
	for k := uint64(0); k < 2000; k++ {
		if !f.Contains(k) {
			t.Fatalf("false negative for key %d", k)
		}
	}
}

func TestFilterRoundTrip(t *testing.T) {
	f := New()
	for _, k := range []uint64{7, 19, 256, 99999} {
		f.Insert(k)
	}

	buf := f.Bytes()
	if len(buf) != Capacity {
		t.Fatalf("expected %d bytes, got %d", Capacity, len(buf))
	}

	g := FromBytes(buf)
	for _, k := range []uint64{7, 19, 256, 99999} {
		if !g.Contains(k) {
			t.Fatalf("key %d lost across round trip", k)
		}
	}
}

func TestFilterAbsentKeyMayBeRejected(t *testing.T) {
	f := New()
	f.Insert(1)
	// Not a hard guarantee (false positives are tolerated), but an empty
	// filter with a single key must reject most of the key space.
	rejected := 0
	for k := uint64(2); k < 502; k++ {
		if !f.Contains(k) {
			rejected++
		}
	}
	if rejected == 0 {
		t.Fatal("expected at least some absent keys to be rejected")
	}
}

package compaction

import (
	"fmt"
	"path/filepath"
	"testing"

	"github.com/mnohosten/kvstore-lsm/internal/memtable"
	"github.com/mnohosten/kvstore-lsm/internal/sstable"
)

func mustFlush(t *testing.T, dir string, ts uint64, entries map[uint64]string) *sstable.SSTable {
	t.Helper()
	mt := memtable.New()
	for k, v := range entries {
		mt.Put(k, []byte(v))
	}
	path := filepath.Join(dir, fmt.Sprintf("sstable%d.sst", ts))
	sst, err := sstable.Flush(mt, ts, path)
	if err != nil {
		t.Fatalf("flush: %v", err)
	}
	return sst
}

func TestCapacity(t *testing.T) {
	cases := map[int]int{0: 2, 1: 4, 2: 8, 3: 16}
	for level, want := range cases {
		if got := Capacity(level); got != want {
			t.Fatalf("Capacity(%d) = %d, want %d", level, got, want)
		}
	}
}

func TestSelectVictimsLevelZeroIsWholesale(t *testing.T) {
	dir := t.TempDir()
	a := mustFlush(t, dir, 1, map[uint64]string{1: "a"})
	b := mustFlush(t, dir, 2, map[uint64]string{2: "b"})

	victims := SelectVictims(0, []*sstable.SSTable{a, b})
	if len(victims) != 2 {
		t.Fatalf("expected all level-0 tables as victims, got %d", len(victims))
	}
}

func TestSelectVictimsHigherLevelPicksColdest(t *testing.T) {
	dir := t.TempDir()
	var tables []*sstable.SSTable
	for ts := uint64(1); ts <= 5; ts++ {
		tables = append(tables, mustFlush(t, dir, ts, map[uint64]string{ts * 10: "v"}))
	}
	// level 1 capacity is 4; with 5 tables, 1 victim: the coldest (ts=1).
	victims := SelectVictims(1, tables)
	if len(victims) != 1 {
		t.Fatalf("expected 1 victim, got %d", len(victims))
	}
	if victims[0].Timestamp() != 1 {
		t.Fatalf("expected coldest table (ts=1) selected, got ts=%d", victims[0].Timestamp())
	}
}

func TestSelectOverlap(t *testing.T) {
	dir := t.TempDir()
	below := mustFlush(t, dir, 1, map[uint64]string{1: "a", 2: "b"})
	overlapping := mustFlush(t, dir, 2, map[uint64]string{5: "c", 15: "d"})
	above := mustFlush(t, dir, 3, map[uint64]string{100: "e"})

	got := SelectOverlap([]*sstable.SSTable{below, overlapping, above}, 10, 20)
	if len(got) != 1 || got[0] != overlapping {
		t.Fatalf("expected only the overlapping table, got %d tables", len(got))
	}
}

func TestMergeNewestTimestampWins(t *testing.T) {
	dir := t.TempDir()
	older := mustFlush(t, dir, 1, map[uint64]string{1: "old"})
	newer := mustFlush(t, dir, 2, map[uint64]string{1: "new"})

	destDir := t.TempDir()
	counter := 0
	nextPath := func() string {
		counter++
		return filepath.Join(destDir, fmt.Sprintf("out%d.sst", counter))
	}

	out, err := Merge([]*sstable.SSTable{older, newer}, false, 2*1024*1024, 2, nextPath)
	if err != nil {
		t.Fatal(err)
	}
	if len(out) != 1 {
		t.Fatalf("expected 1 output table, got %d", len(out))
	}

	v, found, tomb, err := out[0].Get(1)
	if err != nil || !found || tomb {
		t.Fatalf("got v=%q found=%v tomb=%v err=%v", v, found, tomb, err)
	}
	if string(v) != "new" {
		t.Fatalf("expected newest value to win, got %q", v)
	}
}

func TestMergeDropsTombstonesOnlyAtBottom(t *testing.T) {
	dir := t.TempDir()
	mt := memtable.New()
	mt.Put(7, []byte("v"))
	mt.Del(7)
	tombstoned := mustFlushFromMemtable(t, dir, 1, mt)

	destDir := t.TempDir()
	counter := 0
	nextPath := func() string {
		counter++
		return filepath.Join(destDir, fmt.Sprintf("out%d.sst", counter))
	}

	// Non-terminal compaction: tombstone must survive.
	out, err := Merge([]*sstable.SSTable{tombstoned}, false, 2*1024*1024, 1, nextPath)
	if err != nil {
		t.Fatal(err)
	}
	if len(out) != 1 {
		t.Fatalf("expected 1 output table, got %d", len(out))
	}
	_, found, tomb, err := out[0].Get(7)
	if err != nil || !found || !tomb {
		t.Fatalf("expected tombstone preserved, got found=%v tomb=%v err=%v", found, tomb, err)
	}

	// Terminal compaction (new bottom level): tombstone must be dropped.
	out2, err := Merge([]*sstable.SSTable{tombstoned}, true, 2*1024*1024, 1, nextPath)
	if err != nil {
		t.Fatal(err)
	}
	if len(out2) != 0 {
		t.Fatalf("expected no output table once the only entry is dropped, got %d", len(out2))
	}
}

func mustFlushFromMemtable(t *testing.T, dir string, ts uint64, mt *memtable.MemTable) *sstable.SSTable {
	t.Helper()
	sst, err := sstable.Flush(mt, ts, filepath.Join(dir, fmt.Sprintf("sstable%d.sst", ts)))
	if err != nil {
		t.Fatalf("flush: %v", err)
	}
	return sst
}

func TestMergeSplitsAcrossMaxBytes(t *testing.T) {
	dir := t.TempDir()
	mt := memtable.New()
	big := make([]byte, 300)
	for k := uint64(0); k < 20; k++ {
		mt.Put(k, big)
	}
	src := mustFlushFromMemtable(t, dir, 1, mt)

	destDir := t.TempDir()
	counter := 0
	nextPath := func() string {
		counter++
		return filepath.Join(destDir, fmt.Sprintf("out%d.sst", counter))
	}

	// Tiny budget forces many output tables.
	out, err := Merge([]*sstable.SSTable{src}, false, 10240+32+500, 1, nextPath)
	if err != nil {
		t.Fatal(err)
	}
	if len(out) < 2 {
		t.Fatalf("expected merge to split across multiple tables, got %d", len(out))
	}

	total := uint64(0)
	for _, t2 := range out {
		total += t2.EntryCount()
	}
	if total != 20 {
		t.Fatalf("expected all 20 entries preserved across outputs, got %d", total)
	}
}

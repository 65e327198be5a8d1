// Package compaction implements the leveled k-way merge that reorganizes
// SSTables: victim selection at a level, overlap selection in the next
// level, and the tombstone-aware, timestamp-reconciling merge itself.
package compaction

import (
	"fmt"
	"sort"

	"github.com/mnohosten/kvstore-lsm/internal/memtable"
	"github.com/mnohosten/kvstore-lsm/internal/sstable"
)

// Capacity returns the maximum number of tables level may hold before it
// must be compacted into level+1: 2^(level+1).
func Capacity(level int) int {
	return 1 << uint(level+1)
}

// SelectVictims picks the tables at level that must move to level+1.
// Level 0 is wholesale (it may contain overlapping ranges and so cannot
// be partially compacted); level>0 selects the count(level)-Capacity(level)
// coldest tables, ties broken by smaller minKey.
func SelectVictims(level int, tables []*sstable.SSTable) []*sstable.SSTable {
	if level == 0 {
		out := make([]*sstable.SSTable, len(tables))
		copy(out, tables)
		return out
	}

	cap := Capacity(level)
	n := len(tables)
	victimCount := n - cap
	if victimCount <= 0 {
		return nil
	}

	sorted := make([]*sstable.SSTable, n)
	copy(sorted, tables)
	sort.Slice(sorted, func(i, j int) bool {
		if sorted[i].Timestamp() != sorted[j].Timestamp() {
			return sorted[i].Timestamp() < sorted[j].Timestamp()
		}
		return sorted[i].MinKey() < sorted[j].MinKey()
	})
	return sorted[:victimCount]
}

// KeyRange returns the union [min, max] key range of tables. It panics if
// tables is empty — callers must only invoke it with a non-empty victim
// set.
func KeyRange(tables []*sstable.SSTable) (min, max uint64) {
	min, max = tables[0].MinKey(), tables[0].MaxKey()
	for _, t := range tables[1:] {
		if t.MinKey() < min {
			min = t.MinKey()
		}
		if t.MaxKey() > max {
			max = t.MaxKey()
		}
	}
	return min, max
}

// SelectOverlap returns every table in nextLevel whose range overlaps
// [minKey, maxKey].
func SelectOverlap(nextLevel []*sstable.SSTable, minKey, maxKey uint64) []*sstable.SSTable {
	var out []*sstable.SSTable
	for _, t := range nextLevel {
		if t.Overlaps(minKey, maxKey) {
			out = append(out, t)
		}
	}
	return out
}

// MaxTimestamp returns the greatest timestamp among tables.
func MaxTimestamp(tables []*sstable.SSTable) uint64 {
	var max uint64
	for _, t := range tables {
		if t.Timestamp() > max {
			max = t.Timestamp()
		}
	}
	return max
}

type taggedEntry struct {
	value     []byte
	timestamp uint64
}

// Merge performs the k-way, tombstone-aware, timestamp-reconciling merge
// of inputs, writing the result as one or more fresh SSTables at the
// paths nextPath returns. Every output table is stamped with outTimestamp (the maximum
// input timestamp) so that timestamp tie-breaking stays monotone across
// repeated compactions.
//
// dropTombstones must be true iff this compaction is creating a brand
// new bottom level (L+1 did not exist before this call); at the bottom,
// a tombstone has nothing left to shadow and is dropped rather than
// carried forward.
//
// nextPath is called once per output table to obtain its destination
// file path; it is expected to draw from the store's global timestamp
// counter to guarantee unique filenames.
func Merge(inputs []*sstable.SSTable, dropTombstones bool, maxBytes uint64, outTimestamp uint64, nextPath func() string) ([]*sstable.SSTable, error) {
	merged := make(map[uint64]taggedEntry)

	for _, t := range inputs {
		entries, err := t.ReadAll()
		if err != nil {
			return nil, fmt.Errorf("compaction: read %s: %w", t.Path(), err)
		}
		ts := t.Timestamp()
		for _, e := range entries {
			cur, exists := merged[e.Key]
			if !exists || ts > cur.timestamp {
				merged[e.Key] = taggedEntry{value: e.Value, timestamp: ts}
			}
		}
	}

	keys := make([]uint64, 0, len(merged))
	for k := range merged {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })

	var out []*sstable.SSTable
	outMem := memtable.New()

	flush := func() error {
		if outMem.NodeCount() == 0 {
			return nil
		}
		sst, err := sstable.Flush(outMem, outTimestamp, nextPath())
		if err != nil {
			return fmt.Errorf("compaction: flush: %w", err)
		}
		out = append(out, sst)
		outMem.Reset()
		return nil
	}

	for _, k := range keys {
		e := merged[k]
		if dropTombstones && memtable.IsTombstone(e.value) {
			continue
		}

		if outMem.NodeCount() > 0 && outMem.WouldOverflow(k, e.value, maxBytes) {
			if err := flush(); err != nil {
				return nil, err
			}
		}
		outMem.Put(k, e.value)
	}
	if err := flush(); err != nil {
		return nil, err
	}

	return out, nil
}

// Package memtable implements the in-memory write buffer that accumulates
// puts, deletes, and overwrites until its byte budget is hit, at which
// point the store flushes it into a new SSTable. Deletes are tracked as
// tombstone values so Get and IsDeleted can distinguish "absent" from
// "explicitly removed" even while the key is still resident in memory.
package memtable

import (
	"bytes"
	"math"

	"github.com/mnohosten/kvstore-lsm/internal/skiplist"
)

// Tombstone is the reserved value that marks a logical deletion. Its
// presence as a regular entry value is what lets deletes propagate
// through flush and compaction without a separate delete-record format.
const Tombstone = "~DELETE~"

// baseByteSize is the fixed overhead of the SSTable a memtable will
// eventually flush into: a 32-byte header plus a 10240-byte bloom filter.
const baseByteSize = 10240 + 32

// Entry is a single ordered (key, value) pair, as produced by Scan,
// ForEach, and flush.
type Entry struct {
	Key   uint64
	Value []byte
}

// MemTable is the skip-list-backed, byte-budgeted write buffer.
type MemTable struct {
	list      *skiplist.SkipList
	byteSize  int64
	nodeCount int
	minKey    uint64
	maxKey    uint64
}

// New returns an empty memtable.
func New() *MemTable {
	return &MemTable{
		list:     skiplist.New(),
		byteSize: baseByteSize,
		minKey:   math.MaxUint64,
		maxKey:   0,
	}
}

// IsTombstone reports whether value is the reserved deletion marker.
func IsTombstone(value []byte) bool {
	return bytes.Equal(value, []byte(Tombstone))
}

// WouldOverflow reports whether inserting key/value would push the
// memtable's byte count past maxBytes, using the same delta formula Put
// applies. Callers flush before inserting when this returns true.
func (mt *MemTable) WouldOverflow(key uint64, value []byte, maxBytes uint64) bool {
	delta := mt.putDelta(key, value)
	return mt.byteSize+delta > int64(maxBytes)
}

func (mt *MemTable) putDelta(key uint64, value []byte) int64 {
	if old, existed := mt.list.Get(key); existed {
		return int64(len(value)) - int64(len(old))
	}
	return 12 + int64(len(value))
}

// Put inserts or overwrites key's value, including overwriting a
// tombstone with a live value and vice versa.
func (mt *MemTable) Put(key uint64, value []byte) {
	delta := mt.putDelta(key, value)
	_, existed := mt.list.Put(key, value)
	mt.byteSize += delta
	if !existed {
		mt.nodeCount++
		if key < mt.minKey {
			mt.minKey = key
		}
		if key > mt.maxKey {
			mt.maxKey = key
		}
	}
}

// Get returns the live value for key. It returns (nil, false) both when
// the key is absent and when it is tombstoned — use IsDeleted to tell
// the two apart.
func (mt *MemTable) Get(key uint64) ([]byte, bool) {
	v, ok := mt.list.Get(key)
	if !ok || IsTombstone(v) {
		return nil, false
	}
	return v, true
}

// IsDeleted reports whether key exists and holds the tombstone. This is
// the disambiguation Get cannot provide: without it, Del would wrongly
// fall through to older SSTables for a key the memtable already deleted.
func (mt *MemTable) IsDeleted(key uint64) bool {
	v, ok := mt.list.Get(key)
	return ok && IsTombstone(v)
}

// Del overwrites a live node's value with the tombstone. It does not
// physically remove the node. It returns false if no live node exists
// for key.
func (mt *MemTable) Del(key uint64) bool {
	old, ok := mt.list.Get(key)
	if !ok || IsTombstone(old) {
		return false
	}
	mt.list.Put(key, []byte(Tombstone))
	mt.byteSize += 8 - int64(len(old))
	return true
}

// Scan returns the (key, value) pairs with key in [k1, k2], ascending.
// Tombstones are included as-is; the caller is responsible for filtering
// them during whatever merge it performs.
func (mt *MemTable) Scan(k1, k2 uint64) []Entry {
	var out []Entry
	mt.list.Range(k1, k2, func(key uint64, value []byte) {
		out = append(out, Entry{Key: key, Value: value})
	})
	return out
}

// ForEach walks every entry in ascending key order, tombstones included —
// used by flush, which must preserve every logical entry including
// deletions.
func (mt *MemTable) ForEach(fn func(key uint64, value []byte)) {
	mt.list.ForEach(fn)
}

// All returns every entry in ascending key order.
func (mt *MemTable) All() []Entry {
	out := make([]Entry, 0, mt.nodeCount)
	mt.list.ForEach(func(key uint64, value []byte) {
		out = append(out, Entry{Key: key, Value: value})
	})
	return out
}

// NodeCount returns the number of distinct keys held.
func (mt *MemTable) NodeCount() int {
	return mt.nodeCount
}

// ByteSize returns the current accounted byte count.
func (mt *MemTable) ByteSize() uint64 {
	if mt.byteSize < 0 {
		return 0
	}
	return uint64(mt.byteSize)
}

// MinKey and MaxKey return the smallest/largest key currently held. They
// are meaningless when NodeCount is 0.
func (mt *MemTable) MinKey() uint64 { return mt.minKey }
func (mt *MemTable) MaxKey() uint64 { return mt.maxKey }

// Reset discards all entries and reinitializes byte accounting, as if
// the memtable were newly constructed.
func (mt *MemTable) Reset() {
	mt.list = skiplist.New()
	mt.byteSize = baseByteSize
	mt.nodeCount = 0
	mt.minKey = math.MaxUint64
	mt.maxKey = 0
}

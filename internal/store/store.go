// Package store orchestrates the memtable, SSTable levels, and compactor
// into the single-process embedded key-value engine: open, put, get,
// del, scan, reset, and the flush/compaction cascade that keeps level
// sizes within their capacity bounds.
package store

import (
	"errors"
	"fmt"
	"path/filepath"
	"sort"
	"sync"

	"github.com/mnohosten/kvstore-lsm/internal/compaction"
	"github.com/mnohosten/kvstore-lsm/internal/fsutil"
	"github.com/mnohosten/kvstore-lsm/internal/memtable"
	"github.com/mnohosten/kvstore-lsm/internal/sstable"
	"github.com/mnohosten/kvstore-lsm/internal/storelog"
)

// ErrReservedValue is returned by Put when the caller-supplied value
// equals the tombstone sentinel.
var ErrReservedValue = errors.New("store: value equals the reserved tombstone sentinel")

// ErrInvalidRange is returned by Scan when k1 > k2.
var ErrInvalidRange = errors.New("store: invalid scan range: k1 > k2")

// Options configures a Store. There is no functional-options layer;
// callers build an Options literal or start from DefaultOptions.
type Options struct {
	// Dir is the store's root directory on the local filesystem.
	Dir string

	// MaxMemtableBytes is the flush threshold: once the next insert
	// would push the memtable's accounted byte size past this value,
	// the memtable is flushed before the insert proceeds.
	MaxMemtableBytes uint64

	// BloomCapacity records the per-SSTable bloom filter cell count. The
	// store does not read it: every filter has bloom.Capacity cells
	// whatever this field holds.
	BloomCapacity uint64
}

// DefaultOptions returns the standard configuration for dir: a 2 MiB
// memtable budget and a 10240-cell bloom filter per SSTable.
func DefaultOptions(dir string) Options {
	return Options{
		Dir:              dir,
		MaxMemtableBytes: 2 * 1024 * 1024,
		BloomCapacity:    10240,
	}
}

// Store is the top-level embedded engine. All operations are
// synchronous and assume a single logical caller at a time; the mutex
// guards against a caller sharing one Store across goroutines without
// serializing its own calls, not against genuine concurrent mutation.
type Store struct {
	mu sync.RWMutex

	opts    Options
	mem     *memtable.MemTable
	levels  map[int][]*sstable.SSTable
	counter uint64

	listenersMu sync.Mutex
	listeners   map[chan CompactionEvent]struct{}
}

// CompactionEvent describes one level-to-level compaction step, emitted
// to every subscriber registered via Subscribe.
type CompactionEvent struct {
	Level        int
	NextLevel    int
	VictimCount  int
	OverlapCount int
	Produced     int
}

// Subscribe registers a listener for compaction events. The returned
// channel is closed, and the subscription removed, by the cancel
// function. Listeners that fail to keep up have events dropped rather
// than blocking compaction.
func (s *Store) Subscribe() (<-chan CompactionEvent, func()) {
	ch := make(chan CompactionEvent, 16)

	s.listenersMu.Lock()
	if s.listeners == nil {
		s.listeners = make(map[chan CompactionEvent]struct{})
	}
	s.listeners[ch] = struct{}{}
	s.listenersMu.Unlock()

	cancel := func() {
		s.listenersMu.Lock()
		if _, ok := s.listeners[ch]; ok {
			delete(s.listeners, ch)
			close(ch)
		}
		s.listenersMu.Unlock()
	}
	return ch, cancel
}

func (s *Store) emit(ev CompactionEvent) {
	s.listenersMu.Lock()
	defer s.listenersMu.Unlock()
	for ch := range s.listeners {
		select {
		case ch <- ev:
		default:
		}
	}
}

// Open opens (creating if necessary) the store rooted at opts.Dir,
// rebuilding its level structure from whatever SSTables are already on
// disk and re-deriving the global timestamp counter from the maximum
// timestamp observed among them.
func Open(opts Options) (*Store, error) {
	if err := fsutil.Mkdir(opts.Dir); err != nil {
		return nil, fmt.Errorf("store: open: %w", err)
	}

	s := &Store{
		opts:    opts,
		mem:     memtable.New(),
		levels:  make(map[int][]*sstable.SSTable),
		counter: 1,
	}

	var maxTS uint64
	for level := 0; ; level++ {
		dir := s.levelDir(level)
		if !fsutil.DirExists(dir) {
			break
		}
		names, err := fsutil.ScanDir(dir)
		if err != nil {
			return nil, fmt.Errorf("store: open: %w", err)
		}
		for _, name := range names {
			sst, err := sstable.Open(filepath.Join(dir, name))
			if err != nil {
				return nil, fmt.Errorf("store: open: %w", err)
			}
			s.levels[level] = append(s.levels[level], sst)
			if sst.Timestamp() > maxTS {
				maxTS = sst.Timestamp()
			}
		}
	}
	if maxTS > 0 {
		s.counter = maxTS + 1
	}

	storelog.Storef("opened %s with %d levels", opts.Dir, len(s.levels))
	return s, nil
}

func (s *Store) levelDir(level int) string {
	return filepath.Join(s.opts.Dir, fmt.Sprintf("Level%d", level))
}

func (s *Store) nextTimestamp() uint64 {
	ts := s.counter
	s.counter++
	return ts
}

// Put inserts or overwrites key with value. value must not equal the
// tombstone sentinel.
func (s *Store) Put(key uint64, value []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if memtable.IsTombstone(value) {
		return ErrReservedValue
	}
	return s.putInternal(key, value)
}

// putInternal performs the flush-then-insert dance without the
// reserved-value guard, so Del can route a tombstone through the same
// path.
func (s *Store) putInternal(key uint64, value []byte) error {
	if s.mem.WouldOverflow(key, value, s.opts.MaxMemtableBytes) {
		if err := s.flushMemtable(); err != nil {
			return err
		}
	}
	s.mem.Put(key, value)
	return nil
}

// flushMemtable writes the current memtable to a new level-0 SSTable,
// runs the compaction cascade that flush may trigger, and resets the
// memtable for new writes.
func (s *Store) flushMemtable() error {
	if s.mem.NodeCount() == 0 {
		return nil
	}

	dir := s.levelDir(0)
	if err := fsutil.Mkdir(dir); err != nil {
		return fmt.Errorf("store: flush: %w", err)
	}

	ts := s.nextTimestamp()
	path := filepath.Join(dir, fmt.Sprintf("sstable%d.sst", ts))
	sst, err := sstable.Flush(s.mem, ts, path)
	if err != nil {
		return fmt.Errorf("store: flush: %w", err)
	}
	s.levels[0] = append(s.levels[0], sst)
	storelog.Flushf("level 0 gained %s (%d entries)", path, sst.EntryCount())

	s.mem.Reset()

	return s.maybeCompact(0)
}

// maybeCompact cascades a compaction starting at level, continuing into
// level+1, level+2, ... for as long as each level remains over capacity
// after the previous compaction lands.
func (s *Store) maybeCompact(level int) error {
	for len(s.levels[level]) > compaction.Capacity(level) {
		victims := compaction.SelectVictims(level, s.levels[level])
		if len(victims) == 0 {
			break
		}

		nextLevel := level + 1
		nextDir := s.levelDir(nextLevel)
		isNewLevel := !fsutil.DirExists(nextDir)

		minKey, maxKey := compaction.KeyRange(victims)
		overlap := compaction.SelectOverlap(s.levels[nextLevel], minKey, maxKey)

		inputs := make([]*sstable.SSTable, 0, len(victims)+len(overlap))
		inputs = append(inputs, victims...)
		inputs = append(inputs, overlap...)
		outTimestamp := compaction.MaxTimestamp(inputs)

		if err := fsutil.Mkdir(nextDir); err != nil {
			return fmt.Errorf("store: compact: %w", err)
		}

		nextPath := func() string {
			ts := s.nextTimestamp()
			return filepath.Join(nextDir, fmt.Sprintf("sstable%d.sst", ts))
		}

		storelog.Compactf("level %d -> %d: %d victims, %d overlapping", level, nextLevel, len(victims), len(overlap))
		produced, err := compaction.Merge(inputs, isNewLevel, s.opts.MaxMemtableBytes, outTimestamp, nextPath)
		if err != nil {
			return fmt.Errorf("store: compact: %w", err)
		}

		s.levels[level] = subtract(s.levels[level], victims)
		s.levels[nextLevel] = subtract(s.levels[nextLevel], overlap)
		for _, t := range inputs {
			if err := t.Delete(); err != nil {
				return fmt.Errorf("store: compact: %w", err)
			}
		}
		s.levels[nextLevel] = append(s.levels[nextLevel], produced...)
		storelog.Compactf("level %d now has %d tables, level %d now has %d", level, len(s.levels[level]), nextLevel, len(s.levels[nextLevel]))
		s.emit(CompactionEvent{
			Level:        level,
			NextLevel:    nextLevel,
			VictimCount:  len(victims),
			OverlapCount: len(overlap),
			Produced:     len(produced),
		})

		level = nextLevel
	}
	return nil
}

// subtract returns tables with every entry of remove excluded, by
// identity.
func subtract(tables, remove []*sstable.SSTable) []*sstable.SSTable {
	if len(remove) == 0 {
		return tables
	}
	dead := make(map[*sstable.SSTable]bool, len(remove))
	for _, t := range remove {
		dead[t] = true
	}
	out := tables[:0:0]
	for _, t := range tables {
		if !dead[t] {
			out = append(out, t)
		}
	}
	return out
}

// Get returns the value for key, favoring the memtable, then SSTables
// ordered newest-timestamp first. The second return reports presence;
// a tombstoned key (live or compacted-but-not-dropped) reports absent.
func (s *Store) Get(key uint64) ([]byte, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if v, ok := s.mem.Get(key); ok {
		return v, true, nil
	}
	if s.mem.IsDeleted(key) {
		return nil, false, nil
	}

	var (
		best      []byte
		bestTS    uint64
		bestFound bool
	)
	for _, tables := range s.levels {
		for _, t := range tables {
			v, found, tomb, err := t.Get(key)
			if err != nil {
				return nil, false, fmt.Errorf("store: get: %w", err)
			}
			if !found {
				continue
			}
			if !bestFound || t.Timestamp() > bestTS {
				bestFound = true
				bestTS = t.Timestamp()
				if tomb {
					best = nil
				} else {
					best = v
				}
			}
		}
	}
	if !bestFound || best == nil {
		return nil, false, nil
	}
	return best, true, nil
}

// Del removes key if present, returning whether it was present. A live
// memtable entry is tombstoned in place; a key only present on disk is
// tombstoned via a fresh Put so the deletion is itself durable once
// flushed.
func (s *Store) Del(key uint64) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.mem.Get(key); ok {
		s.mem.Del(key)
		return true, nil
	}
	if s.mem.IsDeleted(key) {
		return false, nil
	}

	found, err := s.existsOnDisk(key)
	if err != nil {
		return false, err
	}
	if !found {
		return false, nil
	}

	if err := s.putInternal(key, []byte(memtable.Tombstone)); err != nil {
		return false, err
	}
	return true, nil
}

func (s *Store) existsOnDisk(key uint64) (bool, error) {
	var (
		bestTS    uint64
		bestFound bool
		bestTomb  bool
	)
	for _, tables := range s.levels {
		for _, t := range tables {
			_, found, tomb, err := t.Get(key)
			if err != nil {
				return false, fmt.Errorf("store: del: %w", err)
			}
			if !found {
				continue
			}
			if !bestFound || t.Timestamp() > bestTS {
				bestFound = true
				bestTS = t.Timestamp()
				bestTomb = tomb
			}
		}
	}
	return bestFound && !bestTomb, nil
}

// Scan returns every live key in [k1, k2], ascending, merging the
// memtable's view with every overlapping on-disk SSTable. Tombstones
// are dropped from the result; on a tie between the memtable and disk
// the memtable wins, since it is always at least as recent.
func (s *Store) Scan(k1, k2 uint64) ([]memtable.Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if k1 > k2 {
		return nil, ErrInvalidRange
	}

	listA := s.mem.Scan(k1, k2)

	var overlapping []*sstable.SSTable
	for _, tables := range s.levels {
		for _, t := range tables {
			if t.Overlaps(k1, k2) {
				overlapping = append(overlapping, t)
			}
		}
	}
	sstable.SortByTimestamp(overlapping)

	diskMem := memtable.New()
	for _, t := range overlapping {
		entries, err := t.ReadAll()
		if err != nil {
			return nil, fmt.Errorf("store: scan: %w", err)
		}
		for _, e := range entries {
			if e.Key < k1 || e.Key > k2 {
				continue
			}
			diskMem.Put(e.Key, e.Value)
		}
	}
	var listB []memtable.Entry
	for _, e := range diskMem.Scan(k1, k2) {
		if !memtable.IsTombstone(e.Value) {
			listB = append(listB, e)
		}
	}

	return mergeAscending(listA, listB), nil
}

// mergeAscending merges a (which may contain tombstones) and b (which
// never does) into one ascending, tombstone-free sequence, preferring a
// on key collisions.
func mergeAscending(a, b []memtable.Entry) []memtable.Entry {
	out := make([]memtable.Entry, 0, len(a)+len(b))
	i, j := 0, 0
	for i < len(a) && j < len(b) {
		switch {
		case a[i].Key < b[j].Key:
			if !memtable.IsTombstone(a[i].Value) {
				out = append(out, a[i])
			}
			i++
		case a[i].Key > b[j].Key:
			out = append(out, b[j])
			j++
		default:
			if !memtable.IsTombstone(a[i].Value) {
				out = append(out, a[i])
			}
			i++
			j++
		}
	}
	for ; i < len(a); i++ {
		if !memtable.IsTombstone(a[i].Value) {
			out = append(out, a[i])
		}
	}
	out = append(out, b[j:]...)
	return out
}

// Reset tears down all stored data: the memtable is cleared and every
// SSTable across every level is deleted along with its now-empty level
// directory. The global timestamp counter is left untouched so that any
// data written afterward still receives strictly increasing timestamps.
// The store remains open and usable immediately afterward.
func (s *Store) Reset() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.mem.Reset()

	levelNums := make([]int, 0, len(s.levels))
	for level := range s.levels {
		levelNums = append(levelNums, level)
	}
	sort.Ints(levelNums)

	for _, level := range levelNums {
		for _, t := range s.levels[level] {
			if err := t.Delete(); err != nil {
				return fmt.Errorf("store: reset: %w", err)
			}
		}
		if err := fsutil.RemoveDir(s.levelDir(level)); err != nil {
			return fmt.Errorf("store: reset: %w", err)
		}
	}
	s.levels = make(map[int][]*sstable.SSTable)

	storelog.Storef("reset %s", s.opts.Dir)
	return nil
}

// Stats reports a snapshot of the store's resource usage, intended for
// operational introspection.
type Stats struct {
	MemtableEntries int
	MemtableBytes   uint64
	LevelTables     map[int]int
}

// Stats returns a point-in-time snapshot of table counts per level and
// memtable usage.
func (s *Store) Stats() Stats {
	s.mu.RLock()
	defer s.mu.RUnlock()

	levelTables := make(map[int]int, len(s.levels))
	for level, tables := range s.levels {
		levelTables[level] = len(tables)
	}
	return Stats{
		MemtableEntries: s.mem.NodeCount(),
		MemtableBytes:   s.mem.ByteSize(),
		LevelTables:     levelTables,
	}
}

// Close flushes any resident memtable contents to disk so they are not
// silently dropped, then releases the store. A Store need not be closed
// before the process exits if its memtable is already empty.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.flushMemtable()
}

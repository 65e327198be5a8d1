// Package sstable implements the immutable on-disk sorted-string table:
// a fixed 32-byte header, a 10240-byte bloom filter, a sparse
// key->offset directory, and the concatenated value bytes. The fixed
// header-then-directory layout is what makes the binary-search lookup
// below possible without an auxiliary index scan.
package sstable

import (
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"sort"

	"github.com/mnohosten/kvstore-lsm/internal/bloom"
	"github.com/mnohosten/kvstore-lsm/internal/memtable"
)

const (
	// HeaderSize is the fixed byte size of the on-disk header:
	// timeStamp | entryCount | minKey | maxKey, each a little-endian u64.
	HeaderSize = 32

	// dirEntrySize is the on-disk size of one directory record:
	// key (u64) + offset (u32).
	dirEntrySize = 12
)

// header is the on-disk SSTable header.
type header struct {
	TimeStamp  uint64
	EntryCount uint64
	MinKey     uint64
	MaxKey     uint64
}

func (h header) write(w io.Writer) error {
	var buf [HeaderSize]byte
	binary.LittleEndian.PutUint64(buf[0:8], h.TimeStamp)
	binary.LittleEndian.PutUint64(buf[8:16], h.EntryCount)
	binary.LittleEndian.PutUint64(buf[16:24], h.MinKey)
	binary.LittleEndian.PutUint64(buf[24:32], h.MaxKey)
	_, err := w.Write(buf[:])
	return err
}

func readHeader(r io.Reader) (header, error) {
	var buf [HeaderSize]byte
	if _, err := io.ReadFull(r, buf[:]); err != nil {
		return header{}, err
	}
	return header{
		TimeStamp:  binary.LittleEndian.Uint64(buf[0:8]),
		EntryCount: binary.LittleEndian.Uint64(buf[8:16]),
		MinKey:     binary.LittleEndian.Uint64(buf[16:24]),
		MaxKey:     binary.LittleEndian.Uint64(buf[24:32]),
	}, nil
}

// dirEntry is one sparse-directory record.
type dirEntry struct {
	Key    uint64
	Offset uint32
}

// SSTable is the in-memory cache for one on-disk table: header, bloom
// filter, directory, and path. Value bytes live solely on disk.
type SSTable struct {
	path   string
	hdr    header
	filter *bloom.Filter
	dir    []dirEntry
}

// Path returns the backing file path.
func (s *SSTable) Path() string { return s.path }

// Timestamp returns the table's assigned timestamp.
func (s *SSTable) Timestamp() uint64 { return s.hdr.TimeStamp }

// EntryCount returns the number of entries in the table.
func (s *SSTable) EntryCount() uint64 { return s.hdr.EntryCount }

// MinKey and MaxKey return the table's key range, inclusive.
func (s *SSTable) MinKey() uint64 { return s.hdr.MinKey }
func (s *SSTable) MaxKey() uint64 { return s.hdr.MaxKey }

// Overlaps reports whether [minKey, maxKey] overlaps this table's range.
// Two ranges overlap iff neither is wholly below nor wholly above the
// other.
func (s *SSTable) Overlaps(minKey, maxKey uint64) bool {
	return !(s.hdr.MaxKey < minKey || s.hdr.MinKey > maxKey)
}

// Flush writes mt's full contents (ascending, tombstones included) to a
// new SSTable at path, stamped with timestamp. It is the sole
// construction path for a non-empty table; callers must not call it with
// an empty memtable.
func Flush(mt *memtable.MemTable, timestamp uint64, path string) (*SSTable, error) {
	entries := mt.All()
	n := len(entries)
	if n == 0 {
		return nil, fmt.Errorf("sstable: cannot flush an empty memtable")
	}

	baseOffset := int64(HeaderSize) + int64(bloom.Capacity) + int64(n)*dirEntrySize

	filter := bloom.New()
	dir := make([]dirEntry, n)
	running := baseOffset
	for i, e := range entries {
		filter.Insert(e.Key)
		dir[i] = dirEntry{Key: e.Key, Offset: uint32(running)}
		running += int64(len(e.Value))
	}

	hdr := header{
		TimeStamp:  timestamp,
		EntryCount: uint64(n),
		MinKey:     entries[0].Key,
		MaxKey:     entries[n-1].Key,
	}

	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("sstable: create %s: %w", path, err)
	}
	defer f.Close()

	if err := hdr.write(f); err != nil {
		return nil, fmt.Errorf("sstable: write header: %w", err)
	}
	if _, err := f.Write(filter.Bytes()); err != nil {
		return nil, fmt.Errorf("sstable: write filter: %w", err)
	}
	for _, d := range dir {
		var rec [dirEntrySize]byte
		binary.LittleEndian.PutUint64(rec[0:8], d.Key)
		binary.LittleEndian.PutUint32(rec[8:12], d.Offset)
		if _, err := f.Write(rec[:]); err != nil {
			return nil, fmt.Errorf("sstable: write directory: %w", err)
		}
	}
	for _, e := range entries {
		if _, err := f.Write(e.Value); err != nil {
			return nil, fmt.Errorf("sstable: write values: %w", err)
		}
	}

	return &SSTable{path: path, hdr: hdr, filter: filter, dir: dir}, nil
}

// Open loads an existing SSTable's header, filter, and directory into
// memory. Value bytes are left on disk and read lazily by Get/ReadAll.
func Open(path string) (*SSTable, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("sstable: open %s: %w", path, err)
	}
	defer f.Close()

	hdr, err := readHeader(f)
	if err != nil {
		return nil, fmt.Errorf("sstable: read header: %w", err)
	}

	filterBuf := make([]byte, bloom.Capacity)
	if _, err := io.ReadFull(f, filterBuf); err != nil {
		return nil, fmt.Errorf("sstable: read filter: %w", err)
	}

	dir := make([]dirEntry, hdr.EntryCount)
	for i := range dir {
		var rec [dirEntrySize]byte
		if _, err := io.ReadFull(f, rec[:]); err != nil {
			return nil, fmt.Errorf("sstable: read directory: %w", err)
		}
		dir[i] = dirEntry{
			Key:    binary.LittleEndian.Uint64(rec[0:8]),
			Offset: binary.LittleEndian.Uint32(rec[8:12]),
		}
	}

	return &SSTable{
		path:   path,
		hdr:    hdr,
		filter: bloom.FromBytes(filterBuf),
		dir:    dir,
	}, nil
}

// search returns the directory index of key, or -1 if absent.
func (s *SSTable) search(key uint64) int {
	lo, hi := 0, len(s.dir)-1
	for lo <= hi {
		mid := (lo + hi) / 2
		switch {
		case s.dir[mid].Key == key:
			return mid
		case s.dir[mid].Key < key:
			lo = mid + 1
		default:
			hi = mid - 1
		}
	}
	return -1
}

func (s *SSTable) valueLen(idx int, fileSize int64) int64 {
	if idx == len(s.dir)-1 {
		return fileSize - int64(s.dir[idx].Offset)
	}
	return int64(s.dir[idx+1].Offset) - int64(s.dir[idx].Offset)
}

// Get looks up key, reporting whether it was found and, separately,
// whether the found value is the tombstone sentinel — the store
// distinguishes "absent" from "tombstoned" using this second flag.
func (s *SSTable) Get(key uint64) (value []byte, found bool, tombstoned bool, err error) {
	if key < s.hdr.MinKey || key > s.hdr.MaxKey {
		return nil, false, false, nil
	}
	if !s.filter.Contains(key) {
		return nil, false, false, nil
	}

	idx := s.search(key)
	if idx == -1 {
		return nil, false, false, nil
	}

	f, err := os.Open(s.path)
	if err != nil {
		return nil, false, false, fmt.Errorf("sstable: open %s: %w", s.path, err)
	}
	defer f.Close()

	stat, err := f.Stat()
	if err != nil {
		return nil, false, false, fmt.Errorf("sstable: stat %s: %w", s.path, err)
	}

	length := s.valueLen(idx, stat.Size())
	buf := make([]byte, length)
	if _, err := f.ReadAt(buf, int64(s.dir[idx].Offset)); err != nil {
		return nil, false, false, fmt.Errorf("sstable: read value: %w", err)
	}

	return buf, true, memtable.IsTombstone(buf), nil
}

// ReadAll loads every entry in the table, ascending by key, as plain
// key/value pairs (callers take the timestamp from Timestamp) — used by
// compaction's k-way merge and by Store.Scan's SSTable loading path.
func (s *SSTable) ReadAll() ([]memtable.Entry, error) {
	if len(s.dir) == 0 {
		return nil, nil
	}

	f, err := os.Open(s.path)
	if err != nil {
		return nil, fmt.Errorf("sstable: open %s: %w", s.path, err)
	}
	defer f.Close()

	stat, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("sstable: stat %s: %w", s.path, err)
	}

	valuesStart := int64(s.dir[0].Offset)
	buf := make([]byte, stat.Size()-valuesStart)
	if _, err := f.ReadAt(buf, valuesStart); err != nil {
		return nil, fmt.Errorf("sstable: read values: %w", err)
	}

	out := make([]memtable.Entry, len(s.dir))
	for i, d := range s.dir {
		start := int64(d.Offset) - valuesStart
		end := stat.Size() - valuesStart
		if i+1 < len(s.dir) {
			end = int64(s.dir[i+1].Offset) - valuesStart
		}
		value := make([]byte, end-start)
		copy(value, buf[start:end])
		out[i] = memtable.Entry{Key: d.Key, Value: value}
	}
	return out, nil
}

// Delete unlinks the backing file. Destroying an SSTable always removes
// its file from disk.
func (s *SSTable) Delete() error {
	if err := os.Remove(s.path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("sstable: remove %s: %w", s.path, err)
	}
	return nil
}

// SortByTimestamp sorts tables ascending by timestamp, ties broken by
// smaller minKey — the order Store.Scan loads overlapping tables in, so
// the newest overwrites the oldest in the temporary merge memtable.
func SortByTimestamp(tables []*SSTable) {
	sort.Slice(tables, func(i, j int) bool {
		if tables[i].hdr.TimeStamp != tables[j].hdr.TimeStamp {
			return tables[i].hdr.TimeStamp < tables[j].hdr.TimeStamp
		}
		return tables[i].hdr.MinKey < tables[j].hdr.MinKey
	})
}

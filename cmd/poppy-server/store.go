// store.go implements the sharded filter registry and its binary snapshot
// format. The other half of the persistence layer (journal replay and
// compaction) lives in persistence.go.
//
// Every key maps to a *bloom.Shared handle. The registry owns one reference
// per key. Readers that work outside the shard lock (BF.DUMP, BF.SAVE,
// snapshots) take their own reference with Get and Release it when done, so
// DEL and BF.LOAD can drop a key while a slow client is still serializing
// the old filter.
//
// Mutations run a callback under the shard lock. Handlers journal from that
// callback, which keeps the journal order of commands on one key equal to
// the order they were applied in.
//
// Sharding Strategy
// =================
//
// Keys are spread over 256 shards by xxHash64. A shard lock protects the
// key -> handle map. Filters are guarded by their own handle mutex, and
// adds to existing keys hold the shard lock only in shared mode, so clients
// hitting different keys of one shard do not serialize.
//
// The Binary Format (PPY1)
// ========================
//
//	+--------+-----------+-----------+     +-----+-----------+
//	| Header | Shard 0   | Shard 7   | ... | EOF | Checksum  |
//	+--------+-----------+-----------+     +-----+-----------+
//	 4 bytes   variable    variable         1 B    8 bytes
//
// Shard Blocks:
//
//	+--------+----------+-------+------+-----+-------+------+--------+-----+
//	| OpCode | Shard ID | Count | KLen | Key | Flags | VLen | Record | ... |
//	+--------+----------+-------+------+-----+-------+------+--------+-----+
//	  1 byte   1 byte    4 bytes 4 B    var   1 byte  4 B    var
//
//	Record: a filter record as produced by bloom.Filter.WriteTo.
//	Flags:  bit 0 set when the record is zstd-compressed.
//
// The checksum is a CRC64 (ISO) over every preceding byte. The EOF opcode lets
// a hybrid journal carry RESP text right after the binary section.

package main

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"hash/crc64"
	"io"
	"sync"

	"github.com/cespare/xxhash/v2"
	"github.com/klauspost/compress/zstd"

	"poppy.lopezb.com/internal/bloom"
)

const persistenceMagic = "PPY1"

const shardCount = 256

const (
	OpCodeShardData = 0xFE
	OpCodeEOF       = 0xFF
)

const (
	flagCompressed = 1 << 0

	// defaultCompressMin is the record size from which snapshot entries are
	// zstd-compressed.
	defaultCompressMin = 4096

	// maxRecordSize bounds a single snapshot entry (512MB, the RESP bulk limit).
	maxRecordSize = MaxBulkLength
)

var errKeyExists = errors.New("item exists")

var (
	encPool = sync.Pool{
		New: func() any {
			enc, _ := zstd.NewWriter(nil)
			return enc
		},
	}
	decPool = sync.Pool{
		New: func() any {
			dec, _ := zstd.NewReader(nil)
			return dec
		},
	}
)

// Shard is one slice of the registry with its own lock.
type Shard struct {
	mu      sync.RWMutex
	filters map[string]*bloom.Shared
}

// Store holds the shards.
type Store struct {
	shards [shardCount]*Shard

	// compressMin is the record size from which snapshots compress entries.
	// Zero disables compression.
	compressMin int
}

// NewStore creates an empty registry.
func NewStore() *Store {
	s := &Store{compressMin: defaultCompressMin}
	for i := 0; i < shardCount; i++ {
		s.shards[i] = &Shard{filters: make(map[string]*bloom.Shared)}
	}
	return s
}

func (s *Store) getShardIndex(key string) int {
	return int(xxhash.Sum64String(key) % shardCount)
}

func (s *Store) getShard(key string) *Shard {
	return s.shards[s.getShardIndex(key)]
}

// Get returns a retained handle for key. The caller must Release it.
func (s *Store) Get(key string) (*bloom.Shared, bool) {
	shard := s.getShard(key)
	shard.mu.RLock()
	defer shard.mu.RUnlock()

	h, ok := shard.filters[key]
	if !ok {
		return nil, false
	}
	return h.Retain(), true
}

// Reserve creates an empty filter from p under key and runs then while the
// shard is still locked. It fails with errKeyExists if the key is taken.
func (s *Store) Reserve(key string, p bloom.Params, then func()) error {
	f, err := bloom.FromParams(p)
	if err != nil {
		return err
	}

	shard := s.getShard(key)
	shard.mu.Lock()
	defer shard.mu.Unlock()

	if _, ok := shard.filters[key]; ok {
		return errKeyExists
	}
	shard.filters[key] = bloom.NewShared(f)
	if then != nil {
		then()
	}
	return nil
}

// Update runs fn on the filter under key, creating an empty one from p
// first when the key does not exist. created tells fn which case it is in.
//
// fn runs under the shard lock (shared for an existing key, exclusive for a
// new one), so a DEL or a replacing load of the same key cannot slip in
// between the mutation and whatever fn journals.
func (s *Store) Update(key string, p bloom.Params, fn func(h *bloom.Shared, created bool)) error {
	shard := s.getShard(key)

	shard.mu.RLock()
	if h, ok := shard.filters[key]; ok {
		fn(h, false)
		shard.mu.RUnlock()
		return nil
	}
	shard.mu.RUnlock()

	f, err := bloom.FromParams(p)
	if err != nil {
		return err
	}

	shard.mu.Lock()
	defer shard.mu.Unlock()

	// Someone may have created it while we were unlocked.
	if h, ok := shard.filters[key]; ok {
		fn(h, false)
		return nil
	}
	h := bloom.NewShared(f)
	shard.filters[key] = h
	fn(h, true)
	return nil
}

// Put installs f under key and runs then under the shard lock. The
// registry's reference to any filter previously stored there is released.
func (s *Store) Put(key string, f *bloom.Filter, then func()) {
	shard := s.getShard(key)
	shard.mu.Lock()
	old := shard.filters[key]
	shard.filters[key] = bloom.NewShared(f)
	if then != nil {
		then()
	}
	shard.mu.Unlock()

	if old != nil {
		old.Release()
	}
}

// Delete removes key and drops the registry's reference to its filter.
// then runs under the shard lock when the key existed. Returns true if the
// key existed.
func (s *Store) Delete(key string, then func()) bool {
	shard := s.getShard(key)
	shard.mu.Lock()
	h, ok := shard.filters[key]
	if ok {
		delete(shard.filters, key)
		if then != nil {
			then()
		}
	}
	shard.mu.Unlock()

	if ok {
		h.Release()
	}
	return ok
}

// Exists reports whether key holds a filter.
func (s *Store) Exists(key string) bool {
	shard := s.getShard(key)
	shard.mu.RLock()
	defer shard.mu.RUnlock()
	_, ok := shard.filters[key]
	return ok
}

// Len returns the number of keys.
func (s *Store) Len() int {
	n := 0
	for _, shard := range s.shards {
		shard.mu.RLock()
		n += len(shard.filters)
		shard.mu.RUnlock()
	}
	return n
}

type snapshotEntry struct {
	key    string
	handle *bloom.Shared
}

// SaveSnapshotToWriter writes every filter to w in the PPY1 format.
func (s *Store) SaveSnapshotToWriter(w io.Writer) error {
	//
	// DESIGN
	// ------
	//
	// For each shard we take the read lock just long enough to retain every
	// handle, then serialize outside the shard lock. Each filter is frozen by
	// its own handle mutex while it is marshalled, so a snapshot never blocks
	// more than one filter at a time and a concurrent DEL cannot free a
	// filter we still hold.
	//
	// The output goes through a MultiWriter feeding a CRC64 hasher so the
	// checksum needs no second pass.
	//
	checksum := crc64.New(crc64.MakeTable(crc64.ISO))
	bw := bufio.NewWriter(io.MultiWriter(w, checksum))

	if _, err := bw.WriteString(persistenceMagic); err != nil {
		return err
	}

	var block bytes.Buffer
	var lenBuf [4]byte

	for i := 0; i < shardCount; i++ {
		shard := s.shards[i]

		shard.mu.RLock()
		entries := make([]snapshotEntry, 0, len(shard.filters))
		for k, h := range shard.filters {
			entries = append(entries, snapshotEntry{key: k, handle: h.Retain()})
		}
		shard.mu.RUnlock()

		if len(entries) == 0 {
			continue
		}

		block.Reset()
		block.WriteByte(OpCodeShardData)
		block.WriteByte(byte(i))
		binary.LittleEndian.PutUint32(lenBuf[:], uint32(len(entries)))
		block.Write(lenBuf[:])

		var encodeErr error
		for _, e := range entries {
			if encodeErr == nil {
				encodeErr = s.appendEntry(&block, e)
			}
			e.handle.Release()
		}
		if encodeErr != nil {
			return encodeErr
		}

		if _, err := block.WriteTo(bw); err != nil {
			return err
		}
	}

	if err := bw.WriteByte(OpCodeEOF); err != nil {
		return err
	}
	if err := bw.Flush(); err != nil {
		return err
	}

	// Straight to w: the checksum does not cover itself.
	return binary.Write(w, binary.LittleEndian, checksum.Sum64())
}

func (s *Store) appendEntry(block *bytes.Buffer, e snapshotEntry) error {
	record, err := e.handle.MarshalBinary()
	if err != nil {
		return fmt.Errorf("snapshot %q: %w", e.key, err)
	}

	var flags byte
	if s.compressMin > 0 && len(record) >= s.compressMin {
		enc := encPool.Get().(*zstd.Encoder)
		record = enc.EncodeAll(record, nil)
		encPool.Put(enc)
		flags |= flagCompressed
	}

	var lenBuf [4]byte
	binary.LittleEndian.PutUint32(lenBuf[:], uint32(len(e.key)))
	block.Write(lenBuf[:])
	block.WriteString(e.key)
	block.WriteByte(flags)
	binary.LittleEndian.PutUint32(lenBuf[:], uint32(len(record)))
	block.Write(lenBuf[:])
	block.Write(record)
	return nil
}

// LoadSnapshotFromReader restores filters from PPY1 data. It consumes exactly
// the binary section (up to and including the checksum) and leaves r
// positioned at whatever follows, typically the RESP tail of a hybrid journal.
func (s *Store) LoadSnapshotFromReader(r *bufio.Reader) error {
	//
	// DESIGN
	// ------
	//
	// The shard ID stored with each block is trusted: entries go straight
	// into s.shards[id] without rehashing the key. A corrupted ID would only
	// misplace keys, and corruption is caught by the checksum before the
	// server starts serving.
	//
	// Record lengths come from the stream, so records are read through
	// io.CopyN into a growing buffer rather than allocated up front.
	//
	header := make([]byte, len(persistenceMagic))
	if _, err := io.ReadFull(r, header); err != nil {
		return err
	}
	if string(header) != persistenceMagic {
		return errors.New("invalid snapshot header")
	}

	hasher := crc64.New(crc64.MakeTable(crc64.ISO))
	hasher.Write(header)
	tr := io.TeeReader(r, hasher)

	var lenBuf [4]byte
	readLen := func() (uint32, error) {
		if _, err := io.ReadFull(tr, lenBuf[:]); err != nil {
			return 0, err
		}
		return binary.LittleEndian.Uint32(lenBuf[:]), nil
	}
	readByte := func() (byte, error) {
		var b [1]byte
		_, err := io.ReadFull(tr, b[:])
		return b[0], err
	}

	for {
		opcode, err := readByte()
		if err != nil {
			return err
		}
		if opcode == OpCodeEOF {
			break
		}
		if opcode != OpCodeShardData {
			return fmt.Errorf("snapshot stream corruption: unexpected opcode %x", opcode)
		}

		shardID, err := readByte()
		if err != nil {
			return err
		}
		shard := s.shards[int(shardID)]

		count, err := readLen()
		if err != nil {
			return err
		}

		for i := uint32(0); i < count; i++ {
			kLen, err := readLen()
			if err != nil {
				return err
			}
			if kLen > MaxBulkLength {
				return fmt.Errorf("snapshot stream corruption: key length %d", kLen)
			}
			var key bytes.Buffer
			if _, err := io.CopyN(&key, tr, int64(kLen)); err != nil {
				return unexpected(err)
			}

			flags, err := readByte()
			if err != nil {
				return err
			}

			vLen, err := readLen()
			if err != nil {
				return err
			}
			if vLen > maxRecordSize {
				return fmt.Errorf("snapshot stream corruption: record length %d", vLen)
			}
			var record bytes.Buffer
			if _, err := io.CopyN(&record, tr, int64(vLen)); err != nil {
				return unexpected(err)
			}

			f, err := decodeRecord(record.Bytes(), flags)
			if err != nil {
				return fmt.Errorf("snapshot key %q: %w", key.String(), err)
			}

			// Direct insertion, no rehash.
			if old, ok := shard.filters[key.String()]; ok {
				old.Release()
			}
			shard.filters[key.String()] = bloom.NewShared(f)
		}
	}

	var stored [8]byte
	if _, err := io.ReadFull(r, stored[:]); err != nil {
		return unexpected(err)
	}
	if binary.LittleEndian.Uint64(stored[:]) != hasher.Sum64() {
		return errors.New("snapshot corruption: checksum mismatch")
	}
	return nil
}

func decodeRecord(record []byte, flags byte) (*bloom.Filter, error) {
	if flags&flagCompressed != 0 {
		dec := decPool.Get().(*zstd.Decoder)
		raw, err := dec.DecodeAll(record, nil)
		decPool.Put(dec)
		if err != nil {
			return nil, err
		}
		record = raw
	}

	f := new(bloom.Filter)
	if err := f.UnmarshalBinary(record); err != nil {
		return nil, err
	}
	return f, nil
}

// unexpected turns a clean EOF in the middle of a structure into
// io.ErrUnexpectedEOF.
func unexpected(err error) error {
	if err == io.EOF {
		return io.ErrUnexpectedEOF
	}
	return err
}

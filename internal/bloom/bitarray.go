package bloom

import (
	"encoding/binary"
	"fmt"

	"github.com/bits-and-blooms/bitset"
)

// bitArray is a fixed-length bit array of m bits.
//
// The words live in a bitset.BitSet (bit i is bit i%64 of word i/64), so the
// little-endian encoding of the words is exactly the record layout: bit i at
// byte i/8, bit i%8. The population count is tracked incrementally because
// scalable filters consult it on every insert.
type bitArray struct {
	bits *bitset.BitSet
	m    uint64
	ones uint64
}

func newBitArray(m uint64) *bitArray {
	return &bitArray{bits: bitset.New(uint(m)), m: m}
}

// bitArrayFromBytes rebuilds an array of m bits from its packed form.
// Padding bits past m in the last byte are cleared.
func bitArrayFromBytes(m uint64, data []byte) (*bitArray, error) {
	if uint64(len(data)) != packedLen(m) {
		return nil, fmt.Errorf("%w: bit data is %d bytes, want %d", ErrCorruptFormat, len(data), packedLen(m))
	}

	words := make([]uint64, (m+63)/64)
	var tail [8]byte
	for i := range words {
		off := i * 8
		if off+8 <= len(data) {
			words[i] = binary.LittleEndian.Uint64(data[off:])
			continue
		}
		clear(tail[:])
		copy(tail[:], data[off:])
		words[i] = binary.LittleEndian.Uint64(tail[:])
	}
	if rem := m % 64; rem != 0 {
		words[len(words)-1] &= (uint64(1) << rem) - 1
	}

	ba := &bitArray{bits: bitset.FromWithLength(uint(m), words), m: m}
	ba.ones = uint64(ba.bits.Count())
	return ba, nil
}

func packedLen(m uint64) uint64 {
	return (m + 7) / 8
}

func (b *bitArray) check(i uint64) {
	if i >= b.m {
		panic(fmt.Sprintf("bloom: bit index %d out of range [0, %d)", i, b.m))
	}
}

// Set sets bit i and reports whether it was previously clear.
func (b *bitArray) Set(i uint64) bool {
	b.check(i)
	if b.bits.Test(uint(i)) {
		return false
	}
	b.bits.Set(uint(i))
	b.ones++
	return true
}

func (b *bitArray) Get(i uint64) bool {
	b.check(i)
	return b.bits.Test(uint(i))
}

// CountSet returns the number of set bits.
func (b *bitArray) CountSet() uint64 {
	return b.ones
}

func (b *bitArray) Len() uint64 {
	return b.m
}

// Bytes returns the packed representation, ceil(m/8) bytes long.
func (b *bitArray) Bytes() []byte {
	return b.appendBytes(make([]byte, 0, packedLen(b.m)))
}

func (b *bitArray) appendBytes(dst []byte) []byte {
	n := packedLen(b.m)
	var word [8]byte
	for _, w := range b.bits.Words() {
		binary.LittleEndian.PutUint64(word[:], w)
		take := uint64(8)
		if n < take {
			take = n
		}
		dst = append(dst, word[:take]...)
		n -= take
		if n == 0 {
			break
		}
	}
	return dst
}

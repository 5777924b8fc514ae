package bloom

import (
	"github.com/cespare/xxhash/v2"
	"github.com/spaolacci/murmur3"
)

// digest holds the two base hashes of an element. It is computed once per
// operation and reused for every sub-filter, whatever its m and k.
type digest struct {
	h1, h2 uint64
}

// hashOf returns the digest of data under version v.
func hashOf(v Version, data []byte) digest {
	switch v {
	case V1:
		h1 := xxhash.Sum64(data)
		// Odd so that i*h2 does not collapse onto a few residues when m is
		// a power of two.
		return digest{h1: h1, h2: mix(h1) | 1}
	default:
		h1, h2 := murmur3.Sum128(data)
		return digest{h1: h1, h2: h2}
	}
}

// index returns the i-th bit position in an array of m bits:
//
//	(h1 + i*h2 + i*i) mod m
//
// computed with wrapping uint64 arithmetic (enhanced double hashing). The
// quadratic term keeps positions apart when h2 is a multiple of m.
func (d digest) index(i, m uint64) uint64 {
	return (d.h1 + i*d.h2 + i*i) % m
}

// appendPositions appends the k bit positions of d in an array of m bits.
func (d digest) appendPositions(dst []uint64, k uint32, m uint64) []uint64 {
	for i := uint64(0); i < uint64(k); i++ {
		dst = append(dst, d.index(i, m))
	}
	return dst
}

// mix scrambles a 64-bit integer to remove correlation using the SplitMix64
// finalizer (public domain). It derives the second V1 hash without reading
// the input bytes again.
func mix(x uint64) uint64 {
	x ^= x >> 30
	x *= 0xbf58476d1ce4e5b9
	x ^= x >> 27
	x *= 0x94d049bb133111eb
	x ^= x >> 31
	return x
}

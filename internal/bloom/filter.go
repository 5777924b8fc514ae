// Package bloom implements a versioned, serializable Bloom filter.
//
// A Bloom filter answers "possibly present" or "definitely absent" for
// arbitrary byte strings using a compact bit array. It never reports a false
// negative and its false-positive rate is bounded by the probability it was
// sized for, as long as the number of distinct insertions stays within its
// capacity.
//
// Two variants are provided:
//
//  1. Classic: a single bit array of m bits probed at k positions, with
//     m = ceil(-n ln(p) / ln(2)^2) and k = round(m/n ln(2)).
//
//  2. Scalable: a chain of sub-filters. When the newest sub-filter reaches
//     the fill ratio at which its own error budget is spent, a new one is
//     appended with GrowthFactor times the capacity and TighteningRatio times
//     the error budget. The budgets form a geometric series whose sum never
//     exceeds the configured probability.
//     [1] P. Almeida, C. Baquero, N. Preguica, D. Hutchison. "Scalable Bloom Filters".
//
// Hashing
// =======
//
// Every element is hashed once into two 64-bit values h1, h2 and the k probe
// positions are derived with enhanced double hashing:
//
//	pos(i) = (h1 + i*h2 + i*i) mod m
//
// The version tag selects where h1, h2 come from. V1 uses xxHash64 and a
// SplitMix64 scramble of it; V2 uses the two halves of MurmurHash3 x64 128.
// Filters of different versions are not interchangeable: the same element
// maps to different bits.
//
// Record Layout
// =============
//
// See codec.go. All integers are little endian.
//
//	+---------+-----+-----+----------+-----+------------------------+----------+
//	| Magic   | Ver | Var | Capacity | FPP | Body                   | Checksum |
//	| 8B      | 1B  | 1B  | 8B       | 8B  | classic or scalable    | 8B (V2)  |
//	+---------+-----+-----+----------+-----+------------------------+----------+
//
// A Filter is not safe for concurrent use. Wrap it in a Shared to share it
// between goroutines.
package bloom

import (
	"math"

	"github.com/mirkobrombin/go-foundation/pkg/options"
)

// Filter is a classic or scalable Bloom filter.
type Filter struct {
	params Params
	layers []*layer

	// inserted counts Insert calls that reported a new element. It is not
	// persisted; loaded filters seed it from the cardinality estimate.
	inserted uint64
}

// New builds an empty filter sized for capacity elements at false-positive
// probability fpp. Without options it is a classic filter of DefaultVersion.
func New(capacity uint64, fpp float64, opts ...Option) (*Filter, error) {
	p := Params{
		Capacity: capacity,
		FPP:      fpp,
		Version:  DefaultVersion,
		Variant:  Classic,
	}
	options.Apply(&p, opts...)
	return FromParams(p)
}

// NewWithVersion builds an empty classic filter of version v.
func NewWithVersion(v Version, capacity uint64, fpp float64) (*Filter, error) {
	p, err := ResolveWithVersion(v, capacity, fpp)
	if err != nil {
		return nil, err
	}
	return FromParams(p)
}

// NewWithParams builds an empty filter from every parameter.
func NewWithParams(v Version, capacity uint64, fpp float64, variant Variant) (*Filter, error) {
	p, err := ResolveWithOptions(v, capacity, fpp, variant)
	if err != nil {
		return nil, err
	}
	return FromParams(p)
}

// FromParams builds an empty filter from p after validating it.
func FromParams(p Params) (*Filter, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	f := &Filter{params: p}
	f.layers = append(f.layers, newLayer(p.layer(0)))
	return f, nil
}

// Insert adds data to the filter. It returns true if data was not already
// reported present, false if the filter is unchanged.
func (f *Filter) Insert(data []byte) bool {
	d := hashOf(f.params.Version, data)

	var added bool
	switch f.params.Variant {
	case Scalable:
		added = f.insertScalable(d)
	default:
		added = f.layers[0].insert(d)
	}
	if added {
		f.inserted++
	}
	return added
}

// InsertString is Insert for strings.
func (f *Filter) InsertString(s string) bool {
	return f.Insert([]byte(s))
}

func (f *Filter) insertScalable(d digest) bool {
	//
	// DESIGN
	// ------
	//
	// An element already reported present by any sub-filter must not be
	// written again, otherwise it would burn bits in the active layer and
	// make the filter fill faster than its distinct cardinality.
	//
	// Growth happens before the write: once the active layer is full, the
	// element goes to a fresh layer. At MaxLayers the last layer keeps
	// absorbing inserts and its error rate degrades like a classic filter
	// past its capacity.
	//
	if f.containsDigest(d) {
		return false
	}

	active := f.layers[len(f.layers)-1]
	if active.full() && len(f.layers) < MaxLayers {
		active = newLayer(f.params.layer(len(f.layers)))
		f.layers = append(f.layers, active)
	}
	return active.insert(d)
}

// Contains reports whether data is possibly in the filter. False means data
// was definitely never inserted.
func (f *Filter) Contains(data []byte) bool {
	return f.containsDigest(hashOf(f.params.Version, data))
}

// ContainsString is Contains for strings.
func (f *Filter) ContainsString(s string) bool {
	return f.Contains([]byte(s))
}

func (f *Filter) containsDigest(d digest) bool {
	// Newest first: recent elements are the likeliest to be queried.
	for i := len(f.layers) - 1; i >= 0; i-- {
		if f.layers[i].contains(d) {
			return true
		}
	}
	return false
}

// CountEstimate returns the approximate number of distinct elements
// inserted, summed over every sub-filter.
func (f *Filter) CountEstimate() uint64 {
	var total float64
	for _, l := range f.layers {
		total += l.estimate()
	}
	return uint64(math.Round(total))
}

func (f *Filter) Params() Params { return f.params }
func (f *Filter) Version() Version { return f.params.Version }
func (f *Filter) Capacity() uint64 { return f.params.Capacity }
func (f *Filter) FPP() float64 { return f.params.FPP }
func (f *Filter) Variant() Variant { return f.params.Variant }
func (f *Filter) Layers() int { return len(f.layers) }
func (f *Filter) Inserted() uint64 { return f.inserted }

// SizeBits returns the total number of bits over every sub-filter.
func (f *Filter) SizeBits() uint64 {
	var n uint64
	for _, l := range f.layers {
		n += l.bits.Len()
	}
	return n
}

// Data returns a copy of the packed bit arrays, sub-filters concatenated in
// creation order. Each array is ceil(m/8) bytes with bit i at byte i/8,
// bit i%8.
func (f *Filter) Data() []byte {
	var n uint64
	for _, l := range f.layers {
		n += packedLen(l.bits.Len())
	}
	out := make([]byte, 0, n)
	for _, l := range f.layers {
		out = l.bits.appendBytes(out)
	}
	return out
}

// LayerInfo describes one sub-filter.
type LayerInfo struct {
	K        uint32
	M        uint64
	Capacity uint64
	FPP      float64
	Fill     float64
	Estimate uint64
}

// Info is a point-in-time summary of a filter.
type Info struct {
	Params
	Layers   []LayerInfo
	SizeBits uint64
	Inserted uint64
	Estimate uint64
}

// Info summarizes the filter and each of its sub-filters.
func (f *Filter) Info() Info {
	info := Info{
		Params:   f.params,
		Layers:   make([]LayerInfo, 0, len(f.layers)),
		SizeBits: f.SizeBits(),
		Inserted: f.inserted,
		Estimate: f.CountEstimate(),
	}
	for _, l := range f.layers {
		info.Layers = append(info.Layers, LayerInfo{
			K:        l.k,
			M:        l.bits.Len(),
			Capacity: l.capacity,
			FPP:      l.fpp,
			Fill:     l.fillRatio(),
			Estimate: uint64(math.Round(l.estimate())),
		})
	}
	return info
}

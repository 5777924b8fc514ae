package bloom

import (
	"fmt"
	"math"
)

// Version selects the hashing strategy and record layout of a filter.
type Version uint8

const (
	// V1 hashes with xxHash64 and derives the second hash with SplitMix64.
	// Records carry no trailing checksum.
	V1 Version = 1

	// V2 hashes with 128-bit MurmurHash3 and appends an xxHash64 checksum
	// to every record.
	V2 Version = 2

	DefaultVersion = V2
)

func (v Version) valid() bool {
	switch v {
	case V1, V2:
		return true
	}
	return false
}

func (v Version) String() string {
	switch v {
	case V1:
		return "v1"
	case V2:
		return "v2"
	}
	return fmt.Sprintf("Version(%d)", uint8(v))
}

// Variant selects the growth behaviour of a filter.
type Variant uint8

const (
	// Classic filters have a single fixed-size bit array.
	Classic Variant = 0

	// Scalable filters append tighter sub-filters as they fill.
	Scalable Variant = 1
)

func (v Variant) valid() bool {
	return v == Classic || v == Scalable
}

func (v Variant) String() string {
	switch v {
	case Classic:
		return "classic"
	case Scalable:
		return "scalable"
	}
	return fmt.Sprintf("Variant(%d)", uint8(v))
}

const (
	DefaultCapacity  = 1000
	DefaultErrorRate = 0.01

	// GrowthFactor multiplies the capacity of each new sub-filter.
	GrowthFactor = 2

	// TighteningRatio multiplies the error budget of each new sub-filter.
	// The first sub-filter receives p*(1-r) so that the sum over all
	// sub-filters converges to at most p.
	TighteningRatio = 0.5

	// MaxLayers caps the number of sub-filters of a scalable filter.
	// Since capacity doubles every layer, 64 layers already cover more
	// items than a uint64 can count.
	MaxLayers = 1024

	// MaxHashes bounds k when reading records.
	MaxHashes = 64

	// MaxBits bounds m when reading records (8 GiB of bits).
	MaxBits = 1 << 36
)

// Params holds the immutable parameters a filter is built from.
type Params struct {
	Capacity uint64
	FPP      float64
	Version  Version
	Variant  Variant
}

// Resolve validates capacity and fpp and returns parameters for a classic
// filter using the default version.
func Resolve(capacity uint64, fpp float64) (Params, error) {
	return ResolveWithOptions(DefaultVersion, capacity, fpp, Classic)
}

// ResolveWithVersion is Resolve with an explicit version tag.
func ResolveWithVersion(v Version, capacity uint64, fpp float64) (Params, error) {
	return ResolveWithOptions(v, capacity, fpp, Classic)
}

// ResolveWithOptions validates every parameter of a filter.
func ResolveWithOptions(v Version, capacity uint64, fpp float64, variant Variant) (Params, error) {
	p := Params{Capacity: capacity, FPP: fpp, Version: v, Variant: variant}
	if err := p.Validate(); err != nil {
		return Params{}, err
	}
	return p, nil
}

// Validate reports the first problem found in p.
func (p Params) Validate() error {
	if p.Capacity < 1 {
		return fmt.Errorf("%w: capacity must be at least 1", ErrInvalidParameter)
	}
	// Written so that NaN fails as well.
	if !(p.FPP > 0 && p.FPP < 1) {
		return fmt.Errorf("%w: fpp %v not in (0, 1)", ErrInvalidParameter, p.FPP)
	}
	if !p.Version.valid() {
		return fmt.Errorf("%w: %d", ErrUnsupportedVersion, uint8(p.Version))
	}
	if !p.Variant.valid() {
		return fmt.Errorf("%w: %d", ErrInvalidVariant, uint8(p.Variant))
	}
	return nil
}

// Sizing returns the bit count and hash count of the first sub-filter.
func (p Params) Sizing() (uint64, uint32) {
	c, e := p.layer(0)
	return EstimateParameters(c, e)
}

// layer returns the capacity and error budget of sub-filter i. Classic
// filters only ever have sub-filter 0, which receives the full budget.
func (p Params) layer(i int) (uint64, float64) {
	if p.Variant == Classic {
		return p.Capacity, p.FPP
	}

	capacity := p.Capacity
	for j := 0; j < i; j++ {
		if capacity > math.MaxUint64/GrowthFactor {
			capacity = math.MaxUint64
			break
		}
		capacity *= GrowthFactor
	}

	fpp := p.FPP * (1 - TighteningRatio) * math.Pow(TighteningRatio, float64(i))
	if fpp < math.SmallestNonzeroFloat64 {
		fpp = math.SmallestNonzeroFloat64
	}
	return capacity, fpp
}

// EstimateParameters calculates the optimal bit count m and hash count k for
// n items at false-positive probability p:
//
//	m = ceil(-n ln(p) / ln(2)^2)
//	k = round(m/n ln(2))
//
// Both are clamped to at least 1 and m to at most MaxBits. Out of range
// inputs are sanitized rather than rejected; callers validate first.
func EstimateParameters(n uint64, p float64) (uint64, uint32) {
	if n == 0 {
		n = 1
	}
	if !(p > 0) {
		p = math.SmallestNonzeroFloat64
	} else if p >= 1 {
		p = 0.99
	}

	ln2 := math.Ln2
	mf := math.Ceil(-float64(n) * math.Log(p) / (ln2 * ln2))

	var m uint64
	switch {
	case mf < 1:
		m = 1
	case mf > MaxBits:
		m = MaxBits
	default:
		m = uint64(mf)
	}

	kf := math.Round(float64(m) / float64(n) * ln2)
	var k uint32
	switch {
	case kf < 1:
		k = 1
	case kf > MaxHashes:
		k = MaxHashes
	default:
		k = uint32(kf)
	}
	return m, k
}

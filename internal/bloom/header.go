package bloom

import (
	"encoding/binary"
	"math"
)

// Header is a flyweight view over the fixed part of a filter record. It
// gives endian-aware access to the fields without copying them into a struct.
//
//	+---------+-----+-----+----------+-----+
//	| Magic   | Ver | Var | Capacity | FPP |
//	+---------+-----+-----+----------+-----+
//	  8B        1B    1B    8B         8B
type Header []byte

// LayerHeader is a view over the 12 bytes that precede each bit array:
// k (4 bytes) followed by m (8 bytes).
type LayerHeader []byte

const (
	// Magic is the safety signature at offset 0 of every record.
	Magic = "POPPYBF\x00"

	HeaderSize      = 26
	LayerHeaderSize = 12
	CountSize       = 4
	ChecksumSize    = 8
)

func (h Header) Magic() string {
	return string(h[0:8])
}

func (h Header) SetMagic() {
	copy(h[0:8], Magic)
}

func (h Header) Version() Version {
	return Version(h[8])
}

func (h Header) SetVersion(v Version) {
	h[8] = byte(v)
}

func (h Header) Variant() Variant {
	return Variant(h[9])
}

func (h Header) SetVariant(v Variant) {
	h[9] = byte(v)
}

func (h Header) Capacity() uint64 {
	return binary.LittleEndian.Uint64(h[10:18])
}

func (h Header) SetCapacity(v uint64) {
	binary.LittleEndian.PutUint64(h[10:18], v)
}

// FPP decodes the false-positive probability from its IEEE 754 bits.
func (h Header) FPP() float64 {
	return math.Float64frombits(binary.LittleEndian.Uint64(h[18:26]))
}

func (h Header) SetFPP(v float64) {
	binary.LittleEndian.PutUint64(h[18:26], math.Float64bits(v))
}

// Params returns the parameters recorded in the header.
func (h Header) Params() Params {
	return Params{
		Capacity: h.Capacity(),
		FPP:      h.FPP(),
		Version:  h.Version(),
		Variant:  h.Variant(),
	}
}

func (h LayerHeader) K() uint32 {
	return binary.LittleEndian.Uint32(h[0:4])
}

func (h LayerHeader) SetK(v uint32) {
	binary.LittleEndian.PutUint32(h[0:4], v)
}

func (h LayerHeader) M() uint64 {
	return binary.LittleEndian.Uint64(h[4:12])
}

func (h LayerHeader) SetM(v uint64) {
	binary.LittleEndian.PutUint64(h[4:12], v)
}

// DataSize returns the number of packed bytes that follow the layer header.
func (h LayerHeader) DataSize() uint64 {
	return packedLen(h.M())
}

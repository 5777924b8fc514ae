package bloom

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"github.com/cespare/xxhash/v2"
)

// Record layout, all integers little endian:
//
//	Header   magic(8) version(1) variant(1) capacity(8) fpp(8)
//	Classic  k(4) m(8) bits(ceil(m/8))
//	Scalable count(4) then count x [k(4) m(8) bits(ceil(m/8))]
//	V2 only  checksum(8) = xxHash64 of every preceding byte

// recordWriter tracks the bytes written and the first error, and feeds the
// checksum when one is required.
type recordWriter struct {
	w   io.Writer
	sum *xxhash.Digest
	n   int64
	err error
}

func (rw *recordWriter) write(p []byte) {
	if rw.err != nil {
		return
	}
	n, err := rw.w.Write(p)
	rw.n += int64(n)
	if err != nil {
		rw.err = err
		return
	}
	if rw.sum != nil {
		rw.sum.Write(p)
	}
}

func (rw *recordWriter) writeLayer(l *layer) {
	var lh [LayerHeaderSize]byte
	LayerHeader(lh[:]).SetK(l.k)
	LayerHeader(lh[:]).SetM(l.bits.Len())
	rw.write(lh[:])
	rw.write(l.bits.Bytes())
}

// WriteTo serializes the filter to w. The output is buffered and flushed
// before WriteTo returns successfully.
func (f *Filter) WriteTo(w io.Writer) (int64, error) {
	bw := bufio.NewWriter(w)
	rw := &recordWriter{w: bw}
	if f.params.Version == V2 {
		rw.sum = xxhash.New()
	}

	var hdr [HeaderSize]byte
	h := Header(hdr[:])
	h.SetMagic()
	h.SetVersion(f.params.Version)
	h.SetVariant(f.params.Variant)
	h.SetCapacity(f.params.Capacity)
	h.SetFPP(f.params.FPP)
	rw.write(hdr[:])

	switch f.params.Variant {
	case Scalable:
		var count [CountSize]byte
		binary.LittleEndian.PutUint32(count[:], uint32(len(f.layers)))
		rw.write(count[:])
		for _, l := range f.layers {
			rw.writeLayer(l)
		}
	default:
		rw.writeLayer(f.layers[0])
	}

	if rw.sum != nil && rw.err == nil {
		var sum [ChecksumSize]byte
		binary.LittleEndian.PutUint64(sum[:], rw.sum.Sum64())
		// Not part of its own checksum.
		digest := rw.sum
		rw.sum = nil
		rw.write(sum[:])
		rw.sum = digest
	}

	if rw.err != nil {
		return rw.n, ioError(rw.err)
	}
	if err := bw.Flush(); err != nil {
		return rw.n, ioError(err)
	}
	return rw.n, nil
}

// recordReader reads exact-length fields, feeding the checksum and mapping
// short reads to ErrCorruptFormat.
type recordReader struct {
	r   io.Reader
	sum *xxhash.Digest
}

func (rr *recordReader) readFull(p []byte) error {
	if _, err := io.ReadFull(rr.r, p); err != nil {
		return truncated(err)
	}
	if rr.sum != nil {
		rr.sum.Write(p)
	}
	return nil
}

func truncated(err error) error {
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		return fmt.Errorf("%w: truncated record", ErrCorruptFormat)
	}
	return ioError(err)
}

func (rr *recordReader) readCount() (uint32, error) {
	var b [CountSize]byte
	if err := rr.readFull(b[:]); err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(b[:]), nil
}

func (rr *recordReader) readLayer() (*layer, error) {
	var lh [LayerHeaderSize]byte
	if err := rr.readFull(lh[:]); err != nil {
		return nil, err
	}
	h := LayerHeader(lh[:])

	k, m := h.K(), h.M()
	if k < 1 || k > MaxHashes {
		return nil, fmt.Errorf("%w: hash count %d out of range", ErrCorruptFormat, k)
	}
	if m < 1 || m > MaxBits {
		return nil, fmt.Errorf("%w: bit count %d out of range", ErrCorruptFormat, m)
	}

	// CopyN grows the buffer as data arrives, so a corrupted m on a short
	// stream cannot force a large allocation up front.
	var buf bytes.Buffer
	size := int64(h.DataSize())
	if _, err := io.CopyN(&buf, rr.r, size); err != nil {
		return nil, truncated(err)
	}
	if rr.sum != nil {
		rr.sum.Write(buf.Bytes())
	}

	bits, err := bitArrayFromBytes(m, buf.Bytes())
	if err != nil {
		return nil, err
	}
	return &layer{bits: bits, k: k}, nil
}

// Read decodes one filter record from r. It consumes exactly the bytes of
// the record and never reads past it.
//
// A stream that does not start with the record magic yields
// ErrInvalidFormat. Once the magic matched, any shortfall or inconsistency
// yields ErrCorruptFormat. Failures of r itself are wrapped in ErrIO.
func Read(r io.Reader) (*Filter, error) {
	var hdr [HeaderSize]byte
	if _, err := io.ReadFull(r, hdr[:len(Magic)]); err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return nil, fmt.Errorf("%w: short magic", ErrInvalidFormat)
		}
		return nil, ioError(err)
	}
	h := Header(hdr[:])
	if h.Magic() != Magic {
		return nil, fmt.Errorf("%w: bad magic %q", ErrInvalidFormat, h.Magic())
	}

	rr := &recordReader{r: r}
	if _, err := io.ReadFull(r, hdr[len(Magic):]); err != nil {
		return nil, truncated(err)
	}

	p := h.Params()
	if !p.Version.valid() {
		return nil, fmt.Errorf("%w: %d", ErrUnsupportedVersion, uint8(p.Version))
	}
	if !p.Variant.valid() {
		return nil, fmt.Errorf("%w: %d", ErrInvalidVariant, uint8(p.Variant))
	}
	if err := p.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrCorruptFormat, err)
	}

	if p.Version == V2 {
		rr.sum = xxhash.New()
		rr.sum.Write(hdr[:])
	}

	count := uint32(1)
	if p.Variant == Scalable {
		var err error
		if count, err = rr.readCount(); err != nil {
			return nil, err
		}
		if count < 1 || count > MaxLayers {
			return nil, fmt.Errorf("%w: sub-filter count %d out of range", ErrCorruptFormat, count)
		}
	}

	f := &Filter{params: p, layers: make([]*layer, 0, count)}
	for i := 0; i < int(count); i++ {
		l, err := rr.readLayer()
		if err != nil {
			return nil, err
		}
		l.setBudget(p.layer(i))
		l.inserted = uint64(l.estimate() + 0.5)
		f.layers = append(f.layers, l)
	}

	if rr.sum != nil {
		want := rr.sum.Sum64()
		var b [ChecksumSize]byte
		if _, err := io.ReadFull(r, b[:]); err != nil {
			return nil, truncated(err)
		}
		if got := binary.LittleEndian.Uint64(b[:]); got != want {
			return nil, fmt.Errorf("%w: checksum mismatch (got %016x, want %016x)", ErrCorruptFormat, got, want)
		}
	}

	f.inserted = f.CountEstimate()
	return f, nil
}

// MarshalBinary returns the serialized record.
func (f *Filter) MarshalBinary() ([]byte, error) {
	var buf bytes.Buffer
	if _, err := f.WriteTo(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// UnmarshalBinary replaces f with the filter serialized in data. Trailing
// bytes after the record are rejected.
func (f *Filter) UnmarshalBinary(data []byte) error {
	r := bytes.NewReader(data)
	loaded, err := Read(r)
	if err != nil {
		return err
	}
	if r.Len() != 0 {
		return fmt.Errorf("%w: %d trailing bytes", ErrCorruptFormat, r.Len())
	}
	*f = *loaded
	return nil
}

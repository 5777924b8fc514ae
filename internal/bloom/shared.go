package bloom

import (
	"io"
	"sync"
	"sync/atomic"
)

// Shared is a reference-counted handle to a Filter that is safe for
// concurrent use.
//
// A single mutex guards every operation, reads included. WriteTo and
// SaveFile hold it for the whole write.
//
// The handle starts with one reference. Every holder that obtained it through
// Retain must call Release exactly once. After the last Release the filter is
// detached and any further call panics.
type Shared struct {
	mu     sync.Mutex
	filter *Filter

	refs    atomic.Int64
	hooks   []func()
	hooksMu sync.Mutex
}

// NewShared wraps f. The caller owns the initial reference.
func NewShared(f *Filter) *Shared {
	s := &Shared{filter: f}
	s.refs.Store(1)
	return s
}

// Retain adds a reference and returns s for chaining.
func (s *Shared) Retain() *Shared {
	if s.refs.Add(1) <= 1 {
		s.refs.Add(-1)
		panic("bloom: retain of released filter")
	}
	return s
}

// Release drops a reference. It returns true when that was the last one, in
// which case the filter is detached and the OnRelease hooks have run.
func (s *Shared) Release() bool {
	n := s.refs.Add(-1)
	if n < 0 {
		s.refs.Add(1)
		panic("bloom: release of released filter")
	}
	if n > 0 {
		return false
	}

	s.mu.Lock()
	s.filter = nil
	s.mu.Unlock()

	s.hooksMu.Lock()
	hooks := s.hooks
	s.hooks = nil
	s.hooksMu.Unlock()
	for _, fn := range hooks {
		fn()
	}
	return true
}

// Refs returns the current reference count.
func (s *Shared) Refs() int64 {
	return s.refs.Load()
}

// OnRelease registers fn to run once the last reference is released.
func (s *Shared) OnRelease(fn func()) {
	s.hooksMu.Lock()
	s.hooks = append(s.hooks, fn)
	s.hooksMu.Unlock()
}

// lock acquires the mutex and returns the live filter.
func (s *Shared) lock() *Filter {
	s.mu.Lock()
	if s.filter == nil {
		s.mu.Unlock()
		panic("bloom: use of released filter")
	}
	return s.filter
}

func (s *Shared) Insert(data []byte) bool {
	f := s.lock()
	defer s.mu.Unlock()
	return f.Insert(data)
}

// InsertMany inserts every element under a single lock acquisition and
// reports, per element, whether it was new.
func (s *Shared) InsertMany(items [][]byte) []bool {
	f := s.lock()
	defer s.mu.Unlock()
	out := make([]bool, len(items))
	for i, item := range items {
		out[i] = f.Insert(item)
	}
	return out
}

func (s *Shared) Contains(data []byte) bool {
	f := s.lock()
	defer s.mu.Unlock()
	return f.Contains(data)
}

// ContainsMany is Contains for a batch under a single lock acquisition.
func (s *Shared) ContainsMany(items [][]byte) []bool {
	f := s.lock()
	defer s.mu.Unlock()
	out := make([]bool, len(items))
	for i, item := range items {
		out[i] = f.Contains(item)
	}
	return out
}

func (s *Shared) CountEstimate() uint64 {
	f := s.lock()
	defer s.mu.Unlock()
	return f.CountEstimate()
}

func (s *Shared) Version() Version {
	f := s.lock()
	defer s.mu.Unlock()
	return f.Version()
}

func (s *Shared) Capacity() uint64 {
	f := s.lock()
	defer s.mu.Unlock()
	return f.Capacity()
}

func (s *Shared) FPP() float64 {
	f := s.lock()
	defer s.mu.Unlock()
	return f.FPP()
}

func (s *Shared) Variant() Variant {
	f := s.lock()
	defer s.mu.Unlock()
	return f.Variant()
}

func (s *Shared) Layers() int {
	f := s.lock()
	defer s.mu.Unlock()
	return f.Layers()
}

func (s *Shared) Inserted() uint64 {
	f := s.lock()
	defer s.mu.Unlock()
	return f.Inserted()
}

func (s *Shared) SizeBits() uint64 {
	f := s.lock()
	defer s.mu.Unlock()
	return f.SizeBits()
}

func (s *Shared) Data() []byte {
	f := s.lock()
	defer s.mu.Unlock()
	return f.Data()
}

func (s *Shared) Info() Info {
	f := s.lock()
	defer s.mu.Unlock()
	return f.Info()
}

// WriteTo serializes the filter while holding the lock for the whole write.
func (s *Shared) WriteTo(w io.Writer) (int64, error) {
	f := s.lock()
	defer s.mu.Unlock()
	return f.WriteTo(w)
}

func (s *Shared) MarshalBinary() ([]byte, error) {
	f := s.lock()
	defer s.mu.Unlock()
	return f.MarshalBinary()
}

// SaveFile writes the filter to path while holding the lock.
func (s *Shared) SaveFile(path string) error {
	f := s.lock()
	defer s.mu.Unlock()
	return f.SaveFile(path)
}

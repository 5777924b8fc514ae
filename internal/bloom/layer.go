package bloom

import (
	"math"
	"sync"
)

// positionsPool reuses bit position buffers on the insert and lookup paths.
// We store *[]uint64 rather than []uint64 to avoid the interface allocation
// on Put (SA6002).
var positionsPool = sync.Pool{
	New: func() interface{} {
		// k stays below 16 for any error rate above 1e-5.
		s := make([]uint64, 0, 16)
		return &s
	},
}

func getPositions() *[]uint64 {
	ptr := positionsPool.Get().(*[]uint64)
	*ptr = (*ptr)[:0]
	return ptr
}

func putPositions(ptr *[]uint64) {
	if ptr == nil {
		return
	}
	positionsPool.Put(ptr)
}

// layer is a single sub-filter: a bit array probed at k positions.
//
// Only k, m and the bits are persisted. Capacity and the error budget are a
// function of the layer's index in its filter and are re-derived on load.
type layer struct {
	bits     *bitArray
	k        uint32
	capacity uint64
	fpp      float64

	// inserted counts inserts that changed at least one bit.
	inserted uint64

	// maxFill is the fill ratio at which the layer's false-positive rate
	// reaches its budget: fpp^(1/k).
	maxFill float64
}

func newLayer(capacity uint64, fpp float64) *layer {
	m, k := EstimateParameters(capacity, fpp)
	l := &layer{bits: newBitArray(m), k: k}
	l.setBudget(capacity, fpp)
	return l
}

func (l *layer) setBudget(capacity uint64, fpp float64) {
	l.capacity = capacity
	l.fpp = fpp
	l.maxFill = math.Pow(fpp, 1/float64(l.k))
}

// insert sets the positions of d and reports whether any bit changed.
func (l *layer) insert(d digest) bool {
	buf := getPositions()
	defer putPositions(buf)

	m := l.bits.Len()
	*buf = d.appendPositions(*buf, l.k, m)

	changed := false
	for _, pos := range *buf {
		if l.bits.Set(pos) {
			changed = true
		}
	}
	if changed {
		l.inserted++
	}
	return changed
}

func (l *layer) contains(d digest) bool {
	m := l.bits.Len()
	for i := uint64(0); i < uint64(l.k); i++ {
		if !l.bits.Get(d.index(i, m)) {
			return false
		}
	}
	return true
}

// full reports whether the layer has reached its capacity or its fill
// threshold, whichever comes first.
func (l *layer) full() bool {
	if l.inserted >= l.capacity {
		return true
	}
	return l.fillRatio() >= l.maxFill
}

func (l *layer) fillRatio() float64 {
	return float64(l.bits.CountSet()) / float64(l.bits.Len())
}

// estimate returns -(m/k) ln(1 - X/m) where X is the number of set bits.
// A saturated array is evaluated at X = m-1 to keep the result finite.
func (l *layer) estimate() float64 {
	m := float64(l.bits.Len())
	x := float64(l.bits.CountSet())
	if x >= m {
		x = m - 1
	}
	if x <= 0 {
		return 0
	}
	return -(m / float64(l.k)) * math.Log1p(-x/m)
}

package ds

import (
	"hash/fnv"
	"math"
)

// BloomValue is the bloom-filter (bit array + parameters) variant. It uses
// double hashing over two independent FNV variants to derive the k probe
// positions from a single pair of hash computations.
type BloomValue struct {
	bits       []uint64
	numBits    uint64
	numHashes  uint64
	capacity   uint64
	errorRate  float64
	inserted   uint64
	expansion  int // BF.RESERVE NONSCALING==0, else growth factor
	subfilters []*BloomValue
}

// NewBloom sizes a filter for the given capacity and false-positive rate,
// using the standard optimal-parameters formulas.
func NewBloom(capacity uint64, errorRate float64, expansion int) *BloomValue {
	if capacity == 0 {
		capacity = 100
	}
	if errorRate <= 0 || errorRate >= 1 {
		errorRate = 0.01
	}
	m := optimalBits(capacity, errorRate)
	k := optimalHashes(m, capacity)
	return &BloomValue{
		bits:      make([]uint64, (m+63)/64),
		numBits:   m,
		numHashes: k,
		capacity:  capacity,
		errorRate: errorRate,
		expansion: expansion,
	}
}

func optimalBits(n uint64, p float64) uint64 {
	m := math.Ceil(-float64(n) * math.Log(p) / (math.Ln2 * math.Ln2))
	if m < 8 {
		m = 8
	}
	return uint64(m)
}

func optimalHashes(m, n uint64) uint64 {
	if n == 0 {
		return 1
	}
	k := math.Round(float64(m) / float64(n) * math.Ln2)
	if k < 1 {
		k = 1
	}
	return uint64(k)
}

func (v *BloomValue) Kind() Kind { return KindBloom }

func (v *BloomValue) MemSize() int64 {
	total := int64(len(v.bits)) * 8
	for _, sf := range v.subfilters {
		total += sf.MemSize()
	}
	return total
}

func (v *BloomValue) hashPair(item []byte) (uint64, uint64) {
	h1 := fnv.New64a()
	h1.Write(item)
	sum1 := h1.Sum64()

	h2 := fnv.New64()
	h2.Write(item)
	sum2 := h2.Sum64()
	return sum1, sum2
}

func (v *BloomValue) setBit(filter *BloomValue, idx uint64) {
	filter.bits[idx/64] |= 1 << (idx % 64)
}

func (v *BloomValue) getBit(filter *BloomValue, idx uint64) bool {
	return filter.bits[idx/64]&(1<<(idx%64)) != 0
}

// Add inserts item, scaling to a new sub-filter if capacity is exhausted
// and expansion is enabled (expansion > 0), reporting whether it was
// newly added (best-effort: false positives can under-report novelty).
func (v *BloomValue) Add(item []byte) bool {
	if v.Exists(item) {
		return false
	}
	target := v.currentWritable()
	h1, h2 := target.hashPair(item)
	for i := uint64(0); i < target.numHashes; i++ {
		idx := (h1 + i*h2) % target.numBits
		v.setBit(target, idx)
	}
	if target != v {
		target.inserted++
	}
	v.inserted++
	return true
}

func (v *BloomValue) currentWritable() *BloomValue {
	if v.inserted < v.capacity || v.expansion == 0 {
		return v
	}
	if len(v.subfilters) == 0 || v.subfilters[len(v.subfilters)-1].inserted >= v.subfilters[len(v.subfilters)-1].capacity {
		newCap := v.capacity
		if len(v.subfilters) > 0 {
			newCap = v.subfilters[len(v.subfilters)-1].capacity
		}
		newCap *= uint64(v.expansion)
		v.subfilters = append(v.subfilters, NewBloom(newCap, v.errorRate, v.expansion))
	}
	return v.subfilters[len(v.subfilters)-1]
}

// Exists checks membership across the base filter and any scaled
// sub-filters.
func (v *BloomValue) Exists(item []byte) bool {
	if v.existsIn(v, item) {
		return true
	}
	for _, sf := range v.subfilters {
		if v.existsIn(sf, item) {
			return true
		}
	}
	return false
}

func (v *BloomValue) existsIn(filter *BloomValue, item []byte) bool {
	h1, h2 := filter.hashPair(item)
	for i := uint64(0); i < filter.numHashes; i++ {
		idx := (h1 + i*h2) % filter.numBits
		if !v.getBit(filter, idx) {
			return false
		}
	}
	return true
}

func (v *BloomValue) Capacity() uint64    { return v.capacity }
func (v *BloomValue) ErrorRate() float64  { return v.errorRate }
func (v *BloomValue) Cardinality() uint64 { return v.inserted }
func (v *BloomValue) NumFilters() int     { return 1 + len(v.subfilters) }
func (v *BloomValue) Expansion() int      { return v.expansion }

// CanScale reports whether the filter was reserved with scaling enabled
// (expansion > 0, i.e. not NONSCALING).
func (v *BloomValue) CanScale() bool { return v.expansion > 0 }

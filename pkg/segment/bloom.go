// Package segment implements the opaque, read-only on-disk segment
// (SSTable) the flush worker writes a sealed memtable out to, plus its
// supporting bloom filter and block cache.
package segment

import (
	"hash/fnv"
	"math"
)

// BloomFilter is a probabilistic set-membership test used to skip
// segments that provably do not contain a key.
type BloomFilter struct {
	bits      []bool
	size      int
	hashCount int
}

// NewBloomFilter sizes a filter for expectedItems entries at the given
// false-positive rate.
func NewBloomFilter(expectedItems int, falsePositiveRate float64) *BloomFilter {
	if expectedItems <= 0 {
		expectedItems = 1
	}
	if falsePositiveRate <= 0 || falsePositiveRate >= 1 {
		falsePositiveRate = 0.01
	}

	size := int(math.Ceil(-float64(expectedItems) * math.Log(falsePositiveRate) / (math.Ln2 * math.Ln2)))
	hashCount := int(math.Ceil((float64(size) / float64(expectedItems)) * math.Ln2))

	const maxSize = 1_000_000_000
	if size > maxSize {
		size = maxSize
	}
	if size < 1 {
		size = 1
	}
	if hashCount < 1 {
		hashCount = 1
	}
	if hashCount > 100 {
		hashCount = 100
	}

	return &BloomFilter{bits: make([]bool, size), size: size, hashCount: hashCount}
}

// Add records a key's membership.
func (bf *BloomFilter) Add(key []byte) {
	for i := 0; i < bf.hashCount; i++ {
		bf.bits[bf.hash(key, i)] = true
	}
}

// MightContain reports whether key may be present. False means
// definitely absent; true means maybe present.
func (bf *BloomFilter) MightContain(key []byte) bool {
	for i := 0; i < bf.hashCount; i++ {
		if !bf.bits[bf.hash(key, i)] {
			return false
		}
	}
	return true
}

func (bf *BloomFilter) hash(key []byte, seed int) int {
	h := fnv.New64a()
	h.Write(key)
	h.Write([]byte{byte(seed)})
	return int(h.Sum64() % uint64(bf.size))
}

// Size and HashCount expose the parameters needed to reconstruct a
// filter from its serialized bit data.
func (bf *BloomFilter) Size() int      { return bf.size }
func (bf *BloomFilter) HashCount() int { return bf.hashCount }

// MarshalBits packs the filter's bits into a byte slice, one bit per
// flag, for persisting alongside a segment's footer.
func (bf *BloomFilter) MarshalBits() []byte {
	out := make([]byte, (bf.size+7)/8)
	for i, set := range bf.bits {
		if set {
			out[i/8] |= 1 << uint(i%8)
		}
	}
	return out
}

// UnmarshalBloomFilter reconstructs a filter from its serialized bits.
func UnmarshalBloomFilter(size, hashCount int, data []byte) *BloomFilter {
	bits := make([]bool, size)
	for i := range bits {
		if i/8 < len(data) && data[i/8]&(1<<uint(i%8)) != 0 {
			bits[i] = true
		}
	}
	return &BloomFilter{bits: bits, size: size, hashCount: hashCount}
}

// Package dsa provides the small data-structure toolkit the orchestrator
// and adapters share: a Bloom filter for peer chunk inventories, a
// starvation-resistant priority queue for retry scheduling, and a
// consistent hash ring for source-affinity suggestions. Kept
// dependency-free: these are small, self-contained structures with no
// configuration surface worth importing a library for.
package dsa

import (
	"hash/fnv"
	"math"
)

// BloomConfig sizes a BloomFilter for an expected item count and a target
// false-positive rate.
type BloomConfig struct {
	ExpectedItems int
	FPRate        float64
}

// BloomFilter is a fixed-size probabilistic set with zero false negatives.
type BloomFilter struct {
	bits    []uint64
	numBits uint
	numHash uint
}

// NewBloomFilter sizes a filter for cfg.ExpectedItems at cfg.FPRate.
func NewBloomFilter(cfg BloomConfig) *BloomFilter {
	n := cfg.ExpectedItems
	if n <= 0 {
		n = 1
	}
	p := cfg.FPRate
	if p <= 0 || p >= 1 {
		p = 0.01
	}

	m := optimalBits(n, p)
	k := optimalHashCount(m, n)
	if k < 1 {
		k = 1
	}

	words := (m + 63) / 64
	return &BloomFilter{
		bits:    make([]uint64, words),
		numBits: uint(m),
		numHash: uint(k),
	}
}

func optimalBits(n int, p float64) int {
	m := -float64(n) * math.Log(p) / (math.Ln2 * math.Ln2)
	if m < 64 {
		m = 64
	}
	return int(math.Ceil(m))
}

func optimalHashCount(m, n int) int {
	k := float64(m) / float64(n) * math.Ln2
	return int(math.Round(k))
}

// Add inserts item into the filter.
func (b *BloomFilter) Add(item string) {
	h1, h2 := bloomHashes(item)
	for i := uint(0); i < b.numHash; i++ {
		idx := (h1 + uint64(i)*h2) % uint64(b.numBits)
		b.bits[idx/64] |= 1 << (idx % 64)
	}
}

// Contains reports whether item may be in the set (false positives
// possible; false negatives never).
func (b *BloomFilter) Contains(item string) bool {
	h1, h2 := bloomHashes(item)
	for i := uint(0); i < b.numHash; i++ {
		idx := (h1 + uint64(i)*h2) % uint64(b.numBits)
		if b.bits[idx/64]&(1<<(idx%64)) == 0 {
			return false
		}
	}
	return true
}

// bloomHashes derives two independent hashes via FNV-1a with different
// seeds, combined with double hashing (Kirsch-Mitzenmacher) to simulate k
// independent hash functions.
func bloomHashes(item string) (uint64, uint64) {
	h1 := fnv.New64a()
	h1.Write([]byte(item))
	sum1 := h1.Sum64()

	h2 := fnv.New64a()
	h2.Write([]byte(item))
	h2.Write([]byte{0xff})
	sum2 := h2.Sum64()
	if sum2 == 0 {
		sum2 = 1
	}
	return sum1, sum2
}

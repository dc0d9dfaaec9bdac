package dsa

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestBloomFilter_NoFalseNegatives(t *testing.T) {
	bf := NewBloomFilter(BloomConfig{ExpectedItems: 1000, FPRate: 0.01})
	items := make([]string, 0, 500)
	for i := 0; i < 500; i++ {
		item := "chunk-" + string(rune('a'+i%26)) + string(rune(i))
		items = append(items, item)
		bf.Add(item)
	}
	for _, item := range items {
		require.True(t, bf.Contains(item))
	}
}

func TestBloomFilter_AbsentItemMostlyNotContained(t *testing.T) {
	bf := NewBloomFilter(BloomConfig{ExpectedItems: 100, FPRate: 0.001})
	bf.Add("present")
	require.True(t, bf.Contains("present"))
	// Not a hard guarantee (false positives are allowed) but a filter
	// sized for a low FP rate should not flag an obviously different key.
	require.False(t, bf.Contains("totally-different-key-xyz"))
}

func TestPriorityQueue_PopsLowestPriorityFirst(t *testing.T) {
	pq := NewPriorityQueue(PriorityQueueConfig{})
	pq.Push(HeapItem{Key: "c", Priority: 3, SubmittedAt: time.Now()})
	pq.Push(HeapItem{Key: "a", Priority: 1, SubmittedAt: time.Now()})
	pq.Push(HeapItem{Key: "b", Priority: 2, SubmittedAt: time.Now()})

	first, ok := pq.Pop()
	require.True(t, ok)
	require.Equal(t, "a", first.Key)

	second, _ := pq.Pop()
	require.Equal(t, "b", second.Key)
}

func TestPriorityQueue_StarvationBoost(t *testing.T) {
	pq := NewPriorityQueue(PriorityQueueConfig{BoostInterval: time.Millisecond, MaxBoost: 5})
	old := HeapItem{Key: "old", Priority: 10, SubmittedAt: time.Now().Add(-100 * time.Millisecond)}
	fresh := HeapItem{Key: "fresh", Priority: 6, SubmittedAt: time.Now()}
	pq.Push(old)
	pq.Push(fresh)

	// old's effective priority = 10 - min(100,5) = 5, beating fresh's 6.
	first, _ := pq.Pop()
	require.Equal(t, "old", first.Key)
}

func TestHashRing_LookupNDistinct(t *testing.T) {
	ring := NewHashRing(DefaultHashRingConfig())
	ring.AddNode("node-a")
	ring.AddNode("node-b")
	ring.AddNode("node-c")

	nodes := ring.LookupN("some-chunk-key", 3)
	require.Len(t, nodes, 3)
	seen := map[string]bool{}
	for _, n := range nodes {
		require.False(t, seen[n], "duplicate node in lookup result")
		seen[n] = true
	}
}

func TestHashRing_RemoveNode(t *testing.T) {
	ring := NewHashRing(DefaultHashRingConfig())
	ring.AddNode("a")
	ring.AddNode("b")
	require.Equal(t, 2, ring.Size())
	ring.RemoveNode("a")
	require.Equal(t, 1, ring.Size())
	nodes := ring.LookupN("key", 5)
	for _, n := range nodes {
		require.Equal(t, "b", n)
	}
}

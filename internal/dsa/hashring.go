package dsa

import (
	"hash/fnv"
	"sort"
	"sync"
)

// HashRingConfig controls the number of virtual nodes per real node
// (higher spreads load more evenly across the ring).
type HashRingConfig struct {
	VirtualNodes int
}

// DefaultHashRingConfig returns sensible defaults.
func DefaultHashRingConfig() HashRingConfig {
	return HashRingConfig{VirtualNodes: 150}
}

// HashRing is a consistent-hash ring used to suggest an alternate source
// (or node) for a retried chunk, preferring one different from the source
// that just failed.
type HashRing struct {
	mu       sync.RWMutex
	cfg      HashRingConfig
	sorted   []uint32
	members  map[uint32]string
	nodeSet  map[string]bool
}

// NewHashRing creates an empty ring.
func NewHashRing(cfg HashRingConfig) *HashRing {
	if cfg.VirtualNodes <= 0 {
		cfg.VirtualNodes = 150
	}
	return &HashRing{
		cfg:     cfg,
		members: make(map[uint32]string),
		nodeSet: make(map[string]bool),
	}
}

// AddNode adds id's virtual replicas to the ring.
func (r *HashRing) AddNode(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.nodeSet[id] {
		return
	}
	r.nodeSet[id] = true
	for i := 0; i < r.cfg.VirtualNodes; i++ {
		h := ringHash(id, i)
		r.members[h] = id
		r.sorted = append(r.sorted, h)
	}
	sort.Slice(r.sorted, func(i, j int) bool { return r.sorted[i] < r.sorted[j] })
}

// RemoveNode drops id and all its virtual replicas from the ring.
func (r *HashRing) RemoveNode(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.nodeSet[id] {
		return
	}
	delete(r.nodeSet, id)
	var kept []uint32
	for _, h := range r.sorted {
		if r.members[h] == id {
			delete(r.members, h)
			continue
		}
		kept = append(kept, h)
	}
	r.sorted = kept
}

// Size returns the number of distinct real nodes on the ring.
func (r *HashRing) Size() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.nodeSet)
}

// LookupN returns up to n distinct real nodes walking clockwise from
// key's hash position.
func (r *HashRing) LookupN(key string, n int) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if len(r.sorted) == 0 {
		return nil
	}

	h := ringHash(key, 0)
	start := sort.Search(len(r.sorted), func(i int) bool { return r.sorted[i] >= h })

	seen := make(map[string]bool)
	var result []string
	for i := 0; i < len(r.sorted) && len(result) < n; i++ {
		idx := (start + i) % len(r.sorted)
		id := r.members[r.sorted[idx]]
		if seen[id] {
			continue
		}
		seen[id] = true
		result = append(result, id)
	}
	return result
}

func ringHash(id string, replica int) uint32 {
	h := fnv.New32a()
	h.Write([]byte(id))
	h.Write([]byte{byte(replica), byte(replica >> 8)})
	return h.Sum32()
}

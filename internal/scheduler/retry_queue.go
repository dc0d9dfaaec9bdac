// Package scheduler provides chunk-retry scheduling for the
// orchestrator: exponential backoff via a min-heap, plus a consistent
// hash ring that suggests an alternate source so a retried chunk is
// not handed straight back to the source that just failed it.
package scheduler

import (
	"strconv"
	"sync"
	"time"

	"github.com/chiral/transferd/internal/dsa"
)

// MaxRetries caps per-chunk retry attempts; exhausting them on all
// sources triggers a transfer-level Network failure.
const MaxRetries = 3

// RetryConfig configures backoff behavior for the chunk retry queue.
type RetryConfig struct {
	BaseDelay     time.Duration
	MaxDelay      time.Duration
	BoostInterval time.Duration
}

// DefaultRetryConfig keeps backoff short: chunk fetches are quick, so
// minute-long caps would only delay recovery.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		BaseDelay:     500 * time.Millisecond,
		MaxDelay:      10 * time.Second,
		BoostInterval: 30 * time.Second,
	}
}

// RetryEntry tracks one failed chunk's retry state.
type RetryEntry struct {
	ChunkID    uint32
	FailedSourceID string
	Attempt    int
	NextRetry  time.Time
	FailedAt   time.Time
	Error      string
}

// RetryQueue schedules failed chunks for retry with exponential backoff
// and suggests an alternate source via a consistent hash ring, so a
// chunk doesn't get retried against the source that just failed it.
type RetryQueue struct {
	mu       sync.Mutex
	config   RetryConfig
	heap     *dsa.PriorityQueue
	ring     *dsa.HashRing
	attempts map[string]int

	totalRetries   int64
	totalExhausted int64
}

// NewRetryQueue creates a chunk retry queue.
func NewRetryQueue(cfg RetryConfig) *RetryQueue {
	return &RetryQueue{
		config: cfg,
		heap: dsa.NewPriorityQueue(dsa.PriorityQueueConfig{
			BoostInterval: cfg.BoostInterval,
			MaxBoost:      2,
		}),
		ring:     dsa.NewHashRing(dsa.DefaultHashRingConfig()),
		attempts: make(map[string]int),
	}
}

// AddSource registers a source on the affinity ring.
func (rq *RetryQueue) AddSource(sourceID string) {
	rq.ring.AddNode(sourceID)
}

// RemoveSource removes a source from the affinity ring (e.g. on
// SourceDisconnected).
func (rq *RetryQueue) RemoveSource(sourceID string) {
	rq.ring.RemoveNode(sourceID)
}

// ScheduleRetry enqueues a failed chunk with exponential backoff. Returns
// false once the chunk has exceeded MaxRetries — the caller should then
// fail the transfer.
func (rq *RetryQueue) ScheduleRetry(entry RetryEntry) bool {
	rq.mu.Lock()
	defer rq.mu.Unlock()

	// Attempt history lives in the queue, keyed by chunk, so callers can
	// pass a fresh entry on every failure and exhaustion still triggers.
	key := chunkKey(entry.ChunkID)
	rq.attempts[key]++
	entry.Attempt = rq.attempts[key]
	if entry.Attempt > MaxRetries {
		rq.totalExhausted++
		return false
	}

	delay := rq.config.BaseDelay
	for i := 1; i < entry.Attempt; i++ {
		delay *= 2
		if delay > rq.config.MaxDelay {
			delay = rq.config.MaxDelay
			break
		}
	}

	entry.NextRetry = time.Now().Add(delay)
	entry.FailedAt = time.Now()

	rq.heap.Push(dsa.HeapItem{
		Key:         chunkKey(entry.ChunkID),
		Priority:    entry.Attempt,
		SubmittedAt: entry.FailedAt,
		Value:       entry,
	})

	rq.totalRetries++
	return true
}

func chunkKey(chunkID uint32) string {
	return ChunkKey(chunkID)
}

// ChunkKey builds the ring/heap key for a chunk ID, exported so callers
// can compute a SuggestSource lookup key matching ScheduleRetry's own.
func ChunkKey(chunkID uint32) string {
	return "chunk-" + strconv.FormatUint(uint64(chunkID), 10)
}

// NextReady pops the heap's top entry (lowest attempt count) if its
// backoff has elapsed. Only the top entry is examined: when its backoff
// has not elapsed, NextReady returns false even if an entry below it is
// already due.
func (rq *RetryQueue) NextReady() (*RetryEntry, bool) {
	rq.mu.Lock()
	defer rq.mu.Unlock()

	item, ok := rq.heap.Peek()
	if !ok {
		return nil, false
	}

	entry, ok := item.Value.(RetryEntry)
	if !ok {
		rq.heap.Pop()
		return nil, false
	}

	if time.Now().Before(entry.NextRetry) {
		return nil, false
	}

	rq.heap.Pop()
	return &entry, true
}

// DrainReady calls NextReady until it returns false or maxBatch entries
// are collected, so it stops at the first top entry that is not yet due.
// The orchestrator calls this once per retry pass,
// capped by the caller at spec's "at most one batch of 10 at a time".
func (rq *RetryQueue) DrainReady(maxBatch int) []RetryEntry {
	var ready []RetryEntry
	for len(ready) < maxBatch {
		entry, ok := rq.NextReady()
		if !ok {
			break
		}
		ready = append(ready, *entry)
	}
	return ready
}

// SuggestSource picks an alternate source for a retried chunk, preferring
// one different from failedSource.
func (rq *RetryQueue) SuggestSource(chunkKey string, failedSource string) string {
	candidates := rq.ring.LookupN(chunkKey, 3)
	for _, c := range candidates {
		if c != failedSource {
			return c
		}
	}
	if len(candidates) > 0 {
		return candidates[0]
	}
	return ""
}

// Forget clears a chunk's attempt history, e.g. once a retried fetch of
// it finally verifies and commits.
func (rq *RetryQueue) Forget(chunkID uint32) {
	rq.mu.Lock()
	defer rq.mu.Unlock()
	delete(rq.attempts, chunkKey(chunkID))
}

// Len returns the number of chunks pending retry.
func (rq *RetryQueue) Len() int {
	return rq.heap.Len()
}

// Stats holds retry queue statistics.
type Stats struct {
	PendingRetries int
	TotalRetries   int64
	TotalExhausted int64
	RetrySources   int
}

// Stats returns current counters.
func (rq *RetryQueue) Stats() Stats {
	rq.mu.Lock()
	pending := rq.heap.Len()
	retries := rq.totalRetries
	exhausted := rq.totalExhausted
	rq.mu.Unlock()

	return Stats{
		PendingRetries: pending,
		TotalRetries:   retries,
		TotalExhausted: exhausted,
		RetrySources:   rq.ring.Size(),
	}
}

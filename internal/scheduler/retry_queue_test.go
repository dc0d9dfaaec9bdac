package scheduler

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestScheduleRetry_ExhaustsAfterMaxRetries(t *testing.T) {
	rq := NewRetryQueue(RetryConfig{BaseDelay: time.Millisecond, MaxDelay: 10 * time.Millisecond})

	entry := RetryEntry{ChunkID: 7, FailedSourceID: "src-a"}
	for i := 0; i < MaxRetries; i++ {
		ok := rq.ScheduleRetry(entry)
		require.True(t, ok, "attempt %d should still be within MaxRetries", i+1)
	}

	ok := rq.ScheduleRetry(entry)
	require.False(t, ok, "attempt beyond MaxRetries must be rejected")

	stats := rq.Stats()
	require.EqualValues(t, 1, stats.TotalExhausted)
}

func TestScheduleRetry_BackoffDelaysReadiness(t *testing.T) {
	rq := NewRetryQueue(RetryConfig{BaseDelay: 50 * time.Millisecond, MaxDelay: time.Second})

	ok := rq.ScheduleRetry(RetryEntry{ChunkID: 1, FailedSourceID: "src-a"})
	require.True(t, ok)

	_, ready := rq.NextReady()
	require.False(t, ready, "chunk should not be ready before its backoff elapses")

	time.Sleep(60 * time.Millisecond)
	entry, ready := rq.NextReady()
	require.True(t, ready)
	require.Equal(t, uint32(1), entry.ChunkID)
}

func TestSuggestSource_AvoidsFailedSource(t *testing.T) {
	rq := NewRetryQueue(DefaultRetryConfig())
	rq.AddSource("src-a")
	rq.AddSource("src-b")
	rq.AddSource("src-c")

	suggestion := rq.SuggestSource("chunk-42", "src-a")
	require.NotEmpty(t, suggestion)
	require.NotEqual(t, "src-a", suggestion)
}

func TestDrainReady_CapsAtMaxBatch(t *testing.T) {
	rq := NewRetryQueue(RetryConfig{BaseDelay: 0, MaxDelay: time.Second})
	for i := uint32(0); i < 5; i++ {
		rq.ScheduleRetry(RetryEntry{ChunkID: i, FailedSourceID: "src-a"})
	}

	batch := rq.DrainReady(3)
	require.Len(t, batch, 3)
	require.Equal(t, 2, rq.Len())
}

// Package metrics provides Prometheus metrics for transferd.
// Counters, gauges, and histograms for transfers, chunks, sources,
// and protocol adapters, namespaced transferd_<noun>_<unit>.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// ─── Transfers ──────────────────────────────────────────────────────────────

// TransfersStarted tracks downloads and seeds started, by direction.
var TransfersStarted = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "transferd",
	Name:      "transfers_started_total",
	Help:      "Total transfers started, by direction (download/seed).",
}, []string{"direction"})

// TransfersCompleted tracks transfers that reached a terminal state.
var TransfersCompleted = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "transferd",
	Name:      "transfers_completed_total",
	Help:      "Total transfers completed, by outcome (completed/failed/cancelled).",
}, []string{"outcome"})

// TransfersActive tracks currently in-flight transfers.
var TransfersActive = promauto.NewGauge(prometheus.GaugeOpts{
	Namespace: "transferd",
	Name:      "transfers_active",
	Help:      "Number of transfers currently downloading or seeding.",
})

// TransferThroughput tracks aggregate bytes/sec observed per transfer at
// each progress tick.
var TransferThroughput = promauto.NewHistogram(prometheus.HistogramOpts{
	Namespace: "transferd",
	Name:      "transfer_throughput_bytes_per_second",
	Help:      "Observed aggregate transfer throughput in bytes per second.",
	Buckets:   prometheus.ExponentialBuckets(1024, 4, 10),
})

// ─── Chunks ─────────────────────────────────────────────────────────────────

// ChunksCompleted tracks chunks that passed verification and were stored,
// by protocol.
var ChunksCompleted = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "transferd",
	Name:      "chunks_completed_total",
	Help:      "Total chunks verified and stored, by protocol.",
}, []string{"protocol"})

// ChunksFailed tracks chunk fetch/verify failures, by protocol and reason.
var ChunksFailed = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "transferd",
	Name:      "chunks_failed_total",
	Help:      "Total chunk failures, by protocol and reason category.",
}, []string{"protocol", "reason"})

// ChunkFetchLatency tracks time from chunk request to verified bytes in hand.
var ChunkFetchLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
	Namespace: "transferd",
	Name:      "chunk_fetch_latency_seconds",
	Help:      "Chunk fetch-and-verify duration in seconds, by protocol.",
	Buckets:   prometheus.DefBuckets,
}, []string{"protocol"})

// ChunkRetries tracks retry attempts scheduled by the retry queue.
var ChunkRetries = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "transferd",
	Name:      "chunk_retries_total",
	Help:      "Total chunk retries scheduled, by protocol.",
}, []string{"protocol"})

// ─── Sources ────────────────────────────────────────────────────────────────

// SourcesActive tracks currently connected sources across all transfers.
var SourcesActive = promauto.NewGaugeVec(prometheus.GaugeOpts{
	Namespace: "transferd",
	Name:      "sources_active",
	Help:      "Number of connected sources, by protocol.",
}, []string{"protocol"})

// SourcesFailed tracks sources that exhausted their retry budget.
var SourcesFailed = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "transferd",
	Name:      "sources_failed_total",
	Help:      "Total sources marked permanently failed, by protocol.",
}, []string{"protocol"})

// SourceConnectLatency tracks time from assignment to connected state.
var SourceConnectLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
	Namespace: "transferd",
	Name:      "source_connect_latency_seconds",
	Help:      "Time from source assignment to connected state, by protocol.",
	Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
}, []string{"protocol"})

// ─── Storage ────────────────────────────────────────────────────────────────

// ChunkStoreBytes tracks total bytes currently held in the chunk store.
var ChunkStoreBytes = promauto.NewGauge(prometheus.GaugeOpts{
	Namespace: "transferd",
	Name:      "chunk_store_bytes",
	Help:      "Total bytes currently held in the content-addressed chunk store.",
})

// ChunkStoreGCRuns tracks garbage collection passes over the chunk store.
var ChunkStoreGCRuns = promauto.NewCounter(prometheus.CounterOpts{
	Namespace: "transferd",
	Name:      "chunk_store_gc_runs_total",
	Help:      "Total chunk store garbage collection passes.",
})

// ChunkStoreOrphansRemoved tracks orphaned chunks reclaimed per GC pass.
var ChunkStoreOrphansRemoved = promauto.NewCounter(prometheus.CounterOpts{
	Namespace: "transferd",
	Name:      "chunk_store_orphans_removed_total",
	Help:      "Total orphaned chunks removed by garbage collection.",
})

// ─── Discovery ──────────────────────────────────────────────────────────────

// DiscoveryLookups tracks metadata/peer lookups against the discovery
// service, by outcome.
var DiscoveryLookups = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "transferd",
	Name:      "discovery_lookups_total",
	Help:      "Total discovery lookups, by kind and outcome.",
}, []string{"kind", "outcome"})

// ─── NAT ────────────────────────────────────────────────────────────────────

// NATType tracks the most recently classified NAT type as a labeled gauge
// pinned to 1, so a PromQL query can group_by(type).
var NATType = promauto.NewGaugeVec(prometheus.GaugeOpts{
	Namespace: "transferd",
	Name:      "nat_type",
	Help:      "Most recently classified local NAT type (value is always 1; group by the type label).",
}, []string{"type"})

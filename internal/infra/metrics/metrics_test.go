package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
)

func gatheredNames(t *testing.T) map[string]bool {
	t.Helper()
	families, err := prometheus.DefaultGatherer.Gather()
	if err != nil {
		t.Fatalf("Gather() error: %v", err)
	}
	names := make(map[string]bool)
	for _, f := range families {
		names[f.GetName()] = true
	}
	return names
}

func TestTransferCounters(t *testing.T) {
	TransfersStarted.WithLabelValues("download").Inc()
	TransfersCompleted.WithLabelValues("completed").Inc()
	TransfersActive.Set(3)
	TransferThroughput.Observe(1_048_576)

	names := gatheredNames(t)
	for _, name := range []string{
		"transferd_transfers_started_total",
		"transferd_transfers_completed_total",
		"transferd_transfers_active",
		"transferd_transfer_throughput_bytes_per_second",
	} {
		if !names[name] {
			t.Errorf("metric %q not found", name)
		}
	}
}

func TestChunkMetrics(t *testing.T) {
	ChunksCompleted.WithLabelValues("http").Inc()
	ChunksFailed.WithLabelValues("ftp", "network").Inc()
	ChunkFetchLatency.WithLabelValues("ed2k").Observe(0.25)
	ChunkRetries.WithLabelValues("bittorrent").Inc()

	names := gatheredNames(t)
	for _, name := range []string{
		"transferd_chunks_completed_total",
		"transferd_chunks_failed_total",
		"transferd_chunk_fetch_latency_seconds",
		"transferd_chunk_retries_total",
	} {
		if !names[name] {
			t.Errorf("metric %q not found", name)
		}
	}
}

func TestSourceMetrics(t *testing.T) {
	SourcesActive.WithLabelValues("p2p").Set(2)
	SourcesFailed.WithLabelValues("ftp").Inc()
	SourceConnectLatency.WithLabelValues("http").Observe(0.5)

	names := gatheredNames(t)
	for _, name := range []string{
		"transferd_sources_active",
		"transferd_sources_failed_total",
		"transferd_source_connect_latency_seconds",
	} {
		if !names[name] {
			t.Errorf("metric %q not found", name)
		}
	}
}

func TestChunkStoreMetrics(t *testing.T) {
	ChunkStoreBytes.Set(1 << 20)
	ChunkStoreGCRuns.Inc()
	ChunkStoreOrphansRemoved.Add(3)

	names := gatheredNames(t)
	for _, name := range []string{
		"transferd_chunk_store_bytes",
		"transferd_chunk_store_gc_runs_total",
		"transferd_chunk_store_orphans_removed_total",
	} {
		if !names[name] {
			t.Errorf("metric %q not found", name)
		}
	}
}

func TestDiscoveryAndNATMetrics(t *testing.T) {
	DiscoveryLookups.WithLabelValues("metadata", "hit").Inc()
	NATType.WithLabelValues("full_cone").Set(1)

	names := gatheredNames(t)
	if !names["transferd_discovery_lookups_total"] {
		t.Error("transferd_discovery_lookups_total not found")
	}
	if !names["transferd_nat_type"] {
		t.Error("transferd_nat_type not found")
	}
}

func TestAllMetricsGatherable(t *testing.T) {
	names := gatheredNames(t)

	transferdMetrics := 0
	for name := range names {
		if len(name) > 10 && name[:10] == "transferd_" {
			transferdMetrics++
		}
	}

	if transferdMetrics < 12 {
		t.Errorf("expected at least 12 transferd_ metrics, got %d", transferdMetrics)
	}
}

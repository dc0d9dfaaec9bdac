package orchestrator

import (
	"context"
	"os"
	"time"

	"github.com/chiral/transferd/internal/adapter"
	"github.com/chiral/transferd/internal/domain"
	"github.com/chiral/transferd/internal/infra/metrics"
	"github.com/chiral/transferd/internal/verify"
)

// bitTorrentReader is the subset of the bittorrent.Adapter surface this
// worker drives beyond the common adapter.Adapter contract: reading
// back the path the embedded engine completed the download to, so the
// worker can slice it into our own chunk plan.
type bitTorrentReader interface {
	ReadCompletedFile(h adapter.Handle) (string, error)
}

// pollInterval is how often the BitTorrent worker checks the embedded
// engine's progress while waiting for the torrent to complete.
const pollInterval = time.Second

// runBitTorrentWorker asks the embedded engine to fetch magnetURI into
// a temporary folder, waits for completion, then reads the whole file
// and slices it into our plan's chunks — BitTorrent is the one adapter
// whose chunks are handed over whole rather than range-fetched.
func (o *Orchestrator) runBitTorrentWorker(ctx context.Context, t *transfer, fileHash, sourceID string, assignment *domain.SourceAssignment, adp adapter.Adapter) {
	defer o.finishWorker(t, sourceID)

	connectStart := time.Now()
	o.setSourceStatus(t.download, sourceID, domain.StatusConnecting)
	o.publish(connectedEvent(fileHash, sourceID))
	metrics.SourceConnectLatency.WithLabelValues(string(domain.ProtocolBitTorrent)).Observe(time.Since(connectStart).Seconds())
	metrics.SourcesActive.WithLabelValues(string(domain.ProtocolBitTorrent)).Inc()
	defer metrics.SourcesActive.WithLabelValues(string(domain.ProtocolBitTorrent)).Dec()

	tmpDir, err := os.MkdirTemp("", "transferd-bt-*")
	if err != nil {
		o.publishSourceDisconnected(fileHash, sourceID, "create temp download dir")
		return
	}

	handle, err := adp.Download(ctx, assignment.Source.MagnetURI, tmpDir)
	if err != nil {
		o.publishSourceDisconnected(fileHash, sourceID, "start torrent download")
		return
	}
	o.setSourceStatus(t.download, sourceID, domain.StatusDownloading)

	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			adp.Cancel(handle)
			return
		case <-ticker.C:
		}

		progress, err := adp.GetProgress(handle)
		if err != nil {
			o.publishSourceDisconnected(fileHash, sourceID, "torrent progress lookup failed")
			return
		}
		if progress.Status == domain.StatusFailed {
			o.publishSourceDisconnected(fileHash, sourceID, "torrent transport failed")
			return
		}
		if progress.Status == domain.StatusCompleted {
			break
		}
	}

	reader, ok := adp.(bitTorrentReader)
	if !ok {
		o.publishSourceDisconnected(fileHash, sourceID, "bittorrent adapter cannot read completed file")
		return
	}
	path, err := reader.ReadCompletedFile(handle)
	if err != nil {
		o.publishSourceDisconnected(fileHash, sourceID, "locate completed torrent file")
		return
	}

	file, err := os.ReadFile(path)
	if err != nil {
		o.publishSourceDisconnected(fileHash, sourceID, "read completed torrent file")
		return
	}

	o.sliceWholeFile(fileHash, t, sourceID, file)
}

// sliceWholeFile slices a whole downloaded file (the BitTorrent
// worker's completed torrent) into the transfer's own chunk plan,
// verifying and storing each slice — the skip path tolerates
// protocol-opaque hashes.
func (o *Orchestrator) sliceWholeFile(fileHash string, t *transfer, sourceID string, file []byte) {
	t.download.Mu.Lock()
	chunks := append([]domain.ChunkInfo{}, t.download.Chunks...)
	t.download.Mu.Unlock()

	for _, c := range chunks {
		var alreadyDone bool
		t.download.WithLock(func() {
			_, alreadyDone = t.download.CompletedChunks[c.ChunkID]
		})
		if alreadyDone {
			continue
		}
		if int(c.Offset)+c.Size > len(file) {
			o.handleChunkFailure(fileHash, t, sourceID, c.ChunkID, domain.ErrShortRead)
			continue
		}
		data := file[c.Offset : c.Offset+uint64(c.Size)]

		if err := verify.Chunk(data, c.Hash); err != nil {
			o.handleChunkFailure(fileHash, t, sourceID, c.ChunkID, err)
			continue
		}

		o.commitChunk(fileHash, t, sourceID, c.ChunkID, data, 0)
	}
}

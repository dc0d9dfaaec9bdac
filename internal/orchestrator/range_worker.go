package orchestrator

import (
	"context"
	"log"
	"time"

	"github.com/chiral/transferd/internal/adapter"
	"github.com/chiral/transferd/internal/domain"
	"github.com/chiral/transferd/internal/infra/metrics"
	"github.com/chiral/transferd/internal/verify"
)

// runRangeWorker drives an HTTP/FTP/ED2K adapter chunk by chunk.
// ED2K's 9.28 MB parent-chunk grouping and caching happen inside the
// ed2k adapter's own FetchRange, so this worker issues the same
// per-chunk fetch/verify/store/emit sequence for all three protocols.
func (o *Orchestrator) runRangeWorker(ctx context.Context, t *transfer, fileHash, sourceID string, assignment *domain.SourceAssignment, rf adapter.RangeFetcher) {
	defer o.finishWorker(t, sourceID)

	protocol := string(assignment.Source.Protocol)
	connectStart := time.Now()
	o.setSourceStatus(t.download, sourceID, domain.StatusConnected)
	now := time.Now()
	t.download.WithLock(func() {
		if a := t.download.SourceAssignments[sourceID]; a != nil {
			a.ConnectedAt = &now
		}
	})
	o.publish(connectedEvent(fileHash, sourceID))
	metrics.SourceConnectLatency.WithLabelValues(protocol).Observe(time.Since(connectStart).Seconds())
	metrics.SourcesActive.WithLabelValues(protocol).Inc()
	defer metrics.SourcesActive.WithLabelValues(protocol).Dec()

	identifier := rangeIdentifier(assignment.Source)

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		chunkID, plan, ok := o.nextAssignedChunk(t.download, sourceID)
		if !ok {
			// The initial round-robin batch is capped at MaxChunksPerSource;
			// top the batch back up before concluding this source is done.
			if o.refillAssignment(t.download, sourceID) == 0 {
				return
			}
			continue
		}

		o.setSourceStatus(t.download, sourceID, domain.StatusDownloading)
		start := time.Now()

		data, err := rf.FetchRange(ctx, identifier, plan.Offset, plan.Size)
		if err != nil {
			o.handleChunkFailure(fileHash, t, sourceID, chunkID, err)
			continue
		}

		if err := verify.Chunk(data, plan.Hash); err != nil {
			o.handleChunkFailure(fileHash, t, sourceID, chunkID, err)
			continue
		}

		o.commitChunk(fileHash, t, sourceID, chunkID, data, time.Since(start))
	}
}

// rangeIdentifier builds the string a RangeFetcher keys its ranged
// read on: the raw URL for HTTP/FTP, "serverURL|fileHashMD4" for ED2K
// (matching the ed2k adapter's own identifier shape).
func rangeIdentifier(s domain.SourceDescriptor) string {
	if s.Protocol == domain.ProtocolEd2k {
		return s.ServerURL + "|" + s.FileHashMD4
	}
	return s.URL
}

// nextAssignedChunk pops (without removing, so a failed fetch can be
// retried by another worker) the next chunk_id still assigned to
// sourceID and not yet completed.
func (o *Orchestrator) nextAssignedChunk(dl *domain.ActiveDownload, sourceID string) (uint32, domain.ChunkInfo, bool) {
	dl.Mu.Lock()
	defer dl.Mu.Unlock()

	a, ok := dl.SourceAssignments[sourceID]
	if !ok || len(a.ChunkIDs) == 0 {
		return 0, domain.ChunkInfo{}, false
	}

	var chosen uint32
	found := false
	for _, id := range a.ChunkIDs {
		if _, done := dl.CompletedChunks[id]; !done {
			chosen = id
			found = true
			break
		}
	}
	if !found {
		return 0, domain.ChunkInfo{}, false
	}

	for _, c := range dl.Chunks {
		if c.ChunkID == chosen {
			return chosen, c, true
		}
	}
	return 0, domain.ChunkInfo{}, false
}

// refillAssignment tops sourceID's batch back up to MaxChunksPerSource
// from chunks not completed, not assigned to any source, and not queued
// for retry, returning the number added. Without this, a transfer with
// more than MaxChunksPerSource×|sources| chunks would stall once every
// source drained its initial batch.
func (o *Orchestrator) refillAssignment(dl *domain.ActiveDownload, sourceID string) int {
	dl.Mu.Lock()
	defer dl.Mu.Unlock()

	a, ok := dl.SourceAssignments[sourceID]
	if !ok {
		return 0
	}

	assigned := make(map[uint32]bool)
	for _, as := range dl.SourceAssignments {
		for _, id := range as.ChunkIDs {
			assigned[id] = true
		}
	}
	queued := make(map[uint32]bool, len(dl.FailedChunks))
	for _, id := range dl.FailedChunks {
		queued[id] = true
	}

	added := 0
	for _, c := range dl.Chunks {
		if len(a.ChunkIDs) >= MaxChunksPerSource {
			break
		}
		if _, done := dl.CompletedChunks[c.ChunkID]; done {
			continue
		}
		if assigned[c.ChunkID] || queued[c.ChunkID] {
			continue
		}
		a.ChunkIDs = append(a.ChunkIDs, c.ChunkID)
		added++
	}
	return added
}

// commitChunk persists a verified chunk, records completion, updates
// the assignment, and emits ChunkCompleted.
func (o *Orchestrator) commitChunk(fileHash string, t *transfer, sourceID string, chunkID uint32, data []byte, duration time.Duration) {
	if isCanceled(t.download) {
		return
	}
	fileHashCopy := t.download.FileMetadata.FileHash
	protocol := sourceProtocol(t.download, sourceID)

	var plan domain.ChunkInfo
	for _, c := range t.download.Chunks {
		if c.ChunkID == chunkID {
			plan = c
			break
		}
	}
	if err := o.store.Put(fileHashCopy, chunkID, data, plan.Hash); err != nil {
		o.handleChunkFailure(fileHash, t, sourceID, chunkID, err)
		return
	}

	now := time.Now()
	t.download.WithLock(func() {
		t.download.CompletedChunks[chunkID] = domain.CompletedChunk{
			ChunkID:     chunkID,
			Data:        data,
			SourceID:    sourceID,
			CompletedAt: now,
		}
		if a := t.download.SourceAssignments[sourceID]; a != nil {
			a.RemoveChunk(chunkID)
			a.Touch(now)
		}
		for i, id := range t.download.FailedChunks {
			if id == chunkID {
				t.download.FailedChunks = append(t.download.FailedChunks[:i], t.download.FailedChunks[i+1:]...)
				break
			}
		}
	})

	t.retryQueue.Forget(chunkID)

	evt := domain.NewEvent(domain.EventChunkCompleted, fileHash)
	evt.SourceID = sourceID
	evt.ChunkID = chunkID
	evt.DownloadDurationMs = duration.Milliseconds()
	o.publish(evt)

	metrics.ChunksCompleted.WithLabelValues(protocol).Inc()
	if duration > 0 {
		metrics.ChunkFetchLatency.WithLabelValues(protocol).Observe(duration.Seconds())
	}

	if err := o.saveState(fileHash, t.download); err != nil {
		log.Printf("[orchestrator] save persisted state for %s: %v", fileHash, err)
	}
}

// isCanceled reports whether the transfer was canceled, so a worker
// still unwinding from an in-flight fetch never emits events after
// Canceled.
func isCanceled(dl *domain.ActiveDownload) bool {
	dl.Mu.Lock()
	defer dl.Mu.Unlock()
	return dl.Canceled
}

func (o *Orchestrator) setSourceStatus(dl *domain.ActiveDownload, sourceID string, status domain.SourceStatus) {
	dl.WithLock(func() {
		if a := dl.SourceAssignments[sourceID]; a != nil {
			a.Status = status
		}
	})
}

func connectedEvent(fileHash, sourceID string) domain.TransferEvent {
	evt := domain.NewEvent(domain.EventSourceConnected, fileHash)
	evt.SourceID = sourceID
	return evt
}

// finishWorker removes sourceID's cancel func from the live-worker set
// once its goroutine returns, so a later retry pass can respawn it.
func (o *Orchestrator) finishWorker(t *transfer, sourceID string) {
	t.workersMu.Lock()
	delete(t.workers, sourceID)
	t.workersMu.Unlock()
}

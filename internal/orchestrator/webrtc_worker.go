package orchestrator

import (
	"context"
	"strings"
	"time"

	"github.com/chiral/transferd/internal/adapter"
	"github.com/chiral/transferd/internal/domain"
	"github.com/chiral/transferd/internal/infra/metrics"
	"github.com/chiral/transferd/internal/verify"
)

// webrtcSignaler is the subset of the webrtc.Adapter surface this
// worker drives beyond the common adapter.Adapter contract: session
// setup and the polling bridge into its event-driven receive state
// machine (the adapter's download side already assembles and acks
// chunks on its own; the orchestrator only needs to observe what has
// arrived so it can verify, store, and finalize through the same path
// every other protocol uses).
type webrtcSignaler interface {
	CreateOffer(ctx context.Context, peerID string) (string, error)
	RequestFile(ctx context.Context, peerID, fileHash string) error
	Received(peerID, fileHash string) map[uint32][]byte
}

// webrtcPollInterval is how often the orchestrator's WebRTC worker
// checks for newly assembled chunks, since the adapter's own receive
// path is message-driven rather than pull-driven.
const webrtcPollInterval = 500 * time.Millisecond

// runWebRTCWorker establishes a session with the peer and polls the
// adapter's receive buffer for this transfer's chunks, committing each
// newly observed one through the shared commit path. Offer/answer
// signaling with the remote peer is assumed to have already happened
// out of band (over the discovery service's signaling channel) by the
// time Start assigns a P2P source; CreateOffer here only ensures a
// local peer connection exists for a node initiating first contact.
func (o *Orchestrator) runWebRTCWorker(ctx context.Context, t *transfer, fileHash, sourceID string, assignment *domain.SourceAssignment, adp adapter.Adapter) {
	defer o.finishWorker(t, sourceID)

	signaler, ok := adp.(webrtcSignaler)
	if !ok {
		o.publishSourceDisconnected(fileHash, sourceID, "webrtc adapter missing signaling surface")
		return
	}

	peerID := strings.TrimPrefix(sourceID, "p2p:")
	o.setSourceStatus(t.download, sourceID, domain.StatusConnecting)
	connectStart := time.Now()

	if _, err := signaler.CreateOffer(ctx, peerID); err != nil {
		o.publishSourceDisconnected(fileHash, sourceID, "webrtc offer failed")
		return
	}

	// The offer only opens the peer connection; nothing flows until the
	// seed side sees a FileRequest, since runSeedSend is exclusively
	// triggered from handleMessage's MsgFileRequest case.
	if err := signaler.RequestFile(ctx, peerID, fileHash); err != nil {
		o.publishSourceDisconnected(fileHash, sourceID, "webrtc file request failed")
		return
	}

	o.publish(connectedEvent(fileHash, sourceID))
	metrics.SourceConnectLatency.WithLabelValues(string(domain.ProtocolP2P)).Observe(time.Since(connectStart).Seconds())
	metrics.SourcesActive.WithLabelValues(string(domain.ProtocolP2P)).Inc()
	defer metrics.SourcesActive.WithLabelValues(string(domain.ProtocolP2P)).Dec()
	o.setSourceStatus(t.download, sourceID, domain.StatusDownloading)

	ticker := time.NewTicker(webrtcPollInterval)
	defer ticker.Stop()

	seen := make(map[uint32]bool)
	for {
		select {
		case <-ctx.Done():
			adp.Cancel(adapter.Handle("webrtc:" + peerID))
			return
		case <-ticker.C:
		}

		received := signaler.Received(peerID, fileHash)
		for chunkID, data := range received {
			if seen[chunkID] {
				continue
			}
			seen[chunkID] = true
			o.commitReceivedWebRTCChunk(fileHash, t, sourceID, chunkID, data)
		}

		if t.download.IsComplete() {
			return
		}
	}
}

// commitReceivedWebRTCChunk re-verifies a chunk the adapter already
// checksummed (over the bytes as sent, against the sender's own
// claim) against this transfer's plan hash before storing it —
// the same verifier call every other protocol's commit path makes, so
// stored bytes passed the verifier no matter the protocol. A skip-path hash
// (the common case for WebRTC sources) is honored, not re-derived.
func (o *Orchestrator) commitReceivedWebRTCChunk(fileHash string, t *transfer, sourceID string, chunkID uint32, data []byte) {
	var plan domain.ChunkInfo
	var found bool
	t.download.WithLock(func() {
		for _, c := range t.download.Chunks {
			if c.ChunkID == chunkID {
				plan = c
				found = true
				break
			}
		}
	})
	if !found {
		o.handleChunkFailure(fileHash, t, sourceID, chunkID, domain.ErrChunkOutOfPlan)
		return
	}
	if err := verify.Chunk(data, plan.Hash); err != nil {
		o.handleChunkFailure(fileHash, t, sourceID, chunkID, err)
		return
	}
	o.commitChunk(fileHash, t, sourceID, chunkID, data, 0)
}

// Package discovery is a thin client to the external Kademlia DHT
// service: peer/metadata discovery is an external collaborator, so this
// package only defines the interface the orchestrator consumes and a
// fixed-table implementation useful for tests and single-source
// (non-P2P) transfers.
package discovery

import (
	"context"
	"time"

	"github.com/chiral/transferd/internal/domain"
)

// MetadataTimeout bounds a blocking metadata lookup.
const MetadataTimeout = 35 * time.Second

// Client is the external collaborator surface the orchestrator
// consumes: discover_peers_for_file, search_metadata,
// send_webrtc_offer, connect_to_peer_by_id.
type Client interface {
	// SearchMetadata resolves a content identifier to its file
	// metadata (name, size, content root, per-protocol source hints).
	// Returns domain.ErrNotFound if the DHT has no record.
	SearchMetadata(ctx context.Context, fileHash string) (domain.FileMetadata, error)

	// DiscoverPeersForFile returns P2P peers currently known to be
	// serving fileHash.
	DiscoverPeersForFile(ctx context.Context, fileHash string) ([]domain.SourceDescriptor, error)

	// ConnectToPeerByID resolves a known peer ID to a dialable address
	// hint, used by the WebRTC adapter's signaling path.
	ConnectToPeerByID(ctx context.Context, peerID string) (string, error)

	// SendWebRTCOffer relays an SDP offer to peerID via the DHT's
	// signaling channel and returns the peer's SDP answer (or an
	// "error:"-prefixed rejection).
	SendWebRTCOffer(ctx context.Context, peerID, offerSDP string) (string, error)
}

// StaticClient is a Client backed by a fixed, pre-populated metadata
// table — useful for tests and for deployments where metadata arrives
// out of band (e.g. a magnet link or direct URL given on the command
// line) rather than through a live DHT.
type StaticClient struct {
	metadata map[string]domain.FileMetadata
	peers    map[string][]domain.SourceDescriptor
}

// NewStaticClient builds a StaticClient with no registered files.
func NewStaticClient() *StaticClient {
	return &StaticClient{
		metadata: make(map[string]domain.FileMetadata),
		peers:    make(map[string][]domain.SourceDescriptor),
	}
}

// Register makes meta resolvable by SearchMetadata and peers
// resolvable by DiscoverPeersForFile for meta.FileHash.
func (c *StaticClient) Register(meta domain.FileMetadata, peers []domain.SourceDescriptor) {
	c.metadata[meta.FileHash] = meta
	c.peers[meta.FileHash] = peers
}

func (c *StaticClient) SearchMetadata(ctx context.Context, fileHash string) (domain.FileMetadata, error) {
	meta, ok := c.metadata[fileHash]
	if !ok {
		return domain.FileMetadata{}, domain.NewError(domain.CategoryNotFound, "no metadata for file hash", domain.ErrNotFound)
	}
	return meta, nil
}

func (c *StaticClient) DiscoverPeersForFile(ctx context.Context, fileHash string) ([]domain.SourceDescriptor, error) {
	return c.peers[fileHash], nil
}

func (c *StaticClient) ConnectToPeerByID(ctx context.Context, peerID string) (string, error) {
	return "", domain.NewError(domain.CategoryNotFound, "static discovery client has no peer directory", domain.ErrNotFound)
}

func (c *StaticClient) SendWebRTCOffer(ctx context.Context, peerID, offerSDP string) (string, error) {
	return "", domain.NewError(domain.CategoryNotFound, "static discovery client cannot relay signaling", domain.ErrNotFound)
}

package domain

import "fmt"

// SourceProtocol names the protocol family a source speaks.
type SourceProtocol string

const (
	ProtocolP2P        SourceProtocol = "p2p"
	ProtocolHTTP       SourceProtocol = "http"
	ProtocolFTP        SourceProtocol = "ftp"
	ProtocolBitTorrent SourceProtocol = "bittorrent"
	ProtocolEd2k       SourceProtocol = "ed2k"
)

// SourceDescriptor is a tagged union over every kind of download source.
// Exactly one of the embedded field groups is populated, selected by
// Protocol. Adapters type-switch on the concrete variant via the accessor
// methods below rather than inspecting Protocol directly where possible.
type SourceDescriptor struct {
	Protocol SourceProtocol

	// P2P
	PeerID       string
	PeerProtocol string

	// Http
	URL string

	// Ftp (URL reused)
	Username           string
	EncryptedPassword  string
	Passive            bool
	UseFTPS            bool
	TimeoutSeconds     int

	// BitTorrent
	MagnetURI string

	// Ed2k
	ServerURL       string
	FileHashMD4     string
	FileSize        uint64
	ChunkMD4Hashes  []string
}

// Identifier returns the primary key of this source within a transfer.
func (s SourceDescriptor) Identifier() string {
	switch s.Protocol {
	case ProtocolP2P:
		return "p2p:" + s.PeerID
	case ProtocolHTTP:
		return "http:" + s.URL
	case ProtocolFTP:
		return "ftp:" + s.URL
	case ProtocolBitTorrent:
		return "bt:" + s.MagnetURI
	case ProtocolEd2k:
		return "ed2k:" + s.ServerURL + ":" + s.FileHashMD4
	default:
		return fmt.Sprintf("unknown:%p", &s)
	}
}

// PriorityScore ranks sources for selection; higher is preferred. The
// score is the protocol tier (direct peer-to-peer and swarm sources beat
// centralized servers) minus the identifier's length modulo 100. Two
// sources of the same protocol whose identifiers have equal length get
// the same score.
func (s SourceDescriptor) PriorityScore() int32 {
	var tier int32
	switch s.Protocol {
	case ProtocolP2P:
		tier = 500
	case ProtocolBitTorrent:
		tier = 400
	case ProtocolEd2k:
		tier = 300
	case ProtocolFTP:
		tier = 200
	case ProtocolHTTP:
		tier = 100
	}
	// Sub-ordering by identifier length within a tier.
	return tier - int32(len(s.Identifier()))%100
}

// SourceStatus is the lifecycle state of one SourceAssignment.
type SourceStatus string

const (
	StatusConnecting  SourceStatus = "connecting"
	StatusConnected   SourceStatus = "connected"
	StatusDownloading SourceStatus = "downloading"
	StatusFailed      SourceStatus = "failed"
	StatusCompleted   SourceStatus = "completed"
)

// IsActive reports whether a source in this status can still receive
// reassigned chunks (matches the retry/rebalance rule in the orchestrator).
func (s SourceStatus) IsActive() bool {
	return s == StatusConnected || s == StatusDownloading
}

// Package adapter defines the uniform contract every protocol
// implementation (HTTP, FTP, BitTorrent, ED2K, WebRTC) satisfies, plus
// the magnet-URI and ED2K-link helpers the orchestrator uses to
// translate discovery metadata into concrete SourceDescriptors.
package adapter

import (
	"context"

	"github.com/chiral/transferd/internal/domain"
)

// Capabilities describes what an adapter can do, so the orchestrator
// can decide whether to offer pause/resume, seeding, or encryption for
// a given source without a protocol-specific switch statement.
type Capabilities struct {
	SupportsSeeding      bool
	SupportsPauseResume  bool
	SupportsMultiSource  bool
	SupportsEncryption   bool
	SupportsDHT          bool
}

// Progress reports an in-flight download's state from the adapter's
// point of view, independent of the orchestrator's own chunk bookkeeping.
type Progress struct {
	BytesDownloaded int64
	TotalBytes      int64
	Status          domain.SourceStatus
}

// SeedingInfo is returned by Seed when an adapter supports uploading,
// e.g. a magnet URI peers can use to find this node as a source.
type SeedingInfo struct {
	Identifier string
	Detail     string
}

// Handle identifies one in-flight adapter-managed download so later
// Pause/Resume/Cancel/GetProgress calls can address it.
type Handle string

// RangeFetcher is implemented by adapters the orchestrator drives directly
// at chunk granularity (HTTP, FTP, ED2K): issue one ranged read against
// identifier and return exactly the requested bytes, or a categorized
// error — short reads are domain.ErrShortRead, never a partial
// success. Source-level transport errors should disable the caller's
// source rather than panicking; this method only reports one chunk.
type RangeFetcher interface {
	FetchRange(ctx context.Context, identifier string, offset uint64, size int) ([]byte, error)
}

// Adapter is the uniform surface every protocol implementation exposes.
// A single adapter instance may serve many concurrent transfers; Handle
// disambiguates between them.
type Adapter interface {
	// Name identifies the adapter, e.g. "http", "ftp", "ed2k".
	Name() string

	// Supports reports whether identifier (a URL, magnet URI, or ED2K
	// link) is one this adapter knows how to handle.
	Supports(identifier string) bool

	// Download starts fetching identifier's bytes into outputPath,
	// returning a Handle for progress/cancellation, or an error from
	// the closed taxonomy in internal/domain/errors.go.
	Download(ctx context.Context, identifier string, outputPath string) (Handle, error)

	// Seed exposes filePath as an upload source, if this adapter
	// supports seeding; else returns domain.ErrNotFound-shaped error.
	Seed(ctx context.Context, filePath string) (SeedingInfo, error)

	Pause(handle Handle) error
	Resume(handle Handle) error
	Cancel(handle Handle) error

	GetProgress(handle Handle) (Progress, error)

	Capabilities() Capabilities
}

package domain

import (
	"sync"
	"time"
)

// FileMetadata is what the discovery service returns for a content
// identifier: name, size, content root, and per-protocol source hints.
type FileMetadata struct {
	FileHash    string
	FileName    string
	FileSize    uint64
	MerkleRoot  string
	Sources     []SourceDescriptor
	InfoHash    string   // BitTorrent, if present
	Trackers    []string // BitTorrent, if present
	ChunkHashes map[uint32]string
}

// ActiveDownload is the per-transfer root record. It is mutated under Mu by
// the orchestrator and its workers; workers must never hold Mu across
// network I/O or an event-bus send (see ActiveDownload.WithLock).
type ActiveDownload struct {
	Mu sync.Mutex

	FileMetadata       FileMetadata
	Chunks             []ChunkInfo
	SourceAssignments  map[string]*SourceAssignment
	CompletedChunks    map[uint32]CompletedChunk
	PendingRequests    int
	FailedChunks       []uint32 // FIFO
	StartTime          time.Time
	OutputPath         string
	Ed2kChunkHashes    []string
	Canceled           bool
}

// NewActiveDownload builds an empty root record for a freshly planned
// transfer.
func NewActiveDownload(meta FileMetadata, chunks []ChunkInfo, outputPath string) *ActiveDownload {
	return &ActiveDownload{
		FileMetadata:      meta,
		Chunks:            chunks,
		SourceAssignments: make(map[string]*SourceAssignment),
		CompletedChunks:   make(map[uint32]CompletedChunk),
		StartTime:         time.Now(),
		OutputPath:        outputPath,
	}
}

// WithLock runs fn with Mu held. Callers must keep fn free of I/O: no
// network calls, no event-bus sends, no filesystem writes. The methods
// below and the orchestrator also lock Mu directly, under the same rule.
func (d *ActiveDownload) WithLock(fn func()) {
	d.Mu.Lock()
	defer d.Mu.Unlock()
	fn()
}

// CompletedCount returns the number of verified chunks, taking the lock.
func (d *ActiveDownload) CompletedCount() int {
	d.Mu.Lock()
	defer d.Mu.Unlock()
	return len(d.CompletedChunks)
}

// IsComplete reports whether every planned chunk has been verified.
func (d *ActiveDownload) IsComplete() bool {
	d.Mu.Lock()
	defer d.Mu.Unlock()
	return len(d.CompletedChunks) == len(d.Chunks)
}

// ActiveSourceCount counts assignments currently Connected or Downloading.
func (d *ActiveDownload) ActiveSourceCount() int {
	d.Mu.Lock()
	defer d.Mu.Unlock()
	n := 0
	for _, a := range d.SourceAssignments {
		if a.Status.IsActive() {
			n++
		}
	}
	return n
}

// BytesDone returns the sum of completed chunk sizes.
func (d *ActiveDownload) BytesDone() uint64 {
	d.Mu.Lock()
	defer d.Mu.Unlock()
	var total uint64
	for _, c := range d.CompletedChunks {
		total += uint64(len(c.Data))
	}
	return total
}

// DownloadStats is a point-in-time aggregate of a transfer's progress,
// independent of the event bus so a caller (e.g. a CLI status subcommand)
// can poll it without subscribing to events.
type DownloadStats struct {
	FileHash         string
	BytesDownloaded  uint64
	TotalBytes       uint64
	DownloadSpeedBps float64
	SourcesActive    int
	SourcesTotal     int
	TimeRemainingS   float64
	ChunksCompleted  int
	ChunksTotal      int
}

// Package orchestrator is the Multi-Source Download Orchestrator: chunk
// planning, source ranking/assignment, per-source workers, retry and
// rebalancing, progress monitoring, and finalization. Shared state
// lives behind one writer lock per transfer, held only for in-memory
// mutation, never across I/O or an event-bus send.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/chiral/transferd/internal/adapter"
	"github.com/chiral/transferd/internal/chunkstore"
	"github.com/chiral/transferd/internal/discovery"
	"github.com/chiral/transferd/internal/domain"
	"github.com/chiral/transferd/internal/eventbus"
	"github.com/chiral/transferd/internal/infra/metrics"
	"github.com/chiral/transferd/internal/scheduler"
	"github.com/chiral/transferd/internal/verify"
)

// Planning, assignment, and retry tunables.
const (
	DefaultChunkSize      = domain.DefaultChunkSize
	MaxChunksPerSource    = 10
	MinChunksForParallel  = 4
	ConnectionTimeout     = 30 * time.Second
	MaxRetries            = scheduler.MaxRetries
	PaymentThresholdBytes = domain.PaymentThresholdBytes

	progressTick = 2 * time.Second
	retryBatch   = 10
)

// Registry resolves a domain.SourceProtocol to the adapter.Adapter that
// serves it. The orchestrator never imports a concrete protocol package
// directly; callers wire concrete adapters in at construction.
type Registry struct {
	adapters map[domain.SourceProtocol]adapter.Adapter
}

// NewRegistry builds an empty adapter registry.
func NewRegistry() *Registry {
	return &Registry{adapters: make(map[domain.SourceProtocol]adapter.Adapter)}
}

// Register binds proto to a. Overwrites any previous binding.
func (r *Registry) Register(proto domain.SourceProtocol, a adapter.Adapter) {
	r.adapters[proto] = a
}

func (r *Registry) get(proto domain.SourceProtocol) (adapter.Adapter, bool) {
	a, ok := r.adapters[proto]
	return a, ok
}

// Get exposes the adapter bound to proto, for callers outside the
// orchestrator package that need to drive an adapter directly (e.g. the
// daemon's seed command).
func (r *Registry) Get(proto domain.SourceProtocol) (adapter.Adapter, bool) {
	return r.get(proto)
}

// transfer bundles an ActiveDownload with the runtime state the
// orchestrator needs to drive it: a cancellation token, its retry
// queue, and the set of source IDs with a running worker goroutine.
type transfer struct {
	download   *domain.ActiveDownload
	cancel     context.CancelFunc
	retryQueue *scheduler.RetryQueue

	workersMu sync.Mutex
	workers   map[string]context.CancelFunc
}

// Orchestrator is the core download coordinator. One instance serves
// every concurrent transfer in the process.
type Orchestrator struct {
	registry    *Registry
	discovery   discovery.Client
	store       *chunkstore.Store
	bus         *eventbus.Bus
	downloadDir string

	mu        sync.Mutex
	transfers map[string]*transfer
}

// Config wires an Orchestrator to its collaborators.
type Config struct {
	Registry    *Registry
	Discovery   discovery.Client
	Store       *chunkstore.Store
	Bus         *eventbus.Bus
	DownloadDir string // where ./downloads/<file_hash>.state is written
}

// New constructs an Orchestrator.
func New(cfg Config) *Orchestrator {
	return &Orchestrator{
		registry:    cfg.Registry,
		discovery:   cfg.Discovery,
		store:       cfg.Store,
		bus:         cfg.Bus,
		downloadDir: cfg.DownloadDir,
		transfers:   make(map[string]*transfer),
	}
}

func (o *Orchestrator) publish(evt domain.TransferEvent) {
	if o.bus != nil {
		o.bus.Publish(evt)
	}
}

// Start begins a new download: metadata lookup, source collection and
// ranking, chunk planning, persisted-chunk admission, assignment, and
// worker startup.
func (o *Orchestrator) Start(ctx context.Context, fileHash, outputPath string, chunkSize int) error {
	o.mu.Lock()
	if _, active := o.transfers[fileHash]; active {
		o.mu.Unlock()
		return domain.NewError(domain.CategoryState, "download already active", domain.ErrAlreadyActive)
	}
	o.mu.Unlock()

	metaCtx, cancelMeta := context.WithTimeout(ctx, discovery.MetadataTimeout)
	meta, err := o.discovery.SearchMetadata(metaCtx, fileHash)
	cancelMeta()
	if err != nil {
		metrics.DiscoveryLookups.WithLabelValues("metadata", "miss").Inc()
		return domain.NewError(domain.CategoryNotFound, "metadata search failed", err)
	}
	metrics.DiscoveryLookups.WithLabelValues("metadata", "hit").Inc()

	sources := o.collectSources(ctx, meta)
	chunks := domain.BuildChunkPlan(meta.FileSize, chunkSize, meta.MerkleRoot, meta.ChunkHashes)

	dl := domain.NewActiveDownload(meta, chunks, outputPath)

	maxSources := 1
	useMultiSource := len(chunks) >= MinChunksForParallel && len(sources) > 1
	if useMultiSource {
		maxSources = len(sources)
	}

	sort.Slice(sources, func(i, j int) bool {
		return sources[i].PriorityScore() > sources[j].PriorityScore()
	})
	if len(sources) > maxSources {
		sources = sources[:maxSources]
	}

	// Scan the Chunk Store for already-persisted chunks, re-verifying
	// each before admitting it as completed.
	o.admitPersistedChunks(dl)

	t := &transfer{
		download:   dl,
		retryQueue: scheduler.NewRetryQueue(scheduler.DefaultRetryConfig()),
		workers:    make(map[string]context.CancelFunc),
	}
	transferCtx, cancel := context.WithCancel(ctx)
	t.cancel = cancel

	o.mu.Lock()
	o.transfers[fileHash] = t
	o.mu.Unlock()

	metrics.TransfersStarted.WithLabelValues("download").Inc()
	metrics.TransfersActive.Inc()

	if dl.IsComplete() {
		return o.finalize(fileHash)
	}

	if err := o.saveState(fileHash, dl); err != nil {
		log.Printf("[orchestrator] save persisted state for %s: %v", fileHash, err)
	}

	assignments := assignRoundRobin(chunks, sources, dl.CompletedChunks)

	dl.WithLock(func() {
		dl.SourceAssignments = assignments
	})
	for id := range assignments {
		t.retryQueue.AddSource(id)
	}

	startEvt := domain.NewEvent(domain.EventStarted, fileHash)
	startEvt.Sources = sources
	o.publish(startEvt)

	for id, assignment := range assignments {
		o.startWorker(transferCtx, t, fileHash, id, assignment)
	}

	go o.monitorProgress(transferCtx, fileHash)

	return nil
}

// collectSources merges discovered P2P peers with the metadata's own
// FTP/HTTP/ED2K/BitTorrent hints, synthesizing a magnet URI when only
// an info_hash is present.
func (o *Orchestrator) collectSources(ctx context.Context, meta domain.FileMetadata) []domain.SourceDescriptor {
	sources := append([]domain.SourceDescriptor{}, meta.Sources...)

	if o.discovery != nil {
		peers, err := o.discovery.DiscoverPeersForFile(ctx, meta.FileHash)
		if err != nil {
			metrics.DiscoveryLookups.WithLabelValues("peers", "miss").Inc()
		} else {
			metrics.DiscoveryLookups.WithLabelValues("peers", "hit").Inc()
			sources = append(sources, peers...)
		}
	}

	hasBT := false
	for _, s := range sources {
		if s.Protocol == domain.ProtocolBitTorrent {
			hasBT = true
			break
		}
	}
	if !hasBT && meta.InfoHash != "" {
		sources = append(sources, domain.SourceDescriptor{
			Protocol:  domain.ProtocolBitTorrent,
			MagnetURI: adapter.SynthesizeMagnetURI(meta.InfoHash, meta.Trackers),
		})
	}

	return sources
}

// admitPersistedChunks scans the Chunk Store for fileHash and admits
// every chunk that re-verifies against the plan's hash; anything that
// fails verification is left for a worker to re-fetch.
func (o *Orchestrator) admitPersistedChunks(dl *domain.ActiveDownload) {
	ids, err := o.store.Scan(dl.FileMetadata.FileHash)
	if err != nil {
		return
	}

	byID := make(map[uint32]domain.ChunkInfo, len(dl.Chunks))
	for _, c := range dl.Chunks {
		byID[c.ChunkID] = c
	}

	for _, id := range ids {
		plan, ok := byID[id]
		if !ok {
			continue
		}
		data, err := o.store.Get(dl.FileMetadata.FileHash, id)
		if err != nil {
			continue
		}
		if err := verify.Chunk(data, plan.Hash); err != nil {
			continue
		}
		dl.WithLock(func() {
			dl.CompletedChunks[id] = domain.CompletedChunk{
				ChunkID:     id,
				Data:        data,
				SourceID:    "persisted",
				CompletedAt: time.Now(),
			}
		})
	}

	evt := domain.NewEvent(domain.EventProgress, dl.FileMetadata.FileHash)
	evt.Stats = o.statsFor(dl)
	o.publish(evt)
}

// assignRoundRobin distributes not-yet-completed chunks across sources
// round-robin, respecting MaxChunksPerSource, then balances remaining
// load to at most ceil(remaining/len(sources)) per source.
func assignRoundRobin(chunks []domain.ChunkInfo, sources []domain.SourceDescriptor, completed map[uint32]domain.CompletedChunk) map[string]*domain.SourceAssignment {
	assignments := make(map[string]*domain.SourceAssignment, len(sources))
	if len(sources) == 0 {
		return assignments
	}
	for _, s := range sources {
		assignments[s.Identifier()] = &domain.SourceAssignment{Source: s, Status: domain.StatusConnecting}
	}

	var pending []uint32
	for _, c := range chunks {
		if _, done := completed[c.ChunkID]; !done {
			pending = append(pending, c.ChunkID)
		}
	}

	perSourceCap := (len(pending) + len(sources) - 1) / len(sources)
	if perSourceCap > MaxChunksPerSource {
		perSourceCap = MaxChunksPerSource
	}
	if perSourceCap == 0 {
		perSourceCap = 1
	}

	idx := 0
	for _, id := range pending {
		for tries := 0; tries < len(sources); tries++ {
			s := sources[idx%len(sources)]
			idx++
			a := assignments[s.Identifier()]
			if len(a.ChunkIDs) < perSourceCap {
				a.ChunkIDs = append(a.ChunkIDs, id)
				break
			}
		}
	}

	return assignments
}

func (o *Orchestrator) statsFor(dl *domain.ActiveDownload) *domain.DownloadStats {
	dl.Mu.Lock()
	total := domain.TotalSize(dl.Chunks)
	completedCount := len(dl.CompletedChunks)
	totalChunks := len(dl.Chunks)
	sourcesTotal := len(dl.SourceAssignments)
	var sourcesActive int
	for _, a := range dl.SourceAssignments {
		if a.Status.IsActive() {
			sourcesActive++
		}
	}
	elapsed := time.Since(dl.StartTime).Seconds()
	dl.Mu.Unlock()

	bytesDone := dl.BytesDone()
	var speed float64
	if elapsed > 0 {
		speed = float64(bytesDone) / elapsed
	}
	var eta float64
	if speed > 0 && total > bytesDone {
		eta = float64(total-bytesDone) / speed
	}

	return &domain.DownloadStats{
		FileHash:         dl.FileMetadata.FileHash,
		BytesDownloaded:  bytesDone,
		TotalBytes:       total,
		DownloadSpeedBps: speed,
		SourcesActive:    sourcesActive,
		SourcesTotal:     sourcesTotal,
		TimeRemainingS:   eta,
		ChunksCompleted:  completedCount,
		ChunksTotal:      totalChunks,
	}
}

// ActiveTransferIDs returns the file hash of every transfer currently
// tracked in the active map, for callers (the chunk store's stale sweep)
// that must not reclaim a directory still in flight.
func (o *Orchestrator) ActiveTransferIDs() []string {
	o.mu.Lock()
	defer o.mu.Unlock()
	ids := make([]string, 0, len(o.transfers))
	for id := range o.transfers {
		ids = append(ids, id)
	}
	return ids
}

// Progress returns a point-in-time snapshot for fileHash, independent
// of the event bus.
func (o *Orchestrator) Progress(fileHash string) (*domain.DownloadStats, error) {
	o.mu.Lock()
	t, ok := o.transfers[fileHash]
	o.mu.Unlock()
	if !ok {
		return nil, domain.NewError(domain.CategoryNotFound, "no such active download", domain.ErrNotFound)
	}
	return o.statsFor(t.download), nil
}

// Cancel removes fileHash from the active set, closes every source
// according to its protocol, and emits Canceled.
func (o *Orchestrator) Cancel(fileHash string) error {
	o.mu.Lock()
	t, ok := o.transfers[fileHash]
	if ok {
		delete(o.transfers, fileHash)
	}
	o.mu.Unlock()
	if !ok {
		return domain.NewError(domain.CategoryNotFound, "no such active download", domain.ErrNotFound)
	}

	t.download.WithLock(func() {
		t.download.Canceled = true
	})
	t.cancel()

	t.workersMu.Lock()
	for _, stop := range t.workers {
		stop()
	}
	t.workersMu.Unlock()

	o.closeSources(t.download)

	o.publish(domain.NewEvent(domain.EventCanceled, fileHash))
	metrics.TransfersCompleted.WithLabelValues("cancelled").Inc()
	metrics.TransfersActive.Dec()
	return nil
}

// closeSources tears down each assigned source according to its
// protocol: WebRTC peer connections close, FTP
// streams return to the pool, BitTorrent drops the torrent without
// deleting files. HTTP/ED2K hold no persistent per-transfer handle
// beyond the worker's own context cancellation.
func (o *Orchestrator) closeSources(dl *domain.ActiveDownload) {
	dl.Mu.Lock()
	assignments := make([]*domain.SourceAssignment, 0, len(dl.SourceAssignments))
	for _, a := range dl.SourceAssignments {
		assignments = append(assignments, a)
	}
	dl.Mu.Unlock()

	for _, a := range assignments {
		proto := a.Source.Protocol
		adp, ok := o.registry.get(proto)
		if !ok {
			continue
		}
		switch proto {
		case domain.ProtocolP2P:
			adp.Cancel(adapter.Handle("webrtc:" + a.Source.PeerID))
		case domain.ProtocolBitTorrent:
			// Handle tracking lives in the worker goroutine; cancellation
			// of its context is sufficient to stop monitoring, and the
			// embedded engine's own Seed=true config keeps pieces on disk.
		}
	}
}

// finalize assembles every CompletedChunk into outputPath, emits
// Completed, deletes persisted state, and removes the transfer from
// the active map.
func (o *Orchestrator) finalize(fileHash string) error {
	o.mu.Lock()
	t, ok := o.transfers[fileHash]
	if ok {
		delete(o.transfers, fileHash)
	}
	o.mu.Unlock()
	if !ok {
		return domain.NewError(domain.CategoryNotFound, "no such active download", domain.ErrNotFound)
	}

	dl := t.download
	dl.Mu.Lock()
	total := domain.TotalSize(dl.Chunks)
	outputPath := dl.OutputPath
	chunks := append([]domain.ChunkInfo{}, dl.Chunks...)
	completed := make(map[uint32]domain.CompletedChunk, len(dl.CompletedChunks))
	for k, v := range dl.CompletedChunks {
		completed[k] = v
	}
	elapsed := time.Since(dl.StartTime).Seconds()
	dl.Mu.Unlock()

	buf := make([]byte, total)
	for _, c := range chunks {
		cc, ok := completed[c.ChunkID]
		if !ok {
			return domain.NewError(domain.CategoryState, "finalize called with incomplete chunk set", domain.ErrStateInconsistent)
		}
		copy(buf[c.Offset:c.Offset+uint64(c.Size)], cc.Data)
	}

	if err := atomicWriteFile(outputPath, buf); err != nil {
		failEvt := domain.NewEvent(domain.EventFailed, fileHash)
		failEvt.Category = domain.CategoryFilesystem
		failEvt.Message = "write output file"
		o.publish(failEvt)
		metrics.TransfersCompleted.WithLabelValues("failed").Inc()
		metrics.TransfersActive.Dec()
		return domain.NewError(domain.CategoryFilesystem, "write output file", err)
	}

	t.cancel()
	o.store.GC(fileHash)
	o.deletePersistedState(fileHash)

	completeEvt := domain.NewEvent(domain.EventCompleted, fileHash)
	if elapsed > 0 {
		speed := float64(total) / elapsed
		completeEvt.AverageSpeedBps = speed
		metrics.TransferThroughput.Observe(speed)
	}
	completeEvt.ElapsedMs = int64(elapsed * 1000)
	o.publish(completeEvt)
	metrics.TransfersCompleted.WithLabelValues("completed").Inc()
	metrics.TransfersActive.Dec()
	return nil
}

func atomicWriteFile(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		os.Remove(tmp)
		return err
	}
	return os.Rename(tmp, path)
}

func (o *Orchestrator) deletePersistedState(fileHash string) {
	if o.downloadDir == "" {
		return
	}
	os.Remove(filepath.Join(o.downloadDir, fileHash+".state"))
}

// monitorProgress runs on a 2-second tick: it emits a Progress event,
// runs a retry pass, and drives finalization once every chunk is
// complete.
func (o *Orchestrator) monitorProgress(ctx context.Context, fileHash string) {
	ticker := time.NewTicker(progressTick)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			o.mu.Lock()
			t, ok := o.transfers[fileHash]
			o.mu.Unlock()
			if !ok {
				return
			}

			evt := domain.NewEvent(domain.EventProgress, fileHash)
			evt.Stats = o.statsFor(t.download)
			o.publish(evt)

			if t.download.IsComplete() {
				o.finalize(fileHash)
				return
			}

			o.runRetryPass(ctx, fileHash, t)
		}
	}
}

// runRetryPass redistributes up to retryBatch queued chunks from the
// failed-chunk queue to sources currently Connected or Downloading.
func (o *Orchestrator) runRetryPass(ctx context.Context, fileHash string, t *transfer) {
	ready := t.retryQueue.DrainReady(retryBatch)
	if len(ready) == 0 {
		return
	}

	for _, entry := range ready {
		suggested := t.retryQueue.SuggestSource(scheduler.ChunkKey(entry.ChunkID), entry.FailedSourceID)
		target := o.pickActiveSource(t.download, entry.FailedSourceID, suggested)
		if target == "" {
			continue
		}

		var assignment *domain.SourceAssignment
		t.download.WithLock(func() {
			assignment = t.download.SourceAssignments[target]
			if assignment != nil && !assignment.HasChunk(entry.ChunkID) {
				assignment.ChunkIDs = append(assignment.ChunkIDs, entry.ChunkID)
			}
		})

		if assignment == nil {
			continue
		}
		o.startWorker(ctx, t, fileHash, target, assignment)
	}
}

// pickActiveSource picks the retry target for a failed chunk. It prefers
// the hash-ring's suggested source (spreading retries instead of always
// hammering the same survivor) but falls back to any other active source
// when the suggestion isn't currently assigned or connected.
func (o *Orchestrator) pickActiveSource(dl *domain.ActiveDownload, failedSourceID, suggested string) string {
	dl.Mu.Lock()
	defer dl.Mu.Unlock()

	if suggested != "" && suggested != failedSourceID {
		if a, ok := dl.SourceAssignments[suggested]; ok && a.Status.IsActive() {
			return suggested
		}
	}

	for id, a := range dl.SourceAssignments {
		if id != failedSourceID && a.Status.IsActive() {
			return id
		}
	}
	// Single-source transfers retry on the same source rather than
	// stranding the chunk until MaxRetries decides its fate.
	if a, ok := dl.SourceAssignments[failedSourceID]; ok && a.Status.IsActive() {
		return failedSourceID
	}
	return ""
}

// handleChunkFailure enqueues chunkID for retry; exhausting retries on
// every source fails the transfer with category Network.
func (o *Orchestrator) handleChunkFailure(fileHash string, t *transfer, sourceID string, chunkID uint32, failErr error) {
	if isCanceled(t.download) {
		return
	}
	protocol := sourceProtocol(t.download, sourceID)
	metrics.ChunksFailed.WithLabelValues(protocol, errCategory(failErr)).Inc()

	t.download.WithLock(func() {
		t.download.FailedChunks = append(t.download.FailedChunks, chunkID)
		if a, ok := t.download.SourceAssignments[sourceID]; ok {
			a.RemoveChunk(chunkID)
		}
	})

	evt := domain.NewEvent(domain.EventChunkFailed, fileHash)
	evt.SourceID = sourceID
	evt.ChunkID = chunkID
	evt.WillRetry = true
	o.publish(evt)

	ok := t.retryQueue.ScheduleRetry(scheduler.RetryEntry{
		ChunkID:        chunkID,
		FailedSourceID: sourceID,
		Error:          errString(failErr),
	})
	if ok {
		metrics.ChunkRetries.WithLabelValues(protocol).Inc()
	} else {
		metrics.SourcesFailed.WithLabelValues(protocol).Inc()
	}
	if err := o.saveState(fileHash, t.download); err != nil {
		log.Printf("[orchestrator] save persisted state for %s: %v", fileHash, err)
	}
	if ok {
		return
	}

	o.mu.Lock()
	_, stillActive := o.transfers[fileHash]
	if stillActive {
		delete(o.transfers, fileHash)
	}
	o.mu.Unlock()
	if !stillActive {
		return
	}

	t.cancel()
	failEvt := domain.NewEvent(domain.EventFailed, fileHash)
	failEvt.Category = domain.CategoryNetwork
	failEvt.RetryPossible = domain.CategoryNetwork.RetryPossible()
	failEvt.Message = fmt.Sprintf("chunk %d exhausted retries on all sources", chunkID)
	o.publish(failEvt)
	metrics.TransfersCompleted.WithLabelValues("failed").Inc()
	metrics.TransfersActive.Dec()
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}

// errCategory reports a failure's domain category for metric labels,
// falling back to "unknown" for errors that never went through
// domain.NewError.
func errCategory(err error) string {
	var te *domain.TransferError
	if errors.As(err, &te) {
		return string(te.Category)
	}
	return "unknown"
}

// sourceProtocol looks up the protocol assigned to sourceID, for metric
// labels on chunk/source events that only carry a source ID.
func sourceProtocol(dl *domain.ActiveDownload, sourceID string) string {
	dl.Mu.Lock()
	defer dl.Mu.Unlock()
	if a, ok := dl.SourceAssignments[sourceID]; ok {
		return string(a.Source.Protocol)
	}
	return "unknown"
}

// startWorker spawns (or respawns, for rebalancing) the protocol-
// specific worker goroutine for one source assignment.
func (o *Orchestrator) startWorker(ctx context.Context, t *transfer, fileHash, sourceID string, assignment *domain.SourceAssignment) {
	t.workersMu.Lock()
	if _, running := t.workers[sourceID]; running {
		t.workersMu.Unlock()
		return
	}
	workerCtx, cancel := context.WithCancel(ctx)
	t.workers[sourceID] = cancel
	t.workersMu.Unlock()

	adp, ok := o.registry.get(assignment.Source.Protocol)
	if !ok {
		o.publishSourceDisconnected(fileHash, sourceID, "no adapter registered for protocol")
		return
	}

	switch assignment.Source.Protocol {
	case domain.ProtocolBitTorrent:
		go o.runBitTorrentWorker(workerCtx, t, fileHash, sourceID, assignment, adp)
	case domain.ProtocolP2P:
		go o.runWebRTCWorker(workerCtx, t, fileHash, sourceID, assignment, adp)
	default:
		rf, ok := adp.(adapter.RangeFetcher)
		if !ok {
			o.publishSourceDisconnected(fileHash, sourceID, "adapter does not support range fetch")
			return
		}
		if registrar, ok := adp.(sourceRegistrar); ok {
			registrar.RegisterSource(assignment.Source)
		}
		go o.runRangeWorker(workerCtx, t, fileHash, sourceID, assignment, rf)
	}
}

// sourceRegistrar is implemented by adapters (currently FTP) that need
// the full SourceDescriptor — credentials, FTPS, passive mode, timeout
// — registered ahead of a FetchRange call keyed only by URL.
type sourceRegistrar interface {
	RegisterSource(domain.SourceDescriptor)
}

func (o *Orchestrator) publishSourceDisconnected(fileHash, sourceID, reason string) {
	evt := domain.NewEvent(domain.EventSourceDisconnected, fileHash)
	evt.SourceID = sourceID
	evt.Reason = reason
	o.publish(evt)
}

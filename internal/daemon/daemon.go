package daemon

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/chiral/transferd/internal/adapter"
	"github.com/chiral/transferd/internal/adapter/bittorrent"
	"github.com/chiral/transferd/internal/adapter/ed2k"
	"github.com/chiral/transferd/internal/adapter/ftp"
	adapterhttp "github.com/chiral/transferd/internal/adapter/http"
	"github.com/chiral/transferd/internal/adapter/webrtc"
	"github.com/chiral/transferd/internal/chunkstore"
	"github.com/chiral/transferd/internal/discovery"
	"github.com/chiral/transferd/internal/domain"
	"github.com/chiral/transferd/internal/eventbus"
	"github.com/chiral/transferd/internal/health"
	"github.com/chiral/transferd/internal/infra/metrics"
	"github.com/chiral/transferd/internal/nat"
	"github.com/chiral/transferd/internal/orchestrator"
	"github.com/chiral/transferd/internal/security"
	"github.com/chiral/transferd/internal/statedb"
)

// Daemon is the transferd runtime. It wires the orchestrator to every
// protocol adapter, the chunk store, the event bus, the state-DB mirror,
// and the metrics/health HTTP surface. Construction order: open
// storage, build collaborators, wire them into one coordinator, expose
// the HTTP surface.
type Daemon struct {
	Config Config

	DB           *statedb.DB
	Store        *chunkstore.Store
	Bus          *eventbus.Bus
	Discovery    discovery.Client
	Registry     *orchestrator.Registry
	Orchestrator *orchestrator.Orchestrator
	Health       *health.Checker
	Identity     *security.Keypair

	seedMu    sync.Mutex
	seedFiles map[string]seedEntry

	cancel context.CancelFunc
}

type seedEntry struct {
	path       string
	totalSize  uint64
	chunkSize  int
}

// New constructs a Daemon from cfg: opens the state DB and chunk store,
// builds every protocol adapter the config permits, wires them into an
// adapter Registry, and returns an Orchestrator ready to drive
// transfers. WebRTC is only registered when at least one TURN server is
// configured; STUN-only operation is refused.
func New(cfg Config) (*Daemon, error) {
	if err := os.MkdirAll(cfg.Node.DataDir, 0o700); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}

	db, err := statedb.Open(cfg.Node.DataDir)
	if err != nil {
		return nil, fmt.Errorf("open state db: %w", err)
	}

	store, err := chunkstore.Open(cfg.Transfer.ChunkStoreDir)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("open chunk store: %w", err)
	}

	identity, err := security.LoadOrCreateKeypair(cfg.Node.DataDir)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("load node identity: %w", err)
	}

	bus := eventbus.New()
	disc := discovery.NewStaticClient()
	registry := orchestrator.NewRegistry()

	d := &Daemon{
		Config:    cfg,
		DB:        db,
		Store:     store,
		Bus:       bus,
		Discovery: disc,
		Registry:  registry,
		Identity:  identity,
		seedFiles: make(map[string]seedEntry),
	}

	registry.Register(domain.ProtocolHTTP, adapterhttp.New(time.Duration(cfg.Network.HTTPTimeoutS)*time.Second))
	registry.Register(domain.ProtocolFTP, ftp.New(time.Duration(cfg.Network.FTPTimeoutS)*time.Second))
	registry.Register(domain.ProtocolEd2k, ed2k.New(time.Duration(cfg.Network.ED2KTimeoutS)*time.Second, cfg.Network.ED2KListenAddr))

	btDir := cfg.Network.BitTorrentDir
	if btDir == "" {
		btDir = filepath.Join(cfg.Node.DataDir, "bittorrent-tmp")
	}
	btAdapter, err := bittorrent.New(btDir)
	if err != nil {
		log.Printf("[daemon] bittorrent adapter disabled: %v", err)
	} else {
		registry.Register(domain.ProtocolBitTorrent, btAdapter)
	}

	if len(cfg.Network.TURNURLs) > 0 {
		if wa, err := d.buildWebRTCAdapter(cfg, bus); err != nil {
			log.Printf("[daemon] webrtc adapter disabled: %v", err)
		} else {
			registry.Register(domain.ProtocolP2P, wa)
		}
	} else {
		log.Printf("[daemon] webrtc adapter disabled: no TURN server configured (STUN-only operation is refused)")
	}

	d.Orchestrator = orchestrator.New(orchestrator.Config{
		Registry:    registry,
		Discovery:   disc,
		Store:       store,
		Bus:         bus,
		DownloadDir: cfg.Transfer.DownloadStateDir,
	})

	d.Health = health.NewChecker(db, cfg.Transfer.ChunkStoreDir, cfg.Transfer.DownloadStateDir)

	go d.mirrorEventsToStateDB()
	if len(cfg.Network.STUNURLs) > 0 {
		go classifyNATType(strings.TrimPrefix(cfg.Network.STUNURLs[0], "stun:"))
	}

	return d, nil
}

// classifyNATType runs a one-shot STUN probe at startup so operators can
// see the node's NAT classification on the metrics surface without
// needing a WebRTC transfer to trigger one.
func classifyNATType(stunAddr string) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	result, err := nat.Discover(ctx, nat.DefaultDiscoveryConfig(stunAddr))
	if err != nil {
		log.Printf("[daemon] nat discovery failed: %v", err)
		return
	}
	metrics.NATType.WithLabelValues(result.Type.String()).Set(1)
}

// chunkStoreGCInterval is how often the daemon sweeps the chunk store
// for orphaned pairs and stale, non-resumable transfer directories.
const chunkStoreGCInterval = 10 * time.Minute

// chunkStoreStaleAge is how long an untouched chunk directory survives
// before a sweep reclaims it, for a transfer that is neither active nor
// has a persisted .state file to resume from.
const chunkStoreStaleAge = 72 * time.Hour

// runChunkStoreGC periodically removes orphaned .dat/.meta pairs and
// directories for transfers this process no longer knows how to resume.
// Call in a goroutine; returns when ctx is canceled.
func (d *Daemon) runChunkStoreGC(ctx context.Context) {
	ticker := time.NewTicker(chunkStoreGCInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			d.sweepChunkStore()
		}
	}
}

func (d *Daemon) sweepChunkStore() {
	metrics.ChunkStoreGCRuns.Inc()

	orphaned, err := d.Store.GCOrphaned()
	if err != nil {
		log.Printf("[daemon] chunk store orphan sweep: %v", err)
	} else if orphaned > 0 {
		metrics.ChunkStoreOrphansRemoved.Add(float64(orphaned))
		log.Printf("[daemon] chunk store orphan sweep reclaimed %d chunk(s)", orphaned)
	}

	keep := make(map[string]bool)
	for _, id := range d.Orchestrator.ActiveTransferIDs() {
		keep[id] = true
	}
	for _, fh := range persistedFileHashes(d.Config.Transfer.DownloadStateDir) {
		keep[fh] = true
	}

	removed, err := d.Store.GCStale(keep, chunkStoreStaleAge)
	if err != nil {
		log.Printf("[daemon] chunk store stale sweep: %v", err)
		return
	}
	if removed > 0 {
		log.Printf("[daemon] chunk store stale sweep removed %d directory(ies)", removed)
	}

	if total, err := d.Store.TotalBytes(); err == nil {
		metrics.ChunkStoreBytes.Set(float64(total))
	}
}

// persistedFileHashes lists the file hashes with a .state file in dir,
// for the GC sweep's keep-set. Errors degrade to "keep nothing extra".
func persistedFileHashes(dir string) []string {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil
	}
	var out []string
	for _, ent := range entries {
		if ent.IsDir() || filepath.Ext(ent.Name()) != ".state" {
			continue
		}
		out = append(out, ent.Name()[:len(ent.Name())-len(".state")])
	}
	return out
}

func (d *Daemon) buildWebRTCAdapter(cfg Config, bus *eventbus.Bus) (*webrtc.Adapter, error) {
	ice, err := nat.BuildICEServers(cfg.Network.STUNURLs, cfg.Network.TURNURLs, cfg.Network.TURNUsername, cfg.Network.TURNPassword)
	if err != nil {
		return nil, err
	}

	x25519, err := security.GenerateX25519Keypair()
	if err != nil {
		return nil, fmt.Errorf("generate x25519 identity: %w", err)
	}

	return webrtc.New(webrtc.Config{
		STUNURLs:        ice.STUNURLs,
		TURNURLs:        ice.TURNURLs,
		TURNUser:        ice.TURNUser,
		TURNPass:        ice.TURNPass,
		Identity:        x25519,
		Bus:             bus,
		ResolveSeedFile: d.resolveSeedFile,
	})
}

func (d *Daemon) resolveSeedFile(fileHash string) (string, uint32, int, error) {
	d.seedMu.Lock()
	entry, ok := d.seedFiles[fileHash]
	d.seedMu.Unlock()
	if !ok {
		return "", 0, 0, domain.NewError(domain.CategoryNotFound, "no such seeded file", domain.ErrNotFound)
	}
	total := uint32(len(domain.BuildChunkPlan(entry.totalSize, entry.chunkSize, "", nil)))
	return entry.path, total, entry.chunkSize, nil
}

// Seed registers filePath as locally servable under fileHash for every
// adapter capable of seeding (WebRTC, ED2K, BitTorrent), returning each
// adapter's SeedingInfo.
func (d *Daemon) Seed(ctx context.Context, fileHash, filePath string) (map[string]adapter.SeedingInfo, error) {
	info, err := os.Stat(filePath)
	if err != nil {
		return nil, domain.NewError(domain.CategoryFilesystem, "stat seed file", err)
	}

	d.seedMu.Lock()
	d.seedFiles[fileHash] = seedEntry{path: filePath, totalSize: uint64(info.Size()), chunkSize: d.Config.Transfer.ChunkSize}
	d.seedMu.Unlock()

	out := make(map[string]adapter.SeedingInfo)
	for _, proto := range []domain.SourceProtocol{domain.ProtocolP2P, domain.ProtocolEd2k, domain.ProtocolBitTorrent, domain.ProtocolHTTP, domain.ProtocolFTP} {
		adp, ok := d.Registry.Get(proto)
		if !ok {
			continue
		}
		si, err := adp.Seed(ctx, filePath)
		if err != nil {
			continue
		}
		out[string(proto)] = si
	}
	if len(out) == 0 {
		return nil, domain.NewError(domain.CategoryState, "no adapter could seed this file", nil)
	}
	return out, nil
}

// mirrorEventsToStateDB subscribes to the event bus and mirrors every
// lifecycle event into the SQLite state-DB table, so CLI status/list
// queries don't need to hold an orchestrator reference.
func (d *Daemon) mirrorEventsToStateDB() {
	sub := d.Bus.Subscribe()
	defer sub.Close()

	for evt := range sub.Events {
		d.applyEventToStateDB(evt)
	}
}

func (d *Daemon) applyEventToStateDB(evt domain.TransferEvent) {
	switch evt.Type {
	case domain.EventStarted:
		chunksTotal := 0
		var fileName string
		var fileSize uint64
		var outputPath string
		if stats, err := d.Orchestrator.Progress(evt.TransferID); err == nil {
			chunksTotal = stats.ChunksTotal
			fileSize = stats.TotalBytes
		}
		if err := d.DB.UpsertStarted(evt.TransferID, fileName, fileSize, outputPath, chunksTotal); err != nil {
			log.Printf("[daemon] state db upsert started: %v", err)
		}
	case domain.EventProgress:
		if evt.Stats == nil {
			return
		}
		if err := d.DB.UpdateProgress(evt.TransferID, evt.Stats.BytesDownloaded, "downloading"); err != nil {
			log.Printf("[daemon] state db update progress: %v", err)
		}
	case domain.EventCompleted:
		if err := d.DB.MarkTerminal(evt.TransferID, "completed", ""); err != nil {
			log.Printf("[daemon] state db mark completed: %v", err)
		}
	case domain.EventCanceled:
		if err := d.DB.MarkTerminal(evt.TransferID, "canceled", ""); err != nil {
			log.Printf("[daemon] state db mark canceled: %v", err)
		}
	case domain.EventFailed:
		if err := d.DB.MarkTerminal(evt.TransferID, "failed", string(evt.Category)); err != nil {
			log.Printf("[daemon] state db mark failed: %v", err)
		}
	}
}

// ResumeAll reconstructs every persisted transfer left over from a
// previous process and restarts it.
// The reconstructed metadata is re-registered with the discovery client
// so Start's metadata lookup succeeds even with no live DHT. Must be
// called after New and before Serve.
func (d *Daemon) ResumeAll(ctx context.Context) error {
	dls, err := orchestrator.LoadPersistedStates(d.Config.Transfer.DownloadStateDir, d.Store)
	if err != nil {
		return err
	}
	for _, dl := range dls {
		if sc, ok := d.Discovery.(*discovery.StaticClient); ok {
			sc.Register(dl.FileMetadata, nil)
		}
		chunkSize := d.Config.Transfer.ChunkSize
		if len(dl.Chunks) > 0 && dl.Chunks[0].Size > 0 {
			chunkSize = dl.Chunks[0].Size
		}
		if err := d.Orchestrator.Start(ctx, dl.FileMetadata.FileHash, dl.OutputPath, chunkSize); err != nil {
			log.Printf("[daemon] resume %s: %v", dl.FileMetadata.FileHash, err)
		}
	}
	return nil
}

// Serve runs the metrics/health HTTP surface and blocks until ctx is
// canceled or an OS interrupt/terminate signal arrives.
func (d *Daemon) Serve(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	d.cancel = cancel
	defer cancel()

	go d.Health.Run(ctx)
	go d.runChunkStoreGC(ctx)

	if !d.Config.Metrics.Enabled {
		<-ctx.Done()
		return d.awaitSignal(ctx)
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		if d.Health.IsHealthy() {
			w.WriteHeader(http.StatusOK)
		} else {
			w.WriteHeader(http.StatusServiceUnavailable)
		}
	})

	addr := fmt.Sprintf("%s:%d", d.Config.Metrics.Host, d.Config.Metrics.Port)
	srv := &http.Server{Addr: addr, Handler: mux}

	errCh := make(chan error, 1)
	go func() {
		log.Printf("[daemon] metrics/health listening on %s", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	sigCtx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	select {
	case <-sigCtx.Done():
	case err := <-errCh:
		return err
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	return srv.Shutdown(shutdownCtx)
}

func (d *Daemon) awaitSignal(ctx context.Context) error {
	sigCtx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()
	<-sigCtx.Done()
	return nil
}

// Close releases the daemon's storage handles.
func (d *Daemon) Close() error {
	if d.cancel != nil {
		d.cancel()
	}
	return d.DB.Close()
}

// Package bittorrent wraps the embedded anacrolix/torrent engine behind
// the same Adapter surface the orchestrator drives for every other
// protocol: start a magnet download into a folder, monitor it, and
// cancel it without deleting downloaded files.
package bittorrent

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/anacrolix/torrent"
	"github.com/anacrolix/torrent/bencode"
	"github.com/anacrolix/torrent/metainfo"

	"github.com/chiral/transferd/internal/adapter"
	"github.com/chiral/transferd/internal/domain"
)

// Adapter wraps a single embedded torrent.Client shared across
// transfers; each Download call adds one magnet to it.
type Adapter struct {
	client      *torrent.Client
	downloadDir string

	mu      sync.Mutex
	handles map[adapter.Handle]*download
	seq     int
}

type download struct {
	t          *torrent.Torrent
	downloadDir string
	status     domain.SourceStatus
	cancel     context.CancelFunc
}

// New creates a BitTorrent adapter. downloadDir is the temporary folder
// torrents are fetched into before the orchestrator slices the whole
// file into its own chunk plan.
func New(downloadDir string) (*Adapter, error) {
	cfg := torrent.NewDefaultClientConfig()
	cfg.DataDir = downloadDir
	cfg.Seed = true

	client, err := torrent.NewClient(cfg)
	if err != nil {
		return nil, domain.NewError(domain.CategoryNetwork, "create bittorrent client", err)
	}

	return &Adapter{client: client, downloadDir: downloadDir, handles: make(map[adapter.Handle]*download)}, nil
}

func (a *Adapter) Name() string { return "bittorrent" }

func (a *Adapter) Supports(identifier string) bool {
	return len(identifier) > 8 && identifier[:8] == "magnet:?"
}

// Download starts the torrent for the given magnet URI into a temporary
// folder. A monitor goroutine watches the
// torrent's completion and, once all pieces are verified by the
// embedded engine, signals readiness via GetProgress.
func (a *Adapter) Download(ctx context.Context, magnetURI string, outputPath string) (adapter.Handle, error) {
	t, err := a.client.AddMagnet(magnetURI)
	if err != nil {
		return "", domain.NewError(domain.CategoryValidation, "add magnet", err)
	}

	dlCtx, cancel := context.WithCancel(ctx)

	a.mu.Lock()
	a.seq++
	h := adapter.Handle(fmt.Sprintf("bt-%d", a.seq))
	d := &download{t: t, downloadDir: a.downloadDir, status: domain.StatusConnecting, cancel: cancel}
	a.handles[h] = d
	a.mu.Unlock()

	go a.monitor(dlCtx, h, d)
	return h, nil
}

// monitor waits for torrent metadata, then for every piece to complete,
// translating the engine's progress stream into our SourceStatus.
func (a *Adapter) monitor(ctx context.Context, h adapter.Handle, d *download) {
	select {
	case <-d.t.GotInfo():
	case <-ctx.Done():
		a.setStatus(d, domain.StatusFailed)
		return
	}

	a.setStatus(d, domain.StatusDownloading)
	d.t.DownloadAll()

	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			a.setStatus(d, domain.StatusFailed)
			return
		case <-ticker.C:
			if d.t.BytesMissing() == 0 {
				a.setStatus(d, domain.StatusCompleted)
				return
			}
		}
	}
}

func (a *Adapter) setStatus(d *download, s domain.SourceStatus) {
	a.mu.Lock()
	d.status = s
	a.mu.Unlock()
}

// ReadCompletedFile returns the path anacrolix/torrent stored the
// completed download's single file at, so the orchestrator's worker can
// read the whole file and slice it into its own chunk plan — BitTorrent
// is the one adapter whose chunks are handed over whole rather than
// range-fetched.
func (a *Adapter) ReadCompletedFile(h adapter.Handle) (string, error) {
	a.mu.Lock()
	d, ok := a.handles[h]
	a.mu.Unlock()
	if !ok {
		return "", domain.NewError(domain.CategoryNotFound, "unknown handle", domain.ErrNotFound)
	}
	if len(d.t.Files()) == 0 {
		return "", domain.NewError(domain.CategoryFilesystem, "torrent has no files", nil)
	}
	return filepath.Join(d.downloadDir, d.t.Files()[0].Path()), nil
}

// SynthesizeMagnetURI builds a magnet URI from a raw BitTorrent info
// hash, round-tripping through metainfo so an invalid hash is rejected
// before the string reaches AddMagnet.
func SynthesizeMagnetURI(infoHashHex string) (string, error) {
	var ih metainfo.Hash
	n, err := fmt.Sscanf(infoHashHex, "%x", &ih)
	if err != nil || n != 1 {
		return "", domain.NewError(domain.CategoryValidation, "invalid info_hash", domain.ErrInvalidIdentifier)
	}
	return (&metainfo.Magnet{InfoHash: ih}).String(), nil
}

func (a *Adapter) Seed(ctx context.Context, filePath string) (adapter.SeedingInfo, error) {
	fi, err := os.Stat(filePath)
	if err != nil {
		return adapter.SeedingInfo{}, domain.NewError(domain.CategoryFilesystem, "stat seed file", err)
	}

	var info metainfo.Info
	if err := info.BuildFromFilePath(filePath); err != nil {
		return adapter.SeedingInfo{}, domain.NewError(domain.CategoryFilesystem, "build torrent metainfo", err)
	}
	infoBytes, err := bencode.Marshal(info)
	if err != nil {
		return adapter.SeedingInfo{}, domain.NewError(domain.CategoryFilesystem, "build torrent metainfo", err)
	}
	mi := &metainfo.MetaInfo{InfoBytes: infoBytes}
	t, err := a.client.AddTorrent(mi)
	if err != nil {
		return adapter.SeedingInfo{}, domain.NewError(domain.CategoryNetwork, "register seed torrent", err)
	}

	infoHash := t.InfoHash()
	magnet, _ := SynthesizeMagnetURI(infoHash.HexString())
	return adapter.SeedingInfo{
		Identifier: magnet,
		Detail:     fmt.Sprintf("seeding %s (%d bytes)", fi.Name(), fi.Size()),
	}, nil
}

func (a *Adapter) Pause(h adapter.Handle) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	d, ok := a.handles[h]
	if !ok {
		return domain.NewError(domain.CategoryNotFound, "unknown handle", domain.ErrNotFound)
	}
	d.t.CancelPieces(0, d.t.NumPieces())
	return nil
}

func (a *Adapter) Resume(h adapter.Handle) error {
	a.mu.Lock()
	d, ok := a.handles[h]
	a.mu.Unlock()
	if !ok {
		return domain.NewError(domain.CategoryNotFound, "unknown handle", domain.ErrNotFound)
	}
	d.t.DownloadAll()
	return nil
}

// Cancel stops the torrent's transfer without deleting its downloaded
// pieces.
func (a *Adapter) Cancel(h adapter.Handle) error {
	a.mu.Lock()
	d, ok := a.handles[h]
	if ok {
		d.cancel()
		delete(a.handles, h)
	}
	a.mu.Unlock()
	if !ok {
		return domain.NewError(domain.CategoryNotFound, "unknown handle", domain.ErrNotFound)
	}
	d.t.Drop()
	return nil
}

func (a *Adapter) GetProgress(h adapter.Handle) (adapter.Progress, error) {
	a.mu.Lock()
	d, ok := a.handles[h]
	a.mu.Unlock()
	if !ok {
		return adapter.Progress{}, domain.NewError(domain.CategoryNotFound, "unknown handle", domain.ErrNotFound)
	}

	total := d.t.Length()
	done := total - d.t.BytesMissing()
	return adapter.Progress{BytesDownloaded: done, TotalBytes: total, Status: d.status}, nil
}

func (a *Adapter) Capabilities() adapter.Capabilities {
	return adapter.Capabilities{
		SupportsSeeding:     true,
		SupportsPauseResume: true,
		SupportsMultiSource: true,
		SupportsEncryption:  false,
		SupportsDHT:         true,
	}
}

// Close shuts down the embedded engine; call once at process exit.
func (a *Adapter) Close() {
	a.client.Close()
}

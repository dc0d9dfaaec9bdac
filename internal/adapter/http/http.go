// Package http implements the HTTP(S) adapter: one ranged GET per
// chunk, requiring the server to answer 206 Partial Content. Each
// whole-file Download is a goroutine-managed operation per Handle,
// polled via GetProgress; per-chunk reads go through FetchRange.
package http

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/chiral/transferd/internal/adapter"
	"github.com/chiral/transferd/internal/domain"
)

// Adapter fetches byte ranges over HTTP(S).
type Adapter struct {
	client *http.Client

	mu      sync.Mutex
	handles map[adapter.Handle]*download
	seq     int
}

type download struct {
	identifier string
	bytesDone  int64
	total      int64
	status     domain.SourceStatus
	cancel     context.CancelFunc
}

// New creates an HTTP adapter with the given request timeout.
func New(timeout time.Duration) *Adapter {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Adapter{
		client:  &http.Client{Timeout: timeout},
		handles: make(map[adapter.Handle]*download),
	}
}

func (a *Adapter) Name() string { return "http" }

func (a *Adapter) Supports(identifier string) bool {
	return len(identifier) > 7 && (identifier[:7] == "http://" || (len(identifier) > 8 && identifier[:8] == "https://"))
}

// FetchRange issues `Range: bytes=start-end` and returns exactly the
// requested bytes; any response other than 206 is a Network error.
// Satisfies adapter.RangeFetcher.
func (a *Adapter) FetchRange(ctx context.Context, url string, offset uint64, size int) ([]byte, error) {
	start := int64(offset)
	end := start + int64(size) - 1
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, domain.NewError(domain.CategoryValidation, "build range request", err)
	}
	req.Header.Set("Range", fmt.Sprintf("bytes=%d-%d", start, end))

	resp, err := a.client.Do(req)
	if err != nil {
		return nil, domain.NewError(domain.CategoryNetwork, "http range request failed", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusPartialContent {
		return nil, domain.NewError(domain.CategoryNetwork, fmt.Sprintf("expected 206, got %d", resp.StatusCode), domain.ErrNotPartialContent)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, int64(size)+1))
	if err != nil {
		return nil, domain.NewError(domain.CategoryNetwork, "read range response body", err)
	}
	if len(data) != size {
		return nil, domain.NewError(domain.CategoryNetwork, fmt.Sprintf("short read: got %d bytes, want %d", len(data), size), domain.ErrShortRead)
	}
	return data, nil
}

// Download fetches the whole resource sequentially into outputPath; used
// only when the orchestrator treats HTTP as a whole-file fallback source
// rather than issuing per-chunk FetchRange calls directly.
func (a *Adapter) Download(ctx context.Context, identifier string, outputPath string) (adapter.Handle, error) {
	dlCtx, cancel := context.WithCancel(ctx)

	a.mu.Lock()
	a.seq++
	h := adapter.Handle(fmt.Sprintf("http-%d", a.seq))
	d := &download{identifier: identifier, status: domain.StatusConnecting, cancel: cancel}
	a.handles[h] = d
	a.mu.Unlock()

	go a.run(dlCtx, h, d, identifier, outputPath)
	return h, nil
}

func (a *Adapter) run(ctx context.Context, h adapter.Handle, d *download, identifier, outputPath string) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, identifier, nil)
	if err != nil {
		a.fail(d)
		return
	}
	resp, err := a.client.Do(req)
	if err != nil {
		a.fail(d)
		return
	}
	defer resp.Body.Close()

	a.mu.Lock()
	d.status = domain.StatusDownloading
	d.total = resp.ContentLength
	a.mu.Unlock()

	out, err := os.Create(outputPath)
	if err != nil {
		a.fail(d)
		return
	}
	defer out.Close()

	buf := make([]byte, 64*1024)
	for {
		n, readErr := resp.Body.Read(buf)
		if n > 0 {
			if _, err := out.Write(buf[:n]); err != nil {
				a.fail(d)
				return
			}
			a.mu.Lock()
			d.bytesDone += int64(n)
			a.mu.Unlock()
		}
		if readErr == io.EOF {
			break
		}
		if readErr != nil {
			a.fail(d)
			return
		}
	}

	a.mu.Lock()
	d.status = domain.StatusCompleted
	a.mu.Unlock()
}

func (a *Adapter) fail(d *download) {
	a.mu.Lock()
	d.status = domain.StatusFailed
	a.mu.Unlock()
}

func (a *Adapter) Seed(ctx context.Context, filePath string) (adapter.SeedingInfo, error) {
	return adapter.SeedingInfo{}, domain.NewError(domain.CategoryValidation, "http adapter does not support seeding", domain.ErrNotFound)
}

func (a *Adapter) Pause(h adapter.Handle) error {
	return domain.NewError(domain.CategoryValidation, "http adapter does not support pause", nil)
}

func (a *Adapter) Resume(h adapter.Handle) error {
	return domain.NewError(domain.CategoryValidation, "http adapter does not support resume", nil)
}

func (a *Adapter) Cancel(h adapter.Handle) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	d, ok := a.handles[h]
	if !ok {
		return domain.NewError(domain.CategoryNotFound, "unknown handle", domain.ErrNotFound)
	}
	d.cancel()
	d.status = domain.StatusFailed
	return nil
}

func (a *Adapter) GetProgress(h adapter.Handle) (adapter.Progress, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	d, ok := a.handles[h]
	if !ok {
		return adapter.Progress{}, domain.NewError(domain.CategoryNotFound, "unknown handle", domain.ErrNotFound)
	}
	return adapter.Progress{BytesDownloaded: d.bytesDone, TotalBytes: d.total, Status: d.status}, nil
}

func (a *Adapter) Capabilities() adapter.Capabilities {
	return adapter.Capabilities{
		SupportsSeeding:     false,
		SupportsPauseResume: false,
		SupportsMultiSource: false,
		SupportsEncryption:  false,
		SupportsDHT:         false,
	}
}

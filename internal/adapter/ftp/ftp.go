// Package ftp implements the FTP/FTPS adapter: a control+data connection
// per server, REST-based resume, and a bounded connection pool of two
// per server, built on github.com/jlaffaye/ftp for the wire protocol.
// Idle control connections are recycled instead of redialing per chunk.
package ftp

import (
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"net/url"
	"sync"
	"time"

	"github.com/jlaffaye/ftp"

	"github.com/chiral/transferd/internal/adapter"
	"github.com/chiral/transferd/internal/domain"
)

// maxConnsPerServer bounds concurrency at two control+data connections
// per server.
const maxConnsPerServer = 2

// Adapter fetches byte ranges over FTP and FTPS.
type Adapter struct {
	defaultTimeout time.Duration

	mu      sync.Mutex
	pools   map[string]*serverPool // keyed by host:port
	sources map[string]domain.SourceDescriptor // keyed by raw URL
}

// serverPool bounds concurrent connections to one FTP server with a
// semaphore and recycles idle connections instead of redialing for
// every chunk.
type serverPool struct {
	sem   chan struct{}
	mu    sync.Mutex
	idle  []*ftp.ServerConn
	dial  func(ctx context.Context) (*ftp.ServerConn, error)
}

// New creates an FTP adapter with the given per-operation timeout
// (0 selects the 30s default).
func New(timeout time.Duration) *Adapter {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Adapter{defaultTimeout: timeout, pools: make(map[string]*serverPool)}
}

func (a *Adapter) Name() string { return "ftp" }

func (a *Adapter) Supports(identifier string) bool {
	u, err := url.Parse(identifier)
	if err != nil {
		return false
	}
	return u.Scheme == "ftp" || u.Scheme == "ftps"
}

func (a *Adapter) poolFor(source domain.SourceDescriptor) *serverPool {
	u, _ := url.Parse(source.URL)
	key := u.Scheme + "://" + u.Host
	if source.Username != "" {
		key += "#" + source.Username
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	if p, ok := a.pools[key]; ok {
		return p
	}

	timeout := a.defaultTimeout
	if source.TimeoutSeconds > 0 {
		timeout = time.Duration(source.TimeoutSeconds) * time.Second
	}
	p := &serverPool{
		sem: make(chan struct{}, maxConnsPerServer),
		dial: func(ctx context.Context) (*ftp.ServerConn, error) {
			opts := []ftp.DialOption{ftp.DialWithContext(ctx), ftp.DialWithTimeout(timeout)}
			if source.UseFTPS {
				opts = append(opts, ftp.DialWithExplicitTLS(&tls.Config{ServerName: u.Hostname()}))
			}
			host := u.Host
			if u.Port() == "" {
				host = u.Hostname() + ":21"
			}
			conn, err := ftp.Dial(host, opts...)
			if err != nil {
				return nil, err
			}
			password, _ := url.QueryUnescape(source.EncryptedPassword)
			if err := conn.Login(source.Username, password); err != nil {
				conn.Quit()
				return nil, err
			}
			if source.Passive {
				// jlaffaye/ftp defaults to passive mode; explicit no-op kept
				// for readability of intent at call sites.
				_ = source.Passive
			}
			return conn, nil
		},
	}
	a.pools[key] = p
	return p
}

// acquire returns a connection, reusing an idle one when available.
func (p *serverPool) acquire(ctx context.Context) (*ftp.ServerConn, error) {
	select {
	case p.sem <- struct{}{}:
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	p.mu.Lock()
	if n := len(p.idle); n > 0 {
		conn := p.idle[n-1]
		p.idle = p.idle[:n-1]
		p.mu.Unlock()
		return conn, nil
	}
	p.mu.Unlock()

	conn, err := p.dial(ctx)
	if err != nil {
		<-p.sem
		return nil, err
	}
	return conn, nil
}

// release returns a connection to the idle pool, or discards it (and the
// slot) if it's no longer usable.
func (p *serverPool) release(conn *ftp.ServerConn, healthy bool) {
	if healthy {
		p.mu.Lock()
		p.idle = append(p.idle, conn)
		p.mu.Unlock()
	} else {
		conn.Quit()
	}
	<-p.sem
}

// FetchRange issues `REST offset` followed by `RETR` and reads back
// exactly size bytes. Satisfies adapter.RangeFetcher. identifier is the
// raw FTP URL; source-specific credentials are carried by a prior Source
// registration via RegisterSource, since the RangeFetcher contract only
// takes an identifier string.
func (a *Adapter) FetchRange(ctx context.Context, identifier string, offset uint64, size int) ([]byte, error) {
	source, ok := a.lookupSource(identifier)
	if !ok {
		source = domain.SourceDescriptor{Protocol: domain.ProtocolFTP, URL: identifier}
	}
	return a.fetchRangeFor(ctx, source, offset, size)
}

func (a *Adapter) lookupSource(identifier string) (domain.SourceDescriptor, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	src, ok := a.sources[identifier]
	return src, ok
}

// RegisterSource records the full descriptor (credentials, FTPS,
// passive mode, timeout) the orchestrator resolved for this URL, so
// later FetchRange calls by URL alone can find them.
func (a *Adapter) RegisterSource(source domain.SourceDescriptor) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.sources == nil {
		a.sources = make(map[string]domain.SourceDescriptor)
	}
	a.sources[source.URL] = source
}

func (a *Adapter) fetchRangeFor(ctx context.Context, source domain.SourceDescriptor, offset uint64, size int) ([]byte, error) {
	pool := a.poolFor(source)
	conn, err := pool.acquire(ctx)
	if err != nil {
		return nil, domain.NewError(domain.CategoryNetwork, "acquire ftp connection", err)
	}

	u, _ := url.Parse(source.URL)
	path := u.Path

	resp, err := conn.RetrFrom(path, offset)
	if err != nil {
		pool.release(conn, false)
		return nil, domain.NewError(domain.CategoryProtocol, fmt.Sprintf("ftp RETR %s at offset %d", path, offset), err)
	}

	data, err := io.ReadAll(io.LimitReader(resp, int64(size)+1))
	closeErr := resp.Close()
	if err != nil {
		pool.release(conn, false)
		return nil, domain.NewError(domain.CategoryNetwork, "read ftp data stream", err)
	}
	if closeErr != nil {
		pool.release(conn, false)
	} else {
		pool.release(conn, true)
	}

	if len(data) != size {
		return nil, domain.NewError(domain.CategoryNetwork, fmt.Sprintf("short read: got %d bytes, want %d", len(data), size), domain.ErrShortRead)
	}
	return data, nil
}

func (a *Adapter) Download(ctx context.Context, identifier string, outputPath string) (adapter.Handle, error) {
	return "", domain.NewError(domain.CategoryValidation, "ftp adapter is driven per-chunk by the orchestrator, not whole-file", nil)
}

func (a *Adapter) Seed(ctx context.Context, filePath string) (adapter.SeedingInfo, error) {
	return adapter.SeedingInfo{}, domain.NewError(domain.CategoryValidation, "ftp adapter does not support seeding", domain.ErrNotFound)
}

func (a *Adapter) Pause(h adapter.Handle) error  { return nil } // idempotent: FTP worker pausing keeps pool connections
func (a *Adapter) Resume(h adapter.Handle) error { return nil }
func (a *Adapter) Cancel(h adapter.Handle) error { return nil }

func (a *Adapter) GetProgress(h adapter.Handle) (adapter.Progress, error) {
	return adapter.Progress{}, domain.NewError(domain.CategoryNotFound, "ftp adapter progress is tracked by the orchestrator's worker, not per-handle", domain.ErrNotFound)
}

func (a *Adapter) Capabilities() adapter.Capabilities {
	return adapter.Capabilities{
		SupportsSeeding:     false,
		SupportsPauseResume: true,
		SupportsMultiSource: true,
		SupportsEncryption:  false,
		SupportsDHT:         false,
	}
}

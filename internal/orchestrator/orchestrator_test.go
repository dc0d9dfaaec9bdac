package orchestrator

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/chiral/transferd/internal/adapter"
	"github.com/chiral/transferd/internal/chunkstore"
	"github.com/chiral/transferd/internal/discovery"
	"github.com/chiral/transferd/internal/domain"
	"github.com/chiral/transferd/internal/eventbus"
)

// fakeAdapter serves ranges out of an in-memory buffer, with an optional
// per-fetch delay and scripted failures, standing in for any of the
// range-fetchable protocols.
type fakeAdapter struct {
	mu       sync.Mutex
	data     []byte
	delay    time.Duration
	failures map[uint64]int // offset -> remaining scripted failures
	fetches  int
}

func (f *fakeAdapter) FetchRange(ctx context.Context, identifier string, offset uint64, size int) ([]byte, error) {
	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return nil, domain.NewError(domain.CategoryNetwork, "fetch canceled", ctx.Err())
		}
	}
	f.mu.Lock()
	f.fetches++
	if remaining, ok := f.failures[offset]; ok && remaining > 0 {
		f.failures[offset] = remaining - 1
		f.mu.Unlock()
		return nil, domain.NewError(domain.CategoryNetwork, "scripted failure", domain.ErrShortRead)
	}
	f.mu.Unlock()
	if offset+uint64(size) > uint64(len(f.data)) {
		return nil, domain.NewError(domain.CategoryNetwork, "range past end", domain.ErrShortRead)
	}
	out := make([]byte, size)
	copy(out, f.data[offset:offset+uint64(size)])
	return out, nil
}

func (f *fakeAdapter) Name() string              { return "fake" }
func (f *fakeAdapter) Supports(string) bool      { return true }
func (f *fakeAdapter) Pause(adapter.Handle) error  { return nil }
func (f *fakeAdapter) Resume(adapter.Handle) error { return nil }
func (f *fakeAdapter) Cancel(adapter.Handle) error { return nil }

func (f *fakeAdapter) Download(ctx context.Context, identifier, outputPath string) (adapter.Handle, error) {
	return adapter.Handle(identifier), nil
}

func (f *fakeAdapter) Seed(ctx context.Context, filePath string) (adapter.SeedingInfo, error) {
	return adapter.SeedingInfo{}, domain.ErrNotFound
}

func (f *fakeAdapter) GetProgress(adapter.Handle) (adapter.Progress, error) {
	return adapter.Progress{}, nil
}

func (f *fakeAdapter) Capabilities() adapter.Capabilities {
	return adapter.Capabilities{SupportsMultiSource: true}
}

// testHarness bundles the collaborators every end-to-end test wires the
// same way.
type testHarness struct {
	orch  *Orchestrator
	store *chunkstore.Store
	bus   *eventbus.Bus
	sub   *eventbus.Subscription
	dir   string
}

func newHarness(t *testing.T, disc discovery.Client, fake *fakeAdapter) *testHarness {
	t.Helper()

	store, err := chunkstore.Open(t.TempDir())
	require.NoError(t, err)

	reg := NewRegistry()
	reg.Register(domain.ProtocolHTTP, fake)

	bus := eventbus.New()
	sub := bus.Subscribe()
	t.Cleanup(sub.Close)

	dir := t.TempDir()
	orch := New(Config{
		Registry:    reg,
		Discovery:   disc,
		Store:       store,
		Bus:         bus,
		DownloadDir: dir,
	})
	return &testHarness{orch: orch, store: store, bus: bus, sub: sub, dir: dir}
}

func testData(n int) []byte {
	data := make([]byte, n)
	for i := range data {
		data[i] = byte(i * 7)
	}
	return data
}

func httpSource(url string) domain.SourceDescriptor {
	return domain.SourceDescriptor{Protocol: domain.ProtocolHTTP, URL: url}
}

// waitForEvent drains the subscription until typ arrives, failing the
// test on a TransferFailed or on timeout.
func waitForEvent(t *testing.T, sub *eventbus.Subscription, typ domain.EventType, timeout time.Duration) domain.TransferEvent {
	t.Helper()
	deadline := time.After(timeout)
	for {
		select {
		case evt := <-sub.Events:
			if evt.Type == typ {
				return evt
			}
			if evt.Type == domain.EventFailed {
				t.Fatalf("transfer failed (%s) while waiting for %s: %s", evt.Category, typ, evt.Message)
			}
		case <-deadline:
			t.Fatalf("timed out waiting for %s", typ)
		}
	}
}

func TestAssignRoundRobin_EmptySourcesIsNotAPanic(t *testing.T) {
	chunks := domain.BuildChunkPlan(4*domain.DefaultChunkSize, domain.DefaultChunkSize, "root", nil)
	assignments := assignRoundRobin(chunks, nil, map[uint32]domain.CompletedChunk{})
	require.Empty(t, assignments)
}

func TestAssignRoundRobin_CoversEachPendingChunkExactlyOnce(t *testing.T) {
	chunks := domain.BuildChunkPlan(8*1024, 1024, "root", nil)
	sources := []domain.SourceDescriptor{httpSource("http://a/f"), httpSource("http://b/f")}
	completed := map[uint32]domain.CompletedChunk{0: {ChunkID: 0}}

	assignments := assignRoundRobin(chunks, sources, completed)
	require.Len(t, assignments, 2)

	seen := make(map[uint32]int)
	for _, a := range assignments {
		for _, id := range a.ChunkIDs {
			seen[id]++
		}
	}
	require.NotContains(t, seen, uint32(0))
	for id := uint32(1); id < 8; id++ {
		require.Equal(t, 1, seen[id], "chunk %d", id)
	}
}

func TestAssignRoundRobin_RespectsMaxChunksPerSource(t *testing.T) {
	chunks := domain.BuildChunkPlan(30*1024, 1024, "root", nil)
	sources := []domain.SourceDescriptor{httpSource("http://a/f")}

	assignments := assignRoundRobin(chunks, sources, nil)
	for _, a := range assignments {
		require.LessOrEqual(t, len(a.ChunkIDs), MaxChunksPerSource)
	}
}

func TestRefillAssignment_SkipsCompletedAssignedAndQueued(t *testing.T) {
	chunks := domain.BuildChunkPlan(30*1024, 1024, "root", nil)
	meta := domain.FileMetadata{FileHash: "h", FileSize: 30 * 1024}
	dl := domain.NewActiveDownload(meta, chunks, "")
	dl.CompletedChunks[0] = domain.CompletedChunk{ChunkID: 0}
	dl.FailedChunks = []uint32{1}
	dl.SourceAssignments["a"] = &domain.SourceAssignment{ChunkIDs: []uint32{2}, Status: domain.StatusDownloading}
	dl.SourceAssignments["b"] = &domain.SourceAssignment{Status: domain.StatusConnected}

	o := &Orchestrator{}
	added := o.refillAssignment(dl, "b")
	require.Equal(t, MaxChunksPerSource, added)

	b := dl.SourceAssignments["b"]
	require.NotContains(t, b.ChunkIDs, uint32(0)) // completed
	require.NotContains(t, b.ChunkIDs, uint32(1)) // queued for retry
	require.NotContains(t, b.ChunkIDs, uint32(2)) // assigned elsewhere
}

func TestStart_UnknownHashIsNotFound(t *testing.T) {
	h := newHarness(t, discovery.NewStaticClient(), &fakeAdapter{})

	err := h.orch.Start(context.Background(), "deadbeef", filepath.Join(t.TempDir(), "out"), 0)
	require.Error(t, err)
	var te *domain.TransferError
	require.ErrorAs(t, err, &te)
	require.Equal(t, domain.CategoryNotFound, te.Category)
}

func TestStart_RefusesDuplicateActive(t *testing.T) {
	data := testData(4 * 1024)
	meta := domain.FileMetadata{
		FileHash:   "dup-hash",
		FileName:   "f.bin",
		FileSize:   uint64(len(data)),
		MerkleRoot: "root",
		Sources:    []domain.SourceDescriptor{httpSource("http://one/f")},
	}
	disc := discovery.NewStaticClient()
	disc.Register(meta, nil)

	h := newHarness(t, disc, &fakeAdapter{data: data, delay: 200 * time.Millisecond})

	out := filepath.Join(t.TempDir(), "out.bin")
	require.NoError(t, h.orch.Start(context.Background(), "dup-hash", out, 1024))

	err := h.orch.Start(context.Background(), "dup-hash", out, 1024)
	require.Error(t, err)
	var te *domain.TransferError
	require.ErrorAs(t, err, &te)
	require.Equal(t, domain.CategoryState, te.Category)

	h.orch.Cancel("dup-hash")
}

func TestStart_SingleSourceCompletesAndRefillsPastInitialBatch(t *testing.T) {
	// 25 chunks against one source: the initial round-robin batch caps at
	// MaxChunksPerSource, so completion proves the worker tops its
	// assignment back up instead of stalling at chunk 10.
	data := testData(25 * 1024)
	meta := domain.FileMetadata{
		FileHash:   "single-hash",
		FileName:   "f.bin",
		FileSize:   uint64(len(data)),
		MerkleRoot: "root",
		Sources:    []domain.SourceDescriptor{httpSource("http://one/f")},
	}
	disc := discovery.NewStaticClient()
	disc.Register(meta, nil)

	h := newHarness(t, disc, &fakeAdapter{data: data})

	out := filepath.Join(t.TempDir(), "out.bin")
	require.NoError(t, h.orch.Start(context.Background(), "single-hash", out, 1024))

	waitForEvent(t, h.sub, domain.EventCompleted, 15*time.Second)

	got, err := os.ReadFile(out)
	require.NoError(t, err)
	require.Equal(t, data, got)

	_, err = os.Stat(filepath.Join(h.dir, "single-hash.state"))
	require.True(t, os.IsNotExist(err), "persisted state should be deleted on finalize")
}

func TestStart_ChunkFailureIsRetriedToCompletion(t *testing.T) {
	data := testData(6 * 1024)
	meta := domain.FileMetadata{
		FileHash:   "retry-hash",
		FileName:   "f.bin",
		FileSize:   uint64(len(data)),
		MerkleRoot: "root",
		Sources:    []domain.SourceDescriptor{httpSource("http://one/f")},
	}
	disc := discovery.NewStaticClient()
	disc.Register(meta, nil)

	fake := &fakeAdapter{data: data, failures: map[uint64]int{2048: 1}}
	h := newHarness(t, disc, fake)

	out := filepath.Join(t.TempDir(), "out.bin")
	require.NoError(t, h.orch.Start(context.Background(), "retry-hash", out, 1024))

	sawRetry := false
	deadline := time.After(20 * time.Second)
	for {
		select {
		case evt := <-h.sub.Events:
			switch evt.Type {
			case domain.EventChunkFailed:
				require.True(t, evt.WillRetry)
				sawRetry = true
			case domain.EventFailed:
				t.Fatalf("transfer failed: %s", evt.Message)
			case domain.EventCompleted:
				require.True(t, sawRetry, "expected a ChunkFailed{will_retry} before completion")
				got, err := os.ReadFile(out)
				require.NoError(t, err)
				require.Equal(t, data, got)
				return
			}
		case <-deadline:
			t.Fatal("timed out waiting for retried transfer to complete")
		}
	}
}

func TestStart_MultiSourceResumeProducesIdenticalFile(t *testing.T) {
	// A resumed download: 4 chunks of DefaultChunkSize, chunks 0 and 2
	// already persisted, two sources for the remainder.
	data := testData(4 * domain.DefaultChunkSize)
	hashes := make(map[uint32]string, 4)
	for i := uint32(0); i < 4; i++ {
		sum := sha256.Sum256(data[int(i)*domain.DefaultChunkSize : (int(i)+1)*domain.DefaultChunkSize])
		hashes[i] = hex.EncodeToString(sum[:])
	}
	meta := domain.FileMetadata{
		FileHash:    "resume-hash",
		FileName:    "f.bin",
		FileSize:    uint64(len(data)),
		MerkleRoot:  "root",
		ChunkHashes: hashes,
		Sources: []domain.SourceDescriptor{
			httpSource("http://a/f"),
			httpSource("http://b/f"),
		},
	}
	disc := discovery.NewStaticClient()
	disc.Register(meta, nil)

	h := newHarness(t, disc, &fakeAdapter{data: data})

	require.NoError(t, h.store.Put("resume-hash", 0, data[:domain.DefaultChunkSize], hashes[0]))
	require.NoError(t, h.store.Put("resume-hash", 2, data[2*domain.DefaultChunkSize:3*domain.DefaultChunkSize], hashes[2]))

	out := filepath.Join(t.TempDir(), "out.bin")
	require.NoError(t, h.orch.Start(context.Background(), "resume-hash", out, domain.DefaultChunkSize))

	waitForEvent(t, h.sub, domain.EventCompleted, 15*time.Second)

	got, err := os.ReadFile(out)
	require.NoError(t, err)
	require.Equal(t, data, got)
}

func TestCancel_NoEventsAfterCanceled(t *testing.T) {
	data := testData(8 * 1024)
	meta := domain.FileMetadata{
		FileHash:   "cancel-hash",
		FileName:   "f.bin",
		FileSize:   uint64(len(data)),
		MerkleRoot: "root",
		Sources:    []domain.SourceDescriptor{httpSource("http://one/f")},
	}
	disc := discovery.NewStaticClient()
	disc.Register(meta, nil)

	h := newHarness(t, disc, &fakeAdapter{data: data, delay: 100 * time.Millisecond})

	out := filepath.Join(t.TempDir(), "out.bin")
	require.NoError(t, h.orch.Start(context.Background(), "cancel-hash", out, 1024))

	waitForEvent(t, h.sub, domain.EventChunkCompleted, 10*time.Second)
	require.NoError(t, h.orch.Cancel("cancel-hash"))

	waitForEvent(t, h.sub, domain.EventCanceled, 5*time.Second)

	select {
	case evt := <-h.sub.Events:
		t.Fatalf("received %s after Canceled", evt.Type)
	case <-time.After(600 * time.Millisecond):
	}
}

func TestCancel_UnknownHashIsNotFound(t *testing.T) {
	h := newHarness(t, discovery.NewStaticClient(), &fakeAdapter{})
	err := h.orch.Cancel("nope")
	var te *domain.TransferError
	require.ErrorAs(t, err, &te)
	require.Equal(t, domain.CategoryNotFound, te.Category)
}

func TestProgress_ReportsSnapshot(t *testing.T) {
	data := testData(4 * 1024)
	meta := domain.FileMetadata{
		FileHash:   "prog-hash",
		FileName:   "f.bin",
		FileSize:   uint64(len(data)),
		MerkleRoot: "root",
		Sources:    []domain.SourceDescriptor{httpSource("http://one/f")},
	}
	disc := discovery.NewStaticClient()
	disc.Register(meta, nil)

	h := newHarness(t, disc, &fakeAdapter{data: data, delay: 200 * time.Millisecond})

	out := filepath.Join(t.TempDir(), "out.bin")
	require.NoError(t, h.orch.Start(context.Background(), "prog-hash", out, 1024))
	defer h.orch.Cancel("prog-hash")

	stats, err := h.orch.Progress("prog-hash")
	require.NoError(t, err)
	require.Equal(t, "prog-hash", stats.FileHash)
	require.Equal(t, 4, stats.ChunksTotal)
	require.Equal(t, uint64(len(data)), stats.TotalBytes)

	_, err = h.orch.Progress("unknown")
	require.Error(t, err)
}

func TestSaveAndLoadPersistedStates_AdmitsOnlyVerifiableChunks(t *testing.T) {
	store, err := chunkstore.Open(t.TempDir())
	require.NoError(t, err)
	dir := t.TempDir()
	o := New(Config{Store: store, DownloadDir: dir})

	chunk0 := testData(1024)
	sum := sha256.Sum256(chunk0)
	hashes := map[uint32]string{0: hex.EncodeToString(sum[:])}

	chunks := domain.BuildChunkPlan(3*1024, 1024, "root", hashes)
	meta := domain.FileMetadata{FileHash: "persist-hash", FileName: "f.bin", FileSize: 3 * 1024, ChunkHashes: hashes}
	dl := domain.NewActiveDownload(meta, chunks, "/tmp/out.bin")
	dl.CompletedChunks[0] = domain.CompletedChunk{ChunkID: 0, Data: chunk0}
	dl.CompletedChunks[1] = domain.CompletedChunk{ChunkID: 1, Data: testData(1024)}

	require.NoError(t, o.saveState("persist-hash", dl))

	// Chunk 0 is recoverable from the store; chunk 1 is listed as
	// completed but its bytes were never persisted.
	require.NoError(t, store.Put("persist-hash", 0, chunk0, hashes[0]))

	// A corrupt state file alongside must be skipped, not fatal.
	require.NoError(t, os.WriteFile(filepath.Join(dir, "bad.state"), []byte("{not json"), 0o644))

	loaded, err := LoadPersistedStates(dir, store)
	require.NoError(t, err)
	require.Len(t, loaded, 1)

	got := loaded[0]
	require.Equal(t, "persist-hash", got.FileMetadata.FileHash)
	require.Contains(t, got.CompletedChunks, uint32(0))
	require.NotContains(t, got.CompletedChunks, uint32(1))
	require.Equal(t, chunk0, got.CompletedChunks[0].Data)
}

func TestFinalize_ZeroByteFileCompletesImmediately(t *testing.T) {
	meta := domain.FileMetadata{
		FileHash:   "empty-hash",
		FileName:   "empty.bin",
		FileSize:   0,
		MerkleRoot: "root",
		Sources:    []domain.SourceDescriptor{httpSource("http://one/f")},
	}
	disc := discovery.NewStaticClient()
	disc.Register(meta, nil)

	h := newHarness(t, disc, &fakeAdapter{})
	require.NoError(t, h.store.Put("empty-hash", 0, nil, "root_0"))

	out := filepath.Join(t.TempDir(), "empty.bin")
	require.NoError(t, h.orch.Start(context.Background(), "empty-hash", out, 0))

	waitForEvent(t, h.sub, domain.EventCompleted, 5*time.Second)

	got, err := os.ReadFile(out)
	require.NoError(t, err)
	require.Empty(t, got)
}

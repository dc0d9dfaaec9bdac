package chunkstore

import (
	"encoding/json"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestPutGet_RoundTrip(t *testing.T) {
	dir := t.TempDir()
	store, err := Open(dir)
	require.NoError(t, err)

	data := []byte("hello chunk")
	require.NoError(t, store.Put("file-abc", 0, data, "r_0"))

	require.True(t, store.Exists("file-abc", 0))

	got, err := store.Get("file-abc", 0)
	require.NoError(t, err)
	require.Equal(t, data, got)
}

func TestGet_MissingChunk(t *testing.T) {
	store, err := Open(t.TempDir())
	require.NoError(t, err)

	_, err = store.Get("nope", 0)
	require.Error(t, err)
}

func TestGet_DetectsCorruption(t *testing.T) {
	dir := t.TempDir()
	store, err := Open(dir)
	require.NoError(t, err)

	require.NoError(t, store.Put("file-abc", 0, []byte("original"), "r_0"))

	// Corrupt the on-disk bytes directly, bypassing the store API.
	require.NoError(t, atomicWrite(store.dataPath("file-abc", 0), []byte("corrupted!!")))

	_, err = store.Get("file-abc", 0)
	require.Error(t, err)
}

func TestScan_ListsPersistedChunks(t *testing.T) {
	store, err := Open(t.TempDir())
	require.NoError(t, err)

	require.NoError(t, store.Put("f", 0, []byte("a"), "r_0"))
	require.NoError(t, store.Put("f", 1, []byte("b"), "r_1"))
	require.NoError(t, store.Put("f", 2, []byte("c"), "r_2"))

	ids, err := store.Scan("f")
	require.NoError(t, err)
	require.ElementsMatch(t, []uint32{0, 1, 2}, ids)
}

func TestExists_FalseForNeverSeenFile(t *testing.T) {
	store, err := Open(t.TempDir())
	require.NoError(t, err)

	require.False(t, store.Exists("never-seen", 7))
}

func TestGC_RemovesFileDirectory(t *testing.T) {
	store, err := Open(t.TempDir())
	require.NoError(t, err)

	require.NoError(t, store.Put("f", 0, []byte("a"), "r_0"))
	require.NoError(t, store.GC("f"))
	require.False(t, store.Exists("f", 0))
}

func TestGCOrphaned_RemovesMismatchedPair(t *testing.T) {
	store, err := Open(t.TempDir())
	require.NoError(t, err)

	require.NoError(t, store.Put("f", 0, []byte("a"), "r_0"))
	require.NoError(t, store.Remove("f", 0))

	// Write only the .dat half back, simulating a crash before the
	// .meta rename landed.
	require.NoError(t, atomicWrite(store.dataPath("f", 0), []byte("a")))

	removed, err := store.GCOrphaned()
	require.NoError(t, err)
	require.Equal(t, 1, removed)
	require.False(t, store.Exists("f", 0))
}

func TestPut_WritesContentAddressedSibling(t *testing.T) {
	dir := t.TempDir()
	store, err := Open(dir)
	require.NoError(t, err)

	data := []byte("identical bytes")
	require.NoError(t, store.Put("file-a", 0, data, "r_0"))
	require.NoError(t, store.Put("file-b", 5, data, "r_5"))

	meta, err := os.ReadFile(store.metaPath("file-a", 0))
	require.NoError(t, err)
	var m Meta
	require.NoError(t, json.Unmarshal(meta, &m))

	// Both puts of the same bytes share one sibling file under .content.
	_, err = os.Stat(store.contentPath(m.ContentHash))
	require.NoError(t, err)
}

func TestGCStale_RemovesUnkeptOldDirectories(t *testing.T) {
	store, err := Open(t.TempDir())
	require.NoError(t, err)

	require.NoError(t, store.Put("stale", 0, []byte("a"), "r_0"))
	require.NoError(t, store.Put("kept", 0, []byte("b"), "r_0"))

	removed, err := store.GCStale(map[string]bool{"kept": true}, 0)
	require.NoError(t, err)
	require.Equal(t, 1, removed)
	require.False(t, store.Exists("stale", 0))
	require.True(t, store.Exists("kept", 0))
}

func TestGCStale_RespectsMaxAge(t *testing.T) {
	store, err := Open(t.TempDir())
	require.NoError(t, err)

	require.NoError(t, store.Put("recent", 0, []byte("a"), "r_0"))

	removed, err := store.GCStale(map[string]bool{}, time.Hour)
	require.NoError(t, err)
	require.Equal(t, 0, removed)
	require.True(t, store.Exists("recent", 0))
}

func TestMetaSidecar_StableFieldNames(t *testing.T) {
	store, err := Open(t.TempDir())
	require.NoError(t, err)

	require.NoError(t, store.Put("file-abc", 3, []byte("bytes"), "r_3"))

	raw, err := os.ReadFile(store.metaPath("file-abc", 3))
	require.NoError(t, err)
	var fields map[string]any
	require.NoError(t, json.Unmarshal(raw, &fields))

	require.EqualValues(t, 3, fields["chunk_id"])
	require.EqualValues(t, 5, fields["size"])
	require.Equal(t, "file-abc", fields["file_hash"])
	require.InDelta(t, time.Now().Unix(), fields["stored_at"], 60)
}

func TestGet_RejectsMetaFromAnotherChunk(t *testing.T) {
	store, err := Open(t.TempDir())
	require.NoError(t, err)

	require.NoError(t, store.Put("file-abc", 0, []byte("zero"), "r_0"))
	require.NoError(t, store.Put("file-abc", 1, []byte("one!"), "r_1"))

	// A misplaced sidecar: chunk 1's meta copied over chunk 0's.
	raw, err := os.ReadFile(store.metaPath("file-abc", 1))
	require.NoError(t, err)
	require.NoError(t, atomicWrite(store.metaPath("file-abc", 0), raw))

	_, err = store.Get("file-abc", 0)
	require.Error(t, err)
}

package domain

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestBuildChunkPlan_ZeroSizeFile(t *testing.T) {
	chunks := BuildChunkPlan(0, DefaultChunkSize, "root", nil)
	require.Len(t, chunks, 1)
	require.Equal(t, 0, chunks[0].Size)
	require.Equal(t, uint64(0), chunks[0].Offset)
}

func TestBuildChunkPlan_ExactMultiple(t *testing.T) {
	chunks := BuildChunkPlan(uint64(DefaultChunkSize), DefaultChunkSize, "root", nil)
	require.Len(t, chunks, 1)
	require.Equal(t, DefaultChunkSize, chunks[0].Size)
}

func TestBuildChunkPlan_MinChunksForParallel(t *testing.T) {
	chunks := BuildChunkPlan(uint64(DefaultChunkSize*4), DefaultChunkSize, "root", nil)
	require.Len(t, chunks, 4)
	for i, c := range chunks {
		require.Equal(t, uint32(i), c.ChunkID)
		require.Equal(t, DefaultChunkSize, c.Size)
	}
}

func TestBuildChunkPlan_RemainderLastChunk(t *testing.T) {
	fileSize := uint64(DefaultChunkSize*2 + 100)
	chunks := BuildChunkPlan(fileSize, DefaultChunkSize, "root", nil)
	require.Len(t, chunks, 3)
	require.Equal(t, 100, chunks[2].Size)
	require.Equal(t, fileSize, TotalSize(chunks))
}

func TestBuildChunkPlan_DenseOffsets(t *testing.T) {
	fileSize := uint64(DefaultChunkSize*3 + 7)
	chunks := BuildChunkPlan(fileSize, DefaultChunkSize, "root", nil)
	var expected uint64
	for _, c := range chunks {
		require.Equal(t, expected, c.Offset)
		expected += uint64(c.Size)
	}
	require.Equal(t, fileSize, expected)
}

func TestBuildChunkPlan_HashOverride(t *testing.T) {
	overrides := map[uint32]string{1: "sha256:deadbeef"}
	chunks := BuildChunkPlan(uint64(DefaultChunkSize*2), DefaultChunkSize, "merkle", overrides)
	require.Equal(t, "merkle_0", chunks[0].Hash)
	require.Equal(t, "sha256:deadbeef", chunks[1].Hash)
}

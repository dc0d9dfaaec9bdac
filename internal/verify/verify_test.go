package verify

import (
	"crypto/sha256"
	"encoding/hex"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/chiral/transferd/internal/domain"
)

func TestChunk_SkipPath(t *testing.T) {
	// Concrete scenario 1: a protocol-opaque tag is not a hard error.
	err := Chunk([]byte("hello"), "r_0")
	require.NoError(t, err)
}

func TestChunk_SHA256Match(t *testing.T) {
	data := []byte("hello world")
	sum := sha256.Sum256(data)
	hash := hex.EncodeToString(sum[:])

	require.NoError(t, Chunk(data, hash))
}

func TestChunk_SHA256Mismatch(t *testing.T) {
	data := []byte("hello world")
	sum := sha256.Sum256(data)
	hash := hex.EncodeToString(sum[:])

	err := Chunk([]byte("goodbye world"), hash)
	require.Error(t, err)

	var te *domain.TransferError
	require.ErrorAs(t, err, &te)
	require.Equal(t, domain.CategoryIntegrity, te.Category)
}

func TestEd2kChunkCount(t *testing.T) {
	// Concrete scenario 4.
	require.Equal(t, uint64(3), Ed2kChunkCount(19_456_100))
	require.Equal(t, uint64(9_728_000), Ed2kChunkSizeAt(19_456_100, 0))
	require.Equal(t, uint64(9_728_000), Ed2kChunkSizeAt(19_456_100, 1))
	require.Equal(t, uint64(100), Ed2kChunkSizeAt(19_456_100, 2))
}

func TestEd2kChunkCount_ExactMultiple(t *testing.T) {
	require.Equal(t, uint64(2), Ed2kChunkCount(Ed2kChunkSize*2))
	require.Equal(t, uint64(Ed2kChunkSize), Ed2kChunkSizeAt(Ed2kChunkSize*2, 1))
}

func TestEd2kChunkCount_Zero(t *testing.T) {
	require.Equal(t, uint64(1), Ed2kChunkCount(0))
}

func TestMD4ChunkCaseInsensitive(t *testing.T) {
	data := []byte("ed2k test data")
	h := MD4Hex(data)
	require.NoError(t, MD4Chunk(data, h))

	// Uppercase variant should also match.
	upper := ""
	for _, r := range h {
		if r >= 'a' && r <= 'f' {
			upper += string(r - 32)
		} else {
			upper += string(r)
		}
	}
	require.NoError(t, MD4Chunk(data, upper))
}

// Package verify implements the Integrity Verifier: SHA-256 for regular
// chunks, MD4 for ED2K chunks and file roots, and a skip path for
// protocol-opaque hash tags that aren't meant to be cryptographically
// checked. The shape of the expected hash decides the path: 64 hex
// chars selects SHA-256, 32 hex chars selects MD4, anything else is
// accepted without verification.
package verify

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"fmt"
	"strings"

	"golang.org/x/crypto/md4"

	"github.com/chiral/transferd/internal/domain"
)

// Ed2kChunkSize is the ED2K protocol's chunk size in bytes (9.28 MB),
// distinct from our 256 KiB logical chunk.
const Ed2kChunkSize = 9_728_000

// sha256HashLen is the length of a lowercase-hex SHA-256 digest.
const sha256HashLen = 64

// isSHA256Shape reports whether hash looks like a lowercase 64-char hex
// SHA-256 digest. Anything else is treated as a protocol-opaque tag.
func isSHA256Shape(hash string) bool {
	if len(hash) != sha256HashLen {
		return false
	}
	for _, r := range hash {
		isHex := (r >= '0' && r <= '9') || (r >= 'a' && r <= 'f')
		if !isHex {
			return false
		}
	}
	return true
}

// Chunk verifies data against a plan's expected hash. Three outcomes:
//   - hash is SHA-256 shaped: compute and constant-time compare; mismatch
//     returns an Integrity-categorized error carrying both digests.
//   - hash is 32 hex chars (either case): MD4 via MD4Chunk.
//   - hash is neither: the skip path — succeeds unconditionally.
func Chunk(data []byte, expectedHash string) error {
	if len(expectedHash) == 32 {
		if _, err := hex.DecodeString(expectedHash); err == nil {
			return MD4Chunk(data, expectedHash)
		}
	}
	if !isSHA256Shape(expectedHash) {
		return nil // skip path: protocol-opaque tag, not a hard error
	}

	sum := sha256.Sum256(data)
	actual := hex.EncodeToString(sum[:])

	if subtle.ConstantTimeCompare([]byte(actual), []byte(expectedHash)) != 1 {
		return domain.NewError(domain.CategoryIntegrity,
			fmt.Sprintf("sha256 mismatch: expected %s, got %s", expectedHash, actual),
			domain.ErrIntegrityFailed)
	}
	return nil
}

// MD4Hex computes the MD4 digest of data as lowercase hex.
func MD4Hex(data []byte) string {
	h := md4.New()
	h.Write(data)
	return hex.EncodeToString(h.Sum(nil))
}

// MD4Chunk verifies data against an expected MD4 hex digest, matched
// case-insensitively (ED2K links and server responses vary in case).
func MD4Chunk(data []byte, expectedMD4Hex string) error {
	actual := MD4Hex(data)
	if !strings.EqualFold(actual, expectedMD4Hex) {
		return domain.NewError(domain.CategoryIntegrity,
			fmt.Sprintf("md4 mismatch: expected %s, got %s", expectedMD4Hex, actual),
			domain.ErrIntegrityFailed)
	}
	return nil
}

// FileRootMD4 computes the ED2K root hash for a whole file: plain MD4 of
// the file when it's small enough to be a single ED2K chunk, otherwise
// MD4 of the concatenation of each 9.28 MB chunk's MD4 digest.
func FileRootMD4(file []byte) string {
	if len(file) <= Ed2kChunkSize {
		h := md4.New()
		h.Write(file)
		return hex.EncodeToString(h.Sum(nil))
	}

	var concat []byte
	for offset := 0; offset < len(file); offset += Ed2kChunkSize {
		end := offset + Ed2kChunkSize
		if end > len(file) {
			end = len(file)
		}
		h := md4.New()
		h.Write(file[offset:end])
		concat = append(concat, h.Sum(nil)...)
	}

	root := md4.New()
	root.Write(concat)
	return hex.EncodeToString(root.Sum(nil))
}

// Ed2kChunkCount returns the number of 9.28 MB ED2K chunks for fileSize,
// minimum 1.
func Ed2kChunkCount(fileSize uint64) uint64 {
	if fileSize == 0 {
		return 1
	}
	n := fileSize / Ed2kChunkSize
	if fileSize%Ed2kChunkSize != 0 {
		n++
	}
	if n == 0 {
		n = 1
	}
	return n
}

// Ed2kChunkSizeAt returns the size in bytes of ED2K chunk index i for a
// file of fileSize bytes.
func Ed2kChunkSizeAt(fileSize uint64, i uint64) uint64 {
	offset := i * Ed2kChunkSize
	if offset >= fileSize {
		return 0
	}
	remaining := fileSize - offset
	if remaining < Ed2kChunkSize {
		return remaining
	}
	return Ed2kChunkSize
}

// Package chunkstore persists downloaded chunk bytes to disk, with a
// content-addressed sibling copy so identical chunks (duplicate ED2K
// blocks, chunks shared across two downloads of the same file) share one
// entry under the content store; each file's own directory still keeps
// its own copy of every chunk. All writes
// go through write-then-rename so a crash never leaves a half-written
// chunk visible.
package chunkstore

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"github.com/chiral/transferd/internal/domain"
	"github.com/chiral/transferd/internal/dsa"
)

// Store lays out chunks on disk as ./chunks/<file_hash>/chunk_<id>.dat
// plus a sibling chunk_<id>.meta. A parallel
// content-addressed sibling store under ./chunks/.content/<hash>.dat
// lets identical bytes (the same chunk reachable through two different
// file hashes, or an ED2K parent chunk that happens to duplicate an
// HTTP-sourced one) be deduplicated across directories.
type Store struct {
	baseDir string

	bloomMu sync.Mutex
	bloom   map[string]*dsa.BloomFilter // fileHash -> membership filter, lazily built
}

// contentDirName is the reserved subdirectory holding the content-
// addressed sibling store. It is never treated as a file_hash directory
// by Scan/GC/GCOrphaned callers that walk baseDir's entries.
const contentDirName = ".content"

// bloomExpectedChunks sizes the per-file filter generously; Exists still
// stats the disk on a possible hit, so an oversized filter only costs a
// little memory, never a false "chunk present".
const bloomExpectedChunks = 4096

func (s *Store) bloomFor(fileHash string) *dsa.BloomFilter {
	s.bloomMu.Lock()
	defer s.bloomMu.Unlock()
	if s.bloom == nil {
		s.bloom = make(map[string]*dsa.BloomFilter)
	}
	b, ok := s.bloom[fileHash]
	if !ok {
		b = dsa.NewBloomFilter(dsa.BloomConfig{ExpectedItems: bloomExpectedChunks, FPRate: 0.01})
		if ids, err := s.Scan(fileHash); err == nil {
			for _, id := range ids {
				b.Add(strconv.FormatUint(uint64(id), 10))
			}
		}
		s.bloom[fileHash] = b
	}
	return b
}

// Meta is the on-disk sidecar recorded next to each chunk's bytes. The
// chunk_id, size, stored_at, and file_hash fields are a stable external
// surface; hash and content_hash are this store's own bookkeeping.
type Meta struct {
	ChunkID     uint32 `json:"chunk_id"`
	Size        int    `json:"size"`
	StoredAt    int64  `json:"stored_at"`
	FileHash    string `json:"file_hash"`
	Hash        string `json:"hash"`
	ContentHash string `json:"content_hash"`
}

// Open returns a Store rooted at baseDir (created if absent).
func Open(baseDir string) (*Store, error) {
	if err := os.MkdirAll(baseDir, 0o755); err != nil {
		return nil, domain.NewError(domain.CategoryFilesystem, "create chunk store root", err)
	}
	return &Store{baseDir: baseDir}, nil
}

func (s *Store) fileDir(fileHash string) string {
	return filepath.Join(s.baseDir, fileHash)
}

func (s *Store) dataPath(fileHash string, chunkID uint32) string {
	return filepath.Join(s.fileDir(fileHash), fmt.Sprintf("chunk_%d.dat", chunkID))
}

func (s *Store) metaPath(fileHash string, chunkID uint32) string {
	return filepath.Join(s.fileDir(fileHash), fmt.Sprintf("chunk_%d.meta", chunkID))
}

func (s *Store) contentPath(contentHash string) string {
	return filepath.Join(s.baseDir, contentDirName, contentHash+".dat")
}

// Put writes chunk data and its metadata atomically: each file is written
// to a temp path in the same directory then renamed into place, so a
// crash mid-write never leaves a half-written chunk visible to Get/Exists.
func (s *Store) Put(fileHash string, chunkID uint32, data []byte, expectedHash string) error {
	dir := s.fileDir(fileHash)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return domain.NewError(domain.CategoryFilesystem, "create chunk dir", err)
	}

	contentSum := sha256.Sum256(data)
	meta := Meta{
		ChunkID:     chunkID,
		Size:        len(data),
		StoredAt:    time.Now().Unix(),
		FileHash:    fileHash,
		Hash:        expectedHash,
		ContentHash: hex.EncodeToString(contentSum[:]),
	}

	if err := atomicWrite(s.dataPath(fileHash, chunkID), data); err != nil {
		return domain.NewError(domain.CategoryFilesystem, "write chunk data", err)
	}

	metaBytes, err := json.Marshal(meta)
	if err != nil {
		return domain.NewError(domain.CategoryFilesystem, "marshal chunk meta", err)
	}
	if err := atomicWrite(s.metaPath(fileHash, chunkID), metaBytes); err != nil {
		return domain.NewError(domain.CategoryFilesystem, "write chunk meta", err)
	}
	s.bloomFor(fileHash).Add(strconv.FormatUint(uint64(chunkID), 10))

	// Content-addressed sibling write for cross-file dedup. A
	// failure here never fails Put — the authoritative copy
	// already landed at dataPath above.
	if err := s.writeContentSibling(meta.ContentHash, data); err != nil {
		log.Printf("[chunkstore] sibling content write for %s chunk %d: %v", fileHash, chunkID, err)
	}
	return nil
}

// writeContentSibling stores data once under its content hash. A second
// Put of identical bytes (same chunk reachable from two file hashes, or
// two ED2K parent chunks that happen to collide) is a no-op here.
func (s *Store) writeContentSibling(contentHash string, data []byte) error {
	path := s.contentPath(contentHash)
	if _, err := os.Stat(path); err == nil {
		return nil
	}
	if err := os.MkdirAll(filepath.Join(s.baseDir, contentDirName), 0o755); err != nil {
		return err
	}
	return atomicWrite(path, data)
}

// atomicWrite writes data to a temp file beside path, fsyncs it, then
// renames it into place — rename is atomic on the same filesystem.
func atomicWrite(path string, data []byte) error {
	tmp := path + ".tmp"
	f, err := os.OpenFile(tmp, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		os.Remove(tmp)
		return err
	}
	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(tmp)
		return err
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return err
	}
	return os.Rename(tmp, path)
}

// Exists reports whether chunkID is persisted and its metadata is intact.
// A per-file Bloom filter rejects most "definitely absent" chunks (the
// common case while a download is still filling in gaps) without a
// syscall; a filter hit still falls through to stat both paths, since a
// Bloom filter can false-positive but never false-negative.
func (s *Store) Exists(fileHash string, chunkID uint32) bool {
	if !s.bloomFor(fileHash).Contains(strconv.FormatUint(uint64(chunkID), 10)) {
		return false
	}
	_, err := os.Stat(s.dataPath(fileHash, chunkID))
	if err != nil {
		return false
	}
	_, err = os.Stat(s.metaPath(fileHash, chunkID))
	return err == nil
}

// Get reads back a chunk's bytes. The sidecar metadata must match the
// requested file hash, chunk id, and recorded size, and the bytes must
// still match the stored content hash, so silent corruption (disk
// bitrot, truncation, a misplaced sidecar) is caught on read rather
// than surfacing as a mismatched file later.
func (s *Store) Get(fileHash string, chunkID uint32) ([]byte, error) {
	metaBytes, err := os.ReadFile(s.metaPath(fileHash, chunkID))
	if err != nil {
		return nil, domain.NewError(domain.CategoryNotFound, "read chunk meta", domain.ErrNotFound)
	}
	var meta Meta
	if err := json.Unmarshal(metaBytes, &meta); err != nil {
		return nil, domain.NewError(domain.CategoryState, "corrupt chunk meta", err)
	}
	if meta.ChunkID != chunkID {
		return nil, domain.NewError(domain.CategoryState,
			fmt.Sprintf("chunk meta records chunk %d, requested %d", meta.ChunkID, chunkID), domain.ErrStateInconsistent)
	}
	if meta.FileHash != fileHash {
		return nil, domain.NewError(domain.CategoryState,
			fmt.Sprintf("chunk meta records file %s, requested %s", meta.FileHash, fileHash), domain.ErrStateInconsistent)
	}

	data, err := os.ReadFile(s.dataPath(fileHash, chunkID))
	if err != nil {
		return nil, domain.NewError(domain.CategoryNotFound, "read chunk data", domain.ErrNotFound)
	}
	if len(data) != meta.Size {
		return nil, domain.NewError(domain.CategoryIntegrity,
			fmt.Sprintf("chunk data is %d bytes, meta records %d", len(data), meta.Size), domain.ErrIntegrityFailed)
	}

	sum := sha256.Sum256(data)
	if hex.EncodeToString(sum[:]) != meta.ContentHash {
		return nil, domain.NewError(domain.CategoryIntegrity, "chunk data does not match stored content hash", domain.ErrIntegrityFailed)
	}

	return data, nil
}

// Remove deletes a chunk's data and metadata, ignoring a missing file.
func (s *Store) Remove(fileHash string, chunkID uint32) error {
	if err := os.Remove(s.dataPath(fileHash, chunkID)); err != nil && !os.IsNotExist(err) {
		return domain.NewError(domain.CategoryFilesystem, "remove chunk data", err)
	}
	if err := os.Remove(s.metaPath(fileHash, chunkID)); err != nil && !os.IsNotExist(err) {
		return domain.NewError(domain.CategoryFilesystem, "remove chunk meta", err)
	}
	return nil
}

// Scan lists the chunk IDs persisted for fileHash.
func (s *Store) Scan(fileHash string) ([]uint32, error) {
	entries, err := os.ReadDir(s.fileDir(fileHash))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, domain.NewError(domain.CategoryFilesystem, "scan chunk dir", err)
	}

	var ids []uint32
	for _, e := range entries {
		var id uint32
		if _, err := fmt.Sscanf(e.Name(), "chunk_%d.dat", &id); err == nil {
			ids = append(ids, id)
		}
	}
	return ids, nil
}

// GC removes the chunk directory for fileHash entirely — called once a
// transfer finalizes successfully and its chunks have been assembled
// into the output file, or when a transfer is canceled for good.
func (s *Store) GC(fileHash string) error {
	if err := os.RemoveAll(s.fileDir(fileHash)); err != nil {
		return domain.NewError(domain.CategoryFilesystem, "gc chunk dir", err)
	}
	s.bloomMu.Lock()
	delete(s.bloom, fileHash)
	s.bloomMu.Unlock()
	return nil
}

// GCOrphaned walks every tracked directory under the store root and
// removes any chunk whose .dat file has no .meta sidecar — the pair left
// behind by a crash mid-Put before the .meta rename completed. A .meta
// without its .dat, or a .meta that does not parse, is not removed.
func (s *Store) GCOrphaned() (int, error) {
	entries, err := os.ReadDir(s.baseDir)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, domain.NewError(domain.CategoryFilesystem, "read store root", err)
	}

	removed := 0
	for _, dirEntry := range entries {
		if !dirEntry.IsDir() || dirEntry.Name() == contentDirName {
			continue
		}
		fileHash := dirEntry.Name()
		ids, err := s.Scan(fileHash)
		if err != nil {
			continue
		}
		for _, id := range ids {
			if !s.Exists(fileHash, id) {
				s.Remove(fileHash, id)
				removed++
			}
		}
	}
	return removed, nil
}

// GCStale removes every file-hash directory under the store root that is
// neither in keep (the orchestrator's active transfers plus any with a
// persisted .state file) nor was written to within maxAge. maxAge <= 0
// skips the age check (age alone never protects a directory from removal
// if it's also absent from keep).
func (s *Store) GCStale(keep map[string]bool, maxAge time.Duration) (int, error) {
	entries, err := os.ReadDir(s.baseDir)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, domain.NewError(domain.CategoryFilesystem, "read store root", err)
	}

	removed := 0
	cutoff := time.Now().Add(-maxAge)
	for _, dirEntry := range entries {
		if !dirEntry.IsDir() || dirEntry.Name() == contentDirName {
			continue
		}
		fileHash := dirEntry.Name()
		if keep[fileHash] {
			continue
		}
		if maxAge > 0 {
			info, err := dirEntry.Info()
			if err == nil && info.ModTime().After(cutoff) {
				continue
			}
		}
		if err := s.GC(fileHash); err != nil {
			continue
		}
		removed++
	}
	return removed, nil
}

// TotalBytes sums the size of every .dat file under the content-
// addressed sibling store: the de-duplicated size of the stored content.
// The per-file directories hold further copies of the same bytes and are
// not counted, so this is less than the store's full disk usage.
func (s *Store) TotalBytes() (int64, error) {
	dir := filepath.Join(s.baseDir, contentDirName)
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, domain.NewError(domain.CategoryFilesystem, "read content store dir", err)
	}

	var total int64
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		total += info.Size()
	}
	return total, nil
}

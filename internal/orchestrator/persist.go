package orchestrator

import (
	"encoding/json"
	"os"
	"path/filepath"
	"time"

	"github.com/chiral/transferd/internal/chunkstore"
	"github.com/chiral/transferd/internal/domain"
	"github.com/chiral/transferd/internal/verify"
)

// saveState writes the current snapshot of t.download to
// <downloadDir>/<fileHash>.state.
// Called after any mutation worth surviving a restart: chunk admission,
// chunk completion, and chunk failure. The write is best-effort — a
// failed save is logged by the caller's event path, never fatal to the
// transfer itself.
func (o *Orchestrator) saveState(fileHash string, dl *domain.ActiveDownload) error {
	if o.downloadDir == "" {
		return nil
	}

	dl.Mu.Lock()
	state := domain.PersistedDownloadState{
		FileHash:     fileHash,
		FileMetadata: dl.FileMetadata,
		Chunks:       append([]domain.ChunkInfo{}, dl.Chunks...),
		SourceAssignments: func() map[string]domain.PersistedSourceAssignment {
			m := make(map[string]domain.PersistedSourceAssignment, len(dl.SourceAssignments))
			for id, a := range dl.SourceAssignments {
				m[id] = domain.PersistedSourceAssignment{
					Source:   a.Source,
					ChunkIDs: append([]uint32{}, a.ChunkIDs...),
					Status:   a.Status,
				}
			}
			return m
		}(),
		CompletedChunkIDs: func() []uint32 {
			ids := make([]uint32, 0, len(dl.CompletedChunks))
			for id := range dl.CompletedChunks {
				ids = append(ids, id)
			}
			return ids
		}(),
		FailedChunks:    append([]uint32{}, dl.FailedChunks...),
		StartTimeUnix:   dl.StartTime.Unix(),
		OutputPath:      dl.OutputPath,
		Ed2kChunkHashes: dl.Ed2kChunkHashes,
		SavedAt:         time.Now().Unix(),
	}
	dl.Mu.Unlock()

	buf, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return err
	}

	if err := os.MkdirAll(o.downloadDir, 0o755); err != nil {
		return err
	}
	path := filepath.Join(o.downloadDir, fileHash+".state")
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, buf, 0o644); err != nil {
		os.Remove(tmp)
		return err
	}
	return os.Rename(tmp, path)
}

// LoadPersistedStates scans dir for "*.state" files and
// reconstructs one ActiveDownload per valid file, with empty
// assignments — a subsequent Start(ctx, fileHash, ...) picks up from
// the first incomplete chunk via admitPersistedChunks. Every listed
// completed_chunk_id is re-verified against the plan's hash through
// store before being admitted; chunks that fail to re-verify are
// silently discarded, never admitted without verification.
func LoadPersistedStates(dir string, store *chunkstore.Store) ([]*domain.ActiveDownload, error) {
	entries, err := os.ReadDir(dir)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var out []*domain.ActiveDownload
	for _, ent := range entries {
		if ent.IsDir() || filepath.Ext(ent.Name()) != ".state" {
			continue
		}

		raw, err := os.ReadFile(filepath.Join(dir, ent.Name()))
		if err != nil {
			continue
		}
		var state domain.PersistedDownloadState
		if err := json.Unmarshal(raw, &state); err != nil {
			continue // corrupt persisted state: discard
		}
		if state.FileHash == "" || len(state.Chunks) == 0 {
			continue
		}

		dl := domain.NewActiveDownload(state.FileMetadata, state.Chunks, state.OutputPath)
		dl.StartTime = time.Unix(state.StartTimeUnix, 0)
		dl.FailedChunks = append([]uint32{}, state.FailedChunks...)
		dl.Ed2kChunkHashes = state.Ed2kChunkHashes

		byID := make(map[uint32]domain.ChunkInfo, len(state.Chunks))
		for _, c := range state.Chunks {
			byID[c.ChunkID] = c
		}

		for _, id := range state.CompletedChunkIDs {
			plan, ok := byID[id]
			if !ok {
				continue
			}
			data, err := store.Get(state.FileHash, id)
			if err != nil {
				continue // not recoverable from disk: discard, never admit unverified
			}
			if err := verify.Chunk(data, plan.Hash); err != nil {
				continue
			}
			dl.CompletedChunks[id] = domain.CompletedChunk{
				ChunkID:     id,
				Data:        data,
				SourceID:    "persisted",
				CompletedAt: time.Now(),
			}
		}

		out = append(out, dl)
	}
	return out, nil
}

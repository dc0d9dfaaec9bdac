package domain

import "time"

// SourceAssignment tracks the current planned subset of chunks allocated to
// one source within a transfer.
type SourceAssignment struct {
	Source        SourceDescriptor
	ChunkIDs      []uint32
	Status        SourceStatus
	ConnectedAt   *time.Time
	LastActivity  *time.Time
}

// RemoveChunk drops chunkID from this assignment's list, if present.
func (a *SourceAssignment) RemoveChunk(chunkID uint32) {
	for i, id := range a.ChunkIDs {
		if id == chunkID {
			a.ChunkIDs = append(a.ChunkIDs[:i], a.ChunkIDs[i+1:]...)
			return
		}
	}
}

// HasChunk reports whether chunkID is currently assigned to this source.
func (a *SourceAssignment) HasChunk(chunkID uint32) bool {
	for _, id := range a.ChunkIDs {
		if id == chunkID {
			return true
		}
	}
	return false
}

// Touch stamps LastActivity with the current time.
func (a *SourceAssignment) Touch(now time.Time) {
	a.LastActivity = &now
}

// CompletedChunk is created only after integrity verification succeeds, and
// is immutable from that point on.
type CompletedChunk struct {
	ChunkID     uint32
	Data        []byte
	SourceID    string
	CompletedAt time.Time
}

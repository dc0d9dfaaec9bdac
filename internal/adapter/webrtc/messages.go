package webrtc

import (
	"encoding/json"
	"strings"
)

// MessageType discriminates data-channel JSON messages. Matching is
// case-insensitive.
type MessageType string

const (
	MsgFileRequest      MessageType = "filerequest"
	MsgManifestRequest  MessageType = "manifestrequest"
	MsgManifestResponse MessageType = "manifestresponse"
	MsgFileChunk        MessageType = "filechunk"
	MsgChunkAck         MessageType = "chunkack"
)

// envelope is used only to sniff the discriminator field before
// unmarshaling into a concrete message type.
type envelope struct {
	Type string `json:"type"`
}

// FileRequest asks a seeding peer to start sending a file's chunks.
type FileRequest struct {
	Type               string `json:"type"`
	FileHash           string `json:"file_hash"`
	RecipientPublicKey []byte `json:"recipient_public_key,omitempty"`
}

// ManifestRequest asks a peer for a file's chunk plan without going
// through the orchestrator/DHT metadata path.
type ManifestRequest struct {
	Type     string `json:"type"`
	FileHash string `json:"file_hash"`
}

// ManifestResponse answers a ManifestRequest with enough information to
// build a standalone chunk plan.
type ManifestResponse struct {
	Type        string   `json:"type"`
	FileHash    string   `json:"file_hash"`
	FileName    string   `json:"file_name"`
	FileSize    uint64   `json:"file_size"`
	TotalChunks uint32   `json:"total_chunks"`
	ChunkHashes []string `json:"chunk_hashes"`
}

// EncryptedKeyBundle carries the ephemeral X25519 public key and AES-GCM
// nonce for one ECIES-encrypted chunk. The chunk is sealed directly with
// the ECIES-derived key and its ciphertext travels in FileChunk.Data; no
// separate AES key is wrapped, and this adapter's sender leaves
// Ciphertext empty.
type EncryptedKeyBundle struct {
	EphemeralPublicKey []byte `json:"ephemeral_public_key"`
	Nonce              []byte `json:"nonce"`
	Ciphertext         []byte `json:"ciphertext"`
}

// FileChunk carries one chunk's bytes (possibly ECIES-encrypted) plus
// enough metadata for the receiver to place and verify it.
type FileChunk struct {
	Type               string              `json:"type"`
	FileHash           string              `json:"file_hash"`
	FileName           string              `json:"file_name"`
	ChunkIndex         uint32              `json:"chunk_index"`
	TotalChunks        uint32              `json:"total_chunks"`
	Data               []byte              `json:"data"`
	Checksum           string              `json:"checksum"`
	EncryptedKeyBundle *EncryptedKeyBundle `json:"encrypted_key_bundle,omitempty"`
}

// ChunkAck flow-controls the seeder: the receiver sends one per chunk
// accepted, gating the seeder's sliding window.
type ChunkAck struct {
	Type         string `json:"type"`
	FileHash     string `json:"file_hash"`
	ChunkIndex   uint32 `json:"chunk_index"`
	ReadyForMore bool   `json:"ready_for_more"`
}

// parseMessage sniffs the "type" field (case-insensitively) and decodes
// into the matching concrete type. A message matching no known variant
// returns ok=false so the caller can log and drop it.
func parseMessage(raw []byte) (msgType MessageType, v interface{}, ok bool) {
	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return "", nil, false
	}

	switch MessageType(strings.ToLower(env.Type)) {
	case MsgFileRequest:
		var m FileRequest
		if json.Unmarshal(raw, &m) != nil {
			return "", nil, false
		}
		return MsgFileRequest, m, true
	case MsgManifestRequest:
		var m ManifestRequest
		if json.Unmarshal(raw, &m) != nil {
			return "", nil, false
		}
		return MsgManifestRequest, m, true
	case MsgManifestResponse:
		var m ManifestResponse
		if json.Unmarshal(raw, &m) != nil {
			return "", nil, false
		}
		return MsgManifestResponse, m, true
	case MsgFileChunk:
		var m FileChunk
		if json.Unmarshal(raw, &m) != nil {
			return "", nil, false
		}
		return MsgFileChunk, m, true
	case MsgChunkAck:
		var m ChunkAck
		if json.Unmarshal(raw, &m) != nil {
			return "", nil, false
		}
		return MsgChunkAck, m, true
	default:
		return "", nil, false
	}
}

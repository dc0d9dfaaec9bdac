package webrtc

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/chiral/transferd/internal/domain"
)

func TestRetryDelay_ExponentialBackoffCappedAtProfile(t *testing.T) {
	require.Equal(t, RetryProfile.Initial, RetryDelay(1))
	require.Equal(t, 2*RetryProfile.Initial, RetryDelay(2))
	require.Equal(t, 4*RetryProfile.Initial, RetryDelay(3))
	require.LessOrEqual(t, RetryDelay(10), RetryProfile.Cap)
}

func TestParseMessage_UnknownTypeIsDropped(t *testing.T) {
	_, _, ok := parseMessage([]byte(`{"type":"something-else"}`))
	require.False(t, ok)
}

func TestParseMessage_MalformedJSONIsDropped(t *testing.T) {
	_, _, ok := parseMessage([]byte(`not json`))
	require.False(t, ok)
}

func TestParseMessage_CaseInsensitiveDiscriminator(t *testing.T) {
	msgType, v, ok := parseMessage([]byte(`{"type":"ChunkAck","file_hash":"abc","chunk_index":3,"ready_for_more":true}`))
	require.True(t, ok)
	require.Equal(t, MsgChunkAck, msgType)
	ack := v.(ChunkAck)
	require.Equal(t, uint32(3), ack.ChunkIndex)
	require.True(t, ack.ReadyForMore)
}

func TestParseMessage_FileChunkRoundTrip(t *testing.T) {
	raw := []byte(`{"type":"filechunk","file_hash":"h","chunk_index":1,"total_chunks":5,"data":"aGVsbG8=","checksum":"deadbeef"}`)
	msgType, v, ok := parseMessage(raw)
	require.True(t, ok)
	require.Equal(t, MsgFileChunk, msgType)
	chunk := v.(FileChunk)
	require.Equal(t, "hello", string(chunk.Data))
	require.Equal(t, uint32(5), chunk.TotalChunks)
}

func TestNew_RequiresBothSTUNAndTURN(t *testing.T) {
	_, err := New(Config{STUNURLs: []string{"stun:stun.example.com:19302"}})
	require.Error(t, err)

	_, err = New(Config{STUNURLs: []string{"stun:stun.example.com:19302"}, TURNURLs: []string{"turn:turn.example.com:3478"}, TURNUser: "u", TURNPass: "p"})
	require.NoError(t, err)
}

func TestStatusFor_MapsStateToSourceStatus(t *testing.T) {
	require.Equal(t, domain.StatusConnecting, statusFor(StateConnecting))
	require.Equal(t, domain.StatusConnected, statusFor(StateConnected))
	require.Equal(t, domain.StatusDownloading, statusFor(StateTransferring))
	require.Equal(t, domain.StatusCompleted, statusFor(StateCompleted))
	require.Equal(t, domain.StatusFailed, statusFor(StateFailed))
}

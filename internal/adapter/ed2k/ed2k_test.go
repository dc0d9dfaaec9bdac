package ed2k

import (
	"bytes"
	"context"
	"encoding/binary"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/chiral/transferd/internal/adapter"
)

func TestPacketRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	payload := []byte{0xDE, 0xAD, 0xBE, 0xEF}
	require.NoError(t, writePacket(&buf, opRequestParts, payload))

	opcode, got, err := readPacket(&buf)
	require.NoError(t, err)
	require.Equal(t, opRequestParts, opcode)
	require.Equal(t, payload, got)
}

func TestPacketRoundTrip_EmptyPayload(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, writePacket(&buf, opIDChange, nil))

	opcode, got, err := readPacket(&buf)
	require.NoError(t, err)
	require.Equal(t, opIDChange, opcode)
	require.Empty(t, got)
}

func TestReadPacket_RejectsWrongProtocolByte(t *testing.T) {
	raw := []byte{0x00, 0x01, 0x00, 0x00, 0x00, opIDChange}
	_, _, err := readPacket(bytes.NewReader(raw))
	require.Error(t, err)
}

func TestRequestPartsPayload_Layout(t *testing.T) {
	hash := bytes.Repeat([]byte{0xAB}, 16)
	payload := requestPartsPayload(hash, 9728000, 19455999)

	require.Len(t, payload, 32)
	require.Equal(t, hash, payload[:16])
	require.Equal(t, uint64(9728000), binary.LittleEndian.Uint64(payload[16:24]))
	require.Equal(t, uint64(19455999), binary.LittleEndian.Uint64(payload[24:32]))
}

func TestSplitIdentifier(t *testing.T) {
	server, md4, ok := splitIdentifier("peer.example:4662|31D6CFE0D16AE931B73C59D7E0C089C0")
	require.True(t, ok)
	require.Equal(t, "peer.example:4662", server)
	require.Equal(t, "31D6CFE0D16AE931B73C59D7E0C089C0", md4)

	_, _, ok = splitIdentifier("no-separator")
	require.False(t, ok)
}

func TestMD4HexToBytes(t *testing.T) {
	out, err := md4HexToBytes("31D6CFE0D16AE931B73C59D7E0C089C0")
	require.NoError(t, err)
	require.Len(t, out, 16)
	require.Equal(t, byte(0x31), out[0])
	require.Equal(t, byte(0xC0), out[15])

	_, err = md4HexToBytes("tooshort")
	require.Error(t, err)

	_, err = md4HexToBytes("ZZD6CFE0D16AE931B73C59D7E0C089C0")
	require.Error(t, err)
}

func TestFetchRange_RejectsBadIdentifier(t *testing.T) {
	a := New(time.Second, "")
	_, err := a.FetchRange(context.Background(), "no-separator", 0, 16)
	require.Error(t, err)
}

func TestSeed_RequiresListenAddr(t *testing.T) {
	a := New(time.Second, "")
	_, err := a.Seed(context.Background(), "/does/not/matter")
	require.Error(t, err)
}

func TestSeedThenFetchRange_Loopback(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "payload.bin")
	data := bytes.Repeat([]byte("ed2k loopback payload "), 512)
	require.NoError(t, os.WriteFile(path, data, 0o644))

	a := New(2*time.Second, "127.0.0.1:0")
	defer a.Close()

	info, err := a.Seed(context.Background(), path)
	require.NoError(t, err)

	link, err := adapter.ParseEd2kLink(info.Identifier)
	require.NoError(t, err)
	require.Equal(t, uint64(len(data)), link.Size)

	identifier := a.ListenAddr() + "|" + link.MD4

	got, err := a.FetchRange(context.Background(), identifier, 0, len(data))
	require.NoError(t, err)
	require.Equal(t, data, got)

	// A second slice of the same parent chunk is served from cache.
	slice, err := a.FetchRange(context.Background(), identifier, 1024, 100)
	require.NoError(t, err)
	require.Equal(t, data[1024:1124], slice)
}

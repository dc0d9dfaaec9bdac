// Package ed2k implements the ED2K adapter: the login/request-parts
// handshake against an ED2K peer, MD4 verification of each 9.28 MB
// protocol chunk, and a seeding server for our own file-chunk tables.
// The wire framing implements the eDonkey TCP packet format directly:
// a protocol byte, a little-endian payload length, and an opcode,
// with typed string tags in the login payload.
package ed2k

import (
	"bufio"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"io"
	"log"
	"net"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"context"

	"github.com/chiral/transferd/internal/adapter"
	"github.com/chiral/transferd/internal/domain"
	"github.com/chiral/transferd/internal/verify"
)

// Protocol opcodes. Only the subset the download and seeding paths
// exercise is kept.
const (
	protocolED2K byte = 0xE3

	opLoginRequest  byte = 0x01
	opIDChange      byte = 0x32
	opServerMessage byte = 0x38
	opRequestParts  byte = 0x47
	opSendingPart   byte = 0x46
)

// maxConcurrentChunkFetches caps in-flight 9.28 MB ED2K chunk fetches
// at two.
const maxConcurrentChunkFetches = 2

// packetHeader is the 6-byte ED2K TCP packet header: protocol byte,
// little-endian payload length (opcode included), then the opcode.
type packetHeader struct {
	protocol byte
	size     uint32
	opcode   byte
}

func readPacket(r io.Reader) (byte, []byte, error) {
	var hdr [6]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		return 0, nil, err
	}
	if hdr[0] != protocolED2K {
		return 0, nil, fmt.Errorf("unexpected protocol byte 0x%02x", hdr[0])
	}
	size := binary.LittleEndian.Uint32(hdr[1:5])
	opcode := hdr[5]
	if size == 0 {
		return opcode, nil, nil
	}
	payload := make([]byte, size-1)
	if _, err := io.ReadFull(r, payload); err != nil {
		return 0, nil, err
	}
	return opcode, payload, nil
}

func writePacket(w io.Writer, opcode byte, payload []byte) error {
	var hdr [6]byte
	hdr[0] = protocolED2K
	binary.LittleEndian.PutUint32(hdr[1:5], uint32(len(payload)+1))
	hdr[5] = opcode
	if _, err := w.Write(hdr[:]); err != nil {
		return err
	}
	if len(payload) == 0 {
		return nil
	}
	_, err := w.Write(payload)
	return err
}

// requestPartsPayload builds the OP_REQUESTPARTS body: the 16-byte file
// hash followed by an (start, end) byte-range pair.
func requestPartsPayload(fileHashMD4 []byte, start, end uint64) []byte {
	buf := make([]byte, 0, 16+8+8)
	buf = append(buf, fileHashMD4...)
	var tmp [8]byte
	binary.LittleEndian.PutUint64(tmp[:], start)
	buf = append(buf, tmp[:]...)
	binary.LittleEndian.PutUint64(tmp[:], end)
	buf = append(buf, tmp[:]...)
	return buf
}

// Adapter fetches 9.28 MB ED2K chunks from a server-routed peer and
// slices them into our 256 KiB logical chunks. The same Adapter also
// runs the seeding side: a minimal OP_LOGINREQUEST/OP_REQUESTPARTS
// server for files this node has registered via Seed.
type Adapter struct {
	dialTimeout time.Duration
	listenAddr  string
	sem         chan struct{}

	mu    sync.Mutex
	cache map[string][]byte // "serverURL|md4|ed2kChunkID" -> verified bytes

	seedMu    sync.Mutex
	seedFiles map[string]seedFile // md4 hex (upper) -> file being seeded
	listener  net.Listener
}

type seedFile struct {
	path string
	size int64
}

// New creates an ED2K adapter. listenAddr is the local address the
// seeding server binds to on the first successful Seed call; an empty
// listenAddr disables seeding (the adapter still works as a download
// client).
func New(dialTimeout time.Duration, listenAddr string) *Adapter {
	if dialTimeout <= 0 {
		dialTimeout = 30 * time.Second
	}
	return &Adapter{
		dialTimeout: dialTimeout,
		listenAddr:  listenAddr,
		sem:         make(chan struct{}, maxConcurrentChunkFetches),
		cache:       make(map[string][]byte),
		seedFiles:   make(map[string]seedFile),
	}
}

func (a *Adapter) Name() string { return "ed2k" }

func (a *Adapter) Supports(identifier string) bool {
	return len(identifier) > 7 && identifier[:7] == "ed2k://"
}

// FetchRange satisfies adapter.RangeFetcher. identifier encodes
// "serverURL|fileHashMD4" (the orchestrator's Ed2k source uses this
// shape internally); offset/size address our 256 KiB logical chunk,
// which FetchRange maps onto the covering 9.28 MB ED2K chunk.
func (a *Adapter) FetchRange(ctx context.Context, identifier string, offset uint64, size int) ([]byte, error) {
	serverURL, fileHashMD4, ok := splitIdentifier(identifier)
	if !ok {
		return nil, domain.NewError(domain.CategoryValidation, "ed2k identifier must be serverURL|fileHashMD4", domain.ErrInvalidIdentifier)
	}

	ed2kChunkID := offset / verify.Ed2kChunkSize
	ed2kOffset := ed2kChunkID * verify.Ed2kChunkSize

	parent, err := a.fetchParentChunk(ctx, serverURL, fileHashMD4, ed2kChunkID, ed2kOffset)
	if err != nil {
		return nil, err
	}

	localOffset := int(offset - ed2kOffset)
	if localOffset+size > len(parent) {
		return nil, domain.NewError(domain.CategoryNetwork,
			fmt.Sprintf("requested slice [%d:%d) exceeds fetched ed2k chunk of %d bytes", localOffset, localOffset+size, len(parent)),
			domain.ErrShortRead)
	}
	slice := make([]byte, size)
	copy(slice, parent[localOffset:localOffset+size])
	return slice, nil
}

func splitIdentifier(identifier string) (serverURL, fileHashMD4 string, ok bool) {
	for i := len(identifier) - 1; i >= 0; i-- {
		if identifier[i] == '|' {
			return identifier[:i], identifier[i+1:], true
		}
	}
	return "", "", false
}

// fetchParentChunk downloads (or returns a cached copy of) the whole
// 9.28 MB ED2K chunk containing ed2kChunkID, so each parent chunk is
// fetched once no matter how many logical chunks it covers.
func (a *Adapter) fetchParentChunk(ctx context.Context, serverURL, fileHashMD4 string, ed2kChunkID, ed2kOffset uint64) ([]byte, error) {
	cacheKey := fmt.Sprintf("%s|%s|%d", serverURL, fileHashMD4, ed2kChunkID)

	a.mu.Lock()
	if cached, ok := a.cache[cacheKey]; ok {
		a.mu.Unlock()
		return cached, nil
	}
	a.mu.Unlock()

	select {
	case a.sem <- struct{}{}:
		defer func() { <-a.sem }()
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	// Re-check after acquiring the semaphore: another goroutine may have
	// already fetched and cached this chunk while we waited.
	a.mu.Lock()
	if cached, ok := a.cache[cacheKey]; ok {
		a.mu.Unlock()
		return cached, nil
	}
	a.mu.Unlock()

	hashBytes, err := md4HexToBytes(fileHashMD4)
	if err != nil {
		return nil, domain.NewError(domain.CategoryValidation, "ed2k file hash must be 32 hex chars", domain.ErrInvalidIdentifier)
	}

	conn, err := net.DialTimeout("tcp", serverURL, a.dialTimeout)
	if err != nil {
		return nil, domain.NewError(domain.CategoryNetwork, "dial ed2k server", err)
	}
	defer conn.Close()
	conn.SetDeadline(time.Now().Add(a.dialTimeout))

	rw := bufio.NewReadWriter(bufio.NewReader(conn), bufio.NewWriter(conn))
	if err := login(rw); err != nil {
		return nil, domain.NewError(domain.CategoryProtocol, "ed2k login handshake", err)
	}

	end := ed2kOffset + verify.Ed2kChunkSize - 1
	if err := writePacket(rw, opRequestParts, requestPartsPayload(hashBytes, ed2kOffset, end)); err != nil {
		return nil, domain.NewError(domain.CategoryNetwork, "send OP_REQUESTPARTS", err)
	}
	if err := rw.Flush(); err != nil {
		return nil, domain.NewError(domain.CategoryNetwork, "flush OP_REQUESTPARTS", err)
	}

	opcode, payload, err := readPacket(rw)
	if err != nil {
		return nil, domain.NewError(domain.CategoryNetwork, "read OP_SENDINGPART response", err)
	}
	if opcode != opSendingPart {
		return nil, domain.NewError(domain.CategoryProtocol, fmt.Sprintf("expected OP_SENDINGPART (0x%02x), got 0x%02x", opSendingPart, opcode), nil)
	}

	// Payload shape: 16-byte file hash, 8-byte start, 8-byte end, then
	// the raw chunk bytes.
	const headerLen = 16 + 8 + 8
	if len(payload) < headerLen {
		return nil, domain.NewError(domain.CategoryProtocol, "OP_SENDINGPART payload too short", domain.ErrShortRead)
	}
	data := payload[headerLen:]

	// The parent chunk is not MD4-verified, here or in the orchestrator's
	// range worker: each logical slice is checked only by verify.Chunk
	// against its plan hash. This adapter only trims the payload to the
	// requested range; FetchRange rejects a parent too short for a slice.
	expectedSize := int(end - ed2kOffset + 1)
	if len(data) > expectedSize {
		data = data[:expectedSize]
	}

	a.mu.Lock()
	a.cache[cacheKey] = data
	a.mu.Unlock()
	return data, nil
}

// login performs the OP_LOGINREQUEST handshake and waits for the
// server's OP_IDCHANGE or OP_SERVERMESSAGE acknowledgement.
func login(rw *bufio.ReadWriter) error {
	var payload []byte
	payload = append(payload, tagString(0x01, "transferd")...) // CT_NAME
	if err := writePacket(rw, opLoginRequest, payload); err != nil {
		return err
	}
	if err := rw.Flush(); err != nil {
		return err
	}

	opcode, _, err := readPacket(rw)
	if err != nil {
		return err
	}
	switch opcode {
	case opIDChange, opServerMessage:
		return nil
	default:
		return fmt.Errorf("unexpected login response opcode 0x%02x", opcode)
	}
}

// tagString encodes a single ED2K string tag: type byte, tag id, then
// value-length and value.
func tagString(tagID byte, value string) []byte {
	buf := []byte{0x02, tagID}
	var lenBuf [2]byte
	binary.LittleEndian.PutUint16(lenBuf[:], uint16(len(value)))
	buf = append(buf, lenBuf[:]...)
	buf = append(buf, []byte(value)...)
	return buf
}

func md4HexToBytes(s string) ([]byte, error) {
	if len(s) != 32 {
		return nil, fmt.Errorf("md4 hex must be 32 chars, got %d", len(s))
	}
	out := make([]byte, 16)
	for i := 0; i < 16; i++ {
		hi, err := hexNibble(s[i*2])
		if err != nil {
			return nil, err
		}
		lo, err := hexNibble(s[i*2+1])
		if err != nil {
			return nil, err
		}
		out[i] = hi<<4 | lo
	}
	return out, nil
}

func hexNibble(c byte) (byte, error) {
	switch {
	case c >= '0' && c <= '9':
		return c - '0', nil
	case c >= 'a' && c <= 'f':
		return c - 'a' + 10, nil
	case c >= 'A' && c <= 'F':
		return c - 'A' + 10, nil
	default:
		return 0, fmt.Errorf("invalid hex digit %q", c)
	}
}

func (a *Adapter) Download(ctx context.Context, identifier string, outputPath string) (adapter.Handle, error) {
	return "", domain.NewError(domain.CategoryValidation, "ed2k adapter is driven per-chunk by the orchestrator, not whole-file", nil)
}

// Seed registers filePath's root MD4 hash with this adapter's own
// OP_REQUESTPARTS server, starting the listener on first use. Unlike
// BitTorrent/WebRTC, ED2K's peer discovery happens through a central
// server directory rather than the DHT, so seeding here means
// "answerable when a peer sends us OP_REQUESTPARTS for this hash" —
// publishing the listenAddr to an actual ED2K server directory is out
// of scope, since this node implements no server-directory protocol.
func (a *Adapter) Seed(ctx context.Context, filePath string) (adapter.SeedingInfo, error) {
	if a.listenAddr == "" {
		return adapter.SeedingInfo{}, domain.NewError(domain.CategoryValidation, "ed2k seeding server has no listen address configured", domain.ErrNotFound)
	}

	data, err := os.ReadFile(filePath)
	if err != nil {
		return adapter.SeedingInfo{}, domain.NewError(domain.CategoryFilesystem, "read seed file", err)
	}
	md4Hex := strings.ToUpper(verify.FileRootMD4(data))

	if err := a.ensureListening(); err != nil {
		return adapter.SeedingInfo{}, err
	}

	a.seedMu.Lock()
	a.seedFiles[md4Hex] = seedFile{path: filePath, size: int64(len(data))}
	a.seedMu.Unlock()

	link := adapter.FormatEd2kLink(adapter.Ed2kLink{
		Name: filepath.Base(filePath),
		Size: uint64(len(data)),
		MD4:  md4Hex,
	})
	return adapter.SeedingInfo{
		Identifier: link,
		Detail:     fmt.Sprintf("serving %s on %s", md4Hex, a.listenAddr),
	}, nil
}

// ensureListening starts the OP_REQUESTPARTS server exactly once.
func (a *Adapter) ensureListening() error {
	a.seedMu.Lock()
	defer a.seedMu.Unlock()
	if a.listener != nil {
		return nil
	}

	ln, err := net.Listen("tcp", a.listenAddr)
	if err != nil {
		return domain.NewError(domain.CategoryNetwork, "listen for ed2k seeding server", err)
	}
	a.listener = ln
	go a.acceptLoop(ln)
	return nil
}

// acceptLoop accepts connections until the listener is closed, spawning
// one handler goroutine per peer.
func (a *Adapter) acceptLoop(ln net.Listener) {
	for {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		go a.serveConn(conn)
	}
}

// serveConn answers one peer's login handshake and any number of
// OP_REQUESTPARTS for files registered with Seed, mirroring the client
// side's packet framing (readPacket/writePacket) and login reply.
func (a *Adapter) serveConn(conn net.Conn) {
	defer conn.Close()
	conn.SetDeadline(time.Now().Add(a.dialTimeout))
	rw := bufio.NewReadWriter(bufio.NewReader(conn), bufio.NewWriter(conn))

	opcode, _, err := readPacket(rw)
	if err != nil || opcode != opLoginRequest {
		return
	}
	if err := writePacket(rw, opIDChange, []byte{0, 0, 0, 0}); err != nil {
		return
	}
	if err := rw.Flush(); err != nil {
		return
	}

	for {
		conn.SetDeadline(time.Now().Add(a.dialTimeout))
		opcode, payload, err := readPacket(rw)
		if err != nil {
			return
		}
		if opcode != opRequestParts {
			continue
		}
		if err := a.handleRequestParts(rw, payload); err != nil {
			log.Printf("[ed2k] serve request_parts: %v", err)
			return
		}
	}
}

// handleRequestParts answers one OP_REQUESTPARTS with the matching
// OP_SENDINGPART, per requestPartsPayload's layout: 16-byte file hash,
// then an 8-byte start and 8-byte end.
func (a *Adapter) handleRequestParts(rw *bufio.ReadWriter, payload []byte) error {
	const headerLen = 16 + 8 + 8
	if len(payload) < headerLen {
		return domain.NewError(domain.CategoryProtocol, "OP_REQUESTPARTS payload too short", domain.ErrShortRead)
	}
	hashHex := hex.EncodeToString(payload[:16])
	start := binary.LittleEndian.Uint64(payload[16:24])
	end := binary.LittleEndian.Uint64(payload[24:32])

	a.seedMu.Lock()
	file, ok := a.seedFiles[strings.ToUpper(hashHex)]
	a.seedMu.Unlock()
	if !ok {
		return domain.NewError(domain.CategoryNotFound, "no such seeded file", domain.ErrNotFound)
	}

	if int64(end) >= file.size {
		end = uint64(file.size - 1)
	}
	if int64(start) > int64(end) {
		return domain.NewError(domain.CategoryProtocol, "OP_REQUESTPARTS start past end", domain.ErrShortRead)
	}

	f, err := os.Open(file.path)
	if err != nil {
		return domain.NewError(domain.CategoryFilesystem, "open seeded file", err)
	}
	defer f.Close()

	size := int(end - start + 1)
	buf := make([]byte, size)
	if _, err := f.ReadAt(buf, int64(start)); err != nil && err != io.EOF {
		return domain.NewError(domain.CategoryFilesystem, "read seeded file range", err)
	}

	resp := make([]byte, 0, headerLen+size)
	resp = append(resp, payload[:16]...)
	var tmp [8]byte
	binary.LittleEndian.PutUint64(tmp[:], start)
	resp = append(resp, tmp[:]...)
	binary.LittleEndian.PutUint64(tmp[:], end)
	resp = append(resp, tmp[:]...)
	resp = append(resp, buf...)

	if err := writePacket(rw, opSendingPart, resp); err != nil {
		return err
	}
	return rw.Flush()
}

// ListenAddr returns the seeding server's bound address once listening,
// or the configured address before the first Seed call.
func (a *Adapter) ListenAddr() string {
	a.seedMu.Lock()
	defer a.seedMu.Unlock()
	if a.listener != nil {
		return a.listener.Addr().String()
	}
	return a.listenAddr
}

// Close stops the seeding server, if one was started.
func (a *Adapter) Close() error {
	a.seedMu.Lock()
	defer a.seedMu.Unlock()
	if a.listener == nil {
		return nil
	}
	err := a.listener.Close()
	a.listener = nil
	return err
}

func (a *Adapter) Pause(h adapter.Handle) error  { return nil }
func (a *Adapter) Resume(h adapter.Handle) error { return nil }
func (a *Adapter) Cancel(h adapter.Handle) error { return nil }

func (a *Adapter) GetProgress(h adapter.Handle) (adapter.Progress, error) {
	return adapter.Progress{}, domain.NewError(domain.CategoryNotFound, "ed2k adapter progress is tracked by the orchestrator's worker", domain.ErrNotFound)
}

func (a *Adapter) Capabilities() adapter.Capabilities {
	return adapter.Capabilities{
		SupportsSeeding:     true,
		SupportsPauseResume: true,
		SupportsMultiSource: true,
		SupportsEncryption:  false,
		SupportsDHT:         false,
	}
}

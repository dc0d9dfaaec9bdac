// Package webrtc implements the WebRTC data-channel adapter: offer/
// answer/ICE session setup, the ACK-gated chunk-exchange state machine
// (seed and download sides), per-peer connection retry with exponential
// backoff, and per-chunk ECIES encryption via internal/security.
//
// Built on github.com/pion/webrtc/v4 for the transport. Each remote
// peer gets one mutex-guarded PeerSession record, owned exclusively by
// this adapter; external components reach it only through Adapter's
// methods.
package webrtc

import (
	"context"
	"crypto/ecdh"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/pion/webrtc/v4"

	"github.com/chiral/transferd/internal/adapter"
	"github.com/chiral/transferd/internal/domain"
	"github.com/chiral/transferd/internal/eventbus"
	"github.com/chiral/transferd/internal/nat"
	"github.com/chiral/transferd/internal/security"
)

// Flow-control and timing constants for the chunk-exchange state
// machine.
const (
	MaxPendingAcks         = 20
	BufferedAmountLimit    = 256 * 1024
	BatchSize              = 10
	dataChannelOpenTimeout = 10 * time.Second
	iceGatheringTimeout    = 10 * time.Second
	ackWaitSleep           = 50 * time.Millisecond
	ackConsecutiveStalls   = 3
	ackStallWindow         = 5 * time.Second
	bufferWaitSleep        = 10 * time.Millisecond
	bufferWaitTimeout      = 10 * time.Second
)

// RetryProfile is the WebRTC connection-retry backoff configuration:
// initial 1s, cap 15s, max 3 attempts.
var RetryProfile = struct {
	Initial     time.Duration
	Cap         time.Duration
	MaxAttempts int
}{Initial: time.Second, Cap: 15 * time.Second, MaxAttempts: 3}

// PeerState is the WebRTC per-peer state machine position.
type PeerState string

const (
	StateIdle              PeerState = "idle"
	StateConnecting        PeerState = "connecting"
	StateConnected         PeerState = "connected"
	StateTransferring      PeerState = "transferring"
	StateCompleted         PeerState = "completed"
	StateFailed            PeerState = "failed"
	StateRetrying          PeerState = "retrying"
	StatePermanentlyFailed PeerState = "permanently_failed"
)

// PeerSession is the per-remote-peer transfer record: exclusively owned
// by this adapter, external components interact with it only through
// Adapter's methods (message passing, not direct field access).
type PeerSession struct {
	mu sync.Mutex

	peerID          string
	pc              *webrtc.PeerConnection
	dc              *webrtc.DataChannel
	state           PeerState
	pendingAcks     map[string]uint32          // file_hash -> count
	ackedChunks     map[string]map[uint32]bool // file_hash -> acked indices
	receivedChunks  map[string]map[uint32][]byte
	retry           retryContext
	activeTransfers map[string]bool
	storedOffer     string
}

type retryContext struct {
	consecutiveFailures int
}

// Adapter drives one or more PeerSessions. A single adapter instance may
// serve many concurrent transfers, disambiguated by peer ID.
type Adapter struct {
	iceServers []webrtc.ICEServer
	keypair    *ecdh.PrivateKey
	bus        *eventbus.Bus
	seedDir    func(fileHash string) (path string, totalChunks uint32, chunkSize int, err error)

	mu       sync.Mutex
	sessions map[string]*PeerSession
}

// Config wires the adapter to a STUN cluster and at least one TURN
// server — both are required; there is no STUN-only fallback.
type Config struct {
	STUNURLs []string
	TURNURLs []string
	TURNUser string
	TURNPass string
	Identity *ecdh.PrivateKey
	Bus      *eventbus.Bus

	// ResolveSeedFile returns the local path, total chunk count and
	// chunk size for a file this node can seed; used by the seed-side
	// state machine on FileRequest.
	ResolveSeedFile func(fileHash string) (path string, totalChunks uint32, chunkSize int, err error)
}

// New constructs a WebRTC adapter. Config.STUNURLs and TURNURLs must
// both be non-empty.
func New(cfg Config) (*Adapter, error) {
	iceCfg, err := nat.BuildICEServers(cfg.STUNURLs, cfg.TURNURLs, cfg.TURNUser, cfg.TURNPass)
	if err != nil {
		return nil, err
	}

	var ice []webrtc.ICEServer
	ice = append(ice, webrtc.ICEServer{URLs: iceCfg.STUNURLs})
	ice = append(ice, webrtc.ICEServer{URLs: iceCfg.TURNURLs, Username: iceCfg.TURNUser, Credential: iceCfg.TURNPass})

	return &Adapter{
		iceServers: ice,
		keypair:    cfg.Identity,
		bus:        cfg.Bus,
		seedDir:    cfg.ResolveSeedFile,
		sessions:   make(map[string]*PeerSession),
	}, nil
}

func (a *Adapter) Name() string { return "webrtc" }

func (a *Adapter) Supports(identifier string) bool {
	return strings.HasPrefix(identifier, "peer:")
}

func (a *Adapter) sessionFor(peerID string) *PeerSession {
	a.mu.Lock()
	defer a.mu.Unlock()
	if s, ok := a.sessions[peerID]; ok {
		return s
	}
	s := &PeerSession{
		peerID:          peerID,
		state:           StateIdle,
		pendingAcks:     make(map[string]uint32),
		ackedChunks:     make(map[string]map[uint32]bool),
		receivedChunks:  make(map[string]map[uint32][]byte),
		activeTransfers: make(map[string]bool),
	}
	a.sessions[peerID] = s
	return s
}

// sdpEnvelope is the wire shape exchanged as "offer SDP" / "answer SDP"
// text: the full pion SessionDescription, JSON-encoded.
type sdpEnvelope webrtc.SessionDescription

// CreateOffer builds a peer connection with a "file-transfer" data
// channel, gathers ICE candidates (bounded by iceGatheringTimeout), and
// returns the offer SDP text. The offer is stashed on the session so a
// connection retry can resend the same one.
func (a *Adapter) CreateOffer(ctx context.Context, peerID string) (string, error) {
	session := a.sessionFor(peerID)

	pc, err := webrtc.NewPeerConnection(webrtc.Configuration{ICEServers: a.iceServers})
	if err != nil {
		return "", domain.NewError(domain.CategoryNetwork, "create peer connection", err)
	}

	dc, err := pc.CreateDataChannel("file-transfer", nil)
	if err != nil {
		pc.Close()
		return "", domain.NewError(domain.CategoryNetwork, "create data channel", err)
	}

	offer, err := pc.CreateOffer(nil)
	if err != nil {
		pc.Close()
		return "", domain.NewError(domain.CategoryProtocol, "create offer", err)
	}
	gatherComplete := webrtc.GatheringCompletePromise(pc)
	if err := pc.SetLocalDescription(offer); err != nil {
		pc.Close()
		return "", domain.NewError(domain.CategoryProtocol, "set local description", err)
	}
	waitForGathering(gatherComplete)

	sdp, err := json.Marshal(sdpEnvelope(*pc.LocalDescription()))
	if err != nil {
		pc.Close()
		return "", domain.NewError(domain.CategoryState, "marshal offer sdp", err)
	}

	session.mu.Lock()
	session.pc = pc
	session.dc = dc
	session.state = StateConnecting
	session.storedOffer = string(sdp)
	session.mu.Unlock()

	a.installDataChannelHandlers(session, dc)
	a.installICEStateHandler(session, pc)

	return string(sdp), nil
}

// RequestFile sends a FileRequest on peerID's data channel once it opens,
// triggering the remote seed side's runSeedSend state machine. Offer/
// answer signaling must already have completed (out of band, over the
// discovery service) by the time this is called — it only waits for the
// data channel itself to reach the open state.
func (a *Adapter) RequestFile(ctx context.Context, peerID, fileHash string) error {
	session := a.sessionFor(peerID)
	if !a.waitForDataChannelOpen(session, dataChannelOpenTimeout) {
		return domain.NewError(domain.CategoryNetwork, "data channel never opened", domain.ErrStateInconsistent)
	}

	req := FileRequest{Type: string(MsgFileRequest), FileHash: fileHash}
	if a.keypair != nil {
		req.RecipientPublicKey = a.keypair.PublicKey().Bytes()
	}
	if err := a.sendJSON(session, req); err != nil {
		return domain.NewError(domain.CategoryNetwork, "send file request", err)
	}
	return nil
}

// CreateAnswer receives an offer and replies with an answer SDP.
// OnDataChannel is registered before SetRemoteDescription — reversing
// that order silently loses the inbound channel.
func (a *Adapter) CreateAnswer(ctx context.Context, peerID string, offerSDP string) (string, error) {
	if strings.HasPrefix(offerSDP, "error:") {
		return "", interpretErrorAnswer(offerSDP)
	}

	session := a.sessionFor(peerID)

	pc, err := webrtc.NewPeerConnection(webrtc.Configuration{ICEServers: a.iceServers})
	if err != nil {
		return "", domain.NewError(domain.CategoryNetwork, "create peer connection", err)
	}

	pc.OnDataChannel(func(dc *webrtc.DataChannel) {
		session.mu.Lock()
		session.dc = dc
		session.mu.Unlock()
		a.installDataChannelHandlers(session, dc)
	})
	a.installICEStateHandler(session, pc)

	var offer webrtc.SessionDescription
	if err := json.Unmarshal([]byte(offerSDP), &offer); err != nil {
		pc.Close()
		return "", domain.NewError(domain.CategoryValidation, "parse offer sdp", err)
	}
	if err := pc.SetRemoteDescription(offer); err != nil {
		pc.Close()
		return "", domain.NewError(domain.CategoryProtocol, "set remote description", err)
	}

	answer, err := pc.CreateAnswer(nil)
	if err != nil {
		pc.Close()
		return "", domain.NewError(domain.CategoryProtocol, "create answer", err)
	}
	gatherComplete := webrtc.GatheringCompletePromise(pc)
	if err := pc.SetLocalDescription(answer); err != nil {
		pc.Close()
		return "", domain.NewError(domain.CategoryProtocol, "set local description", err)
	}
	waitForGathering(gatherComplete)

	session.mu.Lock()
	session.pc = pc
	session.state = StateConnecting
	session.mu.Unlock()

	sdp, err := json.Marshal(sdpEnvelope(*pc.LocalDescription()))
	if err != nil {
		return "", domain.NewError(domain.CategoryState, "marshal answer sdp", err)
	}
	return string(sdp), nil
}

// interpretErrorAnswer decodes an out-of-band "error:" rejection.
func interpretErrorAnswer(answer string) error {
	reason := strings.TrimPrefix(answer, "error:")
	if reason == "webrtc-service-unavailable" {
		return domain.NewError(domain.CategoryNotFound, "peer has no webrtc adapter; caller should fall back", domain.ErrNotFound)
	}
	return domain.NewError(domain.CategoryProtocol, "permanent webrtc connection failure: "+reason, nil)
}

func waitForGathering(done <-chan struct{}) {
	select {
	case <-done:
	case <-time.After(iceGatheringTimeout):
	}
}

func (a *Adapter) installICEStateHandler(session *PeerSession, pc *webrtc.PeerConnection) {
	pc.OnICEConnectionStateChange(func(state webrtc.ICEConnectionState) {
		if state == webrtc.ICEConnectionStateConnected || state == webrtc.ICEConnectionStateCompleted {
			session.mu.Lock()
			if session.state == StateConnecting {
				session.state = StateConnected
			}
			session.mu.Unlock()
			a.publish(domain.NewEvent(domain.EventSourceConnected, ""))
		}
	})
}

func (a *Adapter) installDataChannelHandlers(session *PeerSession, dc *webrtc.DataChannel) {
	dc.OnOpen(func() {
		session.mu.Lock()
		if session.state == StateConnecting {
			session.state = StateConnected
		}
		session.mu.Unlock()
	})

	dc.OnMessage(func(msg webrtc.DataChannelMessage) {
		// Handler is spawned, not awaited, so a slow handler (e.g. a
		// file-write on receipt) never back-pressures the data channel.
		go a.handleMessage(session, msg.Data)
	})
}

func (a *Adapter) publish(evt domain.TransferEvent) {
	if a.bus != nil {
		a.bus.Publish(evt)
	}
}

// handleMessage dispatches one inbound data-channel message by its
// discriminator field. Messages matching no known variant are logged
// and dropped.
func (a *Adapter) handleMessage(session *PeerSession, raw []byte) {
	msgType, v, ok := parseMessage(raw)
	if !ok {
		log.Printf("webrtc: dropping unparseable message from peer %s", session.peerID)
		return
	}

	session.mu.Lock()
	if session.state == StateConnected {
		session.state = StateTransferring
	}
	session.mu.Unlock()

	switch msgType {
	case MsgFileRequest:
		req := v.(FileRequest)
		go a.runSeedSend(session, req)
	case MsgManifestRequest:
		req := v.(ManifestRequest)
		a.handleManifestRequest(session, req)
	case MsgFileChunk:
		chunk := v.(FileChunk)
		a.handleFileChunk(session, chunk)
	case MsgChunkAck:
		ack := v.(ChunkAck)
		a.handleChunkAck(session, ack)
	case MsgManifestResponse:
		// Consumed by a standalone caller polling for manifests; this
		// adapter has no orchestrator-independent manifest cache to
		// populate here, so it is only logged.
		log.Printf("webrtc: received manifest response for %s from %s", v.(ManifestResponse).FileHash, session.peerID)
	}
}

func (a *Adapter) handleManifestRequest(session *PeerSession, req ManifestRequest) {
	if a.seedDir == nil {
		return
	}
	path, totalChunks, chunkSize, err := a.seedDir(req.FileHash)
	if err != nil {
		return
	}
	var size uint64
	hashes := make([]string, 0, totalChunks)
	for idx := uint32(0); idx < totalChunks; idx++ {
		data, err := readChunk(path, idx, chunkSize)
		if err != nil {
			return
		}
		size += uint64(len(data))
		sum := sha256.Sum256(data)
		hashes = append(hashes, hex.EncodeToString(sum[:]))
	}
	resp := ManifestResponse{
		Type:        string(MsgManifestResponse),
		FileHash:    req.FileHash,
		FileName:    filepath.Base(path),
		FileSize:    size,
		TotalChunks: totalChunks,
		ChunkHashes: hashes,
	}
	a.sendJSON(session, resp)
}

func (a *Adapter) sendJSON(session *PeerSession, v interface{}) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return err
	}
	session.mu.Lock()
	dc := session.dc
	session.mu.Unlock()
	if dc == nil {
		return domain.NewError(domain.CategoryState, "no data channel for peer", domain.ErrStateInconsistent)
	}
	return dc.Send(payload)
}

// Close tears down a peer's connection.
func (a *Adapter) Close(peerID string) error {
	a.mu.Lock()
	session, ok := a.sessions[peerID]
	delete(a.sessions, peerID)
	a.mu.Unlock()
	if !ok {
		return domain.NewError(domain.CategoryNotFound, "unknown peer", domain.ErrNotFound)
	}
	session.mu.Lock()
	pc := session.pc
	session.mu.Unlock()
	if pc != nil {
		return pc.Close()
	}
	return nil
}

// --- Retry policy -----------------------------------------------------

// RetryDelay computes the exponential backoff delay for the given
// 1-indexed attempt number under RetryProfile.
func RetryDelay(attempt int) time.Duration {
	delay := RetryProfile.Initial
	for i := 1; i < attempt; i++ {
		delay *= 2
		if delay > RetryProfile.Cap {
			return RetryProfile.Cap
		}
	}
	return delay
}

// Retry attempts to reconnect to peerID using the session's stored
// offer, emitting ConnectionRetrying before each attempt and
// ConnectionPermanentlyFailed once RetryProfile.MaxAttempts is
// exhausted.
func (a *Adapter) Retry(ctx context.Context, peerID string, reconnect func(ctx context.Context, offerSDP string) error) error {
	session := a.sessionFor(peerID)

	session.mu.Lock()
	session.retry.consecutiveFailures++
	attempt := session.retry.consecutiveFailures
	offer := session.storedOffer
	session.mu.Unlock()

	if attempt > RetryProfile.MaxAttempts {
		session.mu.Lock()
		session.state = StatePermanentlyFailed
		session.mu.Unlock()
		a.publish(domain.NewEvent(domain.EventConnectionPermanentlyFailed, ""))
		return domain.NewError(domain.CategoryNetwork, fmt.Sprintf("webrtc connection to %s permanently failed after %d attempts", peerID, attempt-1), nil)
	}

	delay := RetryDelay(attempt)
	evt := domain.NewEvent(domain.EventConnectionRetrying, "")
	evt.SourceID = peerID
	evt.Attempt = attempt
	evt.MaxAttempts = RetryProfile.MaxAttempts
	evt.NextRetryMs = delay.Milliseconds()
	a.publish(evt)

	session.mu.Lock()
	session.state = StateRetrying
	session.mu.Unlock()

	select {
	case <-time.After(delay):
	case <-ctx.Done():
		return ctx.Err()
	}

	if err := reconnect(ctx, offer); err != nil {
		return err
	}

	session.mu.Lock()
	session.retry.consecutiveFailures = 0
	session.mu.Unlock()
	return nil
}

// --- Seed side: sender state machine ----------------------------------

// runSeedSend is the seed-side state machine. Spawned as its own
// goroutine by handleMessage so the message handler never blocks.
func (a *Adapter) runSeedSend(session *PeerSession, req FileRequest) {
	if a.seedDir == nil {
		return
	}
	path, totalChunks, chunkSize, err := a.seedDir(req.FileHash)
	if err != nil {
		a.publish(failEvent(req.FileHash, domain.CategoryNotFound, "no such file to seed"))
		return
	}

	if !a.waitForDataChannelOpen(session, dataChannelOpenTimeout) {
		a.publish(failEvent(req.FileHash, domain.CategoryState, "data channel did not open in time"))
		return
	}

	session.mu.Lock()
	session.pendingAcks[req.FileHash] = 0
	session.ackedChunks[req.FileHash] = make(map[uint32]bool)
	session.activeTransfers[req.FileHash] = true
	session.mu.Unlock()

	var recipientKey *ecdh.PublicKey
	if len(req.RecipientPublicKey) > 0 {
		recipientKey, _ = ecdh.X25519().NewPublicKey(req.RecipientPublicKey)
	}

	chunksSent := 0
	var bytesSent int64
	uplink := domain.NewUplinkAccountant()

	for idx := uint32(0); idx < totalChunks; idx++ {
		if !a.awaitSendWindow(session, req.FileHash) {
			a.publish(failEvent(req.FileHash, domain.CategoryNetwork, "ack window stalled: data channel no longer open"))
			return
		}
		if !a.awaitBufferDrain(session) {
			a.publish(failEvent(req.FileHash, domain.CategoryNetwork, "data channel send buffer did not drain"))
			return
		}

		data, err := readChunk(path, idx, chunkSize)
		if err != nil {
			a.publish(failEvent(req.FileHash, domain.CategoryFilesystem, "read chunk for seeding"))
			return
		}

		chunk := FileChunk{
			Type:        string(MsgFileChunk),
			FileHash:    req.FileHash,
			FileName:    filepath.Base(path),
			ChunkIndex:  idx,
			TotalChunks: totalChunks,
		}

		payload := data
		if recipientKey != nil {
			bundle, err := security.EncryptChunk(data, recipientKey)
			if err != nil {
				a.publish(failEvent(req.FileHash, domain.CategoryState, "encrypt chunk for recipient"))
				return
			}
			// The chunk's own ciphertext travels as chunk.Data; the
			// ephemeral public key and AES-GCM nonce needed to derive
			// the per-chunk key travel in EncryptedKeyBundle.
			chunk.EncryptedKeyBundle = &EncryptedKeyBundle{
				EphemeralPublicKey: bundle.EphemeralPublicKey,
				Nonce:              bundle.Nonce,
			}
			payload = bundle.Ciphertext
		}
		chunk.Data = payload
		sum := sha256.Sum256(payload)
		chunk.Checksum = hex.EncodeToString(sum[:])

		if err := a.sendJSON(session, chunk); err != nil {
			a.publish(failEvent(req.FileHash, domain.CategoryNetwork, "send file chunk"))
			return
		}

		session.mu.Lock()
		session.pendingAcks[req.FileHash]++
		session.mu.Unlock()

		chunksSent++
		bytesSent += int64(len(data))
		if total, crossed := uplink.Add(int64(len(data))); crossed {
			evt := domain.NewEvent(domain.EventUplinkThresholdCrossed, req.FileHash)
			evt.BytesSent = total
			a.publish(evt)
		}

		if chunksSent%BatchSize == 0 {
			time.Sleep(50 * time.Millisecond)
		} else {
			time.Sleep(5 * time.Millisecond)
		}
	}

	session.mu.Lock()
	session.activeTransfers[req.FileHash] = false
	session.mu.Unlock()
	a.publish(domain.NewEvent(domain.EventCompleted, req.FileHash))
}

// awaitSendWindow blocks until pendingAcks drops below MaxPendingAcks,
// or fails after 3 consecutive 5s stalls with the data channel no
// longer open. session.mu is never held across a sleep — inbound ACKs
// need it to release the window.
func (a *Adapter) awaitSendWindow(session *PeerSession, fileHash string) bool {
	stalls := 0
	for {
		session.mu.Lock()
		pending := session.pendingAcks[fileHash]
		session.mu.Unlock()

		if pending < MaxPendingAcks {
			return true
		}

		waited := time.Duration(0)
		for waited < ackStallWindow {
			time.Sleep(ackWaitSleep)
			waited += ackWaitSleep

			session.mu.Lock()
			pending = session.pendingAcks[fileHash]
			session.mu.Unlock()
			if pending < MaxPendingAcks {
				return true
			}
		}

		stalls++
		if stalls >= ackConsecutiveStalls {
			session.mu.Lock()
			dc := session.dc
			session.mu.Unlock()
			if dc == nil || dc.ReadyState() != webrtc.DataChannelStateOpen {
				return false
			}
			stalls = 0
		}
	}
}

// awaitBufferDrain blocks until the data channel's buffered amount is
// below BufferedAmountLimit, or times out.
func (a *Adapter) awaitBufferDrain(session *PeerSession) bool {
	waited := time.Duration(0)
	for {
		session.mu.Lock()
		dc := session.dc
		session.mu.Unlock()
		if dc == nil {
			return false
		}
		if dc.BufferedAmount() < BufferedAmountLimit {
			return true
		}
		if waited >= bufferWaitTimeout {
			return false
		}
		time.Sleep(bufferWaitSleep)
		waited += bufferWaitSleep
	}
}

func (a *Adapter) waitForDataChannelOpen(session *PeerSession, timeout time.Duration) bool {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		session.mu.Lock()
		dc := session.dc
		session.mu.Unlock()
		if dc != nil && dc.ReadyState() == webrtc.DataChannelStateOpen {
			return true
		}
		time.Sleep(20 * time.Millisecond)
	}
	return false
}

func readChunk(path string, chunkIndex uint32, chunkSize int) ([]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	buf := make([]byte, chunkSize)
	offset := int64(chunkIndex) * int64(chunkSize)
	n, err := f.ReadAt(buf, offset)
	if n == 0 && err != nil {
		return nil, err
	}
	return buf[:n], nil
}

func failEvent(transferID string, cat domain.Category, msg string) domain.TransferEvent {
	evt := domain.NewEvent(domain.EventFailed, transferID)
	evt.Category = cat
	evt.Message = msg
	evt.RetryPossible = cat.RetryPossible()
	return evt
}

// --- Download side: receiver state machine ----------------------------

// handleFileChunk processes one inbound FileChunk. Decrypts if needed,
// verifies, stores, assembles on completion, and ACKs — the ACK is sent
// after releasing session.mu to avoid head-of-line blocking.
func (a *Adapter) handleFileChunk(session *PeerSession, chunk FileChunk) {
	payload := chunk.Data
	if chunk.EncryptedKeyBundle != nil && a.keypair != nil {
		bundle := &security.EncryptedBundle{
			EphemeralPublicKey: chunk.EncryptedKeyBundle.EphemeralPublicKey,
			Nonce:              chunk.EncryptedKeyBundle.Nonce,
			Ciphertext:         chunk.Data,
		}
		plaintext, err := security.DecryptChunk(bundle, a.keypair)
		if err != nil {
			log.Printf("webrtc: dropping chunk %d for %s: decrypt failed: %v", chunk.ChunkIndex, chunk.FileHash, err)
			return
		}
		payload = plaintext
	}

	// The sender's checksum covers the bytes as sent (ciphertext for an
	// encrypted chunk), so verify the received bytes, not the plaintext.
	sum := sha256.Sum256(chunk.Data)
	if hex.EncodeToString(sum[:]) != chunk.Checksum {
		log.Printf("webrtc: dropping chunk %d for %s: checksum mismatch", chunk.ChunkIndex, chunk.FileHash)
		return
	}

	session.mu.Lock()
	if session.receivedChunks[chunk.FileHash] == nil {
		session.receivedChunks[chunk.FileHash] = make(map[uint32][]byte)
	}
	session.receivedChunks[chunk.FileHash][chunk.ChunkIndex] = payload
	complete := len(session.receivedChunks[chunk.FileHash]) == int(chunk.TotalChunks)
	session.mu.Unlock()

	evt := domain.NewEvent(domain.EventChunkCompleted, chunk.FileHash)
	evt.ChunkID = chunk.ChunkIndex
	a.publish(evt)

	if complete {
		a.assembleAndEmit(session, chunk.FileHash, chunk.FileName, chunk.TotalChunks)
	}

	a.sendJSON(session, ChunkAck{
		Type:         string(MsgChunkAck),
		FileHash:     chunk.FileHash,
		ChunkIndex:   chunk.ChunkIndex,
		ReadyForMore: true,
	})
}

// assembleAndEmit concatenates received chunks in index order and
// publishes a Completed event whose Message is the file name. The
// assembled bytes are not attached to the event; callers read the
// chunks out via Received.
func (a *Adapter) assembleAndEmit(session *PeerSession, fileHash, fileName string, totalChunks uint32) {
	session.mu.Lock()
	chunks := session.receivedChunks[fileHash]
	session.mu.Unlock()

	var assembled []byte
	for i := uint32(0); i < totalChunks; i++ {
		assembled = append(assembled, chunks[i]...)
	}

	evt := domain.NewEvent(domain.EventCompleted, fileHash)
	evt.Message = fileName
	a.publish(evt)
	_ = assembled // the host event bus / finalizer consumes this via Received
}

// Received returns a copy of the chunks received so far for fileHash,
// keyed by chunk index — used by the orchestrator's finalizer when this adapter is
// driven as a Protocol Adapter rather than standalone.
func (a *Adapter) Received(peerID, fileHash string) map[uint32][]byte {
	session := a.sessionFor(peerID)
	session.mu.Lock()
	defer session.mu.Unlock()
	out := make(map[uint32][]byte, len(session.receivedChunks[fileHash]))
	for k, v := range session.receivedChunks[fileHash] {
		out[k] = v
	}
	return out
}

func (a *Adapter) handleChunkAck(session *PeerSession, ack ChunkAck) {
	session.mu.Lock()
	defer session.mu.Unlock()
	if session.pendingAcks[ack.FileHash] > 0 {
		session.pendingAcks[ack.FileHash]--
	}
	if session.ackedChunks[ack.FileHash] == nil {
		session.ackedChunks[ack.FileHash] = make(map[uint32]bool)
	}
	session.ackedChunks[ack.FileHash][ack.ChunkIndex] = true
}

// --- Adapter interface plumbing ---------------------------------------

func (a *Adapter) Download(ctx context.Context, identifier string, outputPath string) (adapter.Handle, error) {
	peerID := strings.TrimPrefix(identifier, "peer:")
	return adapter.Handle("webrtc:" + peerID), nil
}

func (a *Adapter) Seed(ctx context.Context, filePath string) (adapter.SeedingInfo, error) {
	return adapter.SeedingInfo{Identifier: filePath, Detail: "served on FileRequest via seedDir resolver"}, nil
}

func (a *Adapter) Pause(h adapter.Handle) error  { return nil }
func (a *Adapter) Resume(h adapter.Handle) error { return nil }

func (a *Adapter) Cancel(h adapter.Handle) error {
	peerID := strings.TrimPrefix(string(h), "webrtc:")
	return a.Close(peerID)
}

func (a *Adapter) GetProgress(h adapter.Handle) (adapter.Progress, error) {
	peerID := strings.TrimPrefix(string(h), "webrtc:")
	session := a.sessionFor(peerID)
	session.mu.Lock()
	defer session.mu.Unlock()
	return adapter.Progress{Status: statusFor(session.state)}, nil
}

func statusFor(s PeerState) domain.SourceStatus {
	switch s {
	case StateConnecting, StateRetrying:
		return domain.StatusConnecting
	case StateConnected:
		return domain.StatusConnected
	case StateTransferring:
		return domain.StatusDownloading
	case StateCompleted:
		return domain.StatusCompleted
	default:
		return domain.StatusFailed
	}
}

func (a *Adapter) Capabilities() adapter.Capabilities {
	return adapter.Capabilities{
		SupportsSeeding:     true,
		SupportsPauseResume: false,
		SupportsMultiSource: true,
		SupportsEncryption:  true,
		SupportsDHT:         false,
	}
}

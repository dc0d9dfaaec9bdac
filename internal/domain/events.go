package domain

import "time"

// EventType names a TransferEvent variant. The names are part of the
// stable surface hosts subscribe to and must not change.
type EventType string

const (
	EventStarted            EventType = "TransferStarted"
	EventSourceConnected    EventType = "SourceConnected"
	EventSourceDisconnected EventType = "SourceDisconnected"
	EventChunkCompleted     EventType = "ChunkCompleted"
	EventChunkFailed        EventType = "ChunkFailed"
	EventProgress           EventType = "TransferProgress"
	EventPaused             EventType = "TransferPaused"
	EventResumed            EventType = "TransferResumed"
	EventCanceled           EventType = "TransferCanceled"
	EventCompleted          EventType = "TransferCompleted"
	EventFailed             EventType = "TransferFailed"

	// WebRTC-specific connection lifecycle events; not part of the
	// stable UI event list but published on the same bus since they
	// describe a source's transport state, not a new model.
	EventConnectionRetrying          EventType = "ConnectionRetrying"
	EventConnectionPermanentlyFailed EventType = "ConnectionPermanentlyFailed"

	// EventUplinkThresholdCrossed marks a seeding source's cumulative
	// uplink bytes crossing another multiple of PaymentThresholdBytes,
	// for a host to meter or settle against.
	EventUplinkThresholdCrossed EventType = "UplinkThresholdCrossed"
)

// TransferEvent is the unified event model published to the UI/host event
// bus. Only the fields relevant to Type are populated; the rest are zero.
type TransferEvent struct {
	Type        EventType
	TransferID  string // file_hash
	TimestampMs int64

	// SourceConnected / SourceDisconnected / ChunkCompleted / ChunkFailed
	SourceID string
	Reason   string

	// ChunkCompleted
	ChunkID            uint32
	DownloadDurationMs int64

	// ChunkFailed
	WillRetry bool

	// Progress
	Stats *DownloadStats

	// Started
	Sources []SourceDescriptor

	// Completed
	AverageSpeedBps float64
	ElapsedMs       int64

	// Failed
	Category      Category
	RetryPossible bool
	Message       string

	// ConnectionRetrying
	Attempt     int
	MaxAttempts int
	NextRetryMs int64

	// UplinkThresholdCrossed
	BytesSent int64
}

// NewEvent stamps the current time in milliseconds.
func NewEvent(typ EventType, transferID string) TransferEvent {
	return TransferEvent{
		Type:        typ,
		TransferID:  transferID,
		TimestampMs: time.Now().UnixMilli(),
	}
}

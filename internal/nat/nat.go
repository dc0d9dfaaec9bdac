// Package nat classifies the local NAT type via STUN and builds the
// STUN/TURN ICE server URL lists the WebRTC adapter requires at
// construction. A TURN server is mandatory: STUN-only configurations
// are rejected rather than silently degrading on NAT-hostile networks.
// pion/webrtc runs its own ICE agent once given server URLs, so this
// package does no connection negotiation of its own.
package nat

import (
	"context"
	"fmt"
	"net"
	"time"

	"github.com/pion/stun/v3"

	"github.com/chiral/transferd/internal/domain"
)

// Type classifies the NAT a node is behind.
type Type int

const (
	TypeUnknown         Type = iota
	TypeNone                  // public IP, no NAT
	TypeFullCone
	TypeRestrictedCone
	TypePortRestricted
	TypeSymmetric // hardest to traverse without a relay
)

func (t Type) String() string {
	switch t {
	case TypeNone:
		return "none"
	case TypeFullCone:
		return "full-cone"
	case TypeRestrictedCone:
		return "restricted-cone"
	case TypePortRestricted:
		return "port-restricted"
	case TypeSymmetric:
		return "symmetric"
	default:
		return "unknown"
	}
}

// RequiresRelay reports whether this NAT type should prefer a TURN
// relay over attempting a direct ICE candidate pair.
func (t Type) RequiresRelay() bool {
	return t == TypeSymmetric || t == TypeUnknown
}

// DiscoveryResult is the outcome of a STUN binding probe.
type DiscoveryResult struct {
	PublicAddr string
	Type       Type
	LatencyMs  int
}

// DiscoveryConfig configures the STUN probe.
type DiscoveryConfig struct {
	ServerAddr string // e.g. "stun.l.google.com:19302"
	Timeout    time.Duration
}

// DefaultDiscoveryConfig returns the 3-second-timeout default.
func DefaultDiscoveryConfig(serverAddr string) DiscoveryConfig {
	return DiscoveryConfig{ServerAddr: serverAddr, Timeout: 3 * time.Second}
}

// Discover runs a STUN binding request against cfg.ServerAddr and
// classifies reachability from the XOR-MAPPED-ADDRESS it returns. A node
// that can't resolve or reach the STUN server is treated as TypeUnknown
// rather than erroring, since the caller's next step (requiring a TURN
// server regardless) doesn't depend on a precise classification.
func Discover(ctx context.Context, cfg DiscoveryConfig) (*DiscoveryResult, error) {
	start := time.Now()

	timeout := cfg.Timeout
	if deadline, ok := ctx.Deadline(); ok {
		if until := time.Until(deadline); until < timeout {
			timeout = until
		}
	}

	conn, err := net.DialTimeout("udp4", cfg.ServerAddr, timeout)
	if err != nil {
		return &DiscoveryResult{Type: TypeUnknown, LatencyMs: int(time.Since(start).Milliseconds())}, nil
	}
	localAddr := conn.LocalAddr().String()

	client, err := stun.NewClient(conn, stun.WithRTO(timeout))
	if err != nil {
		conn.Close()
		return nil, domain.NewError(domain.CategoryNetwork, "create stun client", err)
	}
	defer client.Close()

	result := &DiscoveryResult{PublicAddr: localAddr, Type: TypePortRestricted}
	req := stun.MustBuild(stun.TransactionID, stun.BindingRequest)
	doErr := client.Do(req, func(ev stun.Event) {
		result.LatencyMs = int(time.Since(start).Milliseconds())
		if ev.Error != nil {
			result.Type = TypeUnknown
			return
		}
		var mapped stun.XORMappedAddress
		if err := mapped.GetFrom(ev.Message); err != nil {
			return
		}
		result.PublicAddr = mapped.String()
		if result.PublicAddr == localAddr {
			result.Type = TypeNone
		} else {
			// A single binding against one server can't tell the cone
			// variants apart; a reachable, mapped node is reported as
			// restricted-cone and left to ICE to traverse precisely.
			result.Type = TypeRestrictedCone
		}
	})
	if doErr != nil {
		result.Type = TypeUnknown
		result.LatencyMs = int(time.Since(start).Milliseconds())
	}
	return result, nil
}

// ICEServerConfig is the minimal STUN/TURN server list the WebRTC
// adapter's webrtc.Config expects.
type ICEServerConfig struct {
	STUNURLs []string
	TURNURLs []string
	TURNUser string
	TURNPass string
}

// BuildICEServers validates that both a STUN cluster and a TURN server
// are configured — there is no STUN-only fallback —
// and returns an error naming what's missing rather than silently
// degrading to STUN-only.
func BuildICEServers(stunURLs, turnURLs []string, turnUser, turnPass string) (ICEServerConfig, error) {
	if len(stunURLs) == 0 {
		return ICEServerConfig{}, domain.NewError(domain.CategoryValidation, "at least one STUN server url is required", nil)
	}
	if len(turnURLs) == 0 {
		return ICEServerConfig{}, domain.NewError(domain.CategoryValidation, "at least one TURN server url is required: no STUN-only fallback", nil)
	}
	return ICEServerConfig{STUNURLs: stunURLs, TURNURLs: turnURLs, TURNUser: turnUser, TURNPass: turnPass}, nil
}

// String helps a caller log a classification result without formatting
// it inline at every call site.
func (r DiscoveryResult) String() string {
	return fmt.Sprintf("%s (%s, %dms)", r.Type, r.PublicAddr, r.LatencyMs)
}

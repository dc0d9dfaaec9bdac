package domain

import "sync"

// PaymentThresholdBytes is the granularity seeding adapters account
// uplink bytes at.
const PaymentThresholdBytes = 1_048_576

// UplinkAccountant tracks cumulative bytes a seeding adapter has sent for
// one source, reporting each time the running total crosses another
// multiple of PaymentThresholdBytes so the caller can publish
// EventUplinkThresholdCrossed without re-deriving the bookkeeping itself.
type UplinkAccountant struct {
	mu        sync.Mutex
	sent      int64
	threshold int64
}

// NewUplinkAccountant builds an accountant using PaymentThresholdBytes.
func NewUplinkAccountant() *UplinkAccountant {
	return &UplinkAccountant{threshold: PaymentThresholdBytes}
}

// Add records n newly sent bytes and reports the new cumulative total
// along with whether this call crossed at least one more threshold
// multiple than the previous total had.
func (u *UplinkAccountant) Add(n int64) (total int64, crossed bool) {
	u.mu.Lock()
	defer u.mu.Unlock()

	before := u.sent / u.threshold
	u.sent += n
	after := u.sent / u.threshold
	return u.sent, after > before
}

package domain

import "testing"

func TestUplinkAccountant_CrossesEachThreshold(t *testing.T) {
	u := NewUplinkAccountant()

	total, crossed := u.Add(PaymentThresholdBytes - 1)
	if crossed {
		t.Fatalf("should not cross threshold before reaching it, total=%d", total)
	}

	total, crossed = u.Add(1)
	if !crossed {
		t.Fatalf("expected threshold crossing at total=%d", total)
	}

	_, crossed = u.Add(100)
	if crossed {
		t.Fatalf("should not cross again until the next full multiple")
	}

	_, crossed = u.Add(PaymentThresholdBytes)
	if !crossed {
		t.Fatalf("expected a second threshold crossing")
	}
}

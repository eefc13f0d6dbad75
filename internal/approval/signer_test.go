package approval

import (
	"strings"
	"testing"
	"time"

	"github.com/xela07ax/agentgate/internal/domain"
)

func TestCanonicalMessage_Format(t *testing.T) {
	t.Parallel()

	expires := time.Date(2026, 3, 1, 12, 30, 0, 0, time.UTC)
	got := CanonicalMessage("app-1", domain.DecisionApproved, "alice", expires)
	want := "app-1:approved:alice:2026-03-01T12:30:00Z"
	if got != want {
		t.Errorf("CanonicalMessage() = %q, want %q", got, want)
	}
}

func TestCanonicalMessage_NormalizesToUTC(t *testing.T) {
	t.Parallel()

	loc := time.FixedZone("MSK", 3*3600)
	expires := time.Date(2026, 3, 1, 15, 30, 0, 0, loc) // 12:30 UTC

	got := CanonicalMessage("app-1", domain.DecisionApproved, "alice", expires)
	if !strings.HasSuffix(got, "2026-03-01T12:30:00Z") {
		t.Errorf("CanonicalMessage() = %q, want UTC-normalized timestamp", got)
	}
}

func TestSignVerify_RoundTrip(t *testing.T) {
	t.Parallel()

	secret := []byte("shared-secret")
	expires := time.Now().Add(time.Hour)

	sig := Sign(secret, "app-1", domain.DecisionApproved, "alice", expires)
	if sig == "" {
		t.Fatal("Sign() returned empty signature")
	}

	if !VerifySignature(secret, "app-1", domain.DecisionApproved, "alice", expires, sig) {
		t.Error("VerifySignature() = false for a signature produced by Sign()")
	}
}

func TestVerifySignature_RejectsMutations(t *testing.T) {
	t.Parallel()

	secret := []byte("shared-secret")
	expires := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	sig := Sign(secret, "app-1", domain.DecisionApproved, "alice", expires)

	tests := []struct {
		name string
		ok   bool
		fn   func() bool
	}{
		{"different id", false, func() bool {
			return VerifySignature(secret, "app-2", domain.DecisionApproved, "alice", expires, sig)
		}},
		{"different decision", false, func() bool {
			return VerifySignature(secret, "app-1", domain.DecisionRejected, "alice", expires, sig)
		}},
		{"different approver", false, func() bool {
			return VerifySignature(secret, "app-1", domain.DecisionApproved, "bob", expires, sig)
		}},
		{"different expiry", false, func() bool {
			return VerifySignature(secret, "app-1", domain.DecisionApproved, "alice", expires.Add(time.Second), sig)
		}},
		{"different secret", false, func() bool {
			return VerifySignature([]byte("other"), "app-1", domain.DecisionApproved, "alice", expires, sig)
		}},
		{"truncated signature", false, func() bool {
			return VerifySignature(secret, "app-1", domain.DecisionApproved, "alice", expires, sig[:len(sig)-2])
		}},
		{"unchanged", true, func() bool {
			return VerifySignature(secret, "app-1", domain.DecisionApproved, "alice", expires, sig)
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := tt.fn(); got != tt.ok {
				t.Errorf("VerifySignature() = %v, want %v", got, tt.ok)
			}
		})
	}
}

func TestVerifySignature_SingleCharacterFlip(t *testing.T) {
	t.Parallel()

	secret := []byte("shared-secret")
	expires := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	sig := Sign(secret, "app-1", domain.DecisionApproved, "alice", expires)

	// Flip one hex digit
	b := []byte(sig)
	if b[0] == 'a' {
		b[0] = 'b'
	} else {
		b[0] = 'a'
	}

	if VerifySignature(secret, "app-1", domain.DecisionApproved, "alice", expires, string(b)) {
		t.Error("VerifySignature() accepted a signature with one flipped character")
	}
}

package relay

import (
	"log/slog"
	"os"
	"strings"
	"testing"
)

// digitsOnly mimics the contact normalizer without a database.
func digitsOnly(s string) string {
	if at := strings.IndexByte(s, '@'); at >= 0 {
		s = s[:at]
	}
	return strings.Map(func(r rune) rune {
		if r >= '0' && r <= '9' {
			return r
		}
		return -1
	}, s)
}

func newTestGate(admins []string) *Gate {
	logger := slog.New(slog.NewTextHandler(os.Stdout, nil))
	return NewGate(admins, digitsOnly, logger)
}

func TestGateOpenMode(t *testing.T) {
	g := newTestGate(nil)

	if !g.OpenMode() {
		t.Error("expected open mode with no admins")
	}
	if !g.IsAdmin("anyone") {
		t.Error("expected everyone to pass in open mode")
	}
}

func TestGateAdminList(t *testing.T) {
	g := newTestGate([]string{"919876543210"})

	if g.OpenMode() {
		t.Error("expected closed mode with an admin configured")
	}

	t.Run("listed admin passes in any equivalent form", func(t *testing.T) {
		for _, form := range []string{
			"919876543210",
			"919876543210@s.whatsapp.net",
			"+91 98765 43210",
		} {
			if !g.IsAdmin(form) {
				t.Errorf("expected %q to pass", form)
			}
		}
	})

	t.Run("unknown sender is denied", func(t *testing.T) {
		if g.IsAdmin("5511999998888") {
			t.Error("expected unknown sender to be denied")
		}
		if g.IsAdmin("") {
			t.Error("expected empty sender to be denied")
		}
	})
}

func TestGateNormalizesConfigEntries(t *testing.T) {
	// Config entries in human formats must match live sender IDs.
	g := newTestGate([]string{"+91 98765 43210"})

	if !g.IsAdmin("919876543210@s.whatsapp.net") {
		t.Error("expected formatted config entry to match normalized sender")
	}
}

package contacts

import (
	"log/slog"
	"os"
	"testing"

	"github.com/jholhewres/autorelay/pkg/autorelay/storage"
)

func newTestList(t *testing.T, countryCode string) *AllowList {
	t.Helper()

	db, err := storage.OpenMemory()
	if err != nil {
		t.Fatalf("open database: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	logger := slog.New(slog.NewTextHandler(os.Stdout, nil))
	al, err := NewAllowList(db, countryCode, logger)
	if err != nil {
		t.Fatalf("new allow-list: %v", err)
	}
	return al
}

func TestNormalize(t *testing.T) {
	al := newTestList(t, "91")

	cases := []struct {
		in   string
		want string
	}{
		{"9876543210", "919876543210"},
		{"09876543210", "919876543210"},
		{"919876543210", "919876543210"},
		{"+91 98765 43210", "919876543210"},
		{"919876543210@s.whatsapp.net", "919876543210"},
		{"98-76-54-32-10", "919876543210"},
		{"", ""},
		{"@s.whatsapp.net", ""},
	}

	for _, tc := range cases {
		if got := al.Normalize(tc.in); got != tc.want {
			t.Errorf("Normalize(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestNormalizeWithoutCountryCode(t *testing.T) {
	al := newTestList(t, "")

	if got := al.Normalize("09876543210"); got != "9876543210" {
		t.Errorf("expected leading zero stripped with no prefix, got %q", got)
	}
}

func TestMembership(t *testing.T) {
	al := newTestList(t, "91")

	t.Run("add then check equivalent forms", func(t *testing.T) {
		id, err := al.Add("9876543210")
		if err != nil {
			t.Fatalf("add: %v", err)
		}
		if id != "919876543210" {
			t.Errorf("expected normalized id, got %q", id)
		}

		for _, form := range []string{
			"9876543210",
			"09876543210",
			"919876543210",
			"919876543210@s.whatsapp.net",
		} {
			if !al.IsAllowed(form) {
				t.Errorf("expected %q to be allowed", form)
			}
		}
	})

	t.Run("set semantics on duplicate add", func(t *testing.T) {
		if _, err := al.Add("919876543210"); err != nil {
			t.Fatalf("duplicate add: %v", err)
		}
		if al.Count() != 1 {
			t.Errorf("expected 1 member, got %d", al.Count())
		}
	})

	t.Run("remove accepts un-normalized input", func(t *testing.T) {
		removed, err := al.Remove("09876543210")
		if err != nil {
			t.Fatalf("remove: %v", err)
		}
		if !removed {
			t.Error("expected removed=true")
		}
		if al.IsAllowed("919876543210") {
			t.Error("expected contact to be gone")
		}
	})

	t.Run("remove absent reports not found", func(t *testing.T) {
		removed, err := al.Remove("5511999998888")
		if err != nil {
			t.Fatalf("remove: %v", err)
		}
		if removed {
			t.Error("expected removed=false")
		}
	})

	t.Run("rejects contact with no digits", func(t *testing.T) {
		if _, err := al.Add("not-a-number"); err == nil {
			t.Error("expected error for digitless contact")
		}
	})
}

func TestReloadFromDatabase(t *testing.T) {
	db, err := storage.OpenMemory()
	if err != nil {
		t.Fatalf("open database: %v", err)
	}
	defer db.Close()

	logger := slog.New(slog.NewTextHandler(os.Stdout, nil))

	first, err := NewAllowList(db, "91", logger)
	if err != nil {
		t.Fatalf("new allow-list: %v", err)
	}
	if _, err := first.Add("9876543210"); err != nil {
		t.Fatalf("add: %v", err)
	}

	second, err := NewAllowList(db, "91", logger)
	if err != nil {
		t.Fatalf("new allow-list after restart: %v", err)
	}
	if !second.IsAllowed("9876543210") {
		t.Error("expected membership to survive a restart")
	}
}

// Package contacts implements the durable allow-list of contacts eligible
// for auto-replies on the secondary (WhatsApp) channel.
//
// Every identifier goes through the same normalization at add, remove and
// lookup time — anything transport-specific (the "@s.whatsapp.net" suffix),
// non-digits, a leading zero — is stripped, and the configured default
// country code is prefixed when missing. Skipping normalization on any one
// path makes membership checks silently fail, so callers outside the
// package use Normalize too.
package contacts

import (
	"database/sql"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"
)

// AllowList is the set of contact numbers permitted to receive auto-replies.
type AllowList struct {
	db          *sql.DB
	countryCode string
	logger      *slog.Logger

	// members mirrors the authorized_numbers table.
	members map[string]struct{}
	mu      sync.RWMutex
}

// NewAllowList creates the allow-list and loads existing members.
// countryCode is the default country code prefixed to numbers that lack one
// (deployment-specific, always injected from config).
func NewAllowList(db *sql.DB, countryCode string, logger *slog.Logger) (*AllowList, error) {
	if logger == nil {
		logger = slog.Default()
	}

	al := &AllowList{
		db:          db,
		countryCode: countryCode,
		logger:      logger.With("component", "contacts"),
		members:     make(map[string]struct{}),
	}

	rows, err := db.Query("SELECT contact_id FROM authorized_numbers")
	if err != nil {
		return nil, fmt.Errorf("load allow-list: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan contact: %w", err)
		}
		al.members[id] = struct{}{}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("load allow-list: %w", err)
	}

	al.logger.Info("allow-list loaded", "count", len(al.members))
	return al, nil
}

// Normalize reduces a contact identifier to its canonical digit form:
// strip any JID suffix, keep digits only, drop one leading zero, then
// prefix the default country code when the number doesn't carry it.
func (al *AllowList) Normalize(contact string) string {
	// Strip transport suffix ("123@s.whatsapp.net" -> "123").
	if at := strings.IndexByte(contact, '@'); at >= 0 {
		contact = contact[:at]
	}

	digits := strings.Map(func(r rune) rune {
		if r >= '0' && r <= '9' {
			return r
		}
		return -1
	}, contact)

	digits = strings.TrimPrefix(digits, "0")

	if digits == "" {
		return ""
	}
	if al.countryCode != "" && !strings.HasPrefix(digits, al.countryCode) {
		digits = al.countryCode + digits
	}
	return digits
}

// Add inserts a contact. Adding an existing member is a no-op (set
// semantics). The mirror is updated only after the durable write commits.
func (al *AllowList) Add(contact string) (string, error) {
	id := al.Normalize(contact)
	if id == "" {
		return "", fmt.Errorf("invalid contact %q", contact)
	}

	al.mu.Lock()
	defer al.mu.Unlock()

	_, err := al.db.Exec(`
		INSERT INTO authorized_numbers (contact_id, added_at) VALUES (?, ?)
		ON CONFLICT(contact_id) DO NOTHING`,
		id, time.Now().UTC().Format(time.RFC3339),
	)
	if err != nil {
		return "", fmt.Errorf("save contact %q: %w", id, err)
	}

	al.members[id] = struct{}{}
	al.logger.Info("contact allowed", "contact", id)
	return id, nil
}

// Remove deletes a contact. Returns false if it was not a member.
func (al *AllowList) Remove(contact string) (bool, error) {
	id := al.Normalize(contact)

	al.mu.Lock()
	defer al.mu.Unlock()

	if _, ok := al.members[id]; !ok {
		return false, nil
	}

	if _, err := al.db.Exec("DELETE FROM authorized_numbers WHERE contact_id = ?", id); err != nil {
		return false, fmt.Errorf("delete contact %q: %w", id, err)
	}

	delete(al.members, id)
	al.logger.Info("contact removed", "contact", id)
	return true, nil
}

// IsAllowed reports whether a contact (in any equivalent form) is a member.
func (al *AllowList) IsAllowed(contact string) bool {
	id := al.Normalize(contact)

	al.mu.RLock()
	defer al.mu.RUnlock()

	_, ok := al.members[id]
	return ok
}

// List returns all members, sorted for stable display.
func (al *AllowList) List() []string {
	al.mu.RLock()
	defer al.mu.RUnlock()

	out := make([]string, 0, len(al.members))
	for id := range al.members {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// Count returns the number of members.
func (al *AllowList) Count() int {
	al.mu.RLock()
	defer al.mu.RUnlock()
	return len(al.members)
}

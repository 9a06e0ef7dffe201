// Package relay – access.go implements the authorization gate for admin
// commands.
//
// Default policy: when no admins are configured the command surface is open
// (single-operator mode). As soon as one admin is listed, every command —
// mutating or read-only — requires the sender to be on the list; unknown
// senders get a uniform denial with no detail about what exists.
package relay

import (
	"log/slog"
	"sync"
)

// DeniedReply is the uniform response sent to unauthorized senders.
const DeniedReply = "You are not authorized to use this bot."

// Gate decides whether a sender may use the admin command surface.
type Gate struct {
	// admins holds normalized admin identifiers. Empty means open mode.
	admins map[string]struct{}

	// normalize canonicalizes identifiers the same way the contact
	// allow-list does, so config entries match live sender IDs.
	normalize func(string) string

	logger *slog.Logger
	mu     sync.RWMutex
}

// NewGate builds the gate from the configured admin list.
func NewGate(admins []string, normalize func(string) string, logger *slog.Logger) *Gate {
	if logger == nil {
		logger = slog.Default()
	}
	if normalize == nil {
		normalize = func(s string) string { return s }
	}

	g := &Gate{
		admins:    make(map[string]struct{}),
		normalize: normalize,
		logger:    logger.With("component", "access"),
	}

	for _, a := range admins {
		if id := normalize(a); id != "" {
			g.admins[id] = struct{}{}
		}
	}

	if len(g.admins) == 0 {
		g.logger.Warn("no admins configured, command surface is open")
	} else {
		g.logger.Info("authorization gate initialized", "admins", len(g.admins))
	}
	return g
}

// IsAdmin reports whether a sender may run admin commands.
func (g *Gate) IsAdmin(sender string) bool {
	g.mu.RLock()
	defer g.mu.RUnlock()

	if len(g.admins) == 0 {
		return true
	}

	_, ok := g.admins[g.normalize(sender)]
	return ok
}

// OpenMode reports whether the gate is running without an admin list.
func (g *Gate) OpenMode() bool {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.admins) == 0
}

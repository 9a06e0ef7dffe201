// Package rules implements the persistent trigger -> reply rule store and
// the matcher that decides which rule fires for an inbound message.
//
// The store owns its in-memory mirror: it is loaded once at construction and
// updated only after a durable write has been confirmed, so readers never
// observe a rule that is not on disk. Enumeration order is insertion order
// (rowid order), which is also the order the matcher walks in "first" mode.
package rules

import (
	"database/sql"
	"fmt"
	"log/slog"
	"strings"
	"sync"
)

// Rule is a single trigger -> reply mapping. The trigger is stored
// lower-cased; at most one reply exists per trigger (last write wins).
type Rule struct {
	Trigger string
	Reply   string
}

// Store is the durable rule store backed by the central SQLite database.
type Store struct {
	db     *sql.DB
	logger *slog.Logger

	// ordered mirror of the rules table. order[i] is the i-th inserted
	// trigger; index maps trigger -> position in order.
	order []Rule
	index map[string]int
	mu    sync.RWMutex
}

// NewStore creates a rule store and loads the existing rules from the
// database in insertion order.
func NewStore(db *sql.DB, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}

	s := &Store{
		db:     db,
		logger: logger.With("component", "rules"),
		index:  make(map[string]int),
	}

	rows, err := db.Query("SELECT trigger, reply FROM rules ORDER BY rowid")
	if err != nil {
		return nil, fmt.Errorf("load rules: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var r Rule
		if err := rows.Scan(&r.Trigger, &r.Reply); err != nil {
			return nil, fmt.Errorf("scan rule: %w", err)
		}
		s.index[r.Trigger] = len(s.order)
		s.order = append(s.order, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("load rules: %w", err)
	}

	s.logger.Info("rules loaded", "count", len(s.order))
	return s, nil
}

// Upsert writes or overwrites a rule. The trigger is normalized to
// lower-case; empty triggers are rejected here because they would match
// every inbound message. The mirror is updated only after the write commits.
func (s *Store) Upsert(trigger, reply string) error {
	trigger = strings.ToLower(strings.TrimSpace(trigger))
	if trigger == "" {
		return fmt.Errorf("trigger must not be empty")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	// ON CONFLICT UPDATE keeps the original rowid, so overwriting a rule
	// does not move it in the enumeration order.
	_, err := s.db.Exec(`
		INSERT INTO rules (trigger, reply) VALUES (?, ?)
		ON CONFLICT(trigger) DO UPDATE SET reply = excluded.reply`,
		trigger, reply,
	)
	if err != nil {
		return fmt.Errorf("save rule %q: %w", trigger, err)
	}

	if pos, ok := s.index[trigger]; ok {
		s.order[pos].Reply = reply
	} else {
		s.index[trigger] = len(s.order)
		s.order = append(s.order, Rule{Trigger: trigger, Reply: reply})
	}

	s.logger.Info("rule saved", "trigger", trigger)
	return nil
}

// Remove deletes a rule. Returns false if the trigger was not present.
func (s *Store) Remove(trigger string) (bool, error) {
	trigger = strings.ToLower(strings.TrimSpace(trigger))

	s.mu.Lock()
	defer s.mu.Unlock()

	pos, ok := s.index[trigger]
	if !ok {
		return false, nil
	}

	if _, err := s.db.Exec("DELETE FROM rules WHERE trigger = ?", trigger); err != nil {
		return false, fmt.Errorf("delete rule %q: %w", trigger, err)
	}

	s.order = append(s.order[:pos], s.order[pos+1:]...)
	delete(s.index, trigger)
	for i := pos; i < len(s.order); i++ {
		s.index[s.order[i].Trigger] = i
	}

	s.logger.Info("rule removed", "trigger", trigger)
	return true, nil
}

// Get returns the reply for a trigger. ok is false if the trigger is absent.
func (s *Store) Get(trigger string) (reply string, ok bool) {
	trigger = strings.ToLower(strings.TrimSpace(trigger))

	s.mu.RLock()
	defer s.mu.RUnlock()

	pos, ok := s.index[trigger]
	if !ok {
		return "", false
	}
	return s.order[pos].Reply, true
}

// List returns all rules in insertion order.
func (s *Store) List() []Rule {
	return s.Snapshot()
}

// Snapshot returns a consistent copy of the rule set in insertion order.
// The matcher works off one snapshot per inbound message so a concurrent
// edit can never mix an old trigger with a new reply.
func (s *Store) Snapshot() []Rule {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]Rule, len(s.order))
	copy(out, s.order)
	return out
}

// Count returns the number of stored rules.
func (s *Store) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.order)
}

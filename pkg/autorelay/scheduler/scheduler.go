// Package scheduler implements the recurring daily broadcast engine for
// autorelay. Uses robfig/cron for timer execution, with SQLite-based
// persistence for surviving restarts.
//
// Each schedule is one message sent to one contact at a fixed local
// wall-clock time every day. The schedule ID is derived from the contact
// and the time ("<contact>_HH:MM"), so creating a schedule for the same
// contact and time replaces the previous one instead of duplicating it.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
)

// ErrNotFound is returned by Cancel when no schedule exists for the key.
var ErrNotFound = errors.New("schedule not found")

// Schedule is one recurring daily send instruction.
type Schedule struct {
	// ID is the composite key: contact + "_" + HH:MM (zero-padded).
	ID string `json:"id"`

	// ContactID is the normalized destination number.
	ContactID string `json:"contact_id"`

	// Message is the text delivered on every fire.
	Message string `json:"message"`

	// Hour and Minute are local wall-clock time. The deployment's local
	// timezone is implicitly the schedule's timezone.
	Hour   int `json:"hour"`
	Minute int `json:"minute"`

	// CreatedAt is the creation timestamp.
	CreatedAt time.Time `json:"created_at"`
}

// ScheduleID builds the composite key for a contact and time of day.
func ScheduleID(contactID string, hour, minute int) string {
	return fmt.Sprintf("%s_%02d:%02d", contactID, hour, minute)
}

// SendFunc delivers a scheduled message. The context carries the per-send
// timeout; a failed send is logged and skipped, never retried within the
// same day.
type SendFunc func(ctx context.Context, contactID, message string) error

// ScheduleStorage defines the persistence interface for schedules.
type ScheduleStorage interface {
	Save(s *Schedule) error
	Delete(id string) error
	LoadAll() ([]*Schedule, error)
}

// Scheduler owns the durable schedule table and the registry of live cron
// entries. The durable record and the live timer are kept in lockstep:
// every mutation persists first, then swaps timers under the lock.
type Scheduler struct {
	// schedules mirrors the durable records, indexed by ID.
	schedules map[string]*Schedule

	// entries maps schedule IDs to their live cron entry. This registry is
	// private to the Scheduler; a record without an entry only exists
	// transiently inside Create/Cancel or before Start.
	entries map[string]cron.EntryID

	cron    *cron.Cron
	storage ScheduleStorage
	send    SendFunc

	// ready reports whether the outbound transport can deliver. Checked on
	// every fire; a not-ready transport skips the fire.
	ready func() bool

	// sendTimeout bounds each outbound send so a wedged transport cannot
	// stall the cron goroutine.
	sendTimeout time.Duration

	logger *slog.Logger
	mu     sync.RWMutex
	ctx    context.Context
	cancel context.CancelFunc
}

// New creates a Scheduler with the given storage and send function.
func New(storage ScheduleStorage, send SendFunc, logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}

	return &Scheduler{
		schedules:   make(map[string]*Schedule),
		entries:     make(map[string]cron.EntryID),
		storage:     storage,
		send:        send,
		ready:       func() bool { return true },
		sendTimeout: 30 * time.Second,
		logger:      logger.With("component", "scheduler"),
	}
}

// SetReadyCheck installs the transport readiness probe consulted before
// every fire.
func (s *Scheduler) SetReadyCheck(ready func() bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if ready != nil {
		s.ready = ready
	}
}

// SetSendTimeout overrides the per-send timeout.
func (s *Scheduler) SetSendTimeout(d time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if d > 0 {
		s.sendTimeout = d
	}
}

// Start initializes the cron runner and re-materializes every persisted
// schedule into a live entry (startup reconciliation). A record whose entry
// cannot be created is logged and skipped — one bad record must not block
// the rest.
func (s *Scheduler) Start(ctx context.Context) error {
	s.ctx, s.cancel = context.WithCancel(ctx)

	s.cron = cron.New(cron.WithParser(cron.NewParser(
		cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow,
	)))

	loaded, err := s.storage.LoadAll()
	if err != nil {
		return fmt.Errorf("load schedules: %w", err)
	}

	s.mu.Lock()
	var materialized int
	for _, sched := range loaded {
		if err := s.addEntry(sched); err != nil {
			s.logger.Error("skipping schedule with invalid record",
				"id", sched.ID, "hour", sched.Hour, "minute", sched.Minute, "error", err)
			continue
		}
		s.schedules[sched.ID] = sched
		materialized++
	}
	s.mu.Unlock()

	s.cron.Start()

	s.logger.Info("scheduler started",
		"records", len(loaded),
		"timers", materialized,
	)
	return nil
}

// Stop gracefully shuts down the scheduler. A fire already in progress is
// allowed to complete; no fire starts after Stop returns.
func (s *Scheduler) Stop() {
	if s.cron != nil {
		ctx := s.cron.Stop()
		select {
		case <-ctx.Done():
		case <-time.After(10 * time.Second):
			s.logger.Warn("scheduler stop timed out")
		}
	}
	if s.cancel != nil {
		s.cancel()
	}
	s.logger.Info("scheduler stopped")
}

// Create persists and activates a daily schedule, replacing any existing
// schedule for the same contact and time. The record is persisted before
// any timer is touched, so a failed write never leaves a timer running for
// an unpersisted schedule.
func (s *Scheduler) Create(contactID, message string, hour, minute int) (*Schedule, error) {
	if hour < 0 || hour > 23 {
		return nil, fmt.Errorf("hour %d out of range 0-23", hour)
	}
	if minute < 0 || minute > 59 {
		return nil, fmt.Errorf("minute %d out of range 0-59", minute)
	}
	if contactID == "" {
		return nil, fmt.Errorf("contact is required")
	}
	if message == "" {
		return nil, fmt.Errorf("message is required")
	}

	sched := &Schedule{
		ID:        ScheduleID(contactID, hour, minute),
		ContactID: contactID,
		Message:   message,
		Hour:      hour,
		Minute:    minute,
		CreatedAt: time.Now(),
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cron == nil {
		return nil, fmt.Errorf("scheduler not started")
	}

	if err := s.storage.Save(sched); err != nil {
		return nil, fmt.Errorf("save schedule %q: %w", sched.ID, err)
	}

	// Replace-not-duplicate: discard the old timer before starting the new
	// one so exactly one entry exists per ID at all times.
	if old, ok := s.entries[sched.ID]; ok {
		s.cron.Remove(old)
		delete(s.entries, sched.ID)
	}

	if err := s.addEntry(sched); err != nil {
		// Validated above, so this only fires on a cron-spec bug.
		return nil, fmt.Errorf("activate schedule %q: %w", sched.ID, err)
	}
	s.schedules[sched.ID] = sched

	s.logger.Info("schedule created",
		"id", sched.ID,
		"contact", sched.ContactID,
		"at", fmt.Sprintf("%02d:%02d", hour, minute),
	)
	return sched, nil
}

// Cancel removes the schedule for a contact and time: the durable record is
// deleted and the live timer discarded. Returns ErrNotFound if no such
// schedule exists.
func (s *Scheduler) Cancel(contactID string, hour, minute int) error {
	id := ScheduleID(contactID, hour, minute)

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.schedules[id]; !ok {
		return ErrNotFound
	}

	if err := s.storage.Delete(id); err != nil {
		return fmt.Errorf("delete schedule %q: %w", id, err)
	}

	if entry, ok := s.entries[id]; ok {
		s.cron.Remove(entry)
		delete(s.entries, id)
	}
	delete(s.schedules, id)

	s.logger.Info("schedule cancelled", "id", id)
	return nil
}

// List returns all schedules sorted by ID for stable display.
func (s *Scheduler) List() []*Schedule {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*Schedule, 0, len(s.schedules))
	for _, sched := range s.schedules {
		out = append(out, sched)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Count returns the number of active schedules.
func (s *Scheduler) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.schedules)
}

// LiveTimers returns the number of live cron entries. Always equal to
// Count() outside of a mutation in progress.
func (s *Scheduler) LiveTimers() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}

// ---------- Internal ----------

// addEntry registers a cron entry for a schedule (caller must hold mu).
func (s *Scheduler) addEntry(sched *Schedule) error {
	if sched.Hour < 0 || sched.Hour > 23 || sched.Minute < 0 || sched.Minute > 59 {
		return fmt.Errorf("time %d:%d out of range", sched.Hour, sched.Minute)
	}

	spec := fmt.Sprintf("%d %d * * *", sched.Minute, sched.Hour)
	id := sched.ID
	entryID, err := s.cron.AddFunc(spec, func() {
		s.fire(id)
	})
	if err != nil {
		return err
	}

	s.entries[sched.ID] = entryID
	return nil
}

// fire delivers one scheduled message. Transport failures are logged and
// skipped; the schedule simply waits for the next day's trigger.
func (s *Scheduler) fire(id string) {
	s.mu.RLock()
	sched, ok := s.schedules[id]
	ready := s.ready
	timeout := s.sendTimeout
	s.mu.RUnlock()

	if !ok {
		// Cancelled between the trigger and this callback.
		return
	}

	if !ready() {
		s.logger.Warn("skipping fire, transport not ready",
			"id", sched.ID, "contact", sched.ContactID)
		return
	}

	ctx, cancel := context.WithTimeout(s.ctx, timeout)
	defer cancel()

	if err := s.send(ctx, sched.ContactID, sched.Message); err != nil {
		s.logger.Error("scheduled send failed",
			"id", sched.ID, "contact", sched.ContactID, "error", err)
		return
	}

	s.logger.Info("scheduled message sent",
		"id", sched.ID, "contact", sched.ContactID)
}

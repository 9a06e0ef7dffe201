package scheduler

import (
	"database/sql"
	"fmt"
	"time"
)

// SQLiteStorage persists schedules in the shared autorelay database.
type SQLiteStorage struct {
	db *sql.DB
}

// NewSQLiteStorage wraps the shared database handle. The schedules table is
// created by the storage package alongside the rest of the schema.
func NewSQLiteStorage(db *sql.DB) *SQLiteStorage {
	return &SQLiteStorage{db: db}
}

// Save inserts or replaces a schedule record.
func (s *SQLiteStorage) Save(sched *Schedule) error {
	_, err := s.db.Exec(`
		INSERT INTO schedules (id, contact_id, message, hour, minute, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			contact_id = excluded.contact_id,
			message    = excluded.message,
			hour       = excluded.hour,
			minute     = excluded.minute,
			created_at = excluded.created_at`,
		sched.ID, sched.ContactID, sched.Message,
		sched.Hour, sched.Minute,
		sched.CreatedAt.UTC().Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("save schedule %q: %w", sched.ID, err)
	}
	return nil
}

// Delete removes a schedule record by ID.
func (s *SQLiteStorage) Delete(id string) error {
	if _, err := s.db.Exec("DELETE FROM schedules WHERE id = ?", id); err != nil {
		return fmt.Errorf("delete schedule %q: %w", id, err)
	}
	return nil
}

// LoadAll returns every persisted schedule, ordered by ID.
func (s *SQLiteStorage) LoadAll() ([]*Schedule, error) {
	rows, err := s.db.Query(`
		SELECT id, contact_id, message, hour, minute, created_at
		FROM schedules ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("load schedules: %w", err)
	}
	defer rows.Close()

	var out []*Schedule
	for rows.Next() {
		var sched Schedule
		var createdAt string
		if err := rows.Scan(&sched.ID, &sched.ContactID, &sched.Message,
			&sched.Hour, &sched.Minute, &createdAt); err != nil {
			return nil, fmt.Errorf("scan schedule: %w", err)
		}
		if t, err := time.Parse(time.RFC3339, createdAt); err == nil {
			sched.CreatedAt = t
		}
		out = append(out, &sched)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("load schedules: %w", err)
	}
	return out, nil
}

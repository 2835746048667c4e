package store

import (
	"fmt"
	"time"
)

// LogEntry is one persisted LogBroadcast from the shared logs topic.
type LogEntry struct {
	ID        int64     `json:"id"`
	Level     string    `json:"level"`
	Component string    `json:"component"`
	Message   string    `json:"message"`
	CreatedAt time.Time `json:"created_at"`
}

func (s *Store) SaveLogEntry(e *LogEntry) error {
	res, err := s.db.Exec(`
		INSERT INTO log_entries (level, component, message)
		VALUES (?, ?, ?)`,
		e.Level, e.Component, e.Message)
	if err != nil {
		return fmt.Errorf("save log entry: %w", err)
	}
	if id, err := res.LastInsertId(); err == nil {
		e.ID = id
	}
	return nil
}

func (s *Store) ListLogEntries(limit int) ([]LogEntry, error) {
	rows, err := s.db.Query(`
		SELECT id, level, component, message, created_at
		FROM log_entries ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("list log entries: %w", err)
	}
	defer rows.Close()

	var entries []LogEntry
	for rows.Next() {
		var e LogEntry
		if err := rows.Scan(&e.ID, &e.Level, &e.Component, &e.Message, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan log entry: %w", err)
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

package store

import (
	"database/sql"
	"fmt"
	"time"
)

// ResearchSchedule is a recurring (or one-shot) research submission. The
// schedule expression is either a cron expression, "every <duration>" or
// "once <RFC3339 time>"; parsing lives in the schedule package.
type ResearchSchedule struct {
	ID         string     `json:"id"`
	Name       string     `json:"name"`
	Schedule   string     `json:"schedule"`
	Query      string     `json:"query"`
	Status     string     `json:"status"`
	NextRunAt  *time.Time `json:"next_run_at,omitempty"`
	LastRunAt  *time.Time `json:"last_run_at,omitempty"`
	LastStatus string     `json:"last_status,omitempty"`
	LastError  string     `json:"last_error,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
}

const (
	ScheduleStatusActive   = "active"
	ScheduleStatusPaused   = "paused"
	ScheduleStatusFinished = "finished"
)

func scanSchedule(scanner interface {
	Scan(dest ...any) error
}) (*ResearchSchedule, error) {
	sc := &ResearchSchedule{}
	var lastStatus, lastError sql.NullString
	err := scanner.Scan(&sc.ID, &sc.Name, &sc.Schedule, &sc.Query, &sc.Status,
		&sc.NextRunAt, &sc.LastRunAt, &lastStatus, &lastError, &sc.CreatedAt)
	if err != nil {
		return nil, err
	}
	sc.LastStatus = lastStatus.String
	sc.LastError = lastError.String
	return sc, nil
}

func (s *Store) SaveSchedule(sc *ResearchSchedule) error {
	_, err := s.db.Exec(`
		INSERT INTO research_schedules (id, name, schedule, query, status, next_run_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			schedule = excluded.schedule,
			query = excluded.query,
			status = excluded.status,
			next_run_at = excluded.next_run_at`,
		sc.ID, sc.Name, sc.Schedule, sc.Query, sc.Status, sc.NextRunAt)
	if err != nil {
		return fmt.Errorf("save schedule: %w", err)
	}
	return nil
}

func (s *Store) GetSchedule(id string) (*ResearchSchedule, error) {
	row := s.db.QueryRow(`
		SELECT id, name, schedule, query, status, next_run_at, last_run_at,
		       last_status, last_error, created_at
		FROM research_schedules WHERE id = ?`, id)
	sc, err := scanSchedule(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get schedule: %w", err)
	}
	return sc, nil
}

func (s *Store) ListSchedules() ([]ResearchSchedule, error) {
	rows, err := s.db.Query(`
		SELECT id, name, schedule, query, status, next_run_at, last_run_at,
		       last_status, last_error, created_at
		FROM research_schedules ORDER BY created_at`)
	if err != nil {
		return nil, fmt.Errorf("list schedules: %w", err)
	}
	defer rows.Close()

	var schedules []ResearchSchedule
	for rows.Next() {
		sc, err := scanSchedule(rows)
		if err != nil {
			return nil, fmt.Errorf("scan schedule: %w", err)
		}
		schedules = append(schedules, *sc)
	}
	return schedules, rows.Err()
}

// GetDueSchedules returns active schedules whose next_run_at is at or
// before now.
func (s *Store) GetDueSchedules(now time.Time) ([]ResearchSchedule, error) {
	rows, err := s.db.Query(`
		SELECT id, name, schedule, query, status, next_run_at, last_run_at,
		       last_status, last_error, created_at
		FROM research_schedules
		WHERE status = ? AND next_run_at IS NOT NULL AND next_run_at <= ?
		ORDER BY next_run_at`, ScheduleStatusActive, now)
	if err != nil {
		return nil, fmt.Errorf("get due schedules: %w", err)
	}
	defer rows.Close()

	var due []ResearchSchedule
	for rows.Next() {
		sc, err := scanSchedule(rows)
		if err != nil {
			return nil, fmt.Errorf("scan schedule: %w", err)
		}
		due = append(due, *sc)
	}
	return due, rows.Err()
}

// UpdateScheduleRun records the outcome of one firing and advances
// next_run_at. A nil nextRun marks the schedule finished (one-shot).
func (s *Store) UpdateScheduleRun(id string, ranAt time.Time, nextRun *time.Time, lastStatus, lastError string) error {
	status := ScheduleStatusActive
	if nextRun == nil {
		status = ScheduleStatusFinished
	}
	_, err := s.db.Exec(`
		UPDATE research_schedules
		SET last_run_at = ?, next_run_at = ?, last_status = ?, last_error = ?, status = ?
		WHERE id = ?`,
		ranAt, nextRun, lastStatus, lastError, status, id)
	if err != nil {
		return fmt.Errorf("update schedule run: %w", err)
	}
	return nil
}

func (s *Store) UpdateScheduleStatus(id, status string) error {
	res, err := s.db.Exec(`UPDATE research_schedules SET status = ? WHERE id = ?`, status, id)
	if err != nil {
		return fmt.Errorf("update schedule status: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("schedule %s not found", id)
	}
	return nil
}

func (s *Store) DeleteSchedule(id string) error {
	res, err := s.db.Exec(`DELETE FROM research_schedules WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete schedule: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("schedule %s not found", id)
	}
	return nil
}

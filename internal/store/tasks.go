package store

import (
	"database/sql"
	"fmt"
	"time"
)

// Task is the durable record of one research job. Live state is owned by
// the orchestrator; rows here are written on creation and on every stage
// change, and kept after terminal stages (archived, never deleted).
type Task struct {
	ID          string     `json:"id"`
	Query       string     `json:"query"`
	Stage       string     `json:"stage"`
	FailReason  string     `json:"fail_reason,omitempty"`
	ReportPath  string     `json:"report_path,omitempty"`
	WordCount   int        `json:"word_count,omitempty"`
	Sources     int        `json:"sources,omitempty"`
	StatusLog   string     `json:"status_log,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

func scanStoredTask(scanner interface {
	Scan(dest ...any) error
}) (*Task, error) {
	t := &Task{}
	var failReason, reportPath, statusLog *string
	err := scanner.Scan(&t.ID, &t.Query, &t.Stage, &failReason, &reportPath,
		&t.WordCount, &t.Sources, &statusLog, &t.CreatedAt, &t.UpdatedAt, &t.CompletedAt)
	if err != nil {
		return nil, err
	}
	if failReason != nil {
		t.FailReason = *failReason
	}
	if reportPath != nil {
		t.ReportPath = *reportPath
	}
	if statusLog != nil {
		t.StatusLog = *statusLog
	}
	return t, nil
}

func (s *Store) SaveTask(t *Task) error {
	_, err := s.db.Exec(`
		INSERT INTO tasks (id, query, stage, fail_reason, report_path, word_count, sources, status_log, completed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			stage = excluded.stage,
			fail_reason = excluded.fail_reason,
			report_path = excluded.report_path,
			word_count = excluded.word_count,
			sources = excluded.sources,
			status_log = excluded.status_log,
			completed_at = excluded.completed_at,
			updated_at = CURRENT_TIMESTAMP`,
		t.ID, t.Query, t.Stage, t.FailReason, t.ReportPath, t.WordCount,
		t.Sources, t.StatusLog, t.CompletedAt)
	if err != nil {
		return fmt.Errorf("save task: %w", err)
	}
	return nil
}

func (s *Store) GetTask(id string) (*Task, error) {
	row := s.db.QueryRow(`
		SELECT id, query, stage, fail_reason, report_path, word_count, sources,
		       status_log, created_at, updated_at, completed_at
		FROM tasks WHERE id = ?`, id)
	t, err := scanStoredTask(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get task: %w", err)
	}
	return t, nil
}

func (s *Store) ListTasks(limit int) ([]Task, error) {
	rows, err := s.db.Query(`
		SELECT id, query, stage, fail_reason, report_path, word_count, sources,
		       status_log, created_at, updated_at, completed_at
		FROM tasks ORDER BY created_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("list tasks: %w", err)
	}
	defer rows.Close()

	var tasks []Task
	for rows.Next() {
		t, err := scanStoredTask(rows)
		if err != nil {
			return nil, fmt.Errorf("scan task: %w", err)
		}
		tasks = append(tasks, *t)
	}
	return tasks, rows.Err()
}

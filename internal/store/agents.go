package store

import (
	"database/sql"
	"fmt"
	"strings"
	"time"
)

// Agent is a registered swarm member: its ID and the queue/topic bindings
// it owns. Registrations are static for the process lifetime, synced at
// startup by the registry.
type Agent struct {
	ID          string    `json:"id"`
	Description string    `json:"description,omitempty"`
	Queue       string    `json:"queue"`
	Topics      string    `json:"topics,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

func (s *Store) SaveAgent(a *Agent) error {
	_, err := s.db.Exec(`
		INSERT INTO agents (id, description, queue, topics)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			description = excluded.description,
			queue = excluded.queue,
			topics = excluded.topics`,
		a.ID, a.Description, a.Queue, a.Topics)
	if err != nil {
		return fmt.Errorf("save agent: %w", err)
	}
	return nil
}

func (s *Store) GetAgent(id string) (*Agent, error) {
	row := s.db.QueryRow(`
		SELECT id, description, queue, topics, created_at
		FROM agents WHERE id = ?`, id)
	a := &Agent{}
	var desc, topics sql.NullString
	err := row.Scan(&a.ID, &desc, &a.Queue, &topics, &a.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get agent: %w", err)
	}
	a.Description = desc.String
	a.Topics = topics.String
	return a, nil
}

func (s *Store) ListAgents() ([]Agent, error) {
	rows, err := s.db.Query(`
		SELECT id, description, queue, topics, created_at
		FROM agents ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("list agents: %w", err)
	}
	defer rows.Close()

	var agents []Agent
	for rows.Next() {
		a := Agent{}
		var desc, topics sql.NullString
		if err := rows.Scan(&a.ID, &desc, &a.Queue, &topics, &a.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan agent: %w", err)
		}
		a.Description = desc.String
		a.Topics = topics.String
		agents = append(agents, a)
	}
	return agents, rows.Err()
}

func (s *Store) DeleteAgentsNotIn(ids []string) error {
	if len(ids) == 0 {
		_, err := s.db.Exec(`DELETE FROM agents`)
		return err
	}

	placeholders := strings.Repeat("?,", len(ids))
	placeholders = placeholders[:len(placeholders)-1]
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}

	_, err := s.db.Exec(`DELETE FROM agents WHERE id NOT IN (`+placeholders+`)`, args...)
	if err != nil {
		return fmt.Errorf("delete stale agents: %w", err)
	}
	return nil
}

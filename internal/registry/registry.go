package registry

import (
	"fmt"
	"strings"

	"github.com/mtzanidakis/synapse/internal/acp"
	"github.com/mtzanidakis/synapse/internal/natsbus"
	"github.com/mtzanidakis/synapse/internal/store"
)

// Definition describes one swarm member: its well-known ID, the task
// types it accepts and the topics it subscribes to beyond its own queue.
type Definition struct {
	ID          string
	Description string
	TaskTypes   []string
	Topics      []string
}

// Definitions is the static roster of the research swarm. Agent IDs are
// well-known: senders address work by ID without discovery.
func Definitions() []Definition {
	return []Definition{
		{
			ID:          acp.AgentOrchestrator,
			Description: "owns task state, fans work out and joins results",
			TaskTypes:   []string{acp.TaskResearch},
		},
		{
			ID:          acp.AgentSearch,
			Description: "queries the paper search API",
			TaskTypes:   []string{acp.TaskWebSearch},
		},
		{
			ID:          acp.AgentExtraction,
			Description: "fetches and extracts source content",
			TaskTypes:   []string{acp.TaskExtract},
		},
		{
			ID:          acp.AgentFactChecker,
			Description: "verifies extracted content against the query",
			TaskTypes:   []string{acp.TaskFactCheck},
		},
		{
			ID:          acp.AgentSynthesis,
			Description: "composes the final research report",
			TaskTypes:   []string{acp.TaskSynthesize},
		},
		{
			ID:          acp.AgentFileSave,
			Description: "persists finished reports to disk",
			TaskTypes:   []string{acp.TaskSaveReport},
		},
		{
			ID:          acp.AgentLogger,
			Description: "archives broadcast log messages",
			Topics:      []string{acp.TopicLogs},
		},
	}
}

type Registry struct {
	store *store.Store
	defs  []Definition
}

func New(s *store.Store) *Registry {
	return &Registry{store: s, defs: Definitions()}
}

// Sync writes the static roster to the store and removes registrations
// for agents no longer defined.
func (r *Registry) Sync() error {
	ids := make([]string, 0, len(r.defs))
	for _, def := range r.defs {
		ids = append(ids, def.ID)

		a := &store.Agent{
			ID:          def.ID,
			Description: def.Description,
			Queue:       natsbus.SubjectAgent(def.ID),
			Topics:      strings.Join(def.Topics, ","),
		}
		if err := r.store.SaveAgent(a); err != nil {
			return fmt.Errorf("save agent %s: %w", def.ID, err)
		}
	}

	if err := r.store.DeleteAgentsNotIn(ids); err != nil {
		return fmt.Errorf("delete stale agents: %w", err)
	}
	return nil
}

func (r *Registry) Get(id string) (*store.Agent, error) {
	return r.store.GetAgent(id)
}

func (r *Registry) List() ([]store.Agent, error) {
	return r.store.ListAgents()
}

func (r *Registry) GetDefinition(id string) (Definition, bool) {
	for _, def := range r.defs {
		if def.ID == id {
			return def, true
		}
	}
	return Definition{}, false
}

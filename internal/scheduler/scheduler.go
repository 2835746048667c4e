package scheduler

import (
	"context"
	"log/slog"
	"time"

	"github.com/mtzanidakis/synapse/internal/config"
	"github.com/mtzanidakis/synapse/internal/schedule"
	"github.com/mtzanidakis/synapse/internal/store"
)

// Submitter starts a research task for a query and returns its ID. The
// orchestrator satisfies this.
type Submitter interface {
	Submit(query string) (string, error)
}

// Scheduler polls the store for due research schedules and submits them.
type Scheduler struct {
	store        *store.Store
	submitter    Submitter
	pollInterval time.Duration
	reloadCh     chan struct{}
}

func New(s *store.Store, submitter Submitter, cfg config.SchedulerConfig) *Scheduler {
	return &Scheduler{
		store:        s,
		submitter:    submitter,
		pollInterval: cfg.PollInterval,
		reloadCh:     make(chan struct{}, 1),
	}
}

// Reload wakes the loop so schedule changes take effect ahead of the
// next tick. Safe to call from any goroutine; a pending wake coalesces.
func (s *Scheduler) Reload() {
	select {
	case s.reloadCh <- struct{}{}:
	default:
	}
}

func (s *Scheduler) Start(ctx context.Context) {
	if s.pollInterval == 0 {
		s.pollInterval = 30 * time.Second
	}

	ticker := time.NewTicker(s.pollInterval)
	defer ticker.Stop()

	slog.Info("scheduler started", "poll_interval", s.pollInterval)

	for {
		select {
		case <-ctx.Done():
			slog.Info("scheduler stopped")
			return
		case <-s.reloadCh:
			s.poll()
			ticker.Reset(s.pollInterval)
		case <-ticker.C:
			s.poll()
		}
	}
}

func (s *Scheduler) poll() {
	due, err := s.store.GetDueSchedules(time.Now())
	if err != nil {
		slog.Error("failed to get due schedules", "error", err)
		return
	}

	for _, sc := range due {
		s.fire(sc)
	}
}

func (s *Scheduler) fire(sc store.ResearchSchedule) {
	slog.Info("firing research schedule", "id", sc.ID, "name", sc.Name, "query", sc.Query)

	now := time.Now()
	taskID, err := s.submitter.Submit(sc.Query)

	var lastStatus, lastError string
	if err != nil {
		lastStatus = "error"
		lastError = err.Error()
		slog.Error("schedule submission failed", "id", sc.ID, "error", err)
	} else {
		lastStatus = "submitted"
		slog.Info("schedule submitted research task", "id", sc.ID, "task_id", taskID)
	}

	nextRun := schedule.NextRun(sc.Schedule, now)
	if err := s.store.UpdateScheduleRun(sc.ID, now, nextRun, lastStatus, lastError); err != nil {
		slog.Error("failed to update schedule run", "id", sc.ID, "error", err)
	}
	if nextRun == nil {
		slog.Info("schedule has no next run, finished", "id", sc.ID, "name", sc.Name)
	}
}

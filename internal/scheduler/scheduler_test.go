package scheduler

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/mtzanidakis/synapse/internal/config"
	"github.com/mtzanidakis/synapse/internal/store"
)

type fakeSubmitter struct {
	mu      sync.Mutex
	queries []string
}

func (f *fakeSubmitter) Submit(query string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.queries = append(f.queries, query)
	return "task-1", nil
}

func newTestStore(t *testing.T) *store.Store {
	t.Helper()
	s, err := store.New(config.StoreConfig{Path: filepath.Join(t.TempDir(), "test.db")})
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestPollFiresDueSchedule(t *testing.T) {
	s := newTestStore(t)
	sub := &fakeSubmitter{}

	past := time.Now().Add(-time.Minute)
	sc := &store.ResearchSchedule{
		ID:        "s1",
		Name:      "hourly",
		Schedule:  "every 1h",
		Query:     "graph neural networks",
		Status:    store.ScheduleStatusActive,
		NextRunAt: &past,
	}
	if err := s.SaveSchedule(sc); err != nil {
		t.Fatalf("save schedule: %v", err)
	}

	sched := New(s, sub, config.SchedulerConfig{PollInterval: time.Hour})
	sched.poll()

	sub.mu.Lock()
	defer sub.mu.Unlock()
	if len(sub.queries) != 1 || sub.queries[0] != "graph neural networks" {
		t.Errorf("unexpected submissions: %v", sub.queries)
	}

	got, err := s.GetSchedule("s1")
	if err != nil {
		t.Fatalf("get schedule: %v", err)
	}
	if got.LastStatus != "submitted" {
		t.Errorf("expected last_status submitted, got %q", got.LastStatus)
	}
	if got.NextRunAt == nil || !got.NextRunAt.After(time.Now()) {
		t.Errorf("expected next run in the future, got %v", got.NextRunAt)
	}
}

func TestReloadFiresDueScheduleAheadOfTick(t *testing.T) {
	s := newTestStore(t)
	sub := &fakeSubmitter{}

	past := time.Now().Add(-time.Minute)
	sc := &store.ResearchSchedule{
		ID:        "s1",
		Name:      "weekly",
		Schedule:  "every 168h",
		Query:     "federated learning",
		Status:    store.ScheduleStatusActive,
		NextRunAt: &past,
	}
	if err := s.SaveSchedule(sc); err != nil {
		t.Fatalf("save schedule: %v", err)
	}

	// The poll interval is far out; only the reload wake can fire this.
	sched := New(s, sub, config.SchedulerConfig{PollInterval: time.Hour})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go sched.Start(ctx)

	sched.Reload()

	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		sub.mu.Lock()
		fired := len(sub.queries)
		sub.mu.Unlock()
		if fired == 1 {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("reload never fired the due schedule")
}

func TestOneShotScheduleFinishesAfterFiring(t *testing.T) {
	s := newTestStore(t)
	sub := &fakeSubmitter{}

	past := time.Now().Add(-time.Minute)
	sc := &store.ResearchSchedule{
		ID:        "s1",
		Name:      "once",
		Schedule:  "once 2020-01-01T00:00:00Z",
		Query:     "one shot",
		Status:    store.ScheduleStatusActive,
		NextRunAt: &past,
	}
	if err := s.SaveSchedule(sc); err != nil {
		t.Fatalf("save schedule: %v", err)
	}

	sched := New(s, sub, config.SchedulerConfig{PollInterval: time.Hour})
	sched.poll()
	sched.poll()

	sub.mu.Lock()
	defer sub.mu.Unlock()
	if len(sub.queries) != 1 {
		t.Errorf("one-shot schedule fired %d times", len(sub.queries))
	}

	got, err := s.GetSchedule("s1")
	if err != nil {
		t.Fatalf("get schedule: %v", err)
	}
	if got.Status != store.ScheduleStatusFinished {
		t.Errorf("expected finished, got %q", got.Status)
	}
}

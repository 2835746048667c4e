package orchestrator

import (
	"encoding/json"
	"time"

	"github.com/mtzanidakis/synapse/internal/acp"
)

type Stage string

const (
	StageCreated      Stage = "created"
	StageSearching    Stage = "searching"
	StageExtracting   Stage = "extracting"
	StageFactChecking Stage = "fact_checking"
	StageSynthesizing Stage = "synthesizing"
	StageSaving       Stage = "saving"
	StageCompleted    Stage = "completed"
	StageFailed       Stage = "failed"
)

func (s Stage) Terminal() bool {
	return s == StageCompleted || s == StageFailed
}

// StatusEntry is one recorded StatusUpdate. Entries never drive stage
// transitions; they are the task's observable history.
type StatusEntry struct {
	Agent    string    `json:"agent"`
	Status   string    `json:"status"`
	Progress *float64  `json:"progress,omitempty"`
	At       time.Time `json:"at"`
}

// task is the live state of one research job. All fields are owned by
// the orchestrator's dispatch loop; reads from other goroutines go
// through Snapshot.
type task struct {
	ID          string
	Query       string
	Stage       Stage
	FailReason  string
	StatusLog   []StatusEntry
	CreatedAt   time.Time
	UpdatedAt   time.Time
	CompletedAt *time.Time

	// Join bookkeeping for the fan-out stages.
	expected  int
	results   []acp.SearchResult
	extracted []acp.ExtractedContent
	verified  []acp.VerifiedContent
	report    acp.SynthesisReport
	reportPath string

	seenMsgs    map[string]bool
	seenSubmits map[string]bool
	timer       *time.Timer
}

func newTask(id, query string) *task {
	now := time.Now().UTC()
	return &task{
		ID:          id,
		Query:       query,
		Stage:       StageCreated,
		CreatedAt:   now,
		UpdatedAt:   now,
		seenMsgs:    make(map[string]bool),
		seenSubmits: make(map[string]bool),
	}
}

func (t *task) stopTimer() {
	if t.timer != nil {
		t.timer.Stop()
		t.timer = nil
	}
}

// View is the read-only snapshot exposed over the API.
type View struct {
	ID          string        `json:"id"`
	Query       string        `json:"query"`
	Stage       Stage         `json:"stage"`
	FailReason  string        `json:"fail_reason,omitempty"`
	ReportPath  string        `json:"report_path,omitempty"`
	WordCount   int           `json:"word_count,omitempty"`
	Sources     int           `json:"sources,omitempty"`
	StatusLog   []StatusEntry `json:"status_log,omitempty"`
	CreatedAt   time.Time     `json:"created_at"`
	UpdatedAt   time.Time     `json:"updated_at"`
	CompletedAt *time.Time    `json:"completed_at,omitempty"`
}

func (t *task) view() View {
	log := make([]StatusEntry, len(t.StatusLog))
	copy(log, t.StatusLog)
	return View{
		ID:          t.ID,
		Query:       t.Query,
		Stage:       t.Stage,
		FailReason:  t.FailReason,
		ReportPath:  t.reportPath,
		WordCount:   t.report.WordCount,
		Sources:     len(t.results),
		StatusLog:   log,
		CreatedAt:   t.CreatedAt,
		UpdatedAt:   t.UpdatedAt,
		CompletedAt: t.CompletedAt,
	}
}

func (t *task) statusLogJSON() string {
	if len(t.StatusLog) == 0 {
		return ""
	}
	data, err := json.Marshal(t.StatusLog)
	if err != nil {
		return ""
	}
	return string(data)
}

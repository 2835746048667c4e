// Package orchestrator owns the research task table and drives each task
// through the pipeline stages. It is itself an agent on the bus: task
// creation, worker results and stage timeouts all arrive as messages on
// its own queue, so the task table has a single writer.
package orchestrator

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/mtzanidakis/synapse/internal/acp"
	"github.com/mtzanidakis/synapse/internal/config"
	"github.com/mtzanidakis/synapse/internal/natsbus"
	"github.com/mtzanidakis/synapse/internal/runtime"
	"github.com/mtzanidakis/synapse/internal/store"
)

// maxRecent bounds the in-memory window of terminal tasks. Older ones
// live only in the store.
const maxRecent = 128

type Orchestrator struct {
	agent  *runtime.Agent
	store  *store.Store
	cfg    config.PipelineConfig
	events *natsbus.Client
	bus    *natsbus.Bus

	mu       sync.RWMutex
	tasks    map[string]*task
	terminal []string
}

func New(bus *natsbus.Bus, st *store.Store, cfg config.PipelineConfig) *Orchestrator {
	return &Orchestrator{
		agent: runtime.New(acp.AgentOrchestrator, bus),
		store: st,
		cfg:   cfg,
		bus:   bus,
		tasks: make(map[string]*task),
	}
}

func (o *Orchestrator) Start(ctx context.Context) error {
	events, err := natsbus.NewClient(o.bus)
	if err != nil {
		return fmt.Errorf("orchestrator events client: %w", err)
	}
	o.events = events

	if err := o.agent.Start(ctx, runtime.HandlerFunc(o.handleMessage)); err != nil {
		o.events.Close()
		return err
	}
	return nil
}

func (o *Orchestrator) Stop() {
	o.agent.Stop()

	o.mu.Lock()
	for _, t := range o.tasks {
		t.stopTimer()
	}
	o.mu.Unlock()

	if o.events != nil {
		o.events.Close()
	}
}

func (o *Orchestrator) AgentStatus() runtime.Status {
	return o.agent.Status()
}

// Submit starts a new research task and returns its ID. The task is
// created by a message to the orchestrator's own queue so that the
// dispatch loop remains the only writer of the task table.
func (o *Orchestrator) Submit(query string) (string, error) {
	id := uuid.New().String()
	if err := o.SubmitAs(id, query); err != nil {
		return "", err
	}
	return id, nil
}

// SubmitAs starts a research task under a caller-chosen ID. Resubmitting
// an existing ID is a no-op on arrival.
func (o *Orchestrator) SubmitAs(taskID, query string) error {
	if taskID == "" || query == "" {
		return fmt.Errorf("task id and query required")
	}
	msg, err := acp.NewTaskAssign(acp.AgentOrchestrator, acp.TaskResearch, acp.ResearchTask{
		TaskID: taskID,
		Query:  query,
	})
	if err != nil {
		return err
	}
	return o.agent.Send(&msg)
}

// Cancel broadcasts a Cancel for the task on the control topic. Every
// agent records it; the orchestrator's own copy fails the task.
func (o *Orchestrator) Cancel(taskID, reason string) error {
	msg, err := acp.NewCancel(taskID, reason)
	if err != nil {
		return err
	}
	return o.agent.Send(&msg)
}

// Snapshot returns the live view of a task, if it is in the recent window.
func (o *Orchestrator) Snapshot(taskID string) (View, bool) {
	o.mu.RLock()
	defer o.mu.RUnlock()
	t, ok := o.tasks[taskID]
	if !ok {
		return View{}, false
	}
	return t.view(), true
}

// Tasks returns views of every task in the recent window.
func (o *Orchestrator) Tasks() []View {
	o.mu.RLock()
	defer o.mu.RUnlock()
	views := make([]View, 0, len(o.tasks))
	for _, t := range o.tasks {
		views = append(views, t.view())
	}
	return views
}

func (o *Orchestrator) handleMessage(ctx context.Context, msg *acp.Message) error {
	payload, err := msg.DecodePayload()
	if err != nil {
		return err
	}

	o.mu.Lock()
	defer o.mu.Unlock()

	switch p := payload.(type) {
	case *acp.TaskAssignPayload:
		return o.handleAssign(p)
	case *acp.StatusUpdatePayload:
		o.handleStatus(msg.Sender, p)
	case *acp.DataSubmitPayload:
		return o.handleData(msg.ID, p)
	case *acp.CancelPayload:
		o.handleCancel(p)
	}
	return nil
}

func (o *Orchestrator) handleAssign(p *acp.TaskAssignPayload) error {
	if p.TaskType != acp.TaskResearch {
		slog.Warn("orchestrator ignoring unexpected task type", "task_type", p.TaskType)
		return nil
	}

	var rt acp.ResearchTask
	if err := p.Bind(&rt); err != nil {
		return err
	}

	if _, ok := o.tasks[rt.TaskID]; ok {
		slog.Info("duplicate research submission ignored", "task_id", rt.TaskID)
		return nil
	}
	if existing, err := o.store.GetTask(rt.TaskID); err == nil && existing != nil {
		slog.Info("research submission matches archived task, ignored", "task_id", rt.TaskID)
		return nil
	}

	t := newTask(rt.TaskID, rt.Query)
	o.tasks[t.ID] = t
	o.persist(t)
	o.publishEvent(t, "task_created")
	slog.Info("research task created", "task_id", t.ID, "query", t.Query)

	// Straight into search: there is no user-visible action between
	// creation and the first fan-out.
	search, err := acp.NewTaskAssign(acp.AgentSearch, acp.TaskWebSearch, acp.SearchTask{
		TaskID: t.ID,
		Query:  t.Query,
	})
	if err != nil {
		return err
	}
	if err := o.agent.Send(&search); err != nil {
		o.fail(t, fmt.Sprintf("dispatch search: %v", err), false)
		return nil
	}
	o.setStage(t, StageSearching, o.cfg.SearchTimeout)
	return nil
}

func (o *Orchestrator) handleStatus(sender string, p *acp.StatusUpdatePayload) {
	if p.TaskID == "" {
		slog.Debug("status update without task id", "sender", sender, "status", p.Status)
		return
	}
	t, ok := o.tasks[p.TaskID]
	if !ok {
		slog.Warn("status update for unknown task", "task_id", p.TaskID, "status", p.Status)
		return
	}
	if t.Stage.Terminal() {
		slog.Debug("status update for terminal task ignored", "task_id", t.ID, "status", p.Status)
		return
	}

	t.StatusLog = append(t.StatusLog, StatusEntry{
		Agent:    sender,
		Status:   p.Status,
		Progress: p.Progress,
		At:       time.Now().UTC(),
	})
	t.UpdatedAt = time.Now().UTC()

	if p.Failed {
		o.fail(t, p.Status, true)
		return
	}
	o.persist(t)
}

func (o *Orchestrator) handleData(msgID string, p *acp.DataSubmitPayload) error {
	t, ok := o.tasks[p.TaskID]
	if !ok {
		slog.Warn("data submit for unknown task", "task_id", p.TaskID, "data_type", p.DataType)
		return nil
	}
	if t.Stage.Terminal() {
		slog.Info("late data submit for terminal task ignored",
			"task_id", t.ID, "data_type", p.DataType, "source", p.Source)
		return nil
	}

	// At-least-once delivery: drop exact redeliveries and any second
	// submission of the same (data_type, source) unit.
	if t.seenMsgs[msgID] {
		slog.Debug("redelivered data submit ignored", "task_id", t.ID, "message_id", msgID)
		return nil
	}
	t.seenMsgs[msgID] = true

	unit := p.DataType + "|" + p.Source
	if t.seenSubmits[unit] {
		slog.Debug("duplicate data submit unit ignored", "task_id", t.ID, "unit", unit)
		return nil
	}
	t.seenSubmits[unit] = true

	switch p.DataType {
	case acp.DataSearchResults:
		return o.onSearchResults(t, p)
	case acp.DataExtractedContent:
		return o.onExtractedContent(t, p)
	case acp.DataVerifiedContent:
		return o.onVerifiedContent(t, p)
	case acp.DataSynthesisReport:
		return o.onSynthesisReport(t, p)
	case acp.DataSaveConfirmation:
		return o.onSaveConfirmation(t, p)
	default:
		slog.Warn("unknown data type", "task_id", t.ID, "data_type", p.DataType)
	}
	return nil
}

func (o *Orchestrator) onSearchResults(t *task, p *acp.DataSubmitPayload) error {
	if t.Stage != StageSearching {
		slog.Warn("search results outside searching stage ignored", "task_id", t.ID, "stage", t.Stage)
		return nil
	}

	var sr acp.SearchResults
	if err := p.Bind(&sr); err != nil {
		return err
	}

	// The join counts distinct sources, so a repeated URL must not widen
	// the fan-out past the number of units that can ever arrive.
	results := make([]acp.SearchResult, 0, len(sr.Results))
	seen := make(map[string]bool, len(sr.Results))
	for _, r := range sr.Results {
		if seen[r.URL] {
			continue
		}
		seen[r.URL] = true
		results = append(results, r)
	}
	if o.cfg.MaxSources > 0 && len(results) > o.cfg.MaxSources {
		results = results[:o.cfg.MaxSources]
	}
	t.results = results

	if len(results) == 0 {
		// Nothing to extract or verify; synthesis still runs and
		// produces a placeholder report.
		slog.Info("no search results, skipping to synthesis", "task_id", t.ID)
		t.expected = 0
		return o.startSynthesis(t)
	}

	t.expected = len(results)
	for _, r := range results {
		assign, err := acp.NewTaskAssign(acp.AgentExtraction, acp.TaskExtract, acp.ExtractTask{
			TaskID: t.ID,
			Query:  t.Query,
			Source: r,
		})
		if err != nil {
			return err
		}
		if err := o.agent.Send(&assign); err != nil {
			o.fail(t, fmt.Sprintf("dispatch extract: %v", err), false)
			return nil
		}
	}
	o.setStage(t, StageExtracting, o.cfg.ExtractTimeout)
	slog.Info("extraction fanned out", "task_id", t.ID, "sources", t.expected)
	return nil
}

func (o *Orchestrator) onExtractedContent(t *task, p *acp.DataSubmitPayload) error {
	if t.Stage != StageExtracting {
		slog.Warn("extracted content outside extracting stage ignored", "task_id", t.ID, "stage", t.Stage)
		return nil
	}

	var ec acp.ExtractedContent
	if err := p.Bind(&ec); err != nil {
		return err
	}
	t.extracted = append(t.extracted, ec)

	if len(t.extracted) < t.expected {
		return nil
	}

	for _, ec := range t.extracted {
		assign, err := acp.NewTaskAssign(acp.AgentFactChecker, acp.TaskFactCheck, acp.FactCheckTask{
			TaskID:     t.ID,
			Query:      t.Query,
			Extraction: ec,
		})
		if err != nil {
			return err
		}
		if err := o.agent.Send(&assign); err != nil {
			o.fail(t, fmt.Sprintf("dispatch fact check: %v", err), false)
			return nil
		}
	}
	o.setStage(t, StageFactChecking, o.cfg.FactCheckTimeout)
	return nil
}

func (o *Orchestrator) onVerifiedContent(t *task, p *acp.DataSubmitPayload) error {
	if t.Stage != StageFactChecking {
		slog.Warn("verified content outside fact checking stage ignored", "task_id", t.ID, "stage", t.Stage)
		return nil
	}

	var vc acp.VerifiedContent
	if err := p.Bind(&vc); err != nil {
		return err
	}
	t.verified = append(t.verified, vc)

	if len(t.verified) < t.expected {
		return nil
	}
	return o.startSynthesis(t)
}

func (o *Orchestrator) startSynthesis(t *task) error {
	assign, err := acp.NewTaskAssign(acp.AgentSynthesis, acp.TaskSynthesize, acp.SynthesizeTask{
		TaskID:   t.ID,
		Query:    t.Query,
		Results:  t.results,
		Verified: t.verified,
	})
	if err != nil {
		return err
	}
	if err := o.agent.Send(&assign); err != nil {
		o.fail(t, fmt.Sprintf("dispatch synthesis: %v", err), false)
		return nil
	}
	o.setStage(t, StageSynthesizing, o.cfg.SynthesisTimeout)
	return nil
}

func (o *Orchestrator) onSynthesisReport(t *task, p *acp.DataSubmitPayload) error {
	if t.Stage != StageSynthesizing {
		slog.Warn("synthesis report outside synthesizing stage ignored", "task_id", t.ID, "stage", t.Stage)
		return nil
	}

	var sr acp.SynthesisReport
	if err := p.Bind(&sr); err != nil {
		return err
	}
	t.report = sr

	assign, err := acp.NewTaskAssign(acp.AgentFileSave, acp.TaskSaveReport, acp.SaveTask{
		TaskID:        t.ID,
		Query:         t.Query,
		ReportContent: sr.ReportContent,
		WordCount:     sr.WordCount,
		SectionCount:  sr.SectionCount,
	})
	if err != nil {
		return err
	}
	if err := o.agent.Send(&assign); err != nil {
		o.fail(t, fmt.Sprintf("dispatch save: %v", err), false)
		return nil
	}
	o.setStage(t, StageSaving, o.cfg.SaveTimeout)
	return nil
}

func (o *Orchestrator) onSaveConfirmation(t *task, p *acp.DataSubmitPayload) error {
	if t.Stage != StageSaving {
		slog.Warn("save confirmation outside saving stage ignored", "task_id", t.ID, "stage", t.Stage)
		return nil
	}

	var sc acp.SaveConfirmation
	if err := p.Bind(&sc); err != nil {
		return err
	}
	t.reportPath = sc.Path

	t.stopTimer()
	now := time.Now().UTC()
	t.CompletedAt = &now
	t.Stage = StageCompleted
	t.UpdatedAt = now
	o.persist(t)
	o.publishEvent(t, "task_completed")
	o.retire(t)
	slog.Info("research task completed", "task_id", t.ID, "report", t.reportPath)
	return nil
}

func (o *Orchestrator) handleCancel(p *acp.CancelPayload) {
	t, ok := o.tasks[p.TaskID]
	if !ok || t.Stage.Terminal() {
		return
	}
	reason := "cancelled"
	if p.Reason != "" {
		reason = "cancelled: " + p.Reason
	}
	// The cancel already reached every agent on the control topic; no
	// need to rebroadcast it.
	o.fail(t, reason, false)
}

// setStage advances the stage and arms its time budget. The timer fires
// a failed StatusUpdate through the orchestrator's own queue instead of
// touching the task table from the timer goroutine.
func (o *Orchestrator) setStage(t *task, stage Stage, budget time.Duration) {
	t.stopTimer()
	t.Stage = stage
	t.UpdatedAt = time.Now().UTC()

	if budget > 0 {
		taskID := t.ID
		t.timer = time.AfterFunc(budget, func() {
			msg, err := acp.NewStatusUpdate(acp.AgentOrchestrator, acp.StatusUpdatePayload{
				Status: "stage_timeout:" + string(stage),
				TaskID: taskID,
				Failed: true,
			})
			if err != nil {
				return
			}
			if err := o.agent.Send(&msg); err != nil {
				slog.Error("failed to send stage timeout", "task_id", taskID, "error", err)
			}
		})
	}

	o.persist(t)
	o.publishEvent(t, "stage_changed")
}

func (o *Orchestrator) fail(t *task, reason string, broadcast bool) {
	t.stopTimer()
	now := time.Now().UTC()
	t.Stage = StageFailed
	t.FailReason = reason
	t.CompletedAt = &now
	t.UpdatedAt = now
	o.persist(t)
	o.publishEvent(t, "task_failed")
	o.retire(t)
	slog.Warn("research task failed", "task_id", t.ID, "reason", reason)

	if broadcast {
		cancel, err := acp.NewCancel(t.ID, reason)
		if err == nil {
			if err := o.agent.Send(&cancel); err != nil {
				slog.Error("failed to broadcast cancel", "task_id", t.ID, "error", err)
			}
		}
	}
}

// retire keeps the terminal task visible in the recent window and evicts
// the oldest terminal tasks beyond it.
func (o *Orchestrator) retire(t *task) {
	o.terminal = append(o.terminal, t.ID)
	for len(o.terminal) > maxRecent {
		evict := o.terminal[0]
		o.terminal = o.terminal[1:]
		delete(o.tasks, evict)
	}
}

func (o *Orchestrator) persist(t *task) {
	rec := &store.Task{
		ID:          t.ID,
		Query:       t.Query,
		Stage:       string(t.Stage),
		FailReason:  t.FailReason,
		ReportPath:  t.reportPath,
		WordCount:   t.report.WordCount,
		Sources:     len(t.results),
		StatusLog:   t.statusLogJSON(),
		CompletedAt: t.CompletedAt,
	}
	if err := o.store.SaveTask(rec); err != nil {
		slog.Error("failed to persist task", "task_id", t.ID, "error", err)
	}
}

// TaskEvent is the dashboard-facing record published on the task's
// event subject at every lifecycle transition.
type TaskEvent struct {
	Type       string    `json:"type"`
	TaskID     string    `json:"task_id"`
	Stage      Stage     `json:"stage"`
	Query      string    `json:"query"`
	FailReason string    `json:"fail_reason,omitempty"`
	Timestamp  time.Time `json:"timestamp"`
}

func (o *Orchestrator) publishEvent(t *task, typ string) {
	if o.events == nil {
		return
	}
	_ = o.events.PublishJSON(natsbus.SubjectTaskEvent(t.ID), TaskEvent{
		Type:       typ,
		TaskID:     t.ID,
		Stage:      t.Stage,
		Query:      t.Query,
		FailReason: t.FailReason,
		Timestamp:  time.Now().UTC(),
	})
}

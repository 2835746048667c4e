package orchestrator

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/mtzanidakis/synapse/internal/natsbus"
	"github.com/mtzanidakis/synapse/internal/schedule"
	"github.com/mtzanidakis/synapse/internal/store"
	"github.com/mtzanidakis/synapse/internal/vault"
	"github.com/nats-io/nats.go"
)

// CtlRequest is the request/reply control-plane envelope used by sctl.
type CtlRequest struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

type CtlResponse struct {
	OK        bool                     `json:"ok"`
	Error     string                   `json:"error,omitempty"`
	TaskID    string                   `json:"task_id,omitempty"`
	Task      *store.Task              `json:"task,omitempty"`
	Tasks     []store.Task             `json:"tasks,omitempty"`
	Schedules []store.ResearchSchedule `json:"schedules,omitempty"`
	Secrets   []string                 `json:"secrets,omitempty"`
}

// Ctl serves the NATS control plane: research submission, task lookup,
// schedule CRUD and secret management over request/reply.
type Ctl struct {
	orch     *Orchestrator
	store    *store.Store
	vault    *vault.Vault
	reloader ScheduleReloader
	client   *natsbus.Client
	sub      *nats.Subscription
}

// ScheduleReloader wakes the scheduler after schedule mutations so a
// new entry does not wait out the current poll interval.
type ScheduleReloader interface {
	Reload()
}

func NewCtl(orch *Orchestrator, st *store.Store, v *vault.Vault) *Ctl {
	return &Ctl{orch: orch, store: st, vault: v}
}

func (c *Ctl) SetScheduleReloader(r ScheduleReloader) {
	c.reloader = r
}

func (c *Ctl) reloadSchedules() {
	if c.reloader != nil {
		c.reloader.Reload()
	}
}

func (c *Ctl) Start(bus *natsbus.Bus) error {
	client, err := natsbus.NewClient(bus)
	if err != nil {
		return fmt.Errorf("ctl client: %w", err)
	}

	sub, err := client.Subscribe(natsbus.SubjectCtl, c.handle)
	if err != nil {
		client.Close()
		return fmt.Errorf("ctl subscribe: %w", err)
	}
	if err := client.Flush(); err != nil {
		_ = sub.Unsubscribe()
		client.Close()
		return fmt.Errorf("ctl flush: %w", err)
	}

	c.client = client
	c.sub = sub
	slog.Info("control plane started", "subject", natsbus.SubjectCtl)
	return nil
}

func (c *Ctl) Stop() {
	if c.sub != nil {
		_ = c.sub.Unsubscribe()
	}
	if c.client != nil {
		c.client.Close()
	}
}

func (c *Ctl) handle(msg *nats.Msg) {
	var req CtlRequest
	if err := json.Unmarshal(msg.Data, &req); err != nil {
		c.respond(msg, CtlResponse{Error: "invalid request"})
		return
	}

	slog.Info("control request", "type", req.Type)

	switch req.Type {
	case "research_submit":
		c.researchSubmit(msg, req.Payload)
	case "task_status":
		c.taskStatus(msg, req.Payload)
	case "task_list":
		c.taskList(msg, req.Payload)
	case "task_cancel":
		c.taskCancel(msg, req.Payload)
	case "schedule_create":
		c.scheduleCreate(msg, req.Payload)
	case "schedule_list":
		c.scheduleList(msg)
	case "schedule_delete":
		c.scheduleDelete(msg, req.Payload)
	case "schedule_pause":
		c.scheduleSetStatus(msg, req.Payload, store.ScheduleStatusPaused)
	case "schedule_resume":
		c.scheduleSetStatus(msg, req.Payload, store.ScheduleStatusActive)
	case "secret_set":
		c.secretSet(msg, req.Payload)
	case "secret_list":
		c.secretList(msg)
	case "secret_delete":
		c.secretDelete(msg, req.Payload)
	default:
		c.respond(msg, CtlResponse{Error: "unknown request type: " + req.Type})
	}
}

func (c *Ctl) respond(msg *nats.Msg, resp CtlResponse) {
	if resp.Error == "" {
		resp.OK = true
	}
	data, err := json.Marshal(resp)
	if err != nil {
		slog.Error("failed to marshal control response", "error", err)
		return
	}
	if err := msg.Respond(data); err != nil {
		slog.Error("failed to respond to control request", "error", err)
	}
}

func (c *Ctl) researchSubmit(msg *nats.Msg, payload json.RawMessage) {
	var req struct {
		Query  string `json:"query"`
		TaskID string `json:"task_id"`
	}
	if err := json.Unmarshal(payload, &req); err != nil || req.Query == "" {
		c.respond(msg, CtlResponse{Error: "query is required"})
		return
	}

	var taskID string
	var err error
	if req.TaskID != "" {
		taskID = req.TaskID
		err = c.orch.SubmitAs(req.TaskID, req.Query)
	} else {
		taskID, err = c.orch.Submit(req.Query)
	}
	if err != nil {
		c.respond(msg, CtlResponse{Error: err.Error()})
		return
	}
	c.respond(msg, CtlResponse{TaskID: taskID})
}

func (c *Ctl) taskStatus(msg *nats.Msg, payload json.RawMessage) {
	var req struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(payload, &req); err != nil || req.ID == "" {
		c.respond(msg, CtlResponse{Error: "id is required"})
		return
	}

	task, err := c.store.GetTask(req.ID)
	if err != nil {
		c.respond(msg, CtlResponse{Error: err.Error()})
		return
	}
	if task == nil {
		c.respond(msg, CtlResponse{Error: "task not found: " + req.ID})
		return
	}
	c.respond(msg, CtlResponse{Task: task})
}

func (c *Ctl) taskList(msg *nats.Msg, payload json.RawMessage) {
	limit := 50
	if len(payload) > 0 {
		var req struct {
			Limit int `json:"limit"`
		}
		if err := json.Unmarshal(payload, &req); err == nil && req.Limit > 0 {
			limit = req.Limit
		}
	}

	tasks, err := c.store.ListTasks(limit)
	if err != nil {
		c.respond(msg, CtlResponse{Error: err.Error()})
		return
	}
	c.respond(msg, CtlResponse{Tasks: tasks})
}

func (c *Ctl) taskCancel(msg *nats.Msg, payload json.RawMessage) {
	var req struct {
		ID     string `json:"id"`
		Reason string `json:"reason"`
	}
	if err := json.Unmarshal(payload, &req); err != nil || req.ID == "" {
		c.respond(msg, CtlResponse{Error: "id is required"})
		return
	}
	if err := c.orch.Cancel(req.ID, req.Reason); err != nil {
		c.respond(msg, CtlResponse{Error: err.Error()})
		return
	}
	c.respond(msg, CtlResponse{TaskID: req.ID})
}

func (c *Ctl) scheduleCreate(msg *nats.Msg, payload json.RawMessage) {
	var req struct {
		Name     string `json:"name"`
		Schedule string `json:"schedule"`
		Query    string `json:"query"`
	}
	if err := json.Unmarshal(payload, &req); err != nil {
		c.respond(msg, CtlResponse{Error: "invalid payload"})
		return
	}
	if req.Name == "" || req.Schedule == "" || req.Query == "" {
		c.respond(msg, CtlResponse{Error: "name, schedule, and query are required"})
		return
	}

	if _, err := schedule.Parse(req.Schedule); err != nil {
		c.respond(msg, CtlResponse{Error: err.Error()})
		return
	}

	sc := &store.ResearchSchedule{
		ID:        uuid.New().String(),
		Name:      req.Name,
		Schedule:  req.Schedule,
		Query:     req.Query,
		Status:    store.ScheduleStatusActive,
		NextRunAt: schedule.NextRun(req.Schedule, time.Now()),
	}
	if err := c.store.SaveSchedule(sc); err != nil {
		c.respond(msg, CtlResponse{Error: err.Error()})
		return
	}
	c.reloadSchedules()
	c.respond(msg, CtlResponse{TaskID: sc.ID})
}

func (c *Ctl) scheduleList(msg *nats.Msg) {
	schedules, err := c.store.ListSchedules()
	if err != nil {
		c.respond(msg, CtlResponse{Error: err.Error()})
		return
	}
	c.respond(msg, CtlResponse{Schedules: schedules})
}

func (c *Ctl) scheduleDelete(msg *nats.Msg, payload json.RawMessage) {
	var req struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(payload, &req); err != nil || req.ID == "" {
		c.respond(msg, CtlResponse{Error: "id is required"})
		return
	}
	if err := c.store.DeleteSchedule(req.ID); err != nil {
		c.respond(msg, CtlResponse{Error: err.Error()})
		return
	}
	c.reloadSchedules()
	c.respond(msg, CtlResponse{})
}

func (c *Ctl) scheduleSetStatus(msg *nats.Msg, payload json.RawMessage, status string) {
	var req struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(payload, &req); err != nil || req.ID == "" {
		c.respond(msg, CtlResponse{Error: "id is required"})
		return
	}
	if err := c.store.UpdateScheduleStatus(req.ID, status); err != nil {
		c.respond(msg, CtlResponse{Error: err.Error()})
		return
	}
	c.reloadSchedules()
	c.respond(msg, CtlResponse{})
}

func (c *Ctl) secretSet(msg *nats.Msg, payload json.RawMessage) {
	if c.vault == nil {
		c.respond(msg, CtlResponse{Error: "vault not configured, set vault.passphrase"})
		return
	}
	var req struct {
		Name  string `json:"name"`
		Value string `json:"value"`
	}
	if err := json.Unmarshal(payload, &req); err != nil || req.Name == "" || req.Value == "" {
		c.respond(msg, CtlResponse{Error: "name and value are required"})
		return
	}

	ciphertext, nonce, err := c.vault.Encrypt([]byte(req.Value))
	if err != nil {
		c.respond(msg, CtlResponse{Error: err.Error()})
		return
	}
	if err := c.store.SaveSecret(&store.Secret{Name: req.Name, Value: ciphertext, Nonce: nonce}); err != nil {
		c.respond(msg, CtlResponse{Error: err.Error()})
		return
	}
	c.respond(msg, CtlResponse{})
}

func (c *Ctl) secretList(msg *nats.Msg) {
	names, err := c.store.ListSecretNames()
	if err != nil {
		c.respond(msg, CtlResponse{Error: err.Error()})
		return
	}
	c.respond(msg, CtlResponse{Secrets: names})
}

func (c *Ctl) secretDelete(msg *nats.Msg, payload json.RawMessage) {
	var req struct {
		Name string `json:"name"`
	}
	if err := json.Unmarshal(payload, &req); err != nil || req.Name == "" {
		c.respond(msg, CtlResponse{Error: "name is required"})
		return
	}
	if err := c.store.DeleteSecret(req.Name); err != nil {
		c.respond(msg, CtlResponse{Error: err.Error()})
		return
	}
	c.respond(msg, CtlResponse{})
}

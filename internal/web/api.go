package web

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/mtzanidakis/synapse/internal/schedule"
	"github.com/mtzanidakis/synapse/internal/store"
)

func (s *Server) registerAPI(mux *http.ServeMux) {
	// Research pipeline
	mux.HandleFunc("POST /api/research", s.submitResearch)
	mux.HandleFunc("GET /api/tasks", s.listTasks)
	mux.HandleFunc("GET /api/tasks/{id}", s.getTask)
	mux.HandleFunc("POST /api/tasks/{id}/cancel", s.cancelTask)

	// Reports (read-only viewer)
	mux.HandleFunc("GET /api/reports", s.listReports)
	mux.HandleFunc("GET /api/reports/{name}", s.getReport)

	// Recurring research
	mux.HandleFunc("GET /api/schedules", s.listSchedules)
	mux.HandleFunc("POST /api/schedules", s.createSchedule)
	mux.HandleFunc("DELETE /api/schedules/{id}", s.deleteSchedule)

	// System
	mux.HandleFunc("GET /api/agents", s.listAgents)
	mux.HandleFunc("GET /api/logs", s.listLogs)
	mux.HandleFunc("GET /api/health", s.getHealth)
}

// submitResearch accepts a query and answers immediately; the pipeline
// runs asynchronously and progress is visible via /api/tasks and the
// event stream.
func (s *Server) submitResearch(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Query  string `json:"query"`
		TaskID string `json:"task_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		jsonError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if body.Query == "" {
		jsonError(w, "query is required", http.StatusBadRequest)
		return
	}

	taskID := body.TaskID
	var err error
	if taskID != "" {
		err = s.orch.SubmitAs(taskID, body.Query)
	} else {
		taskID, err = s.orch.Submit(body.Query)
	}
	if err != nil {
		jsonError(w, err.Error(), http.StatusInternalServerError)
		return
	}

	w.WriteHeader(http.StatusAccepted)
	jsonBody(w, map[string]string{
		"status":  "task_received",
		"task_id": taskID,
	})
}

func (s *Server) listTasks(w http.ResponseWriter, r *http.Request) {
	tasks, err := s.store.ListTasks(100)
	if err != nil {
		jsonError(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if tasks == nil {
		tasks = []store.Task{}
	}
	jsonResponse(w, tasks)
}

func (s *Server) getTask(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	// The live view carries the status log and join progress; archived
	// tasks fall back to the store row.
	if v, ok := s.orch.Snapshot(id); ok {
		jsonResponse(w, v)
		return
	}

	task, err := s.store.GetTask(id)
	if err != nil {
		jsonError(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if task == nil {
		jsonError(w, "task not found", http.StatusNotFound)
		return
	}
	jsonResponse(w, task)
}

func (s *Server) cancelTask(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if _, ok := s.orch.Snapshot(id); !ok {
		jsonError(w, "task not found", http.StatusNotFound)
		return
	}
	if err := s.orch.Cancel(id, "api request"); err != nil {
		jsonError(w, err.Error(), http.StatusInternalServerError)
		return
	}
	jsonResponse(w, map[string]string{"status": "cancel_requested", "task_id": id})
}

func (s *Server) listReports(w http.ResponseWriter, r *http.Request) {
	reports, err := s.reports.List()
	if err != nil {
		jsonError(w, err.Error(), http.StatusInternalServerError)
		return
	}
	jsonResponse(w, reports)
}

func (s *Server) getReport(w http.ResponseWriter, r *http.Request) {
	data, err := s.reports.Read(r.PathValue("name"))
	if err != nil {
		jsonError(w, "report not found", http.StatusNotFound)
		return
	}
	w.Header().Set("Content-Type", "text/markdown; charset=utf-8")
	w.Write(data)
}

func (s *Server) listSchedules(w http.ResponseWriter, r *http.Request) {
	schedules, err := s.store.ListSchedules()
	if err != nil {
		jsonError(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if schedules == nil {
		schedules = []store.ResearchSchedule{}
	}
	jsonResponse(w, schedules)
}

func (s *Server) createSchedule(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Name     string `json:"name"`
		Schedule string `json:"schedule"`
		Query    string `json:"query"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		jsonError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if body.Name == "" || body.Schedule == "" || body.Query == "" {
		jsonError(w, "name, schedule, and query are required", http.StatusBadRequest)
		return
	}
	if _, err := schedule.Parse(body.Schedule); err != nil {
		jsonError(w, err.Error(), http.StatusBadRequest)
		return
	}

	sc := &store.ResearchSchedule{
		ID:        uuid.New().String(),
		Name:      body.Name,
		Schedule:  body.Schedule,
		Query:     body.Query,
		Status:    store.ScheduleStatusActive,
		NextRunAt: schedule.NextRun(body.Schedule, time.Now()),
	}
	if err := s.store.SaveSchedule(sc); err != nil {
		jsonError(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if s.reloader != nil {
		s.reloader.Reload()
	}

	w.WriteHeader(http.StatusCreated)
	jsonBody(w, sc)
}

func (s *Server) deleteSchedule(w http.ResponseWriter, r *http.Request) {
	if err := s.store.DeleteSchedule(r.PathValue("id")); err != nil {
		jsonError(w, err.Error(), http.StatusNotFound)
		return
	}
	if s.reloader != nil {
		s.reloader.Reload()
	}
	jsonResponse(w, map[string]string{"status": "deleted"})
}

func (s *Server) listAgents(w http.ResponseWriter, r *http.Request) {
	agents, err := s.registry.List()
	if err != nil {
		jsonError(w, err.Error(), http.StatusInternalServerError)
		return
	}

	statuses := make(map[string]bool)
	if s.health != nil {
		for _, st := range s.health() {
			statuses[st.ID] = st.Healthy
		}
	}

	out := make([]map[string]any, 0, len(agents))
	for _, a := range agents {
		out = append(out, map[string]any{
			"id":          a.ID,
			"description": a.Description,
			"queue":       a.Queue,
			"topics":      a.Topics,
			"healthy":     statuses[a.ID],
		})
	}
	jsonResponse(w, out)
}

func (s *Server) listLogs(w http.ResponseWriter, r *http.Request) {
	entries, err := s.store.ListLogEntries(200)
	if err != nil {
		jsonError(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if entries == nil {
		entries = []store.LogEntry{}
	}
	jsonResponse(w, entries)
}

// getHealth reports supervised readiness: healthy only once every agent
// is running with a live bus connection.
func (s *Server) getHealth(w http.ResponseWriter, r *http.Request) {
	status := "healthy"
	active := 0
	total := 0
	if s.health != nil {
		for _, st := range s.health() {
			total++
			if st.Healthy {
				active++
			}
		}
	}
	if total == 0 || active < total {
		status = "initializing"
	}

	code := http.StatusOK
	if status != "healthy" {
		code = http.StatusServiceUnavailable
	}
	body := map[string]any{
		"status":        status,
		"agents_active": active,
		"agents_total":  total,
		"version":       s.version,
		"uptime":        time.Since(s.startedAt).Round(time.Second).String(),
	}
	if s.bus != nil {
		body["bus_clients"] = s.bus.NumClients()
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	jsonBody(w, body)
}

func jsonResponse(w http.ResponseWriter, data any) {
	w.Header().Set("Content-Type", "application/json")
	jsonBody(w, data)
}

func jsonBody(w http.ResponseWriter, data any) {
	_ = json.NewEncoder(w).Encode(data)
}

func jsonError(w http.ResponseWriter, msg string, code int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	jsonBody(w, map[string]string{"error": msg})
}

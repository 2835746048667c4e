// Package web is the HTTP ingress: research submission, task and report
// views, schedule management, health, and a WebSocket event stream for
// dashboards.
package web

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/mtzanidakis/synapse/internal/config"
	"github.com/mtzanidakis/synapse/internal/natsbus"
	"github.com/mtzanidakis/synapse/internal/orchestrator"
	"github.com/mtzanidakis/synapse/internal/registry"
	"github.com/mtzanidakis/synapse/internal/report"
	"github.com/mtzanidakis/synapse/internal/runtime"
	"github.com/mtzanidakis/synapse/internal/store"
	"github.com/nats-io/nats.go"
)

// HealthChecker reports per-agent health; the serve command wires in
// every started worker plus the orchestrator.
type HealthChecker func() []runtime.Status

// ScheduleReloader wakes the scheduler after schedule mutations so a
// new entry does not wait out the current poll interval.
type ScheduleReloader interface {
	Reload()
}

type Server struct {
	store     *store.Store
	bus       *natsbus.Bus
	nats      *natsbus.Client
	orch      *orchestrator.Orchestrator
	registry  *registry.Registry
	reports   *report.Writer
	health    HealthChecker
	reloader  ScheduleReloader
	hub       *Hub
	cfg       config.WebConfig
	version   string
	startedAt time.Time
}

func NewServer(s *store.Store, bus *natsbus.Bus, orch *orchestrator.Orchestrator,
	reg *registry.Registry, reports *report.Writer, health HealthChecker,
	cfg config.WebConfig, version string) *Server {
	return &Server{
		store:     s,
		bus:       bus,
		orch:      orch,
		registry:  reg,
		reports:   reports,
		health:    health,
		hub:       NewHub(),
		cfg:       cfg,
		version:   version,
		startedAt: time.Now(),
	}
}

func (s *Server) SetScheduleReloader(r ScheduleReloader) {
	s.reloader = r
}

func (s *Server) Start(ctx context.Context) error {
	go s.hub.Run(ctx)
	s.subscribeEvents()

	mux := http.NewServeMux()
	s.registerAPI(mux)
	mux.HandleFunc("/api/ws", s.handleWebSocket)

	handler := s.withMiddleware(mux)
	addr := fmt.Sprintf(":%d", s.cfg.Port)
	server := &http.Server{Addr: addr, Handler: handler}

	go func() {
		<-ctx.Done()
		server.Close()
		if s.nats != nil {
			s.nats.Close()
		}
	}()

	slog.Info("web server listening", "addr", addr)
	if err := server.ListenAndServe(); err != http.ErrServerClosed {
		return err
	}
	return nil
}

func (s *Server) withMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// subscribeEvents forwards every task event on the bus to the WebSocket
// hub as raw JSON.
func (s *Server) subscribeEvents() {
	if s.bus == nil {
		return
	}
	client, err := natsbus.NewClient(s.bus)
	if err != nil {
		slog.Error("web server nats client failed", "error", err)
		return
	}
	s.nats = client

	_, _ = client.Subscribe(natsbus.SubjectEventsAll, func(msg *nats.Msg) {
		var event orchestrator.TaskEvent
		if err := json.Unmarshal(msg.Data, &event); err != nil {
			slog.Warn("invalid event payload", "error", err)
			return
		}
		s.hub.Broadcast(event)
	})
}

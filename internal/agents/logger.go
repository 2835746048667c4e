package agents

import (
	"context"
	"log/slog"

	"github.com/mtzanidakis/synapse/internal/acp"
	"github.com/mtzanidakis/synapse/internal/natsbus"
	"github.com/mtzanidakis/synapse/internal/runtime"
	"github.com/mtzanidakis/synapse/internal/store"
)

// Logger archives every LogBroadcast from the shared logs topic to the
// store and mirrors it to the process log.
type Logger struct {
	agent *runtime.Agent
	store *store.Store
}

func NewLogger(bus *natsbus.Bus, st *store.Store) *Logger {
	return &Logger{
		agent: runtime.New(acp.AgentLogger, bus, runtime.WithTopics(acp.TopicLogs)),
		store: st,
	}
}

func (l *Logger) Start(ctx context.Context) error {
	return l.agent.Start(ctx, runtime.HandlerFunc(l.handle))
}

func (l *Logger) Stop() { l.agent.Stop() }

func (l *Logger) Status() runtime.Status { return l.agent.Status() }

func (l *Logger) handle(ctx context.Context, msg *acp.Message) error {
	payload, err := msg.DecodePayload()
	if err != nil {
		return err
	}
	p, ok := payload.(*acp.LogBroadcastPayload)
	if !ok {
		return nil
	}

	level := slog.LevelInfo
	switch p.Level {
	case "warn", "warning":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	case "debug":
		level = slog.LevelDebug
	}
	slog.Log(ctx, level, p.Message, "component", p.Component)

	return l.store.SaveLogEntry(&store.LogEntry{
		Level:     p.Level,
		Component: p.Component,
		Message:   p.Message,
	})
}

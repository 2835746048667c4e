// Package runtime provides the generic agent lifecycle shared by every
// agent in the swarm: a dedicated receive queue, optional topic
// subscriptions, and a single-consumer dispatch loop that feeds a
// stage-specific handler. Agents are built by composition: a Runtime plus
// an injected Handler, never inheritance.
package runtime

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/mtzanidakis/synapse/internal/acp"
	"github.com/mtzanidakis/synapse/internal/natsbus"
	"github.com/nats-io/nats.go"
)

const inboxSize = 256

// Handler is the stage-specific capability an agent plugs into its runtime.
// Returned errors are logged and contained; the dispatch loop keeps going.
type Handler interface {
	HandleMessage(ctx context.Context, msg *acp.Message) error
}

type HandlerFunc func(ctx context.Context, msg *acp.Message) error

func (f HandlerFunc) HandleMessage(ctx context.Context, msg *acp.Message) error {
	return f(ctx, msg)
}

type Option func(*Agent)

// WithTopics subscribes the agent to extra broadcast topics besides its
// own queue. The control topic is always subscribed.
func WithTopics(topics ...string) Option {
	return func(a *Agent) {
		a.topics = append(a.topics, topics...)
	}
}

// Agent binds one agent ID to a bus connection and a serial dispatch loop.
// Message handling within one agent never interleaves; separate agents run
// fully concurrently.
type Agent struct {
	id     string
	bus    *natsbus.Bus
	topics []string
	log    *slog.Logger

	client *natsbus.Client
	subs   []*nats.Subscription
	inbox  chan *nats.Msg
	quit   chan struct{}
	wg     sync.WaitGroup

	mu        sync.RWMutex
	running   bool
	cancelled map[string]bool
}

func New(id string, bus *natsbus.Bus, opts ...Option) *Agent {
	a := &Agent{
		id:        id,
		bus:       bus,
		log:       slog.With("agent", id),
		cancelled: make(map[string]bool),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

func (a *Agent) ID() string { return a.id }

// Start connects to the bus, registers the queue and topic subscriptions,
// and launches the dispatch loop. The connection is released on every
// failure path.
func (a *Agent) Start(ctx context.Context, h Handler) error {
	a.mu.Lock()
	if a.running {
		a.mu.Unlock()
		return fmt.Errorf("agent %s already started", a.id)
	}
	a.mu.Unlock()

	client, err := natsbus.NewClient(a.bus)
	if err != nil {
		return fmt.Errorf("agent %s connect: %w", a.id, err)
	}

	a.inbox = make(chan *nats.Msg, inboxSize)
	a.quit = make(chan struct{})
	deliver := func(msg *nats.Msg) {
		a.inbox <- msg
	}

	subjects := []string{
		natsbus.SubjectAgent(a.id),
		natsbus.SubjectTopic(acp.TopicControl),
	}
	for _, t := range a.topics {
		subjects = append(subjects, natsbus.SubjectTopic(t))
	}

	for _, subj := range subjects {
		sub, err := client.Subscribe(subj, deliver)
		if err != nil {
			for _, s := range a.subs {
				_ = s.Unsubscribe()
			}
			a.subs = nil
			client.Close()
			return fmt.Errorf("agent %s subscribe %s: %w", a.id, subj, err)
		}
		a.subs = append(a.subs, sub)
	}

	if err := client.Flush(); err != nil {
		for _, s := range a.subs {
			_ = s.Unsubscribe()
		}
		a.subs = nil
		client.Close()
		return fmt.Errorf("agent %s flush: %w", a.id, err)
	}

	a.client = client
	a.mu.Lock()
	a.running = true
	a.mu.Unlock()

	a.wg.Add(1)
	go a.loop(ctx, h)

	a.log.Info("agent started", "subjects", subjects)
	return nil
}

// Stop unsubscribes, drains the dispatch loop (any in-flight handler
// invocation completes), then disconnects.
func (a *Agent) Stop() {
	a.mu.Lock()
	if !a.running {
		a.mu.Unlock()
		return
	}
	a.running = false
	a.mu.Unlock()

	for _, s := range a.subs {
		_ = s.Unsubscribe()
	}
	a.subs = nil

	close(a.quit)
	a.wg.Wait()

	a.client.Close()
	a.log.Info("agent stopped")
}

func (a *Agent) loop(ctx context.Context, h Handler) {
	defer a.wg.Done()

	for {
		select {
		case msg := <-a.inbox:
			a.dispatch(ctx, h, msg)
		case <-a.quit:
			// Drain what was already queued; nothing is abandoned
			// mid-handling.
			for {
				select {
				case msg := <-a.inbox:
					a.dispatch(ctx, h, msg)
				default:
					return
				}
			}
		}
	}
}

func (a *Agent) dispatch(ctx context.Context, h Handler, raw *nats.Msg) {
	defer func() {
		if r := recover(); r != nil {
			a.log.Error("handler panicked", "subject", raw.Subject, "panic", r)
		}
	}()

	msg, err := acp.Decode(raw.Data)
	if err != nil {
		// Malformed envelopes are a local problem, never a task failure.
		a.log.Warn("dropping malformed envelope", "subject", raw.Subject, "error", err)
		return
	}

	payload, err := msg.DecodePayload()
	if err != nil {
		a.log.Warn("dropping message with invalid payload",
			"msg_type", msg.Type, "sender", msg.Sender, "error", err)
		return
	}

	if c, ok := payload.(*acp.CancelPayload); ok {
		a.mu.Lock()
		a.cancelled[c.TaskID] = true
		a.mu.Unlock()
	}

	if err := h.HandleMessage(ctx, &msg); err != nil {
		a.log.Error("handler error", "msg_type", msg.Type, "sender", msg.Sender, "error", err)
	}
}

// Send publishes an envelope after filling message_id, sender_id and
// timestamp. Safe for concurrent use.
func (a *Agent) Send(m *acp.Message) error {
	a.mu.RLock()
	client := a.client
	running := a.running
	a.mu.RUnlock()
	if !running || client == nil {
		return fmt.Errorf("agent %s not started", a.id)
	}

	if m.ID == "" {
		m.ID = uuid.New().String()
	}
	m.Sender = a.id
	m.Timestamp = time.Now().UTC()

	return client.PublishACP(m)
}

// Cancelled reports whether a Cancel broadcast was seen for the task.
// Workers check this before expensive work and suppress further
// DataSubmits for cancelled tasks.
func (a *Agent) Cancelled(taskID string) bool {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.cancelled[taskID]
}

type Status struct {
	ID      string `json:"id"`
	Running bool   `json:"running"`
	Healthy bool   `json:"healthy"`
}

func (a *Agent) Status() Status {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return Status{
		ID:      a.id,
		Running: a.running,
		Healthy: a.running && a.client != nil && a.client.Healthy(),
	}
}

package runtime

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/mtzanidakis/synapse/internal/acp"
	"github.com/mtzanidakis/synapse/internal/config"
	"github.com/mtzanidakis/synapse/internal/natsbus"
)

func newTestBus(t *testing.T) *natsbus.Bus {
	t.Helper()
	bus, err := natsbus.New(config.NATSConfig{
		Port:    -1,
		DataDir: t.TempDir(),
	})
	if err != nil {
		t.Fatalf("failed to create bus: %v", err)
	}
	t.Cleanup(bus.Close)
	return bus
}

type collectingHandler struct {
	mu   sync.Mutex
	msgs []acp.Message
	seen chan struct{}
}

func newCollectingHandler() *collectingHandler {
	return &collectingHandler{seen: make(chan struct{}, 64)}
}

func (h *collectingHandler) HandleMessage(ctx context.Context, msg *acp.Message) error {
	h.mu.Lock()
	h.msgs = append(h.msgs, *msg)
	h.mu.Unlock()
	h.seen <- struct{}{}
	return nil
}

func (h *collectingHandler) wait(t *testing.T, n int) []acp.Message {
	t.Helper()
	for i := 0; i < n; i++ {
		select {
		case <-h.seen:
		case <-time.After(3 * time.Second):
			t.Fatalf("timeout waiting for message %d of %d", i+1, n)
		}
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]acp.Message, len(h.msgs))
	copy(out, h.msgs)
	return out
}

func TestSendFillsEnvelope(t *testing.T) {
	bus := newTestBus(t)

	receiver := New("orchestrator", bus)
	h := newCollectingHandler()
	if err := receiver.Start(context.Background(), h); err != nil {
		t.Fatalf("start receiver: %v", err)
	}
	defer receiver.Stop()

	sender := New("search_agent", bus)
	if err := sender.Start(context.Background(), newCollectingHandler()); err != nil {
		t.Fatalf("start sender: %v", err)
	}
	defer sender.Stop()

	msg, err := acp.NewStatusUpdate("orchestrator", acp.StatusUpdatePayload{Status: "working", TaskID: "t1"})
	if err != nil {
		t.Fatalf("new status update: %v", err)
	}
	if err := sender.Send(&msg); err != nil {
		t.Fatalf("send: %v", err)
	}

	got := h.wait(t, 1)
	if got[0].ID == "" {
		t.Error("expected message_id to be filled")
	}
	if got[0].Sender != "search_agent" {
		t.Errorf("expected sender search_agent, got %q", got[0].Sender)
	}
	if got[0].Timestamp.IsZero() {
		t.Error("expected timestamp to be filled")
	}
}

func TestSerialDispatchPreservesOrder(t *testing.T) {
	bus := newTestBus(t)

	receiver := New("orchestrator", bus)
	h := newCollectingHandler()
	if err := receiver.Start(context.Background(), h); err != nil {
		t.Fatalf("start receiver: %v", err)
	}
	defer receiver.Stop()

	sender := New("search_agent", bus)
	if err := sender.Start(context.Background(), newCollectingHandler()); err != nil {
		t.Fatalf("start sender: %v", err)
	}
	defer sender.Stop()

	statuses := []string{"one", "two", "three", "four", "five"}
	for _, s := range statuses {
		msg, err := acp.NewStatusUpdate("orchestrator", acp.StatusUpdatePayload{Status: s})
		if err != nil {
			t.Fatalf("new status update: %v", err)
		}
		if err := sender.Send(&msg); err != nil {
			t.Fatalf("send: %v", err)
		}
	}

	got := h.wait(t, len(statuses))
	for i, m := range got {
		p, err := m.DecodePayload()
		if err != nil {
			t.Fatalf("decode payload: %v", err)
		}
		if status := p.(*acp.StatusUpdatePayload).Status; status != statuses[i] {
			t.Errorf("message %d: expected %q, got %q", i, statuses[i], status)
		}
	}
}

func TestHandlerFailureDoesNotStopLoop(t *testing.T) {
	bus := newTestBus(t)

	var mu sync.Mutex
	var handled []string
	seen := make(chan struct{}, 8)

	calls := 0
	h := HandlerFunc(func(ctx context.Context, msg *acp.Message) error {
		mu.Lock()
		defer mu.Unlock()
		calls++
		if calls == 1 {
			seen <- struct{}{}
			panic("boom")
		}
		if calls == 2 {
			seen <- struct{}{}
			return errors.New("handler failed")
		}
		p, _ := msg.DecodePayload()
		handled = append(handled, p.(*acp.StatusUpdatePayload).Status)
		seen <- struct{}{}
		return nil
	})

	receiver := New("orchestrator", bus)
	if err := receiver.Start(context.Background(), h); err != nil {
		t.Fatalf("start receiver: %v", err)
	}
	defer receiver.Stop()

	sender := New("search_agent", bus)
	if err := sender.Start(context.Background(), newCollectingHandler()); err != nil {
		t.Fatalf("start sender: %v", err)
	}
	defer sender.Stop()

	for _, s := range []string{"panics", "errors", "succeeds"} {
		msg, err := acp.NewStatusUpdate("orchestrator", acp.StatusUpdatePayload{Status: s})
		if err != nil {
			t.Fatalf("new status update: %v", err)
		}
		if err := sender.Send(&msg); err != nil {
			t.Fatalf("send: %v", err)
		}
	}

	for i := 0; i < 3; i++ {
		select {
		case <-seen:
		case <-time.After(3 * time.Second):
			t.Fatalf("timeout waiting for dispatch %d", i+1)
		}
	}

	mu.Lock()
	defer mu.Unlock()
	if len(handled) != 1 || handled[0] != "succeeds" {
		t.Errorf("expected third message handled after panic and error, got %v", handled)
	}
}

func TestMalformedPayloadDropped(t *testing.T) {
	bus := newTestBus(t)

	receiver := New("orchestrator", bus)
	h := newCollectingHandler()
	if err := receiver.Start(context.Background(), h); err != nil {
		t.Fatalf("start receiver: %v", err)
	}
	defer receiver.Stop()

	client, err := natsbus.NewClient(bus)
	if err != nil {
		t.Fatalf("client: %v", err)
	}
	defer client.Close()

	// status_update payload missing its required status field
	bad := []byte(`{"message_id":"m1","sender_id":"x","receiver_id":"orchestrator","msg_type":"status_update","payload":{"progress":10}}`)
	if err := client.Publish(natsbus.SubjectAgent("orchestrator"), bad); err != nil {
		t.Fatalf("publish: %v", err)
	}

	good, err := acp.NewStatusUpdate("orchestrator", acp.StatusUpdatePayload{Status: "alive"})
	if err != nil {
		t.Fatalf("new status update: %v", err)
	}
	good.ID, good.Sender, good.Timestamp = "m2", "x", time.Now()
	data, _ := good.Encode()
	if err := client.Publish(natsbus.SubjectAgent("orchestrator"), data); err != nil {
		t.Fatalf("publish: %v", err)
	}
	client.Flush()

	got := h.wait(t, 1)
	if got[0].ID != "m2" {
		t.Errorf("expected only the valid message to reach the handler, got %s", got[0].ID)
	}
}

func TestCancelRegistry(t *testing.T) {
	bus := newTestBus(t)

	worker := New("extraction_agent", bus)
	h := newCollectingHandler()
	if err := worker.Start(context.Background(), h); err != nil {
		t.Fatalf("start worker: %v", err)
	}
	defer worker.Stop()

	sender := New("orchestrator", bus)
	if err := sender.Start(context.Background(), newCollectingHandler()); err != nil {
		t.Fatalf("start sender: %v", err)
	}
	defer sender.Stop()

	if worker.Cancelled("t1") {
		t.Fatal("task should not start cancelled")
	}

	cancel, err := acp.NewCancel("t1", "user request")
	if err != nil {
		t.Fatalf("new cancel: %v", err)
	}
	if err := sender.Send(&cancel); err != nil {
		t.Fatalf("send: %v", err)
	}

	h.wait(t, 1)
	if !worker.Cancelled("t1") {
		t.Error("expected task t1 to be marked cancelled")
	}
	if worker.Cancelled("t2") {
		t.Error("unrelated task must not be cancelled")
	}
}

func TestStopDrainsInFlight(t *testing.T) {
	bus := newTestBus(t)

	started := make(chan struct{})
	finished := make(chan struct{})
	h := HandlerFunc(func(ctx context.Context, msg *acp.Message) error {
		close(started)
		time.Sleep(200 * time.Millisecond)
		close(finished)
		return nil
	})

	receiver := New("orchestrator", bus)
	if err := receiver.Start(context.Background(), h); err != nil {
		t.Fatalf("start receiver: %v", err)
	}

	sender := New("search_agent", bus)
	if err := sender.Start(context.Background(), newCollectingHandler()); err != nil {
		t.Fatalf("start sender: %v", err)
	}
	defer sender.Stop()

	msg, err := acp.NewStatusUpdate("orchestrator", acp.StatusUpdatePayload{Status: "slow"})
	if err != nil {
		t.Fatalf("new status update: %v", err)
	}
	if err := sender.Send(&msg); err != nil {
		t.Fatalf("send: %v", err)
	}

	select {
	case <-started:
	case <-time.After(3 * time.Second):
		t.Fatal("handler never started")
	}

	receiver.Stop()

	select {
	case <-finished:
	default:
		t.Error("Stop returned before in-flight handler finished")
	}
}

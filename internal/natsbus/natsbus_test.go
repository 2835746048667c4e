package natsbus

import (
	"testing"
	"time"

	"github.com/mtzanidakis/synapse/internal/acp"
	"github.com/mtzanidakis/synapse/internal/config"
	"github.com/nats-io/nats.go"
)

func newTestBus(t *testing.T) *Bus {
	t.Helper()
	bus, err := New(config.NATSConfig{
		Port:    -1, // Random port
		DataDir: t.TempDir(),
	})
	if err != nil {
		t.Fatalf("failed to create bus: %v", err)
	}
	t.Cleanup(bus.Close)
	return bus
}

func TestBusStartStop(t *testing.T) {
	bus := newTestBus(t)
	if bus.ClientURL() == "" {
		t.Fatal("expected non-empty client URL")
	}
}

func TestPubSub(t *testing.T) {
	bus := newTestBus(t)

	client, err := NewClient(bus)
	if err != nil {
		t.Fatalf("failed to create client: %v", err)
	}
	defer client.Close()

	received := make(chan string, 1)
	_, err = client.Subscribe("test.topic", func(msg *nats.Msg) {
		received <- string(msg.Data)
	})
	if err != nil {
		t.Fatalf("subscribe error: %v", err)
	}

	if err := client.Publish("test.topic", []byte("hello")); err != nil {
		t.Fatalf("publish error: %v", err)
	}
	client.Flush()

	select {
	case data := <-received:
		if data != "hello" {
			t.Errorf("expected 'hello', got '%s'", data)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for message")
	}
}

func TestPublishACPRoutesBySubject(t *testing.T) {
	bus := newTestBus(t)

	client, err := NewClient(bus)
	if err != nil {
		t.Fatalf("failed to create client: %v", err)
	}
	defer client.Close()

	direct := make(chan acp.Message, 1)
	_, err = client.Subscribe(SubjectAgent("orchestrator"), func(msg *nats.Msg) {
		m, err := acp.Decode(msg.Data)
		if err != nil {
			t.Errorf("decode: %v", err)
			return
		}
		direct <- m
	})
	if err != nil {
		t.Fatalf("subscribe error: %v", err)
	}

	broadcast := make(chan acp.Message, 1)
	_, err = client.Subscribe(SubjectTopic(acp.TopicLogs), func(msg *nats.Msg) {
		m, err := acp.Decode(msg.Data)
		if err != nil {
			t.Errorf("decode: %v", err)
			return
		}
		broadcast <- m
	})
	if err != nil {
		t.Fatalf("subscribe error: %v", err)
	}

	p2p, err := acp.NewStatusUpdate("orchestrator", acp.StatusUpdatePayload{Status: "searching", TaskID: "t1"})
	if err != nil {
		t.Fatalf("new status update: %v", err)
	}
	p2p.ID, p2p.Sender, p2p.Timestamp = "m1", "search_agent", time.Now()
	if err := client.PublishACP(&p2p); err != nil {
		t.Fatalf("publish acp: %v", err)
	}

	logMsg, err := acp.NewLogBroadcast("INFO", "hi", "search_agent")
	if err != nil {
		t.Fatalf("new log broadcast: %v", err)
	}
	logMsg.ID, logMsg.Sender, logMsg.Timestamp = "m2", "search_agent", time.Now()
	if err := client.PublishACP(&logMsg); err != nil {
		t.Fatalf("publish acp: %v", err)
	}
	client.Flush()

	select {
	case m := <-direct:
		if m.Type != acp.MsgStatusUpdate {
			t.Errorf("expected status_update on agent queue, got %s", m.Type)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for direct message")
	}

	select {
	case m := <-broadcast:
		if m.Type != acp.MsgLogBroadcast {
			t.Errorf("expected log_broadcast on logs topic, got %s", m.Type)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for broadcast message")
	}
}

func TestPublishACPRejectsInvalid(t *testing.T) {
	bus := newTestBus(t)

	client, err := NewClient(bus)
	if err != nil {
		t.Fatalf("failed to create client: %v", err)
	}
	defer client.Close()

	m := acp.Message{Type: acp.MsgStatusUpdate, Payload: []byte(`{"status":"x"}`)}
	if err := client.PublishACP(&m); err == nil {
		t.Error("expected addressing validation error")
	}
}

func TestSubjectNames(t *testing.T) {
	if got := SubjectAgent("search_agent"); got != "acp.agent.search_agent" {
		t.Errorf("expected acp.agent.search_agent, got %s", got)
	}
	if got := SubjectTopic("logs"); got != "acp.topic.logs" {
		t.Errorf("expected acp.topic.logs, got %s", got)
	}
	if got := SubjectTaskEvent("t1"); got != "events.task.t1" {
		t.Errorf("expected events.task.t1, got %s", got)
	}

	direct := &acp.Message{Receiver: "orchestrator"}
	if got := SubjectFor(direct); got != "acp.agent.orchestrator" {
		t.Errorf("unexpected subject for direct message: %s", got)
	}
	topical := &acp.Message{Topic: "logs"}
	if got := SubjectFor(topical); got != "acp.topic.logs" {
		t.Errorf("unexpected subject for topic message: %s", got)
	}
}

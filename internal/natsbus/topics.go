package natsbus

import (
	"fmt"

	"github.com/mtzanidakis/synapse/internal/acp"
)

// Subject patterns for NATS pub/sub communication.

// SubjectAgent is an agent's dedicated point-to-point queue.
func SubjectAgent(agentID string) string {
	return fmt.Sprintf("acp.agent.%s", agentID)
}

// SubjectTopic is a shared broadcast topic (logs, control).
func SubjectTopic(topic string) string {
	return fmt.Sprintf("acp.topic.%s", topic)
}

func SubjectTaskEvent(taskID string) string {
	return fmt.Sprintf("events.task.%s", taskID)
}

const (
	SubjectEventsAll  = "events.>"
	SubjectEventsTask = "events.task.*"
	SubjectCtl        = "synapse.ctl"
)

// SubjectFor maps an envelope's addressing mode onto a subject. The
// envelope must already be validated (exactly one mode set).
func SubjectFor(m *acp.Message) string {
	if m.Receiver != "" {
		return SubjectAgent(m.Receiver)
	}
	return SubjectTopic(m.Topic)
}

// Package acp implements the agent communication protocol: the message
// envelope every agent speaks and the closed set of payload variants.
package acp

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

type MsgType string

const (
	MsgTaskAssign   MsgType = "task_assign"
	MsgStatusUpdate MsgType = "status_update"
	MsgDataSubmit   MsgType = "data_submit"
	MsgLogBroadcast MsgType = "log_broadcast"
	MsgCancel       MsgType = "cancel"
)

// Logical broadcast topics. The natsbus package maps these to subjects.
const (
	TopicLogs    = "logs"
	TopicControl = "control"
)

var (
	ErrInvalidEnvelope = errors.New("acp: invalid envelope")
	ErrInvalidPayload  = errors.New("acp: invalid payload")
)

// Message is the wire envelope. Exactly one of Receiver (point-to-point)
// or Topic (broadcast) must be set. ID, Sender and Timestamp are filled by
// the runtime at send time.
type Message struct {
	ID        string          `json:"message_id"`
	Sender    string          `json:"sender_id"`
	Receiver  string          `json:"receiver_id,omitempty"`
	Topic     string          `json:"topic,omitempty"`
	Type      MsgType         `json:"msg_type"`
	Payload   json.RawMessage `json:"payload"`
	Timestamp time.Time       `json:"timestamp"`
}

func (m *Message) Validate() error {
	if (m.Receiver == "") == (m.Topic == "") {
		return fmt.Errorf("%w: exactly one of receiver_id or topic required", ErrInvalidEnvelope)
	}
	switch m.Type {
	case MsgTaskAssign, MsgStatusUpdate, MsgDataSubmit, MsgLogBroadcast, MsgCancel:
	default:
		return fmt.Errorf("%w: unknown msg_type %q", ErrInvalidEnvelope, m.Type)
	}
	if len(m.Payload) == 0 {
		return fmt.Errorf("%w: empty payload", ErrInvalidEnvelope)
	}
	return nil
}

func (m *Message) Encode() ([]byte, error) {
	data, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("marshal message: %w", err)
	}
	return data, nil
}

// Decode parses an envelope and checks it against the protocol invariants.
// The payload itself is validated lazily by DecodePayload.
func Decode(data []byte) (Message, error) {
	var m Message
	if err := json.Unmarshal(data, &m); err != nil {
		return Message{}, fmt.Errorf("%w: %v", ErrInvalidEnvelope, err)
	}
	if err := m.Validate(); err != nil {
		return Message{}, err
	}
	return m, nil
}

// DecodePayload parses the payload against the variant named by msg_type.
// A shape mismatch yields ErrInvalidPayload; the caller drops and logs.
func (m *Message) DecodePayload() (Payload, error) {
	var p Payload
	switch m.Type {
	case MsgTaskAssign:
		p = &TaskAssignPayload{}
	case MsgStatusUpdate:
		p = &StatusUpdatePayload{}
	case MsgDataSubmit:
		p = &DataSubmitPayload{}
	case MsgLogBroadcast:
		p = &LogBroadcastPayload{}
	case MsgCancel:
		p = &CancelPayload{}
	default:
		return nil, fmt.Errorf("%w: unknown msg_type %q", ErrInvalidEnvelope, m.Type)
	}
	if err := json.Unmarshal(m.Payload, p); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	if err := p.Validate(); err != nil {
		return nil, err
	}
	return p, nil
}

func newMessage(typ MsgType, payload any) (Message, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return Message{}, fmt.Errorf("marshal payload: %w", err)
	}
	return Message{Type: typ, Payload: raw}, nil
}

// NewTaskAssign builds a point-to-point task assignment. taskData must
// carry a task_id field.
func NewTaskAssign(receiver, taskType string, taskData any) (Message, error) {
	raw, err := json.Marshal(taskData)
	if err != nil {
		return Message{}, fmt.Errorf("marshal task data: %w", err)
	}
	m, err := newMessage(MsgTaskAssign, TaskAssignPayload{TaskType: taskType, TaskData: raw})
	if err != nil {
		return Message{}, err
	}
	m.Receiver = receiver
	return m, nil
}

func NewStatusUpdate(receiver string, p StatusUpdatePayload) (Message, error) {
	m, err := newMessage(MsgStatusUpdate, p)
	if err != nil {
		return Message{}, err
	}
	m.Receiver = receiver
	return m, nil
}

func NewDataSubmit(receiver string, p DataSubmitPayload) (Message, error) {
	m, err := newMessage(MsgDataSubmit, p)
	if err != nil {
		return Message{}, err
	}
	m.Receiver = receiver
	return m, nil
}

func NewLogBroadcast(level, text, component string) (Message, error) {
	m, err := newMessage(MsgLogBroadcast, LogBroadcastPayload{
		Level:     level,
		Message:   text,
		Component: component,
	})
	if err != nil {
		return Message{}, err
	}
	m.Topic = TopicLogs
	return m, nil
}

func NewCancel(taskID, reason string) (Message, error) {
	m, err := newMessage(MsgCancel, CancelPayload{TaskID: taskID, Reason: reason})
	if err != nil {
		return Message{}, err
	}
	m.Topic = TopicControl
	return m, nil
}

package acp

import (
	"encoding/json"
	"fmt"
)

// Payload is the tagged union of the variant shapes behind msg_type.
type Payload interface {
	Validate() error
}

// TaskAssignPayload instructs a worker to perform one unit of stage work.
type TaskAssignPayload struct {
	TaskType string          `json:"task_type"`
	TaskData json.RawMessage `json:"task_data"`
}

func (p *TaskAssignPayload) Validate() error {
	if p.TaskType == "" {
		return fmt.Errorf("%w: task_assign missing task_type", ErrInvalidPayload)
	}
	if _, err := p.TaskID(); err != nil {
		return err
	}
	return nil
}

// TaskID extracts the correlation key every task_data must carry.
func (p *TaskAssignPayload) TaskID() (string, error) {
	var probe struct {
		TaskID string `json:"task_id"`
	}
	if err := json.Unmarshal(p.TaskData, &probe); err != nil {
		return "", fmt.Errorf("%w: task_data not an object: %v", ErrInvalidPayload, err)
	}
	if probe.TaskID == "" {
		return "", fmt.Errorf("%w: task_data missing task_id", ErrInvalidPayload)
	}
	return probe.TaskID, nil
}

// Bind unmarshals task_data into a stage-specific shape.
func (p *TaskAssignPayload) Bind(v any) error {
	if err := json.Unmarshal(p.TaskData, v); err != nil {
		return fmt.Errorf("%w: task_data: %v", ErrInvalidPayload, err)
	}
	return nil
}

// StatusUpdatePayload is a non-authoritative progress signal. It never
// advances a task's stage; with Failed set it marks the task failed.
type StatusUpdatePayload struct {
	Status   string   `json:"status"`
	Progress *float64 `json:"progress,omitempty"`
	TaskID   string   `json:"task_id,omitempty"`
	Failed   bool     `json:"failed,omitempty"`
}

func (p *StatusUpdatePayload) Validate() error {
	if p.Status == "" {
		return fmt.Errorf("%w: status_update missing status", ErrInvalidPayload)
	}
	return nil
}

// DataSubmitPayload carries a stage's completed output back to the task
// owner. Source identifies the producing unit for join counting.
type DataSubmitPayload struct {
	DataType string          `json:"data_type"`
	Data     json.RawMessage `json:"data"`
	Source   string          `json:"source"`
	TaskID   string          `json:"task_id"`
}

func (p *DataSubmitPayload) Validate() error {
	if p.DataType == "" {
		return fmt.Errorf("%w: data_submit missing data_type", ErrInvalidPayload)
	}
	if p.TaskID == "" {
		return fmt.Errorf("%w: data_submit missing task_id", ErrInvalidPayload)
	}
	if p.Source == "" {
		return fmt.Errorf("%w: data_submit missing source", ErrInvalidPayload)
	}
	if len(p.Data) == 0 {
		return fmt.Errorf("%w: data_submit missing data", ErrInvalidPayload)
	}
	return nil
}

// Bind unmarshals data into a data_type-specific shape.
func (p *DataSubmitPayload) Bind(v any) error {
	if err := json.Unmarshal(p.Data, v); err != nil {
		return fmt.Errorf("%w: data: %v", ErrInvalidPayload, err)
	}
	return nil
}

// LogBroadcastPayload is observability-only traffic on the logs topic.
type LogBroadcastPayload struct {
	Level     string `json:"level"`
	Message   string `json:"message"`
	Component string `json:"component"`
}

func (p *LogBroadcastPayload) Validate() error {
	if p.Level == "" || p.Message == "" {
		return fmt.Errorf("%w: log_broadcast missing level or message", ErrInvalidPayload)
	}
	return nil
}

// CancelPayload asks all agents to stop work for a task. Broadcast on the
// control topic; receivers skip expensive work for cancelled task IDs.
type CancelPayload struct {
	TaskID string `json:"task_id"`
	Reason string `json:"reason,omitempty"`
}

func (p *CancelPayload) Validate() error {
	if p.TaskID == "" {
		return fmt.Errorf("%w: cancel missing task_id", ErrInvalidPayload)
	}
	return nil
}

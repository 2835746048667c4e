// Package agents implements the worker side of the research pipeline:
// search, extraction, fact checking, synthesis, report saving, and the
// log archiver. Each worker is a runtime.Agent plus a stage handler; the
// orchestrator owns all task state, workers only transform inputs to
// DataSubmits.
package agents

import (
	"encoding/json"

	"github.com/mtzanidakis/synapse/internal/acp"
	"github.com/mtzanidakis/synapse/internal/runtime"
)

func sendData(a *runtime.Agent, dataType string, v any, source, taskID string) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return err
	}
	msg, err := acp.NewDataSubmit(acp.AgentOrchestrator, acp.DataSubmitPayload{
		DataType: dataType,
		Data:     raw,
		Source:   source,
		TaskID:   taskID,
	})
	if err != nil {
		return err
	}
	return a.Send(&msg)
}

func sendStatus(a *runtime.Agent, taskID, status string, progress *float64) error {
	msg, err := acp.NewStatusUpdate(acp.AgentOrchestrator, acp.StatusUpdatePayload{
		Status:   status,
		Progress: progress,
		TaskID:   taskID,
	})
	if err != nil {
		return err
	}
	return a.Send(&msg)
}

func sendFailure(a *runtime.Agent, taskID, status string) error {
	msg, err := acp.NewStatusUpdate(acp.AgentOrchestrator, acp.StatusUpdatePayload{
		Status: status,
		TaskID: taskID,
		Failed: true,
	})
	if err != nil {
		return err
	}
	return a.Send(&msg)
}

func broadcastLog(a *runtime.Agent, level, text string) {
	msg, err := acp.NewLogBroadcast(level, text, a.ID())
	if err != nil {
		return
	}
	_ = a.Send(&msg)
}

func progress(v float64) *float64 {
	return &v
}

package agents

import (
	"context"
	"fmt"
	"time"

	"github.com/mtzanidakis/synapse/internal/acp"
	"github.com/mtzanidakis/synapse/internal/natsbus"
	"github.com/mtzanidakis/synapse/internal/report"
	"github.com/mtzanidakis/synapse/internal/runtime"
)

// FileSave persists finished reports under the reports directory and
// confirms the write back to the orchestrator.
type FileSave struct {
	agent  *runtime.Agent
	writer *report.Writer
}

func NewFileSave(bus *natsbus.Bus, writer *report.Writer) *FileSave {
	return &FileSave{
		agent:  runtime.New(acp.AgentFileSave, bus),
		writer: writer,
	}
}

func (f *FileSave) Start(ctx context.Context) error {
	return f.agent.Start(ctx, runtime.HandlerFunc(f.handle))
}

func (f *FileSave) Stop() { f.agent.Stop() }

func (f *FileSave) Status() runtime.Status { return f.agent.Status() }

func (f *FileSave) handle(ctx context.Context, msg *acp.Message) error {
	payload, err := msg.DecodePayload()
	if err != nil {
		return err
	}
	assign, ok := payload.(*acp.TaskAssignPayload)
	if !ok || assign.TaskType != acp.TaskSaveReport {
		return nil
	}

	var task acp.SaveTask
	if err := assign.Bind(&task); err != nil {
		return err
	}
	if f.agent.Cancelled(task.TaskID) {
		return nil
	}

	name := report.Filename(task.TaskID, time.Now())
	path, n, err := f.writer.Write(name, []byte(task.ReportContent))
	if err != nil {
		broadcastLog(f.agent, "error", fmt.Sprintf("report save failed for task %s: %v", task.TaskID, err))
		return sendFailure(f.agent, task.TaskID, fmt.Sprintf("save_failed: %v", err))
	}

	broadcastLog(f.agent, "info", fmt.Sprintf("report saved: %s (%d bytes)", path, n))
	return sendData(f.agent, acp.DataSaveConfirmation, acp.SaveConfirmation{
		Path:  path,
		Bytes: n,
	}, acp.AgentFileSave, task.TaskID)
}

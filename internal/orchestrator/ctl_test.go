package orchestrator

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/mtzanidakis/synapse/internal/natsbus"
	"github.com/mtzanidakis/synapse/internal/store"
	"github.com/mtzanidakis/synapse/internal/vault"
)

func startCtl(t *testing.T, bus *natsbus.Bus, o *Orchestrator, st *store.Store, v *vault.Vault) *natsbus.Client {
	t.Helper()
	ctl := NewCtl(o, st, v)
	if err := ctl.Start(bus); err != nil {
		t.Fatalf("start ctl: %v", err)
	}
	t.Cleanup(ctl.Stop)

	client, err := natsbus.NewClient(bus)
	if err != nil {
		t.Fatalf("ctl test client: %v", err)
	}
	t.Cleanup(client.Close)
	return client
}

func ctlCall(t *testing.T, client *natsbus.Client, reqType string, payload any) CtlResponse {
	t.Helper()
	var raw json.RawMessage
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			t.Fatalf("marshal payload: %v", err)
		}
		raw = data
	}
	req, err := json.Marshal(CtlRequest{Type: reqType, Payload: raw})
	if err != nil {
		t.Fatalf("marshal request: %v", err)
	}

	msg, err := client.Request(natsbus.SubjectCtl, req, 5*time.Second)
	if err != nil {
		t.Fatalf("ctl request %s: %v", reqType, err)
	}
	var resp CtlResponse
	if err := json.Unmarshal(msg.Data, &resp); err != nil {
		t.Fatalf("unmarshal response: %v", err)
	}
	return resp
}

func TestCtlResearchSubmitAndStatus(t *testing.T) {
	bus := newTestBus(t)
	st := newTestStore(t)
	o := startOrchestrator(t, bus, st, testPipeline())
	client := startCtl(t, bus, o, st, nil)

	resp := ctlCall(t, client, "research_submit", map[string]string{"query": "spiking neural networks"})
	if resp.Error != "" {
		t.Fatalf("submit error: %s", resp.Error)
	}
	if resp.TaskID == "" {
		t.Fatal("expected task id")
	}

	waitStage(t, o, resp.TaskID, StageSearching)

	status := ctlCall(t, client, "task_status", map[string]string{"id": resp.TaskID})
	if status.Error != "" {
		t.Fatalf("status error: %s", status.Error)
	}
	if status.Task == nil || status.Task.Query != "spiking neural networks" {
		t.Errorf("unexpected task: %+v", status.Task)
	}

	list := ctlCall(t, client, "task_list", nil)
	if list.Error != "" || len(list.Tasks) != 1 {
		t.Errorf("unexpected list response: %+v", list)
	}
}

func TestCtlSubmitRequiresQuery(t *testing.T) {
	bus := newTestBus(t)
	st := newTestStore(t)
	o := startOrchestrator(t, bus, st, testPipeline())
	client := startCtl(t, bus, o, st, nil)

	resp := ctlCall(t, client, "research_submit", map[string]string{})
	if resp.Error == "" {
		t.Error("expected error for missing query")
	}

	unknown := ctlCall(t, client, "bogus", nil)
	if unknown.Error == "" {
		t.Error("expected error for unknown request type")
	}
}

func TestCtlScheduleLifecycle(t *testing.T) {
	bus := newTestBus(t)
	st := newTestStore(t)
	o := startOrchestrator(t, bus, st, testPipeline())
	client := startCtl(t, bus, o, st, nil)

	created := ctlCall(t, client, "schedule_create", map[string]string{
		"name": "weekly", "schedule": "0 9 * * 1", "query": "federated learning",
	})
	if created.Error != "" || created.TaskID == "" {
		t.Fatalf("unexpected create response: %+v", created)
	}

	bad := ctlCall(t, client, "schedule_create", map[string]string{
		"name": "bad", "schedule": "not a schedule", "query": "q",
	})
	if bad.Error == "" {
		t.Error("expected error for invalid schedule expression")
	}

	list := ctlCall(t, client, "schedule_list", nil)
	if list.Error != "" || len(list.Schedules) != 1 {
		t.Fatalf("unexpected list: %+v", list)
	}
	if list.Schedules[0].NextRunAt == nil {
		t.Error("expected next_run_at to be computed")
	}

	paused := ctlCall(t, client, "schedule_pause", map[string]string{"id": created.TaskID})
	if paused.Error != "" {
		t.Fatalf("pause: %s", paused.Error)
	}
	sc, err := st.GetSchedule(created.TaskID)
	if err != nil || sc == nil || sc.Status != store.ScheduleStatusPaused {
		t.Errorf("schedule not paused: %+v err=%v", sc, err)
	}

	deleted := ctlCall(t, client, "schedule_delete", map[string]string{"id": created.TaskID})
	if deleted.Error != "" {
		t.Fatalf("delete: %s", deleted.Error)
	}
}

func TestCtlSecrets(t *testing.T) {
	bus := newTestBus(t)
	st := newTestStore(t)
	o := startOrchestrator(t, bus, st, testPipeline())
	v := vault.New("test-passphrase")
	client := startCtl(t, bus, o, st, v)

	set := ctlCall(t, client, "secret_set", map[string]string{
		"name": "semantic_scholar_api_key", "value": "sk-123",
	})
	if set.Error != "" {
		t.Fatalf("set: %s", set.Error)
	}

	list := ctlCall(t, client, "secret_list", nil)
	if list.Error != "" || len(list.Secrets) != 1 {
		t.Fatalf("unexpected list: %+v", list)
	}

	// Stored value must be sealed, and open back to the original.
	sec, err := st.GetSecret("semantic_scholar_api_key")
	if err != nil || sec == nil {
		t.Fatalf("get secret: %v", err)
	}
	if string(sec.Value) == "sk-123" {
		t.Error("secret stored in plaintext")
	}
	plain, err := v.Decrypt(sec.Value, sec.Nonce)
	if err != nil || string(plain) != "sk-123" {
		t.Errorf("decrypt round trip failed: %q err=%v", plain, err)
	}
}

func TestCtlSecretsWithoutVault(t *testing.T) {
	bus := newTestBus(t)
	st := newTestStore(t)
	o := startOrchestrator(t, bus, st, testPipeline())
	client := startCtl(t, bus, o, st, nil)

	resp := ctlCall(t, client, "secret_set", map[string]string{"name": "k", "value": "v"})
	if resp.Error == "" {
		t.Error("expected error when vault is not configured")
	}
}

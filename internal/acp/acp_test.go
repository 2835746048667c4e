package acp

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
)

func TestRoundTrip(t *testing.T) {
	msg, err := NewDataSubmit("orchestrator", DataSubmitPayload{
		DataType: DataSearchResults,
		Data:     mustRaw(t, SearchResults{Query: "q", Results: []SearchResult{{Title: "T", URL: "http://x"}}}),
		Source:   "semantic_scholar",
		TaskID:   "task-1",
	})
	if err != nil {
		t.Fatalf("new data submit: %v", err)
	}
	msg.ID = uuid.New().String()
	msg.Sender = "search_agent"
	msg.Timestamp = time.Now().UTC()

	data, err := msg.Encode()
	if err != nil {
		t.Fatalf("encode: %v", err)
	}

	got, err := Decode(data)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}

	if got.Sender != msg.Sender {
		t.Errorf("sender mismatch: %s != %s", got.Sender, msg.Sender)
	}
	if got.Receiver != "orchestrator" || got.Topic != "" {
		t.Errorf("addressing mismatch: receiver=%q topic=%q", got.Receiver, got.Topic)
	}
	if got.Type != MsgDataSubmit {
		t.Errorf("type mismatch: %s", got.Type)
	}

	p, err := got.DecodePayload()
	if err != nil {
		t.Fatalf("decode payload: %v", err)
	}
	ds, ok := p.(*DataSubmitPayload)
	if !ok {
		t.Fatalf("expected DataSubmitPayload, got %T", p)
	}
	if ds.TaskID != "task-1" || ds.DataType != DataSearchResults {
		t.Errorf("payload fields lost: %+v", ds)
	}

	var sr SearchResults
	if err := ds.Bind(&sr); err != nil {
		t.Fatalf("bind: %v", err)
	}
	if len(sr.Results) != 1 || sr.Results[0].Title != "T" {
		t.Errorf("data fields lost: %+v", sr)
	}
}

func TestValidateAddressing(t *testing.T) {
	tests := []struct {
		name     string
		receiver string
		topic    string
		wantErr  bool
	}{
		{"receiver only", "orchestrator", "", false},
		{"topic only", "", TopicLogs, false},
		{"both set", "orchestrator", TopicLogs, true},
		{"neither set", "", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := Message{
				Receiver: tt.receiver,
				Topic:    tt.topic,
				Type:     MsgStatusUpdate,
				Payload:  []byte(`{"status":"ok"}`),
			}
			err := m.Validate()
			if tt.wantErr && err == nil {
				t.Error("expected error, got nil")
			}
			if !tt.wantErr && err != nil {
				t.Errorf("unexpected error: %v", err)
			}
		})
	}
}

func TestDecodeRejectsUnknownType(t *testing.T) {
	_, err := Decode([]byte(`{"receiver_id":"x","msg_type":"bogus","payload":{"a":1}}`))
	if !errors.Is(err, ErrInvalidEnvelope) {
		t.Errorf("expected ErrInvalidEnvelope, got %v", err)
	}
}

func TestDecodePayloadShapeMismatch(t *testing.T) {
	tests := []struct {
		name    string
		typ     MsgType
		payload string
	}{
		{"task_assign without task_type", MsgTaskAssign, `{"task_data":{"task_id":"t1"}}`},
		{"task_assign without task_id", MsgTaskAssign, `{"task_type":"web_search","task_data":{"query":"q"}}`},
		{"status_update without status", MsgStatusUpdate, `{"progress":50}`},
		{"data_submit without task_id", MsgDataSubmit, `{"data_type":"search_results","source":"s","data":{}}`},
		{"data_submit without source", MsgDataSubmit, `{"data_type":"search_results","task_id":"t1","data":{}}`},
		{"log_broadcast without level", MsgLogBroadcast, `{"message":"m","component":"c"}`},
		{"cancel without task_id", MsgCancel, `{"reason":"r"}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := Message{
				Receiver: "x",
				Type:     tt.typ,
				Payload:  []byte(tt.payload),
			}
			if _, err := m.DecodePayload(); !errors.Is(err, ErrInvalidPayload) {
				t.Errorf("expected ErrInvalidPayload, got %v", err)
			}
		})
	}
}

func TestTaskAssignTaskID(t *testing.T) {
	msg, err := NewTaskAssign("search_agent", TaskWebSearch, SearchTask{TaskID: "t9", Query: "AI"})
	if err != nil {
		t.Fatalf("new task assign: %v", err)
	}

	p, err := msg.DecodePayload()
	if err != nil {
		t.Fatalf("decode payload: %v", err)
	}
	ta := p.(*TaskAssignPayload)

	id, err := ta.TaskID()
	if err != nil {
		t.Fatalf("task id: %v", err)
	}
	if id != "t9" {
		t.Errorf("expected t9, got %s", id)
	}

	var st SearchTask
	if err := ta.Bind(&st); err != nil {
		t.Fatalf("bind: %v", err)
	}
	if st.Query != "AI" {
		t.Errorf("expected query AI, got %q", st.Query)
	}
}

func TestLogBroadcastAddressesTopic(t *testing.T) {
	msg, err := NewLogBroadcast("INFO", "hello", "search_agent")
	if err != nil {
		t.Fatalf("new log broadcast: %v", err)
	}
	if msg.Topic != TopicLogs || msg.Receiver != "" {
		t.Errorf("expected logs topic addressing, got receiver=%q topic=%q", msg.Receiver, msg.Topic)
	}
}

func mustRaw(t *testing.T, v any) []byte {
	t.Helper()
	data, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	return data
}

package main

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/nats-io/nats.go"
)

const ctlSubject = "synapse.ctl"

type ctlRequest struct {
	Type    string         `json:"type"`
	Payload map[string]any `json:"payload,omitempty"`
}

type ctlResponse struct {
	OK        bool       `json:"ok"`
	Error     string     `json:"error,omitempty"`
	TaskID    string     `json:"task_id,omitempty"`
	Task      *task      `json:"task,omitempty"`
	Tasks     []task     `json:"tasks,omitempty"`
	Schedules []schedule `json:"schedules,omitempty"`
	Secrets   []string   `json:"secrets,omitempty"`
}

type task struct {
	ID         string `json:"id"`
	Query      string `json:"query"`
	Stage      string `json:"stage"`
	FailReason string `json:"fail_reason,omitempty"`
	ReportPath string `json:"report_path,omitempty"`
	Sources    int    `json:"sources,omitempty"`
	WordCount  int    `json:"word_count,omitempty"`
}

type schedule struct {
	ID        string     `json:"id"`
	Name      string     `json:"name"`
	Schedule  string     `json:"schedule"`
	Query     string     `json:"query"`
	Status    string     `json:"status"`
	NextRunAt *time.Time `json:"next_run_at,omitempty"`
}

func sendCtl(natsURL, reqType string, payload map[string]any) (*ctlResponse, error) {
	conn, err := nats.Connect(natsURL)
	if err != nil {
		return nil, fmt.Errorf("connect to nats: %w", err)
	}
	defer conn.Close()

	data, err := json.Marshal(ctlRequest{Type: reqType, Payload: payload})
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	msg, err := conn.Request(ctlSubject, data, 10*time.Second)
	if err != nil {
		return nil, fmt.Errorf("control request: %w", err)
	}

	var resp ctlResponse
	if err := json.Unmarshal(msg.Data, &resp); err != nil {
		return nil, fmt.Errorf("unmarshal response: %w", err)
	}
	if resp.Error != "" {
		return nil, fmt.Errorf("%s", resp.Error)
	}
	return &resp, nil
}

func parseArgs(args []string) map[string]string {
	result := make(map[string]string)
	for i := 0; i < len(args); i++ {
		if len(args[i]) > 2 && args[i][:2] == "--" && i+1 < len(args) {
			result[args[i][2:]] = args[i+1]
			i++
		}
	}
	return result
}

func usage() {
	fmt.Fprintln(os.Stderr, "Usage:")
	fmt.Fprintln(os.Stderr, `  sctl research --query "..."`)
	fmt.Fprintln(os.Stderr, `  sctl status --id "..."`)
	fmt.Fprintln(os.Stderr, "  sctl tasks")
	fmt.Fprintln(os.Stderr, `  sctl cancel --id "..."`)
	fmt.Fprintln(os.Stderr, `  sctl schedule create --name "..." --schedule "..." --query "..."`)
	fmt.Fprintln(os.Stderr, "  sctl schedule list")
	fmt.Fprintln(os.Stderr, `  sctl schedule pause|resume|delete --id "..."`)
	fmt.Fprintln(os.Stderr, `  sctl secret set --name "..." --value "..."`)
	fmt.Fprintln(os.Stderr, "  sctl secret list")
	fmt.Fprintln(os.Stderr, `  sctl secret delete --name "..."`)
	os.Exit(1)
}

func fatal(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "Error: "+format+"\n", args...)
	os.Exit(1)
}

func main() {
	natsURL := os.Getenv("NATS_URL")
	if natsURL == "" {
		natsURL = "nats://localhost:4222"
	}

	if len(os.Args) < 2 {
		usage()
	}

	command := os.Args[1]
	rest := os.Args[2:]

	switch command {
	case "research":
		args := parseArgs(rest)
		if args["query"] == "" {
			fatal("--query is required")
		}
		resp, err := sendCtl(natsURL, "research_submit", map[string]any{"query": args["query"]})
		if err != nil {
			fatal("%v", err)
		}
		fmt.Printf("Research started: %s\n", resp.TaskID)

	case "status":
		args := parseArgs(rest)
		if args["id"] == "" {
			fatal("--id is required")
		}
		resp, err := sendCtl(natsURL, "task_status", map[string]any{"id": args["id"]})
		if err != nil {
			fatal("%v", err)
		}
		printTask(resp.Task)

	case "tasks":
		resp, err := sendCtl(natsURL, "task_list", nil)
		if err != nil {
			fatal("%v", err)
		}
		if len(resp.Tasks) == 0 {
			fmt.Println("No tasks found.")
			return
		}
		for _, t := range resp.Tasks {
			fmt.Printf("  %s  %-13s  %s\n", t.ID, t.Stage, t.Query)
		}

	case "cancel":
		args := parseArgs(rest)
		if args["id"] == "" {
			fatal("--id is required")
		}
		if _, err := sendCtl(natsURL, "task_cancel", map[string]any{"id": args["id"], "reason": "cli request"}); err != nil {
			fatal("%v", err)
		}
		fmt.Println("Cancel requested.")

	case "schedule":
		runSchedule(natsURL, rest)

	case "secret":
		runSecret(natsURL, rest)

	default:
		fatal("unknown command: %s", command)
	}
}

func runSchedule(natsURL string, rest []string) {
	if len(rest) < 1 {
		usage()
	}
	sub := rest[0]
	args := parseArgs(rest[1:])

	switch sub {
	case "create":
		if args["name"] == "" || args["schedule"] == "" || args["query"] == "" {
			fatal("--name, --schedule, and --query are required")
		}
		resp, err := sendCtl(natsURL, "schedule_create", map[string]any{
			"name":     args["name"],
			"schedule": args["schedule"],
			"query":    args["query"],
		})
		if err != nil {
			fatal("%v", err)
		}
		fmt.Printf("Schedule created: %s\n", resp.TaskID)

	case "list":
		resp, err := sendCtl(natsURL, "schedule_list", nil)
		if err != nil {
			fatal("%v", err)
		}
		if len(resp.Schedules) == 0 {
			fmt.Println("No schedules found.")
			return
		}
		for _, sc := range resp.Schedules {
			next := "-"
			if sc.NextRunAt != nil {
				next = sc.NextRunAt.Local().Format(time.RFC3339)
			}
			fmt.Printf("  %s  %-8s  %-20s  next: %s  [%s]\n", sc.ID, sc.Status, sc.Name, next, sc.Schedule)
		}

	case "pause", "resume", "delete":
		if args["id"] == "" {
			fatal("--id is required")
		}
		if _, err := sendCtl(natsURL, "schedule_"+sub, map[string]any{"id": args["id"]}); err != nil {
			fatal("%v", err)
		}
		fmt.Printf("Schedule %sd.\n", sub)

	default:
		fatal("unknown schedule command: %s", sub)
	}
}

func runSecret(natsURL string, rest []string) {
	if len(rest) < 1 {
		usage()
	}
	sub := rest[0]
	args := parseArgs(rest[1:])

	switch sub {
	case "set":
		if args["name"] == "" || args["value"] == "" {
			fatal("--name and --value are required")
		}
		if _, err := sendCtl(natsURL, "secret_set", map[string]any{
			"name":  args["name"],
			"value": args["value"],
		}); err != nil {
			fatal("%v", err)
		}
		fmt.Println("Secret stored.")

	case "list":
		resp, err := sendCtl(natsURL, "secret_list", nil)
		if err != nil {
			fatal("%v", err)
		}
		if len(resp.Secrets) == 0 {
			fmt.Println("No secrets found.")
			return
		}
		for _, name := range resp.Secrets {
			fmt.Printf("  %s\n", name)
		}

	case "delete":
		if args["name"] == "" {
			fatal("--name is required")
		}
		if _, err := sendCtl(natsURL, "secret_delete", map[string]any{"name": args["name"]}); err != nil {
			fatal("%v", err)
		}
		fmt.Println("Secret deleted.")

	default:
		fatal("unknown secret command: %s", sub)
	}
}

func printTask(t *task) {
	if t == nil {
		fmt.Println("Task not found.")
		return
	}
	fmt.Printf("ID:     %s\n", t.ID)
	fmt.Printf("Query:  %s\n", t.Query)
	fmt.Printf("Stage:  %s\n", t.Stage)
	if t.FailReason != "" {
		fmt.Printf("Failed: %s\n", t.FailReason)
	}
	if t.ReportPath != "" {
		fmt.Printf("Report: %s (%d words, %d sources)\n", t.ReportPath, t.WordCount, t.Sources)
	}
}

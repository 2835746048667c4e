package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/mtzanidakis/synapse/internal/agents"
	"github.com/mtzanidakis/synapse/internal/config"
	"github.com/mtzanidakis/synapse/internal/natsbus"
	"github.com/mtzanidakis/synapse/internal/orchestrator"
	"github.com/mtzanidakis/synapse/internal/registry"
	"github.com/mtzanidakis/synapse/internal/report"
	"github.com/mtzanidakis/synapse/internal/runtime"
	"github.com/mtzanidakis/synapse/internal/scheduler"
	"github.com/mtzanidakis/synapse/internal/store"
	"github.com/mtzanidakis/synapse/internal/vault"
	"github.com/mtzanidakis/synapse/internal/web"
)

var version = "dev"

// searchAPIKeySecret is the vault secret consulted when the Semantic
// Scholar key is not set via config or environment.
const searchAPIKeySecret = "semantic_scholar_api_key"

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	switch os.Args[1] {
	case "version":
		fmt.Printf("synapse %s\n", version)
	case "serve":
		if err := runServe(); err != nil {
			slog.Error("serve failed", "error", err)
			os.Exit(1)
		}
	case "backup":
		if err := runBackup(os.Args[2:]); err != nil {
			slog.Error("backup failed", "error", err)
			os.Exit(1)
		}
	case "restore":
		if err := runRestore(os.Args[2:]); err != nil {
			slog.Error("restore failed", "error", err)
			os.Exit(1)
		}
	default:
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Fprintf(os.Stderr, "Usage: synapse <command>\n\nCommands:\n  serve      Start the research pipeline service\n  backup     Archive the database and reports to a .tar.zst file\n  restore    Restore a backup archive\n  version    Print version\n")
}

// worker is the lifecycle every pipeline agent exposes.
type worker interface {
	Start(ctx context.Context) error
	Stop()
	Status() runtime.Status
}

func runServe() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	slog.Info("starting synapse", "version", version)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// SQLite store
	db, err := store.New(cfg.Store)
	if err != nil {
		return fmt.Errorf("init store: %w", err)
	}
	defer db.Close()
	slog.Info("store initialized", "path", cfg.Store.Path)

	// Embedded NATS
	bus, err := natsbus.New(cfg.NATS)
	if err != nil {
		return fmt.Errorf("init nats: %w", err)
	}
	defer bus.Close()
	slog.Info("nats started", "port", bus.Port())

	// Agent registry
	reg := registry.New(db)
	if err := reg.Sync(); err != nil {
		return fmt.Errorf("sync agent registry: %w", err)
	}

	// Report writer
	reports, err := report.NewWriter(cfg.Reports.Dir)
	if err != nil {
		return fmt.Errorf("init report writer: %w", err)
	}

	// Secret vault
	var v *vault.Vault
	if cfg.Vault.Passphrase != "" {
		v = vault.New(cfg.Vault.Passphrase)
	} else {
		slog.Warn("vault passphrase not set, secret storage disabled")
	}

	// A sealed API key beats an empty config value.
	if cfg.Search.APIKey == "" && v != nil {
		if sec, err := db.GetSecret(searchAPIKeySecret); err == nil && sec != nil {
			key, err := v.Decrypt(sec.Value, sec.Nonce)
			if err != nil {
				return fmt.Errorf("decrypt %s: %w", searchAPIKeySecret, err)
			}
			cfg.Search.APIKey = string(key)
			slog.Info("search api key loaded from vault")
		}
	}

	// LLM client shared by fact checking and synthesis
	llm, err := agents.NewOllamaGenerator(cfg.Ollama)
	if err != nil {
		slog.Warn("ollama unavailable, falling back to heuristics", "error", err)
		llm = nil
	}

	// Pipeline workers
	workers := []worker{
		agents.NewSearch(bus, cfg.Search),
		agents.NewExtraction(bus),
		agents.NewFactChecker(bus, llm),
		agents.NewSynthesis(bus, llm, cfg.Ollama.Model),
		agents.NewFileSave(bus, reports),
		agents.NewLogger(bus, db),
	}
	for _, w := range workers {
		if err := w.Start(ctx); err != nil {
			return fmt.Errorf("start agent: %w", err)
		}
	}
	slog.Info("pipeline agents started", "count", len(workers))

	// Orchestrator
	orch := orchestrator.New(bus, db, cfg.Pipeline)
	if err := orch.Start(ctx); err != nil {
		return fmt.Errorf("start orchestrator: %w", err)
	}

	// NATS control plane
	ctl := orchestrator.NewCtl(orch, db, v)
	if err := ctl.Start(bus); err != nil {
		return fmt.Errorf("start control plane: %w", err)
	}

	// Scheduler
	sched := scheduler.New(db, orch, cfg.Scheduler)
	ctl.SetScheduleReloader(sched)
	go sched.Start(ctx)
	slog.Info("scheduler started")

	// Web UI
	if cfg.Web.Enabled {
		health := func() []runtime.Status {
			statuses := make([]runtime.Status, 0, len(workers)+1)
			statuses = append(statuses, orch.AgentStatus())
			for _, w := range workers {
				statuses = append(statuses, w.Status())
			}
			return statuses
		}
		srv := web.NewServer(db, bus, orch, reg, reports, health, cfg.Web, version)
		srv.SetScheduleReloader(sched)
		go func() {
			if err := srv.Start(ctx); err != nil {
				slog.Error("web server error", "error", err)
			}
		}()
		slog.Info("web server started", "port", cfg.Web.Port)
	}

	// Wait for shutdown signal
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	slog.Info("shutting down", "signal", sig)
	cancel()

	// Stop ingress paths first, then the pipeline in reverse order.
	ctl.Stop()
	orch.Stop()
	for i := len(workers) - 1; i >= 0; i-- {
		workers[i].Stop()
	}
	return nil
}

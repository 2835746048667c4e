package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	NATS      NATSConfig      `yaml:"nats"`
	Store     StoreConfig     `yaml:"store"`
	Web       WebConfig       `yaml:"web"`
	Reports   ReportsConfig   `yaml:"reports"`
	Search    SearchConfig    `yaml:"search"`
	Ollama    OllamaConfig    `yaml:"ollama"`
	Pipeline  PipelineConfig  `yaml:"pipeline"`
	Scheduler SchedulerConfig `yaml:"scheduler"`
	Vault     VaultConfig     `yaml:"vault"`
}

type NATSConfig struct {
	Port    int    `yaml:"port"`
	DataDir string `yaml:"data_dir"`
}

type StoreConfig struct {
	Path string `yaml:"path"`
}

type WebConfig struct {
	Enabled bool `yaml:"enabled"`
	Port    int  `yaml:"port"`
}

type ReportsConfig struct {
	Dir string `yaml:"dir"`
}

type SearchConfig struct {
	BaseURL      string        `yaml:"base_url"`
	APIKey       string        `yaml:"api_key"`
	MaxResults   int           `yaml:"max_results"`
	Timeout      time.Duration `yaml:"timeout"`
	RetryBackoff time.Duration `yaml:"retry_backoff"`
}

type OllamaConfig struct {
	Host  string `yaml:"host"`
	Model string `yaml:"model"`
}

// PipelineConfig holds the per-stage time budgets enforced by the
// orchestrator and the fan-out width for extraction.
type PipelineConfig struct {
	MaxSources       int           `yaml:"max_sources"`
	SearchTimeout    time.Duration `yaml:"search_timeout"`
	ExtractTimeout   time.Duration `yaml:"extract_timeout"`
	FactCheckTimeout time.Duration `yaml:"fact_check_timeout"`
	SynthesisTimeout time.Duration `yaml:"synthesis_timeout"`
	SaveTimeout      time.Duration `yaml:"save_timeout"`
}

type SchedulerConfig struct {
	PollInterval time.Duration `yaml:"poll_interval"`
}

type VaultConfig struct {
	Passphrase string `yaml:"passphrase"`
}

func defaults() Config {
	return Config{
		NATS: NATSConfig{
			Port:    4222,
			DataDir: "data/nats",
		},
		Store: StoreConfig{
			Path: "data/synapse.db",
		},
		Web: WebConfig{
			Enabled: true,
			Port:    8080,
		},
		Reports: ReportsConfig{
			Dir: "data/reports",
		},
		Search: SearchConfig{
			BaseURL:      "https://api.semanticscholar.org/graph/v1",
			MaxResults:   10,
			Timeout:      15 * time.Second,
			RetryBackoff: 30 * time.Second,
		},
		Ollama: OllamaConfig{
			Host:  "http://localhost:11434",
			Model: "llama3.1:8b",
		},
		Pipeline: PipelineConfig{
			MaxSources:       5,
			SearchTimeout:    2 * time.Minute,
			ExtractTimeout:   3 * time.Minute,
			FactCheckTimeout: 3 * time.Minute,
			SynthesisTimeout: 5 * time.Minute,
			SaveTimeout:      time.Minute,
		},
		Scheduler: SchedulerConfig{
			PollInterval: 30 * time.Second,
		},
	}
}

func Load() (*Config, error) {
	cfg := defaults()

	path := os.Getenv("SYNAPSE_CONFIG")
	if path == "" {
		path = "config/synapse.yaml"
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("read config: %w", err)
		}
		// Config file not found, use defaults + env
	} else {
		// Expand environment variables in YAML
		expanded := os.ExpandEnv(string(data))
		if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	// Environment variable overrides
	applyEnv(&cfg)

	return &cfg, nil
}

func applyEnv(cfg *Config) {
	if v := os.Getenv("SEMANTIC_SCHOLAR_API_KEY"); v != "" {
		cfg.Search.APIKey = v
	}
	if v := os.Getenv("SYNAPSE_OLLAMA_HOST"); v != "" {
		cfg.Ollama.Host = v
	}
	if v := os.Getenv("SYNAPSE_OLLAMA_MODEL"); v != "" {
		cfg.Ollama.Model = v
	}
	if v := os.Getenv("SYNAPSE_WEB_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Web.Port = port
		}
	}
	if v := os.Getenv("SYNAPSE_NATS_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.NATS.Port = port
		}
	}
	if v := os.Getenv("SYNAPSE_STORE_PATH"); v != "" {
		cfg.Store.Path = v
	}
	if v := os.Getenv("SYNAPSE_REPORTS_DIR"); v != "" {
		cfg.Reports.Dir = v
	}
	if v := os.Getenv("SYNAPSE_VAULT_PASSPHRASE"); v != "" {
		cfg.Vault.Passphrase = v
	}
}

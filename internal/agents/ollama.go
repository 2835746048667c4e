package agents

import (
	"context"
	"fmt"
	"net/http"
	"net/url"

	"github.com/mtzanidakis/synapse/internal/config"
	"github.com/ollama/ollama/api"
)

// Generator produces text for a prompt. The Ollama client implements it;
// tests substitute fakes, and a nil Generator means "no LLM configured"
// and workers fall back to their heuristic paths.
type Generator interface {
	Generate(ctx context.Context, prompt string) (string, error)
}

type ollamaGenerator struct {
	client *api.Client
	model  string
}

// NewOllamaGenerator wraps the Ollama chat API as a plain prompt-to-text
// generator.
func NewOllamaGenerator(cfg config.OllamaConfig) (Generator, error) {
	host, err := url.Parse(cfg.Host)
	if err != nil {
		return nil, fmt.Errorf("parse ollama host: %w", err)
	}
	return &ollamaGenerator{
		client: api.NewClient(host, http.DefaultClient),
		model:  cfg.Model,
	}, nil
}

func (g *ollamaGenerator) Generate(ctx context.Context, prompt string) (string, error) {
	stream := false
	req := &api.ChatRequest{
		Model:    g.model,
		Messages: []api.Message{{Role: "user", Content: prompt}},
		Stream:   &stream,
	}

	var content string
	err := g.client.Chat(ctx, req, func(resp api.ChatResponse) error {
		content = resp.Message.Content
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("ollama chat: %w", err)
	}
	return content, nil
}

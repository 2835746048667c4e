package agents

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/mtzanidakis/synapse/internal/acp"
	"github.com/mtzanidakis/synapse/internal/config"
	"github.com/mtzanidakis/synapse/internal/natsbus"
	"github.com/mtzanidakis/synapse/internal/retry"
	"github.com/mtzanidakis/synapse/internal/runtime"
)

const searchSource = "semantic_scholar"

// Search queries the Semantic Scholar paper API. Rate limiting gets
// exactly one retry after a backoff; a second 429 fails the task.
type Search struct {
	agent  *runtime.Agent
	api    *scholarClient
	policy retry.Policy
}

func NewSearch(bus *natsbus.Bus, cfg config.SearchConfig) *Search {
	return &Search{
		agent: runtime.New(acp.AgentSearch, bus),
		api:   newScholarClient(cfg),
		policy: retry.Policy{
			Name:        "semantic_scholar_429",
			MaxAttempts: 2,
			Backoff:     cfg.RetryBackoff,
		},
	}
}

func (s *Search) Start(ctx context.Context) error {
	return s.agent.Start(ctx, runtime.HandlerFunc(s.handle))
}

func (s *Search) Stop() { s.agent.Stop() }

func (s *Search) Status() runtime.Status { return s.agent.Status() }

func (s *Search) handle(ctx context.Context, msg *acp.Message) error {
	payload, err := msg.DecodePayload()
	if err != nil {
		return err
	}
	assign, ok := payload.(*acp.TaskAssignPayload)
	if !ok || assign.TaskType != acp.TaskWebSearch {
		return nil
	}

	var task acp.SearchTask
	if err := assign.Bind(&task); err != nil {
		return err
	}
	if s.agent.Cancelled(task.TaskID) {
		return nil
	}

	_ = sendStatus(s.agent, task.TaskID, "searching papers", progress(10))

	var results []acp.SearchResult
	err = s.policy.Do(ctx, func() error {
		var err error
		results, err = s.api.search(ctx, task.Query)
		return err
	})
	if err != nil {
		broadcastLog(s.agent, "error", fmt.Sprintf("search failed for task %s: %v", task.TaskID, err))
		return sendFailure(s.agent, task.TaskID, fmt.Sprintf("search_failed: %v", err))
	}
	if s.agent.Cancelled(task.TaskID) {
		return nil
	}

	broadcastLog(s.agent, "info", fmt.Sprintf("found %d papers for task %s", len(results), task.TaskID))
	return sendData(s.agent, acp.DataSearchResults, acp.SearchResults{
		Query:   task.Query,
		Results: results,
	}, searchSource, task.TaskID)
}

// scholarClient is a minimal Semantic Scholar graph API client.
type scholarClient struct {
	baseURL    string
	apiKey     string
	maxResults int
	http       *http.Client
}

func newScholarClient(cfg config.SearchConfig) *scholarClient {
	return &scholarClient{
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:     cfg.APIKey,
		maxResults: cfg.MaxResults,
		http:       &http.Client{Timeout: cfg.Timeout},
	}
}

const searchFields = "title,abstract,authors,year,venue,citationCount,url,openAccessPdf"

func (c *scholarClient) search(ctx context.Context, query string) ([]acp.SearchResult, error) {
	q := url.Values{}
	q.Set("query", query)
	q.Set("limit", strconv.Itoa(c.maxResults))
	q.Set("fields", searchFields)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		c.baseURL+"/paper/search?"+q.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("build search request: %w", err)
	}
	if c.apiKey != "" {
		req.Header.Set("x-api-key", c.apiKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("search request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests {
		return nil, retry.Transient(fmt.Errorf("search rate limited (429)"))
	}
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("search returned %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var parsed struct {
		Data []struct {
			Title    string `json:"title"`
			Abstract string `json:"abstract"`
			Year     int    `json:"year"`
			Venue    string `json:"venue"`
			Authors  []struct {
				Name string `json:"name"`
			} `json:"authors"`
			CitationCount int    `json:"citationCount"`
			URL           string `json:"url"`
			OpenAccessPdf *struct {
				URL string `json:"url"`
			} `json:"openAccessPdf"`
		} `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("decode search response: %w", err)
	}

	results := make([]acp.SearchResult, 0, len(parsed.Data))
	for _, p := range parsed.Data {
		if p.URL == "" {
			continue
		}
		names := make([]string, 0, len(p.Authors))
		for _, a := range p.Authors {
			names = append(names, a.Name)
		}
		r := acp.SearchResult{
			Title:     p.Title,
			Authors:   strings.Join(names, ", "),
			Year:      p.Year,
			Abstract:  p.Abstract,
			Venue:     p.Venue,
			Citations: p.CitationCount,
			URL:       p.URL,
		}
		if p.OpenAccessPdf != nil {
			r.PDFURL = p.OpenAccessPdf.URL
		}
		results = append(results, r)
	}
	return results, nil
}

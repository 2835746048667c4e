package agents

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/mtzanidakis/synapse/internal/acp"
	"github.com/mtzanidakis/synapse/internal/natsbus"
	"github.com/mtzanidakis/synapse/internal/report"
	"github.com/mtzanidakis/synapse/internal/runtime"

	"golang.org/x/net/html"
)

const (
	fetchTimeout    = 20 * time.Second
	maxFetchBytes   = 2 << 20 // 2 MiB per source
	maxContentWords = 2000
)

// Extraction fetches each assigned source and reduces it to plain text.
// A source that cannot be fetched degrades to an unsuccessful extraction
// built from the paper abstract; it never fails the task.
type Extraction struct {
	agent *runtime.Agent
	http  *http.Client
}

func NewExtraction(bus *natsbus.Bus) *Extraction {
	return &Extraction{
		agent: runtime.New(acp.AgentExtraction, bus),
		http:  &http.Client{Timeout: fetchTimeout},
	}
}

func (e *Extraction) Start(ctx context.Context) error {
	return e.agent.Start(ctx, runtime.HandlerFunc(e.handle))
}

func (e *Extraction) Stop() { e.agent.Stop() }

func (e *Extraction) Status() runtime.Status { return e.agent.Status() }

func (e *Extraction) handle(ctx context.Context, msg *acp.Message) error {
	payload, err := msg.DecodePayload()
	if err != nil {
		return err
	}
	assign, ok := payload.(*acp.TaskAssignPayload)
	if !ok || assign.TaskType != acp.TaskExtract {
		return nil
	}

	var task acp.ExtractTask
	if err := assign.Bind(&task); err != nil {
		return err
	}
	if e.agent.Cancelled(task.TaskID) {
		return nil
	}

	out := e.extract(ctx, task.Source)
	if e.agent.Cancelled(task.TaskID) {
		return nil
	}
	if !out.Successful {
		broadcastLog(e.agent, "warn",
			fmt.Sprintf("extraction degraded for %s: %s", out.URL, out.Error))
	}
	return sendData(e.agent, acp.DataExtractedContent, out, task.Source.URL, task.TaskID)
}

func (e *Extraction) extract(ctx context.Context, src acp.SearchResult) acp.ExtractedContent {
	target := src.PDFURL
	if target == "" || strings.HasSuffix(target, ".pdf") {
		target = src.URL
	}

	text, err := e.fetchText(ctx, target)
	if err != nil || report.WordCount(text) < 20 {
		if err == nil {
			err = fmt.Errorf("page yielded no usable text")
		}
		return degradedExtraction(src, err)
	}

	words := strings.Fields(text)
	if len(words) > maxContentWords {
		text = strings.Join(words[:maxContentWords], " ")
	}

	return acp.ExtractedContent{
		URL:        src.URL,
		Title:      src.Title,
		Content:    text,
		WordCount:  report.WordCount(text),
		Successful: true,
	}
}

func (e *Extraction) fetchText(ctx context.Context, target string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return "", fmt.Errorf("build fetch request: %w", err)
	}
	req.Header.Set("User-Agent", "synapse-research/1.0")

	resp, err := e.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("fetch: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("fetch returned %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxFetchBytes))
	if err != nil {
		return "", fmt.Errorf("read body: %w", err)
	}
	return htmlToText(string(body)), nil
}

// degradedExtraction is the per-source fallback: the abstract stands in
// for the page text so downstream stages still have something to verify.
func degradedExtraction(src acp.SearchResult, cause error) acp.ExtractedContent {
	content := src.Abstract
	if content == "" {
		content = "Content unavailable for this source."
	}
	return acp.ExtractedContent{
		URL:        src.URL,
		Title:      src.Title,
		Content:    content,
		WordCount:  report.WordCount(content),
		Successful: false,
		Error:      cause.Error(),
	}
}

// htmlToText walks the parse tree and collects visible text, skipping
// script, style and navigation chrome.
func htmlToText(page string) string {
	doc, err := html.Parse(strings.NewReader(page))
	if err != nil {
		return ""
	}

	var b strings.Builder
	var walk func(n *html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode {
			switch n.Data {
			case "script", "style", "noscript", "nav", "header", "footer":
				return
			}
		}
		if n.Type == html.TextNode {
			text := strings.TrimSpace(n.Data)
			if text != "" {
				b.WriteString(text)
				b.WriteByte(' ')
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(doc)

	return strings.Join(strings.Fields(b.String()), " ")
}

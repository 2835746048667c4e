package agents

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/mtzanidakis/synapse/internal/acp"
	"github.com/mtzanidakis/synapse/internal/natsbus"
	"github.com/mtzanidakis/synapse/internal/runtime"
)

// FactChecker scores each extraction for relevance to the research
// query. With a Generator configured the score comes from the LLM;
// otherwise a term-overlap heuristic stands in. Scoring never fails the
// task: an unscorable source is forwarded unverified.
type FactChecker struct {
	agent *runtime.Agent
	llm   Generator
}

func NewFactChecker(bus *natsbus.Bus, llm Generator) *FactChecker {
	return &FactChecker{
		agent: runtime.New(acp.AgentFactChecker, bus),
		llm:   llm,
	}
}

func (f *FactChecker) Start(ctx context.Context) error {
	return f.agent.Start(ctx, runtime.HandlerFunc(f.handle))
}

func (f *FactChecker) Stop() { f.agent.Stop() }

func (f *FactChecker) Status() runtime.Status { return f.agent.Status() }

func (f *FactChecker) handle(ctx context.Context, msg *acp.Message) error {
	payload, err := msg.DecodePayload()
	if err != nil {
		return err
	}
	assign, ok := payload.(*acp.TaskAssignPayload)
	if !ok || assign.TaskType != acp.TaskFactCheck {
		return nil
	}

	var task acp.FactCheckTask
	if err := assign.Bind(&task); err != nil {
		return err
	}
	if f.agent.Cancelled(task.TaskID) {
		return nil
	}

	out := f.verify(ctx, task.Query, task.Extraction)
	if f.agent.Cancelled(task.TaskID) {
		return nil
	}
	return sendData(f.agent, acp.DataVerifiedContent, out, task.Extraction.URL, task.TaskID)
}

func (f *FactChecker) verify(ctx context.Context, query string, ec acp.ExtractedContent) acp.VerifiedContent {
	out := acp.VerifiedContent{
		URL:     ec.URL,
		Title:   ec.Title,
		Content: ec.Content,
	}

	if !ec.Successful {
		out.Confidence = 0.2
		out.Notes = "source extraction was degraded, scored from fallback content"
		return out
	}

	var confidence float64
	var notes string
	var err error
	if f.llm != nil {
		confidence, notes, err = f.llmScore(ctx, query, ec)
	}
	if f.llm == nil || err != nil {
		confidence = overlapScore(query, ec.Content)
		notes = "heuristic term-overlap score"
		if err != nil {
			notes = fmt.Sprintf("llm scoring failed (%v), heuristic term-overlap score", err)
		}
	}

	out.Confidence = confidence
	out.Notes = notes
	out.Successful = confidence >= 0.5
	return out
}

func (f *FactChecker) llmScore(ctx context.Context, query string, ec acp.ExtractedContent) (float64, string, error) {
	excerpt := ec.Content
	if len(excerpt) > 2000 {
		excerpt = excerpt[:2000]
	}
	prompt := fmt.Sprintf(
		"Rate how relevant and trustworthy this source is for the research question.\n"+
			"Question: %s\nSource title: %s\nSource excerpt:\n%s\n\n"+
			"Answer with a single number between 0.0 and 1.0 and nothing else.",
		query, ec.Title, excerpt)

	answer, err := f.llm.Generate(ctx, prompt)
	if err != nil {
		return 0, "", err
	}

	score, err := strconv.ParseFloat(strings.TrimSpace(answer), 64)
	if err != nil {
		return 0, "", fmt.Errorf("unparseable score %q", strings.TrimSpace(answer))
	}
	if score < 0 {
		score = 0
	}
	if score > 1 {
		score = 1
	}
	return score, "llm relevance score", nil
}

// overlapScore is the heuristic fallback: the fraction of distinct query
// terms (length > 3) that appear in the content.
func overlapScore(query, content string) float64 {
	lc := strings.ToLower(content)
	terms := 0
	hits := 0
	for _, w := range strings.Fields(strings.ToLower(query)) {
		if len(w) <= 3 {
			continue
		}
		terms++
		if strings.Contains(lc, w) {
			hits++
		}
	}
	if terms == 0 {
		return 0.5
	}
	return float64(hits) / float64(terms)
}

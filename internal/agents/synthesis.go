package agents

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/mtzanidakis/synapse/internal/acp"
	"github.com/mtzanidakis/synapse/internal/natsbus"
	"github.com/mtzanidakis/synapse/internal/report"
	"github.com/mtzanidakis/synapse/internal/runtime"
)

// Synthesis composes the final report: an LLM-written introduction,
// per-source analyses and conclusions, plus static methodology and
// metadata sections. Every LLM call has a static fallback so the report
// is produced even with no model available.
type Synthesis struct {
	agent *runtime.Agent
	llm   Generator
	model string
}

func NewSynthesis(bus *natsbus.Bus, llm Generator, model string) *Synthesis {
	return &Synthesis{
		agent: runtime.New(acp.AgentSynthesis, bus),
		llm:   llm,
		model: model,
	}
}

func (s *Synthesis) Start(ctx context.Context) error {
	return s.agent.Start(ctx, runtime.HandlerFunc(s.handle))
}

func (s *Synthesis) Stop() { s.agent.Stop() }

func (s *Synthesis) Status() runtime.Status { return s.agent.Status() }

func (s *Synthesis) handle(ctx context.Context, msg *acp.Message) error {
	payload, err := msg.DecodePayload()
	if err != nil {
		return err
	}
	assign, ok := payload.(*acp.TaskAssignPayload)
	if !ok || assign.TaskType != acp.TaskSynthesize {
		return nil
	}

	var task acp.SynthesizeTask
	if err := assign.Bind(&task); err != nil {
		return err
	}
	if s.agent.Cancelled(task.TaskID) {
		return nil
	}

	_ = sendStatus(s.agent, task.TaskID, "synthesizing report", progress(25))
	content := s.compose(ctx, task)
	if s.agent.Cancelled(task.TaskID) {
		return nil
	}
	_ = sendStatus(s.agent, task.TaskID, "report composed", progress(90))

	out := acp.SynthesisReport{
		Query:           task.Query,
		ReportContent:   content,
		WordCount:       report.WordCount(content),
		SectionCount:    report.SectionCount(content),
		SourcesAnalyzed: len(task.Verified),
	}
	return sendData(s.agent, acp.DataSynthesisReport, out, acp.AgentSynthesis, task.TaskID)
}

func (s *Synthesis) compose(ctx context.Context, task acp.SynthesizeTask) string {
	var b strings.Builder
	fmt.Fprintf(&b, "# Research Report: %s\n\n", task.Query)

	b.WriteString("## Introduction\n\n")
	b.WriteString(s.introduction(ctx, task))
	b.WriteString("\n\n")

	if len(task.Verified) == 0 {
		b.WriteString("## Findings\n\n")
		b.WriteString("No results were found for this query. ")
		b.WriteString("No sources could be located, so this report contains no source analysis.\n\n")
	} else {
		b.WriteString("## Source Analysis\n\n")
		for i, vc := range task.Verified {
			fmt.Fprintf(&b, "### %d. %s\n\n", i+1, vc.Title)
			b.WriteString(s.sourceAnalysis(ctx, task.Query, vc))
			fmt.Fprintf(&b, "\n\n*Confidence: %.2f (%s)*\n\n", vc.Confidence, vc.URL)
		}
	}

	b.WriteString("## Conclusions\n\n")
	b.WriteString(s.conclusions(ctx, task))
	b.WriteString("\n\n")

	b.WriteString("## Methodology\n\n")
	b.WriteString("Sources were gathered through academic paper search, fetched and ")
	b.WriteString("reduced to text, scored for relevance against the research question, ")
	b.WriteString("and synthesized into this report.\n\n")

	b.WriteString("## Metadata\n\n")
	fmt.Fprintf(&b, "- Query: %s\n", task.Query)
	fmt.Fprintf(&b, "- Sources found: %d\n", len(task.Results))
	fmt.Fprintf(&b, "- Sources analyzed: %d\n", len(task.Verified))
	fmt.Fprintf(&b, "- Model: %s\n", s.modelName())
	fmt.Fprintf(&b, "- Generated: %s\n", time.Now().UTC().Format(time.RFC3339))

	return b.String()
}

func (s *Synthesis) modelName() string {
	if s.llm == nil {
		return "none"
	}
	return s.model
}

func (s *Synthesis) generate(ctx context.Context, prompt, fallback string) string {
	if s.llm == nil {
		return fallback
	}
	text, err := s.llm.Generate(ctx, prompt)
	if err != nil || strings.TrimSpace(text) == "" {
		broadcastLog(s.agent, "warn", fmt.Sprintf("llm generation failed, using fallback: %v", err))
		return fallback
	}
	return strings.TrimSpace(text)
}

func (s *Synthesis) introduction(ctx context.Context, task acp.SynthesizeTask) string {
	fallback := fmt.Sprintf(
		"This report examines %q based on %d analyzed sources.",
		task.Query, len(task.Verified))
	if len(task.Verified) == 0 {
		return fallback
	}

	titles := make([]string, 0, len(task.Verified))
	for _, vc := range task.Verified {
		titles = append(titles, vc.Title)
	}
	prompt := fmt.Sprintf(
		"Write a two-paragraph introduction for a research report on %q. "+
			"The analyzed sources are:\n%s\nDo not use headings.",
		task.Query, "- "+strings.Join(titles, "\n- "))
	return s.generate(ctx, prompt, fallback)
}

func (s *Synthesis) sourceAnalysis(ctx context.Context, query string, vc acp.VerifiedContent) string {
	fallback := firstSentences(vc.Content, 3)
	if fallback == "" {
		fallback = "No analyzable content was available for this source."
	}

	excerpt := vc.Content
	if len(excerpt) > 3000 {
		excerpt = excerpt[:3000]
	}
	prompt := fmt.Sprintf(
		"Summarize what this source contributes to the research question %q "+
			"in one paragraph.\nSource: %s\nContent:\n%s",
		query, vc.Title, excerpt)
	return s.generate(ctx, prompt, fallback)
}

func (s *Synthesis) conclusions(ctx context.Context, task acp.SynthesizeTask) string {
	if len(task.Verified) == 0 {
		return "No conclusions can be drawn: the search produced no usable sources. " +
			"Consider rephrasing the query or broadening its scope."
	}

	fallback := fmt.Sprintf(
		"Across %d sources the collected material addresses %q from several angles; "+
			"see the per-source analyses above for details.",
		len(task.Verified), task.Query)

	var parts []string
	for _, vc := range task.Verified {
		parts = append(parts, fmt.Sprintf("%s (confidence %.2f)", vc.Title, vc.Confidence))
	}
	prompt := fmt.Sprintf(
		"Write the conclusions section of a research report on %q, one or two "+
			"paragraphs, drawing on these analyzed sources: %s. Do not use headings.",
		task.Query, strings.Join(parts, "; "))
	return s.generate(ctx, prompt, fallback)
}

func firstSentences(text string, n int) string {
	var out strings.Builder
	count := 0
	for i, r := range text {
		out.WriteRune(r)
		if r == '.' || r == '!' || r == '?' {
			count++
			if count >= n || i == len(text)-1 {
				break
			}
		}
	}
	return strings.TrimSpace(out.String())
}

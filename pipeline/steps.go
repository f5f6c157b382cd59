package pipeline

import (
	"context"
	"fmt"
	"strings"

	"github.com/hupe1980/runbridge/model"
	"github.com/hupe1980/runbridge/search"
)

// Planner drafts the research plan for a query, forwarding streamed
// fragments to emit in generation order and returning the full plan text.
type Planner interface {
	Plan(ctx context.Context, query string, emit func(chunk string)) (string, error)
}

// Gatherer collects source material for an approved plan, reporting
// best-effort progress through the callback.
type Gatherer interface {
	Gather(ctx context.Context, query, plan string, progress func(message, details string)) (string, error)
}

// Reporter composes the final report from the gathered findings, forwarding
// streamed fragments to emit in generation order.
type Reporter interface {
	Report(ctx context.Context, query, plan, findings string, emit func(chunk string)) (string, error)
}

const planSystemPrompt = `You are a research planner. Draft a concise, structured research plan
in markdown for the user's topic: objectives, key questions, sources to
consult and the expected deliverable.`

const reportSystemPrompt = `You are a research analyst. Write a well-structured markdown report
answering the research topic using the approved plan and the collected
findings. Cite sources by URL where available.`

// ModelPlanner drafts plans with a text generator.
type ModelPlanner struct {
	gen model.Generator
}

// NewModelPlanner constructs a ModelPlanner backed by gen.
func NewModelPlanner(gen model.Generator) *ModelPlanner { return &ModelPlanner{gen: gen} }

// Plan implements Planner.
func (p *ModelPlanner) Plan(ctx context.Context, query string, emit func(chunk string)) (string, error) {
	return generateText(ctx, p.gen, planSystemPrompt, fmt.Sprintf("Research topic: %s", query), emit)
}

// SearchGatherer collects findings via web search.
type SearchGatherer struct {
	client *search.Client
}

// NewSearchGatherer constructs a SearchGatherer backed by client.
func NewSearchGatherer(client *search.Client) *SearchGatherer {
	return &SearchGatherer{client: client}
}

// Gather implements Gatherer. It searches for the query and digests the hits
// into a findings block for the report step.
func (g *SearchGatherer) Gather(ctx context.Context, query, plan string, progress func(message, details string)) (string, error) {
	progress("Searching the web", query)

	results, err := g.client.Search(ctx, query)
	if err != nil {
		return "", fmt.Errorf("web search: %w", err)
	}

	var (
		findings strings.Builder
		titles   []string
	)
	for _, res := range results {
		fmt.Fprintf(&findings, "## %s\n%s\n%s\n\n", res.Title, res.URL, res.Content)
		titles = append(titles, res.Title)
	}
	progress(fmt.Sprintf("Collected %d sources", len(results)), strings.Join(titles, "\n"))

	return findings.String(), nil
}

// ModelReporter composes reports with a text generator.
type ModelReporter struct {
	gen model.Generator
}

// NewModelReporter constructs a ModelReporter backed by gen.
func NewModelReporter(gen model.Generator) *ModelReporter { return &ModelReporter{gen: gen} }

// Report implements Reporter.
func (r *ModelReporter) Report(ctx context.Context, query, plan, findings string, emit func(chunk string)) (string, error) {
	prompt := fmt.Sprintf("Research topic: %s\n\nApproved plan:\n%s\n\nFindings:\n%s", query, plan, findings)
	return generateText(ctx, r.gen, reportSystemPrompt, prompt, emit)
}

// generateText drives one streaming generation, forwarding partial chunks to
// emit and returning the final accumulated text. Generators without
// streaming support deliver only the final response; emit is then never
// called and consumers fall back to flushing the returned text.
func generateText(ctx context.Context, gen model.Generator, system, prompt string, emit func(chunk string)) (string, error) {
	respCh, errCh := gen.Generate(ctx, model.Request{System: system, Prompt: prompt, Stream: true})

	var final string
	for resp := range respCh {
		if resp.Partial {
			if emit != nil {
				emit(resp.Text)
			}
			continue
		}
		final = resp.Text
	}
	if err := <-errCh; err != nil {
		return "", err
	}
	return final, nil
}

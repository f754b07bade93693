package pipeline

import (
	"context"
	"fmt"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/otherjamesbrown/dealmemo/pkg/llm"
	"github.com/otherjamesbrown/dealmemo/pkg/logging"
	"github.com/otherjamesbrown/dealmemo/pkg/templates"
	"github.com/otherjamesbrown/dealmemo/pkg/transcripts"
)

// Classification methods, recorded in metrics.
const (
	MethodKeyword = "keyword"
	MethodLLM     = "llm"
	MethodDefault = "default"
)

// Classification is the chosen meeting category and how it was chosen.
type Classification struct {
	Category templates.Category
	Method   string
	Score    int
}

// analysis is the output of the concurrent classify/company/summary phase.
type analysis struct {
	classification Classification
	company        *companyDetection
	summary        string
}

// analyze runs classification, company detection and the summary
// concurrently. None of them can fail the job.
func (p *run) analyze(ctx context.Context, t *transcripts.Transcript) analysis {
	var out analysis
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		out.classification = p.classify(gctx, t)
		return nil
	})
	g.Go(func() error {
		out.company = p.detectCompany(gctx, t)
		return nil
	})
	g.Go(func() error {
		out.summary = p.summarize(gctx, t)
		return nil
	})
	_ = g.Wait()

	p.metrics.RecordClassification(string(out.classification.Category), out.classification.Method)
	p.logger.Info("meeting classified",
		logging.F("category", string(out.classification.Category)),
		logging.F("method", out.classification.Method),
		logging.F("score", out.classification.Score))
	return out
}

// classify uses keywords when they are decisive and asks the model otherwise.
func (p *run) classify(ctx context.Context, t *transcripts.Transcript) Classification {
	var c Classification
	_ = p.stage(ctx, StageClassify, func(ctx context.Context) error {
		c = classifyTranscript(ctx, p.catalog, p.llm, t.Text(), p.transcriptTokens, func(err error) {
			p.degrade(StageClassify, err)
		})
		return nil
	})
	return c
}

// classifyTranscript is the two-phase classifier. Keywords are scored on the
// full text; the generative fallback sees at most budget tokens. onErr
// receives a failed generative call before the default category is returned.
func classifyTranscript(ctx context.Context, catalog *templates.Catalog, client llm.Client, text string, budget int, onErr func(error)) Classification {
	category, score, ok := catalog.Detect(text)
	if ok {
		return Classification{Category: category, Method: MethodKeyword, Score: score}
	}

	resp, err := client.Complete(ctx, &llm.CompletionRequest{
		Operation:   "classify",
		System:      classifySystemPrompt(catalog),
		Prompt:      "Transcript:\n" + llm.Truncate(text, budget),
		MaxTokens:   50,
		Temperature: 0,
		JSON:        true,
	})
	if err != nil {
		onErr(err)
		return Classification{Category: templates.DefaultCategory, Method: MethodDefault, Score: score}
	}

	var out struct {
		Category string `json:"category"`
	}
	if err := llm.DecodeJSON(resp.Content, &out); err != nil {
		// A bare id without JSON is accepted too.
		out.Category = resp.Content
	}
	id := templates.Category(strings.ToLower(strings.Trim(strings.TrimSpace(out.Category), `"'.`)))
	if !catalog.Valid(id) {
		return Classification{Category: templates.DefaultCategory, Method: MethodDefault, Score: score}
	}
	return Classification{Category: id, Method: MethodLLM, Score: score}
}

func classifySystemPrompt(catalog *templates.Catalog) string {
	var b strings.Builder
	b.WriteString("You classify business meeting transcripts. Choose exactly one category id from this list:\n")
	for _, t := range catalog.Templates() {
		fmt.Fprintf(&b, "- %s: %s\n", t.ID, t.Description)
	}
	b.WriteString(`Respond with JSON only: {"category": "<id>"}`)
	return b.String()
}

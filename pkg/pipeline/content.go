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

// ContentMode selects how memo bodies are generated.
type ContentMode string

const (
	// ContentModeAuto uses sections when the template has section prompts.
	ContentModeAuto      ContentMode = "auto"
	ContentModeSections  ContentMode = "sections"
	ContentModeComposite ContentMode = "composite"
)

// ParseContentMode accepts "", auto, sections (or section) and composite.
func ParseContentMode(s string) (ContentMode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "auto":
		return ContentModeAuto, nil
	case "sections", "section", "per-section":
		return ContentModeSections, nil
	case "composite":
		return ContentModeComposite, nil
	}
	return "", fmt.Errorf("unknown content mode %q", s)
}

// NotDiscussed is the body of a section the model could not produce.
const NotDiscussed = "Not discussed."

// sectionConcurrency bounds parallel section calls within one job.
const sectionConcurrency = 3

// excerptRunes is the length of the transcript excerpt in a fallback memo.
const excerptRunes = 1500

const memoSystemPrompt = `You write concise, factual meeting memos for a venture investor.
Use only information stated in the transcript. Write in markdown without a top-level title.
If the transcript does not cover something, write "Not discussed."`

const sectionPromptTemplate = `Meeting: {{.Title}}
Participants: {{.Participants}}

Write the "{{.Section}}" section of the memo. Do not repeat the heading.
{{.Instructions}}
Transcript:
{{.Transcript}}`

const compositePromptTemplate = `Meeting: {{.Title}}
Participants: {{.Participants}}

{{.Instructions}}
Use "## " headings for each section.

Transcript:
{{.Transcript}}`

// mode resolves the effective content mode for tmpl.
func (r *Runner) mode(tmpl *templates.Template) ContentMode {
	switch r.contentMode {
	case ContentModeComposite:
		return ContentModeComposite
	case ContentModeSections:
		if tmpl.HasSectionPrompts() {
			return ContentModeSections
		}
		return ContentModeComposite
	case ContentModeAuto:
	}
	if tmpl.HasSectionPrompts() {
		return ContentModeSections
	}
	return ContentModeComposite
}

// generateContent renders the memo body. It never fails: missing sections
// read NotDiscussed and a total failure yields a transcript excerpt.
func (p *run) generateContent(ctx context.Context, tmpl *templates.Template, t *transcripts.Transcript) string {
	var content string
	mode := p.mode(tmpl)
	_ = p.stage(ctx, StageContent, func(ctx context.Context) error {
		data := templates.PromptData{
			Title:        t.Title,
			Category:     tmpl.Name,
			Participants: strings.Join(t.Participants, ", "),
			Transcript:   p.promptText,
		}
		var ok bool
		if mode == ContentModeSections {
			content, ok = p.sections(ctx, tmpl, data)
		} else {
			content, ok = p.composite(ctx, tmpl, data)
		}
		if !ok {
			content = fallbackContent(t)
		}
		return nil
	})
	p.logger.Debug("memo content generated", logging.F("mode", string(mode)), logging.F("chars", len(content)))
	return content
}

// sections renders one call per section. ok is false only when every
// section failed.
func (p *run) sections(ctx context.Context, tmpl *templates.Template, data templates.PromptData) (string, bool) {
	bodies := make([]string, len(tmpl.Sections))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(sectionConcurrency)

	for i, section := range tmpl.Sections {
		g.Go(func() error {
			d := data
			d.Section = section.Title
			d.Instructions = strings.TrimSpace(section.Prompt)
			body, err := p.complete(gctx, "section", sectionPromptTemplate, d, 800)
			if err != nil {
				p.degrade(StageContent, err, logging.F("section", section.Key))
				return nil
			}
			bodies[i] = body
			return nil
		})
	}
	_ = g.Wait()

	var (
		b         strings.Builder
		succeeded int
	)
	for i, section := range tmpl.Sections {
		body := bodies[i]
		if body == "" {
			body = NotDiscussed
		} else {
			succeeded++
		}
		if i > 0 {
			b.WriteString("\n\n")
		}
		fmt.Fprintf(&b, "## %s\n\n%s", section.Title, body)
	}
	return b.String(), succeeded > 0
}

func (p *run) composite(ctx context.Context, tmpl *templates.Template, data templates.PromptData) (string, bool) {
	data.Instructions = strings.TrimSpace(tmpl.Composite)
	body, err := p.complete(ctx, "composite", compositePromptTemplate, data, 2000)
	if err != nil {
		p.degrade(StageContent, err)
		return "", false
	}
	return body, true
}

// complete renders a prompt and returns the trimmed model text. Empty output
// is an error.
func (p *run) complete(ctx context.Context, operation, prompt string, data templates.PromptData, maxTokens int) (string, error) {
	rendered, err := templates.Render(prompt, data)
	if err != nil {
		return "", err
	}
	resp, err := p.llm.Complete(ctx, &llm.CompletionRequest{
		Operation:   operation,
		System:      memoSystemPrompt,
		Prompt:      rendered,
		MaxTokens:   maxTokens,
		Temperature: 0.3,
	})
	if err != nil {
		return "", err
	}
	text := strings.TrimSpace(resp.Content)
	if text == "" {
		return "", fmt.Errorf("%s: empty model output", operation)
	}
	return text, nil
}

// summarize produces a two to three sentence summary, or "" on failure.
func (p *run) summarize(ctx context.Context, t *transcripts.Transcript) string {
	var summary string
	err := p.stage(ctx, StageSummary, func(ctx context.Context) error {
		resp, err := p.llm.Complete(ctx, &llm.CompletionRequest{
			Operation:   "summary",
			System:      "You summarize business meetings in 2-3 plain sentences. No preamble, no bullet points.",
			Prompt:      "Transcript:\n" + p.promptText,
			MaxTokens:   200,
			Temperature: 0.2,
		})
		if err != nil {
			return err
		}
		summary = strings.TrimSpace(resp.Content)
		return nil
	})
	p.degrade(StageSummary, err)
	return summary
}

// fallbackContent is the memo body used when generation produced nothing.
func fallbackContent(t *transcripts.Transcript) string {
	excerpt := []rune(t.Text())
	truncated := len(excerpt) > excerptRunes
	if truncated {
		excerpt = excerpt[:excerptRunes]
	}

	var b strings.Builder
	b.WriteString("## Summary\n\nAutomatic memo generation was unavailable for this meeting. ")
	b.WriteString("The beginning of the transcript is included below.\n")
	if len(t.Participants) > 0 {
		fmt.Fprintf(&b, "\n## Participants\n\n%s\n", strings.Join(t.Participants, ", "))
	}
	b.WriteString("\n## Transcript Excerpt\n\n")
	for _, line := range strings.Split(strings.TrimSpace(string(excerpt)), "\n") {
		fmt.Fprintf(&b, "> %s\n", line)
	}
	if truncated {
		b.WriteString(">\n> ...\n")
	}
	return strings.TrimRight(b.String(), "\n")
}

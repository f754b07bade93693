package pipeline

import (
	"context"
	"fmt"
	"strings"

	"github.com/otherjamesbrown/dealmemo/pkg/crm"
	"github.com/otherjamesbrown/dealmemo/pkg/llm"
	"github.com/otherjamesbrown/dealmemo/pkg/logging"
	"github.com/otherjamesbrown/dealmemo/pkg/transcripts"
)

// MinCompanyConfidence is the lowest detection confidence that associates a
// memo with a company.
const MinCompanyConfidence = 0.6

// companyDetection is the model's answer to "which company is this meeting about".
type companyDetection struct {
	Name       string   `json:"name"`
	IsExisting bool     `json:"is_existing"`
	Confidence float64  `json:"confidence" validate:"gte=0,lte=1"`
	Domain     string   `json:"domain"`
	Industry   string   `json:"industry"`
	Stage      string   `json:"stage"`
	Founders   []string `json:"founders"`

	known []crm.Company
}

const companySystemPrompt = `You identify the primary external company discussed in a meeting transcript.
The meeting owner's existing companies are listed. If the meeting is about one of them, return its name exactly as listed and set is_existing to true.
Ignore the owner's own firm. If no single company is clearly the subject, return an empty name and confidence 0.
Respond with JSON only:
{"name": "", "is_existing": false, "confidence": 0.0, "domain": "", "industry": "", "stage": "", "founders": []}`

// detectCompany asks the model for the meeting's company. It returns nil
// when detection fails or is not confident enough.
func (p *run) detectCompany(ctx context.Context, t *transcripts.Transcript) *companyDetection {
	var detection *companyDetection
	err := p.stage(ctx, StageCompany, func(ctx context.Context) error {
		known, err := p.memos.ListCompanies(ctx, p.job.UserID)
		if err != nil {
			// Detection still works without the list; matching falls back to creation.
			p.degrade(StageCompany, fmt.Errorf("listing companies: %w", err))
		}

		resp, err := p.llm.Complete(ctx, &llm.CompletionRequest{
			Operation:   "company",
			System:      companySystemPrompt,
			Prompt:      companyPrompt(known, p.job.Metadata.OwnerName, p.promptText),
			MaxTokens:   400,
			Temperature: 0,
			JSON:        true,
		})
		if err != nil {
			return err
		}
		var d companyDetection
		if err := llm.DecodeJSON(resp.Content, &d); err != nil {
			return err
		}
		d.Name = strings.Join(strings.Fields(d.Name), " ")
		d.known = known
		detection = &d
		return nil
	})
	if err != nil {
		p.degrade(StageCompany, err)
		return nil
	}
	if detection.Name == "" || detection.Confidence < MinCompanyConfidence {
		p.logger.Debug("no confident company",
			logging.F("name", detection.Name),
			logging.F("confidence", detection.Confidence))
		return nil
	}
	return detection
}

func companyPrompt(known []crm.Company, ownerName, text string) string {
	var b strings.Builder
	b.WriteString("Existing companies:\n")
	if len(known) == 0 {
		b.WriteString("(none)\n")
	}
	for _, c := range known {
		fmt.Fprintf(&b, "- %s\n", c.Name)
	}
	if ownerName != "" {
		fmt.Fprintf(&b, "\nMeeting owner: %s\n", ownerName)
	}
	b.WriteString("\nTranscript:\n")
	b.WriteString(text)
	return b.String()
}

// resolveCompany maps a detection to a company. An exact case-insensitive
// name match returns the stored row with known=true; anything else returns
// an unsaved company for createCompany.
func (p *run) resolveCompany(d *companyDetection) (c *crm.Company, known bool) {
	if d == nil {
		return nil, false
	}
	if m := matchCompany(d.known, d.Name); m != nil {
		p.logger.Info("matched existing company",
			logging.F("company_id", m.ID.String()),
			logging.F("detected_existing", d.IsExisting))
		return m, true
	}
	return &crm.Company{
		UserID:   p.job.UserID,
		Name:     d.Name,
		Domain:   strings.ToLower(strings.TrimSpace(d.Domain)),
		Industry: strings.TrimSpace(d.Industry),
		Stage:    strings.TrimSpace(d.Stage),
		Founders: cleanNames(d.Founders),
	}, false
}

// createCompany stores a newly detected company and attaches it to the memo.
// Failures leave the memo without a company.
func (p *run) createCompany(ctx context.Context, c *crm.Company, memo *crm.Memo) bool {
	err := p.stage(ctx, StageCompany, func(ctx context.Context) error {
		if err := p.memos.CreateCompany(ctx, c); err != nil {
			return err
		}
		return p.memos.SetMemoCompany(ctx, memo.ID, c.ID)
	})
	if err != nil {
		p.degrade(StageCompany, err, logging.F("company", c.Name))
		return false
	}
	memo.CompanyID = &c.ID
	p.logger.Info("created company", logging.F("company_id", c.ID.String()), logging.F("name", c.Name))
	return true
}

func matchCompany(known []crm.Company, name string) *crm.Company {
	folded := crm.FoldName(name)
	for i := range known {
		if crm.FoldName(known[i].Name) == folded {
			return &known[i]
		}
	}
	return nil
}

func cleanNames(names []string) []string {
	var out []string
	for _, n := range names {
		if n = strings.Join(strings.Fields(n), " "); n != "" {
			out = append(out, n)
		}
	}
	return out
}

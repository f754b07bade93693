package pipeline

import (
	"context"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/otherjamesbrown/dealmemo/pkg/crm"
	"github.com/otherjamesbrown/dealmemo/pkg/llm"
	"github.com/otherjamesbrown/dealmemo/pkg/logging"
	"github.com/otherjamesbrown/dealmemo/pkg/transcripts"
)

// extractedContact is one person as returned by the model.
type extractedContact struct {
	Name             string `json:"name" validate:"required,max=200"`
	Email            string `json:"email" validate:"omitempty,email"`
	Phone            string `json:"phone" validate:"omitempty,max=50"`
	LinkedInURL      string `json:"linkedin_url" validate:"max=500"`
	Title            string `json:"title" validate:"max=200"`
	Company          string `json:"company"`
	RelationshipType string `json:"relationship_type" validate:"omitempty,oneof=founder investor customer partner advisor colleague other"`
	Context          struct {
		Interests  []string `json:"interests"`
		Concerns   []string `json:"concerns"`
		Asks       []string `json:"asks"`
		Quotes     []string `json:"quotes"`
		FollowUps  []string `json:"follow_ups"`
		Topics     []string `json:"topics"`
		Sentiment  string   `json:"sentiment" validate:"omitempty,oneof=positive neutral negative mixed"`
		Engagement string   `json:"engagement" validate:"omitempty,oneof=high medium low"`
	} `json:"context"`
}

// extractedCommitment is one promise or follow-up as returned by the model.
type extractedCommitment struct {
	Type          string `json:"type" validate:"required,oneof=commitment follow_up intro_request deadline"`
	Title         string `json:"title" validate:"required,max=300"`
	Context       string `json:"context"`
	Quote         string `json:"quote"`
	RelatedPerson string `json:"related_person"`
	DueDate       string `json:"due_date" validate:"omitempty,datetime=2006-01-02"`
	Priority      string `json:"priority" validate:"omitempty,oneof=low medium high"`
}

// extraction is what the extract stage hands to the materializer.
type extraction struct {
	commitments []extractedCommitment
	// contacts maps folded contact names to stored ids.
	contacts map[string]uuid.UUID
	linked   int
}

const contactsSystemPrompt = `You extract the people who took part in or were discussed in a meeting.
Only include real, named humans. Exclude the meeting owner and exclude organizations.
Respond with JSON only:
{"contacts": [{"name": "", "email": "", "phone": "", "linkedin_url": "", "title": "", "company": "",
  "relationship_type": "founder|investor|customer|partner|advisor|colleague|other",
  "context": {"interests": [], "concerns": [], "asks": [], "quotes": [], "follow_ups": [], "topics": [],
    "sentiment": "positive|neutral|negative|mixed", "engagement": "high|medium|low"}}]}
Leave unknown fields empty.`

const commitmentsSystemPrompt = `You extract commitments and follow-ups from a meeting transcript.
Types: commitment (someone promised to do something), follow_up (someone should be contacted again),
intro_request (someone asked for an introduction), deadline (something is due by a date).
Respond with JSON only:
{"commitments": [{"type": "", "title": "", "context": "", "quote": "", "related_person": "",
  "due_date": "YYYY-MM-DD or empty", "priority": "low|medium|high"}]}
The title is a short imperative action. related_person is the other person involved, if any.`

// extract runs contact and commitment extraction concurrently, then
// resolves contacts and links them to the memo. It never fails the job.
func (p *run) extract(ctx context.Context, t *transcripts.Transcript, memo *crm.Memo, company *crm.Company) extraction {
	var (
		contacts []extractedContact
		out      = extraction{contacts: map[string]uuid.UUID{}}
	)
	_ = p.stage(ctx, StageExtract, func(ctx context.Context) error {
		g, gctx := errgroup.WithContext(ctx)
		g.Go(func() error {
			contacts = p.extractContacts(gctx, t)
			return nil
		})
		g.Go(func() error {
			out.commitments = p.extractCommitments(gctx, t)
			return nil
		})
		_ = g.Wait()
		return nil
	})

	excluded := p.excludedNames(company)
	resolver := crm.NewContactResolver(p.memos, p.now)
	for _, c := range contacts {
		folded := crm.FoldName(c.Name)
		if excluded[folded] {
			continue
		}
		if _, seen := out.contacts[folded]; seen {
			continue
		}
		cand := crm.Candidate{
			Name:             c.Name,
			Email:            c.Email,
			Phone:            c.Phone,
			ProfileURL:       c.LinkedInURL,
			Title:            c.Title,
			RelationshipType: c.RelationshipType,
			Note:             contactNote(memo, c),
		}
		if company != nil && (c.Company == "" || crm.FoldName(c.Company) == crm.FoldName(company.Name)) {
			cand.CompanyID = &company.ID
		}
		stored, kind, err := resolver.Resolve(ctx, p.job.UserID, cand)
		if err != nil {
			p.degrade(StageExtract, err, logging.F("contact", c.Name))
			continue
		}
		out.contacts[folded] = stored.ID

		cc := crm.ContactContext{
			Interests:  c.Context.Interests,
			Concerns:   c.Context.Concerns,
			Asks:       c.Context.Asks,
			Quotes:     c.Context.Quotes,
			FollowUps:  c.Context.FollowUps,
			Topics:     c.Context.Topics,
			Sentiment:  c.Context.Sentiment,
			Engagement: c.Context.Engagement,
		}
		if err := p.memos.LinkContactToMemo(ctx, stored.ID, memo.ID, cc); err != nil {
			p.degrade(StageExtract, err, logging.F("contact_id", stored.ID.String()))
			continue
		}
		out.linked++
		p.logger.Debug("contact linked",
			logging.F("contact_id", stored.ID.String()),
			logging.F("match", string(kind)))
	}
	return out
}

func (p *run) extractContacts(ctx context.Context, t *transcripts.Transcript) []extractedContact {
	var payload struct {
		Contacts []extractedContact `json:"contacts"`
	}
	if !p.extractJSON(ctx, "contacts", contactsSystemPrompt, t, &payload) {
		return nil
	}
	// Items are validated one by one; an invalid item is dropped alone.
	valid := payload.Contacts[:0]
	for _, c := range payload.Contacts {
		coerceContact(&c)
		if err := llm.Validate(&c); err != nil {
			p.degrade(StageExtract, err, logging.F("contact", c.Name))
			continue
		}
		valid = append(valid, c)
	}
	return valid
}

func (p *run) extractCommitments(ctx context.Context, t *transcripts.Transcript) []extractedCommitment {
	var payload struct {
		Commitments []extractedCommitment `json:"commitments"`
	}
	if !p.extractJSON(ctx, "commitments", commitmentsSystemPrompt, t, &payload) {
		return nil
	}
	valid := payload.Commitments[:0]
	for _, c := range payload.Commitments {
		coerceCommitment(&c)
		if err := llm.Validate(&c); err != nil {
			p.degrade(StageExtract, err, logging.F("commitment", c.Title))
			continue
		}
		valid = append(valid, c)
	}
	return valid
}

// coerceContact normalizes free-text fields to the values the store accepts.
// Unusable optional values are cleared rather than dropping the contact.
func coerceContact(c *extractedContact) {
	c.Name = strings.Join(strings.Fields(c.Name), " ")
	c.Email = strings.TrimSpace(c.Email)
	if c.Email != "" && llm.ValidateVar(c.Email, "email") != nil {
		c.Email = ""
	}
	c.RelationshipType = strings.ToLower(strings.TrimSpace(c.RelationshipType))
	if c.RelationshipType != "" && llm.ValidateVar(c.RelationshipType, "oneof=founder investor customer partner advisor colleague other") != nil {
		c.RelationshipType = "other"
	}
	c.Context.Sentiment = strings.ToLower(strings.TrimSpace(c.Context.Sentiment))
	if llm.ValidateVar(c.Context.Sentiment, "omitempty,oneof=positive neutral negative mixed") != nil {
		c.Context.Sentiment = ""
	}
	c.Context.Engagement = strings.ToLower(strings.TrimSpace(c.Context.Engagement))
	if llm.ValidateVar(c.Context.Engagement, "omitempty,oneof=high medium low") != nil {
		c.Context.Engagement = ""
	}
}

// coerceCommitment clears unusable optional values so that only a bad type
// or title drops the commitment. Timestamps keep their date part.
func coerceCommitment(c *extractedCommitment) {
	c.Type = strings.ToLower(strings.TrimSpace(c.Type))
	c.Title = strings.TrimSpace(c.Title)
	c.DueDate = strings.TrimSpace(c.DueDate)
	if c.DueDate != "" {
		if _, err := time.Parse(time.DateOnly, c.DueDate); err != nil {
			if ts, err := time.Parse(time.RFC3339, c.DueDate); err == nil {
				c.DueDate = ts.Format(time.DateOnly)
			} else {
				c.DueDate = ""
			}
		}
	}
	c.Priority = strings.ToLower(strings.TrimSpace(c.Priority))
	if llm.ValidateVar(c.Priority, "omitempty,oneof=low medium high") != nil {
		c.Priority = ""
	}
}

// extractJSON runs one JSON extraction into out. Malformed output is logged
// and reported as false.
func (p *run) extractJSON(ctx context.Context, operation, system string, t *transcripts.Transcript, out any) bool {
	var b strings.Builder
	if owner := p.job.Metadata.OwnerName; owner != "" {
		b.WriteString("Meeting owner: " + owner + "\n")
	}
	if len(t.Participants) > 0 {
		b.WriteString("Participants: " + strings.Join(t.Participants, ", ") + "\n")
	}
	b.WriteString("\nTranscript:\n" + p.promptText)

	resp, err := p.llm.Complete(ctx, &llm.CompletionRequest{
		Operation:   operation,
		System:      system,
		Prompt:      b.String(),
		MaxTokens:   1500,
		Temperature: 0,
		JSON:        true,
	})
	if err != nil {
		p.degrade(StageExtract, err, logging.F("operation", operation))
		return false
	}
	if err := llm.DecodeJSON(resp.Content, out); err != nil {
		p.degrade(StageExtract, err, logging.F("operation", operation))
		return false
	}
	return true
}

// excludedNames are names never stored as contacts: the owner and the
// meeting's company.
func (p *run) excludedNames(company *crm.Company) map[string]bool {
	excluded := map[string]bool{}
	for _, n := range []string{p.job.Metadata.OwnerName, p.job.Metadata.OwnerEmail} {
		if n != "" {
			excluded[crm.FoldName(n)] = true
		}
	}
	if company != nil {
		excluded[crm.FoldName(company.Name)] = true
	}
	return excluded
}

func contactNote(memo *crm.Memo, c extractedContact) string {
	var parts []string
	if len(c.Context.Topics) > 0 {
		parts = append(parts, "Discussed "+strings.Join(c.Context.Topics, ", ")+".")
	}
	if len(c.Context.Asks) > 0 {
		parts = append(parts, "Asked for "+strings.Join(c.Context.Asks, "; ")+".")
	}
	note := "Met in \"" + memo.Title + "\"."
	if len(parts) > 0 {
		note += " " + strings.Join(parts, " ")
	}
	return note
}

// relatedContact resolves a commitment's related person against the names
// seen in this run: exact folded match first, then substring match.
func relatedContact(contacts map[string]uuid.UUID, person string) *uuid.UUID {
	folded := crm.FoldName(person)
	if folded == "" {
		return nil
	}
	if id, ok := contacts[folded]; ok {
		return &id
	}

	names := make([]string, 0, len(contacts))
	for name := range contacts {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		if strings.Contains(name, folded) || strings.Contains(folded, name) {
			id := contacts[name]
			return &id
		}
	}
	return nil
}

// dueDate is the explicit date when one was extracted, else the type's default.
func dueDate(c extractedCommitment, typ crm.ReminderType, now time.Time) time.Time {
	if c.DueDate != "" {
		if d, err := time.Parse("2006-01-02", c.DueDate); err == nil {
			return d
		}
	}
	return now.Add(typ.DefaultDueIn())
}

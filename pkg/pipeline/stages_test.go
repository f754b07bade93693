package pipeline

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/otherjamesbrown/dealmemo/pkg/crm"
	"github.com/otherjamesbrown/dealmemo/pkg/jobs"
	"github.com/otherjamesbrown/dealmemo/pkg/llm"
	"github.com/otherjamesbrown/dealmemo/pkg/templates"
	"github.com/otherjamesbrown/dealmemo/pkg/transcripts"
)

func TestParseActionItems(t *testing.T) {
	content := `## Summary

- Not an action

## Action Items

- [ ] **Send** the deck.
- Not discussed.
1. Book a follow-up call
* none

**Next steps:**
- Intro to Carol

## Risks

- Competition`

	assert.Equal(t, []string{"Send the deck", "Book a follow-up call", "Intro to Carol"}, ParseActionItems(content))
	assert.Empty(t, ParseActionItems("## Summary\n\n- Nothing to do"))
}

func TestRelatedContact(t *testing.T) {
	alice, bob := uuid.New(), uuid.New()
	contacts := map[string]uuid.UUID{
		crm.FoldName("Alice Smith"): alice,
		crm.FoldName("Bob"):         bob,
	}

	tests := []struct {
		person string
		want   *uuid.UUID
	}{
		{"bob", &bob},
		{"Alice", &alice},
		{"alice smith", &alice},
		{"Dana", nil},
		{"", nil},
	}
	for _, tt := range tests {
		t.Run(tt.person, func(t *testing.T) {
			assert.Equal(t, tt.want, relatedContact(contacts, tt.person))
		})
	}
}

func TestDueDate(t *testing.T) {
	now := fixedNow()

	explicit := dueDate(extractedCommitment{DueDate: "2026-04-01"}, crm.ReminderCommitment, now)
	assert.Equal(t, "2026-04-01", explicit.Format(time.DateOnly))

	defaulted := dueDate(extractedCommitment{}, crm.ReminderFollowUp, now)
	assert.Equal(t, now.Add(crm.ReminderFollowUp.DefaultDueIn()), defaulted)
}

func TestCoerceCommitment(t *testing.T) {
	tests := []struct {
		name string
		in   extractedCommitment
		want extractedCommitment
	}{
		{
			name: "date only kept",
			in:   extractedCommitment{Type: " Deadline ", Title: " Sign ", DueDate: "2026-04-01", Priority: "HIGH"},
			want: extractedCommitment{Type: "deadline", Title: "Sign", DueDate: "2026-04-01", Priority: "high"},
		},
		{
			name: "timestamp keeps its date",
			in:   extractedCommitment{Type: "commitment", Title: "Send", DueDate: "2026-03-11T18:30:00-05:00"},
			want: extractedCommitment{Type: "commitment", Title: "Send", DueDate: "2026-03-11"},
		},
		{
			name: "free text date cleared",
			in:   extractedCommitment{Type: "follow_up", Title: "Call", DueDate: "next Friday"},
			want: extractedCommitment{Type: "follow_up", Title: "Call"},
		},
		{
			name: "unknown priority cleared",
			in:   extractedCommitment{Type: "follow_up", Title: "Call", Priority: "urgent"},
			want: extractedCommitment{Type: "follow_up", Title: "Call"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := tt.in
			coerceCommitment(&got)
			assert.Equal(t, tt.want, got)
			assert.NoError(t, llm.Validate(&got))
		})
	}

	bad := extractedCommitment{Type: "gossip", Title: "x"}
	coerceCommitment(&bad)
	assert.Error(t, llm.Validate(&bad), "an unknown type still drops the item")
}

func TestFallbackContent(t *testing.T) {
	t.Run("short transcript", func(t *testing.T) {
		tr := transcripts.Parse("Alice: Hello there.\nBob: Hi.")
		tr.Participants = []string{"Alice", "Bob"}

		out := fallbackContent(tr)
		assert.True(t, strings.HasPrefix(out, "## Summary"))
		assert.Contains(t, out, "## Participants\n\nAlice, Bob")
		assert.Contains(t, out, "> Alice: Hello there.\n> Bob: Hi.")
		assert.NotContains(t, out, "...")
	})

	t.Run("long transcript is cut", func(t *testing.T) {
		tr := transcripts.Parse(strings.Repeat("word ", 1000))
		out := fallbackContent(tr)
		assert.NotContains(t, out, "## Participants")
		assert.True(t, strings.HasSuffix(out, ">\n> ..."))
	})
}

func TestParseContentMode(t *testing.T) {
	for in, want := range map[string]ContentMode{
		"":          ContentModeAuto,
		"auto":      ContentModeAuto,
		"Sections":  ContentModeSections,
		"section":   ContentModeSections,
		"composite": ContentModeComposite,
	} {
		got, err := ParseContentMode(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}
	_, err := ParseContentMode("chapters")
	assert.Error(t, err)
}

func TestRunner_Mode(t *testing.T) {
	catalog := templates.MustLoadDefault()
	pitch := catalog.Get(templates.CategoryFounderPitch)
	networking := catalog.Get(templates.CategoryNetworking)

	tests := []struct {
		mode ContentMode
		tmpl *templates.Template
		want ContentMode
	}{
		{ContentModeAuto, pitch, ContentModeSections},
		{ContentModeAuto, networking, ContentModeComposite},
		{ContentModeComposite, pitch, ContentModeComposite},
		{ContentModeSections, networking, ContentModeComposite},
	}
	for _, tt := range tests {
		r := &Runner{contentMode: tt.mode}
		assert.Equal(t, tt.want, r.mode(tt.tmpl), "%s/%s", tt.mode, tt.tmpl.ID)
	}
}

func TestRun_CompositeModeOverride(t *testing.T) {
	h := newHarness(t, WithContentMode(ContentModeComposite))
	h.llm.On("company", mock.Anything).Return(reply(`{"name": ""}`), nil)
	h.llm.On("summary", mock.Anything).Return(reply("A pitch."), nil)
	h.llm.On("composite", mock.Anything).Return(reply("## The Round\n\nSeed."), nil)
	h.llm.On("contacts", mock.Anything).Return(reply(`{"contacts": []}`), nil)
	h.llm.On("commitments", mock.Anything).Return(reply(`{"commitments": []}`), nil)

	job := h.jobs.add(h.owner, jobs.SourceManual, "", jobs.Metadata{Content: pitchTranscript})
	_, err := h.runner.Run(context.Background(), job.ID)
	require.NoError(t, err)

	h.llm.AssertNotCalled(t, "section", mock.Anything)
	h.llm.AssertNumberOfCalls(t, "composite", 1)
}

func TestRun_PartialSectionFailure(t *testing.T) {
	h := newHarness(t)
	h.llm.On("company", mock.Anything).Return(reply(`{"name": ""}`), nil)
	h.llm.On("summary", mock.Anything).Return(reply("A pitch."), nil)
	h.llm.On("section", sectionNamed("Team")).Return(nil, errors.New("429 rate limit"))
	h.llm.On("section", mock.Anything).Return(reply("Fine."), nil)
	h.llm.On("contacts", mock.Anything).Return(reply(`not json at all`), nil)
	h.llm.On("commitments", mock.Anything).Return(reply(`{"commitments": [{"type": "gossip", "title": "x"}, {"type": "deadline", "title": "Sign the SAFE"}]}`), nil)

	job := h.jobs.add(h.owner, jobs.SourceManual, "", jobs.Metadata{Content: pitchTranscript})
	result, err := h.runner.Run(context.Background(), job.ID)
	require.NoError(t, err)

	memo := h.crm.memos[0]
	assert.Contains(t, memo.Content, "## Team\n\n"+NotDiscussed)
	assert.Contains(t, memo.Content, "## The Round\n\nFine.")
	assert.Zero(t, result.ContactsLinked)
	require.Len(t, h.crm.reminders, 1)
	assert.Equal(t, crm.ReminderDeadline, h.crm.reminders[0].Type)
	assert.Equal(t, crm.PriorityMedium, h.crm.reminders[0].Priority)
}

func TestClassifyTranscript(t *testing.T) {
	catalog := templates.MustLoadDefault()
	text := "Alice: Good to see you. Bob: Likewise."

	tests := []struct {
		name       string
		content    string
		err        error
		wantCat    templates.Category
		wantMethod string
		wantErr    bool
	}{
		{"json answer", `{"category": "partnership"}`, nil, templates.CategoryPartnership, MethodLLM, false},
		{"bare id", "Customer_Discovery.", nil, templates.CategoryCustomerDiscovery, MethodLLM, false},
		{"unknown id", `{"category": "astrology"}`, nil, templates.DefaultCategory, MethodDefault, false},
		{"model error", "", errors.New("boom"), templates.DefaultCategory, MethodDefault, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := &mockLLM{}
			if tt.err != nil {
				m.On("classify", mock.Anything).Return(nil, tt.err)
			} else {
				m.On("classify", mock.Anything).Return(reply(tt.content), nil)
			}
			var gotErr error
			c := classifyTranscript(context.Background(), catalog, m, text, 100, func(err error) { gotErr = err })
			assert.Equal(t, tt.wantCat, c.Category)
			assert.Equal(t, tt.wantMethod, c.Method)
			assert.Equal(t, tt.wantErr, gotErr != nil)
		})
	}
}

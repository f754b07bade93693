package templates

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEmbeddedCatalog(t *testing.T) {
	c := MustLoadDefault()
	assert.Equal(t, []Category{
		CategoryFounderPitch,
		CategoryPortfolioReview,
		CategoryCustomerDiscovery,
		CategoryPartnership,
		CategoryNetworking,
		CategoryInternal,
	}, c.Categories())

	assert.True(t, c.Get(CategoryFounderPitch).HasSectionPrompts())
	assert.False(t, c.Get(CategoryPartnership).HasSectionPrompts())
	assert.Equal(t, CategoryInternal, c.Get("unknown").ID)
	for _, tmpl := range c.Templates() {
		assert.NotEmpty(t, tmpl.Composite, tmpl.ID)
	}
}

func TestDetect(t *testing.T) {
	c := MustLoadDefault()

	t.Run("unique high score", func(t *testing.T) {
		text := `Jane: Thanks for taking the pitch. We're raising a seed round.
Sam: What's the valuation and how much runway do you have?
Jane: Eighteen months of runway. Burn is 80k. Here's the deck.`
		cat, score, ok := c.Detect(text)
		require.True(t, ok)
		assert.Equal(t, CategoryFounderPitch, cat)
		assert.GreaterOrEqual(t, score, MinKeywordScore)
	})

	t.Run("whole words only", func(t *testing.T) {
		tmpl := c.Get(CategoryFounderPitch)
		assert.Equal(t, 0, tmpl.Score("carry the rounding error, pitched tents"))
		assert.Equal(t, 2, tmpl.Score("SERIES A, then Series\n A again"))
	})

	t.Run("below threshold", func(t *testing.T) {
		_, score, ok := c.Detect("We talked about the deck and the round.")
		assert.False(t, ok)
		assert.Less(t, score, MinKeywordScore)
	})

	t.Run("tie is ambiguous", func(t *testing.T) {
		text := "pitch deck raise round seed partnership partner pilot contract agreement"
		scores := map[Category]int{}
		for _, s := range c.Scores(text) {
			scores[s.Category] = s.Score
		}
		require.Equal(t, scores[CategoryFounderPitch], scores[CategoryPartnership])
		_, _, ok := c.Detect(text)
		assert.False(t, ok)
	})
}

func TestParse_Errors(t *testing.T) {
	_, err := Parse([]byte("templates:\n  - id: founder_pitch\n    composite: x\n"))
	assert.ErrorContains(t, err, "internal")

	_, err = Parse([]byte("templates:\n  - id: internal\n    composite: x\n  - id: internal\n    composite: y\n"))
	assert.ErrorContains(t, err, "duplicate")

	_, err = Parse([]byte("templates:\n  - id: internal\n"))
	assert.ErrorContains(t, err, "neither sections nor a composite")
}

func TestLoad_FromEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "templates.yaml")
	require.NoError(t, os.WriteFile(path, []byte("templates:\n  - id: internal\n    keywords: [sync]\n    composite: Summarize.\n"), 0o600))
	t.Setenv(TemplatesEnv, path)

	c, err := Load()
	require.NoError(t, err)
	assert.Equal(t, []Category{CategoryInternal}, c.Categories())
	assert.Equal(t, 2, c.Get(CategoryInternal).Score("Sync, sync."))
}

func TestRender(t *testing.T) {
	out, err := Render("Meeting {{.Title}} with {{.Participants}}\n{{.Transcript}}", PromptData{
		Title:        "Acme intro",
		Participants: "Jane, Sam",
		Transcript:   "Jane: hi",
	})
	require.NoError(t, err)
	assert.Equal(t, "Meeting Acme intro with Jane, Sam\nJane: hi", out)

	_, err = Render("{{.Missing", PromptData{})
	assert.Error(t, err)
}

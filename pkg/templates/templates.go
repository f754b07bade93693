// Package templates holds the memo template catalog: one template per
// meeting category with detection keywords, per-section prompts and a
// composite prompt. The catalog is embedded from templates.yaml.
package templates

import (
	"bytes"
	_ "embed"
	"fmt"
	"os"
	"regexp"
	"strings"
	"text/template"

	"gopkg.in/yaml.v3"
)

// Category identifies a meeting type and its template.
type Category string

const (
	CategoryFounderPitch      Category = "founder_pitch"
	CategoryPortfolioReview   Category = "portfolio_review"
	CategoryCustomerDiscovery Category = "customer_discovery"
	CategoryPartnership       Category = "partnership"
	CategoryNetworking        Category = "networking"
	CategoryInternal          Category = "internal"
)

// DefaultCategory is used when classification cannot decide.
const DefaultCategory = CategoryInternal

// MinKeywordScore is the lowest unique top score accepted without a
// generative call.
const MinKeywordScore = 5

// TemplatesEnv points at a YAML file that replaces the embedded catalog.
const TemplatesEnv = "DEALMEMO_TEMPLATES"

//go:embed templates.yaml
var embedded []byte

// Section is one heading of a per-section memo.
type Section struct {
	Key    string `yaml:"key"`
	Title  string `yaml:"title"`
	Prompt string `yaml:"prompt"`
}

// Template describes how to detect and write one kind of memo.
type Template struct {
	ID          Category  `yaml:"id"`
	Name        string    `yaml:"name"`
	Description string    `yaml:"description"`
	Keywords    []string  `yaml:"keywords"`
	Sections    []Section `yaml:"sections"`
	Composite   string    `yaml:"composite"`

	patterns []*regexp.Regexp
}

// HasSectionPrompts reports whether the template can render per section.
func (t *Template) HasSectionPrompts() bool {
	for _, s := range t.Sections {
		if strings.TrimSpace(s.Prompt) != "" {
			return true
		}
	}
	return false
}

// Score counts whole-word, case-insensitive keyword matches in text.
func (t *Template) Score(text string) int {
	n := 0
	for _, re := range t.patterns {
		n += len(re.FindAllStringIndex(text, -1))
	}
	return n
}

// Catalog is the ordered set of templates.
type Catalog struct {
	templates []*Template
	byID      map[Category]*Template
}

type catalogFile struct {
	Templates []*Template `yaml:"templates"`
}

// Load returns the catalog from TemplatesEnv when set, else the embedded one.
func Load() (*Catalog, error) {
	if path := os.Getenv(TemplatesEnv); path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading templates file: %w", err)
		}
		return Parse(data)
	}
	return Parse(embedded)
}

// MustLoadDefault parses the embedded catalog and panics if it is invalid.
func MustLoadDefault() *Catalog {
	c, err := Parse(embedded)
	if err != nil {
		panic(err)
	}
	return c
}

// Parse builds a catalog from YAML. The catalog must contain DefaultCategory.
func Parse(data []byte) (*Catalog, error) {
	var file catalogFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parsing templates: %w", err)
	}

	c := &Catalog{byID: make(map[Category]*Template, len(file.Templates))}
	for _, t := range file.Templates {
		if t.ID == "" {
			return nil, fmt.Errorf("template %q has no id", t.Name)
		}
		if _, dup := c.byID[t.ID]; dup {
			return nil, fmt.Errorf("duplicate template id %q", t.ID)
		}
		if strings.TrimSpace(t.Composite) == "" && !t.HasSectionPrompts() {
			return nil, fmt.Errorf("template %q has neither sections nor a composite prompt", t.ID)
		}
		for _, kw := range t.Keywords {
			re, err := keywordPattern(kw)
			if err != nil {
				return nil, fmt.Errorf("template %q keyword %q: %w", t.ID, kw, err)
			}
			t.patterns = append(t.patterns, re)
		}
		c.templates = append(c.templates, t)
		c.byID[t.ID] = t
	}
	if _, ok := c.byID[DefaultCategory]; !ok {
		return nil, fmt.Errorf("templates must include %q", DefaultCategory)
	}
	return c, nil
}

// keywordPattern matches kw as whole words, any case, with flexible spacing.
func keywordPattern(kw string) (*regexp.Regexp, error) {
	words := strings.Fields(strings.ToLower(kw))
	if len(words) == 0 {
		return nil, fmt.Errorf("empty keyword")
	}
	for i, w := range words {
		words[i] = regexp.QuoteMeta(w)
	}
	return regexp.Compile(`(?i)\b` + strings.Join(words, `\s+`) + `\b`)
}

// Get returns the template for id, falling back to DefaultCategory.
func (c *Catalog) Get(id Category) *Template {
	if t, ok := c.byID[id]; ok {
		return t
	}
	return c.byID[DefaultCategory]
}

// Valid reports whether id names a template.
func (c *Catalog) Valid(id Category) bool {
	_, ok := c.byID[id]
	return ok
}

// Templates returns the templates in file order.
func (c *Catalog) Templates() []*Template {
	return c.templates
}

// Categories returns the template ids in file order.
func (c *Catalog) Categories() []Category {
	ids := make([]Category, len(c.templates))
	for i, t := range c.templates {
		ids[i] = t.ID
	}
	return ids
}

// Score is one template's keyword count.
type Score struct {
	Category Category
	Score    int
}

// Scores returns every template's keyword count in file order.
func (c *Catalog) Scores(text string) []Score {
	scores := make([]Score, len(c.templates))
	for i, t := range c.templates {
		scores[i] = Score{Category: t.ID, Score: t.Score(text)}
	}
	return scores
}

// Detect picks a category from keywords alone. ok is false when no template
// has a unique top score of at least MinKeywordScore.
func (c *Catalog) Detect(text string) (Category, int, bool) {
	var (
		best   Category
		top    int
		unique bool
	)
	for _, s := range c.Scores(text) {
		switch {
		case s.Score > top:
			best, top, unique = s.Category, s.Score, true
		case s.Score == top:
			unique = false
		}
	}
	if !unique || top < MinKeywordScore {
		return "", top, false
	}
	return best, top, true
}

// PromptData is the input to prompt rendering.
type PromptData struct {
	Title        string
	Category     string
	Participants string
	Transcript   string
	Section      string
	Instructions string
}

// Render executes a text/template prompt with data.
func Render(text string, data PromptData) (string, error) {
	tmpl, err := template.New("prompt").Option("missingkey=zero").Parse(text)
	if err != nil {
		return "", fmt.Errorf("parsing prompt: %w", err)
	}
	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("rendering prompt: %w", err)
	}
	return buf.String(), nil
}

package crm

import (
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/unicode/norm"
)

// FoldName canonicalizes a person or company name for case-insensitive
// equality: NFC, Unicode case folding, collapsed whitespace. A Caser is
// stateful, so one is created per call.
func FoldName(s string) string {
	s = norm.NFC.String(s)
	return strings.Join(strings.Fields(cases.Fold().String(s)), " ")
}

// NormalizeTitle is FoldName for task titles, also dropping trailing punctuation.
func NormalizeTitle(s string) string {
	return strings.TrimRight(FoldName(s), ".!;:")
}

// NormalizeEmail lowercases and trims an email address.
func NormalizeEmail(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

// NormalizeProfileURL reduces a profile URL to host+path so that
// "https://www.linkedin.com/in/alice/" and "linkedin.com/in/alice" match.
func NormalizeProfileURL(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	s = strings.TrimPrefix(s, "https://")
	s = strings.TrimPrefix(s, "http://")
	s = strings.TrimPrefix(s, "www.")
	if i := strings.IndexAny(s, "?#"); i >= 0 {
		s = s[:i]
	}
	return strings.TrimRight(s, "/")
}

func collapseSpaces(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// Package transcripts resolves the raw transcript text for a job: supplied
// content is parsed in place, pull sources are fetched from the provider API.
package transcripts

import (
	"strings"
	"time"
)

// Segment is one speaker turn.
type Segment struct {
	Speaker string `json:"speaker,omitempty"`
	Text    string `json:"text"`
	StartMs int    `json:"start_ms,omitempty"`
	EndMs   int    `json:"end_ms,omitempty"`
}

// Transcript is the fetch stage output.
type Transcript struct {
	Title       string
	MeetingDate *time.Time
	Segments    []Segment
	Speakers    []string
	// Participants is Speakers plus any attendee names supplied with the job.
	Participants    []string
	DurationSeconds int
	// Format is "vtt", "txt", "turns" or "plain".
	Format string
	// Raw is the input when no speaker turns were found.
	Raw string
}

// Text renders the transcript as "speaker: utterance" lines. Unattributed
// segments are written without a label.
func (t *Transcript) Text() string {
	if len(t.Segments) == 0 {
		return strings.TrimSpace(t.Raw)
	}
	var b strings.Builder
	for i, seg := range t.Segments {
		if i > 0 {
			b.WriteByte('\n')
		}
		if seg.Speaker != "" {
			b.WriteString(seg.Speaker)
			b.WriteString(": ")
		}
		b.WriteString(seg.Text)
	}
	return b.String()
}

// Empty reports whether there is nothing to process.
func (t *Transcript) Empty() bool {
	return strings.TrimSpace(t.Text()) == ""
}

// speakerSet keeps distinct speakers in first-seen order, compared case-insensitively.
type speakerSet struct {
	seen  map[string]bool
	names []string
}

func newSpeakerSet() *speakerSet {
	return &speakerSet{seen: make(map[string]bool)}
}

func (s *speakerSet) add(name string) {
	name = strings.Join(strings.Fields(name), " ")
	if name == "" {
		return
	}
	key := strings.ToLower(name)
	if s.seen[key] {
		return
	}
	s.seen[key] = true
	s.names = append(s.names, name)
}

// MergeSpeakers returns the distinct union of a and b, a first.
func MergeSpeakers(a, b []string) []string {
	set := newSpeakerSet()
	for _, n := range a {
		set.add(n)
	}
	for _, n := range b {
		set.add(n)
	}
	return set.names
}

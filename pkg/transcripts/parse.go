package transcripts

import (
	"regexp"
	"strconv"
	"strings"
)

var (
	// 0:11 : Speaker Name : text
	timestampedLineRegex = regexp.MustCompile(`^(\d+):(\d{2})\s*:\s*([^:]+?)\s*:\s*(.+)$`)

	// 1 "Speaker Name" (speaker_id), as exported by Zoom
	vttSegmentHeaderRegex = regexp.MustCompile(`^\d+\s+"([^"]*)"(?:\s+\((\d+)\))?`)

	// 00:00:05.579 --> 00:00:06.858
	vttTimestampRegex = regexp.MustCompile(`^((?:\d{2}:)?\d{2}:\d{2}\.\d{3})\s+-->\s+((?:\d{2}:)?\d{2}:\d{2}\.\d{3})`)

	vttVoiceRegex = regexp.MustCompile(`^<v(?:\.[^ >]+)*\s+([^>]+)>(.*?)(?:</v>)?$`)

	cueNumberRegex = regexp.MustCompile(`^\d+$`)

	// A speaker label at the start of a line or right after sentence-ending
	// punctuation: "Alice: ..." or "... next week. Bob: ...".
	turnLabelRegex = regexp.MustCompile(`(?:^|[.!?]["')\]]?\s+)(\p{Lu}[\p{L}\p{M}'’.-]*(?:\s\p{Lu}[\p{L}\p{M}'’.-]*){0,3})\s*:\s+`)

	leadingClockRegex = regexp.MustCompile(`^\[?\d{1,2}:\d{2}(?::\d{2})?\]?\s+`)
)

// Labels that look like speakers but head notes or agenda lines.
var notSpeakers = map[string]bool{
	"note": true, "notes": true, "action items": true, "next steps": true, "summary": true,
	"agenda": true, "date": true, "time": true, "subject": true, "title": true,
	"attendees": true, "participants": true, "re": true, "fwd": true,
}

// Parse turns supplied transcript content into segments and the distinct
// speaker set. WebVTT, "m:ss : Speaker : text" exports and "Speaker: text"
// turns (one per line or several inline) are recognized; anything else is
// kept as plain text with no speakers.
func Parse(content string) *Transcript {
	content = strings.ReplaceAll(content, "\r\n", "\n")
	trimmed := strings.TrimSpace(content)

	var t *Transcript
	switch {
	case trimmed == "":
		return &Transcript{Format: "plain"}
	case strings.HasPrefix(trimmed, "WEBVTT"):
		t = parseVTT(trimmed)
	case timestampedLineRegex.MatchString(firstLine(trimmed)):
		t = parseTimestamped(trimmed)
	default:
		t = parseTurns(trimmed)
	}
	if len(t.Segments) == 0 || len(t.Speakers) == 0 {
		return &Transcript{Format: "plain", Raw: trimmed}
	}
	return t
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return strings.TrimSpace(s[:i])
	}
	return s
}

// lines splits on newlines. bufio.Scanner is avoided because pasted
// transcripts often arrive as a single line longer than its token limit.
func lines(s string) []string {
	raw := strings.Split(s, "\n")
	out := raw[:0]
	for _, l := range raw {
		if l = strings.TrimSpace(l); l != "" {
			out = append(out, l)
		}
	}
	return out
}

type builder struct {
	segments []Segment
	speakers *speakerSet
	lastMs   int
}

func newBuilder() *builder {
	return &builder{speakers: newSpeakerSet()}
}

func (b *builder) add(seg Segment) {
	seg.Speaker = strings.TrimSpace(seg.Speaker)
	seg.Text = strings.TrimSpace(seg.Text)
	if seg.Text == "" {
		return
	}
	b.speakers.add(seg.Speaker)
	if seg.EndMs > b.lastMs {
		b.lastMs = seg.EndMs
	}
	if seg.StartMs > b.lastMs {
		b.lastMs = seg.StartMs
	}
	b.segments = append(b.segments, seg)
}

// continueLast appends text to the previous segment, or starts an unattributed one.
func (b *builder) continueLast(text string) {
	text = strings.TrimSpace(text)
	if text == "" {
		return
	}
	if n := len(b.segments); n > 0 {
		b.segments[n-1].Text += " " + text
		return
	}
	b.segments = append(b.segments, Segment{Text: text})
}

func (b *builder) result(format string) *Transcript {
	return &Transcript{
		Segments:        b.segments,
		Speakers:        b.speakers.names,
		DurationSeconds: b.lastMs / 1000,
		Format:          format,
	}
}

func parseTimestamped(content string) *Transcript {
	b := newBuilder()
	for _, line := range lines(content) {
		m := timestampedLineRegex.FindStringSubmatch(line)
		if m == nil {
			b.continueLast(line)
			continue
		}
		minutes, _ := strconv.Atoi(m[1])
		seconds, _ := strconv.Atoi(m[2])
		ms := (minutes*60 + seconds) * 1000
		b.add(Segment{Speaker: m[3], Text: m[4], StartMs: ms, EndMs: ms})
	}
	return b.result("txt")
}

func parseVTT(content string) *Transcript {
	b := newBuilder()
	var (
		speaker    string
		start, end int
		pending    []string
	)
	flush := func() {
		if len(pending) == 0 {
			return
		}
		text := strings.Join(pending, " ")
		cueSpeaker := speaker
		if m := vttVoiceRegex.FindStringSubmatch(text); m != nil {
			cueSpeaker, text = m[1], m[2]
		} else if label, rest, ok := leadingLabel(text); ok && speaker == "" {
			cueSpeaker, text = label, rest
		}
		b.add(Segment{Speaker: cueSpeaker, Text: text, StartMs: start, EndMs: end})
		pending = nil
	}

	for _, line := range lines(content) {
		switch {
		case line == "WEBVTT" || strings.HasPrefix(line, "WEBVTT ") || strings.HasPrefix(line, "NOTE"):
			continue
		case vttSegmentHeaderRegex.MatchString(line):
			flush()
			speaker = vttSegmentHeaderRegex.FindStringSubmatch(line)[1]
		case vttTimestampRegex.MatchString(line):
			flush()
			m := vttTimestampRegex.FindStringSubmatch(line)
			start, end = parseVTTTimestamp(m[1]), parseVTTTimestamp(m[2])
		case cueNumberRegex.MatchString(line):
			flush()
			speaker = ""
		default:
			pending = append(pending, line)
		}
	}
	flush()
	return b.result("vtt")
}

// parseVTTTimestamp converts HH:MM:SS.mmm or MM:SS.mmm to milliseconds.
func parseVTTTimestamp(ts string) int {
	parts := strings.Split(ts, ":")
	if len(parts) == 2 {
		parts = append([]string{"0"}, parts...)
	}
	if len(parts) != 3 {
		return 0
	}
	hours, _ := strconv.Atoi(parts[0])
	minutes, _ := strconv.Atoi(parts[1])
	secParts := strings.SplitN(parts[2], ".", 2)
	seconds, _ := strconv.Atoi(secParts[0])
	ms := 0
	if len(secParts) == 2 {
		ms, _ = strconv.Atoi(secParts[1])
	}
	return hours*3600000 + minutes*60000 + seconds*1000 + ms
}

func parseTurns(content string) *Transcript {
	b := newBuilder()
	for _, line := range lines(content) {
		line = leadingClockRegex.ReplaceAllString(line, "")

		locs := speakerLabels(line)
		if len(locs) == 0 {
			b.continueLast(line)
			continue
		}
		if locs[0][0] > 0 {
			b.continueLast(line[:locs[0][0]])
		}
		for i, loc := range locs {
			end := len(line)
			if i+1 < len(locs) {
				end = locs[i+1][0]
			}
			b.add(Segment{Speaker: line[loc[0]:loc[1]], Text: line[loc[2]:end]})
		}
	}
	return b.result("turns")
}

// speakerLabels returns [labelStart, labelEnd, textStart] for every speaker
// label on the line.
func speakerLabels(line string) [][3]int {
	var out [][3]int
	for _, m := range turnLabelRegex.FindAllStringSubmatchIndex(line, -1) {
		label := line[m[2]:m[3]]
		if notSpeakers[strings.ToLower(label)] {
			continue
		}
		out = append(out, [3]int{m[2], m[3], m[1]})
	}
	return out
}

func leadingLabel(text string) (string, string, bool) {
	locs := speakerLabels(text)
	if len(locs) == 0 || locs[0][0] != 0 {
		return "", "", false
	}
	return text[:locs[0][1]], text[locs[0][2]:], true
}

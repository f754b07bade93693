package transcripts

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// DefaultFathomBaseURL is the Fathom external API.
const DefaultFathomBaseURL = "https://api.fathom.ai/external/v1"

type fathomSpeaker struct {
	DisplayName string `json:"display_name"`
	Email       string `json:"matched_calendar_invitee_email,omitempty"`
}

type fathomLine struct {
	Speaker   fathomSpeaker `json:"speaker"`
	Text      string        `json:"text"`
	Timestamp string        `json:"timestamp"`
}

type fathomPerson struct {
	Name  string `json:"name"`
	Email string `json:"email"`
}

// FathomMeeting is the "new meeting content ready" webhook body.
type FathomMeeting struct {
	RecordingID        flexibleID      `json:"recording_id"`
	Title              string          `json:"title"`
	MeetingTitle       string          `json:"meeting_title"`
	URL                string          `json:"url"`
	CreatedAt          *time.Time      `json:"created_at"`
	ScheduledStartTime *time.Time      `json:"scheduled_start_time"`
	RecordedBy         *fathomPerson   `json:"recorded_by"`
	CalendarInvitees   []fathomPerson  `json:"calendar_invitees"`
	TranscriptRaw      json.RawMessage `json:"transcript"`
}

// flexibleID accepts a JSON string or number.
type flexibleID string

func (f *flexibleID) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err == nil {
		*f = flexibleID(strings.TrimSpace(s))
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return fmt.Errorf("recording_id: %w", err)
	}
	*f = flexibleID(n.String())
	return nil
}

// ParseFathomWebhook decodes a webhook body. The transcript may be an array
// of speaker lines or a preformatted string.
func ParseFathomWebhook(body []byte) (*FathomMeeting, *Transcript, error) {
	var m FathomMeeting
	if err := json.Unmarshal(body, &m); err != nil {
		return nil, nil, fmt.Errorf("decoding fathom webhook: %w", err)
	}
	if m.RecordingID == "" {
		return nil, nil, fmt.Errorf("fathom webhook has no recording_id")
	}

	t, err := fathomTranscript(m.TranscriptRaw)
	if err != nil {
		return nil, nil, err
	}
	t.Title = m.DisplayTitle()
	t.MeetingDate = m.MeetingDate()
	return &m, t, nil
}

// ID is the recording id used as the job's external transcript id.
func (m *FathomMeeting) ID() string {
	return string(m.RecordingID)
}

// DisplayTitle prefers the calendar title.
func (m *FathomMeeting) DisplayTitle() string {
	if m.MeetingTitle != "" {
		return m.MeetingTitle
	}
	return m.Title
}

func (m *FathomMeeting) MeetingDate() *time.Time {
	if m.ScheduledStartTime != nil {
		return m.ScheduledStartTime
	}
	return m.CreatedAt
}

// Participants lists invitees by name, falling back to email.
func (m *FathomMeeting) Participants() []string {
	var names []string
	for _, p := range m.CalendarInvitees {
		if p.Name != "" {
			names = append(names, p.Name)
		} else if p.Email != "" {
			names = append(names, p.Email)
		}
	}
	return names
}

func fathomTranscript(raw json.RawMessage) (*Transcript, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return &Transcript{Format: "plain"}, nil
	}
	var text string
	if err := json.Unmarshal(raw, &text); err == nil {
		return Parse(text), nil
	}
	var items []fathomLine
	if err := json.Unmarshal(raw, &items); err != nil {
		return nil, fmt.Errorf("decoding fathom transcript: %w", err)
	}
	b := newBuilder()
	for _, l := range items {
		ms := parseVTTTimestamp(l.Timestamp + ".000")
		b.add(Segment{Speaker: l.Speaker.DisplayName, Text: l.Text, StartMs: ms, EndMs: ms})
	}
	return b.result("fathom"), nil
}

// FathomClient pulls transcripts from the Fathom API.
type FathomClient struct {
	api     apiClient
	baseURL string
}

// NewFathomClient creates a client. A nil doer uses a default http.Client.
func NewFathomClient(doer httpDoer, baseURL string) *FathomClient {
	if baseURL == "" {
		baseURL = DefaultFathomBaseURL
	}
	return &FathomClient{api: newAPIClient("Fathom", doer), baseURL: strings.TrimRight(baseURL, "/")}
}

// FetchTranscript loads the transcript of one recording.
func (c *FathomClient) FetchTranscript(ctx context.Context, apiKey, recordingID string) (*Transcript, error) {
	endpoint := fmt.Sprintf("%s/recordings/%s/transcript", c.baseURL, url.PathEscape(recordingID))
	var resp struct {
		Transcript json.RawMessage `json:"transcript"`
	}
	err := c.api.doJSON(ctx, func() (*http.Request, error) {
		req, err := jsonRequest(http.MethodGet, endpoint, nil)
		if err != nil {
			return nil, err
		}
		req.Header.Set("X-Api-Key", apiKey)
		return req, nil
	}, &resp)
	if err != nil {
		return nil, err
	}
	return fathomTranscript(resp.Transcript)
}

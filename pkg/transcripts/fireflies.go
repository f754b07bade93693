package transcripts

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"
)

// DefaultFirefliesEndpoint is the Fireflies GraphQL API.
const DefaultFirefliesEndpoint = "https://api.fireflies.ai/graphql"

const firefliesTranscriptQuery = `query Transcript($transcriptId: String!) {
  transcript(id: $transcriptId) {
    id
    title
    date
    duration
    participants
    sentences {
      speaker_name
      text
      start_time
      end_time
    }
  }
}`

// FirefliesClient pulls transcripts from the Fireflies GraphQL API.
type FirefliesClient struct {
	api      apiClient
	endpoint string
}

// NewFirefliesClient creates a client. A nil doer uses a default http.Client;
// an empty endpoint uses DefaultFirefliesEndpoint.
func NewFirefliesClient(doer httpDoer, endpoint string) *FirefliesClient {
	if endpoint == "" {
		endpoint = DefaultFirefliesEndpoint
	}
	return &FirefliesClient{api: newAPIClient("Fireflies", doer), endpoint: endpoint}
}

type firefliesResponse struct {
	Data struct {
		Transcript *struct {
			ID           string   `json:"id"`
			Title        string   `json:"title"`
			Date         float64  `json:"date"`
			Duration     float64  `json:"duration"`
			Participants []string `json:"participants"`
			Sentences    []struct {
				SpeakerName string  `json:"speaker_name"`
				Text        string  `json:"text"`
				StartTime   float64 `json:"start_time"`
				EndTime     float64 `json:"end_time"`
			} `json:"sentences"`
		} `json:"transcript"`
	} `json:"data"`
	Errors []struct {
		Message string `json:"message"`
	} `json:"errors"`
}

// FetchTranscript loads one transcript and assembles speaker turns.
// Consecutive sentences by the same speaker are merged into one segment.
func (c *FirefliesClient) FetchTranscript(ctx context.Context, apiKey, transcriptID string) (*Transcript, error) {
	body := map[string]any{
		"query":     firefliesTranscriptQuery,
		"variables": map[string]string{"transcriptId": transcriptID},
	}
	var resp firefliesResponse
	err := c.api.doJSON(ctx, func() (*http.Request, error) {
		req, err := jsonRequest(http.MethodPost, c.endpoint, body)
		if err != nil {
			return nil, err
		}
		req.Header.Set("Authorization", "Bearer "+apiKey)
		return req, nil
	}, &resp)
	if err != nil {
		return nil, err
	}
	if len(resp.Errors) > 0 {
		msgs := make([]string, 0, len(resp.Errors))
		for _, e := range resp.Errors {
			msgs = append(msgs, e.Message)
		}
		return nil, graphQLError(msgs)
	}
	tr := resp.Data.Transcript
	if tr == nil {
		return nil, &APIError{Provider: "Fireflies", StatusCode: http.StatusNotFound, Message: fmt.Sprintf("transcript %s not found", transcriptID)}
	}

	b := newBuilder()
	var cur *Segment
	for _, s := range tr.Sentences {
		text := strings.TrimSpace(s.Text)
		if text == "" {
			continue
		}
		speaker := strings.TrimSpace(s.SpeakerName)
		startMs, endMs := int(s.StartTime*1000), int(s.EndTime*1000)
		if cur != nil && cur.Speaker == speaker {
			cur.Text += " " + text
			cur.EndMs = endMs
			continue
		}
		if cur != nil {
			b.add(*cur)
		}
		cur = &Segment{Speaker: speaker, Text: text, StartMs: startMs, EndMs: endMs}
	}
	if cur != nil {
		b.add(*cur)
	}

	t := b.result("fireflies")
	t.Title = tr.Title
	if tr.Duration > 0 {
		// duration is reported in minutes
		t.DurationSeconds = int(tr.Duration * 60)
	}
	if tr.Date > 0 {
		d := time.UnixMilli(int64(tr.Date)).UTC()
		t.MeetingDate = &d
	}
	return t, nil
}

// graphQLError maps GraphQL errors onto APIError so callers can tell an auth
// failure from anything else.
func graphQLError(msgs []string) error {
	joined := strings.Join(msgs, "; ")
	lower := strings.ToLower(joined)
	status := http.StatusBadGateway
	switch {
	case strings.Contains(lower, "auth") || strings.Contains(lower, "api key") || strings.Contains(lower, "forbidden"):
		status = http.StatusUnauthorized
	case strings.Contains(lower, "not found") || strings.Contains(lower, "object_not_found"):
		status = http.StatusNotFound
	case strings.Contains(lower, "too many") || strings.Contains(lower, "rate limit"):
		status = http.StatusTooManyRequests
	}
	return &APIError{Provider: "Fireflies", StatusCode: status, Message: joined}
}

// FirefliesWebhook is the body Fireflies posts when a transcript is ready.
type FirefliesWebhook struct {
	MeetingID         string `json:"meetingId"`
	EventType         string `json:"eventType"`
	ClientReferenceID string `json:"clientReferenceId,omitempty"`
}

// ParseFirefliesWebhook decodes and validates a webhook body.
func ParseFirefliesWebhook(body []byte) (*FirefliesWebhook, error) {
	var w FirefliesWebhook
	if err := json.Unmarshal(body, &w); err != nil {
		return nil, fmt.Errorf("decoding fireflies webhook: %w", err)
	}
	if strings.TrimSpace(w.MeetingID) == "" {
		return nil, fmt.Errorf("fireflies webhook has no meetingId")
	}
	return &w, nil
}

// TranscriptReady reports whether the event announces a finished transcript.
func (w *FirefliesWebhook) TranscriptReady() bool {
	return w.EventType == "" || strings.EqualFold(w.EventType, "Transcription completed")
}

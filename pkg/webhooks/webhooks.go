// Package webhooks turns signed provider callbacks into ingestion requests.
// The sender is identified by which active integration's secret verifies
// the body signature.
package webhooks

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/google/uuid"

	dmerrors "github.com/otherjamesbrown/dealmemo/pkg/errors"
	"github.com/otherjamesbrown/dealmemo/pkg/gateway"
	"github.com/otherjamesbrown/dealmemo/pkg/integrations"
	"github.com/otherjamesbrown/dealmemo/pkg/jobs"
	"github.com/otherjamesbrown/dealmemo/pkg/logging"
	"github.com/otherjamesbrown/dealmemo/pkg/observability"
	"github.com/otherjamesbrown/dealmemo/pkg/transcripts"
)

// SignatureHeader returns the request header carrying the body signature.
func SignatureHeader(p integrations.Provider) string {
	switch p {
	case integrations.ProviderFireflies:
		return "X-Hub-Signature"
	case integrations.ProviderFathom:
		return "X-Fathom-Signature"
	default:
		return ""
	}
}

// IntegrationLister lists connected integrations across owners.
type IntegrationLister interface {
	ListActive(ctx context.Context, provider integrations.Provider) ([]*integrations.Integration, error)
}

// Ingester is the ingestion gateway.
type Ingester interface {
	Ingest(ctx context.Context, owner uuid.UUID, req gateway.Request) (uuid.UUID, error)
}

// Outcome describes what a delivery produced.
type Outcome struct {
	JobID   uuid.UUID `json:"jobId,omitempty"`
	Ignored bool      `json:"ignored,omitempty"`
	Reason  string    `json:"reason,omitempty"`
}

// Receiver verifies and ingests webhook deliveries.
type Receiver struct {
	integrations IntegrationLister
	gateway      Ingester
	metrics      *observability.Metrics
	logger       logging.Logger
}

// NewReceiver creates a Receiver. metrics may be nil.
func NewReceiver(lister IntegrationLister, ingester Ingester, metrics *observability.Metrics, logger logging.Logger) *Receiver {
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	return &Receiver{
		integrations: lister,
		gateway:      ingester,
		metrics:      metrics,
		logger:       logger.With(logging.F("component", "webhooks")),
	}
}

// Receive handles one delivery. Signature failures wrap ErrUnauthorized and
// malformed bodies wrap ErrValidation.
func (r *Receiver) Receive(ctx context.Context, provider integrations.Provider, signature string, body []byte) (*Outcome, error) {
	out, err := r.receive(ctx, provider, signature, body)
	switch {
	case err != nil && dmerrors.IsUnauthorized(err):
		r.metrics.RecordWebhook(string(provider), "unauthorized")
	case err != nil:
		r.metrics.RecordWebhook(string(provider), "error")
	case out.Ignored:
		r.metrics.RecordWebhook(string(provider), "ignored")
	default:
		r.metrics.RecordWebhook(string(provider), "accepted")
	}
	return out, err
}

func (r *Receiver) receive(ctx context.Context, provider integrations.Provider, signature string, body []byte) (*Outcome, error) {
	if SignatureHeader(provider) == "" {
		return nil, fmt.Errorf("webhooks are not supported for %q: %w", provider, dmerrors.ErrValidation)
	}

	owner, err := r.resolveOwner(ctx, provider, signature, body)
	if err != nil {
		return nil, err
	}

	req, reason, err := buildRequest(provider, body)
	if err != nil {
		return nil, fmt.Errorf("%v: %w", err, dmerrors.ErrValidation)
	}
	if req == nil {
		r.logger.Debug("webhook ignored", logging.F("provider", string(provider)), logging.F("reason", reason))
		return &Outcome{Ignored: true, Reason: reason}, nil
	}
	req.RawPayload = body

	id, err := r.gateway.Ingest(ctx, owner, *req)
	if err != nil {
		return nil, err
	}
	r.logger.Info("webhook accepted",
		logging.F("provider", string(provider)),
		logging.F("user_id", owner.String()),
		logging.F("job_id", id.String()))
	return &Outcome{JobID: id}, nil
}

// resolveOwner returns the owner of the first active integration whose
// webhook secret verifies the signature.
func (r *Receiver) resolveOwner(ctx context.Context, provider integrations.Provider, signature string, body []byte) (uuid.UUID, error) {
	mac, err := decodeSignature(signature)
	if err != nil {
		return uuid.Nil, err
	}

	active, err := r.integrations.ListActive(ctx, provider)
	if err != nil {
		return uuid.Nil, fmt.Errorf("listing %s integrations: %w", provider, err)
	}
	for _, in := range active {
		secret := in.Credentials.WebhookSecret
		if secret == "" {
			continue
		}
		if hmac.Equal(mac, Sign([]byte(secret), body)) {
			return in.UserID, nil
		}
	}
	return uuid.Nil, fmt.Errorf("no %s integration matches the signature: %w", provider.DisplayName(), dmerrors.ErrUnauthorized)
}

// Sign computes the HMAC-SHA256 of body.
func Sign(secret, body []byte) []byte {
	h := hmac.New(sha256.New, secret)
	h.Write(body)
	return h.Sum(nil)
}

// decodeSignature accepts hex with an optional "sha256=" prefix.
func decodeSignature(sig string) ([]byte, error) {
	sig = strings.TrimSpace(sig)
	sig = strings.TrimPrefix(sig, "sha256=")
	if sig == "" {
		return nil, fmt.Errorf("missing signature: %w", dmerrors.ErrUnauthorized)
	}
	mac, err := hex.DecodeString(sig)
	if err != nil || len(mac) != sha256.Size {
		return nil, fmt.Errorf("malformed signature: %w", dmerrors.ErrUnauthorized)
	}
	return mac, nil
}

// buildRequest converts a verified body. A nil request with a reason means
// the event is acknowledged but not processed.
func buildRequest(provider integrations.Provider, body []byte) (*gateway.Request, string, error) {
	switch provider {
	case integrations.ProviderFireflies:
		hook, err := transcripts.ParseFirefliesWebhook(body)
		if err != nil {
			return nil, "", err
		}
		if !hook.TranscriptReady() {
			return nil, "event " + hook.EventType, nil
		}
		return &gateway.Request{Source: string(jobs.SourceFireflies), TranscriptID: hook.MeetingID}, "", nil

	case integrations.ProviderFathom:
		meeting, t, err := transcripts.ParseFathomWebhook(body)
		if err != nil {
			return nil, "", err
		}
		return &gateway.Request{
			Source:       string(jobs.SourceFathom),
			TranscriptID: meeting.ID(),
			Content:      t.Text(),
			Title:        meeting.DisplayTitle(),
			Participants: meeting.Participants(),
			MeetingDate:  meeting.MeetingDate(),
		}, "", nil
	}
	return nil, "", fmt.Errorf("unsupported provider %q", provider)
}

package llm

import (
	"context"
	"time"

	"golang.org/x/time/rate"

	dmerrors "github.com/otherjamesbrown/dealmemo/pkg/errors"
	"github.com/otherjamesbrown/dealmemo/pkg/logging"
	"github.com/otherjamesbrown/dealmemo/pkg/observability"
)

// Limited wraps a Client with a process-wide rate limiter, a span per call
// and call metrics. It is safe for concurrent use.
type Limited struct {
	next     Client
	limiter  *rate.Limiter
	provider string
	model    string
	metrics  *observability.Metrics
	tracer   *observability.Tracer
	logger   logging.Logger
}

// LimitedOption configures a Limited client.
type LimitedOption func(*Limited)

func WithMetrics(m *observability.Metrics) LimitedOption {
	return func(l *Limited) { l.metrics = m }
}

func WithTracer(t *observability.Tracer) LimitedOption {
	return func(l *Limited) { l.tracer = t }
}

func WithLogger(logger logging.Logger) LimitedOption {
	return func(l *Limited) { l.logger = logger.With(logging.F("component", "llm")) }
}

// NewLimited allows rps calls per second with the given burst. rps <= 0
// disables limiting.
func NewLimited(next Client, provider Provider, model string, rps float64, burst int, opts ...LimitedOption) *Limited {
	limit := rate.Inf
	if rps > 0 {
		limit = rate.Limit(rps)
	}
	if burst < 1 {
		burst = 1
	}
	l := &Limited{
		next:     next,
		limiter:  rate.NewLimiter(limit, burst),
		provider: string(provider),
		model:    model,
		tracer:   observability.NewTracer(),
		logger:   logging.NewNopLogger(),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

func (l *Limited) Complete(ctx context.Context, req *CompletionRequest) (*CompletionResponse, error) {
	ctx, span := l.tracer.StartLLMSpan(ctx, req.Operation, l.model)
	defer span.End()
	helper := observability.NewSpanHelper(span)

	start := time.Now()
	if err := l.limiter.Wait(ctx); err != nil {
		pe := dmerrors.ClassifyError(err, "")
		helper.SetError(err, string(pe.Code), false)
		l.metrics.RecordLLMCall(req.Operation, l.provider, string(pe.Code), time.Since(start).Seconds())
		return nil, err
	}

	resp, err := l.next.Complete(ctx, req)
	elapsed := time.Since(start).Seconds()
	if err != nil {
		pe := dmerrors.ClassifyError(err, "")
		helper.SetError(err, string(pe.Code), dmerrors.IsRetryable(pe.Code))
		l.metrics.RecordLLMCall(req.Operation, l.provider, string(pe.Code), elapsed)
		l.logger.Warn("generative call failed",
			logging.F("operation", req.Operation),
			logging.F("code", string(pe.Code)),
			logging.Err(err))
		return nil, err
	}

	helper.SetSuccess()
	l.metrics.RecordLLMCall(req.Operation, l.provider, "ok", elapsed)
	l.logger.Debug("generative call completed",
		logging.F("operation", req.Operation),
		logging.F("input_tokens", resp.InputTokens),
		logging.F("output_tokens", resp.OutputTokens),
		logging.F("latency_ms", resp.LatencyMs))
	return resp, nil
}

var _ Client = (*Limited)(nil)

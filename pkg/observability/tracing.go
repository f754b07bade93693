package observability

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// TracerName is the instrumentation scope for pipeline spans.
const TracerName = "github.com/otherjamesbrown/dealmemo/pipeline"

// Span attribute keys.
const (
	AttrJobID     = "job.id"
	AttrUserID    = "job.user_id"
	AttrSource    = "job.source"
	AttrStage     = "pipeline.stage"
	AttrCategory  = "memo.category"
	AttrOperation = "llm.operation"
	AttrModel     = "llm.model"
	AttrErrorCode = "error.code"
	AttrRetryable = "error.retryable"
)

// Tracer starts pipeline spans.
type Tracer struct {
	tracer trace.Tracer
}

// NewTracer uses the global tracer provider.
func NewTracer() *Tracer {
	return &Tracer{tracer: otel.Tracer(TracerName)}
}

// StartJobSpan starts the root span of one pipeline run.
func (t *Tracer) StartJobSpan(ctx context.Context, jobID, userID, source string) (context.Context, trace.Span) {
	return t.tracer.Start(ctx, "memo_job.run", trace.WithAttributes(
		attribute.String(AttrJobID, jobID),
		attribute.String(AttrUserID, userID),
		attribute.String(AttrSource, source),
	))
}

// StartStageSpan starts a child span for one stage.
func (t *Tracer) StartStageSpan(ctx context.Context, stage string) (context.Context, trace.Span) {
	return t.tracer.Start(ctx, "memo_job.stage."+stage, trace.WithAttributes(
		attribute.String(AttrStage, stage),
	))
}

// StartLLMSpan starts a span for one generative call.
func (t *Tracer) StartLLMSpan(ctx context.Context, operation, model string) (context.Context, trace.Span) {
	return t.tracer.Start(ctx, "llm."+operation, trace.WithAttributes(
		attribute.String(AttrOperation, operation),
		attribute.String(AttrModel, model),
	))
}

// SpanHelper sets common attributes on a span.
type SpanHelper struct {
	span trace.Span
}

func NewSpanHelper(span trace.Span) *SpanHelper {
	return &SpanHelper{span: span}
}

func (h *SpanHelper) SetCategory(category string) {
	h.span.SetAttributes(attribute.String(AttrCategory, category))
}

// SetError records err with its classified code.
func (h *SpanHelper) SetError(err error, code string, retryable bool) {
	h.span.SetStatus(codes.Error, err.Error())
	h.span.SetAttributes(
		attribute.String(AttrErrorCode, code),
		attribute.Bool(AttrRetryable, retryable),
	)
	h.span.RecordError(err)
}

func (h *SpanHelper) SetSuccess() {
	h.span.SetStatus(codes.Ok, "")
}

// TraceID returns the trace id of the span in ctx, or "".
func TraceID(ctx context.Context) string {
	sc := trace.SpanContextFromContext(ctx)
	if !sc.HasTraceID() {
		return ""
	}
	return sc.TraceID().String()
}

package observability

import (
	"context"
	"errors"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func TestMetrics_Record(t *testing.T) {
	m := NewMetrics(prometheus.NewRegistry())

	m.RecordJob("completed", "manual", 3.5)
	m.RecordJob("skipped", "fireflies", 0.1)
	m.RecordClassification("founder_pitch", "keyword")
	m.RecordRecovery("reset", 2)
	m.RecordRecovery("failed", 0)
	m.SetQueueDepth(7)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.JobsTotal.WithLabelValues("completed", "manual")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ClassificationsTotal.WithLabelValues("founder_pitch", "keyword")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.ReaperRecoveriesTotal.WithLabelValues("reset")))
	assert.Equal(t, 7.0, testutil.ToFloat64(m.QueueDepth))
}

func TestMetrics_NilSafe(t *testing.T) {
	var m *Metrics
	m.RecordJob("failed", "manual", 1)
	m.RecordStage("fetch", 1)
	m.RecordStageFailure("fetch", "timeout")
	m.RecordLLMCall("summary", "openai", "ok", 1)
	m.RecordDispatch("direct", "ok")
	m.RecordWebhook("fathom", "accepted")
	m.SetQueueDepth(1)
}

func TestTracer_Spans(t *testing.T) {
	recorder := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	tr := &Tracer{tracer: tp.Tracer(TracerName)}

	ctx, root := tr.StartJobSpan(context.Background(), "job-1", "user-1", "manual")
	_, stage := tr.StartStageSpan(ctx, "fetch")
	NewSpanHelper(stage).SetError(errors.New("boom"), "timeout", true)
	stage.End()
	NewSpanHelper(root).SetSuccess()
	root.End()

	spans := recorder.Ended()
	require.Len(t, spans, 2)
	assert.Equal(t, "memo_job.stage.fetch", spans[0].Name())
	assert.Equal(t, "memo_job.run", spans[1].Name())
	assert.NotEmpty(t, TraceID(ctx))
}

func TestInitTracing_NoEndpoint(t *testing.T) {
	shutdown, err := InitTracing(context.Background(), TracingConfig{ServiceName: "dealmemo"})
	require.NoError(t, err)
	assert.NoError(t, shutdown(context.Background()))
}

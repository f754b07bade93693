// Package server is the HTTP API: owner ingestion and job status, provider
// webhooks, and the internal /process triggers used by dispatch and cron.
package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"github.com/otherjamesbrown/dealmemo/pkg/buildinfo"
	"github.com/otherjamesbrown/dealmemo/pkg/dispatch"
	"github.com/otherjamesbrown/dealmemo/pkg/gateway"
	"github.com/otherjamesbrown/dealmemo/pkg/integrations"
	"github.com/otherjamesbrown/dealmemo/pkg/jobs"
	"github.com/otherjamesbrown/dealmemo/pkg/logging"
	"github.com/otherjamesbrown/dealmemo/pkg/webhooks"
	"github.com/otherjamesbrown/dealmemo/pkg/workers"
)

// Ingester creates and dispatches jobs.
type Ingester interface {
	Ingest(ctx context.Context, owner uuid.UUID, req gateway.Request) (uuid.UUID, error)
}

// WebhookReceiver verifies and ingests provider callbacks.
type WebhookReceiver interface {
	Receive(ctx context.Context, provider integrations.Provider, signature string, body []byte) (*webhooks.Outcome, error)
}

// JobRunner runs the pipeline for one job.
type JobRunner interface {
	Run(ctx context.Context, id uuid.UUID) (*jobs.Result, error)
}

// BatchProcessor recovers stale jobs and runs a batch of pending ones.
type BatchProcessor interface {
	Process(ctx context.Context, limit int) (*workers.BatchReport, error)
}

// JobReader serves the owner-facing job views.
type JobReader interface {
	GetForOwner(ctx context.Context, owner, id uuid.UUID) (*jobs.Job, error)
	ListByOwner(ctx context.Context, owner uuid.UUID, status jobs.Status, limit int) ([]jobs.Job, error)
	ListEvents(ctx context.Context, jobID uuid.UUID, limit int) ([]jobs.Event, error)
}

// DirectTrigger posts a job to /process/direct.
type DirectTrigger interface {
	Trigger(ctx context.Context, id uuid.UUID) (*dispatch.DirectResponse, error)
}

// HealthCheck reports whether a dependency is reachable.
type HealthCheck func(ctx context.Context) error

// Config holds the API secrets and limits.
type Config struct {
	// WorkerSecret authenticates /process triggers.
	WorkerSecret string
	// JWTSecret verifies owner bearer tokens (HS256).
	JWTSecret string
	// ServiceName is reported on /version and in spans.
	ServiceName string
	// DirectTimeout bounds one synchronous /process/direct run.
	DirectTimeout time.Duration
	// RetryLimit caps how many pending jobs one /process/retry resubmits.
	RetryLimit int
}

// Deps are the collaborators behind the routes. Nil optional deps disable
// their routes.
type Deps struct {
	Gateway  Ingester
	Webhooks WebhookReceiver
	Runner   JobRunner
	Batch    BatchProcessor
	Jobs     JobReader
	Retrier  DirectTrigger
	Health   map[string]HealthCheck
	Metrics  http.Handler
	Logger   logging.Logger
}

// Server is the gin API.
type Server struct {
	cfg    Config
	deps   Deps
	logger logging.Logger
	engine *gin.Engine
}

// New builds the router.
func New(cfg Config, deps Deps) *Server {
	if cfg.ServiceName == "" {
		cfg.ServiceName = buildinfo.ServiceAPI
	}
	if cfg.DirectTimeout <= 0 {
		cfg.DirectTimeout = 20 * time.Minute
	}
	if cfg.RetryLimit <= 0 {
		cfg.RetryLimit = 100
	}
	logger := deps.Logger
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	s := &Server{cfg: cfg, deps: deps, logger: logger.With(logging.F("component", "server"))}
	s.engine = s.routes()
	return s
}

// Handler exposes the router for tests and custom listeners.
func (s *Server) Handler() http.Handler {
	return s.engine
}

func (s *Server) routes() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), otelgin.Middleware(s.cfg.ServiceName), requestLogger(s.logger))

	r.GET("/healthz", s.healthz)
	r.GET("/version", gin.WrapF(buildinfo.Handler(s.cfg.ServiceName)))
	if s.deps.Metrics != nil {
		r.GET("/metrics", gin.WrapH(s.deps.Metrics))
	}
	if s.deps.Webhooks != nil {
		r.POST("/webhooks/:provider", s.webhook)
	}

	owner := r.Group("/", requireOwner(s.cfg.JWTSecret))
	owner.POST("/ingest", s.ingest)
	owner.POST("/process/retry", s.retry)
	owner.GET("/jobs", s.listJobs)
	owner.GET("/jobs/:id", s.getJob)
	owner.GET("/jobs/:id/events", s.jobEvents)

	worker := r.Group("/process", requireWorker(s.cfg.WorkerSecret))
	worker.POST("/direct", s.direct)
	worker.GET("/worker", s.worker)
	worker.POST("/worker", s.worker)
	return r
}

// Run serves on addr until ctx is cancelled, then drains for up to 30s.
func (s *Server) Run(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.engine,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("HTTP server listening", logging.F("addr", addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	s.logger.Info("HTTP server shutting down")
	return srv.Shutdown(shutdownCtx)
}

package cmd

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	"go.temporal.io/sdk/client"

	"github.com/otherjamesbrown/dealmemo/config"
	"github.com/otherjamesbrown/dealmemo/credentials"
	"github.com/otherjamesbrown/dealmemo/pkg/buildinfo"
	"github.com/otherjamesbrown/dealmemo/pkg/crm"
	"github.com/otherjamesbrown/dealmemo/pkg/db"
	"github.com/otherjamesbrown/dealmemo/pkg/dispatch"
	"github.com/otherjamesbrown/dealmemo/pkg/docstore"
	"github.com/otherjamesbrown/dealmemo/pkg/events"
	"github.com/otherjamesbrown/dealmemo/pkg/integrations"
	"github.com/otherjamesbrown/dealmemo/pkg/jobs"
	"github.com/otherjamesbrown/dealmemo/pkg/llm"
	"github.com/otherjamesbrown/dealmemo/pkg/logging"
	"github.com/otherjamesbrown/dealmemo/pkg/observability"
	"github.com/otherjamesbrown/dealmemo/pkg/pipeline"
	"github.com/otherjamesbrown/dealmemo/pkg/queues"
	"github.com/otherjamesbrown/dealmemo/pkg/server"
	"github.com/otherjamesbrown/dealmemo/pkg/temporalx"
	"github.com/otherjamesbrown/dealmemo/pkg/templates"
	"github.com/otherjamesbrown/dealmemo/pkg/transcripts"
)

const (
	metricsNamespace = "dealmemo"
	dbConnectRetries = 5
	dbConnectDelay   = 2 * time.Second
	providerTimeout  = 60 * time.Second
	shutdownTimeout  = 30 * time.Second
)

// services holds the collaborators shared by the API server and the worker.
type services struct {
	cfg      *config.ServiceConfig
	logger   logging.Logger
	registry *prometheus.Registry
	metrics  *observability.Metrics

	pool     *pgxpool.Pool
	redis    redis.UniversalClient
	temporal client.Client
	queue    *queues.RedisQueue

	jobs         *jobs.Store
	crm          *crm.Store
	integrations *integrations.Store
	runner       *pipeline.Runner
	trigger      *dispatch.DirectTrigger
	dispatcher   *dispatch.Dispatcher
	reaper       *jobs.Reaper

	closers []func(context.Context)
}

// newServices connects to the stores and builds the pipeline. service names
// the process in logs, spans and pool metrics.
func newServices(ctx context.Context, cfg *config.ServiceConfig, service string) (_ *services, err error) {
	s := &services{cfg: cfg, registry: prometheus.NewRegistry()}
	defer func() {
		if err != nil {
			s.Close()
		}
	}()

	logCfg := &logging.Config{
		Level:       logging.ParseLevel(cfg.Log.Level),
		ServiceName: service,
		Environment: cfg.Environment,
		JSONFormat:  cfg.Log.Format != "console",
		Output:      os.Stdout,
	}
	s.logger = logging.NewLogger(logCfg)

	shutdownTracing, err := observability.InitTracing(ctx, observability.TracingConfig{
		ServiceName: service,
		Environment: cfg.Environment,
		Version:     buildinfo.Version,
		Endpoint:    cfg.OTLPEndpoint,
		Insecure:    !cfg.IsProduction(),
		SampleRatio: 1,
	})
	if err != nil {
		return nil, fmt.Errorf("initializing tracing: %w", err)
	}
	s.closers = append(s.closers, func(ctx context.Context) { _ = shutdownTracing(ctx) })

	s.registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	s.metrics = observability.NewMetrics(s.registry)

	s.pool, err = db.ConnectWithRetry(ctx, cfg.Database, dbConnectRetries, dbConnectDelay)
	if err != nil {
		return nil, fmt.Errorf("connecting to database: %w", err)
	}
	s.closers = append(s.closers, func(context.Context) { db.Close(s.pool) })
	if _, err := db.RegisterPoolStatsCollector(s.registry, s.pool, metricsNamespace, service); err != nil {
		return nil, fmt.Errorf("registering pool metrics: %w", err)
	}

	s.jobs = jobs.NewStore(s.pool)
	s.crm = crm.NewStore(s.pool)

	// Job-scoped entries are also written to job_events so owners can read
	// a job's history.
	sink := logging.NewDBSink(logging.DBSinkConfig{Writer: s.jobs, JobScopedOnly: true, MinLevel: logging.LevelInfo})
	s.closers = append(s.closers, func(context.Context) { _ = sink.Close() })
	logCfg.Sinks = []logging.Sink{sink}
	s.logger = logging.NewLogger(logCfg)
	logging.SetGlobal(s.logger)

	kp, err := credentials.NewStaticKeyProvider(cfg.EncryptionKey)
	if err != nil {
		return nil, fmt.Errorf("loading encryption key: %w", err)
	}
	sealer, err := credentials.NewSealer(kp)
	if err != nil {
		return nil, fmt.Errorf("creating sealer: %w", err)
	}
	s.integrations = integrations.NewStore(s.pool, sealer)

	if cfg.RedisURL != "" {
		s.redis, err = connectToRedis(ctx, cfg.RedisURL)
		if err != nil {
			return nil, err
		}
		s.closers = append(s.closers, func(context.Context) { _ = s.redis.Close() })
	}

	if err := s.buildRunner(); err != nil {
		return nil, err
	}
	if err := s.buildDispatcher(ctx); err != nil {
		return nil, err
	}
	s.reaper = jobs.NewReaper(s.jobs, cfg.Worker.MaxAttempts, s.dispatcher.Redispatch, s.metrics, s.logger)
	return s, nil
}

func (s *services) buildRunner() error {
	cfg := s.cfg
	tracer := observability.NewTracer()

	llmCfg := cfg.LLMClientConfig()
	base, err := llm.New(llmCfg)
	if err != nil {
		return fmt.Errorf("creating LLM client: %w", err)
	}
	model := llm.NewLimited(base, llmCfg.Provider, llmCfg.Model, llmCfg.RequestsPerSecond, llmCfg.Burst,
		llm.WithMetrics(s.metrics), llm.WithTracer(tracer), llm.WithLogger(s.logger))

	httpClient := &http.Client{Timeout: providerTimeout}
	fetcher := transcripts.NewFetcher(s.integrations, map[jobs.Source]transcripts.Puller{
		jobs.SourceFireflies: transcripts.NewFirefliesClient(httpClient, ""),
		jobs.SourceFathom:    transcripts.NewFathomClient(httpClient, ""),
	}, s.logger)

	filer := docstore.NewFiler(s.integrations, docstore.OAuthConfig{
		ClientID:     cfg.Google.ClientID,
		ClientSecret: cfg.Google.ClientSecret,
	}, docstore.WithFolderName(cfg.Google.FolderName), docstore.WithLogger(s.logger))

	catalog, err := templates.Load()
	if err != nil {
		return fmt.Errorf("loading templates: %w", err)
	}
	mode, err := pipeline.ParseContentMode(cfg.Worker.ContentMode)
	if err != nil {
		return err
	}

	opts := []pipeline.Option{
		pipeline.WithCatalog(catalog),
		pipeline.WithFiler(filer),
		pipeline.WithMetrics(s.metrics),
		pipeline.WithTracer(tracer),
		pipeline.WithLogger(s.logger),
		pipeline.WithLease(cfg.Worker.JobLease),
		pipeline.WithContentMode(mode),
		pipeline.WithTranscriptBudget(cfg.Worker.TranscriptTokens),
	}
	if s.redis != nil {
		opts = append(opts, pipeline.WithPublisher(events.NewPublisher(s.redis, s.logger)))
	}
	s.runner = pipeline.NewRunner(s.jobs, s.crm, fetcher, model, opts...)
	return nil
}

func (s *services) buildDispatcher(ctx context.Context) error {
	cfg := s.cfg
	s.trigger = dispatch.NewDirectTrigger(cfg.PublicBaseURL, cfg.WorkerSecret, nil)
	opts := []dispatch.Option{
		dispatch.WithDirectTrigger(s.trigger),
		dispatch.WithDirectTimeout(cfg.Worker.DirectTimeout),
		dispatch.WithJobGetter(s.jobs),
		dispatch.WithMetrics(s.metrics),
		dispatch.WithLogger(s.logger),
	}

	backend := cfg.DispatchBackend()
	switch backend {
	case config.DispatchTemporal:
		if cfg.Temporal.AutoRegisterNamespace {
			if err := temporalx.EnsureNamespace(ctx, cfg.Temporal, s.logger); err != nil {
				return fmt.Errorf("registering temporal namespace: %w", err)
			}
		}
		c, err := temporalx.Dial(ctx, cfg.Temporal, s.logger)
		if err != nil {
			return fmt.Errorf("connecting to temporal: %w", err)
		}
		s.temporal = c
		s.closers = append(s.closers, func(context.Context) { c.Close() })
		opts = append(opts, dispatch.WithBackend(temporalx.NewBackend(c, cfg.Temporal.TaskQueue)))
	case config.DispatchQueue:
		s.queue = queues.NewRedisQueue(s.redis, queues.DefaultConfig())
		s.closers = append(s.closers, func(context.Context) { _ = s.queue.Close() })
		opts = append(opts, dispatch.WithBackend(dispatch.NewQueueBackend(s.queue)))
	}
	s.dispatcher = dispatch.NewDispatcher(opts...)
	s.logger.Info("dispatcher ready", logging.F("backend", backend))

	// Let background direct triggers finish before the stores close.
	s.closers = append(s.closers, func(ctx context.Context) {
		if err := s.dispatcher.Wait(ctx); err != nil {
			s.logger.Warn("direct triggers still running at shutdown", logging.Err(err))
		}
	})
	return nil
}

// healthChecks are reported on /healthz.
func (s *services) healthChecks() map[string]server.HealthCheck {
	checks := map[string]server.HealthCheck{
		"database": func(ctx context.Context) error {
			if st := db.Check(ctx, s.pool); !st.Healthy {
				return fmt.Errorf("%s", st.Error)
			}
			return nil
		},
	}
	if s.redis != nil {
		checks["redis"] = func(ctx context.Context) error { return s.redis.Ping(ctx).Err() }
	}
	return checks
}

// Close releases everything in reverse order of acquisition.
func (s *services) Close() {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	for i := len(s.closers) - 1; i >= 0; i-- {
		s.closers[i](ctx)
	}
	s.closers = nil
}

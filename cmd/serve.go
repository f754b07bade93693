package cmd

import (
	"context"
	"fmt"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/otherjamesbrown/dealmemo/config"
	"github.com/otherjamesbrown/dealmemo/pkg/buildinfo"
	"github.com/otherjamesbrown/dealmemo/pkg/gateway"
	"github.com/otherjamesbrown/dealmemo/pkg/logging"
	"github.com/otherjamesbrown/dealmemo/pkg/server"
	"github.com/otherjamesbrown/dealmemo/pkg/webhooks"
	"github.com/otherjamesbrown/dealmemo/pkg/workers"
)

// NewServeCommand creates the command that runs the HTTP API.
func NewServeCommand() *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		Long: `Run the dealmemo HTTP API.

The API accepts transcripts on /ingest and provider webhooks on
/webhooks/{provider}, records a job and hands it to the configured dispatch
backend (Temporal, the Redis queue, or the direct trigger). The /process
endpoints run the pipeline in this process and are guarded by WORKER_SECRET.

Configuration comes from .env, the YAML file in DEALMEMO_CONFIG, and the
environment. See 'dealmemo serve --help' for the address flag.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadServiceConfig()
			if err != nil {
				return err
			}
			if addr != "" {
				cfg.ListenAddr = addr
			}
			return runServe(cmd.Context(), cfg)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "Listen address (overrides LISTEN_ADDR)")
	return cmd
}

func runServe(ctx context.Context, cfg *config.ServiceConfig) error {
	svc, err := newServices(ctx, cfg, buildinfo.ServiceAPI)
	if err != nil {
		return err
	}
	defer svc.Close()

	logger := svc.logger
	ingest := gateway.NewService(svc.jobs, svc.dispatcher, logger)
	batch := workers.NewBatch(svc.jobs, svc.runner, svc.reaper, cfg.Worker.JobLease, logger)

	srv := server.New(server.Config{
		WorkerSecret: cfg.WorkerSecret,
		JWTSecret:    cfg.JWTSecret,
		ServiceName:  buildinfo.ServiceAPI,
	}, server.Deps{
		Gateway:  ingest,
		Webhooks: webhooks.NewReceiver(svc.integrations, ingest, svc.metrics, logger),
		Runner:   svc.runner,
		Batch:    batch,
		Jobs:     svc.jobs,
		Retrier:  svc.trigger,
		Health:   svc.healthChecks(),
		Metrics:  promhttp.HandlerFor(svc.registry, promhttp.HandlerOpts{}),
		Logger:   logger,
	})

	logger.Info("api starting",
		logging.F("addr", cfg.ListenAddr),
		logging.F("version", buildinfo.Version),
		logging.F("dispatch", cfg.DispatchBackend()))
	if err := srv.Run(ctx, cfg.ListenAddr); err != nil {
		return fmt.Errorf("api server: %w", err)
	}
	logger.Info("api stopped")
	return nil
}

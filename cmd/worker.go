package cmd

import (
	"context"
	"errors"
	"fmt"
	"net"

	"github.com/robfig/cron/v3"
	"github.com/spf13/cobra"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/otherjamesbrown/dealmemo/config"
	"github.com/otherjamesbrown/dealmemo/pkg/buildinfo"
	"github.com/otherjamesbrown/dealmemo/pkg/logging"
	"github.com/otherjamesbrown/dealmemo/pkg/temporalx"
	"github.com/otherjamesbrown/dealmemo/pkg/workers"
)

// NewWorkerCommand creates the command that runs the background worker.
func NewWorkerCommand() *cobra.Command {
	var concurrency int
	cmd := &cobra.Command{
		Use:   "worker",
		Short: "Run the background job worker",
		Long: `Run the dealmemo worker.

Depending on the dispatch backend the worker consumes the Redis job queue or
polls the Temporal task queue, running at most --concurrency jobs at once
(1 to 5). It always runs the reaper, which resets jobs whose lease expired
and re-dispatches them, and serves gRPC health checks on HEALTH_ADDR.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadServiceConfig()
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("concurrency") {
				cfg.Worker.Concurrency = concurrency
			}
			return runWorker(cmd.Context(), cfg)
		},
	}
	cmd.Flags().IntVarP(&concurrency, "concurrency", "c", workers.DefaultConcurrency, "Concurrent jobs (1-5)")
	return cmd
}

func runWorker(ctx context.Context, cfg *config.ServiceConfig) error {
	svc, err := newServices(ctx, cfg, buildinfo.ServiceWorker)
	if err != nil {
		return err
	}
	defer svc.Close()

	logger := svc.logger
	concurrency := workers.ClampConcurrency(cfg.Worker.Concurrency)

	hs := health.NewServer()
	grpcServer := grpc.NewServer()
	healthpb.RegisterHealthServer(grpcServer, hs)
	lis, err := net.Listen("tcp", cfg.HealthAddr)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", cfg.HealthAddr, err)
	}
	go func() {
		if err := grpcServer.Serve(lis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
			logger.Error("health server stopped", logging.Err(err))
		}
	}()
	defer grpcServer.GracefulStop()

	if svc.queue != nil {
		poolCfg := workers.DefaultConfig()
		poolCfg.Concurrency = concurrency
		pool := workers.NewPool(poolCfg, svc.queue, workers.JobHandler(svc.runner, logger), svc.metrics, logger)
		pool.Start(ctx)
		defer func() {
			pool.Stop()
			st := pool.Stats()
			logger.Info("worker pool drained",
				logging.F("processed", st.Processed),
				logging.F("failed", st.Failed),
				logging.F("last_activity", st.LastActivity))
		}()
	}

	if svc.temporal != nil {
		tw, err := temporalx.NewWorker(svc.temporal, cfg.Temporal, svc.runner, concurrency, logger)
		if err != nil {
			return err
		}
		if err := tw.Start(ctx); err != nil {
			return fmt.Errorf("starting temporal worker: %w", err)
		}
		defer tw.Stop()
	}

	if svc.queue == nil && svc.temporal == nil {
		logger.Warn("no queue or temporal backend configured; the worker only runs the reaper")
	}

	sched := cron.New()
	if _, err := svc.reaper.Schedule(ctx, sched, cfg.Worker.ReaperSchedule); err != nil {
		return err
	}
	sched.Start()
	defer func() { <-sched.Stop().Done() }()

	hs.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
	logger.Info("worker started",
		logging.F("concurrency", concurrency),
		logging.F("dispatch", cfg.DispatchBackend()),
		logging.F("health_addr", cfg.HealthAddr),
		logging.F("version", buildinfo.Version))

	<-ctx.Done()
	hs.Shutdown()
	logger.Info("worker stopping")
	return nil
}

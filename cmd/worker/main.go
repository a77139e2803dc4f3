package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"
	"golang.org/x/sync/errgroup"

	"github.com/odyssey-dms/odyssey-dms/internal/app"
	"github.com/odyssey-dms/odyssey-dms/internal/auth"
	jobmetrics "github.com/odyssey-dms/odyssey-dms/internal/jobs"
	"github.com/odyssey-dms/odyssey-dms/internal/observability"
	"github.com/odyssey-dms/odyssey-dms/internal/platform/db"
	"github.com/odyssey-dms/odyssey-dms/jobs"
)

func main() {
	if app.InTestMode() {
		slog.Default().Info("test mode detected, skipping worker startup")
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := app.LoadConfig()
	if err != nil {
		slog.Default().Error("load config", slog.Any("error", err))
		os.Exit(1)
	}

	logger := app.NewLogger(cfg)

	obs := observability.NewMetrics()
	codec, err := app.NewCodec(cfg, logger, obs.DecryptFailure)
	if err != nil {
		logger.Error("init codec", slog.Any("error", err))
		os.Exit(1)
	}

	pool, err := db.New(ctx, cfg.PGDSN, cfg.Pool())
	if err != nil {
		logger.Error("connect database", slog.Any("error", err))
		os.Exit(1)
	}
	defer pool.Close()

	metrics := jobmetrics.NewMetrics(obs.Registerer())
	resealJob := jobs.NewResealJob(jobs.NewPGResealStore(pool), codec, logger, metrics)
	purgeJob := jobs.NewPurgeSessionsJob(auth.NewRepository(pool), logger, metrics)

	var cron []jobs.CronRegistration
	if cfg.ResealCron != "" {
		task, err := jobs.NewResealTask(jobs.ResealPayload{})
		if err != nil {
			logger.Error("build reseal task", slog.Any("error", err))
			os.Exit(1)
		}
		cron = append(cron, jobs.CronRegistration{Spec: cfg.ResealCron, Task: task, Options: []asynq.Option{asynq.MaxRetry(3)}})
	}
	if cfg.PurgeSessionsCron != "" {
		cron = append(cron, jobs.CronRegistration{Spec: cfg.PurgeSessionsCron, Task: jobs.NewPurgeSessionsTask(), Options: []asynq.Option{asynq.MaxRetry(1)}})
	}

	worker, err := jobs.NewWorker(jobs.WorkerConfig{
		RedisOpts:   cfg.Redis().Asynq(),
		Logger:      logger,
		Concurrency: cfg.WorkerConcurrency,
		Handlers: []jobs.TaskHandler{
			{Type: jobs.TaskReseal, Handler: resealJob.Handle},
			{Type: jobs.TaskPurgeSessions, Handler: purgeJob.Handle},
		},
		Cron: cron,
	})
	if err != nil {
		logger.Error("init worker", slog.Any("error", err))
		os.Exit(1)
	}

	metricsSrv := &http.Server{
		Addr:              cfg.WorkerMetricsAddr,
		Handler:           obs.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("worker started", slog.Int("cron_entries", len(cron)), slog.String("metrics_addr", cfg.WorkerMetricsAddr))
		return worker.Run(gctx)
	})
	g.Go(func() error {
		if err := metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return metricsSrv.Shutdown(shutdownCtx)
	})
	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("worker run", slog.Any("error", err))
		os.Exit(1)
	}
}

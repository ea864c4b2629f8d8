package main

import (
	"context"
	"errors"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"mostrador/backend/internal/app"
	"mostrador/backend/internal/config"
	"mostrador/backend/internal/jobs"
	"mostrador/backend/internal/logging"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	logger, err := logging.New(cfg.LogLevel, cfg.AppEnv)
	if err != nil {
		log.Fatalf("build logger: %v", err)
	}
	defer func() { _ = logger.Sync() }()
	zap.ReplaceGlobals(logger)

	if err := run(cfg, logger.Named("worker")); err != nil && !errors.Is(err, context.Canceled) {
		logger.Fatal("worker stopped with error", zap.Error(err))
	}
}

func run(cfg config.Config, logger *zap.Logger) error {
	if cfg.RedisAddr == "" {
		return errors.New("REDIS_ADDR is required to run the worker")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	bootCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	rt, err := app.Build(bootCtx, cfg, logger)
	if err != nil {
		return err
	}
	defer func() { _ = rt.Close() }()
	if rt.RedisOpts == nil {
		return errors.New("redis is unreachable")
	}

	job := jobs.NewWebOrdersRefreshJob(rt.Service, logger)
	worker, err := jobs.NewWorker(jobs.WorkerConfig{
		RedisOpts: rt.RedisOpts,
		Logger:    logger,
		Handlers:  []jobs.TaskHandler{{Type: jobs.TaskWebOrdersRefresh, Handler: job.Handle}},
		Cron: []jobs.CronRegistration{{
			Spec: cfg.PollSpec(),
			Task: jobs.NewWebOrdersRefreshTask(cfg.WebOrderPollInterval),
		}},
	})
	if err != nil {
		return err
	}

	logger.Info("worker starting", zap.Duration("poll_interval", cfg.WebOrderPollInterval))
	return worker.Run(ctx)
}

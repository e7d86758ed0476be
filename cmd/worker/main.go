package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/unclebandit/campaign-dispatch/internal/app"
	"github.com/unclebandit/campaign-dispatch/internal/config"
	"github.com/unclebandit/campaign-dispatch/internal/logx"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logx.L().Fatalw("config_load_failed", "error", err)
	}
	logx.Init(cfg.LogLevel)
	defer logx.Sync()

	if cfg.Queue.Driver != config.QueueDriverRabbitMQ {
		logx.L().Warnw("worker_memory_queue",
			"detail", "requests published by cmd/server will not reach this process")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := app.New(ctx, cfg)
	if err != nil {
		logx.L().Fatalw("startup_failed", "error", err)
	}
	defer a.Close()

	if err := a.StartWorker(ctx); err != nil {
		logx.L().Fatalw("worker_start_failed", "error", err)
	}
	logx.L().Infow("worker_running", "queue", cfg.Queue.Driver, "scheduler_interval", cfg.Scheduler.Interval)

	// Blocks until shutdown. Cancelling ctx stops fan-out scheduling;
	// in-flight sends finish on their own timeout.
	a.Scheduler.Run(ctx, cfg.Scheduler.Interval)
	logx.L().Infow("worker_stopped")
}

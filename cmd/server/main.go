// cmd/server/main.go
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

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

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := app.New(ctx, cfg)
	if err != nil {
		logx.L().Fatalw("startup_failed", "error", err)
	}
	defer a.Close()

	// The memory queue only reaches subscribers in this process, so the
	// server runs the dispatch worker and scheduler itself.
	if cfg.Queue.Driver == config.QueueDriverMemory {
		if err := a.StartWorker(ctx); err != nil {
			logx.L().Fatalw("worker_start_failed", "error", err)
		}
		go a.Scheduler.Run(ctx, cfg.Scheduler.Interval)
		logx.L().Infow("in_process_worker_started")
	}

	srv := &http.Server{
		Addr:              cfg.HTTP.Addr,
		Handler:           a.Router().Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logx.L().Warnw("http_shutdown_failed", "error", err)
		}
	}()

	logx.L().Infow("server_listening", "addr", cfg.HTTP.Addr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logx.L().Fatalw("server_failed", "error", err)
	}
	logx.L().Infow("server_stopped")
}

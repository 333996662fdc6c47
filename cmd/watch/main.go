package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"attendanceportal/internal/config"
	"attendanceportal/internal/logging"
)

// Watch keeps a teacher's course sheet refreshed in the terminal.
func main() {
	cfg := config.Load()
	log := logging.Must(cfg.Env)
	defer func() { _ = log.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	w := &watcher{cfg: cfg, log: log, out: os.Stdout, now: time.Now}
	if err := w.run(ctx, os.Args[1:]); err != nil {
		if !errors.Is(err, errHelp) {
			log.Error("watch failed", zap.Error(err))
		}
		stop()
		os.Exit(1)
	}
	log.Info("shutdown signal received, watcher stopped")
}

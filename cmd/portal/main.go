package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"attendanceportal/internal/apiclient"
	"attendanceportal/internal/config"
	"attendanceportal/internal/grid"
	"attendanceportal/internal/httpmiddleware"
	"attendanceportal/internal/logging"
	"attendanceportal/internal/metrics"
	"attendanceportal/internal/poller"
	"attendanceportal/internal/portal"
	"attendanceportal/internal/recovery"
	"attendanceportal/internal/session"
)

func main() {
	cfg := config.Load()
	log := logging.Must(cfg.Env)
	defer func() { _ = log.Sync() }()

	if cfg.Production() {
		gin.SetMode(gin.ReleaseMode)
	}

	if err := runHTTP(cfg, log); err != nil {
		log.Fatal("http server failed", zap.Error(err))
	}
}

func runHTTP(cfg config.App, log *zap.Logger) error {
	rec := metrics.New(prometheus.DefaultRegisterer)
	api := apiclient.New(cfg.BackendURL, cfg.HTTPTimeout)
	api.Metrics = rec

	var (
		store       session.Store
		limiter     httpmiddleware.Limiter
		redisClient *redis.Client
	)
	if cfg.SessionBackend == "redis" {
		redisClient = session.NewRedisClient(cfg.RedisAddr)
		defer redisClient.Close()
		store = session.NewRedisStore(redisClient, "")
		limiter = httpmiddleware.NewRedisWindow(redisClient, "", cfg.RateLimitPerMin)
		log.Info("sessions stored in redis", zap.String("addr", cfg.RedisAddr))
	} else {
		store = session.NewMemoryStore()
		limiter = httpmiddleware.NewSimpleTokenBucket(cfg.RateLimitPerMin, cfg.RateLimitPerMin)
		log.Info("sessions stored in memory")
	}

	workflows := recovery.NewRegistry(cfg.RecoveryIdle)
	janitorCtx, stopJanitor := context.WithCancel(context.Background())
	defer stopJanitor()
	janitor := poller.Start(janitorCtx, workflows.Prune, time.Minute, cfg.RecoveryIdle > 0, log.Named("recovery"))
	defer janitor.Stop()

	h := &portal.Handler{
		Config:    cfg,
		Sessions:  session.NewManager(api, store, cfg.SessionTTL, log.Named("session")),
		Loader:    grid.NewLoader(cfg.SemesterStart, cfg.SemesterEnd, log.Named("grid")),
		Recovery:  recovery.NewService(cfg.RecoveryThreshold, log.Named("recovery")),
		Workflows: workflows,
		Limiter:   limiter,
		Metrics:   rec,
		Health: func(ctx context.Context) map[string]bool {
			checks := map[string]bool{}
			if redisClient != nil {
				checks["redis"] = session.Healthy(ctx, redisClient)
			}
			return checks
		},
		Log: log,
	}

	srv := &http.Server{
		Addr:         ":" + cfg.HTTPPort,
		Handler:      h.Router(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: cfg.SubmitTimeout + 15*time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("starting server", zap.String("addr", srv.Addr), zap.String("backend", cfg.BackendURL))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case err := <-errCh:
		return err
	case <-quit:
	}
	log.Info("shutting down server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Warn("server forced shutdown", zap.Error(err))
	}
	log.Info("server exited")
	return nil
}

package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/push"
	"github.com/robfig/cron/v3"

	"github.com/cprunner/park-events-etl/internal/adapter/httpadapter"
	"github.com/cprunner/park-events-etl/internal/config"
	"github.com/cprunner/park-events-etl/internal/observability"
)

func main() {
	// A missing .env is normal outside local development.
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger := observability.NewLogger(cfg)
	metrics := observability.NewMetrics()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx, cfg, metrics, logger)
	if err != nil {
		logger.Error("failed to build crawler", "error", err)
		os.Exit(1)
	}

	var code int
	if cfg.CrawlSchedule == "" {
		code = runOnce(ctx, cfg, a, metrics, logger)
	} else {
		code = runResident(ctx, cfg, a, logger)
	}
	a.close()
	stop()
	os.Exit(code)
}

// runOnce performs a single crawl and pushes its metrics. Only a store
// failure produces a non-zero exit.
func runOnce(ctx context.Context, cfg *config.Config, a *app, metrics *observability.Metrics, logger *slog.Logger) int {
	_, err := a.pipeline.Run(ctx)
	a.releaseBrowser()

	if cfg.PushgatewayURL != "" {
		pusher := push.New(cfg.PushgatewayURL, "park_events_crawler").
			Gatherer(metrics.Gatherer()).
			Grouping("park", cfg.ParkName)
		if perr := pusher.PushContext(context.WithoutCancel(ctx)); perr != nil {
			logger.Warn("pushgateway push failed", "url", cfg.PushgatewayURL, "error", perr)
		}
	}

	if err != nil {
		return 1
	}
	return 0
}

// runResident crawls on the cron schedule, never overlapping runs, and serves
// health, readiness, status and metrics until signalled.
func runResident(ctx context.Context, cfg *config.Config, a *app, logger *slog.Logger) int {
	cl := cronLogger{logger: logger}
	c := cron.New(
		cron.WithLocation(cfg.Timezone),
		cron.WithLogger(cl),
		cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
	)
	if _, err := c.AddFunc(cfg.CrawlSchedule, func() {
		_, _ = a.pipeline.Run(ctx)
		a.releaseBrowser()
	}); err != nil {
		logger.Error("invalid CRAWL_SCHEDULE", "schedule", cfg.CrawlSchedule, "error", err)
		return 1
	}

	if cfg.SourcesFile != "" {
		stopWatch, err := config.WatchSources(cfg.SourcesFile, a.reloadSources, logger)
		if err != nil {
			logger.Warn("sources file watch disabled", "path", cfg.SourcesFile, "error", err)
		} else {
			defer stopWatch()
		}
	}

	srv := httpadapter.NewServer(cfg.HTTPAddr, a.pipeline, prometheus.DefaultGatherer, logger)
	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server error", "error", err)
		}
	}()

	c.Start()
	logger.Info("crawler scheduled", "schedule", cfg.CrawlSchedule, "timezone", cfg.Timezone.String())

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	// Runs observe ctx and abort without saving; wait for the active one.
	select {
	case <-c.Stop().Done():
	case <-shutdownCtx.Done():
		logger.Warn("crawl still running at shutdown deadline")
	}
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown error", "error", err)
	}

	logger.Info("shutdown complete")
	return 0
}

// cronLogger adapts slog to cron's logger interface.
type cronLogger struct {
	logger *slog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...any) {
	l.logger.Debug("cron: "+msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...any) {
	l.logger.Error("cron: "+msg, append(keysAndValues, "error", err)...)
}

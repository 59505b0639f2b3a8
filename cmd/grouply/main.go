package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"grouply/internal/cache"
	"grouply/internal/cli"
	"grouply/internal/core"
	apphttp "grouply/internal/http"
	"grouply/internal/log"
	"grouply/internal/metrics"
	"grouply/internal/services"
)

func main() {
	cli.LoadEnvFile()
	cfg, logger := cli.LoadAndValidateConfig(log.ComponentApp)

	ctx := context.Background()
	result := cli.OpenBackend(ctx, logger, cfg, true)

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m := metrics.New(reg)

	roster := cache.NewRosterCache(result.Store, cfg.RosterCacheSize, cfg.RosterCacheTTL)
	caches := cache.NewManager(logger.With(log.FieldComponent, log.ComponentCache).Logger)
	caches.Register(roster)
	caches.StartCleanup(cfg.RosterCacheTTL)

	opts := []services.Option{
		services.WithRoster(roster),
		services.WithPlanner(core.PlannerFor(cfg.SettlementStrategy)),
		services.WithMetrics(m),
		services.WithLogger(logger),
	}
	// A nil *amqp.Client must not end up inside the Publisher interface.
	if result.Publisher != nil {
		opts = append(opts, services.WithPublisher(result.Publisher))
	}
	ledger := services.NewLedgerService(result.Store, opts...)

	srv := apphttp.NewServer(":"+cfg.Port, ledger,
		apphttp.WithLogger(logger),
		apphttp.WithMetrics(m),
		apphttp.WithRateLimit(cfg.RateLimitRPM),
		apphttp.OnShutdown(caches.Stop),
	)

	_, done := cli.GracefulShutdown(logger, 30*time.Second, func(ctx context.Context) {
		if err := srv.Shutdown(ctx); err != nil {
			logger.Error("Server shutdown error", log.FieldError, err)
		}
		if err := result.Cleanup(); err != nil {
			logger.Error("Backend cleanup error", log.FieldError, err)
		}
	})

	logger.Info("Starting grouply server",
		"port", cfg.Port,
		"backend", cfg.DataBackend,
		"settlement_strategy", cfg.SettlementStrategy)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("Server error", log.FieldError, err, "port", cfg.Port)
		os.Exit(1)
	}

	<-done
	logger.Info("Server stopped gracefully")
}

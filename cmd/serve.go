package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/teemow/callslot/internal/availability"
	"github.com/teemow/callslot/internal/booking"
	"github.com/teemow/callslot/internal/config"
	"github.com/teemow/callslot/internal/instrumentation"
	"github.com/teemow/callslot/internal/logging"
	"github.com/teemow/callslot/internal/server"
	"github.com/teemow/callslot/internal/users"
)

// serveFlags are command line overrides. A flag only wins over the config
// file and environment when it was set explicitly.
type serveFlags struct {
	debug       bool
	httpAddr    string
	baseURL     string
	databaseURL string
	metricsAddr string
	noMetrics   bool
	timezone    string
	redisURL    string
}

func newServeCmd() *cobra.Command {
	var flags serveFlags

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the callslot HTTP API",
		Long: `Run the callslot HTTP API.

Settings are read from the config file, then from environment variables
(CALLSLOT_*, GOOGLE_CLIENT_ID, GOOGLE_CLIENT_SECRET, DATABASE_URL, REDIS_URL),
then from explicitly set flags. Prometheus metrics are served on a separate
listener.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadFrom(configPath)
			if err != nil {
				return err
			}
			flags.apply(cmd, cfg)
			return runServe(cfg, flags.debug)
		},
	}

	flags.bind(cmd)
	return cmd
}

func (f *serveFlags) bind(cmd *cobra.Command) {
	cmd.Flags().BoolVar(&f.debug, "debug", false, "Enable debug logging")
	cmd.Flags().StringVar(&f.httpAddr, "http-addr", ":8080", "HTTP server address. Can also use CALLSLOT_HTTP_ADDR env var.")
	cmd.Flags().StringVar(&f.baseURL, "base-url", "", "Public base URL, used for the Google OAuth redirect. Can also use CALLSLOT_BASE_URL env var. Example: https://book.example.com")
	cmd.Flags().StringVar(&f.databaseURL, "database-url", "", "SQLite file path or postgres:// URL. Can also use DATABASE_URL env var.")
	cmd.Flags().StringVar(&f.metricsAddr, "metrics-addr", ":9090", "Metrics server address. Can also use METRICS_ADDR env var.")
	cmd.Flags().BoolVar(&f.noMetrics, "no-metrics", false, "Disable the metrics server")
	cmd.Flags().StringVar(&f.timezone, "timezone", "", "IANA time zone that availability hours are interpreted in. Can also use CALLSLOT_TIMEZONE env var.")
	cmd.Flags().StringVar(&f.redisURL, "redis-url", "", "Redis URL for a rate limiter shared across replicas. Can also use REDIS_URL env var.")
}

func (f *serveFlags) apply(cmd *cobra.Command, cfg *config.Config) {
	changed := cmd.Flags().Changed
	if changed("http-addr") {
		cfg.Server.Addr = f.httpAddr
	}
	if changed("base-url") {
		cfg.Server.BaseURL = f.baseURL
	}
	if changed("database-url") {
		cfg.Storage.DSN = f.databaseURL
	}
	if changed("metrics-addr") {
		cfg.Metrics.Addr = f.metricsAddr
	}
	if f.noMetrics {
		cfg.Metrics.Enabled = false
	}
	if changed("timezone") {
		cfg.Schedule.Timezone = f.timezone
	}
	if changed("redis-url") {
		cfg.RateLimit.RedisURL = f.redisURL
	}
}

func runServe(cfg *config.Config, debug bool) error {
	if err := errors.Join(cfg.Validate(), cfg.ValidateGoogle(), server.ValidateBaseURL(cfg.Server.BaseURL)); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	loc, err := cfg.Location()
	if err != nil {
		return err
	}

	logger := newLogger(os.Stderr, debug)
	slog.SetDefault(logger)

	// Setup graceful shutdown
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	instrConfig := instrumentation.DefaultConfig()
	instrConfig.ServiceVersion = version
	if !cfg.Metrics.Enabled && instrConfig.TracingExporter == instrumentation.ExporterNone {
		instrConfig.Enabled = false
	}

	provider, err := instrumentation.NewProvider(ctx, instrConfig)
	if err != nil {
		return fmt.Errorf("failed to create instrumentation provider: %w", err)
	}
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := provider.Shutdown(flushCtx); err != nil {
			logger.Error("instrumentation shutdown failed", logging.Err(err))
		}
	}()
	metrics := provider.Metrics()
	audit := instrumentation.NewAuditLoggerWithConfig(logger, instrConfig.AuditLogging)

	store, closeStore, err := openStore(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := closeStore(); err != nil {
			logger.Error("closing database failed", logging.Err(err))
		}
	}()

	gs, err := newGoogleStack(cfg, store, logger, metrics, audit)
	if err != nil {
		return err
	}

	limiter, closeLimiter, err := newLimiter(cfg.RateLimit, logger)
	if err != nil {
		return err
	}
	defer func() { _ = closeLimiter() }()

	sessions, err := server.NewSessionManager(server.SessionConfig{
		Secret:     cfg.Session.Secret,
		TTL:        cfg.Session.TTL.Duration,
		CookieName: cfg.Session.CookieName,
		Secure:     cfg.Session.SecureCookie,
	})
	if err != nil {
		return err
	}

	svc := server.Services{
		Users: users.NewService(store, gs.oauth,
			users.WithLogger(logger),
			users.WithMetrics(metrics),
			users.WithAudit(audit),
		),
		Rules: availability.NewRuleService(store, logger, audit),
		Availability: availability.NewChecker(store, gs.tokens, gs.cal,
			availability.WithLocation(loc),
			availability.WithLogger(logger),
			availability.WithMetrics(metrics),
		),
		Bookings: booking.NewWriter(store, gs.syncer,
			booking.WithLocation(loc),
			booking.WithLogger(logger),
			booking.WithMetrics(metrics),
			booking.WithAudit(audit),
		),
		Storage: store,
	}

	apiServer, err := server.New(server.Config{
		Addr:         cfg.Server.Addr,
		ReadTimeout:  cfg.Server.ReadTimeout.Duration,
		WriteTimeout: cfg.Server.WriteTimeout.Duration,
		MaxBodyBytes: cfg.Server.MaxBodyBytes,
		Limiter:      limiter,
		TrustProxy:   cfg.RateLimit.TrustProxy,
		Tracing:      provider.Enabled() && instrConfig.TracingExporter != instrumentation.ExporterNone,
		Logger:       logger,
		Metrics:      metrics,
	}, svc, sessions)
	if err != nil {
		return err
	}

	var metricsServer *server.MetricsServer
	if cfg.Metrics.Enabled && provider.Enabled() && instrConfig.MetricsExporter == instrumentation.ExporterPrometheus {
		metricsServer, err = server.NewMetricsServer(server.MetricsServerConfig{
			Addr:                    cfg.Metrics.Addr,
			InstrumentationProvider: provider,
			Logger:                  logger,
		})
		if err != nil {
			return fmt.Errorf("failed to create metrics server: %w", err)
		}
	}

	return serveUntilDone(ctx, apiServer, metricsServer, cfg.Server.ShutdownTimeout.Duration, logger)
}

// serveUntilDone runs the API and the optional metrics server until ctx is
// cancelled or either listener fails, then drains both.
func serveUntilDone(ctx context.Context, api *server.Server, metricsServer *server.MetricsServer, shutdownTimeout time.Duration, logger *slog.Logger) error {
	if shutdownTimeout <= 0 {
		shutdownTimeout = server.DefaultShutdownTimeout
	}

	serverDone := make(chan error, 2)
	go func() {
		serverDone <- api.Start()
	}()
	if metricsServer != nil {
		go func() {
			if err := metricsServer.Start(); err != nil {
				serverDone <- fmt.Errorf("metrics server: %w", err)
			}
		}()
	}

	var runErr error
	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received, stopping servers")
	case err := <-serverDone:
		if err != nil {
			runErr = fmt.Errorf("server stopped with error: %w", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := api.Shutdown(shutdownCtx); err != nil {
		runErr = errors.Join(runErr, fmt.Errorf("error shutting down HTTP server: %w", err))
	}
	if metricsServer != nil {
		if err := metricsServer.Shutdown(shutdownCtx); err != nil {
			runErr = errors.Join(runErr, fmt.Errorf("error shutting down metrics server: %w", err))
		}
	}

	if runErr == nil {
		logger.Info("servers gracefully stopped")
	}
	return runErr
}

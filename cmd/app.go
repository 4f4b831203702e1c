package cmd

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/teemow/callslot/internal/booking"
	"github.com/teemow/callslot/internal/calendar"
	"github.com/teemow/callslot/internal/config"
	"github.com/teemow/callslot/internal/google"
	"github.com/teemow/callslot/internal/instrumentation"
	"github.com/teemow/callslot/internal/server"
	"github.com/teemow/callslot/internal/storage"
	"github.com/teemow/callslot/internal/storage/crypt"
	"github.com/teemow/callslot/internal/storage/postgres"
	"github.com/teemow/callslot/internal/storage/sqlite"
)

// googleHTTPTimeout bounds every call to the Google token and Calendar APIs.
const googleHTTPTimeout = 15 * time.Second

// migratedStore is a database handle that can report its schema version.
type migratedStore interface {
	storage.Store
	SchemaVersion(ctx context.Context) (int, error)
}

func newLogger(w io.Writer, debug bool) *slog.Logger {
	level := slog.LevelInfo
	if debug {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{Level: level}))
}

// openDatabase opens the store selected by the DSN. Both backends apply
// their migrations on open.
func openDatabase(ctx context.Context, cfg *config.Config) (migratedStore, error) {
	if cfg.IsPostgres() {
		s, err := postgres.Open(ctx, cfg.Storage.DSN)
		if err != nil {
			return nil, fmt.Errorf("failed to open postgres: %w", err)
		}
		return s, nil
	}
	s, err := sqlite.Open(ctx, cfg.Storage.DSN)
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite database %s: %w", cfg.Storage.DSN, err)
	}
	return s, nil
}

// openStore opens the database and wraps it with token encryption when a
// key is configured. The returned close func releases the database.
func openStore(ctx context.Context, cfg *config.Config, logger *slog.Logger) (storage.Store, func() error, error) {
	key, err := cfg.EncryptionKey()
	if err != nil {
		return nil, nil, err
	}
	enc, err := crypt.NewTokenEncryption(key)
	if err != nil {
		return nil, nil, err
	}

	db, err := openDatabase(ctx, cfg)
	if err != nil {
		return nil, nil, err
	}
	if !enc.Enabled() {
		logger.Warn("token encryption at rest is disabled, set storage.encryption_key for production")
	}
	return storage.WithTokenEncryption(db, enc), db.Close, nil
}

// googleStack holds the Google clients shared by serve and resync.
type googleStack struct {
	oauth  *google.Client
	tokens *google.TokenManager
	syncer *booking.Syncer
	cal    *calendar.Client
}

func newGoogleHTTPClient() *http.Client {
	return &http.Client{
		Timeout:   googleHTTPTimeout,
		Transport: otelhttp.NewTransport(http.DefaultTransport),
	}
}

func newGoogleStack(cfg *config.Config, store storage.Store, logger *slog.Logger, metrics *instrumentation.Metrics, audit *instrumentation.AuditLogger) (*googleStack, error) {
	loc, err := cfg.Location()
	if err != nil {
		return nil, err
	}

	httpClient := newGoogleHTTPClient()
	oauthClient := google.NewClient(google.NewOAuth2Config(google.OAuthConfig{
		ClientID:     cfg.Google.ClientID,
		ClientSecret: cfg.Google.ClientSecret,
		RedirectURL:  cfg.RedirectURL(),
	}), httpClient, metrics)

	tokens := google.NewTokenManager(store, oauthClient,
		google.WithLogger(logger),
		google.WithMetrics(metrics),
	)
	cal := calendar.NewClient(calendar.Options{HTTPClient: httpClient, Metrics: metrics})

	syncer := booking.NewSyncer(store, tokens, cal, booking.SyncerConfig{
		Retry: booking.RetryConfig{
			MaxTries:        cfg.Sync.MaxTries,
			InitialInterval: cfg.Sync.InitialInterval.Duration,
			MaxElapsedTime:  cfg.Sync.MaxElapsedTime.Duration,
		},
		Location: loc,
		Logger:   logger,
		Metrics:  metrics,
		Audit:    audit,
	})

	return &googleStack{oauth: oauthClient, tokens: tokens, syncer: syncer, cal: cal}, nil
}

// newLimiter builds the rate limiter for the public routes. A Redis URL
// shares the budget across replicas; the returned close func is never nil.
func newLimiter(cfg config.RateLimitConfig, logger *slog.Logger) (server.Limiter, func() error, error) {
	noop := func() error { return nil }
	if !cfg.Enabled {
		return nil, noop, nil
	}
	if cfg.RedisURL == "" {
		return server.NewMemoryLimiter(cfg.RequestsPerMinute, cfg.Burst), noop, nil
	}

	rdb, err := server.NewRedisClient(cfg.RedisURL)
	if err != nil {
		return nil, nil, err
	}
	logger.Info("using redis rate limiter")
	return redisLimiter(rdb, cfg), rdb.Close, nil
}

func redisLimiter(rdb *redis.Client, cfg config.RateLimitConfig) server.Limiter {
	return server.NewRedisLimiter(rdb, cfg.RequestsPerMinute+cfg.Burst, time.Minute, "")
}

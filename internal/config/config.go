// Package config loads callslot settings from defaults, an optional TOML
// file, and environment variables.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"

	"github.com/teemow/callslot/internal/storage/crypt"
)

// Config holds the application configuration.
type Config struct {
	Server    ServerConfig    `toml:"server"`
	Metrics   MetricsConfig   `toml:"metrics"`
	Storage   StorageConfig   `toml:"storage"`
	Google    GoogleConfig    `toml:"google"`
	Schedule  ScheduleConfig  `toml:"schedule"`
	Session   SessionConfig   `toml:"session"`
	RateLimit RateLimitConfig `toml:"rate_limit"`
	Sync      SyncConfig      `toml:"sync"`
}

// ServerConfig holds the public HTTP listener settings.
type ServerConfig struct {
	Addr string `toml:"addr"`
	// BaseURL is the public URL, used for the OAuth redirect.
	BaseURL         string   `toml:"base_url"`
	ReadTimeout     Duration `toml:"read_timeout"`
	WriteTimeout    Duration `toml:"write_timeout"`
	ShutdownTimeout Duration `toml:"shutdown_timeout"`
	MaxBodyBytes    int64    `toml:"max_body_bytes"`
}

// MetricsConfig holds the dedicated metrics listener settings.
type MetricsConfig struct {
	Enabled bool   `toml:"enabled"`
	Addr    string `toml:"addr"`
}

// StorageConfig selects the database.
type StorageConfig struct {
	// DSN is a SQLite file path, or a postgres:// URL.
	DSN string `toml:"dsn"`
	// EncryptionKey is a base64 encoded 32 byte key for tokens at rest.
	// Empty disables encryption.
	EncryptionKey string `toml:"encryption_key"`
}

// GoogleConfig holds the registered OAuth client.
type GoogleConfig struct {
	ClientID     string `toml:"client_id"`
	ClientSecret string `toml:"client_secret"`
	// RedirectURL defaults to BaseURL + "/auth/google/callback".
	RedirectURL string `toml:"redirect_url"`
}

// ScheduleConfig holds booking settings.
type ScheduleConfig struct {
	// Timezone is an IANA zone name; days and hours are interpreted in it.
	Timezone string `toml:"timezone"`
}

// SessionConfig holds the session cookie settings.
type SessionConfig struct {
	Secret       string   `toml:"secret"`
	TTL          Duration `toml:"ttl"`
	CookieName   string   `toml:"cookie_name"`
	SecureCookie bool     `toml:"secure_cookie"`
}

// RateLimitConfig limits the public booking endpoints per client.
type RateLimitConfig struct {
	Enabled           bool `toml:"enabled"`
	RequestsPerMinute int  `toml:"requests_per_minute"`
	Burst             int  `toml:"burst"`
	// RedisURL switches to a limiter shared across instances.
	RedisURL string `toml:"redis_url"`
	// TrustProxy keys clients by the first X-Forwarded-For entry.
	TrustProxy bool `toml:"trust_proxy"`
}

// SyncConfig bounds calendar mirror retries.
type SyncConfig struct {
	MaxTries        uint     `toml:"max_tries"`
	InitialInterval Duration `toml:"initial_interval"`
	MaxElapsedTime  Duration `toml:"max_elapsed_time"`
	// ResyncGrace is how old a booking must be before `callslot resync`
	// touches it.
	ResyncGrace Duration `toml:"resync_grace"`
}

// Duration is a time.Duration written as a string such as "30s" in TOML.
type Duration struct {
	time.Duration
}

// UnmarshalText parses a duration string.
func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	d.Duration = v
	return nil
}

// MarshalText renders the duration string.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

// Default returns the default configuration.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Addr:            ":8080",
			ReadTimeout:     Duration{15 * time.Second},
			WriteTimeout:    Duration{30 * time.Second},
			ShutdownTimeout: Duration{30 * time.Second},
			MaxBodyBytes:    1 << 20,
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Addr:    ":9090",
		},
		Storage: StorageConfig{
			DSN: "callslot.db",
		},
		Schedule: ScheduleConfig{
			Timezone: "UTC",
		},
		Session: SessionConfig{
			TTL:        Duration{7 * 24 * time.Hour},
			CookieName: "callslot_session",
		},
		RateLimit: RateLimitConfig{
			Enabled:           true,
			RequestsPerMinute: 60,
			Burst:             10,
		},
		Sync: SyncConfig{
			MaxTries:        3,
			InitialInterval: Duration{500 * time.Millisecond},
			MaxElapsedTime:  Duration{10 * time.Second},
			ResyncGrace:     Duration{5 * time.Minute},
		},
	}
}

// LoadFrom loads configuration from path. It starts with defaults, overlays
// the file if it exists, then applies environment overrides. The result is
// not validated; callers apply flags first and then call Validate.
func LoadFrom(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		if err := loadFromFile(path, cfg); err != nil {
			return nil, err
		}
	}

	if err := applyEnvOverrides(cfg, os.Getenv); err != nil {
		return nil, err
	}
	return cfg, nil
}

func loadFromFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("reading config file: %w", err)
	}

	if err := toml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parsing config file: %w", err)
	}
	return nil
}

// applyEnvOverrides applies environment variable overrides to the config.
func applyEnvOverrides(cfg *Config, getenv func(string) string) error {
	str := func(dst *string, keys ...string) {
		for _, key := range keys {
			if v := getenv(key); v != "" {
				*dst = v
				return
			}
		}
	}

	str(&cfg.Server.Addr, "CALLSLOT_HTTP_ADDR")
	str(&cfg.Server.BaseURL, "CALLSLOT_BASE_URL")
	str(&cfg.Metrics.Addr, "CALLSLOT_METRICS_ADDR", "METRICS_ADDR")
	str(&cfg.Storage.DSN, "CALLSLOT_DATABASE_URL", "DATABASE_URL")
	str(&cfg.Storage.EncryptionKey, "CALLSLOT_ENCRYPTION_KEY")
	str(&cfg.Google.ClientID, "GOOGLE_CLIENT_ID")
	str(&cfg.Google.ClientSecret, "GOOGLE_CLIENT_SECRET")
	str(&cfg.Google.RedirectURL, "GOOGLE_REDIRECT_URL")
	str(&cfg.Schedule.Timezone, "CALLSLOT_TIMEZONE")
	str(&cfg.Session.Secret, "CALLSLOT_SESSION_SECRET")
	str(&cfg.RateLimit.RedisURL, "CALLSLOT_REDIS_URL", "REDIS_URL")

	bools := []struct {
		key string
		dst *bool
	}{
		{"CALLSLOT_METRICS_ENABLED", &cfg.Metrics.Enabled},
		{"CALLSLOT_SECURE_COOKIE", &cfg.Session.SecureCookie},
		{"CALLSLOT_RATE_LIMIT_ENABLED", &cfg.RateLimit.Enabled},
		{"CALLSLOT_TRUST_PROXY", &cfg.RateLimit.TrustProxy},
	}
	for _, b := range bools {
		v := getenv(b.key)
		if v == "" {
			continue
		}
		parsed, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("invalid %s %q: %w", b.key, v, err)
		}
		*b.dst = parsed
	}

	if v := getenv("CALLSLOT_RATE_LIMIT_RPM"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid CALLSLOT_RATE_LIMIT_RPM %q: %w", v, err)
		}
		cfg.RateLimit.RequestsPerMinute = n
	}
	return nil
}

// Validate checks if the configuration is valid.
func (c *Config) Validate() error {
	var errs []error

	if c.Server.Addr == "" {
		errs = append(errs, errors.New("server.addr must be set"))
	}
	if c.Server.BaseURL != "" {
		if u, err := url.Parse(c.Server.BaseURL); err != nil || u.Scheme == "" || u.Host == "" {
			errs = append(errs, fmt.Errorf("server.base_url must be an absolute URL, got %q", c.Server.BaseURL))
		}
	}
	if c.Server.MaxBodyBytes <= 0 {
		errs = append(errs, errors.New("server.max_body_bytes must be positive"))
	}
	if c.Metrics.Enabled && c.Metrics.Addr == "" {
		errs = append(errs, errors.New("metrics.addr must be set when metrics are enabled"))
	}
	if c.Storage.DSN == "" {
		errs = append(errs, errors.New("storage.dsn must be set"))
	}
	if _, err := c.EncryptionKey(); err != nil {
		errs = append(errs, err)
	}
	if _, err := c.Location(); err != nil {
		errs = append(errs, err)
	}
	if len(c.Session.Secret) < 32 {
		errs = append(errs, errors.New("session.secret must be at least 32 characters"))
	}
	if c.Session.TTL.Duration <= 0 {
		errs = append(errs, errors.New("session.ttl must be positive"))
	}
	if c.RateLimit.Enabled && c.RateLimit.RequestsPerMinute <= 0 {
		errs = append(errs, errors.New("rate_limit.requests_per_minute must be positive"))
	}
	if c.Sync.MaxTries == 0 {
		errs = append(errs, errors.New("sync.max_tries must be at least 1"))
	}
	return errors.Join(errs...)
}

// ValidateGoogle checks the settings needed to talk to Google.
func (c *Config) ValidateGoogle() error {
	var errs []error
	if c.Google.ClientID == "" {
		errs = append(errs, errors.New("google.client_id must be set (or GOOGLE_CLIENT_ID)"))
	}
	if c.Google.ClientSecret == "" {
		errs = append(errs, errors.New("google.client_secret must be set (or GOOGLE_CLIENT_SECRET)"))
	}
	return errors.Join(errs...)
}

// Location returns the scheduling time zone.
func (c *Config) Location() (*time.Location, error) {
	loc, err := time.LoadLocation(c.Schedule.Timezone)
	if err != nil {
		return nil, fmt.Errorf("schedule.timezone %q: %w", c.Schedule.Timezone, err)
	}
	return loc, nil
}

// EncryptionKey decodes the token encryption key. A nil key means
// encryption is disabled.
func (c *Config) EncryptionKey() ([]byte, error) {
	key, err := crypt.KeyFromBase64(c.Storage.EncryptionKey)
	if err != nil {
		return nil, fmt.Errorf("storage.encryption_key: %w", err)
	}
	return key, nil
}

// RedirectURL returns the OAuth callback URL.
func (c *Config) RedirectURL() string {
	if c.Google.RedirectURL != "" {
		return c.Google.RedirectURL
	}
	base := c.Server.BaseURL
	if base == "" {
		addr := c.Server.Addr
		if strings.HasPrefix(addr, ":") {
			addr = "localhost" + addr
		}
		base = "http://" + addr
	}
	return strings.TrimSuffix(base, "/") + "/auth/google/callback"
}

// IsPostgres reports whether the DSN selects PostgreSQL.
func (c *Config) IsPostgres() bool {
	return strings.HasPrefix(c.Storage.DSN, "postgres://") || strings.HasPrefix(c.Storage.DSN, "postgresql://")
}

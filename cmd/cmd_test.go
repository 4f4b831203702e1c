package cmd

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"testing"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teemow/callslot/internal/config"
	"github.com/teemow/callslot/internal/server"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestServeFlags_OnlyExplicitFlagsOverride(t *testing.T) {
	cmd := &cobra.Command{Use: "serve"}
	var f serveFlags
	f.bind(cmd)
	require.NoError(t, cmd.ParseFlags([]string{"--database-url", "postgres://db/callslot", "--no-metrics"}))

	cfg := config.Default()
	cfg.Server.Addr = ":7000" // as if set by CALLSLOT_HTTP_ADDR
	f.apply(cmd, cfg)

	assert.Equal(t, ":7000", cfg.Server.Addr)
	assert.Equal(t, "postgres://db/callslot", cfg.Storage.DSN)
	assert.True(t, cfg.IsPostgres())
	assert.False(t, cfg.Metrics.Enabled)
	assert.Equal(t, "UTC", cfg.Schedule.Timezone)
}

func TestNewLimiter(t *testing.T) {
	t.Run("disabled", func(t *testing.T) {
		l, closeFn, err := newLimiter(config.RateLimitConfig{Enabled: false}, discardLogger())
		require.NoError(t, err)
		assert.Nil(t, l)
		assert.NoError(t, closeFn())
	})

	t.Run("memory", func(t *testing.T) {
		l, closeFn, err := newLimiter(config.RateLimitConfig{Enabled: true, RequestsPerMinute: 60, Burst: 1}, discardLogger())
		require.NoError(t, err)
		assert.IsType(t, &server.MemoryLimiter{}, l)
		assert.NoError(t, closeFn())
	})

	t.Run("redis", func(t *testing.T) {
		l, closeFn, err := newLimiter(config.RateLimitConfig{Enabled: true, RequestsPerMinute: 60, RedisURL: "redis://127.0.0.1:1/0"}, discardLogger())
		require.NoError(t, err)
		assert.IsType(t, &server.RedisLimiter{}, l)
		assert.NoError(t, closeFn())
	})

	t.Run("bad redis url", func(t *testing.T) {
		_, _, err := newLimiter(config.RateLimitConfig{Enabled: true, RequestsPerMinute: 60, RedisURL: "http://nope"}, discardLogger())
		assert.Error(t, err)
	})
}

func TestRunMigrate_SQLite(t *testing.T) {
	cfg := config.Default()
	cfg.Storage.DSN = filepath.Join(t.TempDir(), "callslot.db")

	cmd := &cobra.Command{}
	var out bytes.Buffer
	cmd.SetOut(&out)

	require.NoError(t, runMigrate(context.Background(), cmd, cfg))
	assert.Regexp(t, `^schema version [1-9]\d*\n$`, out.String())

	// Running again is a no-op.
	out.Reset()
	require.NoError(t, runMigrate(context.Background(), cmd, cfg))
	assert.Regexp(t, `^schema version [1-9]\d*\n$`, out.String())
}

func TestOpenStore_RejectsBadEncryptionKey(t *testing.T) {
	cfg := config.Default()
	cfg.Storage.DSN = filepath.Join(t.TempDir(), "callslot.db")
	cfg.Storage.EncryptionKey = "dG9vLXNob3J0"

	_, _, err := openStore(context.Background(), cfg, discardLogger())
	assert.Error(t, err)
}

func TestOpenStore_SQLite(t *testing.T) {
	cfg := config.Default()
	cfg.Storage.DSN = filepath.Join(t.TempDir(), "callslot.db")

	store, closeFn, err := openStore(context.Background(), cfg, discardLogger())
	require.NoError(t, err)
	assert.NoError(t, store.Ping(context.Background()))
	assert.NoError(t, closeFn())
}

func TestVersionCmd(t *testing.T) {
	SetVersion("1.2.3")
	t.Cleanup(func() { SetVersion("dev") })

	cmd := newVersionCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetArgs([]string{})
	require.NoError(t, cmd.Execute())
	assert.Equal(t, "callslot version 1.2.3\n", out.String())
}

func TestRunResync_RequiresGoogleAndLimit(t *testing.T) {
	cfg := config.Default()
	cmd := &cobra.Command{}

	assert.ErrorContains(t, runResync(cmd, cfg, 0, false), "--limit")
	assert.ErrorContains(t, runResync(cmd, cfg, 10, false), "google.client_id")
}

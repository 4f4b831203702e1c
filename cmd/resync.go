package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/teemow/callslot/internal/booking"
	"github.com/teemow/callslot/internal/config"
	"github.com/teemow/callslot/internal/instrumentation"
)

func newResyncCmd() *cobra.Command {
	var (
		limit int
		debug bool
	)

	cmd := &cobra.Command{
		Use:   "resync",
		Short: "Create missing calendar events for saved bookings",
		Long: `Retry the Google Calendar mirror for bookings that were saved while the
calendar was unavailable or disconnected. Bookings newer than sync.resync_grace
and bookings whose hour has already started are left alone. Run it from cron
or a Kubernetes CronJob.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadFrom(configPath)
			if err != nil {
				return err
			}
			return runResync(cmd, cfg, limit, debug)
		},
	}

	cmd.Flags().IntVar(&limit, "limit", 100, "Maximum number of bookings to process")
	cmd.Flags().BoolVar(&debug, "debug", false, "Enable debug logging")
	return cmd
}

func runResync(cmd *cobra.Command, cfg *config.Config, limit int, debug bool) error {
	if limit <= 0 {
		return errors.New("--limit must be positive")
	}
	if err := cfg.ValidateGoogle(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	logger := newLogger(os.Stderr, debug)
	instrConfig := instrumentation.DefaultConfig()
	audit := instrumentation.NewAuditLoggerWithConfig(logger, instrConfig.AuditLogging)
	metrics := instrumentation.NewNoopProvider().Metrics()

	store, closeStore, err := openStore(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer func() { _ = closeStore() }()

	gs, err := newGoogleStack(cfg, store, logger, metrics, audit)
	if err != nil {
		return err
	}

	report, err := booking.NewResyncer(store, gs.syncer, cfg.Sync.ResyncGrace.Duration, logger).Run(ctx, limit)
	fmt.Fprintf(cmd.OutOrStdout(), "attempted %d, synced %d, failed %d\n", report.Attempted, report.Synced, report.Failed)
	return err
}

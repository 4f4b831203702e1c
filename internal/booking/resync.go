package booking

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/teemow/callslot/internal/domain"
	"github.com/teemow/callslot/internal/logging"
)

// UnsyncedLister finds bookings whose calendar event is missing.
type UnsyncedLister interface {
	ListUnsynced(ctx context.Context, createdBefore, startsAfter time.Time, limit int) ([]domain.Scheduling, error)
}

// Report summarizes one Resyncer run.
type Report struct {
	Attempted int
	Synced    int
	Failed    int
}

// Resyncer retries the calendar mirror of pending and failed bookings. Hours
// that have already started are left alone.
type Resyncer struct {
	store  UnsyncedLister
	syncer *Syncer
	grace  time.Duration
	now    func() time.Time
	logger *slog.Logger
}

// NewResyncer creates a Resyncer. Bookings younger than grace are skipped so
// that requests still in flight are not raced.
func NewResyncer(store UnsyncedLister, syncer *Syncer, grace time.Duration, logger *slog.Logger) *Resyncer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Resyncer{store: store, syncer: syncer, grace: grace, now: time.Now, logger: logger}
}

// Run syncs up to limit bookings. Per-booking failures are counted, not
// returned; only listing errors and cancellation abort the run.
func (r *Resyncer) Run(ctx context.Context, limit int) (Report, error) {
	var report Report

	now := r.now()
	pending, err := r.store.ListUnsynced(ctx, now.Add(-r.grace), now, limit)
	if err != nil {
		return report, fmt.Errorf("failed to list unsynced bookings: %w", err)
	}

	logger := logging.WithOperation(r.logger, "booking.resync")
	for _, sched := range pending {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		report.Attempted++

		_, err := r.syncer.Sync(ctx, sched)
		var cerr *domain.ExternalCalendarError
		switch {
		case err == nil:
			report.Synced++
		case errors.As(err, &cerr):
			report.Failed++
		default:
			return report, err
		}
	}

	logger.Info("resync finished",
		slog.Int("attempted", report.Attempted),
		slog.Int("synced", report.Synced),
		slog.Int("failed", report.Failed))
	return report, nil
}

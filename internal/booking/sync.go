package booking

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v5"

	"github.com/teemow/callslot/internal/calendar"
	"github.com/teemow/callslot/internal/domain"
	"github.com/teemow/callslot/internal/google"
	"github.com/teemow/callslot/internal/instrumentation"
	"github.com/teemow/callslot/internal/logging"
)

// CredentialSource returns a usable calendar credential for a user.
type CredentialSource interface {
	GetValidCredential(ctx context.Context, userID string) (google.Credential, error)
}

// EventInserter creates calendar events.
type EventInserter interface {
	InsertEvent(ctx context.Context, cred google.Credential, spec calendar.EventSpec) (calendar.EventRef, error)
}

// SyncStore records mirror outcomes.
type SyncStore interface {
	UpdateEventSync(ctx context.Context, id string, status domain.EventSyncStatus, eventID, syncErr string) error
}

// RetryConfig bounds the retries of one mirror run.
type RetryConfig struct {
	MaxTries        uint
	InitialInterval time.Duration
	MaxElapsedTime  time.Duration
}

// DefaultRetryConfig returns the retry bounds used by the HTTP path.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxTries:        3,
		InitialInterval: 500 * time.Millisecond,
		MaxElapsedTime:  10 * time.Second,
	}
}

// Syncer mirrors bookings into the owner's calendar.
type Syncer struct {
	store    SyncStore
	creds    CredentialSource
	calendar EventInserter
	retry    RetryConfig
	location *time.Location
	logger   *slog.Logger
	metrics  *instrumentation.Metrics
	audit    *instrumentation.AuditLogger
}

// SyncerConfig holds the optional collaborators of a Syncer.
type SyncerConfig struct {
	Retry    RetryConfig
	Location *time.Location
	Logger   *slog.Logger
	Metrics  *instrumentation.Metrics
	Audit    *instrumentation.AuditLogger
}

// NewSyncer creates a Syncer. Zero fields of cfg take defaults.
func NewSyncer(store SyncStore, creds CredentialSource, cal EventInserter, cfg SyncerConfig) *Syncer {
	if cfg.Retry.MaxTries == 0 {
		cfg.Retry = DefaultRetryConfig()
	}
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Syncer{
		store:    store,
		creds:    creds,
		calendar: cal,
		retry:    cfg.Retry,
		location: cfg.Location,
		logger:   cfg.Logger,
		metrics:  cfg.Metrics,
		audit:    cfg.Audit,
	}
}

// Sync inserts the calendar event for sched and records the outcome. The
// event id is derived from the booking id, so repeated runs never create
// duplicates. A final failure returns the updated Scheduling together with a
// *domain.ExternalCalendarError.
func (s *Syncer) Sync(ctx context.Context, sched domain.Scheduling) (domain.Scheduling, error) {
	ctx, span := instrumentation.StartSpan(ctx, "booking.sync",
		instrumentation.NewSpanAttributeBuilder().WithUserID(sched.UserID).WithScheduling(sched.ID).Build()...)
	defer span.End()

	activity := instrumentation.NewActivity(instrumentation.ActionCalendarSync).
		WithOwner(sched.UserID, "").
		WithBooking(sched.ID, sched.Email, sched.Date).
		WithSpanContext(ctx)

	logger := logging.WithOperation(s.logger, "booking.sync").With(logging.Scheduling(sched.ID))

	ref, syncErr := s.insertWithRetry(ctx, sched, logger)

	status, eventID, message := domain.EventSyncSynced, ref.ID, ""
	if syncErr != nil {
		status, eventID, message = domain.EventSyncFailed, "", syncErr.Error()
	}

	// The outcome is recorded even when the request context is gone.
	recordCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if err := s.store.UpdateEventSync(recordCtx, sched.ID, status, eventID, message); err != nil {
		logger.Error("failed to record calendar sync outcome", logging.Err(err))
		if syncErr == nil {
			syncErr = fmt.Errorf("recording sync outcome: %w", err)
		}
	}

	sched.EventSyncAttempts++
	sched.EventSyncStatus = status
	sched.EventSyncError = message
	if eventID != "" {
		sched.EventID = eventID
	}

	result := instrumentation.ResultSynced
	if syncErr != nil {
		result = instrumentation.ResultFailed
	}
	s.metrics.RecordCalendarSync(ctx, result)
	instrumentation.SetSpanResult(span, result, syncErr)
	s.audit.Log(activity.Complete(syncErr))

	if syncErr != nil {
		logger.Warn("calendar sync failed", logging.Err(syncErr))
		return sched, &domain.ExternalCalendarError{
			SchedulingID: sched.ID,
			Op:           instrumentation.OperationInsert,
			Err:          syncErr,
		}
	}
	logger.Info("calendar event created", slog.String("event_id", eventID))
	return sched, nil
}

func (s *Syncer) insertWithRetry(ctx context.Context, sched domain.Scheduling, logger *slog.Logger) (calendar.EventRef, error) {
	spec := s.eventSpec(sched)

	operation := func() (calendar.EventRef, error) {
		cred, err := s.creds.GetValidCredential(ctx, sched.UserID)
		if err != nil {
			if domain.IsReconnectRequired(err) {
				return calendar.EventRef{}, backoff.Permanent(err)
			}
			return calendar.EventRef{}, err
		}
		ref, err := s.calendar.InsertEvent(ctx, cred, spec)
		if err != nil && !calendar.Retryable(err) {
			return calendar.EventRef{}, backoff.Permanent(err)
		}
		return ref, err
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = s.retry.InitialInterval

	ref, err := backoff.Retry(ctx, operation,
		backoff.WithBackOff(b),
		backoff.WithMaxTries(s.retry.MaxTries),
		backoff.WithMaxElapsedTime(s.retry.MaxElapsedTime),
		backoff.WithNotify(func(err error, next time.Duration) {
			logger.Debug("retrying calendar insert", logging.Err(err), slog.Duration("backoff", next))
		}),
	)
	var permanent *backoff.PermanentError
	if errors.As(err, &permanent) {
		err = permanent.Unwrap()
	}
	return ref, err
}

func (s *Syncer) eventSpec(sched domain.Scheduling) calendar.EventSpec {
	start := sched.Date.In(s.location)
	spec := calendar.EventSpec{
		ID:                  calendar.EventIDFromSchedulingID(sched.ID),
		Summary:             "Call: " + sched.Name,
		Start:               start,
		End:                 start.Add(time.Hour),
		TimeZone:            s.location.String(),
		Attendees:           []calendar.Attendee{{Email: sched.Email, DisplayName: sched.Name}},
		ConferenceRequestID: sched.ID,
	}
	if sched.Observations != nil {
		spec.Description = *sched.Observations
	}
	return spec
}

package booking

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/mail"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/teemow/callslot/internal/availability"
	"github.com/teemow/callslot/internal/domain"
	"github.com/teemow/callslot/internal/instrumentation"
	"github.com/teemow/callslot/internal/logging"
	"github.com/teemow/callslot/internal/storage"
)

// MinNameLength is the shortest accepted invitee name.
const MinNameLength = 3

// Request is a booking as submitted by an invitee.
type Request struct {
	Username     string
	Name         string
	Email        string
	Observations *string
	// Date is an RFC 3339 instant inside the requested hour.
	Date string
}

// Store is the part of storage the Writer needs.
type Store interface {
	GetUserByUsername(ctx context.Context, username string) (domain.User, error)
	GetWeekdayRule(ctx context.Context, userID string, weekday int) (domain.WeekdayRule, error)
	SchedulingExistsAt(ctx context.Context, userID string, date time.Time) (bool, error)
	CreateScheduling(ctx context.Context, s domain.Scheduling) error
}

// Writer validates and persists bookings.
type Writer struct {
	store    Store
	syncer   *Syncer
	location *time.Location
	now      func() time.Time
	newID    func() string
	logger   *slog.Logger
	metrics  *instrumentation.Metrics
	audit    *instrumentation.AuditLogger
}

// WriterOption configures a Writer.
type WriterOption func(*Writer)

// WithLocation sets the time zone hours are truncated in.
func WithLocation(loc *time.Location) WriterOption {
	return func(w *Writer) { w.location = loc }
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) WriterOption {
	return func(w *Writer) { w.now = now }
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) WriterOption {
	return func(w *Writer) { w.logger = logger }
}

// WithMetrics sets the metrics recorder.
func WithMetrics(metrics *instrumentation.Metrics) WriterOption {
	return func(w *Writer) { w.metrics = metrics }
}

// WithAudit sets the audit logger.
func WithAudit(audit *instrumentation.AuditLogger) WriterOption {
	return func(w *Writer) { w.audit = audit }
}

// NewWriter creates a Writer. syncer may be nil, in which case bookings stay
// pending until a Resyncer runs.
func NewWriter(store Store, syncer *Syncer, opts ...WriterOption) *Writer {
	w := &Writer{
		store:    store,
		syncer:   syncer,
		location: time.UTC,
		now:      time.Now,
		newID:    uuid.NewString,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// CreateBooking books the hour containing req.Date.
//
// On success the returned Scheduling is synced. When the booking was stored
// but the calendar mirror failed, both the Scheduling and a
// *domain.ExternalCalendarError are returned.
func (w *Writer) CreateBooking(ctx context.Context, req Request) (domain.Scheduling, error) {
	ctx, span := instrumentation.StartSpan(ctx, "booking.create",
		instrumentation.NewSpanAttributeBuilder().WithUsername(req.Username).Build()...)
	defer span.End()

	activity := instrumentation.NewActivity(instrumentation.ActionBookingCreate).WithSpanContext(ctx)

	sched, err := w.create(ctx, req, activity)

	result := bookingResult(err)
	w.metrics.RecordBooking(ctx, result, req.Username)
	instrumentation.SetSpanResult(span, result, err)
	w.audit.Log(activity.Complete(err))

	logger := logging.WithOperation(w.logger, "booking.create")
	switch result {
	case instrumentation.ResultCreated:
		logger.Info("booking created", logging.Username(req.Username), logging.Scheduling(sched.ID))
	case instrumentation.ResultSyncPending:
		logger.Warn("booking created without calendar event", logging.Username(req.Username),
			logging.Scheduling(sched.ID), logging.Err(err))
	case instrumentation.StatusError:
		logger.Error("booking failed", logging.Username(req.Username), logging.Err(err))
	default:
		logger.Debug("booking rejected", logging.Username(req.Username), logging.Status(result), logging.Err(err))
	}
	return sched, err
}

func (w *Writer) create(ctx context.Context, req Request, activity *instrumentation.Activity) (domain.Scheduling, error) {
	user, err := w.store.GetUserByUsername(ctx, req.Username)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return domain.Scheduling{}, domain.ErrUserNotFound
		}
		return domain.Scheduling{}, fmt.Errorf("failed to look up user: %w", err)
	}
	activity.WithOwner(user.ID, user.Username)

	name, email, requested, err := validate(req)
	if err != nil {
		return domain.Scheduling{}, err
	}

	local := requested.In(w.location)
	slot := time.Date(local.Year(), local.Month(), local.Day(), local.Hour(), 0, 0, 0, w.location)

	if !slot.After(w.now()) {
		return domain.Scheduling{}, domain.ErrPastDate
	}

	if err := w.checkWithinRule(ctx, user.ID, slot); err != nil {
		return domain.Scheduling{}, err
	}

	exists, err := w.store.SchedulingExistsAt(ctx, user.ID, slot.UTC())
	if err != nil {
		return domain.Scheduling{}, fmt.Errorf("failed to check slot: %w", err)
	}
	if exists {
		return domain.Scheduling{}, domain.ErrSlotConflict
	}

	sched := domain.Scheduling{
		ID:              w.newID(),
		UserID:          user.ID,
		Name:            name,
		Email:           email,
		Observations:    req.Observations,
		Date:            slot.UTC(),
		CreatedAt:       w.now().UTC(),
		EventSyncStatus: domain.EventSyncPending,
	}
	activity.WithBooking(sched.ID, sched.Email, sched.Date)

	if err := w.store.CreateScheduling(ctx, sched); err != nil {
		if errors.Is(err, storage.ErrUniqueViolation) {
			return domain.Scheduling{}, domain.ErrSlotConflict
		}
		return domain.Scheduling{}, fmt.Errorf("failed to store booking: %w", err)
	}

	if w.syncer == nil {
		return sched, nil
	}
	return w.syncer.Sync(ctx, sched)
}

func (w *Writer) checkWithinRule(ctx context.Context, userID string, slot time.Time) error {
	rule, err := w.store.GetWeekdayRule(ctx, userID, int(slot.Weekday()))
	if err != nil && !errors.Is(err, storage.ErrNotFound) {
		return fmt.Errorf("failed to load weekday rule: %w", err)
	}
	for _, h := range availability.PossibleHours(rule) {
		if h == slot.Hour() {
			return nil
		}
	}
	verr := domain.NewValidationError()
	verr.Add("date", "outside of the user's availability")
	return verr
}

// validate checks every field and reports all failures together.
func validate(req Request) (name, email string, date time.Time, err error) {
	verr := domain.NewValidationError()

	name = strings.TrimSpace(req.Name)
	if len([]rune(name)) < MinNameLength {
		verr.Add("name", fmt.Sprintf("must have at least %d characters", MinNameLength))
	}

	email = strings.TrimSpace(req.Email)
	if addr, perr := mail.ParseAddress(email); perr != nil || addr.Address != email {
		verr.Add("email", "must be a valid email address")
	}

	date, perr := time.Parse(time.RFC3339, strings.TrimSpace(req.Date))
	if perr != nil {
		verr.Add("date", "must be an ISO 8601 date-time")
	}

	return name, email, date, verr.OrNil()
}

func bookingResult(err error) string {
	var verr *domain.ValidationError
	var cerr *domain.ExternalCalendarError
	switch {
	case err == nil:
		return instrumentation.ResultCreated
	case errors.As(err, &cerr):
		return instrumentation.ResultSyncPending
	case errors.As(err, &verr):
		return instrumentation.ResultInvalid
	case errors.Is(err, domain.ErrUserNotFound):
		return instrumentation.ResultUserNotFound
	case errors.Is(err, domain.ErrPastDate):
		return instrumentation.ResultPastDate
	case errors.Is(err, domain.ErrSlotConflict):
		return instrumentation.ResultConflict
	default:
		return instrumentation.StatusError
	}
}

package availability

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/teemow/callslot/internal/domain"
	"github.com/teemow/callslot/internal/google"
	"github.com/teemow/callslot/internal/instrumentation"
	"github.com/teemow/callslot/internal/logging"
	"github.com/teemow/callslot/internal/storage"
)

// DateLayout is the format of the day passed to Availability.
const DateLayout = "2006-01-02"

// Store is the part of storage the Checker needs.
type Store interface {
	GetUserByUsername(ctx context.Context, username string) (domain.User, error)
	GetWeekdayRule(ctx context.Context, userID string, weekday int) (domain.WeekdayRule, error)
	ListSchedulings(ctx context.Context, userID string, start, end time.Time) ([]domain.Scheduling, error)
}

// CredentialSource returns a usable calendar credential for a user.
type CredentialSource interface {
	GetValidCredential(ctx context.Context, userID string) (google.Credential, error)
}

// BusyLister reports the busy time of a connected calendar.
type BusyLister interface {
	ListBusy(ctx context.Context, cred google.Credential, r domain.TimeRange) ([]domain.TimeRange, error)
}

// Result lists the hours of a day. PossibleHours follow from the weekday
// rule alone; AvailableHours are the possible hours still free.
type Result struct {
	PossibleHours  []int
	AvailableHours []int
}

func emptyResult() Result {
	return Result{PossibleHours: []int{}, AvailableHours: []int{}}
}

// Checker answers which hours of a day a user can be booked for.
type Checker struct {
	store    Store
	creds    CredentialSource
	calendar BusyLister
	location *time.Location
	now      func() time.Time
	logger   *slog.Logger
	metrics  *instrumentation.Metrics
}

// CheckerOption configures a Checker.
type CheckerOption func(*Checker)

// WithLocation sets the time zone days and hours are interpreted in.
func WithLocation(loc *time.Location) CheckerOption {
	return func(c *Checker) { c.location = loc }
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) CheckerOption {
	return func(c *Checker) { c.now = now }
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) CheckerOption {
	return func(c *Checker) { c.logger = logger }
}

// WithMetrics sets the metrics recorder.
func WithMetrics(metrics *instrumentation.Metrics) CheckerOption {
	return func(c *Checker) { c.metrics = metrics }
}

// NewChecker creates a Checker.
func NewChecker(store Store, creds CredentialSource, calendar BusyLister, opts ...CheckerOption) *Checker {
	c := &Checker{
		store:    store,
		creds:    creds,
		calendar: calendar,
		location: time.UTC,
		now:      time.Now,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Availability returns the possible and available hours of date (YYYY-MM-DD)
// for username.
func (c *Checker) Availability(ctx context.Context, username, date string) (Result, error) {
	ctx, span := instrumentation.StartSpan(ctx, "availability.query",
		instrumentation.NewSpanAttributeBuilder().WithUsername(username).WithDate(date).Build()...)
	defer span.End()

	result, err := c.availability(ctx, username, date)

	status := classify(err)
	c.metrics.RecordAvailabilityQuery(ctx, status)
	instrumentation.SetSpanResult(span, status, err)
	return result, err
}

func (c *Checker) availability(ctx context.Context, username, date string) (Result, error) {
	day, err := time.ParseInLocation(DateLayout, date, c.location)
	if err != nil {
		verr := domain.NewValidationError()
		verr.Add("date", "must be a date in YYYY-MM-DD format")
		return emptyResult(), verr
	}

	// A day that is already over is empty for everyone, known user or not.
	now := c.now()
	dayEnd := day.AddDate(0, 0, 1)
	if !dayEnd.After(now) {
		return emptyResult(), nil
	}

	user, err := c.store.GetUserByUsername(ctx, username)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return emptyResult(), domain.ErrUserNotFound
		}
		return emptyResult(), fmt.Errorf("failed to look up user: %w", err)
	}

	rule, err := c.store.GetWeekdayRule(ctx, user.ID, int(day.Weekday()))
	if errors.Is(err, storage.ErrNotFound) {
		return emptyResult(), nil
	}
	if err != nil {
		return emptyResult(), fmt.Errorf("failed to load weekday rule: %w", err)
	}

	possible := PossibleHours(rule)
	if len(possible) == 0 {
		return emptyResult(), nil
	}

	window := domain.TimeRange{Start: day, End: dayEnd}
	busy, err := c.busy(ctx, user.ID, window)
	if err != nil {
		return Result{PossibleHours: possible, AvailableHours: []int{}}, err
	}

	return Result{
		PossibleHours:  possible,
		AvailableHours: FreeHours(day, possible, busy, now),
	}, nil
}

// busy merges local bookings with the busy time of the connected calendar.
func (c *Checker) busy(ctx context.Context, userID string, window domain.TimeRange) ([]domain.TimeRange, error) {
	bookings, err := c.store.ListSchedulings(ctx, userID, window.Start, window.End)
	if err != nil {
		return nil, fmt.Errorf("failed to list bookings: %w", err)
	}

	busy := make([]domain.TimeRange, 0, len(bookings))
	for _, b := range bookings {
		busy = append(busy, domain.TimeRange{Start: b.Date, End: b.Date.Add(time.Hour)})
	}

	cred, err := c.creds.GetValidCredential(ctx, userID)
	if err != nil {
		return nil, err
	}

	external, err := c.calendar.ListBusy(ctx, cred, window)
	if err != nil {
		logging.WithOperation(c.logger, "availability.freebusy").Warn("failed to query calendar busy time",
			logging.UserID(userID), logging.Err(err))
		return nil, &domain.ExternalCalendarError{Op: instrumentation.OperationFreeBusy, Err: err}
	}
	return append(busy, external...), nil
}

func classify(err error) string {
	var verr *domain.ValidationError
	var cerr *domain.ExternalCalendarError
	switch {
	case err == nil:
		return instrumentation.StatusSuccess
	case errors.As(err, &verr):
		return instrumentation.ResultInvalid
	case errors.Is(err, domain.ErrUserNotFound):
		return instrumentation.ResultUserNotFound
	case domain.IsReconnectRequired(err):
		return instrumentation.ResultDisconnected
	case errors.As(err, &cerr):
		return instrumentation.ResultProviderError
	default:
		return instrumentation.StatusError
	}
}

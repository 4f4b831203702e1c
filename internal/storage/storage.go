package storage

import (
	"context"
	"errors"
	"time"

	"github.com/teemow/callslot/internal/domain"
)

var (
	// ErrNotFound is returned when the requested record does not exist.
	ErrNotFound = errors.New("storage: not found")

	// ErrUniqueViolation is returned when an insert collides with a unique index.
	ErrUniqueViolation = errors.New("storage: unique violation")
)

// Users persists User rows.
type Users interface {
	CreateUser(ctx context.Context, user domain.User) error
	GetUser(ctx context.Context, id string) (domain.User, error)
	GetUserByUsername(ctx context.Context, username string) (domain.User, error)
}

// Accounts persists external calendar credentials.
type Accounts interface {
	// GetAccount returns the user's account for provider.
	GetAccount(ctx context.Context, userID, provider string) (domain.Account, error)
	// UpsertAccount inserts or replaces the user's account for account.Provider.
	UpsertAccount(ctx context.Context, account domain.Account) error
	// UpdateAccountTokens overwrites the token columns of one account.
	UpdateAccountTokens(ctx context.Context, accountID string, tokens domain.TokenSet) error
}

// Availability persists enabled weekday rules.
type Availability interface {
	// ReplaceWeekdayRules atomically replaces every rule of the user with rules.
	ReplaceWeekdayRules(ctx context.Context, userID string, rules []domain.WeekdayRule) error
	// ListWeekdayRules returns the stored rules ordered by weekday.
	ListWeekdayRules(ctx context.Context, userID string) ([]domain.WeekdayRule, error)
	GetWeekdayRule(ctx context.Context, userID string, weekday int) (domain.WeekdayRule, error)
}

// Schedulings persists bookings and their calendar mirror state.
type Schedulings interface {
	// CreateScheduling inserts a booking. A second booking for the same user
	// and date returns ErrUniqueViolation.
	CreateScheduling(ctx context.Context, s domain.Scheduling) error
	GetScheduling(ctx context.Context, id string) (domain.Scheduling, error)
	SchedulingExistsAt(ctx context.Context, userID string, date time.Time) (bool, error)
	// ListSchedulings returns bookings with start <= date < end, ordered by date.
	ListSchedulings(ctx context.Context, userID string, start, end time.Time) ([]domain.Scheduling, error)
	// UpdateEventSync records the outcome of one mirror attempt and bumps the
	// attempt counter.
	UpdateEventSync(ctx context.Context, id string, status domain.EventSyncStatus, eventID, syncErr string) error
	// ListUnsynced returns pending or failed bookings created before
	// createdBefore whose hour starts after startsAfter.
	ListUnsynced(ctx context.Context, createdBefore, startsAfter time.Time, limit int) ([]domain.Scheduling, error)
}

// Store is the full persistence contract.
type Store interface {
	Users
	Accounts
	Availability
	Schedulings

	Ping(ctx context.Context) error
	Close() error
}

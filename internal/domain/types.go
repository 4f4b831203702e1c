package domain

import "time"

// ProviderGoogle is the only external calendar provider supported.
const ProviderGoogle = "google"

// DaysPerWeek is the number of weekday rules a user has.
const DaysPerWeek = 7

// MinSlotMinutes is the minimum length of an enabled availability window.
const MinSlotMinutes = 60

// User is a person who claimed a username and receives bookings.
type User struct {
	ID        string
	Username  string
	Name      string
	Email     string
	CreatedAt time.Time
}

// Account is a user's external calendar credential as persisted.
type Account struct {
	ID                string
	UserID            string
	Provider          string
	ProviderAccountID string
	AccessToken       string
	RefreshToken      string
	IDToken           string
	TokenType         string
	Scope             string
	// ExpiresAt is the expiry in epoch seconds. Nil means the token does not expire.
	ExpiresAt *int64
}

// TokenSet is the result of a token refresh, persisted onto an Account.
type TokenSet struct {
	AccessToken  string
	RefreshToken string
	IDToken      string
	TokenType    string
	Scope        string
	ExpiresAt    *int64
}

// WeekdayRule is the availability configuration for one day of the week.
// Weekday follows time.Weekday numbering (0 = Sunday).
type WeekdayRule struct {
	Weekday     int
	Enabled     bool
	StartMinute int
	EndMinute   int
}

// EventSyncStatus tracks whether a booking was mirrored to the calendar.
type EventSyncStatus string

const (
	EventSyncPending EventSyncStatus = "pending"
	EventSyncSynced  EventSyncStatus = "synced"
	EventSyncFailed  EventSyncStatus = "failed"
)

// Scheduling is a booked one-hour slot. Date is always truncated to the hour.
type Scheduling struct {
	ID           string
	UserID       string
	Name         string
	Email        string
	Observations *string
	Date         time.Time
	CreatedAt    time.Time

	EventID           string
	EventSyncStatus   EventSyncStatus
	EventSyncError    string
	EventSyncAttempts int
}

// TimeRange is a half-open interval [Start, End).
type TimeRange struct {
	Start time.Time
	End   time.Time
}

// Overlaps reports whether two half-open ranges intersect.
func (r TimeRange) Overlaps(o TimeRange) bool {
	return r.Start.Before(o.End) && o.Start.Before(r.End)
}

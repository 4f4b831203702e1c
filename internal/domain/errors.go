package domain

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

var (
	// ErrUserNotFound is returned when a username or user id does not resolve.
	ErrUserNotFound = errors.New("user does not exist")

	// ErrPastDate is returned when a booking targets an hour at or before now.
	ErrPastDate = errors.New("date in the past")

	// ErrSlotConflict is returned when the hour is already booked, whether the
	// pre-check or the storage unique index caught it.
	ErrSlotConflict = errors.New("there is another scheduling at the same time")

	// ErrAccountNotFound is returned when the user never connected a calendar.
	ErrAccountNotFound = errors.New("calendar account not connected")

	// ErrTokenRefreshFailed is returned when the provider rejected the refresh
	// token. Callers should prompt the user to reconnect the calendar.
	ErrTokenRefreshFailed = errors.New("calendar token refresh failed")

	// ErrCalendarAccessRevoked is returned when Google refuses a token that
	// has not expired yet.
	ErrCalendarAccessRevoked = errors.New("calendar access revoked")

	// ErrUsernameTaken is returned when claiming a username that exists.
	ErrUsernameTaken = errors.New("username already taken")

	// ErrCalendarScopeMissing is returned when the OAuth grant lacks calendar access.
	ErrCalendarScopeMissing = errors.New("calendar permission was not granted")
)

// ValidationError carries field level messages for malformed input.
type ValidationError struct {
	Fields map[string]string
}

// NewValidationError returns an empty ValidationError ready for Add.
func NewValidationError() *ValidationError {
	return &ValidationError{Fields: make(map[string]string)}
}

// Add records a message for field. The first message for a field wins.
func (v *ValidationError) Add(field, message string) {
	if v.Fields == nil {
		v.Fields = make(map[string]string)
	}
	if _, ok := v.Fields[field]; ok {
		return
	}
	v.Fields[field] = message
}

// HasErrors reports whether any field failed.
func (v *ValidationError) HasErrors() bool {
	return v != nil && len(v.Fields) > 0
}

// OrNil returns v when it holds errors and nil otherwise, so callers can
// return it directly as an error.
func (v *ValidationError) OrNil() error {
	if !v.HasErrors() {
		return nil
	}
	return v
}

// FieldNames returns the offending fields in sorted order.
func (v *ValidationError) FieldNames() []string {
	names := make([]string, 0, len(v.Fields))
	for name := range v.Fields {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (v *ValidationError) Error() string {
	if !v.HasErrors() {
		return "validation failed"
	}
	parts := make([]string, 0, len(v.Fields))
	for _, name := range v.FieldNames() {
		parts = append(parts, name+": "+v.Fields[name])
	}
	return "validation failed: " + strings.Join(parts, "; ")
}

// ExternalCalendarError reports that a booking was persisted but mirroring it
// to the external calendar failed. The booking itself is valid and the sync
// can be retried.
type ExternalCalendarError struct {
	SchedulingID string
	Op           string
	Err          error
}

func (e *ExternalCalendarError) Error() string {
	if e.SchedulingID == "" {
		return fmt.Sprintf("external calendar %s failed: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("external calendar %s failed for scheduling %s: %v", e.Op, e.SchedulingID, e.Err)
}

func (e *ExternalCalendarError) Unwrap() error {
	return e.Err
}

// IsReconnectRequired reports whether err means the user has to connect the
// calendar again before it can be used.
func IsReconnectRequired(err error) bool {
	return errors.Is(err, ErrAccountNotFound) ||
		errors.Is(err, ErrTokenRefreshFailed) ||
		errors.Is(err, ErrCalendarAccessRevoked)
}

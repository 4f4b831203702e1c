package calendar

import (
	"strings"
	"time"
)

// PrimaryCalendarID addresses the user's default calendar.
const PrimaryCalendarID = "primary"

// EventSpec describes an event to insert.
type EventSpec struct {
	// ID is the client supplied event id. Inserting the same ID twice is
	// reported as success, which makes retries idempotent.
	ID          string
	Summary     string
	Description string
	Start       time.Time
	End         time.Time
	TimeZone    string
	Attendees   []Attendee

	// ConferenceRequestID, when set, asks Google to create a Meet link.
	ConferenceRequestID string
}

// Attendee is an invited guest.
type Attendee struct {
	Email       string
	DisplayName string
}

// EventRef identifies an inserted event.
type EventRef struct {
	ID       string
	HTMLLink string
	MeetLink string
	// Existing is true when the event was already present from an earlier attempt.
	Existing bool
}

// EventIDFromSchedulingID derives a Google event id from a booking id.
// Google accepts lowercase base32hex characters (a-v, 0-9); a UUID without
// hyphens qualifies.
func EventIDFromSchedulingID(id string) string {
	return strings.ToLower(strings.ReplaceAll(id, "-", ""))
}

// Package booking creates bookings and mirrors them to the owner's Google
// Calendar.
//
// A booking is committed before the calendar is touched. The storage unique
// index on (user, hour) decides races between concurrent requests. When the
// calendar mirror fails after retries, the booking is kept with a failed
// sync status, the caller receives a *domain.ExternalCalendarError, and the
// Resyncer picks the booking up later.
package booking

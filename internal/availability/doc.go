// Package availability stores weekly availability rules and computes which
// hours of a day can still be booked.
//
// RuleService validates and persists the seven weekday rules of a user.
// Checker combines a weekday rule with local bookings and the busy time of
// the connected calendar.
package availability

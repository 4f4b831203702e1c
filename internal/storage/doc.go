// Package storage defines the persistence contract for users, calendar
// accounts, weekly availability and schedulings.
//
// Two implementations exist: sqlite (modernc.org/sqlite, the default) and
// postgres (pgx). Both enforce uniqueness of a booking per user and hour with
// a unique index and report violations as ErrUniqueViolation, which callers
// translate into domain errors.
package storage

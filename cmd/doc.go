// Package cmd implements the callslot command-line interface.
//
// This package provides the following commands:
//   - serve: run the booking API and the metrics listener
//   - migrate: apply database migrations and print the schema version
//   - resync: retry calendar events for bookings that were saved without one
//   - version: display version information
package cmd

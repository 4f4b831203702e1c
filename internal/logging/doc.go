// Package logging provides structured logging utilities for callslot.
//
// This package centralizes logging patterns to ensure consistent, structured logging
// throughout the codebase using the standard library's slog package.
//
// # Key Features
//
//   - Structured logging with slog
//   - PII sanitization (email anonymization)
//   - Consistent attribute naming across the codebase
//
// # Usage Patterns
//
// Create a logger with standard attributes:
//
//	logger := logging.WithOperation(slog.Default(), "booking.create")
//	logger.Info("booking stored",
//	    logging.Scheduling(id),
//	    logging.Status("success"))
//
// Sanitize sensitive data before logging:
//
//	logger.Info("invitee booked",
//	    logging.UserHash(inviteeEmail))
//
// # Security Considerations
//
// This package is designed with security in mind:
//   - Invitee emails are hashed to prevent PII leakage while allowing correlation
//   - Tokens are never logged directly
package logging

package instrumentation

import (
	"context"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/trace"

	"github.com/teemow/callslot/internal/logging"
)

// Audit actions.
const (
	ActionBookingCreate   = "booking.create"
	ActionCalendarSync    = "calendar.sync"
	ActionCalendarConnect = "calendar.connect"
	ActionAvailabilitySet = "availability.set"
)

// Activity captures one state-changing operation for the audit trail.
//
// # Privacy Considerations
//
// InviteeEmail contains PII. General logs only carry its domain and a hash;
// the address itself is only written when the audit logger includes PII.
type Activity struct {
	Action string

	// Calendar owner
	UserID   string
	Username string

	// Booking details
	SchedulingID string
	InviteeEmail string
	Slot         time.Time

	// Execution details
	StartTime time.Time
	Duration  time.Duration
	Success   bool
	Error     string

	// Tracing context
	TraceID string
	SpanID  string
}

// NewActivity creates an Activity with timing started.
// Call Complete when the operation finishes.
func NewActivity(action string) *Activity {
	return &Activity{
		Action:    action,
		StartTime: time.Now(),
	}
}

// WithOwner sets the calendar owner.
func (a *Activity) WithOwner(userID, username string) *Activity {
	a.UserID = userID
	a.Username = username
	return a
}

// WithBooking sets the booking details.
func (a *Activity) WithBooking(schedulingID, inviteeEmail string, slot time.Time) *Activity {
	a.SchedulingID = schedulingID
	a.InviteeEmail = inviteeEmail
	a.Slot = slot
	return a
}

// WithSpanContext extracts trace context from the current span.
func (a *Activity) WithSpanContext(ctx context.Context) *Activity {
	span := trace.SpanFromContext(ctx)
	if span.SpanContext().IsValid() {
		a.TraceID = span.SpanContext().TraceID().String()
		a.SpanID = span.SpanContext().SpanID().String()
	}
	return a
}

// Complete marks the activity as finished and calculates duration.
func (a *Activity) Complete(err error) *Activity {
	a.Duration = time.Since(a.StartTime)
	a.Success = err == nil
	if err != nil {
		a.Error = err.Error()
	}
	return a
}

// InviteeDomain returns the domain of the invitee email.
func (a *Activity) InviteeDomain() string {
	return ExtractUserDomain(a.InviteeEmail)
}

// Status returns "success" or "error".
func (a *Activity) Status() string {
	if a.Success {
		return StatusSuccess
	}
	return StatusError
}

// LogAttrs returns attributes with the invitee anonymized.
func (a *Activity) LogAttrs() []slog.Attr {
	attrs := a.baseAttrs()
	if a.InviteeEmail != "" {
		attrs = append(attrs,
			slog.String("invitee_domain", a.InviteeDomain()),
			logging.UserHash(a.InviteeEmail),
		)
	}
	return a.appendTail(attrs)
}

// LogAuditAttrs returns attributes including the invitee email.
//
// # Security Warning
//
// This includes PII. Route audit logs to storage with appropriate access controls.
func (a *Activity) LogAuditAttrs() []slog.Attr {
	attrs := a.baseAttrs()
	if a.InviteeEmail != "" {
		attrs = append(attrs, slog.String("invitee", a.InviteeEmail))
	}
	if a.SpanID != "" {
		attrs = append(attrs, slog.String("span_id", a.SpanID))
	}
	return a.appendTail(attrs)
}

func (a *Activity) baseAttrs() []slog.Attr {
	attrs := []slog.Attr{
		slog.String("action", a.Action),
		slog.Duration("duration", a.Duration),
		slog.Bool("success", a.Success),
	}
	if a.UserID != "" {
		attrs = append(attrs, slog.String("user_id", a.UserID))
	}
	if a.Username != "" {
		attrs = append(attrs, slog.String("username", a.Username))
	}
	if a.SchedulingID != "" {
		attrs = append(attrs, slog.String("scheduling_id", a.SchedulingID))
	}
	if !a.Slot.IsZero() {
		attrs = append(attrs, slog.Time("slot", a.Slot))
	}
	return attrs
}

func (a *Activity) appendTail(attrs []slog.Attr) []slog.Attr {
	if a.TraceID != "" {
		attrs = append(attrs, slog.String("trace_id", a.TraceID))
	}
	if a.Error != "" {
		attrs = append(attrs, slog.String("error", a.Error))
	}
	return attrs
}

// AuditLogger writes the audit trail for bookings and calendar connections.
type AuditLogger struct {
	logger     *slog.Logger
	includePII bool
	enabled    bool
}

// NewAuditLogger creates a new AuditLogger. PII is excluded by default.
func NewAuditLogger(logger *slog.Logger) *AuditLogger {
	if logger == nil {
		logger = slog.Default()
	}
	return &AuditLogger{
		logger:  logger,
		enabled: true,
	}
}

// NewAuditLoggerWithConfig creates a new AuditLogger with the given configuration.
func NewAuditLoggerWithConfig(logger *slog.Logger, config AuditLoggingConfig) *AuditLogger {
	if logger == nil {
		logger = slog.Default()
	}
	return &AuditLogger{
		logger:     logger,
		includePII: config.IncludePII,
		enabled:    config.Enabled,
	}
}

// SetIncludePII sets whether to include invitee email addresses.
func (al *AuditLogger) SetIncludePII(include bool) {
	al.includePII = include
}

// SetEnabled sets whether audit logging is enabled.
func (al *AuditLogger) SetEnabled(enabled bool) {
	al.enabled = enabled
}

// Log writes one activity. A nil AuditLogger is a no-op.
func (al *AuditLogger) Log(a *Activity) {
	if al == nil || !al.enabled {
		return
	}

	var attrs []slog.Attr
	if al.includePII {
		attrs = a.LogAuditAttrs()
	} else {
		attrs = a.LogAttrs()
	}

	args := make([]any, len(attrs))
	for i, attr := range attrs {
		args[i] = attr
	}

	if a.Success {
		al.logger.Info("audit", args...)
	} else {
		al.logger.Warn("audit", args...)
	}
}

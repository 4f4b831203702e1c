package instrumentation

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// TracerName is the default tracer name for the callslot packages.
const TracerName = "github.com/teemow/callslot"

// Span attribute keys for operations.
const (
	// SpanAttrService is the Google service name attribute.
	SpanAttrService = "google.service"

	// SpanAttrOperation is the operation type attribute.
	SpanAttrOperation = "google.operation"

	// SpanAttrUserID is the id of the user whose calendar is involved.
	SpanAttrUserID = "callslot.user_id"

	// SpanAttrUsername is the public username being booked.
	SpanAttrUsername = "callslot.username"

	// SpanAttrSchedulingID is the booking identifier.
	SpanAttrSchedulingID = "callslot.scheduling_id"

	// SpanAttrDate is the requested day or slot.
	SpanAttrDate = "callslot.date"

	// SpanAttrResult is the outcome label of the operation.
	SpanAttrResult = "callslot.result"
)

// SpanAttributeBuilder helps construct OpenTelemetry span attributes
// with consistent naming.
type SpanAttributeBuilder struct {
	attrs []attribute.KeyValue
}

// NewSpanAttributeBuilder creates a new SpanAttributeBuilder.
func NewSpanAttributeBuilder() *SpanAttributeBuilder {
	return &SpanAttributeBuilder{
		attrs: make([]attribute.KeyValue, 0, 6),
	}
}

// WithUserID adds the user id attribute.
func (b *SpanAttributeBuilder) WithUserID(userID string) *SpanAttributeBuilder {
	if userID != "" {
		b.attrs = append(b.attrs, attribute.String(SpanAttrUserID, userID))
	}
	return b
}

// WithUsername adds the username attribute.
func (b *SpanAttributeBuilder) WithUsername(username string) *SpanAttributeBuilder {
	if username != "" {
		b.attrs = append(b.attrs, attribute.String(SpanAttrUsername, username))
	}
	return b
}

// WithScheduling adds the scheduling id attribute.
func (b *SpanAttributeBuilder) WithScheduling(id string) *SpanAttributeBuilder {
	if id != "" {
		b.attrs = append(b.attrs, attribute.String(SpanAttrSchedulingID, id))
	}
	return b
}

// WithDate adds the requested date attribute.
func (b *SpanAttributeBuilder) WithDate(date string) *SpanAttributeBuilder {
	if date != "" {
		b.attrs = append(b.attrs, attribute.String(SpanAttrDate, date))
	}
	return b
}

// Build returns the constructed attributes.
func (b *SpanAttributeBuilder) Build() []attribute.KeyValue {
	return b.attrs
}

// StartSpan starts a new span with the given name and attributes.
// The caller is responsible for ending the span with defer span.End().
func StartSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	tracer := otel.GetTracerProvider().Tracer(TracerName)
	return tracer.Start(ctx, name, trace.WithAttributes(attrs...))
}

// StartGoogleAPISpan starts a client span for Google API operations.
func StartGoogleAPISpan(ctx context.Context, service, operation string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	allAttrs := make([]attribute.KeyValue, 0, len(attrs)+2)
	allAttrs = append(allAttrs,
		attribute.String(SpanAttrService, service),
		attribute.String(SpanAttrOperation, operation),
	)
	allAttrs = append(allAttrs, attrs...)

	tracer := otel.GetTracerProvider().Tracer(TracerName)
	return tracer.Start(ctx, "google."+service+"."+operation,
		trace.WithAttributes(allAttrs...),
		trace.WithSpanKind(trace.SpanKindClient),
	)
}

// SetSpanError records an error on the span and sets the status to error.
func SetSpanError(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
}

// SetSpanSuccess sets the span status to OK.
func SetSpanSuccess(span trace.Span) {
	span.SetStatus(codes.Ok, "")
}

// SetSpanResult sets the result attribute and, for a non-nil err, the error status.
func SetSpanResult(span trace.Span, result string, err error) {
	span.SetAttributes(attribute.String(SpanAttrResult, result))
	if err != nil {
		SetSpanError(span, err)
		return
	}
	SetSpanSuccess(span)
}

// AddSpanEvent adds an event to the span with optional attributes.
func AddSpanEvent(span trace.Span, name string, attrs ...attribute.KeyValue) {
	span.AddEvent(name, trace.WithAttributes(attrs...))
}

// GetTraceID returns the trace ID from the current span in context.
// Returns empty string if no valid span is present.
func GetTraceID(ctx context.Context) string {
	span := trace.SpanFromContext(ctx)
	if span.SpanContext().IsValid() {
		return span.SpanContext().TraceID().String()
	}
	return ""
}

// GetSpanID returns the span ID from the current span in context.
// Returns empty string if no valid span is present.
func GetSpanID(ctx context.Context) string {
	span := trace.SpanFromContext(ctx)
	if span.SpanContext().IsValid() {
		return span.SpanContext().SpanID().String()
	}
	return ""
}

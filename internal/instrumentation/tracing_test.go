package instrumentation

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestSpanAttributeBuilder(t *testing.T) {
	attrs := NewSpanAttributeBuilder().
		WithUserID("u-1").
		WithUsername("jane-doe").
		WithScheduling("s-1").
		WithDate("2030-03-04").
		Build()

	if len(attrs) != 4 {
		t.Fatalf("expected 4 attributes, got %d", len(attrs))
	}

	attrMap := make(map[string]interface{})
	for _, attr := range attrs {
		attrMap[string(attr.Key)] = attr.Value.AsInterface()
	}

	want := map[string]string{
		SpanAttrUserID:       "u-1",
		SpanAttrUsername:     "jane-doe",
		SpanAttrSchedulingID: "s-1",
		SpanAttrDate:         "2030-03-04",
	}
	for k, v := range want {
		if attrMap[k] != v {
			t.Errorf("attribute %s = %v, want %q", k, attrMap[k], v)
		}
	}
}

func TestSpanAttributeBuilder_EmptyValues(t *testing.T) {
	attrs := NewSpanAttributeBuilder().
		WithUserID("").
		WithUsername("").
		WithScheduling("").
		WithDate("").
		Build()

	if len(attrs) != 0 {
		t.Errorf("expected 0 attributes, got %d", len(attrs))
	}
}

func TestStartSpan(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	provider, err := NewProvider(ctx, Config{
		ServiceName:     "test-service",
		Enabled:         true,
		MetricsExporter: "prometheus",
		TracingExporter: "stdout",
	})
	if err != nil {
		t.Fatalf("failed to create provider: %v", err)
	}
	defer func() { _ = provider.Shutdown(ctx) }()

	spanCtx, span := StartSpan(ctx, "booking.create", NewSpanAttributeBuilder().WithUsername("jane-doe").Build()...)
	if span == nil {
		t.Fatal("expected span to be non-nil")
	}
	SetSpanResult(span, ResultCreated, nil)
	span.End()

	if spanCtx == nil {
		t.Error("expected span context to be non-nil")
	}
}

func TestStartGoogleAPISpan(t *testing.T) {
	ctx := context.Background()

	_, span := StartGoogleAPISpan(ctx, ServiceCalendar, OperationInsert)
	if span == nil {
		t.Fatal("expected span to be non-nil")
	}
	SetSpanError(span, errors.New("boom"))
	SetSpanResult(span, ResultFailed, errors.New("boom"))
	AddSpanEvent(span, "retry")
	span.End()
}

func TestSetSpanSuccess(t *testing.T) {
	_, span := StartSpan(context.Background(), "test")
	SetSpanSuccess(span)
	SetSpanError(span, nil)
	span.End()
}

func TestGetTraceID_NoSpan(t *testing.T) {
	if id := GetTraceID(context.Background()); id != "" {
		t.Errorf("expected empty trace ID, got %q", id)
	}
}

func TestGetSpanID_NoSpan(t *testing.T) {
	if id := GetSpanID(context.Background()); id != "" {
		t.Errorf("expected empty span ID, got %q", id)
	}
}

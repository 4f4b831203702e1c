// Package instrumentation provides OpenTelemetry instrumentation for callslot.
//
// # Metrics
//
// Server/HTTP Metrics:
//   - http_requests_total: Counter of HTTP requests by method, route, and status
//   - http_request_duration_seconds: Histogram of HTTP request durations
//   - http_rate_limited_total: Counter of requests rejected by the rate limiter
//
// Google API Metrics:
//   - google_api_operations_total: Counter of Google API operations by service, operation, status
//   - google_api_operation_duration_seconds: Histogram of Google API operation durations
//
// OAuth Metrics:
//   - oauth_auth_total: Counter of calendar connect attempts by result
//   - oauth_token_refresh_total: Counter of token refresh attempts by result
//
// Scheduling Metrics:
//   - bookings_total: Counter of booking attempts by result
//   - availability_queries_total: Counter of availability lookups by result
//   - calendar_sync_total: Counter of calendar mirror outcomes by result
//
// # Tracing
//
// Spans are created for HTTP requests (otelhttp), bookings, availability
// lookups, and Google API calls (google.<service>.<operation>).
//
// # Configuration
//
// Instrumentation is configured via environment variables:
//   - INSTRUMENTATION_ENABLED: Enable/disable instrumentation (default: true)
//   - METRICS_EXPORTER: prometheus, otlp, stdout (default: prometheus)
//   - TRACING_EXPORTER: otlp, stdout, none (default: none)
//   - OTEL_EXPORTER_OTLP_ENDPOINT: OTLP endpoint for traces/metrics
//   - OTEL_TRACES_SAMPLER_ARG: Sampling rate (0.0 to 1.0, default: 0.1)
//   - OTEL_SERVICE_NAME: Service name (default: callslot)
//
// # Example Usage
//
//	provider, err := instrumentation.NewProvider(ctx, instrumentation.DefaultConfig())
//	if err != nil {
//		return err
//	}
//	defer provider.Shutdown(ctx)
//
//	recorder := provider.Metrics()
//	recorder.RecordBooking(ctx, instrumentation.ResultCreated, "jane-doe")
package instrumentation

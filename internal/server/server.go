package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"sync"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/teemow/callslot/internal/instrumentation"
)

// Config holds the HTTP listener settings and the ambient dependencies of
// the API server.
type Config struct {
	Addr         string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	MaxBodyBytes int64

	// Limiter throttles the public booking and availability routes. Nil
	// disables rate limiting.
	Limiter    Limiter
	TrustProxy bool

	// Tracing wraps the handler with otelhttp server spans.
	Tracing bool

	Logger  *slog.Logger
	Metrics *instrumentation.Metrics
}

// Services are the domain operations exposed over HTTP.
type Services struct {
	Users        UserManager
	Rules        RuleManager
	Availability AvailabilityChecker
	Bookings     BookingCreator
	// Storage is pinged by the readiness probe.
	Storage Pinger
}

// Server is the public callslot HTTP API.
type Server struct {
	config  Config
	handler http.Handler
	health  *HealthChecker
	logger  *slog.Logger

	mu         sync.Mutex
	httpServer *http.Server
}

// New builds the API server. Every Services field except Storage is required.
func New(config Config, svc Services, sessions *SessionManager) (*Server, error) {
	if svc.Users == nil || svc.Rules == nil || svc.Availability == nil || svc.Bookings == nil {
		return nil, errors.New("server: all services are required")
	}
	if sessions == nil {
		return nil, errors.New("server: session manager is required")
	}
	if config.Logger == nil {
		config.Logger = slog.Default()
	}
	if config.ReadTimeout <= 0 {
		config.ReadTimeout = 10 * time.Second
	}
	if config.WriteTimeout <= 0 {
		config.WriteTimeout = 30 * time.Second
	}

	rs := newResponder(config.Logger)
	h := &handlers{
		users:        svc.Users,
		rules:        svc.Rules,
		availability: svc.Availability,
		bookings:     svc.Bookings,
		sessions:     sessions,
		rs:           rs,
	}
	health := NewHealthChecker(svc.Storage)

	mux := http.NewServeMux()
	health.RegisterHealthEndpoints(mux)

	limited := RateLimit(config.Limiter, config.TrustProxy, config.Logger, config.Metrics)
	authed := sessions.require(rs)

	mux.Handle("POST /users/{username}/schedule", limited(http.HandlerFunc(h.createBooking)))
	mux.HandleFunc("/users/{username}/schedule", h.bookingMethodNotAllowed)
	mux.Handle("GET /users/{username}/availability", limited(http.HandlerFunc(h.getAvailability)))
	mux.Handle("POST /users/time-intervals", authed(http.HandlerFunc(h.setTimeIntervals)))
	mux.Handle("GET /users/time-intervals", authed(http.HandlerFunc(h.getTimeIntervals)))
	mux.Handle("POST /users", limited(http.HandlerFunc(h.register)))
	mux.Handle("GET /auth/google", authed(http.HandlerFunc(h.connectGoogle)))
	mux.Handle("GET /auth/google/callback", authed(http.HandlerFunc(h.googleCallback)))

	handler := Chain(mux,
		WithRequestID(),
		WithAccessLog(config.Logger, config.Metrics),
		WithBodyLimit(config.MaxBodyBytes),
	)
	if config.Tracing {
		handler = otelhttp.NewHandler(handler, "callslot.http")
	}

	return &Server{
		config:  config,
		handler: handler,
		health:  health,
		logger:  config.Logger,
	}, nil
}

// Handler returns the fully wrapped HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// Health returns the probe state shared with the ops endpoints.
func (s *Server) Health() *HealthChecker {
	return s.health
}

// Start listens on the configured address and serves until Shutdown.
// It blocks; a clean shutdown returns nil.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.config.Addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.config.Addr, err)
	}
	return s.Serve(ln)
}

// Serve accepts connections on ln.
func (s *Server) Serve(ln net.Listener) error {
	s.mu.Lock()
	s.httpServer = &http.Server{
		Handler:           s.handler,
		ReadHeaderTimeout: s.config.ReadTimeout,
		ReadTimeout:       s.config.ReadTimeout,
		WriteTimeout:      s.config.WriteTimeout,
		IdleTimeout:       120 * time.Second,
	}
	srv := s.httpServer
	s.mu.Unlock()

	s.logger.Info("starting http server", "addr", ln.Addr().String())
	if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown fails readiness first, then drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	s.health.MarkShuttingDown()

	s.mu.Lock()
	srv := s.httpServer
	s.mu.Unlock()

	if srv == nil {
		return nil
	}
	s.logger.Info("shutting down http server")
	return srv.Shutdown(ctx)
}

// ValidateBaseURL rejects public base URLs that would carry session
// cookies and OAuth codes over plain HTTP. Loopback hosts may use HTTP
// for development.
func ValidateBaseURL(baseURL string) error {
	if baseURL == "" {
		return nil
	}

	u, err := url.Parse(baseURL)
	if err != nil {
		return fmt.Errorf("invalid base URL: %w", err)
	}

	switch u.Scheme {
	case "https":
		return nil
	case "http":
		host := u.Hostname()
		if host != "localhost" && host != "127.0.0.1" && host != "::1" {
			return fmt.Errorf("base URL must use HTTPS outside of localhost (got: %s)", baseURL)
		}
		return nil
	default:
		return fmt.Errorf("invalid URL scheme: %s. Must be http (localhost only) or https", u.Scheme)
	}
}

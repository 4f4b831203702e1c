package server

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/teemow/callslot/internal/domain"
	"github.com/teemow/callslot/internal/logging"
)

const (
	msgInvalidInput         = "invalid input"
	msgInvalidBody          = "invalid request body"
	msgReconnect            = "calendar disconnected, reconnect"
	msgProviderUnavailable  = "calendar provider unavailable"
	msgPermissionMissing    = "calendar permission missing"
	msgCodeRejected         = "authorization code rejected"
	msgInternal             = "internal server error"
	msgUnauthenticated      = "authentication required"
	msgRateLimited          = "rate limit exceeded"
	msgMethodNotAllowed     = "method not allowed"
	msgBookingSyncPending   = "booking saved, calendar event pending"
	msgBookingNeedReconnect = "booking saved, calendar disconnected"
)

type errorResponse struct {
	Message      string            `json:"message"`
	Errors       map[string]string `json:"errors,omitempty"`
	SchedulingID string            `json:"schedulingId,omitempty"`
}

type responder struct {
	logger *slog.Logger
}

func newResponder(logger *slog.Logger) responder {
	if logger == nil {
		logger = slog.Default()
	}
	return responder{logger: logger}
}

func (rs responder) writeJSON(ctx context.Context, w http.ResponseWriter, status int, payload any) {
	if payload == nil {
		w.WriteHeader(status)
		return
	}

	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		rs.loggerFor(ctx).ErrorContext(ctx, "failed to encode response", logging.Err(err))
	}
}

func (rs responder) writeError(ctx context.Context, w http.ResponseWriter, status int, message string) {
	rs.writeJSON(ctx, w, status, errorResponse{Message: message})
}

// handleServiceError maps a domain error onto an HTTP status. Anything
// unrecognised is logged and reported as a 500 without leaking details.
func (rs responder) handleServiceError(ctx context.Context, w http.ResponseWriter, err error) {
	var verr *domain.ValidationError
	var calErr *domain.ExternalCalendarError

	switch {
	case errors.As(err, &verr):
		rs.writeJSON(ctx, w, http.StatusBadRequest, errorResponse{Message: msgInvalidInput, Errors: verr.Fields})
	case errors.Is(err, domain.ErrUserNotFound),
		errors.Is(err, domain.ErrPastDate),
		errors.Is(err, domain.ErrSlotConflict),
		errors.Is(err, domain.ErrUsernameTaken):
		rs.writeError(ctx, w, http.StatusBadRequest, userMessage(err))
	case errors.Is(err, domain.ErrCalendarScopeMissing):
		rs.writeError(ctx, w, http.StatusBadRequest, msgPermissionMissing)
	case domain.IsReconnectRequired(err):
		rs.writeError(ctx, w, http.StatusConflict, msgReconnect)
	case errors.As(err, &calErr):
		rs.loggerFor(ctx).WarnContext(ctx, "calendar provider failure", logging.Err(err))
		rs.writeError(ctx, w, http.StatusBadGateway, msgProviderUnavailable)
	default:
		rs.loggerFor(ctx).ErrorContext(ctx, "request failed", logging.Err(err))
		rs.writeError(ctx, w, http.StatusInternalServerError, msgInternal)
	}
}

// userMessage returns the text of the first domain sentinel err wraps.
func userMessage(err error) string {
	for _, sentinel := range []error{
		domain.ErrUserNotFound,
		domain.ErrPastDate,
		domain.ErrSlotConflict,
		domain.ErrUsernameTaken,
	} {
		if errors.Is(err, sentinel) {
			return sentinel.Error()
		}
	}
	return err.Error()
}

func (rs responder) loggerFor(ctx context.Context) *slog.Logger {
	if id := RequestIDFromContext(ctx); id != "" {
		return rs.logger.With(logging.RequestID(id))
	}
	return rs.logger
}

func decodeJSON(r *http.Request, dst any) error {
	dec := json.NewDecoder(r.Body)
	return dec.Decode(dst)
}

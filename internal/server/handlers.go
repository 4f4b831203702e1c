package server

import (
	"context"
	"errors"
	"net/http"

	"golang.org/x/oauth2"

	"github.com/teemow/callslot/internal/availability"
	"github.com/teemow/callslot/internal/booking"
	"github.com/teemow/callslot/internal/domain"
	"github.com/teemow/callslot/internal/logging"
	"github.com/teemow/callslot/internal/timeunit"
)

// ConnectedRedirect is where the browser lands after connecting a calendar.
const ConnectedRedirect = "/register/time-intervals"

// BookingCreator creates bookings.
type BookingCreator interface {
	CreateBooking(ctx context.Context, req booking.Request) (domain.Scheduling, error)
}

// AvailabilityChecker answers availability queries.
type AvailabilityChecker interface {
	Availability(ctx context.Context, username, date string) (availability.Result, error)
}

// RuleManager reads and replaces weekly availability.
type RuleManager interface {
	SetWeeklyAvailability(ctx context.Context, userID string, rules [domain.DaysPerWeek]domain.WeekdayRule) error
	GetWeeklyAvailability(ctx context.Context, userID string) ([domain.DaysPerWeek]domain.WeekdayRule, error)
}

// UserManager registers users and connects their calendars.
type UserManager interface {
	Register(ctx context.Context, username, name, email string) (domain.User, error)
	AuthURL(state string) string
	CompleteConnect(ctx context.Context, userID, code string) error
}

type handlers struct {
	users        UserManager
	rules        RuleManager
	availability AvailabilityChecker
	bookings     BookingCreator
	sessions     *SessionManager
	rs           responder
}

type createBookingRequest struct {
	Name         string  `json:"name"`
	Email        string  `json:"email"`
	Observations *string `json:"observations"`
	Date         string  `json:"date"`
}

type syncPendingResponse struct {
	Message      string `json:"message"`
	SchedulingID string `json:"schedulingId"`
}

func (h *handlers) createBooking(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var body createBookingRequest
	if err := decodeJSON(r, &body); err != nil {
		h.rs.writeError(ctx, w, http.StatusBadRequest, msgInvalidBody)
		return
	}

	sched, err := h.bookings.CreateBooking(ctx, booking.Request{
		Username:     r.PathValue("username"),
		Name:         body.Name,
		Email:        body.Email,
		Observations: body.Observations,
		Date:         body.Date,
	})

	var calErr *domain.ExternalCalendarError
	switch {
	case err == nil:
		w.WriteHeader(http.StatusCreated)
	case errors.As(err, &calErr) && sched.ID != "":
		message := msgBookingSyncPending
		if domain.IsReconnectRequired(err) {
			message = msgBookingNeedReconnect
		}
		h.rs.writeJSON(ctx, w, http.StatusAccepted, syncPendingResponse{Message: message, SchedulingID: sched.ID})
	default:
		h.rs.handleServiceError(ctx, w, err)
	}
}

func (h *handlers) bookingMethodNotAllowed(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Allow", http.MethodPost)
	h.rs.writeError(r.Context(), w, http.StatusMethodNotAllowed, msgMethodNotAllowed)
}

type availabilityResponse struct {
	PossibleTimes  []int `json:"possibleTimes"`
	AvailableTimes []int `json:"availableTimes"`
}

func (h *handlers) getAvailability(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	result, err := h.availability.Availability(ctx, r.PathValue("username"), r.URL.Query().Get("date"))
	if err != nil {
		h.rs.handleServiceError(ctx, w, err)
		return
	}
	h.rs.writeJSON(ctx, w, http.StatusOK, availabilityResponse{
		PossibleTimes:  nonNil(result.PossibleHours),
		AvailableTimes: nonNil(result.AvailableHours),
	})
}

type intervalPayload struct {
	WeekDay            int `json:"weekDay"`
	StartTimeInMinutes int `json:"startTimeInMinutes"`
	EndTimeInMinutes   int `json:"endTimeInMinutes"`
}

type setIntervalsRequest struct {
	Intervals []intervalPayload `json:"intervals"`
}

func (h *handlers) setTimeIntervals(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID, _ := UserIDFromContext(ctx)

	var body setIntervalsRequest
	if err := decodeJSON(r, &body); err != nil {
		h.rs.writeError(ctx, w, http.StatusBadRequest, msgInvalidBody)
		return
	}

	intervals := make([]availability.Interval, 0, len(body.Intervals))
	for _, in := range body.Intervals {
		intervals = append(intervals, availability.Interval{
			Weekday:     in.WeekDay,
			StartMinute: in.StartTimeInMinutes,
			EndMinute:   in.EndTimeInMinutes,
		})
	}

	rules, err := availability.FromIntervals(intervals)
	if err == nil {
		err = h.rules.SetWeeklyAvailability(ctx, userID, rules)
	}
	if err != nil {
		h.rs.handleServiceError(ctx, w, err)
		return
	}
	w.WriteHeader(http.StatusCreated)
}

type intervalView struct {
	WeekDay            int    `json:"weekDay"`
	Enabled            bool   `json:"enabled"`
	StartTime          string `json:"startTime"`
	EndTime            string `json:"endTime"`
	StartTimeInMinutes int    `json:"startTimeInMinutes"`
	EndTimeInMinutes   int    `json:"endTimeInMinutes"`
}

type intervalsResponse struct {
	Intervals []intervalView `json:"intervals"`
}

func (h *handlers) getTimeIntervals(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID, _ := UserIDFromContext(ctx)

	rules, err := h.rules.GetWeeklyAvailability(ctx, userID)
	if err != nil {
		h.rs.handleServiceError(ctx, w, err)
		return
	}

	resp := intervalsResponse{Intervals: make([]intervalView, 0, len(rules))}
	for _, rule := range rules {
		resp.Intervals = append(resp.Intervals, intervalView{
			WeekDay:            rule.Weekday,
			Enabled:            rule.Enabled,
			StartTime:          timeunit.MustFromMinutes(rule.StartMinute),
			EndTime:            timeunit.MustFromMinutes(rule.EndMinute),
			StartTimeInMinutes: rule.StartMinute,
			EndTimeInMinutes:   rule.EndMinute,
		})
	}
	h.rs.writeJSON(ctx, w, http.StatusOK, resp)
}

type registerRequest struct {
	Username string `json:"username"`
	Name     string `json:"name"`
	Email    string `json:"email"`
}

type registerResponse struct {
	ID       string `json:"id"`
	Username string `json:"username"`
}

func (h *handlers) register(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var body registerRequest
	if err := decodeJSON(r, &body); err != nil {
		h.rs.writeError(ctx, w, http.StatusBadRequest, msgInvalidBody)
		return
	}

	user, err := h.users.Register(ctx, body.Username, body.Name, body.Email)
	if err != nil {
		h.rs.handleServiceError(ctx, w, err)
		return
	}
	if err := h.sessions.Issue(w, user.ID); err != nil {
		h.rs.handleServiceError(ctx, w, err)
		return
	}
	h.rs.writeJSON(ctx, w, http.StatusCreated, registerResponse{ID: user.ID, Username: user.Username})
}

func (h *handlers) connectGoogle(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID, _ := UserIDFromContext(ctx)

	state, err := h.sessions.NewState(userID)
	if err != nil {
		h.rs.handleServiceError(ctx, w, err)
		return
	}
	http.Redirect(w, r, h.users.AuthURL(state), http.StatusFound)
}

func (h *handlers) googleCallback(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID, _ := UserIDFromContext(ctx)
	q := r.URL.Query()

	if oauthErr := q.Get("error"); oauthErr != "" {
		h.rs.loggerFor(ctx).InfoContext(ctx, "google consent declined",
			logging.UserID(userID), logging.Status(oauthErr))
		h.rs.writeError(ctx, w, http.StatusBadRequest, msgPermissionMissing)
		return
	}
	if err := h.sessions.VerifyState(q.Get("state"), userID); err != nil {
		h.rs.writeError(ctx, w, http.StatusBadRequest, ErrInvalidState.Error())
		return
	}
	code := q.Get("code")
	if code == "" {
		h.rs.writeJSON(ctx, w, http.StatusBadRequest, errorResponse{
			Message: msgInvalidInput,
			Errors:  map[string]string{"code": "is required"},
		})
		return
	}

	if err := h.users.CompleteConnect(ctx, userID, code); err != nil {
		var retrieveErr *oauth2.RetrieveError
		if errors.As(err, &retrieveErr) {
			h.rs.loggerFor(ctx).WarnContext(ctx, "authorization code rejected",
				logging.UserID(userID), logging.Err(err))
			h.rs.writeError(ctx, w, http.StatusBadRequest, msgCodeRejected)
			return
		}
		h.rs.handleServiceError(ctx, w, err)
		return
	}
	http.Redirect(w, r, ConnectedRedirect, http.StatusFound)
}

func nonNil(v []int) []int {
	if v == nil {
		return []int{}
	}
	return v
}

package calendar

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"golang.org/x/oauth2"
	calendar "google.golang.org/api/calendar/v3"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"

	"github.com/teemow/callslot/internal/domain"
	"github.com/teemow/callslot/internal/google"
	"github.com/teemow/callslot/internal/instrumentation"
)

// Options configures a Client.
type Options struct {
	// CalendarID defaults to PrimaryCalendarID.
	CalendarID string
	// Endpoint overrides the Calendar API base URL, for tests.
	Endpoint string
	// HTTPClient is the base client that the OAuth transport wraps.
	HTTPClient *http.Client
	Metrics    *instrumentation.Metrics
}

// Client talks to the Google Calendar API on behalf of connected users.
type Client struct {
	calendarID string
	endpoint   string
	base       *http.Client
	metrics    *instrumentation.Metrics
}

// NewClient creates a Client.
func NewClient(opts Options) *Client {
	if opts.CalendarID == "" {
		opts.CalendarID = PrimaryCalendarID
	}
	base := opts.HTTPClient
	if base == nil {
		// Force HTTP/1.1 by disabling HTTP/2
		base = &http.Client{
			Timeout:   30 * time.Second,
			Transport: &http.Transport{ForceAttemptHTTP2: false, Proxy: http.ProxyFromEnvironment},
		}
	}
	return &Client{
		calendarID: opts.CalendarID,
		endpoint:   opts.Endpoint,
		base:       base,
		metrics:    opts.Metrics,
	}
}

func (c *Client) service(ctx context.Context, cred google.Credential) (*calendar.Service, error) {
	httpClient := oauth2.NewClient(context.WithValue(ctx, oauth2.HTTPClient, c.base), cred.TokenSource())

	opts := []option.ClientOption{option.WithHTTPClient(httpClient)}
	if c.endpoint != "" {
		opts = append(opts, option.WithEndpoint(c.endpoint))
	}

	svc, err := calendar.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create Calendar service: %w", err)
	}
	return svc, nil
}

// InsertEvent creates the event described by spec. When spec.ID is set and
// the event already exists, the existing event is returned.
func (c *Client) InsertEvent(ctx context.Context, cred google.Credential, spec EventSpec) (EventRef, error) {
	ctx, span := instrumentation.StartGoogleAPISpan(ctx, instrumentation.ServiceCalendar, instrumentation.OperationInsert,
		instrumentation.NewSpanAttributeBuilder().WithUserID(cred.UserID()).Build()...)
	defer span.End()
	start := time.Now()

	ref, err := c.insertEvent(ctx, cred, spec)
	c.record(ctx, instrumentation.OperationInsert, err, start)
	if err != nil {
		instrumentation.SetSpanError(span, err)
		return EventRef{}, err
	}
	instrumentation.SetSpanSuccess(span)
	return ref, nil
}

func (c *Client) insertEvent(ctx context.Context, cred google.Credential, spec EventSpec) (EventRef, error) {
	svc, err := c.service(ctx, cred)
	if err != nil {
		return EventRef{}, err
	}

	event := toEvent(spec)
	call := svc.Events.Insert(c.calendarID, event).Context(ctx)
	if spec.ConferenceRequestID != "" {
		call = call.ConferenceDataVersion(1)
	}

	created, err := call.Do()
	if err != nil {
		if spec.ID != "" && isConflict(err) {
			existing, getErr := svc.Events.Get(c.calendarID, spec.ID).Context(ctx).Do()
			if getErr != nil {
				return EventRef{ID: spec.ID, Existing: true}, nil
			}
			ref := toEventRef(existing)
			ref.Existing = true
			return ref, nil
		}
		return EventRef{}, fmt.Errorf("failed to create event: %w", revoked(err))
	}
	return toEventRef(created), nil
}

// ListBusy returns the busy intervals of the calendar within r.
func (c *Client) ListBusy(ctx context.Context, cred google.Credential, r domain.TimeRange) ([]domain.TimeRange, error) {
	ctx, span := instrumentation.StartGoogleAPISpan(ctx, instrumentation.ServiceCalendar, instrumentation.OperationFreeBusy,
		instrumentation.NewSpanAttributeBuilder().WithUserID(cred.UserID()).Build()...)
	defer span.End()
	start := time.Now()

	busy, err := c.listBusy(ctx, cred, r)
	c.record(ctx, instrumentation.OperationFreeBusy, err, start)
	if err != nil {
		instrumentation.SetSpanError(span, err)
		return nil, err
	}
	instrumentation.SetSpanSuccess(span)
	return busy, nil
}

func (c *Client) listBusy(ctx context.Context, cred google.Credential, r domain.TimeRange) ([]domain.TimeRange, error) {
	svc, err := c.service(ctx, cred)
	if err != nil {
		return nil, err
	}

	query := &calendar.FreeBusyRequest{
		TimeMin: r.Start.Format(time.RFC3339),
		TimeMax: r.End.Format(time.RFC3339),
		Items:   []*calendar.FreeBusyRequestItem{{Id: c.calendarID}},
	}

	result, err := svc.Freebusy.Query(query).Context(ctx).Do()
	if err != nil {
		return nil, fmt.Errorf("failed to query freebusy: %w", revoked(err))
	}

	var busy []domain.TimeRange
	for calID, cal := range result.Calendars {
		if len(cal.Errors) > 0 {
			return nil, fmt.Errorf("freebusy for calendar %s: %s", calID, cal.Errors[0].Reason)
		}
		for _, b := range cal.Busy {
			s, err := time.Parse(time.RFC3339, b.Start)
			if err != nil {
				return nil, fmt.Errorf("parsing busy start %q: %w", b.Start, err)
			}
			e, err := time.Parse(time.RFC3339, b.End)
			if err != nil {
				return nil, fmt.Errorf("parsing busy end %q: %w", b.End, err)
			}
			busy = append(busy, domain.TimeRange{Start: s, End: e})
		}
	}
	return busy, nil
}

func (c *Client) record(ctx context.Context, op string, err error, start time.Time) {
	status := instrumentation.StatusSuccess
	if err != nil {
		status = instrumentation.StatusError
	}
	c.metrics.RecordGoogleAPIOperation(ctx, instrumentation.ServiceCalendar, op, status, time.Since(start))
}

func toEvent(spec EventSpec) *calendar.Event {
	tz := spec.TimeZone
	if tz == "" {
		tz = "UTC"
	}
	event := &calendar.Event{
		Id:          spec.ID,
		Summary:     spec.Summary,
		Description: spec.Description,
		Start:       &calendar.EventDateTime{DateTime: spec.Start.Format(time.RFC3339), TimeZone: tz},
		End:         &calendar.EventDateTime{DateTime: spec.End.Format(time.RFC3339), TimeZone: tz},
	}
	for _, a := range spec.Attendees {
		event.Attendees = append(event.Attendees, &calendar.EventAttendee{
			Email:       a.Email,
			DisplayName: a.DisplayName,
		})
	}
	if spec.ConferenceRequestID != "" {
		event.ConferenceData = &calendar.ConferenceData{
			CreateRequest: &calendar.CreateConferenceRequest{
				RequestId:             spec.ConferenceRequestID,
				ConferenceSolutionKey: &calendar.ConferenceSolutionKey{Type: "hangoutsMeet"},
			},
		}
	}
	return event
}

func toEventRef(e *calendar.Event) EventRef {
	if e == nil {
		return EventRef{}
	}
	ref := EventRef{ID: e.Id, HTMLLink: e.HtmlLink, MeetLink: e.HangoutLink}
	if ref.MeetLink == "" && e.ConferenceData != nil {
		for _, ep := range e.ConferenceData.EntryPoints {
			if ep.EntryPointType == "video" {
				ref.MeetLink = ep.Uri
				break
			}
		}
	}
	return ref
}

// revoked marks a 401 as domain.ErrCalendarAccessRevoked. The stored access
// token was not expired, so Google withdrew it.
func revoked(err error) error {
	var gerr *googleapi.Error
	if errors.As(err, &gerr) && gerr.Code == http.StatusUnauthorized {
		return fmt.Errorf("%w: %w", domain.ErrCalendarAccessRevoked, err)
	}
	return err
}

func isConflict(err error) bool {
	var gerr *googleapi.Error
	return errors.As(err, &gerr) && gerr.Code == http.StatusConflict
}

// Retryable reports whether err is worth retrying: rate limits, server
// errors, and network failures. Client errors such as revoked access are not.
func Retryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var gerr *googleapi.Error
	if errors.As(err, &gerr) {
		if gerr.Code == http.StatusTooManyRequests || gerr.Code >= 500 {
			return true
		}
		if gerr.Code == http.StatusForbidden {
			for _, item := range gerr.Errors {
				if item.Reason == "rateLimitExceeded" || item.Reason == "userRateLimitExceeded" {
					return true
				}
			}
		}
		return false
	}
	var netErr net.Error
	return errors.As(err, &netErr)
}

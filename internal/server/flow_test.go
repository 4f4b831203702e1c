package server

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"path/filepath"
	"sync"
	"testing"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teemow/callslot/internal/availability"
	"github.com/teemow/callslot/internal/booking"
	"github.com/teemow/callslot/internal/calendar"
	"github.com/teemow/callslot/internal/domain"
	"github.com/teemow/callslot/internal/google"
	"github.com/teemow/callslot/internal/storage/sqlite"
	"github.com/teemow/callslot/internal/users"
)

type flowOAuth struct {
	tokens domain.TokenSet
}

func (f flowOAuth) AuthURL(state string) string {
	return "https://accounts.example.com/o/oauth2/auth?state=" + url.QueryEscape(state)
}

func (f flowOAuth) Exchange(context.Context, string) (domain.TokenSet, error) {
	return f.tokens, nil
}

type noRefresh struct{}

func (noRefresh) Refresh(context.Context, string) (domain.TokenSet, error) {
	return domain.TokenSet{}, errors.New("unexpected refresh")
}

// fakeGoogle serves the Calendar v3 endpoints the app calls. Monday
// 2030-01-07 14:00-15:00 UTC is busy in the connected calendar.
type fakeGoogle struct {
	mu     sync.Mutex
	events []map[string]any
}

func (g *fakeGoogle) handler(t *testing.T) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /freeBusy", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer access-1", r.Header.Get("Authorization"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"calendars":{"primary":{"busy":[
			{"start":"2030-01-07T14:00:00Z","end":"2030-01-07T15:00:00Z"}]}}}`))
	})
	mux.HandleFunc("POST /calendars/primary/events", func(w http.ResponseWriter, r *http.Request) {
		var ev map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&ev))
		g.mu.Lock()
		g.events = append(g.events, ev)
		g.mu.Unlock()
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{"id": ev["id"], "hangoutLink": "https://meet.example.com/abc"})
	})
	return mux
}

func TestFlow_RegisterConnectConfigureBook(t *testing.T) {
	ctx := context.Background()
	store, err := sqlite.Open(ctx, filepath.Join(t.TempDir(), "callslot.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	gcal := &fakeGoogle{}
	gsrv := httptest.NewServer(gcal.handler(t))
	t.Cleanup(gsrv.Close)
	cal := calendar.NewClient(calendar.Options{Endpoint: gsrv.URL + "/", HTTPClient: gsrv.Client()})

	idToken, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{"sub": "google-42"}).SignedString([]byte("k"))
	require.NoError(t, err)
	userSvc := users.NewService(store, flowOAuth{tokens: domain.TokenSet{
		AccessToken:  "access-1",
		RefreshToken: "refresh-1",
		IDToken:      idToken,
		TokenType:    "Bearer",
		Scope:        "openid " + google.CalendarScope,
	}})

	tokens := google.NewTokenManager(store, noRefresh{})
	syncer := booking.NewSyncer(store, tokens, cal, booking.SyncerConfig{})
	sessions := newTestSessions(t)

	srv, err := New(Config{Logger: slog.New(slog.DiscardHandler)}, Services{
		Users:        userSvc,
		Rules:        availability.NewRuleService(store, nil, nil),
		Availability: availability.NewChecker(store, tokens, cal),
		Bookings:     booking.NewWriter(store, syncer),
		Storage:      store,
	}, sessions)
	require.NoError(t, err)
	api := &testServer{handler: srv.Handler(), sessions: sessions}

	// Claim a username.
	rec := api.do(t, http.MethodPost, "/users", `{"username":"Jane-Doe","name":"Jane Doe"}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var registered registerResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &registered))
	assert.Equal(t, "jane-doe", registered.Username)
	cookie := rec.Result().Cookies()[0]

	// Availability needs a connected calendar.
	rec = api.do(t, http.MethodPost, "/users/time-intervals",
		`{"intervals":[{"weekDay":1,"startTimeInMinutes":480,"endTimeInMinutes":1080}]}`, cookie)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	rec = api.do(t, http.MethodGet, "/users/jane-doe/availability?date=2030-01-07", "")
	assert.Equal(t, http.StatusConflict, rec.Code)

	// Connect Google.
	rec = api.do(t, http.MethodGet, "/auth/google", "", cookie)
	require.Equal(t, http.StatusFound, rec.Code)
	loc, err := url.Parse(rec.Header().Get("Location"))
	require.NoError(t, err)
	state := loc.Query().Get("state")

	rec = api.do(t, http.MethodGet, "/auth/google/callback?code=c0de&state="+url.QueryEscape(state), "", cookie)
	require.Equal(t, http.StatusFound, rec.Code, rec.Body.String())

	// Calendar busy time hides 14:00.
	rec = api.do(t, http.MethodGet, "/users/jane-doe/availability?date=2030-01-07", "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.JSONEq(t, `{"possibleTimes":[8,9,10,11,12,13,14,15,16,17],"availableTimes":[8,9,10,11,12,13,15,16,17]}`,
		rec.Body.String())

	// Book 10:00 and mirror it to the calendar.
	body := `{"name":"Bob Smith","email":"bob@example.com","observations":null,"date":"2030-01-07T10:20:00Z"}`
	rec = api.do(t, http.MethodPost, "/users/jane-doe/schedule", body)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	gcal.mu.Lock()
	require.Len(t, gcal.events, 1)
	assert.Equal(t, "Call: Bob Smith", gcal.events[0]["summary"])
	gcal.mu.Unlock()

	rec = api.do(t, http.MethodPost, "/users/jane-doe/schedule", body)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.JSONEq(t, `{"message":"there is another scheduling at the same time"}`, rec.Body.String())

	rec = api.do(t, http.MethodGet, "/users/jane-doe/availability?date=2030-01-07", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"possibleTimes":[8,9,10,11,12,13,14,15,16,17],"availableTimes":[8,9,11,12,13,15,16,17]}`,
		rec.Body.String())

	// Weekly availability reads back with all seven days.
	rec = api.do(t, http.MethodGet, "/users/time-intervals", "", cookie)
	require.Equal(t, http.StatusOK, rec.Code)
	var intervals intervalsResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &intervals))
	require.Len(t, intervals.Intervals, domain.DaysPerWeek)
	assert.True(t, intervals.Intervals[1].Enabled)
	assert.Equal(t, "08:00", intervals.Intervals[1].StartTime)

	rec = api.do(t, http.MethodGet, "/readyz", "")
	assert.Equal(t, http.StatusOK, rec.Code)
}

package sqlite

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teemow/callslot/internal/domain"
	"github.com/teemow/callslot/internal/storage"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(context.Background(), filepath.Join(t.TempDir(), "callslot.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func createUser(t *testing.T, s *Store, id, username string) domain.User {
	t.Helper()
	u := domain.User{ID: id, Username: username, Name: "Jane Doe", Email: "jane@example.com", CreatedAt: time.Now()}
	require.NoError(t, s.CreateUser(context.Background(), u))
	return u
}

func TestOpen_MigrationsAreIdempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "callslot.db")
	ctx := context.Background()

	s, err := Open(ctx, path)
	require.NoError(t, err)
	require.NoError(t, s.Close())

	s, err = Open(ctx, path)
	require.NoError(t, err)
	defer func() { _ = s.Close() }()

	v, err := s.SchemaVersion(ctx)
	require.NoError(t, err)
	assert.Equal(t, len(migrations), v)
	assert.NoError(t, s.Ping(ctx))
}

func TestUsers(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	createUser(t, s, "u1", "jane-doe")

	got, err := s.GetUserByUsername(ctx, "jane-doe")
	require.NoError(t, err)
	assert.Equal(t, "u1", got.ID)
	assert.Equal(t, "Jane Doe", got.Name)

	got, err = s.GetUser(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, "jane-doe", got.Username)

	_, err = s.GetUserByUsername(ctx, "nobody")
	assert.ErrorIs(t, err, storage.ErrNotFound)

	err = s.CreateUser(ctx, domain.User{ID: "u2", Username: "jane-doe", Name: "Other", CreatedAt: time.Now()})
	assert.ErrorIs(t, err, storage.ErrUniqueViolation)
}

func TestAccounts(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	createUser(t, s, "u1", "jane-doe")

	_, err := s.GetAccount(ctx, "u1", domain.ProviderGoogle)
	assert.ErrorIs(t, err, storage.ErrNotFound)

	exp := int64(1700000000)
	require.NoError(t, s.UpsertAccount(ctx, domain.Account{
		ID: "a1", UserID: "u1", Provider: domain.ProviderGoogle, ProviderAccountID: "g-1",
		AccessToken: "at-1", RefreshToken: "rt-1", TokenType: "Bearer", ExpiresAt: &exp,
	}))

	// Reconnecting replaces tokens but keeps the stored refresh token when none is sent.
	require.NoError(t, s.UpsertAccount(ctx, domain.Account{
		ID: "a2", UserID: "u1", Provider: domain.ProviderGoogle, ProviderAccountID: "g-1",
		AccessToken: "at-2", TokenType: "Bearer",
	}))

	acc, err := s.GetAccount(ctx, "u1", domain.ProviderGoogle)
	require.NoError(t, err)
	assert.Equal(t, "a1", acc.ID)
	assert.Equal(t, "at-2", acc.AccessToken)
	assert.Equal(t, "rt-1", acc.RefreshToken)
	assert.Nil(t, acc.ExpiresAt)

	newExp := int64(1800000000)
	require.NoError(t, s.UpdateAccountTokens(ctx, "a1", domain.TokenSet{
		AccessToken: "at-3", RefreshToken: "rt-3", IDToken: "id-3", TokenType: "Bearer",
		Scope: "calendar", ExpiresAt: &newExp,
	}))
	acc, err = s.GetAccount(ctx, "u1", domain.ProviderGoogle)
	require.NoError(t, err)
	assert.Equal(t, "at-3", acc.AccessToken)
	assert.Equal(t, "rt-3", acc.RefreshToken)
	assert.Equal(t, "id-3", acc.IDToken)
	require.NotNil(t, acc.ExpiresAt)
	assert.Equal(t, newExp, *acc.ExpiresAt)

	err = s.UpdateAccountTokens(ctx, "missing", domain.TokenSet{})
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestWeekdayRules(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	createUser(t, s, "u1", "jane-doe")

	rules := []domain.WeekdayRule{
		{Weekday: 0},
		{Weekday: 1, Enabled: true, StartMinute: 480, EndMinute: 1080},
		{Weekday: 3, Enabled: true, StartMinute: 600, EndMinute: 720},
	}
	require.NoError(t, s.ReplaceWeekdayRules(ctx, "u1", rules))

	got, err := s.ListWeekdayRules(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, rules[1], got[0])
	assert.Equal(t, rules[2], got[1])

	r, err := s.GetWeekdayRule(ctx, "u1", 3)
	require.NoError(t, err)
	assert.Equal(t, 600, r.StartMinute)

	_, err = s.GetWeekdayRule(ctx, "u1", 0)
	assert.ErrorIs(t, err, storage.ErrNotFound)

	// Replacing drops rules that are no longer present.
	require.NoError(t, s.ReplaceWeekdayRules(ctx, "u1", []domain.WeekdayRule{
		{Weekday: 5, Enabled: true, StartMinute: 0, EndMinute: 60},
	}))
	got, err = s.ListWeekdayRules(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, 5, got[0].Weekday)
}

func TestSchedulings(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	createUser(t, s, "u1", "jane-doe")

	date := time.Date(2030, 3, 4, 10, 0, 0, 0, time.UTC)
	obs := "talk about the roadmap"
	sc := domain.Scheduling{
		ID: "s1", UserID: "u1", Name: "John", Email: "john@example.com",
		Observations: &obs, Date: date, CreatedAt: time.Now(),
	}
	require.NoError(t, s.CreateScheduling(ctx, sc))

	got, err := s.GetScheduling(ctx, "s1")
	require.NoError(t, err)
	assert.True(t, got.Date.Equal(date))
	require.NotNil(t, got.Observations)
	assert.Equal(t, obs, *got.Observations)
	assert.Equal(t, domain.EventSyncPending, got.EventSyncStatus)

	exists, err := s.SchedulingExistsAt(ctx, "u1", date)
	require.NoError(t, err)
	assert.True(t, exists)

	exists, err = s.SchedulingExistsAt(ctx, "u1", date.Add(time.Hour))
	require.NoError(t, err)
	assert.False(t, exists)

	dup := sc
	dup.ID = "s2"
	assert.ErrorIs(t, s.CreateScheduling(ctx, dup), storage.ErrUniqueViolation)

	day := time.Date(2030, 3, 4, 0, 0, 0, 0, time.UTC)
	list, err := s.ListSchedulings(ctx, "u1", day, day.Add(24*time.Hour))
	require.NoError(t, err)
	require.Len(t, list, 1)

	list, err = s.ListSchedulings(ctx, "u1", day.Add(24*time.Hour), day.Add(48*time.Hour))
	require.NoError(t, err)
	assert.Empty(t, list)
}

func TestSchedulings_EventSync(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	createUser(t, s, "u1", "jane-doe")

	created := time.Now().Add(-time.Hour)
	for i, id := range []string{"s1", "s2"} {
		require.NoError(t, s.CreateScheduling(ctx, domain.Scheduling{
			ID: id, UserID: "u1", Name: "John", Email: "john@example.com",
			Date: time.Date(2030, 3, 4, 10+i, 0, 0, 0, time.UTC), CreatedAt: created,
		}))
	}

	require.NoError(t, s.UpdateEventSync(ctx, "s1", domain.EventSyncFailed, "", "boom"))
	require.NoError(t, s.UpdateEventSync(ctx, "s2", domain.EventSyncSynced, "evt2", ""))

	got, err := s.GetScheduling(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, domain.EventSyncFailed, got.EventSyncStatus)
	assert.Equal(t, "boom", got.EventSyncError)
	assert.Equal(t, 1, got.EventSyncAttempts)

	unsynced, err := s.ListUnsynced(ctx, time.Now(), created, 10)
	require.NoError(t, err)
	require.Len(t, unsynced, 1)
	assert.Equal(t, "s1", unsynced[0].ID)

	unsynced, err = s.ListUnsynced(ctx, created.Add(-time.Minute), created, 10)
	require.NoError(t, err)
	assert.Empty(t, unsynced)

	unsynced, err = s.ListUnsynced(ctx, time.Now(), time.Date(2030, 3, 4, 10, 0, 0, 0, time.UTC), 10)
	require.NoError(t, err)
	assert.Empty(t, unsynced, "hours that already started are not listed")

	assert.ErrorIs(t, s.UpdateEventSync(ctx, "missing", domain.EventSyncSynced, "", ""), storage.ErrNotFound)
}

func TestSchedulings_ConcurrentSameHour(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	createUser(t, s, "u1", "jane-doe")

	date := time.Date(2030, 3, 4, 10, 0, 0, 0, time.UTC)
	const n = 8
	errs := make([]error, n)

	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs[i] = s.CreateScheduling(ctx, domain.Scheduling{
				ID: string(rune('a' + i)), UserID: "u1", Name: "John", Email: "john@example.com",
				Date: date, CreatedAt: time.Now(),
			})
		}(i)
	}
	wg.Wait()

	var ok, conflicts int
	for _, err := range errs {
		switch {
		case err == nil:
			ok++
		case errors.Is(err, storage.ErrUniqueViolation):
			conflicts++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	assert.Equal(t, 1, ok)
	assert.Equal(t, n-1, conflicts)
}

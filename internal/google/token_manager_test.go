package google

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"

	"github.com/teemow/callslot/internal/domain"
	"github.com/teemow/callslot/internal/storage"
)

type fakeAccounts struct {
	mu      sync.Mutex
	account *domain.Account
	updates int
}

func (f *fakeAccounts) GetAccount(_ context.Context, userID, provider string) (domain.Account, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.account == nil || f.account.UserID != userID || f.account.Provider != provider {
		return domain.Account{}, storage.ErrNotFound
	}
	return *f.account, nil
}

func (f *fakeAccounts) UpdateAccountTokens(_ context.Context, accountID string, t domain.TokenSet) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.account == nil || f.account.ID != accountID {
		return storage.ErrNotFound
	}
	f.updates++
	f.account.AccessToken = t.AccessToken
	f.account.RefreshToken = t.RefreshToken
	f.account.IDToken = t.IDToken
	f.account.TokenType = t.TokenType
	f.account.Scope = t.Scope
	f.account.ExpiresAt = t.ExpiresAt
	return nil
}

type fakeRefresher struct {
	calls   atomic.Int32
	release chan struct{}
	result  domain.TokenSet
	err     error
	gotRT   atomic.Value
}

func (f *fakeRefresher) Refresh(_ context.Context, refreshToken string) (domain.TokenSet, error) {
	f.calls.Add(1)
	f.gotRT.Store(refreshToken)
	if f.release != nil {
		<-f.release
	}
	return f.result, f.err
}

var testNow = time.Date(2030, 3, 4, 12, 0, 0, 0, time.UTC)

func int64p(v int64) *int64 { return &v }

func newAccount(expiresAt *int64) *domain.Account {
	return &domain.Account{
		ID: "a1", UserID: "u1", Provider: domain.ProviderGoogle, ProviderAccountID: "g1",
		AccessToken: "old-access", RefreshToken: "old-refresh", IDToken: "old-id",
		TokenType: "Bearer", Scope: CalendarScope, ExpiresAt: expiresAt,
	}
}

func TestGetValidCredential_NotExpired(t *testing.T) {
	accounts := &fakeAccounts{account: newAccount(int64p(testNow.Add(time.Hour).Unix()))}
	refresher := &fakeRefresher{}
	m := NewTokenManager(accounts, refresher, WithClock(func() time.Time { return testNow }))

	cred, err := m.GetValidCredential(context.Background(), "u1")
	require.NoError(t, err)
	assert.Equal(t, "old-access", cred.AccessToken())
	assert.Zero(t, refresher.calls.Load())
	assert.Zero(t, accounts.updates)
}

func TestGetValidCredential_NoExpiry(t *testing.T) {
	accounts := &fakeAccounts{account: newAccount(nil)}
	refresher := &fakeRefresher{}
	m := NewTokenManager(accounts, refresher, WithClock(func() time.Time { return testNow }))

	cred, err := m.GetValidCredential(context.Background(), "u1")
	require.NoError(t, err)
	assert.Equal(t, "old-access", cred.AccessToken())
	assert.True(t, cred.Expiry().IsZero())
	assert.Zero(t, refresher.calls.Load())
}

func TestGetValidCredential_RefreshesExpired(t *testing.T) {
	accounts := &fakeAccounts{account: newAccount(int64p(testNow.Add(-time.Minute).Unix()))}
	newExp := testNow.Add(time.Hour).Unix()
	refresher := &fakeRefresher{result: domain.TokenSet{
		AccessToken: "new-access", TokenType: "Bearer", ExpiresAt: &newExp,
	}}
	m := NewTokenManager(accounts, refresher, WithClock(func() time.Time { return testNow }))

	cred, err := m.GetValidCredential(context.Background(), "u1")
	require.NoError(t, err)

	assert.Equal(t, int32(1), refresher.calls.Load())
	assert.Equal(t, "old-refresh", refresher.gotRT.Load())
	assert.Equal(t, 1, accounts.updates)

	assert.Equal(t, "new-access", cred.AccessToken())
	assert.Equal(t, newExp, cred.Expiry().Unix())

	// The refresh response omitted the refresh token, so the old one is kept.
	assert.Equal(t, "old-refresh", accounts.account.RefreshToken)
	assert.Equal(t, "old-refresh", cred.Token().RefreshToken)
	assert.Equal(t, "old-id", accounts.account.IDToken)
	assert.Equal(t, "new-access", accounts.account.AccessToken)
	require.NotNil(t, accounts.account.ExpiresAt)
	assert.Equal(t, newExp, *accounts.account.ExpiresAt)
}

func TestGetValidCredential_ExpiryBoundary(t *testing.T) {
	// expires_at*1000 equal to now is not yet expired.
	accounts := &fakeAccounts{account: newAccount(int64p(testNow.Unix()))}
	refresher := &fakeRefresher{}
	m := NewTokenManager(accounts, refresher, WithClock(func() time.Time { return testNow }))

	_, err := m.GetValidCredential(context.Background(), "u1")
	require.NoError(t, err)
	assert.Zero(t, refresher.calls.Load())
}

func TestGetValidCredential_RotatedRefreshToken(t *testing.T) {
	accounts := &fakeAccounts{account: newAccount(int64p(testNow.Add(-time.Minute).Unix()))}
	refresher := &fakeRefresher{result: domain.TokenSet{AccessToken: "new-access", RefreshToken: "new-refresh"}}
	m := NewTokenManager(accounts, refresher, WithClock(func() time.Time { return testNow }))

	cred, err := m.GetValidCredential(context.Background(), "u1")
	require.NoError(t, err)
	assert.Equal(t, "new-refresh", accounts.account.RefreshToken)
	assert.Equal(t, "new-refresh", cred.Token().RefreshToken)
}

func TestGetValidCredential_ConcurrentCallsRefreshOnce(t *testing.T) {
	accounts := &fakeAccounts{account: newAccount(int64p(testNow.Add(-time.Minute).Unix()))}
	newExp := testNow.Add(time.Hour).Unix()
	refresher := &fakeRefresher{
		release: make(chan struct{}),
		result:  domain.TokenSet{AccessToken: "new-access", ExpiresAt: &newExp},
	}
	m := NewTokenManager(accounts, refresher, WithClock(func() time.Time { return testNow }))

	const n = 10
	var wg sync.WaitGroup
	creds := make([]Credential, n)
	errs := make([]error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			creds[i], errs[i] = m.GetValidCredential(context.Background(), "u1")
		}(i)
	}

	time.Sleep(20 * time.Millisecond)
	close(refresher.release)
	wg.Wait()

	for i := 0; i < n; i++ {
		require.NoError(t, errs[i])
		assert.Equal(t, "new-access", creds[i].AccessToken())
	}
	assert.Equal(t, int32(1), refresher.calls.Load())
	assert.Equal(t, 1, accounts.updates)
}

func TestGetValidCredential_AccountNotFound(t *testing.T) {
	m := NewTokenManager(&fakeAccounts{}, &fakeRefresher{})

	_, err := m.GetValidCredential(context.Background(), "u1")
	assert.ErrorIs(t, err, domain.ErrAccountNotFound)
	assert.True(t, domain.IsReconnectRequired(err))
}

func TestGetValidCredential_RefreshFailed(t *testing.T) {
	accounts := &fakeAccounts{account: newAccount(int64p(testNow.Add(-time.Minute).Unix()))}
	cause := &oauth2.RetrieveError{ErrorCode: "invalid_grant", ErrorDescription: "Token has been expired or revoked."}
	refresher := &fakeRefresher{err: cause}
	m := NewTokenManager(accounts, refresher, WithClock(func() time.Time { return testNow }))

	_, err := m.GetValidCredential(context.Background(), "u1")
	assert.ErrorIs(t, err, domain.ErrTokenRefreshFailed)
	assert.ErrorIs(t, err, cause)
	assert.Zero(t, accounts.updates)
	assert.Equal(t, "old-access", accounts.account.AccessToken)
}

func TestGetValidCredential_RevokedGrants(t *testing.T) {
	tests := []struct {
		name      string
		err       error
		reconnect bool
	}{
		{"invalid grant", &oauth2.RetrieveError{ErrorCode: "invalid_grant"}, true},
		{"unauthorized client", &oauth2.RetrieveError{ErrorCode: "unauthorized_client"}, true},
		{"no refresh token", ErrNoRefreshToken, true},
		{"server error", &oauth2.RetrieveError{Response: &http.Response{StatusCode: http.StatusServiceUnavailable}}, false},
		{"transport", errors.New("dial tcp: connection refused"), false},
		{"cancelled", context.Canceled, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			accounts := &fakeAccounts{account: newAccount(int64p(testNow.Add(-time.Minute).Unix()))}
			m := NewTokenManager(accounts, &fakeRefresher{err: tt.err}, WithClock(func() time.Time { return testNow }))

			_, err := m.GetValidCredential(context.Background(), "u1")
			require.Error(t, err)
			assert.Equal(t, tt.reconnect, domain.IsReconnectRequired(err))
			if !tt.reconnect {
				var cerr *domain.ExternalCalendarError
				assert.ErrorAs(t, err, &cerr)
			}
		})
	}
}

func TestGetValidCredential_TokenEndpointUnavailable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "try again later", http.StatusServiceUnavailable)
	}))
	t.Cleanup(srv.Close)

	accounts := &fakeAccounts{account: newAccount(int64p(testNow.Add(-time.Minute).Unix()))}
	m := NewTokenManager(accounts, newTestClient(srv), WithClock(func() time.Time { return testNow }))

	_, err := m.GetValidCredential(context.Background(), "u1")
	require.Error(t, err)
	assert.False(t, domain.IsReconnectRequired(err))
	assert.NotErrorIs(t, err, domain.ErrTokenRefreshFailed)
	var cerr *domain.ExternalCalendarError
	assert.ErrorAs(t, err, &cerr)
	assert.Zero(t, accounts.updates)
}

func TestGetValidCredential_CancelledCallerDoesNotFailOthers(t *testing.T) {
	accounts := &fakeAccounts{account: newAccount(int64p(testNow.Add(-time.Minute).Unix()))}
	newExp := testNow.Add(time.Hour).Unix()
	refresher := &fakeRefresher{
		release: make(chan struct{}),
		result:  domain.TokenSet{AccessToken: "new-access", ExpiresAt: &newExp},
	}
	m := NewTokenManager(accounts, refresher, WithClock(func() time.Time { return testNow }))

	ctxA, cancelA := context.WithCancel(context.Background())
	errA := make(chan error, 1)
	go func() {
		_, err := m.GetValidCredential(ctxA, "u1")
		errA <- err
	}()
	require.Eventually(t, func() bool { return refresher.calls.Load() == 1 }, time.Second, time.Millisecond)

	type result struct {
		cred Credential
		err  error
	}
	resB := make(chan result, 1)
	go func() {
		cred, err := m.GetValidCredential(context.Background(), "u1")
		resB <- result{cred, err}
	}()

	cancelA()
	assert.ErrorIs(t, <-errA, context.Canceled)

	close(refresher.release)
	b := <-resB
	require.NoError(t, b.err)
	assert.Equal(t, "new-access", b.cred.AccessToken())
	assert.Equal(t, int32(1), refresher.calls.Load())
	assert.Equal(t, 1, accounts.updates)
}

func TestCredential_TokenIsACopy(t *testing.T) {
	cred := NewCredential(*newAccount(int64p(testNow.Unix())))

	tok := cred.Token()
	tok.AccessToken = "mutated"

	assert.Equal(t, "old-access", cred.AccessToken())
	assert.Equal(t, "old-access", cred.Token().AccessToken)
	assert.Equal(t, "Bearer", cred.Token().TokenType)
	assert.Equal(t, "u1", cred.UserID())

	src, err := cred.TokenSource().Token()
	require.NoError(t, err)
	assert.Equal(t, "old-access", src.AccessToken)
}

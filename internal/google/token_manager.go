package google

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/sync/singleflight"

	"github.com/teemow/callslot/internal/domain"
	"github.com/teemow/callslot/internal/instrumentation"
	"github.com/teemow/callslot/internal/logging"
	"github.com/teemow/callslot/internal/storage"
)

// refreshTimeout bounds a shared refresh, which outlives the request that
// started it.
const refreshTimeout = 30 * time.Second

// Refresher exchanges a refresh token for new tokens.
type Refresher interface {
	Refresh(ctx context.Context, refreshToken string) (domain.TokenSet, error)
}

// AccountStore is the part of storage the TokenManager needs.
type AccountStore interface {
	GetAccount(ctx context.Context, userID, provider string) (domain.Account, error)
	UpdateAccountTokens(ctx context.Context, accountID string, tokens domain.TokenSet) error
}

// TokenManager returns valid credentials for users, refreshing expired ones.
type TokenManager struct {
	accounts  AccountStore
	refresher Refresher
	now       func() time.Time
	logger    *slog.Logger
	metrics   *instrumentation.Metrics
	group     singleflight.Group
}

// TokenManagerOption configures a TokenManager.
type TokenManagerOption func(*TokenManager)

// WithClock overrides time.Now.
func WithClock(now func() time.Time) TokenManagerOption {
	return func(m *TokenManager) { m.now = now }
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) TokenManagerOption {
	return func(m *TokenManager) { m.logger = logger }
}

// WithMetrics sets the metrics recorder.
func WithMetrics(metrics *instrumentation.Metrics) TokenManagerOption {
	return func(m *TokenManager) { m.metrics = metrics }
}

// NewTokenManager creates a TokenManager.
func NewTokenManager(accounts AccountStore, refresher Refresher, opts ...TokenManagerOption) *TokenManager {
	m := &TokenManager{
		accounts:  accounts,
		refresher: refresher,
		now:       time.Now,
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// GetValidCredential returns a usable credential for userID's Google account.
//
// An account without a recorded expiry, or whose expiry has not passed, is
// returned as stored. An expired one is refreshed once, persisted, and the
// refreshed credential returned. Concurrent calls for the same user share
// the refresh.
//
// The shared load runs detached from any single caller's cancellation; a
// caller whose ctx ends stops waiting without failing the others.
//
// Errors: domain.ErrAccountNotFound when no account is connected,
// domain.ErrTokenRefreshFailed when Google rejects the grant, and a
// *domain.ExternalCalendarError when the token endpoint is unreachable or
// failing.
func (m *TokenManager) GetValidCredential(ctx context.Context, userID string) (Credential, error) {
	ch := m.group.DoChan(userID, func() (any, error) {
		loadCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), refreshTimeout)
		defer cancel()
		return m.load(loadCtx, userID)
	})

	select {
	case <-ctx.Done():
		return Credential{}, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return Credential{}, res.Err
		}
		return res.Val.(Credential), nil
	}
}

func (m *TokenManager) load(ctx context.Context, userID string) (Credential, error) {
	acc, err := m.accounts.GetAccount(ctx, userID, domain.ProviderGoogle)
	if errors.Is(err, storage.ErrNotFound) {
		return Credential{}, fmt.Errorf("user %s: %w", userID, domain.ErrAccountNotFound)
	}
	if err != nil {
		return Credential{}, fmt.Errorf("loading account: %w", err)
	}

	if !m.expired(acc) {
		return NewCredential(acc), nil
	}

	logger := logging.WithUser(m.logger, userID)
	logger.Debug("access token expired, refreshing",
		logging.Operation("token.refresh"),
		slog.String("refresh_token", logging.SanitizeToken(acc.RefreshToken)))
	m.metrics.RecordOAuthTokenRefresh(ctx, instrumentation.OAuthResultExpired)

	fresh, err := m.refresher.Refresh(ctx, acc.RefreshToken)
	if err != nil {
		m.metrics.RecordOAuthTokenRefresh(ctx, instrumentation.OAuthResultFailure)
		logger.Warn("token refresh failed", logging.Err(err))
		if grantRevoked(err) {
			return Credential{}, fmt.Errorf("%w: %w", domain.ErrTokenRefreshFailed, err)
		}
		return Credential{}, &domain.ExternalCalendarError{Op: instrumentation.OperationRefresh, Err: err}
	}

	tokens := mergeTokens(acc, fresh)
	if err := m.accounts.UpdateAccountTokens(ctx, acc.ID, tokens); err != nil {
		m.metrics.RecordOAuthTokenRefresh(ctx, instrumentation.OAuthResultFailure)
		return Credential{}, fmt.Errorf("persisting refreshed tokens: %w", err)
	}
	m.metrics.RecordOAuthTokenRefresh(ctx, instrumentation.OAuthResultSuccess)
	logger.Info("access token refreshed", logging.Status(logging.StatusSuccess))

	acc.AccessToken = tokens.AccessToken
	acc.RefreshToken = tokens.RefreshToken
	acc.IDToken = tokens.IDToken
	acc.TokenType = tokens.TokenType
	acc.Scope = tokens.Scope
	acc.ExpiresAt = tokens.ExpiresAt
	return NewCredential(acc), nil
}

// grantRevoked reports whether the token endpoint refused the refresh token
// itself. Only then does the user have to connect the calendar again; outages
// and transport errors are retryable.
func grantRevoked(err error) bool {
	if errors.Is(err, ErrNoRefreshToken) {
		return true
	}
	var rerr *oauth2.RetrieveError
	if !errors.As(err, &rerr) {
		return false
	}
	switch rerr.ErrorCode {
	case "invalid_grant", "unauthorized_client":
		return true
	}
	return false
}

// expired compares in epoch milliseconds. An account without expiry never expires.
func (m *TokenManager) expired(acc domain.Account) bool {
	if acc.ExpiresAt == nil {
		return false
	}
	return *acc.ExpiresAt*1000 < m.now().UnixMilli()
}

// mergeTokens keeps stored values for fields the refresh response omitted.
// Google usually does not return a new refresh token.
func mergeTokens(acc domain.Account, fresh domain.TokenSet) domain.TokenSet {
	if fresh.RefreshToken == "" {
		fresh.RefreshToken = acc.RefreshToken
	}
	if fresh.IDToken == "" {
		fresh.IDToken = acc.IDToken
	}
	if fresh.TokenType == "" {
		fresh.TokenType = acc.TokenType
	}
	if fresh.Scope == "" {
		fresh.Scope = acc.Scope
	}
	return fresh
}

package google

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"

	"github.com/teemow/callslot/internal/domain"
	"github.com/teemow/callslot/internal/instrumentation"
)

// ErrNoRefreshToken is returned when an expired account has no refresh token.
var ErrNoRefreshToken = errors.New("no refresh token available")

// OAuthConfig describes the registered Google OAuth client.
type OAuthConfig struct {
	ClientID     string
	ClientSecret string
	RedirectURL  string
	// Endpoint overrides google.Endpoint, for tests.
	Endpoint *oauth2.Endpoint
}

// NewOAuth2Config returns the oauth2 configuration for the calendar scopes.
func NewOAuth2Config(c OAuthConfig) *oauth2.Config {
	endpoint := google.Endpoint
	if c.Endpoint != nil {
		endpoint = *c.Endpoint
	}
	return &oauth2.Config{
		ClientID:     c.ClientID,
		ClientSecret: c.ClientSecret,
		Endpoint:     endpoint,
		RedirectURL:  c.RedirectURL,
		Scopes:       DefaultOAuthScopes,
	}
}

// Client runs the authorization code flow and token refreshes against Google.
type Client struct {
	config     *oauth2.Config
	httpClient *http.Client
	metrics    *instrumentation.Metrics
}

// NewClient creates a Client. httpClient and metrics may be nil.
func NewClient(config *oauth2.Config, httpClient *http.Client, metrics *instrumentation.Metrics) *Client {
	return &Client{config: config, httpClient: httpClient, metrics: metrics}
}

// AuthURL returns the consent page URL. Offline access and a forced consent
// prompt make Google issue a refresh token on every connect.
func (c *Client) AuthURL(state string) string {
	return c.config.AuthCodeURL(state, oauth2.AccessTypeOffline, oauth2.ApprovalForce)
}

// Exchange trades an authorization code for tokens.
func (c *Client) Exchange(ctx context.Context, code string) (domain.TokenSet, error) {
	ctx, span := instrumentation.StartGoogleAPISpan(ctx, instrumentation.ServiceOAuth, instrumentation.OperationExchange)
	defer span.End()
	start := time.Now()

	tok, err := c.config.Exchange(c.withHTTPClient(ctx), code)
	c.record(ctx, instrumentation.OperationExchange, err, start)
	if err != nil {
		instrumentation.SetSpanError(span, err)
		return domain.TokenSet{}, fmt.Errorf("failed to exchange auth code: %w", err)
	}
	instrumentation.SetSpanSuccess(span)
	return TokenSetFromOAuth2(tok), nil
}

// Refresh obtains a new access token for refreshToken.
func (c *Client) Refresh(ctx context.Context, refreshToken string) (domain.TokenSet, error) {
	if refreshToken == "" {
		return domain.TokenSet{}, ErrNoRefreshToken
	}

	ctx, span := instrumentation.StartGoogleAPISpan(ctx, instrumentation.ServiceOAuth, instrumentation.OperationRefresh)
	defer span.End()
	start := time.Now()

	// An empty access token forces the token source to refresh.
	ts := c.config.TokenSource(c.withHTTPClient(ctx), &oauth2.Token{RefreshToken: refreshToken})
	tok, err := ts.Token()
	c.record(ctx, instrumentation.OperationRefresh, err, start)
	if err != nil {
		instrumentation.SetSpanError(span, err)
		return domain.TokenSet{}, fmt.Errorf("failed to refresh token: %w", err)
	}
	instrumentation.SetSpanSuccess(span)
	return TokenSetFromOAuth2(tok), nil
}

func (c *Client) withHTTPClient(ctx context.Context) context.Context {
	if c.httpClient != nil {
		return context.WithValue(ctx, oauth2.HTTPClient, c.httpClient)
	}
	return ctx
}

func (c *Client) record(ctx context.Context, op string, err error, start time.Time) {
	status := instrumentation.StatusSuccess
	if err != nil {
		status = instrumentation.StatusError
	}
	c.metrics.RecordGoogleAPIOperation(ctx, instrumentation.ServiceOAuth, op, status, time.Since(start))
}

// TokenSetFromOAuth2 converts an oauth2 token response. The expiry is stored
// as whole epoch seconds, rounded down.
func TokenSetFromOAuth2(tok *oauth2.Token) domain.TokenSet {
	set := domain.TokenSet{
		AccessToken:  tok.AccessToken,
		RefreshToken: tok.RefreshToken,
		TokenType:    tok.TokenType,
	}
	if v, ok := tok.Extra("id_token").(string); ok {
		set.IDToken = v
	}
	if v, ok := tok.Extra("scope").(string); ok {
		set.Scope = v
	}
	if !tok.Expiry.IsZero() {
		exp := tok.Expiry.UnixMilli() / 1000
		set.ExpiresAt = &exp
	}
	return set
}

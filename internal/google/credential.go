package google

import (
	"time"

	"golang.org/x/oauth2"

	"github.com/teemow/callslot/internal/domain"
)

// Credential is an immutable access credential for one user's calendar.
// A refresh produces a new Credential; existing values never change.
type Credential struct {
	userID       string
	accessToken  string
	refreshToken string
	tokenType    string
	expiry       time.Time
}

// NewCredential builds a Credential from a stored account.
func NewCredential(acc domain.Account) Credential {
	c := Credential{
		userID:       acc.UserID,
		accessToken:  acc.AccessToken,
		refreshToken: acc.RefreshToken,
		tokenType:    acc.TokenType,
	}
	if acc.ExpiresAt != nil {
		c.expiry = time.Unix(*acc.ExpiresAt, 0)
	}
	return c
}

// UserID returns the owner of the credential.
func (c Credential) UserID() string { return c.userID }

// AccessToken returns the bearer token.
func (c Credential) AccessToken() string { return c.accessToken }

// Expiry returns the access token expiry, zero when it does not expire.
func (c Credential) Expiry() time.Time { return c.expiry }

// Token returns a new oauth2.Token on each call so callers cannot mutate
// the credential.
func (c Credential) Token() *oauth2.Token {
	tokenType := c.tokenType
	if tokenType == "" {
		tokenType = "Bearer"
	}
	return &oauth2.Token{
		AccessToken:  c.accessToken,
		RefreshToken: c.refreshToken,
		TokenType:    tokenType,
		Expiry:       c.expiry,
	}
}

// TokenSource returns a static source for c. It never refreshes; refreshing
// is the TokenManager's job.
func (c Credential) TokenSource() oauth2.TokenSource {
	return oauth2.StaticTokenSource(c.Token())
}

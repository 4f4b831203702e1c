package server

import (
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

const (
	// DefaultSessionCookie is the cookie name used when none is configured.
	DefaultSessionCookie = "callslot_session"

	// MinSessionSecretLength is the shortest accepted HMAC secret.
	MinSessionSecretLength = 32

	sessionIssuer  = "callslot"
	audienceUser   = "session"
	audienceState  = "oauth-state"
	oauthStateTTL  = 10 * time.Minute
	defaultSessTTL = 7 * 24 * time.Hour
)

var (
	// ErrNoSession is returned when the request carries no session cookie.
	ErrNoSession = errors.New("no session")

	// ErrInvalidSession is returned for a session cookie that fails verification.
	ErrInvalidSession = errors.New("invalid session")

	// ErrInvalidState is returned when an OAuth state does not verify or
	// belongs to another user.
	ErrInvalidState = errors.New("invalid oauth state")
)

// SessionConfig configures NewSessionManager.
type SessionConfig struct {
	Secret     string
	TTL        time.Duration
	CookieName string
	Secure     bool
}

// SessionManager issues and verifies HS256 signed session cookies and
// OAuth state values. Both carry the user id as subject.
type SessionManager struct {
	secret     []byte
	ttl        time.Duration
	cookieName string
	secure     bool
	now        func() time.Time
}

// NewSessionManager validates cfg and returns a manager.
func NewSessionManager(cfg SessionConfig) (*SessionManager, error) {
	if len(cfg.Secret) < MinSessionSecretLength {
		return nil, fmt.Errorf("session secret must be at least %d characters", MinSessionSecretLength)
	}
	if cfg.TTL <= 0 {
		cfg.TTL = defaultSessTTL
	}
	if cfg.CookieName == "" {
		cfg.CookieName = DefaultSessionCookie
	}
	return &SessionManager{
		secret:     []byte(cfg.Secret),
		ttl:        cfg.TTL,
		cookieName: cfg.CookieName,
		secure:     cfg.Secure,
		now:        time.Now,
	}, nil
}

// Issue sets a session cookie for userID on w.
func (m *SessionManager) Issue(w http.ResponseWriter, userID string) error {
	token, err := m.sign(userID, audienceUser, m.ttl)
	if err != nil {
		return err
	}
	http.SetCookie(w, &http.Cookie{
		Name:     m.cookieName,
		Value:    token,
		Path:     "/",
		MaxAge:   int(m.ttl.Seconds()),
		HttpOnly: true,
		Secure:   m.secure,
		SameSite: http.SameSiteLaxMode,
	})
	return nil
}

// UserID returns the user of the session cookie on r.
func (m *SessionManager) UserID(r *http.Request) (string, error) {
	cookie, err := r.Cookie(m.cookieName)
	if err != nil || cookie.Value == "" {
		return "", ErrNoSession
	}
	sub, err := m.verify(cookie.Value, audienceUser)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidSession, err)
	}
	return sub, nil
}

// NewState returns a short-lived OAuth state bound to userID.
func (m *SessionManager) NewState(userID string) (string, error) {
	return m.sign(userID, audienceState, oauthStateTTL)
}

// VerifyState checks that state was issued by NewState for userID.
func (m *SessionManager) VerifyState(state, userID string) error {
	sub, err := m.verify(state, audienceState)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidState, err)
	}
	if sub != userID {
		return ErrInvalidState
	}
	return nil
}

// require rejects requests without a valid session with 401 and stores
// the user id in the request context otherwise.
func (m *SessionManager) require(rs responder) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			userID, err := m.UserID(r)
			if err != nil {
				rs.writeError(r.Context(), w, http.StatusUnauthorized, msgUnauthenticated)
				return
			}
			next.ServeHTTP(w, r.WithContext(withUserID(r.Context(), userID)))
		})
	}
}

func (m *SessionManager) sign(subject, audience string, ttl time.Duration) (string, error) {
	now := m.now()
	claims := jwt.RegisteredClaims{
		Issuer:    sessionIssuer,
		Subject:   subject,
		Audience:  jwt.ClaimStrings{audience},
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		ID:        uuid.NewString(),
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(m.secret)
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}
	return signed, nil
}

func (m *SessionManager) verify(token, audience string) (string, error) {
	claims := &jwt.RegisteredClaims{}
	_, err := jwt.ParseWithClaims(token, claims,
		func(*jwt.Token) (any, error) { return m.secret, nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(sessionIssuer),
		jwt.WithAudience(audience),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(m.now),
	)
	if err != nil {
		return "", err
	}
	if claims.Subject == "" {
		return "", errors.New("token has no subject")
	}
	return claims.Subject, nil
}

package users

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/mail"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/teemow/callslot/internal/domain"
	"github.com/teemow/callslot/internal/google"
	"github.com/teemow/callslot/internal/instrumentation"
	"github.com/teemow/callslot/internal/logging"
	"github.com/teemow/callslot/internal/storage"
)

// MinUsernameLength is the shortest username that can be claimed.
const MinUsernameLength = 3

var usernamePattern = regexp.MustCompile(`^[a-z-]+$`)

// Store is the part of storage the Service needs.
type Store interface {
	CreateUser(ctx context.Context, user domain.User) error
	GetUser(ctx context.Context, id string) (domain.User, error)
	UpsertAccount(ctx context.Context, account domain.Account) error
}

// OAuthFlow runs the Google authorization code flow.
type OAuthFlow interface {
	AuthURL(state string) string
	Exchange(ctx context.Context, code string) (domain.TokenSet, error)
}

// Service manages users and their calendar connection.
type Service struct {
	store   Store
	oauth   OAuthFlow
	now     func() time.Time
	newID   func() string
	logger  *slog.Logger
	metrics *instrumentation.Metrics
	audit   *instrumentation.AuditLogger
}

// Option configures a Service.
type Option func(*Service)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) { s.logger = logger }
}

// WithMetrics sets the metrics recorder.
func WithMetrics(metrics *instrumentation.Metrics) Option {
	return func(s *Service) { s.metrics = metrics }
}

// WithAudit sets the audit logger.
func WithAudit(audit *instrumentation.AuditLogger) Option {
	return func(s *Service) { s.audit = audit }
}

// NewService creates a Service.
func NewService(store Store, oauth OAuthFlow, opts ...Option) *Service {
	s := &Service{
		store:  store,
		oauth:  oauth,
		now:    time.Now,
		newID:  uuid.NewString,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// NormalizeUsername lowercases and validates a username.
func NormalizeUsername(username string) (string, error) {
	verr := domain.NewValidationError()
	username = checkUsername(username, verr)
	return username, verr.OrNil()
}

func checkUsername(username string, verr *domain.ValidationError) string {
	username = strings.ToLower(strings.TrimSpace(username))
	switch {
	case len(username) < MinUsernameLength:
		verr.Add("username", fmt.Sprintf("must have at least %d letters", MinUsernameLength))
	case !usernamePattern.MatchString(username):
		verr.Add("username", "only letters and hyphens are allowed")
	}
	return username
}

// Register claims username for a new user.
func (s *Service) Register(ctx context.Context, username, name, email string) (domain.User, error) {
	verr := domain.NewValidationError()
	username = checkUsername(username, verr)

	name = strings.TrimSpace(name)
	if len([]rune(name)) < 3 {
		verr.Add("name", "must have at least 3 characters")
	}
	email = strings.TrimSpace(email)
	if email != "" {
		if addr, perr := mail.ParseAddress(email); perr != nil || addr.Address != email {
			verr.Add("email", "must be a valid email address")
		}
	}
	if err := verr.OrNil(); err != nil {
		return domain.User{}, err
	}

	user := domain.User{
		ID:        s.newID(),
		Username:  username,
		Name:      name,
		Email:     email,
		CreatedAt: s.now().UTC(),
	}
	if err := s.store.CreateUser(ctx, user); err != nil {
		if errors.Is(err, storage.ErrUniqueViolation) {
			return domain.User{}, domain.ErrUsernameTaken
		}
		return domain.User{}, fmt.Errorf("failed to create user: %w", err)
	}

	logging.WithOperation(s.logger, "users.register").Info("username claimed",
		logging.UserID(user.ID), logging.Username(user.Username))
	return user, nil
}

// Get returns a user by id.
func (s *Service) Get(ctx context.Context, userID string) (domain.User, error) {
	user, err := s.store.GetUser(ctx, userID)
	if errors.Is(err, storage.ErrNotFound) {
		return domain.User{}, domain.ErrUserNotFound
	}
	if err != nil {
		return domain.User{}, fmt.Errorf("failed to look up user: %w", err)
	}
	return user, nil
}

// AuthURL returns the Google consent URL carrying state.
func (s *Service) AuthURL(state string) string {
	return s.oauth.AuthURL(state)
}

// CompleteConnect exchanges an authorization code and connects the calendar.
func (s *Service) CompleteConnect(ctx context.Context, userID, code string) error {
	tokens, err := s.oauth.Exchange(ctx, code)
	if err != nil {
		s.metrics.RecordOAuthAuth(ctx, instrumentation.OAuthResultFailure)
		return err
	}
	return s.ConnectCalendar(ctx, userID, tokens)
}

// ConnectCalendar stores the Google account of userID. The grant must
// include calendar access; a user has at most one Google account and
// connecting again replaces it.
func (s *Service) ConnectCalendar(ctx context.Context, userID string, tokens domain.TokenSet) error {
	activity := instrumentation.NewActivity(instrumentation.ActionCalendarConnect).WithOwner(userID, "").WithSpanContext(ctx)

	err := s.connect(ctx, userID, tokens)

	result := instrumentation.OAuthResultSuccess
	if err != nil {
		result = instrumentation.OAuthResultFailure
	}
	s.metrics.RecordOAuthAuth(ctx, result)
	s.audit.Log(activity.Complete(err))

	logger := logging.WithOperation(s.logger, "users.connect_calendar")
	if err != nil {
		logger.Warn("calendar connect failed", logging.UserID(userID), logging.Err(err))
		return err
	}
	logger.Info("calendar connected", logging.UserID(userID))
	return nil
}

func (s *Service) connect(ctx context.Context, userID string, tokens domain.TokenSet) error {
	if !google.HasScope(tokens.Scope, google.CalendarScope) {
		return domain.ErrCalendarScopeMissing
	}

	if _, err := s.Get(ctx, userID); err != nil {
		return err
	}

	account := domain.Account{
		ID:           s.newID(),
		UserID:       userID,
		Provider:     domain.ProviderGoogle,
		AccessToken:  tokens.AccessToken,
		RefreshToken: tokens.RefreshToken,
		IDToken:      tokens.IDToken,
		TokenType:    tokens.TokenType,
		Scope:        tokens.Scope,
		ExpiresAt:    tokens.ExpiresAt,
	}
	if tokens.IDToken != "" {
		sub, err := google.SubjectFromIDToken(tokens.IDToken)
		if err != nil {
			return fmt.Errorf("failed to read google account id: %w", err)
		}
		account.ProviderAccountID = sub
	}

	if err := s.store.UpsertAccount(ctx, account); err != nil {
		return fmt.Errorf("failed to store calendar account: %w", err)
	}
	return nil
}

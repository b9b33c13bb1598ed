package auth

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"strings"
	"unicode/utf8"

	"github.com/samber/oops"
	"go.uber.org/zap"

	"github.com/iliyamo/authgate/internal/metrics"
	"github.com/iliyamo/authgate/internal/model"
	"github.com/iliyamo/authgate/internal/repository"
)

// UserStore is the credential store consumed by Service. Implementations
// return repository.ErrNotFound for missing users and repository.ErrDuplicate
// when Insert violates username or email uniqueness; the uniqueness check
// and the insert must be atomic on the store side.
type UserStore interface {
	FindByUsernameOrEmail(ctx context.Context, username, email string) (*model.User, error)
	FindByEmail(ctx context.Context, email string) (*model.User, error)
	Insert(ctx context.Context, username, email, passwordHash string) (uint64, error)
}

// Event is an audit record emitted after a successful register or login.
type Event struct {
	Type     string
	UserID   uint64
	Username string
	Email    string
}

// Audit event types.
const (
	EventUserRegistered = "user.registered"
	EventUserLoggedIn   = "user.logged_in"
)

// EventPublisher receives audit events. Publishing is best effort: a failed
// publish is logged and never fails the request.
type EventPublisher interface {
	Publish(ctx context.Context, ev Event) error
}

// Service orchestrates registration and login.
type Service struct {
	users  UserStore
	hasher PasswordHasher
	tokens *TokenService
	events EventPublisher
	log    *zap.Logger

	// dummyDigest is verified against when the email is unknown so that
	// both login failure paths spend the same hashing time.
	dummyDigest string
}

// Option customizes a Service.
type Option func(*Service)

// WithLogger sets the service logger.
func WithLogger(l *zap.Logger) Option {
	return func(s *Service) { s.log = l }
}

// WithEvents sets the audit event publisher.
func WithEvents(p EventPublisher) Option {
	return func(s *Service) { s.events = p }
}

// NewService creates a Service. All three collaborators are required.
func NewService(users UserStore, hasher PasswordHasher, tokens *TokenService, opts ...Option) (*Service, error) {
	if users == nil || hasher == nil || tokens == nil {
		return nil, oops.Code("AUTH_SERVICE_INVALID").Errorf("user store, hasher and token service are required")
	}
	s := &Service{users: users, hasher: hasher, tokens: tokens, log: zap.NewNop()}
	for _, opt := range opts {
		opt(s)
	}

	seed := make([]byte, 16)
	if _, err := rand.Read(seed); err != nil {
		return nil, oops.Code("AUTH_SERVICE_INVALID").With("operation", "dummy seed").Wrap(err)
	}
	dummy, err := hasher.Hash(hex.EncodeToString(seed))
	if err != nil {
		return nil, oops.Code("AUTH_SERVICE_INVALID").With("operation", "dummy digest").Wrap(err)
	}
	s.dummyDigest = dummy
	return s, nil
}

// Register creates a new user. It never issues a token; clients log in
// separately.
func (s *Service) Register(ctx context.Context, username, email, password string) error {
	username = strings.TrimSpace(username)
	email = normalizeEmail(email)
	if username == "" || email == "" || strings.TrimSpace(password) == "" {
		metrics.Registrations.WithLabelValues("invalid").Inc()
		return oops.Code("AUTH_VALIDATION").Wrap(ErrValidation)
	}
	if err := checkLengths(username, email, password); err != nil {
		metrics.Registrations.WithLabelValues("invalid").Inc()
		return oops.Code("AUTH_TOO_LONG").Wrap(err)
	}

	existing, err := s.users.FindByUsernameOrEmail(ctx, username, email)
	switch {
	case err == nil && existing != nil:
		metrics.Registrations.WithLabelValues("duplicate").Inc()
		return oops.Code("AUTH_DUPLICATE").With("username", username).Wrap(ErrDuplicate)
	case err != nil && !errors.Is(err, repository.ErrNotFound):
		metrics.Registrations.WithLabelValues("error").Inc()
		return oops.Code("AUTH_STORAGE").With("operation", "find user").Wrap(errors.Join(ErrStorage, err))
	}

	hash, err := s.hasher.Hash(password)
	if errors.Is(err, ErrValidation) || errors.Is(err, ErrTooLong) {
		metrics.Registrations.WithLabelValues("invalid").Inc()
		return oops.Code("AUTH_VALIDATION").Wrap(err)
	}
	if err != nil {
		metrics.Registrations.WithLabelValues("error").Inc()
		return oops.Code("AUTH_STORAGE").With("operation", "hash password").Wrap(errors.Join(ErrStorage, err))
	}

	id, err := s.users.Insert(ctx, username, email, hash)
	if err != nil {
		// A concurrent registration can win between the lookup and the
		// insert; the store's unique constraint turns that into ErrDuplicate.
		if errors.Is(err, repository.ErrDuplicate) {
			metrics.Registrations.WithLabelValues("duplicate").Inc()
			return oops.Code("AUTH_DUPLICATE").With("username", username).Wrap(ErrDuplicate)
		}
		metrics.Registrations.WithLabelValues("error").Inc()
		return oops.Code("AUTH_STORAGE").With("operation", "insert user").Wrap(errors.Join(ErrStorage, err))
	}

	metrics.Registrations.WithLabelValues("ok").Inc()
	s.log.Info("user registered", zap.Uint64("user_id", id))
	s.publish(ctx, Event{Type: EventUserRegistered, UserID: id, Username: username, Email: email})
	return nil
}

// Login verifies email and password and returns a signed access token.
// Unknown emails and wrong passwords both yield ErrInvalidCredentials.
func (s *Service) Login(ctx context.Context, email, password string) (string, error) {
	email = normalizeEmail(email)
	if email == "" || strings.TrimSpace(password) == "" {
		metrics.Logins.WithLabelValues("invalid").Inc()
		return "", oops.Code("AUTH_VALIDATION").Wrap(ErrValidation)
	}

	u, err := s.users.FindByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			s.hasher.Verify(password, s.dummyDigest)
			metrics.Logins.WithLabelValues("rejected").Inc()
			return "", oops.Code("AUTH_INVALID_CREDENTIALS").Wrap(ErrInvalidCredentials)
		}
		metrics.Logins.WithLabelValues("error").Inc()
		return "", oops.Code("AUTH_STORAGE").With("operation", "find user").Wrap(errors.Join(ErrStorage, err))
	}
	if !s.hasher.Verify(password, u.PasswordHash) {
		metrics.Logins.WithLabelValues("rejected").Inc()
		return "", oops.Code("AUTH_INVALID_CREDENTIALS").Wrap(ErrInvalidCredentials)
	}

	id := u.Identity()
	token, err := s.tokens.Issue(id.ID, id.Username)
	if err != nil {
		metrics.Logins.WithLabelValues("error").Inc()
		return "", oops.Code("AUTH_TOKEN_ISSUE_FAILED").With("user_id", u.ID).Wrap(err)
	}

	metrics.Logins.WithLabelValues("ok").Inc()
	s.publish(ctx, Event{Type: EventUserLoggedIn, UserID: u.ID, Username: u.Username, Email: u.Email})
	return token, nil
}

// Validate checks an access token; see TokenService.Validate.
func (s *Service) Validate(token string) (model.Identity, error) {
	return s.tokens.Validate(token)
}

func (s *Service) publish(ctx context.Context, ev Event) {
	if s.events == nil {
		return
	}
	if err := s.events.Publish(ctx, ev); err != nil {
		s.log.Warn("audit event publish failed", zap.String("type", ev.Type), zap.Error(err))
	}
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func checkLengths(username, email, password string) error {
	switch {
	case utf8.RuneCountInString(username) > MaxUsernameLen:
		return &TooLongError{Field: "username", Max: MaxUsernameLen}
	case utf8.RuneCountInString(email) > MaxEmailLen:
		return &TooLongError{Field: "email", Max: MaxEmailLen}
	case len(password) > MaxPasswordBytes:
		return &TooLongError{Field: "password", Max: MaxPasswordBytes}
	}
	return nil
}

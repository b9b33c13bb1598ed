package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/samber/oops"
	"go.uber.org/zap"

	"github.com/iliyamo/authgate/internal/metrics"
	"github.com/iliyamo/authgate/internal/model"
)

// Claims is the JWT payload: the registered iat/iss/exp claims plus the
// user identity under "data".
type Claims struct {
	jwt.RegisteredClaims
	Data model.Identity `json:"data"`
}

// TokenService issues and validates HS256 access tokens. It is configured
// once at startup and only read afterwards, so a single instance is shared
// by all request handlers.
type TokenService struct {
	secret []byte
	issuer string
	ttl    time.Duration
	now    func() time.Time
	log    *zap.Logger
}

// TokenOption customizes a TokenService.
type TokenOption func(*TokenService)

// WithClock replaces time.Now for issuing and validating tokens.
func WithClock(now func() time.Time) TokenOption {
	return func(s *TokenService) { s.now = now }
}

// WithTokenLogger sets the logger used to record rejected tokens.
func WithTokenLogger(l *zap.Logger) TokenOption {
	return func(s *TokenService) { s.log = l }
}

// NewTokenService builds a TokenService signing with secret, stamping tokens
// with issuer and giving them a lifetime of ttl.
func NewTokenService(secret, issuer string, ttl time.Duration, opts ...TokenOption) (*TokenService, error) {
	if secret == "" {
		return nil, errors.New("token secret is empty")
	}
	if issuer == "" {
		return nil, errors.New("token issuer is empty")
	}
	// exp and iat are stored with second precision.
	if ttl < time.Second {
		return nil, fmt.Errorf("token ttl %s must be at least one second", ttl)
	}
	s := &TokenService{
		secret: []byte(secret),
		issuer: issuer,
		ttl:    ttl,
		now:    time.Now,
		log:    zap.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// TTL returns the validity window of issued tokens.
func (s *TokenService) TTL() time.Duration { return s.ttl }

// Issue returns a signed token for the given user.
func (s *TokenService) Issue(userID uint64, username string) (string, error) {
	now := s.now().UTC()
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    s.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.ttl)),
		},
		Data: model.Identity{ID: userID, Username: username},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
	if err != nil {
		return "", oops.Code("TOKEN_SIGN_FAILED").With("user_id", userID).Wrap(err)
	}
	return signed, nil
}

// Validate checks the signature, issuer and expiry of raw and returns the
// identity it carries. Expired tokens yield ErrTokenExpired; anything else
// that fails yields ErrTokenInvalid.
func (s *TokenService) Validate(raw string) (model.Identity, error) {
	claims := &Claims{}
	_, err := jwt.ParseWithClaims(raw, claims,
		func(*jwt.Token) (any, error) { return s.secret, nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(s.issuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(s.now),
	)
	switch {
	case errors.Is(err, jwt.ErrTokenExpired):
		metrics.TokenValidations.WithLabelValues("expired").Inc()
		s.log.Info("token rejected", zap.String("reason", "expired"))
		return model.Identity{}, oops.Code("TOKEN_EXPIRED").Wrap(ErrTokenExpired)
	case err != nil:
		metrics.TokenValidations.WithLabelValues("invalid").Inc()
		s.log.Info("token rejected", zap.String("reason", "invalid"), zap.Error(err))
		return model.Identity{}, oops.Code("TOKEN_INVALID").With("cause", err.Error()).Wrap(ErrTokenInvalid)
	case claims.Data.ID == 0:
		metrics.TokenValidations.WithLabelValues("invalid").Inc()
		s.log.Info("token rejected", zap.String("reason", "invalid"), zap.String("cause", "missing identity"))
		return model.Identity{}, oops.Code("TOKEN_INVALID").With("cause", "missing identity").Wrap(ErrTokenInvalid)
	}
	metrics.TokenValidations.WithLabelValues("ok").Inc()
	return claims.Data, nil
}

// Package middleware holds the echo middleware shared by the routes: the
// bearer guard and request logging.
package middleware

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/iliyamo/authgate/internal/auth"
	"github.com/iliyamo/authgate/internal/model"
)

// TokenValidator checks an access token and returns the identity it carries.
// *auth.TokenService and *auth.Service satisfy it.
type TokenValidator interface {
	Validate(token string) (model.Identity, error)
}

// Authorize extracts the bearer token from r and validates it. A missing
// Authorization header yields auth.ErrMissingCredential; a malformed header
// or a rejected token yields auth.ErrUnauthorized wrapping the cause.
func Authorize(r *http.Request, v TokenValidator) (model.Identity, error) {
	header := strings.TrimSpace(r.Header.Get(echo.HeaderAuthorization))
	if header == "" {
		return model.Identity{}, auth.ErrMissingCredential
	}

	scheme, token, ok := strings.Cut(header, " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return model.Identity{}, fmt.Errorf("%w: expected bearer scheme", auth.ErrUnauthorized)
	}
	token = strings.TrimSpace(token)
	if token == "" {
		return model.Identity{}, fmt.Errorf("%w: empty bearer token", auth.ErrUnauthorized)
	}

	id, err := v.Validate(token)
	if err != nil {
		return model.Identity{}, fmt.Errorf("%w: %w", auth.ErrUnauthorized, err)
	}
	return id, nil
}

// JWTAuth returns an Echo middleware that guards a route with Authorize.
// Handlers behind it read the caller with IdentityFrom.
func JWTAuth(v TokenValidator, log *zap.Logger) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			id, err := Authorize(c.Request(), v)
			if errors.Is(err, auth.ErrMissingCredential) {
				return c.JSON(http.StatusBadRequest, echo.Map{"error": "Authorization header missing"})
			}
			if err != nil {
				log.Debug("request unauthorized",
					zap.String("path", c.Path()),
					zap.Error(err))
				return c.JSON(http.StatusUnauthorized, echo.Map{"error": "Unauthorized"})
			}
			setIdentity(c, id)
			return next(c)
		}
	}
}

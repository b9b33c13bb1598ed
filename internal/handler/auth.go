// Package handler contains the HTTP handlers. Handlers translate domain
// errors into fixed client messages and never echo internal detail.
package handler

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/iliyamo/authgate/internal/auth"
	"github.com/iliyamo/authgate/internal/logger"
	"github.com/iliyamo/authgate/internal/middleware"
)

// requestTimeout bounds the storage work of a single request.
const requestTimeout = 5 * time.Second

// Authenticator is the part of auth.Service the handlers use.
type Authenticator interface {
	Register(ctx context.Context, username, email, password string) error
	Login(ctx context.Context, email, password string) (string, error)
}

// AuthHandler bundles dependencies for auth endpoints.
type AuthHandler struct {
	Auth Authenticator
	Log  *zap.Logger
}

func NewAuthHandler(a Authenticator, log *zap.Logger) *AuthHandler {
	if log == nil {
		log = zap.NewNop()
	}
	return &AuthHandler{Auth: a, Log: log}
}

// ----- DTOs -----

type registerReq struct {
	Username string `json:"username"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

type loginReq struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// Register creates a user. It does not log the user in.
func (h *AuthHandler) Register(c echo.Context) error {
	var req registerReq
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "Missing required fields"})
	}

	ctx, cancel := context.WithTimeout(c.Request().Context(), requestTimeout)
	defer cancel()

	err := h.Auth.Register(ctx, req.Username, req.Email, req.Password)
	var tooLong *auth.TooLongError
	switch {
	case err == nil:
		return c.JSON(http.StatusOK, echo.Map{"success": "User registered successfully"})
	case errors.As(err, &tooLong):
		return c.JSON(http.StatusBadRequest, echo.Map{"error": tooLongMessage(tooLong.Field)})
	case errors.Is(err, auth.ErrValidation):
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "Missing required fields"})
	case errors.Is(err, auth.ErrDuplicate):
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "Username or email already taken"})
	default:
		logger.LogError(h.Log, "registration failed", err)
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "Registration failed"})
	}
}

// Login verifies credentials and returns an access token.
func (h *AuthHandler) Login(c echo.Context) error {
	var req loginReq
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "Missing email or password"})
	}

	ctx, cancel := context.WithTimeout(c.Request().Context(), requestTimeout)
	defer cancel()

	token, err := h.Auth.Login(ctx, req.Email, req.Password)
	switch {
	case err == nil:
		return c.JSON(http.StatusOK, echo.Map{"token": token})
	case errors.Is(err, auth.ErrValidation):
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "Missing email or password"})
	case errors.Is(err, auth.ErrInvalidCredentials):
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "Invalid credentials"})
	default:
		logger.LogError(h.Log, "login failed", err)
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "Login failed"})
	}
}

// Protected is the guarded sample resource. It echoes the caller identity.
func (h *AuthHandler) Protected(c echo.Context) error {
	id, ok := middleware.IdentityFrom(c)
	if !ok {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "Unauthorized"})
	}
	return c.JSON(http.StatusOK, echo.Map{
		"message":  "Protected endpoint!",
		"id":       id.ID,
		"username": id.Username,
	})
}

func tooLongMessage(field string) string {
	switch field {
	case "username":
		return "Username too long"
	case "email":
		return "Email too long"
	case "password":
		return "Password too long"
	}
	return "Field too long"
}

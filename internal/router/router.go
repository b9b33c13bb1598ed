// Package router defines how HTTP routes are registered for the API.
package router

import (
	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/iliyamo/authgate/internal/handler"
	"github.com/iliyamo/authgate/internal/middleware"
)

// RegisterRoutes registers the operational endpoints: liveness, readiness
// and Prometheus metrics.
func RegisterRoutes(e *echo.Echo, checks map[string]handler.Check) {
	e.GET("/healthz", handler.Health)
	e.GET("/readyz", handler.Ready(checks))
	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))
}

// RegisterAuth registers register/login and the guarded sample resource.
// The guard is attached per route: a root group with middleware would also
// catch unmatched paths.
func RegisterAuth(e *echo.Echo, a *handler.AuthHandler, v middleware.TokenValidator, log *zap.Logger) {
	e.POST("/register", a.Register)
	e.POST("/login", a.Login)

	guard := middleware.JWTAuth(v, log)
	e.GET("/protected", a.Protected, guard)
}

// New builds the echo instance with the request logger and all routes.
func New(a *handler.AuthHandler, v middleware.TokenValidator, checks map[string]handler.Check, log *zap.Logger) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Use(middleware.RequestLogger(log))

	RegisterRoutes(e, checks)
	RegisterAuth(e, a, v, log)
	return e
}

package handler

import (
	"context"
	"net/http"
	"sort"
	"time"

	"github.com/labstack/echo/v4"
)

// Health is a liveness check. It returns "ok" while the process serves.
func Health(c echo.Context) error {
	return c.String(http.StatusOK, "ok")
}

// Check reports whether a dependency is reachable.
type Check func(ctx context.Context) error

// Ready returns a readiness handler running every check with a short
// timeout. Any failing check gives 503 and names the dependency.
func Ready(checks map[string]Check) echo.HandlerFunc {
	names := make([]string, 0, len(checks))
	for name := range checks {
		names = append(names, name)
	}
	sort.Strings(names)

	return func(c echo.Context) error {
		ctx, cancel := context.WithTimeout(c.Request().Context(), 2*time.Second)
		defer cancel()

		status := make(map[string]string, len(names))
		code := http.StatusOK
		for _, name := range names {
			if err := checks[name](ctx); err != nil {
				status[name] = "unavailable"
				code = http.StatusServiceUnavailable
				continue
			}
			status[name] = "ok"
		}
		return c.JSON(code, status)
	}
}

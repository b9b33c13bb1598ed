package middleware

import (
	"strconv"
	"time"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/iliyamo/authgate/internal/metrics"
)

// RequestLogger logs one line per request and records the HTTP metrics.
// The route template is used as the path label to keep cardinality bounded.
func RequestLogger(log *zap.Logger) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			err := next(c)
			if err != nil {
				// let echo write the response so the status below is final
				c.Error(err)
			}

			req, res := c.Request(), c.Response()
			path := c.Path()
			if path == "" {
				path = "unmatched"
			}
			elapsed := time.Since(start)
			metrics.HTTPRequests.WithLabelValues(path, req.Method, strconv.Itoa(res.Status)).Inc()
			metrics.HTTPDuration.WithLabelValues(path, req.Method).Observe(elapsed.Seconds())

			log.Info("request",
				zap.String("method", req.Method),
				zap.String("path", req.URL.Path),
				zap.Int("status", res.Status),
				zap.Duration("latency", elapsed),
				zap.String("remote_ip", c.RealIP()),
				zap.String("user_id", userID(c)),
			)
			return nil
		}
	}
}

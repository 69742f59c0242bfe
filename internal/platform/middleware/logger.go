package middleware

import (
	"time"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/meddigitize/meddigitize/internal/platform/auth"
)

// Logger writes one structured line per request. Health probes are logged at
// debug level so they do not drown the request log.
func Logger(logger zerolog.Logger) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			req := c.Request()

			err := next(c)
			if err != nil {
				// Let the error handler write the response now so the status
				// below is the one the client sees.
				c.Error(err)
			}

			rid, _ := c.Get(RequestIDContextKey).(string)
			status := c.Response().Status

			var evt *zerolog.Event
			switch {
			case status >= 500:
				evt = logger.Error().Err(err)
			case status >= 400:
				evt = logger.Warn()
			case isHealthPath(req.URL.Path):
				evt = logger.Debug()
			default:
				evt = logger.Info()
			}

			evt.
				Str("request_id", rid).
				Str("method", req.Method).
				Str("path", req.URL.Path).
				Int("status", status).
				Int64("bytes_out", c.Response().Size).
				Dur("latency", time.Since(start)).
				Str("remote_ip", c.RealIP()).
				Str("user_id", auth.UserIDFromContext(req.Context())).
				Bool("authorization", req.Header.Get("Authorization") != "").
				Msg("request")

			return nil
		}
	}
}

func isHealthPath(path string) bool {
	return path == "/api/health" || path == "/api/db-health"
}

// Package middleware provides Echo middleware for the engine bridge.
package middleware

import (
	"log/slog"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
)

// RequestLogger returns an Echo middleware that logs each bridge request with
// slog. Interception calls are logged at Debug because the gate already logs
// one line per decision; everything else is logged at Info.
func RequestLogger(logger *slog.Logger) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()

			err := next(c)

			req := c.Request()
			res := c.Response()

			level := slog.LevelInfo
			if isInterception(req.URL.Path) {
				level = slog.LevelDebug
			}
			logger.Log(req.Context(), level, "request",
				"method", req.Method,
				"path", req.URL.Path,
				"status", res.Status,
				"duration_ms", time.Since(start).Milliseconds(),
				"request_id", res.Header().Get(echo.HeaderXRequestID),
				"route", res.Header().Get("X-Proxy-Route"),
				"token", res.Header().Get("X-Proxy-Token"),
				"bytes_out", res.Size,
			)

			return err
		}
	}
}

func isInterception(path string) bool {
	return path == "/v1/intercept" || strings.HasPrefix(path, "/v1/sw/")
}

package middleware

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"

	"webview-proxy-go/internal/metrics"
)

// MetricsMiddleware records request counts and latency for the bridge.
// Event streams stay open for the life of a subscriber, so they are counted
// once at upgrade and never timed.
func MetricsMiddleware(m *metrics.Metrics) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			method, path := bridgeLabels(c)
			if c.IsWebSocket() {
				m.RequestsTotal.WithLabelValues(method, strconv.Itoa(http.StatusSwitchingProtocols), path).Inc()
				return next(c)
			}

			m.RequestsInFlight.Inc()
			start := time.Now()
			err := next(c)
			elapsed := time.Since(start)
			m.RequestsInFlight.Dec()

			status := strconv.Itoa(statusCode(c, err))
			m.RequestsTotal.WithLabelValues(method, status, path).Inc()
			m.RequestDuration.WithLabelValues(method, status, path).Observe(elapsed.Seconds())
			return err
		}
	}
}

func bridgeLabels(c echo.Context) (method, path string) {
	r := c.Request()
	return metrics.NormalizeMethod(r.Method), metrics.NormalizePath(r.URL.Path)
}

// statusCode is the code the client will see. An *echo.HTTPError is written
// later by the central error handler, so its code wins over the recorder's.
func statusCode(c echo.Context, err error) int {
	var he *echo.HTTPError
	if errors.As(err, &he) {
		return he.Code
	}
	return c.Response().Status
}

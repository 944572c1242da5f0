package middleware

import (
	"net"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
)

// hopByHopHeaders are headers that should not be forwarded by proxies.
var hopByHopHeaders = []string{
	"Connection",
	"Keep-Alive",
	"Proxy-Authenticate",
	"Proxy-Authorization",
	"TE",
	"Trailer",
	"Transfer-Encoding",
	"Upgrade",
}

// SecurityHeaders returns an Echo middleware that strips hop-by-hop headers
// from requests and adds security headers to bridge responses. Paths under
// any of relayPrefixes carry relayed resource headers and are left untouched
// on the way out. Websocket handshakes keep their Upgrade headers.
func SecurityHeaders(relayPrefixes ...string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if !c.IsWebSocket() {
				for _, h := range hopByHopHeaders {
					c.Request().Header.Del(h)
				}
			}

			path := c.Request().URL.Path
			for _, p := range relayPrefixes {
				if strings.HasPrefix(path, p) {
					return next(c)
				}
			}

			c.Response().Before(func() {
				c.Response().Header().Set("X-Content-Type-Options", "nosniff")
				c.Response().Header().Set("X-Frame-Options", "DENY")
			})
			return next(c)
		}
	}
}

// LoopbackOnly rejects requests that do not come from a loopback address.
func LoopbackOnly() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			host, _, err := net.SplitHostPort(c.Request().RemoteAddr)
			if err != nil {
				host = c.Request().RemoteAddr
			}
			ip := net.ParseIP(host)
			if ip == nil || !ip.IsLoopback() {
				return echo.NewHTTPError(http.StatusForbidden, "bridge accepts loopback clients only")
			}
			return next(c)
		}
	}
}

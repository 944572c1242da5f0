package middleware_test

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"

	"webview-proxy-go/internal/middleware"
)

func TestRateLimiter_Enabled(t *testing.T) {
	e := echo.New()

	// 1 request per second, burst of 1; the second request should be rejected.
	e.Use(middleware.RateLimit(1))
	e.POST("/v1/origins/reset", func(c echo.Context) error {
		return c.String(http.StatusOK, "ok")
	})

	// First request should succeed.
	req := httptest.NewRequest(http.MethodPost, "/v1/origins/reset", http.NoBody)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("first request: status = %d, want %d", rec.Code, http.StatusOK)
	}

	// Subsequent requests should be rate-limited (429).
	got429 := false
	for range 10 {
		req = httptest.NewRequest(http.MethodPost, "/v1/origins/reset", http.NoBody)
		rec = httptest.NewRecorder()
		e.ServeHTTP(rec, req)
		if rec.Code == http.StatusTooManyRequests {
			got429 = true
			break
		}
	}
	if !got429 {
		t.Error("expected at least one 429 response after burst, got none")
	}
}

func TestRateLimiter_SkipsInterception(t *testing.T) {
	e := echo.New()
	e.Use(middleware.RateLimit(1))
	for _, p := range []string{"/v1/intercept", "/v1/sw/intercept", "/v1/page/started"} {
		e.POST(p, func(c echo.Context) error {
			return c.NoContent(http.StatusNoContent)
		})
	}

	for _, p := range []string{"/v1/intercept", "/v1/sw/intercept", "/v1/page/started"} {
		for i := range 10 {
			rec := httptest.NewRecorder()
			e.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, p, http.NoBody))
			if rec.Code != http.StatusNoContent {
				t.Fatalf("%s request %d: status = %d, want %d", p, i, rec.Code, http.StatusNoContent)
			}
		}
	}
}

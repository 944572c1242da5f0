package handler

import (
	"context"
	"log/slog"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"

	"webview-proxy-go/internal/useragent"
)

// Recreator rebuilds the HTTP backend.
type Recreator interface {
	Recreate(ctx context.Context) error
}

// UserAgentInfo is the GET /v1/user-agent response.
type UserAgentInfo struct {
	UserAgent        string            `json:"user_agent"`
	DesktopUserAgent string            `json:"desktop_user_agent"`
	Override         string            `json:"override,omitempty"`
	MajorVersion     string            `json:"major_version"`
	FullVersion      string            `json:"full_version"`
	Platform         string            `json:"platform"`
	Brands           []useragent.Brand `json:"brands"`
	FullVersionList  []useragent.Brand `json:"full_version_list"`
	ReducedBrands    []useragent.Brand `json:"reduced_brands"`
}

type overrideRequest struct {
	UserAgent string `json:"user_agent"`
}

// UserAgentHandler exposes the generated identity and the custom override.
type UserAgentHandler struct {
	provider *useragent.Provider
	backend  Recreator
	logger   *slog.Logger
}

// NewUserAgentHandler creates a UserAgentHandler.
func NewUserAgentHandler(p *useragent.Provider, backend Recreator, logger *slog.Logger) *UserAgentHandler {
	return &UserAgentHandler{
		provider: p,
		backend:  backend,
		logger:   logger.With("component", "user_agent_handler"),
	}
}

// Get handles GET /v1/user-agent.
func (h *UserAgentHandler) Get(c echo.Context) error {
	return c.JSON(http.StatusOK, UserAgentInfo{
		UserAgent:        h.provider.UserAgent(false),
		DesktopUserAgent: h.provider.UserAgent(true),
		Override:         h.provider.Override(),
		MajorVersion:     h.provider.MajorVersion(),
		FullVersion:      h.provider.FullVersion(),
		Platform:         h.provider.Platform(),
		Brands:           h.provider.Brands(true, false),
		FullVersionList:  h.provider.Brands(true, true),
		ReducedBrands:    h.provider.Brands(false, false),
	})
}

// SetOverride handles PUT /v1/user-agent/override.
func (h *UserAgentHandler) SetOverride(c echo.Context) error {
	var body overrideRequest
	if err := c.Bind(&body); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid override request"})
	}
	ua := strings.TrimSpace(body.UserAgent)
	if ua == "" {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "user_agent is required"})
	}
	return h.apply(c, ua)
}

// ClearOverride handles DELETE /v1/user-agent/override.
func (h *UserAgentHandler) ClearOverride(c echo.Context) error {
	return h.apply(c, "")
}

func (h *UserAgentHandler) apply(c echo.Context, ua string) error {
	h.provider.SetOverride(ua)
	if err := h.backend.Recreate(c.Request().Context()); err != nil {
		h.logger.Error("backend recreate after user agent change", "err", err)
		return c.JSON(http.StatusServiceUnavailable, map[string]string{"error": "backend unavailable"})
	}
	return h.Get(c)
}

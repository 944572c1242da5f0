package handler

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"webview-proxy-go/internal/client"
	"webview-proxy-go/internal/config"
	"webview-proxy-go/internal/service"
)

// Version is a string type for dependency injection of the build version.
type Version string

// BackendStatus reports the active backend without building one.
type BackendStatus interface {
	Active() (string, client.Capabilities, bool)
}

// StatusResponse is the GET /proxy/status body.
type StatusResponse struct {
	Status           string               `json:"status"`
	Version          string               `json:"version"`
	ProxyEnabled     bool                 `json:"proxy_enabled"`
	MainDocument     bool                 `json:"proxy_main_document"`
	Backend          string               `json:"backend"`
	Capabilities     *client.Capabilities `json:"capabilities,omitempty"`
	UnhealthyOrigins int                  `json:"unhealthy_origins"`
	UnhealthyTTL     string               `json:"unhealthy_ttl"`
}

// HealthHandler serves health and status endpoints.
type HealthHandler struct {
	cfg     *config.Config
	version Version
	backend BackendStatus
	svc     *service.ProxyService
}

// NewHealthHandler creates a HealthHandler.
func NewHealthHandler(cfg *config.Config, v Version, backend BackendStatus, svc *service.ProxyService) *HealthHandler {
	return &HealthHandler{cfg: cfg, version: v, backend: backend, svc: svc}
}

// Healthz returns a simple OK response for liveness probes.
func (h *HealthHandler) Healthz(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{
		"status": "ok",
	})
}

// Status returns proxy status information.
func (h *HealthHandler) Status(c echo.Context) error {
	resp := StatusResponse{
		Status:           "ok",
		Version:          string(h.version),
		ProxyEnabled:     h.cfg.Proxy.ProxyEnabled(),
		MainDocument:     h.cfg.Proxy.MainDocumentEnabled(),
		Backend:          "none",
		UnhealthyOrigins: h.svc.UnhealthyOrigins(),
		UnhealthyTTL:     h.cfg.Proxy.UnhealthyTTL().String(),
	}
	if name, caps, ok := h.backend.Active(); ok {
		resp.Backend = name
		resp.Capabilities = &caps
	}
	return c.JSON(http.StatusOK, resp)
}

// ResetOrigins handles POST /v1/origins/reset.
func (h *HealthHandler) ResetOrigins(c echo.Context) error {
	h.svc.ResetOrigins()
	return c.NoContent(http.StatusNoContent)
}

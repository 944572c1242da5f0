package handler

import (
	"github.com/labstack/echo/v4"
)

// Handlers groups every route handler for RegisterRoutes.
type Handlers struct {
	Intercept *InterceptHandler
	Page      *PageHandler
	UserAgent *UserAgentHandler
	Events    *EventsHandler
	Health    *HealthHandler
}

// RegisterRoutes wires all route handlers onto the Echo instance.
func RegisterRoutes(e *echo.Echo, h Handlers) {
	e.GET("/healthz", h.Health.Healthz)
	e.GET("/proxy/status", h.Health.Status)

	v1 := e.Group("/v1")
	v1.POST("/intercept", h.Intercept.Intercept)
	v1.POST("/sw/intercept", h.Intercept.InterceptServiceWorker)

	v1.POST("/page/started", h.Page.Started)
	v1.POST("/page/finished", h.Page.Finished)
	v1.POST("/page/error", h.Page.Error)

	v1.GET("/user-agent", h.UserAgent.Get)
	v1.PUT("/user-agent/override", h.UserAgent.SetOverride)
	v1.DELETE("/user-agent/override", h.UserAgent.ClearOverride)

	v1.GET("/events", h.Events.Stream)
	v1.POST("/origins/reset", h.Health.ResetOrigins)
}

package handler

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"webview-proxy-go/internal/engine"
)

// PageEvent is the JSON body of the page lifecycle callbacks.
type PageEvent struct {
	URL         string `json:"url"`
	MainFrame   bool   `json:"main_frame"`
	Description string `json:"description"`
}

// PageHandler bridges navigation lifecycle callbacks.
type PageHandler struct {
	started  engine.PageStartedHandler
	finished engine.PageFinishedHandler
	errors   engine.ErrorHandler
}

// NewPageHandler creates a PageHandler backed by the engine adapter.
func NewPageHandler(a *engine.Adapter) *PageHandler {
	return &PageHandler{started: a, finished: a, errors: a}
}

// Started handles POST /v1/page/started.
func (h *PageHandler) Started(c echo.Context) error {
	ev, err := bindPageEvent(c)
	if err != nil {
		return err
	}
	h.started.PageStarted(ev.URL)
	return c.NoContent(http.StatusNoContent)
}

// Finished handles POST /v1/page/finished.
func (h *PageHandler) Finished(c echo.Context) error {
	ev, err := bindPageEvent(c)
	if err != nil {
		return err
	}
	h.finished.PageFinished(ev.URL)
	return c.NoContent(http.StatusNoContent)
}

// Error handles POST /v1/page/error.
func (h *PageHandler) Error(c echo.Context) error {
	ev, err := bindPageEvent(c)
	if err != nil {
		return err
	}
	h.errors.ReceivedError(ev.URL, ev.MainFrame, ev.Description)
	return c.NoContent(http.StatusNoContent)
}

func bindPageEvent(c echo.Context) (*PageEvent, error) {
	var ev PageEvent
	if err := c.Bind(&ev); err != nil || ev.URL == "" {
		return nil, echo.NewHTTPError(http.StatusBadRequest, "url is required")
	}
	return &ev, nil
}

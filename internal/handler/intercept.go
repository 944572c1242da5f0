package handler

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/labstack/echo/v4"

	"webview-proxy-go/internal/engine"
	"webview-proxy-go/internal/model"
	"webview-proxy-go/internal/service"
)

// Bridge response headers describing the intercepted resource.
const (
	HeaderRoute        = "X-Proxy-Route"
	HeaderReason       = "X-Proxy-Reason"
	HeaderToken        = "X-Proxy-Token"
	HeaderStatus       = "X-Proxy-Status"
	HeaderReasonPhrase = "X-Proxy-Reason-Phrase"
	HeaderMIME         = "X-Proxy-Mime"
	HeaderCharset      = "X-Proxy-Charset"

	bridgeHeaderPrefix = "X-Proxy-"
)

// InterceptRequest is the JSON body of an intercept call. Body is base64.
type InterceptRequest struct {
	URL       string            `json:"url"`
	Method    string            `json:"method"`
	Headers   map[string]string `json:"headers"`
	MainFrame bool              `json:"main_frame"`
	Desktop   bool              `json:"desktop"`
	Body      []byte            `json:"body"`
}

// InterceptHandler bridges the engine's interception callbacks over HTTP.
type InterceptHandler struct {
	adapter *engine.Adapter
	logger  *slog.Logger
}

// NewInterceptHandler creates an InterceptHandler.
func NewInterceptHandler(a *engine.Adapter, logger *slog.Logger) *InterceptHandler {
	return &InterceptHandler{
		adapter: a,
		logger:  logger.With("component", "intercept_handler"),
	}
}

// Intercept handles the main engine's resource-load callback.
func (h *InterceptHandler) Intercept(c echo.Context) error {
	return h.serve(c, h.adapter.InterceptRequest)
}

// InterceptServiceWorker handles service-worker fetches.
func (h *InterceptHandler) InterceptServiceWorker(c echo.Context) error {
	return h.serve(c, h.adapter.InterceptServiceWorkerRequest)
}

func (h *InterceptHandler) serve(c echo.Context, intercept func(context.Context, *engine.Request) service.Result) error {
	var body InterceptRequest
	if err := c.Bind(&body); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid intercept request"})
	}
	if body.URL == "" {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "url is required"})
	}
	if body.Method == "" {
		body.Method = http.MethodGet
	}

	res := intercept(c.Request().Context(), &engine.Request{
		URL:       body.URL,
		Method:    body.Method,
		Header:    model.Fields(body.Headers),
		Body:      body.Body,
		MainFrame: body.MainFrame,
		Desktop:   body.Desktop,
	})

	out := c.Response().Header()
	resp := res.Response
	if resp == nil {
		// The engine loads the resource itself.
		out.Set(HeaderRoute, "bypass")
		out.Set(HeaderReason, res.Decision.Reason)
		out.Set(HeaderToken, res.Decision.Token)
		return c.NoContent(http.StatusNoContent)
	}
	if resp.Body != nil {
		defer func() { _ = resp.Body.Close() }()
	}

	for key, vals := range resp.Header {
		// The X-Proxy- namespace belongs to the bridge.
		if strings.HasPrefix(http.CanonicalHeaderKey(key), bridgeHeaderPrefix) {
			continue
		}
		for _, v := range vals {
			out.Add(key, v)
		}
	}
	out.Set(HeaderRoute, strings.ToLower(res.Decision.Route.String()))
	out.Set(HeaderReason, res.Decision.Reason)
	out.Set(HeaderToken, res.Decision.Token)
	out.Set(HeaderStatus, strconv.Itoa(resp.StatusCode))
	out.Set(HeaderReasonPhrase, resp.Reason)
	out.Set(HeaderMIME, resp.MIMEType)
	out.Set(HeaderCharset, resp.Charset)
	if out.Get(echo.HeaderContentType) == "" {
		out.Set(echo.HeaderContentType, resp.MIMEType+"; charset="+resp.Charset)
	}

	c.Response().WriteHeader(http.StatusOK)

	if resp.Body == nil {
		return nil
	}
	// Headers are already sent, so a mid-stream failure can only truncate
	// the body; the engine sees a short read.
	if _, err := io.Copy(c.Response(), resp.Body); err != nil {
		h.logger.Warn("streaming response body",
			"err", err,
			"kind", model.KindOf(err).String(),
			"url", body.URL,
			"token", res.Decision.Token,
		)
	}
	return nil
}

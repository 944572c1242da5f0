// Package engine is the in-process surface the rendering engine talks to:
// one small interface per engine callback, all served by Adapter.
package engine

import (
	"context"
	"log/slog"

	"webview-proxy-go/internal/events"
	"webview-proxy-go/internal/model"
	"webview-proxy-go/internal/service"
)

// Request is a resource load as reported by the engine.
type Request struct {
	URL       string
	Method    string
	Header    model.Fields
	Body      []byte
	MainFrame bool
	Desktop   bool
}

// RequestInterceptor handles the engine's resource-load callback.
type RequestInterceptor interface {
	InterceptRequest(ctx context.Context, req *Request) service.Result
}

// ServiceWorkerInterceptor handles fetches issued by service workers.
type ServiceWorkerInterceptor interface {
	InterceptServiceWorkerRequest(ctx context.Context, req *Request) service.Result
}

// PageStartedHandler is told when a navigation starts.
type PageStartedHandler interface {
	PageStarted(url string)
}

// PageFinishedHandler is told when a navigation finishes.
type PageFinishedHandler interface {
	PageFinished(url string)
}

// ErrorHandler is told about load errors the engine hit on its own.
type ErrorHandler interface {
	ReceivedError(url string, mainFrame bool, description string)
}

// Adapter implements every engine callback on top of a ProxyService.
type Adapter struct {
	svc    *service.ProxyService
	broker *events.Broker
	logger *slog.Logger
}

var (
	_ RequestInterceptor       = (*Adapter)(nil)
	_ ServiceWorkerInterceptor = (*Adapter)(nil)
	_ PageStartedHandler       = (*Adapter)(nil)
	_ PageFinishedHandler      = (*Adapter)(nil)
	_ ErrorHandler             = (*Adapter)(nil)
)

// NewAdapter creates an Adapter. broker may be nil.
func NewAdapter(svc *service.ProxyService, broker *events.Broker, logger *slog.Logger) *Adapter {
	return &Adapter{svc: svc, broker: broker, logger: logger.With("component", "engine_adapter")}
}

// InterceptRequest implements RequestInterceptor.
func (a *Adapter) InterceptRequest(ctx context.Context, req *Request) service.Result {
	return a.svc.Intercept(ctx, a.interception(req, model.SourceEngine))
}

// InterceptServiceWorkerRequest implements ServiceWorkerInterceptor. Service
// worker fetches are never main-frame loads.
func (a *Adapter) InterceptServiceWorkerRequest(ctx context.Context, req *Request) service.Result {
	in := a.interception(req, model.SourceServiceWorker)
	in.MainFrame = false
	return a.svc.Intercept(ctx, in)
}

func (a *Adapter) interception(req *Request, src model.Source) *service.Interception {
	return &service.Interception{
		URL:       req.URL,
		Method:    req.Method,
		Header:    req.Header,
		Body:      req.Body,
		MainFrame: req.MainFrame,
		Desktop:   req.Desktop,
		Source:    src,
	}
}

// PageStarted implements PageStartedHandler.
func (a *Adapter) PageStarted(url string) {
	a.logger.Debug("page started", "url", url)
	a.publish("started", url)
}

// PageFinished implements PageFinishedHandler.
func (a *Adapter) PageFinished(url string) {
	a.logger.Debug("page finished", "url", url)
	a.publish("finished", url)
}

// ReceivedError implements ErrorHandler. A main-frame error marks the origin
// unhealthy so the reload goes out natively.
func (a *Adapter) ReceivedError(url string, mainFrame bool, description string) {
	a.logger.Info("page error", "url", url, "main_frame", mainFrame, "description", description)
	a.publish("error", url)
	if mainFrame {
		a.svc.ReportFailure(url)
	}
}

func (a *Adapter) publish(phase, url string) {
	if a.broker != nil {
		a.broker.Publish(events.Event{Type: events.TypePage, Phase: phase, URL: url})
	}
}

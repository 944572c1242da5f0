// Package service implements the proxy decision gate and the fetch pipeline
// behind it.
package service

import (
	"context"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"

	"webview-proxy-go/internal/client"
	"webview-proxy-go/internal/config"
	"webview-proxy-go/internal/cookies"
	"webview-proxy-go/internal/events"
	"webview-proxy-go/internal/headers"
	"webview-proxy-go/internal/metrics"
	"webview-proxy-go/internal/model"
	"webview-proxy-go/internal/origin"
	"webview-proxy-go/internal/response"
	"webview-proxy-go/internal/useragent"
)

// mainDocumentPrefetch bounds how much of a main document is read before its
// status is reported, so that a broken body still meets the failure policy.
const mainDocumentPrefetch = 8 << 20

// Decision reasons.
const (
	ReasonOK        = "ok"
	ReasonDisabled  = "disabled"
	ReasonScheme    = "scheme"
	ReasonMethod    = "method"
	ReasonDocument  = "document"
	ReasonUnhealthy = "ttl-bypass"
	ReasonNoBackend = "no-backend"
)

// Backend hands out the active HTTP backend.
type Backend interface {
	Get(ctx context.Context) (client.Executor, error)
}

// Interception is one request reported by the rendering engine.
type Interception struct {
	URL       string
	Method    string
	Header    model.Fields
	Body      []byte
	MainFrame bool
	Desktop   bool
	Source    model.Source
}

// Result is the outcome of an interception. A nil Response tells the engine
// to load the resource natively.
type Result struct {
	Decision model.Decision
	Response *model.ProxyResponse
}

// ProxyService decides whether requests are proxied and performs the proxied
// fetch. It never returns an error to the engine: failures become a native
// fallback or a synthetic error page.
type ProxyService struct {
	backend  Backend
	health   *origin.Health
	rewriter *headers.Rewriter
	hints    *useragent.HintStore
	cookies  cookies.Store
	broker   *events.Broker
	sem      *semaphore.Weighted
	cfg      *config.Config
	logger   *slog.Logger
	metrics  *metrics.Metrics
	newToken func() string
}

// NewProxyService creates a ProxyService. jar, broker and m may be nil.
func NewProxyService(
	backend Backend,
	health *origin.Health,
	ua *useragent.Provider,
	hints *useragent.HintStore,
	jar cookies.Store,
	broker *events.Broker,
	cfg *config.Config,
	logger *slog.Logger,
	m *metrics.Metrics,
) *ProxyService {
	limit := int64(cfg.Transport.MaxConcurrent)
	if limit <= 0 {
		limit = 32
	}
	return &ProxyService{
		backend:  backend,
		health:   health,
		rewriter: headers.NewRewriter(ua, hints),
		hints:    hints,
		cookies:  jar,
		broker:   broker,
		sem:      semaphore.NewWeighted(limit),
		cfg:      cfg,
		logger:   logger.With("component", "proxy_service"),
		metrics:  m,
		newToken: uuid.NewString,
	}
}

// Decide runs the gate for in and emits the decision.
func (s *ProxyService) Decide(in *Interception) model.Decision {
	d := s.decide(in)
	s.emit(in, d)
	return d
}

func (s *ProxyService) decide(in *Interception) model.Decision {
	d := model.Decision{Route: model.RouteBypass, Source: in.Source, Token: s.newToken()}
	switch {
	case !s.cfg.Proxy.ProxyEnabled():
		d.Reason = ReasonDisabled
	case !isHTTP(in.URL):
		d.Reason = ReasonScheme
	case strings.ToUpper(in.Method) != http.MethodGet:
		d.Reason = ReasonMethod
	case in.MainFrame && in.Source == model.SourceEngine && !s.cfg.Proxy.MainDocumentEnabled():
		d.Reason = ReasonDocument
	case s.health.ShouldBypass(in.URL):
		d.Reason = ReasonUnhealthy
	default:
		d.Route = model.RouteProxy
		d.Reason = ReasonOK
	}
	return d
}

func isHTTP(rawURL string) bool {
	u, err := url.Parse(rawURL)
	if err != nil || u.Host == "" {
		return false
	}
	scheme := strings.ToLower(u.Scheme)
	return scheme == "http" || scheme == "https"
}

// emit logs, counts and publishes one decision.
func (s *ProxyService) emit(in *Interception, d model.Decision) {
	level := slog.LevelDebug
	if s.cfg.Proxy.DebugLogging {
		level = slog.LevelInfo
	}
	s.logger.Log(context.Background(), level, d.Source.String()+" "+d.Route.String(),
		"route", d.Route.String(),
		"reason", d.Reason,
		"method", in.Method,
		"url", in.URL,
		"token", d.Token,
	)
	if s.metrics != nil {
		s.metrics.Decisions.WithLabelValues(d.Source.String(), d.Route.String(), d.Reason).Inc()
	}
	if s.broker != nil {
		s.broker.Publish(events.Event{
			Type:   events.TypeDecision,
			Source: d.Source.String(),
			Route:  d.Route.String(),
			Reason: d.Reason,
			Method: in.Method,
			URL:    in.URL,
			Token:  d.Token,
		})
	}
}

// Intercept decides in and, for PROXY, fetches it. The caller owns the
// returned response body.
func (s *ProxyService) Intercept(ctx context.Context, in *Interception) Result {
	d := s.decide(in)

	var exec client.Executor
	if d.Route == model.RouteProxy {
		var err error
		exec, err = s.backend.Get(ctx)
		if err != nil {
			s.logger.Warn("backend failure", "backend", "none", "kind", model.KindOf(err).String(), "err", err)
			d.Route, d.Reason = model.RouteBypass, ReasonNoBackend
		}
	}
	s.emit(in, d)
	if d.Route == model.RouteBypass {
		return Result{Decision: d}
	}

	resp, err := s.fetch(ctx, exec, in)
	if err != nil {
		return s.fail(ctx, exec.Name(), in, d, err)
	}
	return Result{Decision: d, Response: resp}
}

func (s *ProxyService) fetch(ctx context.Context, exec client.Executor, in *Interception) (*model.ProxyResponse, error) {
	if err := s.sem.Acquire(ctx, 1); err != nil {
		return nil, model.NewError(model.KindIO, "acquire transport slot", err)
	}
	defer s.sem.Release(1)

	key, _ := origin.Canonical(in.URL)
	out := s.rewriter.Build(in.Header, in.Method, in.URL, in.Body, headers.Context{
		Origin:             key,
		Desktop:            in.Desktop,
		RichAcceptLanguage: s.cfg.Proxy.RichAcceptLanguage,
		Languages:          s.cfg.UserAgent.Languages,
	})
	req := &model.ProxyRequest{URL: out.URL, Method: out.Method, Header: flatten(out.Header), Body: out.Body}

	resp, err := response.Follow(ctx, exec, req, response.Hooks{
		Before: s.prepareHop,
		After:  s.observeHop,
	})
	if err != nil {
		return nil, err
	}
	resp = response.Normalize(resp, response.Options{SniffMIME: s.cfg.Proxy.SniffMissingMIME})
	if in.MainFrame && in.Source == model.SourceEngine {
		if err := response.Prefetch(resp, mainDocumentPrefetch); err != nil {
			_ = resp.Body.Close()
			return nil, err
		}
	}
	return resp, nil
}

// prepareHop adds the stored cookies and the hints granted to the hop's own
// origin. Redirects to another origin arrive here without either.
func (s *ProxyService) prepareHop(req *model.ProxyRequest) *model.ProxyRequest {
	if key, err := origin.Canonical(req.URL); err == nil {
		if hints := s.rewriter.HighEntropy(key); len(hints) > 0 {
			names := make([]string, 0, len(hints))
			for name := range hints {
				names = append(names, name)
			}
			h := req.Header.Without(names...)
			for name, v := range hints {
				h[name] = v
			}
			req = &model.ProxyRequest{URL: req.URL, Method: req.Method, Header: h, Body: req.Body}
		}
	}
	if s.cookies == nil {
		return req
	}
	return cookies.Attach(s.cookies, req)
}

// observeHop persists cookies and records Accept-CH opt-ins for every hop.
func (s *ProxyService) observeHop(req *model.ProxyRequest, resp *model.ProxyResponse) {
	if s.cookies != nil {
		cookies.Persist(s.cookies, req.URL, resp.Header)
	}
	if s.hints == nil {
		return
	}
	if values, ok := resp.Header["Accept-Ch"]; ok {
		if key, err := origin.Canonical(req.URL); err == nil {
			s.hints.Record(key, strings.Join(values, ", "))
		}
	}
}

// fail applies the call-site failure policy. Sub-resource and service-worker
// fetches fall back to the native loader and leave the origin alone. A failed
// main document marks its origin unhealthy; the first failure in a window
// falls back natively, later ones get a synthetic 500 page.
func (s *ProxyService) fail(ctx context.Context, backend string, in *Interception, d model.Decision, err error) Result {
	kind := model.KindOf(err)
	s.logger.Warn("backend failure",
		"backend", backend,
		"kind", kind.String(),
		"err", err,
		"url", in.URL,
		"token", d.Token,
	)

	if ctx.Err() != nil || !in.MainFrame || in.Source != model.SourceEngine {
		return Result{Decision: d}
	}
	if s.ReportFailure(in.URL) {
		return Result{Decision: d}
	}
	return Result{Decision: d, Response: response.ErrorPage(http.StatusInternalServerError, err)}
}

// ReportFailure marks the origin of rawURL unhealthy and reports whether this
// opened a new unhealthy window.
func (s *ProxyService) ReportFailure(rawURL string) bool {
	key, err := origin.Canonical(rawURL)
	if err != nil {
		return false
	}
	first := s.health.Activate(key)
	s.logger.Info("origin marked unhealthy", "origin", key, "first", first, "ttl", s.health.TTL())
	if s.metrics != nil {
		s.metrics.Activations.WithLabelValues(strconv.FormatBool(first)).Inc()
	}
	if s.broker != nil {
		s.broker.Publish(events.Event{Type: events.TypeActivation, Origin: key, First: first})
	}
	return first
}

// ResetOrigins forgets every unhealthy origin and Accept-CH opt-in.
func (s *ProxyService) ResetOrigins() {
	s.health.Clear()
	if s.hints != nil {
		s.hints.Clear()
	}
	s.logger.Info("origin state cleared")
}

// UnhealthyOrigins returns the number of origins inside an unhealthy window.
func (s *ProxyService) UnhealthyOrigins() int {
	return s.health.Len()
}

// flatten folds a multi-valued header into the single-valued form backends take.
func flatten(h http.Header) model.Fields {
	f := make(model.Fields, len(h))
	for name, values := range h {
		f[name] = strings.Join(values, ", ")
	}
	return f
}

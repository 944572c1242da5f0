// Package client provides the outbound HTTP backends that execute proxied
// requests. Backends do pure transport: they perform one exchange, never
// follow redirects and never retry.
package client

import (
	"bytes"
	"context"
	"crypto/tls"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"webview-proxy-go/internal/codec"
	"webview-proxy-go/internal/config"
	"webview-proxy-go/internal/metrics"
	"webview-proxy-go/internal/model"
)

// Executor performs a single HTTP exchange. The returned body is already
// content-decoded; closing it releases the underlying connection. Cancelling
// ctx aborts the exchange and any in-progress body read.
type Executor interface {
	Name() string
	Capabilities() Capabilities
	Execute(ctx context.Context, req *model.ProxyRequest) (*model.ProxyResponse, error)
	Close() error
}

// Capabilities are resolved once when a backend is built.
type Capabilities struct {
	HTTP2  bool `json:"http2"`
	HTTP3  bool `json:"http3"`
	Brotli bool `json:"brotli"`
	Zstd   bool `json:"zstd"`
}

// Options configure backend construction.
type Options struct {
	Timeout         time.Duration
	IdleConnections int
	ChunkSize       int
	EnableHTTP3     bool
	InitTimeout     time.Duration

	// TLSConfig overrides the default TLS settings; tests use it to trust
	// httptest certificates.
	TLSConfig *tls.Config
}

// OptionsFromConfig derives backend options from the transport section.
func OptionsFromConfig(cfg *config.Config) Options {
	return Options{
		Timeout:         cfg.Transport.Timeout(),
		IdleConnections: cfg.Transport.IdleConnections,
		ChunkSize:       cfg.Transport.ChunkSizeBytes,
		EnableHTTP3:     cfg.Transport.HTTP3Enabled(),
		InitTimeout:     cfg.Transport.InitTimeout(),
	}
}

func (o Options) tlsConfig() *tls.Config {
	if o.TLSConfig != nil {
		return o.TLSConfig.Clone()
	}
	return &tls.Config{MinVersion: tls.VersionTLS12}
}

// hopByHopHeaders are never sent upstream even if the engine supplied them.
var hopByHopHeaders = map[string]bool{
	"connection":          true,
	"keep-alive":          true,
	"proxy-authenticate":  true,
	"proxy-authorization": true,
	"te":                  true,
	"trailer":             true,
	"transfer-encoding":   true,
	"upgrade":             true,
	"content-length":      true,
}

// newHTTPRequest converts a ProxyRequest to an *http.Request bound to ctx.
// Header names keep their spelling.
func newHTTPRequest(ctx context.Context, req *model.ProxyRequest) (*http.Request, error) {
	var body io.Reader
	if req.Body != nil {
		body = bytes.NewReader(req.Body)
	}
	hr, err := http.NewRequestWithContext(ctx, req.Method, req.URL, body)
	if err != nil {
		return nil, model.NewError(model.KindUnsupported, "build request", err)
	}
	for name, value := range req.Header {
		lower := strings.ToLower(name)
		switch {
		case hopByHopHeaders[lower]:
		case lower == "host":
			hr.Host = value
		default:
			hr.Header[name] = []string{value}
		}
	}
	return hr, nil
}

// reasonPhrase extracts the reason from a status line such as "404 Not Found".
// It returns "" when the server sent none.
func reasonPhrase(status string) string {
	_, rest, ok := strings.Cut(status, " ")
	if !ok {
		return ""
	}
	return strings.TrimSpace(rest)
}

// noRedirect hands 3xx responses back to the caller, which owns redirect policy.
func noRedirect(*http.Request, []*http.Request) error {
	return http.ErrUseLastResponse
}

// observe records upstream metrics for one exchange. m may be nil.
func observe(m *metrics.Metrics, backend, method string, start time.Time, resp *http.Response, err error) {
	if m == nil {
		return
	}
	method = metrics.NormalizeMethod(method)
	m.UpstreamDuration.WithLabelValues(backend, method).Observe(time.Since(start).Seconds())
	if err != nil {
		m.UpstreamFailures.WithLabelValues(backend, model.KindOf(err).String()).Inc()
		return
	}
	m.UpstreamResponses.WithLabelValues(backend, method, strconv.Itoa(resp.StatusCode)).Inc()
}

// toProxyResponse wraps a transport response, decoding its body.
func toProxyResponse(resp *http.Response, req *model.ProxyRequest, chunkSize int) (*model.ProxyResponse, error) {
	body, err := codec.Decode(resp.Header, resp.Body, chunkSize)
	if err != nil {
		return nil, err
	}
	finalURL := req.URL
	if resp.Request != nil && resp.Request.URL != nil {
		finalURL = resp.Request.URL.String()
	}
	return &model.ProxyResponse{
		StatusCode: resp.StatusCode,
		Reason:     reasonPhrase(resp.Status),
		Header:     resp.Header,
		Body:       body,
		URL:        finalURL,
		Protocol:   resp.Proto,
	}, nil
}

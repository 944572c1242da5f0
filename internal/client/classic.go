package client

import (
	"context"
	"crypto/tls"
	"log/slog"
	"net/http"
	"time"

	"github.com/hashicorp/go-cleanhttp"

	"webview-proxy-go/internal/metrics"
	"webview-proxy-go/internal/model"
)

// ClassicName identifies the HTTP/1.1 backend.
const ClassicName = "classic"

// ClassicClient is the always-available HTTP/1.1 backend built on the
// standard transport.
type ClassicClient struct {
	httpClient *http.Client
	transport  *http.Transport
	chunkSize  int
	logger     *slog.Logger
	metrics    *metrics.Metrics
}

// NewClassicClient creates a ClassicClient with connection pooling and timeouts.
// The metrics parameter is optional; pass nil to disable upstream metrics recording.
func NewClassicClient(opts Options, logger *slog.Logger, m *metrics.Metrics) *ClassicClient {
	transport := cleanhttp.DefaultPooledTransport()
	transport.MaxIdleConnsPerHost = opts.IdleConnections
	transport.ResponseHeaderTimeout = opts.Timeout
	transport.TLSClientConfig = opts.tlsConfig()
	// Content decoding is done by codec so every encoding is handled the same way.
	transport.DisableCompression = true
	// Pin HTTP/1.1 so this backend stays distinct from the multiplexed one.
	transport.ForceAttemptHTTP2 = false
	transport.TLSNextProto = map[string]func(string, *tls.Conn) http.RoundTripper{}

	return &ClassicClient{
		httpClient: &http.Client{
			Transport:     transport,
			CheckRedirect: noRedirect,
		},
		transport: transport,
		chunkSize: opts.ChunkSize,
		logger:    logger.With("component", "classic_client"),
		metrics:   m,
	}
}

// Name implements Executor.
func (c *ClassicClient) Name() string { return ClassicName }

// Capabilities implements Executor.
func (c *ClassicClient) Capabilities() Capabilities {
	return Capabilities{Brotli: true, Zstd: true}
}

// Execute performs one HTTP/1.1 exchange. The caller must close the body.
func (c *ClassicClient) Execute(ctx context.Context, req *model.ProxyRequest) (*model.ProxyResponse, error) {
	hr, err := newHTTPRequest(ctx, req)
	if err != nil {
		return nil, err
	}

	c.logger.Debug("upstream request", "method", req.Method, "url", req.URL)

	start := time.Now()
	resp, err := c.httpClient.Do(hr) //nolint:bodyclose // body ownership transfers to caller via ProxyResponse
	observe(c.metrics, ClassicName, req.Method, start, resp, err)
	if err != nil {
		return nil, model.NewError(model.KindIO, "classic exchange", err)
	}
	return toProxyResponse(resp, req, c.chunkSize)
}

// Close releases idle connections.
func (c *ClassicClient) Close() error {
	c.transport.CloseIdleConnections()
	return nil
}

package client

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/hashicorp/go-cleanhttp"
	"github.com/quic-go/quic-go/http3"
	"golang.org/x/net/http2"

	"webview-proxy-go/internal/metrics"
	"webview-proxy-go/internal/model"
)

// MultiplexedName identifies the HTTP/2 (and HTTP/3) backend.
const MultiplexedName = "multiplexed"

// brokenHTTP3TTL is how long a host stays on HTTP/2 after a QUIC failure.
const brokenHTTP3TTL = 5 * time.Minute

// MultiplexedClient negotiates HTTP/2 over TLS and upgrades to HTTP/3 for
// hosts that advertise h3 through Alt-Svc.
type MultiplexedClient struct {
	h2        *http.Client
	transport *http.Transport
	h3        *http3.Transport
	h3Client  *http.Client
	chunkSize int
	logger    *slog.Logger
	metrics   *metrics.Metrics

	mu     sync.Mutex
	altSvc map[string]time.Time // authority -> h3 advertisement expiry
	broken map[string]time.Time // authority -> h3 disabled until
	now    func() time.Time
}

// NewMultiplexedClient builds the HTTP/2 transport and, when enabled, an
// HTTP/3 transport.
func NewMultiplexedClient(opts Options, logger *slog.Logger, m *metrics.Metrics) (*MultiplexedClient, error) {
	transport := cleanhttp.DefaultPooledTransport()
	transport.MaxIdleConnsPerHost = opts.IdleConnections
	transport.ResponseHeaderTimeout = opts.Timeout
	transport.TLSClientConfig = opts.tlsConfig()
	transport.DisableCompression = true

	h2t, err := http2.ConfigureTransports(transport)
	if err != nil {
		return nil, fmt.Errorf("configure http2: %w", err)
	}
	h2t.ReadIdleTimeout = 30 * time.Second
	h2t.PingTimeout = 15 * time.Second

	c := &MultiplexedClient{
		h2: &http.Client{
			Transport:     transport,
			CheckRedirect: noRedirect,
		},
		transport: transport,
		chunkSize: opts.ChunkSize,
		logger:    logger.With("component", "multiplexed_client"),
		metrics:   m,
		altSvc:    make(map[string]time.Time),
		broken:    make(map[string]time.Time),
		now:       time.Now,
	}

	if opts.EnableHTTP3 {
		c.h3 = &http3.Transport{TLSClientConfig: opts.tlsConfig()}
		c.h3Client = &http.Client{
			Transport:     c.h3,
			CheckRedirect: noRedirect,
		}
	}
	return c, nil
}

// Name implements Executor.
func (c *MultiplexedClient) Name() string { return MultiplexedName }

// Capabilities implements Executor.
func (c *MultiplexedClient) Capabilities() Capabilities {
	return Capabilities{HTTP2: true, HTTP3: c.h3 != nil, Brotli: true, Zstd: true}
}

// Execute performs one exchange over HTTP/3 when the host advertised it,
// otherwise over HTTP/2 (or HTTP/1.1 if the server does not speak h2).
// A failed HTTP/3 attempt is repeated once over HTTP/2 before any response
// was seen, and the host is kept off HTTP/3 for a while.
func (c *MultiplexedClient) Execute(ctx context.Context, req *model.ProxyRequest) (*model.ProxyResponse, error) {
	u, err := url.Parse(req.URL)
	if err != nil {
		return nil, model.NewError(model.KindUnsupported, "parse url", err)
	}
	authority := authorityOf(u)

	c.logger.Debug("upstream request", "method", req.Method, "url", req.URL)

	start := time.Now()
	var resp *http.Response
	if c.useHTTP3(u.Scheme, authority) {
		resp, err = c.do(ctx, c.h3Client, req)
		if err != nil && ctx.Err() == nil {
			c.logger.Warn("http3 exchange failed; falling back to http2", "authority", authority, "err", err)
			c.markBroken(authority)
			resp, err = c.do(ctx, c.h2, req)
		}
	} else {
		resp, err = c.do(ctx, c.h2, req)
	}
	observe(c.metrics, MultiplexedName, req.Method, start, resp, err)
	if err != nil {
		return nil, model.NewError(model.KindIO, "multiplexed exchange", err)
	}

	if c.h3 != nil && u.Scheme == "https" {
		c.recordAltSvc(authority, u.Port(), resp.Header.Values("Alt-Svc"))
	}
	return toProxyResponse(resp, req, c.chunkSize)
}

// do builds a fresh request per attempt so the body can be replayed.
func (c *MultiplexedClient) do(ctx context.Context, hc *http.Client, req *model.ProxyRequest) (*http.Response, error) {
	hr, err := newHTTPRequest(ctx, req)
	if err != nil {
		return nil, err
	}
	return hc.Do(hr) //nolint:bodyclose // body ownership transfers to caller via ProxyResponse
}

func (c *MultiplexedClient) useHTTP3(scheme, authority string) bool {
	if c.h3 == nil || scheme != "https" {
		return false
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.now()
	if until, ok := c.broken[authority]; ok {
		if now.Before(until) {
			return false
		}
		delete(c.broken, authority)
	}
	exp, ok := c.altSvc[authority]
	if !ok {
		return false
	}
	if !now.Before(exp) {
		delete(c.altSvc, authority)
		return false
	}
	return true
}

func (c *MultiplexedClient) markBroken(authority string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.broken[authority] = c.now().Add(brokenHTTP3TTL)
	delete(c.altSvc, authority)
}

func (c *MultiplexedClient) recordAltSvc(authority, port string, values []string) {
	if len(values) == 0 {
		return
	}
	if port == "" {
		port = "443"
	}
	maxAge, cleared, ok := parseAltSvc(values, port)
	c.mu.Lock()
	defer c.mu.Unlock()
	switch {
	case cleared:
		delete(c.altSvc, authority)
	case ok:
		c.altSvc[authority] = c.now().Add(maxAge)
	}
}

// Close shuts down both transports.
func (c *MultiplexedClient) Close() error {
	c.transport.CloseIdleConnections()
	if c.h3 != nil {
		return c.h3.Close()
	}
	return nil
}

func authorityOf(u *url.URL) string {
	host := strings.ToLower(u.Hostname())
	port := u.Port()
	if port == "" {
		if u.Scheme == "http" {
			port = "80"
		} else {
			port = "443"
		}
	}
	return net.JoinHostPort(host, port)
}

// defaultAltSvcMaxAge is the RFC 7838 default for "ma".
const defaultAltSvcMaxAge = 24 * time.Hour

// parseAltSvc looks for an h3 alternative on the same port. It reports
// cleared=true for "Alt-Svc: clear". Alternatives pointing to another host or
// port are ignored.
func parseAltSvc(values []string, port string) (maxAge time.Duration, cleared, ok bool) {
	for _, value := range values {
		if strings.TrimSpace(value) == "clear" {
			return 0, true, false
		}
		for _, alt := range strings.Split(value, ",") {
			params := strings.Split(alt, ";")
			proto, authority, found := strings.Cut(strings.TrimSpace(params[0]), "=")
			if !found || proto != "h3" {
				continue
			}
			authority = strings.Trim(authority, `"`)
			altHost, altPort, err := net.SplitHostPort(authority)
			if err != nil || altHost != "" || altPort != port {
				continue
			}
			age := defaultAltSvcMaxAge
			for _, p := range params[1:] {
				k, v, _ := strings.Cut(strings.TrimSpace(p), "=")
				if k != "ma" {
					continue
				}
				if secs, err := strconv.Atoi(strings.Trim(v, `"`)); err == nil {
					age = time.Duration(secs) * time.Second
				}
			}
			if age <= 0 {
				continue
			}
			return age, false, true
		}
	}
	return 0, false, false
}

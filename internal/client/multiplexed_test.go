package client

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"webview-proxy-go/internal/model"
)

func newH2Server(t *testing.T, h http.HandlerFunc) (*httptest.Server, Options) {
	t.Helper()
	srv := httptest.NewUnstartedServer(h)
	srv.EnableHTTP2 = true
	srv.StartTLS()
	t.Cleanup(srv.Close)

	pool := x509.NewCertPool()
	pool.AddCert(srv.Certificate())
	opts := testOptions()
	opts.TLSConfig = &tls.Config{RootCAs: pool, MinVersion: tls.VersionTLS12}
	return srv, opts
}

func TestMultiplexedClient_ExecuteOverHTTP2(t *testing.T) {
	srv, opts := newH2Server(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		_, _ = w.Write([]byte(r.Proto))
	})

	c, err := NewMultiplexedClient(opts, testLogger(), nil)
	require.NoError(t, err)
	defer func() { _ = c.Close() }()

	resp, err := c.Execute(context.Background(), model.NewProxyRequest(srv.URL+"/x", "GET", nil, nil))
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, "HTTP/2.0", string(body))
	assert.Equal(t, "HTTP/2.0", resp.Protocol)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestMultiplexedClient_StreamsLargeBody(t *testing.T) {
	payload := make([]byte, 200*1024)
	for i := range payload {
		payload[i] = byte('a' + i%26)
	}
	compressed := gzipBytes(t, string(payload))
	srv, opts := newH2Server(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Encoding", "gzip")
		_, _ = w.Write(compressed)
	})

	c, err := NewMultiplexedClient(opts, testLogger(), nil)
	require.NoError(t, err)
	defer func() { _ = c.Close() }()

	resp, err := c.Execute(context.Background(), model.NewProxyRequest(srv.URL, "GET", nil, nil))
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()

	got, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, payload, got)
	assert.Empty(t, resp.Header.Get("Content-Encoding"))
}

func TestMultiplexedClient_DoesNotFollowRedirects(t *testing.T) {
	srv, opts := newH2Server(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Location", "/next")
		w.WriteHeader(http.StatusTemporaryRedirect)
	})

	c, err := NewMultiplexedClient(opts, testLogger(), nil)
	require.NoError(t, err)
	defer func() { _ = c.Close() }()

	resp, err := c.Execute(context.Background(), model.NewProxyRequest(srv.URL, "POST", nil, []byte("x")))
	require.NoError(t, err)
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusTemporaryRedirect, resp.StatusCode)
	assert.Equal(t, "/next", resp.Header.Get("Location"))
}

func TestMultiplexedClient_Error(t *testing.T) {
	c, err := NewMultiplexedClient(testOptions(), testLogger(), nil)
	require.NoError(t, err)

	_, err = c.Execute(context.Background(), model.NewProxyRequest("https://127.0.0.1:1/", "GET", nil, nil))
	require.Error(t, err)
	assert.Equal(t, model.KindIO, model.KindOf(err))
}

func TestMultiplexedClient_Capabilities(t *testing.T) {
	opts := testOptions()
	c, err := NewMultiplexedClient(opts, testLogger(), nil)
	require.NoError(t, err)
	assert.Equal(t, Capabilities{HTTP2: true, Brotli: true, Zstd: true}, c.Capabilities())

	opts.EnableHTTP3 = true
	c3, err := NewMultiplexedClient(opts, testLogger(), nil)
	require.NoError(t, err)
	defer func() { _ = c3.Close() }()
	assert.True(t, c3.Capabilities().HTTP3)
}

func TestMultiplexedClient_AltSvcRouting(t *testing.T) {
	opts := testOptions()
	opts.EnableHTTP3 = true
	c, err := NewMultiplexedClient(opts, testLogger(), nil)
	require.NoError(t, err)
	defer func() { _ = c.Close() }()

	now := time.Unix(1_000_000, 0)
	c.now = func() time.Time { return now }
	const authority = "example.com:443"

	assert.False(t, c.useHTTP3("https", authority), "no advertisement yet")

	c.recordAltSvc(authority, "", []string{`h3=":443"; ma=60`})
	assert.True(t, c.useHTTP3("https", authority))
	assert.False(t, c.useHTTP3("http", authority), "plain http never uses h3")

	now = now.Add(61 * time.Second)
	assert.False(t, c.useHTTP3("https", authority), "advertisement expired")

	c.recordAltSvc(authority, "", []string{`h3=":443"`})
	c.markBroken(authority)
	assert.False(t, c.useHTTP3("https", authority), "broken host stays on h2")

	now = now.Add(brokenHTTP3TTL)
	c.recordAltSvc(authority, "", []string{`h3=":443"`})
	assert.True(t, c.useHTTP3("https", authority), "cooldown elapsed")

	c.recordAltSvc(authority, "", []string{"clear"})
	assert.False(t, c.useHTTP3("https", authority))
}

type roundTripFunc func(*http.Request) (*http.Response, error)

func (f roundTripFunc) RoundTrip(r *http.Request) (*http.Response, error) { return f(r) }

func TestMultiplexedClient_HTTP3FailureRetriesOverHTTP2(t *testing.T) {
	var h2Hits atomic.Int32
	srv, opts := newH2Server(t, func(w http.ResponseWriter, r *http.Request) {
		h2Hits.Add(1)
		body, _ := io.ReadAll(r.Body)
		_, _ = w.Write([]byte(r.Proto + " " + string(body)))
	})
	opts.EnableHTTP3 = true
	c, err := NewMultiplexedClient(opts, testLogger(), nil)
	require.NoError(t, err)
	defer func() { _ = c.Close() }()

	var h3Hits atomic.Int32
	c.h3Client = &http.Client{Transport: roundTripFunc(func(r *http.Request) (*http.Response, error) {
		h3Hits.Add(1)
		_, _ = io.ReadAll(r.Body)
		return nil, errors.New("quic: handshake timeout")
	})}

	u, err := url.Parse(srv.URL)
	require.NoError(t, err)
	authority := authorityOf(u)
	c.recordAltSvc(authority, u.Port(), []string{`h3=":` + u.Port() + `"`})
	require.True(t, c.useHTTP3("https", authority))

	req := model.NewProxyRequest(srv.URL, http.MethodPost, nil, []byte("payload"))
	resp, err := c.Execute(context.Background(), req)
	require.NoError(t, err)
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	require.NoError(t, resp.Body.Close())

	assert.Equal(t, "HTTP/2.0 payload", string(body), "body replayed on the retry")
	assert.Equal(t, int32(1), h3Hits.Load())
	assert.Equal(t, int32(1), h2Hits.Load())

	c.mu.Lock()
	_, broken := c.broken[authority]
	_, advertised := c.altSvc[authority]
	c.mu.Unlock()
	assert.True(t, broken, "host marked broken")
	assert.False(t, advertised, "advertisement dropped")

	// The next exchange goes straight to HTTP/2.
	resp, err = c.Execute(context.Background(), model.NewProxyRequest(srv.URL, http.MethodGet, nil, nil))
	require.NoError(t, err)
	require.NoError(t, resp.Body.Close())
	assert.Equal(t, int32(1), h3Hits.Load())
	assert.Equal(t, int32(2), h2Hits.Load())
}

func TestMultiplexedClient_CanceledHTTP3DoesNotRetry(t *testing.T) {
	var h2Hits atomic.Int32
	srv, opts := newH2Server(t, func(w http.ResponseWriter, r *http.Request) {
		h2Hits.Add(1)
	})
	opts.EnableHTTP3 = true
	c, err := NewMultiplexedClient(opts, testLogger(), nil)
	require.NoError(t, err)
	defer func() { _ = c.Close() }()

	ctx, cancel := context.WithCancel(context.Background())
	c.h3Client = &http.Client{Transport: roundTripFunc(func(*http.Request) (*http.Response, error) {
		cancel()
		return nil, context.Canceled
	})}

	u, err := url.Parse(srv.URL)
	require.NoError(t, err)
	authority := authorityOf(u)
	c.recordAltSvc(authority, u.Port(), []string{`h3=":` + u.Port() + `"`})

	_, err = c.Execute(ctx, model.NewProxyRequest(srv.URL, http.MethodGet, nil, nil))
	require.Error(t, err)
	assert.Equal(t, int32(0), h2Hits.Load())
	assert.True(t, c.useHTTP3("https", authority), "cancellation does not mark the host broken")
}

func TestParseAltSvc(t *testing.T) {
	tests := []struct {
		name    string
		values  []string
		port    string
		wantAge time.Duration
		clear   bool
		ok      bool
	}{
		{"same port", []string{`h3=":443"; ma=86400`}, "443", 24 * time.Hour, false, true},
		{"default max age", []string{`h3=":443"`}, "443", defaultAltSvcMaxAge, false, true},
		{"other port", []string{`h3=":8443"`}, "443", 0, false, false},
		{"other host", []string{`h3="alt.example.com:443"`}, "443", 0, false, false},
		{"draft only", []string{`h3-29=":443"`}, "443", 0, false, false},
		{"second entry", []string{`h2=":443", h3=":443"; ma=10`}, "443", 10 * time.Second, false, true},
		{"clear", []string{"clear"}, "443", 0, true, false},
		{"zero max age", []string{`h3=":443"; ma=0`}, "443", 0, false, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			age, cleared, ok := parseAltSvc(tt.values, tt.port)
			assert.Equal(t, tt.wantAge, age)
			assert.Equal(t, tt.clear, cleared)
			assert.Equal(t, tt.ok, ok)
		})
	}
}

func TestAuthorityOf(t *testing.T) {
	req := model.NewProxyRequest("https://Example.COM/a", "GET", nil, nil)
	hr, err := newHTTPRequest(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, "example.com:443", authorityOf(hr.URL))

	req = model.NewProxyRequest("http://example.com:8080/a", "GET", nil, nil)
	hr, err = newHTTPRequest(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, "example.com:8080", authorityOf(hr.URL))
}

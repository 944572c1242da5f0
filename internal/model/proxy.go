// Package model defines shared types for the proxy.
package model

import (
	"bytes"
	"io"
	"net/http"
	"sort"
	"strings"

	"github.com/cespare/xxhash/v2"
)

// Fields is a single-valued header mapping as observed by the rendering engine.
// Names keep the case the engine used; lookups ignore it. Repeated headers must
// be flattened by the caller before they land here.
type Fields map[string]string

// Lookup returns the value stored under name, compared case-insensitively.
func (f Fields) Lookup(name string) (string, bool) {
	if v, ok := f[name]; ok {
		return v, true
	}
	for k, v := range f {
		if strings.EqualFold(k, name) {
			return v, true
		}
	}
	return "", false
}

// Get returns the value stored under name or "".
func (f Fields) Get(name string) string {
	v, _ := f.Lookup(name)
	return v
}

// Clone returns a copy of f. A nil mapping clones to an empty one.
func (f Fields) Clone() Fields {
	dst := make(Fields, len(f))
	for k, v := range f {
		dst[k] = v
	}
	return dst
}

// Without returns a copy of f with every name in names removed.
func (f Fields) Without(names ...string) Fields {
	dst := make(Fields, len(f))
	for k, v := range f {
		drop := false
		for _, n := range names {
			if strings.EqualFold(k, n) {
				drop = true
				break
			}
		}
		if !drop {
			dst[k] = v
		}
	}
	return dst
}

// ProxyRequest is an intercepted request. It is built once per interception
// and never mutated afterwards; redirect hops produce new values.
type ProxyRequest struct {
	URL    string
	Method string
	Header Fields
	Body   []byte // nil means no body; a non-nil empty slice is an explicit empty body
}

// NewProxyRequest returns a ProxyRequest owning private copies of header and body.
func NewProxyRequest(rawURL, method string, header Fields, body []byte) *ProxyRequest {
	var b []byte
	if body != nil {
		b = append(make([]byte, 0, len(body)), body...)
	}
	return &ProxyRequest{
		URL:    rawURL,
		Method: strings.ToUpper(method),
		Header: header.Clone(),
		Body:   b,
	}
}

// HasBody reports whether the request carries a body object, even an empty one.
func (r *ProxyRequest) HasBody() bool {
	return r.Body != nil
}

// Equal compares two requests by value, including body bytes.
func (r *ProxyRequest) Equal(o *ProxyRequest) bool {
	if r == nil || o == nil {
		return r == o
	}
	if r.URL != o.URL || r.Method != o.Method || len(r.Header) != len(o.Header) {
		return false
	}
	if (r.Body == nil) != (o.Body == nil) || !bytes.Equal(r.Body, o.Body) {
		return false
	}
	for k, v := range r.Header {
		if ov, ok := o.Header.Lookup(k); !ok || ov != v {
			return false
		}
	}
	return true
}

// Hash returns a content hash consistent with Equal.
func (r *ProxyRequest) Hash() uint64 {
	d := xxhash.New()
	_, _ = d.WriteString(r.Method)
	_, _ = d.WriteString("\x00")
	_, _ = d.WriteString(r.URL)
	_, _ = d.WriteString("\x00")

	keys := make([]string, 0, len(r.Header))
	lower := make(map[string]string, len(r.Header))
	for k, v := range r.Header {
		lk := strings.ToLower(k)
		keys = append(keys, lk)
		lower[lk] = v
	}
	sort.Strings(keys)
	for _, k := range keys {
		_, _ = d.WriteString(k)
		_, _ = d.WriteString(":")
		_, _ = d.WriteString(lower[k])
		_, _ = d.WriteString("\n")
	}
	if r.Body != nil {
		_, _ = d.WriteString("\x01")
		_, _ = d.Write(r.Body)
	}
	return d.Sum64()
}

// ProxyResponse is a normalized upstream response. Ownership of Body passes to
// the consumer; closing it also releases the transport connection.
type ProxyResponse struct {
	StatusCode int
	Reason     string
	Header     http.Header
	Body       io.ReadCloser

	// URL is the final URL after redirects.
	URL      string
	Protocol string
	MIMEType string
	Charset  string
}

// Source identifies which engine hook produced a request.
type Source int

const (
	SourceEngine Source = iota
	SourceServiceWorker
)

func (s Source) String() string {
	if s == SourceServiceWorker {
		return "sw"
	}
	return "proxy"
}

// Route is the outcome of the decision gate.
type Route int

const (
	RouteProxy Route = iota
	RouteBypass
)

func (r Route) String() string {
	if r == RouteBypass {
		return "BYPASS"
	}
	return "PROXY"
}

// Decision is the transient result of deciding one request. It is never persisted.
type Decision struct {
	Route  Route
	Reason string
	Token  string
	Source Source
}

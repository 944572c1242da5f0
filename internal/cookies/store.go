// Package cookies bridges proxied requests to the shared cookie store.
package cookies

import (
	"fmt"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strings"

	"golang.org/x/net/publicsuffix"

	"webview-proxy-go/internal/model"
)

// Store is the host cookie store as seen by the proxy.
type Store interface {
	// Cookies returns the Cookie header value for rawURL, or "".
	Cookies(rawURL string) string
	// SetCookies persists raw Set-Cookie header values received from rawURL.
	SetCookies(rawURL string, setCookie []string)
}

// Jar is an in-memory Store with public-suffix aware domain matching.
type Jar struct {
	jar *cookiejar.Jar
}

// NewJar creates an empty Jar.
func NewJar() (*Jar, error) {
	j, err := cookiejar.New(&cookiejar.Options{PublicSuffixList: publicsuffix.List})
	if err != nil {
		return nil, fmt.Errorf("create cookie jar: %w", err)
	}
	return &Jar{jar: j}, nil
}

// Cookies implements Store.
func (j *Jar) Cookies(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	cs := j.jar.Cookies(u)
	parts := make([]string, 0, len(cs))
	for _, c := range cs {
		parts = append(parts, c.Name+"="+c.Value)
	}
	return strings.Join(parts, "; ")
}

// SetCookies implements Store. Malformed lines are skipped.
func (j *Jar) SetCookies(rawURL string, setCookie []string) {
	if len(setCookie) == 0 {
		return
	}
	u, err := url.Parse(rawURL)
	if err != nil {
		return
	}
	cs := make([]*http.Cookie, 0, len(setCookie))
	for _, line := range setCookie {
		c, err := http.ParseSetCookie(line)
		if err != nil {
			continue
		}
		cs = append(cs, c)
	}
	j.jar.SetCookies(u, cs)
}

// Attach returns a copy of req carrying the store's cookies for its URL. The
// request is returned unchanged when the store has none.
func Attach(s Store, req *model.ProxyRequest) *model.ProxyRequest {
	v := s.Cookies(req.URL)
	if v == "" {
		return req
	}
	h := req.Header.Without("Cookie")
	h["Cookie"] = v
	return &model.ProxyRequest{URL: req.URL, Method: req.Method, Header: h, Body: req.Body}
}

// Persist saves every Set-Cookie header of header against rawURL.
func Persist(s Store, rawURL string, header http.Header) {
	if lines := header.Values("Set-Cookie"); len(lines) > 0 {
		s.SetCookies(rawURL, lines)
	}
}

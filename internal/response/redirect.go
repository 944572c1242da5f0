// Package response turns raw backend responses into what the engine receives:
// it chases redirects under a fixed policy, filters headers, fills in the
// reason phrase and splits Content-Type into MIME type and charset.
package response

import (
	"context"
	"io"
	"net/http"
	"net/url"

	"webview-proxy-go/internal/model"
	"webview-proxy-go/internal/origin"
	"webview-proxy-go/internal/useragent"
)

// MaxRedirects is the number of redirects followed before giving up.
const MaxRedirects = 10

// drainLimit bounds how much of a redirect body is read to keep the
// connection reusable.
const drainLimit = 64 << 10

// Executor performs a single exchange without following redirects.
type Executor interface {
	Execute(ctx context.Context, req *model.ProxyRequest) (*model.ProxyResponse, error)
}

// Hooks run around every hop, redirects included.
type Hooks struct {
	// Before may return a decorated copy of the hop request (e.g. with cookies).
	Before func(req *model.ProxyRequest) *model.ProxyRequest
	// After observes every hop response before it is consumed.
	After func(req *model.ProxyRequest, resp *model.ProxyResponse)
}

// IsRedirect reports whether status is one of the redirects handled here.
func IsRedirect(status int) bool {
	switch status {
	case http.StatusMovedPermanently, http.StatusFound, http.StatusSeeOther,
		http.StatusTemporaryRedirect, http.StatusPermanentRedirect:
		return true
	}
	return false
}

// originBoundHeaders only ever go to the origin they were issued for.
var originBoundHeaders = append([]string{
	"Cookie", "Authorization", "Proxy-Authorization", "Host",
}, useragent.HighEntropyHints...)

// NextHop builds the request for the hop after a redirect from req.
//
// 303 always becomes a bodiless GET. 301 and 302 become a bodiless GET unless
// the method is already GET or HEAD. 307 and 308 keep method and body. When
// the body is dropped, Content-Length and Content-Type are removed as well.
// A hop to another origin loses credentials, Host and the high-entropy
// client hints granted to the previous origin.
func NextHop(req *model.ProxyRequest, status int, location string) (*model.ProxyRequest, error) {
	if location == "" {
		return nil, model.NewError(model.KindRedirectPolicy, "redirect", model.ErrRedirectWithoutLocation)
	}
	base, err := url.Parse(req.URL)
	if err != nil {
		return nil, model.NewError(model.KindRedirectPolicy, "redirect", err)
	}
	ref, err := url.Parse(location)
	if err != nil {
		return nil, model.NewError(model.KindRedirectPolicy, "redirect", err)
	}
	target := base.ResolveReference(ref).String()

	header := req.Header
	if !sameOrigin(req.URL, target) {
		header = header.Without(originBoundHeaders...)
	}

	rewrite := false
	switch status {
	case http.StatusSeeOther:
		rewrite = true
	case http.StatusMovedPermanently, http.StatusFound:
		rewrite = req.Method != http.MethodGet && req.Method != http.MethodHead
	}
	if !rewrite {
		return model.NewProxyRequest(target, req.Method, header, req.Body), nil
	}
	return model.NewProxyRequest(target, http.MethodGet,
		header.Without("Content-Length", "Content-Type"), nil), nil
}

func sameOrigin(a, b string) bool {
	ka, err := origin.Canonical(a)
	if err != nil {
		return false
	}
	kb, err := origin.Canonical(b)
	return err == nil && ka == kb
}

// Follow executes req and chases redirects sequentially. Intermediate
// redirect bodies are drained and closed. The final response carries the URL
// it was fetched from.
func Follow(ctx context.Context, exec Executor, req *model.ProxyRequest, hooks Hooks) (*model.ProxyResponse, error) {
	for redirects := 0; ; redirects++ {
		hop := req
		if hooks.Before != nil {
			hop = hooks.Before(req)
		}
		resp, err := exec.Execute(ctx, hop)
		if err != nil {
			return nil, err
		}
		if hooks.After != nil {
			hooks.After(hop, resp)
		}
		if !IsRedirect(resp.StatusCode) {
			resp.URL = req.URL
			return resp, nil
		}

		location := resp.Header.Get("Location")
		discard(resp.Body)
		if redirects >= MaxRedirects {
			return nil, model.NewError(model.KindRedirectPolicy, "redirect", model.ErrTooManyRedirects)
		}
		next, err := NextHop(req, resp.StatusCode, location)
		if err != nil {
			return nil, err
		}
		req = next
	}
}

func discard(body io.ReadCloser) {
	if body == nil {
		return
	}
	_, _ = io.Copy(io.Discard, io.LimitReader(body, drainLimit))
	_ = body.Close()
}

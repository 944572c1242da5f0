// Package headers builds the request headers that go on the wire so the
// traffic matches stock Chrome for Android.
package headers

import (
	"net/http"
	"strings"

	"webview-proxy-go/internal/codec"
	"webview-proxy-go/internal/model"
	"webview-proxy-go/internal/useragent"
)

// NavigationAccept is Chrome's Accept value for document navigations.
const NavigationAccept = "text/html,application/xhtml+xml,application/xml;q=0.9,image/avif,image/webp,image/apng,*/*;q=0.8,application/signed-exchange;v=b3;q=0.7"

// HintPolicy answers whether an origin opted in to a high-entropy hint.
type HintPolicy interface {
	Allowed(origin, hint string) bool
}

// Context carries per-request inputs that are not part of the header set.
type Context struct {
	Origin             string // canonical origin of the request URL
	Desktop            bool
	RichAcceptLanguage bool
	Languages          []string
}

// Outgoing is the request as it should be sent.
type Outgoing struct {
	Method string
	URL    string
	Header http.Header
	Body   []byte // nil means send no body
}

// Rewriter applies the Chrome-parity rewrite rules.
type Rewriter struct {
	ua    *useragent.Provider
	hints HintPolicy
}

// NewRewriter returns a Rewriter. hints may be nil, in which case no
// high-entropy hints are ever sent.
func NewRewriter(ua *useragent.Provider, hints HintPolicy) *Rewriter {
	return &Rewriter{ua: ua, hints: hints}
}

// Build produces the outgoing header set and body for one request.
func (r *Rewriter) Build(in model.Fields, method, rawURL string, body []byte, ctx Context) *Outgoing {
	method = strings.ToUpper(method)
	out := make(http.Header, len(in)+8)

	var accept, acceptEncoding, acceptLanguage string
	var hasAcceptEncoding bool
	for name, value := range in {
		switch lower := strings.ToLower(name); {
		case lower == "x-requested-with":
			// never forwarded
		case lower == "user-agent":
		case strings.HasPrefix(lower, "sec-ch-ua"):
		case lower == "accept":
			accept = value
		case lower == "accept-encoding":
			acceptEncoding, hasAcceptEncoding = value, true
		case lower == "accept-language":
			acceptLanguage = value
		default:
			// Keep the engine's spelling of the name.
			out[name] = []string{value}
		}
	}

	out.Set("User-Agent", r.ua.UserAgent(ctx.Desktop))
	r.setClientHints(out, ctx)

	if strings.Contains(strings.ToLower(accept), "text/html") {
		accept = NavigationAccept
	}
	if accept != "" {
		out.Set("Accept", accept)
	}

	if !hasAcceptEncoding || strings.TrimSpace(acceptEncoding) == "" {
		acceptEncoding = codec.AcceptEncoding
	}
	out.Set("Accept-Encoding", acceptEncoding)

	if lang := AcceptLanguage(acceptLanguage, ctx.Languages, ctx.RichAcceptLanguage); lang != "" {
		out.Set("Accept-Language", lang)
	}

	return &Outgoing{
		Method: method,
		URL:    rawURL,
		Header: out,
		Body:   RequestBody(method, body),
	}
}

func (r *Rewriter) setClientHints(out http.Header, ctx Context) {
	out.Set("Sec-CH-UA", useragent.FormatBrands(r.ua.Brands(true, false)))
	if ctx.Desktop {
		out.Set("Sec-CH-UA-Mobile", "?0")
	} else {
		out.Set("Sec-CH-UA-Mobile", "?1")
	}
	out.Set("Sec-CH-UA-Platform", `"`+r.ua.Platform()+`"`)

	for name, v := range r.HighEntropy(ctx.Origin) {
		out.Set(name, v)
	}
}

// HighEntropy returns the high-entropy hints origin has opted in to, keyed
// by canonical header name.
func (r *Rewriter) HighEntropy(origin string) map[string]string {
	if r.hints == nil || origin == "" {
		return nil
	}
	var out map[string]string
	for _, hint := range useragent.HighEntropyHints {
		if !r.hints.Allowed(origin, hint) {
			continue
		}
		v := r.ua.HighEntropyValue(hint)
		if v == "" || v == `""` {
			continue
		}
		if out == nil {
			out = make(map[string]string)
		}
		out[http.CanonicalHeaderKey(hint)] = v
	}
	return out
}

// RequestBody returns the body to send for method. GET and HEAD never carry
// one; POST, PUT, PATCH and DELETE always carry one, empty if none was given;
// other methods send none.
func RequestBody(method string, body []byte) []byte {
	switch strings.ToUpper(method) {
	case http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete:
		if body == nil {
			return []byte{}
		}
		return body
	default:
		return nil
	}
}

package response

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"mime"
	"net/http"
	"strings"

	"github.com/gabriel-vasile/mimetype"

	"webview-proxy-go/internal/model"
)

// Defaults used when Content-Type is absent or has no charset.
const (
	DefaultMIMEType = "application/octet-stream"
	DefaultCharset  = "UTF-8"
)

// sniffLen matches mimetype's default read limit.
const sniffLen = 3072

// strippedHeaders are removed from every response handed to the engine.
var strippedHeaders = []string{
	"Connection",
	"Keep-Alive",
	"Proxy-Authenticate",
	"Proxy-Authorization",
	"Te",
	"Trailer",
	"Trailers",
	"Transfer-Encoding",
	"Upgrade",
	"Content-Encoding",
	"Content-Length",
}

// Options control Normalize.
type Options struct {
	// SniffMIME detects the MIME type from the body when Content-Type is absent.
	SniffMIME bool
}

// Normalize filters resp's headers, synthesizes a missing reason phrase and
// fills MIMEType and Charset. resp is modified in place and returned.
func Normalize(resp *model.ProxyResponse, opts Options) *model.ProxyResponse {
	if resp.Header == nil {
		resp.Header = make(http.Header)
	}
	FilterHeaders(resp.Header)

	if resp.Reason == "" {
		resp.Reason = Reason(resp.StatusCode)
	}

	contentType := resp.Header.Get("Content-Type")
	if contentType == "" && opts.SniffMIME && resp.Body != nil {
		contentType = sniff(resp)
	}
	resp.MIMEType, resp.Charset = ParseContentType(contentType)
	return resp
}

// FilterHeaders removes hop-by-hop and content-coding headers in place,
// including any listed in Connection.
func FilterHeaders(h http.Header) {
	for _, v := range h.Values("Connection") {
		for _, name := range strings.Split(v, ",") {
			if name = strings.TrimSpace(name); name != "" {
				h.Del(name)
			}
		}
	}
	for _, name := range strippedHeaders {
		h.Del(name)
	}
}

// sniff peeks at the body and replaces it with a reader that replays the peeked bytes.
func sniff(resp *model.ProxyResponse) string {
	br := bufio.NewReaderSize(resp.Body, sniffLen)
	head, _ := br.Peek(sniffLen)
	resp.Body = readCloser{Reader: br, Closer: resp.Body}
	if len(head) == 0 {
		return ""
	}
	return mimetype.Detect(head).String()
}

// Prefetch reads up to limit bytes of the body into memory so that transfer
// and decode errors within them surface before anything is committed to the
// caller. The rest of the body streams after the buffered prefix.
func Prefetch(resp *model.ProxyResponse, limit int64) error {
	if resp.Body == nil || limit <= 0 {
		return nil
	}
	var buf bytes.Buffer
	if _, err := io.Copy(&buf, io.LimitReader(resp.Body, limit)); err != nil {
		return err
	}
	resp.Body = readCloser{Reader: io.MultiReader(&buf, resp.Body), Closer: resp.Body}
	return nil
}

type readCloser struct {
	io.Reader
	io.Closer
}

// ParseContentType splits a Content-Type value into a lower-cased MIME type
// and a charset, applying defaults for missing parts.
func ParseContentType(v string) (mimeType, charset string) {
	mimeType, charset = DefaultMIMEType, DefaultCharset
	v = strings.TrimSpace(v)
	if v == "" {
		return mimeType, charset
	}

	mt, params, err := mime.ParseMediaType(v)
	if err != nil {
		// Malformed parameters: keep what precedes them.
		mt, _, _ = strings.Cut(v, ";")
		mt = strings.ToLower(strings.TrimSpace(mt))
		params = nil
	}
	if mt != "" {
		mimeType = mt
	}
	if cs := strings.Trim(params["charset"], `"' `); cs != "" {
		charset = cs
	}
	return mimeType, charset
}

// classReasons back Reason for codes the status table does not name.
var classReasons = map[int]string{
	1: "Informational",
	2: "OK",
	3: "Redirection",
	4: "Client Error",
	5: "Server Error",
}

// Reason returns the standard phrase for code, or a phrase for its class when
// the code is not registered.
func Reason(code int) string {
	if text := http.StatusText(code); text != "" {
		return text
	}
	if r, ok := classReasons[code/100]; ok {
		return r
	}
	return "Unknown"
}

// ErrorPage returns a minimal HTML response for a failed main-document fetch.
func ErrorPage(status int, cause error) *model.ProxyResponse {
	msg := "The page could not be loaded."
	if cause != nil {
		msg = fmt.Sprintf("The page could not be loaded (%s).", model.KindOf(cause))
	}
	body := "<!DOCTYPE html><html><head><meta charset=\"utf-8\"><title>" + Reason(status) +
		"</title></head><body><h1>" + Reason(status) + "</h1><p>" + msg + "</p></body></html>"
	h := make(http.Header)
	h.Set("Content-Type", "text/html; charset=utf-8")
	h.Set("Cache-Control", "no-store")
	return &model.ProxyResponse{
		StatusCode: status,
		Reason:     Reason(status),
		Header:     h,
		Body:       io.NopCloser(strings.NewReader(body)),
		MIMEType:   "text/html",
		Charset:    DefaultCharset,
	}
}

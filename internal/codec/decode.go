// Package codec decodes compressed response bodies.
package codec

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/andybalholm/brotli"
	"github.com/klauspost/compress/flate"
	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zlib"
	"github.com/klauspost/compress/zstd"

	"webview-proxy-go/internal/model"
)

// AcceptEncoding is the encoding list Chrome advertises and this package decodes.
const AcceptEncoding = "gzip, deflate, br, zstd"

var (
	gzipMagic = []byte{0x1f, 0x8b}
	zstdMagic = []byte{0x28, 0xb5, 0x2f, 0xfd}
)

// Sniff guesses an encoding from the leading bytes of a body. It only
// recognises the self-identifying formats (gzip, zstd).
func Sniff(head []byte) string {
	switch {
	case bytes.HasPrefix(head, zstdMagic):
		return "zstd"
	case bytes.HasPrefix(head, gzipMagic):
		return "gzip"
	default:
		return ""
	}
}

// Decode wraps body with a decoder chosen from the Content-Encoding header,
// or from the body's magic bytes when the header is absent. The returned
// reader closes body when closed. Content-Encoding and Content-Length are
// removed from header because they no longer describe the stream.
// bufSize sizes the read buffer used for sniffing; zero picks the default.
func Decode(header http.Header, body io.ReadCloser, bufSize int) (io.ReadCloser, error) {
	if bufSize <= 0 {
		bufSize = 32 << 10
	}
	br := bufio.NewReaderSize(body, bufSize)

	encodings := parseEncodings(header.Get("Content-Encoding"))
	if len(encodings) == 0 {
		head, _ := br.Peek(len(zstdMagic))
		if enc := Sniff(head); enc != "" {
			encodings = []string{enc}
		}
	}
	header.Del("Content-Encoding")
	header.Del("Content-Length")

	// HEAD replies and 204/304s may advertise an encoding without a body.
	if _, err := br.Peek(1); err != nil {
		encodings = nil
	}

	var r io.Reader = br
	closers := []io.Closer{body}
	// Encodings are listed in application order, so undo them back to front.
	for i := len(encodings) - 1; i >= 0; i-- {
		dec, closer, err := newDecoder(encodings[i], r)
		if err != nil {
			_ = body.Close()
			return nil, model.NewError(model.KindDecode, encodings[i], err)
		}
		if closer != nil {
			closers = append([]io.Closer{closer}, closers...)
		}
		r = dec
	}

	return &decodedBody{r: r, closers: closers, decoding: len(encodings) > 0}, nil
}

func parseEncodings(v string) []string {
	var out []string
	for _, part := range strings.Split(v, ",") {
		enc := strings.ToLower(strings.TrimSpace(part))
		if enc == "" || enc == "identity" {
			continue
		}
		out = append(out, enc)
	}
	return out
}

func newDecoder(encoding string, r io.Reader) (io.Reader, io.Closer, error) {
	switch encoding {
	case "gzip", "x-gzip":
		zr, err := gzip.NewReader(r)
		if err != nil {
			return nil, nil, err
		}
		return zr, zr, nil
	case "deflate":
		return newDeflate(r)
	case "br":
		return brotli.NewReader(r), nil, nil
	case "zstd":
		zr, err := zstd.NewReader(r, zstd.WithDecoderConcurrency(1))
		if err != nil {
			return nil, nil, err
		}
		return zr, closerFunc(zr.Close), nil
	default:
		return nil, nil, fmt.Errorf("unsupported content-encoding %q", encoding)
	}
}

// newDeflate accepts both zlib-wrapped and raw deflate streams; servers send
// either under the same token.
func newDeflate(r io.Reader) (io.Reader, io.Closer, error) {
	br, ok := r.(*bufio.Reader)
	if !ok {
		br = bufio.NewReader(r)
	}
	head, _ := br.Peek(2)
	if len(head) == 2 && head[0]&0x0f == 8 && (uint16(head[0])<<8|uint16(head[1]))%31 == 0 {
		zr, err := zlib.NewReader(br)
		if err != nil {
			return nil, nil, err
		}
		return zr, zr, nil
	}
	fr := flate.NewReader(br)
	return fr, fr, nil
}

type closerFunc func()

func (f closerFunc) Close() error {
	f()
	return nil
}

type decodedBody struct {
	r        io.Reader
	closers  []io.Closer
	decoding bool
}

func (d *decodedBody) Read(p []byte) (int, error) {
	n, err := d.r.Read(p)
	if err == nil || errors.Is(err, io.EOF) {
		return n, err
	}
	if !d.decoding || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return n, model.NewError(model.KindIO, "read body", err)
	}
	return n, model.NewError(model.KindDecode, "read body", err)
}

func (d *decodedBody) Close() error {
	var errs []error
	for _, c := range d.closers {
		if err := c.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

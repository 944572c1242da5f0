package codec

import (
	"bytes"
	"errors"
	"io"
	"net/http"
	"strings"
	"testing"

	"github.com/andybalholm/brotli"
	"github.com/klauspost/compress/flate"
	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zlib"
	"github.com/klauspost/compress/zstd"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"webview-proxy-go/internal/model"
)

const plain = "<html><body>hello, decoded world</body></html>"

func gzipBytes(t *testing.T, in []byte) []byte {
	t.Helper()
	var buf bytes.Buffer
	w := gzip.NewWriter(&buf)
	_, err := w.Write(in)
	require.NoError(t, err)
	require.NoError(t, w.Close())
	return buf.Bytes()
}

func zstdBytes(t *testing.T, in []byte) []byte {
	t.Helper()
	enc, err := zstd.NewWriter(nil)
	require.NoError(t, err)
	defer enc.Close()
	return enc.EncodeAll(in, nil)
}

func brotliBytes(t *testing.T, in []byte) []byte {
	t.Helper()
	var buf bytes.Buffer
	w := brotli.NewWriter(&buf)
	_, err := w.Write(in)
	require.NoError(t, err)
	require.NoError(t, w.Close())
	return buf.Bytes()
}

func zlibBytes(t *testing.T, in []byte) []byte {
	t.Helper()
	var buf bytes.Buffer
	w := zlib.NewWriter(&buf)
	_, err := w.Write(in)
	require.NoError(t, err)
	require.NoError(t, w.Close())
	return buf.Bytes()
}

func rawDeflateBytes(t *testing.T, in []byte) []byte {
	t.Helper()
	var buf bytes.Buffer
	w, err := flate.NewWriter(&buf, flate.DefaultCompression)
	require.NoError(t, err)
	_, err = w.Write(in)
	require.NoError(t, err)
	require.NoError(t, w.Close())
	return buf.Bytes()
}

type trackingBody struct {
	io.Reader
	closed bool
}

func (b *trackingBody) Close() error {
	b.closed = true
	return nil
}

func decodeAll(t *testing.T, header http.Header, data []byte) (string, *trackingBody) {
	t.Helper()
	body := &trackingBody{Reader: bytes.NewReader(data)}
	rc, err := Decode(header, body, 0)
	require.NoError(t, err)
	out, err := io.ReadAll(rc)
	require.NoError(t, err)
	require.NoError(t, rc.Close())
	return string(out), body
}

func TestDecodeByHeader(t *testing.T) {
	tests := []struct {
		name     string
		encoding string
		data     []byte
	}{
		{"gzip", "gzip", gzipBytes(t, []byte(plain))},
		{"zstd", "zstd", zstdBytes(t, []byte(plain))},
		{"brotli", "br", brotliBytes(t, []byte(plain))},
		{"deflate zlib", "deflate", zlibBytes(t, []byte(plain))},
		{"deflate raw", "deflate", rawDeflateBytes(t, []byte(plain))},
		{"identity", "identity", []byte(plain)},
		{"upper case token", "GZIP", gzipBytes(t, []byte(plain))},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := http.Header{
				"Content-Encoding": {tt.encoding},
				"Content-Length":   {"123"},
				"Content-Type":     {"text/html"},
			}
			got, body := decodeAll(t, h, tt.data)
			assert.Equal(t, plain, got)
			assert.True(t, body.closed, "closing the decoder must close the transport body")
			assert.Empty(t, h.Values("Content-Encoding"))
			assert.Empty(t, h.Values("Content-Length"))
			assert.Equal(t, "text/html", h.Get("Content-Type"))
		})
	}
}

func TestDecodeSniffsMagicBytes(t *testing.T) {
	got, _ := decodeAll(t, http.Header{}, gzipBytes(t, []byte(plain)))
	assert.Equal(t, plain, got)

	got, _ = decodeAll(t, http.Header{}, zstdBytes(t, []byte(plain)))
	assert.Equal(t, plain, got)

	got, _ = decodeAll(t, http.Header{}, []byte(plain))
	assert.Equal(t, plain, got)
}

func TestDecodeStackedEncodings(t *testing.T) {
	data := brotliBytes(t, gzipBytes(t, []byte(plain)))
	got, _ := decodeAll(t, http.Header{"Content-Encoding": {"gzip, br"}}, data)
	assert.Equal(t, plain, got)
}

func TestDecodeEmptyBodyWithEncoding(t *testing.T) {
	got, _ := decodeAll(t, http.Header{"Content-Encoding": {"gzip"}}, nil)
	assert.Empty(t, got)
}

func TestDecodeCorruptBody(t *testing.T) {
	body := &trackingBody{Reader: strings.NewReader("definitely not gzip")}
	_, err := Decode(http.Header{"Content-Encoding": {"gzip"}}, body, 0)
	require.Error(t, err)
	assert.Equal(t, model.KindDecode, model.KindOf(err))
	assert.True(t, body.closed)
}

func TestDecodeTruncatedStream(t *testing.T) {
	data := gzipBytes(t, bytes.Repeat([]byte(plain), 200))
	body := &trackingBody{Reader: bytes.NewReader(data[:len(data)/2])}
	rc, err := Decode(http.Header{"Content-Encoding": {"gzip"}}, body, 0)
	require.NoError(t, err)
	_, err = io.ReadAll(rc)
	require.Error(t, err)
	assert.Equal(t, model.KindDecode, model.KindOf(err))
}

func TestDecodeUnsupportedEncoding(t *testing.T) {
	_, err := Decode(http.Header{"Content-Encoding": {"compress"}}, io.NopCloser(strings.NewReader("x")), 0)
	var me *model.Error
	require.True(t, errors.As(err, &me))
	assert.Equal(t, "compress", me.Op)
}

func TestSniff(t *testing.T) {
	assert.Equal(t, "gzip", Sniff([]byte{0x1f, 0x8b, 0x08}))
	assert.Equal(t, "zstd", Sniff([]byte{0x28, 0xb5, 0x2f, 0xfd, 0x00}))
	assert.Equal(t, "", Sniff([]byte{0x28, 0xb5}))
	assert.Equal(t, "", Sniff(nil))
}

package origin

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCanonical(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"http://example.com:80", "http://example.com"},
		{"https://example.com:443/path?q=1", "https://example.com"},
		{"https://example.com:8443", "https://example.com:8443"},
		{"HTTPS://Example.COM/Index.html", "https://example.com"},
		{"http://example.com:443", "http://example.com:443"},
		{"https://[::1]:443/", "https://[::1]"},
		{"https://[::1]:8443/", "https://[::1]:8443"},
		{"  https://example.com/  ", "https://example.com"},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := Canonical(tt.in)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)

			again, err := Canonical(got)
			require.NoError(t, err)
			assert.Equal(t, got, again, "Canonical is not idempotent")
		})
	}
}

func TestCanonicalRejectsOriginless(t *testing.T) {
	for _, in := range []string{"file:///sdcard/a.html", "about:blank", "/relative", "://bad"} {
		_, err := Canonical(in)
		assert.Error(t, err, in)
	}
}

package useragent

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUserAgentFormats(t *testing.T) {
	p := NewProvider(Metadata{InstalledVersion: "141.0.7390.122", AndroidVersion: "14", DeviceModel: "Pixel 8"})

	assert.Equal(t,
		"Mozilla/5.0 (Linux; Android 14; Pixel 8) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/141.0.7390.122 Mobile Safari/537.36",
		p.UserAgent(false))
	assert.Equal(t,
		"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/141.0.7390.122 Safari/537.36",
		p.UserAgent(true))
	assert.Equal(t, "141", p.MajorVersion())
	assert.Equal(t, "Android", p.Platform())
}

func TestVersionFallback(t *testing.T) {
	tests := []struct {
		in        string
		wantMajor int
		wantFull  string
	}{
		{"", FallbackMajor, "141.0.0.0"},
		{"garbage", FallbackMajor, "141.0.0.0"},
		{"139", 139, "139.0.0.0"},
		{"140.0.7339", 140, "140.0.0.0"},
		{"140.0.x.1", 140, "140.0.0.0"},
		{"140.0.7339.207", 140, "140.0.7339.207"},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			major, full := parseVersion(tt.in)
			assert.Equal(t, tt.wantMajor, major)
			assert.Equal(t, tt.wantFull, full)
		})
	}
}

func TestDefaultsUseReducedDeviceTokens(t *testing.T) {
	p := NewProvider(Metadata{})
	assert.Contains(t, p.UserAgent(false), "(Linux; Android 10; K)")
	assert.Contains(t, p.UserAgent(false), "Chrome/141.0.0.0 Mobile")
}

func TestOverrideWinsAndIsPublished(t *testing.T) {
	p := NewProvider(Metadata{})
	ch, stop := p.Watch()
	defer stop()

	assert.Equal(t, p.UserAgent(false), <-ch)

	p.SetOverride("CustomAgent/1.0")
	assert.Equal(t, "CustomAgent/1.0", p.UserAgent(false))
	assert.Equal(t, "CustomAgent/1.0", p.UserAgent(true))

	select {
	case got := <-ch:
		assert.Equal(t, "CustomAgent/1.0", got)
	case <-time.After(time.Second):
		t.Fatal("watcher did not receive override")
	}

	p.SetOverride("")
	assert.Contains(t, <-ch, "Mobile Safari")
}

func TestWatchKeepsOnlyLatest(t *testing.T) {
	p := NewProvider(Metadata{})
	ch, stop := p.Watch()
	defer stop()

	p.SetOverride("A/1")
	p.SetOverride("B/2")
	require.Len(t, ch, 1)
	assert.Equal(t, "B/2", <-ch)
}

func TestResetRederivesHints(t *testing.T) {
	p := NewProvider(Metadata{InstalledVersion: "130.0.1.2"})
	assert.Equal(t, 130, p.Hints().Major)

	p.Reset(Metadata{InstalledVersion: "142.0.1.2"})
	assert.Equal(t, 142, p.Hints().Major)
	assert.Contains(t, p.UserAgent(false), "Android 10; K")
}

func TestBrands(t *testing.T) {
	p := NewProvider(Metadata{InstalledVersion: "141.0.7390.122"})

	assert.Equal(t, `"Not A;Brand";v="99", "Chromium";v="141", "Google Chrome";v="141"`,
		FormatBrands(p.Brands(true, false)))
	assert.Equal(t, `"Chromium";v="141", "Google Chrome";v="141"`,
		FormatBrands(p.Brands(false, false)))
	assert.Equal(t, `"Not A;Brand";v="99.0.0.0", "Chromium";v="141.0.7390.122", "Google Chrome";v="141.0.7390.122"`,
		p.HighEntropyValue(HintFullVersionList))
}

func TestHintStore(t *testing.T) {
	s := NewHintStore()
	assert.False(t, s.Allowed("https://a.test", HintModel))

	s.Record("https://a.test", "Sec-CH-UA-Model, sec-ch-ua-arch ,")
	assert.True(t, s.Allowed("https://a.test", HintModel))
	assert.True(t, s.Allowed("https://a.test", "SEC-CH-UA-ARCH"))
	assert.False(t, s.Allowed("https://a.test", HintBitness))
	assert.False(t, s.Allowed("https://b.test", HintModel))

	s.Record("https://a.test", "")
	assert.False(t, s.Allowed("https://a.test", HintModel))
}

func TestHighEntropyValues(t *testing.T) {
	p := NewProvider(Metadata{Architecture: "arm", Bitness: "64", Model: "Pixel 8", PlatformVersion: "14.0.0"})
	assert.Equal(t, `"arm"`, p.HighEntropyValue(HintArch))
	assert.Equal(t, `"64"`, p.HighEntropyValue(HintBitness))
	assert.Equal(t, `"Pixel 8"`, p.HighEntropyValue(HintModel))
	assert.Equal(t, `"14.0.0"`, p.HighEntropyValue("Sec-CH-UA-Platform-Version"))
	assert.Equal(t, `"141.0.0.0"`, p.HighEntropyValue(HintFullVersion))
	assert.Equal(t, "", p.HighEntropyValue("sec-ch-ua-wow64"))
}

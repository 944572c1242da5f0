// Package useragent derives the Chrome User-Agent string and the structured
// client-hint values that go with it.
package useragent

import (
	"fmt"
	"strconv"
	"strings"
	"sync"
)

// FallbackMajor is used when no installed Chrome/WebView version is known.
const FallbackMajor = 141

const greasedBrand = "Not A;Brand"

// Brand is one entry of a client-hint brand list.
type Brand struct {
	Name    string `json:"brand"`
	Version string `json:"version"`
}

// Metadata describes the host the UA strings are generated for.
type Metadata struct {
	// InstalledVersion is the version of the system Chrome or WebView
	// provider package, e.g. "141.0.7390.122". Empty when unknown.
	InstalledVersion string
	AndroidVersion   string
	DeviceModel      string
	PlatformVersion  string
	Architecture     string
	Bitness          string
	Model            string
}

// Hints is the derived client-hint value set.
type Hints struct {
	Major           int
	FullVersion     string
	Platform        string
	PlatformVersion string
	Architecture    string
	Bitness         string
	Model           string
	Mobile          bool
}

// Provider generates User-Agent strings and client hints. Derived values are
// computed once and cached until Reset; an override set with SetOverride wins
// over generation and is published to watchers.
type Provider struct {
	meta Metadata

	mu       sync.Mutex
	hints    *Hints
	override string
	watchers map[chan string]struct{}
}

// NewProvider returns a Provider for the given host metadata.
func NewProvider(meta Metadata) *Provider {
	if meta.AndroidVersion == "" {
		meta.AndroidVersion = "10"
	}
	if meta.DeviceModel == "" {
		meta.DeviceModel = "K"
	}
	return &Provider{
		meta:     meta,
		watchers: make(map[chan string]struct{}),
	}
}

// Hints returns the cached client-hint set, deriving it on first use.
func (p *Provider) Hints() Hints {
	p.mu.Lock()
	defer p.mu.Unlock()
	return *p.hintsLocked()
}

func (p *Provider) hintsLocked() *Hints {
	if p.hints != nil {
		return p.hints
	}
	major, full := parseVersion(p.meta.InstalledVersion)
	p.hints = &Hints{
		Major:           major,
		FullVersion:     full,
		Platform:        "Android",
		PlatformVersion: p.meta.PlatformVersion,
		Architecture:    p.meta.Architecture,
		Bitness:         p.meta.Bitness,
		Model:           p.meta.Model,
		Mobile:          true,
	}
	return p.hints
}

// parseVersion splits an installed package version into its major number and
// full version. Unknown or malformed input yields FallbackMajor.0.0.0.
func parseVersion(v string) (int, string) {
	v = strings.TrimSpace(v)
	parts := strings.Split(v, ".")
	major, err := strconv.Atoi(parts[0])
	if err != nil || major <= 0 {
		return FallbackMajor, fmt.Sprintf("%d.0.0.0", FallbackMajor)
	}
	if len(parts) != 4 {
		return major, fmt.Sprintf("%d.0.0.0", major)
	}
	for _, p := range parts[1:] {
		if _, err := strconv.Atoi(p); err != nil {
			return major, fmt.Sprintf("%d.0.0.0", major)
		}
	}
	return major, v
}

// MajorVersion returns the Chrome major version as a string.
func (p *Provider) MajorVersion() string {
	return strconv.Itoa(p.Hints().Major)
}

// FullVersion returns the Chrome full version string.
func (p *Provider) FullVersion() string {
	return p.Hints().FullVersion
}

// Platform returns the sec-ch-ua-platform label.
func (p *Provider) Platform() string {
	return p.Hints().Platform
}

// UserAgent returns the override when set, otherwise the generated mobile or
// desktop Chrome UA.
func (p *Provider) UserAgent(desktop bool) string {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.override != "" {
		return p.override
	}
	return p.generateLocked(desktop)
}

func (p *Provider) generateLocked(desktop bool) string {
	full := p.hintsLocked().FullVersion
	if desktop {
		return "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/" +
			full + " Safari/537.36"
	}
	return fmt.Sprintf("Mozilla/5.0 (Linux; Android %s; %s) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/%s Mobile Safari/537.36",
		p.meta.AndroidVersion, p.meta.DeviceModel, full)
}

// Override returns the current override or "".
func (p *Provider) Override() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.override
}

// SetOverride replaces the override; "" clears it. Watchers receive the new
// effective mobile UA.
func (p *Provider) SetOverride(ua string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.override = strings.TrimSpace(ua)
	p.publishLocked()
}

// Reset drops the cached hint set so the next read re-derives it from meta.
func (p *Provider) Reset(meta Metadata) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if meta.AndroidVersion == "" {
		meta.AndroidVersion = p.meta.AndroidVersion
	}
	if meta.DeviceModel == "" {
		meta.DeviceModel = p.meta.DeviceModel
	}
	p.meta = meta
	p.hints = nil
	p.publishLocked()
}

// Watch returns a channel that always holds the latest effective mobile UA.
// The current value is delivered immediately. Call the returned func to stop.
func (p *Provider) Watch() (<-chan string, func()) {
	ch := make(chan string, 1)

	p.mu.Lock()
	p.watchers[ch] = struct{}{}
	ch <- p.effectiveLocked()
	p.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			p.mu.Lock()
			delete(p.watchers, ch)
			p.mu.Unlock()
		})
	}
}

func (p *Provider) effectiveLocked() string {
	if p.override != "" {
		return p.override
	}
	return p.generateLocked(false)
}

// publishLocked replaces any undelivered value so slow watchers only ever see
// the latest UA.
func (p *Provider) publishLocked() {
	ua := p.effectiveLocked()
	for ch := range p.watchers {
		select {
		case <-ch:
		default:
		}
		ch <- ua
	}
}

// Brands returns the brand list. full selects the greased three-entry list
// sent in sec-ch-ua; otherwise the reduced two-entry list is returned.
// fullVersions uses full version numbers instead of majors.
func (p *Provider) Brands(full, fullVersions bool) []Brand {
	h := p.Hints()
	v := strconv.Itoa(h.Major)
	greaseV := "99"
	if fullVersions {
		v = h.FullVersion
		greaseV = "99.0.0.0"
	}
	brands := []Brand{
		{Name: "Chromium", Version: v},
		{Name: "Google Chrome", Version: v},
	}
	if full {
		brands = append([]Brand{{Name: greasedBrand, Version: greaseV}}, brands...)
	}
	return brands
}

// FormatBrands renders a brand list as a structured-header list.
func FormatBrands(brands []Brand) string {
	parts := make([]string, len(brands))
	for i, b := range brands {
		parts[i] = fmt.Sprintf("%q;v=%q", b.Name, b.Version)
	}
	return strings.Join(parts, ", ")
}

package useragent

import (
	"strings"
	"sync"
)

// High-entropy client hint header names, lower-cased.
const (
	HintArch            = "sec-ch-ua-arch"
	HintBitness         = "sec-ch-ua-bitness"
	HintModel           = "sec-ch-ua-model"
	HintPlatformVersion = "sec-ch-ua-platform-version"
	HintFullVersionList = "sec-ch-ua-full-version-list"
	HintFullVersion     = "sec-ch-ua-full-version"
)

// HighEntropyHints lists every high-entropy hint in the order Chrome sends them.
var HighEntropyHints = []string{
	HintArch,
	HintBitness,
	HintFullVersion,
	HintFullVersionList,
	HintModel,
	HintPlatformVersion,
}

// HintStore remembers which high-entropy hints each origin asked for through
// an Accept-CH response header.
type HintStore struct {
	m sync.Map // canonical origin -> map[string]struct{}
}

// NewHintStore returns an empty HintStore.
func NewHintStore() *HintStore {
	return &HintStore{}
}

// Record stores the hints named in an Accept-CH value for origin. An empty
// value clears the origin's opt-in, matching how browsers treat Accept-CH.
func (s *HintStore) Record(origin, acceptCH string) {
	set := make(map[string]struct{})
	for _, tok := range strings.Split(acceptCH, ",") {
		tok = strings.ToLower(strings.TrimSpace(tok))
		if tok != "" {
			set[tok] = struct{}{}
		}
	}
	if len(set) == 0 {
		s.m.Delete(origin)
		return
	}
	s.m.Store(origin, set)
}

// Allowed reports whether origin opted in to hint.
func (s *HintStore) Allowed(origin, hint string) bool {
	v, ok := s.m.Load(origin)
	if !ok {
		return false
	}
	_, ok = v.(map[string]struct{})[strings.ToLower(hint)]
	return ok
}

// Clear forgets every origin.
func (s *HintStore) Clear() {
	s.m.Clear()
}

// HighEntropyValue returns the canonical header value for a high-entropy hint,
// or "" when the provider has nothing to report for it.
func (p *Provider) HighEntropyValue(hint string) string {
	h := p.Hints()
	switch strings.ToLower(hint) {
	case HintArch:
		return quote(h.Architecture)
	case HintBitness:
		return quote(h.Bitness)
	case HintModel:
		return quote(h.Model)
	case HintPlatformVersion:
		return quote(h.PlatformVersion)
	case HintFullVersion:
		return quote(h.FullVersion)
	case HintFullVersionList:
		return FormatBrands(p.Brands(true, true))
	default:
		return ""
	}
}

func quote(s string) string {
	return `"` + s + `"`
}

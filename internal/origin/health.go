package origin

import (
	"sync"
	"time"
)

// DefaultTTL is how long an origin stays unhealthy after activation.
const DefaultTTL = time.Hour

// Health remembers origins that failed when proxied. Entries expire lazily:
// an expired entry is evicted by the next lookup that sees it.
// It is safe for concurrent use; each key is updated atomically.
type Health struct {
	ttl   time.Duration
	clock Clock
	m     sync.Map // canonical origin -> time.Duration expiry
}

// NewHealth returns a Health cache. A zero ttl selects DefaultTTL and a nil
// clock selects SystemClock.
func NewHealth(ttl time.Duration, clock Clock) *Health {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if clock == nil {
		clock = SystemClock()
	}
	return &Health{ttl: ttl, clock: clock}
}

// TTL returns the unhealthy window.
func (h *Health) TTL() time.Duration { return h.ttl }

// Activate marks origin unhealthy for one TTL from now and reports whether
// this opened a new unhealthy window. A repeat activation inside the window
// refreshes the expiry and returns false.
func (h *Health) Activate(origin string) bool {
	now := h.clock.Now()
	expiry := now + h.ttl
	for {
		prev, loaded := h.m.LoadOrStore(origin, expiry)
		if !loaded {
			return true
		}
		first := now >= prev.(time.Duration)
		if h.m.CompareAndSwap(origin, prev, expiry) {
			return first
		}
	}
}

// Unhealthy reports whether origin is inside an unhealthy window.
func (h *Health) Unhealthy(origin string) bool {
	v, ok := h.m.Load(origin)
	if !ok {
		return false
	}
	if h.clock.Now() < v.(time.Duration) {
		return true
	}
	h.m.CompareAndDelete(origin, v)
	return false
}

// ShouldBypass is Unhealthy keyed by any URL of the origin.
func (h *Health) ShouldBypass(rawURL string) bool {
	key, err := Canonical(rawURL)
	if err != nil {
		return false
	}
	return h.Unhealthy(key)
}

// Len counts live entries, evicting expired ones on the way.
func (h *Health) Len() int {
	n := 0
	h.m.Range(func(k, _ any) bool {
		if h.Unhealthy(k.(string)) {
			n++
		}
		return true
	})
	return n
}

// Clear drops every entry.
func (h *Health) Clear() {
	h.m.Clear()
}

// Package events fans out proxy activity to live observers.
package events

import (
	"sync"
	"sync/atomic"
	"time"
)

// Event types.
const (
	TypeDecision   = "decision"
	TypeActivation = "activation"
	TypeUserAgent  = "user_agent"
	TypePage       = "page"
)

// Event is one observable occurrence. Fields irrelevant to Type are empty.
type Event struct {
	Type string    `json:"type"`
	Time time.Time `json:"time"`

	Source string `json:"source,omitempty"`
	Route  string `json:"route,omitempty"`
	Reason string `json:"reason,omitempty"`
	Method string `json:"method,omitempty"`
	URL    string `json:"url,omitempty"`
	Token  string `json:"token,omitempty"`

	Origin string `json:"origin,omitempty"`
	First  bool   `json:"first,omitempty"`

	UserAgent string `json:"user_agent,omitempty"`
	Phase     string `json:"phase,omitempty"`
}

// Broker delivers events to subscribers without ever blocking publishers.
// A subscriber that falls behind loses events.
type Broker struct {
	buffer int

	mu     sync.RWMutex
	subs   map[uint64]chan Event
	next   uint64
	closed bool

	dropped atomic.Uint64
}

// NewBroker creates a Broker whose subscribers buffer up to buffer events.
func NewBroker(buffer int) *Broker {
	if buffer <= 0 {
		buffer = 64
	}
	return &Broker{buffer: buffer, subs: make(map[uint64]chan Event)}
}

// Publish sends e to every subscriber. A zero Time is stamped with now.
func (b *Broker) Publish(e Event) {
	if e.Time.IsZero() {
		e.Time = time.Now()
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, ch := range b.subs {
		select {
		case ch <- e:
		default:
			b.dropped.Add(1)
		}
	}
}

// Subscribe registers a subscriber. The returned cancel func unregisters it
// and closes the channel; it is safe to call more than once.
func (b *Broker) Subscribe() (<-chan Event, func()) {
	ch := make(chan Event, b.buffer)
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		close(ch)
		return ch, func() {}
	}
	id := b.next
	b.next++
	b.subs[id] = ch
	b.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			if _, ok := b.subs[id]; ok {
				delete(b.subs, id)
				close(ch)
			}
		})
	}
}

// Subscribers returns the number of active subscribers.
func (b *Broker) Subscribers() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}

// Dropped returns how many deliveries were skipped because a subscriber was full.
func (b *Broker) Dropped() uint64 { return b.dropped.Load() }

// Close closes every subscriber channel. Later subscriptions get a closed channel.
func (b *Broker) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	for id, ch := range b.subs {
		close(ch)
		delete(b.subs, id)
	}
}

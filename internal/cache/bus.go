// Package cache carries invalidation pulses from the engine to whatever
// read-side cache sits in front of the timeline. Pulses are fire-and-forget:
// publishing never fails and never blocks on a slow subscriber's result.
package cache

import (
	"strings"
	"sync"

	"github.com/rs/zerolog"

	"github.com/hpungsan/outpost/internal/logging"
)

// QueryKey is an opaque cache scope, e.g. ["transactions"] or ["timeline", id].
type QueryKey []string

// String joins the key segments with "/".
func (k QueryKey) String() string { return strings.Join(k, "/") }

// HasPrefix reports whether k starts with every segment of prefix.
func (k QueryKey) HasPrefix(prefix QueryKey) bool {
	if len(prefix) > len(k) {
		return false
	}
	for i := range prefix {
		if k[i] != prefix[i] {
			return false
		}
	}
	return true
}

// TransactionsKey scopes every cached transaction list.
func TransactionsKey() QueryKey { return QueryKey{"transactions"} }

// TimelineKey scopes one interaction's timeline.
func TimelineKey(interactionID string) QueryKey { return QueryKey{"timeline", interactionID} }

// Invalidator is the port the engine publishes into.
type Invalidator interface {
	Invalidate(key QueryKey)
}

// InvalidatorFunc adapts a function to Invalidator.
type InvalidatorFunc func(QueryKey)

// Invalidate implements Invalidator.
func (f InvalidatorFunc) Invalidate(key QueryKey) { f(key) }

// Nop discards every pulse.
var Nop Invalidator = InvalidatorFunc(func(QueryKey) {})

type subscription struct {
	id     uint64
	prefix QueryKey
	fn     func(QueryKey)
}

// Bus is an in-process Invalidator that fans pulses out to subscribers whose
// prefix matches the key.
type Bus struct {
	log zerolog.Logger

	mu     sync.RWMutex
	subs   []subscription
	nextID uint64
	pulses uint64
}

// NewBus creates an empty bus.
func NewBus(log zerolog.Logger) *Bus {
	return &Bus{log: logging.Component(log, "cache")}
}

// Subscribe registers fn for keys starting with prefix. An empty prefix
// matches every key.
func (b *Bus) Subscribe(prefix QueryKey, fn func(QueryKey)) (unsubscribe func()) {
	b.mu.Lock()
	b.nextID++
	id := b.nextID
	b.subs = append(b.subs, subscription{id: id, prefix: append(QueryKey(nil), prefix...), fn: fn})
	b.mu.Unlock()

	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		for i, s := range b.subs {
			if s.id == id {
				b.subs = append(b.subs[:i:i], b.subs[i+1:]...)
				return
			}
		}
	}
}

// Invalidate delivers key to every matching subscriber. A panicking
// subscriber is logged and skipped.
func (b *Bus) Invalidate(key QueryKey) {
	b.mu.Lock()
	b.pulses++
	subs := append([]subscription(nil), b.subs...)
	b.mu.Unlock()

	b.log.Debug().Str("key", key.String()).Msg("invalidate")
	for _, s := range subs {
		if key.HasPrefix(s.prefix) {
			b.deliver(s, key)
		}
	}
}

func (b *Bus) deliver(s subscription, key QueryKey) {
	defer func() {
		if r := recover(); r != nil {
			b.log.Error().Interface("panic", r).Str("key", key.String()).Msg("cache subscriber panicked")
		}
	}()
	s.fn(key)
}

// Pulses returns how many invalidations have been published.
func (b *Bus) Pulses() uint64 {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.pulses
}

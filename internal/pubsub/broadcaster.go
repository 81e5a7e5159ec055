// Package pubsub provides the in-process topic broadcaster that fans out
// engine events to every live subscriber of a topic.
package pubsub

import (
	"log/slog"
	"sync"

	"github.com/tradesync/market-engine/internal/model"
)

type listener func(model.Event)

// Broadcaster delivers each published event to every listener registered on
// the event's topic at publish time. Events are not replayed: a listener
// observes every publish strictly after its Subscribe returns, nothing
// before. Delivery to one listener is isolated: a panic inside a listener
// is recovered and logged, never propagated to the publisher or to other
// listeners.
type Broadcaster struct {
	mu     sync.RWMutex
	nextID uint64
	topics map[string]map[uint64]listener
}

// New creates an empty broadcaster. Topics are created implicitly on first
// subscribe and dropped when their last subscription closes.
func New() *Broadcaster {
	return &Broadcaster{topics: make(map[string]map[uint64]listener)}
}

// Subscription is the handle returned by Subscribe. The transport layer
// tracks the handles it owns and closes them on session end.
type Subscription struct {
	b     *Broadcaster
	topic string
	id    uint64
	once  sync.Once
}

// Topic returns the topic this subscription is registered on.
func (s *Subscription) Topic() string { return s.topic }

// Close removes the listener. Publishes strictly after Close returns are
// never delivered; a delivery already in flight may still complete.
// Close is idempotent.
func (s *Subscription) Close() {
	s.once.Do(func() { s.b.remove(s.topic, s.id) })
}

// Subscribe registers fn as a listener on topic.
func (b *Broadcaster) Subscribe(topic string, fn func(model.Event)) *Subscription {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.nextID++
	subs, ok := b.topics[topic]
	if !ok {
		subs = make(map[uint64]listener)
		b.topics[topic] = subs
	}
	subs[b.nextID] = fn

	return &Subscription{b: b, topic: topic, id: b.nextID}
}

// Publish delivers ev to every listener currently subscribed to topic.
// Listeners are invoked synchronously on the caller's goroutine, so events
// published from a single goroutine reach each listener in publish order.
func (b *Broadcaster) Publish(topic string, ev model.Event) {
	b.mu.RLock()
	subs := b.topics[topic]
	fns := make([]listener, 0, len(subs))
	for _, fn := range subs {
		fns = append(fns, fn)
	}
	b.mu.RUnlock()

	for _, fn := range fns {
		deliver(topic, ev, fn)
	}
}

func deliver(topic string, ev model.Event, fn listener) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("pubsub listener panicked", "topic", topic, "panic", r)
		}
	}()
	fn(ev)
}

func (b *Broadcaster) remove(topic string, id uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()

	subs, ok := b.topics[topic]
	if !ok {
		return
	}
	delete(subs, id)
	if len(subs) == 0 {
		delete(b.topics, topic)
	}
}

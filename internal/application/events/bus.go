package events

import (
	"slices"
	"sync"

	"github.com/longregen/toolrouter/internal/domain/models"
	"github.com/longregen/toolrouter/internal/ports"
)

const subscriberBuffer = 100

type subscription struct {
	ch    chan models.Event
	types []models.EventType
}

func (s *subscription) wants(t models.EventType) bool {
	return len(s.types) == 0 || slices.Contains(s.types, t)
}

// Bus fans events out to subscribers. Publishing never blocks: a subscriber
// whose buffer is full misses the event.
type Bus struct {
	mu     sync.RWMutex
	subs   []*subscription
	closed bool
}

var _ ports.EventSink = (*Bus)(nil)

func NewBus() *Bus {
	return &Bus{}
}

// Subscribe returns a channel receiving events of the given types, or every
// event when types is empty.
func (b *Bus) Subscribe(types ...models.EventType) <-chan models.Event {
	b.mu.Lock()
	defer b.mu.Unlock()

	ch := make(chan models.Event, subscriberBuffer)
	if b.closed {
		close(ch)
		return ch
	}
	b.subs = append(b.subs, &subscription{ch: ch, types: types})
	return ch
}

// Unsubscribe removes ch and closes it.
func (b *Bus) Unsubscribe(ch <-chan models.Event) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for i, s := range b.subs {
		if s.ch == ch {
			b.subs = append(b.subs[:i], b.subs[i+1:]...)
			close(s.ch)
			return
		}
	}
}

func (b *Bus) Publish(event models.Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for _, s := range b.subs {
		if !s.wants(event.Type) {
			continue
		}
		select {
		case s.ch <- event:
		default:
		}
	}
}

// Close closes every subscriber channel. Later subscriptions are closed
// immediately.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	for _, s := range b.subs {
		close(s.ch)
	}
	b.subs = nil
	b.closed = true
}

func (b *Bus) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}

// OnEvent calls fn for every matching event on a dedicated goroutine, in
// publish order. The returned function stops delivery.
func (b *Bus) OnEvent(fn func(models.Event), types ...models.EventType) (stop func()) {
	ch := b.Subscribe(types...)
	go func() {
		for ev := range ch {
			fn(ev)
		}
	}()
	var once sync.Once
	return func() { once.Do(func() { b.Unsubscribe(ch) }) }
}

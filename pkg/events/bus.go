package events

import (
	"sync"
	"time"
)

// DefaultHistoryLimit bounds the history a MemoryBus retains.
const DefaultHistoryLimit = 1024

// EventBus provides publish/subscribe for verification events.
type EventBus interface {
	Publish(event Event)
	Subscribe(filter ...EventType) <-chan Event
	Unsubscribe(ch <-chan Event)
	History(since time.Time) []Event
}

type subscriber struct {
	ch     chan Event
	filter map[EventType]bool // empty means all events
}

// MemoryBus is an in-memory implementation of EventBus. Only the most
// recent events up to the history limit are kept.
type MemoryBus struct {
	mu           sync.RWMutex
	subscribers  []subscriber
	history      []Event
	historyLimit int
	dropped      int
}

// NewMemoryBus creates a new in-memory event bus with the default
// history limit.
func NewMemoryBus() *MemoryBus {
	return NewMemoryBusWithLimit(DefaultHistoryLimit)
}

// NewMemoryBusWithLimit creates a bus retaining at most limit events.
// A non-positive limit uses DefaultHistoryLimit.
func NewMemoryBusWithLimit(limit int) *MemoryBus {
	if limit <= 0 {
		limit = DefaultHistoryLimit
	}
	return &MemoryBus{
		history:      make([]Event, 0, min(limit, 256)),
		historyLimit: limit,
	}
}

func (b *MemoryBus) Publish(event Event) {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	b.mu.Lock()
	if len(b.history) >= b.historyLimit {
		n := copy(b.history, b.history[1:])
		b.history = b.history[:n]
	}
	b.history = append(b.history, event)

	// Deliver under the lock so Unsubscribe cannot close a channel mid-send.
	for _, sub := range b.subscribers {
		if len(sub.filter) > 0 && !sub.filter[event.Type] {
			continue
		}
		select {
		case sub.ch <- event:
		default:
			// Slow subscriber; never block the verifier.
			b.dropped++
		}
	}
	b.mu.Unlock()
}

func (b *MemoryBus) Subscribe(filter ...EventType) <-chan Event {
	ch := make(chan Event, 64)
	sub := subscriber{ch: ch}
	if len(filter) > 0 {
		sub.filter = make(map[EventType]bool, len(filter))
		for _, f := range filter {
			sub.filter[f] = true
		}
	}

	b.mu.Lock()
	b.subscribers = append(b.subscribers, sub)
	b.mu.Unlock()

	return ch
}

func (b *MemoryBus) Unsubscribe(ch <-chan Event) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for i, sub := range b.subscribers {
		if sub.ch == ch {
			b.subscribers = append(b.subscribers[:i], b.subscribers[i+1:]...)
			close(sub.ch)
			return
		}
	}
}

func (b *MemoryBus) History(since time.Time) []Event {
	b.mu.RLock()
	defer b.mu.RUnlock()

	var result []Event
	for _, e := range b.history {
		if !e.Timestamp.Before(since) {
			result = append(result, e)
		}
	}
	return result
}

// Dropped reports how many deliveries were skipped because a subscriber's
// buffer was full.
func (b *MemoryBus) Dropped() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.dropped
}

package events

import (
	"strings"
	"sync"
)

const subscriberBuffer = 256

// Bus is an in-process publish/subscribe channel keyed by session id. It has
// no history: a publish with zero subscribers is dropped, and a subscriber
// only sees events published after it attached.
type Bus struct {
	mu          sync.RWMutex
	subscribers map[string]map[int]chan Event
	nextSubID   int
}

func NewBus() *Bus {
	return &Bus{
		subscribers: make(map[string]map[int]chan Event),
	}
}

// Subscribe attaches a fresh delivery queue to the session's channel. The
// returned cancel func detaches it; the channel entry is reclaimed when the
// last subscriber leaves.
func (b *Bus) Subscribe(sessionID string) (<-chan Event, func()) {
	sessionID = strings.TrimSpace(sessionID)
	if sessionID == "" {
		ch := make(chan Event)
		close(ch)
		return ch, func() {}
	}

	ch := make(chan Event, subscriberBuffer)
	b.mu.Lock()
	b.nextSubID++
	id := b.nextSubID
	if _, ok := b.subscribers[sessionID]; !ok {
		b.subscribers[sessionID] = make(map[int]chan Event)
	}
	b.subscribers[sessionID][id] = ch
	b.mu.Unlock()

	return ch, func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		subs := b.subscribers[sessionID]
		if subs == nil {
			return
		}
		if c, ok := subs[id]; ok {
			delete(subs, id)
			close(c)
		}
		if len(subs) == 0 {
			delete(b.subscribers, sessionID)
		}
	}
}

// Publish enqueues evt onto every subscriber queue for the session,
// preserving publish order per subscriber. A saturated subscriber drops the
// event rather than blocking the publisher.
func (b *Bus) Publish(sessionID string, evt Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	subs := b.subscribers[sessionID]
	if len(subs) == 0 {
		return
	}
	for _, ch := range subs {
		select {
		case ch <- evt:
		default:
		}
	}
}

// SubscriberCount reports live subscribers across all sessions.
func (b *Bus) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	n := 0
	for _, subs := range b.subscribers {
		n += len(subs)
	}
	return n
}

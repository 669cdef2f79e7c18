package notify

import (
	"context"
	"sync"
	"time"
)

// Hub delivers events to in-process subscribers, keyed by user.
type Hub struct {
	mu          sync.RWMutex
	subscribers map[string][]chan Event
	now         func() time.Time
}

func NewHub() *Hub {
	return &Hub{
		subscribers: make(map[string][]chan Event),
		now:         time.Now,
	}
}

// Subscribe returns a buffered channel of the user's events and a func that
// unsubscribes and closes it.
func (h *Hub) Subscribe(userID string) (<-chan Event, func()) {
	h.mu.Lock()
	defer h.mu.Unlock()

	ch := make(chan Event, 10)
	h.subscribers[userID] = append(h.subscribers[userID], ch)

	var once sync.Once
	return ch, func() {
		once.Do(func() { h.unsubscribe(userID, ch) })
	}
}

func (h *Hub) unsubscribe(userID string, ch chan Event) {
	h.mu.Lock()
	defer h.mu.Unlock()

	subs := h.subscribers[userID]
	for i, c := range subs {
		if c == ch {
			subs = append(subs[:i], subs[i+1:]...)
			break
		}
	}
	if len(subs) == 0 {
		delete(h.subscribers, userID)
	} else {
		h.subscribers[userID] = subs
	}
	close(ch)
}

func (h *Hub) Notify(_ context.Context, event, userID string, payload map[string]any) error {
	h.mu.RLock()
	defer h.mu.RUnlock()

	ev := Event{Name: event, UserID: userID, Payload: payload, Timestamp: h.now()}
	for _, ch := range h.subscribers[userID] {
		select {
		case ch <- ev:
		default:
			// Channel full, skip (don't block)
		}
	}
	return nil
}

package changefeed

import (
	"context"
	"sync"
)

const subscriberBuffer = 32

type subscription struct {
	ch   chan Event
	once sync.Once
}

// Hub is an in-process feed. Publish never blocks; a full subscriber buffer
// drops the event for that subscriber only.
type Hub struct {
	mu   sync.RWMutex
	subs map[string]map[*subscription]struct{}
}

func NewHub() *Hub {
	return &Hub{subs: make(map[string]map[*subscription]struct{})}
}

func (h *Hub) Publish(ctx context.Context, e Event) error {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for s := range h.subs[e.ConversationID] {
		select {
		case s.ch <- e:
		default:
		}
	}
	return nil
}

func (h *Hub) Subscribe(ctx context.Context, conversationID string) (<-chan Event, func(), error) {
	s := &subscription{ch: make(chan Event, subscriberBuffer)}
	h.mu.Lock()
	if h.subs[conversationID] == nil {
		h.subs[conversationID] = make(map[*subscription]struct{})
	}
	h.subs[conversationID][s] = struct{}{}
	h.mu.Unlock()

	cancel := func() {
		s.once.Do(func() {
			h.mu.Lock()
			delete(h.subs[conversationID], s)
			if len(h.subs[conversationID]) == 0 {
				delete(h.subs, conversationID)
			}
			h.mu.Unlock()
			close(s.ch)
		})
	}
	go func() {
		<-ctx.Done()
		cancel()
	}()
	return s.ch, cancel, nil
}

// Subscribers reports the live subscription count for a conversation.
func (h *Hub) Subscribers(conversationID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs[conversationID])
}

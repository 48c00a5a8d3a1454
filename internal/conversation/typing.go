package conversation

import (
	"sort"
	"sync"
	"time"
)

// TypingRegistry holds the transient set of participants composing in each
// conversation. Entries expire after ttl unless refreshed.
type TypingRegistry struct {
	mu    sync.RWMutex
	ttl   time.Duration
	now   func() time.Time
	state map[string]map[string]time.Time
}

func NewTypingRegistry(ttl time.Duration, now func() time.Time) *TypingRegistry {
	if now == nil {
		now = time.Now
	}
	return &TypingRegistry{ttl: ttl, now: now, state: make(map[string]map[string]time.Time)}
}

// Set marks or clears participantID as typing and reports whether the visible
// set changed.
func (r *TypingRegistry) Set(conversationID, participantID string, typing bool) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	now := r.now()
	r.expireLocked(conversationID, now)
	parts := r.state[conversationID]
	_, had := parts[participantID]
	if !typing {
		if !had {
			return false
		}
		delete(parts, participantID)
		if len(parts) == 0 {
			delete(r.state, conversationID)
		}
		return true
	}
	if parts == nil {
		parts = make(map[string]time.Time)
		r.state[conversationID] = parts
	}
	parts[participantID] = now.Add(r.ttl)
	return !had
}

// Participants lists unexpired typing participants, sorted.
func (r *TypingRegistry) Participants(conversationID string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	now := r.now()
	out := []string{}
	for p, exp := range r.state[conversationID] {
		if now.Before(exp) {
			out = append(out, p)
		}
	}
	sort.Strings(out)
	return out
}

func (r *TypingRegistry) expireLocked(conversationID string, now time.Time) {
	for p, exp := range r.state[conversationID] {
		if !now.Before(exp) {
			delete(r.state[conversationID], p)
		}
	}
}

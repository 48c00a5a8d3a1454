package conversation

import (
	"context"
	"errors"
	"math/rand"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"

	"github.com/repchat/internal/apperr"
	"github.com/repchat/internal/identity"
)

// ConversationStore persists conversation records.
type ConversationStore interface {
	CreateConversation(ctx context.Context, c *Conversation) error
	GetConversation(ctx context.Context, id string) (*Conversation, error)
	PatchConversation(ctx context.Context, id string, p Patch) (*Conversation, error)
	DeleteConversation(ctx context.Context, id string) error
	// FindByIdentity returns conversations for the pair whose status is in
	// statuses (all statuses when empty), newest createdAt first, ties by id.
	FindByIdentity(ctx context.Context, customer identity.CustomerIdentity, repPhone string, statuses ...Status) ([]*Conversation, error)
	FindByBridgeRef(ctx context.Context, bridgeRef string) (*Conversation, error)
	ListConversations(ctx context.Context) ([]*Conversation, error)
}

// MessageStore persists transcript messages.
type MessageStore interface {
	// AppendMessage assigns ID (when empty) and Seq.
	AppendMessage(ctx context.Context, m *Message) error
	GetMessage(ctx context.Context, conversationID, messageID string) (*Message, error)
	EditMessage(ctx context.Context, conversationID, messageID, content string, editedAt time.Time) (*Message, error)
	// ListMessages orders by timestamp, then insertion order.
	ListMessages(ctx context.Context, conversationID string) ([]*Message, error)
	DeleteMessage(ctx context.Context, conversationID, messageID string) error
	// AddReceipts adds participantID to the delivery or read set of each listed
	// message that lacks it and returns how many messages changed.
	AddReceipts(ctx context.Context, conversationID string, messageIDs []string, participantID string, kind ReceiptKind) (int, error)
}

// Store is both halves.
type Store interface {
	ConversationStore
	MessageStore
}

// NewMessageID returns a time-sortable message id.
func NewMessageID(t time.Time) string {
	return ulid.MustNew(ulid.Timestamp(t), ulidEntropy()).String()
}

var (
	entropyMu sync.Mutex
	entropy   = ulid.Monotonic(rand.New(rand.NewSource(time.Now().UnixNano())), 0)
)

type lockedEntropy struct{}

func (lockedEntropy) Read(p []byte) (int, error) {
	entropyMu.Lock()
	defer entropyMu.Unlock()
	return entropy.Read(p)
}

func ulidEntropy() lockedEntropy { return lockedEntropy{} }

// InMemoryStore is a threadsafe in-memory Store for tests and single-node runs.
type InMemoryStore struct {
	mu       sync.RWMutex
	convs    map[string]*Conversation
	messages map[string][]*Message
	seq      int64
	now      func() time.Time
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		convs:    make(map[string]*Conversation),
		messages: make(map[string][]*Message),
		now:      time.Now,
	}
}

// WithClock replaces the store clock used for UpdatedAt and default CreatedAt.
func (s *InMemoryStore) WithClock(now func() time.Time) *InMemoryStore {
	s.now = now
	return s
}

func (s *InMemoryStore) CreateConversation(ctx context.Context, c *Conversation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	if s.bridgeTaken(c.BridgeRef, c.ID) {
		return apperr.Store("create conversation", ErrBridgeRefInUse)
	}
	if c.CreatedAt.IsZero() {
		c.CreatedAt = s.now()
	}
	c.UpdatedAt = c.CreatedAt
	s.convs[c.ID] = cloneConversation(c)
	return nil
}

func (s *InMemoryStore) GetConversation(ctx context.Context, id string) (*Conversation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.convs[id]
	if !ok {
		return nil, apperr.NotFound("conversation", id)
	}
	return cloneConversation(c), nil
}

func (s *InMemoryStore) PatchConversation(ctx context.Context, id string, p Patch) (*Conversation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.convs[id]
	if !ok {
		return nil, apperr.NotFound("conversation", id)
	}
	if p.BridgeRef != nil && s.bridgeTaken(*p.BridgeRef, id) {
		return nil, apperr.Store("patch conversation", ErrBridgeRefInUse)
	}
	if !p.empty() {
		p.apply(c)
		c.UpdatedAt = s.now()
	}
	return cloneConversation(c), nil
}

// bridgeTaken mirrors the unique bridge_ref index. Callers hold s.mu.
func (s *InMemoryStore) bridgeTaken(ref, exceptID string) bool {
	if ref == "" {
		return false
	}
	for id, c := range s.convs {
		if id != exceptID && c.BridgeRef == ref {
			return true
		}
	}
	return false
}

func (s *InMemoryStore) DeleteConversation(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.convs[id]; !ok {
		return apperr.NotFound("conversation", id)
	}
	if len(s.messages[id]) > 0 {
		return apperr.Store("delete conversation", errConversationHasMessages)
	}
	delete(s.convs, id)
	delete(s.messages, id)
	return nil
}

func (s *InMemoryStore) FindByIdentity(ctx context.Context, customer identity.CustomerIdentity, repPhone string, statuses ...Status) ([]*Conversation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	key := customer.Key()
	var out []*Conversation
	for _, c := range s.convs {
		if c.Customer.Key() != key || c.RepPhone != repPhone {
			continue
		}
		if len(statuses) > 0 && !hasStatus(statuses, c.Status) {
			continue
		}
		out = append(out, cloneConversation(c))
	}
	sortNewestFirst(out)
	return out, nil
}

func (s *InMemoryStore) FindByBridgeRef(ctx context.Context, bridgeRef string) (*Conversation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var found []*Conversation
	for _, c := range s.convs {
		if bridgeRef != "" && c.BridgeRef == bridgeRef {
			found = append(found, c)
		}
	}
	if len(found) == 0 {
		return nil, apperr.NotFound("bridge", bridgeRef)
	}
	sortNewestFirst(found)
	return cloneConversation(found[0]), nil
}

func (s *InMemoryStore) ListConversations(ctx context.Context) ([]*Conversation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*Conversation, 0, len(s.convs))
	for _, c := range s.convs {
		out = append(out, cloneConversation(c))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *InMemoryStore) AppendMessage(ctx context.Context, m *Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.convs[m.ConversationID]; !ok {
		return apperr.NotFound("conversation", m.ConversationID)
	}
	if m.Timestamp.IsZero() {
		m.Timestamp = s.now()
	}
	if m.ID == "" {
		m.ID = NewMessageID(m.Timestamp)
	}
	s.seq++
	m.Seq = s.seq
	if m.DeliveredTo == nil {
		m.DeliveredTo = []string{}
	}
	if m.ReadBy == nil {
		m.ReadBy = []string{}
	}
	s.messages[m.ConversationID] = append(s.messages[m.ConversationID], cloneMessage(m))
	return nil
}

func (s *InMemoryStore) GetMessage(ctx context.Context, conversationID, messageID string) (*Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, m := range s.messages[conversationID] {
		if m.ID == messageID {
			return cloneMessage(m), nil
		}
	}
	return nil, apperr.NotFound("message", messageID)
}

func (s *InMemoryStore) EditMessage(ctx context.Context, conversationID, messageID, content string, editedAt time.Time) (*Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, m := range s.messages[conversationID] {
		if m.ID == messageID {
			m.Content = content
			m.Edited = true
			t := editedAt
			m.EditedAt = &t
			return cloneMessage(m), nil
		}
	}
	return nil, apperr.NotFound("message", messageID)
}

func (s *InMemoryStore) ListMessages(ctx context.Context, conversationID string) ([]*Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	src := s.messages[conversationID]
	out := make([]*Message, 0, len(src))
	for _, m := range src {
		out = append(out, cloneMessage(m))
	}
	SortMessages(out)
	return out, nil
}

func (s *InMemoryStore) DeleteMessage(ctx context.Context, conversationID, messageID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	arr := s.messages[conversationID]
	for i, m := range arr {
		if m.ID == messageID {
			s.messages[conversationID] = append(arr[:i:i], arr[i+1:]...)
			return nil
		}
	}
	return apperr.NotFound("message", messageID)
}

func (s *InMemoryStore) AddReceipts(ctx context.Context, conversationID string, messageIDs []string, participantID string, kind ReceiptKind) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	want := make(map[string]bool, len(messageIDs))
	for _, id := range messageIDs {
		want[id] = true
	}
	changed := 0
	for _, m := range s.messages[conversationID] {
		if !want[m.ID] {
			continue
		}
		set := &m.DeliveredTo
		if kind == ReceiptRead {
			set = &m.ReadBy
		}
		if contains(*set, participantID) {
			continue
		}
		*set = append(*set, participantID)
		changed++
	}
	return changed, nil
}

// SortMessages orders by timestamp, then Seq.
func SortMessages(msgs []*Message) {
	sort.SliceStable(msgs, func(i, j int) bool {
		if !msgs[i].Timestamp.Equal(msgs[j].Timestamp) {
			return msgs[i].Timestamp.Before(msgs[j].Timestamp)
		}
		return msgs[i].Seq < msgs[j].Seq
	})
}

// sortNewestFirst orders by createdAt descending, ties by smaller id.
func sortNewestFirst(cs []*Conversation) {
	sort.SliceStable(cs, func(i, j int) bool {
		if !cs[i].CreatedAt.Equal(cs[j].CreatedAt) {
			return cs[i].CreatedAt.After(cs[j].CreatedAt)
		}
		return cs[i].ID < cs[j].ID
	})
}

func hasStatus(statuses []Status, s Status) bool {
	for _, v := range statuses {
		if v == s {
			return true
		}
	}
	return false
}

var (
	errConversationHasMessages = errors.New("conversation still has messages")
	// ErrBridgeRefInUse: another conversation already holds the bridge reference.
	ErrBridgeRefInUse = errors.New("bridge reference already in use")
)

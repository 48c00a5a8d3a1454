package conversation

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/repchat/internal/apperr"
	"github.com/repchat/internal/identity"
)

// Handle is the outcome of resolving an identity pair.
type Handle struct {
	Conversation *Conversation
	// Created is set when no conversation existed and a new one was stored.
	Created bool
	// Reactivation is set when the returned conversation is not active and the
	// caller has to decide whether to flip it back.
	Reactivation bool
}

// Resolver finds or creates the authoritative conversation for an identity pair.
// It never retries internally; concurrent first contacts may both create and
// are reconciled later by the merge engine.
type Resolver struct {
	store ConversationStore
	now   func() time.Time
}

func NewResolver(store ConversationStore) *Resolver {
	return &Resolver{store: store, now: time.Now}
}

// WithClock overrides the clock used for new conversations.
func (r *Resolver) WithClock(now func() time.Time) *Resolver {
	r.now = now
	return r
}

// resolveOrder lists the status buckets in lookup priority.
var resolveOrder = [][]Status{
	{StatusActive},
	{StatusArchived},
	{StatusEnded, StatusClosed},
}

func (r *Resolver) Resolve(ctx context.Context, customer identity.CustomerIdentity, repPhone string) (Handle, error) {
	if customer.IsZero() {
		return Handle{}, apperr.Validation("customer identity is required")
	}
	if repPhone == "" {
		return Handle{}, apperr.Validation("representative phone is required")
	}

	for _, statuses := range resolveOrder {
		found, err := r.store.FindByIdentity(ctx, customer, repPhone, statuses...)
		if err != nil {
			return Handle{}, apperr.Store("find conversation", err)
		}
		if len(found) == 0 {
			continue
		}
		c := found[0]
		return Handle{Conversation: c, Reactivation: c.Status != StatusActive}, nil
	}

	c := &Conversation{
		Customer:  customer,
		RepPhone:  repPhone,
		Mode:      ModeAI,
		Status:    StatusActive,
		CreatedAt: r.now().UTC(),
	}
	if err := r.store.CreateConversation(ctx, c); err != nil {
		return Handle{}, apperr.Store("create conversation", err)
	}
	log.Info().
		Str("conversation_id", c.ID).
		Str("customer", customer.String()).
		Str("rep_phone", repPhone).
		Msg("created conversation")
	return Handle{Conversation: c, Created: true}, nil
}

// Reactivate flips a reactivation candidate back to active.
func Reactivate(ctx context.Context, store ConversationStore, h Handle) (*Conversation, error) {
	if !h.Reactivation {
		return h.Conversation, nil
	}
	active := StatusActive
	c, err := store.PatchConversation(ctx, h.Conversation.ID, Patch{Status: &active})
	if err != nil {
		return nil, fmt.Errorf("reactivate %s: %w", h.Conversation.ID, apperr.Store("patch conversation", err))
	}
	return c, nil
}

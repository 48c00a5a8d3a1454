// Package changefeed notifies subscribers about changes to a conversation.
// Delivery is best-effort: slow subscribers miss events and must re-read state.
package changefeed

import (
	"context"
	"encoding/json"
	"time"

	"github.com/rs/zerolog/log"
)

type Kind string

const (
	MessageCreated      Kind = "message.created"
	MessageEdited       Kind = "message.edited"
	ReceiptsUpdated     Kind = "receipts.updated"
	TypingUpdated       Kind = "typing.updated"
	ConversationUpdated Kind = "conversation.updated"
	SaleCreated         Kind = "sale.created"
	SaleStatusChanged   Kind = "sale.status_changed"
)

type Event struct {
	Kind           Kind            `json:"kind"`
	ConversationID string          `json:"conversation_id"`
	At             time.Time       `json:"at"`
	Payload        json.RawMessage `json:"payload,omitempty"`
}

// NewEvent builds an event, encoding payload as JSON. An unencodable payload is
// dropped rather than failing the caller.
func NewEvent(kind Kind, conversationID string, payload any) Event {
	e := Event{Kind: kind, ConversationID: conversationID, At: time.Now().UTC()}
	if payload != nil {
		if b, err := json.Marshal(payload); err == nil {
			e.Payload = b
		} else {
			log.Warn().Err(err).Str("kind", string(kind)).Msg("changefeed payload not encodable")
		}
	}
	return e
}

type Publisher interface {
	Publish(ctx context.Context, e Event) error
}

type Subscriber interface {
	// Subscribe streams events for one conversation until cancel is called or
	// ctx is done. The channel is closed afterwards.
	Subscribe(ctx context.Context, conversationID string) (<-chan Event, func(), error)
}

// Feed is both ends.
type Feed interface {
	Publisher
	Subscriber
}

// Notify publishes e and logs instead of returning failures. A nil publisher is
// a no-op.
func Notify(ctx context.Context, p Publisher, e Event) {
	if p == nil {
		return
	}
	if err := p.Publish(ctx, e); err != nil {
		log.Warn().Err(err).
			Str("kind", string(e.Kind)).
			Str("conversation_id", e.ConversationID).
			Msg("changefeed publish failed")
	}
}

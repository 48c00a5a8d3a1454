package conversation

import (
	"context"

	"github.com/repchat/internal/apperr"
)

// DisplayStatus is the per-recipient projection of a message's receipts.
type DisplayStatus string

const (
	DisplaySent      DisplayStatus = "sent"
	DisplayDelivered DisplayStatus = "delivered"
	DisplayRead      DisplayStatus = "read"
)

// Tracker records delivery and read receipts. Marks are conversation-scoped,
// only ever added, and safe to repeat or run concurrently.
type Tracker struct {
	store Store
}

func NewTracker(store Store) *Tracker { return &Tracker{store: store} }

// MarkDelivered adds participantID to the delivery set of every message in the
// conversation it did not send. It returns the number of messages changed.
func (t *Tracker) MarkDelivered(ctx context.Context, conversationID, participantID string) (int, error) {
	return t.mark(ctx, conversationID, participantID, ReceiptDelivered)
}

// MarkRead is MarkDelivered for the read set.
func (t *Tracker) MarkRead(ctx context.Context, conversationID, participantID string) (int, error) {
	return t.mark(ctx, conversationID, participantID, ReceiptRead)
}

func (t *Tracker) mark(ctx context.Context, conversationID, participantID string, kind ReceiptKind) (int, error) {
	if participantID == "" {
		return 0, apperr.Validation("participant id is required")
	}
	if _, err := t.store.GetConversation(ctx, conversationID); err != nil {
		return 0, apperr.Store("get conversation", err)
	}
	msgs, err := t.store.ListMessages(ctx, conversationID)
	if err != nil {
		return 0, apperr.Store("list messages", err)
	}
	var ids []string
	for _, m := range msgs {
		if m.SenderID == participantID {
			continue
		}
		set := m.DeliveredTo
		if kind == ReceiptRead {
			set = m.ReadBy
		}
		if !contains(set, participantID) {
			ids = append(ids, m.ID)
		}
	}
	if len(ids) == 0 {
		return 0, nil
	}
	n, err := t.store.AddReceipts(ctx, conversationID, ids, participantID, kind)
	if err != nil {
		return 0, apperr.Store("add receipts", err)
	}
	return n, nil
}

// StatusFor projects msg's status for recipient: read, then delivered, then sent.
func StatusFor(msg *Message, recipient string) DisplayStatus {
	switch {
	case contains(msg.ReadBy, recipient):
		return DisplayRead
	case contains(msg.DeliveredTo, recipient):
		return DisplayDelivered
	default:
		return DisplaySent
	}
}

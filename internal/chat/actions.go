package chat

import (
	"context"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/repchat/internal/apperr"
	"github.com/repchat/internal/changefeed"
	"github.com/repchat/internal/conversation"
)

// EditMessage replaces the content of a message. Only its author may edit it;
// id, sender and timestamp never change.
func (s *Service) EditMessage(ctx context.Context, conversationID, messageID, editorID, content string) (*conversation.Message, error) {
	content = strings.TrimSpace(content)
	if content == "" {
		return nil, apperr.Validation("message content is empty")
	}
	if len([]rune(content)) > maxContentRunes {
		return nil, apperr.Validation("message exceeds %d characters", maxContentRunes)
	}
	orig, err := s.store.GetMessage(ctx, conversationID, messageID)
	if err != nil {
		return nil, err
	}
	if orig.SenderID != editorID {
		return nil, apperr.Validation("only the author can edit a message")
	}
	msg, err := s.store.EditMessage(ctx, conversationID, messageID, content, s.now().UTC())
	if err != nil {
		return nil, err
	}
	s.publish(ctx, changefeed.MessageEdited, conversationID, msg)
	return msg, nil
}

// SetTyping records a typing indicator and returns who is typing now.
func (s *Service) SetTyping(ctx context.Context, conversationID, participantID string, typing bool) ([]string, error) {
	if participantID == "" {
		return nil, apperr.Validation("participant id is required")
	}
	if _, err := s.store.GetConversation(ctx, conversationID); err != nil {
		return nil, err
	}
	changed := s.typing.Set(conversationID, participantID, typing)
	who := s.typing.Participants(conversationID)
	if changed {
		s.publish(ctx, changefeed.TypingUpdated, conversationID, map[string]any{"participants": who})
	}
	return who, nil
}

func (s *Service) Typing(conversationID string) []string {
	return s.typing.Participants(conversationID)
}

// TranscriptEntry is a message with its status as seen by one recipient.
type TranscriptEntry struct {
	*conversation.Message
	Status conversation.DisplayStatus `json:"status,omitempty"`
}

// Transcript lists messages in order. When recipient is set each entry carries
// the read/delivered/sent status for that recipient.
func (s *Service) Transcript(ctx context.Context, conversationID, recipient string) ([]TranscriptEntry, error) {
	if _, err := s.store.GetConversation(ctx, conversationID); err != nil {
		return nil, err
	}
	msgs, err := s.store.ListMessages(ctx, conversationID)
	if err != nil {
		return nil, err
	}
	out := make([]TranscriptEntry, len(msgs))
	for i, m := range msgs {
		out[i] = TranscriptEntry{Message: m}
		if recipient != "" {
			out[i].Status = conversation.StatusFor(m, recipient)
		}
	}
	return out, nil
}

func (s *Service) MarkDelivered(ctx context.Context, conversationID, participantID string) (int, error) {
	n, err := s.tracker.MarkDelivered(ctx, conversationID, participantID)
	if err == nil && n > 0 {
		s.publish(ctx, changefeed.ReceiptsUpdated, conversationID, map[string]any{"participant": participantID, "kind": conversation.ReceiptDelivered, "count": n})
	}
	return n, err
}

func (s *Service) MarkRead(ctx context.Context, conversationID, participantID string) (int, error) {
	n, err := s.tracker.MarkRead(ctx, conversationID, participantID)
	if err == nil && n > 0 {
		s.publish(ctx, changefeed.ReceiptsUpdated, conversationID, map[string]any{"participant": participantID, "kind": conversation.ReceiptRead, "count": n})
	}
	return n, err
}

// SetStatus archives, ends, closes or reactivates a conversation. Making one
// active is refused while another conversation for the same pair is active.
func (s *Service) SetStatus(ctx context.Context, conversationID string, status conversation.Status) (*conversation.Conversation, error) {
	if !status.Valid() {
		return nil, apperr.Validation("unknown status %q", status)
	}
	conv, err := s.store.GetConversation(ctx, conversationID)
	if err != nil {
		return nil, err
	}
	if conv.Status == status {
		return conv, nil
	}
	if status == conversation.StatusActive {
		active, err := s.store.FindByIdentity(ctx, conv.Customer, conv.RepPhone, conversation.StatusActive)
		if err != nil {
			return nil, apperr.Store("find conversation", err)
		}
		for _, other := range active {
			if other.ID != conv.ID {
				return nil, apperr.Validation("conversation %s is already active for this customer", other.ID)
			}
		}
	}
	conv, err = s.store.PatchConversation(ctx, conversationID, conversation.Patch{Status: &status})
	if err != nil {
		return nil, err
	}
	log.Info().Str("conversation_id", conv.ID).Str("status", string(status)).Msg("conversation status changed")
	s.publish(ctx, changefeed.ConversationUpdated, conv.ID, conv)
	return conv, nil
}

// Conversation loads one conversation.
func (s *Service) Conversation(ctx context.Context, id string) (*conversation.Conversation, error) {
	return s.store.GetConversation(ctx, id)
}

package chat

import (
	"context"
	"errors"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/repchat/internal/apperr"
	"github.com/repchat/internal/conversation"
	"github.com/repchat/internal/identity"
)

// ErrRelayEcho is returned for bridge webhooks reporting a message this
// service relayed itself. Callers acknowledge and drop them.
var ErrRelayEcho = errors.New("chat: bridge echo of a relayed widget message")

// InboundSMS is an SMS delivered by the provider webhook. BridgeRef is set when
// the message arrived through a bridge session.
type InboundSMS struct {
	From      string
	To        string
	Body      string
	BridgeRef string
	Author    string
}

// HandleInboundSMS maps an inbound SMS to a conversation, by bridge reference
// when present, otherwise by the (sender, receiving rep number) pair, and
// appends it. Texts from the rep are stored as ADMIN, all others as USER.
func (s *Service) HandleInboundSMS(ctx context.Context, in InboundSMS) (*conversation.Message, error) {
	if strings.HasPrefix(in.Author, RelayAuthorPrefix) {
		return nil, ErrRelayEcho
	}
	conv, err := s.route(ctx, in)
	if err != nil {
		return nil, err
	}

	from := in.From
	if in.Author != "" {
		from = in.Author
	}
	if normalized, err := identity.NormalizePhone(from); err == nil {
		from = normalized
	}
	sender := conversation.SenderUser
	if from == conv.RepPhone {
		sender = conversation.SenderAdmin
	}
	conv, msg, err := s.append(ctx, SendInput{ConversationID: conv.ID, Sender: sender, SenderID: from, Content: in.Body})
	if err != nil {
		return nil, err
	}
	if sender == conversation.SenderUser {
		s.detect(ctx, conv, msg)
	}
	log.Info().Str("conversation_id", conv.ID).Str("sender", string(sender)).Msg("inbound sms stored")
	return msg, nil
}

func (s *Service) route(ctx context.Context, in InboundSMS) (*conversation.Conversation, error) {
	if in.BridgeRef != "" {
		conv, err := s.store.FindByBridgeRef(ctx, in.BridgeRef)
		if err == nil {
			return conv, nil
		}
		if !errors.Is(err, apperr.ErrNotFound) {
			return nil, err
		}
		log.Warn().Str("bridge_ref", in.BridgeRef).Msg("unknown bridge reference, routing by phone numbers")
	}

	customer, err := identity.FromPhone(in.From)
	if err != nil {
		return nil, apperr.Validation("inbound sender: %v", err)
	}
	rep, err := identity.NormalizePhone(in.To)
	if err != nil {
		return nil, apperr.Validation("inbound recipient: %v", err)
	}
	res, err := s.StartChat(ctx, StartInput{Customer: customer, RepPhone: rep})
	if err != nil {
		return nil, err
	}
	return res.Conversation, nil
}

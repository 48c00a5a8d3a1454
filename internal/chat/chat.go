// Package chat is the entry point for widget, webhook and admin chat actions.
// It ties the resolver, transcript store, receipts, typing, sale detection, the
// assistant and the SMS bridge together.
package chat

import (
	"context"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/repchat/internal/apperr"
	"github.com/repchat/internal/assistant"
	"github.com/repchat/internal/besteffort"
	"github.com/repchat/internal/changefeed"
	"github.com/repchat/internal/conversation"
	"github.com/repchat/internal/identity"
	"github.com/repchat/internal/sales"
)

const (
	AssistantSenderID = "assistant"
	// RelayAuthorPrefix marks bridge messages that originated in the widget.
	RelayAuthorPrefix = "widget:"
	maxContentRunes   = 4000
)

// Assistant answers customers while a conversation is in AI mode.
type Assistant interface {
	Reply(ctx context.Context, transcript []*conversation.Message) (assistant.Reply, error)
}

// Relay forwards a widget message into the SMS bridge.
type Relay interface {
	Relay(ctx context.Context, bridgeRef, author, body string) error
}

// Detector applies sale detection to customer messages.
type Detector interface {
	EvaluateMessage(ctx context.Context, conv *conversation.Conversation, msg *conversation.Message) (sales.Detection, error)
}

type Service struct {
	store     conversation.Store
	resolver  *conversation.Resolver
	tracker   *conversation.Tracker
	typing    *conversation.TypingRegistry
	detector  Detector
	assistant Assistant
	relay     Relay
	feed      changefeed.Publisher
	timeout   time.Duration
	now       func() time.Time
}

type Option func(*Service)

func WithDetector(d Detector) Option              { return func(s *Service) { s.detector = d } }
func WithAssistant(a Assistant) Option            { return func(s *Service) { s.assistant = a } }
func WithRelay(r Relay) Option                    { return func(s *Service) { s.relay = r } }
func WithPublisher(p changefeed.Publisher) Option { return func(s *Service) { s.feed = p } }
func WithTyping(r *conversation.TypingRegistry) Option {
	return func(s *Service) { s.typing = r }
}
func WithClock(now func() time.Time) Option { return func(s *Service) { s.now = now } }

// WithSideEffectTimeout bounds assistant and relay calls.
func WithSideEffectTimeout(d time.Duration) Option {
	return func(s *Service) {
		if d > 0 {
			s.timeout = d
		}
	}
}

func NewService(store conversation.Store, opts ...Option) *Service {
	s := &Service{
		store:   store,
		tracker: conversation.NewTracker(store),
		timeout: 20 * time.Second,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.typing == nil {
		s.typing = conversation.NewTypingRegistry(8*time.Second, s.now)
	}
	s.resolver = conversation.NewResolver(store).WithClock(s.now)
	return s
}

type StartInput struct {
	Customer identity.CustomerIdentity
	RepPhone string
	Profile  *conversation.CustomerProfile
}

type StartResult struct {
	Conversation *conversation.Conversation `json:"conversation"`
	Created      bool                       `json:"created"`
	Reactivated  bool                       `json:"reactivated"`
}

// StartChat resolves the conversation for a customer and rep, reactivating an
// older thread when there is no active one, and records any profile fields.
func (s *Service) StartChat(ctx context.Context, in StartInput) (StartResult, error) {
	h, err := s.resolver.Resolve(ctx, in.Customer, in.RepPhone)
	if err != nil {
		return StartResult{}, err
	}
	res := StartResult{Conversation: h.Conversation, Created: h.Created}
	if h.Reactivation {
		c, err := conversation.Reactivate(ctx, s.store, h)
		if err != nil {
			return StartResult{}, err
		}
		res.Conversation = c
		res.Reactivated = true
		log.Info().Str("conversation_id", c.ID).Msg("conversation reactivated")
	}
	if in.Profile != nil {
		merged := mergeProfile(res.Conversation.Profile, *in.Profile, s.now())
		c, err := s.store.PatchConversation(ctx, res.Conversation.ID, conversation.Patch{Profile: &merged})
		if err != nil {
			return StartResult{}, err
		}
		res.Conversation = c
	}
	if res.Reactivated || in.Profile != nil {
		s.publish(ctx, changefeed.ConversationUpdated, res.Conversation.ID, res.Conversation)
	}
	return res, nil
}

type SendInput struct {
	ConversationID string
	Sender         conversation.Sender
	SenderID       string
	Content        string
}

// SendResult holds the stored message plus the outcome of follow-up work.
type SendResult struct {
	Message   *conversation.Message                    `json:"message"`
	Detection *sales.Detection                         `json:"detection,omitempty"`
	Assistant besteffort.Result[*conversation.Message] `json:"assistant"`
	Relay     besteffort.Result[struct{}]              `json:"relay"`
}

// SendMessage appends a message. Only the append can fail the call; detection,
// the assistant reply and the bridge relay are reported in the result.
func (s *Service) SendMessage(ctx context.Context, in SendInput) (SendResult, error) {
	conv, msg, err := s.append(ctx, in)
	if err != nil {
		return SendResult{}, err
	}
	res := SendResult{
		Message:   msg,
		Assistant: besteffort.Skip[*conversation.Message]("not applicable"),
		Relay:     besteffort.Skip[struct{}]("not applicable"),
	}
	if msg.Sender != conversation.SenderUser {
		return res, nil
	}
	res.Detection = s.detect(ctx, conv, msg)

	switch conv.Mode {
	case conversation.ModeAI:
		res.Assistant = s.answer(ctx, conv)
	case conversation.ModeHuman:
		res.Relay = s.forward(ctx, conv, msg)
	}
	return res, nil
}

func (s *Service) append(ctx context.Context, in SendInput) (*conversation.Conversation, *conversation.Message, error) {
	content := strings.TrimSpace(in.Content)
	switch {
	case content == "":
		return nil, nil, apperr.Validation("message content is empty")
	case len([]rune(content)) > maxContentRunes:
		return nil, nil, apperr.Validation("message exceeds %d characters", maxContentRunes)
	case in.SenderID == "":
		return nil, nil, apperr.Validation("sender id is required")
	}
	switch in.Sender {
	case conversation.SenderUser, conversation.SenderAdmin, conversation.SenderAI:
	default:
		return nil, nil, apperr.Validation("unknown sender %q", in.Sender)
	}

	conv, err := s.store.GetConversation(ctx, in.ConversationID)
	if err != nil {
		return nil, nil, err
	}
	msg := &conversation.Message{
		ConversationID: conv.ID,
		Sender:         in.Sender,
		SenderID:       in.SenderID,
		Content:        content,
		Timestamp:      s.now().UTC(),
	}
	if err := s.store.AppendMessage(ctx, msg); err != nil {
		return nil, nil, err
	}
	if s.typing.Set(conv.ID, in.SenderID, false) {
		s.publish(ctx, changefeed.TypingUpdated, conv.ID, map[string]any{"participants": s.typing.Participants(conv.ID)})
	}
	s.publish(ctx, changefeed.MessageCreated, conv.ID, msg)
	return conv, msg, nil
}

func (s *Service) detect(ctx context.Context, conv *conversation.Conversation, msg *conversation.Message) *sales.Detection {
	if s.detector == nil {
		return nil
	}
	d, err := s.detector.EvaluateMessage(ctx, conv, msg)
	if err != nil {
		log.Error().Err(err).Str("conversation_id", conv.ID).Str("message_id", msg.ID).Msg("sale detection failed")
		return nil
	}
	return &d
}

func (s *Service) answer(ctx context.Context, conv *conversation.Conversation) besteffort.Result[*conversation.Message] {
	if s.assistant == nil {
		return besteffort.Skip[*conversation.Message]("assistant not configured")
	}
	transcript, err := s.store.ListMessages(ctx, conv.ID)
	if err != nil {
		return besteffort.Fail[*conversation.Message](err)
	}
	actx, cancel := context.WithTimeout(ctx, s.timeout)
	reply, err := s.assistant.Reply(actx, transcript)
	cancel()
	if err != nil {
		log.Warn().Err(err).Str("conversation_id", conv.ID).Msg("assistant reply failed")
		return besteffort.Fail[*conversation.Message](apperr.Integration("assistant", err))
	}
	_, msg, err := s.append(ctx, SendInput{
		ConversationID: conv.ID,
		Sender:         conversation.SenderAI,
		SenderID:       AssistantSenderID,
		Content:        reply.Text,
	})
	if err != nil {
		return besteffort.Fail[*conversation.Message](err)
	}
	if reply.WantsHuman {
		s.publish(ctx, changefeed.ConversationUpdated, conv.ID, map[string]any{"wants_human": true})
	}
	return besteffort.Ok(msg)
}

func (s *Service) forward(ctx context.Context, conv *conversation.Conversation, msg *conversation.Message) besteffort.Result[struct{}] {
	if conv.BridgeRef == "" {
		return besteffort.Skip[struct{}]("no bridge")
	}
	if s.relay == nil {
		return besteffort.Skip[struct{}]("relay not configured")
	}
	rctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	if err := s.relay.Relay(rctx, conv.BridgeRef, RelayAuthorPrefix+conv.Customer.Key(), msg.Content); err != nil {
		log.Warn().Err(err).Str("conversation_id", conv.ID).Str("bridge_ref", conv.BridgeRef).Msg("bridge relay failed")
		return besteffort.Fail[struct{}](apperr.Integration("bridge relay", err))
	}
	return besteffort.Ok(struct{}{})
}

func (s *Service) publish(ctx context.Context, kind changefeed.Kind, conversationID string, payload any) {
	changefeed.Notify(ctx, s.feed, changefeed.NewEvent(kind, conversationID, payload))
}

// mergeProfile applies newly supplied fields over the stored profile.
func mergeProfile(stored *conversation.CustomerProfile, in conversation.CustomerProfile, now time.Time) conversation.CustomerProfile {
	var p conversation.CustomerProfile
	if stored != nil {
		p = *stored
	}
	if in.Name != "" {
		p.Name = in.Name
	}
	if in.DateOfBirth != "" {
		p.DateOfBirth = in.DateOfBirth
	}
	if in.Consent && !p.Consent {
		p.Consent = true
		at := now.UTC()
		if in.ConsentAt != nil {
			at = *in.ConsentAt
		}
		p.ConsentAt = &at
	}
	p.Intake = p.Intake.Merge(in.Intake)
	return p
}

// Package handoff moves a conversation from the AI assistant to a human
// representative.
package handoff

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/repchat/internal/apperr"
	"github.com/repchat/internal/besteffort"
	"github.com/repchat/internal/changefeed"
	"github.com/repchat/internal/conversation"
	"github.com/repchat/internal/identity"
)

// Participant is someone joined to a bridge session over SMS.
type Participant struct {
	Phone string
}

// Bridge provisions live-messaging sessions between a customer and a rep.
type Bridge interface {
	Provision(ctx context.Context, customer identity.CustomerIdentity, repPhone string) (string, error)
	AddParticipant(ctx context.Context, bridgeRef string, p Participant) error
}

// Notifier delivers a text to a representative.
type Notifier interface {
	Send(ctx context.Context, toPhone, text string) error
}

const (
	SystemSenderID  = "system"
	TransferMessage = "You're now connected with a member of our team. They'll reply here shortly."
	purchaseMarker  = "purchasing"
)

// Result reports the handoff. Bridge and Notification never make the handoff
// fail; inspect them to see what happened.
type Result struct {
	Conversation *conversation.Conversation
	Bridge       besteffort.Result[string]
	Notification besteffort.Result[struct{}]
	Message      *conversation.Message
}

type Coordinator struct {
	store    conversation.Store
	bridge   Bridge
	notifier Notifier
	feed     changefeed.Publisher
	timeout  time.Duration
	now      func() time.Time
}

type Option func(*Coordinator)

func WithBridge(b Bridge) Option                  { return func(c *Coordinator) { c.bridge = b } }
func WithNotifier(n Notifier) Option              { return func(c *Coordinator) { c.notifier = n } }
func WithPublisher(p changefeed.Publisher) Option { return func(c *Coordinator) { c.feed = p } }
func WithClock(now func() time.Time) Option       { return func(c *Coordinator) { c.now = now } }

// WithTimeout bounds each external call.
func WithTimeout(d time.Duration) Option {
	return func(c *Coordinator) {
		if d > 0 {
			c.timeout = d
		}
	}
}

func NewCoordinator(store conversation.Store, opts ...Option) *Coordinator {
	c := &Coordinator{store: store, timeout: 10 * time.Second, now: time.Now}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// TransferToHuman records the intake answers and flips the conversation to
// HUMAN mode, then provisions a bridge and notifies the rep on a best-effort
// basis, and finally appends the transfer notice to the transcript. Only the
// mode flip and the notice can fail the call. Repeating the call is safe: a
// bridge left without participants is provisioned again and the notice is not
// posted twice.
func (c *Coordinator) TransferToHuman(ctx context.Context, conversationID string, answers conversation.IntakeAnswers) (Result, error) {
	conv, err := c.store.GetConversation(ctx, conversationID)
	if err != nil {
		return Result{}, err
	}

	wasHuman := conv.Mode == conversation.ModeHuman

	var profile conversation.CustomerProfile
	if conv.Profile != nil {
		profile = *conv.Profile
	}
	profile.Intake = profile.Intake.Merge(answers)
	human := conversation.ModeHuman
	conv, err = c.store.PatchConversation(ctx, conversationID, conversation.Patch{Mode: &human, Profile: &profile})
	if err != nil {
		return Result{}, fmt.Errorf("switch to human mode: %w", err)
	}
	logger := log.With().Str("conversation_id", conv.ID).Logger()
	logger.Info().Msg("conversation handed to human")

	res := Result{Conversation: conv}
	res.Bridge = c.ensureBridge(ctx, conv)
	if res.Bridge.Succeeded() && conv.BridgeRef == "" {
		conv.BridgeRef = res.Bridge.Value
	}
	if res.Bridge.Failed() {
		logger.Warn().Err(res.Bridge.Cause()).Msg("bridge not provisioned, continuing")
	}
	res.Notification = c.notifyRep(ctx, conv)
	if res.Notification.Failed() {
		logger.Warn().Err(res.Notification.Cause()).Msg("rep notification failed, continuing")
	}
	changefeed.Notify(ctx, c.feed, changefeed.NewEvent(changefeed.ConversationUpdated, conv.ID, map[string]any{
		"mode": conv.Mode, "bridge_ref": conv.BridgeRef,
	}))

	if wasHuman {
		if prior := c.priorNotice(ctx, conv.ID); prior != nil {
			res.Message = prior
			return res, nil
		}
	}

	msg := &conversation.Message{
		ConversationID: conv.ID,
		Sender:         conversation.SenderAI,
		SenderID:       SystemSenderID,
		Content:        TransferMessage,
		Timestamp:      c.now().UTC(),
	}
	if err := c.store.AppendMessage(ctx, msg); err != nil {
		logger.Error().Err(err).Msg("transfer notice not recorded")
		return res, fmt.Errorf("record transfer notice: %w", err)
	}
	res.Message = msg
	changefeed.Notify(ctx, c.feed, changefeed.NewEvent(changefeed.MessageCreated, conv.ID, msg))
	return res, nil
}

// priorNotice returns the transfer notice when it is the latest system message,
// so a repeated transfer does not post it again.
func (c *Coordinator) priorNotice(ctx context.Context, conversationID string) *conversation.Message {
	msgs, err := c.store.ListMessages(ctx, conversationID)
	if err != nil {
		log.Warn().Err(err).Str("conversation_id", conversationID).Msg("could not check for an earlier transfer notice")
		return nil
	}
	for i := len(msgs) - 1; i >= 0; i-- {
		if msgs[i].SenderID != SystemSenderID {
			continue
		}
		if msgs[i].Content == TransferMessage {
			return msgs[i]
		}
		return nil
	}
	return nil
}

// ensureBridge provisions a bridge and joins the participants. The ref is only
// stored once everyone is in, so a failed attempt is redone on the next call.
func (c *Coordinator) ensureBridge(ctx context.Context, conv *conversation.Conversation) besteffort.Result[string] {
	if conv.BridgeRef != "" {
		r := besteffort.Skip[string]("bridge already provisioned")
		r.Value = conv.BridgeRef
		return r
	}
	if c.bridge == nil {
		return besteffort.Skip[string]("bridge not configured")
	}

	pctx, cancel := context.WithTimeout(ctx, c.timeout)
	ref, err := c.bridge.Provision(pctx, conv.Customer, conv.RepPhone)
	cancel()
	if err != nil {
		return besteffort.Fail[string](apperr.Integration("bridge provision", err))
	}
	participants := []Participant{{Phone: conv.RepPhone}}
	if phone, ok := conv.Customer.PhoneNumber(); ok {
		participants = append(participants, Participant{Phone: phone})
	}
	for _, p := range participants {
		actx, cancel := context.WithTimeout(ctx, c.timeout)
		err := c.bridge.AddParticipant(actx, ref, p)
		cancel()
		if err != nil {
			r := besteffort.Fail[string](apperr.Integration("bridge participant", err))
			r.Value = ref
			return r
		}
	}
	if _, err := c.store.PatchConversation(ctx, conv.ID, conversation.Patch{BridgeRef: &ref}); err != nil {
		r := besteffort.Fail[string](fmt.Errorf("persist bridge ref %s: %w", ref, err))
		r.Value = ref
		return r
	}
	return besteffort.Ok(ref)
}

func (c *Coordinator) notifyRep(ctx context.Context, conv *conversation.Conversation) besteffort.Result[struct{}] {
	if c.notifier == nil {
		return besteffort.Skip[struct{}]("notifier not configured")
	}
	nctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	if err := c.notifier.Send(nctx, conv.RepPhone, Summary(conv)); err != nil {
		return besteffort.Fail[struct{}](apperr.Integration("notify rep", err))
	}
	return besteffort.Ok(struct{}{})
}

// PurchaseIntent reports whether any intake interest mentions purchasing.
func PurchaseIntent(a conversation.IntakeAnswers) bool {
	for _, in := range a.Interests {
		if strings.Contains(strings.ToLower(in), purchaseMarker) {
			return true
		}
	}
	return false
}

// Summary is the text sent to the rep when a customer asks for a human.
func Summary(conv *conversation.Conversation) string {
	var b strings.Builder
	var intake conversation.IntakeAnswers
	name := ""
	if conv.Profile != nil {
		intake = conv.Profile.Intake
		name = conv.Profile.Name
	}
	if PurchaseIntent(intake) {
		b.WriteString("[PURCHASE INTENT] ")
	}
	who := conv.Customer.Value()
	if conv.Customer.Kind() == identity.KindInstagram {
		who = "@" + who
	}
	if name != "" {
		who = name + " (" + who + ")"
	}
	fmt.Fprintf(&b, "New %s chat from %s wants a human.", conv.Channel(), who)
	if len(intake.Goals) > 0 {
		fmt.Fprintf(&b, " Goals: %s.", strings.Join(intake.Goals, ", "))
	}
	if intake.JourneyStage != "" {
		fmt.Fprintf(&b, " Stage: %s.", intake.JourneyStage)
	}
	if len(intake.Interests) > 0 {
		fmt.Fprintf(&b, " Interests: %s.", strings.Join(intake.Interests, ", "))
	}
	return b.String()
}

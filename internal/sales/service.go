package sales

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/repchat/internal/apperr"
	"github.com/repchat/internal/audit"
	"github.com/repchat/internal/changefeed"
	"github.com/repchat/internal/conversation"
	"github.com/repchat/internal/reps"
)

const (
	subjectSale  = "sale"
	systemActor  = "system"
	autoDetected = "auto-detected from message keywords"
)

// Service records sales, keeps their audit trail and applies keyword detection
// to inbound messages.
type Service struct {
	sales  Store
	convs  conversation.Store
	audit  audit.Sink
	reps   reps.Directory
	scorer *Scorer
	policy Policy
	feed   changefeed.Publisher
	now    func() time.Time
}

type Option func(*Service)

func WithPolicy(p Policy) Option                  { return func(s *Service) { s.policy = p } }
func WithPublisher(p changefeed.Publisher) Option { return func(s *Service) { s.feed = p } }
func WithClock(now func() time.Time) Option       { return func(s *Service) { s.now = now } }

func NewService(sales Store, convs conversation.Store, sink audit.Sink, dir reps.Directory, opts ...Option) *Service {
	s := &Service{
		sales:  sales,
		convs:  convs,
		audit:  sink,
		reps:   dir,
		scorer: NewScorer(),
		policy: DefaultPolicy(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

type MarkSaleInput struct {
	ConversationID string
	Amount         decimal.Decimal
	Details        string
	Date           time.Time
	Notes          string
	Actor          string
}

// MarkSaleResult always carries the created sale. Incomplete names the
// follow-up writes that failed after creation.
type MarkSaleResult struct {
	Sale       *Sale     `json:"sale"`
	Evidence   *Evidence `json:"evidence,omitempty"`
	Incomplete []string  `json:"incomplete,omitempty"`
}

// MarkSale records a manual sale for a conversation. A non-positive amount is
// rejected before anything is written. Once the sale exists the call succeeds;
// failures to link it, snapshot evidence or audit it are reported in the result.
func (s *Service) MarkSale(ctx context.Context, in MarkSaleInput) (MarkSaleResult, error) {
	if !in.Amount.IsPositive() {
		return MarkSaleResult{}, apperr.Validation("sale amount must be greater than zero")
	}
	if strings.TrimSpace(in.Actor) == "" {
		return MarkSaleResult{}, apperr.Validation("actor is required")
	}
	conv, err := s.convs.GetConversation(ctx, in.ConversationID)
	if err != nil {
		return MarkSaleResult{}, err
	}

	sale := s.newSale(ctx, conv, in.Amount, DetectionManual)
	sale.Details = in.Details
	sale.Notes = in.Notes
	if !in.Date.IsZero() {
		sale.SaleDate = in.Date
	}
	if err := s.sales.CreateSale(ctx, sale); err != nil {
		return MarkSaleResult{}, err
	}
	logger := log.With().Str("sale_id", sale.ID).Str("conversation_id", conv.ID).Logger()
	logger.Info().Str("amount", sale.SaleAmount.StringFixed(2)).Str("channel", string(sale.Channel)).Msg("sale recorded")

	res := MarkSaleResult{Sale: sale}
	fail := func(step string, err error) {
		res.Incomplete = append(res.Incomplete, step)
		logger.Error().Err(err).Str("step", step).Msg("sale follow-up write failed")
	}

	if err := s.linkConversation(ctx, conv.ID, sale); err != nil {
		fail("sale_ref", err)
	}
	ev, err := s.snapshot(ctx, conv.ID, sale.ID)
	if err != nil {
		fail("evidence", err)
	} else {
		res.Evidence = ev
	}
	if err := s.audit.Append(ctx, &audit.Entry{
		Actor:       in.Actor,
		Action:      audit.ActionCreated,
		Reason:      in.Notes,
		SubjectID:   sale.ID,
		SubjectType: subjectSale,
		NewStatus:   string(sale.Status),
		Timestamp:   s.now().UTC(),
	}); err != nil {
		fail("audit", err)
	}
	changefeed.Notify(ctx, s.feed, changefeed.NewEvent(changefeed.SaleCreated, conv.ID, sale))
	return res, nil
}

// SetSaleStatus moves a sale to any of the four statuses and appends an audit
// entry. Amounts are untouched. When the audit append fails the updated sale is
// returned together with the error.
func (s *Service) SetSaleStatus(ctx context.Context, saleID string, status Status, reason, actor string) (*Sale, error) {
	if !status.Valid() {
		return nil, apperr.Validation("unknown sale status %q", status)
	}
	if strings.TrimSpace(actor) == "" {
		return nil, apperr.Validation("actor is required")
	}
	sale, old, err := s.sales.UpdateStatus(ctx, saleID, status)
	if err != nil {
		return nil, err
	}
	logger := log.With().Str("sale_id", sale.ID).Logger()

	if conv, err := s.convs.GetConversation(ctx, sale.ConversationID); err == nil &&
		conv.SaleRef != nil && conv.SaleRef.SaleID == sale.ID {
		if err := s.linkConversation(ctx, conv.ID, sale); err != nil {
			logger.Warn().Err(err).Msg("conversation sale status not refreshed")
		}
	}
	changefeed.Notify(ctx, s.feed, changefeed.NewEvent(changefeed.SaleStatusChanged, sale.ConversationID, map[string]string{
		"sale_id": sale.ID, "old_status": string(old), "new_status": string(status),
	}))

	if err := s.audit.Append(ctx, &audit.Entry{
		Actor:       actor,
		Action:      audit.ActionStatusChanged,
		Reason:      reason,
		SubjectID:   sale.ID,
		SubjectType: subjectSale,
		OldStatus:   string(old),
		NewStatus:   string(status),
		Timestamp:   s.now().UTC(),
	}); err != nil {
		logger.Error().Err(err).Msg("status change not audited")
		return sale, fmt.Errorf("status updated but audit failed: %w", err)
	}
	logger.Info().Str("old_status", string(old)).Str("new_status", string(status)).Str("actor", actor).Msg("sale status changed")
	return sale, nil
}

// Detection is the outcome of scoring one inbound message.
type Detection struct {
	Score    Score `json:"score"`
	Flagged  bool  `json:"flagged"`
	AutoSale *Sale `json:"auto_sale,omitempty"`
}

// EvaluateMessage scores msg, flags the conversation as a potential sale when
// the policy says so, and drafts a pending sale when the stricter auto policy
// fires and the conversation has no sale yet.
func (s *Service) EvaluateMessage(ctx context.Context, conv *conversation.Conversation, msg *conversation.Message) (Detection, error) {
	d := Detection{Score: s.scorer.Score(msg.Content)}
	d.Flagged = s.policy.ShouldFlag(d.Score)
	if d.Flagged && !conv.PotentialSale {
		yes := true
		if _, err := s.convs.PatchConversation(ctx, conv.ID, conversation.Patch{PotentialSale: &yes}); err != nil {
			return d, err
		}
		conv.PotentialSale = true
	}
	if !s.policy.ShouldAutoCreate(d.Score) || conv.SaleRef != nil {
		return d, nil
	}

	sale := s.newSale(ctx, conv, decimal.Zero, DetectionAuto)
	sale.Details = autoDetected
	if err := s.sales.CreateSale(ctx, sale); err != nil {
		return d, err
	}
	d.AutoSale = sale
	logger := log.With().Str("sale_id", sale.ID).Str("conversation_id", conv.ID).Logger()
	logger.Info().Str("confidence", string(d.Score.Confidence)).Msg("pending sale auto-created")

	if err := s.linkConversation(ctx, conv.ID, sale); err != nil {
		logger.Error().Err(err).Msg("auto sale not linked to conversation")
	} else {
		conv.SaleRef = &conversation.SaleRef{SaleID: sale.ID, Status: string(sale.Status)}
	}
	if _, err := s.snapshot(ctx, conv.ID, sale.ID); err != nil {
		logger.Error().Err(err).Msg("auto sale evidence not recorded")
	}
	if err := s.audit.Append(ctx, &audit.Entry{
		Actor:       systemActor,
		Action:      audit.ActionAutoDetected,
		Reason:      fmt.Sprintf("%s confidence, message %s", d.Score.Confidence, msg.ID),
		SubjectID:   sale.ID,
		SubjectType: subjectSale,
		NewStatus:   string(sale.Status),
		Timestamp:   s.now().UTC(),
	}); err != nil {
		logger.Error().Err(err).Msg("auto sale not audited")
	}
	changefeed.Notify(ctx, s.feed, changefeed.NewEvent(changefeed.SaleCreated, conv.ID, sale))
	return d, nil
}

func (s *Service) GetSale(ctx context.Context, id string) (*Sale, error) {
	return s.sales.GetSale(ctx, id)
}

func (s *Service) GetEvidence(ctx context.Context, saleID string) (*Evidence, error) {
	return s.sales.GetEvidence(ctx, saleID)
}

// ListAudit returns the audit trail of a sale, oldest first.
func (s *Service) ListAudit(ctx context.Context, saleID string) ([]*audit.Entry, error) {
	if _, err := s.sales.GetSale(ctx, saleID); err != nil {
		return nil, err
	}
	return s.audit.List(ctx, saleID)
}

// Reassign moves sales from a merged-away conversation to its survivor.
func (s *Service) Reassign(ctx context.Context, fromConversationID, toConversationID string) error {
	return s.sales.ReassignConversation(ctx, fromConversationID, toConversationID)
}

func (s *Service) newSale(ctx context.Context, conv *conversation.Conversation, amount decimal.Decimal, method DetectionMethod) *Sale {
	ch := conv.Channel()
	now := s.now().UTC()
	return &Sale{
		ConversationID:   conv.ID,
		Channel:          ch,
		CommissionRate:   RateFor(ch),
		SaleAmount:       amount,
		CommissionAmount: Commission(amount, ch),
		Status:           StatusPendingReview,
		DetectionMethod:  method,
		Rep:              s.repSnapshot(ctx, conv.RepPhone),
		SaleDate:         now,
		CreatedAt:        now,
	}
}

func (s *Service) repSnapshot(ctx context.Context, phone string) RepSnapshot {
	snap := RepSnapshot{Phone: phone}
	if s.reps == nil {
		return snap
	}
	r, err := s.reps.ByPhone(ctx, phone)
	if err != nil {
		if !errors.Is(err, apperr.ErrNotFound) {
			log.Warn().Err(err).Str("rep_phone", phone).Msg("rep lookup failed, snapshot has phone only")
		}
		return snap
	}
	snap.ID = r.ID
	snap.Name = r.Name
	return snap
}

func (s *Service) linkConversation(ctx context.Context, conversationID string, sale *Sale) error {
	_, err := s.convs.PatchConversation(ctx, conversationID, conversation.Patch{
		SaleRef: &conversation.SaleRef{SaleID: sale.ID, Status: string(sale.Status)},
	})
	return err
}

func (s *Service) snapshot(ctx context.Context, conversationID, saleID string) (*Evidence, error) {
	msgs, err := s.convs.ListMessages(ctx, conversationID)
	if err != nil {
		return nil, err
	}
	transcript := make([]conversation.Message, len(msgs))
	text := make([]string, len(msgs))
	for i, m := range msgs {
		transcript[i] = *m
		text[i] = m.Content
	}
	ev := &Evidence{
		SaleID:     saleID,
		Transcript: transcript,
		Matches:    s.scorer.Locate(msgs),
		Confidence: s.scorer.Score(strings.Join(text, "\n")).Confidence,
		CreatedAt:  s.now().UTC(),
	}
	if err := s.sales.SaveEvidence(ctx, ev); err != nil {
		return nil, err
	}
	return ev, nil
}

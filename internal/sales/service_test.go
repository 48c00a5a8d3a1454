package sales

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/repchat/internal/apperr"
	"github.com/repchat/internal/audit"
	"github.com/repchat/internal/conversation"
	"github.com/repchat/internal/identity"
	"github.com/repchat/internal/reps"
)

const repPhone = "+15559998888"

type fixture struct {
	svc   *Service
	sales *MemoryStore
	convs *conversation.InMemoryStore
	sink  *audit.MemorySink
}

func newFixture(t *testing.T, opts ...Option) fixture {
	t.Helper()
	f := fixture{
		sales: NewMemoryStore(),
		convs: conversation.NewInMemoryStore(),
		sink:  audit.NewMemorySink(),
	}
	dir := reps.NewMemoryStore(reps.Rep{ID: "rep-1", Name: "Jordan", Phone: repPhone, Active: true})
	f.svc = NewService(f.sales, f.convs, f.sink, dir, opts...)
	return f
}

func (f fixture) conversation(t *testing.T, id string, who identity.CustomerIdentity) *conversation.Conversation {
	t.Helper()
	c := &conversation.Conversation{ID: id, Customer: who, RepPhone: repPhone, Mode: conversation.ModeAI, Status: conversation.StatusActive}
	require.NoError(t, f.convs.CreateConversation(context.Background(), c))
	return c
}

func TestMarkSaleAndDispute(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.conversation(t, "c1", identity.Phone("+15551230000"))
	require.NoError(t, f.convs.AppendMessage(ctx, &conversation.Message{ConversationID: "c1", Sender: conversation.SenderUser, SenderID: "cust", Content: "payment received, thanks"}))

	res, err := f.svc.MarkSale(ctx, MarkSaleInput{
		ConversationID: "c1",
		Amount:         decimal.RequireFromString("100.00"),
		Details:        "2 bottles",
		Actor:          "admin@example.com",
	})
	require.NoError(t, err)
	require.Empty(t, res.Incomplete)
	sale := res.Sale
	assert.Equal(t, identity.ChannelWebsite, sale.Channel)
	assert.Equal(t, "0.10", sale.CommissionRate.StringFixed(2))
	assert.Equal(t, "10.00", sale.CommissionAmount.StringFixed(2))
	assert.Equal(t, StatusPendingReview, sale.Status)
	assert.Equal(t, DetectionManual, sale.DetectionMethod)
	assert.Equal(t, RepSnapshot{ID: "rep-1", Name: "Jordan", Phone: repPhone}, sale.Rep)

	conv, err := f.convs.GetConversation(ctx, "c1")
	require.NoError(t, err)
	require.NotNil(t, conv.SaleRef)
	assert.Equal(t, sale.ID, conv.SaleRef.SaleID)

	ev, err := f.svc.GetEvidence(ctx, sale.ID)
	require.NoError(t, err)
	require.Len(t, ev.Transcript, 1)
	require.Len(t, ev.Matches, 1)
	assert.Equal(t, "payment received", ev.Matches[0].Keyword)

	updated, err := f.svc.SetSaleStatus(ctx, sale.ID, StatusDisputed, "price mismatch", "admin@example.com")
	require.NoError(t, err)
	assert.Equal(t, StatusDisputed, updated.Status)
	assert.True(t, updated.CommissionAmount.Equal(sale.CommissionAmount))

	trail, err := f.svc.ListAudit(ctx, sale.ID)
	require.NoError(t, err)
	require.Len(t, trail, 2)
	assert.Equal(t, audit.ActionCreated, trail[0].Action)
	last := trail[1]
	assert.Equal(t, audit.ActionStatusChanged, last.Action)
	assert.Equal(t, "price mismatch", last.Reason)
	assert.Equal(t, string(StatusPendingReview), last.OldStatus)
	assert.Equal(t, string(StatusDisputed), last.NewStatus)

	conv, _ = f.convs.GetConversation(ctx, "c1")
	assert.Equal(t, string(StatusDisputed), conv.SaleRef.Status)
}

func TestMarkSaleRejectsNonPositiveAmount(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.conversation(t, "c1", identity.Phone("+15551230000"))

	for _, amt := range []string{"0", "-5"} {
		_, err := f.svc.MarkSale(ctx, MarkSaleInput{ConversationID: "c1", Amount: decimal.RequireFromString(amt), Actor: "a"})
		assert.ErrorIs(t, err, apperr.ErrValidation)
	}
	sales, _ := f.sales.ListByConversation(ctx, "c1")
	assert.Empty(t, sales)
	conv, _ := f.convs.GetConversation(ctx, "c1")
	assert.Nil(t, conv.SaleRef)
}

func TestMarkSaleUnknownConversation(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.MarkSale(context.Background(), MarkSaleInput{ConversationID: "nope", Amount: decimal.NewFromInt(1), Actor: "a"})
	assert.ErrorIs(t, err, apperr.ErrNotFound)
}

type brokenSink struct{ audit.Sink }

func (brokenSink) Append(context.Context, *audit.Entry) error { return errors.New("disk full") }

func TestMarkSaleKeepsSaleWhenAuditFails(t *testing.T) {
	sales := NewMemoryStore()
	convs := conversation.NewInMemoryStore()
	svc := NewService(sales, convs, brokenSink{audit.NewMemorySink()}, nil)
	ctx := context.Background()
	require.NoError(t, convs.CreateConversation(ctx, &conversation.Conversation{ID: "c1", Customer: identity.Instagram("shopper"), RepPhone: repPhone, Status: conversation.StatusActive}))

	res, err := svc.MarkSale(ctx, MarkSaleInput{ConversationID: "c1", Amount: decimal.RequireFromString("40"), Actor: "a"})
	require.NoError(t, err)
	assert.Equal(t, []string{"audit"}, res.Incomplete)
	assert.Equal(t, RepSnapshot{Phone: repPhone}, res.Sale.Rep)
	assert.Equal(t, "2.00", res.Sale.CommissionAmount.StringFixed(2))

	got, err := sales.GetSale(ctx, res.Sale.ID)
	require.NoError(t, err)
	assert.Equal(t, res.Sale.ID, got.ID)
}

func TestSaleChannelFrozen(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.conversation(t, "c1", identity.Instagram("shopper"))
	res, err := f.svc.MarkSale(ctx, MarkSaleInput{ConversationID: "c1", Amount: decimal.NewFromInt(200), Actor: "a"})
	require.NoError(t, err)

	// the conversation's profile and flags change later; the sale does not
	yes := true
	_, err = f.convs.PatchConversation(ctx, "c1", conversation.Patch{PotentialSale: &yes, Profile: &conversation.CustomerProfile{Name: "New"}})
	require.NoError(t, err)
	_, err = f.svc.SetSaleStatus(ctx, res.Sale.ID, StatusVerified, "", "a")
	require.NoError(t, err)

	got, err := f.svc.GetSale(ctx, res.Sale.ID)
	require.NoError(t, err)
	assert.Equal(t, identity.ChannelInstagram, got.Channel)
	assert.Equal(t, "0.05", got.CommissionRate.StringFixed(2))
	assert.Equal(t, "10.00", got.CommissionAmount.StringFixed(2))
}

func TestSetSaleStatusValidation(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.SetSaleStatus(context.Background(), "x", Status("refunded"), "", "a")
	assert.ErrorIs(t, err, apperr.ErrValidation)
	_, err = f.svc.SetSaleStatus(context.Background(), "x", StatusVerified, "", "a")
	assert.ErrorIs(t, err, apperr.ErrNotFound)
}

func TestSetSaleStatusAllowsAnyTransition(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.conversation(t, "c1", identity.Phone("+15551230000"))
	res, err := f.svc.MarkSale(ctx, MarkSaleInput{ConversationID: "c1", Amount: decimal.NewFromInt(10), Actor: "a"})
	require.NoError(t, err)

	for _, st := range []Status{StatusRejected, StatusVerified, StatusDisputed, StatusVerified, StatusPendingReview} {
		_, err := f.svc.SetSaleStatus(ctx, res.Sale.ID, st, "", "a")
		require.NoError(t, err)
	}
	trail, _ := f.svc.ListAudit(ctx, res.Sale.ID)
	assert.Len(t, trail, 6)
}

func TestEvaluateMessageAutoCreatesPendingSale(t *testing.T) {
	now := time.Date(2024, 6, 1, 10, 0, 0, 0, time.UTC)
	f := newFixture(t, WithClock(func() time.Time { return now }))
	ctx := context.Background()
	conv := f.conversation(t, "c1", identity.Phone("+15551230000"))
	msg := &conversation.Message{ConversationID: "c1", Sender: conversation.SenderUser, SenderID: "cust",
		Content: "Great, I bought it! Order number 4471, payment processed."}
	require.NoError(t, f.convs.AppendMessage(ctx, msg))

	d, err := f.svc.EvaluateMessage(ctx, conv, msg)
	require.NoError(t, err)
	assert.True(t, d.Flagged)
	require.NotNil(t, d.AutoSale)
	assert.Equal(t, DetectionAuto, d.AutoSale.DetectionMethod)
	assert.Equal(t, StatusPendingReview, d.AutoSale.Status)
	assert.True(t, d.AutoSale.SaleAmount.IsZero())

	stored, _ := f.convs.GetConversation(ctx, "c1")
	assert.True(t, stored.PotentialSale)
	require.NotNil(t, stored.SaleRef)
	assert.Equal(t, d.AutoSale.ID, stored.SaleRef.SaleID)

	trail, _ := f.svc.ListAudit(ctx, d.AutoSale.ID)
	require.Len(t, trail, 1)
	assert.Equal(t, audit.ActionAutoDetected, trail[0].Action)
	assert.Equal(t, "system", trail[0].Actor)

	// a second strong message does not draft another sale
	d2, err := f.svc.EvaluateMessage(ctx, conv, msg)
	require.NoError(t, err)
	assert.Nil(t, d2.AutoSale)
	all, _ := f.sales.ListByConversation(ctx, "c1")
	assert.Len(t, all, 1)
}

func TestEvaluateMessageFlagsWithoutSale(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	conv := f.conversation(t, "c1", identity.Phone("+15551230000"))
	msg := &conversation.Message{ID: "m1", Content: "I paid with venmo"}

	d, err := f.svc.EvaluateMessage(ctx, conv, msg)
	require.NoError(t, err)
	assert.True(t, d.Flagged)
	assert.Nil(t, d.AutoSale)
	stored, _ := f.convs.GetConversation(ctx, "c1")
	assert.True(t, stored.PotentialSale)
	assert.Nil(t, stored.SaleRef)
}

func TestServiceReassignsForMerge(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.conversation(t, "old", identity.Phone("+15551230000"))
	f.conversation(t, "dup", identity.Phone("+15551230000"))
	res, err := f.svc.MarkSale(ctx, MarkSaleInput{ConversationID: "dup", Amount: decimal.NewFromInt(5), Actor: "a"})
	require.NoError(t, err)

	var _ conversation.Reassigner = f.svc
	require.NoError(t, f.svc.Reassign(ctx, "dup", "old"))
	got, _ := f.svc.GetSale(ctx, res.Sale.ID)
	assert.Equal(t, "old", got.ConversationID)
}

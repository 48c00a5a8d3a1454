package sales

import (
	"context"
	"database/sql"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/repchat/internal/audit"
	"github.com/repchat/internal/conversation"
	"github.com/repchat/internal/database/dbtest"
	"github.com/repchat/internal/identity"
	"github.com/repchat/internal/reps"
)

// pgConversations creates one conversation per customer and removes every row
// hanging off them when the test ends.
func pgConversations(t *testing.T, db *sql.DB, customers ...identity.CustomerIdentity) []*conversation.Conversation {
	t.Helper()
	ctx := context.Background()
	store := conversation.NewPostgresStore(db)
	var (
		out []*conversation.Conversation
		ids []string
	)
	for _, cust := range customers {
		c := &conversation.Conversation{Customer: cust, RepPhone: repPhone, Mode: conversation.ModeAI, Status: conversation.StatusActive}
		require.NoError(t, store.CreateConversation(ctx, c))
		out = append(out, c)
		ids = append(ids, c.ID)
	}
	t.Cleanup(func() {
		_, _ = db.ExecContext(ctx, `DELETE FROM sale_evidence WHERE sale_id IN (SELECT id FROM sales WHERE conversation_id = ANY($1))`, pq.Array(ids))
		_, _ = db.ExecContext(ctx, `DELETE FROM audit_log WHERE subject_id IN (SELECT id FROM sales WHERE conversation_id = ANY($1))`, pq.Array(ids))
		_, _ = db.ExecContext(ctx, `DELETE FROM sales WHERE conversation_id = ANY($1)`, pq.Array(ids))
		_, _ = db.ExecContext(ctx, `DELETE FROM messages WHERE conversation_id = ANY($1)`, pq.Array(ids))
		_, _ = db.ExecContext(ctx, `DELETE FROM conversations WHERE id = ANY($1)`, pq.Array(ids))
	})
	return out
}

func uniqueHandle() identity.CustomerIdentity {
	return identity.Instagram("pg_" + strings.ReplaceAll(uuid.NewString(), "-", "")[:12])
}

func TestPostgresSaleStoreRoundTrip(t *testing.T) {
	db := dbtest.Open(t)
	ctx := context.Background()
	convs := pgConversations(t, db, uniqueHandle(), uniqueHandle())
	store := NewPostgresStore(db)

	sale := &Sale{
		ConversationID:   convs[0].ID,
		Channel:          identity.ChannelInstagram,
		CommissionRate:   decimal.RequireFromString("0.05"),
		SaleAmount:       decimal.RequireFromString("199.99"),
		CommissionAmount: decimal.RequireFromString("10.00"),
		Status:           StatusPendingReview,
		DetectionMethod:  DetectionManual,
		Rep:              RepSnapshot{Phone: repPhone},
		SaleDate:         time.Date(2024, 3, 2, 0, 0, 0, 0, time.UTC),
	}
	require.NoError(t, store.CreateSale(ctx, sale))

	got, err := store.GetSale(ctx, sale.ID)
	require.NoError(t, err)
	assert.Equal(t, identity.ChannelInstagram, got.Channel)
	assert.True(t, got.SaleAmount.Equal(sale.SaleAmount), got.SaleAmount.String())
	assert.True(t, got.CommissionAmount.Equal(sale.CommissionAmount), got.CommissionAmount.String())
	assert.True(t, got.CommissionRate.Equal(sale.CommissionRate), got.CommissionRate.String())

	updated, old, err := store.UpdateStatus(ctx, sale.ID, StatusDisputed)
	require.NoError(t, err)
	assert.Equal(t, StatusPendingReview, old)
	assert.Equal(t, StatusDisputed, updated.Status)
	assert.True(t, updated.CommissionAmount.Equal(sale.CommissionAmount))

	require.NoError(t, store.ReassignConversation(ctx, convs[0].ID, convs[1].ID))
	moved, err := store.ListByConversation(ctx, convs[1].ID)
	require.NoError(t, err)
	require.Len(t, moved, 1)
	assert.Equal(t, sale.ID, moved[0].ID)

	ev := &Evidence{SaleID: sale.ID, Confidence: ConfidenceHigh, Matches: []EvidenceMatch{{Keyword: "receipt", Tier: TierHigh, MessageID: "m1"}}, CreatedAt: time.Now().UTC()}
	require.NoError(t, store.SaveEvidence(ctx, ev))
	assert.ErrorIs(t, store.SaveEvidence(ctx, ev), ErrEvidenceExists)
	gotEv, err := store.GetEvidence(ctx, sale.ID)
	require.NoError(t, err)
	assert.Equal(t, ev.Matches, gotEv.Matches)
	assert.Equal(t, ConfidenceHigh, gotEv.Confidence)
}

func TestPostgresMarkSaleWritesEveryRecord(t *testing.T) {
	db := dbtest.Open(t)
	ctx := context.Background()
	conv := pgConversations(t, db, uniqueHandle())[0]
	convs := conversation.NewPostgresStore(db)
	require.NoError(t, convs.AppendMessage(ctx, &conversation.Message{ConversationID: conv.ID, Sender: conversation.SenderUser, SenderID: "cust", Content: "order confirmed, thanks"}))

	svc := NewService(NewPostgresStore(db), convs, audit.NewPostgresSink(db), reps.NewPostgresStore(db))
	res, err := svc.MarkSale(ctx, MarkSaleInput{
		ConversationID: conv.ID,
		Amount:         decimal.RequireFromString("100"),
		Date:           time.Now().UTC(),
		Actor:          "admin@example.com",
	})
	require.NoError(t, err)
	assert.Empty(t, res.Incomplete)
	assert.True(t, res.Sale.CommissionAmount.Equal(decimal.RequireFromString("5")), res.Sale.CommissionAmount.String())

	linked, err := convs.GetConversation(ctx, conv.ID)
	require.NoError(t, err)
	require.NotNil(t, linked.SaleRef)
	assert.Equal(t, res.Sale.ID, linked.SaleRef.SaleID)

	ev, err := svc.GetEvidence(ctx, res.Sale.ID)
	require.NoError(t, err)
	require.Len(t, ev.Transcript, 1)

	entries, err := svc.ListAudit(ctx, res.Sale.ID)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, audit.ActionCreated, entries[0].Action)
	assert.Equal(t, "admin@example.com", entries[0].Actor)
}

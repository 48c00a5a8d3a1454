package audit

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/repchat/internal/database/dbtest"
)

func TestPostgresSinkKeepsAppendOrder(t *testing.T) {
	db := dbtest.Open(t)
	ctx := context.Background()
	subject := "sale-" + uuid.NewString()
	t.Cleanup(func() { _, _ = db.ExecContext(ctx, `DELETE FROM audit_log WHERE subject_id=$1`, subject) })
	sink := NewPostgresSink(db)

	at := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	require.NoError(t, sink.Append(ctx, &Entry{Actor: "system", Action: ActionAutoDetected, SubjectID: subject, SubjectType: "sale", NewStatus: "pending_review", Timestamp: at}))
	require.NoError(t, sink.Append(ctx, &Entry{Actor: "ops", Action: ActionStatusChanged, Reason: "confirmed", SubjectID: subject, SubjectType: "sale", OldStatus: "pending_review", NewStatus: "verified", Timestamp: at}))
	require.NoError(t, sink.Append(ctx, &Entry{Actor: "ops", Action: ActionStatusChanged, SubjectID: "other-" + subject, SubjectType: "sale", Timestamp: at}))
	t.Cleanup(func() { _, _ = db.ExecContext(ctx, `DELETE FROM audit_log WHERE subject_id=$1`, "other-"+subject) })

	entries, err := sink.List(ctx, subject)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, ActionAutoDetected, entries[0].Action, "same timestamp falls back to append order")
	assert.Equal(t, ActionStatusChanged, entries[1].Action)
	assert.Equal(t, "pending_review", entries[1].OldStatus)
	assert.Equal(t, "verified", entries[1].NewStatus)
	assert.Equal(t, "confirmed", entries[1].Reason)
	assert.True(t, entries[1].Timestamp.Equal(at))
}

package reps

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/repchat/internal/apperr"
	"github.com/repchat/internal/database/dbtest"
)

func TestPostgresStoreLookups(t *testing.T) {
	db := dbtest.Open(t)
	ctx := context.Background()
	tag := uuid.NewString()
	phone := "+1555" + tag[:7]
	ids := []string{tag + "-a", tag + "-b"}
	t.Cleanup(func() { _, _ = db.ExecContext(ctx, `DELETE FROM reps WHERE id = $1 OR id = $2`, ids[0], ids[1]) })

	_, err := db.ExecContext(ctx, `INSERT INTO reps (id, name, phone, email, active) VALUES
		($1, 'Former Rep', $3, NULL, false),
		($2, 'Dana', $3, 'dana@example.com', true)`, ids[0], ids[1], phone)
	require.NoError(t, err)

	byPhone, err := NewPostgresStore(db).ByPhone(ctx, phone)
	require.NoError(t, err)
	assert.Equal(t, ids[1], byPhone.ID, "active rep wins for a shared number")
	assert.Equal(t, "dana@example.com", byPhone.Email)

	byID, err := NewPostgresStore(db).ByID(ctx, ids[0])
	require.NoError(t, err)
	assert.Equal(t, "Former Rep", byID.Name)
	assert.Empty(t, byID.Email)
	assert.False(t, byID.Active)

	_, err = NewPostgresStore(db).ByID(ctx, tag+"-missing")
	assert.ErrorIs(t, err, apperr.ErrNotFound)
}

package database

import (
	"context"
	"os"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSchemaDeclaresEveryTable(t *testing.T) {
	for _, table := range []string{"conversations", "messages", "reps", "sales", "sale_evidence", "audit_log"} {
		assert.True(t, strings.Contains(Schema(), "CREATE TABLE IF NOT EXISTS "+table+" "), table)
	}
}

func TestNewDBRejectsEmptyURL(t *testing.T) {
	_, err := NewDB(context.Background(), "  ")
	assert.Error(t, err)
}

func TestMigrateIsRepeatable(t *testing.T) {
	url := os.Getenv("DATABASE_URL")
	if url == "" {
		t.Skip("DATABASE_URL not set")
	}
	ctx := context.Background()
	db, err := NewDB(ctx, url)
	require.NoError(t, err)
	defer db.Close()

	require.NoError(t, Migrate(ctx, db))
	require.NoError(t, Migrate(ctx, db))

	var n int
	require.NoError(t, db.QueryRowContext(ctx, `SELECT count(*) FROM information_schema.tables WHERE table_name = 'audit_log'`).Scan(&n))
	assert.Equal(t, 1, n)
}

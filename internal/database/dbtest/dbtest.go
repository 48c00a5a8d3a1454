// Package dbtest opens the Postgres database used by store tests. Tests are
// skipped when no database is configured.
package dbtest

import (
	"bufio"
	"context"
	"database/sql"
	"os"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/repchat/internal/database"
)

// URL reads DATABASE_URL from the environment or a local .env file.
func URL() string {
	if v := os.Getenv("DATABASE_URL"); v != "" {
		return v
	}
	f, err := os.Open(".env")
	if err != nil {
		return ""
	}
	defer f.Close()
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if strings.HasPrefix(line, "DATABASE_URL=") {
			return strings.Trim(strings.TrimPrefix(line, "DATABASE_URL="), "\"'")
		}
	}
	return ""
}

// Open connects, applies the schema and closes the pool when t ends.
func Open(t testing.TB) *sql.DB {
	t.Helper()
	url := URL()
	if url == "" {
		t.Skip("DATABASE_URL not set (skipping DB-backed store test)")
	}
	ctx := context.Background()
	db, err := database.NewDB(ctx, url)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	require.NoError(t, database.Migrate(ctx, db))
	return db
}

package events

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"incidentline/internal/db"
	"incidentline/internal/migrate"
	"incidentline/internal/repo"
)

func TestLockStatementPerDriver(t *testing.T) {
	assert.Equal(t, "SELECT pg_advisory_xact_lock($1)", lockStatement(db.DriverPostgres))
	assert.Empty(t, lockStatement(db.DriverSQLite))
}

func TestAppendIdsFollowCommitOrder(t *testing.T) {
	ctx := context.Background()
	conn, err := db.Open(db.Config{Driver: db.DriverSQLite, DSN: filepath.Join(t.TempDir(), "events.db")})
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	require.NoError(t, migrate.Migrate(ctx, conn, db.DriverSQLite))

	now := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	w := Writer{Driver: db.DriverSQLite, Now: func() time.Time { return now }}
	for i := 0; i < 5; i++ {
		tx, err := conn.BeginTx(ctx, nil)
		require.NoError(t, err)
		require.NoError(t, w.Append(ctx, tx, UserCreated, "user", "u1", "system", EventPayload{"n": i}))
		require.NoError(t, tx.Commit())
	}

	r := repo.New(conn, db.DriverSQLite)
	all, err := r.EventsAfter(ctx, 100, "")
	require.NoError(t, err)
	require.Len(t, all, 5)
	for i, evt := range all {
		assert.JSONEq(t, fmt.Sprintf(`{"n":%d}`, i), evt.Payload)
		assert.Equal(t, now, evt.TS)
	}

	rest, err := r.EventsAfter(ctx, 100, all[1].ID)
	require.NoError(t, err)
	require.Len(t, rest, 3)
	assert.Equal(t, all[2].ID, rest[0].ID)
}

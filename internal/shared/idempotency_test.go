package shared

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingExecer struct {
	claimed map[string]bool
	sql     []string
	err     error
}

func (r *recordingExecer) Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	r.sql = append(r.sql, sql)
	if r.err != nil {
		return pgconn.CommandTag{}, r.err
	}
	if len(args) == 3 {
		id := args[1].(string) + "/" + args[0].(string)
		if r.claimed[id] {
			return pgconn.CommandTag{}, &pgconn.PgError{Code: "23505"}
		}
		r.claimed[id] = true
	}
	return pgconn.NewCommandTag("INSERT 0 1"), nil
}

func TestIdempotencyStoreCheckAndInsert(t *testing.T) {
	db := &recordingExecer{claimed: map[string]bool{}}
	store := NewIdempotencyStore(db)
	ctx := context.Background()

	require.NoError(t, store.CheckAndInsert(ctx, "k1", "billing:1:invoice"))
	assert.ErrorIs(t, store.CheckAndInsert(ctx, "k1", "billing:1:invoice"), ErrIdempotencyConflict)
	require.NoError(t, store.CheckAndInsert(ctx, "k1", "billing:2:invoice"))

	assert.Error(t, store.CheckAndInsert(ctx, "", "billing:1:invoice"))
	assert.Error(t, store.CheckAndInsert(ctx, "k2", ""))
}

func TestIdempotencyStorePassesThroughErrors(t *testing.T) {
	store := NewIdempotencyStore(&recordingExecer{err: errors.New("conn reset")})
	err := store.CheckAndInsert(context.Background(), "k", "s")
	assert.EqualError(t, err, "conn reset")
}

func TestIdempotencyStoreDeleteAndCleanup(t *testing.T) {
	db := &recordingExecer{claimed: map[string]bool{}}
	store := NewIdempotencyStore(db)

	require.NoError(t, store.Delete(context.Background(), "k", "s"))
	require.NoError(t, store.Cleanup(context.Background(), 24*time.Hour))
	assert.Contains(t, db.sql[0], "DELETE FROM idempotency_keys WHERE key")
	assert.Contains(t, db.sql[1], "created_at <")
	assert.Error(t, store.Delete(context.Background(), "", "s"))

	var nilStore *IdempotencyStore
	assert.NoError(t, nilStore.Delete(context.Background(), "k", "s"))
	assert.Error(t, nilStore.CheckAndInsert(context.Background(), "k", "s"))
}

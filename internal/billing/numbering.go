package billing

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/redis/go-redis/v9"
)

// Scope is the unit a document sequence is counted in.
type Scope struct {
	TenantID int64
	Kind     Kind
	Year     int
}

func (s Scope) String() string {
	return fmt.Sprintf("tenant %d %s %d", s.TenantID, s.Kind, s.Year)
}

// Numberer allocates the next sequence value of a scope. Implementations must
// be atomic under concurrent callers and must never hand out a value twice,
// even after the document holding it is deleted.
type Numberer interface {
	Next(ctx context.Context, scope Scope) (int64, error)
}

var prefixes = map[Kind]string{
	KindInvoice: "INV",
	KindQuote:   "QUO",
}

// FormatNumber renders {PREFIX}-{YEAR}-{SEQ} with at least three sequence digits.
func FormatNumber(kind Kind, year int, seq int64) string {
	return fmt.Sprintf("%s-%04d-%03d", prefixes[kind], year, seq)
}

type queryRower interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// PostgresNumberer keeps one counter row per scope and bumps it with a
// single upsert, so concurrent allocations serialize on the row lock.
type PostgresNumberer struct {
	db queryRower
}

// NewPostgresNumberer builds a numberer over a pool or transaction.
func NewPostgresNumberer(db queryRower) *PostgresNumberer {
	return &PostgresNumberer{db: db}
}

// Next increments and returns the scope counter.
func (n *PostgresNumberer) Next(ctx context.Context, scope Scope) (int64, error) {
	var seq int64
	err := n.db.QueryRow(ctx, `
		INSERT INTO document_sequences (tenant_id, kind, year, last_value)
		VALUES ($1, $2, $3, 1)
		ON CONFLICT (tenant_id, kind, year)
		DO UPDATE SET last_value = document_sequences.last_value + 1, updated_at = NOW()
		RETURNING last_value
	`, scope.TenantID, string(scope.Kind), scope.Year).Scan(&seq)
	if err != nil {
		return 0, fmt.Errorf("billing: next sequence for %s: %w", scope, err)
	}
	return seq, nil
}

// RedisNumberer allocates with INCR. The Redis instance must persist its
// data; a wiped counter is caught by the documents unique constraint and
// surfaces as number conflicts that the service retries past.
type RedisNumberer struct {
	client redis.Cmdable
	prefix string
}

// NewRedisNumberer builds a numberer storing counters under prefix.
func NewRedisNumberer(client redis.Cmdable, prefix string) *RedisNumberer {
	if prefix == "" {
		prefix = "billing:seq"
	}
	return &RedisNumberer{client: client, prefix: prefix}
}

func (n *RedisNumberer) key(scope Scope) string {
	return fmt.Sprintf("%s:%d:%s:%d", n.prefix, scope.TenantID, scope.Kind, scope.Year)
}

// Next increments and returns the scope counter.
func (n *RedisNumberer) Next(ctx context.Context, scope Scope) (int64, error) {
	seq, err := n.client.Incr(ctx, n.key(scope)).Result()
	if err != nil {
		return 0, fmt.Errorf("billing: next sequence for %s: %w", scope, err)
	}
	return seq, nil
}

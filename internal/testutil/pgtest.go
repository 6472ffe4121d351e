// README: Helpers for DB- and Redis-backed tests; they skip when no test backend is configured.
package testutil

import (
	"context"
	"os"
	"testing"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"ridematch/internal/infra"
)

// NewPool connects to RIDEMATCH_TEST_DSN and applies the migrations. Tests share the
// database, so they must use fresh ids rather than truncating tables.
func NewPool(t *testing.T) *pgxpool.Pool {
	t.Helper()

	dsn := os.Getenv("RIDEMATCH_TEST_DSN")
	if dsn == "" {
		t.Skip("RIDEMATCH_TEST_DSN not set; skipping DB-backed test")
	}
	if err := infra.MigrateUp(dsn); err != nil {
		t.Fatalf("apply migrations: %v", err)
	}
	db, err := infra.NewDB(context.Background(), dsn)
	if err != nil {
		t.Fatalf("connect db: %v", err)
	}
	t.Cleanup(db.Close)
	return db
}

// NewRedis connects to RIDEMATCH_TEST_REDIS_ADDR.
func NewRedis(t *testing.T) *redis.Client {
	t.Helper()

	addr := os.Getenv("RIDEMATCH_TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("RIDEMATCH_TEST_REDIS_ADDR not set; skipping Redis-backed test")
	}
	client, err := infra.NewRedis(context.Background(), addr, "", 0)
	if err != nil {
		t.Fatalf("connect redis: %v", err)
	}
	t.Cleanup(func() { _ = client.Close() })
	return client
}

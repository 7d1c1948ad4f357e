package match

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"betabae/cmd/identity/ids"
)

// Integration tests are opt-in and require BAE_DATABASE_URL.
// Without it they skip, keeping local "go test ./..." fast and deterministic.

func TestPostgresStore_TransitionFromPending_SingleWinner(t *testing.T) {
	t.Parallel()

	pool := mustOpenTestPool(t)
	defer pool.Close()

	schema := mustCreateTestSchema(t, pool)
	t.Cleanup(func() { mustDropSchema(t, pool, schema) })
	mustApplyMatchSchema(t, pool, schema)

	store, err := NewPostgresStore(pool, WithSchema(schema))
	if err != nil {
		t.Fatalf("new store: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	m := mustInsertPendingMatch(t, ctx, store, "user-a", "user-b")

	accepted, err := store.TransitionFromPending(ctx, m.ID, StatusAccepted, true, time.Now().UTC())
	if err != nil {
		t.Fatalf("accept: %v", err)
	}
	if accepted.Status != StatusAccepted || !accepted.RequestedConsent {
		t.Fatalf("unexpected accepted state: %+v", accepted)
	}

	// The row is no longer PENDING: a second transition loses cleanly.
	if _, err := store.TransitionFromPending(ctx, m.ID, StatusRejected, false, time.Now().UTC()); !errors.Is(err, ErrInvalidStatus) {
		t.Fatalf("expected ErrInvalidStatus, got %v", err)
	}
	if _, err := store.TransitionFromPending(ctx, "01MISSING", StatusAccepted, true, time.Now().UTC()); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound for unknown match, got %v", err)
	}
}

func TestPostgresStore_FindByPair_EitherDirection(t *testing.T) {
	t.Parallel()

	pool := mustOpenTestPool(t)
	defer pool.Close()

	schema := mustCreateTestSchema(t, pool)
	t.Cleanup(func() { mustDropSchema(t, pool, schema) })
	mustApplyMatchSchema(t, pool, schema)

	store, err := NewPostgresStore(pool, WithSchema(schema))
	if err != nil {
		t.Fatalf("new store: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	m := mustInsertPendingMatch(t, ctx, store, "user-a", "user-b")

	for _, pair := range [][2]string{{"user-a", "user-b"}, {"user-b", "user-a"}} {
		got, err := store.FindByPair(ctx, pair[0], pair[1])
		if err != nil {
			t.Fatalf("find %v: %v", pair, err)
		}
		if got.ID != m.ID {
			t.Fatalf("find %v returned %s, want %s", pair, got.ID, m.ID)
		}
	}

	if _, err := store.FindByPair(ctx, "user-a", "user-c"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound for unlinked pair, got %v", err)
	}
}

func mustInsertPendingMatch(t *testing.T, ctx context.Context, store *PostgresStore, requester, requested string) Match {
	t.Helper()

	now := time.Now().UTC()
	id, err := ids.NewULID(now)
	if err != nil {
		t.Fatalf("new ulid: %v", err)
	}

	m, err := store.Create(ctx, Match{
		ID:               id,
		RequesterID:      requester,
		RequestedID:      requested,
		Status:           StatusPending,
		RequesterConsent: true,
		CreatedAt:        now,
		UpdatedAt:        now,
	})
	if err != nil {
		t.Fatalf("create match: %v", err)
	}
	return m
}

func mustOpenTestPool(t *testing.T) *pgxpool.Pool {
	t.Helper()

	raw := strings.TrimSpace(os.Getenv("BAE_DATABASE_URL"))
	if raw == "" {
		t.Skip("integration test skipped: BAE_DATABASE_URL is not set")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	cfg, err := pgxpool.ParseConfig(raw)
	if err != nil {
		t.Fatalf("parse BAE_DATABASE_URL: %v", err)
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		t.Fatalf("connect postgres: %v", err)
	}

	pingCtx, pingCancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer pingCancel()

	c, err := pool.Acquire(pingCtx)
	if err != nil {
		pool.Close()
		t.Fatalf("acquire: %v", err)
	}
	c.Release()

	return pool
}

func mustCreateTestSchema(t *testing.T, pool *pgxpool.Pool) string {
	t.Helper()

	schema := "betabae_it_" + randomHexString(t, 8)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if _, err := pool.Exec(ctx, `CREATE SCHEMA `+pgx.Identifier{schema}.Sanitize()); err != nil {
		t.Fatalf("create schema: %v", err)
	}
	return schema
}

func mustDropSchema(t *testing.T, pool *pgxpool.Pool, schema string) {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	_, _ = pool.Exec(ctx, `DROP SCHEMA IF EXISTS `+pgx.Identifier{schema}.Sanitize()+` CASCADE`)
}

// mustApplyMatchSchema carries the DDL PostgresStore expects. It must stay
// semantically aligned with the production schema.
func mustApplyMatchSchema(t *testing.T, pool *pgxpool.Pool, schema string) {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), 12*time.Second)
	defer cancel()

	matches := pgIdent(schema, "matches")

	schemaSQL := fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS %s (
  id                TEXT PRIMARY KEY,
  requester_id      TEXT NOT NULL,
  requested_id      TEXT NOT NULL,
  status            TEXT NOT NULL CHECK (status IN ('PENDING', 'ACCEPTED', 'REJECTED')),
  requester_consent BOOLEAN NOT NULL,
  requested_consent BOOLEAN NOT NULL,
  created_at        TIMESTAMPTZ NOT NULL,
  updated_at        TIMESTAMPTZ NOT NULL,

  CONSTRAINT chk_matches_distinct_parties CHECK (requester_id <> requested_id)
);

CREATE INDEX IF NOT EXISTS idx_matches_requested_status
  ON %s (requested_id, status);
`, matches, matches)

	if _, err := pool.Exec(ctx, schemaSQL); err != nil {
		t.Fatalf("apply schema: %v", err)
	}
}

func randomHexString(t *testing.T, n int) string {
	t.Helper()

	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		t.Fatalf("random: %v", err)
	}
	return hex.EncodeToString(b)
}

package chat

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

// A freshly accepted match has a conversation and no messages; the listing
// path depends on LastMessage reporting that as ErrNoMessages, not as a
// missing conversation.
func TestPostgresStore_LastMessage_EmptyConversation(t *testing.T) {
	t.Parallel()

	pool := mustOpenTestPool(t)
	defer pool.Close()

	schema := mustCreateTestSchema(t, pool)
	t.Cleanup(func() { mustDropSchema(t, pool, schema) })
	mustApplyChatSchema(t, pool, schema)

	store, err := NewPostgresStore(pool, WithSchema(schema))
	if err != nil {
		t.Fatalf("new store: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	matchID := mustInsertAcceptedMatch(t, ctx, pool, schema, "user-a", "user-b")
	conv, err := store.CreateConversation(ctx, matchID, TypeRealBae, time.Now().UTC())
	if err != nil {
		t.Fatalf("create conversation: %v", err)
	}

	if _, err := store.LastMessage(ctx, conv.ID); !errors.Is(err, ErrNoMessages) {
		t.Fatalf("expected ErrNoMessages for empty conversation, got %v", err)
	}

	// With a message present the probe returns the newest row.
	m, err := store.CreateMessage(ctx, CreateMessageInput{
		ConversationID: conv.ID,
		SenderID:       "user-a",
		Text:           "hello",
		Now:            time.Now().UTC(),
	})
	if err != nil {
		t.Fatalf("create message: %v", err)
	}
	last, err := store.LastMessage(ctx, conv.ID)
	if err != nil {
		t.Fatalf("last message: %v", err)
	}
	if last.ID != m.ID {
		t.Fatalf("last message = %s, want %s", last.ID, m.ID)
	}
}

func TestPostgresStore_CreateConversation_OnePerMatch(t *testing.T) {
	t.Parallel()

	pool := mustOpenTestPool(t)
	defer pool.Close()

	schema := mustCreateTestSchema(t, pool)
	t.Cleanup(func() { mustDropSchema(t, pool, schema) })
	mustApplyChatSchema(t, pool, schema)

	store, err := NewPostgresStore(pool, WithSchema(schema))
	if err != nil {
		t.Fatalf("new store: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	matchID := mustInsertAcceptedMatch(t, ctx, pool, schema, "user-a", "user-b")

	conv, err := store.CreateConversation(ctx, matchID, TypeRealBae, time.Now().UTC())
	if err != nil {
		t.Fatalf("create conversation: %v", err)
	}
	if _, err := store.CreateConversation(ctx, matchID, TypeRealBae, time.Now().UTC()); !errors.Is(err, ErrConversationExists) {
		t.Fatalf("expected ErrConversationExists, got %v", err)
	}

	got, err := store.ConversationByMatch(ctx, matchID)
	if err != nil {
		t.Fatalf("conversation by match: %v", err)
	}
	if got.ID != conv.ID {
		t.Fatalf("conversation by match = %s, want %s", got.ID, conv.ID)
	}
	if _, err := store.ConversationByMatch(ctx, "01MISSING"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound for unknown match, got %v", err)
	}
}

func TestPostgresStore_Messages_CursorTextOnlyMarkRead(t *testing.T) {
	t.Parallel()

	pool := mustOpenTestPool(t)
	defer pool.Close()

	schema := mustCreateTestSchema(t, pool)
	t.Cleanup(func() { mustDropSchema(t, pool, schema) })
	mustApplyChatSchema(t, pool, schema)

	store, err := NewPostgresStore(pool, WithSchema(schema))
	if err != nil {
		t.Fatalf("new store: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()

	matchID := mustInsertAcceptedMatch(t, ctx, pool, schema, "user-a", "user-b")
	conv, err := store.CreateConversation(ctx, matchID, TypeRealBae, time.Now().UTC())
	if err != nil {
		t.Fatalf("create conversation: %v", err)
	}

	base := time.Now().UTC().Truncate(time.Second)
	var texts []Message
	for i := 0; i < 3; i++ {
		m, err := store.CreateMessage(ctx, CreateMessageInput{
			ConversationID: conv.ID,
			SenderID:       "user-a",
			Text:           fmt.Sprintf("m%d", i),
			Now:            base.Add(time.Duration(i) * time.Second),
		})
		if err != nil {
			t.Fatalf("create message %d: %v", i, err)
		}
		texts = append(texts, m)
	}
	if _, err := store.CreateMessage(ctx, CreateMessageInput{
		ConversationID: conv.ID,
		SenderID:       "user-b",
		Text:           "peek",
		AttachmentURL:  "/media/x.png",
		Now:            base.Add(10 * time.Second),
	}); err != nil {
		t.Fatalf("create attachment message: %v", err)
	}

	// Newest first, attachment excluded when TextOnly is set.
	msgs, err := store.ListMessages(ctx, ListMessagesInput{ConversationID: conv.ID, Limit: 10, TextOnly: true})
	if err != nil {
		t.Fatalf("list text-only: %v", err)
	}
	if len(msgs) != 3 || msgs[0].ID != texts[2].ID {
		t.Fatalf("text-only listing wrong: %+v", msgs)
	}

	// Exclusive id cursor.
	page, err := store.ListMessages(ctx, ListMessagesInput{ConversationID: conv.ID, Limit: 10, Before: texts[1].ID})
	if err != nil {
		t.Fatalf("list before: %v", err)
	}
	if len(page) != 1 || page[0].ID != texts[0].ID {
		t.Fatalf("cursor page wrong: %+v", page)
	}

	// Point lookup is scoped to the conversation.
	if _, err := store.GetMessage(ctx, conv.ID, "01MISSING"); !errors.Is(err, ErrMessageNotFound) {
		t.Fatalf("expected ErrMessageNotFound, got %v", err)
	}

	// MarkRead flips the counterpart's rows only.
	n, err := store.MarkRead(ctx, conv.ID, "user-b", time.Now().UTC())
	if err != nil {
		t.Fatalf("mark read: %v", err)
	}
	if n != 3 {
		t.Fatalf("mark read flipped %d rows, want 3", n)
	}
}

func mustInsertAcceptedMatch(t *testing.T, ctx context.Context, pool *pgxpool.Pool, schema, requester, requested string) string {
	t.Helper()

	now := time.Now().UTC()
	id, err := ids.NewULID(now)
	if err != nil {
		t.Fatalf("new ulid: %v", err)
	}

	matches := pgIdent(schema, "matches")
	if _, err := pool.Exec(ctx,
		`INSERT INTO `+matches+` (id, requester_id, requested_id, status, requester_consent, requested_consent, created_at, updated_at)
		 VALUES ($1, $2, $3, 'ACCEPTED', TRUE, TRUE, $4, $4)`,
		id, requester, requested, now,
	); err != nil {
		t.Fatalf("insert match: %v", err)
	}
	return id
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

// mustApplyChatSchema carries the DDL PostgresStore expects, including the
// one-conversation-per-match constraint. It must stay semantically aligned
// with the production schema.
func mustApplyChatSchema(t *testing.T, pool *pgxpool.Pool, schema string) {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), 12*time.Second)
	defer cancel()

	matches := pgIdent(schema, "matches")
	conversations := pgIdent(schema, "conversations")
	messages := pgIdent(schema, "messages")

	schemaSQL := fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS %s (
  id                TEXT PRIMARY KEY,
  requester_id      TEXT NOT NULL,
  requested_id      TEXT NOT NULL,
  status            TEXT NOT NULL CHECK (status IN ('PENDING', 'ACCEPTED', 'REJECTED')),
  requester_consent BOOLEAN NOT NULL,
  requested_consent BOOLEAN NOT NULL,
  created_at        TIMESTAMPTZ NOT NULL,
  updated_at        TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS %s (
  id         TEXT PRIMARY KEY,
  match_id   TEXT NOT NULL REFERENCES %s(id) ON DELETE CASCADE,
  type       TEXT NOT NULL CHECK (type IN ('REAL_BAE', 'BETA_BAE')),
  created_at TIMESTAMPTZ NOT NULL,
  updated_at TIMESTAMPTZ NOT NULL,

  CONSTRAINT uq_conversations_match UNIQUE (match_id)
);

CREATE TABLE IF NOT EXISTS %s (
  id              TEXT PRIMARY KEY,
  conversation_id TEXT NOT NULL REFERENCES %s(id) ON DELETE CASCADE,
  sender_id       TEXT NOT NULL,
  message_text    TEXT NOT NULL,
  sent_at         TIMESTAMPTZ NOT NULL,
  is_read         BOOLEAN NOT NULL,
  read_at         TIMESTAMPTZ,
  attachment_url  TEXT
);

CREATE INDEX IF NOT EXISTS idx_messages_conversation_sent
  ON %s (conversation_id, sent_at DESC, id DESC);
`, matches, conversations, matches, messages, conversations, messages)

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

package chat

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"betabae/cmd/identity/ids"
)

// PostgresStore is a Store backed by PostgreSQL.
//
// Ownership model:
// - PostgresStore does NOT own the pgx pool; the caller closes it.
type PostgresStore struct {
	pool   *pgxpool.Pool
	schema string
}

// PostgresOption configures PostgresStore behavior.
type PostgresOption func(*PostgresStore) error

// WithSchema sets the DB schema used by this store (default: "betabae").
func WithSchema(schema string) PostgresOption {
	return func(s *PostgresStore) error {
		schema = strings.TrimSpace(schema)
		if schema == "" {
			return errors.New("chat: empty schema")
		}
		if !isValidPGIdent(schema) {
			return errors.New("chat: invalid schema identifier")
		}
		s.schema = schema
		return nil
	}
}

// NewPostgresStore constructs a Postgres-backed chat store.
func NewPostgresStore(pool *pgxpool.Pool, opts ...PostgresOption) (*PostgresStore, error) {
	st := &PostgresStore{
		pool:   pool,
		schema: "betabae",
	}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt(st); err != nil {
			return nil, err
		}
	}
	if st.pool == nil {
		return nil, errors.New("chat: nil pool")
	}
	return st, nil
}

const (
	conversationColumns = `c.id, c.match_id, c.type, c.created_at, c.updated_at`
	messageColumns      = `id, conversation_id, sender_id, message_text, sent_at, is_read, read_at, attachment_url`
)

// CreateConversation inserts the conversation backing an accepted match.
// The unique constraint on match_id maps to ErrConversationExists.
func (s *PostgresStore) CreateConversation(ctx context.Context, matchID string, typ Type, now time.Time) (Conversation, error) {
	if s == nil || s.pool == nil {
		return Conversation{}, errors.New("chat: nil store")
	}
	if err := ctx.Err(); err != nil {
		return Conversation{}, err
	}
	if now.IsZero() {
		now = time.Now().UTC()
	}

	id, err := ids.NewULID(now)
	if err != nil {
		return Conversation{}, err
	}

	conversations := pgIdent(s.schema, "conversations")

	_, err = s.pool.Exec(ctx,
		`INSERT INTO `+conversations+` (id, match_id, type, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5)`,
		id, matchID, string(typ), now, now,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return Conversation{}, ErrConversationExists
		}
		return Conversation{}, err
	}

	return Conversation{
		ID:        id,
		MatchID:   matchID,
		Type:      typ,
		CreatedAt: now,
		UpdatedAt: now,
	}, nil
}

// ConversationByMatch returns the conversation created for a match.
func (s *PostgresStore) ConversationByMatch(ctx context.Context, matchID string) (Conversation, error) {
	if s == nil || s.pool == nil {
		return Conversation{}, errors.New("chat: nil store")
	}
	if err := ctx.Err(); err != nil {
		return Conversation{}, err
	}

	conversations := pgIdent(s.schema, "conversations")

	var (
		c   Conversation
		typ string
	)
	err := s.pool.QueryRow(ctx,
		`SELECT id, match_id, type, created_at, updated_at
		   FROM `+conversations+`
		  WHERE match_id = $1`,
		matchID,
	).Scan(&c.ID, &c.MatchID, &typ, &c.CreatedAt, &c.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Conversation{}, ErrNotFound
	}
	if err != nil {
		return Conversation{}, err
	}
	c.Type = Type(typ)
	return c, nil
}

// GetConversation loads a conversation joined with its match parties.
func (s *PostgresStore) GetConversation(ctx context.Context, conversationID string) (ConversationInfo, error) {
	if s == nil || s.pool == nil {
		return ConversationInfo{}, errors.New("chat: nil store")
	}
	if err := ctx.Err(); err != nil {
		return ConversationInfo{}, err
	}

	conversations := pgIdent(s.schema, "conversations")
	matches := pgIdent(s.schema, "matches")

	row := s.pool.QueryRow(ctx,
		`SELECT `+conversationColumns+`, m.requester_id, m.requested_id
		   FROM `+conversations+` c
		   JOIN `+matches+` m ON m.id = c.match_id
		  WHERE c.id = $1`,
		conversationID,
	)
	return scanConversationInfo(row)
}

// ListByUser returns the user's conversations, most recently active first.
// Only conversations of ACCEPTED matches surface; rows for other statuses
// should not exist, but the filter keeps the access invariant in one place.
func (s *PostgresStore) ListByUser(ctx context.Context, userID string) ([]ConversationInfo, error) {
	if s == nil || s.pool == nil {
		return nil, errors.New("chat: nil store")
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	conversations := pgIdent(s.schema, "conversations")
	matches := pgIdent(s.schema, "matches")

	rows, err := s.pool.Query(ctx,
		`SELECT `+conversationColumns+`, m.requester_id, m.requested_id
		   FROM `+conversations+` c
		   JOIN `+matches+` m ON m.id = c.match_id
		  WHERE (m.requester_id = $1 OR m.requested_id = $1)
		    AND m.status = $2
		  ORDER BY c.updated_at DESC, c.id DESC`,
		userID, "ACCEPTED",
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]ConversationInfo, 0, 16)
	for rows.Next() {
		info, err := scanConversationInfo(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, info)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

// TouchConversation bumps updated_at.
func (s *PostgresStore) TouchConversation(ctx context.Context, conversationID string, now time.Time) error {
	if s == nil || s.pool == nil {
		return errors.New("chat: nil store")
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	conversations := pgIdent(s.schema, "conversations")

	tag, err := s.pool.Exec(ctx,
		`UPDATE `+conversations+` SET updated_at = $2 WHERE id = $1`,
		conversationID, now,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// CreateMessage inserts a message row.
func (s *PostgresStore) CreateMessage(ctx context.Context, in CreateMessageInput) (Message, error) {
	if s == nil || s.pool == nil {
		return Message{}, errors.New("chat: nil store")
	}
	if err := ctx.Err(); err != nil {
		return Message{}, err
	}
	if in.ConversationID == "" || in.SenderID == "" {
		return Message{}, ErrInvalidInput
	}

	now := in.Now
	if now.IsZero() {
		now = time.Now().UTC()
	}

	id, err := ids.NewULID(now)
	if err != nil {
		return Message{}, err
	}

	m := Message{
		ID:             id,
		ConversationID: in.ConversationID,
		SenderID:       in.SenderID,
		Text:           in.Text,
		SentAt:         now,
		IsRead:         in.IsRead,
		AttachmentURL:  in.AttachmentURL,
	}
	if in.IsRead {
		t := now
		m.ReadAt = &t
	}

	messages := pgIdent(s.schema, "messages")

	_, err = s.pool.Exec(ctx,
		`INSERT INTO `+messages+` (`+messageColumns+`)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		m.ID, m.ConversationID, m.SenderID, m.Text, m.SentAt, m.IsRead, m.ReadAt, nullableString(m.AttachmentURL),
	)
	if err != nil {
		return Message{}, err
	}
	return m, nil
}

// ListMessages returns up to Limit messages newest first, id < Before when set.
func (s *PostgresStore) ListMessages(ctx context.Context, in ListMessagesInput) ([]Message, error) {
	if s == nil || s.pool == nil {
		return nil, errors.New("chat: nil store")
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	limit := in.Limit
	if limit <= 0 {
		limit = 20
	}
	before := strings.TrimSpace(in.Before)

	messages := pgIdent(s.schema, "messages")

	conds := []string{"conversation_id = $1"}
	args := []any{in.ConversationID}
	if before != "" {
		args = append(args, before)
		conds = append(conds, fmt.Sprintf("id < $%d", len(args)))
	}
	if in.TextOnly {
		conds = append(conds, "attachment_url IS NULL")
	}
	args = append(args, limit)

	rows, err := s.pool.Query(ctx,
		`SELECT `+messageColumns+` FROM `+messages+`
		  WHERE `+strings.Join(conds, " AND ")+`
		  ORDER BY sent_at DESC, id DESC
		  LIMIT $`+strconv.Itoa(len(args)),
		args...,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]Message, 0, limit)
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

// LastMessage returns the newest message, or ErrNoMessages.
func (s *PostgresStore) LastMessage(ctx context.Context, conversationID string) (Message, error) {
	if s == nil || s.pool == nil {
		return Message{}, errors.New("chat: nil store")
	}
	if err := ctx.Err(); err != nil {
		return Message{}, err
	}

	messages := pgIdent(s.schema, "messages")

	row := s.pool.QueryRow(ctx,
		`SELECT `+messageColumns+` FROM `+messages+`
		  WHERE conversation_id = $1
		  ORDER BY sent_at DESC, id DESC
		  LIMIT 1`,
		conversationID,
	)
	m, err := scanMessage(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return Message{}, ErrNoMessages
	}
	return m, err
}

// GetMessage loads one message scoped to its conversation.
func (s *PostgresStore) GetMessage(ctx context.Context, conversationID, messageID string) (Message, error) {
	if s == nil || s.pool == nil {
		return Message{}, errors.New("chat: nil store")
	}
	if err := ctx.Err(); err != nil {
		return Message{}, err
	}

	messages := pgIdent(s.schema, "messages")

	row := s.pool.QueryRow(ctx,
		`SELECT `+messageColumns+` FROM `+messages+`
		  WHERE conversation_id = $1 AND id = $2`,
		conversationID, messageID,
	)
	m, err := scanMessage(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return Message{}, ErrMessageNotFound
	}
	return m, err
}

// MarkRead flips unread messages not sent by readerID to read.
func (s *PostgresStore) MarkRead(ctx context.Context, conversationID, readerID string, now time.Time) (int64, error) {
	if s == nil || s.pool == nil {
		return 0, errors.New("chat: nil store")
	}
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	if now.IsZero() {
		now = time.Now().UTC()
	}

	messages := pgIdent(s.schema, "messages")

	tag, err := s.pool.Exec(ctx,
		`UPDATE `+messages+`
		    SET is_read = TRUE, read_at = $3
		  WHERE conversation_id = $1
		    AND sender_id <> $2
		    AND is_read = FALSE`,
		conversationID, readerID, now,
	)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

func scanConversationInfo(row pgx.Row) (ConversationInfo, error) {
	var (
		info ConversationInfo
		typ  string
	)
	err := row.Scan(
		&info.ID, &info.MatchID, &typ, &info.CreatedAt, &info.UpdatedAt,
		&info.RequesterID, &info.RequestedID,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return ConversationInfo{}, ErrNotFound
	}
	if err != nil {
		return ConversationInfo{}, err
	}
	info.Type = Type(typ)
	return info, nil
}

// scanMessage leaves scan errors untranslated; callers decide what an absent
// row means (ErrMessageNotFound for a point lookup, ErrNoMessages for the
// newest-message probe).
func scanMessage(row pgx.Row) (Message, error) {
	var (
		m          Message
		attachment *string
	)
	err := row.Scan(
		&m.ID, &m.ConversationID, &m.SenderID, &m.Text,
		&m.SentAt, &m.IsRead, &m.ReadAt, &attachment,
	)
	if err != nil {
		return Message{}, err
	}
	if attachment != nil {
		m.AttachmentURL = *attachment
	}
	return m, nil
}

func nullableString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

var pgIdentRE = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

func isValidPGIdent(s string) bool {
	return pgIdentRE.MatchString(s)
}

func pgIdent(schema, table string) string {
	// pgx.Identifier safely quotes identifiers, preventing SQL injection.
	return pgx.Identifier{schema, table}.Sanitize()
}

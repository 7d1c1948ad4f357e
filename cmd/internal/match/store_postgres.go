package match

import (
	"context"
	"errors"
	"regexp"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
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
			return errors.New("match: empty schema")
		}
		if !isValidPGIdent(schema) {
			return errors.New("match: invalid schema identifier")
		}
		s.schema = schema
		return nil
	}
}

// NewPostgresStore constructs a Postgres-backed match store.
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
		return nil, errors.New("match: nil pool")
	}
	return st, nil
}

const matchColumns = `id, requester_id, requested_id, status, requester_consent, requested_consent, created_at, updated_at`

// Create inserts a match row.
func (s *PostgresStore) Create(ctx context.Context, m Match) (Match, error) {
	if s == nil || s.pool == nil {
		return Match{}, errors.New("match: nil store")
	}
	if err := ctx.Err(); err != nil {
		return Match{}, err
	}

	matches := pgIdent(s.schema, "matches")

	_, err := s.pool.Exec(ctx,
		`INSERT INTO `+matches+` (`+matchColumns+`)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		m.ID, m.RequesterID, m.RequestedID, string(m.Status),
		m.RequesterConsent, m.RequestedConsent, m.CreatedAt, m.UpdatedAt,
	)
	if err != nil {
		return Match{}, err
	}
	return m, nil
}

// GetByID loads a match row.
func (s *PostgresStore) GetByID(ctx context.Context, matchID string) (Match, error) {
	if s == nil || s.pool == nil {
		return Match{}, errors.New("match: nil store")
	}
	if err := ctx.Err(); err != nil {
		return Match{}, err
	}

	matches := pgIdent(s.schema, "matches")

	row := s.pool.QueryRow(ctx,
		`SELECT `+matchColumns+` FROM `+matches+` WHERE id = $1`,
		matchID,
	)
	return scanMatch(row)
}

// FindByPair returns a match linking a and b in either direction.
func (s *PostgresStore) FindByPair(ctx context.Context, a, b string) (Match, error) {
	if s == nil || s.pool == nil {
		return Match{}, errors.New("match: nil store")
	}
	if err := ctx.Err(); err != nil {
		return Match{}, err
	}

	matches := pgIdent(s.schema, "matches")

	row := s.pool.QueryRow(ctx,
		`SELECT `+matchColumns+` FROM `+matches+`
		  WHERE (requester_id = $1 AND requested_id = $2)
		     OR (requester_id = $2 AND requested_id = $1)
		  LIMIT 1`,
		a, b,
	)
	return scanMatch(row)
}

// TransitionFromPending applies the accept/reject transition as one
// conditional UPDATE. A concurrent transition that already landed leaves no
// PENDING row to match, so the loser observes ErrInvalidStatus.
func (s *PostgresStore) TransitionFromPending(ctx context.Context, matchID string, to Status, requestedConsent bool, now time.Time) (Match, error) {
	if s == nil || s.pool == nil {
		return Match{}, errors.New("match: nil store")
	}
	if err := ctx.Err(); err != nil {
		return Match{}, err
	}

	matches := pgIdent(s.schema, "matches")

	row := s.pool.QueryRow(ctx,
		`UPDATE `+matches+`
		    SET status = $2,
		        requested_consent = (requested_consent OR $3),
		        updated_at = $4
		  WHERE id = $1 AND status = $5
		RETURNING `+matchColumns,
		matchID, string(to), requestedConsent, now, string(StatusPending),
	)

	m, err := scanMatch(row)
	if errors.Is(err, ErrNotFound) {
		// Distinguish "no such match" from "already terminal".
		if _, getErr := s.GetByID(ctx, matchID); getErr != nil {
			return Match{}, getErr
		}
		return Match{}, ErrInvalidStatus
	}
	return m, err
}

// ListReceived returns PENDING matches addressed to userID, newest first.
func (s *PostgresStore) ListReceived(ctx context.Context, userID string) ([]Match, error) {
	matches := pgIdent(s.schema, "matches")
	return s.listQuery(ctx,
		`SELECT `+matchColumns+` FROM `+matches+`
		  WHERE requested_id = $1 AND status = $2
		  ORDER BY created_at DESC, id DESC`,
		userID, string(StatusPending),
	)
}

// ListAll returns every match userID is a party to, newest first.
func (s *PostgresStore) ListAll(ctx context.Context, userID string) ([]Match, error) {
	matches := pgIdent(s.schema, "matches")
	return s.listQuery(ctx,
		`SELECT `+matchColumns+` FROM `+matches+`
		  WHERE requester_id = $1 OR requested_id = $1
		  ORDER BY created_at DESC, id DESC`,
		userID,
	)
}

func (s *PostgresStore) listQuery(ctx context.Context, sql string, args ...any) ([]Match, error) {
	if s == nil || s.pool == nil {
		return nil, errors.New("match: nil store")
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	rows, err := s.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]Match, 0, 16)
	for rows.Next() {
		m, err := scanMatch(rows)
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

func scanMatch(row pgx.Row) (Match, error) {
	var (
		m      Match
		status string
	)
	err := row.Scan(
		&m.ID, &m.RequesterID, &m.RequestedID, &status,
		&m.RequesterConsent, &m.RequestedConsent, &m.CreatedAt, &m.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return Match{}, ErrNotFound
	}
	if err != nil {
		return Match{}, err
	}
	m.Status = Status(status)
	return m, nil
}

var pgIdentRE = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

func isValidPGIdent(s string) bool {
	return pgIdentRE.MatchString(s)
}

func pgIdent(schema, table string) string {
	// pgx.Identifier safely quotes identifiers, preventing SQL injection.
	return pgx.Identifier{schema, table}.Sanitize()
}

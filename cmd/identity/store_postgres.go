package identity

import (
	"context"
	"errors"
	"regexp"
	"strings"
	"time"

	"betabae/cmd/identity/ids"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
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
// The schema name is validated and safely quoted in queries.
func WithSchema(schema string) PostgresOption {
	return func(s *PostgresStore) error {
		schema = strings.TrimSpace(schema)
		if schema == "" {
			return errors.New("identity: empty schema")
		}
		if !isValidPGIdent(schema) {
			return errors.New("identity: invalid schema identifier")
		}
		s.schema = schema
		return nil
	}
}

// NewPostgresStore constructs a Postgres-backed identity store.
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
		return nil, errors.New("identity: nil pool")
	}
	return st, nil
}

// CreateUser registers a user; a unique-violation on username_norm maps to ErrConflict.
func (s *PostgresStore) CreateUser(ctx context.Context, in CreateUserInput) (User, error) {
	if s == nil || s.pool == nil {
		return User{}, errors.New("identity: nil store")
	}
	if err := ValidateNewUser(in.Username, in.DisplayName); err != nil {
		return User{}, err
	}
	if in.CredentialHash == "" {
		return User{}, ErrInvalidInput
	}
	if err := ctx.Err(); err != nil {
		return User{}, err
	}

	now := in.Now
	if now.IsZero() {
		now = time.Now().UTC()
	}

	id, err := ids.NewULID(now)
	if err != nil {
		return User{}, err
	}

	users := pgIdent(s.schema, "users")

	_, err = s.pool.Exec(ctx,
		`INSERT INTO `+users+` (id, username, username_norm, display_name, credential_hash, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $6)`,
		id, in.Username, NormalizeUsername(in.Username), in.DisplayName, in.CredentialHash, now,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return User{}, ErrConflict
		}
		return User{}, err
	}

	return User{
		ID:             id,
		Username:       in.Username,
		DisplayName:    in.DisplayName,
		CredentialHash: in.CredentialHash,
		CreatedAt:      now,
		UpdatedAt:      now,
	}, nil
}

// GetByID loads a user row by id.
func (s *PostgresStore) GetByID(ctx context.Context, userID string) (User, error) {
	return s.getOne(ctx, `WHERE id = $1`, userID)
}

// GetByUsername loads a user row by normalized username.
func (s *PostgresStore) GetByUsername(ctx context.Context, username string) (User, error) {
	return s.getOne(ctx, `WHERE username_norm = $1`, NormalizeUsername(username))
}

// UpdateCredential replaces the credential hash for a user.
func (s *PostgresStore) UpdateCredential(ctx context.Context, userID, credentialHash string, now time.Time) error {
	if s == nil || s.pool == nil {
		return errors.New("identity: nil store")
	}
	if credentialHash == "" {
		return ErrInvalidInput
	}
	if now.IsZero() {
		now = time.Now().UTC()
	}

	users := pgIdent(s.schema, "users")

	tag, err := s.pool.Exec(ctx,
		`UPDATE `+users+` SET credential_hash = $2, updated_at = $3 WHERE id = $1`,
		userID, credentialHash, now,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) getOne(ctx context.Context, where string, arg any) (User, error) {
	if s == nil || s.pool == nil {
		return User{}, errors.New("identity: nil store")
	}
	if err := ctx.Err(); err != nil {
		return User{}, err
	}

	users := pgIdent(s.schema, "users")

	var u User
	err := s.pool.QueryRow(ctx,
		`SELECT id, username, display_name, credential_hash, created_at, updated_at
		   FROM `+users+` `+where,
		arg,
	).Scan(&u.ID, &u.Username, &u.DisplayName, &u.CredentialHash, &u.CreatedAt, &u.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return User{}, ErrNotFound
	}
	if err != nil {
		return User{}, err
	}
	return u, nil
}

var pgIdentRE = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

func isValidPGIdent(s string) bool {
	return pgIdentRE.MatchString(s)
}

func pgIdent(schema, table string) string {
	// pgx.Identifier safely quotes identifiers, preventing SQL injection.
	return pgx.Identifier{schema, table}.Sanitize()
}

package gateway

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore is a MetadataStore backed by PostgreSQL.
//
// Ownership model:
// - PostgresStore does NOT own the pgx pool. The caller must close the pool.
// - Close() is therefore a no-op.
type PostgresStore struct {
	pool   *pgxpool.Pool
	schema string
}

// PostgresOption configures PostgresStore behavior.
type PostgresOption func(*PostgresStore) error

// WithSchema sets the DB schema used by this store (default: "courier").
// The schema name is validated and safely quoted in queries.
func WithSchema(schema string) PostgresOption {
	return func(s *PostgresStore) error {
		schema = strings.TrimSpace(schema)
		if schema == "" {
			return errors.New("gateway: empty schema")
		}
		if !isValidPGIdent(schema) {
			return errors.New("gateway: invalid schema identifier")
		}
		s.schema = schema
		return nil
	}
}

// NewPostgresStore constructs a Postgres-backed MetadataStore.
func NewPostgresStore(pool *pgxpool.Pool, opts ...PostgresOption) (*PostgresStore, error) {
	st := &PostgresStore{
		pool:   pool,
		schema: "courier",
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
		return nil, errors.New("gateway: nil pool")
	}
	return st, nil
}

// Close is a no-op because the pool is owned by the caller.
func (s *PostgresStore) Close() error { return nil }

// Save merges patch into the persisted record under a transaction so
// concurrent partial updates cannot interleave their merges.
func (s *PostgresStore) Save(ctx context.Context, id string, patch RecordPatch) (Record, error) {
	if s == nil || s.pool == nil {
		return Record{}, errors.New("gateway: nil store")
	}
	if id == "" {
		return Record{}, errors.New("gateway: empty session id")
	}

	now := time.Now().UTC()
	sessions := pgIdent(s.schema, "sessions")

	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{
		IsoLevel:   pgx.ReadCommitted,
		AccessMode: pgx.ReadWrite,
	})
	if err != nil {
		return Record{}, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	rec := Record{SessionID: id, CreatedAt: now}
	row := tx.QueryRow(ctx, fmt.Sprintf(`
		SELECT webhook_url, webhook_secret, transport, created_at
		FROM %s
		WHERE session_id = $1
		FOR UPDATE`, sessions), id)

	var existing bool
	switch err := row.Scan(&rec.WebhookURL, &rec.WebhookSecret, &rec.Transport, &rec.CreatedAt); {
	case err == nil:
		existing = true
	case errors.Is(err, pgx.ErrNoRows):
		existing = false
	default:
		return Record{}, fmt.Errorf("read record: %w", err)
	}

	if patch.WebhookURL != nil {
		rec.WebhookURL = *patch.WebhookURL
	}
	if patch.WebhookSecret != nil {
		rec.WebhookSecret = *patch.WebhookSecret
	}
	if patch.Transport != nil {
		rec.Transport = rec.Transport.Merge(*patch.Transport)
	}
	rec.UpdatedAt = now

	if existing {
		_, err = tx.Exec(ctx, fmt.Sprintf(`
			UPDATE %s
			SET webhook_url = $2, webhook_secret = $3, transport = $4, updated_at = $5
			WHERE session_id = $1`, sessions),
			id, rec.WebhookURL, rec.WebhookSecret, rec.Transport, rec.UpdatedAt)
	} else {
		_, err = tx.Exec(ctx, fmt.Sprintf(`
			INSERT INTO %s (session_id, webhook_url, webhook_secret, transport, created_at, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6)`, sessions),
			id, rec.WebhookURL, rec.WebhookSecret, rec.Transport, rec.CreatedAt, rec.UpdatedAt)
	}
	if err != nil {
		return Record{}, fmt.Errorf("write record: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return Record{}, err
	}
	return rec, nil
}

// Read returns the record for id or ErrNotFound.
func (s *PostgresStore) Read(ctx context.Context, id string) (Record, error) {
	if s == nil || s.pool == nil {
		return Record{}, errors.New("gateway: nil store")
	}

	sessions := pgIdent(s.schema, "sessions")
	rec := Record{SessionID: id}
	row := s.pool.QueryRow(ctx, fmt.Sprintf(`
		SELECT webhook_url, webhook_secret, transport, created_at, updated_at
		FROM %s
		WHERE session_id = $1`, sessions), id)

	err := row.Scan(&rec.WebhookURL, &rec.WebhookSecret, &rec.Transport, &rec.CreatedAt, &rec.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Record{}, ErrNotFound
	}
	if err != nil {
		return Record{}, err
	}
	return rec, nil
}

// ListAll returns every persisted session id, oldest first so restoration
// order is stable across restarts.
func (s *PostgresStore) ListAll(ctx context.Context) ([]string, error) {
	if s == nil || s.pool == nil {
		return nil, errors.New("gateway: nil store")
	}

	sessions := pgIdent(s.schema, "sessions")
	rows, err := s.pool.Query(ctx, fmt.Sprintf(`
		SELECT session_id FROM %s ORDER BY created_at ASC`, sessions))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

// Remove deletes the record for id. Removing an absent id is not an error.
func (s *PostgresStore) Remove(ctx context.Context, id string) error {
	if s == nil || s.pool == nil {
		return errors.New("gateway: nil store")
	}

	sessions := pgIdent(s.schema, "sessions")
	_, err := s.pool.Exec(ctx, fmt.Sprintf(`
		DELETE FROM %s WHERE session_id = $1`, sessions), id)
	return err
}

var pgIdentRE = regexp.MustCompile(`^[a-z_][a-z0-9_]{0,62}$`)

func isValidPGIdent(s string) bool { return pgIdentRE.MatchString(s) }

// pgIdent quotes schema.table for interpolation into query text.
// Both parts are validated identifiers, never caller input.
func pgIdent(schema, table string) string {
	return fmt.Sprintf("%q.%q", schema, table)
}

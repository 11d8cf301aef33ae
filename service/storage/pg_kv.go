package storage

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/pkg/errors"
)

// pgExecer is satisfied by *pgxpool.Pool, pgx.Conn and pgxmock pools.
type pgExecer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

const (
	pgSchema = `CREATE TABLE IF NOT EXISTS kv_store (
	key        TEXT PRIMARY KEY,
	value      BYTEA NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
)`
	pgGet    = `SELECT value FROM kv_store WHERE key = $1`
	pgUpsert = `INSERT INTO kv_store (key, value, updated_at) VALUES ($1, $2, now())
ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value, updated_at = now()`
	pgDelete = `DELETE FROM kv_store WHERE key = $1`
)

// PgKV keeps values in the kv_store table.
type PgKV struct {
	db pgExecer
}

func NewPgKV(db pgExecer) *PgKV {
	return &PgKV{db: db}
}

// EnsureSchema creates kv_store if needed.
func (s *PgKV) EnsureSchema(ctx context.Context) error {
	if _, err := s.db.Exec(ctx, pgSchema); err != nil {
		return errors.Wrap(err, "create kv_store")
	}
	return nil
}

func (s *PgKV) Get(ctx context.Context, key string) ([]byte, bool, error) {
	var val []byte
	err := s.db.QueryRow(ctx, pgGet, key).Scan(&val)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, errors.Wrapf(err, "pg get %s", key)
	}
	return val, true, nil
}

func (s *PgKV) Set(ctx context.Context, key string, value []byte) error {
	if _, err := s.db.Exec(ctx, pgUpsert, key, value); err != nil {
		return errors.Wrapf(err, "pg set %s", key)
	}
	return nil
}

func (s *PgKV) Remove(ctx context.Context, key string) error {
	if _, err := s.db.Exec(ctx, pgDelete, key); err != nil {
		return errors.Wrapf(err, "pg delete %s", key)
	}
	return nil
}

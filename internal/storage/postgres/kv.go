package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
)

const DefaultTable = "kv_store"

type KVStore struct {
	db    *sqlx.DB
	table string
}

func NewKVStore(db *sqlx.DB, table string) *KVStore {
	if table == "" {
		table = DefaultTable
	}
	return &KVStore{db: db, table: pq.QuoteIdentifier(table)}
}

// EnsureSchema creates the backing table when no migration has been applied.
func (s *KVStore) EnsureSchema(ctx context.Context) error {
	query := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			key        TEXT PRIMARY KEY,
			value      BYTEA NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`, s.table)
	_, err := s.db.ExecContext(ctx, query)
	return err
}

func (s *KVStore) Get(ctx context.Context, key string) ([]byte, bool, error) {
	var value []byte
	query := fmt.Sprintf(`SELECT value FROM %s WHERE key = $1`, s.table)

	err := s.db.GetContext(ctx, &value, query, key)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return value, true, nil
}

func (s *KVStore) Set(ctx context.Context, key string, value []byte) error {
	query := fmt.Sprintf(`
		INSERT INTO %s (key, value, updated_at)
		VALUES ($1, $2, NOW())
		ON CONFLICT (key) DO UPDATE SET
			value = EXCLUDED.value,
			updated_at = EXCLUDED.updated_at`, s.table)

	_, err := s.db.ExecContext(ctx, query, key, value)
	return err
}

func (s *KVStore) Remove(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	query := fmt.Sprintf(`DELETE FROM %s WHERE key = ANY($1)`, s.table)
	_, err := s.db.ExecContext(ctx, query, pq.Array(keys))
	return err
}

func (s *KVStore) Close() error {
	return s.db.Close()
}

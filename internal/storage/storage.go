// Package storage defines the key-value persistence contract used by the
// Deduplication Store and the engine run record, and selects a backend.
//
// Values are opaque bytes (JSON in practice). There are no transactional
// guarantees beyond last-write-wins per key.
package storage

import (
	"context"
	"fmt"
	"strings"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"

	"jobwatch/internal/storage/postgres"
	"jobwatch/internal/storage/redis"
	"jobwatch/internal/storage/sqlite"
)

type KV interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte) error
	Remove(ctx context.Context, keys ...string) error
	Close() error
}

type Config struct {
	Driver   string
	SQLite   sqlite.Config
	Postgres PostgresConfig
	Redis    redis.Config
}

type PostgresConfig struct {
	DSN   string
	Table string
}

// Open returns the configured backend. An empty driver selects memory.
func Open(ctx context.Context, cfg Config) (KV, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.Driver)) {
	case "", "memory":
		return NewMemory(), nil
	case "sqlite", "sqlite3":
		return sqlite.Open(ctx, cfg.SQLite)
	case "postgres", "postgresql":
		db, err := sqlx.ConnectContext(ctx, "postgres", cfg.Postgres.DSN)
		if err != nil {
			return nil, fmt.Errorf("connect to postgres: %w", err)
		}
		kv := postgres.NewKVStore(db, cfg.Postgres.Table)
		if err := kv.EnsureSchema(ctx); err != nil {
			db.Close()
			return nil, fmt.Errorf("ensure schema: %w", err)
		}
		return kv, nil
	case "redis":
		return redis.Open(ctx, cfg.Redis)
	default:
		return nil, fmt.Errorf("unknown storage driver %q", cfg.Driver)
	}
}

//go:build integration

package postgres_test

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"github.com/stretchr/testify/suite"
	"github.com/testcontainers/testcontainers-go"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"jobwatch/internal/storage"
	"jobwatch/internal/storage/kvtest"
	"jobwatch/internal/storage/postgres"
)

type PostgresIntegrationSuite struct {
	kvtest.Suite
	container *tcpostgres.PostgresContainer
	db        *sqlx.DB
}

func (s *PostgresIntegrationSuite) SetupSuite() {
	s.Ctx = context.Background()

	migrationsPath, err := filepath.Abs("../../../migrations")
	s.Require().NoError(err)

	container, err := tcpostgres.Run(s.Ctx,
		"postgres:16-alpine",
		tcpostgres.WithDatabase("test_db"),
		tcpostgres.WithUsername("test"),
		tcpostgres.WithPassword("test"),
		tcpostgres.WithInitScripts(
			filepath.Join(migrationsPath, "001_create_kv_store.up.sql"),
		),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second),
		),
	)
	s.Require().NoError(err)
	s.container = container

	connStr, err := container.ConnectionString(s.Ctx, "sslmode=disable")
	s.Require().NoError(err)

	db, err := sqlx.Connect("postgres", connStr)
	s.Require().NoError(err)
	s.db = db

	kv := postgres.NewKVStore(db, "")
	s.New = func() storage.KV { return kv }
}

func (s *PostgresIntegrationSuite) TearDownSuite() {
	if s.db != nil {
		s.db.Close()
	}
	if s.container != nil {
		_ = s.container.Terminate(s.Ctx)
	}
}

func TestPostgresIntegrationSuite(t *testing.T) {
	suite.Run(t, new(PostgresIntegrationSuite))
}

func (s *PostgresIntegrationSuite) TestEnsureSchema_CustomTable() {
	kv := postgres.NewKVStore(s.db, "jobwatch_state")
	s.Require().NoError(kv.EnsureSchema(s.Ctx))
	s.Require().NoError(kv.EnsureSchema(s.Ctx))

	s.Require().NoError(kv.Set(s.Ctx, "engine:run", []byte(`{"running":true}`)))

	var count int
	err := s.db.GetContext(s.Ctx, &count, `SELECT COUNT(*) FROM jobwatch_state WHERE key = $1`, "engine:run")
	s.NoError(err)
	s.Equal(1, count)
}

func (s *PostgresIntegrationSuite) TestSet_UpdatesTimestamp() {
	kv := postgres.NewKVStore(s.db, "")
	s.Require().NoError(kv.Set(s.Ctx, "a", []byte("1")))

	var first time.Time
	s.Require().NoError(s.db.GetContext(s.Ctx, &first, `SELECT updated_at FROM kv_store WHERE key = 'a'`))

	time.Sleep(10 * time.Millisecond)
	s.Require().NoError(kv.Set(s.Ctx, "a", []byte("2")))

	var second time.Time
	s.Require().NoError(s.db.GetContext(s.Ctx, &second, `SELECT updated_at FROM kv_store WHERE key = 'a'`))
	s.True(second.After(first))
}

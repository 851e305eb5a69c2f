//go:build integration

package redis_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/suite"
	tcredis "github.com/testcontainers/testcontainers-go/modules/redis"

	"jobwatch/internal/storage"
	"jobwatch/internal/storage/kvtest"
	"jobwatch/internal/storage/redis"
)

type RedisIntegrationSuite struct {
	kvtest.Suite
	container *tcredis.RedisContainer
	kv        *redis.KVStore
}

func (s *RedisIntegrationSuite) SetupSuite() {
	s.Ctx = context.Background()

	container, err := tcredis.Run(s.Ctx, "redis:7-alpine")
	s.Require().NoError(err)
	s.container = container

	url, err := container.ConnectionString(s.Ctx)
	s.Require().NoError(err)

	kv, err := redis.Open(s.Ctx, redis.Config{URL: url, Prefix: "test:"})
	s.Require().NoError(err)
	s.kv = kv
	s.New = func() storage.KV { return kv }
}

func (s *RedisIntegrationSuite) TearDownSuite() {
	if s.kv != nil {
		_ = s.kv.Close()
	}
	if s.container != nil {
		_ = s.container.Terminate(s.Ctx)
	}
}

func TestRedisIntegrationSuite(t *testing.T) {
	suite.Run(t, new(RedisIntegrationSuite))
}

func (s *RedisIntegrationSuite) TestOpen_BadURL() {
	_, err := redis.Open(s.Ctx, redis.Config{URL: "not a url"})
	s.Error(err)
}

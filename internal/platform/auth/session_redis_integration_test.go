//go:build integration

package auth

import (
	"context"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
	tcredis "github.com/testcontainers/testcontainers-go/modules/redis"
)

type RedisSessionStoreSuite struct {
	suite.Suite
	container *tcredis.RedisContainer
	client    *redis.Client
	store     *RedisSessionStore
}

func TestRedisSessionStoreSuite(t *testing.T) {
	suite.Run(t, new(RedisSessionStoreSuite))
}

func (s *RedisSessionStoreSuite) SetupSuite() {
	ctx := context.Background()

	container, err := tcredis.Run(ctx, "redis:7-alpine")
	s.Require().NoError(err)
	s.container = container

	url, err := container.ConnectionString(ctx)
	s.Require().NoError(err)
	opts, err := redis.ParseURL(url)
	s.Require().NoError(err)

	s.client = redis.NewClient(opts)
	s.Require().NoError(s.client.Ping(ctx).Err())
	s.store = NewRedisSessionStore(s.client)
}

func (s *RedisSessionStoreSuite) TearDownSuite() {
	if s.client != nil {
		_ = s.client.Close()
	}
	if s.container != nil {
		_ = s.container.Terminate(context.Background())
	}
}

func (s *RedisSessionStoreSuite) SetupTest() {
	s.Require().NoError(s.client.FlushAll(context.Background()).Err())
}

func (s *RedisSessionStoreSuite) TestCreateGetDelete() {
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Second)
	sess := &Session{
		ID:        "sess-1",
		Username:  "doctor",
		Role:      RoleDoctor,
		Device:    "Firefox on Linux",
		CreatedAt: now,
		ExpiresAt: now.Add(time.Hour),
	}

	require.NoError(s.T(), s.store.Create(ctx, sess))

	got, err := s.store.Get(ctx, "sess-1")
	require.NoError(s.T(), err)
	s.Equal("doctor", got.Username)
	s.Equal(RoleDoctor, got.Role)
	s.True(got.ExpiresAt.Equal(sess.ExpiresAt))

	ttl, err := s.client.TTL(ctx, sessionKeyPrefix+"sess-1").Result()
	require.NoError(s.T(), err)
	s.Greater(ttl, 50*time.Minute)

	require.NoError(s.T(), s.store.Delete(ctx, "sess-1"))
	_, err = s.store.Get(ctx, "sess-1")
	s.ErrorIs(err, ErrSessionNotFound)
}

func (s *RedisSessionStoreSuite) TestCreateExpiredRejected() {
	past := time.Now().Add(-time.Minute)
	err := s.store.Create(context.Background(), &Session{ID: "old", ExpiresAt: past})
	s.Error(err)
}

func (s *RedisSessionStoreSuite) TestGetUnknown() {
	_, err := s.store.Get(context.Background(), "missing")
	s.ErrorIs(err, ErrSessionNotFound)
}

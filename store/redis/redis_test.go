package redis_test

import (
	"context"
	"sync"
	"testing"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/suite"

	"github.com/new1943/msgsource/data"
	"github.com/new1943/msgsource/internal/testdeps"
	"github.com/new1943/msgsource/store"
	"github.com/new1943/msgsource/store/redis"
)

type RedisSuite struct {
	suite.Suite

	dsn    data.DSN
	writer *goredis.Client
}

func TestRedisSuite(t *testing.T) {
	suite.Run(t, new(RedisSuite))
}

func (s *RedisSuite) SetupSuite() {
	ctx := context.Background()
	s.dsn = testdeps.Valkey(ctx, s.T(), data.RedisScheme).ExtendQuery(redis.NotifyQuery, "true")

	opts, err := goredis.ParseURL(s.dsn.RemoveQuery(redis.NotifyQuery).String())
	s.Require().NoError(err)
	s.writer = goredis.NewClient(opts)
}

func (s *RedisSuite) TearDownSuite() {
	if s.writer != nil {
		s.Require().NoError(s.writer.Close())
	}
}

func (s *RedisSuite) TestGetAndListen() {
	ctx := context.Background()
	client, err := redis.New(ctx, s.dsn)
	s.Require().NoError(err)

	s.Require().NoError(s.writer.Set(ctx, "messages_pt", "greeting=Olá", 0).Err())

	v, err := client.Get(ctx, "messages_pt")
	s.Require().NoError(err)
	s.Equal("greeting=Olá", v.Data)

	_, err = client.Get(ctx, "messages_zz")
	s.Require().ErrorIs(err, store.ErrNotFound)

	var (
		mu     sync.Mutex
		latest string
	)
	s.Require().NoError(client.Listen(ctx, "messages_pt", store.ChangeHandlerFunc(
		func(_ context.Context, _ string, value string) {
			mu.Lock()
			defer mu.Unlock()
			latest = value
		})))

	s.Require().NoError(s.writer.Set(ctx, "messages_pt", "greeting=Oi", 0).Err())
	s.Eventually(func() bool {
		mu.Lock()
		defer mu.Unlock()
		return latest == "greeting=Oi"
	}, 5*time.Second, 20*time.Millisecond)

	s.Require().NoError(client.Close())
	s.Require().ErrorIs(client.Listen(ctx, "messages_pt", store.ChangeHandlerFunc(
		func(context.Context, string, string) {})), store.ErrClosed)
}

func (s *RedisSuite) TestNewRejectsOtherSchemes() {
	_, err := redis.New(context.Background(), "nacos://localhost:8848")
	s.Require().ErrorIs(err, data.ErrUnsupportedScheme)
}

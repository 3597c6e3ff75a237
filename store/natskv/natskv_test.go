package natskv_test

import (
	"context"
	"testing"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/suite"

	"github.com/new1943/msgsource/data"
	"github.com/new1943/msgsource/engine"
	"github.com/new1943/msgsource/fetch"
	"github.com/new1943/msgsource/internal/testdeps"
	"github.com/new1943/msgsource/locale"
	"github.com/new1943/msgsource/store"
	"github.com/new1943/msgsource/store/natskv"
	"github.com/new1943/msgsource/watch"
)

type NatsKVSuite struct {
	suite.Suite

	dsn    data.DSN
	conn   *nats.Conn
	kv     nats.KeyValue
	client *natskv.Client
}

func TestNatsKVSuite(t *testing.T) {
	suite.Run(t, new(NatsKVSuite))
}

func (s *NatsKVSuite) SetupSuite() {
	ctx := context.Background()
	s.dsn = testdeps.Nats(ctx, s.T())

	var err error
	s.conn, err = nats.Connect(s.dsn.String())
	s.Require().NoError(err)

	js, err := s.conn.JetStream()
	s.Require().NoError(err)

	s.kv, err = js.CreateKeyValue(&nats.KeyValueConfig{Bucket: "i18n", History: 5})
	s.Require().NoError(err)

	bucketDSN := data.DSN(s.dsn.String() + "/i18n")
	s.client, err = natskv.New(bucketDSN)
	s.Require().NoError(err)
}

func (s *NatsKVSuite) TearDownSuite() {
	if s.client != nil {
		s.Require().NoError(s.client.Close())
	}
	if s.conn != nil {
		s.conn.Close()
	}
}

func (s *NatsKVSuite) TestNewRejectsOtherSchemes() {
	_, err := natskv.New("consul://localhost:8500")
	s.Require().ErrorIs(err, data.ErrUnsupportedScheme)
}

func (s *NatsKVSuite) TestGet() {
	ctx := context.Background()
	rev, err := s.kv.PutString("messages_fr", "greeting=Bonjour")
	s.Require().NoError(err)

	v, err := s.client.Get(ctx, "messages_fr")
	s.Require().NoError(err)
	s.Equal(&store.Value{Key: "messages_fr", Data: "greeting=Bonjour", Index: rev}, v)

	_, err = s.client.Get(ctx, "messages_zz")
	s.Require().ErrorIs(err, store.ErrNotFound)
}

func (s *NatsKVSuite) TestBlockingGet() {
	ctx := context.Background()
	rev, err := s.kv.PutString("messages_de", "greeting=Hallo")
	s.Require().NoError(err)

	s.Run("timeout returns current value", func() {
		start := time.Now()
		v, getErr := s.client.BlockingGet(ctx, "messages_de", rev, 200*time.Millisecond)
		s.Require().NoError(getErr)
		s.Equal(rev, v.Index)
		s.GreaterOrEqual(time.Since(start), 200*time.Millisecond)
	})

	s.Run("returns on change", func() {
		go func() {
			time.Sleep(100 * time.Millisecond)
			_, _ = s.kv.PutString("messages_de", "greeting=Guten Tag")
		}()

		v, getErr := s.client.BlockingGet(ctx, "messages_de", rev, 10*time.Second)
		s.Require().NoError(getErr)
		s.Greater(v.Index, rev)
		s.Equal("greeting=Guten Tag", v.Data)
	})

	s.Run("cancellation", func() {
		cctx, cancel := context.WithCancel(ctx)
		cancel()
		_, getErr := s.client.BlockingGet(cctx, "messages_de", rev+100, time.Minute)
		s.Require().Error(getErr)
	})
}

func (s *NatsKVSuite) TestLongPollRefreshesEngine() {
	ctx := context.Background()
	_, err := s.kv.PutString("messages_it", "greeting=Ciao")
	s.Require().NoError(err)

	cache := engine.NewCache()
	eng := engine.New(cache, fetch.NewIndexedFetcher(s.client))
	it := locale.MustParse("it")

	got, ok := eng.Resolve(ctx, "greeting", it)
	s.Require().True(ok)
	s.Equal("Ciao", got)

	poll, err := watch.NewLongPoll(cache, s.client,
		watch.WithDelay(20*time.Millisecond),
		watch.WithWaitTime(500*time.Millisecond))
	s.Require().NoError(err)
	s.Require().NoError(poll.Start(ctx))
	defer func() { s.Require().NoError(poll.Stop(ctx)) }()

	_, err = s.kv.PutString("messages_it", "greeting=Salve")
	s.Require().NoError(err)

	s.Eventually(func() bool {
		msg, found := eng.Resolve(ctx, "greeting", it)
		return found && msg == "Salve"
	}, 5*time.Second, 20*time.Millisecond)
}

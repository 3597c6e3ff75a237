package consul_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/hashicorp/consul/api"
	"github.com/stretchr/testify/suite"

	"github.com/new1943/msgsource/data"
	"github.com/new1943/msgsource/store"
	"github.com/new1943/msgsource/store/consul"
)

type fakeKV struct {
	pairs map[string]*api.KVPair
	index uint64
	err   error

	lastKey   string
	lastQuery *api.QueryOptions
}

func (f *fakeKV) Get(key string, q *api.QueryOptions) (*api.KVPair, *api.QueryMeta, error) {
	f.lastKey = key
	f.lastQuery = q
	if f.err != nil {
		return nil, nil, f.err
	}
	return f.pairs[key], &api.QueryMeta{LastIndex: f.index}, nil
}

type ConsulSuite struct {
	suite.Suite
}

func TestConsulSuite(t *testing.T) {
	suite.Run(t, new(ConsulSuite))
}

func (s *ConsulSuite) TestGet() {
	kv := &fakeKV{
		pairs: map[string]*api.KVPair{"config/i18n/messages_fr": {Value: []byte("greeting=Bonjour")}},
		index: 42,
	}
	c := consul.NewFromKV(kv, "secret", "eu1", "config/i18n")

	v, err := c.Get(context.Background(), "messages_fr")
	s.Require().NoError(err)
	s.Equal(&store.Value{Key: "messages_fr", Data: "greeting=Bonjour", Index: 42}, v)

	s.Equal("config/i18n/messages_fr", kv.lastKey)
	s.Equal("secret", kv.lastQuery.Token)
	s.Equal("eu1", kv.lastQuery.Datacenter)
	s.Zero(kv.lastQuery.WaitIndex)
	s.NotNil(kv.lastQuery.Context())
}

func (s *ConsulSuite) TestBlockingGetPassesIndex() {
	kv := &fakeKV{
		pairs: map[string]*api.KVPair{"messages": {Value: []byte("greeting=Hello")}},
		index: 9,
	}
	c := consul.NewFromKV(kv, "", "", "")

	v, err := c.BlockingGet(context.Background(), "messages", 5, 30*time.Second)
	s.Require().NoError(err)
	s.Equal(uint64(9), v.Index)
	s.Equal("messages", kv.lastKey)
	s.Equal(uint64(5), kv.lastQuery.WaitIndex)
	s.Equal(30*time.Second, kv.lastQuery.WaitTime)
}

func (s *ConsulSuite) TestErrors() {
	testCases := []struct {
		name    string
		kv      *fakeKV
		wantErr error
	}{
		{name: "missing key", kv: &fakeKV{index: 3}, wantErr: store.ErrNotFound},
		{name: "agent down", kv: &fakeKV{err: errors.New("dial tcp: connection refused")}},
	}

	for _, tc := range testCases {
		s.Run(tc.name, func() {
			_, err := consul.NewFromKV(tc.kv, "", "", "").Get(context.Background(), "messages")
			s.Require().Error(err)
			if tc.wantErr != nil {
				s.Require().ErrorIs(err, tc.wantErr)
			}
		})
	}
}

func (s *ConsulSuite) TestNew() {
	_, err := consul.New("nats://localhost:4222", "")
	s.Require().ErrorIs(err, data.ErrUnsupportedScheme)

	c, err := consul.New("consul://localhost:8500/config?dc=eu1", "token")
	s.Require().NoError(err)
	s.Require().NoError(c.Close())
}

package memory_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"github.com/new1943/msgsource/store"
	"github.com/new1943/msgsource/store/memory"
)

type MemorySuite struct {
	suite.Suite
}

func TestMemorySuite(t *testing.T) {
	suite.Run(t, new(MemorySuite))
}

func (s *MemorySuite) TestGet() {
	ctx := context.Background()
	m := memory.New()
	s.T().Cleanup(func() { _ = m.Close() })

	_, err := m.Get(ctx, "messages")
	s.Require().ErrorIs(err, store.ErrNotFound)

	idx := m.Put("messages", "greeting=Hello")
	v, err := m.Get(ctx, "messages")
	s.Require().NoError(err)
	s.Equal(&store.Value{Key: "messages", Data: "greeting=Hello", Index: idx}, v)

	m.Delete("messages")
	_, err = m.Get(ctx, "messages")
	s.Require().ErrorIs(err, store.ErrNotFound)
}

func (s *MemorySuite) TestBlockingGetReturnsOnChange() {
	ctx := context.Background()
	m := memory.New()

	first := m.Put("messages", "a=1")

	go func() {
		time.Sleep(20 * time.Millisecond)
		m.Put("other", "x=1")
		m.Put("messages", "a=2")
	}()

	start := time.Now()
	v, err := m.BlockingGet(ctx, "messages", first, 5*time.Second)
	s.Require().NoError(err)
	s.Equal("a=2", v.Data)
	s.Greater(v.Index, first)
	s.Less(time.Since(start), 5*time.Second)
}

func (s *MemorySuite) TestBlockingGetTimesOutWithCurrentValue() {
	m := memory.New()
	idx := m.Put("messages", "a=1")

	v, err := m.BlockingGet(context.Background(), "messages", idx, 30*time.Millisecond)
	s.Require().NoError(err)
	s.Equal(idx, v.Index)
	s.Equal("a=1", v.Data)
}

func (s *MemorySuite) TestBlockingGetReturnsImmediatelyWhenAhead() {
	m := memory.New()
	idx := m.Put("messages", "a=1")

	v, err := m.BlockingGet(context.Background(), "messages", idx-1, time.Hour)
	s.Require().NoError(err)
	s.Equal(idx, v.Index)
}

func (s *MemorySuite) TestBlockingGetHonoursCancellation() {
	m := memory.New()
	idx := m.Put("messages", "a=1")

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	_, err := m.BlockingGet(ctx, "messages", idx, time.Hour)
	s.Require().ErrorIs(err, context.Canceled)
}

func (s *MemorySuite) TestListen() {
	m := memory.New()

	var (
		mu  sync.Mutex
		got []string
	)
	handler := store.ChangeHandlerFunc(func(_ context.Context, key, value string) {
		mu.Lock()
		defer mu.Unlock()
		got = append(got, key+"="+value)
	})

	s.Require().NoError(m.Listen(context.Background(), "messages", handler))
	s.Equal(1, m.Listeners("messages"))

	m.Put("messages", "v1")
	m.Put("unrelated", "v2")

	s.Eventually(func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(got) == 1 && got[0] == "messages=v1"
	}, time.Second, 5*time.Millisecond)

	s.Require().NoError(m.Close())
	s.Equal(0, m.Listeners("messages"))
}

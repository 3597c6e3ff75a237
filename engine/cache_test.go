package engine_test

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"github.com/new1943/msgsource/bundle"
	"github.com/new1943/msgsource/engine"
)

type CacheSuite struct {
	suite.Suite
}

func TestCacheSuite(t *testing.T) {
	suite.Run(t, new(CacheSuite))
}

func snapshot(key string, version uint64, greeting string) *bundle.Snapshot {
	return bundle.NewSnapshot(key, version, map[string]string{"greeting": greeting})
}

func (s *CacheSuite) TestInstallIsMonotonic() {
	testCases := []struct {
		name     string
		versions []uint64
		applied  []bool
		want     uint64
	}{
		{name: "increasing", versions: []uint64{5, 9}, applied: []bool{true, true}, want: 9},
		{name: "stale after fresh", versions: []uint64{9, 5}, applied: []bool{true, false}, want: 9},
		{name: "equal", versions: []uint64{7, 7}, applied: []bool{true, false}, want: 7},
	}

	for _, tc := range testCases {
		s.Run(tc.name, func() {
			c := engine.NewCache()
			for i, v := range tc.versions {
				s.Equal(tc.applied[i], c.Install(snapshot("messages", v, "v")), "version %d", v)
			}

			idx, ok := c.LastIndex("messages")
			s.Require().True(ok)
			s.Equal(tc.want, idx)
		})
	}
}

func (s *CacheSuite) TestUnversionedInstallAlwaysReplaces() {
	c := engine.NewCache()
	s.True(c.Install(snapshot("messages", 0, "Hello")))
	s.True(c.Install(snapshot("messages", 0, "Hi")))

	snap, ok := c.Snapshot("messages")
	s.Require().True(ok)
	msg, _ := snap.Get("greeting")
	s.Equal("Hi", msg)

	_, ok = c.LastIndex("messages")
	s.False(ok)
	s.Empty(c.Indexes())
}

func (s *CacheSuite) TestConcurrentInstallKeepsHighestVersion() {
	c := engine.NewCache()

	var wg sync.WaitGroup
	for v := uint64(1); v <= 64; v++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			c.Install(snapshot("messages", v, "v"))
		}()
	}
	wg.Wait()

	idx, ok := c.LastIndex("messages")
	s.Require().True(ok)
	s.Equal(uint64(64), idx)
	s.Len(c.Indexes(), 1)
}

func (s *CacheSuite) TestIndexesKeepInsertionOrder() {
	c := engine.NewCache()
	c.Install(snapshot("messages_fr", 3, "Bonjour"))
	c.Install(snapshot("messages", 1, "Hello"))
	c.Install(snapshot("messages_de", 2, "Hallo"))
	c.Install(snapshot("messages_fr", 8, "Salut"))

	s.Equal([]engine.Index{
		{Key: "messages_fr", Value: 8},
		{Key: "messages", Value: 1},
		{Key: "messages_de", Value: 2},
	}, c.Indexes())
}

func (s *CacheSuite) TestClaimFetch() {
	c := engine.NewCache()
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	s.True(c.ClaimFetch("messages", start, time.Minute))
	s.False(c.ClaimFetch("messages", start.Add(59*time.Second), time.Minute))
	s.True(c.ClaimFetch("messages", start.Add(time.Minute), time.Minute))

	at, ok := c.FetchedAt("messages")
	s.Require().True(ok)
	s.True(at.Equal(start.Add(time.Minute)))

	s.True(c.ClaimFetch("other", start, 0))
	s.True(c.ClaimFetch("other", start, 0))
}

func (s *CacheSuite) TestClaimFetchSingleWinner() {
	c := engine.NewCache()
	now := time.Now()

	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		wins int
	)
	for range 32 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if c.ClaimFetch("messages", now, time.Minute) {
				mu.Lock()
				wins++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	s.Equal(1, wins)
}

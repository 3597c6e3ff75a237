package engine_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"github.com/new1943/msgsource/bundle"
	"github.com/new1943/msgsource/engine"
	"github.com/new1943/msgsource/fetch"
	"github.com/new1943/msgsource/locale"
	"github.com/new1943/msgsource/store/memory"
)

// countingFetcher records fetches per key and can fail selected keys.
type countingFetcher struct {
	inner fetch.Fetcher

	mu     sync.Mutex
	calls  map[string]int
	failOn map[string]error
}

func newCountingFetcher(inner fetch.Fetcher) *countingFetcher {
	return &countingFetcher{inner: inner, calls: map[string]int{}, failOn: map[string]error{}}
}

func (f *countingFetcher) Fetch(ctx context.Context, key string) (*fetch.Result, error) {
	f.mu.Lock()
	f.calls[key]++
	err := f.failOn[key]
	f.mu.Unlock()

	if err != nil {
		return nil, err
	}
	return f.inner.Fetch(ctx, key)
}

func (f *countingFetcher) Calls(key string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[key]
}

// manualClock is advanced explicitly by tests.
type manualClock struct {
	nanos atomic.Int64
}

func newManualClock() *manualClock {
	c := &manualClock{}
	c.nanos.Store(time.Date(2024, 3, 5, 14, 7, 0, 0, time.UTC).UnixNano())
	return c
}

func (c *manualClock) Now() time.Time {
	return time.Unix(0, c.nanos.Load())
}

func (c *manualClock) Advance(d time.Duration) {
	c.nanos.Add(int64(d))
}

type EngineSuite struct {
	suite.Suite

	mem     *memory.Store
	fetcher *countingFetcher
	clock   *manualClock
}

func TestEngineSuite(t *testing.T) {
	suite.Run(t, new(EngineSuite))
}

func (s *EngineSuite) SetupTest() {
	s.mem = memory.New()
	s.fetcher = newCountingFetcher(fetch.NewIndexedFetcher(s.mem))
	s.clock = newManualClock()
}

func (s *EngineSuite) newEngine(opts ...engine.Option) *engine.Engine {
	opts = append([]engine.Option{
		engine.WithDefaultLocale(locale.MustParse("en_US")),
		engine.WithDelay(time.Minute),
		engine.WithClock(s.clock.Now),
	}, opts...)
	return engine.New(engine.NewCache(), s.fetcher, opts...)
}

func (s *EngineSuite) TestResolveLocaleFallback() {
	testCases := []struct {
		name   string
		bundle map[string]string
		want   string
	}{
		{
			name: "language bundle before basename",
			bundle: map[string]string{
				"messages_fr": "greeting=Bonjour",
				"messages":    "greeting=Hello",
			},
			want: "Bonjour",
		},
		{
			name: "default locale before basename",
			bundle: map[string]string{
				"messages_en_US": "greeting=Hi",
				"messages":       "greeting=Hello",
			},
			want: "Hi",
		},
		{
			name:   "basename last",
			bundle: map[string]string{"messages": "greeting=Hello"},
			want:   "Hello",
		},
	}

	for _, tc := range testCases {
		s.Run(tc.name, func() {
			s.SetupTest()
			for key, raw := range tc.bundle {
				s.mem.Put(key, raw)
			}

			eng := s.newEngine()
			got, ok := eng.Resolve(context.Background(), "greeting", locale.MustParse("fr_FR"))
			s.Require().True(ok)
			s.Equal(tc.want, got)
		})
	}
}

func (s *EngineSuite) TestCandidatesIncludeDefaultLocale() {
	eng := s.newEngine()
	s.Equal(
		[]string{"messages_fr_FR", "messages_fr", "messages_en_US", "messages_en", "messages"},
		eng.Candidates(locale.MustParse("fr_FR")),
	)
	s.Equal(locale.MustParse("en_US"), eng.DefaultLocale())
	s.Equal("messages", eng.Basename())
}

func (s *EngineSuite) TestResolveIsIdempotent() {
	s.mem.Put("messages_fr", "greeting=Bonjour")
	eng := s.newEngine()
	ctx := context.Background()
	fr := locale.MustParse("fr")

	for range 5 {
		got, ok := eng.Resolve(ctx, "greeting", fr)
		s.Require().True(ok)
		s.Equal("Bonjour", got)
	}
	s.Equal(1, s.fetcher.Calls("messages_fr"))
}

func (s *EngineSuite) TestNegativeCacheUnderConcurrency() {
	eng := s.newEngine()
	ctx := context.Background()
	fr := locale.MustParse("fr_FR")

	var wg sync.WaitGroup
	for range 32 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, ok := eng.Resolve(ctx, "greeting", fr)
			s.False(ok)
		}()
	}
	wg.Wait()

	for _, key := range eng.Candidates(fr) {
		s.Equal(1, s.fetcher.Calls(key), key)
	}

	s.mem.Put("messages_fr", "greeting=Bonjour")
	s.clock.Advance(30 * time.Second)
	_, ok := eng.Resolve(ctx, "greeting", fr)
	s.False(ok, "retry delay still applies")
	s.Equal(1, s.fetcher.Calls("messages_fr"))

	s.clock.Advance(31 * time.Second)
	got, ok := eng.Resolve(ctx, "greeting", fr)
	s.Require().True(ok)
	s.Equal("Bonjour", got)
	s.Equal(2, s.fetcher.Calls("messages_fr"))
}

func (s *EngineSuite) TestPresentButNegativeIsNotRefetched() {
	s.mem.Put("messages", "other=value")
	eng := s.newEngine()
	ctx := context.Background()
	root := locale.Locale{}

	_, ok := eng.Resolve(ctx, "greeting", root)
	s.False(ok)

	s.mem.Put("messages", "greeting=Hello")
	s.clock.Advance(time.Hour)

	_, ok = eng.Resolve(ctx, "greeting", root)
	s.False(ok)
	s.Equal(1, s.fetcher.Calls("messages"))
}

func (s *EngineSuite) TestEmptyTemplateIsAbsent() {
	s.mem.Put("messages_fr", "greeting=")
	s.mem.Put("messages", "greeting=Hello")
	eng := s.newEngine()

	got, ok := eng.Resolve(context.Background(), "greeting", locale.MustParse("fr"))
	s.Require().True(ok)
	s.Equal("Hello", got)
}

func (s *EngineSuite) TestFetchErrorAbortsResolution() {
	s.mem.Put("messages", "greeting=Hello")
	s.fetcher.failOn["messages_fr"] = errors.New("connection refused")
	eng := s.newEngine()

	_, ok := eng.Resolve(context.Background(), "greeting", locale.MustParse("fr"))
	s.False(ok)
	s.Zero(s.fetcher.Calls("messages"))

	_, fetched := eng.Cache().FetchedAt("messages_fr")
	s.True(fetched)
}

func (s *EngineSuite) TestMalformedBundleAbortsResolution() {
	s.mem.Put("messages_fr", "greeting=\\uZZZZ")
	s.mem.Put("messages", "greeting=Hello")
	eng := s.newEngine()

	_, ok := eng.Resolve(context.Background(), "greeting", locale.MustParse("fr"))
	s.False(ok)

	_, cached := eng.Cache().Snapshot("messages_fr")
	s.False(cached)
}

func (s *EngineSuite) TestResolveFormat() {
	s.mem.Put("messages_en", "items={0} items\nbroken={0")
	eng := s.newEngine()
	ctx := context.Background()
	en := locale.MustParse("en")

	first, ok := eng.ResolveFormat(ctx, "items", en)
	s.Require().True(ok)
	s.Equal("1,234 items", first.Format(1234))

	second, ok := eng.ResolveFormat(ctx, "items", en)
	s.Require().True(ok)
	s.Same(first, second)

	_, ok = eng.ResolveFormat(ctx, "broken", en)
	s.False(ok)
}

func (s *EngineSuite) TestFetchPreload() {
	ctx := context.Background()
	s.mem.Put("messages_de", "greeting=Hallo")
	s.mem.Put("messages_it", "greeting=\\u12")
	eng := s.newEngine(engine.WithEncoding(bundle.ISO8859_1))
	s.Equal(bundle.ISO8859_1, eng.Encoding())

	s.Require().NoError(eng.Fetch(ctx, "messages_de"))
	snap, ok := eng.Cache().Snapshot("messages_de")
	s.Require().True(ok)
	s.Equal(1, snap.Len())

	s.Require().ErrorIs(eng.Fetch(ctx, "messages_it"), bundle.ErrMalformedBundle)
	s.Require().Error(eng.Fetch(ctx, "messages_xx"))

	got, ok := eng.Resolve(ctx, "greeting", locale.MustParse("de"))
	s.Require().True(ok)
	s.Equal("Hallo", got)
	s.Equal(1, s.fetcher.Calls("messages_de"))
}

package bundle_test

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/suite"

	"github.com/new1943/msgsource/bundle"
	"github.com/new1943/msgsource/locale"
)

type CandidatesSuite struct {
	suite.Suite
}

func TestCandidatesSuite(t *testing.T) {
	suite.Run(t, new(CandidatesSuite))
}

func (s *CandidatesSuite) TestForLocale() {
	testCases := []struct {
		name   string
		locale locale.Locale
		want   []string
	}{
		{name: "root", locale: locale.Locale{}, want: []string{}},
		{name: "language", locale: locale.New("fr", "", ""), want: []string{"messages_fr"}},
		{
			name:   "language and country",
			locale: locale.New("fr", "FR", ""),
			want:   []string{"messages_fr_FR", "messages_fr"},
		},
		{
			name:   "full",
			locale: locale.New("en", "US", "POSIX"),
			want:   []string{"messages_en_US_POSIX", "messages_en_US", "messages_en"},
		},
		{name: "country only", locale: locale.New("", "US", ""), want: []string{"messages__US"}},
		{name: "variant alone is ignored", locale: locale.New("", "", "POSIX"), want: []string{}},
	}

	for _, tc := range testCases {
		s.Run(tc.name, func() {
			s.Equal(tc.want, bundle.ForLocale("messages", tc.locale))
		})
	}
}

func (s *CandidatesSuite) TestForAppendsDefaultLocaleAndBasename() {
	c := bundle.NewCandidates(locale.MustParse("en_US"))

	s.Equal([]string{
		"messages_fr_FR",
		"messages_fr",
		"messages_en_US",
		"messages_en",
		"messages",
	}, c.For("messages", locale.MustParse("fr_FR")))
}

func (s *CandidatesSuite) TestForSkipsDuplicatesFromDefaultLocale() {
	c := bundle.NewCandidates(locale.MustParse("en"))

	got := c.For("messages", locale.MustParse("en_GB"))
	s.Equal([]string{"messages_en_GB", "messages_en", "messages"}, got)

	seen := map[string]bool{}
	for _, name := range got {
		s.False(seen[name], "duplicate candidate %s", name)
		seen[name] = true
	}
}

func (s *CandidatesSuite) TestForSameAsDefaultLocale() {
	c := bundle.NewCandidates(locale.MustParse("en_US"))
	s.Equal([]string{"messages_en_US", "messages_en", "messages"}, c.For("messages", locale.MustParse("en_US")))
}

func (s *CandidatesSuite) TestForWithoutDefaultLocale() {
	c := bundle.NewCandidates(locale.Locale{})
	s.Equal([]string{"messages_de", "messages"}, c.For("messages", locale.MustParse("de")))
	s.Equal([]string{"messages"}, c.For("messages", locale.Locale{}))
}

func (s *CandidatesSuite) TestForIsMemoizedAndConcurrentSafe() {
	c := bundle.NewCandidates(locale.MustParse("en_US"))
	loc := locale.MustParse("fr_CA")

	const workers = 32
	results := make([][]string, workers)

	var wg sync.WaitGroup
	for i := range workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			results[i] = c.For("messages", loc)
		}()
	}
	wg.Wait()

	want := []string{"messages_fr_CA", "messages_fr", "messages_en_US", "messages_en", "messages"}
	for _, got := range results {
		s.Equal(want, got)
	}

	first := c.For("messages", loc)
	second := c.For("messages", loc)
	s.Same(&first[0], &second[0])
}

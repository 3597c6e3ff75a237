package bundle

import (
	"slices"
	"sync"

	"github.com/new1943/msgsource/locale"
)

type candidateKey struct {
	basename string
	locale   locale.Locale
}

// Candidates computes, and memoizes per basename and locale, the ordered list
// of store keys tried during resolution. Lists are never invalidated.
type Candidates struct {
	defaultLocale locale.Locale
	memo          sync.Map // candidateKey -> []string
}

// NewCandidates builds a resolver whose fallback locale is defaultLocale. The
// root locale disables the fallback.
func NewCandidates(defaultLocale locale.Locale) *Candidates {
	return &Candidates{defaultLocale: defaultLocale}
}

// DefaultLocale returns the fallback locale, root when none is configured.
func (c *Candidates) DefaultLocale() locale.Locale {
	return c.defaultLocale
}

// For returns candidate keys, most specific first: the locale's own keys, the
// default locale's keys not already listed, then the bare basename. The
// returned slice is shared and must not be modified.
func (c *Candidates) For(basename string, loc locale.Locale) []string {
	key := candidateKey{basename: basename, locale: loc}
	if cached, ok := c.memo.Load(key); ok {
		return cached.([]string) //nolint:forcetypeassert // memo only holds []string
	}

	names := make([]string, 0, 7) //nolint:mnd // two locales of three keys plus the basename
	names = append(names, ForLocale(basename, loc)...)

	if !c.defaultLocale.IsRoot() && c.defaultLocale != loc {
		for _, name := range ForLocale(basename, c.defaultLocale) {
			if !slices.Contains(names, name) {
				names = append(names, name)
			}
		}
	}

	names = append(names, basename)

	actual, _ := c.memo.LoadOrStore(key, names)
	return actual.([]string) //nolint:forcetypeassert // memo only holds []string
}

// ForLocale returns the keys contributed by a single locale, most specific
// first: basename_L_C_V, basename_L_C, basename_L.
func ForLocale(basename string, loc locale.Locale) []string {
	result := make([]string, 0, 3) //nolint:mnd // at most language, country and variant keys
	name := basename + "_"

	if loc.Language != "" {
		name += loc.Language
		result = append(result, name)
	}

	name += "_"
	if loc.Country != "" {
		name += loc.Country
		result = append(result, name)
	}

	if loc.Variant != "" && (loc.Language != "" || loc.Country != "") {
		name += "_" + loc.Variant
		result = append(result, name)
	}

	slices.Reverse(result)
	return result
}

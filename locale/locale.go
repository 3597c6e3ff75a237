// Package locale models the language/country/variant triple used to build
// bundle lookup keys, and converts it to and from golang.org/x/text tags.
package locale

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"golang.org/x/text/language"
)

var ErrInvalidLocale = errors.New("invalid locale")

// Locale identifies a language, an optional country and an optional variant.
// The zero value is the root locale and contributes no lookup suffix.
type Locale struct {
	Language string
	Country  string
	Variant  string
}

// New normalises the case of language and country; the variant is kept verbatim.
func New(lang, country, variant string) Locale {
	return Locale{
		Language: strings.ToLower(lang),
		Country:  strings.ToUpper(country),
		Variant:  variant,
	}
}

// Parse accepts "fr", "fr_FR", "en_US_POSIX", POSIX forms such as
// "de_DE.UTF-8@euro" and BCP-47 tags such as "zh-Hant-TW". Script subtags
// are dropped. The empty string yields the root locale.
func Parse(s string) (Locale, error) {
	s = strings.TrimSpace(s)
	if i := strings.IndexAny(s, ".@"); i >= 0 {
		s = s[:i]
	}
	if s == "" {
		return Locale{}, nil
	}

	if strings.Contains(s, "-") && !strings.Contains(s, "_") {
		tag, err := language.Parse(s)
		if err != nil {
			return Locale{}, fmt.Errorf("%w %q: %w", ErrInvalidLocale, s, err)
		}
		return FromTag(tag), nil
	}

	parts := strings.SplitN(strings.ReplaceAll(s, "-", "_"), "_", 3)
	loc := Locale{Language: strings.ToLower(parts[0])}
	if len(parts) > 1 {
		loc.Country = strings.ToUpper(parts[1])
	}
	if len(parts) > 2 {
		loc.Variant = parts[2]
	}

	if loc.Language != "" {
		if _, err := language.ParseBase(loc.Language); err != nil {
			return Locale{}, fmt.Errorf("%w %q: %w", ErrInvalidLocale, s, err)
		}
	}
	if loc.Country != "" {
		if _, err := language.ParseRegion(loc.Country); err != nil {
			return Locale{}, fmt.Errorf("%w %q: %w", ErrInvalidLocale, s, err)
		}
	}

	return loc, nil
}

// MustParse is Parse for package-level values and tests.
func MustParse(s string) Locale {
	loc, err := Parse(s)
	if err != nil {
		panic(err)
	}
	return loc
}

// FromTag converts a BCP-47 tag. Only regions stated explicitly in the tag are
// kept, so "fr" does not silently become "fr_FR".
func FromTag(tag language.Tag) Locale {
	loc := Locale{}

	if base, conf := tag.Base(); conf != language.No && base.String() != "und" {
		loc.Language = base.String()
	}

	if region, conf := tag.Region(); conf == language.Exact {
		loc.Country = region.String()
	}

	variants := tag.Variants()
	if len(variants) > 0 {
		names := make([]string, 0, len(variants))
		for _, v := range variants {
			names = append(names, v.String())
		}
		loc.Variant = strings.Join(names, "_")
	}

	return loc
}

// Tag returns the closest x/text tag, falling back to language.Und.
func (l Locale) Tag() language.Tag {
	if l.IsRoot() {
		return language.Und
	}

	parts := make([]string, 0, 3)
	if l.Language != "" {
		parts = append(parts, l.Language)
	} else {
		parts = append(parts, "und")
	}
	if l.Country != "" {
		parts = append(parts, l.Country)
	}

	tag, err := language.Parse(strings.Join(parts, "-"))
	if err != nil {
		return language.Und
	}
	return tag
}

// IsRoot reports whether the locale carries no language, country or variant.
func (l Locale) IsRoot() bool {
	return l.Language == "" && l.Country == "" && l.Variant == ""
}

// String renders the locale with underscores, e.g. "en_US_POSIX".
func (l Locale) String() string {
	switch {
	case l.Variant != "":
		return l.Language + "_" + l.Country + "_" + l.Variant
	case l.Country != "":
		return l.Language + "_" + l.Country
	default:
		return l.Language
	}
}

// System derives the process locale from LC_ALL, LC_MESSAGES and LANG, in that
// order. "C", "POSIX" and unset environments map to English.
func System() Locale {
	for _, name := range []string{"LC_ALL", "LC_MESSAGES", "LANG"} {
		value := os.Getenv(name)
		if value == "" {
			continue
		}
		if value == "C" || value == "POSIX" || strings.HasPrefix(value, "C.") {
			break
		}
		if loc, err := Parse(value); err == nil && !loc.IsRoot() {
			return loc
		}
	}
	return Locale{Language: "en"}
}

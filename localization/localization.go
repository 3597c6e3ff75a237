// Package localization carries the caller's preferred languages through a
// context and extracts them from HTTP, gRPC and Connect requests.
package localization

import (
	"context"
	"net/http"
	"strings"

	"golang.org/x/text/language"
	"google.golang.org/grpc/metadata"

	"github.com/new1943/msgsource/locale"
)

type contextKey string

func (c contextKey) String() string {
	return "msgsource/localization/" + string(c)
}

const ctxKeyLanguage = contextKey("languageKey")

// ToContext adds language to the current supplied context.
func ToContext(ctx context.Context, lang []string) context.Context {
	return context.WithValue(ctx, ctxKeyLanguage, lang)
}

// FromContext extracts language from the supplied context if any exist.
func FromContext(ctx context.Context) []string {
	languages, ok := ctx.Value(ctxKeyLanguage).([]string)
	if !ok {
		return nil
	}

	return languages
}

// LocaleFromContext returns the first context language that parses as a
// locale, or fallback.
func LocaleFromContext(ctx context.Context, fallback locale.Locale) locale.Locale {
	for _, lang := range FromContext(ctx) {
		if loc, err := locale.Parse(lang); err == nil && !loc.IsRoot() {
			return loc
		}
	}
	return fallback
}

func ToMap(m map[string]string, lang []string) map[string]string {
	m["lang"] = strings.Join(lang, ",")
	return m
}

func FromMap(m map[string]string) []string {
	lang, ok := m["lang"]
	if !ok {
		return nil
	}
	return strings.Split(lang, ",")
}

// ExtractLanguageFromHTTPRequest lists the lang form value, if set, ahead of
// the Accept-Language preferences.
func ExtractLanguageFromHTTPRequest(req *http.Request) []string {
	var languages []string
	if lang := req.FormValue("lang"); lang != "" {
		languages = append(languages, lang)
	}

	return append(languages, ExtractLanguageFromHTTPHeader(req.Header)...)
}

func ExtractLanguageFromHTTPHeader(header http.Header) []string {
	return parseAcceptLanguage(header.Get("Accept-Language"))
}

func ExtractLanguageFromGrpcRequest(ctx context.Context) []string {
	md, ok := metadata.FromIncomingContext(ctx)
	if !ok {
		return nil
	}

	header := md.Get("accept-language")
	if len(header) == 0 {
		return nil
	}
	return parseAcceptLanguage(header[0])
}

// parseAcceptLanguage orders the header's languages by quality. Headers
// x/text rejects are split on commas as given.
func parseAcceptLanguage(header string) []string {
	if strings.TrimSpace(header) == "" {
		return nil
	}

	tags, _, err := language.ParseAcceptLanguage(header)
	if err != nil {
		var languages []string
		for _, part := range strings.Split(header, ",") {
			if lang, _, _ := strings.Cut(strings.TrimSpace(part), ";"); lang != "" {
				languages = append(languages, lang)
			}
		}
		return languages
	}

	languages := make([]string, 0, len(tags))
	for _, tag := range tags {
		languages = append(languages, tag.String())
	}
	return languages
}

// Package http carries request languages into handler contexts.
package http

import (
	"net/http"

	"github.com/new1943/msgsource/localization"
)

const varyHeader = "Vary"

// LanguageHTTPMiddleware stores the languages named by the "lang" form value
// or Accept-Language in the request context, where message lookups with a
// root locale pick them up. Responses vary on Accept-Language.
func LanguageHTTPMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Add(varyHeader, "Accept-Language")

		if langs := localization.ExtractLanguageFromHTTPRequest(r); len(langs) > 0 {
			r = r.WithContext(localization.ToContext(r.Context(), langs))
		}

		next.ServeHTTP(w, r)
	})
}

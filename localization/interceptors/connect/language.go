// Package connect carries Accept-Language headers into Connect handler
// contexts.
package connect

import (
	"context"
	"net/http"

	"connectrpc.com/connect"

	"github.com/new1943/msgsource/localization"
)

// LanguageInterceptor stores request languages in the handler context.
// Client calls pass through untouched.
type LanguageInterceptor struct{}

var _ connect.Interceptor = (*LanguageInterceptor)(nil)

func NewLanguageInterceptor() *LanguageInterceptor {
	return &LanguageInterceptor{}
}

func withLanguages(ctx context.Context, header http.Header) context.Context {
	if langs := localization.ExtractLanguageFromHTTPHeader(header); len(langs) > 0 {
		return localization.ToContext(ctx, langs)
	}
	return ctx
}

func (l *LanguageInterceptor) WrapUnary(next connect.UnaryFunc) connect.UnaryFunc {
	return func(ctx context.Context, req connect.AnyRequest) (connect.AnyResponse, error) {
		if req.Spec().IsClient {
			return next(ctx, req)
		}
		return next(withLanguages(ctx, req.Header()), req)
	}
}

func (l *LanguageInterceptor) WrapStreamingClient(next connect.StreamingClientFunc) connect.StreamingClientFunc {
	return next
}

func (l *LanguageInterceptor) WrapStreamingHandler(next connect.StreamingHandlerFunc) connect.StreamingHandlerFunc {
	return func(ctx context.Context, conn connect.StreamingHandlerConn) error {
		return next(withLanguages(ctx, conn.RequestHeader()), conn)
	}
}

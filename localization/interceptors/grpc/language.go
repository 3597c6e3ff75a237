// Package grpc carries accept-language metadata into gRPC handler contexts.
package grpc

import (
	"context"

	"google.golang.org/grpc"

	"github.com/new1943/msgsource/localization"
)

func withLanguages(ctx context.Context) context.Context {
	if langs := localization.ExtractLanguageFromGrpcRequest(ctx); len(langs) > 0 {
		return localization.ToContext(ctx, langs)
	}
	return ctx
}

// LanguageUnaryInterceptor stores the accept-language metadata of unary calls
// in the handler context.
func LanguageUnaryInterceptor() grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, _ *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		return handler(withLanguages(ctx), req)
	}
}

// LanguageStreamInterceptor does the same for streams.
func LanguageStreamInterceptor() grpc.StreamServerInterceptor {
	return func(srv any, ss grpc.ServerStream, _ *grpc.StreamServerInfo, handler grpc.StreamHandler) error {
		ctx := withLanguages(ss.Context())
		if ctx == ss.Context() {
			return handler(srv, ss)
		}
		return handler(srv, &languageStream{ServerStream: ss, ctx: ctx})
	}
}

type languageStream struct {
	grpc.ServerStream
	ctx context.Context
}

func (s *languageStream) Context() context.Context {
	return s.ctx
}

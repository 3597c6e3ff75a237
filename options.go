package msgsource

import (
	"context"

	"github.com/pitabwire/util"

	"github.com/new1943/msgsource/engine"
	"github.com/new1943/msgsource/store"
	"github.com/new1943/msgsource/telemetry"
)

type Option func(ctx context.Context, s *Source)

// WithLogger adds options to the logger built from the configured level,
// time format and colouring.
func WithLogger(opts ...util.Option) Option {
	return func(_ context.Context, s *Source) {
		s.logOpts = append(s.logOpts, opts...)
	}
}

// WithTelemetry passes options to the telemetry manager.
func WithTelemetry(opts ...telemetry.Option) Option {
	return func(_ context.Context, s *Source) {
		s.telemetryOpts = append(s.telemetryOpts, opts...)
	}
}

// WithEngineOptions appends engine options after those derived from the
// configuration.
func WithEngineOptions(opts ...engine.Option) Option {
	return func(_ context.Context, s *Source) {
		s.engineOpts = append(s.engineOpts, opts...)
	}
}

// WithIndexedStore uses client instead of opening the configured DSN. The
// caller keeps ownership of client.
func WithIndexedStore(client store.IndexedClient) Option {
	return func(_ context.Context, s *Source) {
		s.indexed = client
		s.push = nil
	}
}

// WithPushStore uses client instead of opening the configured DSN. The
// caller keeps ownership of client.
func WithPushStore(client store.PushClient) Option {
	return func(_ context.Context, s *Source) {
		s.push = client
		s.indexed = nil
	}
}

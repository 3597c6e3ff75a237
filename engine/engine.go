// Package engine resolves message codes against snapshots fetched from the
// remote store, fetching on a miss subject to a retry delay.
package engine

import (
	"context"
	"errors"
	"time"

	"github.com/pitabwire/util"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/new1943/msgsource/bundle"
	"github.com/new1943/msgsource/fetch"
	"github.com/new1943/msgsource/locale"
	"github.com/new1943/msgsource/store"
	"github.com/new1943/msgsource/telemetry"
)

const (
	defaultBasename = "messages"
	defaultDelay    = 60 * time.Second

	// InstrumentationName scopes the engine's spans and metrics.
	InstrumentationName = "github.com/new1943/msgsource/engine"
)

type Option func(*Engine)

// WithBasename sets the bundle basename candidate keys are derived from.
func WithBasename(basename string) Option {
	return func(e *Engine) {
		if basename != "" {
			e.basename = basename
		}
	}
}

// WithDelay sets how long a key that could not be fetched is left alone
// before the next resolution may fetch it again.
func WithDelay(delay time.Duration) Option {
	return func(e *Engine) {
		e.delay = delay
	}
}

// WithEncoding sets the text encoding of fetched bundles.
func WithEncoding(enc bundle.Encoding) Option {
	return func(e *Engine) {
		e.encoding = enc
	}
}

// WithDefaultLocale appends the candidates of loc after those of the
// requested locale. The root locale disables the fallback.
func WithDefaultLocale(loc locale.Locale) Option {
	return func(e *Engine) {
		e.candidates = bundle.NewCandidates(loc)
	}
}

// WithClock replaces time.Now for retry delay bookkeeping.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) {
		e.now = now
	}
}

type measures struct {
	hits        metric.Int64Counter
	misses      metric.Int64Counter
	fetches     metric.Int64Counter
	fetchErrors metric.Int64Counter
}

// Engine resolves codes for one basename against one store.
type Engine struct {
	basename   string
	delay      time.Duration
	encoding   bundle.Encoding
	now        func() time.Time
	candidates *bundle.Candidates

	cache   *Cache
	fetcher fetch.Fetcher

	tracer   telemetry.Tracer
	measures measures
}

// New builds an engine filling cache through fetcher. Watchers refreshing
// the same store must be handed the same cache.
func New(cache *Cache, fetcher fetch.Fetcher, opts ...Option) *Engine {
	e := &Engine{
		basename:   defaultBasename,
		delay:      defaultDelay,
		encoding:   bundle.UTF8,
		now:        time.Now,
		candidates: bundle.NewCandidates(locale.Locale{}),
		cache:      cache,
		fetcher:    fetcher,
		tracer:     telemetry.NewTracer(InstrumentationName),
		measures: measures{
			hits: telemetry.DimensionlessMeasure(InstrumentationName, "/resolve_hits",
				"Resolutions answered from a cached snapshot"),
			misses: telemetry.DimensionlessMeasure(InstrumentationName, "/resolve_misses",
				"Resolutions that exhausted every candidate key"),
			fetches: telemetry.DimensionlessMeasure(InstrumentationName, "/fetches",
				"Remote fetches issued on a cache miss"),
			fetchErrors: telemetry.DimensionlessMeasure(InstrumentationName, "/fetch_errors",
				"Remote fetches that failed for a reason other than a missing key"),
		},
	}

	for _, opt := range opts {
		opt(e)
	}

	return e
}

func (e *Engine) Basename() string {
	return e.basename
}

func (e *Engine) Encoding() bundle.Encoding {
	return e.encoding
}

func (e *Engine) Cache() *Cache {
	return e.cache
}

// DefaultLocale is the locale whose candidates follow the requested ones.
func (e *Engine) DefaultLocale() locale.Locale {
	return e.candidates.DefaultLocale()
}

// Candidates lists the keys tried for loc, most specific first.
func (e *Engine) Candidates(loc locale.Locale) []string {
	return e.candidates.For(e.basename, loc)
}

// Resolve returns the raw template for code. Empty templates count as absent.
func (e *Engine) Resolve(ctx context.Context, code string, loc locale.Locale) (string, bool) {
	return resolve(ctx, e, code, loc, func(snap *bundle.Snapshot) (string, bool) {
		msg, ok := snap.Get(code)
		return msg, ok && msg != ""
	})
}

// ResolveFormat returns the compiled formatter for code under loc.
func (e *Engine) ResolveFormat(ctx context.Context, code string, loc locale.Locale) (*bundle.MessageFormat, bool) {
	return resolve(ctx, e, code, loc, func(snap *bundle.Snapshot) (*bundle.MessageFormat, bool) {
		f, ok, err := snap.Format(code, loc)
		if err != nil {
			util.Log(ctx).WithError(err).
				WithField("key", snap.Key()).
				WithField("code", code).
				WithField("locale", loc.String()).
				WithField("phase", "parse").
				Warn("message template does not compile")
			return nil, false
		}
		return f, ok
	})
}

func resolve[T any](
	ctx context.Context,
	e *Engine,
	code string,
	loc locale.Locale,
	lookup func(*bundle.Snapshot) (T, bool),
) (T, bool) {
	var zero T

	for _, key := range e.Candidates(loc) {
		snap, ok := e.cache.Snapshot(key)
		if !ok {
			if !e.cache.ClaimFetch(key, e.now(), e.delay) {
				util.Log(ctx).WithField("key", key).Debug("waiting for retry delay to expire")
				continue
			}

			var err error
			snap, err = e.load(ctx, key)
			if errors.Is(err, store.ErrNotFound) {
				continue
			}
			if err != nil {
				util.Log(ctx).WithError(err).
					WithField("key", key).
					WithField("locale", loc.String()).
					WithField("phase", "fetch").
					Error("could not load message bundle")
				e.measures.misses.Add(ctx, 1)
				return zero, false
			}
		}

		if v, found := lookup(snap); found {
			e.measures.hits.Add(ctx, 1)
			return v, true
		}
	}

	e.measures.misses.Add(ctx, 1)
	return zero, false
}

// Fetch loads key from the store and installs it, whatever the retry delay
// says. Hosts call it to warm the cache before serving.
func (e *Engine) Fetch(ctx context.Context, key string) error {
	e.cache.markFetched(key, e.now())
	_, err := e.load(ctx, key)
	return err
}

// load fetches key and installs the result. The fetch time must already be
// recorded by the caller.
func (e *Engine) load(ctx context.Context, key string) (snap *bundle.Snapshot, err error) {
	ctx, span := e.tracer.Start(ctx, "fetch", trace.WithAttributes(telemetry.AttrKeyKey.String(key)))
	defer func() {
		if errors.Is(err, store.ErrNotFound) {
			e.tracer.End(ctx, span, "fetch", nil)
			return
		}
		e.tracer.End(ctx, span, "fetch", err)
	}()

	util.Log(ctx).WithField("key", key).Info("loading message bundle")
	e.measures.fetches.Add(ctx, 1)

	res, err := e.fetcher.Fetch(ctx, key)
	if err != nil {
		if !errors.Is(err, store.ErrNotFound) {
			e.measures.fetchErrors.Add(ctx, 1)
		}
		return nil, err
	}

	snap, err = bundle.Load(key, res.Data, res.Version, e.encoding)
	if err != nil {
		e.measures.fetchErrors.Add(ctx, 1)
		return nil, err
	}

	if !e.cache.Install(snap) {
		// A watcher installed a newer version while the fetch was in flight.
		if current, ok := e.cache.Snapshot(key); ok {
			return current, nil
		}
	}
	return snap, nil
}

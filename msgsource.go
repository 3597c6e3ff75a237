// Package msgsource resolves localized message templates from bundles held
// in a remote configuration store and keeps them fresh while the process
// runs.
package msgsource

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/pitabwire/util"

	"github.com/new1943/msgsource/bundle"
	"github.com/new1943/msgsource/engine"
	"github.com/new1943/msgsource/locale"
	"github.com/new1943/msgsource/localization"
	"github.com/new1943/msgsource/store"
	"github.com/new1943/msgsource/telemetry"
	"github.com/new1943/msgsource/watch"
	"github.com/new1943/msgsource/workerpool"
)

// ErrNoSuchMessage is returned when a code resolves under no candidate key
// and no default message applies.
var ErrNoSuchMessage = errors.New("no such message")

// MessageSource is the host facing lookup contract.
type MessageSource interface {
	// Message resolves code and renders args into it.
	Message(ctx context.Context, code string, args []any, loc locale.Locale) (string, error)
	// GetMessage never fails: it falls back to defaultMessage, then to the
	// code when configured, then to "".
	GetMessage(ctx context.Context, code string, args []any, defaultMessage string, loc locale.Locale) string
	// ResolveMessage tries every code of r in order before its default.
	ResolveMessage(ctx context.Context, r Resolvable, loc locale.Locale) (string, error)
}

// Resolvable carries alternative codes, their arguments and a default
// message. Arguments that are themselves Resolvable are resolved first.
type Resolvable interface {
	Codes() []string
	Arguments() []any
	DefaultMessage() string
}

type resolvable struct {
	codes          []string
	args           []any
	defaultMessage string
}

// NewResolvable builds a Resolvable trying codes in order.
func NewResolvable(defaultMessage string, args []any, codes ...string) Resolvable {
	return &resolvable{codes: codes, args: args, defaultMessage: defaultMessage}
}

func (r *resolvable) Codes() []string {
	return r.codes
}

func (r *resolvable) Arguments() []any {
	return r.args
}

func (r *resolvable) DefaultMessage() string {
	return r.defaultMessage
}

// Source is a MessageSource backed by one store. It is also the watch
// Lifecycle of that store.
type Source struct {
	config any

	engine    *engine.Engine
	lifecycle watch.Lifecycle

	client     io.Closer
	ownsClient bool
	indexed    store.IndexedClient
	push       store.PushClient

	pool      workerpool.WorkerPool
	telemetry telemetry.Manager

	logOpts       []util.Option
	telemetryOpts []telemetry.Option
	engineOpts    []engine.Option
	logger        *util.LogEntry

	useCodeAsDefault       bool
	alwaysUseMessageFormat bool
}

var (
	_ MessageSource   = (*Source)(nil)
	_ watch.Lifecycle = (*Source)(nil)
)

// Config returns the configuration Open was given.
func (s *Source) Config() any {
	return s.config
}

// Engine exposes the resolution engine, e.g. to preload keys with Fetch.
func (s *Source) Engine() *engine.Engine {
	return s.engine
}

func (s *Source) Log(ctx context.Context) *util.LogEntry {
	return s.logger.WithContext(ctx)
}

func (s *Source) Message(ctx context.Context, code string, args []any, loc locale.Locale) (string, error) {
	loc = s.locale(ctx, loc)

	if msg, ok := s.resolve(ctx, code, args, loc); ok {
		return msg, nil
	}
	if s.useCodeAsDefault {
		return code, nil
	}
	return "", fmt.Errorf("%w: code %q for locale %q", ErrNoSuchMessage, code, loc.String())
}

func (s *Source) GetMessage(
	ctx context.Context,
	code string,
	args []any,
	defaultMessage string,
	loc locale.Locale,
) string {
	loc = s.locale(ctx, loc)

	if msg, ok := s.resolve(ctx, code, args, loc); ok {
		return msg
	}
	if defaultMessage != "" {
		return s.render(ctx, defaultMessage, args, loc)
	}
	if s.useCodeAsDefault {
		return code
	}
	return ""
}

func (s *Source) ResolveMessage(ctx context.Context, r Resolvable, loc locale.Locale) (string, error) {
	loc = s.locale(ctx, loc)

	codes := r.Codes()
	for _, code := range codes {
		if msg, ok := s.resolve(ctx, code, r.Arguments(), loc); ok {
			return msg, nil
		}
	}

	if d := r.DefaultMessage(); d != "" {
		return s.render(ctx, d, r.Arguments(), loc), nil
	}
	if s.useCodeAsDefault && len(codes) > 0 {
		return codes[0], nil
	}

	last := ""
	if len(codes) > 0 {
		last = codes[len(codes)-1]
	}
	return "", fmt.Errorf("%w: code %q for locale %q", ErrNoSuchMessage, last, loc.String())
}

// locale picks the first language carried by ctx when loc is the root
// locale, and the default locale when ctx carries none.
func (s *Source) locale(ctx context.Context, loc locale.Locale) locale.Locale {
	if !loc.IsRoot() {
		return loc
	}
	return localization.LocaleFromContext(ctx, s.engine.DefaultLocale())
}

func (s *Source) resolve(ctx context.Context, code string, args []any, loc locale.Locale) (string, bool) {
	if len(args) == 0 && !s.alwaysUseMessageFormat {
		return s.engine.Resolve(ctx, code, loc)
	}

	mf, ok := s.engine.ResolveFormat(ctx, code, loc)
	if !ok {
		return "", false
	}
	return mf.Format(s.arguments(ctx, args, loc)...), true
}

// render formats a caller supplied default message. A default that is not a
// valid template is returned verbatim.
func (s *Source) render(ctx context.Context, msg string, args []any, loc locale.Locale) string {
	if len(args) == 0 && !s.alwaysUseMessageFormat {
		return msg
	}

	mf, err := bundle.Compile(msg, loc)
	if err != nil {
		util.Log(ctx).WithError(err).
			WithField("locale", loc.String()).
			Debug("default message is not a template, returning it verbatim")
		return msg
	}
	return mf.Format(s.arguments(ctx, args, loc)...)
}

func (s *Source) arguments(ctx context.Context, args []any, loc locale.Locale) []any {
	var resolved []any
	for i, arg := range args {
		r, ok := arg.(Resolvable)
		if !ok {
			continue
		}
		if resolved == nil {
			resolved = append([]any(nil), args...)
		}

		msg, err := s.ResolveMessage(ctx, r, loc)
		if err != nil {
			util.Log(ctx).WithError(err).Debug("nested message argument did not resolve")
		}
		resolved[i] = msg
	}

	if resolved == nil {
		return args
	}
	return resolved
}

// Start begins watching the store for changes.
func (s *Source) Start(ctx context.Context) error {
	return s.lifecycle.Start(ctx)
}

// Stop ends the watch. Resolution keeps working from the cache.
func (s *Source) Stop(ctx context.Context) error {
	return s.lifecycle.Stop(ctx)
}

func (s *Source) IsRunning() bool {
	return s.lifecycle.IsRunning()
}

// Close stops the watch and releases the store client Open created, the
// worker pool and the telemetry providers.
func (s *Source) Close(ctx context.Context) error {
	var errs []error

	if s.lifecycle != nil {
		errs = append(errs, s.lifecycle.Stop(ctx))
	}

	if s.pool != nil {
		s.pool.Shutdown()
	}

	if s.ownsClient && s.client != nil {
		errs = append(errs, s.client.Close())
	}

	if s.telemetry != nil {
		errs = append(errs, s.telemetry.Shutdown(ctx))
	}

	return errors.Join(errs...)
}

package msgsource

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/pitabwire/util"

	"github.com/new1943/msgsource/bundle"
	"github.com/new1943/msgsource/config"
	"github.com/new1943/msgsource/data"
	"github.com/new1943/msgsource/engine"
	"github.com/new1943/msgsource/fetch"
	"github.com/new1943/msgsource/locale"
	"github.com/new1943/msgsource/store/consul"
	"github.com/new1943/msgsource/store/memory"
	"github.com/new1943/msgsource/store/nacos"
	"github.com/new1943/msgsource/store/natskv"
	"github.com/new1943/msgsource/store/redis"
	"github.com/new1943/msgsource/store/valkey"
	"github.com/new1943/msgsource/telemetry"
	"github.com/new1943/msgsource/watch"
	"github.com/new1943/msgsource/workerpool"
)

// SeedQuery names the directory a "mem://" store is seeded from.
const SeedQuery = "seed"

const defaultPushTimeout = 3 * time.Second

// Open builds a Source from cfg, which is read through the config
// interfaces it implements; a nil cfg is loaded from the environment. The
// watch is not started. The returned context carries the logger and cfg.
func Open(ctx context.Context, cfg any, opts ...Option) (context.Context, *Source, error) {
	if cfg == nil {
		defaultCfg, err := config.FromEnv[config.ConfigurationDefault]()
		if err != nil {
			return ctx, nil, fmt.Errorf("load configuration: %w", err)
		}
		cfg = &defaultCfg
	}

	s := &Source{config: cfg}
	for _, opt := range opts {
		opt(ctx, s)
	}

	if err := s.setupTelemetry(ctx); err != nil {
		return ctx, nil, err
	}
	s.setupLogger(ctx)

	ctx = util.ContextWithLogger(ctx, s.logger)
	ctx = config.ToContext(ctx, cfg)

	enc, defaultLoc, err := s.setupMessages()
	if err != nil {
		_ = s.Close(ctx)
		return ctx, nil, err
	}

	if s.indexed == nil && s.push == nil {
		if err = s.openStore(ctx); err != nil {
			_ = s.Close(ctx)
			return ctx, nil, err
		}
	}

	cache := engine.NewCache()

	var fetcher fetch.Fetcher
	if s.indexed != nil {
		fetcher, err = s.setupLongPoll(ctx, cache, enc)
	} else {
		fetcher = s.setupPush(cache, enc)
	}
	if err != nil {
		_ = s.Close(ctx)
		return ctx, nil, err
	}

	engOpts := []engine.Option{
		engine.WithEncoding(enc),
		engine.WithDefaultLocale(defaultLoc),
	}
	if msgCfg, ok := cfg.(config.ConfigurationMessages); ok {
		engOpts = append(engOpts,
			engine.WithBasename(msgCfg.Basename()),
			engine.WithDelay(msgCfg.RetryDelay()))
	}
	s.engine = engine.New(cache, fetcher, append(engOpts, s.engineOpts...)...)

	s.logger.WithField("basename", s.engine.Basename()).
		WithField("default_locale", defaultLoc.String()).
		Debug("message source ready")
	return ctx, s, nil
}

func (s *Source) setupTelemetry(ctx context.Context) error {
	telCfg, _ := s.config.(config.ConfigurationTelemetry)
	opts := append([]telemetry.Option{
		telemetry.WithMetricsViews(telemetry.Views(engine.InstrumentationName)...),
	}, s.telemetryOpts...)
	s.telemetry = telemetry.NewManager(ctx, telCfg, opts...)
	if err := s.telemetry.Init(ctx); err != nil {
		return fmt.Errorf("init telemetry: %w", err)
	}
	return nil
}

func (s *Source) setupLogger(ctx context.Context) {
	opts := append([]util.Option(nil), s.logOpts...)

	if logCfg, ok := s.config.(config.ConfigurationLogLevel); ok {
		if logLevel, err := util.ParseLevel(logCfg.LoggingLevel()); err == nil {
			opts = append(opts, util.WithLogLevel(logLevel))
		}
		opts = append(opts,
			util.WithLogTimeFormat(logCfg.LoggingTimeFormat()),
			util.WithLogNoColor(!logCfg.LoggingColored()))
	}

	if handler := s.telemetry.LogHandler(); handler != nil {
		opts = append(opts, util.WithLogHandler(handler))
	}

	s.logger = util.NewLogger(ctx, opts...)
}

// setupMessages reads the bundle policy and picks the default locale: the
// configured one, else the system locale when allowed, else none.
func (s *Source) setupMessages() (bundle.Encoding, locale.Locale, error) {
	msgCfg, ok := s.config.(config.ConfigurationMessages)
	if !ok {
		return bundle.UTF8, locale.Locale{}, nil
	}

	s.useCodeAsDefault = msgCfg.UseCodeAsDefaultMessage()
	s.alwaysUseMessageFormat = msgCfg.AlwaysUseMessageFormat()

	enc := bundle.UTF8
	if name := msgCfg.Encoding(); name != "" {
		var err error
		if enc, err = bundle.ParseEncoding(name); err != nil {
			return "", locale.Locale{}, err
		}
	}

	if name := msgCfg.DefaultLocale(); name != "" {
		loc, err := locale.Parse(name)
		if err != nil {
			return "", locale.Locale{}, fmt.Errorf("default locale: %w", err)
		}
		return enc, loc, nil
	}

	if msgCfg.FallbackToSystemLocale() {
		return enc, locale.System(), nil
	}
	return enc, locale.Locale{}, nil
}

// openStore connects the client named by the configured DSN.
func (s *Source) openStore(ctx context.Context) error {
	storeCfg, ok := s.config.(config.ConfigurationStore)
	if !ok {
		return fmt.Errorf("%w: no store configured", data.ErrUnsupportedScheme)
	}

	dsn := storeCfg.StoreDSN()
	if err := dsn.Validate(); err != nil {
		return err
	}

	openErr := func(err error) error {
		return fmt.Errorf("open %s store: %w", dsn.Scheme(), err)
	}

	switch {
	case dsn.IsConsul():
		client, err := consul.New(dsn, storeCfg.StoreAuthToken())
		if err != nil {
			return openErr(err)
		}
		s.indexed, s.client = client, client
	case dsn.IsNats():
		client, err := natskv.New(dsn)
		if err != nil {
			return openErr(err)
		}
		s.indexed, s.client = client, client
	case dsn.IsMem():
		client := memory.New()
		if dir := dsn.GetQuery(SeedQuery); dir != "" {
			if _, err := client.Seed(os.DirFS(dir)); err != nil {
				return openErr(err)
			}
		}
		s.indexed, s.client = client, client
	case dsn.IsNacos():
		var nacosOpts []nacos.Option
		if nacosCfg, ok := s.config.(config.ConfigurationNacos); ok {
			nacosOpts = append(nacosOpts,
				nacos.WithNamespace(nacosCfg.GetNacosNamespace()),
				nacos.WithGroup(nacosCfg.GetNacosGroup()),
				nacos.WithTimeout(nacosCfg.GetNacosTimeout()))
		}
		client, err := nacos.New(dsn, nacosOpts...)
		if err != nil {
			return openErr(err)
		}
		s.push, s.client = client, client
	case dsn.IsValkey():
		client, err := valkey.New(ctx, dsn)
		if err != nil {
			return openErr(err)
		}
		s.push, s.client = client, client
	case dsn.IsRedis():
		client, err := redis.New(ctx, dsn)
		if err != nil {
			return openErr(err)
		}
		s.push, s.client = client, client
	default:
		return fmt.Errorf("%w: %s", data.ErrUnsupportedScheme, dsn.Scheme())
	}

	s.ownsClient = true
	return nil
}

func (s *Source) setupLongPoll(ctx context.Context, cache *engine.Cache, enc bundle.Encoding) (fetch.Fetcher, error) {
	var pollOpts []watch.LongPollOption
	poolOpts := []workerpool.Option{workerpool.WithPoolLogger(s.logger)}

	if watchCfg, ok := s.config.(config.ConfigurationWatch); ok {
		pollOpts = append(pollOpts,
			watch.WithDelay(watchCfg.GetWatchDelay()),
			watch.WithWaitTime(watchCfg.GetWatchWaitTime()))
		poolOpts = append(poolOpts, workerpool.WithSinglePoolCapacity(watchCfg.GetWatchConcurrency()))
	}

	pool, err := workerpool.New(ctx, poolOpts...)
	if err != nil {
		return nil, fmt.Errorf("watch pool: %w", err)
	}
	s.pool = pool

	pollOpts = append(pollOpts, watch.WithEncoding(enc), watch.WithPool(pool))
	poll, err := watch.NewLongPoll(cache, s.indexed, pollOpts...)
	if err != nil {
		return nil, err
	}
	s.lifecycle = poll

	return fetch.NewIndexedFetcher(s.indexed), nil
}

func (s *Source) setupPush(cache *engine.Cache, enc bundle.Encoding) fetch.Fetcher {
	timeout := defaultPushTimeout
	if nacosCfg, ok := s.config.(config.ConfigurationNacos); ok && nacosCfg.GetNacosTimeout() > 0 {
		timeout = nacosCfg.GetNacosTimeout()
	}

	s.lifecycle = &watch.Passive{}
	return fetch.NewPushFetcher(s.push, timeout, watch.NewPushHandler(cache, enc))
}

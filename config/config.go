package config

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"

	"github.com/new1943/msgsource/data"
)

type contextKey string

func (c contextKey) String() string {
	return "msgsource/config/" + string(c)
}

const ctxKeyConfiguration = contextKey("configurationKey")

// ToContext adds configuration to the current supplied context.
func ToContext(ctx context.Context, config any) context.Context {
	return context.WithValue(ctx, ctxKeyConfiguration, config)
}

// FromContext extracts configuration from the supplied context if any exist.
func FromContext[T any](ctx context.Context) T {
	if cfg, ok := ctx.Value(ctxKeyConfiguration).(T); ok {
		return cfg
	}
	var zero T
	return zero
}

// FromEnv convenience method to process configs.
func FromEnv[T any]() (T, error) {
	return env.ParseAs[T]()
}

// FillEnv convenience method to fill a config object with environment data.
func FillEnv(v any) error {
	return env.Parse(v)
}

// FromFile reads a YAML file over the environment defaults, so keys absent
// from the file keep their env or envDefault values.
func FromFile[T any](path string) (T, error) {
	cfg, err := FromEnv[T]()
	if err != nil {
		return cfg, err
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read config %s: %w", path, err)
	}

	if err = yaml.Unmarshal(raw, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config %s: %w", path, err)
	}
	return cfg, nil
}

type ConfigurationDefault struct {
	LogLevel      string `envDefault:"info"                      env:"LOG_LEVEL"       yaml:"log_level"`
	LogTimeFormat string `envDefault:"2006-01-02T15:04:05Z07:00" env:"LOG_TIME_FORMAT" yaml:"log_time_format"`
	LogColored    bool   `envDefault:"true"                      env:"LOG_COLORED"     yaml:"log_colored"`

	MessagesBasename               string        `envDefault:"messages" env:"MESSAGES_BASENAME"                    yaml:"messages_basename"`
	MessagesDelay                  time.Duration `envDefault:"60s"      env:"MESSAGES_DELAY"                       yaml:"messages_delay"`
	MessagesEncoding               string        `envDefault:"UTF-8"    env:"MESSAGES_ENCODING"                    yaml:"messages_encoding"`
	MessagesDefaultLocale          string        `envDefault:""         env:"MESSAGES_DEFAULT_LOCALE"              yaml:"messages_default_locale"`
	MessagesFallbackToSystemLocale bool          `envDefault:"true"     env:"MESSAGES_FALLBACK_TO_SYSTEM_LOCALE"   yaml:"messages_fallback_to_system_locale"`
	MessagesUseCodeAsDefault       bool          `envDefault:"false"    env:"MESSAGES_USE_CODE_AS_DEFAULT_MESSAGE" yaml:"messages_use_code_as_default_message"`
	MessagesAlwaysUseMessageFormat bool          `envDefault:"false"    env:"MESSAGES_ALWAYS_USE_MESSAGE_FORMAT"   yaml:"messages_always_use_message_format"`

	StoreURI   string `envDefault:"mem://messages" env:"STORE_URI"   yaml:"store_uri"`
	StoreToken string `envDefault:""               env:"STORE_TOKEN" yaml:"store_token"`

	WatchDelay       time.Duration `envDefault:"1s"  env:"WATCH_DELAY"       yaml:"watch_delay"`
	WatchWaitTime    time.Duration `envDefault:"55s" env:"WATCH_WAIT_TIME"   yaml:"watch_wait_time"`
	WatchConcurrency int           `envDefault:"8"   env:"WATCH_CONCURRENCY" yaml:"watch_concurrency"`

	NacosNamespace string        `envDefault:"public"        env:"NACOS_NAMESPACE" yaml:"nacos_namespace"`
	NacosGroup     string        `envDefault:"DEFAULT_GROUP" env:"NACOS_GROUP"     yaml:"nacos_group"`
	NacosTimeout   time.Duration `envDefault:"3s"            env:"NACOS_TIMEOUT"   yaml:"nacos_timeout"`

	ServiceName        string  `envDefault:"msgsource" env:"OTEL_SERVICE_NAME"         yaml:"service_name"`
	ServiceEnvironment string  `envDefault:""          env:"OTEL_SERVICE_ENVIRONMENT"  yaml:"service_environment"`
	TraceRequests      bool    `envDefault:"false"     env:"TRACE_REQUESTS"            yaml:"trace_requests"`
	TraceSamplingRatio float64 `envDefault:"1.0"       env:"OTEL_TRACES_SAMPLER_RATIO" yaml:"trace_sampling_ratio"`
}

type ConfigurationLogLevel interface {
	LoggingLevel() string
	LoggingTimeFormat() string
	LoggingColored() bool
	LoggingLevelIsDebug() bool
}

var _ ConfigurationLogLevel = new(ConfigurationDefault)

func (c *ConfigurationDefault) LoggingLevel() string {
	return c.LogLevel
}

func (c *ConfigurationDefault) LoggingTimeFormat() string {
	return c.LogTimeFormat
}

func (c *ConfigurationDefault) LoggingColored() bool {
	return c.LogColored
}

func (c *ConfigurationDefault) LoggingLevelIsDebug() bool {
	return c.LogLevel == "debug" || c.LogLevel == "trace"
}

type ConfigurationMessages interface {
	Basename() string
	RetryDelay() time.Duration
	Encoding() string
	DefaultLocale() string
	FallbackToSystemLocale() bool
	UseCodeAsDefaultMessage() bool
	AlwaysUseMessageFormat() bool
}

var _ ConfigurationMessages = new(ConfigurationDefault)

func (c *ConfigurationDefault) Basename() string {
	if c.MessagesBasename == "" {
		return "messages"
	}
	return c.MessagesBasename
}

func (c *ConfigurationDefault) RetryDelay() time.Duration {
	return c.MessagesDelay
}

func (c *ConfigurationDefault) Encoding() string {
	return c.MessagesEncoding
}

func (c *ConfigurationDefault) DefaultLocale() string {
	return c.MessagesDefaultLocale
}

func (c *ConfigurationDefault) FallbackToSystemLocale() bool {
	return c.MessagesFallbackToSystemLocale
}

func (c *ConfigurationDefault) UseCodeAsDefaultMessage() bool {
	return c.MessagesUseCodeAsDefault
}

func (c *ConfigurationDefault) AlwaysUseMessageFormat() bool {
	return c.MessagesAlwaysUseMessageFormat
}

type ConfigurationStore interface {
	StoreDSN() data.DSN
	StoreAuthToken() string
}

var _ ConfigurationStore = new(ConfigurationDefault)

func (c *ConfigurationDefault) StoreDSN() data.DSN {
	return data.DSN(c.StoreURI)
}

func (c *ConfigurationDefault) StoreAuthToken() string {
	return c.StoreToken
}

type ConfigurationWatch interface {
	GetWatchDelay() time.Duration
	GetWatchWaitTime() time.Duration
	GetWatchConcurrency() int
}

var _ ConfigurationWatch = new(ConfigurationDefault)

const (
	defaultWatchDelay       = time.Second
	defaultWatchWaitTime    = 55 * time.Second
	defaultWatchConcurrency = 8
)

func (c *ConfigurationDefault) GetWatchDelay() time.Duration {
	if c.WatchDelay <= 0 {
		return defaultWatchDelay
	}
	return c.WatchDelay
}

func (c *ConfigurationDefault) GetWatchWaitTime() time.Duration {
	if c.WatchWaitTime <= 0 {
		return defaultWatchWaitTime
	}
	return c.WatchWaitTime
}

func (c *ConfigurationDefault) GetWatchConcurrency() int {
	if c.WatchConcurrency <= 0 {
		return defaultWatchConcurrency
	}
	return c.WatchConcurrency
}

type ConfigurationNacos interface {
	GetNacosNamespace() string
	GetNacosGroup() string
	GetNacosTimeout() time.Duration
}

var _ ConfigurationNacos = new(ConfigurationDefault)

func (c *ConfigurationDefault) GetNacosNamespace() string {
	return c.NacosNamespace
}

func (c *ConfigurationDefault) GetNacosGroup() string {
	return c.NacosGroup
}

func (c *ConfigurationDefault) GetNacosTimeout() time.Duration {
	return c.NacosTimeout
}

type ConfigurationTelemetry interface {
	Name() string
	Environment() string
	DisableTracing() bool
	SamplingRatio() float64
}

var _ ConfigurationTelemetry = new(ConfigurationDefault)

func (c *ConfigurationDefault) Name() string {
	return c.ServiceName
}

func (c *ConfigurationDefault) Environment() string {
	return c.ServiceEnvironment
}

func (c *ConfigurationDefault) DisableTracing() bool {
	return !c.TraceRequests
}

func (c *ConfigurationDefault) SamplingRatio() float64 {
	if c.TraceSamplingRatio <= 0 || c.TraceSamplingRatio > 1 {
		return 1
	}
	return c.TraceSamplingRatio
}

// Package workerpool runs background store calls on a bounded ants pool so
// they never occupy the goroutines serving resolutions.
package workerpool

import (
	"context"
	"errors"
	"time"

	"github.com/panjf2000/ants/v2"
	"github.com/pitabwire/util"
)

// ErrPoolOverloaded is returned by Submit when a non-blocking pool is full.
var ErrPoolOverloaded = ants.ErrPoolOverload

// Options defines configurable options for the worker pool.
type Options struct {
	PoolCount          int
	SinglePoolCapacity int
	ExpiryDuration     time.Duration
	Nonblocking        bool
	PanicHandler       func(any)
	Logger             *util.LogEntry
}

// Option defines a function that configures worker pool options.
type Option func(*Options)

// WithPoolCount sets the number of worker pools.
func WithPoolCount(count int) Option {
	return func(opts *Options) {
		opts.PoolCount = count
	}
}

// WithSinglePoolCapacity sets the capacity for a single worker pool.
func WithSinglePoolCapacity(capacity int) Option {
	return func(opts *Options) {
		opts.SinglePoolCapacity = capacity
	}
}

// WithPoolExpiryDuration sets the expiry duration for idle workers.
func WithPoolExpiryDuration(duration time.Duration) Option {
	return func(opts *Options) {
		opts.ExpiryDuration = duration
	}
}

// WithPoolNonblocking makes Submit fail fast with ErrPoolOverloaded instead of
// waiting for a free worker.
func WithPoolNonblocking(nonblocking bool) Option {
	return func(opts *Options) {
		opts.Nonblocking = nonblocking
	}
}

// WithPoolPanicHandler sets a panic handler for the pool.
func WithPoolPanicHandler(handler func(any)) Option {
	return func(opts *Options) {
		opts.PanicHandler = handler
	}
}

// WithPoolLogger sets a logger for the pool.
func WithPoolLogger(logger *util.LogEntry) Option {
	return func(opts *Options) {
		opts.Logger = logger
	}
}

const (
	defaultPoolCapacity   = 8
	defaultExpiryDuration = time.Minute
)

// New creates a pool; a PoolCount above one yields an ants.MultiPool.
func New(ctx context.Context, opts ...Option) (WorkerPool, error) {
	wopts := &Options{
		PoolCount:          1,
		SinglePoolCapacity: defaultPoolCapacity,
		ExpiryDuration:     defaultExpiryDuration,
		Nonblocking:        true,
		Logger:             util.Log(ctx),
	}
	for _, opt := range opts {
		opt(wopts)
	}

	if wopts.SinglePoolCapacity <= 0 {
		return nil, errors.New("worker pool capacity must be positive")
	}

	if wopts.PanicHandler == nil {
		log := wopts.Logger
		wopts.PanicHandler = func(p any) {
			log.WithField("panic", p).Error("worker pool task panicked")
		}
	}

	antsOpts := []ants.Option{
		ants.WithNonblocking(wopts.Nonblocking),
		ants.WithPanicHandler(wopts.PanicHandler),
		ants.WithLogger(wopts.Logger),
	}
	if wopts.ExpiryDuration > 0 {
		antsOpts = append(antsOpts, ants.WithExpiryDuration(wopts.ExpiryDuration))
	}

	if wopts.PoolCount <= 1 {
		p, err := ants.NewPool(wopts.SinglePoolCapacity, antsOpts...)
		if err != nil {
			return nil, err
		}
		return &singlePoolWrapper{pool: p}, nil
	}

	mp, err := ants.NewMultiPool(wopts.PoolCount, wopts.SinglePoolCapacity, ants.LeastTasks, antsOpts...)
	if err != nil {
		return nil, err
	}
	return &multiPoolWrapper{multiPool: mp}, nil
}

// singlePoolWrapper adapts *ants.Pool to the WorkerPool interface.
type singlePoolWrapper struct {
	pool *ants.Pool
}

func (w *singlePoolWrapper) Submit(ctx context.Context, task func()) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}

	return w.pool.Submit(task)
}

func (w *singlePoolWrapper) Running() int {
	return w.pool.Running()
}

func (w *singlePoolWrapper) Shutdown() {
	w.pool.Release()
}

// multiPoolWrapper adapts *ants.MultiPool to the WorkerPool interface.
type multiPoolWrapper struct {
	multiPool *ants.MultiPool
}

func (w *multiPoolWrapper) Submit(ctx context.Context, task func()) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}

	err := w.multiPool.Submit(task)
	if errors.Is(err, ants.ErrPoolOverload) {
		return ErrPoolOverloaded
	}
	return err
}

func (w *multiPoolWrapper) Running() int {
	return w.multiPool.Running()
}

func (w *multiPoolWrapper) Shutdown() {
	_ = w.multiPool.ReleaseTimeout(time.Second)
}

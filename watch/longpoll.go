package watch

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pitabwire/util"
	"go.opentelemetry.io/otel/metric"

	"github.com/new1943/msgsource/bundle"
	"github.com/new1943/msgsource/engine"
	"github.com/new1943/msgsource/store"
	"github.com/new1943/msgsource/telemetry"
	"github.com/new1943/msgsource/workerpool"
)

const (
	defaultDelay    = time.Second
	defaultWaitTime = 55 * time.Second

	instrumentationName = "github.com/new1943/msgsource/watch"
)

// ErrNoIndexedClient is returned when a long-poll watcher has no store to poll.
var ErrNoIndexedClient = errors.New("long poll requires an indexed store client")

type LongPollOption func(*LongPoll)

// WithDelay sets the pause between the end of one tick and the next.
func WithDelay(delay time.Duration) LongPollOption {
	return func(p *LongPoll) {
		if delay > 0 {
			p.delay = delay
		}
	}
}

// WithWaitTime sets how long the store may hold each blocking query open.
func WithWaitTime(wait time.Duration) LongPollOption {
	return func(p *LongPoll) {
		if wait > 0 {
			p.wait = wait
		}
	}
}

// WithEncoding sets the text encoding of watched bundles.
func WithEncoding(enc bundle.Encoding) LongPollOption {
	return func(p *LongPoll) {
		p.encoding = enc
	}
}

// WithPool runs the per key queries of a tick on pool. Without a pool the
// keys are polled one after another.
func WithPool(pool workerpool.WorkerPool) LongPollOption {
	return func(p *LongPoll) {
		p.pool = pool
	}
}

// LongPoll refreshes every versioned key in the cache with blocking queries
// against the store, installing a new snapshot only when the key's index
// moved past the cached one.
type LongPoll struct {
	cache    *engine.Cache
	client   store.IndexedClient
	pool     workerpool.WorkerPool
	encoding bundle.Encoding
	delay    time.Duration
	wait     time.Duration

	running atomic.Bool
	mu      sync.Mutex
	cancel  context.CancelFunc
	done    chan struct{}

	updates metric.Int64Counter
}

func NewLongPoll(cache *engine.Cache, client store.IndexedClient, opts ...LongPollOption) (*LongPoll, error) {
	if client == nil {
		return nil, ErrNoIndexedClient
	}

	p := &LongPoll{
		cache:    cache,
		client:   client,
		encoding: bundle.UTF8,
		delay:    defaultDelay,
		wait:     defaultWaitTime,
		updates: telemetry.DimensionlessMeasure(instrumentationName, "/watch_updates",
			"Snapshots replaced by the watch path"),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p, nil
}

// Start schedules the polling loop. The loop outlives ctx's deadline but
// keeps its values; Stop ends it. A loop still exiting from an earlier Stop
// is waited for until ctx ends, so at most one loop runs at a time.
func (p *LongPoll) Start(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.running.Load() {
		return nil
	}

	if p.done != nil {
		select {
		case <-p.done:
		case <-ctx.Done():
			return fmt.Errorf("previous watch loop still exiting: %w", ctx.Err())
		}
	}
	p.running.Store(true)

	loopCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	p.cancel = cancel
	p.done = make(chan struct{})

	go p.loop(loopCtx, p.done)

	util.Log(ctx).WithField("delay", p.delay.String()).
		WithField("wait", p.wait.String()).
		Info("message bundle watch started")
	return nil
}

// Stop cancels the loop, interrupting queries in flight, and waits for it
// to exit or for ctx to end.
func (p *LongPoll) Stop(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.running.CompareAndSwap(true, false) {
		return nil
	}

	p.cancel()

	select {
	case <-p.done:
		util.Log(ctx).Info("message bundle watch stopped")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (p *LongPoll) IsRunning() bool {
	return p.running.Load()
}

func (p *LongPoll) loop(ctx context.Context, done chan<- struct{}) {
	defer close(done)

	timer := time.NewTimer(0)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
		}

		p.Poll(ctx)
		timer.Reset(p.delay)
	}
}

// Poll runs one tick over every versioned key and returns how many
// snapshots were replaced.
func (p *LongPoll) Poll(ctx context.Context) int {
	var (
		wg      sync.WaitGroup
		updated atomic.Int32
	)

	for _, idx := range p.cache.Indexes() {
		if ctx.Err() != nil {
			break
		}

		task := func() {
			if p.pollKey(ctx, idx) {
				updated.Add(1)
			}
		}

		if p.pool == nil {
			task()
			continue
		}

		wg.Add(1)
		err := p.pool.Submit(ctx, func() {
			defer wg.Done()
			task()
		})
		if err != nil {
			wg.Done()
			task()
		}
	}

	wg.Wait()
	return int(updated.Load())
}

func (p *LongPoll) pollKey(ctx context.Context, idx engine.Index) bool {
	log := util.Log(ctx).WithField("key", idx.Key).WithField("phase", "watch")
	log.Debug("watching message bundle")

	v, err := p.client.BlockingGet(ctx, idx.Key, idx.Value, p.wait)
	if err != nil {
		switch {
		case errors.Is(err, store.ErrNotFound):
			log.Debug("message bundle has no update")
		case ctx.Err() != nil:
		default:
			log.WithError(err).Warn("blocking query failed")
		}
		return false
	}

	if v.Index <= idx.Value || v.Data == "" {
		log.Debug("message bundle has no update")
		return false
	}

	snap, err := bundle.Load(idx.Key, v.Data, v.Index, p.encoding)
	if err != nil {
		log.WithError(err).Error("keeping previous snapshot, new value does not parse")
		return false
	}

	if !p.cache.Install(snap) {
		return false
	}

	log.WithField("last_index", idx.Value).
		WithField("index", v.Index).
		Info("new message bundle received")
	p.updates.Add(ctx, 1)
	return true
}

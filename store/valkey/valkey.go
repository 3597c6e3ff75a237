// Package valkey reads message bundles from Valkey string keys and turns
// keyspace notifications for those keys into pushes.
package valkey

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/pitabwire/util"
	"github.com/valkey-io/valkey-go"

	"github.com/new1943/msgsource/data"
	"github.com/new1943/msgsource/store"
)

const (
	connectionTimeout = 5 * time.Second
	resubscribeDelay  = time.Second

	// NotifyQuery set to "true" in the DSN enables keyspace events for
	// string commands on the server at connect time.
	NotifyQuery = "notify"
)

// Client is a push store over Valkey.
type Client struct {
	client valkey.Client
	db     int

	mu      sync.Mutex
	closed  bool
	cancels []context.CancelFunc
	wg      sync.WaitGroup
}

var _ store.PushClient = (*Client)(nil)

// New connects to the server named by dsn, e.g. valkey://:pass@valkey:6379/0.
func New(ctx context.Context, dsn data.DSN) (*Client, error) {
	if !dsn.IsValkey() && !dsn.IsRedis() {
		return nil, fmt.Errorf("%w: %s", data.ErrUnsupportedScheme, dsn.Scheme())
	}

	notify := dsn.GetQuery(NotifyQuery) == "true"
	redisDSN, err := dsn.RemoveQuery(NotifyQuery).WithScheme(data.RedisScheme)
	if err != nil {
		return nil, err
	}

	opts, err := valkey.ParseURL(redisDSN.String())
	if err != nil {
		return nil, err
	}

	client, err := valkey.NewClient(opts)
	if err != nil {
		return nil, err
	}

	pingCtx, cancel := context.WithTimeout(ctx, connectionTimeout)
	defer cancel()

	if pingErr := client.Do(pingCtx, client.B().Ping().Build()).Error(); pingErr != nil {
		client.Close()
		return nil, pingErr
	}

	if notify {
		cmd := client.B().Arbitrary("CONFIG", "SET").Args("notify-keyspace-events", "K$").Build()
		if cfgErr := client.Do(pingCtx, cmd).Error(); cfgErr != nil {
			client.Close()
			return nil, fmt.Errorf("enable keyspace events: %w", cfgErr)
		}
	}

	return &Client{client: client, db: opts.SelectDB}, nil
}

func (c *Client) Get(ctx context.Context, key string) (*store.Value, error) {
	resp := c.client.Do(ctx, c.client.B().Get().Key(key).Build())
	if err := resp.Error(); err != nil {
		if valkey.IsValkeyNil(err) {
			return nil, store.ErrNotFound
		}
		return nil, fmt.Errorf("valkey get %s: %w", key, err)
	}

	raw, err := resp.ToString()
	if err != nil {
		return nil, err
	}
	return &store.Value{Key: key, Data: raw}, nil
}

// Listen subscribes to the keyspace channel of key and re-reads the key on
// every set, handing the value to handler. The subscription is renewed
// after connection failures until Close.
func (c *Client) Listen(ctx context.Context, key string, handler store.ChangeHandler) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return store.ErrClosed
	}

	listenCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	c.cancels = append(c.cancels, cancel)

	subscribe := c.client.B().Subscribe().Channel(store.KeyspaceChannel(c.db, key)).Build()
	changed := make(chan struct{}, 1)

	c.wg.Add(2) //nolint:mnd // subscriber and relay
	go func() {
		defer c.wg.Done()
		relayChanges(listenCtx, key, changed, c.Get, handler)
	}()

	go func() {
		defer c.wg.Done()

		for {
			err := c.client.Receive(listenCtx, subscribe, func(msg valkey.PubSubMessage) {
				if msg.Message == "set" {
					signal(changed)
				}
			})
			if listenCtx.Err() != nil {
				return
			}

			util.Log(listenCtx).WithError(err).
				WithField("key", key).
				WithField("phase", "push").
				Warn("keyspace subscription dropped, resubscribing")

			select {
			case <-listenCtx.Done():
				return
			case <-time.After(resubscribeDelay):
			}
		}
	}()

	return nil
}

// signal marks a change without blocking. Changes arriving while one is
// pending collapse into it; the relay reads the latest value anyway.
func signal(changed chan<- struct{}) {
	select {
	case changed <- struct{}{}:
	default:
	}
}

// relayChanges reads key once per signal and hands the value to handler
// until ctx ends. Reads run here, off the subscription's receive path.
func relayChanges(
	ctx context.Context,
	key string,
	changed <-chan struct{},
	read func(ctx context.Context, key string) (*store.Value, error),
	handler store.ChangeHandler,
) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-changed:
		}

		v, err := read(ctx, key)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			util.Log(ctx).WithError(err).
				WithField("key", key).
				WithField("phase", "push").
				Warn("could not read changed key")
			continue
		}
		handler.OnChange(ctx, key, v.Data)
	}
}

func (c *Client) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	for _, cancel := range c.cancels {
		cancel()
	}
	c.mu.Unlock()

	c.wg.Wait()
	c.client.Close()
	return nil
}

// Package redis is the go-redis rendition of the keyspace notification push
// store, for deployments standardised on that client.
package redis

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/pitabwire/util"
	"github.com/redis/go-redis/v9"

	"github.com/new1943/msgsource/data"
	"github.com/new1943/msgsource/store"
)

const (
	connectionTimeout = 5 * time.Second

	// NotifyQuery set to "true" in the DSN enables keyspace events for
	// string commands on the server at connect time.
	NotifyQuery = "notify"
)

// Client is a push store over Redis.
type Client struct {
	client *redis.Client
	db     int

	mu      sync.Mutex
	closed  bool
	pubsubs []*redis.PubSub
	wg      sync.WaitGroup
}

var _ store.PushClient = (*Client)(nil)

// New connects to the server named by dsn, e.g. redis://:pass@redis:6379/0.
func New(ctx context.Context, dsn data.DSN) (*Client, error) {
	if !dsn.IsRedis() && !dsn.IsValkey() {
		return nil, fmt.Errorf("%w: %s", data.ErrUnsupportedScheme, dsn.Scheme())
	}

	notify := dsn.GetQuery(NotifyQuery) == "true"
	redisDSN, err := dsn.RemoveQuery(NotifyQuery).WithScheme(data.RedisScheme)
	if err != nil {
		return nil, err
	}

	opts, err := redis.ParseURL(redisDSN.String())
	if err != nil {
		return nil, err
	}

	client := redis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, connectionTimeout)
	defer cancel()

	if pingErr := client.Ping(pingCtx).Err(); pingErr != nil {
		_ = client.Close()
		return nil, pingErr
	}

	if notify {
		if cfgErr := client.ConfigSet(pingCtx, "notify-keyspace-events", "K$").Err(); cfgErr != nil {
			_ = client.Close()
			return nil, fmt.Errorf("enable keyspace events: %w", cfgErr)
		}
	}

	return &Client{client: client, db: opts.DB}, nil
}

func (c *Client) Get(ctx context.Context, key string) (*store.Value, error) {
	raw, err := c.client.Get(ctx, key).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, store.ErrNotFound
		}
		return nil, fmt.Errorf("redis get %s: %w", key, err)
	}
	return &store.Value{Key: key, Data: raw}, nil
}

// Listen subscribes to the keyspace channel of key and returns once the
// server confirmed the subscription. go-redis renews it after reconnects.
func (c *Client) Listen(ctx context.Context, key string, handler store.ChangeHandler) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return store.ErrClosed
	}

	listenCtx := context.WithoutCancel(ctx)
	pubsub := c.client.Subscribe(listenCtx, store.KeyspaceChannel(c.db, key))
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return fmt.Errorf("redis subscribe %s: %w", key, err)
	}
	c.pubsubs = append(c.pubsubs, pubsub)

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()

		for msg := range pubsub.Channel() {
			if msg.Payload != "set" {
				continue
			}

			v, err := c.Get(listenCtx, key)
			if err != nil {
				util.Log(listenCtx).WithError(err).
					WithField("key", key).
					WithField("phase", "push").
					Warn("could not read changed key")
				continue
			}
			handler.OnChange(listenCtx, key, v.Data)
		}
	}()

	return nil
}

func (c *Client) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true

	var errs []error
	for _, pubsub := range c.pubsubs {
		errs = append(errs, pubsub.Close())
	}
	c.mu.Unlock()

	c.wg.Wait()
	errs = append(errs, c.client.Close())
	return errors.Join(errs...)
}

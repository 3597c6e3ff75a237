// Package fetch performs the single-key reads the resolver issues on a
// cache miss.
package fetch

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/pitabwire/util"

	"github.com/new1943/msgsource/store"
)

// ErrNoClient is returned when a fetcher was built without a store client.
var ErrNoClient = errors.New("config store client is not initialized")

// Result is the raw bundle text held by one key. Version is the store's
// index for the value, zero when the store has none.
type Result struct {
	Key     string
	Data    string
	Version uint64
}

// Fetcher reads the current value of a key. A key holding no value yields
// an error matching store.ErrNotFound.
type Fetcher interface {
	Fetch(ctx context.Context, key string) (*Result, error)
}

// IndexedFetcher issues non-blocking point reads against an index-based store.
type IndexedFetcher struct {
	client store.IndexedClient
}

func NewIndexedFetcher(client store.IndexedClient) *IndexedFetcher {
	return &IndexedFetcher{client: client}
}

// Client exposes the store so the long-poll watcher can share it.
func (f *IndexedFetcher) Client() store.IndexedClient {
	return f.client
}

func (f *IndexedFetcher) Fetch(ctx context.Context, key string) (*Result, error) {
	if f.client == nil {
		return nil, ErrNoClient
	}

	v, err := f.client.Get(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("get %s: %w", key, err)
	}
	if v.Data == "" {
		return nil, fmt.Errorf("get %s: %w", key, store.ErrNotFound)
	}

	return &Result{Key: key, Data: v.Data, Version: v.Index}, nil
}

// PushFetcher reads with a timeout from a push store and registers handler
// for the key after its first successful read, so later changes arrive
// through the push path instead of new fetches.
type PushFetcher struct {
	client  store.PushClient
	timeout time.Duration
	handler store.ChangeHandler

	listening sync.Map // key -> struct{}
}

func NewPushFetcher(client store.PushClient, timeout time.Duration, handler store.ChangeHandler) *PushFetcher {
	return &PushFetcher{client: client, timeout: timeout, handler: handler}
}

func (f *PushFetcher) Fetch(ctx context.Context, key string) (*Result, error) {
	if f.client == nil {
		return nil, ErrNoClient
	}

	getCtx := ctx
	if f.timeout > 0 {
		var cancel context.CancelFunc
		getCtx, cancel = context.WithTimeout(ctx, f.timeout)
		defer cancel()
	}

	v, err := f.client.Get(getCtx, key)
	if err != nil {
		return nil, fmt.Errorf("get %s: %w", key, err)
	}
	if v.Data == "" {
		return nil, fmt.Errorf("get %s: %w", key, store.ErrNotFound)
	}

	f.listen(ctx, key)
	return &Result{Key: key, Data: v.Data}, nil
}

func (f *PushFetcher) listen(ctx context.Context, key string) {
	if f.handler == nil {
		return
	}
	if _, loaded := f.listening.LoadOrStore(key, struct{}{}); loaded {
		return
	}

	if err := f.client.Listen(ctx, key, f.handler); err != nil {
		f.listening.Delete(key)
		util.Log(ctx).WithError(err).
			WithField("key", key).
			WithField("phase", "push").
			Warn("could not register change listener")
	}
}

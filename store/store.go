// Package store defines the contracts this module needs from a remote
// configuration store. Implementations live in the sub packages.
package store

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ErrNotFound is returned when the key holds no value.
var ErrNotFound = errors.New("key not found")

// ErrClosed is returned by clients used after Close.
var ErrClosed = errors.New("store client closed")

// Value is the content of one key. Index is the store's version index for
// the key, zero when the store has none.
type Value struct {
	Key   string
	Data  string
	Index uint64
}

// IndexedClient is a store that exposes monotonically increasing version
// indexes and blocking reads against them (Consul KV, NATS KV).
type IndexedClient interface {
	// Get performs a non-blocking point read.
	Get(ctx context.Context, key string) (*Value, error)
	// BlockingGet returns once the key's index exceeds lastIndex or wait
	// elapses, in which case the current value is returned unchanged.
	BlockingGet(ctx context.Context, key string, lastIndex uint64, wait time.Duration) (*Value, error)
	Close() error
}

// ChangeHandler receives pushed values. Stores call it on their own
// goroutines, possibly concurrently and out of order.
type ChangeHandler interface {
	OnChange(ctx context.Context, key, value string)
}

// ChangeHandlerFunc adapts a function to ChangeHandler.
type ChangeHandlerFunc func(ctx context.Context, key, value string)

func (f ChangeHandlerFunc) OnChange(ctx context.Context, key, value string) {
	f(ctx, key, value)
}

// PushClient is a store that notifies listeners of changes (Nacos,
// keyspace notifications on Valkey/Redis).
type PushClient interface {
	// Get reads the current value; callers bound it with a context deadline.
	Get(ctx context.Context, key string) (*Value, error)
	// Listen registers handler for future changes of key.
	Listen(ctx context.Context, key string, handler ChangeHandler) error
	Close() error
}

// KeyspaceChannel is the Redis protocol keyspace notification channel for
// key in database db.
func KeyspaceChannel(db int, key string) string {
	return fmt.Sprintf("__keyspace@%d__:%s", db, key)
}

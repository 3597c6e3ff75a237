package engine

import (
	"sync"
	"time"

	"github.com/new1943/msgsource/bundle"
)

// Index is the last version installed for a watched key.
type Index struct {
	Key   string
	Value uint64
}

// Cache holds the snapshots and fetch bookkeeping of one Engine. It is
// shared by reference with the watchers that refresh it.
type Cache struct {
	snapshots sync.Map // key -> *bundle.Snapshot
	fetchedAt sync.Map // key -> int64 unix nanos

	orderMu sync.Mutex
	order   []string
	tracked map[string]struct{}
}

func NewCache() *Cache {
	return &Cache{tracked: map[string]struct{}{}}
}

// Snapshot returns the snapshot installed for key, if any.
func (c *Cache) Snapshot(key string) (*bundle.Snapshot, bool) {
	v, ok := c.snapshots.Load(key)
	if !ok {
		return nil, false
	}
	return v.(*bundle.Snapshot), true //nolint:forcetypeassert // snapshots only holds *bundle.Snapshot
}

// Install swaps snap in for its key and reports whether it was applied.
// Versioned snapshots only replace snapshots with a strictly lower version;
// unversioned ones always replace.
func (c *Cache) Install(snap *bundle.Snapshot) bool {
	key := snap.Key()

	if snap.Version() == 0 {
		c.snapshots.Store(key, snap)
		return true
	}

	for {
		current, loaded := c.snapshots.LoadOrStore(key, snap)
		if !loaded {
			c.track(key)
			return true
		}

		if current.(*bundle.Snapshot).Version() >= snap.Version() { //nolint:forcetypeassert // see Snapshot
			return false
		}

		if c.snapshots.CompareAndSwap(key, current, snap) {
			c.track(key)
			return true
		}
	}
}

func (c *Cache) track(key string) {
	c.orderMu.Lock()
	defer c.orderMu.Unlock()

	if _, ok := c.tracked[key]; ok {
		return
	}
	c.tracked[key] = struct{}{}
	c.order = append(c.order, key)
}

// LastIndex is the version of the snapshot installed for key.
func (c *Cache) LastIndex(key string) (uint64, bool) {
	snap, ok := c.Snapshot(key)
	if !ok || snap.Version() == 0 {
		return 0, false
	}
	return snap.Version(), true
}

// Indexes lists every versioned key in the order it was first installed.
func (c *Cache) Indexes() []Index {
	c.orderMu.Lock()
	keys := append([]string(nil), c.order...)
	c.orderMu.Unlock()

	indexes := make([]Index, 0, len(keys))
	for _, key := range keys {
		if v, ok := c.LastIndex(key); ok {
			indexes = append(indexes, Index{Key: key, Value: v})
		}
	}
	return indexes
}

// ClaimFetch records now as the fetch time of key unless another fetch was
// recorded less than delay ago. Only one of several concurrent callers
// inside the same window wins the claim.
func (c *Cache) ClaimFetch(key string, now time.Time, delay time.Duration) bool {
	stamp := now.UnixNano()
	for {
		prev, loaded := c.fetchedAt.LoadOrStore(key, stamp)
		if !loaded {
			return true
		}

		last := prev.(int64) //nolint:forcetypeassert // fetchedAt only holds int64
		if now.Sub(time.Unix(0, last)) < delay {
			return false
		}

		if c.fetchedAt.CompareAndSwap(key, last, stamp) {
			return true
		}
	}
}

// FetchedAt returns the last recorded fetch time of key.
func (c *Cache) FetchedAt(key string) (time.Time, bool) {
	v, ok := c.fetchedAt.Load(key)
	if !ok {
		return time.Time{}, false
	}
	return time.Unix(0, v.(int64)), true //nolint:forcetypeassert // fetchedAt only holds int64
}

func (c *Cache) markFetched(key string, now time.Time) {
	c.fetchedAt.Store(key, now.UnixNano())
}

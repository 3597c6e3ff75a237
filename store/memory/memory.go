// Package memory is an in-process store implementing both the indexed and
// the push contracts. It backs "mem://" sources and the test suites.
package memory

import (
	"context"
	"sync"
	"time"

	"github.com/new1943/msgsource/store"
)

type entry struct {
	data  string
	index uint64
}

// Store keeps values under a single global index, like a raft log: every
// write takes the next index and becomes the key's modify index.
type Store struct {
	mu        sync.RWMutex
	index     uint64
	entries   map[string]entry
	changed   chan struct{}
	listeners map[string][]store.ChangeHandler
	closed    bool
}

var (
	_ store.IndexedClient = (*Store)(nil)
	_ store.PushClient    = (*Store)(nil)
)

func New() *Store {
	return &Store{
		entries:   make(map[string]entry),
		changed:   make(chan struct{}),
		listeners: make(map[string][]store.ChangeHandler),
	}
}

// Put writes data and returns the index assigned to it. Listeners of key
// are notified on a separate goroutine.
func (s *Store) Put(key, data string) uint64 {
	s.mu.Lock()
	s.index++
	idx := s.index
	s.entries[key] = entry{data: data, index: idx}
	handlers := append([]store.ChangeHandler(nil), s.listeners[key]...)
	s.broadcastLocked()
	s.mu.Unlock()

	if len(handlers) > 0 {
		go func() {
			for _, h := range handlers {
				h.OnChange(context.Background(), key, data)
			}
		}()
	}
	return idx
}

// Delete removes key. Listeners are not notified.
func (s *Store) Delete(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.index++
	delete(s.entries, key)
	s.broadcastLocked()
}

func (s *Store) broadcastLocked() {
	close(s.changed)
	s.changed = make(chan struct{})
}

func (s *Store) Get(ctx context.Context, key string) (*store.Value, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.valueLocked(key)
}

func (s *Store) valueLocked(key string) (*store.Value, error) {
	e, ok := s.entries[key]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &store.Value{Key: key, Data: e.data, Index: e.index}, nil
}

func (s *Store) BlockingGet(
	ctx context.Context,
	key string,
	lastIndex uint64,
	wait time.Duration,
) (*store.Value, error) {
	timer := time.NewTimer(wait)
	defer timer.Stop()

	for {
		s.mu.RLock()
		e, ok := s.entries[key]
		changed := s.changed
		s.mu.RUnlock()

		if ok && e.index > lastIndex {
			return &store.Value{Key: key, Data: e.data, Index: e.index}, nil
		}

		select {
		case <-changed:
		case <-timer.C:
			s.mu.RLock()
			defer s.mu.RUnlock()
			return s.valueLocked(key)
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

func (s *Store) Listen(_ context.Context, key string, handler store.ChangeHandler) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.listeners[key] = append(s.listeners[key], handler)
	return nil
}

// Listeners reports how many handlers are registered for key.
func (s *Store) Listeners(key string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.listeners[key])
}

func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.closed {
		s.closed = true
		s.listeners = make(map[string][]store.ChangeHandler)
	}
	return nil
}

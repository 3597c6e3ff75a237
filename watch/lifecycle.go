// Package watch keeps cached snapshots fresh, either by long-polling an
// index-based store or by applying values a push store delivers.
package watch

import (
	"context"
	"sync/atomic"
)

// Lifecycle is driven by whatever hosts the resolver. Start and Stop are
// idempotent.
type Lifecycle interface {
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
	IsRunning() bool
}

// Passive is the lifecycle of push-backed resolvers: the store drives
// refreshes on its own, so there is nothing to schedule.
type Passive struct {
	running atomic.Bool
}

func (p *Passive) Start(context.Context) error {
	p.running.Store(true)
	return nil
}

func (p *Passive) Stop(context.Context) error {
	p.running.Store(false)
	return nil
}

func (p *Passive) IsRunning() bool {
	return p.running.Load()
}

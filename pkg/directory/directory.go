// Package directory implements the runtime's process-wide aggregate
// registry (spec.md §4.5): a race-free `aggregateId → *aggregate.Instance`
// mapping. Concurrent lookups for an id that has no running actor yet
// collapse onto a single start, via the same singleflight pattern the
// teacher's refresh/snapshot service uses to dedupe concurrent rebuilds.
package directory

import (
	"context"
	"log/slog"
	"sync"

	"golang.org/x/sync/singleflight"

	"github.com/bryannaegele/maestro/pkg/aggregate"
	"github.com/bryannaegele/maestro/pkg/hlc"
	"github.com/bryannaegele/maestro/pkg/registry"
	"github.com/bryannaegele/maestro/pkg/store"
)

// Directory maps aggregate IDs to their live Instance, starting one on
// first lookup and reusing it afterward. Every aggregate a Directory serves
// shares the same Config, Store, Registry and Clock — one Directory per
// aggregate module/type, matching a supervision tree with one directory per
// registered domain.
//
// Instances are started against baseCtx, not a caller's per-request
// context: an actor is a supervised, long-lived process and must not be
// torn down just because the request that happened to trigger its start
// was cancelled.
type Directory struct {
	baseCtx  context.Context
	cfg      aggregate.Config
	store    store.Store
	registry *registry.Registry
	clock    hlc.Clock
	logger   *slog.Logger

	group     singleflight.Group
	instances sync.Map // id (string) -> *aggregate.Instance
}

// New builds a Directory for the given aggregate Config. baseCtx bounds the
// lifetime of every actor the Directory starts; cancelling it terminates
// them all.
func New(baseCtx context.Context, cfg aggregate.Config, st store.Store, reg *registry.Registry, clock hlc.Clock, logger *slog.Logger) *Directory {
	if logger == nil {
		logger = slog.Default()
	}
	return &Directory{baseCtx: baseCtx, cfg: cfg, store: st, registry: reg, clock: clock, logger: logger}
}

// Whereis returns the running Instance for id, starting one under
// supervision if none exists yet. Lookup is concurrent-safe; at most one
// Instance is ever started per id, even under a concurrent stampede of
// first-time callers.
func (d *Directory) Whereis(id string) (*aggregate.Instance, error) {
	if v, ok := d.instances.Load(id); ok {
		return v.(*aggregate.Instance), nil
	}

	v, err, _ := d.group.Do(id, func() (any, error) {
		if v, ok := d.instances.Load(id); ok {
			return v.(*aggregate.Instance), nil
		}
		inst := aggregate.Start(d.baseCtx, id, d.cfg, d.store, d.registry, d.clock, d.logger.With("component", "directory"))
		d.instances.Store(id, inst)
		return inst, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*aggregate.Instance), nil
}

// Forget drops id from the directory, e.g. after its actor terminates on an
// uncaught failure — the next Whereis call starts a fresh one, matching
// spec.md §4.4's "temporary restart" policy.
func (d *Directory) Forget(id string) {
	d.instances.Delete(id)
}

// Len reports how many actors this Directory currently tracks. Intended for
// tests and diagnostics, not capacity planning.
func (d *Directory) Len() int {
	n := 0
	d.instances.Range(func(_, _ any) bool {
		n++
		return true
	})
	return n
}

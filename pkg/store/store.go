// Package store defines the durable-store contract the aggregate runtime
// depends on: atomic append with commit-time projections, event replay,
// and at-most-one retained snapshot per aggregate. pkg/store/memory and
// pkg/store/sqlite are the two implementations.
package store

import (
	"context"

	"github.com/bryannaegele/maestro/pkg/domain"
)

// ProjectionHandler is invoked synchronously inside the same commit that
// appends events. A returned error fails the whole commit — the events are
// not persisted — matching the "invoked inside commit tx" contract.
type ProjectionHandler func(ctx context.Context, events []domain.Event) error

// AppendRequest is everything Append needs to attempt one atomic commit.
type AppendRequest struct {
	AggregateID string
	// ExpectedSequence is the aggregate's sequence as the caller last
	// observed it; Append conflicts if the store's actual sequence has
	// since advanced past it.
	ExpectedSequence uint64
	Events           []domain.Event
	Projections      []ProjectionHandler
	// CommandID, if non-empty, makes this Append idempotent: a second
	// Append with the same CommandID returns nil without appending,
	// re-validating ExpectedSequence or re-running projections; the first
	// call's events are available from CommandResult.
	CommandID string
}

// Store is the durable-store contract every aggregate runtime depends on.
// Append must be linearizable per AggregateID: concurrent Append calls for
// the same aggregate must behave as if executed one at a time.
type Store interface {
	// Append atomically appends Events after ExpectedSequence, running
	// Projections inside the same commit. Returns domain.ErrConflict if
	// ExpectedSequence no longer matches the aggregate's persisted
	// sequence — the caller is expected to rehydrate and retry.
	Append(ctx context.Context, req AppendRequest) error

	// GetEvents returns events for aggregateID with sequence in
	// (afterSeq, maxSeq], ordered by sequence. maxSeq == 0 means no upper
	// bound.
	GetEvents(ctx context.Context, aggregateID string, afterSeq, maxSeq uint64) ([]domain.Event, error)

	// GetSnapshot returns the retained snapshot for aggregateID if its
	// sequence falls within [minSeq, maxSeq] (maxSeq == 0 means no upper
	// bound), or nil if none qualifies.
	GetSnapshot(ctx context.Context, aggregateID string, minSeq, maxSeq uint64) (*domain.Snapshot, error)

	// CommitSnapshot stores snap, replacing any older retained snapshot
	// for the same aggregate. Idempotent: committing the same or an older
	// snapshot than what is retained is a no-op.
	CommitSnapshot(ctx context.Context, snap domain.Snapshot) error

	// MaxSequence returns the highest sequence persisted for aggregateID,
	// or 0 if the aggregate has no events.
	MaxSequence(ctx context.Context, aggregateID string) (uint64, error)

	// CommandResult returns the result recorded for a prior idempotent
	// Append with this CommandID, or nil if none was recorded.
	CommandResult(ctx context.Context, commandID string) (*domain.CommandResult, error)
}

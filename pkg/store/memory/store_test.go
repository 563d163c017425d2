package memory

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bryannaegele/maestro/pkg/domain"
	"github.com/bryannaegele/maestro/pkg/store"
)

func event(aggregateID string, seq uint64) domain.Event {
	return domain.Event{AggregateID: aggregateID, Sequence: seq, Type: "test.happened"}
}

func TestAppendContiguousSucceeds(t *testing.T) {
	s := New()
	ctx := context.Background()

	require.NoError(t, s.Append(ctx, store.AppendRequest{
		AggregateID:      "a1",
		ExpectedSequence: 0,
		Events:           []domain.Event{event("a1", 1)},
	}))

	max, err := s.MaxSequence(ctx, "a1")
	require.NoError(t, err)
	assert.Equal(t, uint64(1), max)
}

func TestAppendConflictWhenSequenceStale(t *testing.T) {
	s := New()
	ctx := context.Background()

	require.NoError(t, s.Append(ctx, store.AppendRequest{
		AggregateID: "a1", ExpectedSequence: 0, Events: []domain.Event{event("a1", 1)},
	}))

	err := s.Append(ctx, store.AppendRequest{
		AggregateID: "a1", ExpectedSequence: 0, Events: []domain.Event{event("a1", 1)},
	})
	assert.ErrorIs(t, err, domain.ErrConflict)
}

func TestGetEventsFiltersByRange(t *testing.T) {
	s := New()
	ctx := context.Background()
	require.NoError(t, s.Append(ctx, store.AppendRequest{
		AggregateID: "a1", ExpectedSequence: 0,
		Events: []domain.Event{event("a1", 1), event("a1", 2), event("a1", 3)},
	}))

	events, err := s.GetEvents(ctx, "a1", 1, 2)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, uint64(2), events[0].Sequence)

	all, err := s.GetEvents(ctx, "a1", 0, 0)
	require.NoError(t, err)
	assert.Len(t, all, 3)
}

func TestSnapshotNewerReplacesOlder(t *testing.T) {
	s := New()
	ctx := context.Background()

	require.NoError(t, s.CommitSnapshot(ctx, domain.Snapshot{AggregateID: "a1", Sequence: 5}))
	require.NoError(t, s.CommitSnapshot(ctx, domain.Snapshot{AggregateID: "a1", Sequence: 3}))

	snap, err := s.GetSnapshot(ctx, "a1", 0, 0)
	require.NoError(t, err)
	require.NotNil(t, snap)
	assert.Equal(t, uint64(5), snap.Sequence)
}

func TestAppendIsIdempotentByCommandID(t *testing.T) {
	s := New()
	ctx := context.Background()

	req := store.AppendRequest{
		AggregateID: "a1", ExpectedSequence: 0, CommandID: "cmd-1",
		Events: []domain.Event{event("a1", 1)},
	}
	require.NoError(t, s.Append(ctx, req))
	require.NoError(t, s.Append(ctx, req))

	max, err := s.MaxSequence(ctx, "a1")
	require.NoError(t, err)
	assert.Equal(t, uint64(1), max, "second idempotent append must not double-apply")

	res, err := s.CommandResult(ctx, "cmd-1")
	require.NoError(t, err)
	require.NotNil(t, res)
	assert.Len(t, res.Events, 1)
}

func TestAppendEmptyEventsIsNoOp(t *testing.T) {
	s := New()
	ctx := context.Background()

	require.NoError(t, s.Append(ctx, store.AppendRequest{AggregateID: "a1", ExpectedSequence: 0}))
	max, err := s.MaxSequence(ctx, "a1")
	require.NoError(t, err)
	assert.Equal(t, uint64(0), max)
}

func TestUniqueConstraintRejectsDoubleClaim(t *testing.T) {
	s := New()
	ctx := context.Background()

	claim := domain.UniqueConstraint{IndexName: "account_number", Value: "ACC-1", Operation: domain.ConstraintClaim}

	require.NoError(t, s.Append(ctx, store.AppendRequest{
		AggregateID: "a1", ExpectedSequence: 0,
		Events: []domain.Event{{AggregateID: "a1", Sequence: 1, Type: "account.opened", UniqueConstraints: []domain.UniqueConstraint{claim}}},
	}))

	err := s.Append(ctx, store.AppendRequest{
		AggregateID: "a2", ExpectedSequence: 0,
		Events: []domain.Event{{AggregateID: "a2", Sequence: 1, Type: "account.opened", UniqueConstraints: []domain.UniqueConstraint{claim}}},
	})
	assert.Error(t, err)

	maxA2, _ := s.MaxSequence(ctx, "a2")
	assert.Equal(t, uint64(0), maxA2, "rejected append must not persist events")
}

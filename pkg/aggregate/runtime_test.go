package aggregate

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/bryannaegele/maestro/pkg/domain"
	"github.com/bryannaegele/maestro/pkg/hlc"
	"github.com/bryannaegele/maestro/pkg/registry"
	"github.com/bryannaegele/maestro/pkg/store"
	"github.com/bryannaegele/maestro/pkg/store/memory"
)

func TestHydrateFoldsEventsAndIsIdempotent(t *testing.T) {
	ctx := context.Background()
	st := memory.New()
	reg := counterRegistry(t)
	cfg := counterConfig(t)

	require.NoError(t, st.Append(ctx, store.AppendRequest{
		AggregateID: "a1", ExpectedSequence: 0,
		Events: []domain.Event{externalIncrementedEvent("a1", 1, 5), externalIncrementedEvent("a1", 2, 7)},
	}))

	root := &Root{ID: "a1", State: cfg.InitialState()}
	require.NoError(t, Hydrate(ctx, st, reg, cfg, root))
	assert.Equal(t, uint64(2), root.Sequence)
	assert.Equal(t, float64(12), root.State.Fields["count"].GetNumberValue())

	before := root.State
	require.NoError(t, Hydrate(ctx, st, reg, cfg, root))
	assert.Equal(t, uint64(2), root.Sequence)
	assert.Same(t, before, root.State, "hydrating an up-to-date root must be a no-op")
}

func TestEvalCommandHappyPath(t *testing.T) {
	ctx := context.Background()
	st := memory.New()
	reg := counterRegistry(t)
	cfg := counterConfig(t)
	clock := hlc.NewSystemClock()

	root := &Root{ID: "a1", State: cfg.InitialState()}
	res, err := EvalCommand(ctx, st, reg, clock, cfg, root, incrementCmd("a1", "cmd-1", 10))
	require.NoError(t, err)
	require.Len(t, res.Events, 1)
	assert.Equal(t, uint64(1), res.Events[0].Sequence)
	assert.Equal(t, uint64(1), root.Sequence)
	assert.Equal(t, float64(10), root.State.Fields["count"].GetNumberValue())

	res2, err := EvalCommand(ctx, st, reg, clock, cfg, root, incrementCmd("a1", "cmd-2", 5))
	require.NoError(t, err)
	assert.Equal(t, uint64(2), res2.Events[0].Sequence)
	assert.Equal(t, float64(15), root.State.Fields["count"].GetNumberValue())
}

func TestEvalCommandEmptyProposalIsNoOp(t *testing.T) {
	ctx := context.Background()
	st := memory.New()
	reg := counterRegistry(t)
	reg.MustRegisterCommand("counter.noop", emptyProposalHandler())
	cfg := counterConfig(t)
	clock := hlc.NewSystemClock()

	root := &Root{ID: "a1", State: cfg.InitialState()}
	res, err := EvalCommand(ctx, st, reg, clock, cfg, root, domain.Command{AggregateID: "a1", Type: "counter.noop"})
	require.NoError(t, err)
	assert.Empty(t, res.Events)
	assert.Equal(t, uint64(0), root.Sequence)
	assert.Equal(t, float64(0), root.State.Fields["count"].GetNumberValue())
}

func TestEvalCommandUnknownTypeReturnsInvalidHandler(t *testing.T) {
	ctx := context.Background()
	st := memory.New()
	reg := counterRegistry(t)
	cfg := counterConfig(t)
	clock := hlc.NewSystemClock()

	root := &Root{ID: "a1", State: cfg.InitialState()}
	_, err := EvalCommand(ctx, st, reg, clock, cfg, root, domain.Command{AggregateID: "a1", Type: "counter.unknown"})
	require.Error(t, err)
	fault, ok := domain.AsFault(err)
	require.True(t, ok)
	assert.Equal(t, domain.KindInvalidHandler, fault.Kind)
	assert.Equal(t, uint64(0), root.Sequence)
}

func TestEvalCommandHandlerErrorBecomesFault(t *testing.T) {
	ctx := context.Background()
	st := memory.New()
	reg := counterRegistry(t)
	cfg := counterConfig(t)
	clock := hlc.NewSystemClock()

	root := &Root{ID: "a1", State: cfg.InitialState()}
	_, err := EvalCommand(ctx, st, reg, clock, cfg, root, domain.Command{AggregateID: "a1", Type: "counter.broken"})
	require.Error(t, err)
	fault, ok := domain.AsFault(err)
	require.True(t, ok)
	assert.Equal(t, domain.KindHandlerFault, fault.Kind)
}

// conflictOnceStore injects a concurrent writer's event the first time
// Append is called, so the caller's ExpectedSequence is stale and the real
// store reports Conflict; subsequent attempts go through untouched.
type conflictOnceStore struct {
	store.Store
	mem      *memory.Store
	injected bool
}

func (s *conflictOnceStore) Append(ctx context.Context, req store.AppendRequest) error {
	if !s.injected {
		s.injected = true
		_ = s.mem.Append(ctx, store.AppendRequest{
			AggregateID: req.AggregateID, ExpectedSequence: req.ExpectedSequence,
			Events: []domain.Event{externalIncrementedEvent(req.AggregateID, req.ExpectedSequence+1, 1)},
		})
	}
	return s.Store.Append(ctx, req)
}

func TestEvalCommandRetriesOnConflict(t *testing.T) {
	ctx := context.Background()
	mem := memory.New()
	st := &conflictOnceStore{Store: mem, mem: mem}
	reg := counterRegistry(t)
	cfg := counterConfig(t)
	clock := hlc.NewSystemClock()

	root := &Root{ID: "a1", State: cfg.InitialState()}
	res, err := EvalCommand(ctx, st, reg, clock, cfg, root, incrementCmd("a1", "cmd-1", 10))
	require.NoError(t, err)
	require.Len(t, res.Events, 1)
	assert.Equal(t, uint64(2), res.Events[0].Sequence, "retry rehydrates the injected event before assigning the new sequence")
	assert.Equal(t, uint64(2), root.Sequence)
	assert.Equal(t, float64(11), root.State.Fields["count"].GetNumberValue())
}

func TestEvalCommandIdempotentOnRepeatedCommandID(t *testing.T) {
	ctx := context.Background()
	st := memory.New()
	reg := counterRegistry(t)
	cfg := counterConfig(t)
	clock := hlc.NewSystemClock()

	root := &Root{ID: "a1", State: cfg.InitialState()}
	first, err := EvalCommand(ctx, st, reg, clock, cfg, root, incrementCmd("a1", "cmd-1", 10))
	require.NoError(t, err)

	second, err := EvalCommand(ctx, st, reg, clock, cfg, root, incrementCmd("a1", "cmd-1", 10))
	require.NoError(t, err)
	assert.Equal(t, first.Events[0].ID, second.Events[0].ID)

	max, err := st.MaxSequence(ctx, "a1")
	require.NoError(t, err)
	assert.Equal(t, uint64(1), max, "a repeated command ID must not append a second time")
}

func TestReplayPurityAndDeterminism(t *testing.T) {
	ctx := context.Background()
	st := memory.New()
	reg := counterRegistry(t)
	cfg := counterConfig(t)

	require.NoError(t, st.Append(ctx, store.AppendRequest{
		AggregateID: "a1", ExpectedSequence: 0,
		Events: []domain.Event{externalIncrementedEvent("a1", 1, 100), externalIncrementedEvent("a1", 2, 50), externalIncrementedEvent("a1", 3, -30)},
	}))

	root := &Root{ID: "a1", State: cfg.InitialState()}
	require.NoError(t, Hydrate(ctx, st, reg, cfg, root))
	assert.Equal(t, float64(120), root.State.Fields["count"].GetNumberValue())

	replayed, err := Replay(ctx, st, reg, cfg, "a1", 2)
	require.NoError(t, err)
	assert.Equal(t, float64(150), replayed.Fields["count"].GetNumberValue())
	// replay must not mutate the live root
	assert.Equal(t, uint64(3), root.Sequence)
	assert.Equal(t, float64(120), root.State.Fields["count"].GetNumberValue())

	replayedAgain, err := Replay(ctx, st, reg, cfg, "a1", 2)
	require.NoError(t, err)
	assert.Equal(t, replayed.Fields["count"].GetNumberValue(), replayedAgain.Fields["count"].GetNumberValue())
}

func TestReplayZeroReturnsInitialStateWithoutStoreAccess(t *testing.T) {
	ctx := context.Background()
	reg := counterRegistry(t)
	cfg := counterConfig(t)

	state, err := Replay(ctx, explodingStore{}, reg, cfg, "a1", 0)
	require.NoError(t, err)
	assert.Equal(t, float64(0), state.Fields["count"].GetNumberValue())
}

// explodingStore panics on any call; used to prove replay(id, 0) never
// touches the store.
type explodingStore struct{ store.Store }

func (explodingStore) GetSnapshot(ctx context.Context, aggregateID string, minSeq, maxSeq uint64) (*domain.Snapshot, error) {
	panic("store should not be consulted for replay(id, 0)")
}

func emptyProposalHandler() registry.CommandHandler {
	return registry.CommandHandlerFunc(func(ctx context.Context, state *structpb.Struct, cmd domain.Command) ([]registry.ProposedEvent, error) {
		return nil, nil
	})
}

package aggregate

import (
	"context"
	"errors"
	"time"

	"go.opentelemetry.io/otel/trace"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/bryannaegele/maestro/pkg/domain"
	"github.com/bryannaegele/maestro/pkg/hlc"
	"github.com/bryannaegele/maestro/pkg/observability"
	"github.com/bryannaegele/maestro/pkg/registry"
	"github.com/bryannaegele/maestro/pkg/store"
)

// Hydrate brings root up to date with st: it asks for a snapshot no older
// than root's current sequence, then folds every event committed since.
// Hydrating an already-current root is a no-op, since the store then has
// nothing newer to offer — this is what makes repeated hydration
// idempotent.
func Hydrate(ctx context.Context, st store.Store, reg *registry.Registry, cfg Config, root *Root) (err error) {
	if cfg.Tracer != nil {
		var span trace.Span
		ctx, span = observability.StartSpan(ctx, cfg.Tracer, "aggregate.hydrate",
			observability.WithAttributes(observability.AttrAggregateID.String(root.ID), observability.AttrAggregateType.String(cfg.Module)))
		defer func() { observability.EndSpan(span, err) }()
	}

	snap, err := st.GetSnapshot(ctx, root.ID, root.Sequence, 0)
	if err != nil {
		return domain.StoreUnavailable(err)
	}

	snapshotUsed := snap != nil && snap.Sequence > root.Sequence
	if snapshotUsed {
		root.State = cfg.UseSnapshot(root, *snap)
		root.Sequence = snap.Sequence
	}
	if cfg.Metrics != nil {
		cfg.Metrics.RecordAggregateLoad(ctx, cfg.Module, snapshotUsed)
	}

	events, err := st.GetEvents(ctx, root.ID, root.Sequence, 0)
	if err != nil {
		return domain.StoreUnavailable(err)
	}
	return foldEvents(reg, root, events)
}

func foldEvents(reg *registry.Registry, root *Root, events []domain.Event) error {
	for _, evt := range events {
		handler, err := reg.ResolveEvent(evt.Type)
		if err != nil {
			return err
		}
		root.State = handler.Apply(root.State, evt)
		root.Sequence = evt.Sequence
	}
	return nil
}

// Replay reconstructs the state an aggregate had at sequence targetSeq —
// fresh initial state, then a snapshot bounded by targetSeq if one
// qualifies, then events up to targetSeq — without mutating any live Root.
// targetSeq == 0 returns the configured initial state directly, per the
// replay(id, 0) boundary behavior; it never touches the store, since
// sequence 0 precedes every possible snapshot or event.
func Replay(ctx context.Context, st store.Store, reg *registry.Registry, cfg Config, id string, targetSeq uint64) (*structpb.Struct, error) {
	if targetSeq == 0 {
		return cfg.InitialState(), nil
	}

	root := &Root{ID: id, State: cfg.InitialState()}
	snap, err := st.GetSnapshot(ctx, id, 0, targetSeq)
	if err != nil {
		return nil, domain.StoreUnavailable(err)
	}
	if snap != nil {
		root.State = cfg.UseSnapshot(root, *snap)
		root.Sequence = snap.Sequence
	}

	events, err := st.GetEvents(ctx, id, root.Sequence, targetSeq)
	if err != nil {
		return nil, domain.StoreUnavailable(err)
	}
	if err := foldEvents(reg, root, events); err != nil {
		return nil, err
	}
	return root.State, nil
}

// EvalCommand runs the command-evaluation pipeline (spec.md §4.4) against
// root: hydrate, resolve the command handler, evaluate it, assign
// sequences and timestamps to the proposed events in the exact order eval
// returned them, then append. A Conflict rehydrates and retries with
// bounded backoff; any other failure returns without mutating root.
func EvalCommand(ctx context.Context, st store.Store, reg *registry.Registry, clock hlc.Clock, cfg Config, root *Root, cmd domain.Command) (result domain.CommandResult, err error) {
	start := time.Now()
	if cfg.Tracer != nil {
		var span trace.Span
		ctx, span = observability.StartSpan(ctx, cfg.Tracer, "aggregate.eval_command",
			observability.WithAttributes(observability.CommandAttrs(cmd.Type, cmd.CommandID)...))
		defer func() { observability.EndSpan(span, err) }()
	}
	if cfg.Metrics != nil {
		defer func() { cfg.Metrics.RecordCommand(ctx, cmd.Type, time.Since(start), err) }()
	}

	if cmd.CommandID != "" {
		res, err := st.CommandResult(ctx, cmd.CommandID)
		if err != nil {
			return domain.CommandResult{}, domain.StoreUnavailable(err)
		}
		if res != nil {
			return *res, nil
		}
	}

	policy := cfg.RetryPolicy
	for attempt := 0; ; attempt++ {
		if err := Hydrate(ctx, st, reg, cfg, root); err != nil {
			return domain.CommandResult{}, err
		}

		handler, err := reg.ResolveCommand(cmd.Type)
		if err != nil {
			return domain.CommandResult{}, err
		}

		proposed, err := handler.Eval(ctx, root.State, cmd)
		if err != nil {
			return domain.CommandResult{}, domain.HandlerFault(domain.KindHandlerFault, err.Error(), "")
		}
		if len(proposed) == 0 {
			return domain.CommandResult{CommandID: cmd.CommandID}, nil
		}

		events, err := prepareEvents(clock, root, cmd, proposed)
		if err != nil {
			return domain.CommandResult{}, err
		}

		appendErr := st.Append(ctx, store.AppendRequest{
			AggregateID:      root.ID,
			ExpectedSequence: root.Sequence,
			Events:           events,
			Projections:      cfg.Projections,
			CommandID:        cmd.CommandID,
		})
		switch {
		case appendErr == nil:
			if err := foldEvents(reg, root, events); err != nil {
				return domain.CommandResult{}, err
			}
			if cfg.Metrics != nil {
				cfg.Metrics.RecordEventStoreOperation(ctx, "append", time.Since(start), len(events))
			}
			return domain.CommandResult{CommandID: cmd.CommandID, Events: events}, nil
		case errors.Is(appendErr, domain.ErrConflict):
			if attempt+1 >= policy.MaxAttempts {
				return domain.CommandResult{}, domain.ErrConflictRetriesExhausted
			}
			select {
			case <-time.After(policy.delay(attempt)):
			case <-ctx.Done():
				return domain.CommandResult{}, ctx.Err()
			}
		default:
			return domain.CommandResult{}, domain.StoreUnavailable(appendErr)
		}
	}
}

func prepareEvents(clock hlc.Clock, root *Root, cmd domain.Command, proposed []registry.ProposedEvent) ([]domain.Event, error) {
	events := make([]domain.Event, len(proposed))
	for i, p := range proposed {
		ts, err := clock.Now()
		if err != nil {
			return nil, domain.ClockFailure(err)
		}
		events[i] = domain.Event{
			ID:          domain.DeterministicEventID(cmd.CommandID, root.ID, i),
			AggregateID: root.ID,
			Sequence:    root.Sequence + uint64(i) + 1,
			Type:        p.Type,
			Data:        p.Data,
			Timestamp:   ts,
			Metadata: domain.EventMetadata{
				CorrelationID: cmd.Metadata.CorrelationID,
				CausationID:   cmd.CommandID,
				PrincipalID:   cmd.Metadata.PrincipalID,
			},
			UniqueConstraints: p.UniqueConstraints,
		}
	}
	return events, nil
}

// CaptureSnapshot asks cfg.PrepareSnapshot for a serializable body from
// root's current state and commits it at root's current sequence.
func CaptureSnapshot(ctx context.Context, st store.Store, cfg Config, root *Root) (err error) {
	if cfg.Tracer != nil {
		var span trace.Span
		ctx, span = observability.StartSpan(ctx, cfg.Tracer, "aggregate.capture_snapshot",
			observability.WithAttributes(observability.AttrAggregateID.String(root.ID), observability.AttrAggregateType.String(cfg.Module)))
		defer func() { observability.EndSpan(span, err) }()
	}

	body := cfg.PrepareSnapshot(root.State)
	return st.CommitSnapshot(ctx, domain.Snapshot{AggregateID: root.ID, Sequence: root.Sequence, Body: body})
}

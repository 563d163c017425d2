package aggregate

import (
	"context"
	"fmt"

	"google.golang.org/protobuf/types/known/structpb"

	"github.com/bryannaegele/maestro/pkg/domain"
	"github.com/bryannaegele/maestro/pkg/registry"
)

// counterRegistry builds a tiny registry for a single-field counter
// aggregate, used across this package's tests. "counter.increment" proposes
// a "counter.incremented" event; "counter.broken" always errors;
// "counter.panic" panics, to exercise the actor's recovery boundary.
func counterRegistry(t interface{ Helper() }) *registry.Registry {
	t.Helper()
	reg := registry.New()

	reg.MustRegisterCommand("counter.increment", registry.CommandHandlerFunc(
		func(ctx context.Context, state *structpb.Struct, cmd domain.Command) ([]registry.ProposedEvent, error) {
			amount := cmd.Data.Fields["amount"].GetNumberValue()
			data, _ := structpb.NewStruct(map[string]any{"amount": amount})
			return []registry.ProposedEvent{{Type: "counter.incremented", Data: data}}, nil
		}))

	reg.MustRegisterCommand("counter.broken", registry.CommandHandlerFunc(
		func(ctx context.Context, state *structpb.Struct, cmd domain.Command) ([]registry.ProposedEvent, error) {
			return nil, fmt.Errorf("handler refuses to evaluate")
		}))

	reg.MustRegisterCommand("counter.panic", registry.CommandHandlerFunc(
		func(ctx context.Context, state *structpb.Struct, cmd domain.Command) ([]registry.ProposedEvent, error) {
			panic("counter handler panicked")
		}))

	reg.MustRegisterEvent("counter.incremented", registry.EventHandlerFunc(
		func(state *structpb.Struct, event domain.Event) *structpb.Struct {
			count := state.Fields["count"].GetNumberValue()
			amount := event.Data.Fields["amount"].GetNumberValue()
			next, _ := structpb.NewStruct(map[string]any{"count": count + amount})
			return next
		}))

	return reg
}

func counterConfig(t interface{ Helper() }) Config {
	t.Helper()
	return NewConfig("counter", WithInitialState(func() *structpb.Struct {
		s, _ := structpb.NewStruct(map[string]any{"count": 0})
		return s
	}))
}

func incrementCmd(aggregateID, commandID string, amount float64) domain.Command {
	data, _ := structpb.NewStruct(map[string]any{"amount": amount})
	return domain.Command{CommandID: commandID, AggregateID: aggregateID, Type: "counter.increment", Data: data}
}

func externalIncrementedEvent(aggregateID string, seq uint64, amount float64) domain.Event {
	data, _ := structpb.NewStruct(map[string]any{"amount": amount})
	return domain.Event{AggregateID: aggregateID, Sequence: seq, Type: "counter.incremented", Data: data}
}

// Package registry implements the aggregate runtime's static handler
// dispatch: a type tag ("account.deposit") resolves to exactly one
// CommandHandler or EventHandler, registered once at process startup.
// There is no dynamic lookup, no inheritance, and no fallback handler —
// an unregistered tag is always domain.InvalidHandler.
package registry

import (
	"context"
	"fmt"

	"google.golang.org/protobuf/types/known/structpb"

	"github.com/bryannaegele/maestro/pkg/domain"
)

// ProposedEvent is what a CommandHandler emits: a type tag and payload, not
// yet assigned a sequence or timestamp — those are the runtime's job during
// commit, not the handler's.
type ProposedEvent struct {
	Type              string
	Data              *structpb.Struct
	UniqueConstraints []domain.UniqueConstraint
}

// CommandHandler evaluates a command against the aggregate's current state
// and proposes zero or more events. Eval must be pure: no I/O, no clock
// reads, no randomness — everything it needs is in state and cmd.
type CommandHandler interface {
	Eval(ctx context.Context, state *structpb.Struct, cmd domain.Command) ([]ProposedEvent, error)
}

// CommandHandlerFunc adapts a function to a CommandHandler.
type CommandHandlerFunc func(ctx context.Context, state *structpb.Struct, cmd domain.Command) ([]ProposedEvent, error)

// Eval implements CommandHandler.
func (f CommandHandlerFunc) Eval(ctx context.Context, state *structpb.Struct, cmd domain.Command) ([]ProposedEvent, error) {
	return f(ctx, state, cmd)
}

// EventHandler folds a single event into the aggregate's state. Apply must
// be total and deterministic: given the same state and event it always
// returns the same result, and it never fails — an event that was accepted
// onto the log must always be foldable.
type EventHandler interface {
	Apply(state *structpb.Struct, event domain.Event) *structpb.Struct
}

// EventHandlerFunc adapts a function to an EventHandler.
type EventHandlerFunc func(state *structpb.Struct, event domain.Event) *structpb.Struct

// Apply implements EventHandler.
func (f EventHandlerFunc) Apply(state *structpb.Struct, event domain.Event) *structpb.Struct {
	return f(state, event)
}

// Registry is a static tag-to-handler table. A Registry is safe to read
// concurrently once registration is finished, which in practice means
// "once process startup has returned" — Register* is not meant to be
// called from multiple goroutines.
type Registry struct {
	commands map[string]CommandHandler
	events   map[string]EventHandler
}

// New creates an empty Registry.
func New() *Registry {
	return &Registry{
		commands: make(map[string]CommandHandler),
		events:   make(map[string]EventHandler),
	}
}

// RegisterCommand binds tag to h. It fails fast if tag is not a
// well-formed dotted-lowercase identifier or is already registered —
// malformed registrations are a startup-time programmer error, not a
// runtime condition a caller should have to handle.
func (r *Registry) RegisterCommand(tag string, h CommandHandler) error {
	if !ValidTag(tag) {
		return fmt.Errorf("registry: malformed command tag %q", tag)
	}
	if _, exists := r.commands[tag]; exists {
		return fmt.Errorf("registry: command tag %q already registered", tag)
	}
	r.commands[tag] = h
	return nil
}

// RegisterEvent binds tag to h, with the same validation as RegisterCommand.
func (r *Registry) RegisterEvent(tag string, h EventHandler) error {
	if !ValidTag(tag) {
		return fmt.Errorf("registry: malformed event tag %q", tag)
	}
	if _, exists := r.events[tag]; exists {
		return fmt.Errorf("registry: event tag %q already registered", tag)
	}
	r.events[tag] = h
	return nil
}

// MustRegisterCommand panics if RegisterCommand fails. Intended for
// package-level init wiring where a malformed tag is a build-time bug.
func (r *Registry) MustRegisterCommand(tag string, h CommandHandler) {
	if err := r.RegisterCommand(tag, h); err != nil {
		panic(err)
	}
}

// MustRegisterEvent panics if RegisterEvent fails.
func (r *Registry) MustRegisterEvent(tag string, h EventHandler) {
	if err := r.RegisterEvent(tag, h); err != nil {
		panic(err)
	}
}

// ResolveCommand looks up the handler for tag, returning a
// domain.KindInvalidHandler Fault when none is registered.
func (r *Registry) ResolveCommand(tag string) (CommandHandler, error) {
	h, ok := r.commands[tag]
	if !ok {
		return nil, domain.InvalidHandler(tag)
	}
	return h, nil
}

// ResolveEvent looks up the handler for tag, returning a
// domain.KindInvalidHandler Fault when none is registered.
func (r *Registry) ResolveEvent(tag string) (EventHandler, error) {
	h, ok := r.events[tag]
	if !ok {
		return nil, domain.InvalidHandler(tag)
	}
	return h, nil
}

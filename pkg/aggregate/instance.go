package aggregate

import (
	"context"
	"log/slog"
	"sync/atomic"

	"google.golang.org/protobuf/types/known/structpb"

	"github.com/bryannaegele/maestro/pkg/domain"
	"github.com/bryannaegele/maestro/pkg/hlc"
	"github.com/bryannaegele/maestro/pkg/registry"
	"github.com/bryannaegele/maestro/pkg/store"
)

// State is one of the actor's lifecycle states (spec.md §4.4's state
// machine).
type State int32

const (
	StateStarting State = iota
	StateHydrating
	StateIdle
	StateBusy
	StateTerminated
)

func (s State) String() string {
	switch s {
	case StateStarting:
		return "starting"
	case StateHydrating:
		return "hydrating"
	case StateIdle:
		return "idle"
	case StateBusy:
		return "busy"
	case StateTerminated:
		return "terminated"
	default:
		return "unknown"
	}
}

// Result is what every Instance operation ultimately resolves to: a value
// (in whichever of State/Command/Value applies to the op that produced it)
// or a non-nil Err.
type Result struct {
	State   *structpb.Struct
	Command domain.CommandResult
	Value   any
	Err     error
}

// CallFunc is an extension message delivered to an Instance's actor in its
// serialized turn — the escape hatch from the fixed operation set below.
type CallFunc func(ctx context.Context, root *Root) (any, error)

type opKind int

const (
	opGet opKind = iota
	opFetch
	opReplay
	opEvaluate
	opSnapshot
	opCall
)

type request struct {
	kind      opKind
	cmd       domain.Command
	targetSeq uint64
	call      CallFunc
	reply     chan Result
}

// Instance is the per-aggregate actor: a goroutine owning a Root value and
// serializing every operation against it through a single inbound channel.
// One operation is in flight at a time; operations queued behind it are
// processed in FIFO order.
type Instance struct {
	id       string
	cfg      Config
	store    store.Store
	registry *registry.Registry
	clock    hlc.Clock
	logger   *slog.Logger

	inbox chan request
	state atomic.Int32

	root *Root // touched only by the run loop goroutine
}

// Start creates an Instance for id and begins its actor goroutine, which
// performs initial hydration before accepting operations. The actor runs
// until ctx is cancelled.
func Start(ctx context.Context, id string, cfg Config, st store.Store, reg *registry.Registry, clock hlc.Clock, logger *slog.Logger) *Instance {
	if logger == nil {
		logger = slog.Default()
	}
	inst := &Instance{
		id:       id,
		cfg:      cfg,
		store:    st,
		registry: reg,
		clock:    clock,
		logger:   logger.With("aggregate_id", id, "module", cfg.Module),
		inbox:    make(chan request, 32),
		root:     &Root{ID: id, State: cfg.InitialState()},
	}
	inst.state.Store(int32(StateStarting))
	go inst.run(ctx)
	return inst
}

// State reports the actor's current lifecycle state.
func (i *Instance) State() State { return State(i.state.Load()) }

func (i *Instance) run(ctx context.Context) {
	i.state.Store(int32(StateHydrating))
	if err := Hydrate(ctx, i.store, i.registry, i.cfg, i.root); err != nil {
		i.logger.Error("initial hydration failed", "error", err)
	}
	i.state.Store(int32(StateIdle))

	for {
		select {
		case <-ctx.Done():
			i.state.Store(int32(StateTerminated))
			return
		case req := <-i.inbox:
			i.state.Store(int32(StateBusy))
			req.reply <- i.handle(ctx, req)
			i.state.Store(int32(StateIdle))
		}
	}
}

// handle runs exactly one operation on the actor's turn. A panic inside a
// user handler (Eval or Apply) is recovered here, converted to a
// HandlerFault, and the actor keeps running with root unchanged.
func (i *Instance) handle(ctx context.Context, req request) (res Result) {
	defer recoverFault(&res.Err)

	switch req.kind {
	case opGet:
		res.State = i.root.State
	case opFetch:
		if err := Hydrate(ctx, i.store, i.registry, i.cfg, i.root); err != nil {
			res.Err = err
			return
		}
		res.State = i.root.State
	case opReplay:
		state, err := Replay(ctx, i.store, i.registry, i.cfg, i.id, req.targetSeq)
		if err != nil {
			res.Err = err
			return
		}
		res.State = state
	case opEvaluate:
		cmdRes, err := EvalCommand(ctx, i.store, i.registry, i.clock, i.cfg, i.root, req.cmd)
		if err != nil {
			res.Err = err
			return
		}
		res.Command = cmdRes
	case opSnapshot:
		if err := CaptureSnapshot(ctx, i.store, i.cfg, i.root); err != nil {
			res.Err = err
			return
		}
		res.State = i.root.State
	case opCall:
		value, err := req.call(ctx, i.root)
		res.Value = value
		res.Err = err
	}
	return
}

func (i *Instance) do(ctx context.Context, req request) (*structpb.Struct, error) {
	req.reply = make(chan Result, 1)
	select {
	case i.inbox <- req:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	select {
	case res := <-req.reply:
		return res.State, res.Err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Get returns the currently in-memory state without touching the store.
// Never fails on a live actor.
func (i *Instance) Get(ctx context.Context) (*structpb.Struct, error) {
	return i.do(ctx, request{kind: opGet})
}

// Fetch hydrates from the store, then returns state.
func (i *Instance) Fetch(ctx context.Context) (*structpb.Struct, error) {
	return i.do(ctx, request{kind: opFetch})
}

// Replay returns what the state would be at sequence targetSeq, without
// mutating the actor's current state.
func (i *Instance) Replay(ctx context.Context, targetSeq uint64) (*structpb.Struct, error) {
	return i.do(ctx, request{kind: opReplay, targetSeq: targetSeq})
}

// Snapshot asks the current state for a snapshot body and commits it.
func (i *Instance) Snapshot(ctx context.Context) error {
	_, err := i.do(ctx, request{kind: opSnapshot})
	return err
}

// Call delivers fn to the actor in its serialized turn, the escape hatch
// for extension messages spec.md §4.3 calls out.
func (i *Instance) Call(ctx context.Context, fn CallFunc) (any, error) {
	req := request{kind: opCall, call: fn, reply: make(chan Result, 1)}
	select {
	case i.inbox <- req:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	select {
	case res := <-req.reply:
		return res.Value, res.Err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Evaluate submits cmd and blocks until its commit outcome — including a
// HandlerFault or exhausted conflict retries — is known. This is the
// runtime's default, synchronous-on-commit behavior (see SPEC_FULL.md's
// Open Questions decision); use EvaluateAsync for fire-and-forget.
func (i *Instance) Evaluate(ctx context.Context, cmd domain.Command) (domain.CommandResult, error) {
	ch, err := i.EvaluateAsync(ctx, cmd)
	if err != nil {
		return domain.CommandResult{}, err
	}
	select {
	case res := <-ch:
		return res.Command, res.Err
	case <-ctx.Done():
		return domain.CommandResult{}, ctx.Err()
	}
}

// EvaluateAsync enqueues cmd and returns immediately with a channel the
// caller may read at its leisure or discard entirely.
func (i *Instance) EvaluateAsync(ctx context.Context, cmd domain.Command) (<-chan Result, error) {
	req := request{kind: opEvaluate, cmd: cmd, reply: make(chan Result, 1)}
	select {
	case i.inbox <- req:
		return req.reply, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Package aggregate implements the runtime described by spec.md §4.3/§4.4:
// a per-ID actor (Instance) wrapping a set of pure functions (Hydrate,
// EvalCommand, CaptureSnapshot, Replay) that operate on a Root value plus a
// store.Store and a registry.Registry.
package aggregate

import (
	"go.opentelemetry.io/otel/trace"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/bryannaegele/maestro/pkg/domain"
	"github.com/bryannaegele/maestro/pkg/observability"
	"github.com/bryannaegele/maestro/pkg/store"
)

// Root is the in-memory aggregate value: an ID, the highest sequence folded
// into State, and State itself. Root carries no configuration or behavior
// of its own — that lives in Config — so it stays a plain value the runtime
// functions can hydrate, fold, and snapshot without any hidden coupling.
type Root struct {
	ID       string
	Sequence uint64
	State    *structpb.Struct
}

// Config is the aggregate-root configuration value from spec.md §6:
// module identity, the command/event tag prefixes, the projections run at
// commit time, and the three overridable state callbacks. There is no
// inheritance — a concrete aggregate is just a Config value.
type Config struct {
	Module        string
	CommandPrefix string
	EventPrefix   string
	Projections   []store.ProjectionHandler

	// InitialState produces the state a fresh (never-hydrated) aggregate
	// starts from. Defaults to an empty struct.
	InitialState func() *structpb.Struct
	// PrepareSnapshot turns the current state into a serializable
	// snapshot body. Defaults to identity.
	PrepareSnapshot func(state *structpb.Struct) *structpb.Struct
	// UseSnapshot turns a retained snapshot into the state a hydration or
	// replay should resume from. Defaults to the snapshot's body,
	// unchanged.
	UseSnapshot func(root *Root, snap domain.Snapshot) *structpb.Struct

	// RetryPolicy bounds the commit-with-retry loop in EvalCommand.
	RetryPolicy RetryPolicy

	// Tracer instruments Hydrate/EvalCommand/CaptureSnapshot with
	// OpenTelemetry spans; Metrics records the runtime counters/histograms
	// from pkg/observability in Hydrate and EvalCommand. Both are optional; nil disables instrumentation
	// entirely rather than recording into a no-op implementation.
	Tracer  trace.Tracer
	Metrics *observability.Metrics
}

// ConfigOption overrides one of Config's defaults.
type ConfigOption func(*Config)

// WithCommandPrefix overrides the default command-tag prefix (the module
// name).
func WithCommandPrefix(prefix string) ConfigOption {
	return func(c *Config) { c.CommandPrefix = prefix }
}

// WithEventPrefix overrides the default event-tag prefix (the module name).
func WithEventPrefix(prefix string) ConfigOption {
	return func(c *Config) { c.EventPrefix = prefix }
}

// WithProjections sets the projection handlers run inside every commit for
// this aggregate.
func WithProjections(projections ...store.ProjectionHandler) ConfigOption {
	return func(c *Config) { c.Projections = projections }
}

// WithInitialState overrides the fresh-aggregate state constructor.
func WithInitialState(fn func() *structpb.Struct) ConfigOption {
	return func(c *Config) { c.InitialState = fn }
}

// WithPrepareSnapshot overrides how state is turned into a snapshot body.
func WithPrepareSnapshot(fn func(*structpb.Struct) *structpb.Struct) ConfigOption {
	return func(c *Config) { c.PrepareSnapshot = fn }
}

// WithUseSnapshot overrides how a retained snapshot is turned back into
// state.
func WithUseSnapshot(fn func(*Root, domain.Snapshot) *structpb.Struct) ConfigOption {
	return func(c *Config) { c.UseSnapshot = fn }
}

// WithRetryPolicy overrides the default conflict-retry backoff.
func WithRetryPolicy(policy RetryPolicy) ConfigOption {
	return func(c *Config) { c.RetryPolicy = policy }
}

// WithTracer enables span instrumentation of the runtime's three
// operations.
func WithTracer(tracer trace.Tracer) ConfigOption {
	return func(c *Config) { c.Tracer = tracer }
}

// WithMetrics enables metric instrumentation of Hydrate and EvalCommand;
// CaptureSnapshot records no metrics.
func WithMetrics(metrics *observability.Metrics) ConfigOption {
	return func(c *Config) { c.Metrics = metrics }
}

// NewConfig builds a Config for module, with both tag prefixes defaulted to
// module and the three state callbacks defaulted per spec.md §6.
func NewConfig(module string, opts ...ConfigOption) Config {
	cfg := Config{
		Module:        module,
		CommandPrefix: module,
		EventPrefix:   module,
		InitialState: func() *structpb.Struct {
			return &structpb.Struct{Fields: map[string]*structpb.Value{}}
		},
		PrepareSnapshot: func(state *structpb.Struct) *structpb.Struct { return state },
		UseSnapshot: func(_ *Root, snap domain.Snapshot) *structpb.Struct {
			return snap.Body
		},
		RetryPolicy: DefaultRetryPolicy(),
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	return cfg
}

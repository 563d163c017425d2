// Package domain holds the wire-level data model shared by every layer of
// the aggregate runtime: commands, events, snapshots and the errors that
// can arise while evaluating them. None of these types know how to persist
// or dispatch themselves — that is pkg/store and pkg/registry's job.
package domain

import (
	"time"

	"google.golang.org/protobuf/types/known/structpb"
)

// Command is an intention to change an aggregate's state. CommandID is
// supplied by the caller and is what makes a retried command idempotent —
// the same CommandID submitted twice short-circuits to the first call's
// result instead of being evaluated twice.
type Command struct {
	CommandID   string
	AggregateID string
	Type        string
	Data        *structpb.Struct
	Metadata    CommandMetadata
}

// CommandMetadata carries caller context that rides along with a command
// but never participates in handler evaluation itself.
type CommandMetadata struct {
	CorrelationID string
	CausationID   string
	PrincipalID   string
	Custom        map[string]string
}

// CommandResult is what a caller of evaluate ultimately observes: either
// the events a command produced, or — if AlreadyProcessed is set — the
// events a prior submission of the same CommandID produced.
type CommandResult struct {
	CommandID        string
	Events           []Event
	AlreadyProcessed bool
	ProcessedAt      time.Time
}

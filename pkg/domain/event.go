package domain

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	"google.golang.org/protobuf/types/known/structpb"

	"github.com/bryannaegele/maestro/pkg/hlc"
)

// Event is an immutable fact about a state change that has already
// happened. Sequence is 1-based and gap-free within an aggregate; Timestamp
// is minted by the runtime's hlc.Clock at append time, not by the handler
// that produced the event.
type Event struct {
	ID          string
	AggregateID string
	Sequence    uint64
	Type        string
	Data        *structpb.Struct
	Timestamp   hlc.Timestamp
	Metadata    EventMetadata

	// UniqueConstraints are claimed or released atomically with this
	// event's append, per the teacher's uniqueness-index extension to the
	// base append contract.
	UniqueConstraints []UniqueConstraint
}

// EventMetadata carries caller/causal context that rides along with an
// event but plays no part in folding state.
type EventMetadata struct {
	CorrelationID string
	CausationID   string
	PrincipalID   string
	Custom        map[string]string
}

// UniqueConstraint claims or releases a uniqueness index value atomically
// with the event that carries it. A Store rejects an append that would
// claim a value already held by a different aggregate.
type UniqueConstraint struct {
	IndexName string
	Value     string
	Operation ConstraintOperation
}

// ConstraintOperation is the action a UniqueConstraint performs.
type ConstraintOperation string

const (
	ConstraintClaim   ConstraintOperation = "claim"
	ConstraintRelease ConstraintOperation = "release"
)

// DeterministicEventID derives a stable event ID from the command that
// caused it plus the event's position in that command's emitted slice, so
// retried commands produce byte-identical event IDs instead of fresh ones.
func DeterministicEventID(commandID, aggregateID string, index int) string {
	h := sha256.New()
	fmt.Fprintf(h, "%s:%s:%d", commandID, aggregateID, index)
	return hex.EncodeToString(h.Sum(nil))[:32]
}

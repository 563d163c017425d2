package domain

import "google.golang.org/protobuf/types/known/structpb"

// Snapshot is a point-in-time capture of an aggregate's state at a given
// Sequence. A Store retains at most one Snapshot per aggregate; committing
// a newer one replaces whatever was there.
type Snapshot struct {
	AggregateID string
	Sequence    uint64
	Body        *structpb.Struct
}

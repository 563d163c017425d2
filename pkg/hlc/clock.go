// Package hlc implements a hybrid logical clock: timestamps that combine
// wall-clock time with a logical counter so that every timestamp minted by a
// single process is strictly greater than the last, and timestamps from
// different processes still admit a total order via a node ID tie-break.
package hlc

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
)

// Timestamp is a single HLC reading: millisecond-resolution physical time,
// a logical counter that advances within the same millisecond, and the
// node ID of the clock that minted it.
type Timestamp struct {
	Physical int64
	Logical  uint32
	Node     uint64
}

// Compare returns -1, 0 or 1 as t orders before, equal to, or after o.
// Physical time dominates, then the logical counter, then the node ID —
// the node ID exists purely to break ties between two processes that
// observed the same wall-clock millisecond with the same counter value,
// which cannot happen for a single process's own Clock but can across
// processes.
func (t Timestamp) Compare(o Timestamp) int {
	switch {
	case t.Physical < o.Physical:
		return -1
	case t.Physical > o.Physical:
		return 1
	}
	switch {
	case t.Logical < o.Logical:
		return -1
	case t.Logical > o.Logical:
		return 1
	}
	switch {
	case t.Node < o.Node:
		return -1
	case t.Node > o.Node:
		return 1
	}
	return 0
}

// Before reports whether t orders strictly before o.
func (t Timestamp) Before(o Timestamp) bool { return t.Compare(o) < 0 }

// IsZero reports whether t is the zero value.
func (t Timestamp) IsZero() bool { return t.Physical == 0 && t.Logical == 0 && t.Node == 0 }

// String renders the timestamp as a 26-character Crockford-base32 ULID:
// the standard ULID's 48-bit millisecond field holds Physical, and its
// 80-bit randomness field is replaced with Logical followed by the low 48
// bits of Node, so the encoding sorts lexically as Timestamp.Compare orders
// it except between two timestamps whose Node values share their low 48
// bits; the high 16 bits of Node are not encoded.
func (t Timestamp) String() string {
	var id ulid.ULID
	id.SetTime(uint64(t.Physical))

	var entropy [10]byte
	entropy[0] = byte(t.Logical >> 24)
	entropy[1] = byte(t.Logical >> 16)
	entropy[2] = byte(t.Logical >> 8)
	entropy[3] = byte(t.Logical)
	for i := 0; i < 6; i++ {
		entropy[4+i] = byte(t.Node >> uint(8*(5-i)))
	}
	_ = id.SetEntropy(entropy[:])
	return id.String()
}

// Parse decodes the string form produced by String back into a Timestamp.
// Only the low 48 bits of Node survive the round trip; the decoded Node has
// its high 16 bits zero.
func Parse(s string) (Timestamp, error) {
	id, err := ulid.ParseStrict(strings.ToUpper(s))
	if err != nil {
		return Timestamp{}, fmt.Errorf("hlc: parse %q: %w", s, err)
	}
	entropy := id.Entropy()
	logical := uint32(entropy[0])<<24 | uint32(entropy[1])<<16 | uint32(entropy[2])<<8 | uint32(entropy[3])
	var node uint64
	for i := 0; i < 6; i++ {
		node = node<<8 | uint64(entropy[4+i])
	}
	return Timestamp{
		Physical: int64(id.Time()),
		Logical:  logical,
		Node:     node,
	}, nil
}

// Clock mints strictly monotone Timestamps.
type Clock interface {
	// Now returns a Timestamp strictly greater than every Timestamp this
	// Clock has previously returned, or an error if the wall clock itself
	// is unusable (clock failure per the runtime's error taxonomy).
	Now() (Timestamp, error)
	// NodeID returns the tie-breaking node identifier this Clock mints
	// timestamps under.
	NodeID() uint64
}

// SystemClock is the default Clock: wall time from a configurable source
// (time.Now by default, overridable for tests) plus an in-process logical
// counter, tie-broken by a node ID derived from a random UUID minted once
// at construction.
type SystemClock struct {
	mu       sync.Mutex
	now      func() time.Time
	node     uint64
	last     Timestamp
}

// NewSystemClock builds a SystemClock with a fresh random node ID.
func NewSystemClock() *SystemClock {
	return NewSystemClockWithNode(nodeIDFromUUID(uuid.New()))
}

// NewSystemClockWithNode builds a SystemClock with an explicit node ID —
// useful when a process wants a stable, reproducible identity (e.g. derived
// from a configured instance name) rather than a random one.
func NewSystemClockWithNode(node uint64) *SystemClock {
	return &SystemClock{
		now:  time.Now,
		node: node,
	}
}

// WithTimeSource overrides the wall-clock source. Intended for tests that
// need to control or freeze physical time while still exercising the
// logical-counter tie-breaking behavior.
func (c *SystemClock) WithTimeSource(now func() time.Time) *SystemClock {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = now
	return c
}

func nodeIDFromUUID(id uuid.UUID) uint64 {
	var n uint64
	for _, b := range id[:8] {
		n = n<<8 | uint64(b)
	}
	return n
}

// Now implements Clock.
func (c *SystemClock) Now() (Timestamp, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	wall := c.now().UnixMilli()
	if wall < 0 {
		return Timestamp{}, fmt.Errorf("hlc: system clock returned negative time")
	}

	next := Timestamp{Physical: wall, Logical: 0, Node: c.node}
	if next.Physical <= c.last.Physical {
		next.Physical = c.last.Physical
		next.Logical = c.last.Logical + 1
	}
	c.last = next
	return next, nil
}

// NodeID implements Clock.
func (c *SystemClock) NodeID() uint64 {
	return c.node
}

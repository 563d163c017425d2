package domain

import (
	"errors"
	"fmt"
)

// ErrKind classifies why a command evaluation did not produce a success
// value. Conflict is never surfaced to a caller — the runtime retries it
// internally — so it never appears in a Fault returned from evaluate.
type ErrKind string

const (
	KindInvalidHandler   ErrKind = "invalid_handler"
	KindInvalidCommand   ErrKind = "invalid_command"
	KindStoreUnavailable ErrKind = "store_unavailable"
	KindConflict         ErrKind = "conflict"
	KindClockFailure     ErrKind = "clock_failure"
	KindHandlerFault     ErrKind = "handler_fault"
)

// Fault is the three-part user-visible error: what kind of failure
// occurred, a human-readable message, and — for a handler panic — the
// captured stack trace.
type Fault struct {
	Kind    ErrKind
	Message string
	Trace   string
}

func (f *Fault) Error() string {
	if f.Trace != "" {
		return fmt.Sprintf("%s: %s\n%s", f.Kind, f.Message, f.Trace)
	}
	return fmt.Sprintf("%s: %s", f.Kind, f.Message)
}

// NewFault builds a Fault of the given kind.
func NewFault(kind ErrKind, message string) *Fault {
	return &Fault{Kind: kind, Message: message}
}

// InvalidHandler reports that no handler is registered for a command or
// event type tag.
func InvalidHandler(tag string) *Fault {
	return NewFault(KindInvalidHandler, fmt.Sprintf("no handler registered for type %q", tag))
}

// InvalidCommand reports a structurally malformed command (missing
// aggregate ID, missing type tag, unparseable data).
func InvalidCommand(reason string) *Fault {
	return NewFault(KindInvalidCommand, reason)
}

// StoreUnavailable reports that the durable store could not service a
// request for reasons unrelated to optimistic concurrency.
func StoreUnavailable(err error) *Fault {
	return NewFault(KindStoreUnavailable, err.Error())
}

// ClockFailure reports that the HLC clock could not mint a timestamp.
func ClockFailure(err error) *Fault {
	return NewFault(KindClockFailure, err.Error())
}

// HandlerFault captures a handler panic or returned error, keeping the
// owning actor alive.
func HandlerFault(kind ErrKind, message, trace string) *Fault {
	return &Fault{Kind: kind, Message: message, Trace: trace}
}

// ErrConflict is the sentinel a Store returns from Append when the
// aggregate has moved on since the caller last hydrated it. It is never
// wrapped in a Fault because the runtime retries it internally and a
// caller should never see it directly.
var ErrConflict = errors.New("domain: optimistic concurrency conflict")

// ErrConflictRetriesExhausted is returned when the bounded backoff in
// pkg/aggregate gives up retrying a Conflict.
var ErrConflictRetriesExhausted = errors.New("domain: conflict retries exhausted")

// AsFault unwraps err into a *Fault if it is one.
func AsFault(err error) (*Fault, bool) {
	var f *Fault
	if errors.As(err, &f) {
		return f, true
	}
	return nil, false
}

package queue

import (
	"errors"
	"time"

	"github.com/sudosu4pp/multi-chain-zk-back/internal/op"
)

// State is the lifecycle position of a queued operation.
type State string

const (
	StateFresh      State = "fresh"
	StateClaimed    State = "claimed"
	StateProcessing State = "processing"
	StateReady      State = "ready"
	StateExecuting  State = "executing"
	// StateWaiting is a composite whose children are in flight.
	StateWaiting State = "waiting"
	// StateDeferred is a DeferUntil whose condition is not yet confirmed.
	StateDeferred   State = "deferred"
	StateSucceeded  State = "succeeded"
	StateFailed     State = "failed"
	StateSuperseded State = "superseded"
)

// States lists every state in lifecycle order.
var States = []State{
	StateFresh, StateClaimed, StateProcessing, StateReady, StateExecuting,
	StateWaiting, StateDeferred, StateSucceeded, StateFailed, StateSuperseded,
}

// Terminal reports whether no further transition is possible.
func (s State) Terminal() bool {
	return s == StateSucceeded || s == StateFailed || s == StateSuperseded
}

func (s State) Valid() bool {
	for _, v := range States {
		if s == v {
			return true
		}
	}
	return false
}

// FailKind classifies a Failed entry.
type FailKind string

const (
	FailSubmission  FailKind = "submission_error"
	FailRejected    FailKind = "plugin_rejected"
	FailInterrupted FailKind = "interrupted"
	FailInvalid     FailKind = "invalid"
)

var ErrNotFound = errors.New("queue entry not found")

// Entry is one queued operation. Children of composites are entries of their
// own that point back through ParentID.
type Entry struct {
	ID        op.ID
	ParentID  op.ID
	Position  int
	Revision  uint64
	Op        op.Op
	State     State
	Tag       string
	NotBefore time.Time
	FailKind  FailKind
	LastError string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Clone returns a copy safe to mutate before a compare-and-swap.
func (e *Entry) Clone() *Entry {
	out := *e
	return &out
}

// Eligible reports whether e may be picked up at now.
func (e *Entry) Eligible(now time.Time) bool {
	return now.IsZero() || e.NotBefore.IsZero() || !e.NotBefore.After(now)
}

// Root reports whether e was submitted by a producer rather than expanded from a parent.
func (e *Entry) Root() bool {
	return e.ParentID == ""
}

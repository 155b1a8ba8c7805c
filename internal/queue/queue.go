// Package queue persists operations and their lifecycle state.
//
// Every mutation of an existing entry is a compare-and-swap on its revision.
// A successful swap bumps the revision, so any mutation computed from an older
// snapshot fails with op.ErrStaleRevision and can be dropped.
package queue

import (
	"context"
	"time"

	"github.com/sudosu4pp/multi-chain-zk-back/internal/op"
)

// Store is the persistence contract used by the dispatch engine.
type Store interface {
	// Insert admits e at revision 1 unless e.ID already exists. The stored
	// entry is returned either way; inserted reports which happened.
	Insert(ctx context.Context, e *Entry) (stored *Entry, inserted bool, err error)
	Get(ctx context.Context, id op.ID) (*Entry, error)
	// CompareAndSwap stores e if expected is the current revision.
	CompareAndSwap(ctx context.Context, e *Entry, expected uint64) (*Entry, error)
	// ListByState returns entries in state in creation order. Entries whose
	// NotBefore is after now are skipped; a zero now disables that filter.
	// limit <= 0 means no limit.
	ListByState(ctx context.Context, state State, now time.Time, limit int) ([]*Entry, error)
	ListTagged(ctx context.Context) ([]*Entry, error)
	// Children returns the entries expanded from parent in position order.
	Children(ctx context.Context, parent op.ID) ([]*Entry, error)
	Depth(ctx context.Context) (map[State]int, error)
	// PruneTerminal deletes settled entries last updated before cutoff whose
	// parent is gone or settled too.
	PruneTerminal(ctx context.Context, cutoff time.Time) (int, error)
	Close() error
}

// timeFormat sorts lexically, which ORDER BY and NotBefore comparisons rely on.
const timeFormat = "2006-01-02T15:04:05.000000000Z"

func formatTime(t time.Time) string {
	return t.UTC().Format(timeFormat)
}

func parseTime(s string) time.Time {
	t, err := time.Parse(timeFormat, s)
	if err != nil {
		return time.Time{}
	}
	return t
}

func prepareInsert(e *Entry, now time.Time) *Entry {
	out := e.Clone()
	out.Revision = 1
	if out.State == "" {
		out.State = StateFresh
	}
	if out.CreatedAt.IsZero() {
		out.CreatedAt = now
	}
	out.UpdatedAt = now
	return out
}

package op

import (
	"errors"
	"sort"
	"sync"
)

var (
	// ErrStaleRevision is returned when a mutation carries a revision that is no longer current.
	ErrStaleRevision = errors.New("stale revision")
	// ErrNotFound is returned for unknown ids.
	ErrNotFound = errors.New("operation not found")
)

// Versioned is a value stored in an Arena together with its identity and revision.
type Versioned[T any] struct {
	ID       ID
	Revision uint64
	Value    T

	seq uint64
}

// Arena holds values keyed by stable id. Every mutation goes through a
// compare-and-swap on the revision; children reference each other by id.
type Arena[T any] struct {
	mu      sync.RWMutex
	nodes   map[ID]*Versioned[T]
	nextSeq uint64
}

func NewArena[T any]() *Arena[T] {
	return &Arena[T]{nodes: make(map[ID]*Versioned[T])}
}

// Insert admits a value at revision 1. It returns false if id already exists.
func (a *Arena[T]) Insert(id ID, v T) (Versioned[T], bool) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if cur, ok := a.nodes[id]; ok {
		return *cur, false
	}
	a.nextSeq++
	n := &Versioned[T]{ID: id, Revision: 1, Value: v, seq: a.nextSeq}
	a.nodes[id] = n
	return *n, true
}

func (a *Arena[T]) Get(id ID) (Versioned[T], bool) {
	a.mu.RLock()
	defer a.mu.RUnlock()

	n, ok := a.nodes[id]
	if !ok {
		return Versioned[T]{}, false
	}
	return *n, true
}

// Replace swaps the value of id when expected is the current revision and
// bumps the revision. A stale expected revision leaves the arena unchanged.
func (a *Arena[T]) Replace(id ID, v T, expected uint64) (Versioned[T], error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	n, ok := a.nodes[id]
	if !ok {
		return Versioned[T]{}, ErrNotFound
	}
	if n.Revision != expected {
		return *n, ErrStaleRevision
	}
	n.Value = v
	n.Revision++
	return *n, nil
}

func (a *Arena[T]) Delete(id ID) bool {
	a.mu.Lock()
	defer a.mu.Unlock()

	if _, ok := a.nodes[id]; !ok {
		return false
	}
	delete(a.nodes, id)
	return true
}

// Range calls fn for each value in insertion order until fn returns false.
func (a *Arena[T]) Range(fn func(Versioned[T]) bool) {
	a.mu.RLock()
	snapshot := make([]Versioned[T], 0, len(a.nodes))
	for _, n := range a.nodes {
		snapshot = append(snapshot, *n)
	}
	a.mu.RUnlock()

	sort.Slice(snapshot, func(i, j int) bool { return snapshot[i].seq < snapshot[j].seq })
	for _, n := range snapshot {
		if !fn(n) {
			return
		}
	}
}

func (a *Arena[T]) Len() int {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return len(a.nodes)
}

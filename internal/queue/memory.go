package queue

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/sudosu4pp/multi-chain-zk-back/internal/op"
)

// Memory is a Store kept in an op.Arena. State is lost on restart.
type Memory struct {
	mu    sync.Mutex // serializes writers so the tag index stays consistent
	arena *op.Arena[Entry]
	tags  map[string]op.ID
	now   func() time.Time
}

func NewMemory() *Memory {
	return &Memory{arena: op.NewArena[Entry](), tags: make(map[string]op.ID), now: time.Now}
}

func (m *Memory) Insert(_ context.Context, e *Entry) (*Entry, bool, error) {
	if e.ID == "" {
		return nil, false, fmt.Errorf("entry id is empty")
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	if cur, ok := m.arena.Get(e.ID); ok {
		return materialize(cur), false, nil
	}
	in := prepareInsert(e, m.now().UTC())
	if in.Tag != "" {
		if holder, ok := m.tags[in.Tag]; ok {
			return nil, false, fmt.Errorf("insert entry %s: tag %s held by %s", in.ID, in.Tag, holder)
		}
	}
	v, _ := m.arena.Insert(in.ID, *in)
	if in.Tag != "" {
		m.tags[in.Tag] = in.ID
	}
	return materialize(v), true, nil
}

func (m *Memory) Get(_ context.Context, id op.ID) (*Entry, error) {
	v, ok := m.arena.Get(id)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return materialize(v), nil
}

func (m *Memory) CompareAndSwap(_ context.Context, e *Entry, expected uint64) (*Entry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	cur, ok := m.arena.Get(e.ID)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, e.ID)
	}
	if e.Tag != "" && e.Tag != cur.Value.Tag {
		if holder, ok := m.tags[e.Tag]; ok && holder != e.ID {
			return nil, fmt.Errorf("swap entry %s: tag %s held by %s", e.ID, e.Tag, holder)
		}
	}

	next := e.Clone()
	next.CreatedAt = cur.Value.CreatedAt
	next.UpdatedAt = m.now().UTC()
	v, err := m.arena.Replace(e.ID, *next, expected)
	if errors.Is(err, op.ErrStaleRevision) {
		return nil, fmt.Errorf("%w: %s at %d, expected %d", op.ErrStaleRevision, e.ID, v.Revision, expected)
	}
	if err != nil {
		return nil, fmt.Errorf("swap entry %s: %w", e.ID, err)
	}

	if old := cur.Value.Tag; old != "" && old != next.Tag {
		delete(m.tags, old)
	}
	if next.Tag != "" {
		m.tags[next.Tag] = next.ID
	}
	return materialize(v), nil
}

func (m *Memory) ListByState(_ context.Context, state State, now time.Time, limit int) ([]*Entry, error) {
	var out []*Entry
	m.arena.Range(func(v op.Versioned[Entry]) bool {
		if v.Value.State == state && v.Value.Eligible(now) {
			out = append(out, materialize(v))
		}
		return limit <= 0 || len(out) < limit
	})
	return out, nil
}

func (m *Memory) ListTagged(_ context.Context) ([]*Entry, error) {
	var out []*Entry
	m.arena.Range(func(v op.Versioned[Entry]) bool {
		if v.Value.Tag != "" {
			out = append(out, materialize(v))
		}
		return true
	})
	return out, nil
}

func (m *Memory) Children(_ context.Context, parent op.ID) ([]*Entry, error) {
	var out []*Entry
	m.arena.Range(func(v op.Versioned[Entry]) bool {
		if v.Value.ParentID == parent {
			out = append(out, materialize(v))
		}
		return true
	})
	sort.SliceStable(out, func(i, j int) bool { return out[i].Position < out[j].Position })
	return out, nil
}

func (m *Memory) Depth(_ context.Context) (map[State]int, error) {
	out := make(map[State]int)
	m.arena.Range(func(v op.Versioned[Entry]) bool {
		out[v.Value.State]++
		return true
	})
	return out, nil
}

func (m *Memory) PruneTerminal(_ context.Context, cutoff time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	live := make(map[op.ID]bool)
	var candidates []Entry
	m.arena.Range(func(v op.Versioned[Entry]) bool {
		if !v.Value.State.Terminal() {
			live[v.ID] = true
		} else if v.Value.UpdatedAt.Before(cutoff) {
			candidates = append(candidates, v.Value)
		}
		return true
	})

	n := 0
	for _, e := range candidates {
		if e.ParentID != "" && live[e.ParentID] {
			continue
		}
		if m.arena.Delete(e.ID) {
			if e.Tag != "" && m.tags[e.Tag] == e.ID {
				delete(m.tags, e.Tag)
			}
			n++
		}
	}
	return n, nil
}

func (m *Memory) Close() error { return nil }

func materialize(v op.Versioned[Entry]) *Entry {
	e := v.Value
	e.Revision = v.Revision
	return &e
}

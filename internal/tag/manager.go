package tag

import (
	"fmt"
	"sync"

	"github.com/sudosu4pp/multi-chain-zk-back/internal/op"
)

// ConflictError reports which binding blocked a claim.
type ConflictError struct {
	Tag    Tag
	ID     op.ID
	Holder op.ID
	Bound  Tag
}

func (e *ConflictError) Error() string {
	if e.Holder != "" {
		return fmt.Sprintf("tag %s is bound to %s, cannot bind %s", e.Tag, e.Holder, e.ID)
	}
	return fmt.Sprintf("operation %s is claimed as %s, cannot claim as %s", e.ID, e.Bound, e.Tag)
}

func (e *ConflictError) Unwrap() error { return ErrConflict }

// Binding is one persisted tag/operation pair.
type Binding struct {
	Tag Tag
	ID  op.ID
}

// Manager owns the tag to operation mapping. Each tag binds at most one
// operation and each operation carries at most one tag.
type Manager struct {
	mu    sync.Mutex
	byTag map[string]op.ID
	byOp  map[op.ID]Tag
}

func NewManager() *Manager {
	return &Manager{
		byTag: make(map[string]op.ID),
		byOp:  make(map[op.ID]Tag),
	}
}

// Claim binds t to id.
//
// Binding the same tag to the same id again is a no-op success. A plugin may
// re-key an operation it already owns; the previous tag is released. Any other
// collision fails with a *ConflictError.
func (m *Manager) Claim(t Tag, id op.ID) error {
	if _, err := New(t.Plugin, t.Key); err != nil {
		return err
	}
	if id == "" {
		return fmt.Errorf("%w: operation id is empty", ErrInvalid)
	}

	key := t.String()

	m.mu.Lock()
	defer m.mu.Unlock()

	if holder, ok := m.byTag[key]; ok {
		if holder == id {
			return nil
		}
		return &ConflictError{Tag: t, ID: id, Holder: holder}
	}

	if bound, ok := m.byOp[id]; ok {
		if bound.Plugin != t.Plugin {
			return &ConflictError{Tag: t, ID: id, Bound: bound}
		}
		delete(m.byTag, bound.String())
	}

	m.byTag[key] = id
	m.byOp[id] = t
	return nil
}

// Release removes the binding for t. Releasing an unbound tag is a no-op.
func (m *Manager) Release(t Tag) {
	key := t.String()

	m.mu.Lock()
	defer m.mu.Unlock()

	id, ok := m.byTag[key]
	if !ok {
		return
	}
	delete(m.byTag, key)
	if bound, ok := m.byOp[id]; ok && bound == t {
		delete(m.byOp, id)
	}
}

// ReleaseOp removes whatever tag id carries and returns it.
func (m *Manager) ReleaseOp(id op.ID) (Tag, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	t, ok := m.byOp[id]
	if !ok {
		return Tag{}, false
	}
	delete(m.byOp, id)
	delete(m.byTag, t.String())
	return t, true
}

// OwnerOf returns the plugin namespace of a rendered tag.
func (m *Manager) OwnerOf(s string) (string, error) {
	t, err := Parse(s)
	if err != nil {
		return "", err
	}
	return t.Plugin, nil
}

// Resolve returns the tag bound to id. Untagged operations are fresh.
func (m *Manager) Resolve(id op.ID) (Tag, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	t, ok := m.byOp[id]
	return t, ok
}

// Holder returns the operation bound to t.
func (m *Manager) Holder(t Tag) (op.ID, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	id, ok := m.byTag[t.String()]
	return id, ok
}

// Restore replaces all bindings, used after a restart.
func (m *Manager) Restore(bindings []Binding) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	byTag := make(map[string]op.ID, len(bindings))
	byOp := make(map[op.ID]Tag, len(bindings))
	for _, b := range bindings {
		key := b.Tag.String()
		if holder, ok := byTag[key]; ok && holder != b.ID {
			return &ConflictError{Tag: b.Tag, ID: b.ID, Holder: holder}
		}
		byTag[key] = b.ID
		byOp[b.ID] = b.Tag
	}
	m.byTag = byTag
	m.byOp = byOp
	return nil
}

func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.byTag)
}

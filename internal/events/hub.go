// Package events fans out engine lifecycle notifications to API subscribers.
package events

import (
	"encoding/json"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// Event types published by the engine.
const (
	TypeOpEnqueued        = "op.enqueued"
	TypeOpReplaced        = "op.replaced"
	TypeOpSucceeded       = "op.succeeded"
	TypeOpFailed          = "op.failed"
	TypePluginMisbehaving = "plugin.misbehaving"
	TypePluginQuarantined = "plugin.quarantined"
	TypePluginRemoved     = "plugin.removed"
	TypeDispatchTick      = "dispatch.tick"
)

const subscriberBuffer = 128

type Event struct {
	ID   int64     `json:"id"`
	Type string    `json:"type"`
	At   time.Time `json:"at"`
	Data []byte    `json:"data"` // JSON payload
}

// Publisher is the write side of Hub.
type Publisher interface {
	Publish(eventType string, data any) Event
}

// Filter selects events by type prefix ("op." matches every op event).
// An empty Filter matches everything.
type Filter []string

// ParseFilter splits a comma-separated prefix list.
func ParseFilter(s string) Filter {
	var f Filter
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			f = append(f, p)
		}
	}
	return f
}

func (f Filter) Match(eventType string) bool {
	if len(f) == 0 {
		return true
	}
	for _, p := range f {
		if strings.HasPrefix(eventType, p) {
			return true
		}
	}
	return false
}

type subscriber struct {
	ch     chan Event
	filter Filter
}

// Hub is an in-memory pub/sub. The last capacity events are retained so a
// reconnecting client can resume from its Last-Event-ID.
type Hub struct {
	lastID atomic.Int64

	mu      sync.Mutex
	backlog []Event
	head    int // index of the oldest retained event once backlog is full
	subs    map[int]subscriber
	subSeq  int
}

func NewHub(capacity int) *Hub {
	if capacity <= 0 {
		capacity = 100
	}
	return &Hub{
		backlog: make([]Event, 0, capacity),
		subs:    make(map[int]subscriber),
	}
}

// Publish stamps data with the next id and delivers it. Subscribers whose
// buffer is full miss the event; it remains available from the backlog.
func (h *Hub) Publish(eventType string, data any) Event {
	ev := Event{
		ID:   h.lastID.Add(1),
		Type: eventType,
		At:   time.Now().UTC(),
		Data: encode(data),
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	h.retain(ev)
	for _, sub := range h.subs {
		if !sub.filter.Match(eventType) {
			continue
		}
		select {
		case sub.ch <- ev:
		default:
		}
	}
	return ev
}

func encode(data any) []byte {
	if data == nil {
		return []byte("{}")
	}
	b, err := json.Marshal(data)
	if err != nil {
		return []byte("{}")
	}
	return b
}

// Subscribe registers a live feed of events matching filter. The returned
// cancel func closes the channel and is safe to call more than once.
func (h *Hub) Subscribe(filter Filter) (<-chan Event, func()) {
	h.mu.Lock()
	defer h.mu.Unlock()

	id := h.subSeq
	h.subSeq++
	sub := subscriber{ch: make(chan Event, subscriberBuffer), filter: filter}
	h.subs[id] = sub

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			h.mu.Lock()
			delete(h.subs, id)
			close(sub.ch)
			h.mu.Unlock()
		})
	}
	return sub.ch, cancel
}

// SnapshotSince returns retained events after lastID that match filter,
// oldest first.
func (h *Hub) SnapshotSince(lastID int64, filter Filter) []Event {
	h.mu.Lock()
	defer h.mu.Unlock()

	n := len(h.backlog)
	out := make([]Event, 0, n)
	for i := 0; i < n; i++ {
		ev := h.backlog[(h.head+i)%n]
		if ev.ID > lastID && filter.Match(ev.Type) {
			out = append(out, ev)
		}
	}
	return out
}

// Subscribers returns the number of live subscriptions.
func (h *Hub) Subscribers() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}

func (h *Hub) retain(ev Event) {
	if len(h.backlog) < cap(h.backlog) {
		h.backlog = append(h.backlog, ev)
		return
	}
	h.backlog[h.head] = ev
	h.head = (h.head + 1) % len(h.backlog)
}

// Discard is a Publisher that drops every event.
type Discard struct{}

func (Discard) Publish(eventType string, data any) Event {
	return Event{Type: eventType}
}

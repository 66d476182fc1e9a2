// Package events is the in-process pub/sub that feeds the SSE stream and the
// terminal monitor with script lifecycle changes.
package events

import (
	"encoding/json"
	"sync"
	"sync/atomic"
	"time"
)

// Event types published by the orchestrator.
const (
	ScriptQueued    = "script.queued"
	ScriptStarted   = "script.started"
	ScriptOutput    = "script.output"
	ScriptCompleted = "script.completed"
	ScriptFailed    = "script.failed"
	ScriptTimedOut  = "script.timed_out"
	ScriptCanceled  = "script.canceled"
	ScriptReset     = "script.reset"
	ScriptDequeued  = "script.dequeued"
	ScriptLaunched  = "script.launched"
	ScriptsRescan   = "scripts.rescanned"
	SettingsSaved   = "settings.saved"
)

type Event struct {
	ID   int64           `json:"id"`
	Type string          `json:"type"`
	At   time.Time       `json:"at"`
	Data json.RawMessage `json:"data"`
}

// Decode unmarshals the payload into v.
func (e Event) Decode(v any) error {
	return json.Unmarshal(e.Data, v)
}

// Hub is an in-memory pub/sub with a small ring buffer for late clients.
type Hub struct {
	nextID atomic.Int64

	mu    sync.Mutex
	ring  []Event
	start int
	size  int

	subs      map[int]subscriber
	nextSubID int
}

type subscriber struct {
	ch    chan Event
	types map[string]struct{} // nil = all
}

func NewHub(capacity int) *Hub {
	if capacity <= 0 {
		capacity = 256
	}
	return &Hub{
		ring: make([]Event, capacity),
		subs: make(map[int]subscriber),
	}
}

// Publish records an event and fans it out. Slow subscribers drop events
// rather than block the publisher; they can catch up with SnapshotSince.
func (h *Hub) Publish(eventType string, data any) Event {
	id := h.nextID.Add(1)

	payload := json.RawMessage("{}")
	if data != nil {
		if b, err := json.Marshal(data); err == nil {
			payload = b
		}
	}

	ev := Event{
		ID:   id,
		Type: eventType,
		At:   time.Now().UTC(),
		Data: payload,
	}

	h.mu.Lock()
	h.pushLocked(ev)
	for _, sub := range h.subs {
		if sub.types != nil {
			if _, ok := sub.types[eventType]; !ok {
				continue
			}
		}
		select {
		case sub.ch <- ev:
		default:
		}
	}
	h.mu.Unlock()
	return ev
}

// Subscribe returns a channel of future events, optionally limited to the
// given types, and a cancel func that closes it.
func (h *Hub) Subscribe(types ...string) (<-chan Event, func()) {
	h.mu.Lock()
	defer h.mu.Unlock()

	id := h.nextSubID
	h.nextSubID++
	sub := subscriber{ch: make(chan Event, 128)}
	if len(types) > 0 {
		sub.types = make(map[string]struct{}, len(types))
		for _, t := range types {
			sub.types[t] = struct{}{}
		}
	}
	h.subs[id] = sub

	cancel := func() {
		h.mu.Lock()
		if s, ok := h.subs[id]; ok {
			delete(h.subs, id)
			close(s.ch)
		}
		h.mu.Unlock()
	}

	return sub.ch, cancel
}

// Subscribers is the number of live subscriptions.
func (h *Hub) Subscribers() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}

// SnapshotSince returns buffered events with ID > lastID, oldest-first.
// If lastID is 0, the full ring buffer snapshot is returned.
func (h *Hub) SnapshotSince(lastID int64) []Event {
	h.mu.Lock()
	defer h.mu.Unlock()

	out := make([]Event, 0, h.size)
	for i := 0; i < h.size; i++ {
		ev := h.ring[(h.start+i)%len(h.ring)]
		if lastID == 0 || ev.ID > lastID {
			out = append(out, ev)
		}
	}
	return out
}

func (h *Hub) pushLocked(ev Event) {
	capacity := len(h.ring)
	if h.size < capacity {
		h.ring[(h.start+h.size)%capacity] = ev
		h.size++
		return
	}

	// Overwrite oldest.
	h.ring[h.start] = ev
	h.start = (h.start + 1) % capacity
}

// Package events provides the in-memory event stream shared by the
// scheduler, the supervisor and the API.
package events

import (
	"encoding/json"
	"sync"
	"time"
)

// Event types published by the orchestrator.
const (
	TypeModuleLaunched   = "module.launched"
	TypeModuleExited     = "module.exited"
	TypeModuleOutput     = "module.output"
	TypeModuleUnresolved = "module.unresolved"
	TypeSchedulerTick    = "scheduler.tick"
	TypeSchedulerSkipped = "scheduler.skipped"
)

const (
	defaultHistory  = 100
	subscriberQueue = 128
)

// Event is one published occurrence. Data is always a JSON value.
type Event struct {
	ID   int64           `json:"id"`
	Type string          `json:"type"`
	At   time.Time       `json:"at"`
	Data json.RawMessage `json:"data"`
}

// Publisher is the producer side of a Hub.
type Publisher interface {
	Publish(eventType string, data any)
}

type subscription struct {
	ch   chan Event
	once sync.Once
}

func (s *subscription) close() { s.once.Do(func() { close(s.ch) }) }

// Hub fans events out to live subscribers and keeps the most recent ones so
// a client that connects late can catch up with SnapshotSince.
//
// IDs are assigned under the lock, so history is always in ID order.
type Hub struct {
	mu      sync.Mutex
	lastID  int64
	limit   int
	history []Event
	subs    map[*subscription]struct{}
}

// NewHub returns a hub that retains up to history events.
func NewHub(history int) *Hub {
	if history <= 0 {
		history = defaultHistory
	}
	return &Hub{
		limit:   history,
		history: make([]Event, 0, history),
		subs:    make(map[*subscription]struct{}),
	}
}

// Publish records an event and offers it to every subscriber. A subscriber
// whose queue is full misses the event; producers never block.
func (h *Hub) Publish(eventType string, data any) {
	payload := encode(data)
	now := time.Now().UTC()

	h.mu.Lock()
	defer h.mu.Unlock()

	h.lastID++
	ev := Event{ID: h.lastID, Type: eventType, At: now, Data: payload}

	if len(h.history) == h.limit {
		copy(h.history, h.history[1:])
		h.history = h.history[:h.limit-1]
	}
	h.history = append(h.history, ev)

	for sub := range h.subs {
		select {
		case sub.ch <- ev:
		default:
		}
	}
}

// Subscribe registers a listener. The returned cancel func unregisters it and
// closes the channel; calling it more than once is safe.
func (h *Hub) Subscribe() (<-chan Event, func()) {
	sub := &subscription{ch: make(chan Event, subscriberQueue)}

	h.mu.Lock()
	h.subs[sub] = struct{}{}
	h.mu.Unlock()

	return sub.ch, func() {
		h.mu.Lock()
		delete(h.subs, sub)
		h.mu.Unlock()
		sub.close()
	}
}

// SnapshotSince returns retained events newer than lastID, oldest first.
// lastID 0 returns everything retained.
func (h *Hub) SnapshotSince(lastID int64) []Event {
	h.mu.Lock()
	defer h.mu.Unlock()

	out := make([]Event, 0, len(h.history))
	for _, ev := range h.history {
		if ev.ID > lastID {
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

func encode(data any) json.RawMessage {
	if data == nil {
		return json.RawMessage("{}")
	}
	b, err := json.Marshal(data)
	if err != nil {
		return json.RawMessage("{}")
	}
	return b
}

// Package broadcast fans task updates out to any number of live listeners.
// Delivery is best effort: a listener that is gone or too slow misses events,
// and the publisher never blocks or sees an error.
package broadcast

import (
	"sync"
	"sync/atomic"

	"github.com/sdejongh/fetchferry/pkg/models"
)

// EventTaskUpdate is the only event type published today
const EventTaskUpdate = "taskUpdate"

// Event is one task snapshot pushed to listeners
type Event struct {
	Type   string      `json:"type"`
	TaskID string      `json:"taskId"`
	Task   models.Task `json:"task"`
	// Seq increases with every published event, so a listener can drop stale snapshots
	Seq uint64 `json:"seq"`
}

// Notifier is what the task manager publishes to
type Notifier interface {
	Notify(taskID string, snapshot models.Task)
}

// Subscription is a live listener. Events arrive on C in publish order.
type Subscription struct {
	C       <-chan Event
	ch      chan Event
	hub     *Hub
	dropped atomic.Uint64
	once    sync.Once
}

// Dropped returns how many events were skipped because the listener was full
func (s *Subscription) Dropped() uint64 {
	return s.dropped.Load()
}

// Close detaches the listener; C is closed afterwards
func (s *Subscription) Close() {
	s.once.Do(func() {
		s.hub.remove(s)
	})
}

// Hub is an in-process pub/sub channel
type Hub struct {
	mu     sync.RWMutex
	subs   map[*Subscription]struct{}
	buffer int
	seq    atomic.Uint64
	closed bool
}

// NewHub creates a hub whose subscribers buffer up to buffer events
func NewHub(buffer int) *Hub {
	if buffer < 1 {
		buffer = 1
	}
	return &Hub{
		subs:   make(map[*Subscription]struct{}),
		buffer: buffer,
	}
}

// Subscribe attaches a new listener
func (h *Hub) Subscribe() *Subscription {
	ch := make(chan Event, h.buffer)
	sub := &Subscription{C: ch, ch: ch, hub: h}

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		close(ch)
		return sub
	}
	h.subs[sub] = struct{}{}
	return sub
}

// Notify publishes a task snapshot to every listener without blocking
func (h *Hub) Notify(taskID string, snapshot models.Task) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	ev := Event{
		Type:   EventTaskUpdate,
		TaskID: taskID,
		Task:   snapshot,
		Seq:    h.seq.Add(1),
	}
	for sub := range h.subs {
		select {
		case sub.ch <- ev:
		default:
			sub.dropped.Add(1)
		}
	}
}

// Len returns the number of live listeners
func (h *Hub) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}

// Close detaches every listener
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	h.closed = true
	for sub := range h.subs {
		delete(h.subs, sub)
		close(sub.ch)
	}
}

func (h *Hub) remove(sub *Subscription) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.subs[sub]; ok {
		delete(h.subs, sub)
		close(sub.ch)
	}
}

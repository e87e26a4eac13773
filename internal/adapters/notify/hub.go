// Package notify fans committed change events out to live subscribers.
package notify

import (
	"sync"

	"github.com/hylla/tryck/internal/domain"
)

// Hub is an in-memory pub/sub with a small ring buffer for late clients.
// Events arrive already committed to the ledger, so their ids are monotonic
// and a reconnecting client can resume from the last id it saw.
type Hub struct {
	mu    sync.Mutex
	ring  []domain.ChangeEvent
	start int
	size  int

	subs      map[int]chan domain.ChangeEvent
	nextSubID int
}

// NewHub constructs a hub retaining the most recent capacity events.
func NewHub(capacity int) *Hub {
	if capacity <= 0 {
		capacity = 1
	}
	return &Hub{
		ring: make([]domain.ChangeEvent, capacity),
		subs: make(map[int]chan domain.ChangeEvent),
	}
}

// Publish buffers the event and delivers it to every live subscriber.
func (h *Hub) Publish(event domain.ChangeEvent) {
	h.mu.Lock()
	h.pushLocked(event)
	for _, ch := range h.subs {
		// Don't let slow clients block producers.
		select {
		case ch <- event:
		default:
		}
	}
	h.mu.Unlock()
}

// Subscribe registers a live event channel. The returned cancel func
// unregisters and closes it; calling cancel twice is safe.
func (h *Hub) Subscribe() (<-chan domain.ChangeEvent, func()) {
	h.mu.Lock()
	defer h.mu.Unlock()

	id := h.nextSubID
	h.nextSubID++
	ch := make(chan domain.ChangeEvent, 32)
	h.subs[id] = ch

	cancel := func() {
		h.mu.Lock()
		if c, ok := h.subs[id]; ok {
			delete(h.subs, id)
			close(c)
		}
		h.mu.Unlock()
	}

	return ch, cancel
}

// ReplaySince returns buffered events with ID > lastID, oldest-first.
// A lastID of 0 returns the full buffer snapshot.
func (h *Hub) ReplaySince(lastID int64) []domain.ChangeEvent {
	h.mu.Lock()
	defer h.mu.Unlock()

	out := make([]domain.ChangeEvent, 0, h.size)
	for i := 0; i < h.size; i++ {
		ev := h.ring[(h.start+i)%len(h.ring)]
		if lastID == 0 || ev.ID > lastID {
			out = append(out, ev)
		}
	}
	return out
}

func (h *Hub) pushLocked(ev domain.ChangeEvent) {
	capacity := len(h.ring)
	if h.size < capacity {
		idx := (h.start + h.size) % capacity
		h.ring[idx] = ev
		h.size++
		return
	}

	// Overwrite oldest.
	h.ring[h.start] = ev
	h.start = (h.start + 1) % capacity
}

package sseresume

import "sync"

// DefaultHistorySize is the history window size used when History is
// created with a non-positive size.
const DefaultHistorySize = 500

// History assigns sequence numbers to outgoing events and retains a bounded
// window of recent events for replaying to reconnecting clients. A single
// History instance is expected to be shared by all Streamer instances of one
// process, admission order across concurrently served streams establishes
// the global sequence order.
//
// All methods are safe for concurrent use. The sequence counter and the
// event window are guarded by a single mutex because they must be updated
// atomically together.
type History struct {
	mu     sync.Mutex
	nextID uint64
	size   int
	events map[uint64]*Event
	order  []uint64
}

// NewHistory creates an empty event history retaining up to size most
// recent events. Passing a non-positive size selects DefaultHistorySize.
func NewHistory(size int) *History {
	if size <= 0 {
		size = DefaultHistorySize
	}
	return &History{
		nextID: 1,
		size:   size,
		events: make(map[uint64]*Event),
	}
}

// Admit assigns the next sequence number to the given event type and
// payload, stores the resulting event in the history window and returns it.
// If the window would exceed its size limit the event with the smallest
// sequence number is evicted first. Admit never fails.
func (h *History) Admit(event string, data interface{}) *Event {
	h.mu.Lock()
	defer h.mu.Unlock()

	e := &Event{
		ID:    h.nextID,
		Event: event,
		Data:  data,
	}
	h.nextID++

	h.events[e.ID] = e
	h.order = append(h.order, e.ID)
	if len(h.order) > h.size {
		delete(h.events, h.order[0])
		h.order = h.order[1:]
	}
	return e
}

// MissedSince returns all retained events with sequence number strictly
// greater than lastSeen, in ascending order. Events that were already
// evicted from the window are silently omitted, the protocol has no way of
// signaling history loss to the client. If lastSeen is not less than the
// current counter the result is empty.
func (h *History) MissedSince(lastSeen uint64) []*Event {
	h.mu.Lock()
	defer h.mu.Unlock()

	if lastSeen >= h.nextID-1 {
		return nil
	}

	var missed []*Event
	for _, id := range h.order {
		if id > lastSeen {
			missed = append(missed, h.events[id])
		}
	}
	return missed
}

// LastID returns the most recently assigned sequence number, or zero if no
// event was admitted yet.
func (h *History) LastID() uint64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.nextID - 1
}

package app

import (
	"log/slog"
	"sync"

	"live-quiz-service/internal/domain"
)

// Hub fans room events out to per-connection outboxes. Each outbox is a
// FIFO channel drained by exactly one transport writer, so events
// published in order for a room are observed in that order by every
// connection. A connection whose outbox is full is dropped rather than
// allowed to stall the room.
type Hub struct {
	mu     sync.Mutex
	rooms  map[string]map[string]chan domain.Event
	size   int
	logger *slog.Logger
}

func NewHub(outboxSize int, logger *slog.Logger) *Hub {
	if outboxSize <= 0 {
		outboxSize = 64
	}
	return &Hub{
		rooms:  make(map[string]map[string]chan domain.Event),
		size:   outboxSize,
		logger: logger,
	}
}

// Attach creates the outbox for connID in room code. An existing outbox
// for the same connection is closed first.
func (h *Hub) Attach(code, connID string) <-chan domain.Event {
	h.mu.Lock()
	defer h.mu.Unlock()

	conns, ok := h.rooms[code]
	if !ok {
		conns = make(map[string]chan domain.Event)
		h.rooms[code] = conns
	}
	if old, ok := conns[connID]; ok {
		close(old)
	}
	ch := make(chan domain.Event, h.size)
	conns[connID] = ch
	return ch
}

// Detach closes and removes a connection's outbox.
func (h *Hub) Detach(code, connID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.detachLocked(code, connID)
}

func (h *Hub) detachLocked(code, connID string) {
	conns, ok := h.rooms[code]
	if !ok {
		return
	}
	if ch, ok := conns[connID]; ok {
		close(ch)
		delete(conns, connID)
	}
	if len(conns) == 0 {
		delete(h.rooms, code)
	}
}

// Publish delivers ev to every live connection of the room and returns
// how many outboxes accepted it.
func (h *Hub) Publish(code string, ev domain.Event) int {
	h.mu.Lock()
	defer h.mu.Unlock()

	delivered := 0
	for connID, ch := range h.rooms[code] {
		if h.offerLocked(code, connID, ch, ev) {
			delivered++
		}
	}
	return delivered
}

// Send delivers ev to a single connection.
func (h *Hub) Send(code, connID string, ev domain.Event) bool {
	h.mu.Lock()
	defer h.mu.Unlock()

	ch, ok := h.rooms[code][connID]
	if !ok {
		return false
	}
	return h.offerLocked(code, connID, ch, ev)
}

func (h *Hub) offerLocked(code, connID string, ch chan domain.Event, ev domain.Event) bool {
	select {
	case ch <- ev:
		return true
	default:
		h.logger.Warn("dropping slow connection", "room", code, "conn", connID, "event", ev.Type)
		h.detachLocked(code, connID)
		return false
	}
}

// CloseRoom sends a terminal event to every connection of the room and
// closes their outboxes.
func (h *Hub) CloseRoom(code string, ev domain.Event) {
	h.mu.Lock()
	defer h.mu.Unlock()

	for connID, ch := range h.rooms[code] {
		select {
		case ch <- ev:
		default:
			h.logger.Warn("room closed notice not delivered", "room", code, "conn", connID)
		}
		close(ch)
	}
	delete(h.rooms, code)
}

// Connections returns the number of live outboxes for a room.
func (h *Hub) Connections(code string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.rooms[code])
}

package ws

import (
	"sync"

	"quiz-room-service/internal/game"
)

// Hub tracks which connections belong to which room and fans events out to
// them. It implements game.Broadcaster.
type Hub struct {
	mu    sync.RWMutex
	rooms map[string]map[*client]struct{}
}

func NewHub() *Hub {
	return &Hub{rooms: make(map[string]map[*client]struct{})}
}

func (h *Hub) add(code string, c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	clients, ok := h.rooms[code]
	if !ok {
		clients = make(map[*client]struct{})
		h.rooms[code] = clients
	}
	clients[c] = struct{}{}
}

func (h *Hub) remove(code string, c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	clients, ok := h.rooms[code]
	if !ok {
		return
	}
	delete(clients, c)
	if len(clients) == 0 {
		delete(h.rooms, code)
	}
}

// Broadcast delivers an event to every connection in a room. Slow clients
// have their oldest queued event dropped rather than blocking the room.
func (h *Hub) Broadcast(code string, event game.Event) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.rooms[code] {
		c.enqueue(event)
	}
}

func (h *Hub) broadcastExcept(code string, skip *client, event game.Event) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.rooms[code] {
		if c == skip {
			continue
		}
		c.enqueue(event)
	}
}

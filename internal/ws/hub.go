package ws

import (
	"sync"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// SendFunc delivers one serialized payload to a subscriber. A non-nil error
// marks the subscriber dead and removes it from its room.
type SendFunc func(payload []byte) error

// Client is one live subscriber handle. A client belongs to at most one room.
type Client struct {
	ID   uuid.UUID
	mu   sync.Mutex
	send SendFunc
}

func NewClient(send SendFunc) *Client {
	return &Client{
		ID:   uuid.New(),
		send: send,
	}
}

// Send serializes concurrent deliveries to the same client; the kline path
// and the timer path publish from different goroutines.
func (c *Client) Send(payload []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.send(payload)
}

// Hub maintains room membership and fans serialized payloads out to every
// subscriber of a room. Delivery is best effort and sequential per room.
type Hub struct {
	mu     sync.RWMutex
	rooms  map[string]map[*Client]struct{}
	byID   map[*Client]string
	logger *logrus.Logger
}

func NewHub(logger *logrus.Logger) *Hub {
	return &Hub{
		rooms:  make(map[string]map[*Client]struct{}),
		byID:   make(map[*Client]string),
		logger: logger,
	}
}

func (h *Hub) Subscribe(c *Client, room string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if prev, ok := h.byID[c]; ok {
		h.removeLocked(c, prev)
	}
	if h.rooms[room] == nil {
		h.rooms[room] = make(map[*Client]struct{})
	}
	h.rooms[room][c] = struct{}{}
	h.byID[c] = room

	h.logger.WithFields(logrus.Fields{
		"client_id": c.ID.String(),
		"room":      room,
	}).Debug("Client subscribed")
}

func (h *Hub) Unsubscribe(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	room, ok := h.byID[c]
	if !ok {
		return
	}
	h.removeLocked(c, room)

	h.logger.WithFields(logrus.Fields{
		"client_id": c.ID.String(),
		"room":      room,
	}).Debug("Client unsubscribed")
}

func (h *Hub) removeLocked(c *Client, room string) {
	delete(h.byID, c)
	if set, ok := h.rooms[room]; ok {
		delete(set, c)
		if len(set) == 0 {
			delete(h.rooms, room)
		}
	}
}

// Publish delivers payload to every current subscriber of room. The
// membership set is snapshotted under the read lock, then sends happen
// outside it, so concurrent subscribe/unsubscribe never races an in-flight
// broadcast. A failed delivery removes that subscriber and delivery to the
// rest continues.
func (h *Hub) Publish(room string, payload []byte) {
	h.mu.RLock()
	set := h.rooms[room]
	clients := make([]*Client, 0, len(set))
	for c := range set {
		clients = append(clients, c)
	}
	h.mu.RUnlock()

	for _, c := range clients {
		if err := c.Send(payload); err != nil {
			h.logger.WithFields(logrus.Fields{
				"client_id": c.ID.String(),
				"room":      room,
				"error":     err.Error(),
			}).Warn("Failed to deliver payload, dropping subscriber")
			h.Unsubscribe(c)
		}
	}
}

// Rooms reports current room names and subscriber counts.
func (h *Hub) Rooms() map[string]int {
	h.mu.RLock()
	defer h.mu.RUnlock()

	counts := make(map[string]int, len(h.rooms))
	for room, set := range h.rooms {
		counts[room] = len(set)
	}
	return counts
}

// Package stream fans accepted points out to local websocket viewers.
package stream

import (
	"encoding/json"
	"sync"

	"fieldtrack-agent/internal/logger"
	"fieldtrack-agent/internal/store"
	"fieldtrack-agent/internal/wire"

	"go.uber.org/zap"
)

// AllSessions subscribes to points of every session.
const AllSessions = "*"

const EventPoint = "point_accepted"

type Hub struct {
	clients map[string]map[*Client]struct{}
	mu      sync.RWMutex
	log     *zap.SugaredLogger
}

type Client struct {
	SessionID string
	Send      chan []byte
}

// Event is what viewers receive for every accepted point.
type Event struct {
	Event   string     `json:"event"`
	PointID int64      `json:"point_id"`
	Point   wire.Point `json:"point"`
}

func NewHub(log *zap.SugaredLogger) *Hub {
	return &Hub{
		clients: map[string]map[*Client]struct{}{},
		log:     logger.For(log, logger.ComponentStatus),
	}
}

func (h *Hub) Register(sessionID string) *Client {
	client := &Client{
		SessionID: sessionID,
		Send:      make(chan []byte, 64),
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.clients[sessionID] == nil {
		h.clients[sessionID] = map[*Client]struct{}{}
	}
	h.clients[sessionID][client] = struct{}{}
	return client
}

func (h *Hub) Unregister(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	sessionClients, ok := h.clients[client.SessionID]
	if !ok {
		return
	}
	if _, ok := sessionClients[client]; !ok {
		return
	}
	delete(sessionClients, client)
	if len(sessionClients) == 0 {
		delete(h.clients, client.SessionID)
	}
	close(client.Send)
}

// Viewers is the number of connected clients.
func (h *Hub) Viewers() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	n := 0
	for _, set := range h.clients {
		n += len(set)
	}
	return n
}

// Broadcast delivers payload to the session's viewers and to AllSessions
// viewers. Slow viewers miss messages instead of blocking the caller.
func (h *Hub) Broadcast(sessionID string, payload []byte) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	h.deliver(h.clients[sessionID], payload)
	if sessionID != AllSessions {
		h.deliver(h.clients[AllSessions], payload)
	}
}

func (h *Hub) deliver(clients map[*Client]struct{}, payload []byte) {
	for client := range clients {
		select {
		case client.Send <- payload:
		default:
			h.log.Debugw("viewer too slow, message dropped", "session_id", client.SessionID)
		}
	}
}

// PublishPoint encodes p once and broadcasts it under its session.
func (h *Hub) PublishPoint(p store.TrackPoint) {
	payload, err := json.Marshal(Event{Event: EventPoint, PointID: p.ID, Point: wire.FromTrackPoint(p)})
	if err != nil {
		h.log.Debugw("encode point event failed", "error", err)
		return
	}
	sessionID := ""
	if p.SessionID != nil {
		sessionID = *p.SessionID
	}
	h.Broadcast(sessionID, payload)
}

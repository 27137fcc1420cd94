package httpserver

import (
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/emberlab/devgate/internal/metrics"
	"github.com/emberlab/devgate/pkg/sdk"
)

// Hub tracks WebSocket connections by id. Sends never block: each
// client has a bounded outbound queue drained by its write pump.
type Hub struct {
	log     *zap.Logger
	metrics *metrics.Metrics

	mu      sync.RWMutex
	clients map[string]*client
}

type client struct {
	id   string
	send chan []byte
}

func NewHub(log *zap.Logger, m *metrics.Metrics) *Hub {
	return &Hub{log: log, metrics: m, clients: make(map[string]*client)}
}

func (h *Hub) register(c *client) {
	h.mu.Lock()
	h.clients[c.id] = c
	n := len(h.clients)
	h.mu.Unlock()
	h.metrics.ClientConnected()
	h.log.Debug("websocket client connected", zap.String("conn", c.id), zap.Int("clients", n))
}

// unregister removes c and closes its queue. Only the call that removes
// c from the map closes the channel.
func (h *Hub) unregister(c *client) {
	h.mu.Lock()
	_, existed := h.clients[c.id]
	if existed {
		delete(h.clients, c.id)
		close(c.send)
	}
	n := len(h.clients)
	h.mu.Unlock()
	if existed {
		h.metrics.ClientDisconnected()
		h.log.Debug("websocket client disconnected", zap.String("conn", c.id), zap.Int("clients", n))
	}
}

// Send queues a text frame for one connection and returns without
// waiting for it to be written.
func (h *Hub) Send(connID string, text []byte) error {
	h.mu.RLock()
	defer h.mu.RUnlock()
	c, ok := h.clients[connID]
	if !ok {
		return fmt.Errorf("%w: connection %s", sdk.ErrNotFound, connID)
	}
	select {
	case c.send <- text:
		return nil
	default:
		return fmt.Errorf("%w: outbound queue of %s is full", sdk.ErrResourceBusy, connID)
	}
}

// Broadcast queues a text frame for every connection. Clients with a
// full queue miss the frame.
func (h *Hub) Broadcast(text []byte) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for id, c := range h.clients {
		select {
		case c.send <- text:
		default:
			h.log.Warn("dropping broadcast for slow client", zap.String("conn", id))
		}
	}
}

func (h *Hub) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// CloseAll disconnects every client; write pumps send a close frame and
// exit.
func (h *Hub) CloseAll() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for id, c := range h.clients {
		close(c.send)
		delete(h.clients, id)
		h.metrics.ClientDisconnected()
	}
}

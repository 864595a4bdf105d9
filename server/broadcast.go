package server

import (
	"context"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/inkpulse/inkpulse/logger"
	"github.com/inkpulse/inkpulse/pulse/schedule"
)

// Hub fans run events out to websocket clients.
// Only the Run goroutine touches the client set and closes send channels.
type Hub struct {
	clients    map[*Client]bool
	register   chan *Client
	unregister chan *Client
	events     chan schedule.RunEvent
	done       chan struct{}

	clientCount atomic.Int32
	drops       atomic.Int64 // events not delivered because a queue was full
	logger      *zap.SugaredLogger
}

// NewHub creates a hub; call Run to start delivering events
func NewHub(log *zap.SugaredLogger) *Hub {
	if log == nil {
		log = logger.Logger
	}
	return &Hub{
		clients:    make(map[*Client]bool),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		events:     make(chan schedule.RunEvent, eventQueueSize),
		done:       make(chan struct{}),
		logger:     log.Named("hub"),
	}
}

// BroadcastRunEvent queues an event for delivery. It never blocks the dispatcher;
// events are dropped when the hub is stopped or its queue is full.
func (h *Hub) BroadcastRunEvent(ev schedule.RunEvent) {
	select {
	case h.events <- ev:
	default:
		h.drops.Add(1)
	}
}

// ClientCount returns the number of connected clients
func (h *Hub) ClientCount() int {
	return int(h.clientCount.Load())
}

// Drops returns the number of undelivered events
func (h *Hub) Drops() int64 {
	return h.drops.Load()
}

// Run is the hub event loop. It returns when ctx is cancelled, closing every client.
func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)

	for {
		select {
		case <-ctx.Done():
			for client := range h.clients {
				h.remove(client)
				client.conn.Close()
			}
			h.logger.Debugw("Hub stopping due to context cancellation")
			return

		case client := <-h.register:
			if len(h.clients) >= MaxClients {
				h.logger.Warnw("Max clients reached, rejecting connection",
					"client_id", client.id,
					"max_clients", MaxClients)
				close(client.send)
				continue
			}
			h.clients[client] = true
			h.clientCount.Store(int32(len(h.clients)))
			h.logger.Infow("Client connected",
				"client_id", client.id,
				logger.FieldWorkspaceID, client.workspaceID,
				"total_clients", len(h.clients))

		case client := <-h.unregister:
			if h.clients[client] {
				h.remove(client)
				h.logger.Infow("Client disconnected",
					"client_id", client.id,
					"total_clients", len(h.clients))
			}

		case ev := <-h.events:
			for client := range h.clients {
				if !client.wants(ev) {
					continue
				}
				select {
				case client.send <- ev:
				default:
					h.drops.Add(1)
					h.remove(client)
					h.logger.Warnw("Client send channel full, removing client",
						"client_id", client.id,
						"total_drops", h.drops.Load())
				}
			}
		}
	}
}

func (h *Hub) remove(client *Client) {
	delete(h.clients, client)
	close(client.send)
	h.clientCount.Store(int32(len(h.clients)))
}

// join registers a client unless the hub has stopped
func (h *Hub) join(client *Client) bool {
	select {
	case h.register <- client:
		return true
	case <-h.done:
		return false
	}
}

// leave unregisters a client; a no-op once the hub has stopped
func (h *Hub) leave(client *Client) {
	select {
	case h.unregister <- client:
	case <-h.done:
	}
}

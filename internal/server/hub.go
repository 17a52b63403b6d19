// Package server pushes read-only chart frames to websocket clients and
// translates their view intents (pan, zoom, fit, footprint toggle) into
// engine calls. The engine is polled for pending redraws on a ticker; the
// server never holds references into engine state, only marshaled frames.
package server

import (
	"context"

	"candleflow/logger"
)

// Hub fans broadcast frames out to the connected clients. All client-set
// mutations happen inside run, so no locks are needed.
type Hub struct {
	clients    map[*Client]bool
	register   chan *Client
	unregister chan *Client
	broadcast  chan []byte

	// latest is replayed to newly connected clients so they draw without
	// waiting for the next engine mutation.
	latest []byte

	// done closes when run returns so attach/detach never block on a hub
	// that has stopped draining its channels.
	done chan struct{}

	log *logger.Entry
}

func newHub() *Hub {
	return &Hub{
		clients:    make(map[*Client]bool),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		broadcast:  make(chan []byte, 16),
		done:       make(chan struct{}),
		log:        logger.GetLogger().WithComponent("ws-hub"),
	}
}

// attach registers a client, reporting false when the hub has shut down.
func (h *Hub) attach(c *Client) bool {
	select {
	case h.register <- c:
		return true
	case <-h.done:
		return false
	}
}

// detach removes a client; a no-op when the hub has already shut down and
// closed every registered client itself.
func (h *Hub) detach(c *Client) {
	select {
	case h.unregister <- c:
	case <-h.done:
	}
}

func (h *Hub) run(ctx context.Context) {
	defer close(h.done)
	for {
		select {
		case <-ctx.Done():
			for client := range h.clients {
				close(client.send)
				delete(h.clients, client)
			}
			return
		case client := <-h.register:
			h.clients[client] = true
			if h.latest != nil {
				select {
				case client.send <- h.latest:
				default:
				}
			}
			h.log.WithFields(logger.Fields{"clients": len(h.clients)}).Info("client connected")
		case client := <-h.unregister:
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				close(client.send)
				h.log.WithFields(logger.Fields{"clients": len(h.clients)}).Info("client disconnected")
			}
		case message := <-h.broadcast:
			h.latest = message
			for client := range h.clients {
				select {
				case client.send <- message:
				default:
					// Slow consumer: drop it rather than stall the fan-out.
					close(client.send)
					delete(h.clients, client)
					h.log.Warn("dropping slow client")
				}
			}
		}
	}
}

package main

import (
	"context"
	"net/http"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

// Hub fans job events out to connected browsers.
type Hub struct {
	clients    map[*websocket.Conn]bool
	broadcast  chan ViewEvent
	register   chan *websocket.Conn
	unregister chan *websocket.Conn
}

func newHub() *Hub {
	return &Hub{
		clients:    make(map[*websocket.Conn]bool),
		broadcast:  make(chan ViewEvent, 100),
		register:   make(chan *websocket.Conn),
		unregister: make(chan *websocket.Conn),
	}
}

// run owns the client set until ctx is done, then closes every connection.
func (h *Hub) run(ctx context.Context) {
	defer func() {
		for conn := range h.clients {
			_ = conn.Close()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return

		case conn := <-h.register:
			h.clients[conn] = true
			log.Info().Int("clients", len(h.clients)).Msg("Client connected")

		case conn := <-h.unregister:
			if _, ok := h.clients[conn]; ok {
				delete(h.clients, conn)
				_ = conn.Close()
				log.Info().Int("clients", len(h.clients)).Msg("Client disconnected")
			}

		case event := <-h.broadcast:
			for conn := range h.clients {
				if err := conn.WriteJSON(event); err != nil {
					log.Warn().Err(err).Msg("WebSocket write failed")
					delete(h.clients, conn)
					_ = conn.Close()
				}
			}
		}
	}
}

var upgrader = websocket.Upgrader{
	// local viewer, any origin
	CheckOrigin: func(*http.Request) bool { return true },
}

func wsHandler(ctx context.Context, hub *Hub) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			log.Warn().Err(err).Msg("WebSocket upgrade failed")
			return
		}
		select {
		case hub.register <- conn:
		case <-ctx.Done():
			_ = conn.Close()
			return
		}

		go func() {
			defer func() {
				select {
				case hub.unregister <- conn:
				case <-ctx.Done():
				}
			}()
			for {
				if _, _, err := conn.ReadMessage(); err != nil {
					return
				}
			}
		}()
	}
}

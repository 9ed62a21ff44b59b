package handlers

import (
	"log"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"github.com/Dosada05/tournament-engine/brackets"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		// TODO: restrict origins once the frontend domain is fixed.
		return true
	},
}

type WebSocketHandler struct {
	hub *brackets.Hub
}

func NewWebSocketHandler(hub *brackets.Hub) *WebSocketHandler {
	return &WebSocketHandler{hub: hub}
}

// ServeWs subscribes the client to live bracket updates for one tournament.
func (h *WebSocketHandler) ServeWs(w http.ResponseWriter, r *http.Request) {
	tournamentID := chi.URLParam(r, "tournamentID")
	if tournamentID == "" {
		http.Error(w, "Missing tournamentID", http.StatusBadRequest)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("Failed to upgrade connection for tournament %s: %v", tournamentID, err)
		return
	}

	client := &brackets.Client{
		Hub:  h.hub,
		Conn: conn,
		Send: make(chan []byte, 256),
		Room: tournamentID,
	}
	client.Hub.Register <- client

	go client.WritePump()
	go client.ReadPump()
}

// Package gateway authenticates inbound connections and upgrades them to
// WebSocket sessions. A bad token refuses the connection before any room
// state exists.
package gateway

import (
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"

	"github.com/sourcebazaar/realtime/internal/auth"
	"github.com/sourcebazaar/realtime/internal/hub"
	"github.com/sourcebazaar/realtime/internal/session"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// The browser gateway fronts this service; origin policy lives there.
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// Handler owns the HTTP surface of the engine.
type Handler struct {
	verifier *auth.Verifier
	router   *session.Router
	rooms    *hub.Hub
	log      *slog.Logger
}

func New(verifier *auth.Verifier, router *session.Router, rooms *hub.Hub, log *slog.Logger) *Handler {
	return &Handler{verifier: verifier, router: router, rooms: rooms, log: log}
}

// Routes configures the HTTP routes.
func (h *Handler) Routes() *mux.Router {
	r := mux.NewRouter()
	r.HandleFunc("/ws", h.ServeWS)
	r.HandleFunc("/health", h.HealthCheck).Methods("GET")
	r.HandleFunc("/stats/rooms/{id}", h.RoomStats).Methods("GET")
	return r
}

// ServeWS authenticates the handshake and hands the connection to the
// session router.
func (h *Handler) ServeWS(w http.ResponseWriter, r *http.Request) {
	identity, err := h.verifier.Verify(bearerToken(r))
	if err != nil {
		h.log.Warn("handshake refused", "remote", r.RemoteAddr, "error", err)
		http.Error(w, "invalid or missing token", http.StatusUnauthorized)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn("upgrade failed", "remote", r.RemoteAddr, "error", err)
		return
	}

	client := hub.NewClient(conn, identity)
	h.router.HandleConnect(client)

	go client.WritePump()
	go client.ReadPump(
		func(raw []byte) { h.router.HandleMessage(client, raw) },
		func() { h.router.HandleDisconnect(client) },
	)
}

// HealthCheck returns service health.
func (h *Handler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	fmt.Fprintf(w, `{"status":"healthy","service":"realtime-engine"}`)
}

// RoomStats returns the member count for a room.
func (h *Handler) RoomStats(w http.ResponseWriter, r *http.Request) {
	roomID := mux.Vars(r)["id"]
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	fmt.Fprintf(w, `{"roomId":%q,"members":%d}`, roomID, h.rooms.RoomSize(roomID))
}

// bearerToken pulls the handshake token from the query string (the browser
// WebSocket API cannot set headers) or an Authorization header.
func bearerToken(r *http.Request) string {
	if t := r.URL.Query().Get("token"); t != "" {
		return t
	}
	header := r.Header.Get("Authorization")
	if strings.HasPrefix(header, "Bearer ") {
		return strings.TrimPrefix(header, "Bearer ")
	}
	return ""
}

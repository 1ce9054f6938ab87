package broadcast

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"

	"github.com/gorilla/websocket"
)

// upgrader accepts any origin: the stream is read-only market data and the
// UI is served from a different port during development.
var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// Server exposes the market stream over HTTP. GET /ws/market/{ticker}
// upgrades to a websocket subscription for one instrument; GET /healthz
// reports liveness and pipeline counters.
type Server struct {
	hub *Hub

	// Stats optionally supplies extra counters merged into /healthz.
	Stats func() map[string]any
}

// NewServer wraps a hub with its HTTP surface.
func NewServer(hub *Hub) *Server {
	return &Server{hub: hub}
}

// Routes returns the mux with all broadcast endpoints registered.
func (s *Server) Routes() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws/market/", s.handleMarket)
	mux.HandleFunc("/healthz", s.handleHealth)
	return mux
}

func (s *Server) handleMarket(w http.ResponseWriter, r *http.Request) {
	instrumentID := strings.TrimPrefix(r.URL.Path, "/ws/market/")
	if instrumentID == "" || strings.Contains(instrumentID, "/") {
		http.Error(w, "instrument id required", http.StatusBadRequest)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already wrote the HTTP error.
		slog.Warn("Websocket upgrade failed",
			slog.String("remote", r.RemoteAddr),
			slog.Any("error", err))
		return
	}

	client := newClient(s.hub, conn, instrumentID)
	s.hub.register(client)
	go client.writePump()
	go client.readPump()

	slog.Info("Subscriber connected",
		slog.String("instrument", instrumentID),
		slog.String("remote", client.remoteAddr))
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	hub := s.hub.Stats()
	health := map[string]any{
		"status":          "ok",
		"subscribers":     hub.Subscribers,
		"relayed":         hub.Relayed,
		"evicted_clients": hub.Evicted,
	}
	if s.Stats != nil {
		for k, v := range s.Stats() {
			health[k] = v
		}
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(health)
}

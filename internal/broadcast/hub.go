package broadcast

import (
	"encoding/json"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Capstone-Design2/Backend/internal/bus"
	"github.com/Capstone-Design2/Backend/internal/domain"
)

// priceMessage is the wire shape pushed to websocket subscribers. Price is
// the canonical decimal string, never a float.
type priceMessage struct {
	Type         string `json:"type"`
	InstrumentID string `json:"instrumentId"`
	Price        string `json:"price"`
	Volume       int64  `json:"volume"`
	Timestamp    string `json:"timestamp"`
}

// Hub relays ticks from its bus subscription to websocket clients grouped by
// instrument. Each tick is marshalled once; every subscriber of that
// instrument gets the same payload through its buffered send queue. A client
// whose queue is full is disconnected rather than allowed to stall the
// relay.
type Hub struct {
	sub *bus.Subscription

	mu      sync.RWMutex
	clients map[string]map[*Client]struct{}

	wg      sync.WaitGroup
	relayed atomic.Uint64
	evicted atomic.Uint64
}

// NewHub creates a hub reading from sub. Call Start to launch the relay.
func NewHub(sub *bus.Subscription) *Hub {
	return &Hub{
		sub:     sub,
		clients: make(map[string]map[*Client]struct{}),
	}
}

// Start launches the relay goroutine. The hub stops by draining: closing
// the bus closes the subscription, the relay forwards what is left, then
// every client connection is shut down.
func (h *Hub) Start() {
	h.wg.Add(1)
	go h.run()
}

// Wait blocks until the subscription is closed and all clients are gone.
func (h *Hub) Wait() {
	h.wg.Wait()
}

// Subscribers returns the number of connected clients across instruments.
func (h *Hub) Subscribers() int {
	h.mu.RLock()
	defer h.mu.RUnlock()

	n := 0
	for _, set := range h.clients {
		n += len(set)
	}
	return n
}

// Stats is a snapshot of the relay counters.
type Stats struct {
	Subscribers int
	Relayed     uint64
	Evicted     uint64
}

// Stats returns a snapshot of the relay counters.
func (h *Hub) Stats() Stats {
	return Stats{
		Subscribers: h.Subscribers(),
		Relayed:     h.relayed.Load(),
		Evicted:     h.evicted.Load(),
	}
}

func (h *Hub) run() {
	defer h.wg.Done()

	for tick := range h.sub.C() {
		h.broadcast(tick)
	}

	// Drained: hang up on everyone.
	h.mu.Lock()
	for _, set := range h.clients {
		for c := range set {
			c.shutdown()
		}
	}
	h.clients = make(map[string]map[*Client]struct{})
	h.mu.Unlock()
	slog.Info("Broadcast hub drained", slog.Uint64("relayed", h.relayed.Load()))
}

func (h *Hub) broadcast(tick domain.Tick) {
	payload, err := json.Marshal(priceMessage{
		Type:         "price",
		InstrumentID: tick.InstrumentID,
		Price:        tick.LastPrice.String(),
		Volume:       tick.Volume,
		Timestamp:    tick.EventTime.Format(time.RFC3339),
	})
	if err != nil {
		slog.Error("Failed to marshal tick", slog.Any("error", err))
		return
	}

	var victims []*Client
	h.mu.RLock()
	for c := range h.clients[tick.InstrumentID] {
		select {
		case c.send <- payload:
			h.relayed.Add(1)
		default:
			victims = append(victims, c)
		}
	}
	h.mu.RUnlock()

	for _, c := range victims {
		h.evicted.Add(1)
		slog.Warn("Dropping slow subscriber",
			slog.String("instrument", c.instrumentID),
			slog.String("remote", c.remoteAddr))
		h.unregister(c)
	}
}

func (h *Hub) register(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	set, ok := h.clients[c.instrumentID]
	if !ok {
		set = make(map[*Client]struct{})
		h.clients[c.instrumentID] = set
	}
	set[c] = struct{}{}
}

// unregister removes a client and closes its send queue. Safe to call from
// both the relay (slow client) and the client's read pump (disconnect);
// whichever gets there first wins.
func (h *Hub) unregister(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	set, ok := h.clients[c.instrumentID]
	if !ok {
		return
	}
	if _, ok := set[c]; !ok {
		return
	}
	delete(set, c)
	if len(set) == 0 {
		delete(h.clients, c.instrumentID)
	}
	c.shutdown()
}

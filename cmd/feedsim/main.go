package main

import (
	"context"
	"encoding/json"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/Capstone-Design2/Backend/internal/feed"
	"github.com/Capstone-Design2/Backend/pkg/quant"

	"github.com/gorilla/websocket"
)

// feedsim is a stand-in for the KIS realtime gateway: it accepts the
// real subscription JSON, acks it, and streams random-walk trade frames
// in the H0STCNT0 wire format. The server runs against it unmodified
// with kis.ws_url pointed at ws://localhost:31000.

// pingEvery paces the server-initiated PINGPONG keepalive, well under
// the client's read deadline.
const pingEvery = 30 * time.Second

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// inboundMessage covers everything a client sends: subscription
// requests and echoes of our own PINGPONG keepalive.
type inboundMessage struct {
	Header struct {
		TrID        string `json:"tr_id"`
		ApprovalKey string `json:"approval_key"`
		TrType      string `json:"tr_type"`
	} `json:"header"`
	Body struct {
		Input struct {
			TrID  string `json:"tr_id"`
			TrKey string `json:"tr_key"`
		} `json:"input"`
	} `json:"body"`
}

type ackMessage struct {
	Header struct {
		TrID string `json:"tr_id"`
	} `json:"header"`
	Body struct {
		RtCd  string `json:"rt_cd"`
		MsgCd string `json:"msg_cd"`
		Msg1  string `json:"msg1"`
	} `json:"body"`
}

type gateway struct {
	interval time.Duration
}

// session is one connected client with its own private walk per
// subscribed ticker. Two sessions never share price state, exactly like
// two KIS approval keys.
type session struct {
	conn   *websocket.Conn
	remote string

	writeMu sync.Mutex

	mu    sync.Mutex
	walks map[string]*feed.Walk
}

func (g *gateway) handle(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Warn("Websocket upgrade failed", "remote", r.RemoteAddr, "err", err)
		return
	}
	defer conn.Close()

	sess := &session{
		conn:   conn,
		remote: r.RemoteAddr,
		walks:  make(map[string]*feed.Walk),
	}

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()
	go sess.run(ctx, g.interval)

	slog.Info("📡 Client connected", "remote", sess.remote)
	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			slog.Info("Client disconnected", "remote", sess.remote)
			return
		}
		sess.handleMessage(msg)
	}
}

func (s *session) handleMessage(raw []byte) {
	var msg inboundMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		slog.Warn("Unparseable client message", "remote", s.remote, "err", err)
		return
	}
	if msg.Header.TrID == "PINGPONG" {
		return // the echo of our own keepalive
	}
	if msg.Header.ApprovalKey == "" {
		slog.Warn("Subscription without approval_key accepted", "remote", s.remote)
	}

	input := msg.Body.Input
	switch {
	case input.TrID != feed.TrIDTrade:
		s.ack(input.TrID, "1", "OPSP8991", "UNSUPPORTED TR_ID")

	case msg.Header.TrType == "2":
		s.mu.Lock()
		delete(s.walks, input.TrKey)
		s.mu.Unlock()
		s.ack(input.TrID, "0", "OPSP0001", "UNSUBSCRIBE SUCCESS")
		slog.Info("Unsubscribed", "ticker", input.TrKey, "remote", s.remote)

	default:
		s.mu.Lock()
		if _, ok := s.walks[input.TrKey]; !ok {
			s.walks[input.TrKey] = feed.NewWalk(input.TrKey, feed.StartPrice(input.TrKey), time.Now().UnixNano())
		}
		s.mu.Unlock()
		s.ack(input.TrID, "0", "OPSP0000", "SUBSCRIBE SUCCESS")
		slog.Info("Subscribed", "ticker", input.TrKey, "remote", s.remote)
	}
}

// run streams one frame per subscribed ticker per interval and keeps
// the connection alive with PINGPONG, until the read side hangs up.
func (s *session) run(ctx context.Context, interval time.Duration) {
	frames := time.NewTicker(interval)
	defer frames.Stop()
	pings := time.NewTicker(pingEvery)
	defer pings.Stop()

	for {
		select {
		case <-ctx.Done():
			return

		case now := <-frames.C:
			s.mu.Lock()
			batch := make([]string, 0, len(s.walks))
			for _, walk := range s.walks {
				batch = append(batch, walk.Step(now))
			}
			s.mu.Unlock()

			for _, frame := range batch {
				if err := s.write(websocket.TextMessage, []byte(frame)); err != nil {
					return
				}
			}

		case now := <-pings.C:
			ping := `{"header":{"tr_id":"PINGPONG","datetime":"` +
				now.In(quant.KST).Format("20060102150405") + `"}}`
			if err := s.write(websocket.TextMessage, []byte(ping)); err != nil {
				return
			}
		}
	}
}

func (s *session) ack(trID, rtCd, msgCd, msg1 string) {
	var ack ackMessage
	ack.Header.TrID = trID
	ack.Body.RtCd = rtCd
	ack.Body.MsgCd = msgCd
	ack.Body.Msg1 = msg1

	payload, _ := json.Marshal(ack)
	if err := s.write(websocket.TextMessage, payload); err != nil {
		slog.Warn("Failed to ack", "remote", s.remote, "err", err)
	}
}

// write serializes all frames through one mutex because gorilla allows
// only one concurrent writer per connection.
func (s *session) write(messageType int, payload []byte) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return s.conn.WriteMessage(messageType, payload)
}

func main() {
	addr := flag.String("addr", "localhost:31000", "listen address")
	interval := flag.Duration("interval", 300*time.Millisecond, "delay between simulated trades per instrument")
	flag.Parse()

	g := &gateway{interval: *interval}
	mux := http.NewServeMux()
	mux.HandleFunc("/", g.handle)

	slog.Info("🎛️ KIS feed simulator listening", "addr", *addr, "interval", *interval)
	if err := http.ListenAndServe(*addr, mux); err != nil {
		slog.Error("Feed simulator failed", slog.Any("error", err))
		os.Exit(1)
	}
}

package kis

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/Capstone-Design2/Backend/internal/feed"
	"github.com/Capstone-Design2/Backend/internal/infra"

	"github.com/gorilla/websocket"
)

// subscribeRequest is the registration frame for one realtime tr_key.
type subscribeRequest struct {
	Header subscribeHeader `json:"header"`
	Body   subscribeBody   `json:"body"`
}

type subscribeHeader struct {
	ApprovalKey string `json:"approval_key"`
	CustType    string `json:"custtype"`
	TrType      string `json:"tr_type"`
	ContentType string `json:"content-type"`
}

type subscribeBody struct {
	Input subscribeInput `json:"input"`
}

type subscribeInput struct {
	TrID  string `json:"tr_id"`
	TrKey string `json:"tr_key"`
}

// controlMessage is the JSON envelope KIS uses for everything that is not
// a tick frame: subscribe acks and PINGPONG keepalives.
type controlMessage struct {
	Header struct {
		TrID string `json:"tr_id"`
	} `json:"header"`
	Body struct {
		RtCd  string `json:"rt_cd"`
		MsgCd string `json:"msg_cd"`
		Msg1  string `json:"msg1"`
	} `json:"body"`
}

// Worker drives the KIS realtime WebSocket through BaseWSWorker and
// publishes normalized ticks. Every (re)connect issues a fresh approval
// key and re-registers each configured instrument.
type Worker struct {
	base    *infra.BaseWSWorker
	client  *Client
	wsURL   string
	tickers []string
	norm    *feed.Normalizer
	out     feed.Publisher
}

// NewWorker creates a new KIS gateway worker.
func NewWorker(wsURL string, client *Client, tickers []string, norm *feed.Normalizer, out feed.Publisher) *Worker {
	w := &Worker{
		wsURL:   wsURL,
		client:  client,
		tickers: tickers,
		norm:    norm,
		out:     out,
	}
	w.base = infra.NewBaseWSWorker(w)
	// KIS keeps the socket alive with server-initiated PINGPONG frames;
	// the client only has to echo them, never to ping.
	w.base.PingInterval = 0
	w.base.ReadTimeout = 120 * time.Second
	return w
}

// ID returns the worker identifier.
func (w *Worker) ID() string { return "KIS" }

// GetURL returns the KIS realtime WebSocket endpoint.
func (w *Worker) GetURL() string { return w.wsURL }

// Start connects and subscribes, failing fast when KIS stays unreachable.
func (w *Worker) Start(ctx context.Context) error { return w.base.Start(ctx) }

// Stop terminates the connection.
func (w *Worker) Stop() { w.base.Stop() }

// OnConnect registers every configured instrument on the fresh connection.
func (w *Worker) OnConnect(ctx context.Context, conn *websocket.Conn) error {
	key, err := w.client.ApprovalKey(ctx)
	if err != nil {
		return err
	}

	limiter := infra.GetKISSubscribeLimiter()
	for _, ticker := range w.tickers {
		limiter.Wait()

		var req subscribeRequest
		req.Header.ApprovalKey = key
		req.Header.CustType = "P"
		req.Header.TrType = "1" // 1 = register, 2 = unregister
		req.Header.ContentType = "utf-8"
		req.Body.Input.TrID = feed.TrIDTrade
		req.Body.Input.TrKey = ticker

		b, err := json.Marshal(req)
		if err != nil {
			return err
		}
		if err := w.base.Write(websocket.TextMessage, b); err != nil {
			return fmt.Errorf("failed to subscribe %s: %w", ticker, err)
		}
	}

	slog.Info("KIS subscriptions sent", "instruments", len(w.tickers))
	return nil
}

// OnMessage routes tick frames to the normalizer and answers keepalives.
func (w *Worker) OnMessage(ctx context.Context, msg []byte) {
	if len(msg) == 0 {
		return
	}

	// Tick frames start with the encryption flag digit; everything else
	// is a JSON control message.
	if msg[0] == '0' || msg[0] == '1' {
		tick, err := w.norm.Normalize(string(msg))
		if err != nil {
			return // drop reasons are counted by the normalizer
		}
		if err := w.out.Publish(tick); err != nil {
			slog.Error("Failed to publish tick", "instrument", tick.InstrumentID, "err", err)
		}
		return
	}

	var ctrl controlMessage
	if err := json.Unmarshal(msg, &ctrl); err != nil {
		slog.Warn("Unparseable KIS control message", "err", err)
		return
	}

	switch ctrl.Header.TrID {
	case "PINGPONG":
		// KIS expects the frame echoed back verbatim.
		if err := w.base.Write(websocket.TextMessage, msg); err != nil {
			slog.Warn("Failed to answer PINGPONG", "err", err)
		}
	default:
		if ctrl.Body.RtCd != "" && ctrl.Body.RtCd != "0" {
			slog.Warn("KIS subscription rejected",
				"tr_id", ctrl.Header.TrID, "msg_cd", ctrl.Body.MsgCd, "msg", ctrl.Body.Msg1)
			return
		}
		slog.Debug("KIS control message", "tr_id", ctrl.Header.TrID, "msg", ctrl.Body.Msg1)
	}
}

// OnPing is a no-op; the KIS keepalive is server-initiated.
func (w *Worker) OnPing(ctx context.Context, conn *websocket.Conn) error { return nil }

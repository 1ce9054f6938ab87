package kis

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/Capstone-Design2/Backend/internal/domain"
	"github.com/Capstone-Design2/Backend/internal/feed"
	"github.com/Capstone-Design2/Backend/pkg/quant"

	"github.com/gorilla/websocket"
	"github.com/shopspring/decimal"
)

// captor collects published ticks for assertions.
type captor struct{ ch chan domain.Tick }

func newCaptor() *captor { return &captor{ch: make(chan domain.Tick, 16)} }

func (c *captor) Publish(tick domain.Tick) error {
	c.ch <- tick
	return nil
}

func (c *captor) next(t *testing.T) domain.Tick {
	t.Helper()
	select {
	case tick := <-c.ch:
		return tick
	case <-time.After(2 * time.Second):
		t.Fatal("no tick published within timeout")
		return domain.Tick{}
	}
}

// httpToWS converts http:// URL to ws://
func httpToWS(url string) string {
	return strings.Replace(url, "http://", "ws://", 1)
}

// newMockRealtime emulates the KIS realtime gateway: it reads one
// subscribe frame per ticker, acks each, then hands the connection to
// the script. The worker reconnects when the script returns, so scripts
// must tolerate running more than once.
func newMockRealtime(t *testing.T, tickers int, script func(t *testing.T, conn *websocket.Conn, subs []subscribeRequest)) *httptest.Server {
	upgrader := websocket.Upgrader{
		CheckOrigin: func(r *http.Request) bool { return true },
	}

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Logf("upgrade error: %v", err)
			return
		}
		defer conn.Close()

		subs := make([]subscribeRequest, 0, tickers)
		for i := 0; i < tickers; i++ {
			conn.SetReadDeadline(time.Now().Add(2 * time.Second))
			_, msg, err := conn.ReadMessage()
			if err != nil {
				t.Logf("read subscribe: %v", err)
				return
			}
			var sub subscribeRequest
			if err := json.Unmarshal(msg, &sub); err != nil {
				t.Logf("parse subscribe: %v", err)
				return
			}
			subs = append(subs, sub)

			ack := fmt.Sprintf(`{"header":{"tr_id":"%s"},"body":{"rt_cd":"0","msg_cd":"OPSP0000","msg1":"SUBSCRIBE SUCCESS"}}`,
				sub.Body.Input.TrID)
			conn.WriteMessage(websocket.TextMessage, []byte(ack))
		}

		script(t, conn, subs)
	}))
	t.Cleanup(server.Close)
	return server
}

func TestWorkerSubscribesAndPublishes(t *testing.T) {
	_, rest := newMockKIS(t)

	frameTime := time.Date(2026, 8, 22, 10, 30, 15, 0, quant.KST)
	frame := feed.EncodeTradeFrame("005930", frameTime, decimal.NewFromInt(71900), decimal.NewFromInt(400), 10, 1000)

	server := newMockRealtime(t, 1, func(t *testing.T, conn *websocket.Conn, subs []subscribeRequest) {
		sub := subs[0]
		if sub.Header.ApprovalKey != "approval-test-key" {
			t.Errorf("unexpected approval key %q", sub.Header.ApprovalKey)
		}
		if sub.Header.TrType != "1" || sub.Header.CustType != "P" {
			t.Errorf("unexpected subscribe header %+v", sub.Header)
		}
		if sub.Body.Input.TrID != feed.TrIDTrade || sub.Body.Input.TrKey != "005930" {
			t.Errorf("unexpected subscribe input %+v", sub.Body.Input)
		}

		conn.WriteMessage(websocket.TextMessage, []byte(frame))
		time.Sleep(100 * time.Millisecond)
	})

	out := newCaptor()
	client := NewClient(rest.URL, "test-key", "test-secret")
	worker := NewWorker(httpToWS(server.URL), client, []string{"005930"}, feed.NewNormalizer(), out)

	if err := worker.Start(context.Background()); err != nil {
		t.Fatalf("Failed to start worker: %v", err)
	}
	defer worker.Stop()

	tick := out.next(t)
	if tick.InstrumentID != "005930" {
		t.Errorf("unexpected instrument %q", tick.InstrumentID)
	}
	if tick.LastPrice.String() != "71900" {
		t.Errorf("unexpected price %s", tick.LastPrice)
	}
	if tick.Volume != 10 {
		t.Errorf("unexpected volume %d", tick.Volume)
	}
	if tick.Change.String() != "400" {
		t.Errorf("unexpected change %s", tick.Change)
	}
}

func TestWorkerAnswersPingpong(t *testing.T) {
	_, rest := newMockKIS(t)

	ping := `{"header":{"tr_id":"PINGPONG","datetime":"20260822103015"}}`
	echoed := make(chan string, 4)
	server := newMockRealtime(t, 1, func(t *testing.T, conn *websocket.Conn, subs []subscribeRequest) {
		conn.WriteMessage(websocket.TextMessage, []byte(ping))

		conn.SetReadDeadline(time.Now().Add(2 * time.Second))
		_, msg, err := conn.ReadMessage()
		if err != nil {
			t.Logf("read echo: %v", err)
			return
		}
		select {
		case echoed <- string(msg):
		default:
		}
	})

	client := NewClient(rest.URL, "test-key", "test-secret")
	worker := NewWorker(httpToWS(server.URL), client, []string{"005930"}, feed.NewNormalizer(), newCaptor())

	if err := worker.Start(context.Background()); err != nil {
		t.Fatalf("Failed to start worker: %v", err)
	}
	defer worker.Stop()

	select {
	case got := <-echoed:
		if got != ping {
			t.Errorf("expected verbatim echo, got %s", got)
		}
	case <-time.After(2 * time.Second):
		t.Error("PINGPONG was not echoed")
	}
}

func TestWorkerDropsMalformedFrames(t *testing.T) {
	_, rest := newMockKIS(t)

	frameTime := time.Date(2026, 8, 22, 10, 31, 0, 0, quant.KST)
	valid := feed.EncodeTradeFrame("000660", frameTime, decimal.NewFromInt(198500), decimal.Zero, 5, 777)

	server := newMockRealtime(t, 1, func(t *testing.T, conn *websocket.Conn, subs []subscribeRequest) {
		conn.WriteMessage(websocket.TextMessage, []byte("0|H0STCNT0|001|garbage"))
		conn.WriteMessage(websocket.TextMessage, []byte(valid))
		time.Sleep(100 * time.Millisecond)
	})

	out := newCaptor()
	client := NewClient(rest.URL, "test-key", "test-secret")
	worker := NewWorker(httpToWS(server.URL), client, []string{"000660"}, feed.NewNormalizer(), out)

	if err := worker.Start(context.Background()); err != nil {
		t.Fatalf("Failed to start worker: %v", err)
	}
	defer worker.Stop()

	tick := out.next(t)
	if tick.InstrumentID != "000660" {
		t.Errorf("unexpected instrument %q", tick.InstrumentID)
	}

	// Only the valid frame survives; replays after a reconnect are
	// dropped by the staleness guard.
	select {
	case extra := <-out.ch:
		t.Errorf("unexpected extra tick: %+v", extra)
	case <-time.After(200 * time.Millisecond):
	}
}

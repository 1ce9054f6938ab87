package engine

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/Capstone-Design2/Backend/internal/book"
	"github.com/Capstone-Design2/Backend/internal/bus"
	"github.com/Capstone-Design2/Backend/internal/domain"
	"github.com/Capstone-Design2/Backend/internal/ledger"
	"github.com/Capstone-Design2/Backend/internal/storage"
)

type harness struct {
	store  *storage.Store
	book   *book.Book
	ledger *ledger.Ledger
	bus    *bus.Bus
	engine *Engine
	seq    uint64
}

func newHarness(t *testing.T, shards int) *harness {
	t.Helper()
	s, err := storage.NewStore(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("Failed to create store: %v", err)
	}
	t.Cleanup(func() { s.Close() })

	h := &harness{
		store:  s,
		book:   book.New(),
		ledger: ledger.New(s),
		bus:    bus.New(),
	}
	sub := h.bus.Subscribe("engine", 100)
	h.engine = New(s, h.book, h.ledger, sub, Config{Shards: shards})
	h.engine.Start()
	return h
}

func (h *harness) createAccount(t *testing.T, cash string) {
	t.Helper()
	err := h.store.CreateAccount(context.Background(), domain.Account{
		AccountID:      "acc-1",
		CashBalance:    decimal.RequireFromString(cash),
		InitialBalance: decimal.RequireFromString(cash),
		IsActive:       true,
		CreatedAt:      time.Now(),
	})
	if err != nil {
		t.Fatalf("Failed to create account: %v", err)
	}
}

// submitPending persists an order and indexes it, the way intake does.
func (h *harness) submitPending(t *testing.T, o domain.Order) {
	t.Helper()
	if err := h.store.InsertOrder(context.Background(), o); err != nil {
		t.Fatalf("Failed to insert order %s: %v", o.OrderID, err)
	}
	h.book.Add(o)
}

func (h *harness) seedPosition(t *testing.T, instrument string, qty int64, avg string) {
	t.Helper()
	ctx := context.Background()
	tx, err := h.store.Begin(ctx)
	if err != nil {
		t.Fatalf("Begin failed: %v", err)
	}
	err = h.store.UpsertPositionTx(ctx, tx, domain.Position{
		AccountID:    "acc-1",
		InstrumentID: instrument,
		Quantity:     qty,
		AvgCost:      decimal.RequireFromString(avg),
	})
	if err != nil {
		t.Fatalf("UpsertPositionTx failed: %v", err)
	}
	if err := tx.Commit(); err != nil {
		t.Fatalf("Commit failed: %v", err)
	}
}

func (h *harness) publish(t *testing.T, instrument, price string) {
	t.Helper()
	h.seq++
	err := h.bus.Publish(domain.Tick{
		InstrumentID: instrument,
		LastPrice:    decimal.RequireFromString(price),
		Volume:       1,
		EventTime:    time.Now(),
		Sequence:     h.seq,
	})
	if err != nil {
		t.Fatalf("Publish failed: %v", err)
	}
}

// finish closes the bus and waits for the engine to drain, so every
// published tick has been fully evaluated when it returns.
func (h *harness) finish() {
	h.bus.Close()
	h.engine.Wait()
}

func pendingOrder(id string, side domain.Side, typ domain.OrderType, limit string, qty int64, createdAt time.Time) domain.Order {
	o := domain.Order{
		OrderID:      id,
		AccountID:    "acc-1",
		InstrumentID: "005930",
		Side:         side,
		Type:         typ,
		Quantity:     qty,
		Status:       domain.StatusPending,
		CreatedAt:    createdAt,
	}
	if typ == domain.TypeLimit {
		o.LimitPrice = decimal.RequireFromString(limit)
	}
	return o
}

func TestMarketOrderFillsOnFirstTick(t *testing.T) {
	h := newHarness(t, 1)
	h.createAccount(t, "10000000")
	h.submitPending(t, pendingOrder("ord-1", domain.SideBuy, domain.TypeMarket, "", 10, time.Now()))

	h.publish(t, "005930", "84000")
	h.finish()

	ctx := context.Background()
	got, err := h.store.GetOrder(ctx, "ord-1")
	if err != nil {
		t.Fatalf("GetOrder failed: %v", err)
	}
	if got.Status != domain.StatusFilled {
		t.Fatalf("status = %s, want %s", got.Status, domain.StatusFilled)
	}

	exec, found, err := h.store.ExecutionForOrder(ctx, "ord-1")
	if err != nil || !found {
		t.Fatalf("ExecutionForOrder = (%v, %v), want found", found, err)
	}
	if !exec.Price.Equal(decimal.RequireFromString("84000")) {
		t.Errorf("fill price = %s, want 84000", exec.Price)
	}

	acct, err := h.store.GetAccount(ctx, "acc-1")
	if err != nil {
		t.Fatalf("GetAccount failed: %v", err)
	}
	if !acct.CashBalance.Equal(decimal.RequireFromString("9160000")) {
		t.Errorf("cash = %s, want 9160000", acct.CashBalance)
	}

	pos, found, err := h.store.GetPosition(ctx, "acc-1", "005930")
	if err != nil || !found {
		t.Fatalf("GetPosition = (%v, %v), want found", found, err)
	}
	if pos.Quantity != 10 || !pos.AvgCost.Equal(decimal.RequireFromString("84000")) {
		t.Errorf("position = %+v, want 10 @ 84000", pos)
	}

	if h.book.Len() != 0 {
		t.Errorf("book still holds %d orders", h.book.Len())
	}
	if stats := h.engine.Stats(); stats.Fills != 1 {
		t.Errorf("fills = %d, want 1", stats.Fills)
	}
}

func TestLimitBuyFillsAtTickPrice(t *testing.T) {
	h := newHarness(t, 1)
	h.createAccount(t, "10000000")
	h.submitPending(t, pendingOrder("ord-1", domain.SideBuy, domain.TypeLimit, "1000", 10, time.Now()))

	// 1001 is above the limit and must not trigger; 999 does, and the fill
	// executes at 999, not at the limit.
	h.publish(t, "005930", "1001")
	h.publish(t, "005930", "999")
	h.finish()

	exec, found, err := h.store.ExecutionForOrder(context.Background(), "ord-1")
	if err != nil || !found {
		t.Fatalf("ExecutionForOrder = (%v, %v), want found", found, err)
	}
	if !exec.Price.Equal(decimal.RequireFromString("999")) {
		t.Errorf("fill price = %s, want 999", exec.Price)
	}

	acct, _ := h.store.GetAccount(context.Background(), "acc-1")
	if !acct.CashBalance.Equal(decimal.RequireFromString("9990010")) {
		t.Errorf("cash = %s, want 9990010", acct.CashBalance)
	}
}

func TestLimitSellTriggersAtOrAbove(t *testing.T) {
	h := newHarness(t, 1)
	h.createAccount(t, "10000000")
	h.seedPosition(t, "005930", 10, "1000")
	h.submitPending(t, pendingOrder("ord-1", domain.SideSell, domain.TypeLimit, "1100", 10, time.Now()))

	h.publish(t, "005930", "1050") // below limit, no trigger
	h.publish(t, "005930", "1100") // at limit, sells
	h.finish()

	ctx := context.Background()
	exec, found, err := h.store.ExecutionForOrder(ctx, "ord-1")
	if err != nil || !found {
		t.Fatalf("ExecutionForOrder = (%v, %v), want found", found, err)
	}
	if !exec.Price.Equal(decimal.RequireFromString("1100")) {
		t.Errorf("fill price = %s, want 1100", exec.Price)
	}

	acct, _ := h.store.GetAccount(ctx, "acc-1")
	if !acct.CashBalance.Equal(decimal.RequireFromString("10011000")) {
		t.Errorf("cash = %s, want 10011000", acct.CashBalance)
	}
	if _, found, _ := h.store.GetPosition(ctx, "acc-1", "005930"); found {
		t.Error("position should be fully closed")
	}
}

func TestDuplicateTickFillsOnce(t *testing.T) {
	h := newHarness(t, 1)
	h.createAccount(t, "10000000")
	h.submitPending(t, pendingOrder("ord-1", domain.SideBuy, domain.TypeMarket, "", 10, time.Now()))

	h.publish(t, "005930", "1000")
	h.publish(t, "005930", "1000")
	h.finish()

	execs, err := h.store.ExecutionsForInstrument(context.Background(), "005930")
	if err != nil {
		t.Fatalf("ExecutionsForInstrument failed: %v", err)
	}
	if len(execs) != 1 {
		t.Fatalf("got %d executions, want exactly 1", len(execs))
	}

	acct, _ := h.store.GetAccount(context.Background(), "acc-1")
	if !acct.CashBalance.Equal(decimal.RequireFromString("9990000")) {
		t.Errorf("cash = %s, want 9990000 (debited once)", acct.CashBalance)
	}
}

func TestFillsOldestOrderFirst(t *testing.T) {
	h := newHarness(t, 1)
	h.createAccount(t, "10000000")

	t0 := time.Now()
	// ord-b was created first; it must settle first even though ord-a sorts
	// lower alphabetically.
	h.submitPending(t, pendingOrder("ord-a", domain.SideBuy, domain.TypeLimit, "1000", 1, t0.Add(time.Second)))
	h.submitPending(t, pendingOrder("ord-b", domain.SideBuy, domain.TypeLimit, "1000", 1, t0))

	h.publish(t, "005930", "900")
	h.finish()

	execs, err := h.store.ExecutionsForInstrument(context.Background(), "005930")
	if err != nil {
		t.Fatalf("ExecutionsForInstrument failed: %v", err)
	}
	if len(execs) != 2 {
		t.Fatalf("got %d executions, want 2", len(execs))
	}
	if execs[0].OrderID != "ord-b" || execs[1].OrderID != "ord-a" {
		t.Errorf("fill order = [%s, %s], want [ord-b, ord-a]", execs[0].OrderID, execs[1].OrderID)
	}
}

func TestCancelRaceSkipsSilently(t *testing.T) {
	h := newHarness(t, 1)
	h.createAccount(t, "10000000")
	h.submitPending(t, pendingOrder("ord-1", domain.SideBuy, domain.TypeMarket, "", 10, time.Now()))

	// Cancel lands in storage while the book still indexes the order.
	ok, err := h.store.CancelOrder(context.Background(), "ord-1")
	if err != nil || !ok {
		t.Fatalf("CancelOrder = (%v, %v), want success", ok, err)
	}

	h.publish(t, "005930", "1000")
	h.finish()

	ctx := context.Background()
	got, err := h.store.GetOrder(ctx, "ord-1")
	if err != nil {
		t.Fatalf("GetOrder failed: %v", err)
	}
	if got.Status != domain.StatusCanceled {
		t.Errorf("status = %s, want %s", got.Status, domain.StatusCanceled)
	}
	if _, found, _ := h.store.ExecutionForOrder(ctx, "ord-1"); found {
		t.Error("cancelled order must not produce an execution")
	}

	acct, _ := h.store.GetAccount(ctx, "acc-1")
	if !acct.CashBalance.Equal(decimal.RequireFromString("10000000")) {
		t.Errorf("cash = %s, want untouched 10000000", acct.CashBalance)
	}

	stats := h.engine.Stats()
	if stats.Fills != 0 || stats.LostRaces != 1 {
		t.Errorf("stats = %+v, want 0 fills and 1 lost race", stats)
	}
	if h.book.Len() != 0 {
		t.Error("stale book entry should be evicted after the lost race")
	}
}

func TestInconsistentFillKeepsOrderPending(t *testing.T) {
	h := newHarness(t, 1)
	h.createAccount(t, "10000000")
	h.seedPosition(t, "005930", 10, "1000")

	// A sell for more than the position holds can only exist if intake
	// validation was bypassed; the ledger is the backstop.
	h.submitPending(t, pendingOrder("ord-1", domain.SideSell, domain.TypeMarket, "", 15, time.Now()))

	h.publish(t, "005930", "1100")
	h.finish()

	ctx := context.Background()
	got, err := h.store.GetOrder(ctx, "ord-1")
	if err != nil {
		t.Fatalf("GetOrder failed: %v", err)
	}
	if got.Status != domain.StatusPending {
		t.Errorf("status = %s, want %s for manual reconciliation", got.Status, domain.StatusPending)
	}
	if _, found, _ := h.store.ExecutionForOrder(ctx, "ord-1"); found {
		t.Error("refused fill must not leave an execution row")
	}

	pos, found, _ := h.store.GetPosition(ctx, "acc-1", "005930")
	if !found || pos.Quantity != 10 {
		t.Errorf("position = (%+v, %v), want untouched 10 shares", pos, found)
	}
	acct, _ := h.store.GetAccount(ctx, "acc-1")
	if !acct.CashBalance.Equal(decimal.RequireFromString("10000000")) {
		t.Errorf("cash = %s, want untouched 10000000", acct.CashBalance)
	}

	if stats := h.engine.Stats(); stats.Inconsistencies != 1 {
		t.Errorf("inconsistencies = %d, want 1", stats.Inconsistencies)
	}
}

func TestShardedEngineFillsAcrossInstruments(t *testing.T) {
	h := newHarness(t, 4)
	h.createAccount(t, "10000000")

	instruments := []string{"005930", "000660", "035720"}
	for i, inst := range instruments {
		o := pendingOrder("ord-"+inst, domain.SideBuy, domain.TypeMarket, "", 1, time.Now().Add(time.Duration(i)))
		o.InstrumentID = inst
		h.submitPending(t, o)
	}

	for _, inst := range instruments {
		h.publish(t, inst, "1000")
	}
	h.finish()

	for _, inst := range instruments {
		got, err := h.store.GetOrder(context.Background(), "ord-"+inst)
		if err != nil {
			t.Fatalf("GetOrder(%s) failed: %v", inst, err)
		}
		if got.Status != domain.StatusFilled {
			t.Errorf("order on %s = %s, want %s", inst, got.Status, domain.StatusFilled)
		}
	}

	// 3 buys of 1 share at 1000 each.
	acct, _ := h.store.GetAccount(context.Background(), "acc-1")
	if !acct.CashBalance.Equal(decimal.RequireFromString("9997000")) {
		t.Errorf("cash = %s, want 9997000", acct.CashBalance)
	}
	if stats := h.engine.Stats(); stats.Fills != 3 {
		t.Errorf("fills = %d, want 3", stats.Fills)
	}
}

func TestShouldFillTable(t *testing.T) {
	price := func(s string) decimal.Decimal { return decimal.RequireFromString(s) }

	tests := []struct {
		name  string
		order domain.Order
		tick  string
		want  bool
	}{
		{"Market Buy Any Price", domain.Order{Type: domain.TypeMarket, Side: domain.SideBuy}, "99999", true},
		{"Market Sell Any Price", domain.Order{Type: domain.TypeMarket, Side: domain.SideSell}, "1", true},
		{"Limit Buy Below Limit", domain.Order{Type: domain.TypeLimit, Side: domain.SideBuy, LimitPrice: price("1000")}, "999", true},
		{"Limit Buy At Limit", domain.Order{Type: domain.TypeLimit, Side: domain.SideBuy, LimitPrice: price("1000")}, "1000", true},
		{"Limit Buy Above Limit", domain.Order{Type: domain.TypeLimit, Side: domain.SideBuy, LimitPrice: price("1000")}, "1001", false},
		{"Limit Sell Above Limit", domain.Order{Type: domain.TypeLimit, Side: domain.SideSell, LimitPrice: price("1000")}, "1001", true},
		{"Limit Sell At Limit", domain.Order{Type: domain.TypeLimit, Side: domain.SideSell, LimitPrice: price("1000")}, "1000", true},
		{"Limit Sell Below Limit", domain.Order{Type: domain.TypeLimit, Side: domain.SideSell, LimitPrice: price("1000")}, "999", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := shouldFill(tt.order, price(tt.tick)); got != tt.want {
				t.Errorf("shouldFill = %v, want %v", got, tt.want)
			}
		})
	}
}

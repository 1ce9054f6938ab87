package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/shopspring/decimal"

	"github.com/Capstone-Design2/Backend/internal/book"
	"github.com/Capstone-Design2/Backend/internal/bus"
	"github.com/Capstone-Design2/Backend/internal/domain"
	"github.com/Capstone-Design2/Backend/internal/engine"
	"github.com/Capstone-Design2/Backend/internal/feed"
	"github.com/Capstone-Design2/Backend/internal/intake"
	"github.com/Capstone-Design2/Backend/internal/ledger"
	"github.com/Capstone-Design2/Backend/internal/recorder"
	"github.com/Capstone-Design2/Backend/internal/storage"
)

// End-to-end scenario through the real pipeline with no network and no
// KIS account: synthetic frames → normalizer → bus → engine → ledger.
// Exits non-zero on the first step that does not behave as specified.

const instrument = "005930"

func main() {
	logger := slog.New(slog.NewTextHandler(os.Stdout, nil))
	slog.SetDefault(logger)
	slog.Info("🚀 Starting pipeline integration scenario...")

	// 1. Throwaway workspace
	dir, err := os.MkdirTemp("", "paperbroker-it-*")
	if err != nil {
		fail("create workspace", err)
	}
	defer os.RemoveAll(dir)

	store, err := storage.NewStore(filepath.Join(dir, "ledger.db"))
	if err != nil {
		fail("open store", err)
	}
	defer store.Close()

	// 2. Wire the full pipeline: bus → {engine, recorder}
	eventBus := bus.New()
	engineSub := eventBus.Subscribe("engine", 256)
	recorderSub := eventBus.Subscribe("recorder", 256)

	rec := recorder.New(store, recorderSub)
	rec.Start()

	orderBook := book.New()
	led := ledger.New(store)
	eng := engine.New(store, orderBook, led, engineSub, engine.Config{Shards: 2, QueueSize: 64})
	eng.Start()

	norm := feed.NewNormalizer()
	svc := intake.New(store, orderBook, rec, decimal.NewFromInt(10_000_000))

	ctx := context.Background()
	base := time.Now()
	publish := func(secOffset int, price int64, vol, accVol int64) {
		frame := feed.EncodeTradeFrame(instrument, base.Add(time.Duration(secOffset)*time.Second),
			decimal.NewFromInt(price), decimal.NewFromInt(price-70000), vol, accVol)
		tick, err := norm.Normalize(frame)
		if err != nil {
			fail("normalize frame", err)
		}
		if err := eventBus.Publish(tick); err != nil {
			fail("publish tick", err)
		}
	}

	// STEP 1: first tick seeds the market price
	slog.Info("STEP 1: Seeding market price...", "instrument", instrument, "price", 70000)
	publish(0, 70000, 10, 10)
	waitFor("recorder price", func() bool {
		_, ok := rec.LatestPrice(instrument)
		return ok
	})

	// STEP 2: funded account
	slog.Info("STEP 2: Creating account...")
	acct, err := svc.CreateAccount(ctx)
	if err != nil {
		fail("create account", err)
	}

	// STEP 3: resting limit buy below the market
	slog.Info("STEP 3: Submitting limit buy...", "limit", 69500, "qty", 10)
	buy, err := svc.SubmitOrder(ctx, intake.OrderRequest{
		AccountID:    acct.AccountID,
		InstrumentID: instrument,
		Side:         domain.SideBuy,
		Type:         domain.TypeLimit,
		LimitPrice:   decimal.NewFromInt(69500),
		Quantity:     10,
	})
	if err != nil {
		fail("submit buy", err)
	}

	// STEP 4: crossing tick fills it at the traded price, not the limit
	slog.Info("STEP 4: Publishing crossing tick...", "price", 69400)
	publish(1, 69400, 20, 30)
	buyExec := waitForFill(ctx, store, buy.OrderID)
	if !buyExec.Price.Equal(decimal.NewFromInt(69400)) {
		failf("buy filled at %s, want the tick price 69400", buyExec.Price)
	}
	slog.Info("✅ Buy filled at the traded price", "price", buyExec.Price)

	// STEP 5: settlement moved cash and opened the position
	checkCash(ctx, store, acct.AccountID, 10_000_000-69400*10)
	pos, found, err := store.GetPosition(ctx, acct.AccountID, instrument)
	if err != nil || !found {
		failf("position after buy: found=%v err=%v", found, err)
	}
	if pos.Quantity != 10 || !pos.AvgCost.Equal(decimal.NewFromInt(69400)) {
		failf("position = %d @ %s, want 10 @ 69400", pos.Quantity, pos.AvgCost)
	}

	// STEP 6: limit sell, filled by the next tick at or above the limit
	slog.Info("STEP 6: Submitting limit sell...", "limit", 69500, "qty", 10)
	sell, err := svc.SubmitOrder(ctx, intake.OrderRequest{
		AccountID:    acct.AccountID,
		InstrumentID: instrument,
		Side:         domain.SideSell,
		Type:         domain.TypeLimit,
		LimitPrice:   decimal.NewFromInt(69500),
		Quantity:     10,
	})
	if err != nil {
		fail("submit sell", err)
	}
	publish(2, 69600, 5, 35)
	sellExec := waitForFill(ctx, store, sell.OrderID)
	if !sellExec.Price.Equal(decimal.NewFromInt(69600)) {
		failf("sell filled at %s, want the tick price 69600", sellExec.Price)
	}
	checkCash(ctx, store, acct.AccountID, 10_000_000-69400*10+69600*10)
	if _, found, _ := store.GetPosition(ctx, acct.AccountID, instrument); found {
		failf("closed position still stored")
	}
	slog.Info("✅ Round trip settled", "pnl", (69600-69400)*10)

	// STEP 7: market buy priced from recorder's latest trade
	slog.Info("STEP 7: Submitting market buy...", "qty", 5)
	market, err := svc.SubmitOrder(ctx, intake.OrderRequest{
		AccountID:    acct.AccountID,
		InstrumentID: instrument,
		Side:         domain.SideBuy,
		Type:         domain.TypeMarket,
		Quantity:     5,
	})
	if err != nil {
		fail("submit market buy", err)
	}
	publish(3, 69700, 8, 43)
	marketExec := waitForFill(ctx, store, market.OrderID)
	if !marketExec.Price.Equal(decimal.NewFromInt(69700)) {
		failf("market buy filled at %s, want 69700", marketExec.Price)
	}

	// STEP 8: drain the pipeline and check the aggregates
	slog.Info("STEP 8: Draining pipeline...")
	eventBus.Close()
	eng.Wait()
	rec.Wait()

	if stats := eng.Stats(); stats.Fills != 3 || stats.Inconsistencies != 0 {
		failf("engine stats = %+v, want 3 clean fills", stats)
	}
	closePrice, ok, err := store.LatestClose(ctx, instrument)
	if err != nil || !ok {
		failf("latest close: ok=%v err=%v", ok, err)
	}
	if !closePrice.Equal(decimal.NewFromInt(69700)) {
		failf("latest close = %s, want 69700", closePrice)
	}

	slog.Info("🎉 Integration scenario passed!", "fills", 3)
}

func fail(step string, err error) {
	slog.Error("❌ "+step, slog.Any("error", err))
	os.Exit(1)
}

func failf(format string, args ...any) {
	slog.Error("❌ " + fmt.Sprintf(format, args...))
	os.Exit(1)
}

// waitFor polls cond until it holds, for at most three seconds.
func waitFor(what string, cond func() bool) {
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(20 * time.Millisecond)
	}
	failf("timed out waiting for %s", what)
}

// waitForFill blocks until the order's execution is persisted.
func waitForFill(ctx context.Context, store *storage.Store, orderID string) domain.Execution {
	var exec domain.Execution
	waitFor("fill of "+orderID, func() bool {
		e, ok, err := store.ExecutionForOrder(ctx, orderID)
		if err != nil {
			fail("read execution", err)
		}
		exec = e
		return ok
	})
	return exec
}

func checkCash(ctx context.Context, store *storage.Store, accountID string, want int64) {
	acct, err := store.GetAccount(ctx, accountID)
	if err != nil {
		fail("read account", err)
	}
	if !acct.CashBalance.Equal(decimal.NewFromInt(want)) {
		failf("cash = %s, want %d", acct.CashBalance, want)
	}
}

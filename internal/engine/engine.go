package engine

import (
	"context"
	"database/sql"
	"errors"
	"hash/fnv"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/Capstone-Design2/Backend/internal/book"
	"github.com/Capstone-Design2/Backend/internal/bus"
	"github.com/Capstone-Design2/Backend/internal/domain"
	"github.com/Capstone-Design2/Backend/internal/ledger"
	"github.com/Capstone-Design2/Backend/internal/storage"
)

// Config sizes the engine's worker pool.
type Config struct {
	// Shards is the number of worker goroutines. Ticks are partitioned by
	// instrument, so all orders on one instrument are always evaluated by
	// the same worker, in tick order.
	Shards int
	// QueueSize is the per-shard inbox capacity.
	QueueSize int
}

// Engine matches incoming ticks against the pending-order book and settles
// the resulting fills through the ledger. It consumes exactly one bus
// subscription; a dispatcher fans ticks out to the shard workers.
type Engine struct {
	store  *storage.Store
	book   *book.Book
	ledger *ledger.Ledger
	sub    *bus.Subscription

	shards []chan domain.Tick
	wg     sync.WaitGroup

	// Injectable for tests.
	now   func() time.Time
	newID func() string

	fills           atomic.Uint64
	lostRaces       atomic.Uint64
	inconsistencies atomic.Uint64
}

// Stats is a snapshot of the engine counters.
type Stats struct {
	Fills           uint64
	LostRaces       uint64
	Inconsistencies uint64
}

// New creates an engine reading from sub. Call Start to launch the workers.
func New(store *storage.Store, b *book.Book, l *ledger.Ledger, sub *bus.Subscription, cfg Config) *Engine {
	if cfg.Shards <= 0 {
		cfg.Shards = 1
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 1000
	}

	shards := make([]chan domain.Tick, cfg.Shards)
	for i := range shards {
		shards[i] = make(chan domain.Tick, cfg.QueueSize)
	}

	return &Engine{
		store:  store,
		book:   b,
		ledger: l,
		sub:    sub,
		shards: shards,
		now:    time.Now,
		newID:  uuid.NewString,
	}
}

// Start launches the shard workers and the dispatcher. The engine stops by
// draining: closing the bus closes the subscription channel, the dispatcher
// forwards what is left and closes the shards, and Wait returns once every
// queued tick has been evaluated.
func (e *Engine) Start() {
	for i := range e.shards {
		e.wg.Add(1)
		go e.runShard(i)
	}
	e.wg.Add(1)
	go e.dispatch()
	slog.Info("Execution engine started", slog.Int("shards", len(e.shards)))
}

// Wait blocks until the subscription is closed and all shards have drained.
func (e *Engine) Wait() {
	e.wg.Wait()
	slog.Info("Execution engine drained",
		slog.Uint64("fills", e.fills.Load()),
		slog.Uint64("lost_races", e.lostRaces.Load()))
}

// Stats returns a snapshot of the engine counters.
func (e *Engine) Stats() Stats {
	return Stats{
		Fills:           e.fills.Load(),
		LostRaces:       e.lostRaces.Load(),
		Inconsistencies: e.inconsistencies.Load(),
	}
}

func (e *Engine) dispatch() {
	defer e.wg.Done()
	defer func() {
		for _, shard := range e.shards {
			close(shard)
		}
	}()

	for tick := range e.sub.C() {
		e.shards[e.shardFor(tick.InstrumentID)] <- tick
	}
}

func (e *Engine) shardFor(instrumentID string) int {
	if len(e.shards) == 1 {
		return 0
	}
	h := fnv.New32a()
	h.Write([]byte(instrumentID))
	return int(h.Sum32() % uint32(len(e.shards)))
}

func (e *Engine) runShard(i int) {
	defer e.wg.Done()
	// A safe-math panic means corrupted state reached the fill path.
	// Halt after logging the shard context.
	defer func() {
		if r := recover(); r != nil {
			slog.Error("CRITICAL_PANIC_DETECTED", slog.Int("shard", i), slog.Any("panic", r))
			panic(r)
		}
	}()
	for tick := range e.shards[i] {
		e.handleTick(tick)
	}
}

func (e *Engine) handleTick(tick domain.Tick) {
	for _, order := range e.book.Pending(tick.InstrumentID) {
		if !shouldFill(order, tick.LastPrice) {
			continue
		}
		e.commitFill(order, tick)
	}
}

// shouldFill reports whether a tick price triggers an order. Market orders
// fill on the first tick of their instrument; limit buys need the price at
// or below the limit, limit sells at or above.
func shouldFill(order domain.Order, price decimal.Decimal) bool {
	if order.Type == domain.TypeMarket {
		return true
	}
	if order.Side == domain.SideBuy {
		return price.LessThanOrEqual(order.LimitPrice)
	}
	return price.GreaterThanOrEqual(order.LimitPrice)
}

// commitFill settles one order at the tick price. Every fill executes at
// the traded price, never the limit price.
func (e *Engine) commitFill(order domain.Order, tick domain.Tick) {
	unlock := e.ledger.LockAccount(order.AccountID)
	defer unlock()

	exec := domain.Execution{
		ExecutionID: e.newID(),
		OrderID:     order.OrderID,
		Price:       tick.LastPrice,
		Quantity:    order.Quantity,
		ExecutedAt:  e.now(),
	}

	ctx := context.Background()
	err := e.store.FillOrder(ctx, exec, func(tx *sql.Tx) error {
		return e.ledger.ApplyFill(ctx, tx, order, exec)
	})

	switch {
	case err == nil:
		e.book.Remove(order.InstrumentID, order.OrderID)
		e.fills.Add(1)
		slog.Info("Order Filled",
			slog.String("order_id", order.OrderID),
			slog.String("instrument", order.InstrumentID),
			slog.String("side", string(order.Side)),
			slog.String("price", exec.Price.String()),
			slog.Int64("qty", exec.Quantity))

	case errors.Is(err, storage.ErrNotPending):
		// Lost a cancel race: the row left PENDING between the book scan
		// and the status flip. Nothing was written; drop the stale entry.
		e.book.Remove(order.InstrumentID, order.OrderID)
		e.lostRaces.Add(1)

	default:
		var inconsistent *domain.FillInconsistencyError
		if errors.As(err, &inconsistent) {
			// The ledger refused the fill. The row stays PENDING for
			// manual reconciliation; evicting it from the book stops the
			// engine from re-attempting a fill that cannot succeed.
			e.book.Remove(order.InstrumentID, order.OrderID)
			e.inconsistencies.Add(1)
			slog.Error("FILL_INCONSISTENCY",
				slog.String("order_id", order.OrderID),
				slog.String("account_id", inconsistent.AccountID),
				slog.String("reason", inconsistent.Reason))
			return
		}

		// Transient storage failure. The order stays in the book and the
		// fill is retried on the next qualifying tick.
		slog.Error("Failed to commit fill",
			slog.String("order_id", order.OrderID),
			slog.Any("error", err))
	}
}

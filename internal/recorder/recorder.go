package recorder

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/Capstone-Design2/Backend/internal/bus"
	"github.com/Capstone-Design2/Backend/internal/domain"
	"github.com/Capstone-Design2/Backend/internal/storage"
	"github.com/Capstone-Design2/Backend/pkg/safe"
)

// Recorder aggregates the tick stream into one-minute OHLCV bars and keeps
// the latest traded price per instrument.
//
// Bars roll over on event time, not wall clock, so a replayed feed produces
// exactly the bars the live feed would have. A completed bar is flushed when
// the first tick of the next minute arrives; partial bars are flushed on
// shutdown.
type Recorder struct {
	store *storage.Store
	sub   *bus.Subscription

	// bars is touched only by the run goroutine.
	bars map[string]*domain.Bar

	mu     sync.RWMutex
	latest map[string]decimal.Decimal

	wg sync.WaitGroup
}

// New creates a recorder reading from sub. Call Start to launch it.
func New(store *storage.Store, sub *bus.Subscription) *Recorder {
	return &Recorder{
		store:  store,
		sub:    sub,
		bars:   make(map[string]*domain.Bar),
		latest: make(map[string]decimal.Decimal),
	}
}

// Start launches the aggregation goroutine. The recorder stops by draining:
// closing the bus closes the subscription, and Wait returns after the final
// partial bars are flushed.
func (r *Recorder) Start() {
	r.wg.Add(1)
	go r.run()
}

// Wait blocks until the subscription is closed and all bars are flushed.
func (r *Recorder) Wait() {
	r.wg.Wait()
}

// LatestPrice returns the most recent traded price of an instrument. The
// second return is false until the first tick arrives.
func (r *Recorder) LatestPrice(instrumentID string) (decimal.Decimal, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.latest[instrumentID]
	return p, ok
}

func (r *Recorder) run() {
	defer r.wg.Done()

	for tick := range r.sub.C() {
		r.record(tick)
	}

	flushed := 0
	for _, bar := range r.bars {
		r.flush(bar)
		flushed++
	}
	slog.Info("Recorder drained", slog.Int("partial_bars_flushed", flushed))
}

func (r *Recorder) record(tick domain.Tick) {
	r.mu.Lock()
	r.latest[tick.InstrumentID] = tick.LastPrice
	r.mu.Unlock()

	minute := tick.EventTime.Truncate(time.Minute)

	bar, ok := r.bars[tick.InstrumentID]
	if ok && !minute.Equal(bar.BarTime) {
		r.flush(bar)
		ok = false
	}
	if !ok {
		r.bars[tick.InstrumentID] = &domain.Bar{
			InstrumentID: tick.InstrumentID,
			BarTime:      minute,
			Open:         tick.LastPrice,
			High:         tick.LastPrice,
			Low:          tick.LastPrice,
			Close:        tick.LastPrice,
			Volume:       tick.Volume,
		}
		return
	}

	if tick.LastPrice.GreaterThan(bar.High) {
		bar.High = tick.LastPrice
	}
	if tick.LastPrice.LessThan(bar.Low) {
		bar.Low = tick.LastPrice
	}
	bar.Close = tick.LastPrice
	bar.Volume = safe.SafeAdd(bar.Volume, tick.Volume)
}

// flush persists one bar. A write failure is logged and the bar dropped;
// losing a minute of history must not stall the tick pipeline.
func (r *Recorder) flush(bar *domain.Bar) {
	if err := r.store.UpsertBar(context.Background(), *bar); err != nil {
		slog.Error("Failed to flush bar",
			slog.String("instrument", bar.InstrumentID),
			slog.Any("error", err))
	}
	delete(r.bars, bar.InstrumentID)
}

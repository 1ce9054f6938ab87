package feed

import (
	"context"
	"log/slog"
	"math/rand"
	"sync"
	"time"

	"github.com/shopspring/decimal"
)

// defaultSimInterval paces the walks when the caller passes no rate.
const defaultSimInterval = 300 * time.Millisecond

// Walk is one instrument's synthetic price path: a random walk on
// whole-KRW prices, at most ±0.5% per step.
type Walk struct {
	instrument string
	open       decimal.Decimal
	price      decimal.Decimal
	accVol     int64
	rng        *rand.Rand
}

// NewWalk starts a walk at the given price, rounded to whole KRW.
// The seed makes a walk reproducible.
func NewWalk(instrument string, start decimal.Decimal, seed int64) *Walk {
	start = start.Round(0)
	if !start.IsPositive() {
		start = decimal.NewFromInt(1)
	}
	return &Walk{
		instrument: instrument,
		open:       start,
		price:      start,
		rng:        rand.New(rand.NewSource(seed)),
	}
}

// Step advances the walk once and returns the resulting wire frame.
// The change field carries the move from the walk's opening price.
// The only float in the pipeline lives here, before formatting.
func (w *Walk) Step(now time.Time) string {
	pct := (w.rng.Float64()*2 - 1) * 0.005
	next := w.price.Mul(decimal.NewFromFloat(1 + pct)).Round(0)
	if !next.IsPositive() {
		next = decimal.NewFromInt(1)
	}
	w.price = next

	vol := int64(1 + w.rng.Intn(100))
	w.accVol += vol

	return EncodeTradeFrame(w.instrument, now, w.price, w.price.Sub(w.open), vol, w.accVol)
}

// StartPrice derives a stable per-instrument starting price from the
// ticker code so parallel walks do not move in lockstep.
func StartPrice(instrument string) decimal.Decimal {
	var h uint64
	for i := 0; i < len(instrument); i++ {
		h = h*31 + uint64(instrument[i])
	}
	return decimal.NewFromInt(int64(10000 + (h%90)*1000))
}

// Simulator feeds synthetic ticks through the exact path live frames
// take: wire frame, then Normalizer, then bus. Lets the full pipeline
// run with no KIS credentials and no market hours.
type Simulator struct {
	walks    []*Walk
	interval time.Duration
	norm     *Normalizer
	out      Publisher

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewSimulator builds one walk per instrument. A non-positive interval
// uses the default step rate.
func NewSimulator(instruments []string, interval time.Duration, norm *Normalizer, out Publisher) *Simulator {
	if interval <= 0 {
		interval = defaultSimInterval
	}
	walks := make([]*Walk, 0, len(instruments))
	for i, id := range instruments {
		walks = append(walks, NewWalk(id, StartPrice(id), time.Now().UnixNano()+int64(i)))
	}
	return &Simulator{walks: walks, interval: interval, norm: norm, out: out}
}

// Start launches the walk loop. It cannot fail; the error return keeps
// the signature uniform with the other feed sources.
func (s *Simulator) Start(ctx context.Context) error {
	ctx, s.cancel = context.WithCancel(ctx)
	s.wg.Add(1)
	go s.run(ctx)

	slog.Info("Simulated feed started",
		"instruments", len(s.walks),
		"interval", s.interval)
	return nil
}

// Stop halts the walk loop and waits for it to exit.
func (s *Simulator) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
	s.wg.Wait()
}

func (s *Simulator) run(ctx context.Context) {
	defer s.wg.Done()

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			for _, w := range s.walks {
				tick, err := s.norm.Normalize(w.Step(now))
				if err != nil {
					continue
				}
				if err := s.out.Publish(tick); err != nil {
					slog.Warn("Simulated feed stopping", "error", err)
					return
				}
			}
		}
	}
}

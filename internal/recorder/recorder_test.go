package recorder

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/Capstone-Design2/Backend/internal/bus"
	"github.com/Capstone-Design2/Backend/internal/domain"
	"github.com/Capstone-Design2/Backend/internal/storage"
	"github.com/Capstone-Design2/Backend/pkg/quant"
)

var seq uint64

func tick(instrument, price string, volume int64, at time.Time) domain.Tick {
	seq++
	return domain.Tick{
		InstrumentID: instrument,
		LastPrice:    decimal.RequireFromString(price),
		Volume:       volume,
		EventTime:    at,
		Sequence:     seq,
	}
}

func newTestRecorder(t *testing.T) (*Recorder, *storage.Store, *bus.Bus) {
	t.Helper()
	s, err := storage.NewStore(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("Failed to create store: %v", err)
	}
	t.Cleanup(func() { s.Close() })

	eventBus := bus.New()
	r := New(s, eventBus.Subscribe("recorder", 100))
	r.Start()
	return r, s, eventBus
}

func TestAggregatesMinuteBars(t *testing.T) {
	r, s, eventBus := newTestRecorder(t)

	minuteA := time.Date(2026, 8, 22, 13, 45, 0, 0, quant.KST)
	minuteB := minuteA.Add(time.Minute)

	ticks := []domain.Tick{
		tick("005930", "100", 1, minuteA.Add(11*time.Second)),
		tick("005930", "105", 2, minuteA.Add(20*time.Second)),
		tick("005930", "95", 3, minuteA.Add(35*time.Second)),
		tick("005930", "102", 4, minuteA.Add(59*time.Second)),
		// First tick of the next minute closes the bar above.
		tick("005930", "110", 5, minuteB.Add(2*time.Second)),
	}
	for _, tk := range ticks {
		if err := eventBus.Publish(tk); err != nil {
			t.Fatalf("Publish failed: %v", err)
		}
	}
	eventBus.Close()
	r.Wait()

	ctx := context.Background()
	barA, found, err := s.GetBar(ctx, "005930", minuteA)
	if err != nil || !found {
		t.Fatalf("GetBar(minuteA) = (%v, %v), want found", found, err)
	}
	assertBar(t, barA, "100", "105", "95", "102", 10)

	// The partial second bar is flushed on shutdown.
	barB, found, err := s.GetBar(ctx, "005930", minuteB)
	if err != nil || !found {
		t.Fatalf("GetBar(minuteB) = (%v, %v), want found", found, err)
	}
	assertBar(t, barB, "110", "110", "110", "110", 5)
}

func assertBar(t *testing.T, bar domain.Bar, open, high, low, closePrice string, volume int64) {
	t.Helper()
	if !bar.Open.Equal(decimal.RequireFromString(open)) {
		t.Errorf("open = %s, want %s", bar.Open, open)
	}
	if !bar.High.Equal(decimal.RequireFromString(high)) {
		t.Errorf("high = %s, want %s", bar.High, high)
	}
	if !bar.Low.Equal(decimal.RequireFromString(low)) {
		t.Errorf("low = %s, want %s", bar.Low, low)
	}
	if !bar.Close.Equal(decimal.RequireFromString(closePrice)) {
		t.Errorf("close = %s, want %s", bar.Close, closePrice)
	}
	if bar.Volume != volume {
		t.Errorf("volume = %d, want %d", bar.Volume, volume)
	}
}

func TestLatestPrice(t *testing.T) {
	r, _, eventBus := newTestRecorder(t)

	if _, ok := r.LatestPrice("005930"); ok {
		t.Error("expected no price before the first tick")
	}

	at := time.Date(2026, 8, 22, 13, 45, 0, 0, quant.KST)
	eventBus.Publish(tick("005930", "84600", 10, at))
	eventBus.Publish(tick("005930", "84700", 5, at.Add(time.Second)))
	eventBus.Close()
	r.Wait()

	price, ok := r.LatestPrice("005930")
	if !ok {
		t.Fatal("expected a price after ticks")
	}
	if !price.Equal(decimal.RequireFromString("84700")) {
		t.Errorf("latest price = %s, want 84700", price)
	}

	if _, ok := r.LatestPrice("000660"); ok {
		t.Error("expected no price for an instrument that never ticked")
	}
}

func TestMultiInstrumentBars(t *testing.T) {
	r, s, eventBus := newTestRecorder(t)

	minute := time.Date(2026, 8, 22, 13, 45, 0, 0, quant.KST)
	eventBus.Publish(tick("005930", "84600", 10, minute.Add(5*time.Second)))
	eventBus.Publish(tick("000660", "120000", 3, minute.Add(6*time.Second)))
	eventBus.Publish(tick("005930", "84650", 2, minute.Add(7*time.Second)))
	eventBus.Close()
	r.Wait()

	ctx := context.Background()
	samsung, found, err := s.GetBar(ctx, "005930", minute)
	if err != nil || !found {
		t.Fatalf("GetBar(005930) = (%v, %v), want found", found, err)
	}
	assertBar(t, samsung, "84600", "84650", "84600", "84650", 12)

	hynix, found, err := s.GetBar(ctx, "000660", minute)
	if err != nil || !found {
		t.Fatalf("GetBar(000660) = (%v, %v), want found", found, err)
	}
	assertBar(t, hynix, "120000", "120000", "120000", "120000", 3)

	latest, _, err := s.LatestClose(ctx, "005930")
	if err != nil {
		t.Fatalf("LatestClose failed: %v", err)
	}
	if !latest.Equal(decimal.RequireFromString("84650")) {
		t.Errorf("latest close = %s, want 84650", latest)
	}
}

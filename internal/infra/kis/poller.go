package kis

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/Capstone-Design2/Backend/internal/feed"
)

// Poller synthesizes a tick stream from the REST quote endpoint for
// environments where the realtime WebSocket is unavailable. Each cycle
// fetches a snapshot per instrument and publishes a tick only when the
// accumulated volume moved, so a quiet market publishes nothing.
// Snapshots are encoded as wire frames and run through the same
// normalizer as live ticks.
type Poller struct {
	client   *Client
	tickers  []string
	interval time.Duration
	norm     *feed.Normalizer
	out      feed.Publisher

	lastAccVol map[string]int64
	cancel     context.CancelFunc
	wg         sync.WaitGroup
}

// NewPoller creates a REST polling feed source.
func NewPoller(client *Client, tickers []string, interval time.Duration, norm *feed.Normalizer, out feed.Publisher) *Poller {
	return &Poller{
		client:     client,
		tickers:    tickers,
		interval:   interval,
		norm:       norm,
		out:        out,
		lastAccVol: make(map[string]int64),
	}
}

// Start runs the first cycle synchronously, then polls in the background
// until Stop.
func (p *Poller) Start(ctx context.Context) error {
	ctx, p.cancel = context.WithCancel(ctx)

	// Token issuance is the fail-fast credential check: a rejected app key
	// should stop the process at boot, a halted instrument should not.
	if _, err := p.client.AccessToken(ctx); err != nil {
		return err
	}
	if err := p.pollOnce(ctx); err != nil {
		slog.Warn("Initial poll incomplete", "err", err)
	}

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()

		ticker := time.NewTicker(p.interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				slog.Info("KIS poller stopped")
				return
			case <-ticker.C:
				if err := p.pollOnce(ctx); err != nil {
					slog.Warn("Poll cycle failed", "err", err)
				}
			}
		}
	}()

	slog.Info("KIS poller started", "instruments", len(p.tickers), "interval", p.interval)
	return nil
}

// Stop halts polling and waits for the in-flight cycle.
func (p *Poller) Stop() {
	if p.cancel != nil {
		p.cancel()
	}
	p.wg.Wait()
}

func (p *Poller) pollOnce(ctx context.Context) error {
	var lastErr error
	for _, ticker := range p.tickers {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		quote, err := p.client.InquirePrice(ctx, ticker)
		if err != nil {
			lastErr = err
			slog.Warn("Quote fetch failed", "instrument", ticker, "err", err)
			continue
		}

		last, seen := p.lastAccVol[ticker]
		p.lastAccVol[ticker] = quote.AccVolume
		if seen && quote.AccVolume <= last {
			continue // no trades since the previous cycle
		}

		// The first observation is a baseline snapshot, not a trade.
		tradeVol := int64(0)
		if seen {
			tradeVol = quote.AccVolume - last
		}

		frame := feed.EncodeTradeFrame(ticker, time.Now(), quote.LastPrice, quote.Change, tradeVol, quote.AccVolume)
		tick, err := p.norm.Normalize(frame)
		if err != nil {
			continue
		}
		if err := p.out.Publish(tick); err != nil {
			return fmt.Errorf("publish polled tick: %w", err)
		}
	}
	return lastErr
}

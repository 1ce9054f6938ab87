package feed

import (
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/Capstone-Design2/Backend/internal/domain"
	"github.com/Capstone-Design2/Backend/pkg/quant"
)

// instrumentState holds the staleness guard for one instrument.
// The guard key is (event time, accumulated volume): the accumulated
// volume strictly increases within a trading second, so duplicated or
// reordered frames always compare less-or-equal and get dropped.
type instrumentState struct {
	lastTime   time.Time
	lastAccVol int64
	seq        uint64
}

// Stats is a snapshot of the normalizer counters.
type Stats struct {
	Parsed           uint64
	DroppedMalformed uint64
	DroppedUnknown   uint64
	DroppedStale     uint64
}

// Normalizer parses raw KIS wire frames into Ticks and guarantees each
// instrument's tick stream is strictly ordered before it reaches the bus.
// Normalize must be driven by a single feed goroutine; Stats is safe to
// call from anywhere.
type Normalizer struct {
	registry map[string]Layout
	states   map[string]*instrumentState
	now      func() time.Time
	capture  *Capture

	parsed           atomic.Uint64
	droppedMalformed atomic.Uint64
	droppedUnknown   atomic.Uint64
	droppedStale     atomic.Uint64
}

// NewNormalizer creates a normalizer over the default layout registry.
func NewNormalizer() *Normalizer {
	return &Normalizer{
		registry: DefaultRegistry(),
		states:   make(map[string]*instrumentState),
		now:      time.Now,
	}
}

// SetCapture tees every raw frame into c before parsing. Set it before
// the feed starts. The capture sees malformed and stale frames too, so
// replaying the file reproduces the session drops and all.
func (n *Normalizer) SetCapture(c *Capture) { n.capture = c }

// Normalize parses one raw frame into zero or one Tick.
// Unknown transaction types, malformed payloads and stale frames are
// dropped: the error identifies why, and the matching counter is bumped.
func (n *Normalizer) Normalize(raw string) (domain.Tick, error) {
	if n.capture != nil {
		n.capture.Write(raw)
	}

	parts := strings.SplitN(raw, "|", 4)
	if len(parts) < 4 {
		return n.malformed("", "frame", fmt.Errorf("want flag|tr_id|count|payload, got %d parts", len(parts)))
	}
	if parts[0] != "0" && parts[0] != "1" {
		return n.malformed("", "flag", fmt.Errorf("unexpected flag %q", parts[0]))
	}

	trID := parts[1]
	layout, ok := n.registry[trID]
	if !ok {
		n.droppedUnknown.Add(1)
		slog.Warn("Dropping frame with unregistered tr_id", "tr_id", trID)
		return domain.Tick{}, fmt.Errorf("%w: %s", domain.ErrUnknownTrID, trID)
	}

	if _, err := strconv.Atoi(parts[2]); err != nil {
		return n.malformed(trID, "record_count", err)
	}

	fields := strings.Split(parts[3], "^")
	if len(fields) < layout.MinFields {
		return n.malformed(trID, "payload",
			fmt.Errorf("want >= %d fields, got %d", layout.MinFields, len(fields)))
	}

	instrumentID := strings.TrimSpace(fields[layout.Ticker])
	if instrumentID == "" {
		return n.malformed(trID, "ticker", nil)
	}

	eventTime, err := quant.ParseTradeTime(fields[layout.TradeTime], n.now())
	if err != nil {
		return n.malformed(trID, "trade_time", err)
	}
	price, err := quant.ParsePrice(fields[layout.Price])
	if err != nil {
		return n.malformed(trID, "price", err)
	}
	change, err := quant.ParsePrice(fields[layout.Change])
	if err != nil {
		return n.malformed(trID, "change", err)
	}
	change = quant.ApplySign(change, strings.TrimSpace(fields[layout.ChangeSign]))
	tradeVol, err := quant.ParseVolume(fields[layout.TradeVol])
	if err != nil {
		return n.malformed(trID, "trade_volume", err)
	}
	accVol, err := quant.ParseVolume(fields[layout.AccVol])
	if err != nil {
		return n.malformed(trID, "acc_volume", err)
	}

	st, ok := n.states[instrumentID]
	if !ok {
		st = &instrumentState{}
		n.states[instrumentID] = st
	}

	if !st.lastTime.IsZero() {
		advanced := eventTime.After(st.lastTime) ||
			(eventTime.Equal(st.lastTime) && accVol > st.lastAccVol)
		if !advanced {
			n.droppedStale.Add(1)
			return domain.Tick{}, fmt.Errorf("%w: %s at %s acc_vol %d",
				domain.ErrStaleTick, instrumentID, eventTime.Format("15:04:05"), accVol)
		}
	}
	st.lastTime = eventTime
	st.lastAccVol = accVol

	n.parsed.Add(1)
	return domain.Tick{
		InstrumentID: instrumentID,
		LastPrice:    price,
		Volume:       tradeVol,
		Change:       change,
		EventTime:    eventTime,
		Sequence:     quant.NextSeq(&st.seq),
	}, nil
}

func (n *Normalizer) malformed(trID, field string, cause error) (domain.Tick, error) {
	n.droppedMalformed.Add(1)
	return domain.Tick{}, &domain.ParseError{TrID: trID, Field: field, Cause: cause}
}

// Stats returns a snapshot of the drop counters.
func (n *Normalizer) Stats() Stats {
	return Stats{
		Parsed:           n.parsed.Load(),
		DroppedMalformed: n.droppedMalformed.Load(),
		DroppedUnknown:   n.droppedUnknown.Load(),
		DroppedStale:     n.droppedStale.Load(),
	}
}

package quant

import (
	"fmt"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/shopspring/decimal"
)

// KST is the exchange time zone for KRX instruments.
var KST = time.FixedZone("KST", 9*60*60)

// ParsePrice parses a KIS numeric field into an exact decimal.
// Empty fields parse as zero: KIS omits some fields outside trading hours.
// Rule #1: No Float in Hotpath. Every price stays decimal end-to-end.
func ParsePrice(s string) (decimal.Decimal, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return decimal.Zero, nil
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, fmt.Errorf("bad numeric field %q: %w", s, err)
	}
	return d, nil
}

// ApplySign negates v when the KIS change-sign code marks a decline.
// Codes: 1 upper limit, 2 up, 3 flat, 4 lower limit, 5 down.
func ApplySign(v decimal.Decimal, sign string) decimal.Decimal {
	if sign == "4" || sign == "5" {
		return v.Neg()
	}
	return v
}

// ParseVolume parses a share-count field. Empty fields parse as zero.
func ParseVolume(s string) (int64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, nil
	}
	v, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("bad volume field %q: %w", s, err)
	}
	if v < 0 {
		return 0, fmt.Errorf("negative volume field %q", s)
	}
	return v, nil
}

// ParseTradeTime combines a KIS HHMMSS exchange time with the current date,
// both interpreted in KST. The wire carries no date component.
func ParseTradeTime(hhmmss string, now time.Time) (time.Time, error) {
	hhmmss = strings.TrimSpace(hhmmss)
	if len(hhmmss) != 6 {
		return time.Time{}, fmt.Errorf("bad trade time %q: want HHMMSS", hhmmss)
	}

	hour, err := strconv.Atoi(hhmmss[0:2])
	if err != nil {
		return time.Time{}, fmt.Errorf("bad trade time %q: %w", hhmmss, err)
	}
	min, err := strconv.Atoi(hhmmss[2:4])
	if err != nil {
		return time.Time{}, fmt.Errorf("bad trade time %q: %w", hhmmss, err)
	}
	sec, err := strconv.Atoi(hhmmss[4:6])
	if err != nil {
		return time.Time{}, fmt.Errorf("bad trade time %q: %w", hhmmss, err)
	}
	if hour > 23 || min > 59 || sec > 59 {
		return time.Time{}, fmt.Errorf("trade time %q out of range", hhmmss)
	}

	d := now.In(KST)
	return time.Date(d.Year(), d.Month(), d.Day(), hour, min, sec, 0, KST), nil
}

// NextSeq generates the next sequence number atomically.
func NextSeq(ptr *uint64) uint64 {
	return atomic.AddUint64(ptr, 1)
}

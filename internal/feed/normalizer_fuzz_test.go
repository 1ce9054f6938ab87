package feed

import (
	"testing"
	"time"

	"github.com/Capstone-Design2/Backend/pkg/quant"

	"github.com/shopspring/decimal"
)

// FuzzNormalize feeds arbitrary bytes through the frame parser.
// Whatever arrives, it must drop cleanly instead of panicking.
func FuzzNormalize(f *testing.F) {
	f.Add("0|H0STCNT0|001|유가^005930^134511^84600^2^500^0.59^0^0^0^0^0^0^125^8250125")
	f.Add(EncodeTradeFrame("005930", time.Now(), decimal.NewFromInt(84600), decimal.Zero, 1, 1))
	f.Add("0|H0STCNT0|001|")
	f.Add("PINGPONG")
	f.Add("")
	f.Add("0|H0STCNT0|001|^^^^^^^^^^^^^^^^")
	f.Add("1|H0STCNT0|002|유가^005930^134511^84600^2^500^0.59^0^0^0^0^0^0^125^8250125^유가^005930^134512^84700^2^600^0.59^0^0^0^0^0^0^10^8250135")

	f.Fuzz(func(t *testing.T, raw string) {
		n := NewNormalizer()
		n.now = func() time.Time { return time.Date(2026, 8, 21, 13, 0, 0, 0, quant.KST) }
		_, _ = n.Normalize(raw)
	})
}

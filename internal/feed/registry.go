package feed

// TrIDTrade is the KIS realtime trade feed for domestic stocks.
const TrIDTrade = "H0STCNT0"

// Layout maps the caret-separated payload positions of one KIS
// transaction type to tick semantics. Indexes are zero-based.
type Layout struct {
	TrID      string
	MinFields int

	Ticker     int
	TradeTime  int
	Price      int
	ChangeSign int
	Change     int
	TradeVol   int
	AccVol     int
}

// DefaultRegistry returns the transaction types the normalizer understands.
// Frames carrying any other tr_id are dropped with a warning.
func DefaultRegistry() map[string]Layout {
	return map[string]Layout{
		TrIDTrade: {
			TrID:      TrIDTrade,
			MinFields: 15,

			// H0STCNT0 payload: 0 market class, 1 ticker, 2 trade time
			// HHMMSS, 3 last price, 4 change sign, 5 change, 6 change
			// rate, ..., 13 trade volume, 14 accumulated volume.
			Ticker:     1,
			TradeTime:  2,
			Price:      3,
			ChangeSign: 4,
			Change:     5,
			TradeVol:   13,
			AccVol:     14,
		},
	}
}

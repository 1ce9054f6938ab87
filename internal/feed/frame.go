package feed

import (
	"strconv"
	"strings"
	"time"

	"github.com/Capstone-Design2/Backend/pkg/quant"

	"github.com/shopspring/decimal"
)

// EncodeTradeFrame builds one wire frame in the H0STCNT0 layout.
// Payload positions the pipeline does not read are zero-filled.
// Shared by the feed simulator, the REST poller and tests so every
// source goes through the exact same normalizer path.
func EncodeTradeFrame(instrumentID string, tradeTime time.Time, price, change decimal.Decimal, tradeVol, accVol int64) string {
	fields := make([]string, 15)
	for i := range fields {
		fields[i] = "0"
	}

	sign := "3"
	abs := change
	if change.IsNegative() {
		sign = "5"
		abs = change.Neg()
	} else if change.IsPositive() {
		sign = "2"
	}

	fields[1] = instrumentID
	fields[2] = tradeTime.In(quant.KST).Format("150405")
	fields[3] = price.String()
	fields[4] = sign
	fields[5] = abs.String()
	fields[13] = strconv.FormatInt(tradeVol, 10)
	fields[14] = strconv.FormatInt(accVol, 10)

	return "0|" + TrIDTrade + "|001|" + strings.Join(fields, "^")
}

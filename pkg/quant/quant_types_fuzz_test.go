package quant

import (
	"testing"
	"time"
)

// FuzzParsePrice tests KIS numeric parsing with fuzzing.
func FuzzParsePrice(f *testing.F) {
	f.Add("84600")
	f.Add("-500")
	f.Add("0.52")
	f.Add("")
	f.Add("9223372036854775807")
	f.Add("1e10")

	f.Fuzz(func(t *testing.T, s string) {
		// Should handle invalid input gracefully (return error, not panic)
		_, _ = ParsePrice(s)
	})
}

// FuzzParseTradeTime tests HHMMSS parsing with fuzzing.
func FuzzParseTradeTime(f *testing.F) {
	f.Add("134511")
	f.Add("000000")
	f.Add("235959")
	f.Add("999999")
	f.Add("12345")
	f.Add("")

	now := time.Date(2026, 8, 22, 9, 0, 0, 0, time.UTC)
	f.Fuzz(func(t *testing.T, s string) {
		_, _ = ParseTradeTime(s, now)
	})
}

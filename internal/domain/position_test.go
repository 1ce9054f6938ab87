package domain

import (
	"testing"

	"github.com/shopspring/decimal"
)

func TestPosition_MarketValue(t *testing.T) {
	p := &Position{AccountID: "a1", InstrumentID: "005930", Quantity: 10, AvgCost: decimal.NewFromInt(1000)}

	if got := p.MarketValue(decimal.NewFromInt(1200)); !got.Equal(decimal.NewFromInt(12000)) {
		t.Errorf("MarketValue = %s, want 12000", got)
	}
}

func TestPosition_UnrealizedPnL(t *testing.T) {
	tests := []struct {
		name  string
		qty   int64
		avg   int64
		price int64
		want  int64
	}{
		{"Gain", 10, 1000, 1200, 2000},
		{"Loss", 10, 1000, 900, -1000},
		{"Flat", 5, 84600, 84600, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := &Position{Quantity: tt.qty, AvgCost: decimal.NewFromInt(tt.avg)}
			got := p.UnrealizedPnL(decimal.NewFromInt(tt.price))
			if !got.Equal(decimal.NewFromInt(tt.want)) {
				t.Errorf("UnrealizedPnL = %s, want %d", got, tt.want)
			}
		})
	}
}

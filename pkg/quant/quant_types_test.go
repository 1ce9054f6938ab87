package quant

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

func TestParsePrice(t *testing.T) {
	tests := []struct {
		input   string
		want    string
		wantErr bool
	}{
		{"84600", "84600", false},
		{" 84600 ", "84600", false},
		{"-1200", "-1200", false},
		{"0.52", "0.52", false},
		{"", "0", false},
		{"abc", "", true},
		{"12.3.4", "", true},
	}

	for _, tt := range tests {
		got, err := ParsePrice(tt.input)
		if tt.wantErr {
			if err == nil {
				t.Errorf("ParsePrice(%q) expected error, got %s", tt.input, got)
			}
			continue
		}
		if err != nil {
			t.Errorf("ParsePrice(%q) unexpected error: %v", tt.input, err)
			continue
		}
		want, _ := decimal.NewFromString(tt.want)
		if !got.Equal(want) {
			t.Errorf("ParsePrice(%q) = %s; want %s", tt.input, got, want)
		}
	}
}

func TestApplySign(t *testing.T) {
	v := decimal.NewFromInt(500)
	tests := []struct {
		sign string
		want int64
	}{
		{"1", 500},
		{"2", 500},
		{"3", 500},
		{"4", -500},
		{"5", -500},
		{"", 500},
	}

	for _, tt := range tests {
		got := ApplySign(v, tt.sign)
		if !got.Equal(decimal.NewFromInt(tt.want)) {
			t.Errorf("ApplySign(500, %q) = %s; want %d", tt.sign, got, tt.want)
		}
	}
}

func TestParseVolume(t *testing.T) {
	if v, err := ParseVolume("1234"); err != nil || v != 1234 {
		t.Errorf("ParseVolume(1234) = %d, %v", v, err)
	}
	if v, err := ParseVolume(""); err != nil || v != 0 {
		t.Errorf("ParseVolume(empty) = %d, %v", v, err)
	}
	if _, err := ParseVolume("-5"); err == nil {
		t.Error("ParseVolume(-5) expected error")
	}
	if _, err := ParseVolume("12x"); err == nil {
		t.Error("ParseVolume(12x) expected error")
	}
}

func TestParseTradeTime(t *testing.T) {
	// 16:00 UTC is already the next day in KST; the trade date must follow KST.
	now := time.Date(2026, 8, 22, 16, 0, 0, 0, time.UTC)

	got, err := ParseTradeTime("134511", now)
	if err != nil {
		t.Fatalf("ParseTradeTime: %v", err)
	}
	want := time.Date(2026, 8, 23, 13, 45, 11, 0, KST)
	if !got.Equal(want) {
		t.Errorf("got %s, want %s", got, want)
	}

	bad := []string{"1345", "", "256060", "13451x"}
	for _, s := range bad {
		if _, err := ParseTradeTime(s, now); err == nil {
			t.Errorf("ParseTradeTime(%q) expected error", s)
		}
	}
}

func TestNextSeq(t *testing.T) {
	var seq uint64
	if got := NextSeq(&seq); got != 1 {
		t.Errorf("first NextSeq = %d; want 1", got)
	}
	if got := NextSeq(&seq); got != 2 {
		t.Errorf("second NextSeq = %d; want 2", got)
	}
}

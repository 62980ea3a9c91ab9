package utils

import (
	"testing"

	"github.com/shopspring/decimal"
)

func dec(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return d
}

func TestApplyPercentage(t *testing.T) {
	cases := []struct {
		name    string
		base    string
		percent string
		want    string
	}{
		{"flat tax on round base", "100.00", "19.00", "19"},
		{"fractional base", "33.33", "10.00", "3.33"},
		{"rounds half up", "10.10", "25.00", "2.53"},
		{"rounds down below half", "10.05", "25.00", "2.51"},
		{"tiny amount rounds up", "0.01", "50.00", "0.01"},
		{"zero percent", "100.00", "0", "0"},
		{"zero base", "0", "19.00", "0"},
		{"full discount", "107.50", "100.00", "107.5"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := ApplyPercentage(dec(tc.base), dec(tc.percent))
			if !got.Equal(dec(tc.want)) {
				t.Fatalf("ApplyPercentage(%s, %s) = %s, want %s", tc.base, tc.percent, got, tc.want)
			}
		})
	}
}

func TestRoundMoney(t *testing.T) {
	if got := RoundMoney(dec("1.005")); !got.Equal(dec("1.01")) {
		t.Fatalf("RoundMoney(1.005) = %s, want 1.01", got)
	}
	if got := RoundMoney(dec("1.004")); !got.Equal(dec("1")) {
		t.Fatalf("RoundMoney(1.004) = %s, want 1.00", got)
	}
}

func TestRatioPercent(t *testing.T) {
	if got := RatioPercent(dec("50"), dec("200")); !got.Equal(dec("25")) {
		t.Fatalf("RatioPercent(50, 200) = %s, want 25", got)
	}
	if got := RatioPercent(dec("119"), dec("119")); !got.Equal(dec("100")) {
		t.Fatalf("RatioPercent(119, 119) = %s, want 100", got)
	}
	if got := RatioPercent(dec("10"), decimal.Zero); !got.IsZero() {
		t.Fatalf("RatioPercent with zero divisor = %s, want 0", got)
	}
}

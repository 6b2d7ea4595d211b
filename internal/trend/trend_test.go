package trend

import (
	"testing"

	"github.com/shopspring/decimal"
)

func prices(values ...float64) []decimal.Decimal {
	out := make([]decimal.Decimal, len(values))
	for i, v := range values {
		out[i] = decimal.NewFromFloat(v)
	}
	return out
}

func TestClassifyShortHistoryIsNeutral(t *testing.T) {
	if got := Classify(nil); got != Neutral {
		t.Fatalf("empty history: got %s", got)
	}
	if got := Classify(prices(100)); got != Neutral {
		t.Fatalf("single sample: got %s", got)
	}
}

func TestClassifyDirections(t *testing.T) {
	cases := []struct {
		name   string
		series []decimal.Decimal
		want   Direction
	}{
		{"clear rise", prices(100, 101, 103.5), Up},
		{"clear fall", prices(100, 99, 96), Down},
		{"flat", prices(100, 100.5, 100.2), Neutral},
		{"noisy middle ignored", prices(100, 180, 40, 103), Up},
		{"exactly +2 is neutral", prices(100, 102), Neutral},
		{"exactly -2 is neutral", prices(100, 98), Neutral},
		{"just over +2", prices(100, 102.01), Up},
		{"just under -2", prices(100, 97.99), Down},
	}

	for _, tc := range cases {
		if got := Classify(tc.series); got != tc.want {
			t.Fatalf("%s: got %s want %s", tc.name, got, tc.want)
		}
	}
}

func TestClassifyZeroFirstPrice(t *testing.T) {
	if got := Classify(prices(0, 50)); got != Neutral {
		t.Fatalf("zero baseline must not divide: got %s", got)
	}
}

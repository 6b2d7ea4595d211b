package app

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"crypto-monitor/internal/storage"
)

func sampleSeries(n int) []storage.PriceSample {
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	samples := make([]storage.PriceSample, n)
	for i := range samples {
		samples[i] = storage.PriceSample{
			Ticker:     "BTC",
			Price:      decimal.NewFromInt(int64(100 + i)),
			ObservedAt: base.Add(time.Duration(i) * 5 * time.Minute),
		}
	}
	return samples
}

func TestDownsampleSamples(t *testing.T) {
	samples := sampleSeries(10)

	if got := downsampleSamples(samples, 0); len(got) != 10 {
		t.Fatalf("max 0 must keep everything, got %d", len(got))
	}
	if got := downsampleSamples(samples, 20); len(got) != 10 {
		t.Fatalf("max above length must keep everything, got %d", len(got))
	}

	got := downsampleSamples(samples, 4)
	if len(got) != 4 {
		t.Fatalf("expected 4 samples, got %d", len(got))
	}
	if !got[0].Price.Equal(samples[0].Price) || !got[3].Price.Equal(samples[9].Price) {
		t.Fatal("downsampling must keep the endpoints")
	}
}

func TestDownsampleSamplesSinglePoint(t *testing.T) {
	samples := sampleSeries(10)

	got := downsampleSamples(samples, 1)
	if len(got) != 1 {
		t.Fatalf("expected 1 sample, got %d", len(got))
	}
	if !got[0].Price.Equal(samples[9].Price) {
		t.Fatalf("single-point export must keep the newest sample, got %s", got[0].Price)
	}
}

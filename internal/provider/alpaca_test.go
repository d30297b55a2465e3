package provider

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alpacahq/alpaca-trade-api-go/v3/marketdata"

	"investia/internal/ratelimit"
)

type fakeBars struct {
	req  marketdata.GetBarsRequest
	bars []marketdata.Bar
	err  error
}

func (f *fakeBars) GetBars(_ string, req marketdata.GetBarsRequest) ([]marketdata.Bar, error) {
	f.req = req
	return f.bars, f.err
}

func TestAlpacaDailyCandles(t *testing.T) {
	start := time.Date(2024, 2, 5, 5, 0, 0, 0, time.UTC)
	fake := &fakeBars{}
	for i := 0; i < 5; i++ {
		fake.bars = append(fake.bars, marketdata.Bar{
			Timestamp: start.AddDate(0, 0, i),
			Open:      100, High: 101, Low: 99,
			Close:  100 + float64(i),
			Volume: 1000,
		})
	}

	p := NewAlpacaProvider("key", "secret", "")
	p.client = fake
	p.limiter = ratelimit.NewLimiter("test", 6000)

	if !p.IsAvailable() {
		t.Fatal("provider with keys should be available")
	}

	candles, err := p.GetDailyCandles(context.Background(), "VOO", 3)
	if err != nil {
		t.Fatalf("GetDailyCandles: %v", err)
	}
	if len(candles) != 3 || candles[2].Close != 104 {
		t.Fatalf("unexpected candles %+v", candles)
	}
	if candles[0].Time.Hour() != 0 {
		t.Errorf("bars should be keyed by calendar day, got %v", candles[0].Time)
	}
	if fake.req.TimeFrame != marketdata.OneDay || fake.req.Feed != "iex" {
		t.Errorf("unexpected request %+v", fake.req)
	}
}

func TestAlpacaErrors(t *testing.T) {
	p := NewAlpacaProvider("", "", "sip")
	if p.IsAvailable() {
		t.Error("provider without keys must be unavailable")
	}

	p.limiter = ratelimit.NewLimiter("test", 6000)
	p.client = &fakeBars{err: errors.New("forbidden")}
	if _, err := p.GetDailyCandles(context.Background(), "VOO", 3); !IsRetryable(err) {
		t.Errorf("API failures should be retryable provider errors, got %v", err)
	}

	p.client = &fakeBars{}
	if _, err := p.GetDailyCandles(context.Background(), "VOO", 3); !errors.Is(err, ErrNoData) {
		t.Errorf("expected ErrNoData, got %v", err)
	}
}

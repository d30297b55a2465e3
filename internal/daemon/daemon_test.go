package daemon

import (
	"context"
	"errors"
	"math"
	"sync"
	"testing"
	"time"

	"investia/internal/advisor"
	"investia/internal/fusion"
	"investia/internal/regime"
	"investia/pkg/model"
)

type countingRefresher struct {
	mu    sync.Mutex
	calls int
	fail  func(call int) error
	after func(call int)
}

func (c *countingRefresher) Refresh(ctx context.Context, _ []model.Asset) (*advisor.Report, error) {
	c.mu.Lock()
	c.calls++
	n := c.calls
	c.mu.Unlock()

	if c.after != nil {
		defer c.after(n)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if c.fail != nil {
		if err := c.fail(n); err != nil {
			return nil, err
		}
	}
	return &advisor.Report{GeneratedAt: time.Now()}, nil
}

func (c *countingRefresher) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		cfg     Config
		wantErr bool
	}{
		{"valid", Config{Interval: time.Hour}, false},
		{"zero interval", Config{}, true},
		{"negative cycles", Config{Interval: time.Second, MaxCycles: -1}, true},
		{"negative failures", Config{Interval: time.Second, MaxFailures: -1}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}

	if _, err := New(Config{Interval: time.Second}, nil, nil); err == nil {
		t.Error("expected an error without a refresher")
	}
}

func TestRunStopsOnCancel(t *testing.T) {
	r := &countingRefresher{}
	d, err := New(Config{Interval: 10 * time.Millisecond}, r, nil)
	if err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	var sum Summary
	var runErr error
	go func() {
		defer close(done)
		sum, runErr = d.Run(ctx)
	}()

	deadline := time.After(2 * time.Second)
	for r.count() < 3 {
		select {
		case <-deadline:
			t.Fatalf("only %d cycles ran", r.count())
		case <-time.After(5 * time.Millisecond):
		}
	}
	cancel()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancellation")
	}
	if runErr != nil {
		t.Errorf("cancellation is a normal exit, got %v", runErr)
	}
	if sum.Reason != "cancelled" || sum.Cycles < 3 {
		t.Errorf("summary = %+v", sum)
	}
}

func TestRunRefreshesImmediately(t *testing.T) {
	r := &countingRefresher{}
	// an hour-long interval: only the first cycle can run
	d, err := New(Config{Interval: time.Hour, MaxCycles: 1}, r, nil)
	if err != nil {
		t.Fatal(err)
	}

	sum, err := d.Run(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if r.count() != 1 || sum.Reason != "max_cycles" {
		t.Errorf("calls = %d, summary = %+v", r.count(), sum)
	}
}

func TestRunStop(t *testing.T) {
	var d *Daemon
	r := &countingRefresher{after: func(call int) {
		if call == 2 {
			d.Stop()
		}
	}}
	var err error
	d, err = New(Config{Interval: 5 * time.Millisecond}, r, nil)
	if err != nil {
		t.Fatal(err)
	}

	sum, err := d.Run(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if sum.Reason != "cancelled" || r.count() != 2 {
		t.Errorf("calls = %d, summary = %+v", r.count(), sum)
	}
}

func TestRunConsecutiveFailures(t *testing.T) {
	offline := errors.New("offline")
	tests := []struct {
		name       string
		fail       func(call int) error
		wantErr    bool
		wantCycles int
	}{
		{"gives up after three in a row", func(int) error { return offline }, true, 3},
		{"recovery resets the count", func(call int) error {
			if call%2 == 0 {
				return nil
			}
			return offline
		}, false, 6},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := &countingRefresher{fail: tt.fail}
			d, err := New(Config{Interval: time.Millisecond, MaxCycles: 6, MaxFailures: 3}, r, nil)
			if err != nil {
				t.Fatal(err)
			}

			var reports int
			d.onReport = func(*advisor.Report) { reports++ }

			sum, err := d.Run(context.Background())
			if errors.Is(err, ErrTooManyFailures) != tt.wantErr {
				t.Fatalf("err = %v, wantErr %v", err, tt.wantErr)
			}
			if sum.Cycles != tt.wantCycles {
				t.Errorf("cycles = %d, want %d", sum.Cycles, tt.wantCycles)
			}
			if reports != sum.Cycles-sum.Failures {
				t.Errorf("report handler ran %d times for %d good cycles", reports, sum.Cycles-sum.Failures)
			}
		})
	}
}

// steppingFear serves a new fear reading on every call
type steppingFear struct {
	mu     sync.Mutex
	values []float64
	calls  int
}

func (s *steppingFear) FearIndex(context.Context, int) ([]regime.Observation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v := s.values[min(s.calls, len(s.values)-1)]
	s.calls++
	return []regime.Observation{{Date: time.Now().Add(-time.Hour), Value: v}}, nil
}

type fakePrices struct{ candles []model.Candle }

func (f *fakePrices) Name() string      { return "fake" }
func (f *fakePrices) IsAvailable() bool { return true }
func (f *fakePrices) RateLimit() int    { return 0 }

func (f *fakePrices) GetDailyCandles(_ context.Context, _ string, days int) ([]model.Candle, error) {
	c := f.candles
	if len(c) > days {
		c = c[len(c)-days:]
	}
	return c, nil
}

type memRecorder struct {
	mu      sync.Mutex
	batches int
	recs    []*fusion.Recommendation
}

func (m *memRecorder) SaveRecommendations(_ context.Context, recs []*fusion.Recommendation) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.batches++
	m.recs = append(m.recs, recs...)
	return nil
}

func TestRunWithAdvisorReadsFreshRegime(t *testing.T) {
	start := time.Now().AddDate(0, 0, -300)
	candles := make([]model.Candle, 300)
	for i := range candles {
		c := 400 * (1 + 0.1*math.Sin(float64(i)/7))
		candles[i] = model.Candle{Time: start.AddDate(0, 0, i), Open: c, High: c, Low: c, Close: c, Volume: 100}
	}

	fe, err := fusion.NewEngine(fusion.DefaultPolicy(), nil)
	if err != nil {
		t.Fatal(err)
	}
	fear := &steppingFear{values: []float64{15, 25, 45}}
	rec := &memRecorder{}
	adv := advisor.New(fe, &fakePrices{candles: candles},
		advisor.Config{Workers: 2, Timeout: 10 * time.Second, HistoryDays: 250, FearDays: 30},
		advisor.WithFearIndex(fear),
		advisor.WithRecorder(rec))

	list := []model.Asset{{Symbol: "SPY", Name: "SPY", Kind: model.KindETF, Tier: model.TierLow}}

	var levels []regime.Level
	d, err := New(Config{Interval: time.Millisecond, MaxCycles: 3}, adv, list,
		WithReportHandler(func(r *advisor.Report) { levels = append(levels, r.Regime.Level) }))
	if err != nil {
		t.Fatal(err)
	}

	if _, err := d.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}

	want := []regime.Level{regime.Calm, regime.Elevated, regime.Panic}
	if len(levels) != len(want) {
		t.Fatalf("got %d reports, want %d", len(levels), len(want))
	}
	for i := range want {
		if levels[i] != want[i] {
			t.Errorf("cycle %d regime = %s, want %s", i+1, levels[i], want[i])
		}
	}
	if rec.batches != 3 || len(rec.recs) != 3 {
		t.Errorf("recorded %d batches, %d recommendations; want one per cycle", rec.batches, len(rec.recs))
	}
}

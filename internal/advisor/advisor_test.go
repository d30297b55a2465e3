package advisor

import (
	"context"
	"errors"
	"math"
	"sync"
	"testing"
	"time"

	"investia/internal/fusion"
	"investia/internal/indicator"
	"investia/internal/provider"
	"investia/internal/regime"
	"investia/pkg/model"
)

var testNow = time.Date(2024, 12, 31, 22, 0, 0, 0, time.UTC)

type fakePrices struct {
	candles map[string][]model.Candle
}

func (f *fakePrices) Name() string      { return "fake" }
func (f *fakePrices) IsAvailable() bool { return true }
func (f *fakePrices) RateLimit() int    { return 0 }

func (f *fakePrices) GetDailyCandles(_ context.Context, symbol string, days int) ([]model.Candle, error) {
	c, ok := f.candles[symbol]
	if !ok {
		return nil, &provider.ProviderError{Provider: "fake", Err: provider.ErrNoData}
	}
	if len(c) > days {
		c = c[len(c)-days:]
	}
	return c, nil
}

type fakeFear struct {
	obs []regime.Observation
	err error
}

func (f *fakeFear) FearIndex(context.Context, int) ([]regime.Observation, error) {
	return f.obs, f.err
}

type fakeSentiment map[string]model.SentimentScore

func (f fakeSentiment) Score(_ context.Context, symbol string) (*model.SentimentScore, error) {
	if s, ok := f[symbol]; ok {
		return &s, nil
	}
	return nil, errors.New("no coverage")
}

type memRecorder struct {
	mu   sync.Mutex
	recs []*fusion.Recommendation
	err  error
}

func (m *memRecorder) SaveRecommendations(_ context.Context, recs []*fusion.Recommendation) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.recs = append(m.recs, recs...)
	return m.err
}

func series(n int, base float64) []model.Candle {
	start := testNow.AddDate(0, 0, -n)
	out := make([]model.Candle, n)
	for i := range out {
		c := base * (1 + 0.1*math.Sin(float64(i)/7))
		out[i] = model.Candle{Time: start.AddDate(0, 0, i), Open: c, High: c, Low: c, Close: c, Volume: 100}
	}
	return out
}

func asset(symbol string, tier model.RiskTier) model.Asset {
	return model.Asset{Symbol: symbol, Name: symbol, Kind: model.KindETF, Tier: tier}
}

func fearAt(v float64) *fakeFear {
	return &fakeFear{obs: []regime.Observation{
		{Date: testNow.AddDate(0, 0, -2), Value: 12},
		{Date: testNow.AddDate(0, 0, -1), Value: v},
	}}
}

func newTestAdvisor(t *testing.T, prices provider.Provider, opts ...Option) *Advisor {
	t.Helper()
	fe, err := fusion.NewEngine(fusion.DefaultPolicy(), nil)
	if err != nil {
		t.Fatal(err)
	}
	a := New(fe, prices, Config{Workers: 3, Timeout: 10 * time.Second, HistoryDays: 250}, opts...)
	a.now = func() time.Time { return testNow }
	return a
}

func TestRefresh(t *testing.T) {
	prices := &fakePrices{candles: map[string][]model.Candle{
		"BND":  series(300, 70),
		"SPY":  series(300, 450),
		"TQQQ": series(300, 60),
		"NEW":  series(10, 20),
	}}
	rec := &memRecorder{}
	a := newTestAdvisor(t, prices,
		WithFearIndex(fearAt(15)),
		WithSentiment(fakeSentiment{"SPY": model.NewSentimentScore(0.5, 12)}),
		WithRecorder(rec))

	var mu sync.Mutex
	var calls, lastDone int
	a.SetProgressCallback(func(done, total int, _ string) {
		mu.Lock()
		defer mu.Unlock()
		calls++
		if done > lastDone {
			lastDone = done
		}
		if total != 5 {
			t.Errorf("total = %d, want 5", total)
		}
	})

	list := []model.Asset{
		asset("BND", model.TierVeryLow),
		asset("SPY", model.TierMedium),
		asset("GONE", model.TierLow),
		asset("TQQQ", model.TierHigh),
		asset("NEW", model.TierHigh),
	}
	report, err := a.Refresh(context.Background(), list)
	if err != nil {
		t.Fatalf("Refresh: %v", err)
	}

	if report.Regime.Level != regime.Calm || !report.Regime.Available || report.Regime.FearIndex != 15 {
		t.Errorf("regime = %+v, want available Calm at 15", report.Regime)
	}

	wantOrder := []string{"BND", "SPY", "TQQQ"}
	if len(report.Recommendations) != len(wantOrder) {
		t.Fatalf("got %d recommendations, want %d", len(report.Recommendations), len(wantOrder))
	}
	for i, r := range report.Recommendations {
		if r.Symbol != wantOrder[i] {
			t.Errorf("recommendation %d = %s, want %s", i, r.Symbol, wantOrder[i])
		}
		if r.Regime != report.Regime {
			t.Errorf("%s fused under %+v, want the cycle regime", r.Symbol, r.Regime)
		}
	}

	if len(report.Failed) != 2 {
		t.Fatalf("failed = %+v, want GONE and NEW", report.Failed)
	}
	if report.Failed[0].Symbol != "GONE" || !errors.Is(report.Failed[0].Err, provider.ErrNoData) {
		t.Errorf("failure 0 = %+v", report.Failed[0])
	}
	if report.Failed[1].Symbol != "NEW" || !errors.Is(report.Failed[1].Err, indicator.ErrInsufficientBars) {
		t.Errorf("failure 1 = %+v", report.Failed[1])
	}

	// sentiment only covers SPY
	for _, r := range report.Recommendations {
		degradedSentiment := false
		for _, d := range r.Degraded {
			if d.Source == fusion.SourceSentiment {
				degradedSentiment = true
			}
		}
		if want := r.Symbol != "SPY"; degradedSentiment != want {
			t.Errorf("%s sentiment degraded = %v, want %v", r.Symbol, degradedSentiment, want)
		}
	}

	if calls != 5 || lastDone != 5 {
		t.Errorf("progress calls = %d, last done = %d", calls, lastDone)
	}
	if len(rec.recs) != 3 {
		t.Errorf("recorded %d recommendations, want 3", len(rec.recs))
	}
	if total := report.Count(model.ActionBuy) + report.Count(model.ActionHold) + report.Count(model.ActionSell); total != 3 {
		t.Errorf("action counts sum to %d", total)
	}
}

func TestRefreshPanicRegime(t *testing.T) {
	prices := &fakePrices{candles: map[string][]model.Candle{}}
	var list []model.Asset
	for i, sym := range []string{"A", "B", "C", "D", "E", "F"} {
		prices.candles[sym] = series(260+i*7, 40+float64(i)*13)
		list = append(list, asset(sym, model.TierHigh))
	}
	a := newTestAdvisor(t, prices, WithFearIndex(fearAt(42)))

	report, err := a.Refresh(context.Background(), list)
	if err != nil {
		t.Fatalf("Refresh: %v", err)
	}
	if report.Regime.Level != regime.Panic {
		t.Fatalf("regime = %v, want Panic", report.Regime.Level)
	}
	if n := report.Count(model.ActionBuy); n != 0 {
		t.Errorf("%d high-risk BUYs during panic", n)
	}
}

func TestRefreshFearIndexDown(t *testing.T) {
	prices := &fakePrices{candles: map[string][]model.Candle{"SPY": series(300, 450)}}
	a := newTestAdvisor(t, prices, WithFearIndex(&fakeFear{err: errors.New("timeout")}))

	report, err := a.Refresh(context.Background(), []model.Asset{asset("SPY", model.TierMedium)})
	if err != nil {
		t.Fatalf("Refresh: %v", err)
	}
	if report.Regime.Level != regime.Calm || report.Regime.Available {
		t.Errorf("regime = %+v, want unavailable Calm", report.Regime)
	}
	if len(report.Recommendations) != 1 {
		t.Fatalf("got %d recommendations", len(report.Recommendations))
	}
}

func TestRefreshRecorderErrorIsNotFatal(t *testing.T) {
	prices := &fakePrices{candles: map[string][]model.Candle{"SPY": series(300, 450)}}
	a := newTestAdvisor(t, prices, WithRecorder(&memRecorder{err: errors.New("disk full")}))

	report, err := a.Refresh(context.Background(), []model.Asset{asset("SPY", model.TierMedium)})
	if err != nil {
		t.Fatalf("Refresh: %v", err)
	}
	if len(report.Recommendations) != 1 {
		t.Errorf("got %d recommendations", len(report.Recommendations))
	}
}

func TestRefreshEmpty(t *testing.T) {
	a := newTestAdvisor(t, &fakePrices{})
	report, err := a.Refresh(context.Background(), nil)
	if err != nil {
		t.Fatalf("Refresh: %v", err)
	}
	if len(report.Recommendations) != 0 || len(report.Failed) != 0 {
		t.Errorf("unexpected report %+v", report)
	}
}

func TestRefreshCancelled(t *testing.T) {
	prices := &fakePrices{candles: map[string][]model.Candle{"SPY": series(300, 450)}}
	a := newTestAdvisor(t, prices)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := a.Refresh(ctx, []model.Asset{asset("SPY", model.TierMedium)}); !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
}

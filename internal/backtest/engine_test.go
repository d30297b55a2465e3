package backtest

import (
	"errors"
	"math"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"investia/internal/fusion"
	"investia/pkg/model"
)

func history(closes ...float64) []model.Candle {
	start := time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC)
	out := make([]model.Candle, len(closes))
	for i, c := range closes {
		out[i] = model.Candle{Time: start.AddDate(0, 0, i), Open: c, High: c, Low: c, Close: c, Volume: 1}
	}
	return out
}

func flat(n int, price float64) []model.Candle {
	closes := make([]float64, n)
	for i := range closes {
		closes[i] = price
	}
	return history(closes...)
}

// scripted returns the given action on the given day indexes and HOLD otherwise
func scripted(warmup int, actions map[int]model.Action) SourceFunc {
	return SourceFunc{
		Warmup: warmup,
		Fn: func(day Day) (*fusion.Recommendation, error) {
			act, ok := actions[day.Index]
			if !ok {
				act = model.ActionHold
			}
			return &fusion.Recommendation{Action: act, Confidence: 1, Reason: "scripted"}, nil
		},
	}
}

func newTestEngine(t *testing.T, modify ...func(*Config)) *Engine {
	t.Helper()
	cfg := DefaultConfig()
	for _, m := range modify {
		m(&cfg)
	}
	e, err := NewEngine(cfg, nil)
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}
	return e
}

func near(a, b float64) bool {
	return math.Abs(a-b) < 1e-6
}

func TestRunFlatSeriesHolds(t *testing.T) {
	e := newTestEngine(t)

	res, err := e.Run("FLAT", flat(10, 100), 10000, scripted(0, nil))
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	if len(res.Trades) != 0 {
		t.Errorf("expected no trades, got %d", len(res.Trades))
	}
	if res.FinalValue != 10000 || res.ReturnPct != 0 || res.BenchmarkReturnPct != 0 || res.MaxDrawdownPct != 0 {
		t.Errorf("unexpected result: final %.2f ret %.2f bench %.2f dd %.2f",
			res.FinalValue, res.ReturnPct, res.BenchmarkReturnPct, res.MaxDrawdownPct)
	}
	if res.Signals.Hold != 10 {
		t.Errorf("hold count = %d, want 10", res.Signals.Hold)
	}
	for i := range res.EquityCurve {
		if res.EquityCurve[i].Value != 10000 || res.BenchmarkCurve[i].Value != 10000 {
			t.Fatalf("day %d: curves should stay at 10000", i)
		}
	}
}

func TestRunScriptedRoundTrip(t *testing.T) {
	e := newTestEngine(t)
	h := history(100, 80, 50, 55, 45, 52, 58, 59, 60, 62)
	src := scripted(0, map[int]model.Action{2: model.ActionBuy, 8: model.ActionSell})

	res, err := e.Run("TEST", h, 10000, src)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	if len(res.Trades) != 2 {
		t.Fatalf("expected 2 trades, got %d", len(res.Trades))
	}
	buy, sell := res.Trades[0], res.Trades[1]
	if buy.Action != model.ActionBuy || buy.Shares != 200 || buy.Price != 50 {
		t.Errorf("unexpected buy %+v", buy)
	}
	if sell.Action != model.ActionSell || sell.Shares != 200 || sell.Value != 12000 {
		t.Errorf("unexpected sell %+v", sell)
	}

	if res.FinalValue != 12000 {
		t.Errorf("final value = %.4f, want 12000", res.FinalValue)
	}
	if !near(res.ReturnPct, 20) {
		t.Errorf("return = %.4f%%, want 20.00%%", res.ReturnPct)
	}
	if !near(res.BenchmarkReturnPct, -38) {
		t.Errorf("benchmark = %.4f%%, want -38%%", res.BenchmarkReturnPct)
	}
	// peak 11000 on day 3, trough 9000 on day 4
	if !near(res.MaxDrawdownPct, 2000.0/11000*100) {
		t.Errorf("drawdown = %.4f", res.MaxDrawdownPct)
	}

	if len(res.RoundTrips) != 1 {
		t.Fatalf("expected one round trip, got %d", len(res.RoundTrips))
	}
	rt := res.RoundTrips[0]
	if !near(rt.PnL, 2000) || !near(rt.PnLPct, 20) || rt.Days != 6 {
		t.Errorf("unexpected round trip %+v", rt)
	}
	if res.Stats.WinRate != 100 || res.Stats.Wins != 1 {
		t.Errorf("unexpected stats %+v", res.Stats)
	}
	// invested at the close of days 2..7
	if !near(res.Stats.ExposurePct, 60) {
		t.Errorf("exposure = %.2f, want 60", res.Stats.ExposurePct)
	}
}

func TestRunInsufficientData(t *testing.T) {
	e := newTestEngine(t)

	tests := []struct {
		name    string
		history []model.Candle
		warmup  int
	}{
		{"empty", nil, 0},
		{"single day", flat(1, 100), 0},
		{"warm-up eats history", flat(10, 100), 10},
		{"one day after warm-up", flat(10, 100), 9},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := e.Run("X", tt.history, 10000, scripted(tt.warmup, nil))
			if !errors.Is(err, ErrInsufficientData) {
				t.Fatalf("expected ErrInsufficientData, got %v", err)
			}
		})
	}
}

func TestRunRejectsBadInput(t *testing.T) {
	e := newTestEngine(t)
	var inErr *model.InputError

	if _, err := e.Run("X", flat(5, 100), 0, scripted(0, nil)); !errors.As(err, &inErr) {
		t.Errorf("zero capital: expected InputError, got %v", err)
	}
	if _, err := e.Run("X", history(10, 0, 10), 100, scripted(0, nil)); !errors.As(err, &inErr) {
		t.Errorf("zero close: expected InputError, got %v", err)
	}
	h := flat(3, 10)
	h[1], h[2] = h[2], h[1]
	if _, err := e.Run("X", h, 100, scripted(0, nil)); !errors.As(err, &inErr) {
		t.Errorf("unordered bars: expected InputError, got %v", err)
	}
	if _, err := e.Run("X", flat(5, 100), 100, nil); !errors.As(err, &inErr) {
		t.Errorf("nil source: expected InputError, got %v", err)
	}
}

func TestRunPropagatesSourceError(t *testing.T) {
	e := newTestEngine(t)
	boom := errors.New("boom")
	src := SourceFunc{Fn: func(day Day) (*fusion.Recommendation, error) {
		if day.Index == 3 {
			return nil, boom
		}
		return nil, nil
	}}

	if _, err := e.Run("X", flat(6, 10), 100, src); !errors.Is(err, boom) {
		t.Fatalf("expected source error, got %v", err)
	}
}

func TestRunNoLookAhead(t *testing.T) {
	e := newTestEngine(t)
	h := history(10, 11, 12, 13, 14, 15, 16, 17)

	var seen []int
	src := SourceFunc{Warmup: 2, Fn: func(day Day) (*fusion.Recommendation, error) {
		if len(day.History) != day.Index+1 {
			t.Fatalf("day %d sees %d bars", day.Index, len(day.History))
		}
		if cap(day.History) != len(day.History) {
			t.Fatalf("day %d history can reach future bars through its capacity", day.Index)
		}
		if !day.History[len(day.History)-1].Time.Equal(day.Date) || day.Close() != h[day.Index].Close {
			t.Fatalf("day %d history does not end on its own date", day.Index)
		}
		seen = append(seen, day.Index)
		return nil, nil
	}}

	res, err := e.Run("X", h, 100, src)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(seen) != 6 || seen[0] != 2 {
		t.Errorf("evaluated days = %v", seen)
	}
	if len(res.EquityCurve) != 6 || !res.Start.Equal(h[2].Time) {
		t.Errorf("curves should start at the first evaluated day")
	}
}

// A decision that depends on prices must not change when only later prices do
func TestRunPrefixStability(t *testing.T) {
	e := newTestEngine(t)
	momentum := SourceFunc{Warmup: 1, Fn: func(day Day) (*fusion.Recommendation, error) {
		h := day.History
		act := model.ActionSell
		if h[len(h)-1].Close > h[len(h)-2].Close {
			act = model.ActionBuy
		}
		return &fusion.Recommendation{Action: act}, nil
	}}

	a := history(10, 12, 11, 13, 15, 14, 20, 25, 18, 30)
	b := history(10, 12, 11, 13, 15, 14, 2, 50, 1, 90)

	ra, err := e.Run("A", a, 1000, momentum)
	if err != nil {
		t.Fatal(err)
	}
	rb, err := e.Run("B", b, 1000, momentum)
	if err != nil {
		t.Fatal(err)
	}

	for i := 0; i < 5; i++ {
		if ra.EquityCurve[i].Value != rb.EquityCurve[i].Value {
			t.Fatalf("day %d equity differs although prices up to it are equal", i)
		}
	}
}

func TestRunConservationAndBenchmark(t *testing.T) {
	e := newTestEngine(t, func(c *Config) { c.CommissionRate = 0.001; c.CashFraction = 0.5 })
	h := history(20, 21, 19.5, 18, 22, 23.25, 21, 24, 26, 25, 27, 23)
	src := scripted(0, map[int]model.Action{
		1: model.ActionBuy, 2: model.ActionBuy, 4: model.ActionSell,
		5: model.ActionSell, 6: model.ActionBuy, 9: model.ActionBuy,
	})

	res, err := e.Run("X", h, 5000, src)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	last := h[len(h)-1].Close
	if !near(res.FinalValue, res.FinalCash+res.FinalShares*last) {
		t.Errorf("final value %.6f != cash %.6f + shares*close %.6f", res.FinalValue, res.FinalCash, res.FinalShares*last)
	}
	if res.FinalCash < 0 || res.FinalShares < 0 {
		t.Errorf("negative ledger: cash %.4f shares %.4f", res.FinalCash, res.FinalShares)
	}
	if res.Signals.Sell != 2 || len(res.Trades) != 5 {
		t.Errorf("sell signals %d, trades %d", res.Signals.Sell, len(res.Trades))
	}
	for _, tr := range res.Trades {
		if tr.CashAfter < 0 {
			t.Errorf("trade left negative cash: %+v", tr)
		}
	}

	if len(res.EquityCurve) != len(res.BenchmarkCurve) {
		t.Fatal("curves must have equal length")
	}
	for i, p := range res.BenchmarkCurve {
		want := 5000 * h[i].Close / h[0].Close
		if !near(p.Value, want) {
			t.Errorf("benchmark[%d] = %.6f, want %.6f", i, p.Value, want)
		}
		if !p.Date.Equal(res.EquityCurve[i].Date) {
			t.Errorf("curve dates differ at %d", i)
		}
	}
	if res.EquityCurve[0].Value != res.BenchmarkCurve[0].Value {
		t.Error("curves must start at the same value")
	}
	if res.MaxDrawdownPct < 0 || res.MaxDrawdownPct > 100 {
		t.Errorf("drawdown %.2f out of range", res.MaxDrawdownPct)
	}
}

func TestRunWholeShares(t *testing.T) {
	e := newTestEngine(t, func(c *Config) { c.WholeShares = true })
	res, err := e.Run("X", history(30, 31), 100, scripted(0, map[int]model.Action{0: model.ActionBuy}))
	if err != nil {
		t.Fatal(err)
	}
	if res.FinalShares != 3 || res.FinalCash != 10 {
		t.Errorf("shares %.4f cash %.4f, want 3 and 10", res.FinalShares, res.FinalCash)
	}

	// Not enough cash for a single share is a no-op
	res, err = e.Run("X", history(300, 301), 100, scripted(0, map[int]model.Action{0: model.ActionBuy}))
	if err != nil {
		t.Fatal(err)
	}
	if len(res.Trades) != 0 || res.Signals.Buy != 1 {
		t.Errorf("expected an unfilled buy, got %d trades", len(res.Trades))
	}
}

func TestPortfolioLedger(t *testing.T) {
	p := NewPortfolio(1000, 0.01)

	fill, ok := p.Buy(10, 1, false, 0)
	if !ok {
		t.Fatal("buy should fill")
	}
	if fill.Value+fill.Fee > 1000+1e-9 {
		t.Errorf("cost %.6f exceeds cash", fill.Value+fill.Fee)
	}
	if p.Cash() < 0 {
		t.Errorf("negative cash %.10f", p.Cash())
	}

	if _, ok := p.Buy(10, 1, false, 1); ok {
		t.Error("dust order below the minimum should not fill")
	}

	fill, ok = p.Sell(12)
	if !ok || p.Invested() {
		t.Fatal("sell should liquidate")
	}
	if _, ok := p.Sell(12); ok {
		t.Error("selling with no shares should be a no-op")
	}
}

func TestPortfolioPanicsOnNegativeBalance(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Fatal("expected panic on negative cash")
		}
	}()
	p := &Portfolio{cash: decimal.NewFromInt(-1)}
	p.assert("test")
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name   string
		modify func(*Config)
	}{
		{"zero capital", func(c *Config) { c.InitialCapital = 0 }},
		{"zero min days", func(c *Config) { c.MinDays = 0 }},
		{"warm-up shorter than indicators", func(c *Config) { c.Warmup = 10 }},
		{"fraction above one", func(c *Config) { c.CashFraction = 1.5 }},
		{"negative commission", func(c *Config) { c.CommissionRate = -0.1 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.modify(&cfg)
			if _, err := NewEngine(cfg, nil); err == nil {
				t.Error("expected validation error")
			}
		})
	}
}

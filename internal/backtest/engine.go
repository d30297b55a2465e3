package backtest

import (
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"investia/internal/fusion"
	"investia/internal/indicator"
	"investia/pkg/model"
)

var (
	// ErrInsufficientData is returned when the evaluated window is too short
	ErrInsufficientData = errors.New("insufficient data for backtest")
	// ErrNotFound is returned for unknown symbols or symbols without history
	ErrNotFound = errors.New("not found")
)

// Day is what a signal source may see on one simulated day.
// History ends at Date; later bars are never reachable.
type Day struct {
	Index   int
	Date    time.Time
	History []model.Candle
}

// Close returns the closing price of the day
func (d Day) Close() float64 {
	return d.History[len(d.History)-1].Close
}

// SignalSource produces a recommendation for each simulated day
type SignalSource interface {
	// Lookback is the number of leading bars used only as warm-up
	Lookback() int
	Evaluate(day Day) (*fusion.Recommendation, error)
}

// SourceFunc adapts a function into a SignalSource
type SourceFunc struct {
	Warmup int
	Fn     func(day Day) (*fusion.Recommendation, error)
}

func (s SourceFunc) Lookback() int { return s.Warmup }

func (s SourceFunc) Evaluate(day Day) (*fusion.Recommendation, error) { return s.Fn(day) }

// Config holds simulation parameters
type Config struct {
	InitialCapital float64 `yaml:"initial_capital" split_words:"true"`
	Days           int     `yaml:"days" split_words:"true"`   // history requested by the runner
	Warmup         int     `yaml:"warmup" split_words:"true"` // bars before the first evaluated day
	MinDays        int     `yaml:"min_days" split_words:"true"`
	CashFraction   float64 `yaml:"cash_fraction" split_words:"true"`
	WholeShares    bool    `yaml:"whole_shares" split_words:"true"`
	CommissionRate float64 `yaml:"commission_rate" split_words:"true"`
	MinOrderValue  float64 `yaml:"min_order_value" split_words:"true"`
	MonteCarloRuns int     `yaml:"monte_carlo_runs" split_words:"true"`
	Workers        int     `yaml:"workers" split_words:"true"`
}

// DefaultConfig returns all-in/all-out sizing with no costs
func DefaultConfig() Config {
	return Config{
		InitialCapital: 10000,
		Days:           365,
		Warmup:         indicator.SMAPeriod - 1,
		MinDays:        2,
		CashFraction:   1.0,
		WholeShares:    false,
		CommissionRate: 0,
		MinOrderValue:  0.01,
		MonteCarloRuns: 1000,
		Workers:        4,
	}
}

// Validate checks the configuration
func (c Config) Validate() error {
	if c.InitialCapital <= 0 {
		return fmt.Errorf("initial_capital must be positive")
	}
	if c.Warmup < indicator.MinBars-1 {
		return fmt.Errorf("warmup must be at least %d bars, got %d", indicator.MinBars-1, c.Warmup)
	}
	if c.MinDays < 1 {
		return fmt.Errorf("min_days must be at least 1")
	}
	if c.CashFraction <= 0 || c.CashFraction > 1 {
		return fmt.Errorf("cash_fraction must be in (0,1], got %v", c.CashFraction)
	}
	if c.CommissionRate < 0 || c.CommissionRate >= 1 {
		return fmt.Errorf("commission_rate must be in [0,1), got %v", c.CommissionRate)
	}
	if c.MinOrderValue < 0 {
		return fmt.Errorf("min_order_value must not be negative")
	}
	if c.MonteCarloRuns < 0 {
		return fmt.Errorf("monte_carlo_runs must not be negative")
	}
	return nil
}

// Trade is one executed order
type Trade struct {
	Date       time.Time    `json:"date"`
	Action     model.Action `json:"action"`
	Price      float64      `json:"price"`
	Shares     float64      `json:"shares"`
	Value      float64      `json:"value"`
	Fee        float64      `json:"fee"`
	CashAfter  float64      `json:"cash_after"`
	Confidence float64      `json:"confidence"`
	Reason     string       `json:"reason"`
}

// RoundTrip is a position from its first buy to the sell that closed it
type RoundTrip struct {
	EntryDate time.Time `json:"entry_date"`
	ExitDate  time.Time `json:"exit_date"`
	Cost      float64   `json:"cost"` // including fees
	Proceeds  float64   `json:"proceeds"`
	PnL       float64   `json:"pnl"`
	PnLPct    float64   `json:"pnl_pct"`
	Days      int       `json:"days"`
}

// EquityPoint is one value of a curve
type EquityPoint struct {
	Date  time.Time `json:"date"`
	Value float64   `json:"value"`
}

// SignalCounts tallies the daily decisions
type SignalCounts struct {
	Buy  int `json:"buy"`
	Hold int `json:"hold"`
	Sell int `json:"sell"`
}

// Result is the outcome of one run
type Result struct {
	RunID              string            `json:"run_id,omitempty"`
	Symbol             string            `json:"symbol"`
	Start              time.Time         `json:"start"`
	End                time.Time         `json:"end"`
	InitialCapital     float64           `json:"initial_capital"`
	FinalValue         float64           `json:"final_value"`
	FinalCash          float64           `json:"final_cash"`
	FinalShares        float64           `json:"final_shares"`
	ReturnPct          float64           `json:"return_pct"`
	BenchmarkReturnPct float64           `json:"benchmark_return_pct"`
	MaxDrawdownPct     float64           `json:"max_drawdown_pct"`
	EquityCurve        []EquityPoint     `json:"equity_curve"`
	BenchmarkCurve     []EquityPoint     `json:"benchmark_curve"`
	Trades             []Trade           `json:"trades"`
	RoundTrips         []RoundTrip       `json:"round_trips"`
	Signals            SignalCounts      `json:"signals"`
	Degraded           int               `json:"degraded_days"`
	Stats              Stats             `json:"stats"`
	MonteCarlo         *MonteCarloResult `json:"monte_carlo,omitempty"`
}

// Period formats the simulated date range
func (r *Result) Period() string {
	return r.Start.Format("2006-01-02") + " ~ " + r.End.Format("2006-01-02")
}

// Engine replays a signal source over daily history
type Engine struct {
	config Config
	logger *zap.Logger
}

// NewEngine creates a backtest engine
func NewEngine(cfg Config, logger *zap.Logger) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid backtest config: %w", err)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{config: cfg, logger: logger}, nil
}

// Config returns the engine configuration
func (e *Engine) Config() Config {
	return e.config
}

// Run simulates trading symbol over history, which must be in ascending
// date order. Days before source.Lookback() are warm-up only; the first
// evaluated day opens the equity and benchmark curves.
func (e *Engine) Run(symbol string, history []model.Candle, initialCapital float64, source SignalSource) (*Result, error) {
	if source == nil {
		return nil, &model.InputError{Field: "source", Reason: "signal source is required"}
	}
	if initialCapital <= 0 {
		return nil, &model.InputError{Field: "initial_capital", Reason: fmt.Sprintf("%.2f must be positive", initialCapital)}
	}
	if len(history) == 0 {
		return nil, fmt.Errorf("%s: %w: empty history", symbol, ErrInsufficientData)
	}
	if err := checkHistory(history); err != nil {
		return nil, err
	}

	lookback := max(source.Lookback(), 0)
	if lookback >= len(history) || len(history)-lookback < e.config.MinDays {
		return nil, fmt.Errorf("%s: %w: %d bars, warm-up %d, need %d evaluated days",
			symbol, ErrInsufficientData, len(history), lookback, e.config.MinDays)
	}
	window := history[lookback:]

	res := &Result{
		Symbol:         symbol,
		Start:          window[0].Time,
		End:            window[len(window)-1].Time,
		InitialCapital: initialCapital,
		EquityCurve:    make([]EquityPoint, 0, len(window)),
		BenchmarkCurve: make([]EquityPoint, 0, len(window)),
	}

	pf := NewPortfolio(initialCapital, e.config.CommissionRate)
	basePrice := window[0].Close
	invested := make([]bool, 0, len(window))

	var open *RoundTrip
	for t, bar := range window {
		idx := lookback + t
		day := Day{Index: idx, Date: bar.Time, History: history[: idx+1 : idx+1]}

		rec, err := source.Evaluate(day)
		if err != nil {
			return nil, fmt.Errorf("%s: evaluate %s: %w", symbol, bar.Time.Format("2006-01-02"), err)
		}

		action, confidence, reason := model.ActionHold, 0.0, ""
		if rec != nil {
			action, confidence, reason = rec.Action, rec.Confidence, rec.Reason
			if rec.IsDegraded() {
				res.Degraded++
			}
		}

		switch action {
		case model.ActionBuy:
			res.Signals.Buy++
			fill, ok := pf.Buy(bar.Close, e.config.CashFraction, e.config.WholeShares, e.config.MinOrderValue)
			if !ok {
				break
			}
			res.Trades = append(res.Trades, newTrade(bar.Time, action, fill, pf, confidence, reason))
			if open == nil {
				open = &RoundTrip{EntryDate: bar.Time}
			}
			open.Cost += fill.Value + fill.Fee
			e.logger.Debug("buy", zap.String("symbol", symbol), zap.Time("date", bar.Time),
				zap.Float64("price", fill.Price), zap.Float64("shares", fill.Shares))

		case model.ActionSell:
			res.Signals.Sell++
			fill, ok := pf.Sell(bar.Close)
			if !ok {
				break
			}
			res.Trades = append(res.Trades, newTrade(bar.Time, action, fill, pf, confidence, reason))
			if open != nil {
				res.RoundTrips = append(res.RoundTrips, open.close(bar.Time, fill.Value-fill.Fee))
				open = nil
			}
			e.logger.Debug("sell", zap.String("symbol", symbol), zap.Time("date", bar.Time),
				zap.Float64("price", fill.Price), zap.Float64("shares", fill.Shares))

		default:
			res.Signals.Hold++
		}

		res.EquityCurve = append(res.EquityCurve, EquityPoint{Date: bar.Time, Value: pf.Value(bar.Close)})
		res.BenchmarkCurve = append(res.BenchmarkCurve, EquityPoint{Date: bar.Time, Value: initialCapital * bar.Close / basePrice})
		invested = append(invested, pf.Invested())
	}

	last := window[len(window)-1].Close
	res.FinalCash = pf.Cash()
	res.FinalShares = pf.Shares()
	res.FinalValue = pf.Value(last)
	res.ReturnPct = pctChange(initialCapital, res.FinalValue)
	res.BenchmarkReturnPct = pctChange(initialCapital, res.BenchmarkCurve[len(res.BenchmarkCurve)-1].Value)
	res.MaxDrawdownPct, _ = maxDrawdown(res.EquityCurve)
	res.Stats = computeStats(res, invested)

	e.logger.Info("backtest complete",
		zap.String("symbol", symbol),
		zap.String("period", res.Period()),
		zap.Float64("return_pct", res.ReturnPct),
		zap.Float64("benchmark_pct", res.BenchmarkReturnPct),
		zap.Int("trades", len(res.Trades)),
	)

	return res, nil
}

func newTrade(date time.Time, action model.Action, fill Fill, pf *Portfolio, confidence float64, reason string) Trade {
	return Trade{
		Date:       date,
		Action:     action,
		Price:      fill.Price,
		Shares:     fill.Shares,
		Value:      fill.Value,
		Fee:        fill.Fee,
		CashAfter:  pf.Cash(),
		Confidence: confidence,
		Reason:     reason,
	}
}

func (rt *RoundTrip) close(exit time.Time, proceeds float64) RoundTrip {
	out := *rt
	out.ExitDate = exit
	out.Proceeds = proceeds
	out.PnL = proceeds - rt.Cost
	if rt.Cost > 0 {
		out.PnLPct = out.PnL / rt.Cost * 100
	}
	out.Days = int(exit.Sub(rt.EntryDate).Hours() / 24)
	return out
}

// checkHistory rejects unordered or non-positive bars
func checkHistory(history []model.Candle) error {
	for i, c := range history {
		if c.Close <= 0 {
			return &model.InputError{Field: "history", Reason: fmt.Sprintf("non-positive close at %s", c.Time.Format("2006-01-02"))}
		}
		if i > 0 && !c.Time.After(history[i-1].Time) {
			return &model.InputError{Field: "history", Reason: fmt.Sprintf("bars out of order at %s", c.Time.Format("2006-01-02"))}
		}
	}
	return nil
}

func pctChange(from, to float64) float64 {
	return (to - from) / from * 100
}

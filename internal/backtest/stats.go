package backtest

import (
	"math"
	"math/rand/v2"
	"sort"
)

const tradingDaysPerYear = 252

// Stats are derived performance figures of a run
type Stats struct {
	TradeCount      int     `json:"trade_count"`
	RoundTrips      int     `json:"round_trips"`
	Wins            int     `json:"wins"`
	Losses          int     `json:"losses"`
	WinRate         float64 `json:"win_rate"` // % of closed round trips
	AvgWinPct       float64 `json:"avg_win_pct"`
	AvgLossPct      float64 `json:"avg_loss_pct"`
	ProfitFactor    float64 `json:"profit_factor"`
	SharpeRatio     float64 `json:"sharpe_ratio"`
	SortinoRatio    float64 `json:"sortino_ratio"`
	CAGR            float64 `json:"cagr"`
	MaxDrawdownDays int     `json:"max_drawdown_days"` // longest stretch below a prior peak, in bars
	ExposurePct     float64 `json:"exposure_pct"`
}

func computeStats(res *Result, invested []bool) Stats {
	s := Stats{
		TradeCount: len(res.Trades),
		RoundTrips: len(res.RoundTrips),
	}

	var grossWin, grossLoss float64
	var winPcts, lossPcts []float64
	for _, rt := range res.RoundTrips {
		if rt.PnL > 0 {
			s.Wins++
			grossWin += rt.PnL
			winPcts = append(winPcts, rt.PnLPct)
		} else {
			s.Losses++
			grossLoss += -rt.PnL
			lossPcts = append(lossPcts, rt.PnLPct)
		}
	}
	if s.RoundTrips > 0 {
		s.WinRate = float64(s.Wins) / float64(s.RoundTrips) * 100
	}
	s.AvgWinPct = avg(winPcts)
	s.AvgLossPct = avg(lossPcts)
	if grossLoss > 0 {
		s.ProfitFactor = grossWin / grossLoss
	}

	returns := dailyReturns(res.EquityCurve)
	var downside []float64
	for _, r := range returns {
		if r < 0 {
			downside = append(downside, r)
		}
	}
	mean := avg(returns)
	if sd := stddev(returns); sd > 0 {
		s.SharpeRatio = mean / sd * math.Sqrt(tradingDaysPerYear)
	}
	if dd := stddev(downside); dd > 0 {
		s.SortinoRatio = mean / dd * math.Sqrt(tradingDaysPerYear)
	}

	years := res.End.Sub(res.Start).Hours() / 24 / 365.25
	if years > 0 && res.FinalValue > 0 {
		s.CAGR = (math.Pow(res.FinalValue/res.InitialCapital, 1/years) - 1) * 100
	}

	_, s.MaxDrawdownDays = maxDrawdown(res.EquityCurve)

	var held int
	for _, in := range invested {
		if in {
			held++
		}
	}
	if len(invested) > 0 {
		s.ExposurePct = float64(held) / float64(len(invested)) * 100
	}

	return s
}

// maxDrawdown returns the deepest peak-to-trough decline in percent and the
// longest run of bars spent below a prior peak
func maxDrawdown(curve []EquityPoint) (float64, int) {
	if len(curve) == 0 {
		return 0, 0
	}

	peak := curve[0].Value
	var maxDD float64
	var under, longest int
	for _, p := range curve {
		if p.Value >= peak {
			peak = p.Value
			under = 0
			continue
		}
		under++
		longest = max(longest, under)
		if peak > 0 {
			maxDD = math.Max(maxDD, (peak-p.Value)/peak*100)
		}
	}
	return maxDD, longest
}

func dailyReturns(curve []EquityPoint) []float64 {
	if len(curve) < 2 {
		return nil
	}
	out := make([]float64, 0, len(curve)-1)
	for i := 1; i < len(curve); i++ {
		if prev := curve[i-1].Value; prev > 0 {
			out = append(out, curve[i].Value/prev-1)
		}
	}
	return out
}

// MonteCarloResult summarises resampled outcomes of a run's round trips
type MonteCarloResult struct {
	Simulations       int     `json:"simulations"`
	MedianReturn      float64 `json:"median_return"`
	WorstCase         float64 `json:"worst_case"` // 5th percentile
	BestCase          float64 `json:"best_case"`  // 95th percentile
	MedianMaxDrawdown float64 `json:"median_max_drawdown"`
	WorstMaxDrawdown  float64 `json:"worst_max_drawdown"` // 95th percentile
	RuinProbability   float64 `json:"ruin_probability"`   // % of paths losing RuinDrawdownPct or more
}

// RuinDrawdownPct is the drawdown counted as ruin in a simulated path
const RuinDrawdownPct = 50.0

// RunMonteCarlo draws round-trip returns with replacement and compounds them
// at full capital. The seed makes the simulation reproducible. It returns nil
// when there are no closed round trips.
func RunMonteCarlo(trips []RoundTrip, simulations int, seed uint64) *MonteCarloResult {
	if len(trips) == 0 || simulations <= 0 {
		return nil
	}

	rng := rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))

	finals := make([]float64, simulations)
	drawdowns := make([]float64, simulations)
	var ruined int

	for sim := range simulations {
		equity, peak := 1.0, 1.0
		for range trips {
			r := trips[rng.IntN(len(trips))].PnLPct / 100
			equity *= 1 + r
			peak = math.Max(peak, equity)
			drawdowns[sim] = math.Max(drawdowns[sim], (peak-equity)/peak*100)
		}
		finals[sim] = (equity - 1) * 100
		if drawdowns[sim] >= RuinDrawdownPct {
			ruined++
		}
	}

	sort.Float64s(finals)
	sort.Float64s(drawdowns)

	return &MonteCarloResult{
		Simulations:       simulations,
		MedianReturn:      finals[simulations/2],
		WorstCase:         finals[simulations/20],
		BestCase:          finals[simulations*19/20],
		MedianMaxDrawdown: drawdowns[simulations/2],
		WorstMaxDrawdown:  drawdowns[simulations*19/20],
		RuinProbability:   float64(ruined) / float64(simulations) * 100,
	}
}

func avg(vals []float64) float64 {
	if len(vals) == 0 {
		return 0
	}
	var sum float64
	for _, v := range vals {
		sum += v
	}
	return sum / float64(len(vals))
}

func stddev(vals []float64) float64 {
	if len(vals) < 2 {
		return 0
	}
	mean := avg(vals)
	var sum float64
	for _, v := range vals {
		sum += (v - mean) * (v - mean)
	}
	return math.Sqrt(sum / float64(len(vals)-1))
}

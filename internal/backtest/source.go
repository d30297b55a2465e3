package backtest

import (
	"investia/internal/fusion"
	"investia/internal/indicator"
	"investia/internal/regime"
	"investia/internal/sentiment"
	"investia/internal/trend"
	"investia/pkg/model"
)

// FusionSource evaluates each day through the fusion engine using only the
// bars, fear readings and sentiment dated on or before that day
type FusionSource struct {
	Asset     model.Asset
	Engine    *fusion.Engine
	Trend     *trend.RuleBased  // nil leaves the trend signal out
	Fear      *regime.Series    // nil reads as Calm
	Sentiment *sentiment.Series // nil leaves sentiment out
	Warmup    int               // 0 warms up the full SMA window
}

// Lookback leaves enough bars for the first indicator snapshot; the default
// covers the SMA window so the trend vote is present from the first day
func (s *FusionSource) Lookback() int {
	if s.Warmup <= 0 {
		return indicator.SMAPeriod - 1
	}
	return max(s.Warmup, indicator.MinBars-1)
}

// Evaluate builds the day's signals and fuses them
func (s *FusionSource) Evaluate(day Day) (*fusion.Recommendation, error) {
	snap, err := indicator.Build(day.History)
	if err != nil {
		return nil, err
	}

	var te *model.TrendEstimate
	if s.Trend != nil {
		// a failed estimate stays nil and fusion tags the trend as degraded
		te, _ = s.Trend.Estimate(snap.Price, s.Engine.TechnicalScore(snap))
	}

	return s.Engine.Fuse(s.Asset, snap, te, s.Sentiment.At(day.Date), s.Fear.At(day.Date))
}

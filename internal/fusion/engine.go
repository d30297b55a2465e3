package fusion

import (
	"errors"
	"fmt"
	"math"
	"strings"

	"go.uber.org/zap"

	"investia/internal/regime"
	"investia/pkg/model"
)

// ErrNoIndicator is returned when the mandatory technical snapshot is absent
var ErrNoIndicator = errors.New("indicator snapshot is required")

// Engine converts per-asset signals into a recommendation. It holds no
// mutable state and is safe for concurrent use.
type Engine struct {
	policy Policy
	logger *zap.Logger
}

// NewEngine validates the policy and creates an engine
func NewEngine(policy Policy, logger *zap.Logger) (*Engine, error) {
	if err := policy.Validate(); err != nil {
		return nil, fmt.Errorf("invalid fusion policy: %w", err)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{policy: policy, logger: logger}, nil
}

// Policy returns a copy of the engine policy
func (e *Engine) Policy() Policy {
	return e.policy
}

// Fuse combines indicator, trend and sentiment signals under the given regime.
// trend and sentiment are optional; indicator is mandatory.
func (e *Engine) Fuse(asset model.Asset, ind *model.IndicatorSnapshot, trend *model.TrendEstimate, sentiment *model.SentimentScore, reg regime.MacroRegime) (*Recommendation, error) {
	if ind == nil {
		return nil, &model.InputError{Field: "indicator", Reason: ErrNoIndicator.Error()}
	}
	if err := ind.Validate(); err != nil {
		return nil, err
	}

	rec := &Recommendation{
		Symbol: asset.Symbol,
		Date:   ind.Date,
		Regime: reg,
	}

	techScore, components := e.technicalScore(ind)
	rec.Technical = components

	trendScore, trendOK := 0.0, false
	if trend == nil {
		rec.Degraded = append(rec.Degraded, DegradedSignal{Source: SourceTrend, Reason: "no trend estimate"})
	} else if err := trend.Validate(); err != nil {
		rec.Degraded = append(rec.Degraded, DegradedSignal{Source: SourceTrend, Reason: err.Error()})
	} else {
		trendScore, trendOK = e.trendScore(trend), true
	}

	sentScore, sentOK := 0.0, false
	if sentiment == nil {
		rec.Degraded = append(rec.Degraded, DegradedSignal{Source: SourceSentiment, Reason: "no sentiment score"})
	} else if err := sentiment.Validate(); err != nil {
		rec.Degraded = append(rec.Degraded, DegradedSignal{Source: SourceSentiment, Reason: err.Error()})
	} else {
		sentScore, sentOK = sentiment.Score, true
	}

	w := e.policy.Weights
	signals := []Factor{
		{Source: SourceTechnical, Weight: w.Technical, Score: techScore, Available: true},
		{Source: SourceTrend, Weight: w.Trend, Score: trendScore, Available: trendOK},
		{Source: SourceSentiment, Weight: w.Sentiment, Score: sentScore, Available: sentOK},
	}

	// Re-normalise over the signals that are present, then scale by how much
	// of the total weight they cover. A missing signal never adds conviction.
	var covered, weighted float64
	for _, f := range signals {
		if f.Available {
			covered += f.Weight
			weighted += f.Weight * f.Score
		}
	}
	if covered > 0 {
		rec.Normalized = clamp(weighted/covered, -1, 1)
	}
	raw := clamp(rec.Normalized*covered, -1, 1)

	for i := range signals {
		if !signals[i].Available {
			signals[i].Weight = 0
			signals[i].Score = 0
		}
		signals[i].Direction = model.DirectionOf(signals[i].Score)
	}
	rec.Factors = signals
	rec.Coverage = covered
	rec.Score = raw
	rec.Confidence = math.Min(1, math.Abs(raw))

	e.decide(rec, asset)

	e.logger.Debug("fused signals",
		zap.String("symbol", asset.Symbol),
		zap.String("action", string(rec.Action)),
		zap.Float64("score", rec.Score),
		zap.String("regime", string(reg.Level)),
		zap.Int("degraded", len(rec.Degraded)),
	)

	return rec, nil
}

// decide maps the score to an action using the regime-adjusted thresholds
func (e *Engine) decide(rec *Recommendation, asset model.Asset) {
	th := e.policy.ThresholdsFor(rec.Regime.Level)
	rec.Thresholds = th

	switch {
	case rec.Score >= th.Buy && rec.Score > 0:
		rec.Action = model.ActionBuy
		if th.MaxBuyTier != nil && asset.Tier > *th.MaxBuyTier {
			rec.Action = model.ActionHold
			rec.Override = fmt.Sprintf("%s regime: %s risk tier above %s, buy suppressed",
				rec.Regime.Level, asset.Tier, *th.MaxBuyTier)
		}
	case rec.Score <= -th.Sell && rec.Score < 0:
		rec.Action = model.ActionSell
	default:
		rec.Action = model.ActionHold
		base := e.policy.ThresholdsFor(regime.Calm)
		if rec.Score >= base.Buy && th.Buy > base.Buy {
			rec.Override = fmt.Sprintf("%s regime: confidence %.2f below raised buy threshold %.2f",
				rec.Regime.Level, rec.Confidence, th.Buy)
		}
	}

	rec.Reason = describe(rec)
}

// TechnicalScore returns the blended technical vote for a snapshot
func (e *Engine) TechnicalScore(ind *model.IndicatorSnapshot) float64 {
	s, _ := e.technicalScore(ind)
	return s
}

// technicalScore votes each indicator in [-1,1] and blends the votes
func (e *Engine) technicalScore(ind *model.IndicatorSnapshot) (float64, []Factor) {
	tw := e.policy.Technical
	lv := e.policy.RSI

	var rsiVote float64
	switch {
	case ind.RSI < lv.Oversold:
		rsiVote = 1
	case ind.RSI < lv.MildLow:
		rsiVote = 0.5
	case ind.RSI > lv.Overbought:
		rsiVote = -1
	case ind.RSI > lv.MildHigh:
		rsiVote = -0.5
	}

	var macdVote float64
	switch ind.MACD {
	case model.MACDBullish:
		macdVote = 1
	case model.MACDBearish:
		macdVote = -1
	}

	// Price under the lower band is read as oversold pressure
	var bandVote float64
	switch ind.Bollinger {
	case model.BandBelow:
		bandVote = 1
	case model.BandAbove:
		bandVote = -1
	}

	var smaVote float64
	switch ind.SMATrend {
	case model.SMAUp:
		smaVote = 1
	case model.SMADown:
		smaVote = -1
	}

	components := []Factor{
		{Source: SourceRSI, Weight: tw.RSI, Score: rsiVote, Available: true},
		{Source: SourceMACD, Weight: tw.MACD, Score: macdVote, Available: ind.MACD != ""},
		{Source: SourceBollinger, Weight: tw.Bollinger, Score: bandVote, Available: ind.Bollinger != ""},
		{Source: SourceSMA, Weight: tw.SMA, Score: smaVote, Available: ind.SMATrend != model.SMAUnknown},
	}

	var sum float64
	for i := range components {
		components[i].Direction = model.DirectionOf(components[i].Score)
		sum += components[i].Contribution()
	}
	return clamp(sum, -1, 1), components
}

// trendScore scales the mean forecast change and discounts it by accuracy
func (e *Engine) trendScore(t *model.TrendEstimate) float64 {
	scaled := clamp(t.MeanChangePercent()/e.policy.TrendFullScalePct, -1, 1)
	return scaled * t.DirectionalAccuracy
}

func describe(rec *Recommendation) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s %.2f:", rec.Action, rec.Confidence)
	for _, f := range rec.Factors {
		if !f.Available {
			fmt.Fprintf(&b, " %s n/a", f.Source)
			continue
		}
		fmt.Fprintf(&b, " %s %+.2f", f.Source, f.Score)
	}
	fmt.Fprintf(&b, " (%s)", rec.Regime.Level)
	if rec.Override != "" {
		b.WriteString("; " + rec.Override)
	}
	return b.String()
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

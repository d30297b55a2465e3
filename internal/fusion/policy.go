package fusion

import (
	"fmt"
	"math"

	"investia/internal/regime"
	"investia/pkg/model"
)

// Weights blends the three signal families. They must sum to 1.
type Weights struct {
	Technical float64 `yaml:"technical" split_words:"true"`
	Trend     float64 `yaml:"trend" split_words:"true"`
	Sentiment float64 `yaml:"sentiment" split_words:"true"`
}

// Sum returns the total weight
func (w Weights) Sum() float64 {
	return w.Technical + w.Trend + w.Sentiment
}

// TechnicalWeights blends the indicator votes inside the technical score
type TechnicalWeights struct {
	RSI       float64 `yaml:"rsi" split_words:"true"`
	MACD      float64 `yaml:"macd" split_words:"true"`
	Bollinger float64 `yaml:"bollinger" split_words:"true"`
	SMA       float64 `yaml:"sma" split_words:"true"`
}

// RSILevels are the oscillator cutoffs. Readings beyond Oversold/Overbought
// vote fully, readings beyond the mild levels vote half.
type RSILevels struct {
	Oversold   float64 `yaml:"oversold" split_words:"true"`
	MildLow    float64 `yaml:"mild_low" split_words:"true"`
	MildHigh   float64 `yaml:"mild_high" split_words:"true"`
	Overbought float64 `yaml:"overbought" split_words:"true"`
}

// Policy holds every weight and threshold used by the fusion rule
type Policy struct {
	Weights   Weights          `yaml:"weights" split_words:"true"`
	Technical TechnicalWeights `yaml:"technical" split_words:"true"`
	RSI       RSILevels        `yaml:"rsi" split_words:"true"`

	BuyThreshold       float64        `yaml:"buy_threshold" split_words:"true"`
	SellThreshold      float64        `yaml:"sell_threshold" split_words:"true"`
	ElevatedBuyPremium float64        `yaml:"elevated_buy_premium" split_words:"true"`
	PanicBuyThreshold  float64        `yaml:"panic_buy_threshold" split_words:"true"`
	PanicMaxTier       model.RiskTier `yaml:"panic_max_tier" split_words:"true"`

	// Mean forecast change (percent) that maps to a full +/-1 trend score
	TrendFullScalePct float64 `yaml:"trend_full_scale_pct" split_words:"true"`
}

// DefaultPolicy returns the documented default policy
func DefaultPolicy() Policy {
	return Policy{
		Weights: Weights{
			Technical: 0.4,
			Trend:     0.4,
			Sentiment: 0.2,
		},
		Technical: TechnicalWeights{
			RSI:       0.35,
			MACD:      0.25,
			Bollinger: 0.20,
			SMA:       0.20,
		},
		RSI: RSILevels{
			Oversold:   30,
			MildLow:    40,
			MildHigh:   60,
			Overbought: 70,
		},
		BuyThreshold:       0.35,
		SellThreshold:      0.35,
		ElevatedBuyPremium: 0.15,
		PanicBuyThreshold:  0.85,
		PanicMaxTier:       model.TierVeryLow,
		TrendFullScalePct:  5.0,
	}
}

const weightTolerance = 1e-9

// Validate checks the policy invariants. It is called once at startup.
func (p Policy) Validate() error {
	for name, w := range map[string]float64{
		"weights.technical": p.Weights.Technical,
		"weights.trend":     p.Weights.Trend,
		"weights.sentiment": p.Weights.Sentiment,
		"technical.rsi":     p.Technical.RSI,
		"technical.macd":    p.Technical.MACD,
		"technical.boll":    p.Technical.Bollinger,
		"technical.sma":     p.Technical.SMA,
	} {
		if math.IsNaN(w) || w < 0 || w > 1 {
			return fmt.Errorf("%s must be in [0,1], got %v", name, w)
		}
	}
	if sum := p.Weights.Sum(); math.Abs(sum-1) > weightTolerance {
		return fmt.Errorf("signal weights must sum to 1, got %.6f", sum)
	}
	techSum := p.Technical.RSI + p.Technical.MACD + p.Technical.Bollinger + p.Technical.SMA
	if math.Abs(techSum-1) > weightTolerance {
		return fmt.Errorf("technical weights must sum to 1, got %.6f", techSum)
	}

	for name, th := range map[string]float64{
		"buy_threshold":       p.BuyThreshold,
		"sell_threshold":      p.SellThreshold,
		"panic_buy_threshold": p.PanicBuyThreshold,
		"elevated buy":        p.BuyThreshold + p.ElevatedBuyPremium,
	} {
		if math.IsNaN(th) || th < 0 || th > 1 {
			return fmt.Errorf("%s must be in [0,1], got %v", name, th)
		}
	}
	if p.ElevatedBuyPremium < 0 {
		return fmt.Errorf("elevated_buy_premium must not be negative")
	}
	if p.PanicBuyThreshold < p.BuyThreshold+p.ElevatedBuyPremium {
		return fmt.Errorf("panic_buy_threshold (%.2f) must not be below the elevated buy threshold (%.2f)",
			p.PanicBuyThreshold, p.BuyThreshold+p.ElevatedBuyPremium)
	}
	if p.PanicMaxTier < model.TierVeryLow || p.PanicMaxTier > model.TierHigh {
		return fmt.Errorf("panic_max_tier out of range: %v", p.PanicMaxTier)
	}

	r := p.RSI
	if !(0 <= r.Oversold && r.Oversold <= r.MildLow && r.MildLow <= r.MildHigh && r.MildHigh <= r.Overbought && r.Overbought <= 100) {
		return fmt.Errorf("rsi levels must satisfy 0 <= oversold <= mild_low <= mild_high <= overbought <= 100")
	}
	if p.TrendFullScalePct <= 0 {
		return fmt.Errorf("trend_full_scale_pct must be positive")
	}
	return nil
}

// Thresholds are the regime-adjusted decision cutoffs
type Thresholds struct {
	Buy  float64 `json:"buy"`
	Sell float64 `json:"sell"`
	// Panic only: assets riskier than this tier cannot be bought
	MaxBuyTier *model.RiskTier `json:"max_buy_tier,omitempty"`
}

// ThresholdsFor returns the cutoffs for a regime level. Buy thresholds are
// non-decreasing from Calm to Panic.
func (p Policy) ThresholdsFor(level regime.Level) Thresholds {
	switch level {
	case regime.Panic:
		tier := p.PanicMaxTier
		return Thresholds{Buy: p.PanicBuyThreshold, Sell: p.SellThreshold, MaxBuyTier: &tier}
	case regime.Elevated:
		return Thresholds{Buy: p.BuyThreshold + p.ElevatedBuyPremium, Sell: p.SellThreshold}
	default:
		return Thresholds{Buy: p.BuyThreshold, Sell: p.SellThreshold}
	}
}

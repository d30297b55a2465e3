package model

import (
	"math"
	"time"
)

// MACDSignal is the MACD line position relative to its signal line
type MACDSignal string

const (
	MACDBullish MACDSignal = "bullish"
	MACDBearish MACDSignal = "bearish"
	MACDNeutral MACDSignal = "neutral"
)

// BandPosition is the price location relative to the Bollinger bands
type BandPosition string

const (
	BandBelow  BandPosition = "below"
	BandWithin BandPosition = "within"
	BandAbove  BandPosition = "above"
)

// SMATrend is the price relation to its 200-day moving average.
// SMAUnknown is used when there is not enough history for the average.
type SMATrend string

const (
	SMAUp      SMATrend = "up"
	SMADown    SMATrend = "down"
	SMAUnknown SMATrend = ""
)

// IndicatorSnapshot is the technical state of an asset on one day
type IndicatorSnapshot struct {
	Date      time.Time    `json:"date"`
	RSI       float64      `json:"rsi"`
	MACD      MACDSignal   `json:"macd"`
	Bollinger BandPosition `json:"bollinger"`
	SMATrend  SMATrend     `json:"sma_trend"`
	Price     float64      `json:"price"`
}

// Validate checks the snapshot invariants
func (s *IndicatorSnapshot) Validate() error {
	if math.IsNaN(s.RSI) || s.RSI < 0 || s.RSI > 100 {
		return inputErrorf("indicator.rsi", "%.2f outside [0,100]", s.RSI)
	}
	if math.IsNaN(s.Price) || s.Price <= 0 {
		return inputErrorf("indicator.price", "%.4f must be positive", s.Price)
	}
	switch s.MACD {
	case MACDBullish, MACDBearish, MACDNeutral, "":
	default:
		return inputErrorf("indicator.macd", "unknown signal %q", s.MACD)
	}
	switch s.Bollinger {
	case BandBelow, BandWithin, BandAbove, "":
	default:
		return inputErrorf("indicator.bollinger", "unknown position %q", s.Bollinger)
	}
	switch s.SMATrend {
	case SMAUp, SMADown, SMAUnknown:
	default:
		return inputErrorf("indicator.sma_trend", "unknown trend %q", s.SMATrend)
	}
	return nil
}

// TrendPoint is one forecast step
type TrendPoint struct {
	DayOffset      int     `json:"day"`
	PredictedPrice float64 `json:"predicted_price"`
	ChangePercent  float64 `json:"change_percent"`
}

// TrendEstimate is a forward price expectation with the estimator's
// historical directional accuracy
type TrendEstimate struct {
	Points              []TrendPoint `json:"predictions"`
	DirectionalAccuracy float64      `json:"directional_accuracy"`
}

// Validate checks horizon ordering and accuracy bounds
func (t *TrendEstimate) Validate() error {
	if len(t.Points) == 0 {
		return inputErrorf("trend.points", "empty forecast horizon")
	}
	for i, p := range t.Points {
		if p.DayOffset != i+1 {
			return inputErrorf("trend.points", "day offset %d at position %d, want %d", p.DayOffset, i, i+1)
		}
		if math.IsNaN(p.ChangePercent) || math.IsInf(p.ChangePercent, 0) {
			return inputErrorf("trend.points", "change percent at day %d is not finite", p.DayOffset)
		}
	}
	if math.IsNaN(t.DirectionalAccuracy) || t.DirectionalAccuracy < 0 || t.DirectionalAccuracy > 1 {
		return inputErrorf("trend.directional_accuracy", "%.3f outside [0,1]", t.DirectionalAccuracy)
	}
	return nil
}

// MeanChangePercent averages the predicted change across the horizon
func (t *TrendEstimate) MeanChangePercent() float64 {
	if len(t.Points) == 0 {
		return 0
	}
	var sum float64
	for _, p := range t.Points {
		sum += p.ChangePercent
	}
	return sum / float64(len(t.Points))
}

// SentimentLabel is the discrete news tone
type SentimentLabel string

const (
	SentimentBullish SentimentLabel = "Bullish"
	SentimentBearish SentimentLabel = "Bearish"
	SentimentNeutral SentimentLabel = "Neutral"
)

// SentimentLabelCutoff is the score magnitude above which tone is no longer neutral
const SentimentLabelCutoff = 0.15

// SentimentScore is the news tone of an asset
type SentimentScore struct {
	Label        SentimentLabel `json:"label"`
	Score        float64        `json:"score"`
	ArticleCount int            `json:"count"`
}

// LabelFor maps a score to its label
func LabelFor(score float64) SentimentLabel {
	switch {
	case score > SentimentLabelCutoff:
		return SentimentBullish
	case score < -SentimentLabelCutoff:
		return SentimentBearish
	default:
		return SentimentNeutral
	}
}

// NewSentimentScore clamps the score to [-1,1] and derives a consistent label.
// Without recent articles the score decays to Neutral/0.
func NewSentimentScore(score float64, articles int) SentimentScore {
	if articles <= 0 || math.IsNaN(score) {
		return SentimentScore{Label: SentimentNeutral}
	}
	score = math.Max(-1, math.Min(1, score))
	return SentimentScore{Label: LabelFor(score), Score: score, ArticleCount: articles}
}

// Validate checks the label/score consistency
func (s *SentimentScore) Validate() error {
	if math.IsNaN(s.Score) || s.Score < -1 || s.Score > 1 {
		return inputErrorf("sentiment.score", "%.3f outside [-1,1]", s.Score)
	}
	if s.ArticleCount < 0 {
		return inputErrorf("sentiment.count", "negative article count %d", s.ArticleCount)
	}
	if want := LabelFor(s.Score); s.Label != want {
		return inputErrorf("sentiment.label", "%s inconsistent with score %.3f (want %s)", s.Label, s.Score, want)
	}
	return nil
}

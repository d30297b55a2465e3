package fusion

import (
	"time"

	"investia/internal/regime"
	"investia/pkg/model"
)

// Source names a signal family or technical component
type Source string

const (
	SourceTechnical Source = "technical"
	SourceTrend     Source = "trend"
	SourceSentiment Source = "sentiment"

	SourceRSI       Source = "technical.rsi"
	SourceMACD      Source = "technical.macd"
	SourceBollinger Source = "technical.bollinger"
	SourceSMA       Source = "technical.sma200"
)

// Factor is one contribution to the fused score
type Factor struct {
	Source    Source          `json:"source"`
	Weight    float64         `json:"weight"` // policy weight; zeroed when the signal is missing
	Score     float64         `json:"score"`  // signal value in [-1,1]
	Direction model.Direction `json:"direction"`
	Available bool            `json:"available"`
}

// Contribution is the weighted share of this factor in the raw score
func (f Factor) Contribution() float64 {
	return f.Weight * f.Score
}

// DegradedSignal tags an optional input that was missing or unusable
type DegradedSignal struct {
	Source Source `json:"source"`
	Reason string `json:"reason"`
}

// Recommendation is the fused decision for one asset on one day
type Recommendation struct {
	Symbol     string       `json:"symbol"`
	Date       time.Time    `json:"date"`
	Action     model.Action `json:"action"`
	Confidence float64      `json:"confidence"` // |Score|, in [0,1]
	Score      float64      `json:"score"`      // signed raw score in [-1,1]
	Normalized float64      `json:"normalized"` // score over the available signals only

	Factors   []Factor         `json:"factors"`
	Technical []Factor         `json:"technical"`
	Degraded  []DegradedSignal `json:"degraded,omitempty"`
	Coverage  float64          `json:"coverage"` // share of signal weight backed by real inputs

	Regime     regime.MacroRegime `json:"regime"`
	Thresholds Thresholds         `json:"thresholds"`
	Override   string             `json:"override,omitempty"`
	Reason     string             `json:"reason"`
}

// IsDegraded reports whether any optional signal was missing
func (r *Recommendation) IsDegraded() bool {
	return len(r.Degraded) > 0
}

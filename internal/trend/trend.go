// Package trend builds TrendEstimate values, either from an external
// forecaster's output or from a drift rule on the technical score.
package trend

import (
	"errors"
	"fmt"
	"math"

	"investia/pkg/model"
)

// ErrNoForecast is returned when a forecaster produced no points
var ErrNoForecast = errors.New("empty forecast")

// FromForecast converts predicted prices for days 1..n into an estimate
func FromForecast(current float64, predicted []float64, accuracy float64) (*model.TrendEstimate, error) {
	if len(predicted) == 0 {
		return nil, ErrNoForecast
	}
	if current <= 0 || math.IsNaN(current) {
		return nil, &model.InputError{Field: "trend.current", Reason: fmt.Sprintf("%.4f must be positive", current)}
	}

	te := &model.TrendEstimate{
		Points:              make([]model.TrendPoint, len(predicted)),
		DirectionalAccuracy: accuracy,
	}
	for i, p := range predicted {
		te.Points[i] = model.TrendPoint{
			DayOffset:      i + 1,
			PredictedPrice: p,
			ChangePercent:  (p - current) / current * 100,
		}
	}

	if err := te.Validate(); err != nil {
		return nil, err
	}
	return te, nil
}

// RuleBased projects a constant daily drift chosen from the technical score.
// It stands in for a learned model when none is available.
type RuleBased struct {
	Horizon     int     `yaml:"horizon" split_words:"true"`
	Accuracy    float64 `yaml:"accuracy" split_words:"true"`
	Strong      float64 `yaml:"strong" split_words:"true"`       // |score| for the strong drift
	Mild        float64 `yaml:"mild" split_words:"true"`         // |score| for the mild drift
	StrongDrift float64 `yaml:"strong_drift" split_words:"true"` // fraction per day
	MildDrift   float64 `yaml:"mild_drift" split_words:"true"`
}

// DefaultRuleBased returns a five day projection of +/-0.5% or +/-0.2% a day
func DefaultRuleBased() RuleBased {
	return RuleBased{
		Horizon:     5,
		Accuracy:    0.5,
		Strong:      0.6,
		Mild:        0.25,
		StrongDrift: 0.005,
		MildDrift:   0.002,
	}
}

// Validate checks the rule parameters
func (r RuleBased) Validate() error {
	if r.Horizon < 1 {
		return fmt.Errorf("trend horizon must be at least 1, got %d", r.Horizon)
	}
	if r.Accuracy < 0 || r.Accuracy > 1 {
		return fmt.Errorf("trend accuracy must be in [0,1], got %v", r.Accuracy)
	}
	if r.Mild <= 0 || r.Strong < r.Mild {
		return fmt.Errorf("trend levels must satisfy 0 < mild <= strong")
	}
	return nil
}

// Drift returns the daily fractional change implied by a technical score
func (r RuleBased) Drift(score float64) float64 {
	switch {
	case score >= r.Strong:
		return r.StrongDrift
	case score >= r.Mild:
		return r.MildDrift
	case score <= -r.Strong:
		return -r.StrongDrift
	case score <= -r.Mild:
		return -r.MildDrift
	}
	return 0
}

// Estimate compounds the drift from the current price over the horizon
func (r RuleBased) Estimate(price, score float64) (*model.TrendEstimate, error) {
	drift := r.Drift(score)
	predicted := make([]float64, r.Horizon)
	p := price
	for i := range predicted {
		p *= 1 + drift
		predicted[i] = p
	}
	return FromForecast(price, predicted, r.Accuracy)
}

package indicator

import (
	"errors"
	"fmt"
	"math"

	"github.com/cinar/indicator"

	"investia/pkg/model"
)

const (
	// MinBars covers the slow MACD EMA (26) plus its signal line (9)
	MinBars = 35
	// SMAPeriod is the long trend filter
	SMAPeriod = 200
)

// ErrInsufficientBars is returned when the history is too short for MACD
var ErrInsufficientBars = errors.New("insufficient bars for indicators")

// Values holds the raw indicator readings for the last bar
type Values struct {
	RSI        float64
	MACD       float64
	MACDSignal float64
	BBUpper    float64
	BBMiddle   float64
	BBLower    float64
	SMA200     float64 // 0 when fewer than SMAPeriod bars
}

// Compute calculates the indicator readings for the last candle
func Compute(candles []model.Candle) (*Values, error) {
	if len(candles) < MinBars {
		return nil, fmt.Errorf("%w: need %d, got %d", ErrInsufficientBars, MinBars, len(candles))
	}

	closes := model.Closes(candles)
	last := len(closes) - 1

	_, rsi := indicator.Rsi(closes)
	macd, signal := indicator.Macd(closes)
	middle, upper, lower := indicator.BollingerBands(closes)

	v := &Values{
		RSI:        sanitizeRSI(rsi[last]),
		MACD:       macd[last],
		MACDSignal: signal[last],
		BBUpper:    upper[last],
		BBMiddle:   middle[last],
		BBLower:    lower[last],
	}

	if len(closes) >= SMAPeriod {
		sma := indicator.Sma(SMAPeriod, closes)
		v.SMA200 = sma[last]
	}

	return v, nil
}

// Build turns the readings for the last candle into a categorical snapshot
func Build(candles []model.Candle) (*model.IndicatorSnapshot, error) {
	v, err := Compute(candles)
	if err != nil {
		return nil, err
	}

	bar := candles[len(candles)-1]
	snap := &model.IndicatorSnapshot{
		Date:      bar.Time,
		RSI:       v.RSI,
		MACD:      v.macdSignal(),
		Bollinger: v.band(bar.Close),
		SMATrend:  v.smaTrend(bar.Close),
		Price:     bar.Close,
	}
	if err := snap.Validate(); err != nil {
		return nil, err
	}
	return snap, nil
}

func (v *Values) macdSignal() model.MACDSignal {
	switch {
	case v.MACD > v.MACDSignal:
		return model.MACDBullish
	case v.MACD < v.MACDSignal:
		return model.MACDBearish
	default:
		return model.MACDNeutral
	}
}

func (v *Values) band(price float64) model.BandPosition {
	switch {
	case price < v.BBLower:
		return model.BandBelow
	case price > v.BBUpper:
		return model.BandAbove
	default:
		return model.BandWithin
	}
}

func (v *Values) smaTrend(price float64) model.SMATrend {
	if v.SMA200 <= 0 {
		return model.SMAUnknown
	}
	if price >= v.SMA200 {
		return model.SMAUp
	}
	return model.SMADown
}

// A series with no movement has no gains or losses; treat it as neutral
func sanitizeRSI(v float64) float64 {
	if math.IsNaN(v) {
		return 50
	}
	return math.Max(0, math.Min(100, v))
}

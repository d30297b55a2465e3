package regime

import (
	"math"
	"sort"
	"time"
)

// Level is the market-wide risk state derived from the fear index
type Level string

const (
	Calm     Level = "Calm"
	Elevated Level = "Elevated"
	Panic    Level = "Panic"
)

// Fear index boundaries. Elevated is (ElevatedAbove, PanicAbove], Panic is above PanicAbove.
const (
	ElevatedAbove = 20.0
	PanicAbove    = 30.0
)

// Severity orders levels from calm to panic
func (l Level) Severity() int {
	switch l {
	case Elevated:
		return 1
	case Panic:
		return 2
	default:
		return 0
	}
}

// MacroRegime is computed once per refresh cycle and shared read-only by
// every fusion of that cycle.
type MacroRegime struct {
	FearIndex float64 `json:"fear_index"`
	Level     Level   `json:"regime"`
	Available bool    `json:"available"`
}

// Classify derives the regime from a fear index reading.
// Negative or non-finite readings are treated as unavailable.
func Classify(fearIndex float64) MacroRegime {
	if math.IsNaN(fearIndex) || math.IsInf(fearIndex, 0) || fearIndex < 0 {
		return Unavailable()
	}

	r := MacroRegime{FearIndex: fearIndex, Level: Calm, Available: true}
	switch {
	case fearIndex > PanicAbove:
		r.Level = Panic
	case fearIndex > ElevatedAbove:
		r.Level = Elevated
	}
	return r
}

// Unavailable is the regime used when the index cannot be read: Calm
func Unavailable() MacroRegime {
	return MacroRegime{Level: Calm}
}

// Observation is one dated fear index reading
type Observation struct {
	Date  time.Time `json:"date"`
	Value float64   `json:"value"`
}

// Series is a chronologically sorted fear index history
type Series struct {
	obs []Observation
}

// NewSeries copies and sorts the observations by date
func NewSeries(obs []Observation) *Series {
	sorted := make([]Observation, len(obs))
	copy(sorted, obs)
	sort.Slice(sorted, func(i, j int) bool {
		return sorted[i].Date.Before(sorted[j].Date)
	})
	return &Series{obs: sorted}
}

// Len returns the number of observations
func (s *Series) Len() int {
	if s == nil {
		return 0
	}
	return len(s.obs)
}

// At returns the regime of the latest reading on or before date.
// Readings after date are never consulted.
func (s *Series) At(date time.Time) MacroRegime {
	if s == nil || len(s.obs) == 0 {
		return Unavailable()
	}
	// first index strictly after date
	idx := sort.Search(len(s.obs), func(i int) bool {
		return s.obs[i].Date.After(date)
	})
	if idx == 0 {
		return Unavailable()
	}
	return Classify(s.obs[idx-1].Value)
}

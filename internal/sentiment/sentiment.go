// Package sentiment supplies pre-scored news sentiment. Text scoring itself
// happens upstream; this package only stores and looks up the results.
package sentiment

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	"investia/pkg/model"
)

// Source returns the current sentiment for a symbol. A nil score with a nil
// error means nothing is known.
type Source interface {
	Score(ctx context.Context, symbol string) (*model.SentimentScore, error)
}

// Observation is the aggregated score of one day's articles
type Observation struct {
	Date     time.Time `json:"date"`
	Score    float64   `json:"score"`
	Articles int       `json:"articles"`
}

// Series is a dated sentiment history for one symbol
type Series struct {
	obs    []Observation
	maxAge time.Duration
}

// NewSeries sorts the observations. Readings older than maxAge relative to
// the lookup date are ignored; zero means no limit.
func NewSeries(obs []Observation, maxAge time.Duration) *Series {
	sorted := make([]Observation, len(obs))
	copy(sorted, obs)
	sort.Slice(sorted, func(i, j int) bool {
		return sorted[i].Date.Before(sorted[j].Date)
	})
	return &Series{obs: sorted, maxAge: maxAge}
}

// At returns the latest score dated on or before date, or nil
func (s *Series) At(date time.Time) *model.SentimentScore {
	if s == nil || len(s.obs) == 0 {
		return nil
	}
	idx := sort.Search(len(s.obs), func(i int) bool {
		return s.obs[i].Date.After(date)
	})
	if idx == 0 {
		return nil
	}
	o := s.obs[idx-1]
	if s.maxAge > 0 && date.Sub(o.Date) > s.maxAge {
		return nil
	}
	score := model.NewSentimentScore(o.Score, o.Articles)
	return &score
}

// FileSource serves sentiment loaded from a JSON file shaped as
// {"SYMBOL": [{"date": ..., "score": ..., "articles": ...}]}
type FileSource struct {
	series map[string]*Series
	now    func() time.Time
}

// LoadFile reads a sentiment file
func LoadFile(path string, maxAge time.Duration) (*FileSource, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read sentiment file: %w", err)
	}

	var raw map[string][]Observation
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("failed to parse sentiment file: %w", err)
	}

	fs := &FileSource{series: make(map[string]*Series, len(raw)), now: time.Now}
	for sym, obs := range raw {
		fs.series[strings.ToUpper(sym)] = NewSeries(obs, maxAge)
	}
	return fs, nil
}

// Series returns the history for a symbol, nil when unknown
func (f *FileSource) Series(symbol string) *Series {
	if f == nil {
		return nil
	}
	return f.series[strings.ToUpper(symbol)]
}

// Score implements Source with the latest reading as of now. Readings older
// than the file's max age are not served.
func (f *FileSource) Score(_ context.Context, symbol string) (*model.SentimentScore, error) {
	return f.Series(symbol).At(f.now()), nil
}

// Package advisor runs the live refresh cycle: fetch data for every asset,
// fuse it under one regime reading and report the recommendations.
package advisor

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"investia/internal/fusion"
	"investia/internal/indicator"
	"investia/internal/provider"
	"investia/internal/regime"
	"investia/internal/sentiment"
	"investia/internal/trend"
	"investia/pkg/model"
)

// ProgressCallback is called after each asset's data has been prepared
type ProgressCallback func(done, total int, symbol string)

// Recorder persists the recommendations of a cycle
type Recorder interface {
	SaveRecommendations(ctx context.Context, recs []*fusion.Recommendation) error
}

// Config holds refresh settings
type Config struct {
	Workers     int
	Timeout     time.Duration
	HistoryDays int // daily bars fetched per asset
	FearDays    int // fear index history read to find the latest value
}

// Failure records an asset that produced no recommendation
type Failure struct {
	Symbol string `json:"symbol"`
	Reason string `json:"error"`
	Err    error  `json:"-"`
}

// Report is the outcome of one refresh cycle
type Report struct {
	Regime          regime.MacroRegime       `json:"regime"`
	Recommendations []*fusion.Recommendation `json:"recommendations"`
	Failed          []Failure                `json:"failed,omitempty"`
	GeneratedAt     time.Time                `json:"generated_at"`
	Duration        time.Duration            `json:"duration"`
}

// Count returns how many recommendations carry the action
func (r *Report) Count(action model.Action) int {
	n := 0
	for _, rec := range r.Recommendations {
		if rec.Action == action {
			n++
		}
	}
	return n
}

// Advisor produces recommendations for a set of assets
type Advisor struct {
	engine    *fusion.Engine
	prices    provider.Provider
	fear      provider.FearIndexSource
	sentiment sentiment.Source
	trend     trend.RuleBased
	recorder  Recorder
	config    Config
	logger    *zap.Logger
	now       func() time.Time

	progressFunc ProgressCallback
}

// Option configures an Advisor
type Option func(*Advisor)

// WithFearIndex sets the fear index source; without it the regime is Calm
func WithFearIndex(src provider.FearIndexSource) Option {
	return func(a *Advisor) { a.fear = src }
}

// WithSentiment sets the sentiment source; without it sentiment is degraded
func WithSentiment(src sentiment.Source) Option {
	return func(a *Advisor) { a.sentiment = src }
}

// WithTrend replaces the default rule-based trend estimator
func WithTrend(rb trend.RuleBased) Option {
	return func(a *Advisor) { a.trend = rb }
}

// WithRecorder stores every report's recommendations
func WithRecorder(rec Recorder) Option {
	return func(a *Advisor) { a.recorder = rec }
}

// WithLogger sets the logger
func WithLogger(l *zap.Logger) Option {
	return func(a *Advisor) {
		if l != nil {
			a.logger = l
		}
	}
}

// New creates an advisor
func New(engine *fusion.Engine, prices provider.Provider, cfg Config, opts ...Option) *Advisor {
	if cfg.Workers < 1 {
		cfg.Workers = 1
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 2 * time.Minute
	}
	if cfg.HistoryDays < indicator.MinBars {
		cfg.HistoryDays = indicator.MinBars
	}
	if cfg.FearDays < 1 {
		cfg.FearDays = 30
	}

	a := &Advisor{
		engine: engine,
		prices: prices,
		trend:  trend.DefaultRuleBased(),
		config: cfg,
		logger: zap.NewNop(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// SetProgressCallback sets the progress callback function
func (a *Advisor) SetProgressCallback(fn ProgressCallback) {
	a.progressFunc = fn
}

// Regime reads the latest fear index value. Any failure degrades to Calm.
func (a *Advisor) Regime(ctx context.Context) regime.MacroRegime {
	if a.fear == nil {
		return regime.Unavailable()
	}
	obs, err := a.fear.FearIndex(ctx, a.config.FearDays)
	if err != nil {
		a.logger.Warn("fear index unavailable, assuming calm", zap.Error(err))
		return regime.Unavailable()
	}
	return regime.NewSeries(obs).At(a.now())
}

type prepared struct {
	index int
	input fusion.Input
	err   error
}

// Refresh runs one cycle over assets. The regime is read once and shared by
// every fusion call of the cycle.
func (a *Advisor) Refresh(ctx context.Context, list []model.Asset) (*Report, error) {
	startTime := a.now()

	report := &Report{
		Recommendations: []*fusion.Recommendation{},
		GeneratedAt:     startTime,
	}

	ctx, cancel := context.WithTimeout(ctx, a.config.Timeout)
	defer cancel()

	report.Regime = a.Regime(ctx)
	a.logger.Info("refresh started",
		zap.Int("assets", len(list)),
		zap.String("regime", string(report.Regime.Level)),
		zap.Float64("fear_index", report.Regime.FearIndex))

	if len(list) == 0 {
		report.Duration = time.Since(startTime)
		return report, nil
	}

	jobChan := make(chan int, len(list))
	resultChan := make(chan prepared, len(list))

	for i := range list {
		jobChan <- i
	}
	close(jobChan)

	var doneCount int64

	var wg sync.WaitGroup
	for i := 0; i < a.config.Workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for idx := range jobChan {
				select {
				case <-ctx.Done():
					return
				default:
					input, err := a.prepare(ctx, list[idx])
					resultChan <- prepared{index: idx, input: input, err: err}

					count := atomic.AddInt64(&doneCount, 1)
					if a.progressFunc != nil {
						a.progressFunc(int(count), len(list), list[idx].Symbol)
					}
				}
			}
		}()
	}

	go func() {
		wg.Wait()
		close(resultChan)
	}()

	slots := make([]*prepared, len(list))
	for res := range resultChan {
		slots[res.index] = &res
	}

	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("refresh interrupted: %w", err)
	}

	inputs := make([]fusion.Input, 0, len(list))
	for i, slot := range slots {
		if slot.err != nil {
			a.logger.Warn("skipping asset", zap.String("symbol", list[i].Symbol), zap.Error(slot.err))
			report.Failed = append(report.Failed, newFailure(list[i].Symbol, slot.err))
			continue
		}
		inputs = append(inputs, slot.input)
	}

	outcomes, err := a.engine.FuseBatch(ctx, inputs, report.Regime, a.config.Workers)
	if err != nil {
		return nil, fmt.Errorf("refresh interrupted: %w", err)
	}
	for _, out := range outcomes {
		if out.Err != nil {
			report.Failed = append(report.Failed, newFailure(out.Asset.Symbol, out.Err))
			continue
		}
		report.Recommendations = append(report.Recommendations, out.Recommendation)
	}

	if a.recorder != nil {
		if err := a.recorder.SaveRecommendations(ctx, report.Recommendations); err != nil {
			a.logger.Error("failed to store recommendations", zap.Error(err))
		}
	}

	report.Duration = time.Since(startTime)
	a.logger.Info("refresh done",
		zap.Int("recommendations", len(report.Recommendations)),
		zap.Int("failed", len(report.Failed)),
		zap.Duration("took", report.Duration))

	return report, nil
}

// prepare fetches and derives every signal input for one asset
func (a *Advisor) prepare(ctx context.Context, asset model.Asset) (fusion.Input, error) {
	input := fusion.Input{Asset: asset}

	candles, err := a.prices.GetDailyCandles(ctx, asset.Symbol, a.config.HistoryDays)
	if err != nil {
		return input, fmt.Errorf("fetching candles: %w", err)
	}

	ind, err := indicator.Build(candles)
	if err != nil {
		return input, err
	}
	input.Indicator = ind

	est, err := a.trend.Estimate(ind.Price, a.engine.TechnicalScore(ind))
	if err != nil {
		a.logger.Debug("trend estimate unavailable", zap.String("symbol", asset.Symbol), zap.Error(err))
	} else {
		input.Trend = est
	}

	if a.sentiment != nil {
		score, err := a.sentiment.Score(ctx, asset.Symbol)
		if err != nil {
			a.logger.Debug("sentiment unavailable", zap.String("symbol", asset.Symbol), zap.Error(err))
		} else {
			input.Sentiment = score
		}
	}

	return input, nil
}

func newFailure(symbol string, err error) Failure {
	return Failure{Symbol: symbol, Reason: err.Error(), Err: err}
}

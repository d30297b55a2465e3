package backtest

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"strings"
	"sync/atomic"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"investia/internal/fusion"
	"investia/internal/provider"
	"investia/internal/regime"
	"investia/internal/sentiment"
	"investia/internal/trend"
	"investia/pkg/model"
)

// AssetLookup resolves a symbol to its catalog entry
type AssetLookup interface {
	Lookup(symbol string) (model.Asset, error)
}

// SentimentHistory serves dated sentiment per symbol
type SentimentHistory interface {
	Series(symbol string) *sentiment.Series
}

// Recorder persists finished runs and returns their id
type Recorder interface {
	SaveRun(ctx context.Context, res *Result) (string, error)
}

// Request describes one backtest to run
type Request struct {
	Symbol         string
	Days           int     // evaluated days; 0 uses the config default
	InitialCapital float64 // 0 uses the config default
}

// Outcome pairs a request with its result or error
type Outcome struct {
	Request Request
	Result  *Result
	Err     error
}

// ProgressCallback is called after each finished run
type ProgressCallback func(done, total int, symbol string)

// Runner fetches data and drives fusion backtests for catalog symbols
type Runner struct {
	engine    *Engine
	fusion    *fusion.Engine
	assets    AssetLookup
	prices    provider.Provider
	fear      provider.FearIndexSource
	sentiment SentimentHistory
	trend     *trend.RuleBased
	recorder  Recorder
	logger    *zap.Logger
}

// RunnerOption configures optional collaborators
type RunnerOption func(*Runner)

// WithFearIndex sets the fear index source; without it every day is Calm
func WithFearIndex(src provider.FearIndexSource) RunnerOption {
	return func(r *Runner) { r.fear = src }
}

// WithSentiment sets the sentiment history
func WithSentiment(h SentimentHistory) RunnerOption {
	return func(r *Runner) { r.sentiment = h }
}

// WithTrend enables the rule-based trend estimate
func WithTrend(rb trend.RuleBased) RunnerOption {
	return func(r *Runner) { r.trend = &rb }
}

// WithRecorder persists every successful run
func WithRecorder(rec Recorder) RunnerOption {
	return func(r *Runner) { r.recorder = rec }
}

// WithLogger sets the logger
func WithLogger(l *zap.Logger) RunnerOption {
	return func(r *Runner) {
		if l != nil {
			r.logger = l
		}
	}
}

// NewRunner creates a runner
func NewRunner(engine *Engine, fe *fusion.Engine, assets AssetLookup, prices provider.Provider, opts ...RunnerOption) *Runner {
	r := &Runner{
		engine: engine,
		fusion: fe,
		assets: assets,
		prices: prices,
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Run backtests one symbol
func (r *Runner) Run(ctx context.Context, req Request) (*Result, error) {
	days := r.days(req)
	return r.run(ctx, req, r.fearSeries(ctx, days))
}

// RunMany backtests independent symbols concurrently. The fear index is read
// once and shared. Per-symbol failures are reported in the outcomes; the
// returned error is non-nil only when ctx is cancelled.
func (r *Runner) RunMany(ctx context.Context, reqs []Request, progress ProgressCallback) ([]Outcome, error) {
	longest := 0
	for _, req := range reqs {
		longest = max(longest, r.days(req))
	}
	fear := r.fearSeries(ctx, longest)

	outcomes := make([]Outcome, len(reqs))
	var done atomic.Int64

	var g errgroup.Group
	g.SetLimit(max(r.engine.config.Workers, 1))

	for i, req := range reqs {
		if ctx.Err() != nil {
			break
		}
		g.Go(func() error {
			res, err := r.run(ctx, req, fear)
			outcomes[i] = Outcome{Request: req, Result: res, Err: err}
			n := done.Add(1)
			if progress != nil {
				progress(int(n), len(reqs), req.Symbol)
			}
			return nil
		})
	}
	_ = g.Wait()

	return outcomes, ctx.Err()
}

func (r *Runner) run(ctx context.Context, req Request, fear *regime.Series) (*Result, error) {
	asset, err := r.assets.Lookup(req.Symbol)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrNotFound, err)
	}

	source := &FusionSource{
		Asset:  asset,
		Engine: r.fusion,
		Trend:  r.trend,
		Fear:   fear,
		Warmup: r.engine.config.Warmup,
	}
	if r.sentiment != nil {
		source.Sentiment = r.sentiment.Series(asset.Symbol)
	}

	days := r.days(req)
	candles, err := r.prices.GetDailyCandles(ctx, asset.Symbol, days+source.Lookback())
	if errors.Is(err, provider.ErrNoData) {
		return nil, fmt.Errorf("%w: no history for %s", ErrNotFound, asset.Symbol)
	}
	if err != nil {
		return nil, fmt.Errorf("fetch %s: %w", asset.Symbol, err)
	}
	if len(candles) == 0 {
		return nil, fmt.Errorf("%w: no history for %s", ErrNotFound, asset.Symbol)
	}

	capital := req.InitialCapital
	if capital <= 0 {
		capital = r.engine.config.InitialCapital
	}

	res, err := r.engine.Run(asset.Symbol, candles, capital, source)
	if err != nil {
		return nil, err
	}

	if n := r.engine.config.MonteCarloRuns; n > 0 {
		res.MonteCarlo = RunMonteCarlo(res.RoundTrips, n, seedFor(asset.Symbol))
	}

	if r.recorder != nil {
		id, err := r.recorder.SaveRun(ctx, res)
		if err != nil {
			r.logger.Warn("failed to record backtest", zap.String("symbol", asset.Symbol), zap.Error(err))
		} else {
			res.RunID = id
		}
	}

	return res, nil
}

func (r *Runner) days(req Request) int {
	if req.Days > 0 {
		return req.Days
	}
	return r.engine.config.Days
}

// fearSeries loads the fear index history; a failure leaves every day Calm
func (r *Runner) fearSeries(ctx context.Context, days int) *regime.Series {
	if r.fear == nil {
		return nil
	}
	// calendar slack so the first evaluated day has a reading
	obs, err := r.fear.FearIndex(ctx, days+indicatorSlack)
	if err != nil {
		r.logger.Warn("fear index unavailable, assuming calm", zap.Error(err))
		return nil
	}
	return regime.NewSeries(obs)
}

const indicatorSlack = 60

func seedFor(symbol string) uint64 {
	h := fnv.New64a()
	h.Write([]byte(strings.ToUpper(symbol)))
	return h.Sum64()
}

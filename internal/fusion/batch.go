package fusion

import (
	"context"

	"golang.org/x/sync/errgroup"

	"investia/internal/regime"
	"investia/pkg/model"
)

// Input bundles the per-asset signals of one cycle
type Input struct {
	Asset     model.Asset
	Indicator *model.IndicatorSnapshot
	Trend     *model.TrendEstimate
	Sentiment *model.SentimentScore
}

// Outcome is the result of fusing one Input
type Outcome struct {
	Asset          model.Asset
	Recommendation *Recommendation
	Err            error
}

// FuseBatch fuses every input in parallel against the same regime value.
// Outcomes keep input order. Per-asset failures are reported in the outcome;
// the returned error is non-nil only when ctx is cancelled.
func (e *Engine) FuseBatch(ctx context.Context, inputs []Input, reg regime.MacroRegime, workers int) ([]Outcome, error) {
	if workers < 1 {
		workers = 1
	}

	outcomes := make([]Outcome, len(inputs))

	var g errgroup.Group
	g.SetLimit(workers)

	for i, in := range inputs {
		if err := ctx.Err(); err != nil {
			break
		}
		g.Go(func() error {
			rec, err := e.Fuse(in.Asset, in.Indicator, in.Trend, in.Sentiment, reg)
			outcomes[i] = Outcome{Asset: in.Asset, Recommendation: rec, Err: err}
			return nil
		})
	}
	_ = g.Wait()

	if err := ctx.Err(); err != nil {
		return outcomes, err
	}
	return outcomes, nil
}

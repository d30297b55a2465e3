package provider

import (
	"context"
	"fmt"
	"time"

	"github.com/alpacahq/alpaca-trade-api-go/v3/marketdata"

	"investia/internal/ratelimit"
	"investia/pkg/model"
)

// barsClient is the part of the Alpaca market data client we use
type barsClient interface {
	GetBars(symbol string, req marketdata.GetBarsRequest) ([]marketdata.Bar, error)
}

// AlpacaProvider fetches daily bars from the Alpaca market data API
type AlpacaProvider struct {
	client    barsClient
	limiter   *ratelimit.Limiter
	rateLimit int
	hasKeys   bool
	feed      marketdata.Feed
	now       func() time.Time
}

// NewAlpacaProvider creates an Alpaca provider. feed is "iex" for free
// accounts or "sip" for paid ones.
func NewAlpacaProvider(apiKey, apiSecret, feed string) *AlpacaProvider {
	if feed == "" {
		feed = "iex"
	}
	return &AlpacaProvider{
		client: marketdata.NewClient(marketdata.ClientOpts{
			APIKey:    apiKey,
			APISecret: apiSecret,
		}),
		limiter:   ratelimit.NewLimiter("alpaca", 200),
		rateLimit: 200,
		hasKeys:   apiKey != "" && apiSecret != "",
		feed:      marketdata.Feed(feed),
		now:       time.Now,
	}
}

// Name returns the provider name
func (p *AlpacaProvider) Name() string {
	return "alpaca"
}

// IsAvailable returns true when API credentials are configured
func (p *AlpacaProvider) IsAvailable() bool {
	return p.hasKeys
}

// RateLimit returns the rate limit per minute
func (p *AlpacaProvider) RateLimit() int {
	return p.rateLimit
}

// GetDailyCandles fetches the last days daily bars, oldest first
func (p *AlpacaProvider) GetDailyCandles(ctx context.Context, symbol string, days int) ([]model.Candle, error) {
	if days <= 0 {
		return nil, fmt.Errorf("days must be positive")
	}
	if err := p.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	end := p.now()
	bars, err := p.client.GetBars(symbol, marketdata.GetBarsRequest{
		TimeFrame:  marketdata.OneDay,
		Adjustment: marketdata.All,
		Start:      end.AddDate(0, 0, -(days*7/5 + 10)),
		End:        end,
		Feed:       p.feed,
	})
	if err != nil {
		return nil, &ProviderError{Provider: p.Name(), Err: err, Retryable: true}
	}
	if len(bars) == 0 {
		return nil, &ProviderError{Provider: p.Name(), Err: fmt.Errorf("%s: %w", symbol, ErrNoData)}
	}

	candles := make([]model.Candle, 0, len(bars))
	for _, b := range bars {
		if b.Close <= 0 {
			continue
		}
		candles = append(candles, model.Candle{
			Time:   dayOf(b.Timestamp),
			Open:   b.Open,
			High:   b.High,
			Low:    b.Low,
			Close:  b.Close,
			Volume: int64(b.Volume),
		})
	}

	if len(candles) > days {
		candles = candles[len(candles)-days:]
	}
	return candles, nil
}

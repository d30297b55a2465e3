package provider

import (
	"context"
	"errors"
	"fmt"

	"investia/internal/regime"
	"investia/pkg/model"
)

// ErrNoData is returned when a provider has no bars for a symbol
var ErrNoData = errors.New("no data available")

// Provider defines the interface for daily price data providers
type Provider interface {
	// Name returns the provider name
	Name() string

	// GetDailyCandles fetches up to days daily OHLCV bars, oldest first
	GetDailyCandles(ctx context.Context, symbol string, days int) ([]model.Candle, error)

	// IsAvailable checks if the provider is usable (credentials present)
	IsAvailable() bool

	// RateLimit returns the rate limit per minute
	RateLimit() int
}

// FearIndexSource reads the market fear index history
type FearIndexSource interface {
	FearIndex(ctx context.Context, days int) ([]regime.Observation, error)
}

// ProviderError represents a provider-specific error
type ProviderError struct {
	Provider  string
	Err       error
	Retryable bool
}

func (e *ProviderError) Error() string {
	return e.Provider + ": " + e.Err.Error()
}

func (e *ProviderError) Unwrap() error {
	return e.Err
}

// FallbackProvider tries multiple providers in order
type FallbackProvider struct {
	providers []Provider
}

// NewFallbackProvider keeps only the available providers
func NewFallbackProvider(providers ...Provider) *FallbackProvider {
	available := make([]Provider, 0, len(providers))
	for _, p := range providers {
		if p != nil && p.IsAvailable() {
			available = append(available, p)
		}
	}
	return &FallbackProvider{providers: available}
}

// Name returns the combined provider name
func (f *FallbackProvider) Name() string {
	return "fallback"
}

// GetDailyCandles tries each provider in order until one returns bars
func (f *FallbackProvider) GetDailyCandles(ctx context.Context, symbol string, days int) ([]model.Candle, error) {
	if len(f.providers) == 0 {
		return nil, fmt.Errorf("no data provider available")
	}

	var lastErr error
	for _, p := range f.providers {
		data, err := p.GetDailyCandles(ctx, symbol, days)
		if err == nil && len(data) > 0 {
			return data, nil
		}
		if err == nil {
			err = &ProviderError{Provider: p.Name(), Err: ErrNoData}
		}
		lastErr = err
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
	}
	return nil, lastErr
}

// FearIndex asks the first provider that can serve the fear index
func (f *FallbackProvider) FearIndex(ctx context.Context, days int) ([]regime.Observation, error) {
	var lastErr error = fmt.Errorf("no provider serves the fear index")
	for _, p := range f.providers {
		src, ok := p.(FearIndexSource)
		if !ok {
			continue
		}
		obs, err := src.FearIndex(ctx, days)
		if err == nil {
			return obs, nil
		}
		lastErr = err
	}
	return nil, lastErr
}

// IsAvailable returns true if any provider is available
func (f *FallbackProvider) IsAvailable() bool {
	return len(f.providers) > 0
}

// RateLimit returns the highest rate limit among providers
func (f *FallbackProvider) RateLimit() int {
	maxRate := 0
	for _, p := range f.providers {
		maxRate = max(maxRate, p.RateLimit())
	}
	return maxRate
}

// Providers returns the list of underlying providers
func (f *FallbackProvider) Providers() []Provider {
	return f.providers
}

// IsRetryable reports whether err is a provider error worth retrying
func IsRetryable(err error) bool {
	var pe *ProviderError
	return errors.As(err, &pe) && pe.Retryable
}

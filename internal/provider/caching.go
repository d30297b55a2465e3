package provider

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"investia/internal/regime"
	"investia/pkg/model"
)

type cacheEntry struct {
	candles   []model.Candle
	requested int
	fetchedAt time.Time
}

// CachingProvider wraps a Provider with an in-memory cache for GetDailyCandles.
// A refresh cycle and a backtest over the same symbol share one download.
type CachingProvider struct {
	inner   Provider
	cache   map[string]cacheEntry
	mu      sync.Mutex
	minDays int
	ttl     time.Duration
	now     func() time.Time
}

// NewCachingProvider creates a caching wrapper. minDays is the smallest
// history always requested so that later shorter requests hit the cache.
// Entries older than ttl are refetched; zero keeps them forever.
func NewCachingProvider(inner Provider, minDays int, ttl time.Duration) *CachingProvider {
	return &CachingProvider{
		inner:   inner,
		cache:   make(map[string]cacheEntry),
		minDays: minDays,
		ttl:     ttl,
		now:     time.Now,
	}
}

func (p *CachingProvider) Name() string      { return p.inner.Name() }
func (p *CachingProvider) IsAvailable() bool { return p.inner.IsAvailable() }
func (p *CachingProvider) RateLimit() int    { return p.inner.RateLimit() }

// Inner returns the wrapped provider
func (p *CachingProvider) Inner() Provider { return p.inner }

func (p *CachingProvider) GetDailyCandles(ctx context.Context, symbol string, days int) ([]model.Candle, error) {
	key := strings.ToUpper(symbol)

	p.mu.Lock()
	entry, ok := p.cache[key]
	fresh := ok && (p.ttl == 0 || p.now().Sub(entry.fetchedAt) < p.ttl)
	p.mu.Unlock()

	if fresh && (len(entry.candles) >= days || entry.requested >= days) {
		return tail(entry.candles, days), nil
	}

	fetchDays := max(p.minDays, days)
	candles, err := p.inner.GetDailyCandles(ctx, symbol, fetchDays)
	if err != nil {
		return nil, err
	}

	p.mu.Lock()
	p.cache[key] = cacheEntry{candles: candles, requested: fetchDays, fetchedAt: p.now()}
	p.mu.Unlock()

	return tail(candles, days), nil
}

// FearIndex passes through to the wrapped provider when it serves the index
func (p *CachingProvider) FearIndex(ctx context.Context, days int) ([]regime.Observation, error) {
	src, ok := p.inner.(FearIndexSource)
	if !ok {
		return nil, fmt.Errorf("%s does not serve the fear index", p.inner.Name())
	}
	return src.FearIndex(ctx, days)
}

func tail(candles []model.Candle, days int) []model.Candle {
	if days > 0 && len(candles) > days {
		return candles[len(candles)-days:]
	}
	return candles
}

// Package assets holds the investable universe with its risk tiers
package assets

import (
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"investia/pkg/model"
)

// ErrNotFound is returned for symbols outside the catalog
var ErrNotFound = errors.New("asset not found")

// Catalog is an immutable set of assets keyed by symbol
type Catalog struct {
	bySymbol map[string]model.Asset
	order    []string
}

// New builds a catalog. Duplicate or empty symbols are rejected.
func New(list []model.Asset) (*Catalog, error) {
	c := &Catalog{bySymbol: make(map[string]model.Asset, len(list))}
	for _, a := range list {
		a.Symbol = normalize(a.Symbol)
		if a.Symbol == "" {
			return nil, fmt.Errorf("asset with empty symbol")
		}
		if _, dup := c.bySymbol[a.Symbol]; dup {
			return nil, fmt.Errorf("duplicate asset %s", a.Symbol)
		}
		if a.Name == "" {
			a.Name = a.Symbol
		}
		c.bySymbol[a.Symbol] = a
		c.order = append(c.order, a.Symbol)
	}
	return c, nil
}

// Default returns the built-in universe
func Default() *Catalog {
	c, err := New(defaultAssets)
	if err != nil {
		panic(err)
	}
	return c
}

// LoadFile reads a YAML list of assets
func LoadFile(path string) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read asset file: %w", err)
	}

	var list []model.Asset
	if err := yaml.Unmarshal(data, &list); err != nil {
		return nil, fmt.Errorf("failed to parse asset file: %w", err)
	}
	return New(list)
}

// Lookup returns the asset for a symbol
func (c *Catalog) Lookup(symbol string) (model.Asset, error) {
	a, ok := c.bySymbol[normalize(symbol)]
	if !ok {
		return model.Asset{}, fmt.Errorf("%w: %s", ErrNotFound, symbol)
	}
	return a, nil
}

// Resolve looks up several symbols, failing on the first unknown one
func (c *Catalog) Resolve(symbols []string) ([]model.Asset, error) {
	out := make([]model.Asset, 0, len(symbols))
	for _, s := range symbols {
		a, err := c.Lookup(s)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, nil
}

// All returns every asset in catalog order
func (c *Catalog) All() []model.Asset {
	out := make([]model.Asset, len(c.order))
	for i, s := range c.order {
		out[i] = c.bySymbol[s]
	}
	return out
}

// UpTo returns the assets whose tier is at most max, lowest risk first
func (c *Catalog) UpTo(max model.RiskTier) []model.Asset {
	var out []model.Asset
	for _, a := range c.All() {
		if a.Tier <= max {
			out = append(out, a)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Tier < out[j].Tier })
	return out
}

// Len returns the number of assets
func (c *Catalog) Len() int {
	return len(c.order)
}

func normalize(symbol string) string {
	return strings.ToUpper(strings.TrimSpace(symbol))
}

var defaultAssets = []model.Asset{
	// Very low risk
	{Symbol: "BND", Name: "Vanguard Total Bond Market ETF", Kind: model.KindETF, Tier: model.TierVeryLow,
		Description: "Investment grade bonds. Capital preservation and income."},

	// Low risk
	{Symbol: "VOO", Name: "Vanguard S&P 500 ETF", Kind: model.KindETF, Tier: model.TierLow,
		Description: "Tracks the S&P 500. Core long term equity exposure."},
	{Symbol: "VTI", Name: "Vanguard Total Stock Market ETF", Kind: model.KindETF, Tier: model.TierLow,
		Description: "The whole US stock market including small and mid caps."},
	{Symbol: "SCHD", Name: "Schwab US Dividend Equity ETF", Kind: model.KindETF, Tier: model.TierLow,
		Description: "Quality companies with growing dividends."},
	{Symbol: "GLD", Name: "SPDR Gold Shares", Kind: model.KindETF, Tier: model.TierLow,
		Description: "Physical gold. Hedge against inflation and equity drawdowns."},
	{Symbol: "JNJ", Name: "Johnson & Johnson", Kind: model.KindStock, Tier: model.TierLow,
		Description: "Diversified healthcare with a long dividend record."},
	{Symbol: "KO", Name: "Coca-Cola Company", Kind: model.KindStock, Tier: model.TierLow,
		Description: "Global beverages, defensive consumer staple."},
	{Symbol: "PG", Name: "Procter & Gamble Co.", Kind: model.KindStock, Tier: model.TierLow,
		Description: "Household brands with stable cash flows."},

	// Medium-low risk
	{Symbol: "VNQ", Name: "Vanguard Real Estate ETF", Kind: model.KindETF, Tier: model.TierMediumLow,
		Description: "US REITs. Income and real estate diversification."},

	// Medium risk
	{Symbol: "QQQ", Name: "Invesco QQQ Trust", Kind: model.KindETF, Tier: model.TierMedium,
		Description: "Tracks the Nasdaq-100, technology heavy."},
	{Symbol: "VIG", Name: "Vanguard Dividend Appreciation ETF", Kind: model.KindETF, Tier: model.TierMedium,
		Description: "Companies raising dividends year after year."},
	{Symbol: "IWM", Name: "iShares Russell 2000 ETF", Kind: model.KindETF, Tier: model.TierMedium,
		Description: "US small caps. More growth potential and more volatility."},
	{Symbol: "AAPL", Name: "Apple Inc.", Kind: model.KindStock, Tier: model.TierMedium,
		Description: "Consumer hardware and services."},
	{Symbol: "MSFT", Name: "Microsoft Corporation", Kind: model.KindStock, Tier: model.TierMedium,
		Description: "Software and cloud."},
	{Symbol: "GOOGL", Name: "Alphabet Inc.", Kind: model.KindStock, Tier: model.TierMedium,
		Description: "Search, advertising and cloud."},

	// High risk
	{Symbol: "ARKK", Name: "ARK Innovation ETF", Kind: model.KindETF, Tier: model.TierHigh,
		Description: "Disruptive innovation themes. High volatility."},
	{Symbol: "SOXL", Name: "Direxion Daily Semiconductor Bull 3X", Kind: model.KindETF, Tier: model.TierHigh,
		Description: "3x leveraged semiconductors. Short term instrument."},
	{Symbol: "TQQQ", Name: "ProShares UltraPro QQQ", Kind: model.KindETF, Tier: model.TierHigh,
		Description: "3x leveraged Nasdaq-100."},
	{Symbol: "TSLA", Name: "Tesla Inc.", Kind: model.KindStock, Tier: model.TierHigh,
		Description: "Electric vehicles and energy storage."},
	{Symbol: "NVDA", Name: "NVIDIA Corporation", Kind: model.KindStock, Tier: model.TierHigh,
		Description: "GPUs and AI accelerators."},
	{Symbol: "AMD", Name: "Advanced Micro Devices", Kind: model.KindStock, Tier: model.TierHigh,
		Description: "CPUs and GPUs."},
}

package model

import (
	"fmt"
	"strings"
)

// RiskTier classifies how risky an asset is. Lower values are safer.
type RiskTier int

const (
	TierVeryLow RiskTier = iota
	TierLow
	TierMediumLow
	TierMedium
	TierHigh
)

var tierNames = map[RiskTier]string{
	TierVeryLow:   "very_low",
	TierLow:       "low",
	TierMediumLow: "medium_low",
	TierMedium:    "medium",
	TierHigh:      "high",
}

func (t RiskTier) String() string {
	if name, ok := tierNames[t]; ok {
		return name
	}
	return fmt.Sprintf("tier(%d)", int(t))
}

// ParseRiskTier parses names like "low" or "medium_low"
func ParseRiskTier(s string) (RiskTier, error) {
	key := strings.ReplaceAll(strings.ToLower(strings.TrimSpace(s)), "-", "_")
	for tier, name := range tierNames {
		if name == key {
			return tier, nil
		}
	}
	return 0, fmt.Errorf("unknown risk tier: %q", s)
}

// MarshalText implements encoding.TextMarshaler
func (t RiskTier) MarshalText() ([]byte, error) {
	return []byte(t.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler (used by yaml and envconfig)
func (t *RiskTier) UnmarshalText(b []byte) error {
	parsed, err := ParseRiskTier(string(b))
	if err != nil {
		return err
	}
	*t = parsed
	return nil
}

// AssetKind distinguishes funds from single stocks
type AssetKind string

const (
	KindETF   AssetKind = "ETF"
	KindStock AssetKind = "Stock"
)

// Asset is the per-asset record passed explicitly into fusion and backtests
type Asset struct {
	Symbol      string    `json:"symbol" yaml:"symbol"`
	Name        string    `json:"name" yaml:"name"`
	Kind        AssetKind `json:"kind" yaml:"kind"`
	Tier        RiskTier  `json:"risk" yaml:"risk"`
	Description string    `json:"description,omitempty" yaml:"description,omitempty"`
}

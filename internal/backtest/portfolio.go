package backtest

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// shareScale is the number of decimal places kept for fractional shares.
// Quantities are truncated so a fill never costs more than the budget.
const shareScale = 10

// Fill describes one executed order
type Fill struct {
	Shares float64
	Price  float64
	Value  float64 // gross, before fees
	Fee    float64
}

// Portfolio is the cash and share ledger of a single-asset run.
// Amounts are kept in decimal to avoid drift in the conservation identity.
type Portfolio struct {
	cash       decimal.Decimal
	shares     decimal.Decimal
	commission decimal.Decimal
}

// NewPortfolio starts a ledger with all capital in cash
func NewPortfolio(initialCapital, commissionRate float64) *Portfolio {
	p := &Portfolio{
		cash:       decimal.NewFromFloat(initialCapital),
		shares:     decimal.Zero,
		commission: decimal.NewFromFloat(commissionRate),
	}
	p.assert("open")
	return p
}

// Cash returns idle cash
func (p *Portfolio) Cash() float64 {
	return p.cash.InexactFloat64()
}

// Shares returns the held quantity
func (p *Portfolio) Shares() float64 {
	return p.shares.InexactFloat64()
}

// Invested reports whether any shares are held
func (p *Portfolio) Invested() bool {
	return p.shares.IsPositive()
}

// Value marks the ledger to the given price
func (p *Portfolio) Value(price float64) float64 {
	return p.cash.Add(p.shares.Mul(decimal.NewFromFloat(price))).InexactFloat64()
}

// Buy spends fraction of idle cash at price. ok is false when the order
// would be empty or smaller than minValue.
func (p *Portfolio) Buy(price, fraction float64, whole bool, minValue float64) (Fill, bool) {
	if !p.cash.IsPositive() || price <= 0 || fraction <= 0 {
		return Fill{}, false
	}

	px := decimal.NewFromFloat(price)
	budget := p.cash.Mul(decimal.NewFromFloat(fraction))
	if budget.GreaterThan(p.cash) {
		budget = p.cash
	}

	unit := px.Mul(decimal.NewFromInt(1).Add(p.commission))
	qty := budget.Div(unit).Truncate(shareScale)
	if whole {
		qty = qty.Floor()
	}
	if !qty.IsPositive() {
		return Fill{}, false
	}

	gross := qty.Mul(px)
	fee := gross.Mul(p.commission)
	if gross.LessThan(decimal.NewFromFloat(minValue)) {
		return Fill{}, false
	}

	p.cash = p.cash.Sub(gross).Sub(fee)
	p.shares = p.shares.Add(qty)
	p.assert("buy")

	return Fill{
		Shares: qty.InexactFloat64(),
		Price:  price,
		Value:  gross.InexactFloat64(),
		Fee:    fee.InexactFloat64(),
	}, true
}

// Sell liquidates the whole position at price
func (p *Portfolio) Sell(price float64) (Fill, bool) {
	if !p.shares.IsPositive() || price <= 0 {
		return Fill{}, false
	}

	qty := p.shares
	gross := qty.Mul(decimal.NewFromFloat(price))
	fee := gross.Mul(p.commission)

	p.cash = p.cash.Add(gross).Sub(fee)
	p.shares = decimal.Zero
	p.assert("sell")

	return Fill{
		Shares: qty.InexactFloat64(),
		Price:  price,
		Value:  gross.InexactFloat64(),
		Fee:    fee.InexactFloat64(),
	}, true
}

// assert panics on a broken ledger. A negative balance is a bug in the
// simulator and must never be corrected silently.
func (p *Portfolio) assert(op string) {
	if p.cash.IsNegative() {
		panic(fmt.Sprintf("backtest: negative cash %s after %s", p.cash, op))
	}
	if p.shares.IsNegative() {
		panic(fmt.Sprintf("backtest: negative shares %s after %s", p.shares, op))
	}
}

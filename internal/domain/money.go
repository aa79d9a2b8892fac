// Package domain provides core domain models and value types.
package domain

import (
	"fmt"
	"math"
	"strconv"
)

// Money is an immutable monetary amount in minor units (pence).
// All arithmetic is exact integer arithmetic; values are never mutated in
// place. The engine deals in a single currency, so Money carries no
// currency code.
type Money struct {
	pence int64
}

// NewMoney creates a Money value from minor units (pence).
func NewMoney(pence int64) Money {
	return Money{pence: pence}
}

// MoneyFromPounds creates a Money value from a float pound amount,
// rounding to the nearest penny. Used at store boundaries where balances
// are persisted as REAL columns.
func MoneyFromPounds(pounds float64) Money {
	return Money{pence: int64(math.Round(pounds * 100))}
}

// Pence returns the amount in minor units.
func (m Money) Pence() int64 {
	return m.pence
}

// Pounds returns the amount as float pounds. Display/persistence only;
// never used for arithmetic.
func (m Money) Pounds() float64 {
	return float64(m.pence) / 100
}

// Add returns m + other.
func (m Money) Add(other Money) Money {
	return Money{pence: m.pence + other.pence}
}

// Sub returns m - other. The result may be negative; callers that need a
// floor use SubFloor.
func (m Money) Sub(other Money) Money {
	return Money{pence: m.pence - other.pence}
}

// SubFloor returns max(0, m - other).
func (m Money) SubFloor(other Money) Money {
	if other.pence >= m.pence {
		return Money{}
	}
	return Money{pence: m.pence - other.pence}
}

// Min returns the smaller of m and other.
func (m Money) Min(other Money) Money {
	if other.pence < m.pence {
		return other
	}
	return m
}

// Cap returns m limited to at most limit.
func (m Money) Cap(limit Money) Money {
	return m.Min(limit)
}

// MulFloat returns m scaled by f, rounding to the nearest penny.
// Used for proportional sizing (e.g. 80% of a balance).
func (m Money) MulFloat(f float64) Money {
	return Money{pence: int64(math.Round(float64(m.pence) * f))}
}

// MulInt returns m multiplied by n.
func (m Money) MulInt(n int64) Money {
	return Money{pence: m.pence * n}
}

// DivCeil returns ceil(m / divisor) as a count. Used to decompose an
// over-ceiling balance into ceiling-sized chunks.
func (m Money) DivCeil(divisor Money) int {
	if divisor.pence <= 0 {
		return 0
	}
	return int((m.pence + divisor.pence - 1) / divisor.pence)
}

// IsZero reports whether m is exactly zero.
func (m Money) IsZero() bool {
	return m.pence == 0
}

// IsPositive reports whether m is greater than zero.
func (m Money) IsPositive() bool {
	return m.pence > 0
}

// GreaterThan reports m > other.
func (m Money) GreaterThan(other Money) bool {
	return m.pence > other.pence
}

// GreaterOrEqual reports m >= other.
func (m Money) GreaterOrEqual(other Money) bool {
	return m.pence >= other.pence
}

// LessThan reports m < other.
func (m Money) LessThan(other Money) bool {
	return m.pence < other.pence
}

// Equal reports m == other.
func (m Money) Equal(other Money) bool {
	return m.pence == other.pence
}

// String formats the amount as pounds with two decimal places.
func (m Money) String() string {
	sign := ""
	p := m.pence
	if p < 0 {
		sign = "-"
		p = -p
	}
	return fmt.Sprintf("%s£%d.%02d", sign, p/100, p%100)
}

// MarshalJSON encodes the amount as a plain pound number (850.00).
func (m Money) MarshalJSON() ([]byte, error) {
	return []byte(strconv.FormatFloat(m.Pounds(), 'f', 2, 64)), nil
}

// UnmarshalJSON decodes a pound number, rounding to the nearest penny.
func (m *Money) UnmarshalJSON(data []byte) error {
	pounds, err := strconv.ParseFloat(string(data), 64)
	if err != nil {
		return fmt.Errorf("parsing money value %q: %w", data, err)
	}
	*m = MoneyFromPounds(pounds)
	return nil
}

// Percentage is an immutable interest rate in basis points
// (1.00% = 100 bp). Rates are exact; conversion from float percent
// values rounds to the nearest basis point.
type Percentage struct {
	bps int64
}

// NewPercentage creates a Percentage from basis points.
func NewPercentage(bps int64) Percentage {
	return Percentage{bps: bps}
}

// PercentageFromFloat creates a Percentage from a float percent value
// (4.52 -> 452 bp).
func PercentageFromFloat(pct float64) Percentage {
	return Percentage{bps: int64(math.Round(pct * 100))}
}

// BasisPoints returns the rate in basis points.
func (p Percentage) BasisPoints() int64 {
	return p.bps
}

// Float returns the rate as a float percent value. Display/persistence
// only.
func (p Percentage) Float() float64 {
	return float64(p.bps) / 100
}

// Add returns p + other.
func (p Percentage) Add(other Percentage) Percentage {
	return Percentage{bps: p.bps + other.bps}
}

// Sub returns p - other. May be negative (a rate downgrade).
func (p Percentage) Sub(other Percentage) Percentage {
	return Percentage{bps: p.bps - other.bps}
}

// IsPositive reports whether p is greater than zero.
func (p Percentage) IsPositive() bool {
	return p.bps > 0
}

// GreaterThan reports p > other.
func (p Percentage) GreaterThan(other Percentage) bool {
	return p.bps > other.bps
}

// GreaterOrEqual reports p >= other.
func (p Percentage) GreaterOrEqual(other Percentage) bool {
	return p.bps >= other.bps
}

// LessThan reports p < other.
func (p Percentage) LessThan(other Percentage) bool {
	return p.bps < other.bps
}

// Equal reports p == other.
func (p Percentage) Equal(other Percentage) bool {
	return p.bps == other.bps
}

// AnnualBenefit returns the yearly interest gain of holding amount at
// this rate: amount × rate / 100. Rounded to the nearest penny.
func (p Percentage) AnnualBenefit(amount Money) Money {
	// pence × bps / 10000, rounded half away from zero
	product := amount.pence * p.bps
	if product >= 0 {
		return Money{pence: (product + 5000) / 10000}
	}
	return Money{pence: (product - 5000) / 10000}
}

// String formats the rate as a percent with two decimal places.
func (p Percentage) String() string {
	sign := ""
	b := p.bps
	if b < 0 {
		sign = "-"
		b = -b
	}
	return fmt.Sprintf("%s%d.%02d%%", sign, b/100, b%100)
}

// MarshalJSON encodes the rate as a plain percent number (4.52).
func (p Percentage) MarshalJSON() ([]byte, error) {
	return []byte(strconv.FormatFloat(p.Float(), 'f', 2, 64)), nil
}

// UnmarshalJSON decodes a percent number, rounding to the nearest basis
// point.
func (p *Percentage) UnmarshalJSON(data []byte) error {
	pct, err := strconv.ParseFloat(string(data), 64)
	if err != nil {
		return fmt.Errorf("parsing percentage value %q: %w", data, err)
	}
	*p = PercentageFromFloat(pct)
	return nil
}

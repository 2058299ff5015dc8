package domain

import (
	"fmt"

	"github.com/cockroachdb/apd/v3"
)

// DecCtx is the shared decimal context for all monetary and share-quantity
// arithmetic. Pool math must not lose precision across repeated trades, so
// every mutation goes through this context rather than float64.
var DecCtx = apd.BaseContext.WithPrecision(34)

// displayExponent is the scale used when reporting prices and payouts to
// callers (6 fractional digits, matching USDC).
const displayExponent = -6

// DecZero returns a fresh zero decimal.
func DecZero() *apd.Decimal {
	return apd.New(0, 0)
}

// CloneDec returns an independent copy of d. Store implementations and the
// AMM rely on this to avoid aliasing pool state into caller-held values.
func CloneDec(d *apd.Decimal) *apd.Decimal {
	if d == nil {
		return DecZero()
	}
	return new(apd.Decimal).Set(d)
}

// MustDec parses a decimal literal and panics on failure. Reserve it for
// compile-time constants such as fee rates.
func MustDec(s string) *apd.Decimal {
	d, _, err := apd.NewFromString(s)
	if err != nil {
		panic(fmt.Sprintf("domain: invalid decimal literal %q: %v", s, err))
	}
	return d
}

// ParseDec parses a user- or wire-supplied decimal string.
func ParseDec(s string) (*apd.Decimal, error) {
	d, _, err := apd.NewFromString(s)
	if err != nil {
		return nil, fmt.Errorf("domain: parse decimal %q: %w", s, err)
	}
	return d, nil
}

// DecAdd returns a + b under DecCtx.
func DecAdd(a, b *apd.Decimal) (*apd.Decimal, error) {
	r := new(apd.Decimal)
	_, err := DecCtx.Add(r, a, b)
	return r, err
}

// DecSub returns a - b under DecCtx.
func DecSub(a, b *apd.Decimal) (*apd.Decimal, error) {
	r := new(apd.Decimal)
	_, err := DecCtx.Sub(r, a, b)
	return r, err
}

// DecMul returns a * b under DecCtx.
func DecMul(a, b *apd.Decimal) (*apd.Decimal, error) {
	r := new(apd.Decimal)
	_, err := DecCtx.Mul(r, a, b)
	return r, err
}

// DecQuo returns a / b under DecCtx.
func DecQuo(a, b *apd.Decimal) (*apd.Decimal, error) {
	r := new(apd.Decimal)
	_, err := DecCtx.Quo(r, a, b)
	return r, err
}

// DecSqrt returns the square root of a under DecCtx.
func DecSqrt(a *apd.Decimal) (*apd.Decimal, error) {
	r := new(apd.Decimal)
	_, err := DecCtx.Sqrt(r, a)
	return r, err
}

// RoundDisplay quantizes d to the display scale (6 fractional digits) and
// returns the result as a new decimal.
func RoundDisplay(d *apd.Decimal) *apd.Decimal {
	out := new(apd.Decimal)
	if _, err := DecCtx.Quantize(out, d, displayExponent); err != nil {
		return CloneDec(d)
	}
	return out
}

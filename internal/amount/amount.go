// Package amount provides overflow-checked arithmetic for monetary
// quantities. All amounts are unsigned 256-bit integers denominated in the
// asset's smallest unit (10^-6 of the display unit).
package amount

import (
	"errors"
	"fmt"
	"strings"

	"github.com/holiman/uint256"
)

// Decimals is the fixed decimal precision of the asset.
const Decimals = 6

// unitScale is 10^Decimals, the number of smallest units per display unit.
var unitScale = uint256.NewInt(1_000_000)

var ErrOverflow = errors.New("amount overflow")

// New returns an amount holding v smallest units.
func New(v uint64) *uint256.Int {
	return uint256.NewInt(v)
}

// Zero returns a fresh zero amount.
func Zero() *uint256.Int {
	return new(uint256.Int)
}

// Add returns a+b. ok is false on overflow.
func Add(a, b *uint256.Int) (*uint256.Int, bool) {
	v, overflow := new(uint256.Int).AddOverflow(a, b)
	return v, !overflow
}

// Sub returns a-b. ok is false if b > a.
func Sub(a, b *uint256.Int) (*uint256.Int, bool) {
	v, underflow := new(uint256.Int).SubOverflow(a, b)
	return v, !underflow
}

// Mul returns a*b. ok is false on overflow.
func Mul(a, b *uint256.Int) (*uint256.Int, bool) {
	v, overflow := new(uint256.Int).MulOverflow(a, b)
	return v, !overflow
}

// Parse reads a decimal amount in display units, with an optional fractional
// part of at most Decimals digits, and returns it in smallest units.
// "1.5" parses to 1500000; "0.000001" parses to 1.
func Parse(s string) (*uint256.Int, error) {
	whole, frac, hasFrac := strings.Cut(s, ".")
	if whole == "" {
		whole = "0"
	}
	w, err := uint256.FromDecimal(whole)
	if err != nil {
		return nil, fmt.Errorf("parse amount %q: %w", s, err)
	}
	v, overflow := new(uint256.Int).MulOverflow(w, unitScale)
	if overflow {
		return nil, fmt.Errorf("parse amount %q: %w", s, ErrOverflow)
	}
	if !hasFrac {
		return v, nil
	}
	if len(frac) == 0 || len(frac) > Decimals {
		return nil, fmt.Errorf("parse amount %q: fractional part must have 1 to %d digits", s, Decimals)
	}
	// Right-pad the fraction to Decimals digits.
	f, err := uint256.FromDecimal(frac + strings.Repeat("0", Decimals-len(frac)))
	if err != nil {
		return nil, fmt.Errorf("parse amount %q: %w", s, err)
	}
	v, overflow = v.AddOverflow(v, f)
	if overflow {
		return nil, fmt.Errorf("parse amount %q: %w", s, ErrOverflow)
	}
	return v, nil
}

// ParseUnits reads a decimal integer denominated in smallest units.
func ParseUnits(s string) (*uint256.Int, error) {
	v, err := uint256.FromDecimal(s)
	if err != nil {
		return nil, fmt.Errorf("parse amount %q: %w", s, err)
	}
	return v, nil
}

// Format renders an amount in display units with all Decimals places,
// e.g. 25000 -> "0.025000".
func Format(a *uint256.Int) string {
	whole, frac := new(uint256.Int), new(uint256.Int)
	whole.DivMod(a, unitScale, frac)
	return fmt.Sprintf("%s.%06d", whole.Dec(), frac.Uint64())
}

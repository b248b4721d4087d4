// Package fee implements the protocol fee policy. The fee rate is expressed
// in basis points (1 bps = 0.01%) and is fixed at configuration time; every
// fee-bearing settlement (instant pay, escrow release, stream withdrawal)
// uses the same split.
package fee

import (
	"errors"

	"github.com/holiman/uint256"

	"github.com/mintclaw/paycore/internal/ident"
)

// MaxBasisPoints is the basis point denominator: 10000 bps = 100%.
const MaxBasisPoints = 10_000

// DefaultBasisPoints is the standard deployment rate, 250 bps = 2.5%.
const DefaultBasisPoints = 250

var (
	ErrBasisPointsOutOfRange = errors.New("fee basis points out of range")
	ErrNoRecipient           = errors.New("fee recipient address is zero")
)

// Policy computes the protocol fee for a gross settlement amount. Immutable
// once constructed.
type Policy struct {
	bps       uint16
	recipient ident.Address
}

// NewPolicy validates the rate and recipient. bps must lie in
// [0, MaxBasisPoints]; a zero recipient is rejected even at bps 0 so a
// deployment cannot silently burn fees.
func NewPolicy(bps uint16, recipient ident.Address) (Policy, error) {
	if bps > MaxBasisPoints {
		return Policy{}, ErrBasisPointsOutOfRange
	}
	if recipient.IsZero() {
		return Policy{}, ErrNoRecipient
	}
	return Policy{bps: bps, recipient: recipient}, nil
}

func (p Policy) BasisPoints() uint16 {
	return p.bps
}

func (p Policy) Recipient() ident.Address {
	return p.recipient
}

// Fee returns floor(gross * bps / 10000). Rounding is always floor, so the
// fee never rounds in the payer's favor. The computation cannot overflow:
// with gross = q*10000 + r, the floor equals q*bps + floor(r*bps/10000),
// and both terms stay within the result's bound of gross itself.
func (p Policy) Fee(gross *uint256.Int) *uint256.Int {
	denom := uint256.NewInt(MaxBasisPoints)
	bps := uint256.NewInt(uint64(p.bps))

	q, r := new(uint256.Int), new(uint256.Int)
	q.DivMod(gross, denom, r)

	f := new(uint256.Int).Mul(q, bps)
	rem := new(uint256.Int).Mul(r, bps)
	rem.Div(rem, denom)
	return f.Add(f, rem)
}

// Split returns the net recipient amount and the protocol fee for a gross
// settlement: net + fee == gross always.
func (p Policy) Split(gross *uint256.Int) (net, fee *uint256.Int) {
	fee = p.Fee(gross)
	net = new(uint256.Int).Sub(gross, fee)
	return net, fee
}

package protocol

import (
	"github.com/holiman/uint256"

	"github.com/mintclaw/paycore/internal/escrow"
	"github.com/mintclaw/paycore/internal/event"
	"github.com/mintclaw/paycore/internal/ident"
	"github.com/mintclaw/paycore/internal/ledger"
	"github.com/mintclaw/paycore/internal/stream"
)

// BalanceOf returns the account's spendable balance.
func (p *Protocol) BalanceOf(addr ident.Address) *uint256.Int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.ledger.BalanceOf(addr)
}

// Allowance returns what the vault may still pull from owner.
func (p *Protocol) Allowance(owner ident.Address) *uint256.Int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.ledger.Allowance(owner, ledger.Vault)
}

// GetEscrow returns the escrow record. A missing id yields the zero record
// with state None; callers must treat None as "not found", not an error.
func (p *Protocol) GetEscrow(id ident.ID) escrow.Escrow {
	p.mu.RLock()
	defer p.mu.RUnlock()
	rec, ok := p.escrows.Get(id)
	if !ok {
		return escrow.Escrow{ID: id, Amount: new(uint256.Int), State: escrow.StateNone}
	}
	return rec
}

// GetStream returns the stream record, if it exists.
func (p *Protocol) GetStream(id ident.ID) (stream.Stream, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.streams.Get(id)
}

// StreamBalance returns the recipient's current withdrawable amount.
func (p *Protocol) StreamBalance(id ident.ID) (*uint256.Int, error) {
	return p.StreamBalanceAt(id, p.clock.Now())
}

// StreamBalanceAt evaluates the withdrawable formula at an arbitrary time.
// Side-effect free; clients poll it at their own cadence for real-time
// display.
func (p *Protocol) StreamBalanceAt(id ident.ID, at uint64) (*uint256.Int, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	rec, ok := p.streams.Get(id)
	if !ok {
		return nil, stream.ErrNotFound
	}
	return rec.Withdrawable(at), nil
}

// History returns up to limit committed events ending at the newest, in
// commit order. limit <= 0 returns everything.
func (p *Protocol) History(limit int) []event.Event {
	p.mu.RLock()
	defer p.mu.RUnlock()
	j := p.journal
	if limit > 0 && len(j) > limit {
		j = j[len(j)-limit:]
	}
	out := make([]event.Event, len(j))
	copy(out, j)
	return out
}

package protocol

import (
	"github.com/holiman/uint256"

	"github.com/mintclaw/paycore/internal/amount"
	"github.com/mintclaw/paycore/internal/event"
	"github.com/mintclaw/paycore/internal/ident"
	"github.com/mintclaw/paycore/internal/ledger"
	"github.com/mintclaw/paycore/internal/store"
)

// MaxMemoLength bounds the opaque payment memo. Stored verbatim, never
// interpreted.
const MaxMemoLength = 256

// Pay performs an instant fee-deducted transfer: from is charged the full
// amount, to is credited amount minus the protocol fee, and the fee goes to
// the fee recipient. The caller must have pre-approved the vault for at
// least amount. Paying yourself is permitted and loses exactly the fee.
func (p *Protocol) Pay(from, to ident.Address, amt *uint256.Int, memo string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if amt == nil || amt.IsZero() {
		return ErrInvalidAmount
	}
	if len(memo) > MaxMemoLength {
		return ErrMemoTooLong
	}

	net, feeAmt := p.policy.Split(amt)
	st, err := p.ledger.StageWithAllowance(from, ledger.Vault, amt,
		ledger.Move{From: from, To: to, Amount: net},
		ledger.Move{From: from, To: p.policy.Recipient(), Amount: feeAmt},
	)
	if err != nil {
		return err
	}

	mut := store.Mutation{
		Balances:  st.Entries(),
		Allowance: allowancePtr(st),
		Event: &event.Event{
			Kind:   event.KindInstantPayment,
			From:   from,
			To:     to,
			Amount: amt.Clone(),
			Fee:    feeAmt,
			Memo:   memo,
		},
	}
	return p.commit(mut, func() { p.ledger.Commit(st) })
}

// Approve sets how much the vault may pull from owner's balance,
// overwriting any prior approval. Every amount-bearing call pulls through
// this allowance; there is no implicit infinite approval.
func (p *Protocol) Approve(owner ident.Address, amt *uint256.Int) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	mut := store.Mutation{
		Allowance: &ledger.AllowanceEntry{Owner: owner, Spender: ledger.Vault, Value: amt.Clone()},
		Event: &event.Event{
			Kind:   event.KindApproval,
			From:   owner,
			To:     ledger.Vault,
			Amount: amt.Clone(),
		},
	}
	return p.commit(mut, func() { p.ledger.Approve(owner, ledger.Vault, amt) })
}

// Mint credits an account out of nothing. Deployment genesis funding only;
// not part of the payment surface.
func (p *Protocol) Mint(to ident.Address, amt *uint256.Int) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if amt == nil || amt.IsZero() {
		return ErrInvalidAmount
	}
	next, ok := amount.Add(p.ledger.BalanceOf(to), amt)
	if !ok {
		return amount.ErrOverflow
	}

	mut := store.Mutation{
		Balances: []ledger.Entry{{Addr: to, Value: next}},
		Event: &event.Event{
			Kind:   event.KindMint,
			To:     to,
			Amount: amt.Clone(),
		},
	}
	return p.commit(mut, func() { p.ledger.SetBalance(to, next) })
}

package protocol

import (
	"github.com/holiman/uint256"

	"github.com/mintclaw/paycore/internal/escrow"
	"github.com/mintclaw/paycore/internal/event"
	"github.com/mintclaw/paycore/internal/ident"
	"github.com/mintclaw/paycore/internal/ledger"
	"github.com/mintclaw/paycore/internal/store"
)

// CreateEscrow locks amt of the payer's funds in the vault for a bounded
// job. The payer must have pre-approved the vault; deadline is an absolute
// UNIX timestamp strictly in the future.
func (p *Protocol) CreateEscrow(payer, provider ident.Address, amt *uint256.Int, jobID string, deadline uint64) (ident.ID, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	rec, err := p.escrows.Create(payer, provider, amt, jobID, deadline, p.clock.Now())
	if err != nil {
		return ident.ID{}, err
	}
	st, err := p.ledger.StageWithAllowance(payer, ledger.Vault, amt,
		ledger.Move{From: payer, To: ledger.Vault, Amount: amt})
	if err != nil {
		return ident.ID{}, err
	}

	mut := store.Mutation{
		Balances:    st.Entries(),
		Allowance:   allowancePtr(st),
		Escrow:      rec,
		EscrowNonce: uintPtr(p.escrows.Nonce() + 1),
		Event: &event.Event{
			Kind:     event.KindEscrowCreated,
			From:     payer,
			To:       provider,
			ID:       &rec.ID,
			Amount:   amt.Clone(),
			JobID:    jobID,
			Deadline: deadline,
		},
	}
	err = p.commit(mut, func() {
		p.ledger.Commit(st)
		p.escrows.Commit(rec)
	})
	if err != nil {
		return ident.ID{}, err
	}
	return rec.ID, nil
}

// ReleaseEscrow is the payer accepting the job: the locked amount settles
// to the provider net of fee. Allowed at any time while Active.
func (p *Protocol) ReleaseEscrow(caller ident.Address, id ident.ID) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	rec, err := p.escrows.Release(id, caller)
	if err != nil {
		return err
	}
	return p.settleEscrowRelease(rec)
}

// ClaimEscrow is the provider collecting after the deadline when the payer
// has gone unresponsive. Same settlement as release.
func (p *Protocol) ClaimEscrow(caller ident.Address, id ident.ID) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	rec, err := p.escrows.Claim(id, caller, p.clock.Now())
	if err != nil {
		return err
	}
	return p.settleEscrowRelease(rec)
}

// RefundEscrow is the provider declining the job: the full amount returns
// to the payer with no fee.
func (p *Protocol) RefundEscrow(caller ident.Address, id ident.ID) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	rec, err := p.escrows.Refund(id, caller)
	if err != nil {
		return err
	}
	return p.settleEscrowRefund(rec)
}

// CancelEscrow is the payer withdrawing the job: same fee-free refund,
// gated on the payer.
func (p *Protocol) CancelEscrow(caller ident.Address, id ident.ID) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	rec, err := p.escrows.Cancel(id, caller)
	if err != nil {
		return err
	}
	return p.settleEscrowRefund(rec)
}

// DisputeEscrow records a disagreement raised by either party. Funds stay
// locked; resolution happens outside the protocol.
func (p *Protocol) DisputeEscrow(caller ident.Address, id ident.ID) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	rec, err := p.escrows.Dispute(id, caller)
	if err != nil {
		return err
	}
	mut := store.Mutation{
		Escrow: rec,
		Event: &event.Event{
			Kind:   event.KindEscrowDisputed,
			From:   rec.Payer,
			To:     rec.Provider,
			ID:     &rec.ID,
			Amount: rec.Amount.Clone(),
		},
	}
	return p.commit(mut, func() { p.escrows.Commit(rec) })
}

func (p *Protocol) settleEscrowRelease(rec *escrow.Escrow) error {
	net, feeAmt := p.policy.Split(rec.Amount)
	st, err := p.ledger.Stage(
		ledger.Move{From: ledger.Vault, To: rec.Provider, Amount: net},
		ledger.Move{From: ledger.Vault, To: p.policy.Recipient(), Amount: feeAmt},
	)
	if err != nil {
		return err
	}
	mut := store.Mutation{
		Balances: st.Entries(),
		Escrow:   rec,
		Event: &event.Event{
			Kind:   event.KindEscrowReleased,
			From:   rec.Payer,
			To:     rec.Provider,
			ID:     &rec.ID,
			Amount: rec.Amount.Clone(),
			Fee:    feeAmt,
		},
	}
	return p.commit(mut, func() {
		p.ledger.Commit(st)
		p.escrows.Commit(rec)
	})
}

func (p *Protocol) settleEscrowRefund(rec *escrow.Escrow) error {
	st, err := p.ledger.Stage(
		ledger.Move{From: ledger.Vault, To: rec.Payer, Amount: rec.Amount})
	if err != nil {
		return err
	}
	mut := store.Mutation{
		Balances: st.Entries(),
		Escrow:   rec,
		Event: &event.Event{
			Kind:   event.KindEscrowRefunded,
			From:   rec.Payer,
			To:     rec.Provider,
			ID:     &rec.ID,
			Amount: rec.Amount.Clone(),
		},
	}
	return p.commit(mut, func() {
		p.ledger.Commit(st)
		p.escrows.Commit(rec)
	})
}

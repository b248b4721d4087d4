package protocol

import (
	"github.com/holiman/uint256"

	"github.com/mintclaw/paycore/internal/event"
	"github.com/mintclaw/paycore/internal/ident"
	"github.com/mintclaw/paycore/internal/ledger"
	"github.com/mintclaw/paycore/internal/store"
)

// StartStream locks ratePerSecond x maxDuration of the payer's funds in
// the vault and begins accrual at the current time. The payer must have
// pre-approved the vault for the full deposit.
func (p *Protocol) StartStream(payer, recipient ident.Address, ratePerSecond *uint256.Int, maxDuration uint64) (ident.ID, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	rec, deposit, err := p.streams.Create(payer, recipient, ratePerSecond, maxDuration, p.clock.Now())
	if err != nil {
		return ident.ID{}, err
	}
	st, err := p.ledger.StageWithAllowance(payer, ledger.Vault, deposit,
		ledger.Move{From: payer, To: ledger.Vault, Amount: deposit})
	if err != nil {
		return ident.ID{}, err
	}

	mut := store.Mutation{
		Balances:    st.Entries(),
		Allowance:   allowancePtr(st),
		Stream:      rec,
		StreamNonce: uintPtr(p.streams.Nonce() + 1),
		Event: &event.Event{
			Kind:     event.KindStreamStarted,
			From:     payer,
			To:       recipient,
			ID:       &rec.ID,
			Amount:   deposit,
			Rate:     ratePerSecond.Clone(),
			Duration: maxDuration,
		},
	}
	err = p.commit(mut, func() {
		p.ledger.Commit(st)
		p.streams.Commit(rec)
	})
	if err != nil {
		return ident.ID{}, err
	}
	return rec.ID, nil
}

// WithdrawFromStream pays the recipient everything accrued since the last
// withdrawal, net of fee, and returns the gross amount withdrawn.
func (p *Protocol) WithdrawFromStream(caller ident.Address, id ident.ID) (*uint256.Int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	rec, due, err := p.streams.Withdraw(id, caller, p.clock.Now())
	if err != nil {
		return nil, err
	}
	net, feeAmt := p.policy.Split(due)
	st, err := p.ledger.Stage(
		ledger.Move{From: ledger.Vault, To: rec.Recipient, Amount: net},
		ledger.Move{From: ledger.Vault, To: p.policy.Recipient(), Amount: feeAmt},
	)
	if err != nil {
		return nil, err
	}

	mut := store.Mutation{
		Balances: st.Entries(),
		Stream:   rec,
		Event: &event.Event{
			Kind:   event.KindStreamWithdrawn,
			From:   rec.Payer,
			To:     rec.Recipient,
			ID:     &rec.ID,
			Amount: due.Clone(),
			Fee:    feeAmt,
		},
	}
	err = p.commit(mut, func() {
		p.ledger.Commit(st)
		p.streams.Commit(rec)
	})
	if err != nil {
		return nil, err
	}
	return due, nil
}

// StopStream ends the stream: the outstanding withdrawable settles to the
// recipient net of fee, the unearned remainder refunds to the payer
// fee-free, and the stream can never be reactivated. Either party may
// stop. Returns the gross settled amount and the refund.
func (p *Protocol) StopStream(caller ident.Address, id ident.ID) (settled, refund *uint256.Int, err error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	rec, settled, refund, err := p.streams.Stop(id, caller, p.clock.Now())
	if err != nil {
		return nil, nil, err
	}
	net, feeAmt := p.policy.Split(settled)
	st, err := p.ledger.Stage(
		ledger.Move{From: ledger.Vault, To: rec.Recipient, Amount: net},
		ledger.Move{From: ledger.Vault, To: p.policy.Recipient(), Amount: feeAmt},
		ledger.Move{From: ledger.Vault, To: rec.Payer, Amount: refund},
	)
	if err != nil {
		return nil, nil, err
	}

	mut := store.Mutation{
		Balances: st.Entries(),
		Stream:   rec,
		Event: &event.Event{
			Kind:   event.KindStreamStopped,
			From:   rec.Payer,
			To:     rec.Recipient,
			ID:     &rec.ID,
			Amount: settled.Clone(),
			Fee:    feeAmt,
			Refund: refund.Clone(),
		},
	}
	err = p.commit(mut, func() {
		p.ledger.Commit(st)
		p.streams.Commit(rec)
	})
	if err != nil {
		return nil, nil, err
	}
	return settled, refund, nil
}

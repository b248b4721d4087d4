// Package ledger implements the fixed-point fungible asset ledger: account
// balances and per-spender allowances in the asset's smallest unit. No
// operation may produce a negative balance and all arithmetic is
// overflow-checked.
//
// The ledger performs no locking of its own; callers serialize mutations
// (the protocol facade holds a write lock across every mutating call).
package ledger

import (
	"errors"

	"github.com/holiman/uint256"

	"github.com/mintclaw/paycore/internal/amount"
	"github.com/mintclaw/paycore/internal/ident"
)

var (
	ErrInsufficientBalance   = errors.New("insufficient balance")
	ErrInsufficientAllowance = errors.New("insufficient allowance")
)

// Vault is the ledger-internal account that owns locked escrow and stream
// deposits for their lifetime. Payer and counterpart hold only a claim in
// the escrow/stream record until a transition moves funds back into
// ordinary balances. Vault is also the spender identity the protocol uses
// when pulling pre-approved funds.
var Vault = ident.AddressFromTag("paycore/vault/v1")

// Move describes a single balance movement inside a settlement.
type Move struct {
	From   ident.Address
	To     ident.Address
	Amount *uint256.Int
}

// Entry is a materialized (address, balance) pair, used to persist the
// accounts touched by a settlement.
type Entry struct {
	Addr  ident.Address
	Value *uint256.Int
}

// AllowanceEntry is a materialized allowance, used for persistence.
type AllowanceEntry struct {
	Owner   ident.Address
	Spender ident.Address
	Value   *uint256.Int
}

// Ledger holds all balances and allowances in memory.
type Ledger struct {
	balances   map[ident.Address]*uint256.Int
	allowances map[allowanceKey]*uint256.Int
}

type allowanceKey struct {
	owner   ident.Address
	spender ident.Address
}

func New() *Ledger {
	return &Ledger{
		balances:   make(map[ident.Address]*uint256.Int),
		allowances: make(map[allowanceKey]*uint256.Int),
	}
}

// BalanceOf returns a copy of the account's balance; missing accounts hold
// zero.
func (l *Ledger) BalanceOf(addr ident.Address) *uint256.Int {
	if b, ok := l.balances[addr]; ok {
		return b.Clone()
	}
	return new(uint256.Int)
}

// Allowance returns a copy of the amount spender may pull from owner.
func (l *Ledger) Allowance(owner, spender ident.Address) *uint256.Int {
	if a, ok := l.allowances[allowanceKey{owner, spender}]; ok {
		return a.Clone()
	}
	return new(uint256.Int)
}

// Mint credits to with amt out of thin air. Only deployment genesis funding
// uses this; it is not reachable through the protocol facade's payment
// surface.
func (l *Ledger) Mint(to ident.Address, amt *uint256.Int) error {
	next, ok := amount.Add(l.BalanceOf(to), amt)
	if !ok {
		return amount.ErrOverflow
	}
	l.balances[to] = next
	return nil
}

// Transfer moves amt from one account to another, atomically.
func (l *Ledger) Transfer(from, to ident.Address, amt *uint256.Int) error {
	st, err := l.Stage(Move{From: from, To: to, Amount: amt})
	if err != nil {
		return err
	}
	l.Commit(st)
	return nil
}

// Approve sets spender's allowance over owner's funds, overwriting any prior
// value. Not additive.
func (l *Ledger) Approve(owner, spender ident.Address, amt *uint256.Int) {
	l.allowances[allowanceKey{owner, spender}] = amt.Clone()
}

// TransferFrom moves amt out of owner's balance on the strength of spender's
// allowance, decrementing the allowance by amt first. There is no
// unlimited-allowance fast path.
func (l *Ledger) TransferFrom(spender, owner, to ident.Address, amt *uint256.Int) error {
	st, err := l.StageWithAllowance(owner, spender, amt, Move{From: owner, To: to, Amount: amt})
	if err != nil {
		return err
	}
	l.Commit(st)
	return nil
}

// Staged is a fully validated settlement that has not yet been applied.
// It carries the final values of every touched balance and allowance, so
// the caller can persist the settlement before committing it in memory.
type Staged struct {
	balances  map[ident.Address]*uint256.Int
	order     []ident.Address
	allowance *AllowanceEntry
}

// Stage validates a settlement of one or more movements against the current
// state. Movements are applied in order against a staged view, so a credit
// received earlier in the settlement can fund a later debit. Nothing is
// mutated; on any failure the ledger is untouched.
func (l *Ledger) Stage(moves ...Move) (*Staged, error) {
	st := &Staged{balances: make(map[ident.Address]*uint256.Int)}
	for _, m := range moves {
		if m.Amount.IsZero() {
			continue
		}
		from := st.view(l, m.From)
		next, ok := amount.Sub(from, m.Amount)
		if !ok {
			return nil, ErrInsufficientBalance
		}
		st.set(m.From, next)

		to := st.view(l, m.To)
		next, ok = amount.Add(to, m.Amount)
		if !ok {
			return nil, amount.ErrOverflow
		}
		st.set(m.To, next)
	}
	return st, nil
}

// StageWithAllowance is Stage plus an allowance charge: spender's allowance
// over owner's funds is checked against charge and staged decremented by it.
func (l *Ledger) StageWithAllowance(owner, spender ident.Address, charge *uint256.Int, moves ...Move) (*Staged, error) {
	remaining, ok := amount.Sub(l.Allowance(owner, spender), charge)
	if !ok {
		return nil, ErrInsufficientAllowance
	}
	st, err := l.Stage(moves...)
	if err != nil {
		return nil, err
	}
	st.allowance = &AllowanceEntry{Owner: owner, Spender: spender, Value: remaining}
	return st, nil
}

// Commit applies a staged settlement. Cannot fail: every value was computed
// and validated at staging time.
func (l *Ledger) Commit(st *Staged) {
	for addr, v := range st.balances {
		l.balances[addr] = v
	}
	if st.allowance != nil {
		l.allowances[allowanceKey{st.allowance.Owner, st.allowance.Spender}] = st.allowance.Value
	}
}

// Entries returns the touched balances in first-touch order.
func (st *Staged) Entries() []Entry {
	out := make([]Entry, 0, len(st.order))
	for _, addr := range st.order {
		out = append(out, Entry{Addr: addr, Value: st.balances[addr]})
	}
	return out
}

// AllowanceEntry returns the staged allowance decrement, if any.
func (st *Staged) AllowanceEntry() (AllowanceEntry, bool) {
	if st.allowance == nil {
		return AllowanceEntry{}, false
	}
	return *st.allowance, true
}

func (st *Staged) view(l *Ledger, addr ident.Address) *uint256.Int {
	if v, ok := st.balances[addr]; ok {
		return v
	}
	return l.BalanceOf(addr)
}

func (st *Staged) set(addr ident.Address, v *uint256.Int) {
	if _, ok := st.balances[addr]; !ok {
		st.order = append(st.order, addr)
	}
	st.balances[addr] = v
}

// SetBalance overwrites an account balance. Startup state restoration only.
func (l *Ledger) SetBalance(addr ident.Address, v *uint256.Int) {
	l.balances[addr] = v.Clone()
}

// SetAllowance overwrites an allowance. Startup state restoration only.
func (l *Ledger) SetAllowance(owner, spender ident.Address, v *uint256.Int) {
	l.allowances[allowanceKey{owner, spender}] = v.Clone()
}

// Package stream implements continuous pay-per-second payment streams. The
// full deposit (ratePerSecond x maxDuration) is vault-locked at creation;
// the recipient's withdrawable amount is a pure function of the rate, the
// elapsed time and the cumulative withdrawals, so clients can recompute it
// locally at any cadence without a round-trip.
package stream

import (
	"errors"

	"github.com/holiman/uint256"

	"github.com/mintclaw/paycore/internal/amount"
	"github.com/mintclaw/paycore/internal/ident"
)

var (
	ErrNotFound          = errors.New("stream not found")
	ErrNotAuthorized     = errors.New("caller may not perform this stream action")
	ErrInvalidRate       = errors.New("stream rate must be positive")
	ErrInvalidDuration   = errors.New("stream duration must be positive")
	ErrInactive          = errors.New("stream is not active")
	ErrNothingToWithdraw = errors.New("stream has nothing to withdraw")
)

// Stream is the record of one continuous payment.
type Stream struct {
	ID            ident.ID      `json:"id"`
	Payer         ident.Address `json:"payer"`
	Recipient     ident.Address `json:"recipient"`
	RatePerSecond *uint256.Int  `json:"rate_per_second"`
	StartTime     uint64        `json:"start_time"`
	MaxDuration   uint64        `json:"max_duration"`
	Withdrawn     *uint256.Int  `json:"withdrawn"`
	Active        bool          `json:"active"`
}

// TotalDeposit is ratePerSecond x maxDuration, the amount locked at
// creation. Cannot overflow for a committed stream: Create checks the
// product.
func (s *Stream) TotalDeposit() *uint256.Int {
	v, _ := amount.Mul(s.RatePerSecond, uint256.NewInt(s.MaxDuration))
	return v
}

// Elapsed is the accrual time at t, clamped to [0, maxDuration]. Time
// before the start counts as zero.
func (s *Stream) Elapsed(t uint64) uint64 {
	if t <= s.StartTime {
		return 0
	}
	e := t - s.StartTime
	if e > s.MaxDuration {
		return s.MaxDuration
	}
	return e
}

// Earned is the total accrued to the recipient by t, withdrawn or not.
func (s *Stream) Earned(t uint64) *uint256.Int {
	v, _ := amount.Mul(s.RatePerSecond, uint256.NewInt(s.Elapsed(t)))
	return v
}

// Withdrawable is earned(t) minus what was already withdrawn. Never
// negative; zero once a stop has settled in full.
func (s *Stream) Withdrawable(t uint64) *uint256.Int {
	if !s.Active {
		return new(uint256.Int)
	}
	v, ok := amount.Sub(s.Earned(t), s.Withdrawn)
	if !ok {
		return new(uint256.Int)
	}
	return v
}

// Engine owns all stream records and validates actions. Like the escrow
// engine, action methods return the post-action record for the caller to
// persist and then Commit; fund movement is the caller's job.
type Engine struct {
	records map[ident.ID]*Stream
	nonce   uint64
}

func NewEngine() *Engine {
	return &Engine{records: make(map[ident.ID]*Stream)}
}

// Create validates a new stream and computes its deposit. Returns the
// Active record (not yet stored) and the total deposit to lock. Fails with
// amount.ErrOverflow if ratePerSecond x maxDuration overflows.
func (e *Engine) Create(payer, recipient ident.Address, ratePerSecond *uint256.Int, maxDuration, now uint64) (*Stream, *uint256.Int, error) {
	if ratePerSecond == nil || ratePerSecond.IsZero() {
		return nil, nil, ErrInvalidRate
	}
	if maxDuration == 0 {
		return nil, nil, ErrInvalidDuration
	}
	deposit, ok := amount.Mul(ratePerSecond, uint256.NewInt(maxDuration))
	if !ok {
		return nil, nil, amount.ErrOverflow
	}
	rec := &Stream{
		ID:            ident.DeriveID(payer, recipient, "", e.nonce),
		Payer:         payer,
		Recipient:     recipient,
		RatePerSecond: ratePerSecond.Clone(),
		StartTime:     now,
		MaxDuration:   maxDuration,
		Withdrawn:     new(uint256.Int),
		Active:        true,
	}
	return rec, deposit, nil
}

// Get returns a copy of the record.
func (e *Engine) Get(id ident.ID) (Stream, bool) {
	rec, ok := e.records[id]
	if !ok {
		return Stream{}, false
	}
	return *rec, true
}

// Withdraw computes the recipient's current withdrawable amount and returns
// the post-withdrawal record together with that amount. The caller pays it
// out net of fee.
func (e *Engine) Withdraw(id ident.ID, caller ident.Address, now uint64) (*Stream, *uint256.Int, error) {
	rec, ok := e.records[id]
	if !ok {
		return nil, nil, ErrNotFound
	}
	if caller != rec.Recipient {
		return nil, nil, ErrNotAuthorized
	}
	if !rec.Active {
		return nil, nil, ErrInactive
	}
	due := rec.Withdrawable(now)
	if due.IsZero() {
		return nil, nil, ErrNothingToWithdraw
	}
	next := *rec
	next.Withdrawn = new(uint256.Int).Add(rec.Withdrawn, due)
	return &next, due, nil
}

// Stop ends the stream: any outstanding withdrawable settles to the
// recipient (fee-split by the caller) and the unearned remainder returns to
// the payer. Either party may stop; a stream is never reactivated.
func (e *Engine) Stop(id ident.ID, caller ident.Address, now uint64) (next *Stream, settled, refund *uint256.Int, err error) {
	rec, ok := e.records[id]
	if !ok {
		return nil, nil, nil, ErrNotFound
	}
	if caller != rec.Payer && caller != rec.Recipient {
		return nil, nil, nil, ErrNotAuthorized
	}
	if !rec.Active {
		return nil, nil, nil, ErrInactive
	}

	earned := rec.Earned(now)
	settled = rec.Withdrawable(now)
	// refund = totalDeposit - earned; earned <= totalDeposit because
	// elapsed is clamped to maxDuration.
	refund, _ = amount.Sub(rec.TotalDeposit(), earned)

	s := *rec
	s.Withdrawn = earned.Clone()
	s.Active = false
	return &s, settled, refund, nil
}

// Commit stores a record produced by Create or an action method and, for
// creations, consumes the creation nonce.
func (e *Engine) Commit(rec *Stream) {
	if _, exists := e.records[rec.ID]; !exists {
		e.nonce++
	}
	e.records[rec.ID] = rec
}

// Restore loads a persisted record at startup without touching the nonce.
func (e *Engine) Restore(rec *Stream) {
	e.records[rec.ID] = rec
}

func (e *Engine) Nonce() uint64 {
	return e.nonce
}

func (e *Engine) SetNonce(n uint64) {
	e.nonce = n
}

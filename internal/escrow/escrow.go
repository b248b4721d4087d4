// Package escrow implements the job escrow state machine:
//
//	None -> Active -> {Released | Disputed | Refunded}
//
// Funds equal to the escrow amount are vault-held from creation until a
// terminal transition moves them out. Terminal states are never re-entered;
// the record itself stays queryable forever.
package escrow

import (
	"errors"

	"github.com/holiman/uint256"

	"github.com/mintclaw/paycore/internal/ident"
)

// MaxJobIDLength bounds the opaque job correlation token.
const MaxJobIDLength = 128

var (
	ErrNotFound           = errors.New("escrow not found")
	ErrNotAuthorized      = errors.New("caller may not perform this escrow transition")
	ErrInvalidState       = errors.New("escrow is not in the required state")
	ErrInvalidAmount      = errors.New("escrow amount must be positive")
	ErrInvalidDeadline    = errors.New("escrow deadline must be in the future")
	ErrDeadlineNotReached = errors.New("escrow deadline not reached")
	ErrJobIDTooLong       = errors.New("escrow job id too long")
)

// State is the escrow lifecycle state. The numeric values are part of the
// query surface: None (0) means "no such escrow".
type State uint8

const (
	StateNone State = iota
	StateActive
	StateReleased
	StateDisputed
	StateRefunded
)

func (s State) String() string {
	switch s {
	case StateNone:
		return "none"
	case StateActive:
		return "active"
	case StateReleased:
		return "released"
	case StateDisputed:
		return "disputed"
	case StateRefunded:
		return "refunded"
	default:
		return "unknown"
	}
}

// Terminal reports whether no further transition may leave s. Disputed is
// terminal for the payer/provider self-service surface: arbitration happens
// outside the protocol and is only recorded here.
func (s State) Terminal() bool {
	return s == StateReleased || s == StateRefunded || s == StateDisputed
}

// Escrow is the record of one bounded job's locked funds.
type Escrow struct {
	ID       ident.ID      `json:"id"`
	Payer    ident.Address `json:"payer"`
	Provider ident.Address `json:"provider"`
	Amount   *uint256.Int  `json:"amount"`
	JobID    string        `json:"job_id"`
	Deadline uint64        `json:"deadline"`
	State    State         `json:"state"`
}

// Engine owns all escrow records and validates transitions. Transition
// methods return the post-transition record without storing it; the caller
// persists the outcome and then calls Commit. The engine never moves funds
// itself.
type Engine struct {
	records map[ident.ID]*Escrow
	nonce   uint64
}

func NewEngine() *Engine {
	return &Engine{records: make(map[ident.ID]*Escrow)}
}

// Create validates a new escrow and derives its id from
// (payer, provider, jobId, creation nonce). The returned record is Active
// but not yet stored.
func (e *Engine) Create(payer, provider ident.Address, amt *uint256.Int, jobID string, deadline, now uint64) (*Escrow, error) {
	if amt == nil || amt.IsZero() {
		return nil, ErrInvalidAmount
	}
	if deadline <= now {
		return nil, ErrInvalidDeadline
	}
	if len(jobID) > MaxJobIDLength {
		return nil, ErrJobIDTooLong
	}
	return &Escrow{
		ID:       ident.DeriveID(payer, provider, jobID, e.nonce),
		Payer:    payer,
		Provider: provider,
		Amount:   amt.Clone(),
		JobID:    jobID,
		Deadline: deadline,
		State:    StateActive,
	}, nil
}

// Get returns a copy of the record. A missing id yields ok == false; the
// query surface reports it as state None rather than an error.
func (e *Engine) Get(id ident.ID) (Escrow, bool) {
	rec, ok := e.records[id]
	if !ok {
		return Escrow{}, false
	}
	return *rec, true
}

// Release is the cooperative "job accepted" path: the payer releases the
// locked amount to the provider (fee-split by the caller) at any time while
// the escrow is Active, before or after the deadline.
func (e *Engine) Release(id ident.ID, caller ident.Address) (*Escrow, error) {
	rec, err := e.active(id)
	if err != nil {
		return nil, err
	}
	if caller != rec.Payer {
		return nil, ErrNotAuthorized
	}
	next := *rec
	next.State = StateReleased
	return &next, nil
}

// Claim lets the provider take the locked amount once the deadline has
// passed and the payer has gone unresponsive. Same terminal state and fee
// split as Release.
func (e *Engine) Claim(id ident.ID, caller ident.Address, now uint64) (*Escrow, error) {
	rec, err := e.active(id)
	if err != nil {
		return nil, err
	}
	if caller != rec.Provider {
		return nil, ErrNotAuthorized
	}
	if now < rec.Deadline {
		return nil, ErrDeadlineNotReached
	}
	next := *rec
	next.State = StateReleased
	return &next, nil
}

// Refund is the provider voluntarily declining the job: the full amount
// goes back to the payer, fee-free.
func (e *Engine) Refund(id ident.ID, caller ident.Address) (*Escrow, error) {
	rec, err := e.active(id)
	if err != nil {
		return nil, err
	}
	if caller != rec.Provider {
		return nil, ErrNotAuthorized
	}
	next := *rec
	next.State = StateRefunded
	return &next, nil
}

// Cancel is the payer pulling the job back before the provider delivers:
// same fee-free refund as Refund, gated on the payer instead of the
// provider. Not deadline-gated.
func (e *Engine) Cancel(id ident.ID, caller ident.Address) (*Escrow, error) {
	rec, err := e.active(id)
	if err != nil {
		return nil, err
	}
	if caller != rec.Payer {
		return nil, ErrNotAuthorized
	}
	next := *rec
	next.State = StateRefunded
	return &next, nil
}

// Dispute records a disagreement. Either party may raise it while the
// escrow is Active; funds stay vault-held and every further self-service
// transition is rejected with ErrInvalidState.
func (e *Engine) Dispute(id ident.ID, caller ident.Address) (*Escrow, error) {
	rec, err := e.active(id)
	if err != nil {
		return nil, err
	}
	if caller != rec.Payer && caller != rec.Provider {
		return nil, ErrNotAuthorized
	}
	next := *rec
	next.State = StateDisputed
	return &next, nil
}

// Commit stores a record produced by Create or a transition method and, for
// creations, consumes the creation nonce.
func (e *Engine) Commit(rec *Escrow) {
	if _, exists := e.records[rec.ID]; !exists {
		e.nonce++
	}
	e.records[rec.ID] = rec
}

// Restore loads a persisted record at startup without touching the nonce.
func (e *Engine) Restore(rec *Escrow) {
	e.records[rec.ID] = rec
}

// Nonce is the next creation nonce. Persisted so restarts cannot re-derive
// an existing id.
func (e *Engine) Nonce() uint64 {
	return e.nonce
}

// SetNonce restores the creation nonce at startup.
func (e *Engine) SetNonce(n uint64) {
	e.nonce = n
}

func (e *Engine) active(id ident.ID) (*Escrow, error) {
	rec, ok := e.records[id]
	if !ok {
		return nil, ErrNotFound
	}
	if rec.State != StateActive {
		return nil, ErrInvalidState
	}
	return rec, nil
}

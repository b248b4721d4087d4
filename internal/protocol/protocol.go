// Package protocol implements the externally callable payments surface. It
// binds the fee policy, the ledger and the escrow and stream engines,
// enforces caller authorization on every transition, and makes each
// mutating call atomic: the fund movement, the record update and the audit
// event commit together or not at all.
package protocol

import (
	"errors"
	"fmt"
	"sync"

	"github.com/rs/zerolog"

	"github.com/mintclaw/paycore/internal/escrow"
	"github.com/mintclaw/paycore/internal/event"
	"github.com/mintclaw/paycore/internal/fee"
	"github.com/mintclaw/paycore/internal/ledger"
	"github.com/mintclaw/paycore/internal/paytime"
	"github.com/mintclaw/paycore/internal/store"
	"github.com/mintclaw/paycore/internal/stream"
	"github.com/mintclaw/paycore/pkg/log"
)

var (
	ErrInvalidAmount = errors.New("amount must be positive")
	ErrMemoTooLong   = errors.New("payment memo too long")
)

// Protocol is the facade. All mutating calls serialize behind the write
// lock; read-only queries share the read lock and observe a consistent
// snapshot no older than the last committed mutation.
type Protocol struct {
	mu sync.RWMutex

	policy  fee.Policy
	clock   paytime.Clock
	ledger  *ledger.Ledger
	escrows *escrow.Engine
	streams *stream.Engine
	store   *store.Store
	sinks   []event.Sink

	journal []event.Event
	nextSeq uint64

	log zerolog.Logger
}

type Option func(*Protocol)

// WithClock replaces the wall clock. Tests use a paytime.Manual clock.
func WithClock(c paytime.Clock) Option {
	return func(p *Protocol) { p.clock = c }
}

// WithStore attaches durable storage. New loads the persisted state before
// serving, and every mutation thereafter commits to the store before it
// becomes observable.
func WithStore(s *store.Store) Option {
	return func(p *Protocol) { p.store = s }
}

// WithSink subscribes an in-process event sink. Sinks run under the write
// lock and must not block.
func WithSink(s event.Sink) Option {
	return func(p *Protocol) { p.sinks = append(p.sinks, s) }
}

func New(policy fee.Policy, opts ...Option) (*Protocol, error) {
	p := &Protocol{
		policy:  policy,
		clock:   paytime.System(),
		ledger:  ledger.New(),
		escrows: escrow.NewEngine(),
		streams: stream.NewEngine(),
		log:     log.Protocol,
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.store != nil {
		if err := p.restore(); err != nil {
			return nil, fmt.Errorf("restore state: %w", err)
		}
	}
	return p, nil
}

func (p *Protocol) restore() error {
	st, err := p.store.Load()
	if err != nil {
		return err
	}
	for _, e := range st.Balances {
		p.ledger.SetBalance(e.Addr, e.Value)
	}
	for _, a := range st.Allowances {
		p.ledger.SetAllowance(a.Owner, a.Spender, a.Value)
	}
	for _, rec := range st.Escrows {
		p.escrows.Restore(rec)
	}
	for _, rec := range st.Streams {
		p.streams.Restore(rec)
	}
	p.escrows.SetNonce(st.EscrowNonce)
	p.streams.SetNonce(st.StreamNonce)
	p.nextSeq = st.NextEventSeq

	if p.journal, err = p.store.Events(0); err != nil {
		return err
	}
	p.log.Info().
		Int("balances", len(st.Balances)).
		Int("escrows", len(st.Escrows)).
		Int("streams", len(st.Streams)).
		Uint64("events", st.NextEventSeq).
		Msg("state restored")
	return nil
}

// commit finalizes one mutation: persist first, then apply in memory.
// apply must be infallible; everything it does was validated at staging
// time, so a persistence failure leaves no partial transition observable.
func (p *Protocol) commit(mut store.Mutation, apply func()) error {
	mut.Event.Seq = p.nextSeq
	mut.Event.Timestamp = p.clock.Now()
	if p.store != nil {
		if err := p.store.Commit(mut); err != nil {
			return fmt.Errorf("persist mutation: %w", err)
		}
	}
	apply()
	p.nextSeq++
	p.journal = append(p.journal, *mut.Event)
	p.log.Info().Object("event", mut.Event).Msg("mutation committed")
	for _, s := range p.sinks {
		s.Notify(*mut.Event)
	}
	return nil
}

func allowancePtr(st *ledger.Staged) *ledger.AllowanceEntry {
	if a, ok := st.AllowanceEntry(); ok {
		return &a
	}
	return nil
}

func uintPtr(v uint64) *uint64 {
	return &v
}

// Package event defines the protocol's audit records. Every mutating call
// commits exactly one event carrying all involved parties, amounts and
// timestamps, so full payment history can be reconstructed from the journal
// alone, without replaying state.
package event

import (
	"github.com/holiman/uint256"
	"github.com/rs/zerolog"

	"github.com/mintclaw/paycore/internal/ident"
)

type Kind string

const (
	KindApproval        Kind = "approval"
	KindMint            Kind = "mint"
	KindInstantPayment  Kind = "instant_payment"
	KindEscrowCreated   Kind = "escrow_created"
	KindEscrowReleased  Kind = "escrow_released"
	KindEscrowRefunded  Kind = "escrow_refunded"
	KindEscrowDisputed  Kind = "escrow_disputed"
	KindStreamStarted   Kind = "stream_started"
	KindStreamWithdrawn Kind = "stream_withdrawn"
	KindStreamStopped   Kind = "stream_stopped"
)

// Event is one committed mutation. Fields that do not apply to a kind stay
// at their zero value and are omitted from the encoding.
type Event struct {
	Seq       uint64        `json:"seq"`
	Kind      Kind          `json:"kind"`
	Timestamp uint64        `json:"timestamp"`
	From      ident.Address `json:"from"`
	To        ident.Address `json:"to"`
	ID        *ident.ID     `json:"id,omitempty"`
	Amount    *uint256.Int  `json:"amount,omitempty"`
	Fee       *uint256.Int  `json:"fee,omitempty"`
	Refund    *uint256.Int  `json:"refund,omitempty"`
	Memo      string        `json:"memo,omitempty"`
	JobID     string        `json:"job_id,omitempty"`
	Deadline  uint64        `json:"deadline,omitempty"`
	Rate      *uint256.Int  `json:"rate_per_second,omitempty"`
	Duration  uint64        `json:"max_duration,omitempty"`
}

// MarshalZerologObject lets an event be logged as a structured field set.
func (e *Event) MarshalZerologObject(z *zerolog.Event) {
	z.Uint64("seq", e.Seq).
		Str("kind", string(e.Kind)).
		Uint64("timestamp", e.Timestamp).
		Stringer("from", e.From).
		Stringer("to", e.To)
	if e.ID != nil {
		z.Stringer("id", e.ID)
	}
	if e.Amount != nil {
		z.Str("amount", e.Amount.Dec())
	}
	if e.Fee != nil {
		z.Str("fee", e.Fee.Dec())
	}
	if e.Refund != nil {
		z.Str("refund", e.Refund.Dec())
	}
	if e.Memo != "" {
		z.Str("memo", e.Memo)
	}
	if e.JobID != "" {
		z.Str("job_id", e.JobID)
	}
	if e.Deadline != 0 {
		z.Uint64("deadline", e.Deadline)
	}
	if e.Rate != nil {
		z.Str("rate_per_second", e.Rate.Dec())
	}
	if e.Duration != 0 {
		z.Uint64("max_duration", e.Duration)
	}
}

// Sink receives committed events. Notify runs under the protocol's write
// lock and must not block.
type Sink interface {
	Notify(Event)
}

// Recorder is a Sink that keeps every event it sees. Test helper.
type Recorder struct {
	Events []Event
}

func (r *Recorder) Notify(e Event) {
	r.Events = append(r.Events, e)
}

// Last returns the most recent event, if any.
func (r *Recorder) Last() (Event, bool) {
	if len(r.Events) == 0 {
		return Event{}, false
	}
	return r.Events[len(r.Events)-1], true
}

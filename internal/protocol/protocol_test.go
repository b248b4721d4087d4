package protocol_test

import (
	"testing"

	"github.com/holiman/uint256"
	"github.com/stretchr/testify/require"

	"github.com/mintclaw/paycore/internal/amount"
	"github.com/mintclaw/paycore/internal/escrow"
	"github.com/mintclaw/paycore/internal/event"
	"github.com/mintclaw/paycore/internal/fee"
	"github.com/mintclaw/paycore/internal/ident"
	"github.com/mintclaw/paycore/internal/ledger"
	"github.com/mintclaw/paycore/internal/paytime"
	"github.com/mintclaw/paycore/internal/protocol"
	"github.com/mintclaw/paycore/internal/stream"
)

var (
	feeRecipient = ident.AddressFromTag("test/fee-recipient")
	payer        = ident.AddressFromTag("test/payer")
	provider     = ident.AddressFromTag("test/provider")
	recipient    = ident.AddressFromTag("test/recipient")
	stranger     = ident.AddressFromTag("test/stranger")
)

const baseTime = uint64(1_700_000_000)

type fixture struct {
	p     *protocol.Protocol
	clock *paytime.Manual
	rec   *event.Recorder
}

// newFixture builds an in-memory protocol at 250 bps with payer funded and
// fully approved.
func newFixture(t *testing.T, funding uint64) *fixture {
	t.Helper()
	policy, err := fee.NewPolicy(250, feeRecipient)
	require.NoError(t, err)

	clock := paytime.NewManual(baseTime)
	rec := &event.Recorder{}
	p, err := protocol.New(policy, protocol.WithClock(clock), protocol.WithSink(rec))
	require.NoError(t, err)

	require.NoError(t, p.Mint(payer, amount.New(funding)))
	require.NoError(t, p.Approve(payer, amount.New(funding)))
	return &fixture{p: p, clock: clock, rec: rec}
}

func TestPayFeeSplit(t *testing.T) {
	f := newFixture(t, 2_000_000)

	// 1.00 unit at 250 bps: 97.5% to the recipient, 2.5% to the fee
	// recipient.
	require.NoError(t, f.p.Pay(payer, recipient, amount.New(1_000_000), "invoice 7"))

	require.Equal(t, amount.New(1_000_000), f.p.BalanceOf(payer))
	require.Equal(t, amount.New(975_000), f.p.BalanceOf(recipient))
	require.Equal(t, amount.New(25_000), f.p.BalanceOf(feeRecipient))
	require.Equal(t, amount.New(1_000_000), f.p.Allowance(payer))

	last, ok := f.rec.Last()
	require.True(t, ok)
	require.Equal(t, event.KindInstantPayment, last.Kind)
	require.Equal(t, amount.New(1_000_000), last.Amount)
	require.Equal(t, amount.New(25_000), last.Fee)
	require.Equal(t, "invoice 7", last.Memo)
	require.Equal(t, baseTime, last.Timestamp)
}

func TestPayValidation(t *testing.T) {
	f := newFixture(t, 1_000_000)

	require.ErrorIs(t, f.p.Pay(payer, recipient, amount.Zero(), ""), protocol.ErrInvalidAmount)

	long := make([]byte, protocol.MaxMemoLength+1)
	require.ErrorIs(t, f.p.Pay(payer, recipient, amount.New(1), string(long)), protocol.ErrMemoTooLong)

	// Unapproved callers cannot pull funds.
	require.NoError(t, f.p.Mint(stranger, amount.New(500)))
	err := f.p.Pay(stranger, recipient, amount.New(500), "")
	require.ErrorIs(t, err, ledger.ErrInsufficientAllowance)

	// Approval alone is not enough without balance.
	require.NoError(t, f.p.Approve(stranger, amount.New(10_000)))
	err = f.p.Pay(stranger, recipient, amount.New(10_000), "")
	require.ErrorIs(t, err, ledger.ErrInsufficientBalance)
}

func TestPaySelfIsFeeSink(t *testing.T) {
	f := newFixture(t, 1_000_000)

	require.NoError(t, f.p.Pay(payer, payer, amount.New(1_000_000), ""))
	require.Equal(t, amount.New(975_000), f.p.BalanceOf(payer))
	require.Equal(t, amount.New(25_000), f.p.BalanceOf(feeRecipient))
}

func TestEscrowReleaseFlow(t *testing.T) {
	f := newFixture(t, 1_000_000)

	id, err := f.p.CreateEscrow(payer, provider, amount.New(1_000_000), "job-1", baseTime+86_400)
	require.NoError(t, err)

	// Locked in the vault, owned by the ledger.
	require.True(t, f.p.BalanceOf(payer).IsZero())
	require.Equal(t, amount.New(1_000_000), f.p.BalanceOf(ledger.Vault))

	rec := f.p.GetEscrow(id)
	require.Equal(t, escrow.StateActive, rec.State)
	require.Equal(t, "job-1", rec.JobID)

	require.ErrorIs(t, f.p.ReleaseEscrow(provider, id), escrow.ErrNotAuthorized)

	require.NoError(t, f.p.ReleaseEscrow(payer, id))
	require.Equal(t, amount.New(975_000), f.p.BalanceOf(provider))
	require.Equal(t, amount.New(25_000), f.p.BalanceOf(feeRecipient))
	require.True(t, f.p.BalanceOf(ledger.Vault).IsZero())
	require.Equal(t, escrow.StateReleased, f.p.GetEscrow(id).State)

	// Duplicate submission observes InvalidState, it does not double-pay.
	require.ErrorIs(t, f.p.ReleaseEscrow(payer, id), escrow.ErrInvalidState)
	require.Equal(t, amount.New(975_000), f.p.BalanceOf(provider))
}

func TestEscrowClaimDeadline(t *testing.T) {
	f := newFixture(t, 1_000_000)

	id, err := f.p.CreateEscrow(payer, provider, amount.New(1_000_000), "job-1", baseTime+86_400)
	require.NoError(t, err)

	f.clock.Set(baseTime + 86_399)
	require.ErrorIs(t, f.p.ClaimEscrow(provider, id), escrow.ErrDeadlineNotReached)

	f.clock.Set(baseTime + 86_401)
	require.ErrorIs(t, f.p.ClaimEscrow(payer, id), escrow.ErrNotAuthorized)
	require.NoError(t, f.p.ClaimEscrow(provider, id))
	require.Equal(t, amount.New(975_000), f.p.BalanceOf(provider))
	require.Equal(t, escrow.StateReleased, f.p.GetEscrow(id).State)
}

func TestEscrowRefundRoundTrip(t *testing.T) {
	f := newFixture(t, 1_000_000)

	id, err := f.p.CreateEscrow(payer, provider, amount.New(1_000_000), "job-1", baseTime+86_400)
	require.NoError(t, err)

	// Provider declines: the payer gets the full amount back, zero fee.
	require.NoError(t, f.p.RefundEscrow(provider, id))
	require.Equal(t, amount.New(1_000_000), f.p.BalanceOf(payer))
	require.True(t, f.p.BalanceOf(feeRecipient).IsZero())
	require.True(t, f.p.BalanceOf(ledger.Vault).IsZero())
	require.Equal(t, escrow.StateRefunded, f.p.GetEscrow(id).State)
}

func TestEscrowCancel(t *testing.T) {
	f := newFixture(t, 1_000_000)

	id, err := f.p.CreateEscrow(payer, provider, amount.New(400_000), "job-2", baseTime+3600)
	require.NoError(t, err)

	require.ErrorIs(t, f.p.CancelEscrow(provider, id), escrow.ErrNotAuthorized)
	require.NoError(t, f.p.CancelEscrow(payer, id))
	require.Equal(t, amount.New(1_000_000), f.p.BalanceOf(payer))
	require.Equal(t, escrow.StateRefunded, f.p.GetEscrow(id).State)
}

func TestEscrowDisputeFreezesFunds(t *testing.T) {
	f := newFixture(t, 1_000_000)

	id, err := f.p.CreateEscrow(payer, provider, amount.New(1_000_000), "job-1", baseTime+86_400)
	require.NoError(t, err)

	require.ErrorIs(t, f.p.DisputeEscrow(stranger, id), escrow.ErrNotAuthorized)
	require.NoError(t, f.p.DisputeEscrow(payer, id))
	require.Equal(t, escrow.StateDisputed, f.p.GetEscrow(id).State)

	// Funds stay vault-held and no self-service transition works.
	require.Equal(t, amount.New(1_000_000), f.p.BalanceOf(ledger.Vault))
	require.ErrorIs(t, f.p.ReleaseEscrow(payer, id), escrow.ErrInvalidState)
	require.ErrorIs(t, f.p.RefundEscrow(provider, id), escrow.ErrInvalidState)
	f.clock.Advance(200_000)
	require.ErrorIs(t, f.p.ClaimEscrow(provider, id), escrow.ErrInvalidState)
}

func TestEscrowQueriesMissing(t *testing.T) {
	f := newFixture(t, 1_000_000)

	missing := ident.DeriveID(payer, provider, "nope", 42)
	rec := f.p.GetEscrow(missing)
	require.Equal(t, escrow.StateNone, rec.State)
	require.True(t, rec.Amount.IsZero())
}

func TestEscrowCreateValidation(t *testing.T) {
	f := newFixture(t, 1_000_000)

	_, err := f.p.CreateEscrow(payer, provider, amount.Zero(), "job", baseTime+1)
	require.ErrorIs(t, err, escrow.ErrInvalidAmount)

	_, err = f.p.CreateEscrow(payer, provider, amount.New(1), "job", baseTime)
	require.ErrorIs(t, err, escrow.ErrInvalidDeadline)

	// Insufficient allowance leaves no record behind.
	require.NoError(t, f.p.Approve(payer, amount.Zero()))
	_, err = f.p.CreateEscrow(payer, provider, amount.New(100), "job", baseTime+1)
	require.ErrorIs(t, err, ledger.ErrInsufficientAllowance)
}

func TestStreamLifecycle(t *testing.T) {
	f := newFixture(t, 360_000)

	id, err := f.p.StartStream(payer, recipient, amount.New(100), 3600)
	require.NoError(t, err)
	require.True(t, f.p.BalanceOf(payer).IsZero())
	require.Equal(t, amount.New(360_000), f.p.BalanceOf(ledger.Vault))

	rec, ok := f.p.GetStream(id)
	require.True(t, ok)
	require.True(t, rec.Active)
	require.Equal(t, amount.New(360_000), rec.TotalDeposit())

	// Nothing accrued yet.
	_, err = f.p.WithdrawFromStream(recipient, id)
	require.ErrorIs(t, err, stream.ErrNothingToWithdraw)

	// Halfway: 1800s x 100/s.
	f.clock.Advance(1800)
	due, err := f.p.StreamBalance(id)
	require.NoError(t, err)
	require.Equal(t, amount.New(180_000), due)

	_, err = f.p.WithdrawFromStream(payer, id)
	require.ErrorIs(t, err, stream.ErrNotAuthorized)

	got, err := f.p.WithdrawFromStream(recipient, id)
	require.NoError(t, err)
	require.Equal(t, amount.New(180_000), got)
	require.Equal(t, amount.New(175_500), f.p.BalanceOf(recipient))
	require.Equal(t, amount.New(4_500), f.p.BalanceOf(feeRecipient))

	// Run to the end: the rest accrues and the vault drains on stop.
	f.clock.Advance(1800)
	settled, refund, err := f.p.StopStream(recipient, id)
	require.NoError(t, err)
	require.Equal(t, amount.New(180_000), settled)
	require.True(t, refund.IsZero())
	require.True(t, f.p.BalanceOf(ledger.Vault).IsZero())
}

func TestStreamStopHalfway(t *testing.T) {
	f := newFixture(t, 360_000)

	id, err := f.p.StartStream(payer, recipient, amount.New(100), 3600)
	require.NoError(t, err)

	f.clock.Advance(1800)
	_, _, err = f.p.StopStream(stranger, id)
	require.ErrorIs(t, err, stream.ErrNotAuthorized)

	settled, refund, err := f.p.StopStream(payer, id)
	require.NoError(t, err)
	require.Equal(t, amount.New(180_000), settled)
	require.Equal(t, amount.New(180_000), refund)

	// Recipient nets 97.5% of the settled half; payer recovers the rest.
	require.Equal(t, amount.New(175_500), f.p.BalanceOf(recipient))
	require.Equal(t, amount.New(4_500), f.p.BalanceOf(feeRecipient))
	require.Equal(t, amount.New(180_000), f.p.BalanceOf(payer))

	// Stopped streams reject further actions and report zero withdrawable.
	_, err = f.p.WithdrawFromStream(recipient, id)
	require.ErrorIs(t, err, stream.ErrInactive)
	_, _, err = f.p.StopStream(payer, id)
	require.ErrorIs(t, err, stream.ErrInactive)
	due, err := f.p.StreamBalance(id)
	require.NoError(t, err)
	require.True(t, due.IsZero())
}

func TestStreamQueriesMissing(t *testing.T) {
	f := newFixture(t, 1)

	missing := ident.DeriveID(payer, recipient, "", 9)
	_, ok := f.p.GetStream(missing)
	require.False(t, ok)
	_, err := f.p.StreamBalance(missing)
	require.ErrorIs(t, err, stream.ErrNotFound)
}

func TestStreamBalanceAtIsPure(t *testing.T) {
	f := newFixture(t, 360_000)

	id, err := f.p.StartStream(payer, recipient, amount.New(100), 3600)
	require.NoError(t, err)

	// Polling at arbitrary times never mutates anything.
	for _, at := range []uint64{baseTime - 1, baseTime, baseTime + 1, baseTime + 1800, baseTime + 7200} {
		_, err := f.p.StreamBalanceAt(id, at)
		require.NoError(t, err)
	}
	v, err := f.p.StreamBalanceAt(id, baseTime+1800)
	require.NoError(t, err)
	require.Equal(t, amount.New(180_000), v)

	rec, ok := f.p.GetStream(id)
	require.True(t, ok)
	require.True(t, rec.Withdrawn.IsZero())
}

// Conservation: total supply is constant across every protocol operation.
func TestConservation(t *testing.T) {
	f := newFixture(t, 10_000_000)

	total := func() *uint256.Int {
		sum := new(uint256.Int)
		for _, a := range []ident.Address{payer, provider, recipient, feeRecipient, ledger.Vault} {
			sum.Add(sum, f.p.BalanceOf(a))
		}
		return sum
	}
	supply := total()

	require.NoError(t, f.p.Pay(payer, recipient, amount.New(123_457), "x"))
	require.Equal(t, supply, total())

	id, err := f.p.CreateEscrow(payer, provider, amount.New(777_001), "job", baseTime+1000)
	require.NoError(t, err)
	require.Equal(t, supply, total())
	require.NoError(t, f.p.ReleaseEscrow(payer, id))
	require.Equal(t, supply, total())

	sid, err := f.p.StartStream(payer, recipient, amount.New(33), 1000)
	require.NoError(t, err)
	require.Equal(t, supply, total())
	f.clock.Advance(617)
	_, err = f.p.WithdrawFromStream(recipient, sid)
	require.NoError(t, err)
	require.Equal(t, supply, total())
	f.clock.Advance(100)
	_, _, err = f.p.StopStream(payer, sid)
	require.NoError(t, err)
	require.Equal(t, supply, total())
}

func TestHistory(t *testing.T) {
	f := newFixture(t, 1_000_000)

	require.NoError(t, f.p.Pay(payer, recipient, amount.New(100), "a"))
	require.NoError(t, f.p.Pay(payer, recipient, amount.New(200), "b"))

	all := f.p.History(0)
	// mint + approve from the fixture, then the two payments.
	require.Len(t, all, 4)
	require.Equal(t, event.KindMint, all[0].Kind)
	require.Equal(t, event.KindApproval, all[1].Kind)
	require.Equal(t, event.KindInstantPayment, all[2].Kind)
	require.Equal(t, "b", all[3].Memo)

	tail := f.p.History(1)
	require.Len(t, tail, 1)
	require.Equal(t, "b", tail[0].Memo)

	// Sequence numbers are dense and ordered.
	for i, e := range all {
		require.Equal(t, uint64(i), e.Seq)
	}
}
